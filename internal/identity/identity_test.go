package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aryanshm/foliage/internal/errs"
	"github.com/aryanshm/foliage/internal/graph"
)

func TestNewIdentity(t *testing.T) {
	id, err := New("alice")
	if err != nil {
		t.Fatalf("failed to create identity: %v", err)
	}

	if id.Alias() != "alice" {
		t.Errorf("alias mismatch: %s", id.Alias())
	}
	if id.Pub() == "" || id.Epub() == "" {
		t.Error("public keys should not be empty")
	}

	other, _ := New("alice")
	if other.Pub() == id.Pub() {
		t.Error("two identities should not share a signing key")
	}

	if _, err := New(""); err == nil {
		t.Error("empty alias should be rejected")
	}
}

func TestSignVerify(t *testing.T) {
	id, _ := New("alice")
	data := []byte("payload")

	sig, err := id.Sign(data)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if err := VerifyWithPub(id.Pub(), data, sig); err != nil {
		t.Errorf("verify failed: %v", err)
	}
	if err := VerifyWithPub(id.Pub(), []byte("other"), sig); err == nil {
		t.Error("verify should fail for altered data")
	}
}

func TestSessionLifecycle(t *testing.T) {
	mgr := NewSessionManager()

	if _, err := mgr.Current(); !errors.Is(err, errs.ErrAuthRequired) {
		t.Errorf("expected ErrAuthRequired, got %v", err)
	}

	alice, _ := New("alice")
	sess, err := mgr.SignIn(alice)
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}

	got, err := sess.Identity()
	if err != nil {
		t.Fatalf("identity failed: %v", err)
	}
	if got.Alias() != "alice" {
		t.Error("wrong identity")
	}

	// Overlapping sign-in must be rejected
	bob, _ := New("bob")
	if _, err := mgr.SignIn(bob); err == nil {
		t.Error("sign in should fail while another identity is active")
	}

	// Sign-out invalidates outstanding sessions
	mgr.SignOut()
	if _, err := sess.Identity(); !errors.Is(err, errs.ErrAuthRequired) {
		t.Errorf("stale session must fail closed, got %v", err)
	}

	// Fresh sign-in after sign-out succeeds
	if _, err := mgr.SignIn(bob); err != nil {
		t.Fatalf("sign in after sign out failed: %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	if store.IsInitialized() {
		t.Error("should not be initialized")
	}

	passphrase := []byte("secret")
	id, err := store.Initialize("alice", passphrase)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if !store.IsInitialized() {
		t.Error("should be initialized")
	}

	// Unlock with the right passphrase restores the same key material
	restored, err := NewFileStore(dir).Unlock(passphrase)
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if restored.Alias() != "alice" {
		t.Error("alias mismatch")
	}
	if restored.Pub() != id.Pub() {
		t.Error("signing key mismatch after unlock")
	}
	if restored.Epub() != id.Epub() {
		t.Error("encryption key mismatch after unlock")
	}

	// Wrong passphrase fails
	if _, err := store.Unlock([]byte("wrong")); err == nil {
		t.Error("unlock should fail with wrong passphrase")
	}

	// Double initialize fails
	if _, err := store.Initialize("bob", passphrase); err == nil {
		t.Error("second initialize should fail")
	}
}

func TestDirectory(t *testing.T) {
	store := graph.NewMemStore(0)
	dir := NewDirectory(store)
	ctx := context.Background()

	if _, err := dir.Discover(ctx, "nobody"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	alice, _ := New("alice")
	if err := dir.Register(ctx, alice); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	rec, err := dir.Discover(ctx, "alice")
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if rec.Pub != alice.Pub() || rec.Epub != alice.Epub() {
		t.Error("discovered record mismatch")
	}
}

func TestContactCardRoundTrip(t *testing.T) {
	id, _ := New("alice")

	card, err := NewContactCard(id, DefaultContactExpiry)
	if err != nil {
		t.Fatalf("failed to create card: %v", err)
	}

	encoded, err := card.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	parsed, err := ParseContactCard(encoded)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.Alias != "alice" || parsed.Pub != id.Pub() || parsed.Epub != id.Epub() {
		t.Error("card fields mismatch")
	}

	// Tampered card is rejected
	tampered := *card
	tampered.Alias = "mallory"
	encodedTampered, _ := tampered.Encode()
	if _, err := ParseContactCard(encodedTampered); err == nil {
		t.Error("tampered card should be rejected")
	}

	// Expired card is rejected
	expired, _ := NewContactCard(id, -time.Hour)
	encodedExpired, _ := expired.Encode()
	if _, err := ParseContactCard(encodedExpired); err == nil {
		t.Error("expired card should be rejected")
	}
}
