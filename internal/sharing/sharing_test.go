package sharing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aryanshm/foliage/internal/docs"
	"github.com/aryanshm/foliage/internal/errs"
	"github.com/aryanshm/foliage/internal/graph"
	"github.com/aryanshm/foliage/internal/identity"
	"github.com/aryanshm/foliage/internal/keyring"
)

type party struct {
	id      *identity.Identity
	session *identity.Session
	docs    *docs.Manager
	sharing *Manager
}

func newParty(t *testing.T, alias string, store graph.Store, dir *identity.Directory) *party {
	t.Helper()
	id, err := identity.New(alias)
	if err != nil {
		t.Fatalf("failed to create identity: %v", err)
	}
	if err := dir.Register(context.Background(), id); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	sess, err := identity.NewSessionManager().SignIn(id)
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	dm := docs.NewManager(store, sess, keyring.NewManager(store, sess))
	return &party{
		id:      id,
		session: sess,
		docs:    dm,
		sharing: NewManager(store, sess, dm, dir),
	}
}

func TestShareAcceptRoundTrip(t *testing.T) {
	store := graph.NewMemStore(0)
	dir := identity.NewDirectory(store)
	alice := newParty(t, "alice", store, dir)
	bob := newParty(t, "bob", store, dir)
	ctx := context.Background()

	doc, err := alice.docs.Create(ctx, docs.CreateInput{Title: "Plan", Content: "Meet at noon", Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := alice.sharing.Share(ctx, doc.ID, "bob"); err != nil {
		t.Fatalf("share failed: %v", err)
	}

	notes, err := bob.sharing.ListInbox(ctx)
	if err != nil {
		t.Fatalf("list inbox failed: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notes))
	}
	if notes[0].DocID != doc.ID.String() || notes[0].OwnerAlias != "alice" {
		t.Errorf("unexpected notification: %+v", notes[0])
	}
	if notes[0].EncryptedDocKey == "" {
		t.Error("private share must carry a wrapped key")
	}
	if notes[0].IsPublic {
		t.Error("notification for a private document must say so")
	}

	got, err := bob.sharing.Accept(ctx, doc.ID)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if got.Title != "Plan" || got.Content != "Meet at noon" {
		t.Errorf("recipient decrypted %q/%q", got.Title, got.Content)
	}

	// Notification is consumed
	notes, _ = bob.sharing.ListInbox(ctx)
	if len(notes) != 0 {
		t.Error("accepted notification should be gone from the inbox")
	}

	// Document stays readable from the stored key
	again, err := bob.sharing.ReadShared(ctx, alice.id.Pub(), doc.ID)
	if err != nil {
		t.Fatalf("reread failed: %v", err)
	}
	if again.Content != "Meet at noon" {
		t.Error("reread mismatch")
	}
}

func TestShareIsIdempotent(t *testing.T) {
	store := graph.NewMemStore(0)
	dir := identity.NewDirectory(store)
	alice := newParty(t, "alice", store, dir)
	newParty(t, "bob", store, dir)
	ctx := context.Background()

	doc, _ := alice.docs.Create(ctx, docs.CreateInput{Title: "T", Content: "C"})

	if err := alice.sharing.Share(ctx, doc.ID, "bob"); err != nil {
		t.Fatalf("first share failed: %v", err)
	}
	if err := alice.sharing.Share(ctx, doc.ID, "bob"); err != nil {
		t.Fatalf("repeat share failed: %v", err)
	}

	got, err := alice.docs.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.Access) != 1 {
		t.Errorf("expected exactly 1 grant, got %d", len(got.Access))
	}
}

func TestUnshareRemovesGrant(t *testing.T) {
	store := graph.NewMemStore(0)
	dir := identity.NewDirectory(store)
	alice := newParty(t, "alice", store, dir)
	bob := newParty(t, "bob", store, dir)
	carol := newParty(t, "carol", store, dir)
	ctx := context.Background()

	doc, _ := alice.docs.Create(ctx, docs.CreateInput{Title: "T", Content: "C"})
	alice.sharing.Share(ctx, doc.ID, "bob")
	alice.sharing.Share(ctx, doc.ID, "carol")

	if err := alice.sharing.Unshare(ctx, doc.ID, bob.id.Pub()); err != nil {
		t.Fatalf("unshare failed: %v", err)
	}

	got, _ := alice.docs.Get(ctx, doc.ID)
	for _, grant := range got.Access {
		if grant.UserID == bob.id.Pub() {
			t.Error("grant for bob should be removed")
		}
	}
	if len(got.Access) != 1 || got.Access[0].UserID != carol.id.Pub() {
		t.Errorf("carol's grant should survive, got %+v", got.Access)
	}

	// Bob's pending notification is retracted
	notes, _ := bob.sharing.ListInbox(ctx)
	if len(notes) != 0 {
		t.Error("unshare should retract the pending notification")
	}

	// Unsharing an absent grant is a no-op success
	if err := alice.sharing.Unshare(ctx, doc.ID, bob.id.Pub()); err != nil {
		t.Fatalf("repeat unshare failed: %v", err)
	}
}

func TestThirdPartyCannotUnwrapKey(t *testing.T) {
	store := graph.NewMemStore(0)
	dir := identity.NewDirectory(store)
	alice := newParty(t, "alice", store, dir)
	newParty(t, "bob", store, dir)
	eve := newParty(t, "eve", store, dir)
	ctx := context.Background()

	doc, _ := alice.docs.Create(ctx, docs.CreateInput{Title: "T", Content: "C"})
	if err := alice.sharing.Share(ctx, doc.ID, "bob"); err != nil {
		t.Fatalf("share failed: %v", err)
	}

	// Eve has no notification addressed to her.
	if _, err := eve.sharing.Accept(ctx, doc.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound for eve, got %v", err)
	}

	// Even reading the record directly, eve holds no key for the fields.
	if _, err := eve.docs.GetFrom(ctx, alice.id.Pub(), doc.ID, nil); !errors.Is(err, errs.ErrPermission) {
		t.Errorf("expected ErrPermission, got %v", err)
	}
}

func TestSharePublicDocumentNeedsNoKey(t *testing.T) {
	store := graph.NewMemStore(0)
	dir := identity.NewDirectory(store)
	alice := newParty(t, "alice", store, dir)
	bob := newParty(t, "bob", store, dir)
	ctx := context.Background()

	doc, _ := alice.docs.Create(ctx, docs.CreateInput{Title: "T", Content: "C", IsPublic: true})
	if err := alice.sharing.Share(ctx, doc.ID, "bob"); err != nil {
		t.Fatalf("share failed: %v", err)
	}

	notes, _ := bob.sharing.ListInbox(ctx)
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notes))
	}
	if notes[0].EncryptedDocKey != "" {
		t.Error("public share must not carry a wrapped key")
	}
	if !notes[0].IsPublic {
		t.Error("notification for a public document must say so")
	}

	got, err := bob.sharing.Accept(ctx, doc.ID)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if got.Title != "T" {
		t.Error("accept mismatch")
	}
}

func TestAcceptRejectsPrivateNotificationWithoutKey(t *testing.T) {
	store := graph.NewMemStore(0)
	dir := identity.NewDirectory(store)
	alice := newParty(t, "alice", store, dir)
	bob := newParty(t, "bob", store, dir)
	ctx := context.Background()

	doc, _ := alice.docs.Create(ctx, docs.CreateInput{Title: "T", Content: "C"})
	if err := alice.sharing.Share(ctx, doc.ID, "bob"); err != nil {
		t.Fatalf("share failed: %v", err)
	}

	// Strip the wrapped key out of the delivered notification. The inbox is
	// world-writable, so a doctored note must not slip through as public.
	token, err := InboxToken(bob.id.Pub(), bob.id.Epub())
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	node := store.Public("inbox").Get(token).Get(doc.ID.String())
	raw, err := node.Once(ctx)
	if err != nil {
		t.Fatalf("read notification failed: %v", err)
	}
	var note Notification
	if err := json.Unmarshal(raw, &note); err != nil {
		t.Fatalf("decode notification failed: %v", err)
	}
	note.EncryptedDocKey = ""
	doctored, _ := json.Marshal(note)
	if err := node.Put(ctx, doctored); err != nil {
		t.Fatalf("rewrite notification failed: %v", err)
	}

	if _, err := bob.sharing.Accept(ctx, doc.ID); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected ErrValidation for keyless private notification, got %v", err)
	}
}

func TestShareUnknownRecipient(t *testing.T) {
	store := graph.NewMemStore(0)
	dir := identity.NewDirectory(store)
	alice := newParty(t, "alice", store, dir)
	ctx := context.Background()

	doc, _ := alice.docs.Create(ctx, docs.CreateInput{Title: "T", Content: "C"})
	if err := alice.sharing.Share(ctx, doc.ID, "nobody"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInboxTokensDifferPerRecipient(t *testing.T) {
	store := graph.NewMemStore(0)
	dir := identity.NewDirectory(store)
	alice := newParty(t, "alice", store, dir)
	bob := newParty(t, "bob", store, dir)

	at, err := InboxToken(alice.id.Pub(), alice.id.Epub())
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	bt, err := InboxToken(bob.id.Pub(), bob.id.Epub())
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	if at == bt {
		t.Error("inbox tokens must differ per recipient")
	}
	if at2, _ := InboxToken(alice.id.Pub(), alice.id.Epub()); at2 != at {
		t.Error("inbox token must be deterministic")
	}
}
