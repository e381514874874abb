package docs

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/aryanshm/foliage/internal/errs"
	"github.com/aryanshm/foliage/internal/graph"
	"github.com/aryanshm/foliage/internal/identity"
	"github.com/aryanshm/foliage/internal/keyring"
)

func newManager(t *testing.T, alias string, store graph.Store) (*Manager, *identity.Session) {
	t.Helper()
	id, err := identity.New(alias)
	if err != nil {
		t.Fatalf("failed to create identity: %v", err)
	}
	sess, err := identity.NewSessionManager().SignIn(id)
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	keys := keyring.NewManager(store, sess)
	return NewManager(store, sess, keys), sess
}

func TestCreateGetPrivate(t *testing.T) {
	store := graph.NewMemStore(0)
	mgr, _ := newManager(t, "alice", store)
	ctx := context.Background()

	doc, err := mgr.Create(ctx, CreateInput{
		Title:   "T",
		Content: "C",
		Tags:    []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if doc.ID == uuid.Nil {
		t.Error("expected valid UUID")
	}
	if doc.IsPublic {
		t.Error("document should default to private")
	}

	got, err := mgr.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Title != "T" || got.Content != "C" {
		t.Errorf("decrypted fields mismatch: %q %q", got.Title, got.Content)
	}
	if !reflect.DeepEqual(got.Tags, []string{"a", "b"}) {
		t.Errorf("tags mismatch: %v", got.Tags)
	}
}

func TestPrivateFieldsAreCiphertext(t *testing.T) {
	store := graph.NewMemStore(0)
	mgr, sess := newManager(t, "alice", store)
	ctx := context.Background()

	doc, err := mgr.Create(ctx, CreateInput{Title: "Secret plan", Content: "Attack at dawn", Tags: []string{"war"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Read the raw stored record: plaintext must not appear.
	id, _ := sess.Identity()
	raw, err := store.Public(id.Pub()).Get(DocsSegment).Get(doc.ID.String()).Once(ctx)
	if err != nil {
		t.Fatalf("raw read failed: %v", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if strings.Contains(rec.Title, "Secret") || strings.Contains(rec.Content, "dawn") || strings.Contains(rec.Tags, "war") {
		t.Error("stored record leaks plaintext")
	}
}

func TestPublicDocumentStoredPlain(t *testing.T) {
	store := graph.NewMemStore(0)
	mgr, sess := newManager(t, "alice", store)
	ctx := context.Background()

	doc, err := mgr.Create(ctx, CreateInput{Title: "Readme", Content: "Hello", Tags: []string{"open"}, IsPublic: true})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	id, _ := sess.Identity()
	raw, _ := store.Public(id.Pub()).Get(DocsSegment).Get(doc.ID.String()).Once(ctx)
	var rec Record
	json.Unmarshal(raw, &rec)
	if rec.Title != "Readme" || rec.Content != "Hello" {
		t.Error("public document should be stored in plaintext")
	}

	// No content key should exist for a public document
	if _, err := mgr.Keys().Read(ctx, doc.ID.String()); !errors.Is(err, errs.ErrPermission) {
		t.Error("public document must not have a content key")
	}

	// Anyone can read it without a key
	other, _ := newManager(t, "bob", store)
	got, err := other.GetFrom(ctx, id.Pub(), doc.ID, nil)
	if err != nil {
		t.Fatalf("foreign read failed: %v", err)
	}
	if got.Title != "Readme" {
		t.Error("foreign read mismatch")
	}
}

func TestTagDelimiterRejectedWithoutPartialWrite(t *testing.T) {
	store := graph.NewMemStore(0)
	mgr, _ := newManager(t, "alice", store)
	ctx := context.Background()

	_, err := mgr.Create(ctx, CreateInput{Title: "T", Content: "C", Tags: []string{"bad,tag"}})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	docs, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(docs) != 0 {
		t.Error("rejected create must not leave a partial write")
	}

	// Same on update
	doc, err := mgr.Create(ctx, CreateInput{Title: "T", Content: "C", Tags: []string{"ok"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	bad := []string{"nope,"}
	if err := mgr.Update(ctx, doc.ID, UpdateInput{Tags: &bad}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	got, _ := mgr.Get(ctx, doc.ID)
	if !reflect.DeepEqual(got.Tags, []string{"ok"}) {
		t.Error("failed update must not alter tags")
	}
}

func TestUpdateReencryptsChangedFieldsOnly(t *testing.T) {
	store := graph.NewMemStore(0)
	mgr, sess := newManager(t, "alice", store)
	ctx := context.Background()

	doc, err := mgr.Create(ctx, CreateInput{Title: "T", Content: "C", Tags: []string{"a"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	id, _ := sess.Identity()
	rawBefore, _ := store.Public(id.Pub()).Get(DocsSegment).Get(doc.ID.String()).Once(ctx)
	var before Record
	json.Unmarshal(rawBefore, &before)

	newTitle := "T2"
	if err := mgr.Update(ctx, doc.ID, UpdateInput{Title: &newTitle}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	rawAfter, _ := store.Public(id.Pub()).Get(DocsSegment).Get(doc.ID.String()).Once(ctx)
	var after Record
	json.Unmarshal(rawAfter, &after)

	if after.Title == before.Title {
		t.Error("title ciphertext should change")
	}
	if after.Content != before.Content || after.Tags != before.Tags {
		t.Error("unchanged fields must keep their ciphertext")
	}

	got, _ := mgr.Get(ctx, doc.ID)
	if got.Title != "T2" || got.Content != "C" {
		t.Error("update round trip mismatch")
	}
}

func TestDeleteTombstonesDocAndKey(t *testing.T) {
	store := graph.NewMemStore(0)
	mgr, _ := newManager(t, "alice", store)
	ctx := context.Background()

	doc, _ := mgr.Create(ctx, CreateInput{Title: "T", Content: "C"})
	if err := mgr.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := mgr.Get(ctx, doc.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := mgr.Keys().Read(ctx, doc.ID.String()); !errors.Is(err, errs.ErrPermission) {
		t.Error("content key should be tombstoned with the document")
	}
}

func TestSetPublicConversion(t *testing.T) {
	store := graph.NewMemStore(0)
	mgr, sess := newManager(t, "alice", store)
	ctx := context.Background()

	doc, _ := mgr.Create(ctx, CreateInput{Title: "T", Content: "C", Tags: []string{"a"}})

	if err := mgr.SetPublic(ctx, doc.ID, true); err != nil {
		t.Fatalf("to public failed: %v", err)
	}

	id, _ := sess.Identity()
	raw, _ := store.Public(id.Pub()).Get(DocsSegment).Get(doc.ID.String()).Once(ctx)
	var rec Record
	json.Unmarshal(raw, &rec)
	if !rec.IsPublic || rec.Title != "T" {
		t.Error("public conversion should store plaintext")
	}
	if _, err := mgr.Keys().Read(ctx, doc.ID.String()); !errors.Is(err, errs.ErrPermission) {
		t.Error("key should be deleted on public conversion")
	}

	// Back to private
	if err := mgr.SetPublic(ctx, doc.ID, false); err != nil {
		t.Fatalf("to private failed: %v", err)
	}
	raw, _ = store.Public(id.Pub()).Get(DocsSegment).Get(doc.ID.String()).Once(ctx)
	json.Unmarshal(raw, &rec)
	if rec.IsPublic || rec.Title == "T" {
		t.Error("private conversion should seal fields")
	}
	got, err := mgr.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get after conversion failed: %v", err)
	}
	if got.Title != "T" || got.Content != "C" {
		t.Error("round trip after conversion mismatch")
	}
}

func TestRejectsMalformedStoreRecord(t *testing.T) {
	store := graph.NewMemStore(0)
	mgr, sess := newManager(t, "alice", store)
	ctx := context.Background()

	// Plant an off-shape record where a document should be
	id, _ := sess.Identity()
	docID := uuid.New()
	node := store.Public(id.Pub()).Get(DocsSegment).Get(docID.String())
	if err := node.Put(ctx, []byte(`{"id": 42, "bogus": true}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if _, err := mgr.Get(ctx, docID); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected ErrValidation for malformed record, got %v", err)
	}
}

func TestList(t *testing.T) {
	store := graph.NewMemStore(0)
	mgr, _ := newManager(t, "alice", store)
	ctx := context.Background()

	mgr.Create(ctx, CreateInput{Title: "one", Content: "1"})
	mgr.Create(ctx, CreateInput{Title: "two", Content: "2", IsPublic: true})

	docs, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	titles := map[string]bool{}
	for _, d := range docs {
		titles[d.Title] = true
	}
	if !titles["one"] || !titles["two"] {
		t.Errorf("unexpected titles: %v", titles)
	}
}
