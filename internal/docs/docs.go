// Package docs implements document storage over the replicated graph.
//
// Documents live in their owner's public namespace at docs/{id}. When a
// document is private, its title, content, and tag csv are each sealed
// under the document's content key; the record shape itself is public.
package docs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aryanshm/foliage/internal/codec"
	"github.com/aryanshm/foliage/internal/errs"
	"github.com/aryanshm/foliage/internal/graph"
	"github.com/aryanshm/foliage/internal/identity"
	"github.com/aryanshm/foliage/internal/keyring"
	"github.com/aryanshm/foliage/pkg/crypto"
)

// DocsSegment is the public namespace segment documents are stored under.
const DocsSegment = "docs"

// AccessGrant authorizes one identity to recover the document's content key.
type AccessGrant struct {
	UserID          string `json:"userId"`
	EncryptedDocKey string `json:"encryptedDocKey"`
	SenderEpub      string `json:"senderEpub"`
}

// Record is the stored document shape. Field values are ciphertext tokens
// when IsPublic is false.
type Record struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Tags      string        `json:"tags"`
	CreatedAt int64         `json:"createdAt"`
	UpdatedAt int64         `json:"updatedAt"`
	IsPublic  bool          `json:"isPublic"`
	Access    []AccessGrant `json:"access"`
	Parent    string        `json:"parent,omitempty"`
	Original  string        `json:"original,omitempty"`
}

// Document is the decrypted view handed to callers.
type Document struct {
	ID        uuid.UUID
	Title     string
	Content   string
	Tags      []string // never nil
	CreatedAt int64    // unix millis
	UpdatedAt int64
	IsPublic  bool
	Access    []AccessGrant
	Parent    *uuid.UUID
	Original  *uuid.UUID
}

// CreateInput contains parameters for creating a document.
type CreateInput struct {
	Title    string
	Content  string
	Tags     []string
	IsPublic bool
}

// UpdateInput contains parameters for updating a document.
// Nil fields mean no change; only changed fields are re-encrypted.
type UpdateInput struct {
	Title   *string
	Content *string
	Tags    *[]string
}

// Manager performs document CRUD for one session.
type Manager struct {
	store   graph.Store
	session *identity.Session
	keys    *keyring.Manager
	now     func() time.Time
}

// NewManager creates a document manager bound to the given session.
func NewManager(store graph.Store, session *identity.Session, keys *keyring.Manager) *Manager {
	return &Manager{
		store:   store,
		session: session,
		keys:    keys,
		now:     time.Now,
	}
}

// OwnerPub returns the signing-key token the session's documents live under.
func (m *Manager) OwnerPub() (string, error) {
	id, err := m.session.Identity()
	if err != nil {
		return "", err
	}
	return id.Pub(), nil
}

func (m *Manager) docNode(ownerPub, id string) graph.Node {
	return m.store.Public(ownerPub).Get(DocsSegment).Get(id)
}

// Create stores a new document. A content key is minted only for private
// documents; tag validation happens before anything is written, so a bad
// tag list produces no partial write.
func (m *Manager) Create(ctx context.Context, input CreateInput) (*Document, error) {
	ownerPub, err := m.OwnerPub()
	if err != nil {
		return nil, err
	}

	tagCSV, err := codec.EncodeTags(input.Tags)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	now := m.now().UnixMilli()

	rec := Record{
		ID:        id.String(),
		Title:     input.Title,
		Content:   input.Content,
		Tags:      tagCSV,
		CreatedAt: now,
		UpdatedAt: now,
		IsPublic:  input.IsPublic,
		Access:    []AccessGrant{},
	}

	// The freshly minted key decrypts the returned view directly: the store
	// gives no read-after-write guarantee, so nothing written here is read
	// back.
	var keyPtr *crypto.Key
	if !input.IsPublic {
		key, err := m.keys.Generate()
		if err != nil {
			return nil, err
		}
		if err := m.keys.Write(ctx, rec.ID, key); err != nil {
			return nil, err
		}
		if err := sealRecord(&rec, key); err != nil {
			return nil, err
		}
		keyPtr = &key
	}

	if err := m.putRecord(ctx, ownerPub, &rec); err != nil {
		return nil, err
	}

	return toDocument(&rec, keyPtr)
}

// Get reads and decrypts one of the session's own documents.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	ownerPub, err := m.OwnerPub()
	if err != nil {
		return nil, err
	}
	rec, err := m.LoadRecord(ctx, ownerPub, id.String())
	if err != nil {
		return nil, err
	}
	return m.decryptOwn(ctx, rec)
}

// GetFrom reads a document from another owner's namespace, decrypting with
// the supplied content key. key may be nil for public documents.
func (m *Manager) GetFrom(ctx context.Context, ownerPub string, id uuid.UUID, key *crypto.Key) (*Document, error) {
	rec, err := m.LoadRecord(ctx, ownerPub, id.String())
	if err != nil {
		return nil, err
	}
	if rec.IsPublic {
		return toDocument(rec, nil)
	}
	if key == nil {
		return nil, fmt.Errorf("document %s is private: %w", id, errs.ErrPermission)
	}
	return toDocument(rec, key)
}

// Update mutates a document in place, re-encrypting only changed fields.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, input UpdateInput) error {
	ownerPub, err := m.OwnerPub()
	if err != nil {
		return err
	}
	rec, err := m.LoadRecord(ctx, ownerPub, id.String())
	if err != nil {
		return err
	}

	// Validate before touching the record: a bad tag list must not leave a
	// partially-updated document behind.
	var newTagCSV string
	if input.Tags != nil {
		newTagCSV, err = codec.EncodeTags(*input.Tags)
		if err != nil {
			return err
		}
	}

	var key crypto.Key
	if !rec.IsPublic {
		key, err = m.keyFor(ctx, rec)
		if err != nil {
			return err
		}
	}

	seal := func(plaintext string) (string, error) {
		if rec.IsPublic {
			return plaintext, nil
		}
		return codec.EncryptField(plaintext, key, rec.ID)
	}

	if input.Title != nil {
		if rec.Title, err = seal(*input.Title); err != nil {
			return err
		}
	}
	if input.Content != nil {
		if rec.Content, err = seal(*input.Content); err != nil {
			return err
		}
	}
	if input.Tags != nil {
		if rec.Tags, err = seal(newTagCSV); err != nil {
			return err
		}
	}
	rec.UpdatedAt = m.now().UnixMilli()

	return m.putRecord(ctx, ownerPub, rec)
}

// Delete tombstones the document. Private documents also tombstone their
// key entry, unless the document is a branch (branches share the root's
// key, which must outlive them).
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	ownerPub, err := m.OwnerPub()
	if err != nil {
		return err
	}
	rec, err := m.LoadRecord(ctx, ownerPub, id.String())
	if err != nil {
		return err
	}

	if err := m.docNode(ownerPub, rec.ID).Put(ctx, nil); err != nil {
		return fmt.Errorf("delete document: %w", errs.ErrNetwork)
	}

	if !rec.IsPublic && rec.Parent == "" {
		if err := m.keys.Delete(ctx, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// List returns all of the session's own documents, decrypted.
func (m *Manager) List(ctx context.Context) ([]*Document, error) {
	ownerPub, err := m.OwnerPub()
	if err != nil {
		return nil, err
	}

	var records []*Record
	node := m.store.Public(ownerPub).Get(DocsSegment)
	err = node.Map(ctx, func(_ string, value []byte) error {
		rec, err := parseRecord(value)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", errs.ErrNetwork)
	}

	out := make([]*Document, 0, len(records))
	for _, rec := range records {
		doc, err := m.decryptOwn(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// SetPublic converts a document between public and private. Going public
// decrypts the fields and tombstones the content key; going private mints a
// key and seals the fields. Branches cannot convert independently of their
// lineage root.
func (m *Manager) SetPublic(ctx context.Context, id uuid.UUID, public bool) error {
	ownerPub, err := m.OwnerPub()
	if err != nil {
		return err
	}
	rec, err := m.LoadRecord(ctx, ownerPub, id.String())
	if err != nil {
		return err
	}
	if rec.Parent != "" {
		return fmt.Errorf("branch privacy follows its lineage root: %w", errs.ErrValidation)
	}
	if rec.IsPublic == public {
		return nil
	}

	// Branches inherit the root's privacy and share its key, so a root with
	// live branches cannot flip: going public would tombstone the key the
	// branches still decrypt with.
	branched, err := m.hasDescendants(ctx, ownerPub, rec.ID)
	if err != nil {
		return err
	}
	if branched {
		return fmt.Errorf("document %s has branches, delete them before converting: %w", id, errs.ErrValidation)
	}

	if public {
		// Decrypt in place, then drop the key
		key, err := m.keyFor(ctx, rec)
		if err != nil {
			return err
		}
		doc, err := toDocument(rec, &key)
		if err != nil {
			return err
		}
		rec.Title = doc.Title
		rec.Content = doc.Content
		rec.Tags, _ = codec.EncodeTags(doc.Tags)
		rec.IsPublic = true
		rec.UpdatedAt = m.now().UnixMilli()
		if err := m.putRecord(ctx, ownerPub, rec); err != nil {
			return err
		}
		return m.keys.Delete(ctx, rec.ID)
	}

	// Going private: mint a key and seal the plaintext fields
	key, err := m.keys.Generate()
	if err != nil {
		return err
	}
	if err := m.keys.Write(ctx, rec.ID, key); err != nil {
		return err
	}
	rec.IsPublic = false
	rec.UpdatedAt = m.now().UnixMilli()
	if err := sealRecord(rec, key); err != nil {
		return err
	}
	return m.putRecord(ctx, ownerPub, rec)
}

// LoadRecord reads and validates the raw stored record. Callers that hold a
// decrypted view should prefer Get; this is the entry point for the sharing
// and lineage layers, which manipulate records directly.
func (m *Manager) LoadRecord(ctx context.Context, ownerPub, id string) (*Record, error) {
	value, err := m.docNode(ownerPub, id).Once(ctx)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", errs.ErrNetwork)
	}
	return parseRecord(value)
}

// StoreRecord validates and writes a record into the session's namespace,
// bumping UpdatedAt.
func (m *Manager) StoreRecord(ctx context.Context, rec *Record) error {
	ownerPub, err := m.OwnerPub()
	if err != nil {
		return err
	}
	rec.UpdatedAt = m.now().UnixMilli()
	return m.putRecord(ctx, ownerPub, rec)
}

// Keys exposes the key manager to the sharing and lineage layers.
func (m *Manager) Keys() *keyring.Manager { return m.keys }

// hasDescendants reports whether any stored record forks from the lineage
// rooted at id. Every branch carries the root in Original, so one scan over
// the docs node finds them at any depth. Malformed neighbors are skipped.
func (m *Manager) hasDescendants(ctx context.Context, ownerPub, id string) (bool, error) {
	found := false
	node := m.store.Public(ownerPub).Get(DocsSegment)
	err := node.Map(ctx, func(_ string, value []byte) error {
		rec, err := parseRecord(value)
		if err != nil {
			return nil
		}
		if rec.Original == id {
			found = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("list documents: %w", errs.ErrNetwork)
	}
	return found, nil
}

// keyFor resolves the content key for a record: the record's own key for
// roots, the lineage root's key for branches.
func (m *Manager) keyFor(ctx context.Context, rec *Record) (crypto.Key, error) {
	keyID := rec.ID
	if rec.Original != "" {
		keyID = rec.Original
	}
	return m.keys.Read(ctx, keyID)
}

func (m *Manager) putRecord(ctx context.Context, ownerPub string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := m.docNode(ownerPub, rec.ID).Put(ctx, data); err != nil {
		return fmt.Errorf("store document: %w", errs.ErrNetwork)
	}
	return nil
}

func (m *Manager) decryptOwn(ctx context.Context, rec *Record) (*Document, error) {
	if rec.IsPublic {
		return toDocument(rec, nil)
	}
	key, err := m.keyFor(ctx, rec)
	if err != nil {
		return nil, err
	}
	return toDocument(rec, &key)
}

// sealRecord encrypts the three text fields of rec under key. All fields
// are sealed or none; a record is never partially encrypted.
func sealRecord(rec *Record, key crypto.Key) error {
	title, err := codec.EncryptField(rec.Title, key, rec.ID)
	if err != nil {
		return err
	}
	content, err := codec.EncryptField(rec.Content, key, rec.ID)
	if err != nil {
		return err
	}
	tags, err := codec.EncryptField(rec.Tags, key, rec.ID)
	if err != nil {
		return err
	}
	rec.Title, rec.Content, rec.Tags = title, content, tags
	return nil
}

// toDocument decrypts (when key != nil) and converts a record.
func toDocument(rec *Record, key *crypto.Key) (*Document, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("document id %q: %w", rec.ID, errs.ErrValidation)
	}

	doc := &Document{
		ID:        id,
		Title:     rec.Title,
		Content:   rec.Content,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		IsPublic:  rec.IsPublic,
		Access:    rec.Access,
	}
	if doc.Access == nil {
		doc.Access = []AccessGrant{}
	}

	tagCSV := rec.Tags
	if key != nil {
		if doc.Title, err = codec.DecryptField(rec.Title, *key, rec.ID); err != nil {
			return nil, err
		}
		if doc.Content, err = codec.DecryptField(rec.Content, *key, rec.ID); err != nil {
			return nil, err
		}
		if tagCSV, err = codec.DecryptField(rec.Tags, *key, rec.ID); err != nil {
			return nil, err
		}
	}
	doc.Tags = codec.DecodeTags(tagCSV)

	if rec.Parent != "" {
		parent, err := uuid.Parse(rec.Parent)
		if err != nil {
			return nil, fmt.Errorf("parent id %q: %w", rec.Parent, errs.ErrValidation)
		}
		doc.Parent = &parent
	}
	if rec.Original != "" {
		original, err := uuid.Parse(rec.Original)
		if err != nil {
			return nil, fmt.Errorf("original id %q: %w", rec.Original, errs.ErrValidation)
		}
		doc.Original = &original
	}
	return doc, nil
}
