// Package sharing implements the key-exchange protocol between identities.
//
// Sharing a private document never re-encrypts the document: the sender wraps
// the document's content key under a pairwise X25519 shared secret and appends
// an access grant to the record. A notification lands in a public per-recipient
// inbox so the recipient can discover the grant without access to the sender's
// private namespace; the sender keeps a mirror entry under its own private
// sharedDocs path for bookkeeping.
package sharing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aryanshm/foliage/internal/docs"
	"github.com/aryanshm/foliage/internal/errs"
	"github.com/aryanshm/foliage/internal/graph"
	"github.com/aryanshm/foliage/internal/identity"
	"github.com/aryanshm/foliage/internal/pathhash"
	"github.com/aryanshm/foliage/pkg/crypto"
)

// inboxOwner is the reserved public namespace holding per-recipient inboxes.
const inboxOwner = "inbox"

// sharedDocsSegment is the plaintext category of the sender's private mirror.
const sharedDocsSegment = "sharedDocs"

// Notification announces a grant to its recipient. IsPublic states whether a
// wrapped key is expected: only public shares travel without one.
type Notification struct {
	DocID           string `json:"docId"`
	OwnerPub        string `json:"ownerPub"`
	OwnerAlias      string `json:"ownerAlias"`
	SenderEpub      string `json:"senderEpub"`
	EncryptedDocKey string `json:"encryptedDocKey,omitempty"`
	IsPublic        bool   `json:"isPublic"`
	SharedAt        int64  `json:"sharedAt"`
}

// mirrorRecord is the sender's private bookkeeping entry for one share. The
// recipient's keys are kept so the notification can be retracted later
// without another directory lookup.
type mirrorRecord struct {
	Notification
	RecipientPub  string `json:"recipientPub"`
	RecipientEpub string `json:"recipientEpub"`
}

// Manager runs the sharing protocol for one session.
type Manager struct {
	store     graph.Store
	session   *identity.Session
	docs      *docs.Manager
	directory *identity.Directory
	hasher    *pathhash.Hasher
}

// NewManager creates a sharing manager bound to the given session.
func NewManager(store graph.Store, session *identity.Session, dm *docs.Manager, dir *identity.Directory) *Manager {
	return &Manager{
		store:     store,
		session:   session,
		docs:      dm,
		directory: dir,
		hasher:    pathhash.New(session),
	}
}

// InboxToken computes the opaque inbox address for a recipient. Both sides
// can derive it from the recipient's published keys: the epub is the hash key
// and the signing-key token the message.
func InboxToken(pub, epub string) (string, error) {
	encKey, err := identity.ParseEpub(epub)
	if err != nil {
		return "", fmt.Errorf("inbox token: %w", errs.ErrValidation)
	}
	digest := crypto.KeyedHash(crypto.Key(encKey), []byte(pub))
	return base64.RawURLEncoding.EncodeToString(digest), nil
}

func (m *Manager) inboxNode(token, docID string) graph.Node {
	return m.store.Public(inboxOwner).Get(token).Get(docID)
}

// Share grants recipientAlias access to the session's document. For private
// documents the content key is wrapped under the pairwise ECDH secret; public
// documents get a keyless grant. Repeating a share for the same recipient is
// a no-op success.
func (m *Manager) Share(ctx context.Context, docID uuid.UUID, recipientAlias string) error {
	id, err := m.session.Identity()
	if err != nil {
		return err
	}

	recipient, err := m.directory.Discover(ctx, recipientAlias)
	if err != nil {
		return err
	}
	if recipient.Pub == id.Pub() {
		return fmt.Errorf("cannot share a document with yourself: %w", errs.ErrValidation)
	}

	rec, err := m.docs.LoadRecord(ctx, id.Pub(), docID.String())
	if err != nil {
		return err
	}

	var wrapped string
	if !rec.IsPublic {
		peerEpub, err := identity.ParseEpub(recipient.Epub)
		if err != nil {
			return fmt.Errorf("recipient %q has invalid epub: %w", recipientAlias, errs.ErrValidation)
		}
		secret, err := crypto.DeriveSharedSecret(id.EncPrivate(), peerEpub)
		if err != nil {
			return fmt.Errorf("derive shared secret: %w", errs.ErrEncrypt)
		}

		keyID := rec.ID
		if rec.Original != "" {
			keyID = rec.Original
		}
		key, err := m.docs.Keys().Read(ctx, keyID)
		if err != nil {
			return err
		}

		sealed, err := crypto.Encrypt(secret, key[:], []byte(rec.ID))
		if err != nil {
			return fmt.Errorf("wrap document key: %w", errs.ErrEncrypt)
		}
		wrapped = base64.RawURLEncoding.EncodeToString(sealed)
	}

	if hasGrant(rec.Access, recipient.Pub) {
		return nil
	}
	rec.Access = append(rec.Access, docs.AccessGrant{
		UserID:          recipient.Pub,
		EncryptedDocKey: wrapped,
		SenderEpub:      id.Epub(),
	})
	if err := m.docs.StoreRecord(ctx, rec); err != nil {
		return err
	}

	note := Notification{
		DocID:           rec.ID,
		OwnerPub:        id.Pub(),
		OwnerAlias:      id.Alias(),
		SenderEpub:      id.Epub(),
		EncryptedDocKey: wrapped,
		IsPublic:        rec.IsPublic,
		SharedAt:        rec.UpdatedAt,
	}
	data, err := json.Marshal(note)
	if err != nil {
		return err
	}

	token, err := InboxToken(recipient.Pub, recipient.Epub)
	if err != nil {
		return err
	}
	if err := m.inboxNode(token, rec.ID).Put(ctx, data); err != nil {
		return fmt.Errorf("deliver notification: %w", errs.ErrNetwork)
	}

	return m.writeMirror(ctx, note, recipient)
}

// Unshare removes the recipient's grant and retracts the pending
// notification. The document key is not rotated: a former collaborator keeps
// any key copy already distributed.
func (m *Manager) Unshare(ctx context.Context, docID uuid.UUID, recipientPub string) error {
	id, err := m.session.Identity()
	if err != nil {
		return err
	}

	rec, err := m.docs.LoadRecord(ctx, id.Pub(), docID.String())
	if err != nil {
		return err
	}

	kept := rec.Access[:0]
	removed := false
	for _, grant := range rec.Access {
		if grant.UserID == recipientPub {
			removed = true
			continue
		}
		kept = append(kept, grant)
	}
	if !removed {
		return nil
	}
	rec.Access = kept

	if err := m.docs.StoreRecord(ctx, rec); err != nil {
		return err
	}

	// The mirror remembers the recipient's epub, which addresses the inbox.
	// An already-consumed notification leaves nothing to retract.
	mirror, err := m.readMirror(ctx, recipientPub, rec.ID)
	if err == nil {
		token, err := InboxToken(mirror.RecipientPub, mirror.RecipientEpub)
		if err != nil {
			return err
		}
		if err := m.inboxNode(token, rec.ID).Put(ctx, nil); err != nil {
			return fmt.Errorf("retract notification: %w", errs.ErrNetwork)
		}
	} else if !errors.Is(err, errs.ErrNotFound) {
		return err
	}

	return m.deleteMirror(ctx, recipientPub, rec.ID)
}

// ListInbox returns the pending notifications addressed to the session's
// identity.
func (m *Manager) ListInbox(ctx context.Context) ([]*Notification, error) {
	id, err := m.session.Identity()
	if err != nil {
		return nil, err
	}

	token, err := InboxToken(id.Pub(), id.Epub())
	if err != nil {
		return nil, err
	}

	var notes []*Notification
	node := m.store.Public(inboxOwner).Get(token)
	err = node.Map(ctx, func(_ string, value []byte) error {
		var note Notification
		if err := json.Unmarshal(value, &note); err != nil {
			// Foreign garbage in a world-writable namespace; skip it.
			return nil
		}
		if note.DocID == "" || note.OwnerPub == "" {
			return nil
		}
		notes = append(notes, &note)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", errs.ErrNetwork)
	}
	return notes, nil
}

// Accept consumes a notification: the wrapped key is recovered through the
// recipient's half of the ECDH exchange, stored in the recipient's own key
// ring, and the shared document is returned decrypted. The notification is
// tombstoned on success.
func (m *Manager) Accept(ctx context.Context, docID uuid.UUID) (*docs.Document, error) {
	id, err := m.session.Identity()
	if err != nil {
		return nil, err
	}

	token, err := InboxToken(id.Pub(), id.Epub())
	if err != nil {
		return nil, err
	}

	raw, err := m.inboxNode(token, docID.String()).Once(ctx)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, fmt.Errorf("no share offer for document %s: %w", docID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", errs.ErrNetwork)
	}

	var note Notification
	if err := json.Unmarshal(raw, &note); err != nil {
		return nil, fmt.Errorf("malformed notification: %w", errs.ErrValidation)
	}

	var keyPtr *crypto.Key
	if !note.IsPublic {
		// A private share without its wrapped key is not recoverable.
		if note.EncryptedDocKey == "" {
			return nil, fmt.Errorf("notification for %s carries no document key: %w", docID, errs.ErrValidation)
		}
		senderEpub, err := identity.ParseEpub(note.SenderEpub)
		if err != nil {
			return nil, fmt.Errorf("notification sender epub: %w", errs.ErrValidation)
		}
		secret, err := crypto.DeriveSharedSecret(id.EncPrivate(), senderEpub)
		if err != nil {
			return nil, fmt.Errorf("derive shared secret: %w", errs.ErrDecrypt)
		}

		sealed, err := base64.RawURLEncoding.DecodeString(note.EncryptedDocKey)
		if err != nil {
			return nil, fmt.Errorf("wrapped key encoding: %w", errs.ErrDecrypt)
		}
		plaintext, err := crypto.Decrypt(secret, sealed, []byte(note.DocID))
		if err != nil {
			return nil, fmt.Errorf("unwrap document key: %w", errs.ErrDecrypt)
		}
		key, err := crypto.KeyFromBytes(plaintext)
		if err != nil {
			return nil, fmt.Errorf("unwrapped key malformed: %w", errs.ErrDecrypt)
		}

		// Keep the recovered key in our own ring so the document stays
		// readable after the notification is gone.
		if err := m.docs.Keys().Write(ctx, note.DocID, key); err != nil {
			return nil, err
		}
		keyPtr = &key
	}

	doc, err := m.docs.GetFrom(ctx, note.OwnerPub, docID, keyPtr)
	if err != nil {
		return nil, err
	}

	if err := m.inboxNode(token, docID.String()).Put(ctx, nil); err != nil {
		return nil, fmt.Errorf("consume notification: %w", errs.ErrNetwork)
	}
	return doc, nil
}

// ReadShared re-opens a previously accepted document using the key stored at
// accept time.
func (m *Manager) ReadShared(ctx context.Context, ownerPub string, docID uuid.UUID) (*docs.Document, error) {
	key, err := m.docs.Keys().Read(ctx, docID.String())
	if err != nil {
		// Public documents never had a key to store.
		return m.docs.GetFrom(ctx, ownerPub, docID, nil)
	}
	return m.docs.GetFrom(ctx, ownerPub, docID, &key)
}

func (m *Manager) mirrorNode(recipientPub, docID string) (graph.Node, error) {
	id, err := m.session.Identity()
	if err != nil {
		return nil, err
	}
	path, err := m.hasher.Path(sharedDocsSegment, recipientPub, docID)
	if err != nil {
		return nil, err
	}
	node := m.store.Private(id.Pub())
	for _, segment := range path {
		node = node.Get(segment)
	}
	return node, nil
}

func (m *Manager) writeMirror(ctx context.Context, note Notification, recipient *identity.Record) error {
	mirror := mirrorRecord{
		Notification:  note,
		RecipientPub:  recipient.Pub,
		RecipientEpub: recipient.Epub,
	}
	data, err := json.Marshal(mirror)
	if err != nil {
		return err
	}

	node, err := m.mirrorNode(recipient.Pub, note.DocID)
	if err != nil {
		return err
	}
	if err := node.Put(ctx, data); err != nil {
		return fmt.Errorf("record share: %w", errs.ErrNetwork)
	}
	return nil
}

func (m *Manager) readMirror(ctx context.Context, recipientPub, docID string) (*mirrorRecord, error) {
	node, err := m.mirrorNode(recipientPub, docID)
	if err != nil {
		return nil, err
	}
	raw, err := node.Once(ctx)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, fmt.Errorf("share record for %s: %w", docID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read share record: %w", errs.ErrNetwork)
	}
	var mirror mirrorRecord
	if err := json.Unmarshal(raw, &mirror); err != nil {
		return nil, fmt.Errorf("share record corrupted: %w", errs.ErrValidation)
	}
	return &mirror, nil
}

func (m *Manager) deleteMirror(ctx context.Context, recipientPub, docID string) error {
	node, err := m.mirrorNode(recipientPub, docID)
	if err != nil {
		return err
	}
	if err := node.Put(ctx, nil); err != nil {
		return fmt.Errorf("drop share record: %w", errs.ErrNetwork)
	}
	return nil
}

func hasGrant(grants []docs.AccessGrant, userID string) bool {
	for _, grant := range grants {
		if grant.UserID == userID {
			return true
		}
	}
	return false
}
