// Package keyring stores per-document content keys.
//
// One key exists per lineage root of a non-public document. Keys live only
// in the owner's private namespace, addressed through hashed path segments
// and self-encrypted before they are written, so the replicated store never
// holds a key in directly-recoverable form.
package keyring

import (
	"context"
	"errors"
	"fmt"

	"github.com/aryanshm/foliage/internal/errs"
	"github.com/aryanshm/foliage/internal/graph"
	"github.com/aryanshm/foliage/internal/identity"
	"github.com/aryanshm/foliage/internal/pathhash"
	"github.com/aryanshm/foliage/pkg/crypto"
)

// docKeysSegment is the plaintext category name; only its keyed hash ever
// reaches the store.
const docKeysSegment = "docKeys"

// Manager generates and persists document content keys for one session.
type Manager struct {
	store   graph.Store
	session *identity.Session
	hasher  *pathhash.Hasher
}

// NewManager creates a key manager bound to the given session.
func NewManager(store graph.Store, session *identity.Session) *Manager {
	return &Manager{
		store:   store,
		session: session,
		hasher:  pathhash.New(session),
	}
}

// Generate produces a fresh symmetric content key.
func (m *Manager) Generate() (crypto.Key, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return key, fmt.Errorf("generate key: %w", errs.ErrEncrypt)
	}
	return key, nil
}

// node addresses the stored key entry for docID inside the owner's private
// namespace, both path segments hashed.
func (m *Manager) node(docID string) (graph.Node, error) {
	id, err := m.session.Identity()
	if err != nil {
		return nil, err
	}
	path, err := m.hasher.Path(docKeysSegment, docID)
	if err != nil {
		return nil, err
	}
	node := m.store.Private(id.Pub())
	for _, token := range path {
		node = node.Get(token)
	}
	return node, nil
}

// selfKey derives the key under which the owner encrypts doc keys for itself.
func (m *Manager) selfKey() (crypto.Key, error) {
	priv, err := m.session.PrivateKeyMaterial()
	if err != nil {
		return crypto.Key{}, err
	}
	return crypto.SelfKey(priv, docKeysSegment)
}

// Write self-encrypts key and stores it for docID.
func (m *Manager) Write(ctx context.Context, docID string, key crypto.Key) error {
	node, err := m.node(docID)
	if err != nil {
		return err
	}
	self, err := m.selfKey()
	if err != nil {
		return err
	}

	sealed, err := crypto.Encrypt(self, key[:], []byte(docID))
	if err != nil {
		return fmt.Errorf("write key: %w", errs.ErrEncrypt)
	}

	if err := node.Put(ctx, sealed); err != nil {
		return fmt.Errorf("write key: %w", errs.ErrNetwork)
	}
	return nil
}

// Read recovers the content key for docID. Fails with ErrPermission when the
// entry is absent or cannot be decrypted by this identity.
func (m *Manager) Read(ctx context.Context, docID string) (crypto.Key, error) {
	var key crypto.Key

	node, err := m.node(docID)
	if err != nil {
		return key, err
	}

	sealed, err := node.Once(ctx)
	if errors.Is(err, graph.ErrNotFound) {
		return key, fmt.Errorf("key for document %s: %w", docID, errs.ErrPermission)
	}
	if err != nil {
		return key, fmt.Errorf("read key: %w", errs.ErrNetwork)
	}

	self, err := m.selfKey()
	if err != nil {
		return key, err
	}

	plaintext, err := crypto.Decrypt(self, sealed, []byte(docID))
	if err != nil {
		return key, fmt.Errorf("key for document %s undecryptable: %w", docID, errs.ErrPermission)
	}

	key, err = crypto.KeyFromBytes(plaintext)
	if err != nil {
		return key, fmt.Errorf("key for document %s malformed: %w", docID, errs.ErrPermission)
	}
	return key, nil
}

// Delete tombstones the stored key entry. Used only when converting a
// private document to public.
func (m *Manager) Delete(ctx context.Context, docID string) error {
	node, err := m.node(docID)
	if err != nil {
		return err
	}
	if err := node.Put(ctx, nil); err != nil {
		return fmt.Errorf("delete key: %w", errs.ErrNetwork)
	}
	return nil
}
