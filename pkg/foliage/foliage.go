// Package foliage is the public API for the document engine.
//
// An Engine composes the identity, key, document, sharing, and lineage
// managers over one replicated graph store. This is the only package
// external applications should import.
//
// Example usage:
//
//	e, err := foliage.New(foliage.Config{DataDir: dir})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//
//	if err := e.SignIn(ctx, passphrase); err != nil {
//	    log.Fatal(err)
//	}
//	doc, err := e.CreateDocument(ctx, foliage.CreateDocumentInput{
//	    Title:   "groceries",
//	    Content: "eggs, flour",
//	    Tags:    []string{"home"},
//	})
package foliage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aryanshm/foliage/internal/docs"
	"github.com/aryanshm/foliage/internal/errs"
	"github.com/aryanshm/foliage/internal/graph"
	"github.com/aryanshm/foliage/internal/identity"
	"github.com/aryanshm/foliage/internal/keyring"
	"github.com/aryanshm/foliage/internal/lineage"
	"github.com/aryanshm/foliage/internal/retry"
	"github.com/aryanshm/foliage/internal/search"
	"github.com/aryanshm/foliage/internal/sharing"
)

// Document is the decrypted document view.
type Document = docs.Document

// AccessGrant authorizes one identity to recover a document's content key.
type AccessGrant = docs.AccessGrant

// Notification is a pending share offer in the inbox.
type Notification = sharing.Notification

// Contact is a discoverable identity's public record.
type Contact = identity.Record

// CreateDocumentInput contains parameters for creating a document.
type CreateDocumentInput struct {
	Title    string
	Content  string
	Tags     []string
	IsPublic bool
}

// UpdateDocumentInput contains parameters for updating a document.
// Nil fields mean no change.
type UpdateDocumentInput struct {
	Title   *string
	Content *string
	Tags    *[]string
}

// Config contains configuration options for the engine
type Config struct {
	// DataDir is the directory holding the identity file, the store
	// database, and the search index. If empty, defaults to ~/.foliage
	DataDir string

	// InMemory runs the store and search index in memory. DataDir is then
	// used only for the identity file.
	InMemory bool

	// PropagationWindow delays read-after-write visibility of the in-memory
	// store, mimicking an eventually-consistent deployment.
	PropagationWindow time.Duration

	// Store overrides the built-in store, e.g. to join a shared test fabric.
	Store graph.Store

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Engine is the composed document engine. Methods are safe for concurrent
// use; at most one identity is signed in at a time.
type Engine struct {
	store      graph.Store
	ownStore   bool
	identities *identity.FileStore
	sessions   *identity.SessionManager
	directory  *identity.Directory
	retrier    *retry.Executor
	index      *search.Index
	bus        *EventBus
	log        *zap.Logger

	mu      sync.Mutex
	docs    *docs.Manager
	sharing *sharing.Manager
	lineage *lineage.Manager
}

// New creates an Engine with the given configuration.
func New(cfg Config) (*Engine, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := cfg.Store
	ownStore := false
	if store == nil {
		if cfg.InMemory {
			store = graph.NewMemStore(cfg.PropagationWindow)
		} else {
			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			var err error
			store, err = graph.NewSQLiteStore(filepath.Join(dataDir, "foliage.db"))
			if err != nil {
				return nil, fmt.Errorf("open store: %w", err)
			}
		}
		ownStore = true
	}

	var index *search.Index
	var err error
	if cfg.InMemory {
		index, err = search.NewMemoryIndex()
	} else {
		index, err = search.NewIndex(dataDir)
	}
	if err != nil {
		if ownStore {
			store.Close()
		}
		return nil, fmt.Errorf("open search index: %w", err)
	}

	return &Engine{
		store:      store,
		ownStore:   ownStore,
		identities: identity.NewFileStore(dataDir),
		sessions:   identity.NewSessionManager(),
		directory:  identity.NewDirectory(store),
		retrier:    retry.NewExecutor(),
		index:      index,
		bus:        NewEventBus(),
		log:        logger,
	}, nil
}

// InitIdentity creates and saves a fresh identity. Fails if one exists.
func (e *Engine) InitIdentity(alias string, passphrase []byte) error {
	id, err := e.identities.Initialize(alias, passphrase)
	if err != nil {
		return err
	}
	e.log.Info("identity initialized", zap.String("alias", id.Alias()))
	return nil
}

// HasIdentity reports whether an identity file exists.
func (e *Engine) HasIdentity() bool {
	return e.identities.IsInitialized()
}

// SignIn unlocks the stored identity and builds the per-session managers.
// The search index is rebuilt from the signed-in user's documents.
func (e *Engine) SignIn(ctx context.Context, passphrase []byte) error {
	id, err := e.identities.Unlock(passphrase)
	if err != nil {
		return err
	}

	session, err := e.sessions.SignIn(id)
	if err != nil {
		return err
	}

	dm := docs.NewManager(e.store, session, keyring.NewManager(e.store, session))

	e.mu.Lock()
	e.docs = dm
	e.sharing = sharing.NewManager(e.store, session, dm, e.directory)
	e.lineage = lineage.NewManager(dm)
	e.mu.Unlock()

	if err := e.reindex(ctx); err != nil {
		e.log.Warn("search reindex failed", zap.Error(err))
	}

	e.log.Info("signed in", zap.String("alias", id.Alias()))
	return nil
}

// SignOut invalidates the session. Outstanding operations against the old
// session fail closed.
func (e *Engine) SignOut() {
	e.sessions.SignOut()
	e.mu.Lock()
	e.docs, e.sharing, e.lineage = nil, nil, nil
	e.mu.Unlock()
	e.log.Info("signed out")
}

// Whoami returns the signed-in identity's public record.
func (e *Engine) Whoami() (*Contact, error) {
	session, err := e.sessions.Current()
	if err != nil {
		return nil, err
	}
	id, err := session.Identity()
	if err != nil {
		return nil, err
	}
	return &Contact{Alias: id.Alias(), Pub: id.Pub(), Epub: id.Epub()}, nil
}

// Register publishes the signed-in identity in the alias directory.
func (e *Engine) Register(ctx context.Context) error {
	session, err := e.sessions.Current()
	if err != nil {
		return err
	}
	id, err := session.Identity()
	if err != nil {
		return err
	}
	return e.directory.Register(ctx, id)
}

// ContactQR renders the signed-in identity's signed contact card as a
// terminal QR code.
func (e *Engine) ContactQR() (string, error) {
	session, err := e.sessions.Current()
	if err != nil {
		return "", err
	}
	id, err := session.Identity()
	if err != nil {
		return "", err
	}
	card, err := identity.NewContactCard(id, identity.DefaultContactExpiry)
	if err != nil {
		return "", err
	}
	return card.ToQRString()
}

// AddContact verifies an encoded contact card and publishes its record in
// the directory, making the peer shareable-to by alias.
func (e *Engine) AddContact(ctx context.Context, encoded string) (*Contact, error) {
	card, err := identity.ParseContactCard(encoded)
	if err != nil {
		return nil, err
	}
	rec := card.Record()
	if err := e.directory.RegisterRecord(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Discover resolves an alias to its public record.
func (e *Engine) Discover(ctx context.Context, alias string) (*Contact, error) {
	return e.directory.Discover(ctx, alias)
}

// CreateDocument creates a document, private by default.
func (e *Engine) CreateDocument(ctx context.Context, input CreateDocumentInput) (*Document, error) {
	dm, _, _, err := e.managers()
	if err != nil {
		return nil, err
	}

	var doc *Document
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		doc, err = dm.Create(ctx, docs.CreateInput{
			Title:    input.Title,
			Content:  input.Content,
			Tags:     input.Tags,
			IsPublic: input.IsPublic,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.indexDoc(doc)
	e.publish(EventCreated, doc.ID)
	return doc, nil
}

// GetDocument reads and decrypts one of the user's own documents.
func (e *Engine) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	dm, _, _, err := e.managers()
	if err != nil {
		return nil, err
	}

	var doc *Document
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		doc, err = dm.Get(ctx, id)
		return err
	})
	return doc, err
}

// ListDocuments returns all of the user's documents, decrypted.
func (e *Engine) ListDocuments(ctx context.Context) ([]*Document, error) {
	dm, _, _, err := e.managers()
	if err != nil {
		return nil, err
	}

	var out []*Document
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		out, err = dm.List(ctx)
		return err
	})
	return out, err
}

// UpdateDocument mutates a document, re-encrypting only changed fields.
func (e *Engine) UpdateDocument(ctx context.Context, id uuid.UUID, input UpdateDocumentInput) error {
	dm, _, _, err := e.managers()
	if err != nil {
		return err
	}

	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		return dm.Update(ctx, id, docs.UpdateInput{
			Title:   input.Title,
			Content: input.Content,
			Tags:    input.Tags,
		})
	})
	if err != nil {
		return err
	}

	if doc, err := dm.Get(ctx, id); err == nil {
		e.indexDoc(doc)
	}
	e.publish(EventUpdated, id)
	return nil
}

// DeleteDocument tombstones a document and, for private lineage roots, its
// content key.
func (e *Engine) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	dm, _, _, err := e.managers()
	if err != nil {
		return err
	}

	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		return dm.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	if err := e.index.DeleteDocument(id); err != nil {
		e.log.Warn("search delete failed", zap.Error(err))
	}
	e.publish(EventDeleted, id)
	return nil
}

// SetDocumentPublic converts a lineage root between public and private.
func (e *Engine) SetDocumentPublic(ctx context.Context, id uuid.UUID, public bool) error {
	dm, _, _, err := e.managers()
	if err != nil {
		return err
	}

	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		return dm.SetPublic(ctx, id, public)
	})
	if err != nil {
		return err
	}
	e.publish(EventUpdated, id)
	return nil
}

// ShareDocument grants a directory-registered recipient access to a document.
func (e *Engine) ShareDocument(ctx context.Context, id uuid.UUID, recipientAlias string) error {
	_, sm, _, err := e.managers()
	if err != nil {
		return err
	}

	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		return sm.Share(ctx, id, recipientAlias)
	})
	if err != nil {
		return err
	}

	e.log.Info("document shared",
		zap.String("doc", id.String()),
		zap.String("recipient", recipientAlias))
	e.publish(EventShared, id)
	return nil
}

// UnshareDocument removes a recipient's grant. The content key is not
// rotated; a former collaborator keeps any key copy already distributed.
func (e *Engine) UnshareDocument(ctx context.Context, id uuid.UUID, recipientPub string) error {
	_, sm, _, err := e.managers()
	if err != nil {
		return err
	}

	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		return sm.Unshare(ctx, id, recipientPub)
	})
	if err != nil {
		return err
	}
	e.publish(EventShared, id)
	return nil
}

// Inbox lists pending share offers addressed to the signed-in identity.
func (e *Engine) Inbox(ctx context.Context) ([]*Notification, error) {
	_, sm, _, err := e.managers()
	if err != nil {
		return nil, err
	}
	return sm.ListInbox(ctx)
}

// AcceptShare consumes a share offer and returns the decrypted document.
func (e *Engine) AcceptShare(ctx context.Context, id uuid.UUID) (*Document, error) {
	_, sm, _, err := e.managers()
	if err != nil {
		return nil, err
	}

	var doc *Document
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		doc, err = sm.Accept(ctx, id)
		return err
	})
	return doc, err
}

// ReadShared re-opens a previously accepted document.
func (e *Engine) ReadShared(ctx context.Context, ownerPub string, id uuid.UUID) (*Document, error) {
	_, sm, _, err := e.managers()
	if err != nil {
		return nil, err
	}
	return sm.ReadShared(ctx, ownerPub, id)
}

// CreateBranch forks a document. The branch shares the lineage root's key
// and privacy.
func (e *Engine) CreateBranch(ctx context.Context, parentID uuid.UUID) (*Document, error) {
	_, _, lm, err := e.managers()
	if err != nil {
		return nil, err
	}

	var branch *Document
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		branch, err = lm.CreateBranch(ctx, parentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.indexDoc(branch)
	e.publish(EventBranched, branch.ID)
	return branch, nil
}

// ListBranches returns a document's immediate branches.
func (e *Engine) ListBranches(ctx context.Context, id uuid.UUID) ([]*Document, error) {
	_, _, lm, err := e.managers()
	if err != nil {
		return nil, err
	}
	return lm.ListBranches(ctx, id)
}

// Descendants returns every transitive branch below a document.
func (e *Engine) Descendants(ctx context.Context, id uuid.UUID) ([]*Document, error) {
	_, _, lm, err := e.managers()
	if err != nil {
		return nil, err
	}
	return lm.Descendants(ctx, id)
}

// DeleteBranch tombstones a branch; lineage roots are refused.
func (e *Engine) DeleteBranch(ctx context.Context, id uuid.UUID) error {
	_, _, lm, err := e.managers()
	if err != nil {
		return err
	}

	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		return lm.DeleteBranch(ctx, id)
	})
	if err != nil {
		return err
	}

	if err := e.index.DeleteDocument(id); err != nil {
		e.log.Warn("search delete failed", zap.Error(err))
	}
	e.publish(EventDeleted, id)
	return nil
}

// SearchDocuments matches query against the user's decrypted titles and
// content, optionally filtered by tags.
func (e *Engine) SearchDocuments(ctx context.Context, query string, tags []string) ([]*Document, error) {
	dm, _, _, err := e.managers()
	if err != nil {
		return nil, err
	}

	hits, err := e.index.Search(query, search.SearchOptions{Tags: tags})
	if err != nil {
		return nil, err
	}

	out := make([]*Document, 0, len(hits))
	for _, hit := range hits {
		doc, err := dm.Get(ctx, hit.ID)
		if err != nil {
			// Index may lag the store; skip entries that vanished.
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// Subscribe returns a channel of change events.
func (e *Engine) Subscribe() Subscription {
	return e.bus.Subscribe()
}

// SubscribeWithOptions returns a filtered event subscription.
func (e *Engine) SubscribeWithOptions(opts SubscriptionOptions) Subscription {
	return e.bus.SubscribeWithOptions(opts)
}

// Close releases the store, index, and event bus.
func (e *Engine) Close() error {
	e.bus.Close()
	if err := e.index.Close(); err != nil {
		return err
	}
	if e.ownStore {
		return e.store.Close()
	}
	return nil
}

func (e *Engine) managers() (*docs.Manager, *sharing.Manager, *lineage.Manager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.docs == nil {
		return nil, nil, nil, errs.ErrAuthRequired
	}
	return e.docs, e.sharing, e.lineage, nil
}

func (e *Engine) publish(eventType EventType, id uuid.UUID) {
	e.bus.Publish(Event{Type: eventType, DocID: id, Timestamp: time.Now()})
}

func (e *Engine) indexDoc(doc *Document) {
	if err := e.index.IndexDocument(doc); err != nil {
		e.log.Warn("search index failed", zap.Error(err))
	}
}

func (e *Engine) reindex(ctx context.Context) error {
	dm, _, _, err := e.managers()
	if err != nil {
		return err
	}
	all, err := dm.List(ctx)
	if err != nil {
		return err
	}
	for _, doc := range all {
		e.indexDoc(doc)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".foliage"
	}
	return filepath.Join(home, ".foliage")
}
