package graph

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// MemStore is an in-memory graph with a configurable propagation window.
// A written value becomes visible to reads only after the window elapses,
// which models the replicated store's lack of a read-after-write guarantee.
// A zero window makes writes immediately visible.
type MemStore struct {
	mu     sync.Mutex
	nodes  map[string]memCell // flattened parent path + "/" + key
	window time.Duration
	now    func() time.Time
}

type memCell struct {
	value     []byte
	deleted   bool
	visibleAt time.Time
}

// NewMemStore creates an in-memory store with the given propagation window.
func NewMemStore(window time.Duration) *MemStore {
	return &MemStore{
		nodes:  make(map[string]memCell),
		window: window,
		now:    time.Now,
	}
}

func (s *MemStore) Public(owner string) Node {
	return &memNode{store: s, path: PublicRoot(owner)}
}

func (s *MemStore) Private(owner string) Node {
	return &memNode{store: s, path: PrivateRoot(owner)}
}

func (s *MemStore) Close() error { return nil }

type memNode struct {
	store *MemStore
	path  []string
}

func (n *memNode) Get(segment string) Node {
	child := make([]string, 0, len(n.path)+1)
	child = append(child, n.path...)
	child = append(child, segment)
	return &memNode{store: n.store, path: child}
}

func (n *memNode) Path() []string {
	out := make([]string, len(n.path))
	copy(out, n.path)
	return out
}

func (n *memNode) Put(ctx context.Context, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := n.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[JoinPath(n.path)] = memCell{
		value:     value,
		deleted:   value == nil,
		visibleAt: s.now().Add(s.window),
	}
	return nil
}

func (n *memNode) Once(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := n.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cell, ok := s.nodes[JoinPath(n.path)]
	if !ok || cell.deleted || s.now().Before(cell.visibleAt) {
		return nil, ErrNotFound
	}
	return cell.value, nil
}

func (n *memNode) Map(ctx context.Context, fn func(key string, value []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := n.store
	prefix := JoinPath(n.path) + "/"

	// Snapshot the visible children, then iterate without the lock held so
	// fn may issue further store operations.
	type child struct {
		key   string
		value []byte
	}
	s.mu.Lock()
	children := make([]child, 0)
	for path, cell := range s.nodes {
		if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
			continue
		}
		key := path[len(prefix):]
		if containsSlash(key) {
			continue // grandchild, not an immediate child
		}
		if cell.deleted || s.now().Before(cell.visibleAt) {
			continue
		}
		children = append(children, child{key: key, value: cell.value})
	}
	s.mu.Unlock()

	for _, c := range children {
		key, err := url.PathUnescape(c.key)
		if err != nil {
			key = c.key
		}
		if err := fn(key, c.value); err != nil {
			return err
		}
	}
	return nil
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}
