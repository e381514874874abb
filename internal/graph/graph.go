// Package graph defines the boundary to the replicated graph store.
//
// The store is eventually consistent and gives no read-after-write
// guarantee: a Put acknowledged by the local node may not be visible to a
// subsequent Once until replication settles. Callers must tolerate that
// window. Conflict resolution, gossip, and persistence of the replicated
// engine live behind this interface and are not foliage's concern.
package graph

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrNotFound indicates the addressed node holds no value (absent or tombstoned).
	ErrNotFound = errors.New("graph: node not found")
)

// Node is a handle to a position in the graph, chainable via Get.
type Node interface {
	// Get returns a handle to the named child.
	Get(segment string) Node

	// Put writes value at this node, replacing any previous value.
	// A nil value tombstones the node.
	Put(ctx context.Context, value []byte) error

	// Once reads the current value of this node.
	// Returns ErrNotFound when the node is absent or tombstoned.
	Once(ctx context.Context) ([]byte, error)

	// Map iterates the immediate children of this node, invoking fn for
	// each live child. Iteration terminates when the store signals
	// completion; it is bounded, not a subscription.
	Map(ctx context.Context, fn func(key string, value []byte) error) error

	// Path returns the segments addressing this node, namespace included.
	Path() []string
}

// Store exposes the two namespaces of the replicated graph.
type Store interface {
	// Public returns the public namespace of the identity addressed by its
	// public signing key. Readable by anyone.
	Public(owner string) Node

	// Private returns the private namespace of the given owner, reachable
	// only by the authenticated holder of that identity.
	Private(owner string) Node

	Close() error
}

// JoinPath flattens path segments into a single address key. Segments are
// escaped so a segment can never traverse the tree.
func JoinPath(segments []string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

// publicPrefix and privatePrefix keep the two namespaces disjoint.
const (
	publicPrefix  = "pub"
	privatePrefix = "priv"
)

// PublicRoot returns the root path of an owner's public namespace.
func PublicRoot(owner string) []string {
	return []string{publicPrefix, owner}
}

// PrivateRoot returns the root path of an owner's private namespace.
func PrivateRoot(owner string) []string {
	return []string{privatePrefix, owner}
}
