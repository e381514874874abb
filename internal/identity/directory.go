package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aryanshm/foliage/internal/errs"
	"github.com/aryanshm/foliage/internal/graph"
)

// directoryOwner is the reserved namespace the alias registry lives under.
const directoryOwner = "directory"

// Record is a discoverable identity: everything a peer needs to address and
// share with a user, nothing private.
type Record struct {
	Alias string `json:"alias"`
	Pub   string `json:"pub"`
	Epub  string `json:"epub"`
}

// Directory resolves aliases to public key material through the graph.
type Directory struct {
	store graph.Store
}

// NewDirectory creates a directory over the given store.
func NewDirectory(store graph.Store) *Directory {
	return &Directory{store: store}
}

func (d *Directory) node(alias string) graph.Node {
	return d.store.Public(directoryOwner).Get("users").Get(alias)
}

// Register publishes the identity's public keys under its alias.
func (d *Directory) Register(ctx context.Context, id *Identity) error {
	return d.RegisterRecord(ctx, &Record{Alias: id.Alias(), Pub: id.Pub(), Epub: id.Epub()})
}

// RegisterRecord publishes a known-good record, e.g. one verified from a
// peer's contact card.
func (d *Directory) RegisterRecord(ctx context.Context, rec *Record) error {
	if rec.Alias == "" || rec.Pub == "" || rec.Epub == "" {
		return fmt.Errorf("incomplete directory record: %w", errs.ErrValidation)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := d.node(rec.Alias).Put(ctx, data); err != nil {
		return fmt.Errorf("failed to register %q: %w", rec.Alias, errs.ErrNetwork)
	}
	return nil
}

// Discover resolves an alias to its public record.
// Returns ErrNotFound when no such identity is registered.
func (d *Directory) Discover(ctx context.Context, alias string) (*Record, error) {
	data, err := d.node(alias).Once(ctx)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, fmt.Errorf("user %q: %w", alias, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %q: %w", alias, errs.ErrNetwork)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupted directory record for %q: %w", alias, err)
	}
	if rec.Pub == "" || rec.Epub == "" {
		return nil, fmt.Errorf("incomplete directory record for %q: %w", alias, errs.ErrNotFound)
	}
	return &rec, nil
}
