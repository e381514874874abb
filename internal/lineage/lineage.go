// Package lineage manages document branching.
//
// Branches form a rooted tree: Parent names the immediate ancestor, Original
// always names the lineage root in one hop, whatever the fork depth. All
// documents of one lineage share the root's content key, and a branch's
// public/private state is fixed by its root.
package lineage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aryanshm/foliage/internal/codec"
	"github.com/aryanshm/foliage/internal/docs"
	"github.com/aryanshm/foliage/internal/errs"
)

// Manager forks and walks document lineages for one session.
type Manager struct {
	docs *docs.Manager
	now  func() time.Time
}

// NewManager creates a lineage manager over the given document manager.
func NewManager(dm *docs.Manager) *Manager {
	return &Manager{docs: dm, now: time.Now}
}

// CreateBranch forks parentID into a new document carrying the parent's
// current fields. The branch reuses the lineage root's content key, so no
// key entry is written for it; its privacy is inherited and immutable.
func (m *Manager) CreateBranch(ctx context.Context, parentID uuid.UUID) (*docs.Document, error) {
	owner, err := m.docs.OwnerPub()
	if err != nil {
		return nil, err
	}
	parentRec, err := m.docs.LoadRecord(ctx, owner, parentID.String())
	if err != nil {
		return nil, err
	}

	parent, err := m.docs.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}

	originalID := parentRec.ID
	if parentRec.Original != "" {
		originalID = parentRec.Original
	}

	tagCSV, err := codec.EncodeTags(parent.Tags)
	if err != nil {
		return nil, err
	}

	branchID := uuid.New()
	now := m.now().UnixMilli()
	rec := docs.Record{
		ID:        branchID.String(),
		Title:     parent.Title,
		Content:   parent.Content,
		Tags:      tagCSV,
		CreatedAt: now,
		UpdatedAt: now,
		IsPublic:  parentRec.IsPublic,
		Access:    []docs.AccessGrant{},
		Parent:    parentRec.ID,
		Original:  originalID,
	}

	if !rec.IsPublic {
		// Field AADs are bound to the document id, so the branch re-seals
		// its copies under the shared root key.
		key, err := m.docs.Keys().Read(ctx, originalID)
		if err != nil {
			return nil, err
		}
		if rec.Title, err = codec.EncryptField(parent.Title, key, rec.ID); err != nil {
			return nil, err
		}
		if rec.Content, err = codec.EncryptField(parent.Content, key, rec.ID); err != nil {
			return nil, err
		}
		if rec.Tags, err = codec.EncryptField(tagCSV, key, rec.ID); err != nil {
			return nil, err
		}
	}

	if err := m.docs.StoreRecord(ctx, &rec); err != nil {
		return nil, err
	}

	// Assembled from what is already in hand; the store gives no
	// read-after-write guarantee.
	originalUUID, err := uuid.Parse(originalID)
	if err != nil {
		return nil, fmt.Errorf("original id %q: %w", originalID, errs.ErrValidation)
	}
	return &docs.Document{
		ID:        branchID,
		Title:     parent.Title,
		Content:   parent.Content,
		Tags:      parent.Tags,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		IsPublic:  rec.IsPublic,
		Access:    []docs.AccessGrant{},
		Parent:    &parentID,
		Original:  &originalUUID,
	}, nil
}

// ListBranches returns the immediate branches of id, one generation deep.
func (m *Manager) ListBranches(ctx context.Context, id uuid.UUID) ([]*docs.Document, error) {
	all, err := m.docs.List(ctx)
	if err != nil {
		return nil, err
	}

	branches := make([]*docs.Document, 0)
	for _, doc := range all {
		if doc.Parent != nil && *doc.Parent == id {
			branches = append(branches, doc)
		}
	}
	return branches, nil
}

// Descendants returns every transitive branch below id, breadth-first.
func (m *Manager) Descendants(ctx context.Context, id uuid.UUID) ([]*docs.Document, error) {
	all, err := m.docs.List(ctx)
	if err != nil {
		return nil, err
	}

	children := make(map[uuid.UUID][]*docs.Document)
	for _, doc := range all {
		if doc.Parent != nil {
			children[*doc.Parent] = append(children[*doc.Parent], doc)
		}
	}

	out := make([]*docs.Document, 0)
	queue := []uuid.UUID{id}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, doc := range children[next] {
			out = append(out, doc)
			queue = append(queue, doc.ID)
		}
	}
	return out, nil
}

// DeleteBranch tombstones a branch. Lineage roots are refused: deleting a
// root goes through the document manager, which also retires the content key.
func (m *Manager) DeleteBranch(ctx context.Context, id uuid.UUID) error {
	owner, err := m.docs.OwnerPub()
	if err != nil {
		return err
	}
	rec, err := m.docs.LoadRecord(ctx, owner, id.String())
	if err != nil {
		return err
	}
	if rec.Parent == "" {
		return fmt.Errorf("document %s is a lineage root, not a branch: %w", id, errs.ErrValidation)
	}
	return m.docs.Delete(ctx, id)
}
