// ABOUTME: Branch manager for named head pointers
// ABOUTME: Create, resolve, list and deactivate branches of a content item

package branch

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nainya/contentvcs/pkg/graph"
	"github.com/nainya/contentvcs/pkg/version"
)

// CreateRequest names a new branch starting at an existing version
type CreateRequest struct {
	ContentID     string
	Name          string
	FromVersionID string
	AuthorID      string
	Description   string
}

// Manager owns branch lifecycle. It shares the per-content lock arena with
// the version store so branch changes never race a commit.
type Manager struct {
	graph *graph.Store
	locks *graph.KeyedMutex
	log   zerolog.Logger
}

// NewManager creates a branch manager
func NewManager(g *graph.Store, locks *graph.KeyedMutex, log zerolog.Logger) *Manager {
	return &Manager{graph: g, locks: locks, log: log}
}

// Create adds an active branch pointing at req.FromVersionID
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*graph.Branch, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: branch name required", graph.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := m.locks.Lock(ctx, req.ContentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx := m.graph.Begin(req.ContentID)
	if !tx.Exists() {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownContent, req.ContentID)
	}
	snap := tx.View()
	if _, ok := snap.ActiveBranch(name); ok {
		tx.Abort()
		return nil, fmt.Errorf("%w: %s", graph.ErrDuplicateBranch, name)
	}
	if _, ok := snap.Version(req.FromVersionID); !ok {
		tx.Abort()
		return nil, fmt.Errorf("%w: %s in %s", graph.ErrVersionNotFound, req.FromVersionID, req.ContentID)
	}

	b := &graph.Branch{
		ID:            graph.NewID(),
		ContentID:     req.ContentID,
		Name:          name,
		HeadVersionID: req.FromVersionID,
		CreatedFrom:   req.FromVersionID,
		CreatedBy:     req.AuthorID,
		CreatedAt:     m.graph.Now(),
		Active:        true,
		Description:   req.Description,
	}
	if err := tx.PutBranch(b); err != nil {
		tx.Abort()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	m.log.Debug().Str("content_id", req.ContentID).Str("branch", name).Str("from", req.FromVersionID).Msg("branch created")
	return b, nil
}

// Get returns the active branch called name
func (m *Manager) Get(contentID, name string) (*graph.Branch, error) {
	snap, err := m.graph.MustSnapshot(contentID)
	if err != nil {
		return nil, err
	}
	b, ok := snap.ActiveBranch(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownBranch, name)
	}
	return b, nil
}

// GetHead resolves the head version of an active branch
func (m *Manager) GetHead(contentID, name string) (*graph.Version, error) {
	snap, err := m.graph.MustSnapshot(contentID)
	if err != nil {
		return nil, err
	}
	return version.Head(snap, name)
}

// List returns branches in creation order
func (m *Manager) List(contentID string, includeInactive bool) ([]*graph.Branch, error) {
	snap, err := m.graph.MustSnapshot(contentID)
	if err != nil {
		return nil, err
	}
	return snap.Branches(includeInactive), nil
}

// Deactivate marks a branch inactive. Its versions stay in the graph and its
// head keeps them from being pruned.
func (m *Manager) Deactivate(ctx context.Context, contentID, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := m.locks.Lock(ctx, contentID)
	if err != nil {
		return err
	}
	defer unlock()

	tx := m.graph.Begin(contentID)
	if !tx.Exists() {
		return fmt.Errorf("%w: %s", graph.ErrUnknownContent, contentID)
	}
	b, ok := tx.View().ActiveBranch(name)
	if !ok {
		tx.Abort()
		return fmt.Errorf("%w: %s", graph.ErrUnknownBranch, name)
	}
	if err := tx.PutBranch(b.Deactivated()); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	m.log.Info().Str("content_id", contentID).Str("branch", name).Msg("branch deactivated")
	return nil
}
