// ABOUTME: Version store over the copy-on-write version graph
// ABOUTME: Init, commit, history, revert and retention pruning per content item

package version

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/contentvcs/pkg/content"
	"github.com/nainya/contentvcs/pkg/diff"
	"github.com/nainya/contentvcs/pkg/graph"
)

// Store manages the versions of every content item
type Store struct {
	graph *graph.Store
	locks *graph.KeyedMutex
	log   zerolog.Logger
}

// NewStore creates a version store. Mutations of one content item are
// serialized through locks, which is shared with the other managers.
func NewStore(g *graph.Store, locks *graph.KeyedMutex, log zerolog.Logger) *Store {
	return &Store{graph: g, locks: locks, log: log}
}

// Init creates version 1 and the main branch
func (s *Store) Init(ctx context.Context, req InitRequest) (*graph.Version, error) {
	if req.ContentID == "" {
		return nil, fmt.Errorf("%w: content id required", graph.ErrInvalidArgument)
	}
	if !req.ContentType.Valid() {
		return nil, fmt.Errorf("%w: %q", content.ErrInvalidContentType, req.ContentType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, req.ContentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx := s.graph.Begin(req.ContentID)
	if err := tx.Initialize(req.ContentType); err != nil {
		return nil, err
	}

	data := req.Data
	if data == nil {
		data = content.NewMap()
	}
	fp, err := content.FingerprintOf(data)
	if err != nil {
		tx.Abort()
		return nil, err
	}

	now := s.graph.Now()
	v := &graph.Version{
		ID:          graph.NewID(),
		ContentID:   req.ContentID,
		ContentType: req.ContentType,
		Number:      1,
		CommitHash:  fp.CommitHash,
		Data:        data.Clone(),
		Metadata: graph.VersionMetadata{
			SizeBytes:   fp.SizeBytes,
			Checksum:    fp.Checksum,
			ChangeCount: data.Len(),
		},
		AuthorID:  req.AuthorID,
		Message:   req.Message,
		CreatedAt: now,
		Tags:      NormalizeTags(req.Tags),
	}
	main := &graph.Branch{
		ID:            graph.NewID(),
		ContentID:     req.ContentID,
		Name:          graph.DefaultBranch,
		HeadVersionID: v.ID,
		CreatedFrom:   v.ID,
		CreatedBy:     req.AuthorID,
		CreatedAt:     now,
		Active:        true,
	}
	if err := tx.PutVersion(v); err != nil {
		tx.Abort()
		return nil, err
	}
	if err := tx.PutBranch(main); err != nil {
		tx.Abort()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.log.Debug().Str("content_id", req.ContentID).Str("version_id", v.ID).Msg("content initialized")
	return v, nil
}

// Commit records req.Data on a branch. Content equal to the head is a no-op
// that returns the head with Changed false.
func (s *Store) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if req.Data == nil {
		return nil, fmt.Errorf("%w: content data required", graph.ErrInvalidArgument)
	}
	return s.commitDraft(ctx, req.ContentID, req.ExpectedHeadID, Draft{
		Branch:   req.Branch,
		Data:     req.Data,
		AuthorID: req.AuthorID,
		Message:  req.Message,
		Tags:     req.Tags,
	})
}

// Revert commits the content of an earlier version on top of the branch head
func (s *Store) Revert(ctx context.Context, req RevertRequest) (*CommitResult, error) {
	snap, err := s.graph.MustSnapshot(req.ContentID)
	if err != nil {
		return nil, err
	}
	target, ok := snap.Version(req.TargetVersionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrVersionNotFound, req.TargetVersionID)
	}
	msg := req.Message
	if msg == "" {
		msg = fmt.Sprintf("Revert to version %d", target.Number)
	}
	return s.commitDraft(ctx, req.ContentID, req.ExpectedHeadID, Draft{
		Branch:   req.Branch,
		Data:     target.Content(),
		AuthorID: req.AuthorID,
		Message:      msg,
		Metadata:     graph.VersionMetadata{RevertedFrom: target.ID},
		BeforeCommit: req.BeforeCommit,
	})
}

// CommitDraft is the forward commit used by revert and backup restore
func (s *Store) CommitDraft(ctx context.Context, contentID, expectedHeadID string, d Draft) (*CommitResult, error) {
	return s.commitDraft(ctx, contentID, expectedHeadID, d)
}

func (s *Store) commitDraft(ctx context.Context, contentID, expectedHeadID string, d Draft) (*CommitResult, error) {
	if contentID == "" {
		return nil, fmt.Errorf("%w: content id required", graph.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, contentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx := s.graph.Begin(contentID)
	if !tx.Exists() {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownContent, contentID)
	}
	head, err := Head(tx.View(), d.Branch)
	if err != nil {
		tx.Abort()
		return nil, err
	}
	if expectedHeadID != "" && expectedHeadID != head.ID {
		tx.Abort()
		return nil, fmt.Errorf("%w: branch %s is at %s, expected %s",
			graph.ErrConcurrentModification, branchName(d.Branch), head.ID, expectedHeadID)
	}
	if d.BeforeCommit != nil {
		d.BeforeCommit(head)
	}

	sum, err := content.Checksum(d.Data)
	if err != nil {
		tx.Abort()
		return nil, err
	}
	if sum == head.Metadata.Checksum {
		tx.Abort()
		s.log.Debug().Str("content_id", contentID).Str("branch", branchName(d.Branch)).Msg("commit is a no-op")
		return &CommitResult{
			Version:  head,
			Previous: head,
			Diff:     diff.Between(contentID, head.ID, head.ID, head.Data, head.Data),
		}, nil
	}

	v, changes, err := Stage(tx, s.graph.Now(), d)
	if err != nil {
		tx.Abort()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("content_id", contentID).
		Str("branch", branchName(d.Branch)).
		Str("version_id", v.ID).
		Int("version_number", v.Number).
		Int("changes", changes.Total()).
		Msg("version committed")
	return &CommitResult{Version: v, Previous: head, Diff: changes, Changed: true}, nil
}

// Head resolves the head version of an active branch in snap
func Head(snap *graph.Snapshot, name string) (*graph.Version, error) {
	name = branchName(name)
	b, ok := snap.ActiveBranch(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownBranch, name)
	}
	v, ok := snap.Version(b.HeadVersionID)
	if !ok {
		return nil, fmt.Errorf("%w: head %s of branch %s", graph.ErrVersionNotFound, b.HeadVersionID, name)
	}
	return v, nil
}

// Stage builds the next version of a branch inside tx and advances the
// branch to it. It does not check for no-ops.
func Stage(tx *graph.Txn, now time.Time, d Draft) (*graph.Version, *diff.Diff, error) {
	snap := tx.View()
	if snap == nil {
		return nil, nil, fmt.Errorf("%w: %s", graph.ErrUnknownContent, tx.ContentID())
	}
	name := branchName(d.Branch)
	b, ok := snap.ActiveBranch(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", graph.ErrUnknownBranch, name)
	}
	head, ok := snap.Version(b.HeadVersionID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: head %s of branch %s", graph.ErrVersionNotFound, b.HeadVersionID, name)
	}

	fp, err := content.FingerprintOf(d.Data)
	if err != nil {
		return nil, nil, err
	}

	v := &graph.Version{
		ID:          graph.NewID(),
		ContentID:   tx.ContentID(),
		ContentType: snap.ContentType(),
		Number:      head.Number + 1,
		CommitHash:  fp.CommitHash,
		Data:        d.Data.Clone(),
		Metadata:    d.Metadata,
		AuthorID:    d.AuthorID,
		Message:     d.Message,
		CreatedAt:   now.UTC(),
		Parents:     append([]string{head.ID}, d.ExtraParents...),
		Tags:        NormalizeTags(d.Tags),
	}
	changes := diff.Between(v.ContentID, head.ID, v.ID, head.Data, v.Data)
	v.Metadata.SizeBytes = fp.SizeBytes
	v.Metadata.Checksum = fp.Checksum
	v.Metadata.ChangeCount = changes.Total()

	if err := tx.PutVersion(v); err != nil {
		return nil, nil, err
	}
	if err := tx.PutBranch(b.WithHead(v.ID)); err != nil {
		return nil, nil, err
	}
	return v, changes, nil
}

// Get returns one version of a content item
func (s *Store) Get(contentID, versionID string) (*graph.Version, error) {
	snap, err := s.graph.MustSnapshot(contentID)
	if err != nil {
		return nil, err
	}
	v, ok := snap.Version(versionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrVersionNotFound, versionID)
	}
	return v, nil
}

// History lists versions oldest first. With a branch it follows first
// parents from the head and stops at the root or a pruned ancestor;
// without one it returns every stored version by number.
func (s *Store) History(ctx context.Context, contentID, branch string) ([]*graph.Version, error) {
	snap, err := s.graph.MustSnapshot(contentID)
	if err != nil {
		return nil, err
	}

	if branch == "" {
		all := snap.Versions()
		sort.SliceStable(all, func(i, j int) bool {
			if all[i].Number == all[j].Number {
				return all[i].CreatedAt.Before(all[j].CreatedAt)
			}
			return all[i].Number < all[j].Number
		})
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return all, nil
	}

	v, err := Head(snap, branch)
	if err != nil {
		return nil, err
	}
	var lineage []*graph.Version
	for v != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineage = append(lineage, v)
		parent := v.FirstParent()
		if parent == "" {
			break
		}
		v, _ = snap.Version(parent)
	}
	for i, j := 0, len(lineage)-1; i < j; i, j = i+1, j-1 {
		lineage[i], lineage[j] = lineage[j], lineage[i]
	}
	return lineage, nil
}

// Diff compares two stored versions of the same content item
func (s *Store) Diff(contentID, fromID, toID string) (*diff.Diff, error) {
	from, err := s.Get(contentID, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.Get(contentID, toID)
	if err != nil {
		return nil, err
	}
	return diff.Between(contentID, from.ID, to.ID, from.Data, to.Data), nil
}

// FindByTag returns the versions carrying tag, oldest first
func (s *Store) FindByTag(contentID, tag string) ([]*graph.Version, error) {
	snap, err := s.graph.MustSnapshot(contentID)
	if err != nil {
		return nil, err
	}
	return snap.FindByTag(tag), nil
}

// Prune keeps the maxVersions most recently created versions. Older ones
// are removed unless a branch head points at them or protected reports a
// reference held elsewhere.
func (s *Store) Prune(ctx context.Context, contentID string, maxVersions int, protected func(versionID string) bool) (*PruneReport, error) {
	if maxVersions <= 0 {
		maxVersions = DefaultMaxVersions
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, contentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx := s.graph.Begin(contentID)
	if !tx.Exists() {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownContent, contentID)
	}
	snap := tx.Base()
	report := &PruneReport{ContentID: contentID}

	all := snap.Versions()
	excess := len(all) - maxVersions
	for i := 0; i < excess; i++ {
		v := all[i]
		if snap.IsBranchHead(v.ID) || (protected != nil && protected(v.ID)) {
			report.Retained = append(report.Retained, v.ID)
			s.log.Info().
				Str("content_id", contentID).
				Str("version_id", v.ID).
				Int("version_number", v.Number).
				Msg("retained due to reference")
			continue
		}
		if err := tx.RemoveVersion(v.ID); err != nil {
			tx.Abort()
			return nil, err
		}
		report.Removed = append(report.Removed, v.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	report.Remaining = len(all) - len(report.Removed)
	if len(report.Removed) > 0 {
		s.log.Info().Str("content_id", contentID).Int("removed", len(report.Removed)).Msg("versions pruned")
	}
	return report, nil
}
