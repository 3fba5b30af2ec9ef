// ABOUTME: Backup manager for retention-bounded version references
// ABOUTME: Request, list, restore and sweep backups through a BlobStore

package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/nainya/contentvcs/pkg/graph"
	"github.com/nainya/contentvcs/pkg/journal"
	"github.com/nainya/contentvcs/pkg/version"
)

const keyPrefix = "backup/"

// Manager keeps the backup index. It never touches versions or branches
// except through the forward commit of Restore.
type Manager struct {
	graph    *graph.Store
	versions *version.Store
	blobs    BlobStore
	opts     Options
	log      zerolog.Logger

	mu        sync.RWMutex
	records   map[string]*Record
	byContent map[string]map[string]struct{}
}

// NewManager creates a backup manager over blobs
func NewManager(g *graph.Store, versions *version.Store, blobs BlobStore, opts Options, log zerolog.Logger) *Manager {
	return &Manager{
		graph:     g,
		versions:  versions,
		blobs:     blobs,
		opts:      opts.withDefaults(),
		log:       log,
		records:   make(map[string]*Record),
		byContent: make(map[string]map[string]struct{}),
	}
}

// Options returns the effective options
func (m *Manager) Options() Options {
	return m.opts
}

// Request records a backup of versionID. Only the manifest goes to the
// blob store; the version itself stays the authoritative payload.
func (m *Manager) Request(ctx context.Context, contentID, versionID string, t Type) (*Record, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	v, err := m.versions.Get(contentID, versionID)
	if err != nil {
		return nil, err
	}

	now := m.graph.Now()
	rec := &Record{
		ID:              graph.NewID(),
		ContentID:       contentID,
		Type:            t,
		VersionSnapshot: v.ID,
		CommitHash:      v.CommitHash,
		CreatedAt:       now,
		RetentionUntil:  now.Add(m.opts.Retention),
	}
	payload, err := EncodeManifest(manifestOf(rec))
	if err != nil {
		return nil, err
	}

	err = retry(ctx, m.opts.Retry, m.opts.Timeout, func(ctx context.Context) error {
		handle, err := m.blobs.Put(ctx, payload)
		rec.Path = handle
		return storageErr("put", handle, err)
	})
	if err != nil {
		m.log.Error().Err(err).Str("content_id", contentID).Str("version_id", versionID).Str("type", string(t)).Msg("backup blob write failed")
		return nil, err
	}

	if err := m.journal(journal.KindBackup, rec.ID, rec); err != nil {
		// The record is not durable, so its blob would never be swept
		if derr := m.blobs.Delete(context.WithoutCancel(ctx), rec.Path); derr != nil {
			m.log.Warn().Err(derr).Str("handle", rec.Path).Msg("orphaned backup blob")
		}
		return nil, err
	}
	m.put(rec)

	m.log.Info().
		Str("content_id", contentID).
		Str("backup_id", rec.ID).
		Str("version_id", versionID).
		Str("type", string(t)).
		Time("retention_until", rec.RetentionUntil).
		Msg("backup created")
	return rec.clone(), nil
}

// Get returns a backup record
func (m *Manager) Get(backupID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[backupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, backupID)
	}
	return r.clone(), nil
}

// List returns the backups of a content item, oldest first
func (m *Manager) List(contentID string) []*Record {
	m.mu.RLock()
	out := make([]*Record, 0, len(m.byContent[contentID]))
	for id := range m.byContent[contentID] {
		out = append(out, m.records[id].clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live backup records
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Restore reads and verifies the backup manifest, then commits the
// referenced version's content on branch (main when empty)
func (m *Manager) Restore(ctx context.Context, contentID, backupID, authorID, branch string) (*version.CommitResult, error) {
	rec, err := m.Get(backupID)
	if err != nil {
		return nil, err
	}
	if rec.ContentID != contentID {
		return nil, fmt.Errorf("%w: backup %s belongs to %s", ErrBackupNotFound, backupID, rec.ContentID)
	}

	var payload []byte
	err = retry(ctx, m.opts.Retry, m.opts.Timeout, func(ctx context.Context) error {
		var err error
		payload, err = m.blobs.Get(ctx, rec.Path)
		return storageErr("get", rec.Path, err)
	})
	if err != nil {
		return nil, err
	}
	manifest, err := DecodeManifest(payload)
	if err != nil {
		return nil, err
	}
	if err := manifest.verify(rec); err != nil {
		return nil, err
	}

	v, err := m.versions.Get(contentID, manifest.VersionID)
	if err != nil {
		return nil, err
	}
	if v.CommitHash != manifest.CommitHash {
		return nil, fmt.Errorf("%w: version %s hash %s, manifest %s", ErrManifestMismatch, v.ID, v.CommitHash, manifest.CommitHash)
	}

	res, err := m.versions.CommitDraft(ctx, contentID, "", version.Draft{
		Branch:   branch,
		Data:     v.Content(),
		AuthorID: authorID,
		Message:  fmt.Sprintf("Restore backup %s (version %d)", rec.ID, v.Number),
		Metadata: graph.VersionMetadata{RestoredFromBackup: rec.ID},
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().
		Str("content_id", contentID).
		Str("backup_id", backupID).
		Str("version_id", res.Version.ID).
		Bool("changed", res.Changed).
		Msg("backup restored")
	return res, nil
}

// Sweep deletes every backup whose retention has passed. A record is
// dropped only after its blob is gone; failed deletes stay for the next
// pass. Cancelling ctx stops work that has not started.
func (m *Manager) Sweep(ctx context.Context) (*SweepReport, error) {
	now := m.graph.Now()

	m.mu.RLock()
	report := &SweepReport{Examined: len(m.records)}
	var expired []*Record
	for _, r := range m.records {
		if r.Expired(now) {
			expired = append(expired, r.clone())
		}
	}
	m.mu.RUnlock()
	report.Expired = len(expired)

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(m.opts.SweepWorkers)
	for _, r := range expired {
		p.Go(func() {
			err := m.sweepOne(ctx, r)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Removed = append(report.Removed, r.ID)
			case ctx.Err() != nil:
				report.Skipped++
			default:
				report.Failed = append(report.Failed, SweepFailure{BackupID: r.ID, Err: err})
			}
		})
	}
	p.Wait()
	sort.Strings(report.Removed)

	for _, f := range report.Failed {
		m.log.Error().Err(f.Err).Str("backup_id", f.BackupID).Msg("backup sweep delete failed")
	}
	m.log.Info().
		Int("examined", report.Examined).
		Int("expired", report.Expired).
		Int("removed", len(report.Removed)).
		Int("failed", len(report.Failed)).
		Int("skipped", report.Skipped).
		Msg("backup sweep finished")
	return report, ctx.Err()
}

func (m *Manager) sweepOne(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := retry(ctx, m.opts.Retry, m.opts.Timeout, func(ctx context.Context) error {
		return storageErr("delete", r.Path, m.blobs.Delete(ctx, r.Path))
	})
	if err != nil {
		return err
	}
	if err := m.journal(journal.KindBackupDrop, r.ID, nil); err != nil {
		return err
	}
	m.drop(r.ID)
	return nil
}

// References reports whether an unexpired backup points at versionID
func (m *Manager) References(versionID string) bool {
	now := m.graph.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.VersionSnapshot == versionID && !r.Expired(now) {
			return true
		}
	}
	return false
}

// Apply replays a journaled backup record or drop
func (m *Manager) Apply(rec journal.Record) error {
	switch rec.Kind {
	case journal.KindBackup:
		var r Record
		if err := json.Unmarshal(rec.Payload, &r); err != nil {
			return fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		m.put(&r)
	case journal.KindBackupDrop:
		m.drop(strings.TrimPrefix(rec.Key, keyPrefix))
	}
	return nil
}

func (m *Manager) journal(kind journal.Kind, id string, rec *Record) error {
	var payload []byte
	if rec != nil {
		var err error
		if payload, err = json.Marshal(rec); err != nil {
			return fmt.Errorf("encode backup record: %w", err)
		}
	}
	if err := m.graph.Journal().Append(journal.Record{Kind: kind, Key: keyPrefix + id, Payload: payload}); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	return nil
}

func (m *Manager) put(r *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
	ids, ok := m.byContent[r.ContentID]
	if !ok {
		ids = make(map[string]struct{})
		m.byContent[r.ContentID] = ids
	}
	ids[r.ID] = struct{}{}
}

func (m *Manager) drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return
	}
	delete(m.records, id)
	delete(m.byContent[r.ContentID], id)
	if len(m.byContent[r.ContentID]) == 0 {
		delete(m.byContent, r.ContentID)
	}
}

func (r *Record) clone() *Record {
	out := *r
	return &out
}
