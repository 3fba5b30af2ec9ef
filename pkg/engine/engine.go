// ABOUTME: Engine facade wiring versions, branches, merges and backups
// ABOUTME: Adds backup triggers, metrics and logging around every operation

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nainya/contentvcs/internal/logger"
	"github.com/nainya/contentvcs/internal/metrics"
	"github.com/nainya/contentvcs/pkg/backup"
	"github.com/nainya/contentvcs/pkg/branch"
	"github.com/nainya/contentvcs/pkg/diff"
	"github.com/nainya/contentvcs/pkg/graph"
	"github.com/nainya/contentvcs/pkg/journal"
	"github.com/nainya/contentvcs/pkg/merge"
	"github.com/nainya/contentvcs/pkg/version"
)

// ErrClosed is returned by operations on a closed engine
var ErrClosed = errors.New("engine closed")

// Result is the outcome of a mutation. A backup is requested after the
// mutation is durable; its failure is reported in BackupErr and never
// undoes the mutation.
type Result struct {
	Version  *graph.Version
	Previous *graph.Version
	Diff     *diff.Diff
	Changed  bool

	Backup    *backup.Record
	BackupErr error
}

// Engine is the entry point for embedding the version control engine
type Engine struct {
	opts    Options
	journal *journal.Journal

	graph    *graph.Store
	locks    *graph.KeyedMutex
	versions *version.Store
	branches *branch.Manager
	merges   *merge.Engine
	backups  *backup.Manager

	log     *logger.Logger
	metrics *metrics.Metrics
	closed  atomic.Bool
}

// New creates an in-memory engine. JournalPath is ignored; use Open for a
// durable engine.
func New(opts Options) *Engine {
	opts.JournalPath = ""
	return build(opts.withDefaults(), nil)
}

// Open creates an engine and, when a journal path is set, rebuilds its state
// from the journal before accepting work
func Open(ctx context.Context, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if opts.JournalPath == "" {
		e := build(opts, nil)
		e.log.LogStartup("", opts.BackendName, 0)
		return e, nil
	}

	j := &journal.Journal{Path: opts.JournalPath, Sync: opts.JournalSync}
	if err := j.Open(); err != nil {
		return nil, err
	}

	e := build(opts, j)
	stats, err := j.Replay(func(rec journal.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return e.apply(rec)
	})
	if err != nil {
		j.Close()
		return nil, fmt.Errorf("replay journal: %w", err)
	}

	zl := e.log.Component("journal")
	zl.Info().
		Int("entries", stats.TotalEntries).
		Int("transactions", stats.CommittedTxns).
		Int("records", stats.ReplayedRecords).
		Msg("journal replayed")
	e.metrics.ContentItems.Set(float64(e.graph.Len()))
	e.log.LogStartup(opts.JournalPath, opts.BackendName, e.graph.Len())
	return e, nil
}

func build(opts Options, j *journal.Journal) *Engine {
	var app journal.Appender = journal.Discard
	if j != nil {
		app = j
	}
	g := graph.NewStore(app)
	if opts.Clock != nil {
		g.SetClock(opts.Clock)
	}
	locks := graph.NewKeyedMutex()
	log := opts.Logger
	versions := version.NewStore(g, locks, log.Component("version"))

	return &Engine{
		opts:     opts,
		journal:  j,
		graph:    g,
		locks:    locks,
		versions: versions,
		branches: branch.NewManager(g, locks, log.Component("branch")),
		merges:   merge.NewEngine(g, locks, log.Component("merge")),
		backups:  backup.NewManager(g, versions, opts.Blobs, opts.Backup, log.Component("backup")),
		log:      log,
		metrics:  metrics.New(opts.Registry),
	}
}

func (e *Engine) apply(rec journal.Record) error {
	switch rec.Kind {
	case journal.KindMerge:
		return e.merges.Apply(rec)
	case journal.KindBackup, journal.KindBackupDrop:
		return e.backups.Apply(rec)
	default:
		return e.graph.Apply(rec)
	}
}

// Gatherer exposes the engine metrics
func (e *Engine) Gatherer() prometheus.Gatherer {
	return e.opts.Registry
}

// Ready reports whether the engine accepts work
func (e *Engine) Ready() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close flushes and closes the journal and an owned blob store
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.log.LogShutdown()

	var errs []error
	if e.journal != nil {
		errs = append(errs, e.journal.Close())
	}
	if c, ok := e.opts.Blobs.(io.Closer); ok && e.opts.CloseBlobs {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (e *Engine) observe(op, contentID string, start time.Time, err error) {
	d := time.Since(start)
	e.metrics.RecordOperation(op, err, d)
	e.log.LogOperation(op, contentID, d, err)
}

// backupAfter requests a backup for a mutation that already succeeded. It
// runs even if ctx was cancelled meanwhile.
func (e *Engine) backupAfter(ctx context.Context, res *Result, t backup.Type) {
	v := res.Version
	rec, err := e.backups.Request(context.WithoutCancel(ctx), v.ContentID, v.ID, t)
	e.metrics.RecordBackup(string(t), err)
	if err != nil {
		e.log.LogBackupFailure(v.ContentID, v.ID, string(t), err)
		res.BackupErr = err
		return
	}
	res.Backup = rec
}

func resultOf(cr *version.CommitResult) *Result {
	return &Result{Version: cr.Version, Previous: cr.Previous, Diff: cr.Diff, Changed: cr.Changed}
}

func (e *Engine) recordCommit(cr *version.CommitResult) {
	if cr.Changed {
		e.metrics.VersionsCreatedTotal.Inc()
	} else {
		e.metrics.CommitNoopsTotal.Inc()
	}
}

// Init creates a content item and takes its initial backup
func (e *Engine) Init(ctx context.Context, req version.InitRequest) (res *Result, err error) {
	defer func(start time.Time) { e.observe("init", req.ContentID, start, err) }(time.Now())
	if err := e.Ready(); err != nil {
		return nil, err
	}

	v, err := e.versions.Init(ctx, req)
	if err != nil {
		return nil, err
	}
	e.metrics.VersionsCreatedTotal.Inc()
	e.metrics.ContentItems.Set(float64(e.graph.Len()))

	res = &Result{Version: v, Changed: true}
	e.backupAfter(ctx, res, backup.TypeInitial)
	return res, nil
}

// Commit records new content on a branch. Large changes take a
// significant_changes backup.
func (e *Engine) Commit(ctx context.Context, req version.CommitRequest) (res *Result, err error) {
	defer func(start time.Time) { e.observe("commit", req.ContentID, start, err) }(time.Now())
	if err := e.Ready(); err != nil {
		return nil, err
	}

	cr, err := e.versions.Commit(ctx, req)
	if err != nil {
		return nil, err
	}
	e.recordCommit(cr)

	res = resultOf(cr)
	if cr.Changed && cr.Diff.Total() > e.opts.SignificantChangeThreshold {
		e.backupAfter(ctx, res, backup.TypeSignificantChanges)
	}
	return res, nil
}

// Revert backs up the current head and then commits the target version's
// content on top of it. The backup is taken while the content item is
// locked, so it always covers the head the revert replaces.
func (e *Engine) Revert(ctx context.Context, req version.RevertRequest) (res *Result, err error) {
	defer func(start time.Time) { e.observe("revert", req.ContentID, start, err) }(time.Now())
	if err := e.Ready(); err != nil {
		return nil, err
	}

	if _, err := e.versions.Get(req.ContentID, req.TargetVersionID); err != nil {
		return nil, err
	}

	pre := &Result{}
	next := req.BeforeCommit
	req.BeforeCommit = func(head *graph.Version) {
		pre.Version = head
		e.backupAfter(ctx, pre, backup.TypePreRevert)
		if next != nil {
			next(head)
		}
	}

	cr, err := e.versions.Revert(ctx, req)
	if err != nil {
		return nil, err
	}
	e.recordCommit(cr)

	res = resultOf(cr)
	res.Backup, res.BackupErr = pre.Backup, pre.BackupErr
	return res, nil
}

// History lists versions, first-parent lineage when branch is set
func (e *Engine) History(ctx context.Context, contentID, branch string) (out []*graph.Version, err error) {
	defer func(start time.Time) { e.observe("history", contentID, start, err) }(time.Now())
	return e.versions.History(ctx, contentID, branch)
}

// Get returns one version
func (e *Engine) Get(contentID, versionID string) (*graph.Version, error) {
	return e.versions.Get(contentID, versionID)
}

// Diff compares two stored versions
func (e *Engine) Diff(contentID, fromID, toID string) (*diff.Diff, error) {
	return e.versions.Diff(contentID, fromID, toID)
}

// FindByTag returns the versions carrying tag
func (e *Engine) FindByTag(contentID, tag string) ([]*graph.Version, error) {
	return e.versions.FindByTag(contentID, tag)
}

// ContentIDs lists every content item
func (e *Engine) ContentIDs() []string {
	return e.graph.ContentIDs()
}

// CreateBranch starts a branch at an existing version
func (e *Engine) CreateBranch(ctx context.Context, req branch.CreateRequest) (b *graph.Branch, err error) {
	defer func(start time.Time) { e.observe("branch_create", req.ContentID, start, err) }(time.Now())
	if err := e.Ready(); err != nil {
		return nil, err
	}
	return e.branches.Create(ctx, req)
}

// GetBranch returns an active branch
func (e *Engine) GetBranch(contentID, name string) (*graph.Branch, error) {
	return e.branches.Get(contentID, name)
}

// GetHead returns the head version of an active branch
func (e *Engine) GetHead(contentID, name string) (*graph.Version, error) {
	return e.branches.GetHead(contentID, name)
}

// ListBranches lists branches in creation order
func (e *Engine) ListBranches(contentID string, includeInactive bool) ([]*graph.Branch, error) {
	return e.branches.List(contentID, includeInactive)
}

// DeactivateBranch marks a branch inactive
func (e *Engine) DeactivateBranch(ctx context.Context, contentID, name string) (err error) {
	defer func(start time.Time) { e.observe("branch_deactivate", contentID, start, err) }(time.Now())
	if err := e.Ready(); err != nil {
		return err
	}
	return e.branches.Deactivate(ctx, contentID, name)
}

// Merge folds one branch into another. Conflicts are a request status.
func (e *Engine) Merge(ctx context.Context, in merge.Input) (req *merge.Request, err error) {
	defer func(start time.Time) { e.observe("merge", in.ContentID, start, err) }(time.Now())
	if err := e.Ready(); err != nil {
		return nil, err
	}

	req, err = e.merges.Merge(ctx, in)
	if req != nil {
		e.metrics.RecordMerge(string(req.Status), len(req.Conflicts))
		if req.Status == merge.StatusSuccess && req.ResultVersionID != req.TargetHeadID {
			e.metrics.VersionsCreatedTotal.Inc()
		}
	}
	return req, err
}

// GetMerge returns a merge request
func (e *Engine) GetMerge(mergeID string) (*merge.Request, bool) {
	return e.merges.Get(mergeID)
}

// ListMerges returns the merge requests of a content item
func (e *Engine) ListMerges(contentID string) []*merge.Request {
	return e.merges.List(contentID)
}

// RequestBackup takes a backup of a version on demand
func (e *Engine) RequestBackup(ctx context.Context, contentID, versionID string, t backup.Type) (rec *backup.Record, err error) {
	defer func(start time.Time) { e.observe("backup", contentID, start, err) }(time.Now())
	if err := e.Ready(); err != nil {
		return nil, err
	}
	if t == "" {
		t = backup.TypeManual
	}
	rec, err = e.backups.Request(ctx, contentID, versionID, t)
	e.metrics.RecordBackup(string(t), err)
	return rec, err
}

// ListBackups returns the backups of a content item
func (e *Engine) ListBackups(contentID string) []*backup.Record {
	return e.backups.List(contentID)
}

// GetBackup returns one backup record
func (e *Engine) GetBackup(backupID string) (*backup.Record, error) {
	return e.backups.Get(backupID)
}

// Restore commits the content referenced by a backup on branch
func (e *Engine) Restore(ctx context.Context, contentID, backupID, authorID, branch string) (res *Result, err error) {
	defer func(start time.Time) { e.observe("restore", contentID, start, err) }(time.Now())
	if err := e.Ready(); err != nil {
		return nil, err
	}

	cr, err := e.backups.Restore(ctx, contentID, backupID, authorID, branch)
	if err != nil {
		return nil, err
	}
	e.recordCommit(cr)
	return resultOf(cr), nil
}

// Sweep removes backups whose retention has passed
func (e *Engine) Sweep(ctx context.Context) (report *backup.SweepReport, err error) {
	defer func(start time.Time) { e.observe("sweep", "", start, err) }(time.Now())
	if err := e.Ready(); err != nil {
		return nil, err
	}

	report, err = e.backups.Sweep(ctx)
	if report != nil {
		e.metrics.RecordSweep(len(report.Removed), len(report.Failed))
	}
	return report, err
}

// Prune applies the retention cap to a content item. Versions referenced by
// a branch head, an open merge or an unexpired backup are kept. A
// maxVersions of zero uses the configured cap.
func (e *Engine) Prune(ctx context.Context, contentID string, maxVersions int) (report *version.PruneReport, err error) {
	defer func(start time.Time) { e.observe("prune", contentID, start, err) }(time.Now())
	if err := e.Ready(); err != nil {
		return nil, err
	}
	if maxVersions <= 0 {
		maxVersions = e.opts.MaxVersions
	}

	protected := func(id string) bool {
		return e.merges.References(id) || e.backups.References(id)
	}
	report, err = e.versions.Prune(ctx, contentID, maxVersions, protected)
	if report != nil {
		e.metrics.VersionsPrunedTotal.Add(float64(len(report.Removed)))
	}
	return report, err
}
