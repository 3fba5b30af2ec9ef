package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/contentvcs/internal/config"
	"github.com/nainya/contentvcs/pkg/backup"
	"github.com/nainya/contentvcs/pkg/branch"
	"github.com/nainya/contentvcs/pkg/content"
	"github.com/nainya/contentvcs/pkg/merge"
	"github.com/nainya/contentvcs/pkg/version"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testOptions(clock *testClock) Options {
	return Options{
		Clock: clock.Now,
		Backup: backup.Options{
			Retention: time.Hour,
			Timeout:   time.Second,
			Retry:     backup.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	e := New(testOptions(clock))
	t.Cleanup(func() { e.Close() })
	return e, clock
}

func data(m map[string]any) *content.Map {
	return content.MustFromMap(m)
}

type failingBlobs struct{}

func (failingBlobs) Put(context.Context, []byte) (string, error) {
	return "", errors.New("disk full")
}
func (failingBlobs) Get(context.Context, string) ([]byte, error) {
	return nil, backup.ErrBlobNotFound
}
func (failingBlobs) Delete(context.Context, string) error { return nil }

// gatedBlobs stalls the first Put after arm until release is closed
type gatedBlobs struct {
	*backup.MemoryBlobStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedBlobs() *gatedBlobs {
	return &gatedBlobs{
		MemoryBlobStore: backup.NewMemoryBlobStore(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
}

func (g *gatedBlobs) arm() { g.armed.Store(true) }

func (g *gatedBlobs) Put(ctx context.Context, data []byte) (string, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.MemoryBlobStore.Put(ctx, data)
}

func counter(t *testing.T, e *Engine, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := e.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestNotebookLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Init(ctx, version.InitRequest{
		ContentID: "nb1", ContentType: content.TypeNotebook,
		Data: data(map[string]any{"title": "A"}), AuthorID: "alice", Message: "init",
	})
	require.NoError(t, err)
	require.NoError(t, res.BackupErr)
	require.NotNil(t, res.Backup)
	assert.Equal(t, backup.TypeInitial, res.Backup.Type)
	v1 := res.Version

	res, err = e.Commit(ctx, version.CommitRequest{
		ContentID: "nb1", Data: data(map[string]any{"title": "A", "body": "x"}), AuthorID: "alice",
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Nil(t, res.Backup, "small changes take no backup")

	_, err = e.CreateBranch(ctx, branch.CreateRequest{ContentID: "nb1", Name: "feat", FromVersionID: v1.ID})
	require.NoError(t, err)
	_, err = e.Commit(ctx, version.CommitRequest{
		ContentID: "nb1", Branch: "feat", Data: data(map[string]any{"title": "A", "notes": "y"}),
	})
	require.NoError(t, err)

	req, err := e.Merge(ctx, merge.Input{ContentID: "nb1", SourceBranch: "feat", TargetBranch: "main", AuthorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, merge.StatusSuccess, req.Status)

	head, err := e.GetHead("nb1", "main")
	require.NoError(t, err)
	assert.Equal(t, req.ResultVersionID, head.ID)
	assert.Equal(t, 3, head.Number)
	assert.True(t, head.Data.Equal(data(map[string]any{"title": "A", "body": "x", "notes": "y"})))

	lineage, err := e.History(ctx, "nb1", "main")
	require.NoError(t, err)
	assert.Len(t, lineage, 3)

	branches, err := e.ListBranches("nb1", false)
	require.NoError(t, err)
	assert.Len(t, branches, 2)
	assert.Len(t, e.ListMerges("nb1"), 1)

	assert.Equal(t, float64(1), counter(t, e, "contentvcs_merges_total", map[string]string{"status": "success"}))
	assert.Equal(t, float64(4), counter(t, e, "contentvcs_versions_created_total", nil))
	assert.Equal(t, float64(1), counter(t, e, "contentvcs_content_items", nil))
}

func TestSignificantChangeTakesBackup(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, version.InitRequest{ContentID: "ds", ContentType: content.TypeDataset, Data: data(map[string]any{"a": 1})})
	require.NoError(t, err)

	big := map[string]any{}
	for i := 0; i < 11; i++ {
		big[fmt.Sprintf("col%02d", i)] = i
	}
	res, err := e.Commit(ctx, version.CommitRequest{ContentID: "ds", Data: data(big)})
	require.NoError(t, err)
	require.NotNil(t, res.Backup)
	assert.Greater(t, res.Diff.Total(), DefaultSignificantChangeThreshold)
	assert.Equal(t, backup.TypeSignificantChanges, res.Backup.Type)
	assert.Equal(t, res.Version.ID, res.Backup.VersionSnapshot)

	// Exactly at the threshold does not trigger
	ten := map[string]any{}
	for i := 0; i < 10; i++ {
		ten[fmt.Sprintf("other%02d", i)] = i
	}
	base := data(big)
	for k, v := range ten {
		require.NoError(t, base.Set(k, v))
	}
	res, err = e.Commit(ctx, version.CommitRequest{ContentID: "ds", Data: base})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Diff.Total())
	assert.Nil(t, res.Backup)

	assert.Len(t, e.ListBackups("ds"), 2)
}

func TestBackupFailureKeepsCommit(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	opts := testOptions(clock)
	opts.Blobs = failingBlobs{}
	e := New(opts)
	defer e.Close()

	res, err := e.Init(context.Background(), version.InitRequest{
		ContentID: "doc", ContentType: content.TypeScript, Data: data(map[string]any{"t": "x"}),
	})
	require.NoError(t, err)
	require.Error(t, res.BackupErr)
	assert.ErrorIs(t, res.BackupErr, backup.ErrStorageBackend)
	assert.Nil(t, res.Backup)

	head, err := e.GetHead("doc", "main")
	require.NoError(t, err)
	assert.Equal(t, res.Version.ID, head.ID)
	assert.Equal(t, float64(1), counter(t, e, "contentvcs_backups_total", map[string]string{"status": "error"}))
}

func TestRevertTakesPreRevertBackup(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Init(ctx, version.InitRequest{ContentID: "doc", ContentType: content.TypeScript, Data: data(map[string]any{"t": "one"})})
	require.NoError(t, err)
	v1 := res.Version
	res, err = e.Commit(ctx, version.CommitRequest{ContentID: "doc", Data: data(map[string]any{"t": "two"})})
	require.NoError(t, err)
	v2 := res.Version

	res, err = e.Revert(ctx, version.RevertRequest{ContentID: "doc", TargetVersionID: v1.ID, AuthorID: "carol"})
	require.NoError(t, err)
	require.NotNil(t, res.Backup)
	assert.Equal(t, backup.TypePreRevert, res.Backup.Type)
	assert.Equal(t, v2.ID, res.Backup.VersionSnapshot)
	assert.Equal(t, 3, res.Version.Number)
	assert.True(t, res.Version.Data.Equal(v1.Data))

	_, err = e.Revert(ctx, version.RevertRequest{ContentID: "doc", TargetVersionID: "missing"})
	assert.Error(t, err)
	assert.Len(t, e.ListBackups("doc"), 2, "a bad revert takes no backup")
}

func TestPreRevertBackupCoversReplacedHead(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	blobs := newGatedBlobs()
	opts := testOptions(clock)
	opts.Blobs = blobs
	opts.Backup.Timeout = 10 * time.Second
	e := New(opts)
	defer e.Close()
	ctx := context.Background()

	res, err := e.Init(ctx, version.InitRequest{ContentID: "doc", ContentType: content.TypeScript, Data: data(map[string]any{"t": "one"})})
	require.NoError(t, err)
	v1 := res.Version
	res, err = e.Commit(ctx, version.CommitRequest{ContentID: "doc", Data: data(map[string]any{"t": "two"})})
	require.NoError(t, err)
	v2 := res.Version

	blobs.arm()
	reverted := make(chan *Result, 1)
	go func() {
		r, err := e.Revert(ctx, version.RevertRequest{ContentID: "doc", TargetVersionID: v1.ID})
		if err != nil {
			t.Error(err)
		}
		reverted <- r
	}()
	<-blobs.entered

	committed := make(chan *Result, 1)
	go func() {
		r, err := e.Commit(ctx, version.CommitRequest{ContentID: "doc", Data: data(map[string]any{"t": "three"})})
		if err != nil {
			t.Error(err)
		}
		committed <- r
	}()

	select {
	case <-committed:
		t.Fatal("commit landed while the revert's backup was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(blobs.release)

	rev := <-reverted
	require.NotNil(t, rev)
	require.NotNil(t, rev.Backup)
	assert.Equal(t, v2.ID, rev.Previous.ID)
	assert.Equal(t, rev.Previous.ID, rev.Backup.VersionSnapshot)

	late := <-committed
	require.NotNil(t, late)
	assert.Equal(t, rev.Version.ID, late.Previous.ID)
	assert.Equal(t, 4, late.Version.Number)
}

func TestReturnedVersionsAreCopies(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Init(ctx, version.InitRequest{ContentID: "nb", ContentType: content.TypeNotebook, Data: data(map[string]any{"title": "A"})})
	require.NoError(t, err)
	id := res.Version.ID

	got, err := e.Get("nb", id)
	require.NoError(t, err)
	require.NoError(t, got.Data.Set("title", "HACKED"))
	require.NoError(t, res.Version.Data.Set("title", "HACKED"))
	history, err := e.History(ctx, "nb", "main")
	require.NoError(t, err)
	require.NoError(t, history[0].Data.Set("title", "HACKED"))
	head, err := e.GetHead("nb", "main")
	require.NoError(t, err)
	require.NoError(t, head.Data.Set("title", "HACKED"))

	again, err := e.Get("nb", id)
	require.NoError(t, err)
	title, _ := again.Data.Get("title")
	assert.Equal(t, "A", title)
	sum, err := content.Checksum(again.Data)
	require.NoError(t, err)
	assert.Equal(t, again.Metadata.Checksum, sum)

	history, err = e.History(ctx, "nb", "main")
	require.NoError(t, err)
	title, _ = history[0].Data.Get("title")
	assert.Equal(t, "A", title)
}

func TestRestoreFromBackup(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Init(ctx, version.InitRequest{ContentID: "doc", ContentType: content.TypeScript, Data: data(map[string]any{"t": "one"})})
	require.NoError(t, err)
	initial := res.Backup
	_, err = e.Commit(ctx, version.CommitRequest{ContentID: "doc", Data: data(map[string]any{"t": "two"})})
	require.NoError(t, err)

	res, err = e.Restore(ctx, "doc", initial.ID, "dave", "")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Version.Data.Equal(data(map[string]any{"t": "one"})))

	got, err := e.GetBackup(initial.ID)
	require.NoError(t, err)
	assert.Equal(t, initial.ID, got.ID)

	manual, err := e.RequestBackup(ctx, "doc", res.Version.ID, "")
	require.NoError(t, err)
	assert.Equal(t, backup.TypeManual, manual.Type)
}

func TestPruneKeepsBackedUpVersions(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Init(ctx, version.InitRequest{ContentID: "doc", ContentType: content.TypeScript, Data: data(map[string]any{"n": 0})})
	require.NoError(t, err)
	v1 := res.Version
	for i := 1; i <= 5; i++ {
		_, err := e.Commit(ctx, version.CommitRequest{ContentID: "doc", Data: data(map[string]any{"n": i})})
		require.NoError(t, err)
	}

	report, err := e.Prune(ctx, "doc", 2)
	require.NoError(t, err)
	assert.Contains(t, report.Retained, v1.ID)
	_, err = e.Get("doc", v1.ID)
	assert.NoError(t, err)

	// Once the initial backup expires and is swept, v1 may go
	clock.Advance(2 * time.Hour)
	sweep, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, sweep.Removed, 1)

	_, err = e.Prune(ctx, "doc", 2)
	require.NoError(t, err)
	_, err = e.Get("doc", v1.ID)
	assert.Error(t, err)

	all, err := e.History(ctx, "doc", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	blobs := backup.NewMemoryBlobStore()
	opts := testOptions(clock)
	opts.JournalPath = filepath.Join(dir, "contentvcs.journal")
	opts.Blobs = blobs

	ctx := context.Background()
	e, err := Open(ctx, opts)
	require.NoError(t, err)

	res, err := e.Init(ctx, version.InitRequest{ContentID: "doc", ContentType: content.TypeScript, Data: data(map[string]any{"t": "base"})})
	require.NoError(t, err)
	_, err = e.CreateBranch(ctx, branch.CreateRequest{ContentID: "doc", Name: "draft", FromVersionID: res.Version.ID})
	require.NoError(t, err)
	_, err = e.Commit(ctx, version.CommitRequest{ContentID: "doc", Branch: "draft", Data: data(map[string]any{"t": "base", "extra": 1})})
	require.NoError(t, err)
	req, err := e.Merge(ctx, merge.Input{ContentID: "doc", SourceBranch: "draft", TargetBranch: "main"})
	require.NoError(t, err)
	require.NoError(t, e.DeactivateBranch(ctx, "doc", "draft"))
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Ready(), ErrClosed)
	_, err = e.Commit(ctx, version.CommitRequest{ContentID: "doc", Data: data(map[string]any{})})
	assert.ErrorIs(t, err, ErrClosed)

	opts.Registry = prometheus.NewRegistry()
	reopened, err := Open(ctx, opts)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []string{"doc"}, reopened.ContentIDs())
	head, err := reopened.GetHead("doc", "main")
	require.NoError(t, err)
	assert.Equal(t, req.ResultVersionID, head.ID)

	_, err = reopened.GetBranch("doc", "draft")
	assert.Error(t, err)
	all, err := reopened.ListBranches("doc", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stored, ok := reopened.GetMerge(req.ID)
	require.True(t, ok)
	assert.Equal(t, merge.StatusSuccess, stored.Status)
	assert.Len(t, reopened.ListBackups("doc"), 1)
}

func TestConcurrentContentItems(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	const items, commits = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, items*commits)
	for i := 0; i < items; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("item-%d", i)
			if _, err := e.Init(ctx, version.InitRequest{ContentID: id, ContentType: content.TypeDataset, Data: data(map[string]any{"n": 0})}); err != nil {
				errs <- err
				return
			}
			for n := 1; n <= commits; n++ {
				if _, err := e.Commit(ctx, version.CommitRequest{ContentID: id, Data: data(map[string]any{"n": n})}); err != nil {
					errs <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Len(t, e.ContentIDs(), items)
	for _, id := range e.ContentIDs() {
		head, err := e.GetHead(id, "main")
		require.NoError(t, err)
		assert.Equal(t, commits+1, head.Number)
	}
}

func TestFromConfig(t *testing.T) {
	v := config.New()
	cfg := config.FromViper(v)

	opts, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &backup.MemoryBlobStore{}, opts.Blobs)
	assert.Equal(t, cfg.Engine.MaxVersions, opts.MaxVersions)

	cfg.Backup.Backend = config.BackendSQLite
	cfg.Backup.SQLitePath = filepath.Join(t.TempDir(), "blobs.db")
	opts, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.True(t, opts.CloseBlobs)
	e := New(opts)
	require.NoError(t, e.Close())

	cfg.Backup.Backend = "tape"
	_, err = FromConfig(cfg, nil)
	assert.Error(t, err)
}
