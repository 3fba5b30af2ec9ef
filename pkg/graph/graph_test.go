package graph

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/contentvcs/pkg/content"
	"github.com/nainya/contentvcs/pkg/journal"
)

func testVersion(contentID, id string, number int, parents ...string) *Version {
	return &Version{
		ID:          id,
		ContentID:   contentID,
		ContentType: content.TypeNotebook,
		Number:      number,
		Data:        content.MustFromMap(map[string]any{"n": number}),
		CreatedAt:   time.Unix(int64(number), 0).UTC(),
		Parents:     parents,
	}
}

func testBranch(contentID, name, head string) *Branch {
	return &Branch{ID: NewID(), ContentID: contentID, Name: name, HeadVersionID: head, CreatedFrom: head, Active: true}
}

func seed(t *testing.T, s *Store, contentID string) {
	t.Helper()
	tx := s.Begin(contentID)
	require.NoError(t, tx.Initialize(content.TypeNotebook))
	require.NoError(t, tx.PutVersion(testVersion(contentID, "v1", 1)))
	require.NoError(t, tx.PutBranch(testBranch(contentID, DefaultBranch, "v1")))
	require.NoError(t, tx.Commit())
}

func TestTxnPublishesAtomically(t *testing.T) {
	s := NewStore(nil)
	seed(t, s, "doc")

	before, ok := s.Snapshot("doc")
	require.True(t, ok)

	tx := s.Begin("doc")
	require.NoError(t, tx.PutVersion(testVersion("doc", "v2", 2, "v1")))
	main, _ := tx.View().Branch(DefaultBranch)
	require.NoError(t, tx.PutBranch(main.WithHead("v2")))

	// Readers see nothing staged
	current, _ := s.Snapshot("doc")
	assert.Same(t, before, current)
	_, found := s.Locate("v2")
	assert.False(t, found)

	require.NoError(t, tx.Commit())

	after, _ := s.Snapshot("doc")
	assert.Equal(t, 2, after.Len())
	head, _ := after.ActiveBranch(DefaultBranch)
	assert.Equal(t, "v2", head.HeadVersionID)
	v, found := s.Locate("v2")
	require.True(t, found)
	assert.Equal(t, 2, v.Number)

	// The earlier snapshot is untouched
	assert.Equal(t, 1, before.Len())
	oldHead, _ := before.Branch(DefaultBranch)
	assert.Equal(t, "v1", oldHead.HeadVersionID)
}

func TestStoredVersionsCannotBeChangedByCallers(t *testing.T) {
	s := NewStore(nil)

	v := testVersion("doc", "v1", 1)
	v.Tags = []string{"stable"}
	tx := s.Begin("doc")
	require.NoError(t, tx.Initialize(content.TypeNotebook))
	require.NoError(t, tx.PutVersion(v))
	require.NoError(t, tx.PutBranch(testBranch("doc", DefaultBranch, "v1")))
	require.NoError(t, tx.Commit())

	// The value handed to the transaction is not the stored one
	require.NoError(t, v.Data.Set("n", "changed"))
	v.Tags[0] = "changed"

	got, ok := s.Locate("v1")
	require.True(t, ok)
	n, _ := got.Data.Get("n")
	assert.Equal(t, float64(1), n)
	assert.Equal(t, []string{"stable"}, got.Tags)

	// Nor are values handed out by accessors
	require.NoError(t, got.Data.Set("n", "changed"))
	got.Parents = append(got.Parents, "bogus")
	snap, _ := s.Snapshot("doc")
	for _, listed := range snap.Versions() {
		require.NoError(t, listed.Data.Set("extra", true))
	}
	b, _ := snap.Branch(DefaultBranch)
	b.HeadVersionID = "bogus"

	again, ok := snap.Version("v1")
	require.True(t, ok)
	n, _ = again.Data.Get("n")
	assert.Equal(t, float64(1), n)
	assert.False(t, again.Data.Has("extra"))
	assert.Empty(t, again.Parents)
	main, _ := snap.Branch(DefaultBranch)
	assert.Equal(t, "v1", main.HeadVersionID)
	assert.Len(t, snap.FindByTag("stable"), 1)
}

func TestTxnAbortDiscards(t *testing.T) {
	s := NewStore(nil)
	seed(t, s, "doc")

	tx := s.Begin("doc")
	require.NoError(t, tx.PutVersion(testVersion("doc", "v2", 2, "v1")))
	tx.Abort()

	snap, _ := s.Snapshot("doc")
	assert.Equal(t, 1, snap.Len())
	assert.Error(t, tx.Commit())
}

func TestTxnValidation(t *testing.T) {
	s := NewStore(nil)

	tx := s.Begin("doc")
	err := tx.PutVersion(testVersion("doc", "v1", 1))
	assert.ErrorIs(t, err, ErrUnknownContent)

	seed(t, s, "doc")
	tx = s.Begin("doc")
	assert.ErrorIs(t, tx.Initialize(content.TypeScript), ErrAlreadyInitialized)
	assert.ErrorIs(t, tx.PutVersion(testVersion("other", "x", 1)), ErrInvalidArgument)
	assert.ErrorIs(t, tx.PutBranch(testBranch("doc", "feature", "missing")), ErrVersionNotFound)
	assert.ErrorIs(t, tx.PutBranch(testBranch("doc", DefaultBranch, "v1")), ErrDuplicateBranch)
	tx.Abort()
}

func TestRetiredBranchKeepsHeadReferenced(t *testing.T) {
	s := NewStore(nil)
	seed(t, s, "doc")

	tx := s.Begin("doc")
	require.NoError(t, tx.PutVersion(testVersion("doc", "v2", 2, "v1")))
	feature := testBranch("doc", "feature", "v2")
	require.NoError(t, tx.PutBranch(feature))
	require.NoError(t, tx.Commit())

	tx = s.Begin("doc")
	require.NoError(t, tx.PutBranch(feature.Deactivated()))
	require.NoError(t, tx.PutBranch(testBranch("doc", "feature", "v1")))
	require.NoError(t, tx.Commit())

	snap, _ := s.Snapshot("doc")
	assert.True(t, snap.IsBranchHead("v2"))
	assert.Len(t, snap.Branches(false), 2)
	assert.Len(t, snap.Branches(true), 3)
}

func TestRemoveVersion(t *testing.T) {
	s := NewStore(nil)
	seed(t, s, "doc")

	tx := s.Begin("doc")
	require.NoError(t, tx.PutVersion(testVersion("doc", "v2", 2, "v1")))
	main, _ := tx.View().Branch(DefaultBranch)
	require.NoError(t, tx.PutBranch(main.WithHead("v2")))
	require.NoError(t, tx.Commit())

	tx = s.Begin("doc")
	require.NoError(t, tx.RemoveVersion("v1"))
	assert.ErrorIs(t, tx.RemoveVersion("v1"), ErrVersionNotFound)
	require.NoError(t, tx.Commit())

	_, found := s.Locate("v1")
	assert.False(t, found)
	snap, _ := s.Snapshot("doc")
	assert.Equal(t, 1, snap.Len())
}

func TestJournalReplayRebuildsStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.journal")
	j := &journal.Journal{Path: path}
	require.NoError(t, j.Open())

	s := NewStore(j)
	seed(t, s, "doc")

	tx := s.Begin("doc")
	v2 := testVersion("doc", "v2", 2, "v1")
	v2.Tags = []string{"release"}
	require.NoError(t, tx.PutVersion(v2))
	main, _ := tx.View().Branch(DefaultBranch)
	require.NoError(t, tx.PutBranch(main.WithHead("v2")))
	require.NoError(t, tx.Commit())

	tx = s.Begin("doc")
	require.NoError(t, tx.RemoveVersion("v1"))
	require.NoError(t, tx.Commit())
	require.NoError(t, j.Close())

	replayed := NewStore(nil)
	_, err := j.Replay(replayed.Apply)
	require.NoError(t, err)

	snap, ok := replayed.Snapshot("doc")
	require.True(t, ok)
	assert.Equal(t, content.TypeNotebook, snap.ContentType())
	assert.Equal(t, 1, snap.Len())
	head, ok := snap.ActiveBranch(DefaultBranch)
	require.True(t, ok)
	assert.Equal(t, "v2", head.HeadVersionID)

	v, ok := replayed.Locate("v2")
	require.True(t, ok)
	assert.True(t, v.Data.Equal(v2.Data))
	assert.Equal(t, []string{"v1"}, v.Parents)
	assert.Len(t, snap.FindByTag("release"), 1)
	assert.Equal(t, []string{"doc"}, replayed.ContentIDs())
}

type failingAppender struct{}

func (failingAppender) Append(...journal.Record) error { return errors.New("disk full") }

func TestCommitFailureLeavesStateUnchanged(t *testing.T) {
	s := NewStore(failingAppender{})
	tx := s.Begin("doc")
	require.NoError(t, tx.Initialize(content.TypeDataset))
	require.NoError(t, tx.PutVersion(testVersion("doc", "v1", 1)))

	require.Error(t, tx.Commit())
	_, ok := s.Snapshot("doc")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	var mu sync.Mutex
	active, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, "doc")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak)
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	km := NewKeyedMutex()
	unlock, err := km.Lock(context.Background(), "doc")
	require.NoError(t, err)

	// A different key is not blocked
	other, err := km.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "doc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, km.Len())
}
