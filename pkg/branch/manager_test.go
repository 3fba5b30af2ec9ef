package branch

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/contentvcs/pkg/content"
	"github.com/nainya/contentvcs/pkg/graph"
	"github.com/nainya/contentvcs/pkg/version"
)

type fixture struct {
	versions *version.Store
	branches *Manager
	root     *graph.Version
}

func setup(t *testing.T) *fixture {
	t.Helper()
	g := graph.NewStore(nil)
	locks := graph.NewKeyedMutex()
	f := &fixture{
		versions: version.NewStore(g, locks, zerolog.Nop()),
		branches: NewManager(g, locks, zerolog.Nop()),
	}
	root, err := f.versions.Init(context.Background(), version.InitRequest{
		ContentID:   "doc1",
		ContentType: content.TypeScript,
		Data:        content.MustFromMap(map[string]any{"src": "print(1)"}),
		AuthorID:    "alice",
	})
	require.NoError(t, err)
	f.root = root
	return f
}

func TestCreateBranch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	b, err := f.branches.Create(ctx, CreateRequest{ContentID: "doc1", Name: "feat", FromVersionID: f.root.ID, AuthorID: "bob", Description: "experiment"})
	require.NoError(t, err)
	assert.True(t, b.Active)
	assert.Equal(t, f.root.ID, b.HeadVersionID)
	assert.Equal(t, f.root.ID, b.CreatedFrom)

	head, err := f.branches.GetHead("doc1", "feat")
	require.NoError(t, err)
	assert.Equal(t, f.root.ID, head.ID)

	_, err = f.branches.Create(ctx, CreateRequest{ContentID: "doc1", Name: "feat", FromVersionID: f.root.ID})
	assert.ErrorIs(t, err, graph.ErrDuplicateBranch)

	_, err = f.branches.Create(ctx, CreateRequest{ContentID: "doc1", Name: "other", FromVersionID: "missing"})
	assert.ErrorIs(t, err, graph.ErrVersionNotFound)

	_, err = f.branches.Create(ctx, CreateRequest{ContentID: "nope", Name: "x", FromVersionID: f.root.ID})
	assert.ErrorIs(t, err, graph.ErrUnknownContent)

	_, err = f.branches.Create(ctx, CreateRequest{ContentID: "doc1", Name: "  ", FromVersionID: f.root.ID})
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestCreateRejectsVersionOfOtherContent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	other, err := f.versions.Init(ctx, version.InitRequest{ContentID: "doc2", ContentType: content.TypeDataset})
	require.NoError(t, err)

	_, err = f.branches.Create(ctx, CreateRequest{ContentID: "doc1", Name: "x", FromVersionID: other.ID})
	assert.ErrorIs(t, err, graph.ErrVersionNotFound)
}

func TestBranchesAdvanceIndependently(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.branches.Create(ctx, CreateRequest{ContentID: "doc1", Name: "feat", FromVersionID: f.root.ID})
	require.NoError(t, err)

	res, err := f.versions.Commit(ctx, version.CommitRequest{
		ContentID: "doc1", Branch: "feat", Data: content.MustFromMap(map[string]any{"src": "print(2)"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version.Number)

	mainHead, err := f.branches.GetHead("doc1", graph.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, f.root.ID, mainHead.ID)

	featHead, err := f.branches.GetHead("doc1", "feat")
	require.NoError(t, err)
	assert.Equal(t, res.Version.ID, featHead.ID)
}

func TestDeactivate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.branches.Create(ctx, CreateRequest{ContentID: "doc1", Name: "feat", FromVersionID: f.root.ID})
	require.NoError(t, err)

	require.NoError(t, f.branches.Deactivate(ctx, "doc1", "feat"))
	assert.ErrorIs(t, f.branches.Deactivate(ctx, "doc1", "feat"), graph.ErrUnknownBranch)

	_, err = f.branches.Get("doc1", "feat")
	assert.ErrorIs(t, err, graph.ErrUnknownBranch)
	_, err = f.versions.Commit(ctx, version.CommitRequest{ContentID: "doc1", Branch: "feat", Data: content.NewMap()})
	assert.ErrorIs(t, err, graph.ErrUnknownBranch)

	active, err := f.branches.List("doc1", false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, graph.DefaultBranch, active[0].Name)

	all, err := f.branches.List("doc1", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// The name is free again
	again, err := f.branches.Create(ctx, CreateRequest{ContentID: "doc1", Name: "feat", FromVersionID: f.root.ID})
	require.NoError(t, err)
	assert.True(t, again.Active)

	all, err = f.branches.List("doc1", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeactivateMain(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.branches.Deactivate(context.Background(), "doc1", graph.DefaultBranch))

	_, err := f.branches.GetHead("doc1", graph.DefaultBranch)
	assert.ErrorIs(t, err, graph.ErrUnknownBranch)
}
