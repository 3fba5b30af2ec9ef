package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t   *testing.T
	dir string
}

func newCLI(t *testing.T) *cli {
	return &cli{t: t, dir: t.TempDir()}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{
		"--journal", filepath.Join(c.dir, "test.journal"),
		"--backup-dir", filepath.Join(c.dir, "backups"),
		"--log-level", "disabled",
	}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c *cli) mustRun(stdin string, args ...string) string {
	c.t.Helper()
	out, err := c.run(stdin, args...)
	require.NoError(c.t, err, out)
	return out
}

var versionIDPattern = regexp.MustCompile(`Created version \d+ \(([^)]+)\)`)

func versionID(t *testing.T, out string) string {
	t.Helper()
	m := versionIDPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func TestCommitAndLog(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun(`{"title":"A"}`, "init", "nb1", "--type", "notebook", "-m", "first")
	assert.Contains(t, out, "Created version 1")
	assert.Contains(t, out, "(initial)")
	v1 := versionID(t, out)

	out = c.mustRun(`{"title":"A","body":"x"}`, "commit", "nb1", "-m", "add body", "--tag", "draft")
	assert.Contains(t, out, "Created version 2")
	assert.Contains(t, out, "1 added, 0 modified, 0 deleted")
	v2 := versionID(t, out)

	out = c.mustRun(`{"title":"A","body":"x"}`, "commit", "nb1")
	assert.Contains(t, out, "No changes")

	out = c.mustRun("", "log", "nb1")
	assert.Contains(t, out, v1)
	assert.Contains(t, out, v2)
	assert.Less(t, strings.Index(out, v2), strings.Index(out, v1), "newest first")

	out = c.mustRun("", "log", "nb1", "--tag", "draft")
	assert.Contains(t, out, v2)
	assert.NotContains(t, out, v1)

	out = c.mustRun("", "diff", "nb1", v1, v2)
	assert.Contains(t, out, "+ body: x")

	out = c.mustRun("", "show", "nb1", v2)
	assert.Contains(t, out, `"version_number": 2`)
	assert.Contains(t, out, `"body": "x"`)

	_, err := c.run(`{"title":"B"}`, "commit", "nb1", "--expect-head", v1)
	assert.Error(t, err)
}

func TestInitDefaultsToNotebook(t *testing.T) {
	c := newCLI(t)
	v1 := versionID(t, c.mustRun(`{"cells":[]}`, "init", "nb1"))

	out := c.mustRun("", "show", "nb1", v1)
	assert.Contains(t, out, `"content_type": "notebook"`)

	out = c.mustRun("", "init", "--help")
	for _, name := range []string{"notebook", "visualization", "dataset", "script"} {
		assert.Contains(t, out, name)
	}

	out = c.mustRun(`{"x":1}`, "init", "viz1", "--type", "visualization")
	assert.Contains(t, out, "Created version 1")
}

func TestContentFromFile(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(c.dir, "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"heading":"Intro"}`), 0644))

	out := c.mustRun("", "init", "doc1", "--file", path)
	assert.Contains(t, out, "Created version 1")

	_, err := c.run(`[1,2]`, "commit", "doc1")
	assert.Error(t, err)
	_, err = c.run(`{}`, "init", "doc2", "--type", "spreadsheet")
	assert.Error(t, err)
}

func TestBranchAndMerge(t *testing.T) {
	c := newCLI(t)
	v1 := versionID(t, c.mustRun(`{"title":"A"}`, "init", "nb1", "--type", "notebook"))
	c.mustRun(`{"title":"A","body":"x"}`, "commit", "nb1")

	out := c.mustRun("", "branch", "create", "nb1", "feat", "--from", v1)
	assert.Contains(t, out, "Created branch feat")
	c.mustRun(`{"title":"A","notes":"y"}`, "commit", "nb1", "--branch", "feat")

	out = c.mustRun("", "branch", "list", "nb1")
	assert.Contains(t, out, "main")
	assert.Contains(t, out, "feat")

	out = c.mustRun("", "merge", "nb1", "feat", "main")
	assert.Contains(t, out, ": success")

	out = c.mustRun("", "log", "nb1")
	assert.Contains(t, out, "Merge feat into main")

	out = c.mustRun("", "merges", "nb1")
	assert.Contains(t, out, "feat -> main")

	c.mustRun("", "branch", "delete", "nb1", "feat")
	out = c.mustRun("", "branch", "list", "nb1")
	assert.NotContains(t, out, "feat")
	out = c.mustRun("", "branch", "list", "nb1", "--all")
	assert.Contains(t, out, "inactive")
}

func TestMergeConflictFails(t *testing.T) {
	c := newCLI(t)
	v1 := versionID(t, c.mustRun(`{"title":"A"}`, "init", "nb1"))
	c.mustRun(`{"title":"Red"}`, "commit", "nb1")
	c.mustRun("", "branch", "create", "nb1", "feat", "--from", v1)
	c.mustRun(`{"title":"Blue"}`, "commit", "nb1", "-b", "feat")

	out, err := c.run("", "merge", "nb1", "feat", "main")
	require.Error(t, err)
	assert.Contains(t, out, "conflict title: source=Blue target=Red")
}

func TestBackupRestoreAndPrune(t *testing.T) {
	c := newCLI(t)
	c.mustRun(`{"t":"one"}`, "init", "doc")
	c.mustRun(`{"t":"two"}`, "commit", "doc")

	out := c.mustRun("", "backup", "create", "doc")
	assert.Contains(t, out, "Created backup")

	out = c.mustRun("", "backup", "list", "doc")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "initial")
	initialID := strings.Fields(lines[0])[0]

	out = c.mustRun("", "backup", "restore", "doc", initialID)
	assert.Contains(t, out, "Created version 3")

	out = c.mustRun("", "sweep")
	assert.Contains(t, out, "Examined 2 backups: 0 expired")

	for _, n := range []string{"three", "four", "five"} {
		c.mustRun(`{"t":"`+n+`"}`, "commit", "doc")
	}
	out = c.mustRun("", "prune", "doc", "--max-versions", "2")
	assert.Contains(t, out, "referenced")

	_, err := c.run("", "backup", "create", "doc", "--type", "weekly")
	assert.Error(t, err)
}
