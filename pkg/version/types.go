// ABOUTME: Version store request and result types
// ABOUTME: Commit results carry the diff so callers can decide on backups

package version

import (
	"sort"
	"strings"

	"github.com/nainya/contentvcs/pkg/content"
	"github.com/nainya/contentvcs/pkg/diff"
	"github.com/nainya/contentvcs/pkg/graph"
)

// DefaultMaxVersions is the retention cap used when Prune gets no limit
const DefaultMaxVersions = 100

// InitRequest creates the first version of a content item
type InitRequest struct {
	ContentID   string
	ContentType content.ContentType
	Data        *content.Map
	AuthorID    string
	Message     string
	Tags        []string
}

// CommitRequest records new content on a branch
type CommitRequest struct {
	ContentID string
	Branch    string // defaults to main
	Data      *content.Map
	AuthorID  string
	Message   string

	// ExpectedHeadID, when set, must match the branch head or the commit
	// fails with graph.ErrConcurrentModification
	ExpectedHeadID string

	Tags []string
}

// RevertRequest re-commits the content of an older version
type RevertRequest struct {
	ContentID       string
	Branch          string
	TargetVersionID string
	AuthorID        string
	Message         string
	ExpectedHeadID  string

	// BeforeCommit, when set, sees the head being replaced while the
	// content item is still locked
	BeforeCommit func(head *graph.Version)
}

// CommitResult describes the outcome of a commit, revert or restore
type CommitResult struct {
	Version  *graph.Version // new head, or the unchanged head for a no-op
	Previous *graph.Version // head before the call
	Diff     *diff.Diff     // changes from Previous to Version
	Changed  bool
}

// PruneReport lists what a prune pass did
type PruneReport struct {
	ContentID string
	Removed   []string
	Retained  []string // over the cap but still referenced
	Remaining int
}

// Draft is a version about to be staged on a branch. Extra parents follow
// the branch head in the parent list.
type Draft struct {
	Branch       string
	Data         *content.Map
	AuthorID     string
	Message      string
	ExtraParents []string
	Tags         []string
	Metadata     graph.VersionMetadata

	// BeforeCommit runs under the content lock once the head is resolved,
	// before the no-op check
	BeforeCommit func(head *graph.Version)
}

// NormalizeTags trims, drops empties, dedupes and sorts
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func branchName(name string) string {
	if name == "" {
		return graph.DefaultBranch
	}
	return name
}
