// ABOUTME: Version graph data model
// ABOUTME: Immutable versions and mutable named branch pointers

package graph

import (
	"time"

	"github.com/google/uuid"

	"github.com/nainya/contentvcs/pkg/content"
)

// DefaultBranch is created implicitly by the first commit to a content item
const DefaultBranch = "main"

// VersionMetadata is computed once when the version is created
type VersionMetadata struct {
	SizeBytes          int    `json:"size_bytes"`
	Checksum           string `json:"checksum"`
	ChangeCount        int    `json:"change_count"` // changes relative to the first parent
	RevertedFrom       string `json:"reverted_from,omitempty"`
	RestoredFromBackup string `json:"restored_from_backup,omitempty"`
	MergeID            string `json:"merge_id,omitempty"`
}

// Version is an immutable node of the graph. Nothing mutates a Version after
// it has been handed to a transaction.
type Version struct {
	ID          string              `json:"version_id"`
	ContentID   string              `json:"content_id"`
	ContentType content.ContentType `json:"content_type"`
	Number      int                 `json:"version_number"`
	CommitHash  string              `json:"commit_hash"`
	Data        *content.Map        `json:"content_data"`
	Metadata    VersionMetadata     `json:"metadata"`
	AuthorID    string              `json:"author_id"`
	Message     string              `json:"commit_message"`
	CreatedAt   time.Time           `json:"created_at"`

	// Parents is empty for the root, [head] for a commit and
	// [targetHead, sourceHead] for a merge, so Parents[0] always follows
	// the branch the version was committed on.
	Parents []string `json:"parent_version_ids"`
	Tags        []string            `json:"tags,omitempty"`
}

// FirstParent returns the parent on the version's own lineage, or "" for a root
func (v *Version) FirstParent() string {
	if len(v.Parents) == 0 {
		return ""
	}
	return v.Parents[0]
}

// IsMerge reports whether the version has two parents
func (v *Version) IsMerge() bool {
	return len(v.Parents) == 2
}

// Clone returns a deep copy that shares nothing with v
func (v *Version) Clone() *Version {
	out := *v
	if v.Data != nil {
		out.Data = v.Data.Clone()
	}
	out.Parents = append([]string(nil), v.Parents...)
	out.Tags = append([]string(nil), v.Tags...)
	return &out
}

// Content returns a private copy of the version's content
func (v *Version) Content() *content.Map {
	return v.Data.Clone()
}

// HasTag reports whether tag is set on the version
func (v *Version) HasTag(tag string) bool {
	for _, t := range v.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Branch is a named pointer to a head version
type Branch struct {
	ID            string    `json:"branch_id"`
	ContentID     string    `json:"content_id"`
	Name          string    `json:"name"`
	HeadVersionID string    `json:"head_version_id"`
	CreatedFrom   string    `json:"created_from"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	Active        bool      `json:"active"`
	Description   string    `json:"description,omitempty"`
}

// Clone returns a copy of b
func (b Branch) Clone() *Branch {
	return &b
}

// WithHead returns a copy of b pointing at versionID
func (b Branch) WithHead(versionID string) *Branch {
	b.HeadVersionID = versionID
	return &b
}

// Deactivated returns an inactive copy of b
func (b Branch) Deactivated() *Branch {
	b.Active = false
	return &b
}

// NewID returns a fresh opaque identifier
func NewID() string {
	return uuid.NewString()
}
