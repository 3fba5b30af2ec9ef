// ABOUTME: Merge request records and conflict descriptions
// ABOUTME: A request moves from requested to exactly one terminal status

package merge

import "time"

// Status of a merge attempt
type Status string

const (
	StatusRequested Status = "requested"
	StatusSuccess   Status = "success"
	StatusConflict  Status = "conflict"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusConflict || s == StatusFailed
}

// Conflict is a shared key whose scalar values cannot be reconciled
type Conflict struct {
	Path        string `json:"path"`
	SourceValue any    `json:"source_value"`
	TargetValue any    `json:"target_value"`
}

// Request is the audit record of one merge attempt
type Request struct {
	ID              string     `json:"merge_id"`
	ContentID       string     `json:"content_id"`
	SourceBranch    string     `json:"source_branch"`
	TargetBranch    string     `json:"target_branch"`
	SourceHeadID    string     `json:"source_head_id,omitempty"`
	TargetHeadID    string     `json:"target_head_id,omitempty"`
	ResultVersionID string     `json:"result_version_id,omitempty"`
	AuthorID        string     `json:"author_id"`
	Message         string     `json:"message,omitempty"`
	Status          Status     `json:"status"`
	Conflicts       []Conflict `json:"conflicts,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	MergedAt        *time.Time `json:"merged_at,omitempty"`
	MergedBy        string     `json:"merged_by,omitempty"`
	Description     string     `json:"description,omitempty"`
}

// Input names the branches to merge. Source changes flow into target.
type Input struct {
	ContentID    string
	SourceBranch string
	TargetBranch string
	AuthorID     string
	Message      string
}

func (r *Request) clone() *Request {
	out := *r
	out.Conflicts = append([]Conflict(nil), r.Conflicts...)
	if r.MergedAt != nil {
		t := *r.MergedAt
		out.MergedAt = &t
	}
	return &out
}
