// ABOUTME: Structural diff data model
// ABOUTME: Key-level changes between two content snapshots plus summary counts

package diff

// ChangeType classifies a key-level change
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Change is one top-level key that differs between two snapshots
type Change struct {
	Type     ChangeType `json:"type"`
	Path     string     `json:"path"`
	OldValue any        `json:"old_value,omitempty"`
	NewValue any        `json:"new_value,omitempty"`
}

// Summary counts changes per type
type Summary struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
}

// Total returns the number of changed keys
func (s Summary) Total() int {
	return s.Added + s.Modified + s.Deleted
}

// Diff is derived on demand and never persisted
type Diff struct {
	FromVersion string   `json:"from_version,omitempty"`
	ToVersion   string   `json:"to_version,omitempty"`
	ContentID   string   `json:"content_id,omitempty"`
	Changes     []Change `json:"changes"`
	Summary     Summary  `json:"summary"`
}

// Total returns the number of changed keys
func (d *Diff) Total() int {
	if d == nil {
		return 0
	}
	return d.Summary.Total()
}

// Empty reports whether the two snapshots were equal
func (d *Diff) Empty() bool {
	return d.Total() == 0
}

// Paths returns the changed keys of one type, in change order
func (d *Diff) Paths(t ChangeType) []string {
	var out []string
	for _, c := range d.Changes {
		if c.Type == t {
			out = append(out, c.Path)
		}
	}
	return out
}

// ComputeSummary recalculates the summary from the change list
func (d *Diff) ComputeSummary() {
	d.Summary = Summary{}
	for _, c := range d.Changes {
		switch c.Type {
		case ChangeAdded:
			d.Summary.Added++
		case ChangeModified:
			d.Summary.Modified++
		case ChangeDeleted:
			d.Summary.Deleted++
		}
	}
}
