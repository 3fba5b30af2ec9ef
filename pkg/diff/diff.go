// ABOUTME: Shallow structural diff over top-level content keys
// ABOUTME: Pure function, nested values compare by deep equality only

package diff

import "github.com/nainya/contentvcs/pkg/content"

// Compute returns the key-level changes that turn before into after. A nil
// map is treated as empty.
func Compute(before, after *content.Map) *Diff {
	d := &Diff{Changes: []Change{}}

	for _, k := range after.Keys() {
		nv, _ := after.Get(k)
		ov, existed := before.Get(k)
		switch {
		case !existed:
			d.Changes = append(d.Changes, Change{Type: ChangeAdded, Path: k, NewValue: nv})
		case !content.ValuesEqual(ov, nv):
			d.Changes = append(d.Changes, Change{Type: ChangeModified, Path: k, OldValue: ov, NewValue: nv})
		}
	}

	for _, k := range before.Keys() {
		if after.Has(k) {
			continue
		}
		ov, _ := before.Get(k)
		d.Changes = append(d.Changes, Change{Type: ChangeDeleted, Path: k, OldValue: ov})
	}

	d.ComputeSummary()
	return d
}

// Between computes a diff and stamps the version and content identifiers on it
func Between(contentID, fromVersion, toVersion string, before, after *content.Map) *Diff {
	d := Compute(before, after)
	d.ContentID = contentID
	d.FromVersion = fromVersion
	d.ToVersion = toVersion
	return d
}
