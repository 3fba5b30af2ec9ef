package merge

import (
	"strings"

	"github.com/nainya/contentvcs/pkg/content"
)

// DetectConflicts compares the keys present in both maps. A key conflicts
// when the values differ, both are strings or numbers, and neither rendered
// value contains the other. Lists, objects, booleans and nulls never
// conflict; the target's value is kept for them.
func DetectConflicts(source, target *content.Map) []Conflict {
	var conflicts []Conflict
	for _, key := range source.Keys() {
		sv, _ := source.Get(key)
		tv, ok := target.Get(key)
		if !ok || content.ValuesEqual(sv, tv) {
			continue
		}
		if !content.IsScalar(sv) || !content.IsScalar(tv) {
			continue
		}
		ss, ts := content.ScalarString(sv), content.ScalarString(tv)
		if strings.Contains(ss, ts) || strings.Contains(ts, ss) {
			continue
		}
		conflicts = append(conflicts, Conflict{Path: key, SourceValue: sv, TargetValue: tv})
	}
	return conflicts
}

// Combine returns target plus every key only source has. Shared keys keep
// the target's value.
func Combine(source, target *content.Map) *content.Map {
	merged := target.Clone()
	for _, key := range source.Keys() {
		if merged.Has(key) {
			continue
		}
		v, _ := source.Get(key)
		// Values in a content.Map are already normalized
		_ = merged.Set(key, v)
	}
	return merged
}
