package labels

import (
	"errors"
	"fmt"

	"levtiades/internal/models"
)

var (
	// ErrLabelCollision means two (source, label) pairs would map to
	// the same final label. Always fatal: it violates injectivity.
	ErrLabelCollision = errors.New("offset mapping is not injective")

	// ErrGapInLabels means the final label set is not contiguous from 1.
	ErrGapInLabels = errors.New("final labels are not contiguous")
)

// Range is the final label range assigned to one source atlas.
// Both ends are inclusive.
type Range struct {
	Start int
	End   int
}

// Count returns the number of labels in the range.
func (r Range) Count() int {
	return r.End - r.Start + 1
}

// OffsetMapping assigns each source atlas a disjoint contiguous block
// of final labels. It is a pure function of the per-source region
// counts in priority order and is recomputed whenever those counts
// change; offsets are never hardcoded independently of the counts.
type OffsetMapping struct {
	ranges map[models.Source]Range
	order  []models.Source
	total  int
}

// BuildOffsetMapping computes the final label ranges for the given
// per-source region counts, in priority order: the first source starts
// at 1 and every later range starts immediately after the previous one.
func BuildOffsetMapping(order []models.Source, counts map[models.Source]int) (*OffsetMapping, error) {
	m := &OffsetMapping{
		ranges: make(map[models.Source]Range, len(order)),
		order:  append([]models.Source(nil), order...),
	}
	next := 1
	for _, src := range order {
		n, ok := counts[src]
		if !ok {
			return nil, fmt.Errorf("no region count for source %s", src)
		}
		if n <= 0 {
			return nil, fmt.Errorf("source %s has %d regions: %w", src, n, ErrNoRegionsRemain)
		}
		m.ranges[src] = Range{Start: next, End: next + n - 1}
		next += n
	}
	m.total = next - 1

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Apply maps a source-local label (1-based, post-harmonization) to its
// final label in the combined atlas.
func (m *OffsetMapping) Apply(src models.Source, local int) (int, error) {
	r, ok := m.ranges[src]
	if !ok {
		return 0, fmt.Errorf("unknown source %s", src)
	}
	if local < 1 || local > r.Count() {
		return 0, fmt.Errorf("local label %d out of range for %s (1-%d)", local, src, r.Count())
	}
	return r.Start + local - 1, nil
}

// Invert maps a final label back to its (source, local label) pair.
func (m *OffsetMapping) Invert(final int) (models.Source, int, error) {
	for _, src := range m.order {
		r := m.ranges[src]
		if final >= r.Start && final <= r.End {
			return src, final - r.Start + 1, nil
		}
	}
	return "", 0, fmt.Errorf("final label %d belongs to no source range", final)
}

// Offset returns the additive offset for a source: final = local + offset.
func (m *OffsetMapping) Offset(src models.Source) int {
	return m.ranges[src].Start - 1
}

// SourceRange returns the final label range of a source.
func (m *OffsetMapping) SourceRange(src models.Source) Range {
	return m.ranges[src]
}

// Total returns N, the total region count; final labels are exactly 1..N.
func (m *OffsetMapping) Total() int {
	return m.total
}

// Validate checks injectivity and contiguity of the assigned ranges.
// The combiner refuses to run on a mapping that fails validation.
func (m *OffsetMapping) Validate() error {
	seen := make(map[int]models.Source, m.total)
	for _, src := range m.order {
		r := m.ranges[src]
		for l := r.Start; l <= r.End; l++ {
			if prev, dup := seen[l]; dup {
				return fmt.Errorf("%w: label %d claimed by both %s and %s", ErrLabelCollision, l, prev, src)
			}
			seen[l] = src
		}
	}
	for l := 1; l <= m.total; l++ {
		if _, ok := seen[l]; !ok {
			return fmt.Errorf("%w: label %d unused in 1-%d", ErrGapInLabels, l, m.total)
		}
	}
	return nil
}
