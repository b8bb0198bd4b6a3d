package align

import "sort"

// IntervalSet is a disjoint, sorted union of half-open [start, end) spans.
// Memory is O(number of merged spans), not O(query length), so coverage
// accounting stays cheap even for very long queries with many alignments.
type IntervalSet struct {
	spans []span
}

type span struct{ start, end int }

// Insert merges [start, end) into the set, coalescing with any overlapping
// or adjacent existing spans.
func (s *IntervalSet) Insert(start, end int) {
	if start >= end {
		return
	}
	// Find the first span whose end is >= start: everything before it is
	// strictly disjoint and unaffected.
	i := sort.Search(len(s.spans), func(i int) bool { return s.spans[i].end >= start })

	j := i
	for j < len(s.spans) && s.spans[j].start <= end {
		if s.spans[j].start < start {
			start = s.spans[j].start
		}
		if s.spans[j].end > end {
			end = s.spans[j].end
		}
		j++
	}

	merged := span{start, end}
	next := make([]span, 0, len(s.spans)-(j-i)+1)
	next = append(next, s.spans[:i]...)
	next = append(next, merged)
	next = append(next, s.spans[j:]...)
	s.spans = next
}

// CoveredBases returns the total length of the disjoint union.
func (s *IntervalSet) CoveredBases() int {
	total := 0
	for _, sp := range s.spans {
		total += sp.end - sp.start
	}
	return total
}

// Spans returns the disjoint spans in sorted order. The returned slice must
// not be mutated.
func (s *IntervalSet) Spans() []struct{ Start, End int } {
	out := make([]struct{ Start, End int }, len(s.spans))
	for i, sp := range s.spans {
		out[i] = struct{ Start, End int }{sp.start, sp.end}
	}
	return out
}
