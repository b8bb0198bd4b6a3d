// Package resolve implements the Weighted-LCA Resolver: turns the
// HitSummarys for one query into exactly one QueryAssignment.
package resolve

import (
	"strings"

	"github.com/biogo/store/llrb"

	"github.com/ieeta-pt/hymet/internal/align"
	"github.com/ieeta-pt/hymet/internal/taxonomy"
)

// Weighting selects whether short-read queries are weighted by identity or
// by coverage alone.
type Weighting int

const (
	IdentityWeighted Weighting = iota
	CoverageOnly
)

// Config parametrises the resolver.
type Config struct {
	MinSupportWeight float64 // default 0.05
	MinTaxidSupport  int     // default 2
	ConfidenceFloor  float64 // default 0.7
	TieEpsilon       float64 // default 0.05
	Weighting        Weighting
}

// DefaultConfig returns documented defaults.
func DefaultConfig() Config {
	return Config{
		MinSupportWeight: 0.05,
		MinTaxidSupport:  2,
		ConfidenceFloor:  0.7,
		TieEpsilon:       0.05,
		Weighting:        IdentityWeighted,
	}
}

// Assignment is the resolver's output for one query, the
// QueryAssignment.
type Assignment struct {
	QueryID       string
	AssignedTaxID taxonomy.TaxID
	Rank          taxonomy.Rank
	Confidence    float64
	LineageString string
	SupportWeight float64
	AmbiguityFlag bool

	// Siblings holds the two best-supported children at the node where the
	// walk stopped, populated only when AmbiguityFlag is true. Siblings[0]
	// is the child that would have been picked; Siblings[1] is its
	// runner-up. A zero TaxID means no such child existed.
	Siblings [2]SiblingVote
}

// SiblingVote is one candidate child considered at the resolver's stopping
// node.
type SiblingVote struct {
	TaxID  taxonomy.TaxID
	Weight float64
}

const lineageSep = ";"

// Unclassified returns the sentinel assignment for a query with no
// surviving hits.
func Unclassified(queryID string) Assignment {
	return Assignment{QueryID: queryID, AssignedTaxID: 0, Rank: taxonomy.NoRank, Confidence: 0, LineageString: "unclassified", SupportWeight: 0, AmbiguityFlag: false}
}

type vote struct {
	weight  float64
	support int
}

// taxidComparable lets llrb.Tree order taxids, giving the resolver a
// deterministic ascending-taxid walk for the tie-break rule.
type taxidComparable taxonomy.TaxID

func (t taxidComparable) Compare(c llrb.Comparable) int {
	o := c.(taxidComparable)
	switch {
	case t < o:
		return -1
	case t > o:
		return 1
	default:
		return 0
	}
}

// Resolve walks the cumulative-weight taxonomy tree for one query's surviving
// hits.
func Resolve(queryID string, hits []align.HitSummary, tax *taxonomy.Store, cfg Config) Assignment {
	if len(hits) == 0 {
		return Unclassified(queryID)
	}

	// Step 1-2: convert to votes, canonicalise, merge.
	votes := make(map[taxonomy.TaxID]*vote)
	for _, h := range hits {
		taxid := tax.Canonical(h.TaxID)
		if taxid == 0 {
			continue
		}
		w := weight(h, cfg.Weighting)
		v, ok := votes[taxid]
		if !ok {
			v = &vote{}
			votes[taxid] = v
		}
		v.weight += w
		v.support++
	}
	if len(votes) == 0 {
		return Unclassified(queryID)
	}

	var total float64
	for _, v := range votes {
		total += v.weight
	}
	if total < cfg.MinSupportWeight {
		return Unclassified(queryID)
	}

	// Step 4: expand every vote up its lineage, accumulating weight and
	// support on every ancestor.
	cum := make(map[taxonomy.TaxID]*vote)
	touch := func(t taxonomy.TaxID, w float64, support int) {
		v, ok := cum[t]
		if !ok {
			v = &vote{}
			cum[t] = v
		}
		v.weight += w
		v.support += support
	}
	for taxid, v := range votes {
		for _, ancestor := range tax.Lineage(taxid) {
			touch(ancestor, v.weight, v.support)
		}
	}

	// Step 5: walk from the root toward the leaves along the max-weight
	// child at each step.
	cur := tax.Root()
	ambiguous := false
	var siblings [2]SiblingVote
	for {
		children := childrenOf(cur, cum, tax)
		if len(children) == 0 {
			break
		}
		best, second, bestWeight, secondWeight := pickBest(children, cum)
		bestVote := cum[best]
		confidence := bestVote.weight / total
		marginOK := bestVote.weight > secondWeight+cfg.TieEpsilon*secondWeight
		if bestVote.support < cfg.MinTaxidSupport || confidence < cfg.ConfidenceFloor || !marginOK {
			// Any failed advance condition stops the walk here rather than
			// only the tie-margin check, so a low-support or low-confidence
			// child also surfaces as ambiguous instead of silently winning.
			ambiguous = true
			siblings = [2]SiblingVote{{TaxID: best, Weight: bestWeight}, {TaxID: second, Weight: secondWeight}}
			break
		}
		cur = best
	}

	return Assignment{
		QueryID:       queryID,
		AssignedTaxID: cur,
		Rank:          tax.Rank(cur),
		Confidence:    cum[cur].weight / total,
		LineageString: tax.LineageString(cur, lineageSep),
		SupportWeight: cum[cur].weight,
		AmbiguityFlag: ambiguous,
		Siblings:      siblings,
	}
}

func weight(h align.HitSummary, w Weighting) float64 {
	if w == CoverageOnly {
		return float64(h.CoveredBases)
	}
	return float64(h.CoveredBases) * h.WeightedIdentity
}

// childrenOf returns every taxid in cum whose parent is t, in ascending
// taxid order (via an llrb.Tree) so that downstream tie-breaking is
// deterministic regardless of map iteration order.
func childrenOf(t taxonomy.TaxID, cum map[taxonomy.TaxID]*vote, tax *taxonomy.Store) []taxonomy.TaxID {
	tree := &llrb.Tree{}
	found := false
	for candidate := range cum {
		if candidate == t {
			continue
		}
		if tax.Parent(candidate) == t {
			tree.Insert(taxidComparable(candidate))
			found = true
		}
	}
	if !found {
		return nil
	}
	var out []taxonomy.TaxID
	tree.Do(func(c llrb.Comparable) (done bool) {
		out = append(out, taxonomy.TaxID(c.(taxidComparable)))
		return false
	})
	return out
}

// pickBest returns the heaviest child and its weight, and the runner-up
// child and its weight (zero taxid/weight if there is no runner-up).
// children is taxid-ascending, so ties break toward the lower taxid.
func pickBest(children []taxonomy.TaxID, cum map[taxonomy.TaxID]*vote) (best, second taxonomy.TaxID, bestWeight, secondWeight float64) {
	best = children[0]
	bestWeight = cum[best].weight
	for _, c := range children[1:] {
		w := cum[c].weight
		if w > bestWeight {
			second, secondWeight = best, bestWeight
			best, bestWeight = c, w
		} else if w > secondWeight {
			second, secondWeight = c, w
		}
	}
	return best, second, bestWeight, secondWeight
}

// FormatLineage joins taxon names with the fixed separator used throughout
// output files.
func FormatLineage(names []string) string {
	return strings.Join(names, lineageSep)
}
