// Package selector implements the Candidate Selector: turns screen rows into
// an ordered set of references to align against, and a stable fingerprint
// identifying that selection.
package selector

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/ieeta-pt/hymet/internal/registry"
	"github.com/ieeta-pt/hymet/internal/taxonomy"
)

// ScreenRow is one row produced by the external sketch/screen tool.
type ScreenRow struct {
	Similarity  float64
	ReferenceID string
}

// Config parametrises the selector. All fields are first-class, documented
// configuration for the adaptive threshold.
type Config struct {
	InitialThreshold     float64 // default 0.90
	ThresholdStep        float64 // default 0.02
	ThresholdFloor       float64 // default 0.70
	CandidateMultiplier  float64 // default 3.25
	MinCandidatesAbs     int     // default 5
	CandMax              int     // hard cap on selected references
	SpeciesDedup         bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialThreshold:    0.90,
		ThresholdStep:       0.02,
		ThresholdFloor:      0.70,
		CandidateMultiplier: 3.25,
		MinCandidatesAbs:    5,
		CandMax:             1000,
		SpeciesDedup:        false,
	}
}

// EmptyCandidateSetError is returned when the floored threshold still yields
// zero rows.
type EmptyCandidateSetError struct {
	FlooredThreshold float64
}

func (e *EmptyCandidateSetError) Error() string {
	return fmt.Sprintf("selector: no candidates survive even at floored threshold %.4f", e.FlooredThreshold)
}

// Selection is the ordered result of Select, along with its fingerprint.
type Selection struct {
	References  []string // ordered, as emitted (similarity desc, id asc)
	Threshold   float64  // the threshold actually used
	Fingerprint string   // hex digest of the sorted, deduplicated reference set
}

// Select runs the adaptive-threshold selection over rows for nQueries distinct
// queries. reg and tax are required only when cfg.SpeciesDedup is set.
func Select(rows []ScreenRow, nQueries int, cfg Config, reg *registry.Registry, tax *taxonomy.Store) (Selection, error) {
	sorted := make([]ScreenRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Similarity != sorted[j].Similarity {
			return sorted[i].Similarity > sorted[j].Similarity
		}
		return sorted[i].ReferenceID < sorted[j].ReferenceID
	})

	m := int(math.Max(float64(cfg.MinCandidatesAbs), math.Ceil(cfg.CandidateMultiplier*float64(nQueries))))

	threshold := cfg.InitialThreshold
	var count int
	for {
		count = countAbove(sorted, threshold)
		if count >= m || threshold <= cfg.ThresholdFloor {
			break
		}
		threshold -= cfg.ThresholdStep
	}
	if threshold < cfg.ThresholdFloor {
		threshold = cfg.ThresholdFloor
	}

	var kept []ScreenRow
	for _, r := range sorted {
		if r.Similarity > threshold {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return Selection{}, &EmptyCandidateSetError{FlooredThreshold: threshold}
	}

	if cfg.SpeciesDedup && reg != nil && tax != nil {
		kept = dedupBySpecies(kept, reg, tax)
	}

	if cfg.CandMax > 0 && len(kept) > cfg.CandMax {
		kept = kept[:cfg.CandMax]
	}

	refs := make([]string, len(kept))
	for i, r := range kept {
		refs[i] = r.ReferenceID
	}

	return Selection{
		References:  refs,
		Threshold:   threshold,
		Fingerprint: fingerprint(refs),
	}, nil
}

func countAbove(sorted []ScreenRow, threshold float64) int {
	n := 0
	for _, r := range sorted {
		if r.Similarity > threshold {
			n++
		}
	}
	return n
}

// dedupBySpecies keeps only the top-similarity row per species-level taxid.
// Input rows must already be sorted similarity desc, id asc so "first seen"
// is "best".
func dedupBySpecies(rows []ScreenRow, reg *registry.Registry, tax *taxonomy.Store) []ScreenRow {
	seen := make(map[taxonomy.TaxID]bool, len(rows))
	out := make([]ScreenRow, 0, len(rows))
	for _, r := range rows {
		taxid := reg.Lookup(r.ReferenceID)
		species := tax.AncestorAtRank(taxid, taxonomy.Species)
		key := species
		if key == 0 {
			// No species-level ancestor (or unknown taxid): never
			// dedup away references we can't place.
			out = append(out, r)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// fingerprint is invariant to input row order: it digests the sorted,
// deduplicated reference id set.
func fingerprint(refs []string) string {
	uniq := make(map[string]bool, len(refs))
	for _, r := range refs {
		uniq[r] = true
	}
	sorted := make([]string, 0, len(uniq))
	for r := range uniq {
		sorted = append(sorted, r)
	}
	sort.Strings(sorted)

	h := sha1.New()
	for _, r := range sorted {
		h.Write([]byte(r))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
