// Package registry maps aligner reference identifiers to TaxIDs.
package registry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/ieeta-pt/hymet/internal/taxonomy"
)

// ConflictError reports two rows for the same reference_id resolving to
// different canonical taxids.
type ConflictError struct {
	ReferenceID string
	First       taxonomy.TaxID
	Second      taxonomy.TaxID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("registry: conflicting taxid for reference %q: %d vs %d", e.ReferenceID, e.First, e.Second)
}

// Registry is a total ReferenceID -> TaxID map over the references present
// in one reference cache entry.
type Registry struct {
	byRef map[string]taxonomy.TaxID

	unknown atomic.Int64
}

// UnknownLookups returns the number of lookups for a reference id not
// present in the registry.
func (r *Registry) UnknownLookups() int64 { return r.unknown.Load() }

// BuildFrom constructs a Registry from a two-column reference_id\ttaxid
// table. Duplicate keys with conflicting taxids cause a *ConflictError
// unless both resolve, via tax, to the same canonical taxid, in which case
// the first value wins.
func BuildFrom(r io.Reader, tax *taxonomy.Store) (*Registry, error) {
	reg := &Registry{byRef: make(map[string]taxonomy.TaxID)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		row := sc.Text()
		if row == "" {
			continue
		}
		fields := strings.SplitN(row, "\t", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("registry: malformed row %d: %q", line, row)
		}
		refID := fields[0]
		taxidInt, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("registry: bad taxid on row %d: %w", line, err)
		}
		taxid := taxonomy.TaxID(taxidInt)

		existing, ok := reg.byRef[refID]
		if !ok {
			reg.byRef[refID] = taxid
			continue
		}
		if existing == taxid {
			continue
		}
		if tax != nil && tax.Canonical(existing) == tax.Canonical(taxid) {
			continue // first wins
		}
		return nil, &ConflictError{ReferenceID: refID, First: existing, Second: taxid}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return reg, nil
}

// BuildFromFile is a convenience wrapper around BuildFrom for a TSV path.
func BuildFromFile(path string, tax *taxonomy.Store) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return BuildFrom(f, tax)
}

// Lookup returns the TaxID for referenceID, or 0 if unknown. Unknown lookups
// are counted but never returned as an error.
func (r *Registry) Lookup(referenceID string) taxonomy.TaxID {
	taxid, ok := r.byRef[referenceID]
	if !ok {
		r.unknown.Add(1)
		return 0
	}
	return taxid
}

// Len returns the number of distinct reference ids in the registry.
func (r *Registry) Len() int { return len(r.byRef) }
