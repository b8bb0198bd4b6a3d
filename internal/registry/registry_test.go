package registry

import (
	"strings"
	"testing"

	"github.com/ieeta-pt/hymet/internal/taxonomy"
)

func TestBuildFromAndLookup(t *testing.T) {
	tsv := "r1\t511145\nr2\t622\n"
	reg, err := BuildFrom(strings.NewReader(tsv), nil)
	if err != nil {
		t.Fatalf("BuildFrom: %v", err)
	}
	if got := reg.Lookup("r1"); got != 511145 {
		t.Errorf("Lookup(r1) = %d, want 511145", got)
	}
	if got := reg.Lookup("unknown"); got != 0 {
		t.Errorf("Lookup(unknown) = %d, want 0", got)
	}
	if reg.UnknownLookups() != 1 {
		t.Errorf("UnknownLookups = %d, want 1", reg.UnknownLookups())
	}
}

func TestBuildFromConflict(t *testing.T) {
	tsv := "r1\t511145\nr1\t622\n"
	_, err := BuildFrom(strings.NewReader(tsv), nil)
	if err == nil {
		t.Fatal("BuildFrom: expected conflict error, got nil")
	}
	var ce *ConflictError
	if !as(err, &ce) {
		t.Fatalf("BuildFrom: expected *ConflictError, got %T: %v", err, err)
	}
}

func TestBuildFromConflictResolvedByCanonicalisation(t *testing.T) {
	d := taxonomy.Dump{
		Nodes: []taxonomy.NodeRecord{
			{TaxID: 1, Parent: 1, Rank: "no_rank"},
			{TaxID: 511145, Parent: 1, Rank: "species"},
		},
		Merged: []taxonomy.MergeRecord{{Old: 999, New: 511145}},
	}
	tax, err := taxonomy.Load(d)
	if err != nil {
		t.Fatalf("taxonomy.Load: %v", err)
	}

	tsv := "r1\t511145\nr1\t999\n"
	reg, err := BuildFrom(strings.NewReader(tsv), tax)
	if err != nil {
		t.Fatalf("BuildFrom: %v", err)
	}
	if got := reg.Lookup("r1"); got != 511145 {
		t.Errorf("Lookup(r1) = %d, want 511145 (first wins)", got)
	}
}

func as(err error, target **ConflictError) bool {
	ce, ok := err.(*ConflictError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
