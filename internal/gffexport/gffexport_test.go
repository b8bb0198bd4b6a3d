package gffexport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ieeta-pt/hymet/internal/resolve"
	"github.com/ieeta-pt/hymet/internal/taxonomy"
)

func buildTax(t *testing.T) *taxonomy.Store {
	t.Helper()
	d := taxonomy.Dump{
		Nodes: []taxonomy.NodeRecord{
			{TaxID: 1, Parent: 1, Rank: "no_rank"},
			{TaxID: 561, Parent: 1, Rank: "genus"},
		},
		Names: []taxonomy.NameRecord{
			{TaxID: 1, Name: "root"},
			{TaxID: 561, Name: "Escherichia"},
		},
	}
	s, err := taxonomy.Load(d)
	if err != nil {
		t.Fatalf("taxonomy.Load: %v", err)
	}
	return s
}

func TestWriteAmbiguousProducesGFFLine(t *testing.T) {
	tax := buildTax(t)
	a := resolve.Assignment{QueryID: "q1", AssignedTaxID: 561, Confidence: 0.6, AmbiguityFlag: true}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteAmbiguous(a, tax, [2]taxonomy.TaxID{511145, 622}, [2]float64{1500, 1500}); err != nil {
		t.Fatalf("WriteAmbiguous: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Escherichia") {
		t.Errorf("output missing SeqName Escherichia:\n%s", out)
	}
	if !strings.Contains(out, "ambiguous_call") {
		t.Errorf("output missing feature type ambiguous_call:\n%s", out)
	}
	if !strings.Contains(out, "511145") || !strings.Contains(out, "622") {
		t.Errorf("output missing sibling taxids:\n%s", out)
	}
}
