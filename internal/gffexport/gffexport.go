// Package gffexport writes the optional ambiguous-region GFF3 export: one
// feature per query whose resolver call stopped short with
// ambiguity_flag = true.
package gffexport

import (
	"io"
	"strconv"

	"github.com/biogo/biogo/io/featio/gff"

	"github.com/ieeta-pt/hymet/internal/resolve"
	"github.com/ieeta-pt/hymet/internal/taxonomy"
)

const lineWidth = 60

// Writer accumulates ambiguous assignments and flushes them as GFF3.
type Writer struct {
	w *gff.Writer
}

// NewWriter wraps w in a gff.Writer configured with GFF3 headers.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: gff.NewWriter(w, lineWidth, true)}
}

// WriteAmbiguous emits one feature for a, annotated with the stopping
// node's taxon and its two best children's taxids and weights.
func (g *Writer) WriteAmbiguous(a resolve.Assignment, tax *taxonomy.Store, siblingTaxIDs [2]taxonomy.TaxID, siblingWeights [2]float64) error {
	attrs := gff.Attributes{
		{Tag: "assigned_taxid", Value: formatTaxID(a.AssignedTaxID)},
		{Tag: "confidence", Value: formatFloat(a.Confidence)},
		{Tag: "sibling_taxid_1", Value: formatTaxID(siblingTaxIDs[0])},
		{Tag: "sibling_weight_1", Value: formatFloat(siblingWeights[0])},
		{Tag: "sibling_taxid_2", Value: formatTaxID(siblingTaxIDs[1])},
		{Tag: "sibling_weight_2", Value: formatFloat(siblingWeights[1])},
	}
	_, err := g.w.Write(&gff.Feature{
		SeqName:        tax.Name(a.AssignedTaxID),
		Source:         "hymet",
		Feature:        "ambiguous_call",
		FeatStart:      0,
		FeatEnd:        1,
		FeatFrame:      gff.NoFrame,
		FeatAttributes: attrs,
	})
	return err
}

func formatTaxID(t taxonomy.TaxID) string {
	if t == 0 {
		return "NA"
	}
	return strconv.FormatInt(int64(t), 10)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}
