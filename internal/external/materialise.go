package external

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"

	"github.com/ieeta-pt/hymet/internal/selector"
)

// FastaMaterialiser implements ReferenceMaterialiser by concatenating
// per-accession FASTA files already present under RepoDir (one file per
// reference id, named "<id>.fasta") into a single references.fasta, and
// copying the matching rows of an accession->taxid table.
type FastaMaterialiser struct {
	RepoDir     string
	TaxonomyTSV string // path to the full reference_id\ttaxid table
}

const fastaLineWidth = 70

// Materialise writes references.fasta and reference_taxonomy.tsv under
// scratchDir, restricted to selection.References.
func (m FastaMaterialiser) Materialise(ctx context.Context, scratchDir string, selection selector.Selection) error {
	if err := m.writeFasta(scratchDir, selection.References); err != nil {
		return err
	}
	return m.writeTaxonomy(scratchDir, selection.References)
}

func (m FastaMaterialiser) writeFasta(scratchDir string, refs []string) error {
	out, err := os.Create(filepath.Join(scratchDir, "references.fasta"))
	if err != nil {
		return fmt.Errorf("materialise: create references.fasta: %w", err)
	}
	defer out.Close()

	w := fasta.NewWriter(out, fastaLineWidth)
	for _, ref := range refs {
		if err := m.appendOne(w, ref); err != nil {
			return err
		}
	}
	return nil
}

func (m FastaMaterialiser) appendOne(w *fasta.Writer, ref string) error {
	path := filepath.Join(m.RepoDir, ref+".fasta")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("materialise: open reference %s: %w", ref, err)
	}
	defer f.Close()

	sc := seqio.NewScanner(fasta.NewReader(f, linear.NewSeq("", nil, alphabet.DNA)))
	for sc.Next() {
		if _, err := w.Write(sc.Seq()); err != nil {
			return fmt.Errorf("materialise: write reference %s: %w", ref, err)
		}
	}
	return sc.Error()
}

func (m FastaMaterialiser) writeTaxonomy(scratchDir string, refs []string) error {
	full, err := os.Open(m.TaxonomyTSV)
	if err != nil {
		return fmt.Errorf("materialise: open taxonomy table: %w", err)
	}
	defer full.Close()

	wanted := make(map[string]bool, len(refs))
	for _, r := range refs {
		wanted[r] = true
	}

	out, err := os.Create(filepath.Join(scratchDir, "reference_taxonomy.tsv"))
	if err != nil {
		return fmt.Errorf("materialise: create reference_taxonomy.tsv: %w", err)
	}
	defer out.Close()

	return filterLines(full, out, wanted)
}

// filterLines copies every line of r whose first tab-separated field is in
// wanted to w, unchanged.
func filterLines(r io.Reader, w io.Writer, wanted map[string]bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		id, _, _ := strings.Cut(line, "\t")
		if wanted[id] {
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return err
			}
		}
	}
	return sc.Err()
}
