// Package external defines the narrow collaborator interfaces that keep
// sketch/align/materialise tools out of the core pipeline, together with
// subprocess adapters built the way blasr.BLASR builds its command line.
package external

import (
	"context"
	"io"

	"github.com/ieeta-pt/hymet/internal/align"
	"github.com/ieeta-pt/hymet/internal/selector"
)

// Sketcher screens query sequences against a reference panel and produces
// ScreenRows, the Candidate Selector's input.
type Sketcher interface {
	Screen(ctx context.Context, queries, referencePanel string) ([]selector.ScreenRow, error)
}

// Aligner aligns query sequences against a materialised reference cache
// entry and streams PAF records as they are produced.
type Aligner interface {
	Align(ctx context.Context, queries, referenceFasta string) (<-chan align.PafRecord, error)
}

// ReferenceMaterialiser builds the on-disk artefacts for a selected
// reference set (concatenated FASTA, alignment index) inside a
// caller-owned scratch directory.
type ReferenceMaterialiser interface {
	Materialise(ctx context.Context, scratchDir string, selection selector.Selection) error
}

// Writer is the minimal sink subprocess adapters write progress or error
// chatter to; *log.Logger and zap's io.Writer bridge both satisfy it.
type Writer = io.Writer
