// Package orchestrator wires the Candidate Selector, Reference Cache,
// Alignment Aggregator, Weighted-LCA Resolver and Profile Builder into the
// single entry point described by the CLI surface.
package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ieeta-pt/hymet/internal/align"
	"github.com/ieeta-pt/hymet/internal/cache"
	"github.com/ieeta-pt/hymet/internal/config"
	"github.com/ieeta-pt/hymet/internal/external"
	"github.com/ieeta-pt/hymet/internal/gffexport"
	"github.com/ieeta-pt/hymet/internal/metrics"
	"github.com/ieeta-pt/hymet/internal/profile"
	"github.com/ieeta-pt/hymet/internal/registry"
	"github.com/ieeta-pt/hymet/internal/resolve"
	"github.com/ieeta-pt/hymet/internal/selector"
	"github.com/ieeta-pt/hymet/internal/taxonomy"
	"github.com/ieeta-pt/hymet/internal/tracing"
)

// Exit codes surfaced to the shell.
const (
	ExitOK                = 0
	ExitConfig            = 2
	ExitMissingInput       = 3
	ExitTaxonomyLoad      = 4
	ExitCacheBuild        = 5
	ExitAlignmentStream   = 6
	ExitEmptyCandidateSet = 7
	ExitCancelled         = 130
)

// ExitError carries the process exit code the caller (cmd/hymet) should
// use; only the orchestrator decides exit codes.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Deps bundles every collaborator the orchestrator needs. Tests supply
// fakes for Sketcher/Aligner/Materialiser; Taxonomy/Registry/Cache are
// built once per process and shared read-only.
type Deps struct {
	Sketcher     external.Sketcher
	Aligner      external.Aligner
	Materialiser external.ReferenceMaterialiser

	Taxonomy *taxonomy.Store
	Registry *registry.Registry
	Cache    *cache.Cache
	Index    *cache.Index // optional; nil disables index recording

	Logger            *zap.Logger
	CandidateLogger   *zap.Logger
	ResolverCounters  *zap.Logger
	Metrics           *metrics.Registry
	Tracer            tracing.Tracer
}

// RunMetadata is the provenance record written to metadata.json.
type RunMetadata struct {
	RunID               string            `json:"run_id"`
	StartedAt           string            `json:"started_at"`
	FinishedAt          string            `json:"finished_at"`
	SelectionFingerprint string           `json:"selection_fingerprint"`
	CacheDir            string            `json:"cache_dir"`
	SelectionThreshold  float64           `json:"selection_threshold"`
	QueryCount          int               `json:"query_count"`
	Config              map[string]any    `json:"config"`
}

// Run executes one end-to-end classification pass. On success it writes
// classified_sequences.tsv, profile.cami.tsv and metadata.json under
// cfg.OutDir. On cancellation it flushes whatever it has to <out>/aborted/
// instead and returns an *ExitError with code 130.
func Run(ctx context.Context, cfg config.Config, deps Deps) error {
	runID := uuid.NewString()
	started := time.Now().UTC()

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("orchestrator: creating out dir: %w", err)}
	}
	if deps.Metrics != nil {
		deps.Metrics.MarkStarted()
	}

	queries := cfg.Contigs
	if queries == "" {
		queries = cfg.Reads
	}
	if _, err := os.Stat(queries); err != nil {
		return &ExitError{Code: ExitMissingInput, Err: fmt.Errorf("orchestrator: input %s: %w", queries, err)}
	}

	nQueries := countQueries(queries)

	ctx, selSpan := startSpan(ctx, deps.Tracer, "selector", attribute.Int("query_count", nQueries))
	rows, err := deps.Sketcher.Screen(ctx, queries, "")
	if err != nil {
		endSpan(selSpan)
		return classify(err, ExitAlignmentStream)
	}
	selection, err := selector.Select(rows, nQueries, cfg.Selector, deps.Registry, deps.Taxonomy)
	endSpan(selSpan)
	if err != nil {
		return handleSelectError(err, cfg, queries, deps.Logger)
	}
	if deps.CandidateLogger != nil {
		deps.CandidateLogger.Info("threshold chosen",
			zap.Float64("threshold", selection.Threshold),
			zap.Int("selected", len(selection.References)),
			zap.String("fingerprint", selection.Fingerprint),
		)
	}

	spanAttrs := []attribute.KeyValue{
		attribute.String("fingerprint", selection.Fingerprint),
		attribute.Int("query_count", nQueries),
	}

	ctx, cacheSpan := startSpan(ctx, deps.Tracer, "cache", spanAttrs...)
	if cfg.ForceRebuild {
		if err := os.RemoveAll(deps.Cache.Dir(selection.Fingerprint)); err != nil {
			endSpan(cacheSpan)
			return classify(err, ExitCacheBuild)
		}
	}
	cacheDir, err := resolveCache(ctx, deps, selection)
	endSpan(cacheSpan)
	if err != nil {
		return classify(err, ExitCacheBuild)
	}

	refFasta := filepath.Join(cacheDir, cache.ReferencesFasta)

	ctx, alignSpan := startSpan(ctx, deps.Tracer, "aggregator", spanAttrs...)
	assignments, err := alignAndResolve(ctx, deps, cfg, queries, refFasta)
	endSpan(alignSpan)
	if ctx.Err() != nil {
		flushAborted(cfg.OutDir, runID, assignments, deps)
		return &ExitError{Code: ExitCancelled, Err: ctx.Err()}
	}
	if err != nil {
		return classify(err, ExitAlignmentStream)
	}
	if deps.ResolverCounters != nil && deps.Metrics != nil {
		deps.ResolverCounters.Info("run counters",
			zap.Int64("parse_errors", deps.Metrics.ParseErrors.Load()),
			zap.Int64("unknown_taxids", deps.Metrics.UnknownTaxids.Load()),
			zap.Int64("unknown_references", deps.Metrics.UnknownReferences.Load()),
			zap.Int64("ambiguous_calls", deps.Metrics.AmbiguousCalls.Load()),
		)
	}

	_, profSpan := startSpan(ctx, deps.Tracer, "profile", spanAttrs...)
	rowsOut := profile.Build(assignments, deps.Taxonomy)
	endSpan(profSpan)

	if err := writeOutputs(cfg.OutDir, runID, assignments, rowsOut); err != nil {
		return &ExitError{Code: ExitCacheBuild, Err: err}
	}

	if cfg.AmbiguousGFF {
		if err := writeAmbiguous(cfg.OutDir, assignments, deps.Taxonomy); err != nil {
			deps.Logger.Warn("ambiguous GFF export failed", zap.Error(err))
		}
	}

	meta := RunMetadata{
		RunID:                runID,
		StartedAt:            started.Format(time.RFC3339),
		FinishedAt:           time.Now().UTC().Format(time.RFC3339),
		SelectionFingerprint: selection.Fingerprint,
		CacheDir:             cacheDir,
		SelectionThreshold:   selection.Threshold,
		QueryCount:           nQueries,
		Config:               map[string]any{"cache_root": cfg.CacheRoot, "out_dir": cfg.OutDir},
	}
	if err := writeMetadata(cfg.OutDir, meta); err != nil {
		return &ExitError{Code: ExitCacheBuild, Err: err}
	}
	return nil
}

func handleSelectError(err error, cfg config.Config, queries string, logger *zap.Logger) error {
	var empty *selector.EmptyCandidateSetError
	if e, ok := err.(*selector.EmptyCandidateSetError); ok {
		empty = e
	}
	if empty == nil {
		return classify(err, ExitAlignmentStream)
	}
	if logger != nil {
		logger.Warn("empty candidate set", zap.Float64("floored_threshold", empty.FlooredThreshold))
	}
	if cfg.AllowEmpty {
		ids := queryIDs(queries)
		assignments := make([]resolve.Assignment, len(ids))
		for i, id := range ids {
			assignments[i] = resolve.Unclassified(id)
		}
		if werr := os.MkdirAll(cfg.OutDir, 0o755); werr == nil {
			_ = writeClassified(filepath.Join(cfg.OutDir, "classified_sequences.tsv"), assignments)
		}
	}
	return &ExitError{Code: ExitEmptyCandidateSet, Err: err}
}

func resolveCache(ctx context.Context, deps Deps, selection selector.Selection) (string, error) {
	dir, err := deps.Cache.Resolve(ctx, selection.Fingerprint, func(ctx context.Context, scratchDir string) error {
		return deps.Materialiser.Materialise(ctx, scratchDir, selection)
	})
	if err != nil {
		return "", err
	}
	if deps.Index != nil {
		size := dirSize(dir)
		_ = deps.Index.Record(selection.Fingerprint, dir, size)
		_ = deps.Index.Touch(selection.Fingerprint)
	}
	return dir, nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// alignAndResolve runs the aligner, buffers its output into query-sorted
// order (PafRecords from a multi-threaded aligner are not guaranteed
// globally ordered), aggregates coverage per (query, reference), and
// resolves each completed query group as soon as the aggregator finishes
// emitting its HitSummarys.
func alignAndResolve(ctx context.Context, deps Deps, cfg config.Config, queries, refFasta string) ([]resolve.Assignment, error) {
	recsIn, err := deps.Aligner.Align(ctx, queries, refFasta)
	if err != nil {
		return nil, err
	}

	var buffered []align.PafRecord
	for rec := range recsIn {
		buffered = append(buffered, rec)
	}
	align.GroupByQuery(buffered)

	sorted := make(chan align.PafRecord, cfg.Align.QueueDepth)
	go func() {
		defer close(sorted)
		for _, r := range buffered {
			select {
			case sorted <- r:
			case <-ctx.Done():
				return
			}
		}
	}()

	var assignments []resolve.Assignment
	var curQuery string
	var curHits []align.HitSummary
	flush := func() {
		if curQuery == "" {
			return
		}
		a := resolve.Resolve(curQuery, curHits, deps.Taxonomy, cfg.Resolver)
		assignments = append(assignments, a)
		if deps.Metrics != nil {
			if a.AssignedTaxID == 0 {
				deps.Metrics.QueriesUnclassified.Add(1)
			} else {
				deps.Metrics.QueriesClassified.Add(1)
			}
			if a.AmbiguityFlag {
				deps.Metrics.AmbiguousCalls.Add(1)
			}
			deps.Metrics.UnknownReferences.Store(deps.Registry.UnknownLookups())
		}
		if deps.ResolverCounters != nil && a.AmbiguityFlag {
			deps.ResolverCounters.Info("ambiguous call", zap.String("query_id", curQuery), zap.Float64("confidence", a.Confidence))
		}
	}

	err = align.Aggregate(ctx, sorted, cfg.Align, deps.Registry, func(h align.HitSummary) error {
		if h.QueryID != curQuery {
			flush()
			curQuery = h.QueryID
			curHits = nil
		}
		curHits = append(curHits, h)
		return nil
	})
	flush()
	if err != nil {
		return assignments, err
	}
	return assignments, nil
}

func writeOutputs(outDir, runID string, assignments []resolve.Assignment, rows []profile.Row) error {
	if err := writeClassified(filepath.Join(outDir, "classified_sequences.tsv"), assignments); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(outDir, "profile.cami.tsv"))
	if err != nil {
		return err
	}
	defer f.Close()
	return profile.WriteCAMI(f, runID, "0.9.1", rows)
}

func writeClassified(path string, assignments []resolve.Assignment) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "Query\tLineage\tTaxonomicLevel\tConfidence\tTaxID\tAmbiguous"); err != nil {
		return err
	}
	for _, a := range assignments {
		if _, err := fmt.Fprintf(f, "%s\t%s\t%s\t%.4f\t%d\t%t\n",
			a.QueryID, a.LineageString, a.Rank, a.Confidence, a.AssignedTaxID, a.AmbiguityFlag); err != nil {
			return err
		}
	}
	return nil
}

func writeMetadata(outDir string, meta RunMetadata) error {
	f, err := os.Create(filepath.Join(outDir, "metadata.json"))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func writeAmbiguous(outDir string, assignments []resolve.Assignment, tax *taxonomy.Store) error {
	f, err := os.Create(filepath.Join(outDir, "ambiguous.gff"))
	if err != nil {
		return err
	}
	defer f.Close()
	w := gffexport.NewWriter(f)
	for _, a := range assignments {
		if !a.AmbiguityFlag {
			continue
		}
		siblingIDs := [2]taxonomy.TaxID{a.Siblings[0].TaxID, a.Siblings[1].TaxID}
		siblingWeights := [2]float64{a.Siblings[0].Weight, a.Siblings[1].Weight}
		if err := w.WriteAmbiguous(a, tax, siblingIDs, siblingWeights); err != nil {
			return err
		}
	}
	return nil
}

// flushAborted writes whatever assignments completed before cancellation
// to <out>/aborted/, never at a "final" output path.
func flushAborted(outDir, runID string, assignments []resolve.Assignment, deps Deps) {
	dir := filepath.Join(outDir, "aborted")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	_ = writeClassified(filepath.Join(dir, "classified_sequences.tsv"), assignments)
	if deps.Logger != nil {
		deps.Logger.Warn("run cancelled, partial state flushed to aborted/", zap.String("run_id", runID))
	}
}

func classify(err error, code int) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

func countQueries(path string) int {
	return len(queryIDs(path))
}

// queryIDs extracts the query identifiers from a FASTA or FASTQ file. FASTA
// records start a new sequence at every line beginning with '>'; FASTQ
// records are four lines each, the first always starting with '@', so
// records are taken every 4th line instead of matching '@' (which also
// prefixes quality lines when Phred scores collide with '@'). Each ID is
// the header line up to the first whitespace, sigil stripped.
func queryIDs(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<16)
	first, err := br.Peek(1)
	if err != nil {
		return nil
	}

	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	var ids []string
	if len(first) > 0 && first[0] == '@' {
		line := 0
		for sc.Scan() {
			if line%4 == 0 {
				ids = append(ids, headerID(sc.Text()))
			}
			line++
		}
		return ids
	}

	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), ">") {
			ids = append(ids, headerID(sc.Text()))
		}
	}
	return ids
}

// headerID strips the FASTA/FASTQ sigil and trims to the first whitespace.
func headerID(line string) string {
	line = strings.TrimPrefix(strings.TrimPrefix(line, ">"), "@")
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		line = line[:i]
	}
	return line
}

// span is the narrow subset of oteltrace.Span the orchestrator needs;
// satisfied structurally by both a real span and noopSpan.
type span interface {
	End(...oteltrace.SpanEndOption)
	SetAttributes(...attribute.KeyValue)
}

func startSpan(ctx context.Context, tr tracing.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, span) {
	if tr == nil {
		return ctx, noopSpan{}
	}
	ctx, sp := tr.Start(ctx, name)
	if len(attrs) > 0 {
		sp.SetAttributes(attrs...)
	}
	return ctx, sp
}

func endSpan(sp span) {
	if sp != nil {
		sp.End()
	}
}

type noopSpan struct{}

func (noopSpan) End(...oteltrace.SpanEndOption)      {}
func (noopSpan) SetAttributes(...attribute.KeyValue) {}
