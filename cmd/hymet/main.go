// Command hymet classifies metagenomic reads or contigs against a
// reference panel: screen candidates, materialise a reference cache,
// align, aggregate coverage, and resolve each query to its best-supported
// taxon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ieeta-pt/hymet/internal/cache"
	"github.com/ieeta-pt/hymet/internal/config"
	"github.com/ieeta-pt/hymet/internal/external"
	"github.com/ieeta-pt/hymet/internal/logging"
	"github.com/ieeta-pt/hymet/internal/metrics"
	"github.com/ieeta-pt/hymet/internal/orchestrator"
	"github.com/ieeta-pt/hymet/internal/registry"
	"github.com/ieeta-pt/hymet/internal/taxonomy"
	"github.com/ieeta-pt/hymet/internal/tracing"
)

// version is overwritten at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if exitErr, ok := asExitError(err); ok {
			fmt.Fprintln(os.Stderr, exitErr.Err)
			return exitErr.Code
		}
		fmt.Fprintln(os.Stderr, err)
		return orchestrator.ExitConfig
	}
	return orchestrator.ExitOK
}

func asExitError(err error) (*orchestrator.ExitError, bool) {
	for err != nil {
		if e, ok := err.(*orchestrator.ExitError); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hymet",
		Short:         "Taxonomic classifier for metagenomic reads and contigs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newPruneCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hymet version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var flags config.Flags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Classify reads or contigs against a reference panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Set = changedFlags(cmd.Flags())
			return runClassify(cmd.Context(), flags)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&flags.Reads, "reads", "", "path to a FASTQ file of reads (mutually exclusive with --contigs)")
	fs.StringVar(&flags.Contigs, "contigs", "", "path to a FASTA file of contigs (mutually exclusive with --reads)")
	fs.StringVar(&flags.CacheRoot, "cache-root", "", "reference cache root directory")
	fs.StringVar(&flags.OutDir, "out", "", "output directory")
	fs.StringVar(&flags.TaxonomyDir, "taxonomy-dir", "", "directory containing the NCBI taxonomy dump")
	fs.StringVar(&flags.AssemblySummaryDir, "assembly-summary-dir", "", "directory containing the accession->taxid table and per-accession FASTA repo (defaults to --taxonomy-dir)")
	fs.StringVar(&flags.ConfigFile, "config", "", "optional YAML configuration file")
	fs.StringVar(&flags.MetricsAddr, "metrics-addr", "", "address to serve /healthz and /metrics on (empty disables)")
	fs.BoolVar(&flags.AmbiguousGFF, "ambiguous-gff", false, "export a GFF3 file of ambiguous calls")
	fs.BoolVar(&flags.KeepWork, "keep-work", false, "has no effect: runs create no working directory to keep")
	fs.BoolVar(&flags.ForceRebuild, "force-download", false, "rebuild the reference cache even if an entry already exists")
	fs.BoolVar(&flags.AllowEmpty, "allow-empty", false, "on an empty candidate set, write an all-unclassified output instead of none")
	fs.StringVar(&flags.ReadWeighting, "read-weighting", "", "resolver vote weighting: identity (default) or coverage")
	fs.IntVar(&flags.Threads, "threads", 0, "thread count passed to the sketch and alignment subprocesses")
	fs.IntVar(&flags.CandMax, "cand-max", 0, "hard cap on the number of selected reference candidates")
	fs.BoolVar(&flags.SpeciesDedup, "species-dedup", false, "keep only the top-similarity candidate per species-level taxid")

	return cmd
}

func changedFlags(fs *pflag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = true })
	return set
}

func newPruneCmd() *cobra.Command {
	var cacheRoot string
	var maxAgeDays int
	var maxSizeGB float64
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Evict stale reference cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cacheRoot, maxAgeDays, maxSizeGB)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&cacheRoot, "cache-root", "./hymet-cache", "reference cache root directory")
	fs.IntVar(&maxAgeDays, "max-age-days", 30, "evict entries older than this many days (0 disables the age cap)")
	fs.Float64Var(&maxSizeGB, "max-size-gb", 0, "evict oldest entries until total size is under this many GB (0 disables)")
	return cmd
}

func runPrune(cacheRoot string, maxAgeDays int, maxSizeGB float64) error {
	ix, err := cache.OpenIndex(filepath.Join(cacheRoot, "index.sqlite"))
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitCacheBuild, Err: err}
	}
	defer ix.Close()

	cfg := cache.PruneConfig{
		MaxAge:  time.Duration(maxAgeDays) * 24 * time.Hour,
		MaxSize: int64(maxSizeGB * 1e9),
	}
	res, err := cache.Prune(ix, cfg)
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitCacheBuild, Err: err}
	}
	fmt.Printf("evicted %d, skipped %d, kept %d\n", len(res.Evicted), len(res.Skipped), len(res.Kept))
	return nil
}

func optionalDumpFile(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func runClassify(ctx context.Context, flags config.Flags) error {
	cfg, err := config.Load(flags, config.OSEnvLookup, config.OSFileReader)
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitConfig, Err: err}
	}

	logger, err := logging.New(cfg.OutDir)
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitConfig, Err: err}
	}
	defer logger.Sync()

	candLog, err := logging.CandidateLimitLogger(cfg.OutDir, logger)
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitConfig, Err: err}
	}
	resolverLog, err := logging.ResolverCountersLogger(cfg.OutDir, logger)
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitConfig, Err: err}
	}

	tax, err := taxonomy.LoadNCBI(
		filepath.Join(cfg.TaxonomyDir, "nodes.dmp"),
		filepath.Join(cfg.TaxonomyDir, "names.dmp"),
		optionalDumpFile(cfg.TaxonomyDir, "merged.dmp"),
		optionalDumpFile(cfg.TaxonomyDir, "delnodes.dmp"),
	)
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitTaxonomyLoad, Err: err}
	}

	reg, err := registry.BuildFromFile(filepath.Join(cfg.RefDir(), "reference_taxonomy.tsv"), tax)
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitTaxonomyLoad, Err: err}
	}

	cacheStore, err := cache.New(cfg.CacheRoot)
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitCacheBuild, Err: err}
	}
	idx, err := cache.OpenIndex(filepath.Join(cfg.CacheRoot, "index.sqlite"))
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitCacheBuild, Err: err}
	}
	defer idx.Close()

	metricsReg := metrics.NewRegistry()
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, metricsReg)
		srv.Start()
		defer srv.Shutdown(ctx)
	}
	tax.SetCounter(&metricsReg.UnknownTaxids)

	traceFile, err := os.OpenFile(filepath.Join(cfg.OutDir, "logs", "traces.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitConfig, Err: err}
	}
	defer traceFile.Close()
	tp, err := tracing.NewProvider(traceFile)
	if err != nil {
		return &orchestrator.ExitError{Code: orchestrator.ExitConfig, Err: err}
	}
	defer tp.Shutdown(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := orchestrator.Deps{
		Sketcher:         &external.MashSketcher{Bin: "mash", Procs: cfg.Threads},
		Aligner:          &external.Minimap2Aligner{Bin: "minimap2", Preset: "map-ont", Procs: cfg.Threads, ParseErrors: &metricsReg.ParseErrors},
		Materialiser:     &external.FastaMaterialiser{RepoDir: cfg.RefDir(), TaxonomyTSV: filepath.Join(cfg.RefDir(), "reference_taxonomy.tsv")},
		Taxonomy:         tax,
		Registry:         reg,
		Cache:            cacheStore,
		Index:            idx,
		Logger:           logger,
		CandidateLogger:  candLog,
		ResolverCounters: resolverLog,
		Metrics:          metricsReg,
		Tracer:           tracing.TracerFrom(tp),
	}

	return orchestrator.Run(ctx, cfg, deps)
}
