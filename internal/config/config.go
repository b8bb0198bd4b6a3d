// Package config resolves the immutable run configuration from layered
// sources: compiled-in defaults, an optional YAML file, environment
// variables, then CLI flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ieeta-pt/hymet/internal/align"
	"github.com/ieeta-pt/hymet/internal/cache"
	"github.com/ieeta-pt/hymet/internal/resolve"
	"github.com/ieeta-pt/hymet/internal/selector"
)

// ConfigError reports an invalid or contradictory configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the fully-resolved, immutable run configuration. Every
// downstream component accepts it (or a slice of it) by value.
type Config struct {
	Reads              string
	Contigs            string
	CacheRoot          string
	OutDir             string
	TaxonomyDir        string
	AssemblySummaryDir string // accession->taxid table + per-accession FASTA repo; defaults to TaxonomyDir when empty
	MetricsAddr        string
	AmbiguousGFF       bool
	KeepWork           bool
	ForceRebuild       bool
	Threads            int
	AllowEmpty         bool // on an empty candidate set, write all-unclassified output instead of none

	Selector selector.Config
	Align    align.Config
	Resolver resolve.Config
	Prune    cache.PruneConfig
}

// RefDir returns the directory holding the accession->taxid table and the
// per-accession FASTA repo, falling back to TaxonomyDir when
// AssemblySummaryDir was never set.
func (c Config) RefDir() string {
	if c.AssemblySummaryDir != "" {
		return c.AssemblySummaryDir
	}
	return c.TaxonomyDir
}

// fileConfig mirrors the YAML schema for an optional --config file. Zero
// values mean "not set, keep the default/earlier layer".
type fileConfig struct {
	CacheRoot          string `yaml:"cache_root"`
	TaxonomyDir        string `yaml:"taxonomy_dir"`
	AssemblySummaryDir string `yaml:"assembly_summary_dir"`
	MetricsAddr        string `yaml:"metrics_addr"`
	AmbiguousGFF       bool   `yaml:"ambiguous_gff"`
	KeepWork           bool   `yaml:"keep_work"`
	ForceRebuild       bool   `yaml:"force_download"`
	AllowEmpty         bool   `yaml:"allow_empty"`
	ReadWeighting      string `yaml:"read_weighting"`
	Threads            *int   `yaml:"threads"`
	SpeciesDedup       bool   `yaml:"species_dedup"`

	RelCovThreshold  *float64 `yaml:"rel_cov_threshold"`
	AbsCovThreshold  *float64 `yaml:"abs_cov_threshold"`
	MinSupportWeight *float64 `yaml:"min_support_weight"`
	MinTaxidSupport  *int     `yaml:"min_taxid_support"`
	TieEpsilon       *float64 `yaml:"tie_epsilon"`

	InitialThreshold    *float64 `yaml:"initial_threshold"`
	ThresholdStep       *float64 `yaml:"threshold_step"`
	ThresholdFloor      *float64 `yaml:"threshold_floor"`
	CandidateMultiplier *float64 `yaml:"candidate_multiplier"`
	CandMax             *int     `yaml:"cand_max"`
}

// Flags is the subset of cobra flag values relevant to Load; kept as a
// plain struct so Load has no dependency on cobra itself.
type Flags struct {
	Reads              string
	Contigs            string
	CacheRoot          string
	OutDir             string
	TaxonomyDir        string
	AssemblySummaryDir string
	ConfigFile         string
	MetricsAddr        string
	AmbiguousGFF       bool
	KeepWork           bool
	ForceRebuild       bool
	AllowEmpty         bool
	ReadWeighting      string
	Threads            int
	CandMax            int
	SpeciesDedup       bool

	// Set is the set of flag names the user explicitly passed, so Load can
	// tell "default value" from "explicitly requested" when a flag's zero
	// value is also its default (e.g. a bool flag left false, or an int
	// flag left at 0).
	Set map[string]bool
}

// EnvLookup mirrors os.LookupEnv so tests can inject a fake environment.
type EnvLookup func(key string) (string, bool)

// FileReader mirrors os.ReadFile so tests can inject an in-memory file.
type FileReader func(path string) ([]byte, error)

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		CacheRoot:   "./hymet-cache",
		OutDir:      "./hymet-out",
		TaxonomyDir: "./taxdump",
		Threads:     4,
		Selector:    selector.DefaultConfig(),
		Align:       align.DefaultConfig(),
		Resolver:    resolve.DefaultConfig(),
		Prune:       cache.PruneConfig{MaxAge: 30 * 24 * time.Hour},
	}
}

// Load resolves defaults -> YAML file -> environment -> flags, validates
// the result, and returns it.
func Load(flags Flags, lookup EnvLookup, readFile FileReader) (Config, error) {
	cfg := Default()

	if flags.ConfigFile != "" {
		raw, err := readFile(flags.ConfigFile)
		if err != nil {
			return Config{}, &ConfigError{Field: "config", Reason: fmt.Sprintf("reading %s: %v", flags.ConfigFile, err)}
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Config{}, &ConfigError{Field: "config", Reason: fmt.Sprintf("parsing %s: %v", flags.ConfigFile, err)}
		}
		applyFile(&cfg, fc)
	}

	applyEnv(&cfg, lookup)
	applyFlags(&cfg, flags)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) {
	if fc.CacheRoot != "" {
		cfg.CacheRoot = fc.CacheRoot
	}
	if fc.TaxonomyDir != "" {
		cfg.TaxonomyDir = fc.TaxonomyDir
	}
	if fc.AssemblySummaryDir != "" {
		cfg.AssemblySummaryDir = fc.AssemblySummaryDir
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsAddr = fc.MetricsAddr
	}
	cfg.AmbiguousGFF = cfg.AmbiguousGFF || fc.AmbiguousGFF
	cfg.KeepWork = cfg.KeepWork || fc.KeepWork
	cfg.ForceRebuild = cfg.ForceRebuild || fc.ForceRebuild
	cfg.AllowEmpty = cfg.AllowEmpty || fc.AllowEmpty
	cfg.Selector.SpeciesDedup = cfg.Selector.SpeciesDedup || fc.SpeciesDedup
	if fc.ReadWeighting != "" {
		applyReadWeighting(cfg, fc.ReadWeighting)
	}
	if fc.Threads != nil {
		cfg.Threads = *fc.Threads
	}

	if fc.RelCovThreshold != nil {
		cfg.Align.RelCovThreshold = *fc.RelCovThreshold
	}
	if fc.AbsCovThreshold != nil {
		cfg.Align.AbsCovThreshold = *fc.AbsCovThreshold
	}
	if fc.MinSupportWeight != nil {
		cfg.Resolver.MinSupportWeight = *fc.MinSupportWeight
	}
	if fc.MinTaxidSupport != nil {
		cfg.Resolver.MinTaxidSupport = *fc.MinTaxidSupport
	}
	if fc.TieEpsilon != nil {
		cfg.Resolver.TieEpsilon = *fc.TieEpsilon
	}
	if fc.InitialThreshold != nil {
		cfg.Selector.InitialThreshold = *fc.InitialThreshold
	}
	if fc.ThresholdStep != nil {
		cfg.Selector.ThresholdStep = *fc.ThresholdStep
	}
	if fc.ThresholdFloor != nil {
		cfg.Selector.ThresholdFloor = *fc.ThresholdFloor
	}
	if fc.CandidateMultiplier != nil {
		cfg.Selector.CandidateMultiplier = *fc.CandidateMultiplier
	}
	if fc.CandMax != nil {
		cfg.Selector.CandMax = *fc.CandMax
	}
}

func applyEnv(cfg *Config, lookup EnvLookup) {
	if lookup == nil {
		return
	}
	if v, ok := lookup("CACHE_ROOT"); ok && v != "" {
		cfg.CacheRoot = v
	}
	if v, ok := lookup("FORCE_DOWNLOAD"); ok && v != "" {
		cfg.ForceRebuild = v == "1" || v == "true"
	}
	if v, ok := lookup("KEEP_HYMET_WORK"); ok && v != "" {
		cfg.KeepWork = v == "1" || v == "true"
	}
}

func applyFlags(cfg *Config, f Flags) {
	if f.Set == nil {
		f.Set = map[string]bool{}
	}
	if f.Reads != "" {
		cfg.Reads = f.Reads
	}
	if f.Contigs != "" {
		cfg.Contigs = f.Contigs
	}
	if f.CacheRoot != "" {
		cfg.CacheRoot = f.CacheRoot
	}
	if f.OutDir != "" {
		cfg.OutDir = f.OutDir
	}
	if f.TaxonomyDir != "" {
		cfg.TaxonomyDir = f.TaxonomyDir
	}
	if f.AssemblySummaryDir != "" {
		cfg.AssemblySummaryDir = f.AssemblySummaryDir
	}
	if f.MetricsAddr != "" {
		cfg.MetricsAddr = f.MetricsAddr
	}
	if f.Set["ambiguous-gff"] {
		cfg.AmbiguousGFF = f.AmbiguousGFF
	}
	if f.Set["keep-work"] {
		cfg.KeepWork = f.KeepWork
	}
	if f.Set["force-download"] {
		cfg.ForceRebuild = f.ForceRebuild
	}
	if f.Set["allow-empty"] {
		cfg.AllowEmpty = f.AllowEmpty
	}
	if f.Set["species-dedup"] {
		cfg.Selector.SpeciesDedup = f.SpeciesDedup
	}
	if f.Set["threads"] {
		cfg.Threads = f.Threads
	}
	if f.Set["cand-max"] {
		cfg.Selector.CandMax = f.CandMax
	}
	if f.ReadWeighting != "" {
		applyReadWeighting(cfg, f.ReadWeighting)
	}
}

func applyReadWeighting(cfg *Config, v string) {
	switch v {
	case "identity":
		cfg.Resolver.Weighting = resolve.IdentityWeighted
	case "coverage":
		cfg.Resolver.Weighting = resolve.CoverageOnly
	}
}

func validate(cfg Config) error {
	if cfg.Reads == "" && cfg.Contigs == "" {
		return &ConfigError{Field: "reads/contigs", Reason: "exactly one of --reads or --contigs is required"}
	}
	if cfg.Reads != "" && cfg.Contigs != "" {
		return &ConfigError{Field: "reads/contigs", Reason: "--reads and --contigs are mutually exclusive"}
	}
	if cfg.Selector.ThresholdFloor > cfg.Selector.InitialThreshold {
		return &ConfigError{Field: "selector", Reason: "threshold_floor must not exceed initial_threshold"}
	}
	if cfg.Align.RelCovThreshold < 0 || cfg.Align.RelCovThreshold > 1 {
		return &ConfigError{Field: "rel_cov_threshold", Reason: "must be in [0,1]"}
	}
	if cfg.Resolver.ConfidenceFloor < 0 || cfg.Resolver.ConfidenceFloor > 1 {
		return &ConfigError{Field: "confidence_floor", Reason: "must be in [0,1]"}
	}
	if cfg.Threads <= 0 {
		return &ConfigError{Field: "threads", Reason: "must be positive"}
	}
	return nil
}

// OSEnvLookup is the EnvLookup backed by the real process environment.
func OSEnvLookup(key string) (string, bool) { return os.LookupEnv(key) }

// OSFileReader is the FileReader backed by the real filesystem.
func OSFileReader(path string) ([]byte, error) { return os.ReadFile(path) }
