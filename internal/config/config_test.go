package config

import (
	"errors"
	"testing"

	"github.com/ieeta-pt/hymet/internal/resolve"
)

func noFile(path string) ([]byte, error) {
	return nil, errors.New("unexpected file read: " + path)
}

func noEnv(string) (string, bool) { return "", false }

func TestLoadRequiresReadsOrContigs(t *testing.T) {
	_, err := Load(Flags{}, noEnv, noFile)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Load() err = %v, want *ConfigError", err)
	}
}

func TestLoadRejectsBothReadsAndContigs(t *testing.T) {
	_, err := Load(Flags{Reads: "a.fq", Contigs: "b.fa"}, noEnv, noFile)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Load() err = %v, want *ConfigError", err)
	}
}

func TestLoadAppliesFlagsOverDefaults(t *testing.T) {
	cfg, err := Load(Flags{Reads: "a.fq", CacheRoot: "/tmp/cache"}, noEnv, noFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheRoot != "/tmp/cache" {
		t.Errorf("CacheRoot = %q, want /tmp/cache", cfg.CacheRoot)
	}
}

func TestLoadEnvOverridesDefaultButNotFlag(t *testing.T) {
	env := map[string]string{"CACHE_ROOT": "/env/cache"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg, err := Load(Flags{Reads: "a.fq"}, lookup, noFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheRoot != "/env/cache" {
		t.Errorf("CacheRoot = %q, want /env/cache", cfg.CacheRoot)
	}

	cfg2, err := Load(Flags{Reads: "a.fq", CacheRoot: "/flag/cache"}, lookup, noFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg2.CacheRoot != "/flag/cache" {
		t.Errorf("CacheRoot = %q, want /flag/cache (flag beats env)", cfg2.CacheRoot)
	}
}

func TestLoadReadWeightingFlag(t *testing.T) {
	cfg, err := Load(Flags{Reads: "a.fq", ReadWeighting: "coverage"}, noEnv, noFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Resolver.Weighting != resolve.CoverageOnly {
		t.Errorf("Weighting = %v, want CoverageOnly", cfg.Resolver.Weighting)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	data := []byte("cache_root: /yaml/cache\nmin_taxid_support: 3\n")
	readFile := func(path string) ([]byte, error) {
		if path != "conf.yaml" {
			return nil, errors.New("unexpected path")
		}
		return data, nil
	}
	cfg, err := Load(Flags{Reads: "a.fq", ConfigFile: "conf.yaml"}, noEnv, readFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheRoot != "/yaml/cache" {
		t.Errorf("CacheRoot = %q, want /yaml/cache", cfg.CacheRoot)
	}
	if cfg.Resolver.MinTaxidSupport != 3 {
		t.Errorf("MinTaxidSupport = %d, want 3", cfg.Resolver.MinTaxidSupport)
	}
}

func TestLoadThreadsCandMaxAndSpeciesDedupFlags(t *testing.T) {
	cfg, err := Load(Flags{
		Reads:        "a.fq",
		Threads:      8,
		CandMax:      50,
		SpeciesDedup: true,
		Set:          map[string]bool{"threads": true, "cand-max": true, "species-dedup": true},
	}, noEnv, noFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Threads != 8 {
		t.Errorf("Threads = %d, want 8", cfg.Threads)
	}
	if cfg.Selector.CandMax != 50 {
		t.Errorf("Selector.CandMax = %d, want 50", cfg.Selector.CandMax)
	}
	if !cfg.Selector.SpeciesDedup {
		t.Error("Selector.SpeciesDedup = false, want true")
	}
}

func TestLoadRejectsNonPositiveThreads(t *testing.T) {
	_, err := Load(Flags{Reads: "a.fq", Threads: 0, Set: map[string]bool{"threads": true}}, noEnv, noFile)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Load() err = %v, want *ConfigError", err)
	}
}

func TestLoadAllowEmptyFlag(t *testing.T) {
	cfg, err := Load(Flags{Reads: "a.fq", AllowEmpty: true, Set: map[string]bool{"allow-empty": true}}, noEnv, noFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.AllowEmpty {
		t.Error("AllowEmpty = false, want true")
	}
}

func TestRefDirFallsBackToTaxonomyDir(t *testing.T) {
	cfg, err := Load(Flags{Reads: "a.fq", TaxonomyDir: "/tax"}, noEnv, noFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RefDir() != "/tax" {
		t.Errorf("RefDir() = %q, want /tax (fallback)", cfg.RefDir())
	}
	cfg.AssemblySummaryDir = "/assembly"
	if cfg.RefDir() != "/assembly" {
		t.Errorf("RefDir() = %q, want /assembly", cfg.RefDir())
	}
}

func TestLoadRejectsThresholdFloorAboveInitial(t *testing.T) {
	data := []byte("initial_threshold: 0.5\nthreshold_floor: 0.9\n")
	readFile := func(string) ([]byte, error) { return data, nil }
	_, err := Load(Flags{Reads: "a.fq", ConfigFile: "conf.yaml"}, noEnv, readFile)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Load() err = %v, want *ConfigError", err)
	}
}
