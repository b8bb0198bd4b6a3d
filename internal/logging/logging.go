// Package logging builds the process-wide structured logger: an explicit
// output stream threaded through the program, generalised to zap's
// structured fields and a dedicated log file.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-mode *zap.Logger writing JSON to
// <outDir>/logs/hymet.log plus warn-and-above to stderr.
func New(outDir string) (*zap.Logger, error) {
	logDir := filepath.Join(outDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "hymet.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(f), zapcore.DebugLevel)
	stderrCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(os.Stderr), zapcore.WarnLevel)

	return zap.New(zapcore.NewTee(fileCore, stderrCore)), nil
}

// openComponentLog opens (creating if necessary) a newline-delimited JSON
// log file under <outDir>/logs/<name>, passing warn-and-above entries on to
// the parent logger's cores as well (its stderr core and hymet.log) so
// failures are never silent.
func openComponentLog(outDir, name string, parent *zap.Logger) (*zap.Logger, error) {
	logDir := filepath.Join(outDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(f), zapcore.InfoLevel)
	if parent != nil {
		if warn, err := zapcore.NewIncreaseLevelCore(parent.Core(), zapcore.WarnLevel); err == nil {
			core = zapcore.NewTee(core, warn)
		}
	}
	return zap.New(core), nil
}

// CandidateLimitLogger returns the logger writing candidate_limit.log
// entries (threshold chosen, number of references selected, selection
// fingerprint). Per-iteration row counts are not recorded.
func CandidateLimitLogger(outDir string, parent *zap.Logger) (*zap.Logger, error) {
	l, err := openComponentLog(outDir, "candidate_limit.log", parent)
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("component", "candidate_selector")), nil
}

// ResolverCountersLogger returns the logger writing resolver_counters.log
// entries (parse errors, unknown taxids/references, ambiguous calls).
func ResolverCountersLogger(outDir string, parent *zap.Logger) (*zap.Logger, error) {
	l, err := openComponentLog(outDir, "resolver_counters.log", parent)
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("component", "resolver")), nil
}
