package external

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sync/atomic"
	"text/template"

	"github.com/biogo/external"

	"github.com/ieeta-pt/hymet/internal/align"
)

// Minimap2 wraps the minimap2 long-read aligner, emitting PAF directly
// (-c disabled, no SAM). Field layout mirrors blasr.BLASR.
type Minimap2 struct {
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}minimap2{{end}}"`

	Preset     string `buildarg:"{{if .}}-x{{split}}{{.}}{{end}}"`
	Procs      int    `buildarg:"{{if .}}-t{{split}}{{.}}{{end}}"`
	SecondaryN int    `buildarg:"{{if .}}-N{{split}}{{.}}{{end}}"`

	Reference string `buildarg:"{{.}}"`
	Query     string `buildarg:"{{.}}"`
}

// BuildCommand returns an exec.Cmd built from the parameters in m.
func (m Minimap2) BuildCommand() (*exec.Cmd, error) {
	if m.Reference == "" || m.Query == "" {
		return nil, fmt.Errorf("minimap2: reference and query are required")
	}
	cl := external.Must(external.Build(m, template.FuncMap{}))
	return exec.Command(cl[0], cl[1:]...), nil
}

// Minimap2Aligner runs minimap2 as the Aligner collaborator, streaming its
// stdout through the PAF scanner.
type Minimap2Aligner struct {
	Bin       string
	Preset    string
	Procs     int
	MaxErrors int

	// ParseErrors, if set, receives the final PAF parse-error count once
	// this run's stream has been fully consumed.
	ParseErrors *atomic.Int64
}

// Align implements Aligner. The returned channel is closed once minimap2
// exits or ctx is cancelled; a parse or subprocess failure is reported by
// closing the channel early — callers should additionally check ctx.Err().
func (a Minimap2Aligner) Align(ctx context.Context, queries, referenceFasta string) (<-chan align.PafRecord, error) {
	m := Minimap2{Cmd: a.Bin, Preset: a.Preset, Procs: a.Procs, Reference: referenceFasta, Query: queries}
	built, err := m.BuildCommand()
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, built.Path, built.Args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("minimap2: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("minimap2: start: %w", err)
	}

	out := make(chan align.PafRecord, 64)
	go func() {
		defer close(out)
		maxErrors := a.MaxErrors
		if maxErrors <= 0 {
			maxErrors = 1000
		}
		sc := align.NewScanner(bufio.NewReaderSize(stdout, 1<<20), maxErrors)
		for sc.Next() {
			select {
			case out <- sc.Rec():
			case <-ctx.Done():
				_ = cmd.Process.Kill()
				if a.ParseErrors != nil {
					a.ParseErrors.Add(int64(sc.ParseErrors()))
				}
				return
			}
		}
		_ = cmd.Wait()
		if a.ParseErrors != nil {
			a.ParseErrors.Add(int64(sc.ParseErrors()))
		}
	}()
	return out, nil
}
