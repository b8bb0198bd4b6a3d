package external

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"text/template"

	"github.com/biogo/external"

	"github.com/ieeta-pt/hymet/internal/selector"
)

// Mash wraps the `mash dist` sketch-and-screen tool. Field tags follow the
// buildarg convention used throughout this package's subprocess adapters.
type Mash struct {
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}mash{{end}}"`

	Query      string `buildarg:"{{.}}"`
	References string `buildarg:"{{.}}"`

	SketchSize int     `buildarg:"{{if .}}-s{{split}}{{.}}{{end}}"`
	KmerSize   int     `buildarg:"{{if .}}-k{{split}}{{.}}{{end}}"`
	MaxDist    float64 `buildarg:"{{if .}}-d{{split}}{{.}}{{end}}"`
	MaxPValue  float64 `buildarg:"{{if .}}-v{{split}}{{.}}{{end}}"`
	Procs      int     `buildarg:"{{if .}}-p{{split}}{{.}}{{end}}"`
}

// BuildCommand returns an exec.Cmd built from the parameters in m.
func (m Mash) BuildCommand() (*exec.Cmd, error) {
	if m.Query == "" || m.References == "" {
		return nil, fmt.Errorf("mash: query and references are required")
	}
	cl := external.Must(external.Build(m, template.FuncMap{}))
	return exec.Command(cl[0], cl[1:]...), nil
}

// MashSketcher runs `mash dist` as the Sketcher collaborator and turns its
// tab-separated output into ScreenRows.
type MashSketcher struct {
	Bin   string
	Procs int
}

// Screen implements Sketcher.
func (s MashSketcher) Screen(ctx context.Context, queries, referencePanel string) ([]selector.ScreenRow, error) {
	m := Mash{Cmd: s.Bin, Query: queries, References: referencePanel, MaxPValue: 1, Procs: s.Procs}
	cmd, err := m.BuildCommand()
	if err != nil {
		return nil, err
	}
	cmd = exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mash: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mash: start: %w", err)
	}

	var rows []selector.ScreenRow
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		row, ok := parseMashLine(sc.Text())
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		_ = cmd.Wait()
		return nil, fmt.Errorf("mash: reading output: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("mash: %w", err)
	}
	return rows, nil
}

// parseMashLine parses one `mash dist` row:
// reference_id query_id distance p_value shared_hashes/sketch_size.
// Distance is converted to a similarity in [0,1] via 1-distance, clamped.
func parseMashLine(line string) (selector.ScreenRow, bool) {
	f := strings.Split(line, "\t")
	if len(f) < 5 {
		return selector.ScreenRow{}, false
	}
	dist, err := strconv.ParseFloat(f[2], 64)
	if err != nil {
		return selector.ScreenRow{}, false
	}
	sim := 1 - dist
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return selector.ScreenRow{ReferenceID: f[0], Similarity: sim}, true
}
