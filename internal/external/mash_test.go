package external

import (
	"strings"
	"testing"
)

func TestMashBuildCommandRequiresQueryAndReferences(t *testing.T) {
	if _, err := (Mash{}).BuildCommand(); err == nil {
		t.Error("BuildCommand with no query/references: got nil error, want failure")
	}
}

func TestMashBuildCommandIncludesFlags(t *testing.T) {
	m := Mash{Cmd: "mash", Query: "reads.fa", References: "refs.fa", SketchSize: 1000, MaxPValue: 1}
	cmd, err := m.BuildCommand()
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	joined := strings.Join(cmd.Args, " ")
	if !strings.Contains(joined, "-s 1000") {
		t.Errorf("args %q missing sketch size flag", joined)
	}
	if !strings.Contains(joined, "reads.fa") || !strings.Contains(joined, "refs.fa") {
		t.Errorf("args %q missing query/references", joined)
	}
}

func TestMashBuildCommandDefaultsBinary(t *testing.T) {
	m := Mash{Query: "q.fa", References: "r.fa"}
	cmd, err := m.BuildCommand()
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if !strings.HasSuffix(cmd.Path, "mash") && !strings.Contains(cmd.Args[0], "mash") {
		t.Errorf("cmd.Args[0] = %q, want it to reference the default mash binary", cmd.Args[0])
	}
}

func TestParseMashLine(t *testing.T) {
	row, ok := parseMashLine("ref1\tquery1\t0.05\t0.0001\t900/1000")
	if !ok {
		t.Fatal("parseMashLine: want ok=true")
	}
	if row.ReferenceID != "ref1" {
		t.Errorf("ReferenceID = %q, want ref1", row.ReferenceID)
	}
	if row.Similarity < 0.94 || row.Similarity > 0.96 {
		t.Errorf("Similarity = %v, want ~0.95", row.Similarity)
	}
}

func TestParseMashLineClampsToUnitInterval(t *testing.T) {
	row, ok := parseMashLine("ref\tquery\t-0.1\t0\t1000/1000")
	if !ok {
		t.Fatal("parseMashLine: want ok=true")
	}
	if row.Similarity != 1 {
		t.Errorf("Similarity = %v, want clamped to 1", row.Similarity)
	}
}

func TestParseMashLineRejectsMalformedRow(t *testing.T) {
	if _, ok := parseMashLine("too\tfew\tfields"); ok {
		t.Error("parseMashLine with 3 fields: want ok=false")
	}
	if _, ok := parseMashLine("ref\tquery\tnotanumber\t0\t1/1"); ok {
		t.Error("parseMashLine with non-numeric distance: want ok=false")
	}
}
