package taxonomy

import (
	"os"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("os.WriteFile(%s): %v", path, err)
	}
}

func TestScanPipeDelimitedTrimsAndDropsTrailingEmpty(t *testing.T) {
	const input = "1\t|\t1\t|\tno rank\t|\n2\t|\t1\t|\tsuperkingdom\t|\n"
	rows, err := scanPipeDelimited(strings.NewReader(input))
	if err != nil {
		t.Fatalf("scanPipeDelimited: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0][0] != "1" || rows[0][1] != "1" || rows[0][2] != "no rank" {
		t.Errorf("rows[0] = %v, want [1 1 \"no rank\"]", rows[0])
	}
	if len(rows[0]) != 3 {
		t.Errorf("len(rows[0]) = %d, want 3 (trailing empty field dropped)", len(rows[0]))
	}
}

func TestScanPipeDelimitedSkipsBlankLines(t *testing.T) {
	rows, err := scanPipeDelimited(strings.NewReader("1\t|\t1\t|\tno rank\t|\n\n2\t|\t1\t|\tgenus\t|\n"))
	if err != nil {
		t.Fatalf("scanPipeDelimited: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("len(rows) = %d, want 2 (blank line skipped)", len(rows))
	}
}

func TestLoadNCBIBuildsUsableStore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/nodes.dmp", "1\t|\t1\t|\tno rank\t|\n"+
		"2\t|\t1\t|\tsuperkingdom\t|\n"+
		"561\t|\t2\t|\tgenus\t|\n"+
		"511145\t|\t561\t|\tspecies\t|\n")
	writeFile(t, dir+"/names.dmp", "1\t|\troot\t|\t\t|\tscientific name\t|\n"+
		"2\t|\tBacteria\t|\t\t|\tscientific name\t|\n"+
		"561\t|\tEscherichia\t|\t\t|\tscientific name\t|\n"+
		"511145\t|\tEscherichia coli\t|\t\t|\tscientific name\t|\n"+
		"511145\t|\tE. coli\t|\t\t|\tsynonym\t|\n")
	writeFile(t, dir+"/merged.dmp", "999\t|\t511145\t|\n")

	s, err := LoadNCBI(dir+"/nodes.dmp", dir+"/names.dmp", dir+"/merged.dmp", "")
	if err != nil {
		t.Fatalf("LoadNCBI: %v", err)
	}
	if s.Name(511145) != "Escherichia coli" {
		t.Errorf("Name(511145) = %q, want %q (synonym row must be filtered out)", s.Name(511145), "Escherichia coli")
	}
	if s.Canonical(999) != 511145 {
		t.Errorf("Canonical(999) = %d, want 511145", s.Canonical(999))
	}
	if s.Rank(561) != Genus {
		t.Errorf("Rank(561) = %v, want genus", s.Rank(561))
	}
}

func TestLoadNCBIMissingDeletedPathIsOptional(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/nodes.dmp", "1\t|\t1\t|\tno rank\t|\n")
	writeFile(t, dir+"/names.dmp", "1\t|\troot\t|\t\t|\tscientific name\t|\n")

	if _, err := LoadNCBI(dir+"/nodes.dmp", dir+"/names.dmp", "", ""); err != nil {
		t.Fatalf("LoadNCBI with no merged/deleted paths: %v", err)
	}
}

func TestLoadNCBIBadNodesFileFails(t *testing.T) {
	if _, err := LoadNCBI("/nonexistent/nodes.dmp", "/nonexistent/names.dmp", "", ""); err == nil {
		t.Error("LoadNCBI with missing nodes file: got nil error, want failure")
	}
}
