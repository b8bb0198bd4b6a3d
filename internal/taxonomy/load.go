package taxonomy

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadNCBI reads the four files of an NCBI-style taxonomy dump and returns
// the Store built from them. nodesPath and namesPath are required; mergedPath
// and deletedPath may be empty if the dump carries no merges or deletions.
func LoadNCBI(nodesPath, namesPath, mergedPath, deletedPath string) (*Store, error) {
	var d Dump

	nodes, err := readPipeDelimited(nodesPath)
	if err != nil {
		return nil, &LoadError{Source: nodesPath, Reason: "cannot read nodes relation", Err: err}
	}
	for i, row := range nodes {
		if len(row) < 3 {
			return nil, &LoadError{Source: nodesPath, Reason: "malformed nodes row " + strconv.Itoa(i)}
		}
		taxid, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, &LoadError{Source: nodesPath, Reason: "bad taxid in nodes row " + strconv.Itoa(i), Err: err}
		}
		parent, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return nil, &LoadError{Source: nodesPath, Reason: "bad parent in nodes row " + strconv.Itoa(i), Err: err}
		}
		d.Nodes = append(d.Nodes, NodeRecord{TaxID: TaxID(taxid), Parent: TaxID(parent), Rank: row[2]})
	}

	names, err := readPipeDelimited(namesPath)
	if err != nil {
		return nil, &LoadError{Source: namesPath, Reason: "cannot read names relation", Err: err}
	}
	for i, row := range names {
		if len(row) < 4 {
			return nil, &LoadError{Source: namesPath, Reason: "malformed names row " + strconv.Itoa(i)}
		}
		if row[3] != "scientific name" {
			continue
		}
		taxid, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, &LoadError{Source: namesPath, Reason: "bad taxid in names row " + strconv.Itoa(i), Err: err}
		}
		d.Names = append(d.Names, NameRecord{TaxID: TaxID(taxid), Name: row[1]})
	}

	if mergedPath != "" {
		merged, err := readPipeDelimited(mergedPath)
		if err != nil {
			return nil, &LoadError{Source: mergedPath, Reason: "cannot read merged relation", Err: err}
		}
		for i, row := range merged {
			if len(row) < 2 {
				return nil, &LoadError{Source: mergedPath, Reason: "malformed merged row " + strconv.Itoa(i)}
			}
			old, err := strconv.ParseInt(row[0], 10, 64)
			if err != nil {
				return nil, &LoadError{Source: mergedPath, Reason: "bad old taxid in merged row " + strconv.Itoa(i), Err: err}
			}
			nu, err := strconv.ParseInt(row[1], 10, 64)
			if err != nil {
				return nil, &LoadError{Source: mergedPath, Reason: "bad new taxid in merged row " + strconv.Itoa(i), Err: err}
			}
			d.Merged = append(d.Merged, MergeRecord{Old: TaxID(old), New: TaxID(nu)})
		}
	}

	if deletedPath != "" {
		deleted, err := readPipeDelimited(deletedPath)
		if err != nil {
			return nil, &LoadError{Source: deletedPath, Reason: "cannot read deleted set", Err: err}
		}
		for i, row := range deleted {
			if len(row) < 1 {
				continue
			}
			taxid, err := strconv.ParseInt(row[0], 10, 64)
			if err != nil {
				return nil, &LoadError{Source: deletedPath, Reason: "bad taxid in deleted row " + strconv.Itoa(i), Err: err}
			}
			d.Deleted = append(d.Deleted, TaxID(taxid))
		}
	}

	return Load(d)
}

// readPipeDelimited parses a "|"-delimited NCBI dump file into rows of
// trimmed fields. Trailing empty fields from the dump's "\t|\n" line
// terminator convention are dropped.
func readPipeDelimited(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scanPipeDelimited(f)
}

func scanPipeDelimited(r io.Reader) ([][]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var rows [][]string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		for i, f := range fields {
			fields[i] = strings.TrimSpace(f)
		}
		for len(fields) > 0 && fields[len(fields)-1] == "" {
			fields = fields[:len(fields)-1]
		}
		rows = append(rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
