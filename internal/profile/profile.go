// Package profile builds the sample-level CAMI abundance profile from a
// stream of resolver assignments.
package profile

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/ieeta-pt/hymet/internal/resolve"
	"github.com/ieeta-pt/hymet/internal/taxonomy"
)

// Row is one output row: (taxid, rank, taxonomic_path_ids, taxonomic_path_names, percentage).
type Row struct {
	TaxID            taxonomy.TaxID
	Rank             taxonomy.Rank
	TaxPathIDs       string
	TaxPathNames     string
	Percentage       float64
}

const precision = 6 // decimal places

// Build computes the CAMI profile over assignments, for every rank in
// taxonomy.Ranks.
func Build(assignments []resolve.Assignment, tax *taxonomy.Store) []Row {
	var out []Row
	for _, rank := range taxonomy.Ranks {
		accum := make(map[taxonomy.TaxID]float64)
		for _, a := range assignments {
			if a.AssignedTaxID == 0 {
				continue
			}
			anc := tax.AncestorAtRank(a.AssignedTaxID, rank)
			if anc == 0 {
				continue
			}
			accum[anc] += a.SupportWeight
		}
		if len(accum) == 0 {
			continue
		}
		out = append(out, normalise(accum, rank, tax)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return rankOrder(out[i].Rank) < rankOrder(out[j].Rank)
		}
		if out[i].Percentage != out[j].Percentage {
			return out[i].Percentage > out[j].Percentage
		}
		return out[i].TaxID < out[j].TaxID
	})
	return out
}

func rankOrder(r taxonomy.Rank) int {
	for i, rr := range taxonomy.Ranks {
		if rr == r {
			return i
		}
	}
	return len(taxonomy.Ranks)
}

// normalise converts raw support weights for one rank into percentages
// summing to exactly 100, with six-decimal round-half-to-even rounding and
// the residual distributed to the largest bin.
func normalise(accum map[taxonomy.TaxID]float64, rank taxonomy.Rank, tax *taxonomy.Store) []Row {
	var total float64
	for _, w := range accum {
		total += w
	}

	ids := make([]taxonomy.TaxID, 0, len(accum))
	for id := range accum {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	scale := math.Pow10(precision)
	rows := make([]Row, len(ids))
	var sum float64
	largest := 0
	for i, id := range ids {
		pct := roundHalfToEven(accum[id]/total*100*scale) / scale
		rows[i] = Row{
			TaxID:        id,
			Rank:         rank,
			TaxPathIDs:   pathIDs(id, tax),
			TaxPathNames: pathNames(id, tax),
			Percentage:   pct,
		}
		sum += pct
		if accum[id] > accum[ids[largest]] {
			largest = i
		}
	}

	residual := roundHalfToEven((100-sum)*scale) / scale
	if residual != 0 {
		rows[largest].Percentage = roundHalfToEven((rows[largest].Percentage+residual)*scale) / scale
	}
	return rows
}

func roundHalfToEven(x float64) float64 {
	floor := math.Floor(x)
	diff := x - floor
	switch {
	case diff < 0.5:
		return floor
	case diff > 0.5:
		return floor + 1
	default:
		if math.Mod(floor, 2) == 0 {
			return floor
		}
		return floor + 1
	}
}

func pathIDs(t taxonomy.TaxID, tax *taxonomy.Store) string {
	lin := tax.Lineage(t)
	return joinTaxids(lin)
}

func pathNames(t taxonomy.TaxID, tax *taxonomy.Store) string {
	return tax.LineageString(t, "|")
}

func joinTaxids(lin []taxonomy.TaxID) string {
	s := ""
	for i := len(lin) - 1; i >= 0; i-- {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprint(int64(lin[i]))
	}
	return s
}

// WriteCAMI writes rows in the CAMI TSV profile format.
func WriteCAMI(w io.Writer, sampleID, version string, rows []Row) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "#CAMI Submission")
	fmt.Fprintf(bw, "@SampleID:%s\n", sampleID)
	fmt.Fprintf(bw, "@Version:%s\n", version)
	rankNames := make([]string, len(taxonomy.Ranks))
	for i, r := range taxonomy.Ranks {
		rankNames[i] = r.String()
	}
	fmt.Fprintf(bw, "@Ranks:%s\n", joinStrings(rankNames, "|"))
	fmt.Fprintln(bw, "TAXID\tRANK\tTAXPATH\tTAXPATHSN\tPERCENTAGE")
	for _, r := range rows {
		fmt.Fprintf(bw, "%d\t%s\t%s\t%s\t%.6f\n", r.TaxID, r.Rank, r.TaxPathIDs, r.TaxPathNames, r.Percentage)
	}
	return bw.Flush()
}

func joinStrings(ss []string, sep string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += sep
		}
		out += s
	}
	return out
}
