package selector

import (
	"testing"
)

func rows(n int, sim float64) []ScreenRow {
	out := make([]ScreenRow, n)
	for i := range out {
		out[i] = ScreenRow{Similarity: sim, ReferenceID: string(rune('a' + i))}
	}
	return out
}

func TestSelectBasicThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandMax = 0
	rs := rows(10, 0.95)
	sel, err := Select(rs, 1, cfg, nil, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel.References) != 10 {
		t.Errorf("len(References) = %d, want 10", len(sel.References))
	}
}

func TestSelectThresholdDecreasesUntilMinimumMet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandMax = 0
	// 3 queries => m = max(5, ceil(3.25*3)) = 10. Only 3 rows above 0.90,
	// more appear as the threshold relaxes.
	rs := []ScreenRow{
		{Similarity: 0.99, ReferenceID: "a"},
		{Similarity: 0.95, ReferenceID: "b"},
		{Similarity: 0.91, ReferenceID: "c"},
		{Similarity: 0.85, ReferenceID: "d"},
		{Similarity: 0.80, ReferenceID: "e"},
		{Similarity: 0.75, ReferenceID: "f"},
		{Similarity: 0.72, ReferenceID: "g"},
		{Similarity: 0.71, ReferenceID: "h"},
		{Similarity: 0.705, ReferenceID: "i"},
		{Similarity: 0.701, ReferenceID: "j"},
	}
	sel, err := Select(rs, 3, cfg, nil, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel.References) < 10 {
		t.Errorf("len(References) = %d, want >= 10 once threshold relaxed", len(sel.References))
	}
}

func TestSelectOrderingAndFingerprintStable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandMax = 0
	rs1 := []ScreenRow{
		{Similarity: 0.99, ReferenceID: "a"},
		{Similarity: 0.95, ReferenceID: "b"},
		{Similarity: 0.95, ReferenceID: "c"},
	}
	rs2 := []ScreenRow{
		{Similarity: 0.95, ReferenceID: "c"},
		{Similarity: 0.99, ReferenceID: "a"},
		{Similarity: 0.95, ReferenceID: "b"},
	}
	sel1, err := Select(rs1, 1, cfg, nil, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	sel2, err := Select(rs2, 1, cfg, nil, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel1.Fingerprint != sel2.Fingerprint {
		t.Errorf("fingerprint not invariant to input order: %s vs %s", sel1.Fingerprint, sel2.Fingerprint)
	}
	want := []string{"a", "b", "c"}
	for i, r := range want {
		if sel1.References[i] != r {
			t.Errorf("References[%d] = %s, want %s", i, sel1.References[i], r)
		}
	}
}

func TestSelectEmptyCandidateSet(t *testing.T) {
	cfg := DefaultConfig()
	rs := []ScreenRow{{Similarity: 0.5, ReferenceID: "a"}}
	_, err := Select(rs, 1, cfg, nil, nil)
	if err == nil {
		t.Fatal("Select: expected EmptyCandidateSetError, got nil")
	}
	if _, ok := err.(*EmptyCandidateSetError); !ok {
		t.Fatalf("Select: expected *EmptyCandidateSetError, got %T", err)
	}
}

func TestSelectCandMaxTruncates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandMax = 2
	rs := rows(10, 0.95)
	sel, err := Select(rs, 1, cfg, nil, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel.References) != 2 {
		t.Errorf("len(References) = %d, want 2", len(sel.References))
	}
}
