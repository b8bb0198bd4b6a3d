package align

import "testing"

func TestIntervalSetMergesOverlaps(t *testing.T) {
	var s IntervalSet
	s.Insert(0, 100)
	s.Insert(200, 1500)
	s.Insert(50, 250) // bridges the two spans
	if got, want := s.CoveredBases(), 1500; got != want {
		t.Errorf("CoveredBases = %d, want %d", got, want)
	}
	spans := s.Spans()
	if len(spans) != 1 || spans[0].Start != 0 || spans[0].End != 1500 {
		t.Errorf("Spans = %v, want [{0 1500}]", spans)
	}
}

func TestIntervalSetDisjoint(t *testing.T) {
	var s IntervalSet
	s.Insert(0, 10)
	s.Insert(20, 30)
	if got, want := s.CoveredBases(), 20; got != want {
		t.Errorf("CoveredBases = %d, want %d", got, want)
	}
	if len(s.Spans()) != 2 {
		t.Errorf("Spans len = %d, want 2", len(s.Spans()))
	}
}

func TestIntervalSetInsertOrderIndependent(t *testing.T) {
	var a, b IntervalSet
	a.Insert(0, 100)
	a.Insert(90, 200)
	a.Insert(300, 400)

	b.Insert(300, 400)
	b.Insert(90, 200)
	b.Insert(0, 100)

	if a.CoveredBases() != b.CoveredBases() {
		t.Errorf("order dependence: %d vs %d", a.CoveredBases(), b.CoveredBases())
	}
}
