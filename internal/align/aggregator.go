package align

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ieeta-pt/hymet/internal/registry"
	"github.com/ieeta-pt/hymet/internal/taxonomy"
)

// HitSummary is one surviving (query, reference) pair after filtering.
type HitSummary struct {
	QueryID         string
	ReferenceID     string
	QueryLen        int
	CoveredBases    int
	WeightedIdentity float64
	BestMapQ        int
	AlignmentCount  int
	TaxID           taxonomy.TaxID
}

// Config parametrises the Aggregator's coverage filters.
type Config struct {
	RelCovThreshold  float64 // default 0.5
	AbsCovThreshold  float64 // default 0.1
	DropUnknownTaxid bool
	MaxParseErrors   int
	QueueDepth       int // bounded queue between parser and consumer
}

// DefaultConfig returns documented defaults.
func DefaultConfig() Config {
	return Config{
		RelCovThreshold:  0.5,
		AbsCovThreshold:  0.1,
		DropUnknownTaxid: false,
		MaxParseErrors:   1000,
		QueueDepth:       64,
	}
}

// refState is the per-reference accumulator for one query's group.
type refState struct {
	referenceID string
	queryLen    int
	intervals   IntervalSet
	sumMatches  int
	sumAlnLen   int
	bestMapQ    int
	count       int
}

// Aggregate streams PafRecords already grouped by query (the
// resolver assumes grouped input; if the source is unsorted, group upstream
// with GroupByQuery first) from recs, and calls emit for every HitSummary
// surviving the configured filters. Only one query's state exists at a
// time; it is released immediately after emission to bound memory
// discipline.
//
// emit is called from a single goroutine fed by a bounded channel: the
// parser blocks when the channel is full, providing backpressure between
// streaming and whatever consumes summaries.
func Aggregate(ctx context.Context, recs <-chan PafRecord, cfg Config, reg *registry.Registry, emit func(HitSummary) error) error {
	g, ctx := errgroup.WithContext(ctx)
	summaries := make(chan HitSummary, cfg.QueueDepth)

	g.Go(func() error {
		defer close(summaries)
		return groupAndFilter(ctx, recs, cfg, reg, summaries)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case s, ok := <-summaries:
				if !ok {
					return nil
				}
				if err := emit(s); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

func groupAndFilter(ctx context.Context, recs <-chan PafRecord, cfg Config, reg *registry.Registry, out chan<- HitSummary) error {
	var curQuery string
	states := make(map[string]*refState)
	var order []string // stable emission order within a query group

	flush := func() error {
		for _, refID := range order {
			st := states[refID]
			s, ok := summarize(curQuery, st, cfg, reg)
			if !ok {
				continue
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		states = make(map[string]*refState)
		order = order[:0]
		return nil
	}

	first := true
	for {
		var rec PafRecord
		var ok bool
		select {
		case rec, ok = <-recs:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			break
		}
		if first {
			curQuery = rec.QueryID
			first = false
		}
		if rec.QueryID != curQuery {
			if err := flush(); err != nil {
				return err
			}
			curQuery = rec.QueryID
		}

		st, ok := states[rec.TargetID]
		if !ok {
			st = &refState{referenceID: rec.TargetID}
			states[rec.TargetID] = st
			order = append(order, rec.TargetID)
		}
		st.intervals.Insert(rec.QueryStart, rec.QueryEnd)
		st.sumMatches += rec.Matches
		st.sumAlnLen += rec.AlnLen
		st.count++
		if rec.MapQ > st.bestMapQ {
			st.bestMapQ = rec.MapQ
		}
		st.queryLen = rec.QueryLen
	}
	if !first {
		if err := flush(); err != nil {
			return err
		}
	}
	return nil
}

func summarize(queryID string, st *refState, cfg Config, reg *registry.Registry) (HitSummary, bool) {
	covered := st.intervals.CoveredBases()
	if st.queryLen == 0 {
		return HitSummary{}, false
	}
	relCov := float64(covered) / float64(st.queryLen)
	if relCov < cfg.RelCovThreshold {
		return HitSummary{}, false
	}
	if float64(covered) < cfg.AbsCovThreshold*float64(st.queryLen) {
		return HitSummary{}, false
	}

	var identity float64
	if st.sumAlnLen > 0 {
		identity = float64(st.sumMatches) / float64(st.sumAlnLen)
	}

	taxid := reg.Lookup(st.referenceID)
	if taxid == 0 && cfg.DropUnknownTaxid {
		return HitSummary{}, false
	}

	return HitSummary{
		QueryID:          queryID,
		ReferenceID:      st.referenceID,
		QueryLen:         st.queryLen,
		CoveredBases:     covered,
		WeightedIdentity: identity,
		BestMapQ:         st.bestMapQ,
		AlignmentCount:   st.count,
		TaxID:            taxid,
	}, true
}

// GroupByQuery sorts an in-memory slice of records by query id, stably, for
// callers whose PAF source is not already grouped.
func GroupByQuery(recs []PafRecord) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].QueryID < recs[j].QueryID })
}

// Feed drains sc into ch, respecting ctx cancellation, then closes ch. It
// returns sc's terminal error (nil on clean EOF). Intended to run in its own
// goroutine feeding Aggregate's recs channel.
func Feed(ctx context.Context, sc *Scanner, ch chan<- PafRecord) error {
	defer close(ch)
	for sc.Next() {
		select {
		case ch <- sc.Rec():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sc.Err()
}
