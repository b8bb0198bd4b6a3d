package cache

import (
	"os"
	"time"

	"github.com/gofrs/flock"
)

// PruneConfig bounds how much the pruner may evict.
type PruneConfig struct {
	MaxAge  time.Duration // 0 means no age cap
	MaxSize int64         // bytes; 0 means no size cap
}

// PruneResult summarises a prune pass.
type PruneResult struct {
	Evicted []string // fingerprints removed
	Skipped []string // fingerprints locked by a builder or reader, left alone
	Kept    []string // fingerprints kept because caps were already satisfied
}

// Prune evicts Ready entries oldest-first until both age and size caps are
// satisfied. An entry currently held by a builder (exclusive lock) or a
// reader (shared lock) is never touched.
func Prune(ix *Index, cfg PruneConfig) (PruneResult, error) {
	rows, err := ix.ListOldestFirst()
	if err != nil {
		return PruneResult{}, err
	}

	var total int64
	for _, r := range rows {
		total += r.SizeBytes
	}

	var res PruneResult
	now := time.Now().UTC()
	for _, r := range rows {
		tooOld := cfg.MaxAge > 0 && now.Sub(r.CreatedAt) > cfg.MaxAge
		overSize := cfg.MaxSize > 0 && total > cfg.MaxSize
		if !tooOld && !overSize {
			res.Kept = append(res.Kept, r.Fingerprint)
			continue
		}

		lk := flock.New(r.Path + "/" + lockFile)
		ok, err := lk.TryLock()
		if err != nil || !ok {
			res.Skipped = append(res.Skipped, r.Fingerprint)
			continue
		}

		if err := os.RemoveAll(r.Path); err != nil {
			lk.Unlock()
			return res, err
		}
		lk.Unlock()
		os.Remove(r.Path + "/" + lockFile)

		if err := ix.Remove(r.Fingerprint); err != nil {
			return res, err
		}
		total -= r.SizeBytes
		res.Evicted = append(res.Evicted, r.Fingerprint)
	}
	return res, nil
}
