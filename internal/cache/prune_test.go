package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
)

func flockAt(t *testing.T, dir string) *flock.Flock {
	t.Helper()
	lk := flock.New(filepath.Join(dir, lockFile))
	ok, err := lk.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock(%s): ok=%v err=%v", dir, ok, err)
	}
	return lk
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func seedEntry(t *testing.T, ix *Index, root, fingerprint string, size int64, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, fingerprint)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := ix.Record(fingerprint, dir, size); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if age > 0 {
		old := time.Now().UTC().Add(-age).Format(time.RFC3339)
		if _, err := ix.db.Exec(`UPDATE cache_entries SET created_at = ? WHERE fingerprint = ?`, old, fingerprint); err != nil {
			t.Fatalf("backdate created_at: %v", err)
		}
	}
	return dir
}

func TestIndexRecordTouchAndList(t *testing.T) {
	ix := newTestIndex(t)
	root := t.TempDir()
	seedEntry(t, ix, root, "fp1", 100, 0)
	seedEntry(t, ix, root, "fp2", 200, time.Hour)

	rows, err := ix.ListOldestFirst()
	if err != nil {
		t.Fatalf("ListOldestFirst: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Fingerprint != "fp2" {
		t.Errorf("rows[0].Fingerprint = %q, want fp2 (oldest first)", rows[0].Fingerprint)
	}

	if err := ix.Touch("fp1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
}

func TestPruneEvictsOldestOverAgeCap(t *testing.T) {
	ix := newTestIndex(t)
	root := t.TempDir()
	oldDir := seedEntry(t, ix, root, "stale", 10, 48*time.Hour)
	freshDir := seedEntry(t, ix, root, "fresh", 10, 0)

	res, err := Prune(ix, PruneConfig{MaxAge: 24 * time.Hour})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(res.Evicted) != 1 || res.Evicted[0] != "stale" {
		t.Errorf("Evicted = %v, want [stale]", res.Evicted)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Errorf("stale entry directory %s still exists", oldDir)
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Errorf("fresh entry directory removed unexpectedly: %v", err)
	}
}

func TestPruneSkipsLockedEntry(t *testing.T) {
	ix := newTestIndex(t)
	root := t.TempDir()
	dir := seedEntry(t, ix, root, "busy", 10, 48*time.Hour)

	lk := flockAt(t, dir)
	defer lk.Unlock()

	res, err := Prune(ix, PruneConfig{MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "busy" {
		t.Errorf("Skipped = %v, want [busy]", res.Skipped)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("locked entry directory removed unexpectedly: %v", err)
	}
}

func TestPruneKeepsEntriesUnderCaps(t *testing.T) {
	ix := newTestIndex(t)
	root := t.TempDir()
	seedEntry(t, ix, root, "fp1", 10, 0)

	res, err := Prune(ix, PruneConfig{})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(res.Kept) != 1 || res.Kept[0] != "fp1" {
		t.Errorf("Kept = %v, want [fp1] (no caps set)", res.Kept)
	}
}
