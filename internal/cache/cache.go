// Package cache implements the content-addressed Reference Cache: at most
// one concurrent build per selection fingerprint, safe reuse across runs.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// BuildError wraps a builder failure. The scratch directory has already been
// removed by the time this is returned.
type BuildError struct {
	Fingerprint string
	Err         error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("cache: build %s failed: %v", e.Fingerprint, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Entry artefact filenames.
const (
	ReferencesFasta    = "references.fasta"
	ReferenceTaxonomy  = "reference_taxonomy.tsv"
	AlignmentIndex     = "alignment.index"
	MetaFile           = "cache.meta"
	readyMarker        = "ready"
	lockFile           = "cache_dir.lock"
	scratchSuffix      = ".scratch"
)

// Builder materialises references.fasta, reference_taxonomy.tsv and
// alignment.index into scratchDir. It must write only within scratchDir.
type Builder func(ctx context.Context, scratchDir string) error

// Cache is a content-addressed directory tree rooted at Root.
type Cache struct {
	Root string
}

// New returns a Cache rooted at root, creating it if necessary.
func New(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Cache{Root: root}, nil
}

// Dir returns the cache directory for fingerprint, whether or not it exists.
func (c *Cache) Dir(fingerprint string) string {
	return filepath.Join(c.Root, fingerprint)
}

// Resolve implements the cache protocol: return the ready cache
// directory for fingerprint, building it via builder if this is the first
// caller to reach a miss. Concurrent callers (in this process or another)
// coordinate through an exclusive filesystem lock; only one proceeds to
// build.
func (c *Cache) Resolve(ctx context.Context, fingerprint string, builder Builder) (string, error) {
	dir := c.Dir(fingerprint)
	readyPath := filepath.Join(dir, readyMarker)

	if fileExists(readyPath) {
		return dir, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	lk := flock.New(filepath.Join(dir, lockFile))
	if err := lockExclusive(ctx, lk); err != nil {
		return "", fmt.Errorf("cache: acquire build lock for %s: %w", fingerprint, err)
	}
	defer lk.Unlock()

	if fileExists(readyPath) {
		return dir, nil
	}

	scratch := dir + scratchSuffix
	if err := os.RemoveAll(scratch); err != nil {
		return "", err
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return "", err
	}

	if err := builder(ctx, scratch); err != nil {
		os.RemoveAll(scratch)
		return "", &BuildError{Fingerprint: fingerprint, Err: err}
	}

	// Move each artefact into place, then write ready last so a crash
	// between these steps is always observed as Absent on the next call.
	for _, name := range []string{ReferencesFasta, ReferenceTaxonomy, AlignmentIndex, MetaFile} {
		src := filepath.Join(scratch, name)
		if !fileExists(src) {
			continue
		}
		dst := filepath.Join(dir, name)
		if err := os.Rename(src, dst); err != nil {
			os.RemoveAll(scratch)
			return "", &BuildError{Fingerprint: fingerprint, Err: err}
		}
	}
	os.RemoveAll(scratch)

	if err := os.WriteFile(readyPath, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return "", &BuildError{Fingerprint: fingerprint, Err: err}
	}

	return dir, nil
}

// AcquireRead takes a shared lock on the cache entry for the duration of a
// reader's run, so the pruner cannot evict a directory a run currently has
// open. Callers must call the returned release func when done.
func (c *Cache) AcquireRead(ctx context.Context, fingerprint string) (release func(), err error) {
	dir := c.Dir(fingerprint)
	lk := flock.New(filepath.Join(dir, lockFile))
	if err := lockShared(ctx, lk); err != nil {
		return nil, err
	}
	return func() { lk.Unlock() }, nil
}

func lockExclusive(ctx context.Context, lk *flock.Flock) error {
	return retryLock(ctx, func() (bool, error) { return lk.TryLock() })
}

func lockShared(ctx context.Context, lk *flock.Flock) error {
	return retryLock(ctx, func() (bool, error) { return lk.TryRLock() })
}

func retryLock(ctx context.Context, try func() (bool, error)) error {
	const pollInterval = 50 * time.Millisecond
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsReady reports whether fingerprint has a complete, ready cache entry,
// without taking any lock.
func (c *Cache) IsReady(fingerprint string) bool {
	return fileExists(filepath.Join(c.Dir(fingerprint), readyMarker))
}
