package stats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileState is the cached parse state for one tracked source file. The
// record slice is exactly the parse of bytes [0, offset) of the file at the
// recorded fingerprint.
type fileState struct {
	mu        sync.Mutex
	init      bool
	fp        fingerprint
	offset    int64
	lines     int
	prefixLen int64
	prefixSum uint32
	carry     parseCarry
	records   []UsageRecord
	skipped   int
}

func (s *fileState) reset() {
	s.init = false
	s.fp = fingerprint{}
	s.offset = 0
	s.lines = 0
	s.prefixLen = 0
	s.prefixSum = 0
	s.carry = parseCarry{}
	s.records = nil
	s.skipped = 0
}

// RecordCache keeps parsed usage records per source file, re-checking each
// file's fingerprint lazily on access and reparsing only what changed.
type RecordCache struct {
	mu    sync.Mutex
	files map[string]*fileState
}

func NewRecordCache() *RecordCache {
	return &RecordCache{files: make(map[string]*fileState)}
}

// Records returns the merged usage records for the given files along with
// the total count of malformed lines skipped across them. A missing file
// contributes zero records, not an error.
func (c *RecordCache) Records(ctx context.Context, paths []string) ([]UsageRecord, int, error) {
	var merged []UsageRecord
	skipped := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		recs, n, err := c.recordsFor(path)
		if err != nil {
			return nil, 0, err
		}
		merged = append(merged, recs...)
		skipped += n
	}
	return merged, skipped, nil
}

// recordsFor serializes on a per-file critical section so two callers never
// parse the same file concurrently; the second waits and is served the
// result the first produced.
func (c *RecordCache) recordsFor(path string) ([]UsageRecord, int, error) {
	c.mu.Lock()
	state, ok := c.files[path]
	if !ok {
		state = &fileState{}
		c.files[path] = state
	}
	c.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	var prev *fileState
	if state.init {
		prev = state
	}
	dec, err := detectChange(path, prev)
	if err != nil {
		if os.IsNotExist(err) {
			state.reset()
			return nil, 0, nil
		}
		return nil, 0, err
	}

	switch dec.mode {
	case reparseNone:
		// Unchanged since last check.

	case reparseFull:
		prefixLen := probeLen(dec.fp.size)
		prefixSum, err := prefixChecksum(path, prefixLen)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to fingerprint %s: %w", path, err)
		}
		res, err := parseRange(path, 0, 0, parseCarry{sessionID: sessionIDFromPath(path)})
		if err != nil {
			return nil, 0, err
		}
		state.init = true
		state.fp = dec.fp
		state.offset = res.offset
		state.lines = res.lines
		state.prefixLen = prefixLen
		state.prefixSum = prefixSum
		state.carry = res.carry
		state.records = res.records
		state.skipped = res.skipped

	case reparseIncremental:
		res, err := parseRange(path, dec.from, state.lines, state.carry)
		if err != nil {
			return nil, 0, err
		}
		state.fp = dec.fp
		state.offset = res.offset
		state.lines += res.lines
		state.carry = res.carry
		state.records = append(state.records, res.records...)
		state.skipped += res.skipped
	}

	// Hand out a copy; cache entries are mutated only here.
	out := make([]UsageRecord, len(state.records))
	copy(out, state.records)
	return out, state.skipped, nil
}

// Invalidate drops the cached state for one file, forcing a full reparse on
// next access.
func (c *RecordCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, path)
}

// InvalidateAll drops all cached state. This is the only recovery from an
// external edit that preserves a file's size and mtime.
func (c *RecordCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = make(map[string]*fileState)
}

// sessionIDFromPath is the fallback session identity when the log carries no
// session entry: the file name without extension.
func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
