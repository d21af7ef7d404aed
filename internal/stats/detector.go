package stats

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"
)

// reparseMode is the change detector's verdict for a tracked file.
type reparseMode int

const (
	reparseNone reparseMode = iota
	reparseIncremental
	reparseFull
)

// prefixProbeLen bounds how much of a file's head is checksummed as the
// rotation guard. The detector never reads past it.
const prefixProbeLen = 4096

// fingerprint identifies a file version cheaply, without reading content.
type fingerprint struct {
	modTime time.Time
	size    int64
}

// decision carries the reparse verdict plus the stat the verdict was based
// on. The fingerprint is recorded from before the read so anything appended
// during parsing is picked up on the next pass.
type decision struct {
	mode reparseMode
	from int64 // parse start offset, valid for reparseIncremental
	fp   fingerprint
}

// detectChange decides whether the file at path needs reparsing given the
// previously recorded state. A nil prev means no prior state (full parse).
func detectChange(path string, prev *fileState) (decision, error) {
	info, err := os.Stat(path)
	if err != nil {
		return decision{}, err
	}
	fp := fingerprint{modTime: info.ModTime(), size: info.Size()}

	if prev == nil {
		return decision{mode: reparseFull, fp: fp}, nil
	}
	if fp == prev.fp {
		return decision{mode: reparseNone, fp: fp}, nil
	}
	// Shrunk or rewritten in place: rotation/truncation, start over.
	if fp.size <= prev.fp.size {
		return decision{mode: reparseFull, fp: fp}, nil
	}

	// Grew. Verify the recorded head checksum still matches before trusting
	// the append-only assumption; a replaced file can be larger too.
	sum, err := prefixChecksum(path, prev.prefixLen)
	if err != nil {
		return decision{}, err
	}
	if sum != prev.prefixSum {
		return decision{mode: reparseFull, fp: fp}, nil
	}
	return decision{mode: reparseIncremental, from: prev.offset, fp: fp}, nil
}

// prefixChecksum returns the CRC of the first n bytes of the file.
func prefixChecksum(path string, n int64) (uint32, error) {
	if n <= 0 {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.CopyN(h, f, n); err != nil {
		return 0, fmt.Errorf("failed to checksum prefix of %s: %w", path, err)
	}
	return h.Sum32(), nil
}

// probeLen returns the prefix length to record for a file of the given size.
func probeLen(size int64) int64 {
	if size < prefixProbeLen {
		return size
	}
	return prefixProbeLen
}
