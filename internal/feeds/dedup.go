// ABOUTME: Run-scoped identity set and first-occurrence deduplication of records
// ABOUTME: Bloom filter for fast rejection of new keys backed by an exact map

package feeds

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/types"
)

// Seen set sizing.
const (
	DefaultExpectedKeys   = 1024
	SeenFalsePositiveRate = 0.001
)

// SeenSet tracks identity keys accepted during one pipeline run.
// The bloom filter answers "definitely new" without touching the map; its
// positives are confirmed against the exact key set, so no distinct key is
// ever reported as seen. A SeenSet is not safe for concurrent use.
type SeenSet struct {
	filter *bloom.BloomFilter
	keys   map[string]struct{}
}

// NewSeenSet creates an empty set sized for the expected number of keys.
func NewSeenSet(expected uint) *SeenSet {
	if expected == 0 {
		expected = DefaultExpectedKeys
	}

	return &SeenSet{
		filter: bloom.NewWithEstimates(expected, SeenFalsePositiveRate),
		keys:   make(map[string]struct{}, expected),
	}
}

// Add inserts key and reports whether it was new. Test and insert happen in
// the same call so two equal keys can never both be accepted.
func (s *SeenSet) Add(key string) bool {
	if !s.filter.TestAndAdd([]byte(key)) {
		s.keys[key] = struct{}{}
		return true
	}

	if _, ok := s.keys[key]; ok {
		return false
	}

	s.keys[key] = struct{}{}
	return true
}

// Len returns the number of distinct keys added.
func (s *SeenSet) Len() int {
	return len(s.keys)
}

// DedupStats counts what Dedup kept and dropped.
type DedupStats struct {
	Input           int
	Kept            int
	Duplicates      int
	MissingIdentity int
}

// Dedup keeps the first record for each identity key, preserving input
// order. Records with an empty key are dropped. A nil seen set is replaced
// by a fresh one sized for the input.
func Dedup(records []types.Record, seen *SeenSet) ([]types.Record, DedupStats) {
	if seen == nil {
		seen = NewSeenSet(uint(len(records)))
	}

	stats := DedupStats{Input: len(records)}
	kept := make([]types.Record, 0, len(records))

	for _, rec := range records {
		key := rec.IdentityKey()
		if key == "" {
			stats.MissingIdentity++
			continue
		}

		if !seen.Add(key) {
			stats.Duplicates++
			continue
		}

		kept = append(kept, rec)
	}

	stats.Kept = len(kept)
	return kept, stats
}
