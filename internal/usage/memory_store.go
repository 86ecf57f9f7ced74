package usage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory, for development and tests
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	index   map[pairKey]struct{}
}

type pairKey struct {
	pageType string
	path     string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		index: make(map[pairKey]struct{}),
	}
}

// Insert adds a record unless the pair already exists
func (s *MemoryStore) Insert(ctx context.Context, rec Record, mode ConflictMode) (bool, error) {
	key := pairKey{pageType: rec.PageType, path: rec.DependencyPath}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[key]; exists {
		if mode == ConflictError {
			return false, fmt.Errorf("%s %s: %w", rec.PageType, rec.DependencyPath, ErrDuplicateRecord)
		}
		return false, nil
	}

	s.index[key] = struct{}{}
	s.records = append(s.records, rec)
	return true, nil
}

// List returns a copy of all records in insertion order
func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Stats counts records per page type
func (s *MemoryStore) Stats(ctx context.Context) ([]PageTypeStat, error) {
	s.mu.RLock()
	counts := make(map[string]int)
	for _, rec := range s.records {
		counts[rec.PageType]++
	}
	s.mu.RUnlock()

	stats := make([]PageTypeStat, 0, len(counts))
	for pageType, n := range counts {
		stats = append(stats, PageTypeStat{PageType: pageType, Dependencies: n})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].PageType < stats[j].PageType })
	return stats, nil
}

// Reset removes every record
func (s *MemoryStore) Reset(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.records))
	s.records = nil
	s.index = make(map[pairKey]struct{})
	return n, nil
}
