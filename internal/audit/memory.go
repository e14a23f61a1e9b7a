package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository used in tests and when
// running without a database.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryRepository creates an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Insert(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func matchesFilter(e Entry, filter Filter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Statuses) > 0 {
		found := false
		for _, s := range filter.Statuses {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.AutomationID != "" && e.AutomationID != filter.AutomationID {
		return false
	}

	if filter.DateFrom != nil && e.Timestamp.Before(*filter.DateFrom) {
		return false
	}

	if filter.DateTo != nil && e.Timestamp.After(*filter.DateTo) {
		return false
	}

	return true
}

func (r *MemoryRepository) Query(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Entry
	for _, e := range r.entries {
		if matchesFilter(e, filter) {
			matched = append(matched, e)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if offset > 0 {
		if offset >= len(matched) {
			return nil, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return matched, nil
}

func (r *MemoryRepository) Count(ctx context.Context, filter Filter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.entries {
		if matchesFilter(e, filter) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	deleted := 0
	for _, e := range r.entries {
		if deleted < batchSize && e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return deleted, nil
}

// Len reports the number of stored entries.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
