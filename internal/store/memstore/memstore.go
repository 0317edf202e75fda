// Package memstore provides in-memory ItemStore and PlanStore
// implementations for tests and local runs without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"packplan/internal/contract"
	"packplan/internal/store"
)

// ItemStore is a mutex-guarded in-memory item inventory.
type ItemStore struct {
	mu    sync.RWMutex
	items map[string]store.ItemRecord
}

// NewItemStore creates an empty in-memory item store.
func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[string]store.ItemRecord)}
}

// Add inserts or replaces an item.
func (s *ItemStore) Add(rec store.ItemRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.ID] = rec
}

// ScanShuffleRange implements store.ItemStore. Items are ordered by shuffle
// key ascending, mirroring the indexed SQL range scan.
func (s *ItemStore) ScanShuffleRange(ctx context.Context, filter store.DrawFilter, fromKey uint64, limit int, excludeIDs []string) ([]store.ItemRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	s.mu.RLock()
	var matched []store.ItemRef
	for _, rec := range s.items {
		if !rec.Eligible || rec.ShuffleKey < fromKey || excluded[rec.ID] {
			continue
		}
		if filter.Band != "" && rec.Band != filter.Band {
			continue
		}
		if filter.Tier != "" && rec.Tier != filter.Tier {
			continue
		}
		matched = append(matched, store.ItemRef{
			ID:         rec.ID,
			ShuffleKey: rec.ShuffleKey,
			Band:       rec.Band,
			Tier:       rec.Tier,
		})
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ShuffleKey != matched[j].ShuffleKey {
			return matched[i].ShuffleKey < matched[j].ShuffleKey
		}
		return matched[i].ID < matched[j].ID
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// FetchByIDs implements store.ItemStore.
func (s *ItemStore) FetchByIDs(ctx context.Context, ids []string) ([]store.ItemRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]store.ItemRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.items[id]; ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

type planKey struct {
	learnerID string
	sessionID string
}

// PlanStore is a mutex-guarded in-memory plan store.
type PlanStore struct {
	mu    sync.Mutex
	plans map[planKey]*contract.PlanRecord
}

// NewPlanStore creates an empty in-memory plan store.
func NewPlanStore() *PlanStore {
	return &PlanStore{plans: make(map[planKey]*contract.PlanRecord)}
}

// Insert implements store.PlanStore.
func (s *PlanStore) Insert(ctx context.Context, rec *contract.PlanRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := planKey{rec.LearnerID, rec.SessionID}
	if _, exists := s.plans[key]; exists {
		return store.ErrDuplicatePlan
	}

	clone := *rec
	s.plans[key] = &clone
	return nil
}

// Get implements store.PlanStore.
func (s *PlanStore) Get(ctx context.Context, learnerID, sessionID string) (*contract.PlanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.plans[planKey{learnerID, sessionID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

// MarkServed implements store.PlanStore.
func (s *PlanStore) MarkServed(ctx context.Context, learnerID, sessionID string, at time.Time) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.plans[planKey{learnerID, sessionID}]
	if !ok {
		return time.Time{}, store.ErrNotFound
	}

	switch rec.Status {
	case contract.PlanStatusPlanned:
		rec.Status = contract.PlanStatusServed
		stamped := at
		rec.ServedAt = &stamped
		return stamped, nil
	case contract.PlanStatusServed:
		if rec.ServedAt != nil {
			return *rec.ServedAt, nil
		}
		return time.Time{}, store.ErrConflict
	default:
		return time.Time{}, store.ErrConflict
	}
}

// MarkCompleted implements store.PlanStore.
func (s *PlanStore) MarkCompleted(ctx context.Context, learnerID, sessionID string, at time.Time) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.plans[planKey{learnerID, sessionID}]
	if !ok {
		return time.Time{}, false, store.ErrNotFound
	}

	if rec.Status == contract.PlanStatusCompleted {
		if rec.CompletedAt != nil {
			return *rec.CompletedAt, false, nil
		}
		return time.Time{}, false, store.ErrConflict
	}

	rec.Status = contract.PlanStatusCompleted
	stamped := at
	rec.CompletedAt = &stamped
	return stamped, true, nil
}
