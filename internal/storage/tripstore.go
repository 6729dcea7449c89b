package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-passenger/internal/models"
)

// HistoryStore defines persistence operations for finished rides.
type HistoryStore interface {
	SaveEntry(ctx context.Context, e models.HistoryEntry) error
	ListEntries(ctx context.Context, passengerID string, limit int) ([]models.HistoryEntry, error)
}

// MemoryStore keeps history for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.HistoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.HistoryEntry)}
}

// SaveEntry replaces any earlier entry for the same ride.
func (m *MemoryStore) SaveEntry(_ context.Context, e models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.RideID] = e
	return nil
}

// ListEntries returns the passenger's rides, most recently finished first.
// A limit <= 0 returns everything.
func (m *MemoryStore) ListEntries(_ context.Context, passengerID string, limit int) ([]models.HistoryEntry, error) {
	m.mu.RLock()
	out := make([]models.HistoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.PassengerID == passengerID {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FinishedAt.Equal(out[j].FinishedAt) {
			return out[i].RideID < out[j].RideID
		}
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
