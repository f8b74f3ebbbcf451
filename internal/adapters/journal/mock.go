package journal

import (
	"context"
	"sync"
)

// Mock is an in-memory Journal for tests and development.
type Mock struct {
	mu     sync.Mutex
	events []LoadEvent

	// RecordErr, when set, is returned from RecordLoad to simulate a
	// journaling failure.
	RecordErr error
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) RecordLoad(ctx context.Context, event LoadEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *Mock) RecentLoads(ctx context.Context, limit int) ([]LoadEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit > len(m.events) {
		limit = len(m.events)
	}
	recent := make([]LoadEvent, 0, limit)
	for i := len(m.events) - 1; i >= len(m.events)-limit; i-- {
		recent = append(recent, m.events[i])
	}
	return recent, nil
}

// Events returns every recorded event in insertion order.
func (m *Mock) Events() []LoadEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LoadEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Type assertion
var _ Journal = (*Mock)(nil)
