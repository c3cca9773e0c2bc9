package app

import (
	"context"
	"sync"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// MemorySLAStore keeps SLA events in memory. It serves tests and deployments without a database.
type MemorySLAStore struct {
	mu     sync.RWMutex
	events []domain.SLAEvent
}

func NewMemorySLAStore() *MemorySLAStore {
	return &MemorySLAStore{}
}

func (m *MemorySLAStore) Record(_ context.Context, event domain.SLAEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemorySLAStore) ListSince(_ context.Context, orgID string, since time.Time) ([]domain.SLAEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.SLAEvent
	for _, e := range m.events {
		if e.OrganizationID == orgID && !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Events returns a copy of everything recorded, oldest first.
func (m *MemorySLAStore) Events() []domain.SLAEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.SLAEvent(nil), m.events...)
}
