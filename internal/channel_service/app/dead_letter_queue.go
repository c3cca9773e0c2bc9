package app

import (
	"sync"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// DefaultDeadLetterCapacity is the global cap across all organizations.
const DefaultDeadLetterCapacity = 200

// MaxDeadLetterListLimit bounds a single List call regardless of capacity.
const MaxDeadLetterListLimit = 200

// DeadLetterQueue is a bounded, newest-first list of exhausted sends.
// It is process local. The cap is global, so one tenant's failures can evict another's.
type DeadLetterQueue struct {
	mu       sync.Mutex
	items    []domain.DeadLetterItem
	capacity int
}

func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	if capacity <= 0 {
		capacity = DefaultDeadLetterCapacity
	}
	return &DeadLetterQueue{capacity: capacity}
}

// Push inserts item at the front and evicts from the back past capacity.
// It returns the number of evicted items.
func (q *DeadLetterQueue) Push(item domain.DeadLetterItem) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, domain.DeadLetterItem{})
	copy(q.items[1:], q.items)
	q.items[0] = item

	evicted := 0
	if len(q.items) > q.capacity {
		evicted = len(q.items) - q.capacity
		for i := q.capacity; i < len(q.items); i++ {
			q.items[i] = domain.DeadLetterItem{}
		}
		q.items = q.items[:q.capacity]
	}
	return evicted
}

// List returns up to limit items owned by orgID, newest first. limit is clamped to
// [1, MaxDeadLetterListLimit].
func (q *DeadLetterQueue) List(orgID string, limit int) []domain.DeadLetterItem {
	limit = max(1, min(limit, MaxDeadLetterListLimit))

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.DeadLetterItem, 0, min(limit, len(q.items)))
	for _, item := range q.items {
		if item.OrganizationID != orgID {
			continue
		}
		item.Config = item.Config.Clone()
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Find returns a copy of the item only when both id and organization match.
func (q *DeadLetterQueue) Find(orgID, id string) (domain.DeadLetterItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.ID == id && item.OrganizationID == orgID {
			item.Config = item.Config.Clone()
			return item, true
		}
	}
	return domain.DeadLetterItem{}, false
}

// Remove deletes the matching item. It reports false if the item is gone (for example evicted).
func (q *DeadLetterQueue) Remove(orgID, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.ID == id && item.OrganizationID == orgID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len is the total size across all organizations.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *DeadLetterQueue) Capacity() int {
	return q.capacity
}
