package repository

import (
	"context"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// SLAEventRepository persists delivery attempt events and reads them back for SLA reports.
type SLAEventRepository interface {
	Record(ctx context.Context, event domain.SLAEvent) error
	// ListSince returns an organization's events with OccurredAt >= since, oldest first.
	ListSince(ctx context.Context, orgID string, since time.Time) ([]domain.SLAEvent, error)
}
