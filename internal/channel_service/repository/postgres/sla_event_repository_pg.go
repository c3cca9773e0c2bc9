package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aradsms/channel_gateway/internal/channel_service/repository"
	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const slaEventsSchema = `
	CREATE TABLE IF NOT EXISTS channel_sla_events (
		id BIGSERIAL PRIMARY KEY,
		organization_id TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		latency_ms BIGINT NOT NULL,
		error TEXT,
		occurred_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_channel_sla_events_org_time
		ON channel_sla_events (organization_id, occurred_at)`

type pgSLAEventRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewPgSLAEventRepository(db DBTX, logger *slog.Logger) repository.SLAEventRepository {
	return &pgSLAEventRepository{db: db, logger: logger.With("component", "sla_event_repository_pg")}
}

// EnsureSchema creates the events table and its index when missing.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, slaEventsSchema); err != nil {
		return fmt.Errorf("creating channel_sla_events schema: %w", err)
	}
	return nil
}

func (r *pgSLAEventRepository) Record(ctx context.Context, event domain.SLAEvent) error {
	query := `
		INSERT INTO channel_sla_events (
			organization_id, channel_type, status, attempt, latency_ms, error, occurred_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`
	_, err := r.db.Exec(ctx, query,
		event.OrganizationID, string(event.ChannelType), string(event.Status),
		event.Attempt, event.LatencyMs, event.Error, event.OccurredAt.UTC(),
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert SLA event", "organization_id", event.OrganizationID, "channel_type", event.ChannelType, "error", err)
		return fmt.Errorf("inserting SLA event: %w", err)
	}
	return nil
}

func (r *pgSLAEventRepository) ListSince(ctx context.Context, orgID string, since time.Time) ([]domain.SLAEvent, error) {
	query := `
		SELECT organization_id, channel_type, status, attempt, latency_ms, COALESCE(error, ''), occurred_at
		FROM channel_sla_events
		WHERE organization_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, orgID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying SLA events: %w", err)
	}
	defer rows.Close()

	var events []domain.SLAEvent
	for rows.Next() {
		var (
			e                   domain.SLAEvent
			channelType, status string
		)
		if err := rows.Scan(&e.OrganizationID, &channelType, &status, &e.Attempt, &e.LatencyMs, &e.Error, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning SLA event: %w", err)
		}
		e.ChannelType = domain.ChannelType(channelType)
		e.Status = domain.SLAStatus(status)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating SLA events: %w", err)
	}
	r.logger.DebugContext(ctx, "Loaded SLA events", "organization_id", orgID, "count", len(events))
	return events, nil
}
