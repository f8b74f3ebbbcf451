package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/reporting"
)

type Postgres struct {
	db     *sqlx.DB
	schema string

	tracer trace.Tracer
}

func NewPostgres(db *sqlx.DB, schema string) *Postgres {
	tracer := otel.Tracer("depot/journal/postgres")

	return &Postgres{
		db:     db,
		schema: schema,

		tracer: tracer,
	}
}

type dbLoadEvent struct {
	ID         string    `db:"id"`
	AssetPath  string    `db:"asset_path"`
	AssetType  string    `db:"asset_type"`
	Outcome    string    `db:"outcome"`
	DurationMS float64   `db:"duration_ms"`
	OccurredAt time.Time `db:"occurred_at"`
}

func (p *Postgres) RecordLoad(ctx context.Context, event LoadEvent) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.RecordLoad")
	defer span.End()

	txx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		err := fmt.Errorf("failed to start transaction: %w", err)
		reporting.Report(ctx, err)
		return err
	}
	defer txx.Rollback()

	_, err = txx.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(p.schema)))
	if err != nil {
		err := fmt.Errorf("failed to set search path: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"schema": p.schema,
		})
		return err
	}

	_, err = txx.ExecContext(
		ctx,
		`INSERT INTO load_events
		(id, asset_path, asset_type, outcome, duration_ms, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID,
		event.Path,
		string(event.Type),
		event.Outcome,
		float64(event.Duration)/float64(time.Millisecond),
		event.OccurredAt,
	)
	if err != nil {
		err := fmt.Errorf("failed to insert load_events entry: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"id":      event.ID,
			"outcome": event.Outcome,
		})
		return err
	}

	if err := txx.Commit(); err != nil {
		err := fmt.Errorf("failed to commit transaction: %w", err)
		reporting.Report(ctx, err)
		return err
	}

	return nil
}

func (p *Postgres) RecentLoads(ctx context.Context, limit int) ([]LoadEvent, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.RecentLoads")
	defer span.End()

	txx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		err := fmt.Errorf("failed to start transaction: %w", err)
		reporting.Report(ctx, err)
		return nil, err
	}
	defer txx.Rollback()

	_, err = txx.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(p.schema)))
	if err != nil {
		err := fmt.Errorf("failed to set search path: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"schema": p.schema,
		})
		return nil, err
	}

	var rows []dbLoadEvent
	err = txx.SelectContext(
		ctx,
		&rows,
		`SELECT id, asset_path, asset_type, outcome, duration_ms, occurred_at
		FROM load_events
		ORDER BY occurred_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		err := fmt.Errorf("failed to select load_events: %w", err)
		reporting.Report(ctx, err)
		return nil, err
	}

	events := make([]LoadEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, LoadEvent{
			ID:         row.ID,
			Path:       row.AssetPath,
			Type:       assets.TypeTag(row.AssetType),
			Outcome:    row.Outcome,
			Duration:   time.Duration(row.DurationMS * float64(time.Millisecond)),
			OccurredAt: row.OccurredAt,
		})
	}

	return events, nil
}

// Type assertion
var _ Journal = (*Postgres)(nil)
