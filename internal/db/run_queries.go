package db

import (
	"context"
	"fmt"

	"horse.fit/flashpoint/internal/model"
)

// SaveRun upserts a run summary by uuid.
func (p *Pool) SaveRun(ctx context.Context, run model.Run) error {
	const q = `
INSERT INTO resolution.runs (
	run_uuid,
	source,
	status,
	processed,
	created,
	merged,
	duplicates_skipped,
	geocode_failures,
	errors,
	warnings,
	started_at,
	finished_at,
	updated_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
ON CONFLICT (run_uuid) DO UPDATE
SET
	status = EXCLUDED.status,
	processed = EXCLUDED.processed,
	created = EXCLUDED.created,
	merged = EXCLUDED.merged,
	duplicates_skipped = EXCLUDED.duplicates_skipped,
	geocode_failures = EXCLUDED.geocode_failures,
	errors = EXCLUDED.errors,
	warnings = EXCLUDED.warnings,
	finished_at = EXCLUDED.finished_at,
	updated_at = now()
`
	if _, err := p.Exec(ctx, q,
		run.UUID,
		run.Source,
		run.Status,
		run.Processed,
		run.Created,
		run.Merged,
		run.DuplicatesSkipped,
		run.GeocodeFailures,
		run.Errors,
		run.Warnings,
		run.StartedAt.UTC(),
		run.FinishedAt,
	); err != nil {
		return fmt.Errorf("save run %s: %w", run.UUID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (p *Pool) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT
	run_uuid::text,
	source,
	status,
	processed,
	created,
	merged,
	duplicates_skipped,
	geocode_failures,
	errors,
	warnings,
	started_at,
	finished_at
FROM resolution.runs
ORDER BY started_at DESC, run_id DESC
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.Run, 0, limit)
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(
			&r.UUID,
			&r.Source,
			&r.Status,
			&r.Processed,
			&r.Created,
			&r.Merged,
			&r.DuplicatesSkipped,
			&r.GeocodeFailures,
			&r.Errors,
			&r.Warnings,
			&r.StartedAt,
			&r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
