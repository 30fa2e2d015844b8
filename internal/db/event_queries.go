package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"horse.fit/flashpoint/internal/globaltime"
	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/resolve"
)

const eventColumns = `
	e.event_id,
	e.event_uuid::text,
	e.title,
	e.summary,
	e.country,
	e.city,
	e.region,
	e.latitude,
	e.longitude,
	e.coordinate_confidence,
	e.coordinate_method,
	e.signature,
	e.tags,
	e.escalation,
	e.language,
	e.status,
	e.source_count,
	e.version,
	e.first_seen_at,
	e.last_seen_at,
	e.created_at,
	e.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		e    model.Event
		tags []byte
	)
	if err := row.Scan(
		&e.ID,
		&e.UUID,
		&e.Title,
		&e.Summary,
		&e.Country,
		&e.City,
		&e.Region,
		&e.Latitude,
		&e.Longitude,
		&e.CoordinateConfidence,
		&e.CoordinateMethod,
		&e.Signature,
		&tags,
		&e.Escalation,
		&e.Language,
		&e.Status,
		&e.SourceCount,
		&e.Version,
		&e.FirstSeenAt,
		&e.LastSeenAt,
		&e.CreatedAt,
		&e.LastUpdatedAt,
	); err != nil {
		return model.Event{}, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return model.Event{}, fmt.Errorf("decode tags of event %d: %w", e.ID, err)
		}
	}
	return e, nil
}

func encodeTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(tags)
}

func (p *Pool) queryEvents(ctx context.Context, q string, args ...any) ([]model.Event, error) {
	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (p *Pool) GetEvent(ctx context.Context, id int64) (model.Event, error) {
	q := `SELECT` + eventColumns + `
FROM resolution.events e
WHERE e.event_id = $1
`
	e, err := scanEvent(p.QueryRow(ctx, q, id))
	if err != nil {
		if IsNoRows(err) {
			return model.Event{}, resolve.ErrEventNotFound
		}
		return model.Event{}, fmt.Errorf("get event %d: %w", id, err)
	}
	return e, nil
}

func (p *Pool) GetEventByUUID(ctx context.Context, eventUUID string) (model.Event, error) {
	q := `SELECT` + eventColumns + `
FROM resolution.events e
WHERE e.event_uuid::text = $1
`
	e, err := scanEvent(p.QueryRow(ctx, q, strings.TrimSpace(eventUUID)))
	if err != nil {
		if IsNoRows(err) {
			return model.Event{}, resolve.ErrEventNotFound
		}
		return model.Event{}, fmt.Errorf("get event %s: %w", eventUUID, err)
	}
	return e, nil
}

func (p *Pool) FindEventBySignature(ctx context.Context, signature string) (model.Event, bool, error) {
	q := `SELECT` + eventColumns + `
FROM resolution.events e
WHERE e.signature = $1
`
	e, err := scanEvent(p.QueryRow(ctx, q, signature))
	if err != nil {
		if IsNoRows(err) {
			return model.Event{}, false, nil
		}
		return model.Event{}, false, fmt.Errorf("find event by signature: %w", err)
	}
	return e, true, nil
}

// ListCandidateEvents returns events last seen inside the window, newest first. An empty country
// disables the country filter.
func (p *Pool) ListCandidateEvents(ctx context.Context, cq resolve.CandidateQuery) ([]model.Event, error) {
	limit := cq.Limit
	if limit <= 0 {
		limit = resolve.DefaultCandidateLimit
	}
	q := `SELECT` + eventColumns + `
FROM resolution.events e
WHERE ($1 = '' OR lower(e.country) = lower($1))
  AND e.last_seen_at >= $2
  AND e.last_seen_at <= $3
ORDER BY e.last_seen_at DESC, e.event_id DESC
LIMIT $4
`
	events, err := p.queryEvents(ctx, q, strings.TrimSpace(cq.Country), cq.From.UTC(), cq.To.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list candidate events: %w", err)
	}
	return events, nil
}

// InsertEvent relies on the unique signature index; a conflicting insert returns
// resolve.ErrDuplicateSignature instead of a second row.
func (p *Pool) InsertEvent(ctx context.Context, e model.Event) (model.Event, error) {
	tags, err := encodeTags(e.Tags)
	if err != nil {
		return model.Event{}, fmt.Errorf("encode tags: %w", err)
	}
	status := e.Status
	if status == "" {
		status = model.EventStatusActive
	}

	const q = `
INSERT INTO resolution.events (
	title,
	summary,
	country,
	city,
	region,
	latitude,
	longitude,
	coordinate_confidence,
	coordinate_method,
	signature,
	tags,
	escalation,
	language,
	status,
	source_count,
	version,
	first_seen_at,
	last_seen_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13, $14, $15, 1, $16, $17)
ON CONFLICT (signature) DO NOTHING
RETURNING event_id, event_uuid::text, version, created_at, updated_at
`
	err = p.QueryRow(ctx, q,
		e.Title,
		e.Summary,
		e.Country,
		e.City,
		e.Region,
		e.Latitude,
		e.Longitude,
		e.CoordinateConfidence,
		e.CoordinateMethod,
		e.Signature,
		string(tags),
		model.ClampEscalation(e.Escalation),
		e.Language,
		status,
		max(e.SourceCount, 1),
		e.FirstSeenAt.UTC(),
		e.LastSeenAt.UTC(),
	).Scan(&e.ID, &e.UUID, &e.Version, &e.CreatedAt, &e.LastUpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return model.Event{}, resolve.ErrDuplicateSignature
		}
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	e.Status = status
	return e, nil
}

// UpdateEvent is a compare-and-swap on the version column.
func (p *Pool) UpdateEvent(ctx context.Context, e model.Event, expectedVersion int64) (model.Event, error) {
	tags, err := encodeTags(e.Tags)
	if err != nil {
		return model.Event{}, fmt.Errorf("encode tags: %w", err)
	}

	const q = `
UPDATE resolution.events
SET
	title = $3,
	summary = $4,
	country = $5,
	city = $6,
	region = $7,
	latitude = $8,
	longitude = $9,
	coordinate_confidence = $10,
	coordinate_method = $11,
	tags = $12::jsonb,
	escalation = $13,
	language = $14,
	status = $15,
	source_count = $16,
	last_seen_at = $17,
	version = version + 1,
	updated_at = $18
WHERE event_id = $1
  AND version = $2
RETURNING version, updated_at
`
	err = p.QueryRow(ctx, q,
		e.ID,
		expectedVersion,
		e.Title,
		e.Summary,
		e.Country,
		e.City,
		e.Region,
		e.Latitude,
		e.Longitude,
		e.CoordinateConfidence,
		e.CoordinateMethod,
		string(tags),
		model.ClampEscalation(e.Escalation),
		e.Language,
		e.Status,
		e.SourceCount,
		e.LastSeenAt.UTC(),
		e.LastUpdatedAt.UTC(),
	).Scan(&e.Version, &e.LastUpdatedAt)
	if err == nil {
		return e, nil
	}
	if !IsNoRows(err) {
		return model.Event{}, fmt.Errorf("update event %d: %w", e.ID, err)
	}

	var exists bool
	if err := p.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM resolution.events WHERE event_id = $1)`, e.ID).Scan(&exists); err != nil {
		return model.Event{}, fmt.Errorf("check event %d: %w", e.ID, err)
	}
	if !exists {
		return model.Event{}, resolve.ErrEventNotFound
	}
	return model.Event{}, resolve.ErrVersionConflict
}

func (p *Pool) FindContribution(ctx context.Context, fingerprint string) (resolve.Contribution, bool, error) {
	const q = `
SELECT
	ea.fingerprint,
	ea.event_id,
	e.event_uuid::text,
	ea.source,
	ea.source_item_id,
	COALESCE(ea.url, ''),
	ea.decision,
	ea.signal,
	ea.score,
	ea.created_at
FROM resolution.event_articles ea
JOIN resolution.events e
	ON e.event_id = ea.event_id
WHERE ea.fingerprint = $1
`
	var (
		c        resolve.Contribution
		decision string
	)
	err := p.QueryRow(ctx, q, fingerprint).Scan(
		&c.Fingerprint,
		&c.EventID,
		&c.EventUUID,
		&c.Source,
		&c.SourceItemID,
		&c.URL,
		&decision,
		&c.Signal,
		&c.Score,
		&c.CreatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return resolve.Contribution{}, false, nil
		}
		return resolve.Contribution{}, false, fmt.Errorf("find contribution: %w", err)
	}
	c.Decision = resolve.Decision(decision)
	return c, true, nil
}

func (p *Pool) RecordContribution(ctx context.Context, c resolve.Contribution) error {
	const q = `
INSERT INTO resolution.event_articles (
	fingerprint,
	event_id,
	source,
	source_item_id,
	url,
	decision,
	signal,
	score,
	created_at
)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
ON CONFLICT (fingerprint) DO NOTHING
`
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = globaltime.UTC()
	}
	if _, err := p.Exec(ctx, q,
		c.Fingerprint,
		c.EventID,
		c.Source,
		c.SourceItemID,
		c.URL,
		string(c.Decision),
		c.Signal,
		c.Score,
		createdAt.UTC(),
	); err != nil {
		return fmt.Errorf("record contribution: %w", err)
	}
	return nil
}

// ListEvents serves the read API, newest first.
func (p *Pool) ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var since any
	if f.Since != nil {
		since = f.Since.UTC()
	}

	q := `SELECT` + eventColumns + `
FROM resolution.events e
WHERE ($1 = '' OR lower(e.country) = lower($1))
  AND ($2 = '' OR e.status = $2)
  AND ($3::timestamptz IS NULL OR e.last_seen_at >= $3::timestamptz)
  AND e.escalation >= $4
ORDER BY e.last_seen_at DESC, e.event_id DESC
LIMIT $5
OFFSET $6
`
	events, err := p.queryEvents(ctx, q,
		strings.TrimSpace(f.Country),
		strings.TrimSpace(f.Status),
		since,
		f.MinEscalation,
		limit,
		max(f.Offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// ResolveStaleEvents marks active events last seen before cutoff as resolved.
func (p *Pool) ResolveStaleEvents(ctx context.Context, cutoff time.Time) (int, error) {
	const q = `
UPDATE resolution.events
SET
	status = 'resolved',
	version = version + 1,
	updated_at = now()
WHERE status = 'active'
  AND last_seen_at < $1
`
	tag, err := p.Exec(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("resolve stale events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Pool) ActiveRegionStats(ctx context.Context) ([]model.RegionStat, error) {
	const q = `
SELECT
	region_key,
	COUNT(*)::int,
	MAX(escalation),
	SUM(source_count)::int,
	AVG(coordinate_confidence)
FROM (
	SELECT
		lower(COALESCE(NULLIF(trim(country), ''), trim(region))) AS region_key,
		escalation,
		source_count,
		coordinate_confidence
	FROM resolution.events
	WHERE status = 'active'
) active
WHERE region_key <> ''
GROUP BY region_key
ORDER BY region_key
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("active region stats: %w", err)
	}
	defer rows.Close()

	stats := make([]model.RegionStat, 0)
	for rows.Next() {
		var s model.RegionStat
		if err := rows.Scan(&s.Region, &s.ActiveEvents, &s.MaxEscalation, &s.TotalSources, &s.MeanConfidence); err != nil {
			return nil, fmt.Errorf("scan region stat: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate region stats: %w", err)
	}
	return stats, nil
}
