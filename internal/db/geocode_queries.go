package db

import (
	"context"
	"fmt"
	"time"

	"horse.fit/flashpoint/internal/model"
)

// LookupGeocode returns a cached placement fetched at or after notBefore.
func (p *Pool) LookupGeocode(ctx context.Context, key string, notBefore time.Time) (model.Placement, bool, error) {
	const q = `
SELECT latitude, longitude, confidence, method
FROM resolution.geocode_cache
WHERE query_key = $1
  AND fetched_at >= $2
`
	var placement model.Placement
	err := p.QueryRow(ctx, q, key, notBefore.UTC()).Scan(
		&placement.Point.Lat,
		&placement.Point.Lon,
		&placement.Confidence,
		&placement.Method,
	)
	if err != nil {
		if IsNoRows(err) {
			return model.Placement{}, false, nil
		}
		return model.Placement{}, false, fmt.Errorf("lookup geocode cache: %w", err)
	}
	return placement, true, nil
}

func (p *Pool) SaveGeocode(ctx context.Context, key string, placement model.Placement, fetchedAt time.Time) error {
	const q = `
INSERT INTO resolution.geocode_cache (query_key, latitude, longitude, confidence, method, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (query_key) DO UPDATE
SET
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	confidence = EXCLUDED.confidence,
	method = EXCLUDED.method,
	fetched_at = EXCLUDED.fetched_at
`
	if _, err := p.Exec(ctx, q,
		key,
		placement.Point.Lat,
		placement.Point.Lon,
		placement.Confidence,
		placement.Method,
		fetchedAt.UTC(),
	); err != nil {
		return fmt.Errorf("save geocode cache: %w", err)
	}
	return nil
}

// PurgeGeocodeCache deletes entries fetched before cutoff.
func (p *Pool) PurgeGeocodeCache(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.Exec(ctx, `DELETE FROM resolution.geocode_cache WHERE fetched_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge geocode cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
