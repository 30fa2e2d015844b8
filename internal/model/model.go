// Package model holds the records that flow through event resolution.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	EventStatusActive   = "active"
	EventStatusResolved = "resolved"

	MaxEscalation = 10.0
)

// GeoPoint is a latitude/longitude pair in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether p is a usable coordinate. (0,0) is treated as a missing value.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return false
	}
	return !(p.Lat == 0 && p.Lon == 0)
}

// Article is one ingested news item. It is never mutated once handed to the pipeline.
type Article struct {
	Source       string    `json:"source"`
	SourceItemID string    `json:"source_item_id,omitempty"`
	URL          string    `json:"url,omitempty"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	Country      string    `json:"country,omitempty"`
	City         string    `json:"city,omitempty"`
	Region       string    `json:"region,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Escalation   *float64  `json:"escalation,omitempty"`
	Language     string    `json:"language,omitempty"`
}

// Coordinates returns the article's raw coordinates when both are present.
func (a Article) Coordinates() (GeoPoint, bool) {
	if a.Latitude == nil || a.Longitude == nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Lat: *a.Latitude, Lon: *a.Longitude}, true
}

// Event is a resolved, de-duplicated record of a real-world occurrence.
type Event struct {
	ID                   int64     `json:"event_id"`
	UUID                 string    `json:"event_uuid"`
	Title                string    `json:"title"`
	Summary              string    `json:"summary"`
	Country              string    `json:"country,omitempty"`
	City                 string    `json:"city,omitempty"`
	Region               string    `json:"region,omitempty"`
	Latitude             *float64  `json:"latitude,omitempty"`
	Longitude            *float64  `json:"longitude,omitempty"`
	CoordinateConfidence float64   `json:"coordinate_confidence"`
	CoordinateMethod     string    `json:"coordinate_method,omitempty"`
	Signature            string    `json:"signature"`
	Tags                 []string  `json:"tags"`
	Escalation           float64   `json:"escalation"`
	Language             string    `json:"language,omitempty"`
	Status               string    `json:"status"`
	SourceCount          int       `json:"source_count"`
	Version              int64     `json:"version"`
	FirstSeenAt          time.Time `json:"first_seen_at"`
	LastSeenAt           time.Time `json:"last_seen_at"`
	CreatedAt            time.Time `json:"created_at"`
	LastUpdatedAt        time.Time `json:"last_updated_at"`
}

// Coordinates returns the event's coordinates when they are set and valid.
func (e Event) Coordinates() (GeoPoint, bool) {
	if e.Latitude == nil || e.Longitude == nil {
		return GeoPoint{}, false
	}
	p := GeoPoint{Lat: *e.Latitude, Lon: *e.Longitude}
	return p, p.Valid()
}

// SetCoordinates stores p with its confidence and method tag.
func (e *Event) SetCoordinates(p GeoPoint, confidence float64, method string) {
	lat, lon := p.Lat, p.Lon
	e.Latitude = &lat
	e.Longitude = &lon
	e.CoordinateConfidence = confidence
	e.CoordinateMethod = method
}

// RegionKey is the aggregation key for an event location: the country, else the region.
func RegionKey(country, region string) string {
	if key := strings.ToLower(strings.TrimSpace(country)); key != "" {
		return key
	}
	return strings.ToLower(strings.TrimSpace(region))
}

// ClampEscalation bounds a score to [0, MaxEscalation].
func ClampEscalation(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > MaxEscalation {
		return MaxEscalation
	}
	return score
}

// NormalizeTags lower-cases, trims, de-duplicates and sorts tags.
func NormalizeTags(groups ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, tags := range groups {
		for _, tag := range tags {
			clean := strings.ToLower(strings.TrimSpace(tag))
			if clean == "" {
				continue
			}
			if _, exists := seen[clean]; exists {
				continue
			}
			seen[clean] = struct{}{}
			out = append(out, clean)
		}
	}
	sort.Strings(out)
	return out
}

// Fingerprint identifies an article across re-runs: the source item id when known, else the url,
// else the title and publication time.
func (a Article) Fingerprint() string {
	source := strings.ToLower(strings.TrimSpace(a.Source))
	var key string
	switch {
	case strings.TrimSpace(a.SourceItemID) != "":
		key = "id:" + strings.TrimSpace(a.SourceItemID)
	case strings.TrimSpace(a.URL) != "":
		key = "url:" + strings.TrimSpace(a.URL)
	default:
		key = "title:" + strings.ToLower(strings.TrimSpace(a.Title)) + "|" + a.PublishedAt.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(source + "|" + key))
	return hex.EncodeToString(sum[:])
}

// Placement is a resolved location with how far it can be trusted.
type Placement struct {
	Point      GeoPoint `json:"point"`
	Confidence float64  `json:"confidence"`
	Method     string   `json:"method"`
}

// RegionStat summarizes the active events of one region as stored.
type RegionStat struct {
	Region         string  `json:"region"`
	ActiveEvents   int     `json:"active_events"`
	MaxEscalation  float64 `json:"max_escalation"`
	TotalSources   int     `json:"total_sources"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// EventFilter selects events for listings.
type EventFilter struct {
	Country       string
	Status        string
	Since         *time.Time
	MinEscalation float64
	Limit         int
	Offset        int
}

// Run is the persisted summary of one batch run.
type Run struct {
	UUID              string     `json:"run_uuid"`
	Source            string     `json:"source"`
	Status            string     `json:"status"`
	Processed         int        `json:"processed"`
	Created           int        `json:"created"`
	Merged            int        `json:"merged"`
	DuplicatesSkipped int        `json:"duplicates_skipped"`
	GeocodeFailures   int        `json:"geocode_failures"`
	Errors            int        `json:"errors"`
	Warnings          int        `json:"warnings"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}
