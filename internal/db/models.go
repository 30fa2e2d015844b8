package db

import (
	"encoding/json"
	"time"
)

// Event maps resolution.events.
type Event struct {
	EventID              int64           `gorm:"column:event_id;primaryKey;autoIncrement"`
	EventUUID            string          `gorm:"column:event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Title                string          `gorm:"column:title;type:text;not null"`
	Summary              string          `gorm:"column:summary;type:text;not null;default:''"`
	Country              string          `gorm:"column:country;type:text;not null;default:''"`
	City                 string          `gorm:"column:city;type:text;not null;default:''"`
	Region               string          `gorm:"column:region;type:text;not null;default:''"`
	Latitude             *float64        `gorm:"column:latitude;type:double precision"`
	Longitude            *float64        `gorm:"column:longitude;type:double precision"`
	CoordinateConfidence float64         `gorm:"column:coordinate_confidence;type:double precision;not null;default:0"`
	CoordinateMethod     string          `gorm:"column:coordinate_method;type:text;not null;default:''"`
	Signature            string          `gorm:"column:signature;type:text;not null;uniqueIndex:events_signature_key"`
	Tags                 json.RawMessage `gorm:"column:tags;type:jsonb;not null;default:'[]'"`
	Escalation           float64         `gorm:"column:escalation;type:double precision;not null;default:0"`
	Language             string          `gorm:"column:language;type:text;not null;default:''"`
	Status               string          `gorm:"column:status;type:text;not null;default:active"`
	SourceCount          int             `gorm:"column:source_count;type:integer;not null;default:1"`
	Version              int64           `gorm:"column:version;type:bigint;not null;default:1"`
	FirstSeenAt          time.Time       `gorm:"column:first_seen_at;type:timestamptz;not null"`
	LastSeenAt           time.Time       `gorm:"column:last_seen_at;type:timestamptz;not null"`
	CreatedAt            time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Event) TableName() string { return "resolution.events" }

// EventArticle maps resolution.event_articles, the ledger of article fingerprints already resolved.
type EventArticle struct {
	EventArticleID int64     `gorm:"column:event_article_id;primaryKey;autoIncrement"`
	Fingerprint    string    `gorm:"column:fingerprint;type:text;not null;unique"`
	EventID        int64     `gorm:"column:event_id;type:bigint;not null;index"`
	Source         string    `gorm:"column:source;type:text;not null;default:''"`
	SourceItemID   string    `gorm:"column:source_item_id;type:text;not null;default:''"`
	URL            *string   `gorm:"column:url;type:text"`
	Decision       string    `gorm:"column:decision;type:text;not null"`
	Signal         string    `gorm:"column:signal;type:text;not null;default:''"`
	Score          float64   `gorm:"column:score;type:double precision;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (EventArticle) TableName() string { return "resolution.event_articles" }

// GeocodeCacheEntry maps resolution.geocode_cache.
type GeocodeCacheEntry struct {
	QueryKey   string    `gorm:"column:query_key;type:text;primaryKey"`
	Latitude   float64   `gorm:"column:latitude;type:double precision;not null"`
	Longitude  float64   `gorm:"column:longitude;type:double precision;not null"`
	Confidence float64   `gorm:"column:confidence;type:double precision;not null"`
	Method     string    `gorm:"column:method;type:text;not null"`
	FetchedAt  time.Time `gorm:"column:fetched_at;type:timestamptz;not null;default:now()"`
}

func (GeocodeCacheEntry) TableName() string { return "resolution.geocode_cache" }

// Run maps resolution.runs.
type Run struct {
	RunID             int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID           string     `gorm:"column:run_uuid;type:uuid;not null;unique"`
	Source            string     `gorm:"column:source;type:text;not null;default:''"`
	Status            string     `gorm:"column:status;type:text;not null;default:running"`
	Processed         int        `gorm:"column:processed;type:integer;not null;default:0"`
	Created           int        `gorm:"column:created;type:integer;not null;default:0"`
	Merged            int        `gorm:"column:merged;type:integer;not null;default:0"`
	DuplicatesSkipped int        `gorm:"column:duplicates_skipped;type:integer;not null;default:0"`
	GeocodeFailures   int        `gorm:"column:geocode_failures;type:integer;not null;default:0"`
	Errors            int        `gorm:"column:errors;type:integer;not null;default:0"`
	Warnings          int        `gorm:"column:warnings;type:integer;not null;default:0"`
	StartedAt         time.Time  `gorm:"column:started_at;type:timestamptz;not null"`
	FinishedAt        *time.Time `gorm:"column:finished_at;type:timestamptz"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Run) TableName() string { return "resolution.runs" }

func autoMigrateModels() []any {
	return []any{
		&Event{},
		&EventArticle{},
		&GeocodeCacheEntry{},
		&Run{},
	}
}
