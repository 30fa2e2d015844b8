package resolve

import (
	"context"
	"time"

	"horse.fit/flashpoint/internal/model"
)

// CandidateQuery selects events for the similarity scan.
type CandidateQuery struct {
	Country string
	From    time.Time
	To      time.Time
	Limit   int
}

// Contribution is one ledger row linking an article fingerprint to the event it resolved into.
type Contribution struct {
	Fingerprint  string
	EventID      int64
	EventUUID    string
	Source       string
	SourceItemID string
	URL          string
	Decision     Decision
	Signal       string
	Score        float64
	CreatedAt    time.Time
}

// EventReader is the read side used by the Detector.
type EventReader interface {
	FindContribution(ctx context.Context, fingerprint string) (Contribution, bool, error)
	FindEventBySignature(ctx context.Context, signature string) (model.Event, bool, error)
	ListCandidateEvents(ctx context.Context, q CandidateQuery) ([]model.Event, error)
}

// EventWriter is the read-modify-write side used by the Merger.
type EventWriter interface {
	GetEvent(ctx context.Context, id int64) (model.Event, error)
	// UpdateEvent persists e only if the stored version still equals expectedVersion; it returns
	// ErrVersionConflict otherwise. The returned event carries the bumped version.
	UpdateEvent(ctx context.Context, e model.Event, expectedVersion int64) (model.Event, error)
}

// Store is everything the pipeline needs from storage.
type Store interface {
	EventReader
	EventWriter
	// InsertEvent returns ErrDuplicateSignature when an event with the same signature exists.
	InsertEvent(ctx context.Context, e model.Event) (model.Event, error)
	// RecordContribution is a no-op when the fingerprint is already recorded.
	RecordContribution(ctx context.Context, c Contribution) error
}
