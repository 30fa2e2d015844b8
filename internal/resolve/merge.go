package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/globaltime"
	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/similarity"
)

const (
	DefaultSummaryAppendThreshold = 0.9

	deltaTimeLayout = "2006-01-02T15:04Z"
)

// Update is the information an article carries into an existing event.
type Update struct {
	Article    model.Article
	Escalation float64
	Placement  *model.Placement
}

// ApplyMerge folds u into e. It is pure; the version is left for the store to bump.
func ApplyMerge(e model.Event, u Update, now time.Time, appendThreshold float64) model.Event {
	merged := e
	a := u.Article

	incoming := strings.TrimSpace(a.Summary)
	if incoming != "" && similarity.TextSimilarity(e.Summary, incoming) < appendThreshold {
		stamp := a.PublishedAt
		if stamp.IsZero() {
			stamp = now
		}
		line := fmt.Sprintf("[%s] %s", stamp.UTC().Format(deltaTimeLayout), incoming)
		if strings.TrimSpace(merged.Summary) == "" {
			merged.Summary = line
		} else {
			merged.Summary = merged.Summary + "\n" + line
		}
	}

	merged.Escalation = max(e.Escalation, model.ClampEscalation(u.Escalation))
	merged.Tags = model.NormalizeTags(e.Tags, a.Tags)
	merged.SourceCount = e.SourceCount + 1
	merged.LastUpdatedAt = now
	if a.PublishedAt.After(merged.LastSeenAt) {
		merged.LastSeenAt = a.PublishedAt.UTC()
	}
	merged.Status = model.EventStatusActive

	if u.Placement != nil && u.Placement.Point.Valid() {
		if _, ok := e.Coordinates(); !ok || u.Placement.Confidence > e.CoordinateConfidence {
			merged.SetCoordinates(u.Placement.Point, u.Placement.Confidence, u.Placement.Method)
		}
	}
	if merged.Language == "" {
		merged.Language = a.Language
	}
	if merged.City == "" {
		merged.City = strings.TrimSpace(a.City)
	}
	if merged.Region == "" {
		merged.Region = strings.TrimSpace(a.Region)
	}
	return merged
}

type MergeOptions struct {
	SummaryAppendThreshold float64
	// MaxAttempts caps conflict retries. Zero retries until ctx ends.
	MaxAttempts int
}

// Merger applies updates under optimistic concurrency: on a version conflict it re-reads the event
// and re-applies the merge rule.
type Merger struct {
	writer EventWriter
	opts   MergeOptions
	logger zerolog.Logger
}

func NewMerger(writer EventWriter, opts MergeOptions, logger zerolog.Logger) *Merger {
	if opts.SummaryAppendThreshold <= 0 || opts.SummaryAppendThreshold > 1 {
		opts.SummaryAppendThreshold = DefaultSummaryAppendThreshold
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	return &Merger{writer: writer, opts: opts, logger: logger}
}

func (m *Merger) Merge(ctx context.Context, eventID int64, u Update) (model.Event, error) {
	for attempt := 1; m.opts.MaxAttempts == 0 || attempt <= m.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.Event{}, fmt.Errorf("merge event %d: %w", eventID, err)
		}
		current, err := m.writer.GetEvent(ctx, eventID)
		if err != nil {
			return model.Event{}, fmt.Errorf("load event %d: %w", eventID, err)
		}

		merged := ApplyMerge(current, u, globaltime.UTC(), m.opts.SummaryAppendThreshold)
		saved, err := m.writer.UpdateEvent(ctx, merged, current.Version)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return model.Event{}, fmt.Errorf("update event %d: %w", eventID, err)
		}

		m.logger.Debug().
			Int64("event_id", eventID).
			Int("attempt", attempt).
			Int64("version", current.Version).
			Msg("merge version conflict, retrying")
	}
	return model.Event{}, fmt.Errorf("merge event %d: %w after %d attempts", eventID, ErrVersionConflict, m.opts.MaxAttempts)
}
