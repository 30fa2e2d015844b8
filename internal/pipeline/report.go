package pipeline

import (
	"time"

	"horse.fit/flashpoint/internal/resolve"
)

// BatchReport summarizes one RunBatch call. Individual article failures are counted, never returned.
type BatchReport struct {
	RunUUID           string           `json:"run_uuid"`
	Source            string           `json:"source,omitempty"`
	DryRun            bool             `json:"dry_run,omitempty"`
	Processed         int              `json:"processed"`
	Created           int              `json:"created"`
	Merged            int              `json:"merged"`
	DuplicatesSkipped int              `json:"duplicates_skipped"`
	GeocodeFailures   int              `json:"geocode_failures"`
	Errors            int              `json:"errors"`
	Warnings          int              `json:"warnings"`
	Cancelled         bool             `json:"cancelled"`
	Remaining         int              `json:"remaining"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
	Outcomes          []ArticleOutcome `json:"outcomes,omitempty"`
	ArchiveKey        string           `json:"archive_key,omitempty"`
}

func (r BatchReport) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ArticleOutcome is the per-article result in submission order.
type ArticleOutcome struct {
	Index         int              `json:"index"`
	Fingerprint   string           `json:"fingerprint"`
	Title         string           `json:"title"`
	Decision      resolve.Decision `json:"decision,omitempty"`
	Signal        string           `json:"signal,omitempty"`
	Score         float64          `json:"score"`
	EventUUID     string           `json:"event_uuid,omitempty"`
	GeocodeMethod string           `json:"geocode_method,omitempty"`
	GeocodeFailed bool             `json:"geocode_failed,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
	Error         string           `json:"error,omitempty"`
}

func (r *BatchReport) add(o ArticleOutcome) {
	r.Processed++
	r.Warnings += len(o.Warnings)
	if o.GeocodeFailed {
		r.GeocodeFailures++
	}
	if o.Error != "" {
		r.Errors++
		return
	}
	switch o.Decision {
	case resolve.DecisionNew:
		r.Created++
	case resolve.DecisionUpdate:
		r.Merged++
	case resolve.DecisionDuplicate:
		r.DuplicatesSkipped++
	}
}
