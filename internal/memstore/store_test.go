package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/resolve"
)

var t0 = time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)

func event(sig, country string, escalation float64, lastSeen time.Time) model.Event {
	return model.Event{
		Title:                "event " + sig,
		Country:              country,
		Signature:            sig,
		Escalation:           escalation,
		SourceCount:          1,
		CoordinateConfidence: 0.8,
		FirstSeenAt:          lastSeen,
		LastSeenAt:           lastSeen,
	}
}

func TestInsertEventRejectsDuplicateSignature(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	first, err := s.InsertEvent(ctx, event("sig-a", "Ukraine", 5, t0))
	if err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}
	if first.ID != 1 || first.UUID == "" || first.Version != 1 || first.Status != model.EventStatusActive {
		t.Fatalf("unexpected inserted event: %+v", first)
	}
	if _, err := s.InsertEvent(ctx, event("sig-a", "Ukraine", 6, t0)); !errors.Is(err, resolve.ErrDuplicateSignature) {
		t.Fatalf("second InsertEvent() error = %v, want duplicate signature", err)
	}

	got, err := s.GetEventByUUID(ctx, first.UUID)
	if err != nil || got.ID != first.ID {
		t.Fatalf("GetEventByUUID() = %+v, %v", got, err)
	}
}

func TestUpdateEventChecksVersion(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	e, _ := s.InsertEvent(ctx, event("sig-a", "Ukraine", 5, t0))

	e.Escalation = 7
	updated, err := s.UpdateEvent(ctx, e, 1)
	if err != nil {
		t.Fatalf("UpdateEvent() error = %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d, want 2", updated.Version)
	}
	if _, err := s.UpdateEvent(ctx, e, 1); !errors.Is(err, resolve.ErrVersionConflict) {
		t.Fatalf("stale UpdateEvent() error = %v, want version conflict", err)
	}
	if _, err := s.UpdateEvent(ctx, model.Event{ID: 99}, 1); !errors.Is(err, resolve.ErrEventNotFound) {
		t.Fatalf("UpdateEvent(missing) error = %v, want not found", err)
	}
}

func TestListCandidateEventsWindowAndCountry(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, _ = s.InsertEvent(ctx, event("a", "Ukraine", 5, t0))
	_, _ = s.InsertEvent(ctx, event("b", "ukraine", 5, t0.Add(-96*time.Hour)))
	_, _ = s.InsertEvent(ctx, event("c", "Syria", 5, t0))

	got, err := s.ListCandidateEvents(ctx, resolve.CandidateQuery{
		Country: "Ukraine",
		From:    t0.Add(-72 * time.Hour),
		To:      t0.Add(72 * time.Hour),
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("ListCandidateEvents() error = %v", err)
	}
	if len(got) != 1 || got[0].Signature != "a" {
		t.Fatalf("candidates = %+v, want only event a", got)
	}
}

func TestRecordContributionIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.RecordContribution(ctx, resolve.Contribution{Fingerprint: "fp", EventID: 1}); err != nil {
		t.Fatalf("RecordContribution() error = %v", err)
	}
	if err := s.RecordContribution(ctx, resolve.Contribution{Fingerprint: "fp", EventID: 2}); err != nil {
		t.Fatalf("RecordContribution() error = %v", err)
	}
	c, ok, _ := s.FindContribution(ctx, "fp")
	if !ok || c.EventID != 1 {
		t.Fatalf("contribution = %+v/%v, want the first write kept", c, ok)
	}
}

func TestResolveStaleEventsAndRegionStats(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, _ = s.InsertEvent(ctx, event("a", "Ukraine", 5, t0))
	_, _ = s.InsertEvent(ctx, event("b", "Ukraine", 8, t0.Add(-72*time.Hour)))
	_, _ = s.InsertEvent(ctx, event("c", "Syria", 3, t0))

	resolved, err := s.ResolveStaleEvents(ctx, t0.Add(-48*time.Hour))
	if err != nil || resolved != 1 {
		t.Fatalf("ResolveStaleEvents() = %d, %v, want 1", resolved, err)
	}

	stats, err := s.ActiveRegionStats(ctx)
	if err != nil {
		t.Fatalf("ActiveRegionStats() error = %v", err)
	}
	if len(stats) != 2 || stats[0].Region != "syria" || stats[1].Region != "ukraine" {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[1].ActiveEvents != 1 || stats[1].MaxEscalation != 5 {
		t.Fatalf("ukraine stat = %+v, want the resolved event excluded", stats[1])
	}
}

func TestListEventsFilters(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, _ = s.InsertEvent(ctx, event("a", "Ukraine", 5, t0))
	_, _ = s.InsertEvent(ctx, event("b", "Ukraine", 8, t0.Add(time.Hour)))
	_, _ = s.InsertEvent(ctx, event("c", "Syria", 9, t0.Add(2*time.Hour)))

	got, _ := s.ListEvents(ctx, model.EventFilter{Country: "ukraine"})
	if len(got) != 2 || got[0].Signature != "b" {
		t.Fatalf("country filter = %+v, want newest first", got)
	}
	got, _ = s.ListEvents(ctx, model.EventFilter{MinEscalation: 8, Limit: 1})
	if len(got) != 1 || got[0].Signature != "c" {
		t.Fatalf("escalation filter = %+v", got)
	}
	got, _ = s.ListEvents(ctx, model.EventFilter{Offset: 5})
	if len(got) != 0 {
		t.Fatalf("offset past end = %+v, want empty", got)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i, uuid := range []string{"run-a", "run-b", "run-c"} {
		if err := s.SaveRun(ctx, model.Run{UUID: uuid, Status: "completed", StartedAt: t0.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}
	if err := s.SaveRun(ctx, model.Run{UUID: "run-a", Status: "failed", StartedAt: t0}); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].UUID != "run-c" || runs[1].UUID != "run-b" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	all, _ := s.ListRuns(ctx, 0)
	if len(all) != 3 || all[2].Status != "failed" {
		t.Fatalf("expected the updated run last, got %+v", all)
	}
}
