package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/signature"
	"horse.fit/flashpoint/internal/similarity"
)

const (
	gazaSummary = "An airstrike struck the main hospital in Gaza City on Tuesday morning, killing and wounding " +
		"dozens of patients and staff, according to local health officials."
	gazaFollowUp = gazaSummary + " The death toll rose to 31."
)

type stubReader struct {
	contributions map[string]Contribution
	bySignature   map[string]model.Event
	candidates    []model.Event
	contribErr    error
	signatureErr  error
	listErr       error
	listCalls     int
	lastQuery     CandidateQuery
}

func (s *stubReader) FindContribution(_ context.Context, fingerprint string) (Contribution, bool, error) {
	if s.contribErr != nil {
		return Contribution{}, false, s.contribErr
	}
	c, ok := s.contributions[fingerprint]
	return c, ok, nil
}

func (s *stubReader) FindEventBySignature(_ context.Context, sig string) (model.Event, bool, error) {
	if s.signatureErr != nil {
		return model.Event{}, false, s.signatureErr
	}
	e, ok := s.bySignature[sig]
	return e, ok, nil
}

func (s *stubReader) ListCandidateEvents(_ context.Context, q CandidateQuery) ([]model.Event, error) {
	s.listCalls++
	s.lastQuery = q
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.candidates, nil
}

func gazaEvent(at time.Time) model.Event {
	lat, lon := 31.5017, 34.4668
	first := model.Article{
		Title:       "Airstrike hits Gaza City hospital",
		Country:     "Palestine",
		City:        "Gaza City",
		PublishedAt: at,
	}
	return model.Event{
		ID:                   7,
		Title:                first.Title,
		Summary:              gazaSummary,
		Country:              first.Country,
		City:                 first.City,
		Latitude:             &lat,
		Longitude:            &lon,
		CoordinateConfidence: 0.8,
		CoordinateMethod:     "gazetteer_city",
		Signature:            signature.ForArticle(first),
		Tags:                 []string{"airstrike", "hospital"},
		Escalation:           8,
		Status:               model.EventStatusActive,
		SourceCount:          1,
		Version:              1,
		FirstSeenAt:          at,
		LastSeenAt:           at,
	}
}

func gazaFollowUpArticle(at time.Time) model.Article {
	escalation := 9.0
	return model.Article{
		Source:       "wire",
		SourceItemID: "gaza-2",
		Title:        "Death toll rises from Gaza City hospital strike",
		Summary:      gazaFollowUp,
		Country:      "Palestine",
		City:         "Gaza City",
		Tags:         []string{"airstrike", "hospital"},
		Escalation:   &escalation,
		PublishedAt:  at,
	}
}

func newTestDetector(reader EventReader) *Detector {
	return NewDetector(reader, similarity.NewScorer(similarity.DefaultWeights()), DetectorOptions{}, zerolog.Nop())
}

func TestClassifyFollowUpIsUpdate(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	event := gazaEvent(t0)
	reader := &stubReader{candidates: []model.Event{event}}
	article := gazaFollowUpArticle(t0.Add(2 * time.Hour))

	got := newTestDetector(reader).Classify(context.Background(), article, article.Fingerprint(), signature.ForArticle(article))
	if got.Decision != DecisionUpdate {
		t.Fatalf("unexpected decision: got %q want %q (score=%f reasons=%v)", got.Decision, DecisionUpdate, got.Score, got.Reasons)
	}
	if got.TargetID != event.ID {
		t.Fatalf("unexpected target: got %d want %d", got.TargetID, event.ID)
	}
	if got.Signal != SignalSimilarity {
		t.Fatalf("unexpected signal: %q", got.Signal)
	}
	if got.Score < DefaultSimilarityThreshold {
		t.Fatalf("expected score >= threshold, got %f", got.Score)
	}
	if reader.lastQuery.Country != "Palestine" {
		t.Fatalf("expected candidate query scoped to country, got %q", reader.lastQuery.Country)
	}
	if !reader.lastQuery.From.Equal(article.PublishedAt.Add(-DefaultCandidateWindow)) {
		t.Fatalf("unexpected window start: %s", reader.lastQuery.From)
	}
	if !reader.lastQuery.To.Equal(article.PublishedAt) {
		t.Fatalf("unexpected window end: got %s want the article time %s", reader.lastQuery.To, article.PublishedAt)
	}
}

func TestClassifySignatureHitSkipsCandidateScan(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	event := gazaEvent(t0)
	reader := &stubReader{bySignature: map[string]model.Event{event.Signature: event}}
	article := model.Article{
		Source:      "other-wire",
		Title:       "AIRSTRIKE hits Gaza City hospital",
		Country:     "palestine",
		City:        "gaza city",
		PublishedAt: t0.Add(3 * time.Hour),
	}

	got := newTestDetector(reader).Classify(context.Background(), article, article.Fingerprint(), signature.ForArticle(article))
	if got.Decision != DecisionUpdate || got.Signal != SignalSignature {
		t.Fatalf("expected signature fast path, got decision=%q signal=%q", got.Decision, got.Signal)
	}
	if reader.listCalls != 0 {
		t.Fatalf("expected no candidate scan on signature hit, got %d calls", reader.listCalls)
	}
}

func TestClassifyKnownFingerprintIsDuplicate(t *testing.T) {
	t.Parallel()

	article := gazaFollowUpArticle(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	reader := &stubReader{contributions: map[string]Contribution{
		article.Fingerprint(): {Fingerprint: article.Fingerprint(), EventID: 7},
	}}

	got := newTestDetector(reader).Classify(context.Background(), article, article.Fingerprint(), signature.ForArticle(article))
	if got.Decision != DecisionDuplicate || got.TargetID != 7 {
		t.Fatalf("expected duplicate of event 7, got decision=%q target=%d", got.Decision, got.TargetID)
	}
}

func TestClassifyCandidateFetchFailureDegradesToNew(t *testing.T) {
	t.Parallel()

	reader := &stubReader{listErr: errors.New("connection refused")}
	article := gazaFollowUpArticle(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))

	got := newTestDetector(reader).Classify(context.Background(), article, article.Fingerprint(), signature.ForArticle(article))
	if got.Decision != DecisionNew || got.Signal != SignalFetchFailed {
		t.Fatalf("expected degraded new classification, got decision=%q signal=%q", got.Decision, got.Signal)
	}
	if len(got.Warnings) != 1 || got.Warnings[0].Field != "candidates" {
		t.Fatalf("expected one candidates warning, got %v", got.Warnings)
	}
}

func TestClassifyLookupFailuresContinue(t *testing.T) {
	t.Parallel()

	reader := &stubReader{
		contribErr:   errors.New("timeout"),
		signatureErr: errors.New("timeout"),
	}
	article := gazaFollowUpArticle(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))

	got := newTestDetector(reader).Classify(context.Background(), article, article.Fingerprint(), signature.ForArticle(article))
	if got.Decision != DecisionNew || got.Signal != SignalNoCandidates {
		t.Fatalf("unexpected classification: decision=%q signal=%q", got.Decision, got.Signal)
	}
	if len(got.Warnings) != 2 {
		t.Fatalf("expected two warnings, got %d", len(got.Warnings))
	}
	if reader.listCalls != 1 {
		t.Fatalf("expected candidate scan after lookup failures")
	}
}

func TestClassifyUnrelatedCandidateIsNew(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	reader := &stubReader{candidates: []model.Event{gazaEvent(t0)}}
	article := model.Article{
		Source:      "wire",
		Title:       "Aid convoy reaches Rafah crossing",
		Summary:     "Trucks carrying flour entered through the southern crossing.",
		Country:     "Palestine",
		City:        "Rafah",
		PublishedAt: t0.Add(time.Hour),
	}

	got := newTestDetector(reader).Classify(context.Background(), article, article.Fingerprint(), signature.ForArticle(article))
	if got.Decision != DecisionNew || got.Signal != SignalBelowThreshold {
		t.Fatalf("expected new below threshold, got decision=%q signal=%q score=%f", got.Decision, got.Signal, got.Score)
	}
	if got.Candidates != 1 {
		t.Fatalf("unexpected candidate count: %d", got.Candidates)
	}
}

func TestClassifyPicksBestCandidate(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	weak := gazaEvent(t0)
	weak.ID = 1
	weak.Title = "Hospital generators run out of fuel"
	weak.Summary = "Fuel shortages hit hospitals."
	strong := gazaEvent(t0)
	strong.ID = 2

	reader := &stubReader{candidates: []model.Event{weak, strong}}
	article := gazaFollowUpArticle(t0.Add(2 * time.Hour))

	got := newTestDetector(reader).Classify(context.Background(), article, article.Fingerprint(), signature.ForArticle(article))
	if got.TargetID != 2 {
		t.Fatalf("expected best candidate 2, got %d (decision=%q)", got.TargetID, got.Decision)
	}
}
