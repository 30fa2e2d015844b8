package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/escalation"
	"horse.fit/flashpoint/internal/geocode"
	"horse.fit/flashpoint/internal/memstore"
	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/resolve"
)

const (
	gazaSummary = "An airstrike struck the main hospital in Gaza City on Tuesday morning, killing and wounding " +
		"dozens of patients and staff, according to local health officials."
	gazaFollowUp = gazaSummary + " The death toll rose to 31."
)

var batchStart = time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)

func floatPtr(v float64) *float64 {
	return &v
}

func newTestService(t *testing.T, store *memstore.Store, opts Options) (*Service, *escalation.Aggregator) {
	t.Helper()
	g, err := geocode.DefaultGazetteer()
	if err != nil {
		t.Fatalf("DefaultGazetteer() error = %v", err)
	}
	aggregator := escalation.NewAggregator(store, escalation.Options{}, zerolog.Nop())
	svc := NewService(Dependencies{
		Store:      store,
		Geocoder:   geocode.NewResolver(geocode.Options{Gazetteer: g, Cache: geocode.NewMemoryCache(time.Hour, time.Minute)}, zerolog.Nop()),
		Aggregator: aggregator,
		Runs:       store,
	}, opts, zerolog.Nop())
	return svc, aggregator
}

func gazaArticles() (model.Article, model.Article) {
	first := model.Article{
		Source:       "reuters",
		SourceItemID: "gaza-1",
		Title:        "Airstrike hits Gaza City hospital",
		Summary:      gazaSummary,
		PublishedAt:  batchStart,
		Country:      "Palestine",
		City:         "Gaza City",
		Tags:         []string{"airstrike", "hospital"},
		Escalation:   floatPtr(8),
	}
	second := model.Article{
		Source:       "aljazeera",
		SourceItemID: "gaza-2",
		Title:        "Death toll rises from Gaza City hospital strike",
		Summary:      gazaFollowUp,
		PublishedAt:  batchStart.Add(2 * time.Hour),
		Country:      "Palestine",
		City:         "Gaza City",
		Tags:         []string{"hospital", "airstrike"},
		Escalation:   floatPtr(9),
	}
	return first, second
}

func TestRunBatchGazaFollowUpMergesIntoOneEvent(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc, aggregator := newTestService(t, store, Options{Workers: 1})
	first, second := gazaArticles()

	report, err := svc.RunBatch(context.Background(), []model.Article{first}, RunOptions{Source: "test"})
	if err != nil {
		t.Fatalf("first RunBatch() error = %v", err)
	}
	if report.Created != 1 {
		t.Fatalf("first report = %+v, want 1 created", report)
	}

	report, err = svc.RunBatch(context.Background(), []model.Article{second}, RunOptions{Source: "test"})
	if err != nil {
		t.Fatalf("second RunBatch() error = %v", err)
	}
	if report.Merged != 1 || report.Created != 0 || report.Errors != 0 {
		t.Fatalf("second report = %+v, want 1 merged", report)
	}
	if outcome := report.Outcomes[0]; outcome.Decision != resolve.DecisionUpdate || outcome.Signal != resolve.SignalSimilarity {
		t.Fatalf("outcome = %+v, want similarity update", outcome)
	}

	events, err := store.ListEvents(context.Background(), model.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	event := events[0]
	if event.Escalation != 9 || event.SourceCount != 2 {
		t.Fatalf("event escalation/source_count = %v/%d, want 9/2", event.Escalation, event.SourceCount)
	}
	if !strings.Contains(event.Summary, gazaSummary) || !strings.Contains(event.Summary, "The death toll rose to 31.") {
		t.Fatalf("summary does not contain both texts: %q", event.Summary)
	}
	if event.CoordinateMethod != geocode.MethodGazetteerCity {
		t.Fatalf("coordinate method = %q, want gazetteer city", event.CoordinateMethod)
	}

	region, ok := aggregator.Region("palestine")
	if !ok || region.Score != 9 {
		t.Fatalf("region = %+v/%v, want score 9", region, ok)
	}
}

func hundredArticles() []model.Article {
	articles := make([]model.Article, 0, 100)
	for i := 0; i < 90; i++ {
		articles = append(articles, model.Article{
			Source:       "wire",
			SourceItemID: fmt.Sprintf("item-%03d", i),
			Title:        fmt.Sprintf("incident%03d shelling%03d", i, i),
			Summary:      fmt.Sprintf("report%03d casualties%03d damage%03d", i, i, i),
			PublishedAt:  batchStart.Add(time.Duration(i) * time.Minute),
			Country:      "Ukraine",
			City:         "Kyiv",
			Escalation:   floatPtr(float64(i % 10)),
		})
	}
	for i := 0; i < 10; i++ {
		dup := articles[i*9]
		dup.Source = "mirror"
		dup.SourceItemID = fmt.Sprintf("mirror-%03d", i)
		articles = append(articles, dup)
	}
	return articles
}

func TestRunBatchHundredArticlesWithTenDuplicates(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc, _ := newTestService(t, store, Options{Workers: 8})

	report, err := svc.RunBatch(context.Background(), hundredArticles(), RunOptions{Source: "test"})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if report.Processed != 100 || report.Created != 90 || report.Merged != 10 || report.Errors != 0 {
		t.Fatalf("report = processed %d created %d merged %d errors %d, want 100/90/10/0",
			report.Processed, report.Created, report.Merged, report.Errors)
	}
	if store.Len() != 90 {
		t.Fatalf("store has %d events, want 90", store.Len())
	}
	if report.Cancelled || report.Remaining != 0 {
		t.Fatalf("report = %+v, want complete", report)
	}
}

func TestRunBatchRerunIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc, _ := newTestService(t, store, Options{Workers: 4})
	articles := hundredArticles()

	if _, err := svc.RunBatch(context.Background(), articles, RunOptions{}); err != nil {
		t.Fatalf("first RunBatch() error = %v", err)
	}
	report, err := svc.RunBatch(context.Background(), articles, RunOptions{})
	if err != nil {
		t.Fatalf("second RunBatch() error = %v", err)
	}
	if report.DuplicatesSkipped != 100 || report.Created != 0 || report.Merged != 0 {
		t.Fatalf("rerun report = %+v, want 100 duplicates skipped", report)
	}
	if store.Len() != 90 {
		t.Fatalf("store has %d events after rerun, want 90", store.Len())
	}
}

func TestRunBatchCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc, _ := newTestService(t, store, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	articles := hundredArticles()[:5]
	report, err := svc.RunBatch(ctx, articles, RunOptions{})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if !report.Cancelled || report.Remaining != 5 || report.Processed != 0 {
		t.Fatalf("report = %+v, want cancelled with 5 remaining", report)
	}
	runs := store.Runs()
	if len(runs) != 1 || runs[0].Status != "cancelled" || runs[0].FinishedAt == nil {
		t.Fatalf("runs = %+v, want one cancelled run", runs)
	}
}

func TestRunBatchWithoutStoreIsFatal(t *testing.T) {
	t.Parallel()

	svc := NewService(Dependencies{}, Options{}, zerolog.Nop())
	_, err := svc.RunBatch(context.Background(), hundredArticles()[:1], RunOptions{})
	if !resolve.IsFatalConfiguration(err) {
		t.Fatalf("RunBatch() error = %v, want fatal configuration", err)
	}

	store := memstore.New()
	svc = NewService(Dependencies{
		Store:    store,
		Geocoder: geocode.NewResolver(geocode.Options{}, zerolog.Nop()),
	}, Options{}, zerolog.Nop())
	if _, err := svc.RunBatch(context.Background(), nil, RunOptions{}); !resolve.IsFatalConfiguration(err) {
		t.Fatalf("RunBatch() error = %v, want fatal configuration for empty geocoder", err)
	}
	if store.Len() != 0 {
		t.Fatalf("store was written despite fatal configuration")
	}
}

func TestRunBatchDataQualityWarnings(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc, _ := newTestService(t, store, Options{Workers: 2})
	articles := []model.Article{
		{Source: "wire", SourceItemID: "a", Summary: "Clashes erupted near the border crossing overnight as troops exchanged fire", PublishedAt: batchStart, Country: "Lebanon", City: "Tripoli"},
		{Source: "wire", SourceItemID: "b", PublishedAt: batchStart},
		{Source: "wire", SourceItemID: "c", Title: "Unrest reported", PublishedAt: batchStart},
	}

	report, err := svc.RunBatch(context.Background(), articles, RunOptions{})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if report.Processed != 3 || report.Created != 2 || report.Errors != 1 || report.GeocodeFailures != 1 {
		t.Fatalf("report = %+v, want 3 processed, 2 created, 1 error, 1 geocode failure", report)
	}
	if report.Warnings < 3 {
		t.Fatalf("warnings = %d, want at least 3", report.Warnings)
	}

	first := report.Outcomes[0]
	if first.Title != "Clashes erupted near the border crossing overnight as troops exchanged fire" {
		t.Fatalf("fallback title = %q", first.Title)
	}
	event, err := store.GetEventByUUID(context.Background(), first.EventUUID)
	if err != nil {
		t.Fatalf("GetEventByUUID() error = %v", err)
	}
	lat, lon := *event.Latitude, *event.Longitude
	if lat < 34.3 || lat > 34.5 || lon < 35.7 || lon > 35.9 {
		t.Fatalf("event coordinates = %v,%v, want Tripoli, Lebanon", lat, lon)
	}
}

func TestRunBatchDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc, _ := newTestService(t, store, Options{})
	first, _ := gazaArticles()

	report, err := svc.RunBatch(context.Background(), []model.Article{first}, RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if report.Created != 1 || !report.DryRun {
		t.Fatalf("report = %+v, want one would-be create", report)
	}
	if store.Len() != 0 || len(store.Runs()) != 0 {
		t.Fatalf("dry run wrote %d events and %d runs", store.Len(), len(store.Runs()))
	}
}

type flakyStore struct {
	*memstore.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) InsertEvent(ctx context.Context, e model.Event) (model.Event, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return model.Event{}, &resolve.TransientError{Op: "insert", Err: errors.New("connection reset by peer")}
	}
	s.mu.Unlock()
	return s.Store.InsertEvent(ctx, e)
}

func TestRunBatchRetriesTransientStoreErrors(t *testing.T) {
	t.Parallel()

	g, err := geocode.DefaultGazetteer()
	if err != nil {
		t.Fatalf("DefaultGazetteer() error = %v", err)
	}
	newService := func(store resolve.Store) *Service {
		return NewService(Dependencies{
			Store:    store,
			Geocoder: geocode.NewResolver(geocode.Options{Gazetteer: g}, zerolog.Nop()),
		}, Options{Workers: 1, StoreRetryBackoff: time.Millisecond}, zerolog.Nop())
	}
	first, _ := gazaArticles()

	recovering := &flakyStore{Store: memstore.New(), failures: 2}
	report, err := newService(recovering).RunBatch(context.Background(), []model.Article{first}, RunOptions{})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if report.Created != 1 || report.Errors != 0 {
		t.Fatalf("report = %+v, want create after retries", report)
	}

	failing := &flakyStore{Store: memstore.New(), failures: 10}
	report, err = newService(failing).RunBatch(context.Background(), []model.Article{first}, RunOptions{})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if report.Errors != 1 || report.Created != 0 {
		t.Fatalf("report = %+v, want one article error", report)
	}
	if !strings.Contains(report.Outcomes[0].Error, "insert event") {
		t.Fatalf("outcome error = %q", report.Outcomes[0].Error)
	}
}

type stubScorer struct {
	score float64
	err   error
}

func (s stubScorer) ScoreEscalation(context.Context, model.Article) (float64, error) {
	return s.score, s.err
}

func TestRunBatchUsesEscalationScorerWhenArticleHasNone(t *testing.T) {
	t.Parallel()

	g, err := geocode.DefaultGazetteer()
	if err != nil {
		t.Fatalf("DefaultGazetteer() error = %v", err)
	}
	store := memstore.New()
	svc := NewService(Dependencies{
		Store:    store,
		Geocoder: geocode.NewResolver(geocode.Options{Gazetteer: g}, zerolog.Nop()),
		Scorer:   stubScorer{score: 6.5},
		Language: func(string, string, string) string { return "en" },
	}, Options{}, zerolog.Nop())

	first, _ := gazaArticles()
	first.Escalation = nil
	report, err := svc.RunBatch(context.Background(), []model.Article{first}, RunOptions{})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	event, err := store.GetEventByUUID(context.Background(), report.Outcomes[0].EventUUID)
	if err != nil {
		t.Fatalf("GetEventByUUID() error = %v", err)
	}
	if event.Escalation != 6.5 || event.Language != "en" {
		t.Fatalf("event escalation/language = %v/%q, want 6.5/en", event.Escalation, event.Language)
	}
}
