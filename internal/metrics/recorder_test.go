package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"horse.fit/flashpoint/internal/escalation"
	"horse.fit/flashpoint/internal/pipeline"
	"horse.fit/flashpoint/internal/resolve"
)

func TestObserveArticle(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.ObserveArticle(pipeline.ArticleOutcome{Decision: resolve.DecisionNew, GeocodeMethod: "gazetteer_city"}, 20*time.Millisecond)
	r.ObserveArticle(pipeline.ArticleOutcome{Decision: resolve.DecisionUpdate, GeocodeFailed: true, Warnings: []string{"a", "b"}}, time.Millisecond)
	r.ObserveArticle(pipeline.ArticleOutcome{Error: "store unavailable"}, time.Millisecond)

	if got := testutil.ToFloat64(r.articles.WithLabelValues(string(resolve.DecisionNew))); got != 1 {
		t.Fatalf("new articles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.articles.WithLabelValues("error")); got != 1 {
		t.Fatalf("error articles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.geocodeMethods.WithLabelValues("failed")); got != 1 {
		t.Fatalf("geocode failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.warnings); got != 2 {
		t.Fatalf("warnings = %v, want 2", got)
	}
}

func TestObserveBatchAndRegions(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	start := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	r.ObserveBatch(pipeline.BatchReport{StartedAt: start, FinishedAt: start.Add(2 * time.Second)})
	r.ObserveBatch(pipeline.BatchReport{Cancelled: true, StartedAt: start, FinishedAt: start.Add(time.Second)})

	if got := testutil.ToFloat64(r.batches.WithLabelValues("cancelled")); got != 1 {
		t.Fatalf("cancelled batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.lastBatch); got != float64(start.Add(time.Second).Unix()) {
		t.Fatalf("last batch timestamp = %v", got)
	}

	r.ObserveRegions([]escalation.Region{{Key: "ukraine", Score: 7, ActiveEvents: 3}})
	r.ObserveRegions([]escalation.Region{{Key: "palestine", Score: 9, ActiveEvents: 1}})
	if got := testutil.CollectAndCount(r.regionScore); got != 1 {
		t.Fatalf("region series = %d, want only the latest snapshot", got)
	}
	if got := testutil.ToFloat64(r.regionScore.WithLabelValues("palestine")); got != 9 {
		t.Fatalf("palestine score = %v, want 9", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.ObserveBatch(pipeline.BatchReport{})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "flashpoint_batches_total") {
		t.Fatalf("metrics output missing batches counter")
	}
}
