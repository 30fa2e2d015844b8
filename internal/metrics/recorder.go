// Package metrics exposes pipeline measurements in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"horse.fit/flashpoint/internal/escalation"
	"horse.fit/flashpoint/internal/pipeline"
)

const namespace = "flashpoint"

// Recorder implements pipeline.Recorder on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	articles        *prometheus.CounterVec
	articleDuration prometheus.Histogram
	geocodeMethods  *prometheus.CounterVec
	warnings        prometheus.Counter
	batches         *prometheus.CounterVec
	batchDuration   prometheus.Summary
	lastBatch       prometheus.Gauge
	regionScore     *prometheus.GaugeVec
	regionEvents    *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.articles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "articles_total",
		Help:      "Articles processed, by decision.",
	}, []string{"decision"})
	r.articleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "article_duration_seconds",
		Help:      "Time spent resolving one article.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	r.geocodeMethods = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geocode_results_total",
		Help:      "Geocoding outcomes, by method.",
	}, []string{"method"})
	r.warnings = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "data_quality_warnings_total",
		Help:      "Data quality warnings raised while resolving articles.",
	})
	r.batches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Batch runs, by final status.",
	}, []string{"status"})
	r.batchDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Wall time of batch runs.",
	})
	r.lastBatch = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_batch_finished_timestamp_seconds",
		Help:      "Unix time the last batch finished.",
	})
	r.regionScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "region_escalation_score",
		Help:      "Current escalation score per region.",
	}, []string{"region"})
	r.regionEvents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "region_active_events",
		Help:      "Active events per region.",
	}, []string{"region"})

	r.registry.MustRegister(
		r.articles,
		r.articleDuration,
		r.geocodeMethods,
		r.warnings,
		r.batches,
		r.batchDuration,
		r.lastBatch,
		r.regionScore,
		r.regionEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveArticle(outcome pipeline.ArticleOutcome, elapsed time.Duration) {
	decision := string(outcome.Decision)
	if outcome.Error != "" {
		decision = "error"
	}
	if decision == "" {
		decision = "unknown"
	}
	r.articles.WithLabelValues(decision).Inc()
	r.articleDuration.Observe(elapsed.Seconds())

	switch {
	case outcome.GeocodeFailed:
		r.geocodeMethods.WithLabelValues("failed").Inc()
	case outcome.GeocodeMethod != "":
		r.geocodeMethods.WithLabelValues(outcome.GeocodeMethod).Inc()
	}
	if n := len(outcome.Warnings); n > 0 {
		r.warnings.Add(float64(n))
	}
}

func (r *Recorder) ObserveBatch(report pipeline.BatchReport) {
	status := "completed"
	if report.Cancelled {
		status = "cancelled"
	}
	if report.DryRun {
		status = "dry_run"
	}
	r.batches.WithLabelValues(status).Inc()
	r.batchDuration.Observe(report.Duration().Seconds())
	if !report.FinishedAt.IsZero() {
		r.lastBatch.Set(float64(report.FinishedAt.Unix()))
	}
}

// ObserveRegions replaces the region gauges with snapshot.
func (r *Recorder) ObserveRegions(snapshot []escalation.Region) {
	r.regionScore.Reset()
	r.regionEvents.Reset()
	for _, region := range snapshot {
		r.regionScore.WithLabelValues(region.Key).Set(region.Score)
		r.regionEvents.WithLabelValues(region.Key).Set(float64(region.ActiveEvents))
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
