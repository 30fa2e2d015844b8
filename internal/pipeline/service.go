package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/escalation"
	"horse.fit/flashpoint/internal/geocode"
	"horse.fit/flashpoint/internal/globaltime"
	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/resolve"
	"horse.fit/flashpoint/internal/signature"
	"horse.fit/flashpoint/internal/similarity"
)

const (
	DefaultWorkers            = 8
	MaxWorkers                = 32
	DefaultStoreRetryAttempts = 3
	DefaultStoreRetryBackoff  = 200 * time.Millisecond
	DefaultArticleTimeout     = 2 * time.Minute

	fallbackTitleWords = 12
)

// EscalationScorer derives an escalation score for articles that arrive without one.
type EscalationScorer interface {
	ScoreEscalation(ctx context.Context, a model.Article) (float64, error)
}

// RunStore persists run summaries.
type RunStore interface {
	SaveRun(ctx context.Context, run model.Run) error
}

// Archiver stores a finished report and returns its object key.
type Archiver interface {
	Archive(ctx context.Context, report BatchReport) (string, error)
}

// Recorder receives batch and article measurements.
type Recorder interface {
	ObserveArticle(outcome ArticleOutcome, elapsed time.Duration)
	ObserveBatch(report BatchReport)
}

type Options struct {
	Workers                int
	SimilarityThreshold    float64
	Weights                similarity.Weights
	CandidateWindow        time.Duration
	CandidateLimit         int
	SummaryAppendThreshold float64
	StoreRetryAttempts     int
	StoreRetryBackoff      time.Duration
	ArticleTimeout         time.Duration
}

// Dependencies wires the collaborators of a Service. Store and Geocoder are required; the rest are
// optional.
type Dependencies struct {
	Store      resolve.Store
	Geocoder   *geocode.Resolver
	Aggregator *escalation.Aggregator
	Scorer     EscalationScorer
	Runs       RunStore
	Archiver   Archiver
	Recorder   Recorder
	Language   func(declared, title, summary string) string
}

// Service resolves batches of articles into events.
type Service struct {
	deps     Dependencies
	opts     Options
	detector *resolve.Detector
	merger   *resolve.Merger
	logger   zerolog.Logger
}

// RunOptions tune a single batch.
type RunOptions struct {
	Source string
	DryRun bool
}

func NewService(deps Dependencies, opts Options, logger zerolog.Logger) *Service {
	opts = normalizeOptions(opts)
	weights := opts.Weights
	if weights.Sum() <= 0 {
		weights = similarity.DefaultWeights()
	}

	s := &Service{
		deps:   deps,
		opts:   opts,
		logger: logger,
	}
	if deps.Store != nil {
		s.detector = resolve.NewDetector(deps.Store, similarity.NewScorer(weights), resolve.DetectorOptions{
			Threshold:      opts.SimilarityThreshold,
			Window:         opts.CandidateWindow,
			CandidateLimit: opts.CandidateLimit,
		}, logger)
		s.merger = resolve.NewMerger(deps.Store, resolve.MergeOptions{
			SummaryAppendThreshold: opts.SummaryAppendThreshold,
		}, logger)
	}
	return s
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.Workers <= 0 {
		normalized.Workers = DefaultWorkers
	}
	if normalized.Workers > MaxWorkers {
		normalized.Workers = MaxWorkers
	}
	if normalized.StoreRetryAttempts <= 0 {
		normalized.StoreRetryAttempts = DefaultStoreRetryAttempts
	}
	if normalized.StoreRetryBackoff <= 0 {
		normalized.StoreRetryBackoff = DefaultStoreRetryBackoff
	}
	if normalized.ArticleTimeout <= 0 {
		normalized.ArticleTimeout = DefaultArticleTimeout
	}
	return normalized
}

// Validate reports a FatalConfigurationError when the service cannot process any article.
func (s *Service) Validate() error {
	if s == nil || s.deps.Store == nil {
		return &resolve.FatalConfigurationError{Reason: "no event store configured"}
	}
	if s.deps.Geocoder == nil {
		return &resolve.FatalConfigurationError{Reason: "no geocoding resolver configured"}
	}
	if !s.deps.Geocoder.Usable() {
		return &resolve.FatalConfigurationError{Reason: "geocoding resolver has neither a gazetteer nor providers"}
	}
	return nil
}

// RunBatch processes articles with a bounded worker pool. Cancelling ctx stops dispatch between
// articles; articles already started run to completion.
func (s *Service) RunBatch(ctx context.Context, articles []model.Article, runOpts RunOptions) (BatchReport, error) {
	if err := s.Validate(); err != nil {
		return BatchReport{}, err
	}

	report := BatchReport{
		RunUUID:   uuid.NewString(),
		Source:    strings.TrimSpace(runOpts.Source),
		DryRun:    runOpts.DryRun,
		StartedAt: globaltime.UTC(),
	}
	s.saveRun(ctx, report, "running")

	outcomes := make([]*ArticleOutcome, len(articles))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := min(s.opts.Workers, max(len(articles), 1))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				started := time.Now()
				outcome := s.processArticle(context.WithoutCancel(ctx), i, articles[i], runOpts.DryRun)
				outcomes[i] = &outcome
				if s.deps.Recorder != nil {
					s.deps.Recorder.ObserveArticle(outcome, time.Since(started))
				}
			}
		}()
	}

	dispatched := 0
dispatch:
	for i := range articles {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
			dispatched++
		}
	}
	close(jobs)
	wg.Wait()

	report.Outcomes = make([]ArticleOutcome, 0, dispatched)
	for _, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		report.add(*outcome)
		report.Outcomes = append(report.Outcomes, *outcome)
	}
	report.Remaining = len(articles) - dispatched
	report.Cancelled = report.Remaining > 0
	report.FinishedAt = globaltime.UTC()

	finishCtx := context.WithoutCancel(ctx)
	if s.deps.Archiver != nil && !report.DryRun {
		key, err := s.deps.Archiver.Archive(finishCtx, report)
		if err != nil {
			s.logger.Warn().Err(err).Str("run_uuid", report.RunUUID).Msg("failed to archive batch report")
		} else {
			report.ArchiveKey = key
		}
	}
	status := "completed"
	if report.Cancelled {
		status = "cancelled"
	}
	s.saveRun(finishCtx, report, status)
	if s.deps.Recorder != nil {
		s.deps.Recorder.ObserveBatch(report)
	}

	s.logger.Info().
		Str("run_uuid", report.RunUUID).
		Str("source", report.Source).
		Bool("dry_run", report.DryRun).
		Int("processed", report.Processed).
		Int("created", report.Created).
		Int("merged", report.Merged).
		Int("duplicates_skipped", report.DuplicatesSkipped).
		Int("geocode_failures", report.GeocodeFailures).
		Int("errors", report.Errors).
		Int("warnings", report.Warnings).
		Bool("cancelled", report.Cancelled).
		Int("remaining", report.Remaining).
		Dur("duration", report.Duration()).
		Msg("batch complete")

	return report, nil
}

func (s *Service) processArticle(ctx context.Context, index int, a model.Article, dryRun bool) ArticleOutcome {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ArticleTimeout)
	defer cancel()

	a, warnings := s.prepareArticle(a)
	outcome := ArticleOutcome{
		Index:       index,
		Fingerprint: a.Fingerprint(),
		Title:       a.Title,
		Warnings:    warnings,
	}
	if strings.TrimSpace(a.Title) == "" {
		outcome.Error = "article has neither a title nor a summary"
		return outcome
	}

	sig := signature.ForArticle(a)
	class := s.detector.Classify(ctx, a, outcome.Fingerprint, sig)
	outcome.Decision = class.Decision
	outcome.Signal = class.Signal
	outcome.Score = class.Score
	for _, w := range class.Warnings {
		outcome.Warnings = append(outcome.Warnings, w.Error())
	}

	if class.Decision == resolve.DecisionDuplicate {
		return outcome
	}

	escalationScore := s.escalationFor(ctx, a, &outcome)

	var placement *model.Placement
	if class.Target == nil || needsPlacement(*class.Target, a) {
		placement = s.geocode(ctx, a, &outcome)
	}

	if dryRun {
		if class.Target != nil {
			outcome.EventUUID = class.Target.UUID
		}
		return outcome
	}

	var (
		saved   model.Event
		created bool
		err     error
	)
	switch class.Decision {
	case resolve.DecisionUpdate:
		saved, err = s.merge(ctx, class.TargetID, a, escalationScore, placement)
	default:
		saved, created, err = s.insert(ctx, a, sig, escalationScore, placement)
		if err == nil && !created {
			outcome.Decision = resolve.DecisionUpdate
			outcome.Signal = resolve.SignalInsertCollision
		}
	}
	if err != nil {
		outcome.Error = err.Error()
		s.logger.Error().Err(err).Int("index", index).Str("title", a.Title).Msg("failed to resolve article")
		return outcome
	}
	outcome.EventUUID = saved.UUID

	contribution := resolve.Contribution{
		Fingerprint:  outcome.Fingerprint,
		EventID:      saved.ID,
		EventUUID:    saved.UUID,
		Source:       a.Source,
		SourceItemID: a.SourceItemID,
		URL:          a.URL,
		Decision:     outcome.Decision,
		Signal:       outcome.Signal,
		Score:        outcome.Score,
		CreatedAt:    globaltime.UTC(),
	}
	if err := s.withStoreRetry(ctx, "record contribution", func() error {
		return s.deps.Store.RecordContribution(ctx, contribution)
	}); err != nil {
		s.logger.Error().Err(err).Str("event_uuid", saved.UUID).Msg("failed to record article contribution")
		outcome.Warnings = append(outcome.Warnings, "contribution ledger write failed: re-runs may merge this article again")
	}

	if s.deps.Aggregator != nil {
		s.deps.Aggregator.Observe(escalation.Observation{
			Region:     model.RegionKey(saved.Country, saved.Region),
			Escalation: saved.Escalation,
			Confidence: saved.CoordinateConfidence,
			NewEvent:   created,
			At:         globaltime.UTC(),
		})
	}
	return outcome
}

// prepareArticle trims fields and fills best-effort defaults, reporting each as a warning.
func (s *Service) prepareArticle(a model.Article) (model.Article, []string) {
	var warnings []string
	a.Title = strings.TrimSpace(a.Title)
	a.Summary = strings.TrimSpace(a.Summary)
	a.Country = strings.TrimSpace(a.Country)
	a.City = strings.TrimSpace(a.City)
	a.Region = strings.TrimSpace(a.Region)

	if a.Title == "" {
		warnings = append(warnings, resolve.DataQualityWarning{Field: "title", Message: "missing title, using leading summary words"}.Error())
		a.Title = leadingWords(a.Summary, fallbackTitleWords)
	}
	if a.Country == "" && a.Region == "" {
		warnings = append(warnings, resolve.DataQualityWarning{Field: "country", Message: "missing country and region"}.Error())
	}
	if a.PublishedAt.IsZero() {
		warnings = append(warnings, resolve.DataQualityWarning{Field: "published_at", Message: "missing publication time"}.Error())
	}
	if s.deps.Language != nil {
		a.Language = s.deps.Language(a.Language, a.Title, a.Summary)
	}
	return a, warnings
}

func (s *Service) escalationFor(ctx context.Context, a model.Article, outcome *ArticleOutcome) float64 {
	if a.Escalation != nil {
		return model.ClampEscalation(*a.Escalation)
	}
	if s.deps.Scorer == nil {
		return 0
	}
	score, err := s.deps.Scorer.ScoreEscalation(ctx, a)
	if err != nil {
		s.logger.Warn().Err(err).Str("title", a.Title).Msg("escalation scoring failed")
		outcome.Warnings = append(outcome.Warnings, "escalation scoring failed, using 0")
		return 0
	}
	return model.ClampEscalation(score)
}

func (s *Service) geocode(ctx context.Context, a model.Article, outcome *ArticleOutcome) *model.Placement {
	q := geocode.Query{
		Country: a.Country,
		City:    a.City,
		Region:  a.Region,
		Title:   a.Title,
		Summary: a.Summary,
	}
	if point, ok := a.Coordinates(); ok {
		q.Point = &point
	} else if a.Latitude != nil || a.Longitude != nil {
		q.Point = &model.GeoPoint{}
		if a.Latitude != nil {
			q.Point.Lat = *a.Latitude
		}
		if a.Longitude != nil {
			q.Point.Lon = *a.Longitude
		}
	}

	result, err := s.deps.Geocoder.Resolve(ctx, q)
	for _, w := range result.Warnings {
		outcome.Warnings = append(outcome.Warnings, resolve.DataQualityWarning{Field: "location", Message: w}.Error())
	}
	if err != nil {
		outcome.GeocodeFailed = true
		if !errors.Is(err, geocode.ErrNotResolved) {
			s.logger.Warn().Err(err).Str("title", a.Title).Msg("geocoding failed")
		}
		return nil
	}
	outcome.GeocodeMethod = result.Method
	placement := result.Placement
	return &placement
}

// needsPlacement is true when geocoding could improve the target's coordinates.
func needsPlacement(target model.Event, a model.Article) bool {
	if _, ok := target.Coordinates(); !ok {
		return true
	}
	_, provided := a.Coordinates()
	return provided && target.CoordinateConfidence < 1
}

func (s *Service) insert(ctx context.Context, a model.Article, sig string, escalationScore float64, placement *model.Placement) (model.Event, bool, error) {
	now := globaltime.UTC()
	seen := a.PublishedAt.UTC()
	if a.PublishedAt.IsZero() {
		seen = now
	}
	e := model.Event{
		Title:       a.Title,
		Summary:     a.Summary,
		Country:     a.Country,
		City:        a.City,
		Region:      a.Region,
		Signature:   sig,
		Tags:        model.NormalizeTags(a.Tags),
		Escalation:  escalationScore,
		Language:    a.Language,
		Status:      model.EventStatusActive,
		SourceCount: 1,
		FirstSeenAt: seen,
		LastSeenAt:  seen,
	}
	if placement != nil {
		e.SetCoordinates(placement.Point, placement.Confidence, placement.Method)
	}

	var saved model.Event
	err := s.withStoreRetry(ctx, "insert event", func() error {
		var insertErr error
		saved, insertErr = s.deps.Store.InsertEvent(ctx, e)
		return insertErr
	})
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, resolve.ErrDuplicateSignature) {
		return model.Event{}, false, err
	}

	// Another worker created the same signature first.
	var existing model.Event
	var found bool
	if err := s.withStoreRetry(ctx, "find event by signature", func() error {
		var findErr error
		existing, found, findErr = s.deps.Store.FindEventBySignature(ctx, sig)
		return findErr
	}); err != nil {
		return model.Event{}, false, err
	}
	if !found {
		return model.Event{}, false, fmt.Errorf("event with signature %s vanished after insert collision", sig)
	}
	merged, err := s.merge(ctx, existing.ID, a, escalationScore, placement)
	return merged, false, err
}

func (s *Service) merge(ctx context.Context, eventID int64, a model.Article, escalationScore float64, placement *model.Placement) (model.Event, error) {
	var saved model.Event
	err := s.withStoreRetry(ctx, "merge event", func() error {
		var mergeErr error
		saved, mergeErr = s.merger.Merge(ctx, eventID, resolve.Update{
			Article:    a,
			Escalation: escalationScore,
			Placement:  placement,
		})
		return mergeErr
	})
	return saved, err
}

func (s *Service) saveRun(ctx context.Context, report BatchReport, status string) {
	if s.deps.Runs == nil || report.DryRun {
		return
	}
	run := model.Run{
		UUID:              report.RunUUID,
		Source:            report.Source,
		Status:            status,
		Processed:         report.Processed,
		Created:           report.Created,
		Merged:            report.Merged,
		DuplicatesSkipped: report.DuplicatesSkipped,
		GeocodeFailures:   report.GeocodeFailures,
		Errors:            report.Errors,
		Warnings:          report.Warnings,
		StartedAt:         report.StartedAt,
	}
	if !report.FinishedAt.IsZero() {
		finished := report.FinishedAt
		run.FinishedAt = &finished
	}
	if err := s.deps.Runs.SaveRun(ctx, run); err != nil {
		s.logger.Warn().Err(err).Str("run_uuid", report.RunUUID).Msg("failed to save run")
	}
}

func leadingWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
