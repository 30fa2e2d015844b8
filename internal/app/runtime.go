package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/analysis"
	"horse.fit/flashpoint/internal/archive"
	"horse.fit/flashpoint/internal/cli"
	"horse.fit/flashpoint/internal/config"
	"horse.fit/flashpoint/internal/db"
	"horse.fit/flashpoint/internal/escalation"
	"horse.fit/flashpoint/internal/geocode"
	"horse.fit/flashpoint/internal/globaltime"
	"horse.fit/flashpoint/internal/langdetect"
	"horse.fit/flashpoint/internal/logging"
	"horse.fit/flashpoint/internal/memstore"
	"horse.fit/flashpoint/internal/metrics"
	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/pipeline"
	"horse.fit/flashpoint/internal/resolve"
	"horse.fit/flashpoint/internal/similarity"
)

const storeConnectTimeout = 10 * time.Second

// eventStore is satisfied by both the postgres pool and the memory store.
type eventStore interface {
	resolve.Store
	escalation.Store
	Ping(ctx context.Context) error
	ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error)
	GetEventByUUID(ctx context.Context, eventUUID string) (model.Event, error)
	SaveRun(ctx context.Context, run model.Run) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
}

// pipelineRuntime holds everything a command needs to resolve articles.
type pipelineRuntime struct {
	cfg        *config.Config
	logger     zerolog.Logger
	store      eventStore
	pool       *db.Pool
	service    *pipeline.Service
	aggregator *escalation.Aggregator
	recorder   *metrics.Recorder
	closers    []func()
}

func (r *pipelineRuntime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// loadRuntime applies the .env file, then loads config and the logger.
func loadRuntime(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// openStore connects the configured backend. The returned pool is nil for the memory backend.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (eventStore, *db.Pool, error) {
	if cfg.UsesMemoryStore() {
		logger.Warn().Msg("using the in-memory event store; nothing survives this process")
		return memstore.New(), nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()

	pool, err := db.NewPool(connectCtx, db.OptionsFromConfig(cfg), logging.Component(logger, "db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, pool, nil
}

// newPipelineRuntime wires the store, geocoder, aggregator and the optional scorer, archiver and
// metrics into a pipeline.Service.
func newPipelineRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pipelineRuntime, error) {
	store, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rt := &pipelineRuntime{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		pool:     pool,
		recorder: metrics.NewRecorder(),
	}
	if pool != nil {
		rt.closers = append(rt.closers, func() { _ = pool.Close() })
	}

	geocoder, err := rt.buildGeocoder(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.aggregator = newAggregator(ctx, cfg, store, logger)

	deps := pipeline.Dependencies{
		Store:      store,
		Geocoder:   geocoder,
		Aggregator: rt.aggregator,
		Runs:       store,
		Recorder:   rt.recorder,
		Language:   langdetect.ArticleLanguage,
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		scorer, err := analysis.NewOpenAIScorer(analysis.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, logging.Component(logger, "analysis"))
		if err != nil {
			rt.Close()
			return nil, err
		}
		deps.Scorer = scorer
	}

	if bucket := strings.TrimSpace(cfg.ReportBucket); bucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, bucket, cfg.ReportPrefix, cfg.AWSRegion, logging.Component(logger, "archive"))
		if err != nil {
			rt.Close()
			return nil, err
		}
		deps.Archiver = archiver
	}

	rt.service = pipeline.NewService(deps, pipelineOptions(cfg), logging.Component(logger, "pipeline"))
	if err := rt.service.Validate(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// newAggregator seeds region state from the store's active events. A failed rebuild starts empty.
func newAggregator(ctx context.Context, cfg *config.Config, store escalation.Store, logger zerolog.Logger) *escalation.Aggregator {
	aggregator := escalation.NewAggregator(store, escalation.Options{
		Expiry:      cfg.EscalationExpiry,
		DecayFactor: cfg.EscalationDecayFactor,
		Baseline:    cfg.EscalationBaseline,
	}, logging.Component(logger, "escalation"))
	if err := aggregator.Rebuild(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to rebuild escalation state from the store")
	}
	return aggregator
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Workers:             cfg.Workers,
		SimilarityThreshold: cfg.SimilarityThreshold,
		Weights: similarity.Weights{
			Title:     cfg.WeightTitle,
			Summary:   cfg.WeightSummary,
			Geo:       cfg.WeightGeo,
			Tags:      cfg.WeightTags,
			Signature: cfg.WeightSignature,
		},
		CandidateWindow:        cfg.CandidateWindow,
		CandidateLimit:         cfg.CandidateLimit,
		SummaryAppendThreshold: cfg.SummaryAppendThreshold,
		StoreRetryAttempts:     cfg.StoreRetryAttempts,
	}
}

func (r *pipelineRuntime) buildGeocoder(ctx context.Context) (*geocode.Resolver, error) {
	cfg := r.cfg
	logger := logging.Component(r.logger, "geocode")

	gazetteer, err := geocode.DefaultGazetteer()
	if err != nil {
		return nil, fmt.Errorf("load gazetteer: %w", err)
	}

	cache, err := r.buildGeocodeCache(ctx, logger)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: cfg.GeocodeTimeout}
	registry := geocode.NewRegistry()
	if err := registry.Register(geocode.NewThrottle(
		geocode.NewNominatimProvider(cfg.NominatimURL, cfg.GeocoderUserAgent, client),
		cfg.NominatimRPS,
	)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.OpenCageAPIKey) != "" {
		if err := registry.Register(geocode.NewThrottle(
			geocode.NewOpenCageProvider(cfg.OpenCageURL, cfg.OpenCageAPIKey, cfg.GeocoderUserAgent, client),
			cfg.OpenCageRPS,
		)); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(cfg.GeocodeProviderList()))
	for _, name := range cfg.GeocodeProviderList() {
		if _, err := registry.Provider(name); err != nil {
			logger.Warn().Str("provider", name).Msg("geocoding provider is not available and was skipped")
			continue
		}
		names = append(names, name)
	}
	providers, err := registry.Chain(names)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("gazetteer_version", gazetteer.Version()).
		Strs("providers", names).
		Str("cache", cfg.GeocodeCacheBackend).
		Msg("geocoder ready")

	return geocode.NewResolver(geocode.Options{
		Gazetteer: gazetteer,
		Providers: providers,
		Cache:     cache,
		Timeout:   cfg.GeocodeTimeout,
	}, logger), nil
}

// buildGeocodeCache always keeps an in-process tier in front of the shared one.
func (r *pipelineRuntime) buildGeocodeCache(ctx context.Context, logger zerolog.Logger) (geocode.Cache, error) {
	cfg := r.cfg
	front := geocode.NewMemoryCache(cfg.GeocodeCacheTTL, 0)

	switch strings.ToLower(strings.TrimSpace(cfg.GeocodeCacheBackend)) {
	case config.CacheBackendRedis:
		client, err := geocode.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() { _ = client.Close() })
		return geocode.NewLayeredCache(front, geocode.NewRedisCache(client, cfg.GeocodeCacheTTL, logger)), nil
	case config.CacheBackendPostgres:
		if r.pool == nil {
			logger.Warn().Msg("postgres geocode cache needs the postgres store; using memory only")
			return front, nil
		}
		return geocode.NewLayeredCache(front, geocode.NewStoreCache(r.pool, cfg.GeocodeCacheTTL, logger)), nil
	default:
		return front, nil
	}
}

// newScheduler returns an unstarted sweep scheduler. Every successful sweep refreshes the region
// gauges and purges expired postgres geocode entries.
func (r *pipelineRuntime) newScheduler() (*escalation.Scheduler, error) {
	scheduler, err := escalation.NewScheduler(r.aggregator, r.cfg.SweepSchedule)
	if err != nil {
		return nil, err
	}
	scheduler.AfterSweep(func(report escalation.SweepReport, regions []escalation.Region) {
		r.recorder.ObserveRegions(regions)
		r.purgeGeocodeCache()
		r.logger.Info().
			Int("resolved_events", report.ResolvedEvents).
			Int("regions", report.Regions).
			Int("decayed", report.Decayed).
			Msg("scheduled escalation sweep complete")
	})
	return scheduler, nil
}

func (r *pipelineRuntime) purgeGeocodeCache() {
	if r.pool == nil || !strings.EqualFold(strings.TrimSpace(r.cfg.GeocodeCacheBackend), config.CacheBackendPostgres) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
	defer cancel()
	purged, err := r.pool.PurgeGeocodeCache(ctx, globaltime.UTC().Add(-r.cfg.GeocodeCacheTTL))
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to purge expired geocode cache entries")
		return
	}
	if purged > 0 {
		r.logger.Info().Int64("purged", purged).Msg("purged expired geocode cache entries")
	}
}
