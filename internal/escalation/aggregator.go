package escalation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/model"
)

const (
	DefaultExpiry      = 48 * time.Hour
	DefaultDecayFactor = 0.5
	snapDistance       = 0.05
)

// Store is the event state the sweep reads and mutates.
type Store interface {
	ResolveStaleEvents(ctx context.Context, cutoff time.Time) (int, error)
	ActiveRegionStats(ctx context.Context) ([]model.RegionStat, error)
}

// Region is the rolled-up escalation of all events sharing a country (or region when the country is
// unknown). MeanConfidence is the mean coordinate confidence of its events and serves as the
// reliability signal.
type Region struct {
	Key            string     `json:"region"`
	Score          float64    `json:"score"`
	Baseline       float64    `json:"baseline"`
	PeakEscalation float64    `json:"peak_escalation"`
	ActiveEvents   int        `json:"active_events"`
	TotalSources   int        `json:"total_sources"`
	MeanConfidence float64    `json:"mean_confidence"`
	LastRaisedAt   *time.Time `json:"last_raised_at,omitempty"`
	LastSweptAt    *time.Time `json:"last_swept_at,omitempty"`

	confidenceSum   float64
	confidenceCount int
}

// Observation is one event write fed to the aggregator.
type Observation struct {
	Region     string
	Escalation float64
	Confidence float64
	NewEvent   bool
	At         time.Time
}

type Options struct {
	Expiry      time.Duration
	DecayFactor float64
	Baseline    float64
}

type SweepReport struct {
	ResolvedEvents int
	Regions        int
	Decayed        int
}

// Aggregator keeps per-region escalation. Observe only ever raises a score; scores fall only in Sweep.
type Aggregator struct {
	store  Store
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	regions map[string]*Region
}

func NewAggregator(store Store, opts Options, logger zerolog.Logger) *Aggregator {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	if opts.DecayFactor < 0 || opts.DecayFactor >= 1 {
		opts.DecayFactor = DefaultDecayFactor
	}
	opts.Baseline = model.ClampEscalation(opts.Baseline)
	return &Aggregator{
		store:   store,
		opts:    opts,
		logger:  logger,
		regions: make(map[string]*Region),
	}
}

// Observe raises the region score to max(current, incoming) immediately.
func (a *Aggregator) Observe(obs Observation) Region {
	key := normalizeRegion(obs.Region)
	if key == "" {
		return Region{}
	}
	incoming := model.ClampEscalation(obs.Escalation)

	a.mu.Lock()
	defer a.mu.Unlock()

	region := a.regionLocked(key)
	if incoming > region.Score {
		region.Score = incoming
		at := obs.At.UTC()
		region.LastRaisedAt = &at
	}
	if incoming > region.PeakEscalation {
		region.PeakEscalation = incoming
	}
	if obs.NewEvent {
		region.ActiveEvents++
		if obs.Confidence > 0 {
			region.confidenceSum += obs.Confidence
			region.confidenceCount++
			region.MeanConfidence = region.confidenceSum / float64(region.confidenceCount)
		}
	}
	region.TotalSources++
	return snapshotRegion(region)
}

// Sweep expires events idle beyond the expiry window, then decays every region toward
// max(baseline, highest active escalation).
func (a *Aggregator) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	if a.store == nil {
		return SweepReport{}, fmt.Errorf("escalation store is not configured")
	}
	now = now.UTC()

	resolved, err := a.store.ResolveStaleEvents(ctx, now.Add(-a.opts.Expiry))
	if err != nil {
		return SweepReport{}, fmt.Errorf("resolve stale events: %w", err)
	}
	stats, err := a.store.ActiveRegionStats(ctx)
	if err != nil {
		return SweepReport{ResolvedEvents: resolved}, fmt.Errorf("load active region stats: %w", err)
	}

	byRegion := indexStats(stats)

	a.mu.Lock()
	defer a.mu.Unlock()

	for key := range byRegion {
		a.regionLocked(key)
	}

	report := SweepReport{ResolvedEvents: resolved, Regions: len(a.regions)}
	for key, region := range a.regions {
		stat := byRegion[key]
		target := max(region.Baseline, model.ClampEscalation(stat.MaxEscalation))

		before := region.Score
		switch {
		case region.Score < target:
			region.Score = target
		case region.Score-target <= snapDistance:
			region.Score = target
		default:
			region.Score = target + (region.Score-target)*a.opts.DecayFactor
			if region.Score-target <= snapDistance {
				region.Score = target
			}
		}
		if region.Score < before {
			report.Decayed++
		}

		applyStat(region, stat)
		swept := now
		region.LastSweptAt = &swept
	}

	a.logger.Info().
		Int("resolved_events", report.ResolvedEvents).
		Int("regions", report.Regions).
		Int("decayed", report.Decayed).
		Msg("escalation sweep complete")
	return report, nil
}

// Rebuild loads the active maxima held by the store. Scores already above the stored maxima are kept
// so a rebuild never lowers a region.
func (a *Aggregator) Rebuild(ctx context.Context) error {
	if a.store == nil {
		return fmt.Errorf("escalation store is not configured")
	}
	stats, err := a.store.ActiveRegionStats(ctx)
	if err != nil {
		return fmt.Errorf("load active region stats: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for key, stat := range indexStats(stats) {
		region := a.regionLocked(key)
		region.Score = max(region.Score, model.ClampEscalation(stat.MaxEscalation))
		applyStat(region, stat)
	}
	return nil
}

func (a *Aggregator) Region(key string) (Region, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	region, ok := a.regions[normalizeRegion(key)]
	if !ok {
		return Region{}, false
	}
	return snapshotRegion(region), true
}

// Snapshot returns all regions, highest score first.
func (a *Aggregator) Snapshot() []Region {
	a.mu.Lock()
	out := make([]Region, 0, len(a.regions))
	for _, region := range a.regions {
		out = append(out, snapshotRegion(region))
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (a *Aggregator) regionLocked(key string) *Region {
	region, ok := a.regions[key]
	if !ok {
		region = &Region{Key: key, Baseline: a.opts.Baseline, Score: a.opts.Baseline}
		a.regions[key] = region
	}
	return region
}

func applyStat(region *Region, stat model.RegionStat) {
	region.ActiveEvents = stat.ActiveEvents
	region.TotalSources = stat.TotalSources
	region.PeakEscalation = model.ClampEscalation(stat.MaxEscalation)
	region.MeanConfidence = stat.MeanConfidence
	region.confidenceSum = stat.MeanConfidence * float64(stat.ActiveEvents)
	region.confidenceCount = stat.ActiveEvents
}

func indexStats(stats []model.RegionStat) map[string]model.RegionStat {
	out := make(map[string]model.RegionStat, len(stats))
	for _, stat := range stats {
		key := normalizeRegion(stat.Region)
		if key == "" {
			continue
		}
		out[key] = stat
	}
	return out
}

func snapshotRegion(region *Region) Region {
	out := *region
	out.confidenceSum = 0
	out.confidenceCount = 0
	if region.LastRaisedAt != nil {
		t := *region.LastRaisedAt
		out.LastRaisedAt = &t
	}
	if region.LastSweptAt != nil {
		t := *region.LastSweptAt
		out.LastSweptAt = &t
	}
	return out
}

func normalizeRegion(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
