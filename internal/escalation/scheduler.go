package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"horse.fit/flashpoint/internal/globaltime"
)

const sweepTimeout = 5 * time.Minute

// Scheduler runs Sweep on a cron schedule such as "@every 1h".
type Scheduler struct {
	cron       *cron.Cron
	aggregator *Aggregator
	afterSweep func(SweepReport, []Region)
}

func NewScheduler(aggregator *Aggregator, schedule string) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(), aggregator: aggregator}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("add sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// AfterSweep registers fn to receive each successful sweep and the resulting snapshot.
func (s *Scheduler) AfterSweep(fn func(SweepReport, []Region)) {
	s.afterSweep = fn
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for a running sweep to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	report, err := s.aggregator.Sweep(ctx, globaltime.UTC())
	if err != nil {
		s.aggregator.logger.Error().Err(err).Msg("scheduled escalation sweep failed")
		return
	}
	if s.afterSweep != nil {
		s.afterSweep(report, s.aggregator.Snapshot())
	}
}
