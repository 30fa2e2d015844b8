// Package memstore is a process-local event store used for dry runs and tests.
package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"horse.fit/flashpoint/internal/globaltime"
	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/resolve"
)

type Store struct {
	mu            sync.RWMutex
	nextID        int64
	events        map[int64]model.Event
	bySignature   map[string]int64
	byUUID        map[string]int64
	contributions map[string]resolve.Contribution
	runs          []model.Run
}

func New() *Store {
	return &Store{
		events:        make(map[int64]model.Event),
		bySignature:   make(map[string]int64),
		byUUID:        make(map[string]int64),
		contributions: make(map[string]resolve.Contribution),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) FindContribution(_ context.Context, fingerprint string) (resolve.Contribution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contributions[fingerprint]
	return c, ok, nil
}

func (s *Store) FindEventBySignature(_ context.Context, signature string) (model.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySignature[signature]
	if !ok {
		return model.Event{}, false, nil
	}
	return cloneEvent(s.events[id]), true, nil
}

func (s *Store) ListCandidateEvents(_ context.Context, q resolve.CandidateQuery) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	country := strings.TrimSpace(q.Country)
	out := make([]model.Event, 0)
	for _, e := range s.events {
		if country != "" && !strings.EqualFold(strings.TrimSpace(e.Country), country) {
			continue
		}
		if !q.From.IsZero() && e.LastSeenAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.LastSeenAt.After(q.To) {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	sortByLastSeen(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) GetEvent(_ context.Context, id int64) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return model.Event{}, resolve.ErrEventNotFound
	}
	return cloneEvent(e), nil
}

func (s *Store) GetEventByUUID(_ context.Context, eventUUID string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUUID[strings.TrimSpace(eventUUID)]
	if !ok {
		return model.Event{}, resolve.ErrEventNotFound
	}
	return cloneEvent(s.events[id]), nil
}

func (s *Store) InsertEvent(_ context.Context, e model.Event) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Signature != "" {
		if _, exists := s.bySignature[e.Signature]; exists {
			return model.Event{}, resolve.ErrDuplicateSignature
		}
	}

	s.nextID++
	e.ID = s.nextID
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	e.Version = 1
	now := globaltime.UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastUpdatedAt.IsZero() {
		e.LastUpdatedAt = now
	}
	if e.Status == "" {
		e.Status = model.EventStatusActive
	}

	stored := cloneEvent(e)
	s.events[e.ID] = stored
	s.byUUID[e.UUID] = e.ID
	if e.Signature != "" {
		s.bySignature[e.Signature] = e.ID
	}
	return cloneEvent(stored), nil
}

func (s *Store) UpdateEvent(_ context.Context, e model.Event, expectedVersion int64) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.events[e.ID]
	if !ok {
		return model.Event{}, resolve.ErrEventNotFound
	}
	if current.Version != expectedVersion {
		return model.Event{}, resolve.ErrVersionConflict
	}

	e.Version = current.Version + 1
	e.Signature = current.Signature
	e.UUID = current.UUID
	e.CreatedAt = current.CreatedAt
	s.events[e.ID] = cloneEvent(e)
	return cloneEvent(e), nil
}

func (s *Store) RecordContribution(_ context.Context, c resolve.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contributions[c.Fingerprint]; exists {
		return nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = globaltime.UTC()
	}
	s.contributions[c.Fingerprint] = c
	return nil
}

func (s *Store) ResolveStaleEvents(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := globaltime.UTC()
	resolved := 0
	for id, e := range s.events {
		if e.Status != model.EventStatusActive || !e.LastSeenAt.Before(cutoff) {
			continue
		}
		e.Status = model.EventStatusResolved
		e.Version++
		e.LastUpdatedAt = now
		s.events[id] = e
		resolved++
	}
	return resolved, nil
}

func (s *Store) ActiveRegionStats(_ context.Context) ([]model.RegionStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		stat          model.RegionStat
		confidenceSum float64
	}
	byRegion := make(map[string]*acc)
	for _, e := range s.events {
		if e.Status != model.EventStatusActive {
			continue
		}
		key := model.RegionKey(e.Country, e.Region)
		if key == "" {
			continue
		}
		a, ok := byRegion[key]
		if !ok {
			a = &acc{stat: model.RegionStat{Region: key}}
			byRegion[key] = a
		}
		a.stat.ActiveEvents++
		a.stat.TotalSources += e.SourceCount
		a.stat.MaxEscalation = max(a.stat.MaxEscalation, e.Escalation)
		a.confidenceSum += e.CoordinateConfidence
	}

	out := make([]model.RegionStat, 0, len(byRegion))
	for _, a := range byRegion {
		a.stat.MeanConfidence = a.confidenceSum / float64(a.stat.ActiveEvents)
		out = append(out, a.stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out, nil
}

func (s *Store) ListEvents(_ context.Context, f model.EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, 0)
	for _, e := range s.events {
		if f.Country != "" && !strings.EqualFold(e.Country, f.Country) {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Since != nil && e.LastSeenAt.Before(*f.Since) {
			continue
		}
		if e.Escalation < f.MinEscalation {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	sortByLastSeen(out)

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []model.Event{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) SaveRun(_ context.Context, run model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].UUID == run.UUID {
			s.runs[i] = run
			return nil
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

// Runs returns the recorded runs, oldest first.
func (s *Store) Runs() []model.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.runs)
}

// ListRuns returns up to limit runs, most recent first.
func (s *Store) ListRuns(_ context.Context, limit int) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.runs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func sortByLastSeen(events []model.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].LastSeenAt.Equal(events[j].LastSeenAt) {
			return events[i].ID > events[j].ID
		}
		return events[i].LastSeenAt.After(events[j].LastSeenAt)
	})
}

func cloneEvent(e model.Event) model.Event {
	e.Tags = slices.Clone(e.Tags)
	if e.Latitude != nil {
		lat := *e.Latitude
		e.Latitude = &lat
	}
	if e.Longitude != nil {
		lon := *e.Longitude
		e.Longitude = &lon
	}
	return e
}
