package geocode

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/model"
)

type stubProvider struct {
	name       string
	candidates []Candidate
	err        error

	mu       sync.Mutex
	requests []Request
}

func (p *stubProvider) Name() string {
	return p.name
}

func (p *stubProvider) Geocode(_ context.Context, req Request) ([]Candidate, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.candidates, p.err
}

func (p *stubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func newTestResolver(t *testing.T, cache Cache, providers ...Provider) *Resolver {
	t.Helper()
	return NewResolver(Options{
		Gazetteer: mustDefaultGazetteer(t),
		Providers: providers,
		Cache:     cache,
		Timeout:   time.Second,
	}, zerolog.Nop())
}

func TestResolveTripoliLebanonUsesCountryDisambiguation(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, nil)
	result, err := r.Resolve(context.Background(), Query{Country: "Lebanon", City: "Tripoli"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if math.Abs(result.Point.Lat-34.43) > 0.05 || math.Abs(result.Point.Lon-35.84) > 0.05 {
		t.Fatalf("Resolve() point = %+v, want Tripoli, Lebanon", result.Point)
	}
	if result.Confidence != ConfidenceGazetteerCity || result.Method != MethodGazetteerCity {
		t.Fatalf("Resolve() = %+v, want gazetteer city placement", result.Placement)
	}
}

func TestResolveProvidedCoordinatesWin(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{name: "nominatim"}
	r := newTestResolver(t, nil, provider)
	point := model.GeoPoint{Lat: 50.45, Lon: 30.52}
	result, err := r.Resolve(context.Background(), Query{Country: "Ukraine", City: "Kyiv", Point: &point})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Stage != StageProvided || result.Confidence != 1.0 || result.Point != point {
		t.Fatalf("Resolve() = %+v, want provided coordinates", result)
	}
	if provider.calls() != 0 {
		t.Fatalf("provider called %d times, want 0", provider.calls())
	}
}

func TestResolveNullIslandIsNeverReturned(t *testing.T) {
	t.Parallel()

	zero := model.GeoPoint{}
	provider := &stubProvider{name: "nominatim", candidates: []Candidate{{Point: model.GeoPoint{}, Relevance: 0.9}}}
	r := newTestResolver(t, nil, provider)

	result, err := r.Resolve(context.Background(), Query{Country: "Lebanon", City: "Nowhereville", Point: &zero})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Point == (model.GeoPoint{}) {
		t.Fatalf("Resolve() returned null island")
	}
	if result.Stage != StageCentroid || result.Confidence != ConfidenceCountryCentroid {
		t.Fatalf("Resolve() = %+v, want country centroid", result)
	}
	if len(result.Warnings) == 0 || !strings.Contains(result.Warnings[0], "invalid coordinates") {
		t.Fatalf("warnings = %v, want invalid coordinates warning", result.Warnings)
	}
}

func TestResolveProviderErrorAdvancesChain(t *testing.T) {
	t.Parallel()

	failing := &stubProvider{name: "nominatim", err: errors.New("503 service unavailable")}
	empty := &stubProvider{name: "backup"}
	secondary := &stubProvider{name: "opencage", candidates: []Candidate{
		{Point: model.GeoPoint{Lat: 10, Lon: 10}, Relevance: 0.4, CountryCode: "UA"},
		{Point: model.GeoPoint{Lat: 47.1, Lon: 37.5}, Relevance: 0.9, CountryCode: "UA"},
		{Point: model.GeoPoint{Lat: 40, Lon: 40}, Relevance: 1.0, CountryCode: "RU"},
	}}
	r := newTestResolver(t, nil, failing, empty, secondary)

	result, err := r.Resolve(context.Background(), Query{Country: "Ukraine", City: "Volnovakha"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Method != "provider:opencage" || result.Confidence != 0.9 {
		t.Fatalf("Resolve() = %+v, want opencage placement with relevance 0.9", result.Placement)
	}
	if result.Point != (model.GeoPoint{Lat: 47.1, Lon: 37.5}) {
		t.Fatalf("Resolve() point = %+v, want best in-country candidate", result.Point)
	}
	if got := secondary.requests[0]; got.Text != "Volnovakha, Ukraine" || got.CountryCode != "UA" {
		t.Fatalf("provider request = %+v", got)
	}
	if failing.calls() != 1 || empty.calls() != 1 {
		t.Fatalf("provider calls = %d/%d, want 1/1", failing.calls(), empty.calls())
	}
}

func TestResolveCachesStructuredResults(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache(time.Hour, time.Minute)
	provider := &stubProvider{name: "nominatim", candidates: []Candidate{{Point: model.GeoPoint{Lat: 47.6, Lon: 37.5}, Relevance: 0.6}}}
	r := newTestResolver(t, cache, provider)
	q := Query{Country: "Ukraine", City: "Volnovakha"}

	first, err := r.Resolve(context.Background(), q)
	if err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	second, err := r.Resolve(context.Background(), Query{Country: " ukraine ", City: "VOLNOVAKHA"})
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if !second.Cached || second.Stage != StageCache {
		t.Fatalf("second Resolve() = %+v, want cache hit", second)
	}
	if second.Placement != first.Placement {
		t.Fatalf("cached placement = %+v, want %+v", second.Placement, first.Placement)
	}
	if provider.calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.calls())
	}
}

func TestResolveTextExtractionIsDiscounted(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache(time.Hour, time.Minute)
	r := newTestResolver(t, cache)
	result, err := r.Resolve(context.Background(), Query{
		Title:   "Explosion reported near Kharkiv",
		Summary: "Regional officials confirmed damage.",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Stage != StageText || result.Method != "text:"+MethodGazetteerCity {
		t.Fatalf("Resolve() = %+v, want text-derived gazetteer hit", result)
	}
	if math.Abs(result.Confidence-ConfidenceGazetteerCity*TextExtractionDiscount) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", result.Confidence, ConfidenceGazetteerCity*TextExtractionDiscount)
	}
	if cache.Len() != 0 {
		t.Fatalf("text-derived result was cached")
	}
}

func TestResolveTextCountryConflictIsSkipped(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, nil)
	result, err := r.Resolve(context.Background(), Query{
		Country: "Israel",
		Title:   "Rockets launched from positions in Lebanon",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Stage != StageCentroid {
		t.Fatalf("Resolve() stage = %q, want centroid of the article country", result.Stage)
	}
	israel, _ := mustDefaultGazetteer(t).Country("Israel")
	if result.Point != israel.Point {
		t.Fatalf("Resolve() point = %+v, want Israel centroid %+v", result.Point, israel.Point)
	}
}

func TestResolveAmbiguousCityWithoutCountryFails(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, nil)
	_, err := r.Resolve(context.Background(), Query{City: "Tripoli"})
	if !errors.Is(err, ErrNotResolved) {
		t.Fatalf("Resolve() error = %v, want ErrNotResolved", err)
	}
}

func TestResolveAmbiguousCityReportsWarning(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, nil)
	result, _ := r.Resolve(context.Background(), Query{City: "Tripoli", Title: "Clashes in Tripoli"})
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "ambiguous") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want ambiguity warning", result.Warnings)
	}
}

func TestResolveNothingKnown(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, nil)
	result, err := r.Resolve(context.Background(), Query{Title: "Talks continue"})
	if !errors.Is(err, ErrNotResolved) {
		t.Fatalf("Resolve() error = %v, want ErrNotResolved", err)
	}
	if result.Point != (model.GeoPoint{}) || result.Method != "" {
		t.Fatalf("Resolve() = %+v, want empty placement", result)
	}
}
