package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/model"
)

const (
	ConfidenceProvided        = 1.0
	ConfidenceGazetteerCity   = 0.8
	ConfidenceCountryCentroid = 0.5
	TextExtractionDiscount    = 0.7

	MethodProvided        = "provided"
	MethodGazetteerCity   = "gazetteer_city"
	MethodCountryCentroid = "country_centroid"
	methodProviderPrefix  = "provider:"
	methodTextPrefix      = "text:"
)

const (
	StageProvided  = "provided"
	StageCache     = "cache"
	StageGazetteer = "gazetteer"
	StageProvider  = "provider"
	StageText      = "text"
	StageCentroid  = "centroid"
)

// ErrNotResolved means every stage failed. Callers keep coordinates null.
var ErrNotResolved = errors.New("location could not be resolved")

// Query is the partial location data of one article.
type Query struct {
	Country string
	City    string
	Region  string
	Point   *model.GeoPoint
	Title   string
	Summary string
}

type Result struct {
	model.Placement
	Stage    string
	Cached   bool
	Warnings []string
}

type Options struct {
	Gazetteer *Gazetteer
	Providers []Provider
	Cache     Cache
	Timeout   time.Duration
}

// Resolver turns partial location data into coordinates through an ordered fallback chain.
type Resolver struct {
	gazetteer *Gazetteer
	providers []Provider
	cache     Cache
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewResolver(opts Options, logger zerolog.Logger) *Resolver {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &Resolver{
		gazetteer: opts.Gazetteer,
		providers: opts.Providers,
		cache:     opts.Cache,
		timeout:   timeout,
		logger:    logger,
	}
}

// Usable reports whether the resolver has any source of coordinates besides the input itself.
func (r *Resolver) Usable() bool {
	return r != nil && (r.gazetteer != nil || len(r.providers) > 0)
}

func (r *Resolver) Resolve(ctx context.Context, q Query) (Result, error) {
	var result Result

	if q.Point != nil {
		if q.Point.Valid() {
			result.Placement = model.Placement{Point: *q.Point, Confidence: ConfidenceProvided, Method: MethodProvided}
			result.Stage = StageProvided
			return result, nil
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("ignored invalid coordinates %.4f,%.4f", q.Point.Lat, q.Point.Lon))
	}

	key := CacheKey(q)
	if key != "" && r.cache != nil {
		if cached, ok := r.cache.Get(ctx, key); ok && cached.Point.Valid() {
			result.Placement = cached
			result.Stage = StageCache
			result.Cached = true
			return result, nil
		}
	}

	country, countryKnown := r.gazetteer.Country(q.Country)

	if placement, ok := r.lookupGazetteer(q, &result); ok {
		return r.finish(ctx, key, result, placement, StageGazetteer, true), nil
	}

	hasDetail := strings.TrimSpace(q.City) != "" || strings.TrimSpace(q.Region) != ""
	if hasDetail || (!countryKnown && strings.TrimSpace(q.Country) != "") {
		text := joinNonEmpty(q.City, q.Region, q.Country)
		if placement, ok := r.queryProviders(ctx, Request{Text: text, CountryCode: country.Code}); ok {
			return r.finish(ctx, key, result, placement, StageProvider, true), nil
		}
	}

	if placement, ok := r.fromText(ctx, q, country, countryKnown); ok {
		return r.finish(ctx, key, result, placement, StageText, false), nil
	}

	if countryKnown {
		placement := model.Placement{Point: country.Point, Confidence: ConfidenceCountryCentroid, Method: MethodCountryCentroid}
		return r.finish(ctx, key, result, placement, StageCentroid, false), nil
	}

	return result, ErrNotResolved
}

func (r *Resolver) finish(ctx context.Context, key string, result Result, placement model.Placement, stage string, cacheable bool) Result {
	result.Placement = placement
	result.Stage = stage
	if cacheable && key != "" && r.cache != nil {
		r.cache.Set(ctx, key, placement)
	}
	return result
}

func (r *Resolver) lookupGazetteer(q Query, result *Result) (model.Placement, bool) {
	if r.gazetteer == nil {
		return model.Placement{}, false
	}
	for _, name := range []string{q.City, q.Region} {
		if strings.TrimSpace(name) == "" {
			continue
		}
		place, status := r.gazetteer.City(name, q.Country)
		switch status {
		case LookupFound:
			return model.Placement{Point: place.Point, Confidence: ConfidenceGazetteerCity, Method: MethodGazetteerCity}, true
		case LookupAmbiguous:
			warning := fmt.Sprintf("ambiguous place %q without a known country", strings.TrimSpace(name))
			result.Warnings = append(result.Warnings, warning)
			r.logger.Warn().Str("place", name).Msg("ambiguous gazetteer lookup")
		}
	}
	return model.Placement{}, false
}

// queryProviders walks the provider chain. An error or empty answer advances to the next provider.
func (r *Resolver) queryProviders(ctx context.Context, req Request) (model.Placement, bool) {
	if strings.TrimSpace(req.Text) == "" {
		return model.Placement{}, false
	}
	for _, provider := range r.providers {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		candidates, err := provider.Geocode(callCtx, req)
		cancel()
		if err != nil {
			r.logger.Warn().Err(err).Str("provider", provider.Name()).Str("query", req.Text).Msg("geocoding provider failed")
			continue
		}
		if best, ok := bestCandidate(candidates, req.CountryCode); ok {
			return model.Placement{
				Point:      best.Point,
				Confidence: clamp01(best.Relevance),
				Method:     methodProviderPrefix + normalizeProviderName(provider.Name()),
			}, true
		}
	}
	return model.Placement{}, false
}

func bestCandidate(candidates []Candidate, countryCode string) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		if !c.Point.Valid() {
			continue
		}
		if countryCode != "" && c.CountryCode != "" && !strings.EqualFold(countryCode, c.CountryCode) {
			continue
		}
		if !found || c.Relevance > best.Relevance {
			best = c
			found = true
		}
	}
	return best, found
}

func (r *Resolver) fromText(ctx context.Context, q Query, country Place, countryKnown bool) (model.Placement, bool) {
	for _, phrase := range ExtractLocationPhrases(q.Title, q.Summary) {
		placement, ok := r.resolvePhrase(ctx, phrase, q.Country, country, countryKnown)
		if !ok {
			continue
		}
		placement.Confidence = clamp01(placement.Confidence * TextExtractionDiscount)
		placement.Method = methodTextPrefix + placement.Method
		return placement, true
	}
	return model.Placement{}, false
}

func (r *Resolver) resolvePhrase(ctx context.Context, phrase, rawCountry string, country Place, countryKnown bool) (model.Placement, bool) {
	if r.gazetteer != nil {
		if place, status := r.gazetteer.City(phrase, rawCountry); status == LookupFound {
			return model.Placement{Point: place.Point, Confidence: ConfidenceGazetteerCity, Method: MethodGazetteerCity}, true
		}
		if named, ok := r.gazetteer.Country(phrase); ok && (!countryKnown || named.Name == country.Name) {
			return model.Placement{Point: named.Point, Confidence: ConfidenceCountryCentroid, Method: MethodCountryCentroid}, true
		}
	}
	return r.queryProviders(ctx, Request{Text: phrase, CountryCode: country.Code})
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, ", ")
}
