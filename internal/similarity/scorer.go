// Package similarity scores how likely two article-like records describe the same event.
package similarity

import (
	"fmt"
	"math"
	"strings"

	"horse.fit/flashpoint/internal/model"
)

const (
	EarthRadiusKm      = 6371.0
	ProximityHorizonKm = 100.0
)

// Weights controls the contribution of each sub-score. Only weights of evaluated sub-scores count
// toward the normalizer.
type Weights struct {
	Title     float64
	Summary   float64
	Geo       float64
	Tags      float64
	Signature float64
}

func DefaultWeights() Weights {
	return Weights{
		Title:     0.3,
		Summary:   0.3,
		Geo:       0.2,
		Tags:      0.1,
		Signature: 0.1,
	}
}

func (w Weights) Sum() float64 {
	return w.Title + w.Summary + w.Geo + w.Tags + w.Signature
}

// Record is the comparable projection of an article or an event.
type Record struct {
	Title     string
	Summary   string
	Point     *model.GeoPoint
	City      string
	Tags      []string
	Signature string
}

// FromArticle projects an article. sig is the article's derived signature.
func FromArticle(a model.Article, sig string) Record {
	rec := Record{
		Title:     a.Title,
		Summary:   a.Summary,
		City:      a.City,
		Tags:      a.Tags,
		Signature: sig,
	}
	if p, ok := a.Coordinates(); ok && p.Valid() {
		rec.Point = &p
	}
	return rec
}

func FromEvent(e model.Event) Record {
	rec := Record{
		Title:     e.Title,
		Summary:   e.Summary,
		City:      e.City,
		Tags:      e.Tags,
		Signature: e.Signature,
	}
	if p, ok := e.Coordinates(); ok {
		rec.Point = &p
	}
	return rec
}

// Result is a normalized score in [0,1] with the evaluated contributions.
type Result struct {
	Value   float64
	Reasons []string
}

type Scorer struct {
	weights Weights
}

func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights}
}

func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score compares a and b. It is pure and symmetric.
func (s *Scorer) Score(a, b Record) Result {
	var (
		total   float64
		applied float64
		reasons []string
	)

	add := func(name string, weight, value float64) {
		if weight <= 0 {
			return
		}
		total += weight * value
		applied += weight
		reasons = append(reasons, fmt.Sprintf("%s=%.2f", name, value))
	}

	if v, ok := jaccard(a.Title, b.Title); ok {
		add("title_jaccard", s.weights.Title, v)
	}
	if v, ok := jaccard(a.Summary, b.Summary); ok {
		add("summary_jaccard", s.weights.Summary, v)
	}
	if v, name, ok := geoProximity(a, b); ok {
		add(name, s.weights.Geo, v)
	}
	if v, ok := tagOverlap(a.Tags, b.Tags); ok {
		add("tag_overlap", s.weights.Tags, v)
	}
	if a.Signature != "" && a.Signature == b.Signature {
		add("signature_match", s.weights.Signature, 1)
	}

	if applied == 0 {
		return Result{Value: 0, Reasons: []string{"no comparable fields"}}
	}

	value := total / applied
	if value > 1 {
		value = 1
	}
	return Result{Value: value, Reasons: reasons}
}

// TextSimilarity is the token-set Jaccard similarity of two texts. Two empty texts are identical.
func TextSimilarity(a, b string) float64 {
	v, ok := jaccard(a, b)
	if !ok {
		if len(tokenSet(a)) == 0 && len(tokenSet(b)) == 0 {
			return 1
		}
		return 0
	}
	return v
}

// HaversineKm is the great-circle distance between two points.
func HaversineKm(a, b model.GeoPoint) float64 {
	if b.Lat < a.Lat || (b.Lat == a.Lat && b.Lon < a.Lon) {
		a, b = b, a
	}
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

func geoProximity(a, b Record) (float64, string, bool) {
	if a.Point != nil && b.Point != nil {
		d := HaversineKm(*a.Point, *b.Point)
		return math.Max(0, 1-d/ProximityHorizonKm), "geo_proximity", true
	}

	cityA := strings.TrimSpace(a.City)
	cityB := strings.TrimSpace(b.City)
	if cityA == "" || cityB == "" {
		return 0, "", false
	}
	if strings.EqualFold(cityA, cityB) {
		return 1, "city_match", true
	}
	return 0, "city_match", true
}

func tagOverlap(a, b []string) (float64, bool) {
	setA := normalizedTagSet(a)
	setB := normalizedTagSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0, false
	}
	shared := 0
	for tag := range setA {
		if _, ok := setB[tag]; ok {
			shared++
		}
	}
	return float64(shared) / float64(max(len(setA), len(setB))), true
}

func normalizedTagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		clean := strings.ToLower(strings.TrimSpace(tag))
		if clean != "" {
			set[clean] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b string) (float64, bool) {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0, false
	}
	if len(setA) > len(setB) {
		setA, setB = setB, setA
	}
	intersection := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union), true
}

// tokenSet lower-cases and splits on whitespace only. Punctuation stays attached, so "hospital."
// and "hospital" are different tokens.
func tokenSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		set[field] = struct{}{}
	}
	return set
}
