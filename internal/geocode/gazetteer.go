package geocode

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"horse.fit/flashpoint/internal/model"
)

//go:embed gazetteer.yaml
var defaultGazetteerYAML []byte

// Place is one gazetteer entry.
type Place struct {
	Name    string
	Country string
	Code    string
	Point   model.GeoPoint
}

type gazetteerFile struct {
	Version   string `yaml:"version"`
	Countries []struct {
		Name    string   `yaml:"name"`
		Code    string   `yaml:"code"`
		Lat     float64  `yaml:"lat"`
		Lon     float64  `yaml:"lon"`
		Aliases []string `yaml:"aliases"`
	} `yaml:"countries"`
	Cities []struct {
		Name    string   `yaml:"name"`
		Country string   `yaml:"country"`
		Lat     float64  `yaml:"lat"`
		Lon     float64  `yaml:"lon"`
		Aliases []string `yaml:"aliases"`
	} `yaml:"cities"`
}

// Gazetteer is a versioned lookup of known places. Country-ambiguous names such as Tripoli are
// keyed by (name, country).
type Gazetteer struct {
	version   string
	countries map[string]Place
	cities    map[string][]Place
}

type LookupStatus int

const (
	LookupMissing LookupStatus = iota
	LookupFound
	LookupAmbiguous
)

var (
	defaultGazetteerOnce sync.Once
	defaultGazetteer     *Gazetteer
	defaultGazetteerErr  error
)

// DefaultGazetteer returns the embedded gazetteer, parsed once.
func DefaultGazetteer() (*Gazetteer, error) {
	defaultGazetteerOnce.Do(func() {
		defaultGazetteer, defaultGazetteerErr = LoadGazetteer(defaultGazetteerYAML)
	})
	return defaultGazetteer, defaultGazetteerErr
}

func LoadGazetteer(data []byte) (*Gazetteer, error) {
	var file gazetteerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode gazetteer: %w", err)
	}
	if strings.TrimSpace(file.Version) == "" {
		return nil, fmt.Errorf("gazetteer version is required")
	}

	g := &Gazetteer{
		version:   strings.TrimSpace(file.Version),
		countries: make(map[string]Place),
		cities:    make(map[string][]Place),
	}

	for i, c := range file.Countries {
		place := Place{
			Name:    strings.TrimSpace(c.Name),
			Country: strings.TrimSpace(c.Name),
			Code:    strings.ToUpper(strings.TrimSpace(c.Code)),
			Point:   model.GeoPoint{Lat: c.Lat, Lon: c.Lon},
		}
		if place.Name == "" || !place.Point.Valid() {
			return nil, fmt.Errorf("countries[%d]: name and valid coordinates are required", i)
		}
		for _, key := range append([]string{c.Name, c.Code}, c.Aliases...) {
			if k := normalizePlaceName(key); k != "" {
				g.countries[k] = place
			}
		}
	}

	for i, c := range file.Cities {
		country, ok := g.countries[normalizePlaceName(c.Country)]
		if !ok {
			return nil, fmt.Errorf("cities[%d] %q: unknown country %q", i, c.Name, c.Country)
		}
		place := Place{
			Name:    strings.TrimSpace(c.Name),
			Country: country.Name,
			Code:    country.Code,
			Point:   model.GeoPoint{Lat: c.Lat, Lon: c.Lon},
		}
		if place.Name == "" || !place.Point.Valid() {
			return nil, fmt.Errorf("cities[%d]: name and valid coordinates are required", i)
		}
		for _, key := range append([]string{c.Name}, c.Aliases...) {
			if k := normalizePlaceName(key); k != "" {
				g.cities[k] = append(g.cities[k], place)
			}
		}
	}

	return g, nil
}

func (g *Gazetteer) Version() string {
	if g == nil {
		return ""
	}
	return g.version
}

// Country resolves a country name, alias or ISO code.
func (g *Gazetteer) Country(name string) (Place, bool) {
	if g == nil {
		return Place{}, false
	}
	place, ok := g.countries[normalizePlaceName(name)]
	return place, ok
}

// City resolves name within country. With an empty or unknown country the name must be unique
// across the gazetteer, otherwise the lookup reports LookupAmbiguous.
func (g *Gazetteer) City(name, country string) (Place, LookupStatus) {
	if g == nil {
		return Place{}, LookupMissing
	}
	matches := g.cities[normalizePlaceName(name)]
	if len(matches) == 0 {
		return Place{}, LookupMissing
	}

	if c, ok := g.Country(country); ok {
		for _, m := range matches {
			if m.Country == c.Name {
				return m, LookupFound
			}
		}
		return Place{}, LookupMissing
	}

	if len(matches) == 1 {
		return matches[0], LookupFound
	}
	return Place{}, LookupAmbiguous
}

func normalizePlaceName(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	lowered = strings.ReplaceAll(lowered, "’", "'")
	return strings.Join(strings.Fields(lowered), " ")
}
