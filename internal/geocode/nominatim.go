package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"horse.fit/flashpoint/internal/model"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"
	nominatimLimit      = 3
)

// NominatimProvider queries an OpenStreetMap Nominatim search endpoint.
type NominatimProvider struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

func NewNominatimProvider(endpoint, userAgent string, client *http.Client) *NominatimProvider {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultNominatimURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &NominatimProvider{
		endpoint:  strings.TrimSpace(endpoint),
		userAgent: strings.TrimSpace(userAgent),
		client:    client,
	}
}

func (p *NominatimProvider) Name() string {
	return "nominatim"
}

type nominatimPlace struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	Importance  float64 `json:"importance"`
	DisplayName string  `json:"display_name"`
	Address     struct {
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

func (p *NominatimProvider) Geocode(ctx context.Context, req Request) ([]Candidate, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", text)
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")
	params.Set("limit", strconv.Itoa(nominatimLimit))
	if code := strings.ToLower(strings.TrimSpace(req.CountryCode)); code != "" {
		params.Set("countrycodes", code)
	}

	body, err := getJSONBody(ctx, p.client, p.endpoint+"?"+params.Encode(), p.userAgent)
	if err != nil {
		return nil, fmt.Errorf("nominatim: %w", err)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, fmt.Errorf("nominatim: decode response: %w", err)
	}

	candidates := make([]Candidate, 0, len(places))
	for _, place := range places {
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(place.Lat), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(place.Lon), 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		point := model.GeoPoint{Lat: lat, Lon: lon}
		if !point.Valid() {
			continue
		}
		candidates = append(candidates, Candidate{
			Point:       point,
			Relevance:   clamp01(place.Importance),
			DisplayName: place.DisplayName,
			CountryCode: strings.ToUpper(place.Address.CountryCode),
		})
	}
	return candidates, nil
}
