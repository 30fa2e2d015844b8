package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"horse.fit/flashpoint/internal/model"
)

const (
	DefaultOpenCageURL = "https://api.opencagedata.com/geocode/v1/json"
	openCageLimit      = "3"
)

// OpenCageProvider queries the OpenCage forward geocoding API.
type OpenCageProvider struct {
	endpoint  string
	apiKey    string
	userAgent string
	client    *http.Client
}

func NewOpenCageProvider(endpoint, apiKey, userAgent string, client *http.Client) *OpenCageProvider {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultOpenCageURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenCageProvider{
		endpoint:  strings.TrimSpace(endpoint),
		apiKey:    strings.TrimSpace(apiKey),
		userAgent: strings.TrimSpace(userAgent),
		client:    client,
	}
}

func (p *OpenCageProvider) Name() string {
	return "opencage"
}

type openCageResponse struct {
	Results []struct {
		Geometry struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"geometry"`
		Confidence float64 `json:"confidence"`
		Formatted  string  `json:"formatted"`
		Components struct {
			CountryCode string `json:"country_code"`
		} `json:"components"`
	} `json:"results"`
}

func (p *OpenCageProvider) Geocode(ctx context.Context, req Request) ([]Candidate, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("opencage: api key is not configured")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", text)
	params.Set("key", p.apiKey)
	params.Set("limit", openCageLimit)
	params.Set("no_annotations", "1")
	if code := strings.ToLower(strings.TrimSpace(req.CountryCode)); code != "" {
		params.Set("countrycode", code)
	}

	body, err := getJSONBody(ctx, p.client, p.endpoint+"?"+params.Encode(), p.userAgent)
	if err != nil {
		return nil, fmt.Errorf("opencage: %w", err)
	}

	var decoded openCageResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("opencage: decode response: %w", err)
	}

	candidates := make([]Candidate, 0, len(decoded.Results))
	for _, result := range decoded.Results {
		point := model.GeoPoint{Lat: result.Geometry.Lat, Lon: result.Geometry.Lng}
		if !point.Valid() {
			continue
		}
		// OpenCage confidence is 0..10 and measures bounding box tightness.
		candidates = append(candidates, Candidate{
			Point:       point,
			Relevance:   clamp01(result.Confidence / 10),
			DisplayName: result.Formatted,
			CountryCode: strings.ToUpper(result.Components.CountryCode),
		})
	}
	return candidates, nil
}
