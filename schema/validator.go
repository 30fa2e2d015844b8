package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/flashpoint/internal/model"
)

//go:embed article.schema.json
var articleSchemaJSON string

// ArticlePayload is the v1 wire form of an incoming article.
type ArticlePayload struct {
	PayloadVersion string   `json:"payload_version"`
	Source         string   `json:"source"`
	SourceItemID   string   `json:"source_item_id,omitempty"`
	URL            *string  `json:"url,omitempty"`
	Title          string   `json:"title,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	PublishedAt    *string  `json:"published_at,omitempty"`
	Country        string   `json:"country,omitempty"`
	City           string   `json:"city,omitempty"`
	Region         string   `json:"region,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Escalation     *float64 `json:"escalation,omitempty"`
	Language       string   `json:"language,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateArticlePayload(payload json.RawMessage) (*ArticlePayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item ArticlePayload
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

// Article converts a validated payload. Coordinates at (0,0) are dropped.
func (p *ArticlePayload) Article() model.Article {
	a := model.Article{
		Source:       strings.TrimSpace(p.Source),
		SourceItemID: strings.TrimSpace(p.SourceItemID),
		Title:        strings.TrimSpace(p.Title),
		Summary:      strings.TrimSpace(p.Summary),
		Country:      strings.TrimSpace(p.Country),
		City:         strings.TrimSpace(p.City),
		Region:       strings.TrimSpace(p.Region),
		Tags:         p.Tags,
		Escalation:   p.Escalation,
		Language:     strings.ToLower(strings.TrimSpace(p.Language)),
	}
	if p.URL != nil {
		a.URL = strings.TrimSpace(*p.URL)
	}
	if p.PublishedAt != nil {
		if at, err := time.Parse(time.RFC3339, strings.TrimSpace(*p.PublishedAt)); err == nil {
			a.PublishedAt = at.UTC()
		}
	}
	if p.Latitude != nil && p.Longitude != nil {
		point := model.GeoPoint{Lat: *p.Latitude, Lon: *p.Longitude}
		if point.Valid() {
			a.Latitude = p.Latitude
			a.Longitude = p.Longitude
		}
	}
	return a
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("article.schema.json", strings.NewReader(articleSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("article.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(item *ArticlePayload) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(item.Source) == "" {
		return fmt.Errorf("source must not be empty")
	}
	if strings.TrimSpace(item.Title) == "" && strings.TrimSpace(item.Summary) == "" {
		return fmt.Errorf("title or summary is required")
	}
	if strings.TrimSpace(item.SourceItemID) == "" && item.URL == nil && item.PublishedAt == nil {
		return fmt.Errorf("one of source_item_id, url or published_at is required to identify the article")
	}

	if item.URL != nil {
		if err := validateURI("url", *item.URL); err != nil {
			return err
		}
	}
	if item.PublishedAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*item.PublishedAt)); err != nil {
			return fmt.Errorf("published_at must be RFC3339: %w", err)
		}
	}

	for i, tag := range item.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("tags[%d] must not be empty", i)
		}
	}

	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", fieldName)
	}
	return nil
}
