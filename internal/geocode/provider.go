package geocode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"horse.fit/flashpoint/internal/model"
)

const (
	DefaultProviderTimeout = 15 * time.Second
	maxProviderResponse    = 1 << 20
)

// Request is one free-text geocoding query. CountryCode is an ISO 3166-1 alpha-2 hint.
type Request struct {
	Text        string
	CountryCode string
}

// Candidate is one provider match. Relevance is normalized to [0,1].
type Candidate struct {
	Point       model.GeoPoint
	Relevance   float64
	DisplayName string
	CountryCode string
}

// Provider is an external geocoding service.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, req Request) ([]Candidate, error)
}

// Registry stores geocoding providers by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(provider Provider) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if provider == nil {
		return fmt.Errorf("provider is nil")
	}
	name := normalizeProviderName(provider.Name())
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	r.providers[name] = provider
	return nil
}

func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	resolved := normalizeProviderName(name)
	provider, ok := r.providers[resolved]
	if !ok {
		return nil, fmt.Errorf("geocoding provider %q is not registered (available: %s)", resolved, strings.Join(r.ProviderNames(), ", "))
	}
	return provider, nil
}

// Chain resolves names in order, preserving the configured fallback order.
func (r *Registry) Chain(names []string) ([]Provider, error) {
	chain := make([]Provider, 0, len(names))
	for _, name := range names {
		provider, err := r.Provider(name)
		if err != nil {
			return nil, err
		}
		chain = append(chain, provider)
	}
	return chain, nil
}

func (r *Registry) ProviderNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Throttle limits the request rate of a provider. Waiting honors ctx.
type Throttle struct {
	provider Provider
	limiter  *rate.Limiter
}

func NewThrottle(provider Provider, rps float64) *Throttle {
	if rps <= 0 {
		rps = 1
	}
	return &Throttle{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (t *Throttle) Name() string {
	return t.provider.Name()
}

func (t *Throttle) Geocode(ctx context.Context, req Request) ([]Candidate, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit wait: %w", t.provider.Name(), err)
	}
	return t.provider.Geocode(ctx, req)
}

func getJSONBody(ctx context.Context, client *http.Client, endpoint, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponse))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
