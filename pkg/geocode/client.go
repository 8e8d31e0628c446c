// Package geocode resolves street addresses to coordinates via the Census
// Geocoder, falling back to Google when a key is configured.
package geocode

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/dealdesk/internal/resilience"
)

// Client geocodes addresses.
type Client interface {
	// Geocode resolves one address. An address no provider can match is
	// returned with Matched false and a nil error.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// AddressInput represents an address to geocode.
type AddressInput struct {
	Street  string
	City    string
	State   string
	ZipCode string
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude  float64
	Longitude float64
	Source    string // "census" or "google"
	Quality   string // "rooftop", "range", "centroid", "approximate"
	Matched   bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithGoogleAPIKey enables Google Geocoding API as a fallback.
func WithGoogleAPIKey(key string) Option {
	return func(g *geocoder) {
		g.googleKey = key
	}
}

// WithHTTPClient sets a custom HTTP client for both Census and Google requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit shared by both providers.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type geocoder struct {
	httpClient *http.Client
	googleKey  string
	limiter    *rate.Limiter
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// provider is one geocoding backend.
type provider struct {
	name     string
	endpoint func(oneLine string) string
	decode   func(body []byte) (*Result, error)
}

// providers lists the backends in the order they are tried.
func (g *geocoder) providers() []provider {
	ps := []provider{censusProvider()}
	if g.googleKey != "" {
		ps = append(ps, googleProvider(g.googleKey))
	}
	return ps
}

// Geocode tries each provider until one matches. It fails only when every
// provider returned an error.
func (g *geocoder) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	line := formatOneLine(addr)
	if line == "" {
		return &Result{Matched: false}, nil
	}

	providers := g.providers()
	var lastErr error
	failed := 0
	for _, p := range providers {
		res, err := g.lookup(ctx, p, line)
		if err != nil {
			zap.L().Debug("geocode: provider failed", zap.String("provider", p.name), zap.Error(err))
			lastErr = err
			failed++
			continue
		}
		if res.Matched {
			return res, nil
		}
	}
	if failed == len(providers) {
		return nil, lastErr
	}
	return &Result{Matched: false}, nil
}

func (g *geocoder) lookup(ctx context.Context, p provider, line string) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "geocode: %s rate limit", p.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(line), nil)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s build request", p.name)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s request", p.name)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s read body", p.name)
	}
	if err := resilience.CheckResponse("geocode: "+p.name, resp.StatusCode, body); err != nil {
		return nil, err
	}

	res, err := p.decode(body)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s parse response", p.name)
	}
	res.Source = p.name
	return res, nil
}

// formatOneLine joins the non-blank address parts with commas.
func formatOneLine(addr AddressInput) string {
	var parts []string
	for _, p := range []string{addr.Street, addr.City, addr.State, addr.ZipCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
