// Package geocode provides reverse and forward geocoding via Nominatim (primary), Google
// (fallback), Census (forward only) and PostGIS TIGER (reverse only).
package geocode

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/sidewalksort/internal/resilience"
)

// maxBodyBytes caps provider responses.
const maxBodyBytes = 4 << 20

// ErrNoResult is returned when a provider answered but had no address for the input.
var ErrNoResult = eris.New("geocode: no result")

// Client reverse and forward geocodes through external services.
type Client interface {
	// Reverse returns the address nearest to a coordinate.
	Reverse(ctx context.Context, lat, lon float64) (*Place, error)

	// Forward returns the coordinate of a one-line address.
	Forward(ctx context.Context, address string) (*Result, error)
}

// Place is a reverse geocode result.
type Place struct {
	HouseNumber string `json:"house_number,omitempty"`
	Street      string `json:"street,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Postcode    string `json:"postcode,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Source      string `json:"source"`
}

// Address returns "housenumber street" when both parts are known, otherwise the street,
// otherwise the provider's display name.
func (p Place) Address() string {
	hn := strings.TrimSpace(p.HouseNumber)
	st := strings.TrimSpace(p.Street)
	switch {
	case hn != "" && st != "":
		return hn + " " + st
	case st != "":
		return st
	default:
		return strings.TrimSpace(p.DisplayName)
	}
}

// Result holds the forward geocoding output for an address.
type Result struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Source      string  `json:"source"`
	Quality     string  `json:"quality"`
	DisplayName string  `json:"display_name,omitempty"`
	Matched     bool    `json:"matched"`
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithHTTPClient sets a custom HTTP client for all provider requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit shared by every outbound call.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLimiter shares an existing limiter, so several clients and providers draw from one
// outbound call budget.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *geocoder) {
		if l != nil {
			g.limiter = l
		}
	}
}

// WithMinDelay enforces a minimum delay between outbound calls (Nominatim policy is 1s).
func WithMinDelay(d time.Duration) Option {
	return func(g *geocoder) {
		if d <= 0 {
			g.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		g.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithUserAgent sets the User-Agent header; Nominatim rejects anonymous clients.
func WithUserAgent(ua string) Option {
	return func(g *geocoder) {
		if ua != "" {
			g.userAgent = ua
		}
	}
}

// WithNominatimURL overrides the Nominatim base URL (self-hosted instances).
func WithNominatimURL(u string) Option {
	return func(g *geocoder) {
		if u != "" {
			g.nominatimURL = strings.TrimRight(u, "/")
		}
	}
}

// WithGoogleAPIKey enables the Google Geocoding API as a fallback.
func WithGoogleAPIKey(key string) Option {
	return func(g *geocoder) {
		g.googleKey = key
	}
}

// WithForwardProvider selects the primary forward geocoder: "nominatim", "census" or
// "google". Google is still tried as a fallback when a key is configured.
func WithForwardProvider(name string) Option {
	return func(g *geocoder) {
		if name != "" {
			g.forwardProvider = strings.ToLower(name)
		}
	}
}

// WithRetry retries transient provider failures (timeouts, 429, 5xx). Each attempt waits
// on the limiter.
func WithRetry(p resilience.Policy) Option {
	return func(g *geocoder) {
		g.retry = p
	}
}

type geocoder struct {
	httpClient      *http.Client
	limiter         *rate.Limiter
	retry           resilience.Policy
	userAgent       string
	nominatimURL    string
	googleKey       string
	forwardProvider string
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	return newGeocoder(opts...)
}

func newGeocoder(opts ...Option) *geocoder {
	g := &geocoder{
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		limiter:         rate.NewLimiter(rate.Every(time.Second), 1),
		userAgent:       "sidewalksort",
		nominatimURL:    defaultNominatimURL,
		forwardProvider: "nominatim",
		retry:           resilience.NoRetry(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reverse tries Nominatim first, then Google if configured.
func (g *geocoder) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	place, err := g.reverseNominatim(ctx, lat, lon)
	if err == nil {
		return place, nil
	}
	if g.googleKey == "" {
		return nil, err
	}

	googlePlace, googleErr := g.reverseGoogle(ctx, lat, lon)
	if googleErr == nil {
		return googlePlace, nil
	}
	// Prefer reporting a real fault over a plain miss.
	if eris.Is(err, ErrNoResult) {
		return nil, googleErr
	}
	return nil, err
}

// Forward geocodes with the configured primary provider, then Google if configured.
func (g *geocoder) Forward(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return &Result{Matched: false}, nil
	}

	var result *Result
	var err error
	switch g.forwardProvider {
	case "census":
		result, err = g.forwardCensus(ctx, address)
	case "google":
		result, err = g.forwardGoogle(ctx, address)
	default:
		result, err = g.forwardNominatim(ctx, address)
	}
	if err == nil && result.Matched {
		return result, nil
	}

	if g.googleKey != "" && g.forwardProvider != "google" {
		googleResult, googleErr := g.forwardGoogle(ctx, address)
		if googleErr == nil && googleResult.Matched {
			return googleResult, nil
		}
	}

	if err != nil {
		return nil, err
	}
	return &Result{Matched: false, Source: result.Source}, nil
}

// get issues a rate-limited GET and returns the body of a 200 response, retrying
// transient failures per the retry policy.
func (g *geocoder) get(ctx context.Context, provider, reqURL string) ([]byte, error) {
	policy := g.retry
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetries(provider)
	}
	return resilience.Retry(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return g.getOnce(ctx, provider, reqURL)
	})
}

func (g *geocoder) getOnce(ctx context.Context, provider, reqURL string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "geocode: %s rate limit", provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s build request", provider)
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s request", provider)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: %s returned status %d", provider, resp.StatusCode)
		if resilience.IsTransientStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s read body", provider)
	}
	return body, nil
}
