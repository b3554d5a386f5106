package geocode

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sidewalksort/internal/resilience"
)

// Provider represents a single reverse geocoding backend.
type Provider interface {
	Name() string
	Reverse(ctx context.Context, lat, lon float64) (*Place, error)
	Available() bool
}

// httpProvider exposes one HTTP backend of a geocoder as a Provider.
type httpProvider struct {
	name    string
	reverse func(ctx context.Context, lat, lon float64) (*Place, error)
	ok      func() bool
}

func (p *httpProvider) Name() string    { return p.name }
func (p *httpProvider) Available() bool { return p.ok() }
func (p *httpProvider) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	return p.reverse(ctx, lat, lon)
}

// NominatimProvider returns a Provider backed by Nominatim reverse geocoding. Pass
// WithLimiter to share one outbound budget with other providers.
func NominatimProvider(opts ...Option) Provider {
	g := newGeocoder(opts...)
	return &httpProvider{name: "nominatim", reverse: g.reverseNominatim, ok: func() bool { return true }}
}

// GoogleProvider returns a Provider backed by Google reverse geocoding. It is unavailable
// without an API key.
func GoogleProvider(opts ...Option) Provider {
	g := newGeocoder(opts...)
	return &httpProvider{name: "google", reverse: g.reverseGoogle, ok: func() bool { return g.googleKey != "" }}
}

// guardedProvider stops calling a provider whose breaker is open.
type guardedProvider struct {
	Provider
	breaker *resilience.Breaker
}

// WithBreaker guards p with a circuit breaker. Misses (ErrNoResult) do not count as
// failures. While the breaker is open the provider reports itself unavailable, so a
// cascade skips it.
func WithBreaker(p Provider, cfg resilience.BreakerConfig) Provider {
	cfg.Name = p.Name()
	cfg.ShouldTrip = func(err error) bool {
		return err != nil && !errors.Is(err, ErrNoResult) && !errors.Is(err, context.Canceled)
	}
	return &guardedProvider{Provider: p, breaker: resilience.NewBreaker(cfg)}
}

func (p *guardedProvider) Available() bool {
	return p.Provider.Available() && p.breaker.State() != resilience.Open
}

func (p *guardedProvider) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	return resilience.Call(ctx, p.breaker, func(ctx context.Context) (*Place, error) {
		return p.Provider.Reverse(ctx, lat, lon)
	})
}

// CascadeClient tries reverse providers in order until one succeeds. Forward lookups
// go to a single Client.
type CascadeClient struct {
	providers []Provider
	forward   Client
}

// NewCascadeClient creates a CascadeClient. forward may be nil when forward geocoding is
// not needed.
func NewCascadeClient(providers []Provider, forward Client) *CascadeClient {
	return &CascadeClient{providers: providers, forward: forward}
}

// ErrNoProvider is returned when no reverse provider is available, for example because
// every breaker is open.
var ErrNoProvider = eris.New("geocode: no reverse provider available")

// Reverse implements Client by trying each available provider in order. If every provider
// misses, the result is ErrNoResult; if any provider faulted, the last fault is returned.
func (c *CascadeClient) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	var lastFault error
	tried := 0
	for _, p := range c.providers {
		if !p.Available() {
			continue
		}
		tried++
		place, err := p.Reverse(ctx, lat, lon)
		if err == nil && place != nil {
			return place, nil
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "cascade: reverse")
		}
		if err != nil && !errors.Is(err, ErrNoResult) {
			lastFault = err
		}
		zap.L().Debug("cascade: provider missed, trying next",
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
	}

	if lastFault != nil {
		return nil, lastFault
	}
	if tried == 0 {
		return nil, ErrNoProvider
	}
	return nil, eris.Wrap(ErrNoResult, "cascade")
}

// Forward implements Client.
func (c *CascadeClient) Forward(ctx context.Context, address string) (*Result, error) {
	if c.forward == nil {
		return nil, eris.New("cascade: no forward geocoder configured")
	}
	return c.forward.Forward(ctx, address)
}
