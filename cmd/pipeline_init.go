package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sidewalksort/internal/config"
	"github.com/sells-group/sidewalksort/internal/fetcher"
	"github.com/sells-group/sidewalksort/internal/pipeline"
	"github.com/sells-group/sidewalksort/internal/resilience"
	"github.com/sells-group/sidewalksort/internal/route"
	"github.com/sells-group/sidewalksort/pkg/geocode"
)

// pipelineEnv holds the geocoder and driver shared by the route and serve commands.
type pipelineEnv struct {
	Geocoder geocode.Client // nil when offline
	Driver   *pipeline.Driver
	Metric   route.Metric
	Sources  *fetcher.Sources
	pool     *pgxpool.Pool
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.pool != nil {
		pe.pool.Close()
	}
}

// initPipeline builds the geocoder cascade and the pipeline driver from cfg. With offline
// set no geocoder is built and features without tags resolve to no-address.
func initPipeline(ctx context.Context, offline bool, workers int) (*pipelineEnv, error) {
	metric, err := route.ParseMetric(cfg.Route.Distance)
	if err != nil {
		return nil, err
	}

	env := &pipelineEnv{Metric: metric, Sources: initSources(cfg.Fetch, cfg.Geocode.UserAgent)}
	if !offline {
		client, pool, err := initGeocoder(ctx, cfg.Geocode)
		if err != nil {
			return nil, err
		}
		env.Geocoder = client
		env.pool = pool
	}

	if workers <= 0 {
		workers = cfg.Resolve.Workers
	}
	seq := route.NewSequencer(
		route.WithMetric(metric),
		route.WithMaxGraphStops(cfg.Route.MaxGraphStops),
	)

	env.Driver = pipeline.New(env.Geocoder,
		pipeline.WithFuzzyThreshold(cfg.Resolve.FuzzyThreshold),
		pipeline.WithWorkers(workers),
		pipeline.WithSequencer(seq),
	)
	return env, nil
}

// initGeocoder builds the reverse provider cascade in configured order. All HTTP providers
// share one limiter so the minimum delay holds across workers.
func initGeocoder(ctx context.Context, gc config.GeocodeConfig) (geocode.Client, *pgxpool.Pool, error) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if gc.MinDelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(gc.MinDelayMs)*time.Millisecond), 1)
	}
	opts := []geocode.Option{
		geocode.WithHTTPClient(&http.Client{Timeout: time.Duration(gc.TimeoutSecs) * time.Second}),
		geocode.WithLimiter(limiter),
		geocode.WithUserAgent(gc.UserAgent),
		geocode.WithNominatimURL(gc.NominatimURL),
		geocode.WithGoogleAPIKey(gc.GoogleAPIKey),
		geocode.WithForwardProvider(gc.ForwardProvider),
	}
	if gc.RetryAttempts > 1 {
		retry := resilience.DefaultPolicy()
		retry.Attempts = gc.RetryAttempts
		opts = append(opts, geocode.WithRetry(retry))
	}
	breaker := resilience.BreakerConfig{
		Threshold: gc.BreakerThreshold,
		Cooldown:  time.Duration(gc.BreakerCooldownSecs) * time.Second,
	}

	var (
		providers []geocode.Provider
		pool      *pgxpool.Pool
	)
	for _, name := range gc.Providers {
		switch strings.ToLower(name) {
		case "nominatim":
			providers = append(providers, geocode.WithBreaker(geocode.NominatimProvider(opts...), breaker))
		case "google":
			providers = append(providers, geocode.WithBreaker(geocode.GoogleProvider(opts...), breaker))
		case "tiger":
			if gc.TigerDatabaseURL == "" {
				return nil, nil, eris.New("geocode: tiger provider needs tiger_database_url")
			}
			if pool == nil {
				p, err := pgxpool.New(ctx, gc.TigerDatabaseURL)
				if err != nil {
					return nil, nil, eris.Wrap(err, "geocode: connect tiger database")
				}
				pool = p
			}
			providers = append(providers, geocode.WithBreaker(geocode.NewTigerProvider(pool), breaker))
		default:
			if pool != nil {
				pool.Close()
			}
			return nil, nil, eris.Errorf("geocode: unknown provider %q", name)
		}
	}

	zap.L().Debug("geocoder initialized",
		zap.Strings("providers", gc.Providers),
		zap.String("forward", gc.ForwardProvider),
	)
	return geocode.NewCascadeClient(providers, geocode.NewClient(opts...)), pool, nil
}

// initSources builds the remote input fetchers.
func initSources(fc config.FetchConfig, userAgent string) *fetcher.Sources {
	timeout := time.Duration(fc.TimeoutSecs) * time.Second
	retry := resilience.NoRetry()
	if fc.RetryAttempts > 1 {
		retry = resilience.DefaultPolicy()
		retry.Attempts = fc.RetryAttempts
	}
	return fetcher.NewSources(
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{UserAgent: userAgent, Timeout: timeout, Retry: retry}),
		fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout}),
	)
}
