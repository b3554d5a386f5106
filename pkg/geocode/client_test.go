package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sidewalksort/internal/resilience"
)

func TestPlace_Address(t *testing.T) {
	assert.Equal(t, "12 Elm Street", Place{HouseNumber: "12", Street: "Elm Street", DisplayName: "x"}.Address())
	assert.Equal(t, "Elm Street", Place{Street: "Elm Street", DisplayName: "x"}.Address())
	assert.Equal(t, "Elm Park, Brooklyn", Place{DisplayName: " Elm Park, Brooklyn "}.Address())
	assert.Equal(t, "", Place{}.Address())
}

func TestReverse_NominatimSucceeds_NoGoogleCall(t *testing.T) {
	var googleCalled atomic.Int32

	nomSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "sidewalksort-test", r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, `{"display_name":"12, Elm Street, Brooklyn","address":{"house_number":"12","road":"Elm Street"}}`)
	}))
	defer nomSrv.Close()

	googleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		googleCalled.Add(1)
		_, _ = io.WriteString(w, `{"status":"ZERO_RESULTS","results":[]}`)
	}))
	defer googleSrv.Close()

	c := NewClient(
		WithNominatimURL(nomSrv.URL),
		WithHTTPClient(newRewriteClient(googleSrv.URL, googleGeocodeURL)),
		WithGoogleAPIKey("test-key"),
		WithUserAgent("sidewalksort-test"),
		WithMinDelay(0),
	)

	place, err := c.Reverse(context.Background(), 40.7, -73.9)
	require.NoError(t, err)
	assert.Equal(t, "12 Elm Street", place.Address())
	assert.Equal(t, "nominatim", place.Source)
	assert.Equal(t, int32(0), googleCalled.Load(), "Google should not be called when Nominatim succeeds")
}

func TestReverse_NominatimMiss_GoogleFallback(t *testing.T) {
	nomSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error":"Unable to geocode"}`)
	}))
	defer nomSrv.Close()

	googleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "40.700000,-73.900000", r.URL.Query().Get("latlng"))
		_, _ = io.WriteString(w, `{
			"status": "OK",
			"results": [{
				"formatted_address": "14 Elm St, Brooklyn, NY 11201, USA",
				"address_components": [
					{"long_name": "14", "short_name": "14", "types": ["street_number"]},
					{"long_name": "Elm Street", "short_name": "Elm St", "types": ["route"]},
					{"long_name": "Brooklyn", "short_name": "Brooklyn", "types": ["locality", "political"]},
					{"long_name": "New York", "short_name": "NY", "types": ["administrative_area_level_1"]}
				]
			}]
		}`)
	}))
	defer googleSrv.Close()

	c := NewClient(
		WithNominatimURL(nomSrv.URL),
		WithHTTPClient(newRewriteClient(googleSrv.URL, googleGeocodeURL)),
		WithGoogleAPIKey("test-key"),
		WithMinDelay(0),
	)

	place, err := c.Reverse(context.Background(), 40.7, -73.9)
	require.NoError(t, err)
	assert.Equal(t, "google", place.Source)
	assert.Equal(t, "14 Elm St", place.Address())
	assert.Equal(t, "NY", place.State)
}

func TestReverse_NominatimMiss_NoGoogle(t *testing.T) {
	nomSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error":"Unable to geocode"}`)
	}))
	defer nomSrv.Close()

	c := NewClient(WithNominatimURL(nomSrv.URL), WithMinDelay(0))

	_, err := c.Reverse(context.Background(), 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestReverse_ServerError(t *testing.T) {
	nomSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer nomSrv.Close()

	c := NewClient(WithNominatimURL(nomSrv.URL), WithMinDelay(0))

	_, err := c.Reverse(context.Background(), 40.7, -73.9)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoResult)
	assert.Contains(t, err.Error(), "status 429")
}

func TestReverse_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	nomSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"display_name":"12, Elm Street","address":{"house_number":"12","road":"Elm Street"}}`)
	}))
	defer nomSrv.Close()

	c := NewClient(
		WithNominatimURL(nomSrv.URL),
		WithMinDelay(0),
		WithRetry(resilience.Policy{Attempts: 3, Backoff: time.Millisecond}),
	)

	place, err := c.Reverse(context.Background(), 40.7, -73.9)
	require.NoError(t, err)
	assert.Equal(t, "12 Elm Street", place.Address())
	assert.Equal(t, int32(2), calls.Load())
}

func TestReverse_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	nomSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer nomSrv.Close()

	c := NewClient(
		WithNominatimURL(nomSrv.URL),
		WithMinDelay(0),
		WithRetry(resilience.Policy{Attempts: 3, Backoff: time.Millisecond}),
	)

	_, err := c.Reverse(context.Background(), 40.7, -73.9)
	assert.ErrorContains(t, err, "status 403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestForward_Nominatim(t *testing.T) {
	nomSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "12 Elm St, Brooklyn", r.URL.Query().Get("q"))
		_, _ = io.WriteString(w, `[{"lat":"40.6932","lon":"-73.9897","display_name":"12 Elm St","place_rank":30}]`)
	}))
	defer nomSrv.Close()

	c := NewClient(WithNominatimURL(nomSrv.URL), WithMinDelay(0))

	result, err := c.Forward(context.Background(), "12 Elm St, Brooklyn")
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.InDelta(t, 40.6932, result.Latitude, 1e-6)
	assert.InDelta(t, -73.9897, result.Longitude, 1e-6)
	assert.Equal(t, "rooftop", result.Quality)
}

func TestForward_NoMatch(t *testing.T) {
	nomSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer nomSrv.Close()

	c := NewClient(WithNominatimURL(nomSrv.URL), WithMinDelay(0))

	result, err := c.Forward(context.Background(), "nowhere at all")
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestForward_EmptyAddress(t *testing.T) {
	c := NewClient()
	result, err := c.Forward(context.Background(), "   ")
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestMinDelay_SpacesCalls(t *testing.T) {
	var calls atomic.Int32
	nomSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `[]`)
	}))
	defer nomSrv.Close()

	c := NewClient(WithNominatimURL(nomSrv.URL), WithMinDelay(50*time.Millisecond))

	start := time.Now()
	for range 3 {
		_, err := c.Forward(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLimiter_ContextCancelled(t *testing.T) {
	c := NewClient(WithMinDelay(time.Hour))
	g := c.(*geocoder)
	// Drain the single burst token.
	require.True(t, g.limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Reverse(ctx, 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
