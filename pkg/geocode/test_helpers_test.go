package geocode

import (
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// newRewriteClient creates an HTTP client that rewrites requests to a test server URL.
// All requests matching the target prefix are redirected to the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if strings.HasPrefix(origURL, t.targetPrefix) {
		suffix := origURL[len(t.targetPrefix):]
		newURL := t.testServer + suffix
		newReq := req.Clone(req.Context())
		parsed, err := req.URL.Parse(newURL)
		if err != nil {
			return nil, err
		}
		newReq.URL = parsed
		newReq.Host = parsed.Host
		return t.base.RoundTrip(newReq)
	}
	return t.base.RoundTrip(req)
}

// multiRewriteTransport redirects each matching URL prefix to its own test server.
type multiRewriteTransport struct {
	base  http.RoundTripper
	rules map[string]string
}

func (t *multiRewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	for prefix, target := range t.rules {
		if !strings.HasPrefix(origURL, prefix) {
			continue
		}
		rt := &rewriteTransport{base: t.base, testServer: target, targetPrefix: prefix}
		return rt.RoundTrip(req)
	}
	return t.base.RoundTrip(req)
}

func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}
