// Package server exposes route building and geocoding over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sidewalksort/internal/feature"
	"github.com/sells-group/sidewalksort/internal/pipeline"
	"github.com/sells-group/sidewalksort/internal/roster"
	"github.com/sells-group/sidewalksort/internal/route"
	"github.com/sells-group/sidewalksort/pkg/geocode"
)

// maxRequestBytes caps route request bodies.
const maxRequestBytes = 32 << 20

// Server handles HTTP requests.
type Server struct {
	driver   *pipeline.Driver
	geocoder geocode.Client
	metric   route.Metric
	loopBack bool
	strategy route.Strategy
}

// Option configures a Server.
type Option func(*Server)

// WithMetric sets the distance metric used to measure graph edges without a length.
func WithMetric(m route.Metric) Option {
	return func(s *Server) { s.metric = m }
}

// WithDefaults sets the strategy and loop-back used when a request omits them.
func WithDefaults(strategy route.Strategy, loopBack bool) Option {
	return func(s *Server) {
		s.strategy = strategy
		s.loopBack = loopBack
	}
}

// New creates a Server. geocoder may be nil, which disables the geocode endpoints and
// start addresses.
func New(driver *pipeline.Driver, geocoder geocode.Client, opts ...Option) *Server {
	s := &Server{
		driver:   driver,
		geocoder: geocoder,
		metric:   route.MetricPlanar,
		strategy: route.StrategyAuto,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/routes", s.handleRoute)
		r.Get("/geocode/reverse", s.handleReverse)
		r.Get("/geocode/forward", s.handleForward)
	})
	return r
}

// Coordinate is a lat/lon pair in a request.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RouteRequest is the body of POST /v1/routes. Geometry fields hold raw GeoJSON.
type RouteRequest struct {
	Features     json.RawMessage `json:"features"`
	Roster       []roster.Entry  `json:"roster,omitempty"`
	RouteLine    json.RawMessage `json:"route_line,omitempty"`
	Start        *Coordinate     `json:"start,omitempty"`
	StartAddress string          `json:"start_address,omitempty"`
	Graph        json.RawMessage `json:"graph,omitempty"`
	Strategy     string          `json:"strategy,omitempty"`
	LoopBack     *bool           `json:"loop_back,omitempty"`
}

// RouteResponse is the body returned by POST /v1/routes.
type RouteResponse struct {
	*pipeline.Result
	Summary  string          `json:"summary"`
	PathLine json.RawMessage `json:"path_line,omitempty"`
}

var errBadRequest = eris.New("server: bad request")

func badRequest(format string, args ...any) error {
	return eris.Wrapf(errBadRequest, format, args...)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in, graph, err := s.buildInput(r, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errBadRequest) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	start := time.Now()
	res, err := s.driver.Run(r.Context(), in)
	if err != nil {
		zap.L().Error("server: route run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "route run failed")
		return
	}
	zap.L().Info("server: route built",
		zap.String("run_id", res.RunID),
		zap.Int("stops", res.Stops),
		zap.Duration("elapsed", time.Since(start)),
	)

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+pipeline.DefaultOutput+`"`)
		if err := pipeline.WriteCSV(w, res.Rows); err != nil {
			zap.L().Error("server: write csv", zap.Error(err))
		}
		return
	}

	resp := RouteResponse{Result: res, Summary: res.Summary()}
	if graph != nil && len(res.Path) > 0 {
		line, err := route.PathGeoJSON(graph, res.Path, map[string]any{"run_id": res.RunID})
		if err != nil {
			zap.L().Warn("server: path geojson", zap.Error(err))
		} else {
			resp.PathLine = line
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// buildInput decodes request geometry into a pipeline input.
func (s *Server) buildInput(r *http.Request, req RouteRequest) (pipeline.Input, *route.Graph, error) {
	var in pipeline.Input

	if len(req.Features) == 0 {
		return in, nil, badRequest("features is required")
	}
	features, err := feature.ParseGeoJSON(req.Features)
	if err != nil {
		return in, nil, badRequest("features: %v", err)
	}
	in.Features = features

	for _, e := range req.Roster {
		if strings.TrimSpace(e.Address) != "" {
			in.Roster = append(in.Roster, e)
		}
	}

	strategy := s.strategy
	if req.Strategy != "" {
		if strategy, err = route.ParseStrategy(req.Strategy); err != nil {
			return in, nil, badRequest("%v", err)
		}
	}
	in.Route.Strategy = strategy
	in.Route.LoopBack = s.loopBack
	if req.LoopBack != nil {
		in.Route.LoopBack = *req.LoopBack
	}

	if len(req.RouteLine) > 0 {
		if in.Route.RouteLine, err = route.ParseLine(req.RouteLine); err != nil {
			return in, nil, badRequest("route_line: %v", err)
		}
	}

	var graph *route.Graph
	if len(req.Graph) > 0 {
		if graph, err = route.ParseGraph(req.Graph, s.metric); err != nil {
			return in, nil, badRequest("graph: %v", err)
		}
		in.Route.Graph = graph
	}

	switch {
	case req.Start != nil:
		in.Route.Start = &feature.Coord{Lat: req.Start.Lat, Lon: req.Start.Lon}
	case req.StartAddress != "":
		if s.geocoder == nil {
			return in, nil, badRequest("start_address needs a geocoder")
		}
		res, err := s.geocoder.Forward(r.Context(), req.StartAddress)
		if err != nil {
			return in, nil, eris.Wrap(err, "server: geocode start address")
		}
		if !res.Matched {
			return in, nil, badRequest("start_address %q not found", req.StartAddress)
		}
		in.Route.Start = &feature.Coord{Lat: res.Latitude, Lon: res.Longitude}
	}

	return in, graph, nil
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	if s.geocoder == nil {
		writeError(w, http.StatusServiceUnavailable, "geocoding disabled")
		return
	}
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lon are required numbers")
		return
	}

	place, err := s.geocoder.Reverse(r.Context(), lat, lon)
	if errors.Is(err, geocode.ErrNoResult) {
		writeError(w, http.StatusNotFound, "no address found")
		return
	}
	if err != nil {
		zap.L().Warn("server: reverse geocode", zap.Error(err))
		writeError(w, http.StatusBadGateway, "geocode provider error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": place.Address(), "place": place})
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	if s.geocoder == nil {
		writeError(w, http.StatusServiceUnavailable, "geocoding disabled")
		return
	}
	address := r.URL.Query().Get("address")
	if strings.TrimSpace(address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	res, err := s.geocoder.Forward(r.Context(), address)
	if err != nil {
		zap.L().Warn("server: forward geocode", zap.Error(err))
		writeError(w, http.StatusBadGateway, "geocode provider error")
		return
	}
	if !res.Matched {
		writeError(w, http.StatusNotFound, "address not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
