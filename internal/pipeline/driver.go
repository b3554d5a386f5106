// Package pipeline runs resolution, deduplication and sequencing over one area and exports
// the walking list.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sidewalksort/internal/dedupe"
	"github.com/sells-group/sidewalksort/internal/feature"
	"github.com/sells-group/sidewalksort/internal/geocache"
	"github.com/sells-group/sidewalksort/internal/resolve"
	"github.com/sells-group/sidewalksort/internal/roster"
	"github.com/sells-group/sidewalksort/internal/route"
)

// IDGenerator produces run identifiers. Each Driver owns its own.
type IDGenerator func() string

// Input is one pipeline run's data.
type Input struct {
	Features []feature.Feature
	Roster   roster.Roster
	Route    route.Context
}

// Row is one export line.
type Row struct {
	Address     string `json:"address"`
	HouseNumber string `json:"house_number"`
	Street      string `json:"street"`
	Holder      string `json:"holder"`
	Note        string `json:"note"`
	Outcome     string `json:"outcome"`
	Diagnostic  string `json:"diagnostic"`
}

// Result is the output of a run.
type Result struct {
	RunID    string                  `json:"run_id"`
	Rows     []Row                   `json:"rows"`
	Path     []int64                 `json:"path,omitempty"`
	Strategy route.Strategy          `json:"strategy"`
	Degraded bool                    `json:"degraded"`
	Warnings []string                `json:"warnings,omitempty"`
	Counts   map[resolve.Outcome]int `json:"counts"`
	Features int                     `json:"features"`
	Stops    int                     `json:"stops"`
	Cache    geocache.Stats          `json:"cache"`
}

// Summary renders the per-outcome counts on one line.
func (r *Result) Summary() string {
	c := r.Counts
	return fmt.Sprintf("Matched: %d | OSM-only: %d | Reverse-geocoded: %d | Unknown: %d",
		c[resolve.OutcomeMatched],
		c[resolve.OutcomeOSMOnly]+c[resolve.OutcomePartial],
		c[resolve.OutcomeReverseGeocoded],
		c[resolve.OutcomeNoAddress]+c[resolve.OutcomeError],
	)
}

// Option configures a Driver.
type Option func(*Driver)

// WithIDGenerator sets the run identifier source.
func WithIDGenerator(gen IDGenerator) Option {
	return func(d *Driver) {
		if gen != nil {
			d.newID = gen
		}
	}
}

// WithFuzzyThreshold sets the roster fuzzy match threshold (0-100).
func WithFuzzyThreshold(t float64) Option {
	return func(d *Driver) { d.threshold = t }
}

// WithWorkers bounds concurrent feature resolution.
func WithWorkers(n int) Option {
	return func(d *Driver) { d.workers = n }
}

// WithSequencer replaces the default route sequencer.
func WithSequencer(s *route.Sequencer) Option {
	return func(d *Driver) {
		if s != nil {
			d.sequencer = s
		}
	}
}

// Driver composes resolution, deduplication and sequencing.
type Driver struct {
	reverser  resolve.Reverser
	sequencer *route.Sequencer
	threshold float64
	workers   int
	newID     IDGenerator
}

// New creates a Driver. reverser may be nil to skip reverse geocoding.
func New(reverser resolve.Reverser, opts ...Option) *Driver {
	d := &Driver{
		reverser:  reverser,
		sequencer: route.NewSequencer(),
		threshold: roster.DefaultThreshold,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run resolves, dedupes and sequences the input features. Each run uses a fresh geocode
// cache. Zero features yield an empty result. Only cancellation aborts a run.
func (d *Driver) Run(ctx context.Context, in Input) (*Result, error) {
	runID := d.newID()
	log := zap.L().With(zap.String("run_id", runID))

	res := &Result{
		RunID:    runID,
		Rows:     []Row{},
		Counts:   make(map[resolve.Outcome]int),
		Features: len(in.Features),
	}
	if len(in.Features) == 0 {
		log.Info("pipeline: no features to resolve")
		res.Strategy = route.Select(in.Route)
		return res, nil
	}

	cache := geocache.New()
	resolver := resolve.New(d.reverser,
		resolve.WithRoster(in.Roster, d.threshold),
		resolve.WithCache(cache),
		resolve.WithWorkers(d.workers),
	)

	records, err := resolver.ResolveAll(ctx, in.Features)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: resolve")
	}
	for _, rec := range records {
		if recErr := rec.Err(); recErr != nil {
			log.Debug("pipeline: feature not cleanly resolved",
				zap.String("feature", rec.FeatureID),
				zap.String("outcome", string(rec.Outcome)),
				zap.Error(recErr),
			)
		}
	}

	stops := dedupe.Dedupe(records)
	order := d.sequencer.Sequence(stops, in.Route)

	res.Rows = Rows(order.Stops)
	res.Path = order.Path
	res.Strategy = order.Strategy
	res.Degraded = order.Degraded
	res.Warnings = order.Warnings
	res.Counts = resolve.Count(records)
	res.Stops = len(stops)
	res.Cache = cache.Stats()

	log.Info("pipeline: run complete",
		zap.Int("features", res.Features),
		zap.Int("stops", res.Stops),
		zap.String("strategy", string(res.Strategy)),
		zap.Bool("degraded", res.Degraded),
		zap.Int64("geocode_calls", res.Cache.Calls),
		zap.String("summary", res.Summary()),
	)
	return res, nil
}

// Rows maps ordered stops to export rows.
func Rows(stops []dedupe.Stop) []Row {
	rows := make([]Row, len(stops))
	for i, s := range stops {
		hn, street := s.HouseNumber, s.Street
		if s.Outcome != resolve.OutcomeOSMOnly && s.Outcome != resolve.OutcomePartial {
			hn, street = SplitAddress(s.Address)
		}
		rows[i] = Row{
			Address:     s.Address,
			HouseNumber: hn,
			Street:      street,
			Holder:      s.Holder,
			Note:        s.RosterNote,
			Outcome:     string(s.Outcome),
			Diagnostic:  s.Note,
		}
	}
	return rows
}

// SplitAddress splits "12 Elm St" into house number and street. An address whose first
// token has no digit is all street.
func SplitAddress(addr string) (houseNumber, street string) {
	addr = strings.TrimSpace(addr)
	first, rest, _ := strings.Cut(addr, " ")
	if !strings.ContainsAny(first, "0123456789") {
		return "", addr
	}
	return first, strings.TrimSpace(rest)
}
