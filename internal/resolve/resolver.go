// Package resolve derives one address record per spatial feature from OSM tags, roster
// matching and cached reverse geocoding.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sidewalksort/internal/feature"
	"github.com/sells-group/sidewalksort/internal/geocache"
	"github.com/sells-group/sidewalksort/internal/roster"
	"github.com/sells-group/sidewalksort/pkg/geocode"
)

const defaultWorkers = 4

// Reverser reverse geocodes a coordinate. geocode.Client satisfies it.
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (*geocode.Place, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRoster enables roster matching at the given fuzzy threshold (0 selects the default).
func WithRoster(r roster.Roster, threshold float64) Option {
	return func(res *Resolver) {
		if len(r) > 0 {
			res.matcher = roster.NewMatcher(r, threshold)
		}
	}
}

// WithCache shares a geocode cache across resolvers of the same run.
func WithCache(c *geocache.Cache) Option {
	return func(res *Resolver) {
		if c != nil {
			res.cache = c
		}
	}
}

// WithWorkers bounds concurrent feature resolution in ResolveAll.
func WithWorkers(n int) Option {
	return func(res *Resolver) {
		if n > 0 {
			res.workers = n
		}
	}
}

// Resolver resolves features to address records.
type Resolver struct {
	reverser Reverser
	matcher  *roster.Matcher
	cache    *geocache.Cache
	workers  int
}

// New creates a Resolver. reverser may be nil, in which case features without tag
// addresses resolve to no-address.
func New(reverser Reverser, opts ...Option) *Resolver {
	r := &Resolver{
		reverser: reverser,
		cache:    geocache.New(),
		workers:  defaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the geocode cache used by the resolver.
func (r *Resolver) Cache() *geocache.Cache { return r.cache }

// Resolve produces the record for one feature. It never returns an error: faults, including
// panics, become error records.
func (r *Resolver) Resolve(ctx context.Context, f feature.Feature) (rec Record) {
	defer func() {
		if p := recover(); p != nil {
			err := eris.Wrapf(ErrResolutionFault, "feature %s: %v", f.ID, p)
			zap.L().Error("resolve: recovered panic", zap.String("feature", f.ID), zap.Error(err))
			rec = Record{
				FeatureID: f.ID,
				Outcome:   OutcomeError,
				Note:      fmt.Sprintf("resolution fault: %v", p),
				Reason:    ReasonFault,
			}
		}
	}()

	rec = Record{
		FeatureID:   f.ID,
		TagAddress:  f.TagAddress(),
		HouseNumber: f.HouseNumber(),
		Street:      f.Street(),
	}

	centroid, geomErr := f.Centroid()
	if geomErr == nil {
		rec.Centroid = centroid
		rec.HasCentroid = true
	}

	if rec.TagAddress != "" {
		r.resolveTagged(&rec)
		return rec
	}

	if geomErr != nil {
		rec.Outcome = OutcomeNoAddress
		rec.Reason = ReasonOf(geomErr)
		rec.Note = "no address tags and geometry invalid: " + geomErr.Error()
		return rec
	}

	r.resolveByLookup(ctx, &rec)
	return rec
}

// resolveTagged handles features with a tag-derived address.
func (r *Resolver) resolveTagged(rec *Record) {
	if r.matcher != nil {
		m, err := r.matcher.Find(rec.TagAddress)
		if err == nil || errors.Is(err, ErrMatchAmbiguous) {
			rec.Outcome = OutcomeMatched
			rec.Address = m.Entry.Address
			rec.Holder = m.Entry.Holder
			rec.RosterNote = m.Entry.Note
			rec.Reason = ReasonOf(err)
			switch {
			case m.Exact:
				rec.Note = "exact roster match"
			case err != nil:
				rec.Note = fmt.Sprintf("fuzzy roster match (score %.1f, tie broken by roster order)", m.Score)
			default:
				rec.Note = fmt.Sprintf("fuzzy roster match (score %.1f)", m.Score)
			}
			return
		}
		rec.Reason = ReasonOf(err)
	}

	rec.Address = rec.TagAddress
	if rec.HouseNumber != "" && rec.Street != "" {
		rec.Outcome = OutcomeOSMOnly
	} else {
		rec.Outcome = OutcomePartial
	}
	if r.matcher != nil {
		rec.Note = "no roster match; address from OSM tags"
	} else {
		rec.Note = "address from OSM tags"
	}
}

// resolveByLookup reverse geocodes the record's centroid through the cache.
func (r *Resolver) resolveByLookup(ctx context.Context, rec *Record) {
	if r.reverser == nil {
		rec.Outcome = OutcomeNoAddress
		rec.Reason = ReasonLookupFailed
		rec.Note = "no address tags and no geocoder configured"
		return
	}

	entry := r.cache.Lookup(ctx, rec.Centroid.Lat, rec.Centroid.Lon, r.reverse)
	switch {
	case entry.Failed():
		rec.Outcome = OutcomeError
		rec.Reason = ReasonLookupFailed
		rec.Note = "reverse geocode failed: " + entry.Failure
	case !entry.Found():
		rec.Outcome = OutcomeNoAddress
		rec.Reason = ReasonLookupFailed
		rec.Note = "reverse geocode returned no address"
	default:
		rec.Outcome = OutcomeReverseGeocoded
		rec.Address = entry.Address
		rec.Note = "reverse geocoded from centroid"
	}
}

// reverse adapts the Reverser to a geocache.LookupFunc.
func (r *Resolver) reverse(ctx context.Context, lat, lon float64) (string, error) {
	place, err := r.reverser.Reverse(ctx, lat, lon)
	if errors.Is(err, geocode.ErrNoResult) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if place == nil {
		return "", nil
	}
	return place.Address(), nil
}

// ResolveAll resolves features concurrently, bounded by the worker count, and returns
// records in input order. If ctx is cancelled the partial records are discarded.
func (r *Resolver) ResolveAll(ctx context.Context, features []feature.Feature) ([]Record, error) {
	records := make([]Record, len(features))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range features {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			records[i] = r.Resolve(gctx, features[i])
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "resolve: cancelled")
	}

	stats := r.cache.Stats()
	rosterLen := 0
	if r.matcher != nil {
		rosterLen = r.matcher.Len()
	}
	zap.L().Debug("resolve: complete",
		zap.Int("features", len(features)),
		zap.Int("roster", rosterLen),
		zap.Int64("geocode_calls", stats.Calls),
		zap.Int64("cache_hits", stats.Hits),
	)
	return records, nil
}
