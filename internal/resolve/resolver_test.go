package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sidewalksort/internal/feature"
	"github.com/sells-group/sidewalksort/internal/roster"
	"github.com/sells-group/sidewalksort/pkg/geocode"
)

type mockReverser struct {
	mock.Mock
}

func (m *mockReverser) Reverse(ctx context.Context, lat, lon float64) (*geocode.Place, error) {
	args := m.Called(ctx, lat, lon)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.Place), args.Error(1)
}

type panicReverser struct{}

func (panicReverser) Reverse(context.Context, float64, float64) (*geocode.Place, error) {
	panic("boom")
}

func square(id string, x, y float64, tags map[string]string) feature.Feature {
	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x, y}, {x + 0.0001, y}, {x + 0.0001, y + 0.0001}, {x, y + 0.0001}, {x, y},
	}})
	return feature.Feature{ID: id, Geometry: poly, Tags: tags}
}

func point(id string, lon, lat float64) feature.Feature {
	return feature.Feature{ID: id, Geometry: geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{lon, lat})}
}

func tags(hn, street string) map[string]string {
	t := map[string]string{}
	if hn != "" {
		t[feature.TagHouseNumber] = hn
	}
	if street != "" {
		t[feature.TagStreet] = street
	}
	return t
}

func TestResolveAll_ThreeFeatureScenario(t *testing.T) {
	rev := &mockReverser{}
	rev.On("Reverse", mock.Anything, mock.Anything, mock.Anything).
		Return(&geocode.Place{HouseNumber: "20", Street: "Oak Ave", Source: "stub"}, nil).Once()

	r := New(rev, WithRoster(roster.Roster{{Address: "12 Elm St", Holder: "Ada", Note: "prefers mornings"}}, 0))

	features := []feature.Feature{
		square("f1", -73.9, 40.7, tags("12", "Elm St")),
		square("f2", -73.8, 40.7, tags("14", "Elm St")),
		point("f3", -73.95, 40.75),
	}

	records, err := r.ResolveAll(context.Background(), features)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, OutcomeMatched, records[0].Outcome)
	assert.Equal(t, "12 Elm St", records[0].Address)
	assert.Equal(t, "Ada", records[0].Holder)
	assert.Equal(t, "prefers mornings", records[0].RosterNote)

	assert.Equal(t, OutcomeOSMOnly, records[1].Outcome)
	assert.Equal(t, "14 Elm St", records[1].Address)
	assert.Empty(t, records[1].Holder)
	assert.Equal(t, ReasonMatchNotFound, records[1].Reason)

	assert.Equal(t, OutcomeReverseGeocoded, records[2].Outcome)
	assert.Equal(t, "20 Oak Ave", records[2].Address)

	rev.AssertNumberOfCalls(t, "Reverse", 1)
}

func TestResolveAll_SameBucketOneCall(t *testing.T) {
	rev := &mockReverser{}
	rev.On("Reverse", mock.Anything, mock.Anything, mock.Anything).
		Return(&geocode.Place{HouseNumber: "5", Street: "Pine St"}, nil)

	r := New(rev, WithWorkers(2))
	records, err := r.ResolveAll(context.Background(), []feature.Feature{
		point("a", -73.9000001, 40.7000001),
		point("b", -73.9000002, 40.7000002),
	})
	require.NoError(t, err)

	rev.AssertNumberOfCalls(t, "Reverse", 1)
	assert.Equal(t, "5 Pine St", records[0].Address)
	assert.Equal(t, records[0].Address, records[1].Address)
	assert.Equal(t, OutcomeReverseGeocoded, records[1].Outcome)
}

func TestResolve_ExactMatchIgnoresGeometry(t *testing.T) {
	r := New(nil, WithRoster(roster.Roster{{Address: "12 Elm St"}}, 0))
	rec := r.Resolve(context.Background(), feature.Feature{ID: "x", Tags: tags("12", "Elm St")})

	assert.Equal(t, OutcomeMatched, rec.Outcome)
	assert.Equal(t, "12 Elm St", rec.Address)
	assert.Equal(t, "exact roster match", rec.Note)
	assert.False(t, rec.HasCentroid)
}

func TestResolve_FuzzyMatchUsesRosterAddress(t *testing.T) {
	r := New(nil, WithRoster(roster.Roster{{Address: "12 Elm Street", Holder: "Ada"}}, 0))
	rec := r.Resolve(context.Background(), square("x", 0, 0, tags("12", "Elm Streeet")))

	assert.Equal(t, OutcomeMatched, rec.Outcome)
	assert.Equal(t, "12 Elm Street", rec.Address)
	assert.Equal(t, "12 Elm Streeet", rec.TagAddress)
	assert.Contains(t, rec.Note, "fuzzy roster match")
}

func TestResolve_PartialTags(t *testing.T) {
	r := New(nil)
	rec := r.Resolve(context.Background(), square("x", 0, 0, tags("", "Elm St")))

	assert.Equal(t, OutcomePartial, rec.Outcome)
	assert.Equal(t, "Elm St", rec.Address)
	assert.Equal(t, "address from OSM tags", rec.Note)
}

func TestResolve_InvalidGeometry(t *testing.T) {
	rev := &mockReverser{}
	r := New(rev)

	degenerate := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{0, 0}, {1, 1}, {2, 2}, {0, 0}}})
	tests := []struct {
		name string
		f    feature.Feature
	}{
		{"nil geometry", feature.Feature{ID: "a"}},
		{"zero area", feature.Feature{ID: "b", Geometry: degenerate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := r.Resolve(context.Background(), tt.f)
			assert.Equal(t, OutcomeNoAddress, rec.Outcome)
			assert.Equal(t, ReasonGeometryInvalid, rec.Reason)
			assert.Empty(t, rec.Address)
			assert.Contains(t, rec.Note, "geometry invalid")
			assert.ErrorIs(t, rec.Err(), ErrGeometryInvalid)
		})
	}
	rev.AssertNotCalled(t, "Reverse", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_LookupFault(t *testing.T) {
	rev := &mockReverser{}
	rev.On("Reverse", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, eris.New("geocode: nominatim returned status 503"))

	rec := New(rev).Resolve(context.Background(), point("x", 1, 2))
	assert.Equal(t, OutcomeError, rec.Outcome)
	assert.Empty(t, rec.Address)
	assert.Contains(t, rec.Note, "status 503")
	assert.ErrorIs(t, rec.Err(), ErrLookupFailed)
}

func TestResolve_LookupNoResult(t *testing.T) {
	rev := &mockReverser{}
	rev.On("Reverse", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, eris.Wrap(geocode.ErrNoResult, "nominatim"))

	rec := New(rev).Resolve(context.Background(), point("x", 1, 2))
	assert.Equal(t, OutcomeNoAddress, rec.Outcome)
	assert.Equal(t, ReasonLookupFailed, rec.Reason)
}

func TestResolve_NoGeocoder(t *testing.T) {
	rec := New(nil).Resolve(context.Background(), point("x", 1, 2))
	assert.Equal(t, OutcomeNoAddress, rec.Outcome)
	assert.True(t, rec.HasCentroid)
}

func TestResolve_PanicBecomesErrorRecord(t *testing.T) {
	rec := New(panicReverser{}).Resolve(context.Background(), point("x", 1, 2))
	assert.Equal(t, "x", rec.FeatureID)
	assert.Equal(t, OutcomeError, rec.Outcome)
	assert.Contains(t, rec.Note, "boom")
	assert.ErrorIs(t, rec.Err(), ErrResolutionFault)
}

func TestResolveAll_PreservesOrder(t *testing.T) {
	var features []feature.Feature
	for i := range 20 {
		features = append(features, square(string(rune('a'+i)), float64(i), 0, tags("1", "St "+string(rune('a'+i)))))
	}

	records, err := New(nil, WithWorkers(8)).ResolveAll(context.Background(), features)
	require.NoError(t, err)
	for i, rec := range records {
		assert.Equal(t, features[i].ID, rec.FeatureID)
	}
}

func TestResolveAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, err := New(nil).ResolveAll(ctx, []feature.Feature{point("x", 1, 2)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, records)
}

func TestResolveAll_Empty(t *testing.T) {
	records, err := New(nil).ResolveAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCount(t *testing.T) {
	counts := Count([]Record{{Outcome: OutcomeMatched}, {Outcome: OutcomeMatched}, {Outcome: OutcomeError}})
	assert.Equal(t, 2, counts[OutcomeMatched])
	assert.Equal(t, 1, counts[OutcomeError])
	assert.Zero(t, counts[OutcomePartial])
}

func TestRecordErr_None(t *testing.T) {
	assert.NoError(t, Record{Outcome: OutcomeOSMOnly}.Err())
}
