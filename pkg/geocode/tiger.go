package geocode

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is the subset of pgxpool.Pool used by the TIGER provider.
type Pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TigerProvider reverse geocodes via the PostGIS TIGER geocoder extension.
type TigerProvider struct {
	pool Pool
}

// NewTigerProvider creates a TigerProvider on a pgx pool.
func NewTigerProvider(pool Pool) *TigerProvider {
	return &TigerProvider{pool: pool}
}

// Name implements Provider.
func (p *TigerProvider) Name() string { return "tiger" }

// Available implements Provider.
func (p *TigerProvider) Available() bool { return p.pool != nil }

// Reverse implements Provider.
func (p *TigerProvider) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	var number, street, city, state, zip, full sql.NullString

	err := p.pool.QueryRow(ctx, `
		SELECT
			(a).address::text,
			concat_ws(' ', (a).predirabbrev, (a).streetname, (a).streettypeabbrev, (a).postdirabbrev),
			(a).location,
			(a).stateabbrev,
			(a).zip,
			pprint_addy(a)
		FROM reverse_geocode(ST_SetSRID(ST_MakePoint($1, $2), 4269), true) AS rg,
			LATERAL unnest(rg.addy) WITH ORDINALITY AS u(a, n)
		ORDER BY n
		LIMIT 1`,
		lon, lat,
	).Scan(&number, &street, &city, &state, &zip, &full)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNoResult, "tiger")
	}
	if err != nil {
		return nil, eris.Wrap(err, "geocode: tiger reverse")
	}

	if street.String == "" && full.String == "" {
		zap.L().Debug("tiger provider: empty address", zap.Float64("lat", lat), zap.Float64("lon", lon))
		return nil, eris.Wrap(ErrNoResult, "tiger")
	}

	return &Place{
		HouseNumber: number.String,
		Street:      street.String,
		City:        city.String,
		State:       state.String,
		Postcode:    zip.String,
		DisplayName: full.String,
		Source:      "tiger",
	}, nil
}
