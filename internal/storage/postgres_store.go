package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-tracking/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS rides (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	origin_lat  DOUBLE PRECISION,
	origin_lon  DOUBLE PRECISION,
	last_lat    DOUBLE PRECISION,
	last_lon    DOUBLE PRECISION,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ride_shares (
	id                TEXT PRIMARY KEY,
	ride_id           TEXT NOT NULL,
	origin_text       TEXT NOT NULL,
	destination_text  TEXT NOT NULL,
	counterparty_name TEXT NOT NULL,
	vehicle           TEXT NOT NULL,
	price_cents       BIGINT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	expires_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ride_shares_ride_id_idx ON ride_shares (ride_id);
`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) SaveRide(ctx context.Context, r models.RideRecord) error {
	oLat, oLon := nullCoord(r.Origin)
	lLat, lLon := nullCoord(r.LastPosition)
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, status, origin_lat, origin_lon, last_lat, last_lon, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, origin_lat=EXCLUDED.origin_lat, origin_lon=EXCLUDED.origin_lon, updated_at=EXCLUDED.updated_at`,
		r.ID, string(r.Status), oLat, oLon, lLat, lLon, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save ride %s: %w", r.ID, err)
	}
	return nil
}

func (p *PostgresStore) UpdateRideStatus(ctx context.Context, id string, status models.RideStatus, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET status=$1, updated_at=$2 WHERE id=$3`, string(status), at, id)
	return affected(res, err, "update ride status "+id)
}

func (p *PostgresStore) UpdateRidePosition(ctx context.Context, id string, pos models.Coord, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET last_lat=$1, last_lon=$2, updated_at=$3 WHERE id=$4`, pos.Lat, pos.Lon, at, id)
	return affected(res, err, "update ride position "+id)
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (models.RideRecord, error) {
	var (
		r                      models.RideRecord
		status                 string
		oLat, oLon, lLat, lLon sql.NullFloat64
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, status, origin_lat, origin_lon, last_lat, last_lon, created_at, updated_at FROM rides WHERE id=$1`, id).
		Scan(&r.ID, &status, &oLat, &oLon, &lLat, &lLon, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RideRecord{}, ErrNotFound
	}
	if err != nil {
		return models.RideRecord{}, fmt.Errorf("get ride %s: %w", id, err)
	}
	r.Status = models.RideStatus(status)
	r.Origin = coordOf(oLat, oLon)
	r.LastPosition = coordOf(lLat, lLon)
	return r, nil
}

func (p *PostgresStore) SaveShare(ctx context.Context, s models.ShareRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_shares(id, ride_id, origin_text, destination_text, counterparty_name, vehicle, price_cents, created_at, expires_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, s.RideID, s.OriginText, s.DestinationText, s.CounterpartyName, s.Vehicle, int64(s.Price), s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save share %s: %w", s.ID, err)
	}
	return nil
}

func (p *PostgresStore) GetShare(ctx context.Context, id string) (models.ShareRecord, error) {
	var (
		s     models.ShareRecord
		price int64
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, ride_id, origin_text, destination_text, counterparty_name, vehicle, price_cents, created_at, expires_at FROM ride_shares WHERE id=$1`, id).
		Scan(&s.ID, &s.RideID, &s.OriginText, &s.DestinationText, &s.CounterpartyName, &s.Vehicle, &price, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ShareRecord{}, ErrNotFound
	}
	if err != nil {
		return models.ShareRecord{}, fmt.Errorf("get share %s: %w", id, err)
	}
	s.Price = models.Money(price)
	return s, nil
}

func affected(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullCoord(c *models.Coord) (sql.NullFloat64, sql.NullFloat64) {
	if c == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}, sql.NullFloat64{Float64: c.Lon, Valid: true}
}

func coordOf(lat, lon sql.NullFloat64) *models.Coord {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
}
