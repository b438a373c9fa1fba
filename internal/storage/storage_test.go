package storage

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-tracking/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryStoreRides(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.GetRide(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.UpdateRideStatus(ctx, "r1", models.StatusActive, t0), ErrNotFound)

	origin := models.Coord{Lat: -23.561, Lon: -46.656}
	require.NoError(t, m.SaveRide(ctx, models.RideRecord{ID: "r1", Status: models.StatusConfirmed, Origin: &origin, CreatedAt: t0, UpdatedAt: t0}))
	require.NoError(t, m.UpdateRideStatus(ctx, "r1", models.StatusActive, t0.Add(time.Second)))
	require.NoError(t, m.UpdateRidePosition(ctx, "r1", models.Coord{Lat: -23.562, Lon: -46.657}, t0.Add(2*time.Second)))

	r, err := m.GetRide(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, r.Status)
	require.NotNil(t, r.LastPosition)
	assert.Equal(t, -23.562, r.LastPosition.Lat)
	assert.Equal(t, t0.Add(2*time.Second), r.UpdatedAt)
}

func TestMemoryStoreShares(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_, err := m.GetShare(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SaveShare(ctx, models.ShareRecord{ID: "s1", RideID: "r1", Price: 1250}))
	s, err := m.GetShare(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "r1", s.RideID)
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func TestPostgresSaveRide(t *testing.T) {
	p, mock := newMockStore(t)
	origin := models.Coord{Lat: -23.561, Lon: -46.656}

	mock.ExpectExec("INSERT INTO rides").
		WithArgs("r1", "confirmed", -23.561, -46.656, nil, nil, t0, t0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := p.SaveRide(context.Background(), models.RideRecord{ID: "r1", Status: models.StatusConfirmed, Origin: &origin, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRideStatusMissing(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE rides SET status=$1, updated_at=$2 WHERE id=$3")).
		WithArgs("active", t0, "nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.UpdateRideStatus(context.Background(), "nope", models.StatusActive, t0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRidePosition(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectExec("UPDATE rides SET last_lat").
		WithArgs(-23.5, -46.6, t0, "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.UpdateRidePosition(context.Background(), "r1", models.Coord{Lat: -23.5, Lon: -46.6}, t0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRide(t *testing.T) {
	p, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "status", "origin_lat", "origin_lon", "last_lat", "last_lon", "created_at", "updated_at"}).
		AddRow("r1", "active", -23.561, -46.656, nil, nil, t0, t0)
	mock.ExpectQuery("SELECT (.+) FROM rides WHERE id").WithArgs("r1").WillReturnRows(rows)

	r, err := p.GetRide(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, r.Status)
	require.NotNil(t, r.Origin)
	assert.Equal(t, -46.656, r.Origin.Lon)
	assert.Nil(t, r.LastPosition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRideNotFound(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM rides WHERE id").WithArgs("r404").WillReturnError(sql.ErrNoRows)

	_, err := p.GetRide(context.Background(), "r404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresShares(t *testing.T) {
	p, mock := newMockStore(t)
	s := models.ShareRecord{
		ID: "s1", RideID: "r1", OriginText: "Av. Paulista, 1000", DestinationText: "Shopping Ibirapuera",
		CounterpartyName: "Carlos Silva", Vehicle: "Honda Civic Preto", Price: 1250,
		CreatedAt: t0, ExpiresAt: t0.Add(models.ShareTTL),
	}
	mock.ExpectExec("INSERT INTO ride_shares").
		WithArgs(s.ID, s.RideID, s.OriginText, s.DestinationText, s.CounterpartyName, s.Vehicle, int64(1250), s.CreatedAt, s.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, p.SaveShare(context.Background(), s))

	rows := sqlmock.NewRows([]string{"id", "ride_id", "origin_text", "destination_text", "counterparty_name", "vehicle", "price_cents", "created_at", "expires_at"}).
		AddRow(s.ID, s.RideID, s.OriginText, s.DestinationText, s.CounterpartyName, s.Vehicle, int64(1250), s.CreatedAt, s.ExpiresAt)
	mock.ExpectQuery("SELECT (.+) FROM ride_shares WHERE id").WithArgs("s1").WillReturnRows(rows)

	got, err := p.GetShare(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	mock.ExpectQuery("SELECT (.+) FROM ride_shares WHERE id").WithArgs("gone").WillReturnError(sql.ErrNoRows)
	_, err = p.GetShare(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rides").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, p.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
