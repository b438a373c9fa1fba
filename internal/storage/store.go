package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

var ErrNotFound = errors.New("not found")

// RideStore persists the third-party-readable view of rides.
type RideStore interface {
	SaveRide(ctx context.Context, r models.RideRecord) error
	UpdateRideStatus(ctx context.Context, id string, status models.RideStatus, at time.Time) error
	UpdateRidePosition(ctx context.Context, id string, pos models.Coord, at time.Time) error
	GetRide(ctx context.Context, id string) (models.RideRecord, error)
}

// ShareStore persists share records. Records are never revoked by the writer.
type ShareStore interface {
	SaveShare(ctx context.Context, s models.ShareRecord) error
	GetShare(ctx context.Context, id string) (models.ShareRecord, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	rides  map[string]models.RideRecord
	shares map[string]models.ShareRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]models.RideRecord), shares: make(map[string]models.ShareRecord)}
}

func (m *MemoryStore) SaveRide(_ context.Context, r models.RideRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryStore) UpdateRideStatus(_ context.Context, id string, status models.RideStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = at
	m.rides[id] = r
	return nil
}

func (m *MemoryStore) UpdateRidePosition(_ context.Context, id string, pos models.Coord, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ErrNotFound
	}
	r.LastPosition = &pos
	r.UpdatedAt = at
	m.rides[id] = r
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (models.RideRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.RideRecord{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) SaveShare(_ context.Context, s models.ShareRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[s.ID] = s
	return nil
}

func (m *MemoryStore) GetShare(_ context.Context, id string) (models.ShareRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shares[id]
	if !ok {
		return models.ShareRecord{}, ErrNotFound
	}
	return s, nil
}
