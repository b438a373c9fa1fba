// Package share publishes read-only, time-limited links to an in-progress ride
// and serves the live view behind them.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-tracking/internal/live"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
	"github.com/example/ride-tracking/internal/storage"
)

// ErrInvalidOrExpiredLink covers both unknown and expired ids; callers cannot
// tell them apart.
var ErrInvalidOrExpiredLink = errors.New("invalid or expired link")

const messageTemplate = "Acompanhe minha viagem no Vium! Origem: %s, Destino: %s. %s"

type Link struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Message     string    `json:"message"`
	WhatsAppURL string    `json:"whatsapp_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Manager struct {
	Shares  storage.ShareStore
	Rides   storage.RideStore // optional
	Bus     live.Bus          // optional
	BaseURL string
	Logger  *slog.Logger

	Now   func() time.Time
	NewID func() string
}

func NewManager(shares storage.ShareStore, rides storage.RideStore, bus live.Bus, baseURL string, logger *slog.Logger) *Manager {
	return &Manager{
		Shares:  shares,
		Rides:   rides,
		Bus:     bus,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Logger:  logging.OrDefault(logger),
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// Create stores a share record for ride, valid for models.ShareTTL.
func (m *Manager) Create(ctx context.Context, ride models.ActiveRide) (Link, error) {
	if ride.RideID == "" {
		return Link{}, fmt.Errorf("share: ride id required")
	}
	id := uuid.NewString()
	if m.NewID != nil {
		id = m.NewID()
	}
	now := m.now()
	rec := models.ShareRecord{
		ID:               id,
		RideID:           ride.RideID,
		OriginText:       ride.OriginText,
		DestinationText:  ride.DestinationText,
		CounterpartyName: ride.Counterparty.DisplayName,
		Vehicle:          ride.Counterparty.Vehicle,
		Price:            ride.Price,
		CreatedAt:        now,
		ExpiresAt:        now.Add(models.ShareTTL),
	}
	if err := m.Shares.SaveShare(ctx, rec); err != nil {
		return Link{}, fmt.Errorf("share: %w", err)
	}
	observability.SharesCreated.Inc()

	link := m.BaseURL + "/share/" + id
	msg := fmt.Sprintf(messageTemplate, ride.OriginText, ride.DestinationText, link)
	return Link{
		ID:          id,
		URL:         link,
		Message:     msg,
		WhatsAppURL: "https://wa.me/?text=" + url.QueryEscape(msg),
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// Open resolves a share id into a live view. The caller must Close the view.
func (m *Manager) Open(ctx context.Context, id string) (*View, error) {
	rec, err := m.Shares.GetShare(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		observability.SharesOpened.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidOrExpiredLink
	}
	if err != nil {
		observability.SharesOpened.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("share %s: %w", id, err)
	}
	if rec.Expired(m.now()) {
		observability.SharesOpened.WithLabelValues("expired").Inc()
		return nil, ErrInvalidOrExpiredLink
	}

	v := &View{share: rec}
	if m.Rides != nil {
		ride, err := m.Rides.GetRide(ctx, rec.RideID)
		switch {
		case err == nil:
			v.ride, v.hasRide = ride, true
		case errors.Is(err, storage.ErrNotFound):
		default:
			m.Logger.Warn("share: ride record unavailable", "share_id", id, "ride_id", rec.RideID, "error", err)
		}
	}
	if m.Bus != nil {
		sub, err := m.Bus.Subscribe(ctx, rec.RideID)
		if err != nil {
			m.Logger.Warn("share: live updates unavailable", "share_id", id, "ride_id", rec.RideID, "error", err)
		} else {
			v.sub = sub
		}
	}
	observability.SharesOpened.WithLabelValues("ok").Inc()
	return v, nil
}

// View is an open share link. It holds a live subscription until Close.
type View struct {
	share   models.ShareRecord
	ride    models.RideRecord
	hasRide bool
	sub     *live.Subscription
	once    sync.Once
}

type Snapshot struct {
	ShareID          string             `json:"share_id"`
	RideID           string             `json:"ride_id"`
	OriginText       string             `json:"origin_text"`
	DestinationText  string             `json:"destination_text"`
	CounterpartyName string             `json:"counterparty_name"`
	Vehicle          string             `json:"vehicle"`
	Price            models.Money       `json:"price_cents"`
	PriceText        string             `json:"price"`
	Status           models.RideStatus  `json:"status"`
	Position         *models.Coord      `json:"position,omitempty"`
	UpdatedAt        *time.Time         `json:"updated_at,omitempty"`
	ExpiresAt        time.Time          `json:"expires_at"`
	Markers          models.MarkerIcons `json:"markers"`
}

func (v *View) Share() models.ShareRecord { return v.share }

// Updates delivers live positions; nil without a bus.
func (v *View) Updates() <-chan models.PositionUpdate {
	if v.sub == nil {
		return nil
	}
	return v.sub.C()
}

// Snapshot merges the stored ride record with the latest live position.
func (v *View) Snapshot() Snapshot {
	s := Snapshot{
		ShareID:          v.share.ID,
		RideID:           v.share.RideID,
		OriginText:       v.share.OriginText,
		DestinationText:  v.share.DestinationText,
		CounterpartyName: v.share.CounterpartyName,
		Vehicle:          v.share.Vehicle,
		Price:            v.share.Price,
		PriceText:        v.share.Price.String(),
		Status:           models.StatusUnknown,
		ExpiresAt:        v.share.ExpiresAt,
		Markers:          models.DefaultMarkerIcons(),
	}
	if v.hasRide {
		s.Status = v.ride.Status
		if v.ride.LastPosition != nil {
			p := *v.ride.LastPosition
			s.Position = &p
		}
		if !v.ride.UpdatedAt.IsZero() {
			at := v.ride.UpdatedAt
			s.UpdatedAt = &at
		}
	}
	if v.sub != nil {
		if u, ok := v.sub.Latest(); ok && (s.UpdatedAt == nil || !u.At.Before(*s.UpdatedAt)) {
			// status-only updates carry no coordinate
			if u.Coord != (models.Coord{}) {
				p := u.Coord
				s.Position = &p
			}
			at := u.At
			s.UpdatedAt = &at
			if u.Status != "" {
				s.Status = u.Status
			}
		}
	}
	return s
}

// Close releases the live subscription. Safe to call more than once.
func (v *View) Close() {
	v.once.Do(func() {
		if v.sub != nil {
			v.sub.Close()
		}
	})
}
