package models

import (
	"fmt"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

// Valid reports whether the coordinate lies inside WGS84 bounds.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func (c Coord) String() string { return fmt.Sprintf("%.6f, %.6f", c.Lat, c.Lon) }

// Route is a driving path plus the straight-line (great-circle) distance between
// its endpoints. StraightLineKm is not the path length; RoutedKm carries the
// provider's driving distance when it reported one.
type Route struct {
	Path           []Coord `json:"path"`
	StraightLineKm float64 `json:"straight_line_km"`
	RoutedKm       float64 `json:"routed_km,omitempty"`
}

type RideRequest struct {
	Origin          Coord  `json:"origin"`
	Destination     Coord  `json:"destination"`
	OriginText      string `json:"origin_text"`
	DestinationText string `json:"destination_text"`
}

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
)

// User is what the auth collaborator resolved for the current session.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Candidate is an unconfirmed counterparty: a driver offer for passengers, or an
// inbound ride request for drivers.
type Candidate struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"display_name"`
	Vehicle         string   `json:"vehicle,omitempty"`
	DistanceKm      float64  `json:"distance_km"`
	Rating          *float64 `json:"rating,omitempty"`
	ETAMinutes      int      `json:"eta_minutes"`
	Price           Money    `json:"price"`
	OriginText      string   `json:"origin_text,omitempty"`
	DestinationText string   `json:"destination_text,omitempty"`
	Loc             Coord    `json:"loc"`
}

type RideStatus string

const (
	StatusIdle      RideStatus = "idle"
	StatusSearching RideStatus = "searching"
	StatusAvailable RideStatus = "available"
	StatusRequested RideStatus = "requested"
	StatusConfirmed RideStatus = "confirmed"
	StatusAccepted  RideStatus = "accepted"
	StatusActive    RideStatus = "active"
	StatusCompleted RideStatus = "completed"
	StatusUnknown   RideStatus = "unknown"
)

type ActiveRide struct {
	RideID          string     `json:"ride_id"`
	Counterparty    Candidate  `json:"counterparty"`
	OriginText      string     `json:"origin_text"`
	DestinationText string     `json:"destination_text"`
	Price           Money      `json:"price"`
	Status          RideStatus `json:"status"`
}

// RideRecord is the persisted view of a ride that third parties may read.
type RideRecord struct {
	ID           string     `json:"id"`
	Status       RideStatus `json:"status"`
	Origin       *Coord     `json:"origin,omitempty"`
	LastPosition *Coord     `json:"last_position,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ShareTTL is how long a published share link stays readable.
const ShareTTL = 24 * time.Hour

type ShareRecord struct {
	ID               string    `json:"id"`
	RideID           string    `json:"ride_id"`
	OriginText       string    `json:"origin_text"`
	DestinationText  string    `json:"destination_text"`
	CounterpartyName string    `json:"counterparty_name"`
	Vehicle          string    `json:"vehicle"`
	Price            Money     `json:"price"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Expired is true strictly after the expiry instant.
func (s ShareRecord) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

type PositionUpdate struct {
	RideID string     `json:"ride_id" validate:"required"`
	Coord  Coord      `json:"coord"`
	Status RideStatus `json:"status"`
	At     time.Time  `json:"at"`
}
