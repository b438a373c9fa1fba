package ride

import (
	"errors"
	"fmt"

	"github.com/example/ride-tracking/internal/models"
)

var (
	ErrTransitionRejected = errors.New("transition rejected")
	ErrNoOrigin           = errors.New("origin required: no address and no device position")
	ErrNoDestination      = errors.New("destination required")
	ErrNoRide             = errors.New("no ride in progress")
)

type Event string

const (
	EventSearch     Event = "search"
	EventDiscovered Event = "discovered"
	EventConfirm    Event = "confirm"
	EventArrive     Event = "arrive"
	EventFinish     Event = "finish"
	EventNewRide    Event = "newRide"
	EventGoOnline   Event = "goOnline"
	EventGoOffline  Event = "goOffline"
	EventOffer      Event = "offer"
	EventAccept     Event = "accept"
	EventReject     Event = "reject"
	EventRelease    Event = "release"

	// EventEditTrip is not a transition; it labels a rejected origin,
	// destination or route change after booking.
	EventEditTrip Event = "editTrip"
)

// TransitionError reports an event the current status does not accept.
type TransitionError struct {
	Role  models.Role
	From  models.RideStatus
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s cannot %s", e.Role, e.From, e.Event)
}

func (e *TransitionError) Is(target error) bool { return target == ErrTransitionRejected }

type table map[models.RideStatus]map[Event]models.RideStatus

var passengerTable = table{
	models.StatusIdle:      {EventSearch: models.StatusSearching, EventConfirm: models.StatusConfirmed},
	models.StatusSearching: {EventDiscovered: models.StatusIdle},
	models.StatusConfirmed: {EventArrive: models.StatusActive},
	models.StatusActive:    {EventFinish: models.StatusCompleted},
	models.StatusCompleted: {EventNewRide: models.StatusIdle},
}

var driverTable = table{
	models.StatusIdle:      {EventGoOnline: models.StatusAvailable},
	models.StatusAvailable: {EventOffer: models.StatusRequested, EventGoOffline: models.StatusIdle},
	models.StatusRequested: {EventAccept: models.StatusAccepted, EventReject: models.StatusAvailable, EventGoOffline: models.StatusIdle},
	models.StatusAccepted:  {EventArrive: models.StatusActive},
	models.StatusActive:    {EventFinish: models.StatusCompleted},
	models.StatusCompleted: {EventRelease: models.StatusAvailable},
}

func tableFor(role models.Role) (table, error) {
	switch role {
	case models.RolePassenger:
		return passengerTable, nil
	case models.RoleDriver:
		return driverTable, nil
	}
	return nil, fmt.Errorf("unknown role %q", role)
}
