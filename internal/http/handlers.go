package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-tracking/internal/dispatch"
	"github.com/example/ride-tracking/internal/live"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/share"
	"github.com/example/ride-tracking/internal/storage"
)

type ShareOpener interface {
	Open(ctx context.Context, id string) (*share.View, error)
}

// ReadyCheck reports whether a backing service is reachable.
type ReadyCheck func(ctx context.Context) error

type Options struct {
	Shares ShareOpener
	Bus    live.Bus
	Rides  storage.RideStore // optional
	WSReg  *dispatch.WSRegistry
	Ready  map[string]ReadyCheck
	Logger *slog.Logger
	Now    func() time.Time
}

type Server struct {
	shares   ShareOpener
	bus      live.Bus
	rides    storage.RideStore
	wsreg    *dispatch.WSRegistry
	ready    map[string]ReadyCheck
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate
	mux      *mux.Router
}

func NewServer(opts Options) *Server {
	logger := logging.OrDefault(opts.Logger)
	if opts.WSReg == nil {
		opts.WSReg = dispatch.NewWSRegistry(logger)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &Server{
		shares:   opts.Shares,
		bus:      opts.Bus,
		rides:    opts.Rides,
		wsreg:    opts.WSReg,
		ready:    opts.Ready,
		logger:   logger,
		now:      opts.Now,
		validate: validator.New(),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/share/{id}", s.handleShare).Methods(http.MethodGet).Name("share_view")
	s.mux.HandleFunc("/ws/share/{id}", s.handleShareWS).Methods(http.MethodGet).Name("share_stream")
	s.mux.HandleFunc("/internal/rides/{id}/position", s.handlePosition).Methods(http.MethodPost).Name("position_ingest")
	s.mux.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet).Name("healthz")
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet).Name("ready")
	s.mux.Handle("/metrics", promhttp.Handler()).Name("metrics")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) openShare(w http.ResponseWriter, r *http.Request) (*share.View, bool) {
	id := mux.Vars(r)["id"]
	view, err := s.shares.Open(r.Context(), id)
	if errors.Is(err, share.ErrInvalidOrExpiredLink) {
		writeError(w, http.StatusNotFound, share.ErrInvalidOrExpiredLink.Error())
		return nil, false
	}
	if err != nil {
		s.logger.Error("open share failed", "share_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return view, true
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	view, ok := s.openShare(w, r)
	if !ok {
		return
	}
	defer view.Close()
	writeJSON(w, http.StatusOK, view.Snapshot())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// share links are public and opened from any origin
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleShareWS(w http.ResponseWriter, r *http.Request) {
	view, ok := s.openShare(w, r)
	if !ok {
		return
	}
	defer view.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := mux.Vars(r)["id"]
	if err := s.wsreg.Stream(r.Context(), id, conn, view); err != nil {
		s.logger.Debug("share stream ended", "share_id", id, "error", err)
	}
}

type positionRequest struct {
	Lat    *float64          `json:"lat" validate:"required,latitude"`
	Lon    *float64          `json:"lon" validate:"required,longitude"`
	Status models.RideStatus `json:"status" validate:"omitempty,oneof=confirmed accepted active completed"`
	At     *time.Time        `json:"at"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u := models.PositionUpdate{RideID: rideID, Coord: models.Coord{Lat: *req.Lat, Lon: *req.Lon}, Status: req.Status, At: s.now()}
	if req.At != nil {
		u.At = req.At.UTC()
	}
	if err := s.validate.Struct(u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.rides != nil {
		err := s.rides.UpdateRidePosition(r.Context(), rideID, u.Coord, u.At)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ride not found")
			return
		}
		if err != nil {
			s.logger.Error("persist position failed", "ride_id", rideID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	if err := s.bus.Publish(r.Context(), u); err != nil {
		s.logger.Error("publish position failed", "ride_id", rideID, "error", err)
		writeError(w, http.StatusBadGateway, "publish failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
