package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/share"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SnapshotSource is an open share view.
type SnapshotSource interface {
	Snapshot() share.Snapshot
	Updates() <-chan models.PositionUpdate
}

// WSSession is one connected share viewer.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *WSSession) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// WSRegistry holds viewer sessions keyed by share id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]map[*WSSession]struct{}), logger: logging.OrDefault(logger)}
}

func (r *WSRegistry) Add(shareID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[shareID] == nil {
		r.sessions[shareID] = make(map[*WSSession]struct{})
	}
	r.sessions[shareID][s] = struct{}{}
	return s
}

func (r *WSRegistry) Remove(shareID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions[shareID], s)
	if len(r.sessions[shareID]) == 0 {
		delete(r.sessions, shareID)
	}
}

// Count reports connected viewers for a share id.
func (r *WSRegistry) Count(shareID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[shareID])
}

// Stream sends the current snapshot, then a fresh one per live update, until
// ctx ends, the viewer disconnects or the update stream closes.
func (r *WSRegistry) Stream(ctx context.Context, shareID string, conn *websocket.Conn, view SnapshotSource) error {
	sess := r.Add(shareID, conn)
	defer r.Remove(shareID, sess)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// reader: viewers only send control frames; a read error means they left
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := sess.Send(view.Snapshot()); err != nil {
		return err
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	updates := view.Updates()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sess.ping(); err != nil {
				return err
			}
		case _, ok := <-updates:
			if !ok {
				_ = sess.Send(view.Snapshot())
				return nil
			}
			if err := sess.Send(view.Snapshot()); err != nil {
				if errors.Is(err, websocket.ErrCloseSent) {
					return nil
				}
				r.logger.Warn("ws send error", "share_id", shareID, "error", err)
				return err
			}
		}
	}
}
