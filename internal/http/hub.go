package httpapi

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-passenger/internal/observability"
	"github.com/example/ride-passenger/internal/ride"
)

const (
	uiWriteTimeout = 2 * time.Second
	// snapshots a view may fall behind by before it is dropped
	uiQueueSize = 16
)

var errHubClosed = errors.New("ui hub closed")

// uiSession is one connected view. Snapshots are queued and written by the
// session's own goroutine so a slow view never holds up the broadcaster.
type uiSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	out    chan ride.Snapshot
	closed bool
}

func (s *uiSession) enqueue(snap ride.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.out <- snap:
		return true
	default:
		return false
	}
}

func (s *uiSession) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()
	_ = s.conn.Close()
}

func (s *uiSession) write(snap ride.Snapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(uiWriteTimeout))
	return s.conn.WriteJSON(snap)
}

// Hub fans ride snapshots out to every connected view.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*uiSession
	closed   bool
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]*uiSession), logger: logger}
}

// Add registers conn under id, queues current for it and starts its writer.
func (h *Hub) Add(id string, conn *websocket.Conn, current ride.Snapshot) error {
	s := &uiSession{conn: conn, out: make(chan ride.Snapshot, uiQueueSize)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return errHubClosed
	}
	h.sessions[id] = s
	h.mu.Unlock()
	observability.UIStreams.Inc()
	// a broadcast may overtake this; views order by Version
	s.enqueue(current)
	go h.writeLoop(id, s)
	return nil
}

func (h *Hub) writeLoop(id string, s *uiSession) {
	for snap := range s.out {
		if err := s.write(snap); err != nil {
			h.logger.Warn("ui stream send failed", "stream_id", id, "error", err)
			h.Remove(id)
			return
		}
	}
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		observability.UIStreams.Dec()
		s.close()
	}
}

// Broadcast queues snap for every view without waiting on the network. A
// view whose queue is full is dropped.
func (h *Hub) Broadcast(snap ride.Snapshot) {
	h.mu.RLock()
	targets := make(map[string]*uiSession, len(h.sessions))
	for id, s := range h.sessions {
		targets[id] = s
	}
	h.mu.RUnlock()
	for id, s := range targets {
		if !s.enqueue(snap) {
			h.logger.Warn("ui stream too slow, dropping", "stream_id", id, "version", snap.Version)
			h.Remove(id)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Remove(id)
	}
}
