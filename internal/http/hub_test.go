package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-passenger/internal/logging"
	"github.com/example/ride-passenger/internal/ride"
)

// serverConn returns the server side of a fresh websocket plus the client.
func serverConn(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)
	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	select {
	case c := <-conns:
		return c, client
	case <-time.After(2 * time.Second):
		t.Fatal("no server conn")
		return nil, nil
	}
}

func TestHubDeliversInitialThenBroadcast(t *testing.T) {
	h := NewHub(logging.Discard())
	defer h.Close()
	conn, client := serverConn(t)

	if err := h.Add("v1", conn, ride.Snapshot{Version: 1, Phase: ride.PhaseIdle}); err != nil {
		t.Fatalf("add: %v", err)
	}
	h.Broadcast(ride.Snapshot{Version: 2, Phase: ride.PhaseQuoting})

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []uint64{1, 2} {
		var got ride.Snapshot
		if err := client.ReadJSON(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Version != want {
			t.Fatalf("version = %d, want %d", got.Version, want)
		}
	}
}

func TestHubBroadcastDoesNotWaitOnStalledView(t *testing.T) {
	h := NewHub(logging.Discard())
	defer h.Close()
	conn, _ := serverConn(t)
	if err := h.Add("stalled", conn, ride.Snapshot{Version: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	h.mu.RLock()
	s := h.sessions["stalled"]
	h.mu.RUnlock()
	// hold the view's writer mid-write
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	done := make(chan struct{})
	go func() {
		for v := uint64(2); v < uiQueueSize+10; v++ {
			h.Broadcast(ride.Snapshot{Version: v})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked behind a stalled view")
	}
	if h.Len() != 0 {
		t.Fatalf("stalled view should be dropped, %d left", h.Len())
	}
}

func TestHubAddAfterCloseRefused(t *testing.T) {
	h := NewHub(logging.Discard())
	h.Close()
	conn, _ := serverConn(t)
	if err := h.Add("late", conn, ride.Snapshot{}); err == nil {
		t.Fatal("expected add on closed hub to fail")
	}
	if h.Len() != 0 {
		t.Fatalf("closed hub registered a view")
	}
}
