package statefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

type frame struct {
	State  string `json:"state"`
	Queued int    `json:"queued_keystrokes"`
}

func dialHub(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+ts.URL[7:], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return f
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesViewer(t *testing.T) {
	h := NewHub()
	ts := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer ts.Close()

	conn := dialHub(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, h, 1)

	h.Broadcast(frame{State: "thinking", Queued: 2})

	got := readFrame(t, conn)
	if got.State != "thinking" || got.Queued != 2 {
		t.Errorf("viewer got %+v", got)
	}
}

func TestNewViewerGetsLatestFrame(t *testing.T) {
	h := NewHub()
	ts := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer ts.Close()

	h.Broadcast(frame{State: "terminal"})

	conn := dialHub(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "")

	got := readFrame(t, conn)
	if got.State != "terminal" {
		t.Errorf("late joiner got %+v, want the last frame", got)
	}
}

func TestDisconnectDropsClient(t *testing.T) {
	h := NewHub()
	ts := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer ts.Close()

	conn := dialHub(t, ts)
	waitForClients(t, h, 1)
	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, h, 0)
}
