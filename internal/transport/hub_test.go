package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"go-symmetry-console/internal/service"
)

type hubMessage struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id"`
	Payload     string `json:"payload"`
}

// phaseState stands in for a workspace whose state changes while a browser connects
type phaseState struct {
	mu    sync.Mutex
	phase string
}

func (p *phaseState) set(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

func (p *phaseState) snapshot() []service.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return []service.Event{{Type: service.EventUpload, WorkspaceID: "ws1", Payload: p.phase}}
}

func dialHub(t *testing.T, hub *Hub, snapshot SnapshotFunc, onClose func()) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "ws1", snapshot, onClose)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readHubMessage(t *testing.T, conn *websocket.Conn) hubMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg hubMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return msg
}

func TestHub_ChangeDuringConnectIsNotLost(t *testing.T) {
	hub := NewHub(nil)
	state := &phaseState{phase: "uploading"}

	// the upgrade completes but registration waits for the hub loop
	conn := dialHub(t, hub, state.snapshot, nil)

	// the upload finishes before the client is registered
	state.set("succeeded")
	hub.Publish(service.Event{Type: service.EventUpload, WorkspaceID: "ws1", Payload: "succeeded"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	first := readHubMessage(t, conn)
	if first.Type != service.EventUpload || first.Payload != "succeeded" {
		t.Errorf("Expected the first message to show the finished upload, got %+v", first)
	}
}

func TestHub_SnapshotPrecedesLaterBroadcasts(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	state := &phaseState{phase: "selected"}
	conn := dialHub(t, hub, state.snapshot, nil)

	if first := readHubMessage(t, conn); first.Payload != "selected" {
		t.Fatalf("Expected snapshot first, got %+v", first)
	}

	hub.Publish(service.Event{Type: service.EventUpload, WorkspaceID: "other", Payload: "ignored"})
	hub.Publish(service.Event{Type: service.EventUpload, WorkspaceID: "ws1", Payload: "uploading"})
	if next := readHubMessage(t, conn); next.Payload != "uploading" || next.WorkspaceID != "ws1" {
		t.Errorf("Expected only this workspace's broadcast, got %+v", next)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("Expected one client, got %d", hub.ClientCount())
	}
}

func TestHub_OnCloseRunsWhenClientLeaves(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	closed := make(chan struct{})
	var once sync.Once
	state := &phaseState{phase: "idle"}
	conn := dialHub(t, hub, state.snapshot, func() { once.Do(func() { close(closed) }) })
	readHubMessage(t, conn)

	conn.Close()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected onClose after the client disconnected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Expected client to be unregistered, got %d", hub.ClientCount())
	}
}

func TestHub_ServeAfterShutdown(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	closed := make(chan struct{})
	conn := dialHub(t, hub, nil, func() { close(closed) })

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected onClose when the hub is no longer running")
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the connection to be closed")
	}
}
