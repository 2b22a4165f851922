package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/config"
	"github.com/pocketpaw/pocketpaw/pkg/protocol"
)

func newTestChannel(t *testing.T, cfg config.DashboardConfig) *Channel {
	t.Helper()
	ch, err := New(cfg, bus.NewMessageBus(8))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ch
}

func TestCheckOriginAllowsAllWhenUnconfigured(t *testing.T) {
	c := newTestChannel(t, config.DashboardConfig{})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")
	if !c.checkOrigin(r) {
		t.Fatalf("expected origin check to pass when no allow-list is configured")
	}
}

func TestCheckOriginRejectsUnlisted(t *testing.T) {
	c := newTestChannel(t, config.DashboardConfig{AllowedOrigins: []string{"https://dash.example"}})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")
	if c.checkOrigin(r) {
		t.Fatalf("expected origin check to reject an unlisted origin")
	}
}

func TestCheckOriginAllowsListed(t *testing.T) {
	c := newTestChannel(t, config.DashboardConfig{AllowedOrigins: []string{"https://dash.example"}})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://dash.example")
	if !c.checkOrigin(r) {
		t.Fatalf("expected origin check to allow a listed origin")
	}
}

func TestRegisterUnregisterTracksByChatID(t *testing.T) {
	c := newTestChannel(t, config.DashboardConfig{})
	cl1 := &client{chatID: "room-1", send: make(chan protocol.Frame, 1)}
	cl2 := &client{chatID: "room-1", send: make(chan protocol.Frame, 1)}
	cl3 := &client{chatID: "room-2", send: make(chan protocol.Frame, 1)}

	c.register(cl1)
	c.register(cl2)
	c.register(cl3)

	c.mu.RLock()
	if len(c.clients["room-1"]) != 2 {
		t.Fatalf("expected 2 clients in room-1, got %d", len(c.clients["room-1"]))
	}
	if len(c.clients["room-2"]) != 1 {
		t.Fatalf("expected 1 client in room-2, got %d", len(c.clients["room-2"]))
	}
	c.mu.RUnlock()

	c.unregister(cl1)
	c.mu.RLock()
	if len(c.clients["room-1"]) != 1 {
		t.Fatalf("expected 1 client left in room-1 after unregister, got %d", len(c.clients["room-1"]))
	}
	c.mu.RUnlock()

	c.unregister(cl2)
	c.mu.RLock()
	if _, ok := c.clients["room-1"]; ok {
		t.Fatalf("expected room-1 entry removed once empty")
	}
	c.mu.RUnlock()
}

func TestSendRoutesOnlyToMatchingChatID(t *testing.T) {
	c := newTestChannel(t, config.DashboardConfig{})
	target := &client{chatID: "room-1", send: make(chan protocol.Frame, 1)}
	other := &client{chatID: "room-2", send: make(chan protocol.Frame, 1)}
	c.register(target)
	c.register(other)

	if err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "room-1", Content: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case frame := <-target.send:
		if frame.Content != "hello" || frame.Subtype != protocol.ChatEventMessage {
			t.Fatalf("unexpected frame delivered to target: %+v", frame)
		}
	default:
		t.Fatalf("expected a frame queued for the target client")
	}

	select {
	case frame := <-other.send:
		t.Fatalf("expected no frame delivered to a client in a different chat, got %+v", frame)
	default:
	}
}

func TestSendSetsStreamSubtypes(t *testing.T) {
	c := newTestChannel(t, config.DashboardConfig{})
	cl := &client{chatID: "room-1", send: make(chan protocol.Frame, 2)}
	c.register(cl)

	if err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "room-1", IsStreamChunk: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	frame := <-cl.send
	if frame.Subtype != protocol.ChatEventChunk {
		t.Fatalf("expected chunk subtype, got %q", frame.Subtype)
	}

	if err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "room-1", IsStreamEnd: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	frame = <-cl.send
	if frame.Subtype != protocol.ChatEventEnd {
		t.Fatalf("expected end subtype, got %q", frame.Subtype)
	}
}

func TestBroadcastAllReachesEveryRoom(t *testing.T) {
	c := newTestChannel(t, config.DashboardConfig{})
	cl1 := &client{chatID: "room-1", send: make(chan protocol.Frame, 1)}
	cl2 := &client{chatID: "room-2", send: make(chan protocol.Frame, 1)}
	c.register(cl1)
	c.register(cl2)

	c.broadcastAll(protocol.Frame{Type: protocol.EventHealth, Subtype: "thinking"})

	for _, cl := range []*client{cl1, cl2} {
		select {
		case frame := <-cl.send:
			if frame.Type != protocol.EventHealth {
				t.Fatalf("unexpected frame type: %+v", frame)
			}
		default:
			t.Fatalf("expected a system-event frame queued for every connected client")
		}
	}
}
