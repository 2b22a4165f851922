// Package gateway implements the browser dashboard's WebSocket channel
// adapter (spec.md §4.2): a local HTTP server upgrading connections to
// WebSocket, publishing inbound chat frames to the bus and streaming
// outbound replies back to the clients connected under the reply's
// chat_id, plus system events (thinking/tool/error/health) to every
// connected client.
//
// Grounded on the teacher's internal/gateway/server.go for the
// gorilla/websocket upgrade/origin-check/client-registry shape, stripped
// of its managed-mode HTTP API surface (agent/skill/trace/MCP/provider
// CRUD, OpenAI-compatible chat completions, RPC method router) — none of
// which has a home in this spec's single-owner, single-backend scope —
// and rebuilt against the real channels.ChannelAdapter contract, with
// pkg/protocol's trimmed chat/health frame vocabulary in place of the
// teacher's EventFrame.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/channels"
	"github.com/pocketpaw/pocketpaw/internal/config"
	"github.com/pocketpaw/pocketpaw/pkg/protocol"
)

const writeTimeout = 10 * time.Second

// Channel is the dashboard's WebSocket channel adapter.
type Channel struct {
	*channels.BaseChannel
	config   config.DashboardConfig
	upgrader websocket.Upgrader
	server   *http.Server

	mu        sync.RWMutex
	clients   map[string]map[*client]bool // chat_id -> connected clients
	sysCancel context.CancelFunc
	sysDone   chan struct{}
}

type client struct {
	conn   *websocket.Conn
	chatID string
	send   chan protocol.Frame
}

// New creates the dashboard WebSocket channel adapter from config.
func New(cfg config.DashboardConfig, msgBus *bus.MessageBus) (*Channel, error) {
	c := &Channel{
		BaseChannel: channels.NewBaseChannel(bus.ChannelWebSocket, msgBus, cfg.AllowFrom),
		config:      cfg,
		clients:     make(map[string]map[*client]bool),
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     c.checkOrigin,
	}
	return c, nil
}

// checkOrigin allows all origins when none are configured (local-dashboard
// default); otherwise requires an exact match.
func (c *Channel) checkOrigin(r *http.Request) bool {
	allowed := c.config.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("dashboard: origin rejected", "origin", origin)
	return false
}

// Start brings up the HTTP server and begins forwarding system events to
// connected clients.
func (c *Channel) Start(ctx context.Context, msgBus *bus.MessageBus) error {
	path := c.config.Path
	if path == "" {
		path = "/ws"
	}
	addr := c.config.ListenAddr
	if addr == "" {
		addr = ":8765"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(ctx, w, r)
	})
	mux.HandleFunc("/health", c.handleHealth)
	c.server = &http.Server{Addr: addr, Handler: mux}

	sysCtx, cancel := context.WithCancel(ctx)
	c.sysCancel = cancel
	c.sysDone = make(chan struct{})
	go c.forwardSystemEvents(sysCtx, msgBus)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("dashboard: server failed", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("dashboard: listening", "addr", addr, "path", path)
	return nil
}

// Stop shuts down the HTTP server and the system-event forwarder.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.sysCancel != nil {
		c.sysCancel()
		<-c.sysDone
	}
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

func (c *Channel) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (c *Channel) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if c.config.Token != "" && r.URL.Query().Get("token") != c.config.Token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("dashboard: upgrade failed", "error", err)
		return
	}

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = "dashboard"
	}
	cl := &client{conn: conn, chatID: chatID, send: make(chan protocol.Frame, 32)}
	c.register(cl)

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.writePump(cl) }()
	go func() { defer wg.Done(); c.readPump(connCtx, cl) }()
	wg.Wait()

	cancel()
	c.unregister(cl)
	conn.Close()
}

func (c *Channel) register(cl *client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.clients[cl.chatID]
	if !ok {
		set = make(map[*client]bool)
		c.clients[cl.chatID] = set
	}
	set[cl] = true
}

func (c *Channel) unregister(cl *client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.clients[cl.chatID]; ok {
		delete(set, cl)
		if len(set) == 0 {
			delete(c.clients, cl.chatID)
		}
	}
	close(cl.send)
}

func (c *Channel) readPump(ctx context.Context, cl *client) {
	for {
		var frame protocol.Frame
		if err := cl.conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != protocol.EventChat || frame.Subtype != protocol.ChatEventMessage {
			continue
		}
		senderID := cl.chatID
		c.HandleMessage(ctx, senderID, cl.chatID, frame.Content, nil, nil)
	}
}

func (c *Channel) writePump(cl *client) {
	for frame := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

// forwardSystemEvents relays orchestrator system events (thinking/tool/
// error/health) to every connected client, regardless of chat_id.
func (c *Channel) forwardSystemEvents(ctx context.Context, msgBus *bus.MessageBus) {
	defer close(c.sysDone)
	sub := msgBus.SubscribeSystem(32)
	defer msgBus.UnsubscribeSystem(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			c.broadcastAll(protocol.Frame{
				Type:    protocol.EventHealth,
				Subtype: evt.EventType,
				Data:    evt.Data,
			})
		}
	}
}

func (c *Channel) broadcastAll(frame protocol.Frame) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, set := range c.clients {
		for cl := range set {
			select {
			case cl.send <- frame:
			default:
			}
		}
	}
}

// Send routes an outbound message to every client connected under its
// chat_id as a chat frame (chunk, end, or a single full message).
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	frame := protocol.Frame{Type: protocol.EventChat, ChatID: msg.ChatID, Content: msg.Content}
	switch {
	case msg.IsStreamChunk:
		frame.Subtype = protocol.ChatEventChunk
	case msg.IsStreamEnd:
		frame.Subtype = protocol.ChatEventEnd
	default:
		frame.Subtype = protocol.ChatEventMessage
	}

	c.mu.RLock()
	set := c.clients[msg.ChatID]
	c.mu.RUnlock()
	for cl := range set {
		select {
		case cl.send <- frame:
		default:
			slog.Warn("dashboard: client send buffer full, dropping frame", "chat_id", msg.ChatID)
		}
	}
	return nil
}
