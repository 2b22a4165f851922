// Package webhook implements the generic inbound webhook adapter
// (spec.md §4.2): an HTTP receiver for any source willing to POST a
// {sender_id, chat_id, content} JSON body with a shared-secret bearer
// token, rate-limited per source. A generic webhook has no
// provider-specific send API, so replies addressed to this channel are
// discarded. spec.md's channel enumeration describes this one as "generic
// inbound webhooks" — there is no standard outbound delivery API for an
// arbitrary unknown receiver, so this adapter only ever publishes
// inbound; Send is a deliberate no-op.
//
// Grounded on the teacher's rate-limiting convention
// (internal/channels.WebhookRateLimiter, already in this tree) rather
// than any one pack webhook receiver, since no example repo implements
// this exact shape.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/channels"
	"github.com/pocketpaw/pocketpaw/internal/config"
)

// Channel receives generic inbound webhooks over HTTP.
type Channel struct {
	*channels.BaseChannel
	config      config.WebhookConfig
	rateLimiter *channels.WebhookRateLimiter
	server      *http.Server
}

// New creates a generic webhook channel adapter from config.
func New(cfg config.WebhookConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("webhook: path is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(bus.ChannelWebhook, msgBus, cfg.AllowFrom),
		config:      cfg,
		rateLimiter: channels.NewWebhookRateLimiter(),
	}, nil
}

// Start begins listening for inbound webhook POSTs.
func (c *Channel) Start(ctx context.Context, msgBus *bus.MessageBus) error {
	mux := http.NewServeMux()
	mux.HandleFunc(c.config.Path, c.handle(ctx))

	addr := c.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	c.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook: server failed", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("webhook: listening", "addr", addr, "path", c.config.Path)
	return nil
}

// Stop shuts down the HTTP server.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// Handler exposes the webhook's HTTP handler for mounting on a shared
// mux, as an alternative to the dedicated listener Start creates.
func (c *Channel) Handler(ctx context.Context) http.HandlerFunc {
	return c.handle(ctx)
}

type inboundPayload struct {
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
}

func (c *Channel) handle(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if c.config.SharedToken != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+c.config.SharedToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		remoteKey := r.RemoteAddr
		if !c.rateLimiter.Allow(remoteKey) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var payload inboundPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(payload.Content) == "" || payload.SenderID == "" || payload.ChatID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		c.HandleMessage(ctx, payload.SenderID, payload.ChatID, payload.Content, nil, nil)
		w.WriteHeader(http.StatusAccepted)
	}
}

// Send is a no-op: the generic webhook adapter has no outbound delivery
// path (spec.md §4.2 scopes it to inbound-only), so outbound fan-out
// simply drops messages addressed to it.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	return nil
}
