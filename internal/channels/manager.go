package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pocketpaw/pocketpaw/internal/bus"
)

// Manager owns the registered channel adapters and their lifecycle.
// Each adapter subscribes its own outbound channel on Start (per the
// ChannelAdapter contract); Manager's job is registration, bulk
// start/stop, and lookup — the dispatch loop lives inside each adapter.
//
// Grounded on the teacher's internal/channels/manager.go registry/
// lifecycle shape; the outbound-dispatch-loop responsibility that lived
// on the teacher's Manager is pushed down into each adapter instead,
// since spec.md §4.2 assigns "on start it must subscribe_outbound for
// its own channel" to the adapter, not a central manager.
type Manager struct {
	mu       sync.RWMutex
	adapters map[bus.Channel]ChannelAdapter
	bus      *bus.MessageBus
}

// NewManager creates a channel manager bound to a message bus.
func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{adapters: make(map[bus.Channel]ChannelAdapter), bus: b}
}

// Register adds an adapter to the manager.
func (m *Manager) Register(a ChannelAdapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.Channel()] = a
}

// Unregister removes an adapter.
func (m *Manager) Unregister(ch bus.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adapters, ch)
}

// Get returns a registered adapter by channel identity.
func (m *Manager) Get(ch bus.Channel) (ChannelAdapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[ch]
	return a, ok
}

// StartAll starts every registered adapter.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	adapters := make([]ChannelAdapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.RUnlock()

	if len(adapters) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	for _, a := range adapters {
		slog.Info("starting channel", "channel", a.Channel())
		if err := a.Start(ctx, m.bus); err != nil {
			slog.Error("failed to start channel", "channel", a.Channel(), "error", err)
		}
	}
	return nil
}

// StopAll stops every registered adapter.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	adapters := make([]ChannelAdapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.RUnlock()

	for _, a := range adapters {
		slog.Info("stopping channel", "channel", a.Channel())
		if err := a.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", a.Channel(), "error", err)
		}
	}
	return nil
}

// Status returns the running state of every registered adapter.
func (m *Manager) Status() map[bus.Channel]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[bus.Channel]bool, len(m.adapters))
	for ch, a := range m.adapters {
		out[ch] = a.IsRunning()
	}
	return out
}

// SendToChannel delivers a one-off message to a specific channel by name,
// calling the adapter's Send directly instead of going through the
// outbound bus fan-out.
func (m *Manager) SendToChannel(ctx context.Context, ch bus.Channel, msg bus.OutboundMessage) error {
	a, ok := m.Get(ch)
	if !ok {
		return fmt.Errorf("channel %s not registered", ch)
	}
	return a.Send(ctx, msg)
}
