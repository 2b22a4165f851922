package cmd

import (
	"testing"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/channels"
	"github.com/pocketpaw/pocketpaw/internal/config"
)

func TestRegisterChannelsOnlyEnabled(t *testing.T) {
	msgBus := bus.NewMessageBus(8)
	manager := channels.NewManager(msgBus)

	cfg := &config.Config{}
	cfg.Channels.Dashboard = config.DashboardConfig{Enabled: true, ListenAddr: ":0"}

	registerChannels(manager, cfg, msgBus)

	if _, ok := manager.Get(bus.ChannelWebSocket); !ok {
		t.Fatalf("expected dashboard channel registered when enabled")
	}
	if _, ok := manager.Get(bus.ChannelTelegram); ok {
		t.Fatalf("expected telegram channel absent when disabled")
	}
	if _, ok := manager.Get(bus.ChannelDiscord); ok {
		t.Fatalf("expected discord channel absent when disabled")
	}
}

func TestRegisterChannelsNoneEnabled(t *testing.T) {
	msgBus := bus.NewMessageBus(8)
	manager := channels.NewManager(msgBus)

	registerChannels(manager, &config.Config{}, msgBus)

	if _, ok := manager.Get(bus.ChannelWebSocket); ok {
		t.Fatalf("expected no dashboard channel registered when config leaves it disabled")
	}
}
