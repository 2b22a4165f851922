package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/pocketpaw/pocketpaw/internal/agent"
	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/channels"
	"github.com/pocketpaw/pocketpaw/internal/channels/discord"
	"github.com/pocketpaw/pocketpaw/internal/channels/slack"
	"github.com/pocketpaw/pocketpaw/internal/channels/telegram"
	"github.com/pocketpaw/pocketpaw/internal/channels/webhook"
	"github.com/pocketpaw/pocketpaw/internal/channels/whatsapp"
	"github.com/pocketpaw/pocketpaw/internal/commands"
	"github.com/pocketpaw/pocketpaw/internal/config"
	"github.com/pocketpaw/pocketpaw/internal/contextbuilder"
	"github.com/pocketpaw/pocketpaw/internal/credentials"
	"github.com/pocketpaw/pocketpaw/internal/gateway"
	"github.com/pocketpaw/pocketpaw/internal/lifecycle"
	"github.com/pocketpaw/pocketpaw/internal/memory"
	"github.com/pocketpaw/pocketpaw/internal/providers"
	"github.com/pocketpaw/pocketpaw/internal/security"
	"github.com/pocketpaw/pocketpaw/internal/telemetry"
)

// runGateway wires every owned component together and runs the
// orchestrator until a termination signal arrives. Grounded on the
// teacher's cmd/gateway.go construction order (config, bus, stores,
// router, channel manager, signal-driven shutdown), stripped of the
// teacher's managed-mode Postgres/multi-tenant/MCP/scheduler/sandbox
// wiring — none of which has a home in this spec's single-owner,
// single-process scope.
func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	creds := credentials.Open(cfg.Credentials.StorePath, credentials.MachineIdentity(cfg.Memory.HomeDir))
	if creds.Degraded() {
		slog.Warn("credential store degraded; stored secrets are unavailable")
	}
	lookupKey := func(envVar, credentialName string) string {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
		if v, ok := creds.Get(credentialName); ok {
			return v
		}
		return cfg.Backend.APIKeys[credentialName]
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	msgBus := bus.NewMessageBus(bus.DefaultInboundCapacity)

	memStore, err := memory.NewStore(cfg.Memory.HomeDir)
	if err != nil {
		slog.Error("open memory store", "error", err)
		os.Exit(1)
	}
	memStore.SetOwnerID(cfg.Owner.OwnerID)

	if cfg.Memory.Backend == "semantic" {
		embedKey := lookupKey("OPENAI_API_KEY", "openai_api_key")
		if embedKey == "" {
			slog.Warn("semantic memory backend requested but no OPENAI_API_KEY is configured; falling back to file backend")
		} else {
			embedFunc := chromem.NewEmbeddingFuncOpenAI(embedKey, chromem.EmbeddingModelOpenAI3Small)
			semanticIndex, err := memory.NewSemanticIndex(cfg.Memory.HomeDir, embedFunc)
			if err != nil {
				slog.Warn("semantic memory index unavailable; falling back to file backend", "error", err)
			} else {
				memStore.SetSemanticIndex(semanticIndex)
			}
		}
	}

	router := providers.NewRouter(cfg.Backend.AgentBackend)
	router.Register("anthropic", func() (providers.Provider, error) {
		key := lookupKey("ANTHROPIC_API_KEY", "anthropic_api_key")
		opts := []providers.AnthropicOption{}
		if model := cfg.Backend.Models["anthropic"]; model != "" {
			opts = append(opts, providers.WithAnthropicModel(model))
		}
		return providers.NewAnthropicProvider(key, opts...), nil
	})
	router.Register("openai", func() (providers.Provider, error) {
		key := lookupKey("OPENAI_API_KEY", "openai_api_key")
		return providers.NewOpenAIProvider("openai", "OpenAI", key, "", cfg.Backend.Models["openai"]), nil
	})
	router.Register("dashscope", func() (providers.Provider, error) {
		key := lookupKey("DASHSCOPE_API_KEY", "dashscope_api_key")
		return providers.NewDashScopeProvider(key, "", cfg.Backend.Models["dashscope"]), nil
	})

	if cfg.Memory.CompactionLLMSummarize || cfg.Memory.FileAutoLearn || cfg.Memory.Mem0AutoLearn {
		memStore.SetSummarizer(agent.NewRouterSummarizer(router))
	}

	builder, err := contextbuilder.New(contextbuilder.IdentitySources{
		IdentityFile:    cfg.Identity.IdentityFile,
		SoulFile:        cfg.Identity.SoulFile,
		StyleFile:       cfg.Identity.StyleFile,
		UserProfileFile: cfg.Identity.UserProfileFile,
	}, memStore, cfg.Owner.OwnerID)
	if err != nil {
		slog.Error("build context builder", "error", err)
		os.Exit(1)
	}
	stopWatch, err := builder.WatchForChanges()
	if err != nil {
		slog.Warn("identity file watch disabled", "error", err)
		stopWatch = func() {}
	}

	ops := commands.NewOps(memStore)
	cmdHandler := commands.New(ops, router.ActiveName)

	var classifier agentClassifier
	if cfg.Orchestrator.InjectionScanLLM {
		classifier = agent.NewRouterSummarizer(router)
	}
	scanner := security.New(cfg.Orchestrator.InjectionScanEnabled, cfg.Orchestrator.InjectionScanLLM, classifier, func(level security.ThreatLevel, matched []string, content string) {
		msgBus.PublishSystem(bus.SystemEvent{
			EventType: bus.EventAuditEntry,
			Data: map[string]any{
				"threat_level": string(level),
				"patterns":     matched,
			},
			Timestamp: time.Now().UTC(),
		})
	})

	orchCfg := agent.DefaultConfig()
	orchCfg.MaxConcurrentConversations = cfg.Orchestrator.MaxConcurrentConversations
	orchCfg.WelcomeHintEnabled = cfg.Orchestrator.WelcomeHintEnabled
	orchCfg.CompactionRecentWindow = cfg.Memory.CompactionRecentWindow
	orchCfg.CompactionCharBudget = cfg.Memory.CompactionCharBudget
	orchCfg.CompactionSummaryChars = cfg.Memory.CompactionSummaryChars
	orchCfg.CompactionLLMSummarize = cfg.Memory.CompactionLLMSummarize
	orchCfg.AutoLearnEnabled = cfg.Memory.FileAutoLearn || cfg.Memory.Mem0AutoLearn
	orchCfg.OwnerID = cfg.Owner.OwnerID
	if cfg.Orchestrator.FirstItemTimeoutSeconds > 0 {
		orchCfg.FirstItemTimeout = time.Duration(cfg.Orchestrator.FirstItemTimeoutSeconds) * time.Second
	}
	if cfg.Orchestrator.ItemTimeoutSeconds > 0 {
		orchCfg.ItemTimeout = time.Duration(cfg.Orchestrator.ItemTimeoutSeconds) * time.Second
	}

	orch := agent.New(msgBus, memStore, scanner, builder, router, cmdHandler, orchCfg)

	manager := channels.NewManager(msgBus)
	registerChannels(manager, cfg, msgBus)

	registry := lifecycle.New()
	registry.Register("channels", func(ctx context.Context) error {
		return manager.StopAll(ctx)
	}, nil)
	registry.Register("context_builder", func(ctx context.Context) error {
		stopWatch()
		return nil
	}, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go orch.Run(ctx)
	if err := manager.StartAll(ctx); err != nil {
		slog.Error("start channels", "error", err)
	}

	slog.Info("pocketpaw gateway running", "backend", cfg.Backend.AgentBackend)
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	orch.Shutdown(shutdownCtx)
	if err := registry.Shutdown(shutdownCtx); err != nil {
		slog.Error("lifecycle shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown", "error", err)
	}
}

// agentClassifier mirrors security's unexported classifier interface so
// this package can pass either a concrete *agent.RouterSummarizer or nil
// without importing security's internal type.
type agentClassifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// registerChannels constructs and registers every channel adapter whose
// config marks it enabled, the dashboard WebSocket included (enabled by
// default in config.Defaults).
func registerChannels(manager *channels.Manager, cfg *config.Config, msgBus *bus.MessageBus) {
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("telegram channel", "error", err)
		} else {
			manager.Register(ch)
		}
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("discord channel", "error", err)
		} else {
			manager.Register(ch)
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		ch, err := whatsapp.New(cfg.Channels.WhatsApp, msgBus)
		if err != nil {
			slog.Error("whatsapp channel", "error", err)
		} else {
			manager.Register(ch)
		}
	}
	if cfg.Channels.Slack.Enabled {
		ch, err := slack.New(cfg.Channels.Slack, msgBus)
		if err != nil {
			slog.Error("slack channel", "error", err)
		} else {
			manager.Register(ch)
		}
	}
	if cfg.Channels.Webhook.Enabled {
		ch, err := webhook.New(cfg.Channels.Webhook, msgBus)
		if err != nil {
			slog.Error("webhook channel", "error", err)
		} else {
			manager.Register(ch)
		}
	}
	if cfg.Channels.Dashboard.Enabled {
		ch, err := gateway.New(cfg.Channels.Dashboard, msgBus)
		if err != nil {
			slog.Error("dashboard channel", "error", err)
		} else {
			manager.Register(ch)
		}
	}
}
