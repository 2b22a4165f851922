// Package agent implements the Orchestrator / Agent Loop (spec.md §4.8):
// the state machine that turns one InboundMessage into a streamed backend
// reply, with command interception, injection scanning, history
// compaction, per-item streaming timeouts, and background auto-learn.
//
// Grounded on original_source/.../agents/loop.py's AgentLoop.process_message
// / _process_inner, read in full: the same eleven-step turn sequence is
// kept (command check, welcome hint, injection scan, persist user turn,
// build system prompt, compacted history, thinking event, backend stream,
// stream_end, persist assistant turn, background auto-learn), translated
// from asyncio tasks/locks to goroutines, a per-session mutex map, and a
// buffered channel semaphore. The teacher's internal/agent/loop.go
// (session-keyed mutex map with waiter counts, main consume loop over a
// bounded channel) supplies the concurrency idiom.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/commands"
	"github.com/pocketpaw/pocketpaw/internal/contextbuilder"
	"github.com/pocketpaw/pocketpaw/internal/memory"
	"github.com/pocketpaw/pocketpaw/internal/providers"
	"github.com/pocketpaw/pocketpaw/internal/security"
	"github.com/pocketpaw/pocketpaw/internal/telemetry"
)

// Config collects the tunables spec.md §6 lists for the orchestrator.
type Config struct {
	MaxConcurrentConversations int
	CompactionRecentWindow     int
	CompactionCharBudget       int
	CompactionSummaryChars     int
	CompactionLLMSummarize     bool
	WelcomeHintEnabled         bool
	FirstItemTimeout           time.Duration
	ItemTimeout                time.Duration
	AutoLearnEnabled           bool
	OwnerID                    string
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentConversations: 5,
		CompactionRecentWindow:     20,
		CompactionCharBudget:       8000,
		CompactionSummaryChars:     2000,
		CompactionLLMSummarize:     true,
		WelcomeHintEnabled:         true,
		FirstItemTimeout:           30 * time.Second,
		ItemTimeout:                120 * time.Second,
		AutoLearnEnabled:           true,
		OwnerID:                    "",
	}
}

const welcomeHintText = "This is the start of a new conversation. Send /help for available commands."

const injectionBlockedReply = "I can't process that message — it looked like an attempt to override my instructions."

// sessionLock is a per-session mutex with a waiter count so the owning
// map entry can be removed once nobody holds or is waiting on it
// (spec.md §9 design note: the lock map must not grow unbounded).
type sessionLock struct {
	mu      sync.Mutex
	waiters int
}

// Orchestrator implements spec.md §4.8's Orchestrator / Agent Loop.
type Orchestrator struct {
	bus     *bus.MessageBus
	memory  *memory.Store
	scanner *security.Scanner
	builder *contextbuilder.Builder
	router  *providers.Router
	cmds    *commands.Handler

	cfg Config

	sem chan struct{}

	locksMu sync.Mutex
	locks   map[string]*sessionLock

	turnWG sync.WaitGroup

	bgMu     sync.Mutex
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New creates an Orchestrator wired to the already-constructed pieces of
// the pipeline. builder and cmds may be nil (a degraded configuration
// with no system prompt / no command surface); bus, memory, scanner and
// router are required.
func New(b *bus.MessageBus, mem *memory.Store, scanner *security.Scanner, builder *contextbuilder.Builder, router *providers.Router, cmds *commands.Handler, cfg Config) *Orchestrator {
	if cfg.MaxConcurrentConversations <= 0 {
		cfg.MaxConcurrentConversations = 1
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		bus:      b,
		memory:   mem,
		scanner:  scanner,
		builder:  builder,
		router:   router,
		cmds:     cmds,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrentConversations),
		locks:    make(map[string]*sessionLock),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
}

// Run consumes inbound messages until ctx is cancelled, dispatching each
// to its own goroutine so
// independent sessions process concurrently while the per-session lock
// and global semaphore keep a single session's turns serialized and
// overall concurrency bounded.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		msg, ok := o.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		o.turnWG.Add(1)
		go func(m bus.InboundMessage) {
			defer o.turnWG.Done()
			o.ProcessMessage(ctx, m)
		}(msg)
	}
}

// Shutdown cancels outstanding background auto-learn tasks and waits (up
// to ctx's deadline) for in-flight turns and background tasks to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.bgCancel()
	done := make(chan struct{})
	go func() {
		o.turnWG.Wait()
		o.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("agent: shutdown deadline exceeded, turns may still be in flight")
	}
}

// ProcessMessage implements spec.md §4.8's process_message: resolve the
// session alias, acquire the global semaphore slot, acquire the
// per-session lock, then run the turn.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg bus.InboundMessage) {
	baseKey := msg.SessionKey()
	resolvedKey := o.memory.ResolveSessionAlias(baseKey)

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-o.sem }()

	lock := o.acquireLock(resolvedKey)
	lock.mu.Lock()
	defer func() {
		lock.mu.Unlock()
		o.releaseLock(resolvedKey, lock)
	}()

	o.processInner(ctx, msg, baseKey, resolvedKey)
}

func (o *Orchestrator) acquireLock(key string) *sessionLock {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[key]
	if !ok {
		l = &sessionLock{}
		o.locks[key] = l
	}
	l.waiters++
	return l
}

func (o *Orchestrator) releaseLock(key string, l *sessionLock) {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l.waiters--
	if l.waiters <= 0 {
		delete(o.locks, key)
	}
}

// isWelcomeHintChannel reports whether the welcome hint may be sent on
// channel. It returns false for the dashboard, the CLI, and internal
// system messages, which all already show their own affordances.
func isWelcomeHintChannel(ch bus.Channel) bool {
	switch ch {
	case bus.ChannelWebSocket, bus.ChannelCLI, bus.ChannelSystem:
		return false
	default:
		return true
	}
}

// processInner implements spec.md §4.8's _process_inner eleven-step
// sequence under the caller's already-held session lock.
func (o *Orchestrator) processInner(ctx context.Context, msg bus.InboundMessage, baseKey, resolvedKey string) {
	ctx, span := telemetry.Tracer().Start(ctx, "agent.process_turn", trace.WithAttributes(
		attribute.String("channel", string(msg.Channel)),
		attribute.String("session_key", resolvedKey),
	))
	defer span.End()

	// 1. Command interception — text commands bypass the backend
	// entirely and reply directly through the Handler.
	if o.cmds != nil && o.cmds.IsCommand(msg.Content) {
		reply, ok := o.cmds.Handle(msg)
		if ok {
			o.bus.PublishOutbound(reply)
			o.bus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, IsStreamEnd: true})
			return
		}
	}

	// 2. Welcome hint — a brand-new session on a user-facing channel
	// gets a one-time pointer to /help, published as a standalone
	// message rather than a stream chunk.
	if o.cfg.WelcomeHintEnabled && isWelcomeHintChannel(msg.Channel) {
		if hist, err := o.memory.GetSession(resolvedKey); err == nil && len(hist) == 0 {
			o.bus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: welcomeHintText})
		}
	}

	// 3. Injection scan — a HIGH verdict rejects the turn outright and
	// is never persisted (Open Question #2 in DESIGN.md).
	content := msg.Content
	var scanResult security.Result
	if o.scanner != nil {
		scanResult = o.scanner.Scan(ctx, content)
	}
	if scanResult.Blocked() {
		o.bus.PublishSystem(bus.SystemEvent{
			EventType: bus.EventAuditEntry,
			Data:      map[string]any{"reason": "injection_blocked", "patterns": scanResult.MatchedPatterns, "session_key": resolvedKey},
			Timestamp: time.Now().UTC(),
		})
		o.bus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: injectionBlockedReply, IsStreamChunk: true})
		o.bus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, IsStreamEnd: true})
		return
	}
	if scanResult.SanitizedContent != "" && scanResult.ThreatLevel != security.ThreatNone {
		content = scanResult.SanitizedContent
	}

	// 4. Persist the user turn.
	if _, err := o.memory.Save(memory.Entry{
		Type:       memory.TypeSession,
		SessionKey: resolvedKey,
		Role:       memory.RoleUser,
		Content:    content,
		Metadata:   msg.Metadata,
	}); err != nil {
		slog.Warn("agent: persist user turn failed", "error", err, "session_key", resolvedKey)
	}

	// 5. Build the system prompt.
	systemPrompt := ""
	if o.builder != nil {
		systemPrompt = o.builder.Build(contextbuilder.BuildOptions{
			IncludeMemory: true,
			UserQuery:     content,
			Channel:       msg.Channel,
			SenderID:      msg.SenderID,
			SessionKey:    baseKey,
		})
	}

	// 6. Compacted history.
	history, err := o.memory.GetCompactedHistory(ctx, resolvedKey, o.cfg.CompactionRecentWindow, o.cfg.CompactionCharBudget, o.cfg.CompactionSummaryChars, o.cfg.CompactionLLMSummarize)
	if err != nil {
		slog.Warn("agent: compacted history failed, proceeding without it", "error", err, "session_key", resolvedKey)
	}

	// 7. Thinking event — observability only, never sent to the
	// end-user channel.
	o.bus.PublishSystem(bus.SystemEvent{EventType: bus.EventThinking, Data: map[string]any{"session_key": resolvedKey}, Timestamp: time.Now().UTC()})

	// 8. Backend streaming.
	fullResponse, terminated := o.streamTurn(ctx, msg, content, systemPrompt, history, resolvedKey)
	if terminated {
		// streamTurn already published its own stream chunk + stream_end
		// for the timeout/error path.
		return
	}

	// 9. stream_end.
	o.bus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, IsStreamEnd: true})

	// 10. Persist the assistant turn.
	if strings.TrimSpace(fullResponse) != "" {
		if _, err := o.memory.Save(memory.Entry{
			Type:       memory.TypeSession,
			SessionKey: resolvedKey,
			Role:       memory.RoleAssistant,
			Content:    fullResponse,
		}); err != nil {
			slog.Warn("agent: persist assistant turn failed", "error", err, "session_key", resolvedKey)
		}
	}

	// 11. Background auto-learn — fire and forget, tracked so shutdown
	// can cancel and await it.
	if o.cfg.AutoLearnEnabled && strings.TrimSpace(fullResponse) != "" {
		o.scheduleAutoLearn(msg.SenderID, content, fullResponse)
	}
}

// streamTurn drains the active backend's event stream for one turn,
// translating each bus.AgentEvent into the matching outbound/system
// publication per spec.md §4.8's translation table, and enforces the
// first-item / subsequent-item timeouts. terminated is true when the
// function already published its own stream_end (preceded by an error or
// timeout chunk on those paths; alone when ctx is cancelled); the caller
// must not publish a second stream_end in that case.
func (o *Orchestrator) streamTurn(ctx context.Context, msg bus.InboundMessage, content, systemPrompt string, history []memory.HistoryMessage, sessionKey string) (full string, terminated bool) {
	provider, err := o.router.Active()
	if err != nil {
		return o.failTurn(msg, fmt.Sprintf("An error occurred: %v", err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := provider.Run(runCtx, content, systemPrompt, history, sessionKey)
	if err != nil {
		return o.failTurn(msg, fmt.Sprintf("An error occurred: %v", err))
	}

	var b strings.Builder
	first := true
	for {
		timeout := o.cfg.ItemTimeout
		if first {
			timeout = o.cfg.FirstItemTimeout
		}
		timer := time.NewTimer(timeout)
		select {
		case evt, ok := <-events:
			timer.Stop()
			if !ok {
				return b.String(), false
			}
			first = false
			if done := o.handleAgentEvent(msg, evt, &b); done {
				return b.String(), false
			}
		case <-timer.C:
			provider.Stop()
			o.router.Reset(o.router.ActiveName())
			return o.failTurn(msg, "The assistant took too long to respond. Please try again.")
		case <-ctx.Done():
			timer.Stop()
			provider.Stop()
			o.bus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, IsStreamEnd: true})
			return "", true
		}
	}
}

// handleAgentEvent applies spec.md §4.8's event-translation table for one
// AgentEvent, returning true when the stream is logically finished
// (a "done" event).
func (o *Orchestrator) handleAgentEvent(msg bus.InboundMessage, evt bus.AgentEvent, b *strings.Builder) bool {
	switch evt.Type {
	case bus.AgentEventMessage:
		b.WriteString(evt.Content)
		o.bus.PublishOutbound(o.chunk(msg, evt.Content))

	case bus.AgentEventThinking:
		o.bus.PublishSystem(bus.SystemEvent{EventType: bus.EventThinking, Data: map[string]any{"content": evt.Content}, Timestamp: time.Now().UTC()})

	case bus.AgentEventThinkingDone:
		o.bus.PublishSystem(bus.SystemEvent{EventType: bus.EventThinkingDone, Timestamp: time.Now().UTC()})

	case bus.AgentEventToolUse:
		o.bus.PublishSystem(bus.SystemEvent{EventType: bus.EventToolStart, Data: toolEventData(evt), Timestamp: time.Now().UTC()})

	case bus.AgentEventToolResult:
		o.bus.PublishSystem(bus.SystemEvent{EventType: bus.EventToolResult, Data: toolEventData(evt), Timestamp: time.Now().UTC()})

	case bus.AgentEventCode:
		lang, _ := evt.Metadata["language"].(string)
		o.bus.PublishSystem(bus.SystemEvent{EventType: bus.EventToolStart, Data: map[string]any{"name": "code_execution", "language": lang}, Timestamp: time.Now().UTC()})
		wrapped := "```" + lang + "\n" + evt.Content + "\n```"
		b.WriteString(wrapped)
		o.bus.PublishOutbound(o.chunk(msg, wrapped))

	case bus.AgentEventOutput:
		o.bus.PublishSystem(bus.SystemEvent{EventType: bus.EventToolResult, Data: map[string]any{"name": "code_execution", "status": "success"}, Timestamp: time.Now().UTC()})
		wrapped := "```output\n" + evt.Content + "\n```"
		b.WriteString(wrapped)
		o.bus.PublishOutbound(o.chunk(msg, wrapped))

	case bus.AgentEventError:
		o.bus.PublishSystem(bus.SystemEvent{EventType: bus.EventError, Data: map[string]any{"content": evt.Content}, Timestamp: time.Now().UTC()})
		b.WriteString(evt.Content)
		o.bus.PublishOutbound(o.chunk(msg, evt.Content))

	case bus.AgentEventDone:
		return true
	}
	return false
}

func toolEventData(evt bus.AgentEvent) map[string]any {
	data := map[string]any{"content": evt.Content}
	for k, v := range evt.Metadata {
		data[k] = v
	}
	return data
}

func (o *Orchestrator) chunk(msg bus.InboundMessage, content string) bus.OutboundMessage {
	return bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: content, IsStreamChunk: true}
}

// failTurn publishes a user-visible error/timeout message as one stream
// chunk followed by stream_end, and reports itself as terminated so the
// caller does not double-publish stream_end.
func (o *Orchestrator) failTurn(msg bus.InboundMessage, text string) (string, bool) {
	o.bus.PublishOutbound(o.chunk(msg, text))
	o.bus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, IsStreamEnd: true})
	return "", true
}

// scheduleAutoLearn runs fact extraction over the just-completed turn in
// the background, scoped to the sender (spec.md §4.3's ScopeForSender),
// tracked so Shutdown can cancel and await it.
func (o *Orchestrator) scheduleAutoLearn(senderID, userContent, assistantContent string) {
	o.bgWG.Add(1)
	go func() {
		defer o.bgWG.Done()
		ctx, cancel := context.WithTimeout(o.bgCtx, 30*time.Second)
		defer cancel()
		scope := memory.ScopeForSender(o.cfg.OwnerID, senderID)
		_, err := o.memory.AutoLearn(ctx, []memory.HistoryMessage{
			{Role: memory.RoleUser, Content: userContent},
			{Role: memory.RoleAssistant, Content: assistantContent},
		}, scope)
		if err != nil {
			slog.Warn("agent: auto-learn failed", "error", err, "scope", scope)
		}
	}()
}
