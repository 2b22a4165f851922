// Package providers implements the Agent Router and Backend contract
// (spec.md §4.7): a small interface every LLM backend satisfies, plus a
// Router that lazily instantiates and caches the active backend.
//
// Adapted from the teacher's internal/providers/types.go. The teacher's
// contract was callback-based (Chat/ChatStream(onChunk)) and built around
// tool-calling; this package keeps the teacher's per-backend HTTP/SSE
// idiom but changes the contract shape to the channel-based async stream
// spec.md §4.7 requires, and drops tool-calling/retry/schema-cleaning
// machinery that has no home in this spec's scope.
package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/memory"
)

// Capabilities describes what a backend supports, per spec.md §4.7's
// BackendInfo.capabilities map.
type Capabilities struct {
	Streaming          bool `json:"streaming"`
	Tools              bool `json:"tools"`
	MultiTurn          bool `json:"multi_turn"`
	CustomSystemPrompt bool `json:"custom_system_prompt"`
}

// BackendInfo describes a backend's identity and capabilities, returned
// by Provider.Info() and surfaced (e.g. by the /status command).
type BackendInfo struct {
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	Capabilities Capabilities `json:"capabilities"`
	BuiltinTools []string     `json:"builtin_tools,omitempty"`
	RequiredKeys []string     `json:"required_keys,omitempty"`
}

// Provider is the backend contract spec.md §4.7 describes: info, an
// async event stream for one turn, a way to stop an in-flight run, and a
// status snapshot.
type Provider interface {
	// Info returns this backend's static identity and capabilities.
	Info() BackendInfo

	// Run starts one turn and returns a channel of AgentEvent the caller
	// drains until the channel closes (the final event is "done" or
	// "error", except that when ctx is cancelled mid-stream the channel
	// closes without either). history is the compacted prior turns; systemPrompt
	// may be empty when the backend has none to apply.
	Run(ctx context.Context, message, systemPrompt string, history []memory.HistoryMessage, sessionKey string) (<-chan bus.AgentEvent, error)

	// Stop cancels every run currently in flight on this backend
	// instance.
	Stop()

	// GetStatus returns a small diagnostic snapshot (e.g. active run
	// count, default model) for the /status command and logs.
	GetStatus() map[string]any
}

// Factory constructs a Provider from the router's backend configuration.
// Separate from Provider so the router can defer construction (API keys
// may only become available once the credential store is unlocked).
type Factory func() (Provider, error)

// Router owns lazy, single-instance-per-name construction of backends
// and exposes the configured "active" one, per spec.md §4.7's "the
// router owns lazy single-backend instantiation, and resets its cached
// instance when configuration changes" requirement. Grounded on the
// teacher's AgentRouter-shaped lazy-init field on the orchestrator
// (original_source/.../agents/loop.py's _get_router).
type Router struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Provider
	active    string
}

// NewRouter creates a Router with no backends registered yet and the
// given active backend name (spec.md §6's agent_backend key).
func NewRouter(active string) *Router {
	return &Router{
		factories: make(map[string]Factory),
		instances: make(map[string]Provider),
		active:    active,
	}
}

// Register adds a named backend factory. Safe to call before or after
// SetActive.
func (r *Router) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// SetActive switches the active backend name. Callers that need the
// previous backend torn down immediately should follow with Reset.
func (r *Router) SetActive(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = name
}

// ActiveName returns the currently configured backend name.
func (r *Router) ActiveName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Active returns the lazily-constructed, cached instance of the
// currently active backend.
func (r *Router) Active() (Provider, error) {
	r.mu.Lock()
	name := r.active
	r.mu.Unlock()
	return r.Get(name)
}

// Get returns the lazily-constructed, cached instance for name.
func (r *Router) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.instances[name]; ok {
		return p, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("providers: no backend registered for %q", name)
	}
	p, err := f()
	if err != nil {
		return nil, fmt.Errorf("providers: construct backend %q: %w", name, err)
	}
	r.instances[name] = p
	return p, nil
}

// Reset drops the cached instance for name (e.g. on config/credential
// change), stopping it first if it was constructed.
func (r *Router) Reset(name string) {
	r.mu.Lock()
	p, ok := r.instances[name]
	delete(r.instances, name)
	r.mu.Unlock()
	if ok {
		p.Stop()
	}
}

// emitDone sends a final event (AgentEventDone or AgentEventError) on
// events and closes it. Every backend's streamSSE loop funnels through
// this so the channel is never left open on an error path.
func emitDone(events chan<- bus.AgentEvent, typ string, content string, meta map[string]any) {
	events <- bus.AgentEvent{Type: typ, Content: content, Metadata: meta}
	close(events)
}

// Names returns every backend name currently registered.
func (r *Router) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	return out
}
