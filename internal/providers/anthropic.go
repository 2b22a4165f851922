package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/memory"
)

const (
	defaultClaudeModel = "claude-sonnet-4-5-20250929"
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicProvider implements Provider using the Anthropic Claude
// Messages API via net/http, streaming Server-Sent Events. Adapted from
// the teacher's internal/providers/anthropic.go: the SSE-scanning idiom
// is kept verbatim in shape, but tool-calling, retry-wrapping, and
// schema-cleaning are dropped (out of this spec's scope) and the event
// mapping target changed from the teacher's StreamChunk callback to
// bus.AgentEvent delivered over a channel.
type AnthropicProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client

	mu     sync.Mutex
	cancel map[int]context.CancelFunc
	nextID int
}

// AnthropicOption configures an AnthropicProvider at construction time.
type AnthropicOption func(*AnthropicProvider)

// WithAnthropicModel overrides the default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

// WithAnthropicBaseURL overrides the API base URL (e.g. for a proxy).
func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:       apiKey,
		baseURL:      anthropicAPIBase,
		defaultModel: defaultClaudeModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		cancel:       make(map[int]context.CancelFunc),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Info returns this backend's identity and capabilities.
func (p *AnthropicProvider) Info() BackendInfo {
	return BackendInfo{
		Name:        "anthropic",
		DisplayName: "Anthropic Claude",
		Capabilities: Capabilities{
			Streaming:          true,
			Tools:              false,
			MultiTurn:          true,
			CustomSystemPrompt: true,
		},
		RequiredKeys: []string{"anthropic_api_key"},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	MaxTokens int                 `json:"max_tokens"`
	Stream    bool                `json:"stream"`
}

type anthropicSSEEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
	} `json:"content_block"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Run starts one turn against the Anthropic Messages API and streams the
// reply back as AgentEvents: a "message" event per text delta, then
// "done". API errors (including SSE "error" events) surface as a single
// "error" event before the channel closes.
func (p *AnthropicProvider) Run(ctx context.Context, message, systemPrompt string, history []memory.HistoryMessage, sessionKey string) (<-chan bus.AgentEvent, error) {
	runCtx, cancel := context.WithCancel(ctx)
	id := p.trackRun(cancel)

	msgs := make([]anthropicMessage, 0, len(history)+1)
	for _, h := range history {
		role := string(h.Role)
		if role != "user" && role != "assistant" {
			// Anthropic has no "system" turn role; fold it into the
			// user side of the transcript to keep alternation sane.
			role = "user"
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: h.Content})
	}
	msgs = append(msgs, anthropicMessage{Role: "user", Content: message})

	reqBody := anthropicRequest{
		Model:     p.defaultModel,
		System:    systemPrompt,
		Messages:  msgs,
		MaxTokens: 4096,
		Stream:    true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		p.untrackRun(id)
		cancel()
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(runCtx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		p.untrackRun(id)
		cancel()
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	events := make(chan bus.AgentEvent, 16)

	go func() {
		defer cancel()
		defer p.untrackRun(id)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			emitDone(events, bus.AgentEventError, fmt.Sprintf("anthropic: request failed: %v", err), nil)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			emitDone(events, bus.AgentEventError, fmt.Sprintf("anthropic: http %d: %s", resp.StatusCode, string(data)), nil)
			return
		}

		p.streamSSE(runCtx, resp.Body, events)
	}()

	return events, nil
}

func (p *AnthropicProvider) streamSSE(ctx context.Context, body io.Reader, events chan<- bus.AgentEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLine string
	var full strings.Builder

	flush := func() bool {
		if dataLine == "" {
			return true
		}
		defer func() { dataLine = "" }()

		var evt anthropicSSEEvent
		if err := json.Unmarshal([]byte(dataLine), &evt); err != nil {
			return true
		}
		switch evt.Type {
		case "content_block_delta":
			if evt.Delta.Type == "text_delta" && evt.Delta.Text != "" {
				full.WriteString(evt.Delta.Text)
				events <- bus.AgentEvent{Type: bus.AgentEventMessage, Content: evt.Delta.Text}
			} else if evt.Delta.Type == "thinking_delta" && evt.Delta.Text != "" {
				events <- bus.AgentEvent{Type: bus.AgentEventThinking, Content: evt.Delta.Text}
			}
		case "content_block_stop":
			if evt.ContentBlock.Type == "thinking" {
				events <- bus.AgentEvent{Type: bus.AgentEventThinkingDone}
			}
		case "message_stop":
			emitDone(events, bus.AgentEventDone, full.String(), nil)
			return false
		case "error":
			emitDone(events, bus.AgentEventError, evt.Error.Message, nil)
			return false
		}
		return true
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			close(events)
			return
		default:
		}

		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if !flush() {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		emitDone(events, bus.AgentEventError, fmt.Sprintf("anthropic: stream read: %v", err), nil)
		return
	}
	// Stream ended without an explicit message_stop (connection closed
	// early) — still flush whatever text accumulated so the turn isn't
	// silently dropped.
	emitDone(events, bus.AgentEventDone, full.String(), nil)
}

func (p *AnthropicProvider) trackRun(cancel context.CancelFunc) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.cancel[id] = cancel
	return id
}

func (p *AnthropicProvider) untrackRun(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancel, id)
}

// Stop cancels every run currently in flight on this provider instance.
func (p *AnthropicProvider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cancel := range p.cancel {
		cancel()
		delete(p.cancel, id)
	}
}

// GetStatus returns a small diagnostic snapshot.
func (p *AnthropicProvider) GetStatus() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"name":        "anthropic",
		"model":       p.defaultModel,
		"active_runs": len(p.cancel),
	}
}
