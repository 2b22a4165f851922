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

// OpenAIProvider implements Provider for OpenAI-compatible chat
// completion APIs (OpenAI itself, OpenRouter, DeepSeek, Groq, vLLM,
// DashScope's compatible-mode endpoint, etc). Adapted from the teacher's
// internal/providers/openai.go: the streaming SSE parser shape is kept,
// tool-calling/retry/reasoning-effort options are dropped, and the event
// mapping target changed to bus.AgentEvent over a channel.
type OpenAIProvider struct {
	name         string
	displayName  string
	apiKey       string
	apiBase      string
	chatPath     string
	defaultModel string
	client       *http.Client

	mu     sync.Mutex
	cancel map[int]context.CancelFunc
	nextID int
}

// NewOpenAIProvider creates an OpenAI-compatible backend. apiBase
// defaults to OpenAI's own API when empty.
func NewOpenAIProvider(name, displayName, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &OpenAIProvider{
		name:         name,
		displayName:  displayName,
		apiKey:       apiKey,
		apiBase:      apiBase,
		chatPath:     "/chat/completions",
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		cancel:       make(map[int]context.CancelFunc),
	}
}

// WithChatPath overrides the completions path (e.g. DashScope's native
// "/services/aigc/text-generation/generation" endpoint).
func (p *OpenAIProvider) WithChatPath(path string) *OpenAIProvider {
	if path != "" {
		p.chatPath = path
	}
	return p
}

// Info returns this backend's identity and capabilities.
func (p *OpenAIProvider) Info() BackendInfo {
	return BackendInfo{
		Name:        p.name,
		DisplayName: p.displayName,
		Capabilities: Capabilities{
			Streaming:          true,
			Tools:              false,
			MultiTurn:          true,
			CustomSystemPrompt: true,
		},
		RequiredKeys: []string{p.name + "_api_key"},
	}
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type openAIStreamDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Run starts one turn against the chat completions endpoint and streams
// the reply back as AgentEvents.
func (p *OpenAIProvider) Run(ctx context.Context, message, systemPrompt string, history []memory.HistoryMessage, sessionKey string) (<-chan bus.AgentEvent, error) {
	runCtx, cancel := context.WithCancel(ctx)
	id := p.trackRun(cancel)

	msgs := make([]openAIChatMessage, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, openAIChatMessage{Role: "system", Content: systemPrompt})
	}
	for _, h := range history {
		msgs = append(msgs, openAIChatMessage{Role: string(h.Role), Content: h.Content})
	}
	msgs = append(msgs, openAIChatMessage{Role: "user", Content: message})

	reqBody := openAIChatRequest{Model: p.defaultModel, Messages: msgs, Stream: true}
	body, err := json.Marshal(reqBody)
	if err != nil {
		p.untrackRun(id)
		cancel()
		return nil, fmt.Errorf("%s: encode request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(runCtx, http.MethodPost, p.apiBase+p.chatPath, bytes.NewReader(body))
	if err != nil {
		p.untrackRun(id)
		cancel()
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	events := make(chan bus.AgentEvent, 16)

	go func() {
		defer cancel()
		defer p.untrackRun(id)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			emitDone(events, bus.AgentEventError, fmt.Sprintf("%s: request failed: %v", p.name, err), nil)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			emitDone(events, bus.AgentEventError, fmt.Sprintf("%s: http %d: %s", p.name, resp.StatusCode, string(data)), nil)
			return
		}

		p.streamSSE(runCtx, resp.Body, events)
	}()

	return events, nil
}

func (p *OpenAIProvider) streamSSE(ctx context.Context, body io.Reader, events chan<- bus.AgentEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full strings.Builder

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			close(events)
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			emitDone(events, bus.AgentEventDone, full.String(), nil)
			return
		}

		var chunk openAIStreamDelta
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				full.WriteString(c.Delta.Content)
				events <- bus.AgentEvent{Type: bus.AgentEventMessage, Content: c.Delta.Content}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		emitDone(events, bus.AgentEventError, fmt.Sprintf("%s: stream read: %v", p.name, err), nil)
		return
	}
	emitDone(events, bus.AgentEventDone, full.String(), nil)
}

func (p *OpenAIProvider) trackRun(cancel context.CancelFunc) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.cancel[id] = cancel
	return id
}

func (p *OpenAIProvider) untrackRun(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancel, id)
}

// Stop cancels every run currently in flight on this provider instance.
func (p *OpenAIProvider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cancel := range p.cancel {
		cancel()
		delete(p.cancel, id)
	}
}

// GetStatus returns a small diagnostic snapshot.
func (p *OpenAIProvider) GetStatus() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"name":        p.name,
		"model":       p.defaultModel,
		"active_runs": len(p.cancel),
	}
}
