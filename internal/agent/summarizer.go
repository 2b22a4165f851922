package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pocketpaw/pocketpaw/internal/bus"
	"github.com/pocketpaw/pocketpaw/internal/providers"
)

// RouterSummarizer adapts a providers.Router's active backend to the two
// single-shot text-in/text-out contracts this repo needs wired but that
// deliberately live outside internal/providers: memory.Summarizer (used
// by history compaction and auto-learn) and security's unexported
// classifier interface (used by the injection scanner's deep-scan pass).
// Both are satisfied structurally by Summarize/Classify below, which do
// nothing but drain a Provider.Run() stream into one string — no package
// needs to import this type by its classifier-facing name.
type RouterSummarizer struct {
	router *providers.Router
}

// NewRouterSummarizer wraps router for single-shot text completions.
func NewRouterSummarizer(router *providers.Router) *RouterSummarizer {
	return &RouterSummarizer{router: router}
}

// Summarize implements memory.Summarizer.
func (s *RouterSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	return s.complete(ctx, prompt)
}

// Classify implements security's classifier interface.
func (s *RouterSummarizer) Classify(ctx context.Context, prompt string) (string, error) {
	return s.complete(ctx, prompt)
}

func (s *RouterSummarizer) complete(ctx context.Context, prompt string) (string, error) {
	provider, err := s.router.Active()
	if err != nil {
		return "", fmt.Errorf("router_summarizer: %w", err)
	}
	events, err := provider.Run(ctx, prompt, "", nil, "")
	if err != nil {
		return "", fmt.Errorf("router_summarizer: %w", err)
	}
	var b strings.Builder
	for evt := range events {
		switch evt.Type {
		case bus.AgentEventMessage:
			b.WriteString(evt.Content)
		case bus.AgentEventError:
			return "", fmt.Errorf("router_summarizer: backend error: %s", evt.Content)
		}
	}
	return b.String(), nil
}
