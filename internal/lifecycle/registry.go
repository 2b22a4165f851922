// Package lifecycle implements the small service-locator spec.md §9's
// design note calls for: "an explicit lifecycle registry passed into
// components, or a small service-locator with register(name, shutdown,
// reset); never module-level mutable globals in the core." It owns no
// behavior of its own — just a registration order and a deterministic,
// reverse-order shutdown path for the process's singletons (message bus,
// memory store, channel manager, provider router).
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Entry is one registered component: a human name, an optional reset
// hook (invoked on e.g. configuration reload), and a shutdown hook
// invoked during Registry.Shutdown.
type Entry struct {
	Name     string
	Shutdown func(ctx context.Context) error
	Reset    func() error
}

// Registry holds every singleton component registered for this process,
// in registration order, and tears them down in reverse order so a
// component never outlives something it depends on.
type Registry struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register adds a component. shutdown and reset may each be nil when a
// component has nothing to do for that hook.
func (r *Registry) Register(name string, shutdown func(ctx context.Context) error, reset func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Name: name, Shutdown: shutdown, Reset: reset})
}

// Reset invokes the named component's reset hook, e.g. after a
// configuration or credential change.
func (r *Registry) Reset(name string) error {
	r.mu.Lock()
	var target *Entry
	for i := range r.entries {
		if r.entries[i].Name == name {
			target = &r.entries[i]
			break
		}
	}
	r.mu.Unlock()
	if target == nil {
		return fmt.Errorf("lifecycle: no component registered as %q", name)
	}
	if target.Reset == nil {
		return nil
	}
	return target.Reset()
}

// Shutdown tears down every registered component in reverse registration
// order, continuing past individual failures so one component's
// shutdown error can't strand the rest. It returns the first error
// encountered, if any.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.Unlock()

	var firstErr error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Shutdown == nil {
			continue
		}
		if err := e.Shutdown(ctx); err != nil {
			slog.Error("lifecycle: component shutdown failed", "component", e.Name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("lifecycle: shutdown %q: %w", e.Name, err)
			}
			continue
		}
		slog.Info("lifecycle: component shut down", "component", e.Name)
	}
	return firstErr
}
