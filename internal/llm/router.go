package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Router tries registered providers in registration order until one succeeds.
type Router struct {
	providers map[string]Provider
	fallback  []string // ordered fallback chain
	mu        sync.RWMutex
}

// NewRouter creates a new provider router.
func NewRouter() *Router {
	return &Router{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the fallback chain.
func (r *Router) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
	r.fallback = append(r.fallback, name)
}

// Complete routes a request to the first available provider.
func (r *Router) Complete(ctx context.Context, req Request) (Response, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var lastErr error
	for _, name := range r.fallback {
		provider := r.providers[name]

		resp, err := provider.Complete(ctx, req)
		if err != nil {
			lastErr = err
			slog.Warn("completion provider failed, trying next",
				"provider", name,
				"error", err,
			)
			continue
		}

		slog.Debug("completion succeeded",
			"provider", name,
			"model", resp.Model,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)
		return resp, nil
	}

	if lastErr != nil {
		return Response{}, fmt.Errorf("all completion providers failed: %w", lastErr)
	}
	return Response{}, fmt.Errorf("no completion providers registered")
}

// HasProvider returns true if at least one provider is registered.
func (r *Router) HasProvider() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}
