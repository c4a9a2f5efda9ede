package providers

import (
	"context"
	"log/slog"
)

// FallbackProvider wraps a router so that retryable upstream failures walk
// the configured fallback model chain. Authorization and policy errors
// surface immediately.
type FallbackProvider struct {
	router *Router
	model  string
}

// NewFallbackProvider creates a provider that resolves the primary model
// through the router and falls back per route configuration.
func NewFallbackProvider(router *Router, model string) *FallbackProvider {
	return &FallbackProvider{router: router, model: model}
}

func (f *FallbackProvider) Name() string {
	route, err := f.router.Resolve(f.model)
	if err != nil {
		return "unresolved"
	}
	return route.Provider
}

func (f *FallbackProvider) DefaultModel() string { return f.model }

// Chat tries the primary model, then each fallback model in order. Only
// retryable errors advance the chain.
func (f *FallbackProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = f.model
	}

	route, err := f.router.Resolve(model)
	if err != nil {
		return nil, err
	}

	chain := append([]string{model}, route.FallbackModels...)

	var lastErr error
	for i, candidate := range chain {
		r, err := f.router.Resolve(candidate)
		if err != nil {
			lastErr = err
			continue
		}

		attempt := req
		attempt.Model = r.Model
		resp, err := ProviderFor(r).Chat(ctx, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryable(err) {
			return nil, err
		}
		if i < len(chain)-1 {
			slog.Warn("provider call failed, trying fallback model",
				"model", candidate, "next", chain[i+1], "error", err)
		}
	}

	return nil, lastErr
}
