package ai

import (
	"context"
	"fmt"

	"github.com/tbourn/go-tutor-backend/internal/ai/provider"
	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// ErrNoProvider is returned when the provider a role routes to cannot serve
// calls (no credential configured for it or its fallback).
var ErrNoProvider = fmt.Errorf("no ai provider available: %w", domain.ErrProviderFailure)

// Router dispatches role prompts. OpenAI is expected to be the retrying
// OpenAI client; DeepSeek the DeepSeek-with-OpenAI-fallback chain.
type Router struct {
	OpenAI   provider.Provider
	DeepSeek provider.Provider
}

// ProviderFor returns the provider that serves role.
func (r *Router) ProviderFor(role domain.Role) (provider.Provider, RoleConfig, error) {
	rc, ok := Lookup(role)
	if !ok {
		return nil, RoleConfig{}, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	var p provider.Provider
	switch rc.Provider {
	case provider.OpenAI:
		p = r.OpenAI
	case provider.DeepSeek:
		p = r.DeepSeek
	}
	if p == nil || !p.Available() {
		return nil, rc, fmt.Errorf("%w: %s for role %s", ErrNoProvider, rc.Provider, role)
	}
	return p, rc, nil
}

// Route applies the role's response format and calls its provider.
func (r *Router) Route(ctx context.Context, role domain.Role, system, user string, opts provider.Options) (*provider.Response, error) {
	p, rc, err := r.ProviderFor(role)
	if err != nil {
		return nil, err
	}
	opts.Format = rc.Format
	return p.Call(ctx, system, user, opts)
}

// Availability reports which providers can currently serve calls.
func (r *Router) Availability() map[provider.Name]bool {
	return map[provider.Name]bool{
		provider.OpenAI:   r.OpenAI != nil && r.OpenAI.Available(),
		provider.DeepSeek: r.DeepSeek != nil && r.DeepSeek.Available(),
	}
}
