// Package provider adapts LLM backends to a single call shape used by the
// AI router: a system prompt, a user message and a few generation options in,
// text plus token usage out.
//
// Both supported backends (OpenAI and DeepSeek) speak the OpenAI chat
// completions protocol, so a single langchaingo-backed Client serves both.
// Retrying and Fallback compose Clients into the delivery policy the router
// needs.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// Name identifies a provider.
type Name string

const (
	OpenAI   Name = "openai"
	DeepSeek Name = "deepseek"
)

// Format is the expected response format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Defaults applied when Options leaves a field unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// Options tune a single call. Zero values fall back to the defaults above.
// Model overrides the client's configured model.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	Format      Format
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a successful call.
type Response struct {
	Content  string
	Usage    Usage
	Model    string
	Provider Name
}

// Provider is one callable LLM backend.
type Provider interface {
	Name() Name
	Available() bool
	Call(ctx context.Context, system, user string, opts Options) (*Response, error)
}

var (
	// ErrNotConfigured is returned when the provider has no credential.
	ErrNotConfigured = fmt.Errorf("provider not configured: %w", domain.ErrProviderFailure)
	// ErrEmptyResponse is returned when the backend answers with no choices.
	ErrEmptyResponse = errors.New("empty completion")
)

// callError wraps a backend failure so it matches domain.ErrProviderFailure
// while keeping the cause (including context errors) inspectable.
func callError(name Name, err error) error {
	if errors.Is(err, domain.ErrProviderFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrProviderFailure, name, err)
}
