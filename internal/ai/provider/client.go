package provider

import (
	"context"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/tbourn/go-tutor-backend/internal/config"
)

// Client performs exactly one attempt against an OpenAI-compatible chat
// completions endpoint.
type Client struct {
	name    Name
	llm     llms.Model
	model   string
	timeout time.Duration
}

// NewClient builds a client from provider settings. An empty API key yields
// a client whose Available reports false and whose Call fails with
// ErrNotConfigured.
func NewClient(name Name, pc config.ProviderConfig, timeout time.Duration) (*Client, error) {
	c := &Client{name: name, model: pc.Model, timeout: timeout}
	if strings.TrimSpace(pc.APIKey) == "" {
		return c, nil
	}
	opts := []openai.Option{
		openai.WithToken(pc.APIKey),
		openai.WithModel(pc.Model),
	}
	if pc.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(pc.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	c.llm = llm
	return c, nil
}

// NewClientWithModel wraps an existing llms.Model.
func NewClientWithModel(name Name, llm llms.Model, model string, timeout time.Duration) *Client {
	return &Client{name: name, llm: llm, model: model, timeout: timeout}
}

// Name implements Provider.
func (c *Client) Name() Name { return c.name }

// Available implements Provider.
func (c *Client) Available() bool { return c != nil && c.llm != nil }

// Call implements Provider.
func (c *Client) Call(ctx context.Context, system, user string, opts Options) (*Response, error) {
	if !c.Available() {
		return nil, ErrNotConfigured
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	temperature := DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	callOpts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
	}
	if opts.Format == FormatJSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	out, err := c.llm.GenerateContent(ctx, msgs, callOpts...)
	if err != nil {
		return nil, callError(c.name, err)
	}
	if out == nil || len(out.Choices) == 0 || out.Choices[0] == nil {
		return nil, callError(c.name, ErrEmptyResponse)
	}

	choice := out.Choices[0]
	return &Response{
		Content:  choice.Content,
		Usage:    usageFrom(choice.GenerationInfo),
		Model:    model,
		Provider: c.name,
	}, nil
}

// usageFrom reads token counts from langchaingo's GenerationInfo map.
func usageFrom(info map[string]any) Usage {
	u := Usage{
		PromptTokens:     intFrom(info["PromptTokens"]),
		CompletionTokens: intFrom(info["CompletionTokens"]),
		TotalTokens:      intFrom(info["TotalTokens"]),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
