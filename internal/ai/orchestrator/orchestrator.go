// Package orchestrator is the single entry point for AI role calls. For one
// request it assembles context, renders the role's prompt, dispatches to the
// role's provider, prices the call and records it as an Interaction.
//
// Provider failures are returned as is (they match domain.ErrProviderFailure)
// and nothing is persisted for a failed call. Recovering from bad output is
// the calling role service's job.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/ai"
	"github.com/tbourn/go-tutor-backend/internal/ai/assembler"
	"github.com/tbourn/go-tutor-backend/internal/ai/prompt"
	"github.com/tbourn/go-tutor-backend/internal/ai/provider"
	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/lock"
	"github.com/tbourn/go-tutor-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stored text limits, in runes.
const (
	MaxUserMessageRunes = 10000
	MaxAIResponseRunes  = 20000
)

// FieldUserMessage is the context key holding the caller's message.
const FieldUserMessage = "userMessage"

// ContextSource assembles prompt context.
type ContextSource interface {
	Assemble(ctx context.Context, opts assembler.Options) (prompt.Context, error)
}

// PromptBuilder renders a role's prompt template.
type PromptBuilder interface {
	Build(ctx context.Context, role domain.Role, c prompt.Context, version string) (string, string, error)
}

// Dispatcher sends a rendered prompt to the provider serving role.
type Dispatcher interface {
	Route(ctx context.Context, role domain.Role, system, user string, opts provider.Options) (*provider.Response, error)
}

// Request is one AI role call.
type Request struct {
	Role              domain.Role
	ContentID         string
	ConceptID         string
	SessionID         string
	UserMessage       string
	AdditionalContext prompt.Context

	// PromptVersion pins a template version; empty means latest.
	PromptVersion string
	// InteractionType is recorded on the Interaction; default EXPLANATION.
	InteractionType domain.InteractionType
	// Assess, when set, derives the Interaction's confidence score from
	// the raw response text. A nil result leaves the score empty.
	Assess func(content string) *float64
}

// Usage is the token accounting of a call plus its approximate cost.
type Usage struct {
	provider.Usage
	EstimatedCost float64 `json:"estimated_cost"`
}

// Response is the outcome of a successful call.
type Response struct {
	Content       string        `json:"content"`
	Role          domain.Role   `json:"role"`
	Provider      provider.Name `json:"provider"`
	Model         string        `json:"model"`
	PromptVersion string        `json:"prompt_version"`
	Usage         Usage         `json:"usage"`
	InteractionID string        `json:"interaction_id"`
	SessionID     string        `json:"session_id,omitempty"`
}

// Orchestrator wires the AI pipeline together.
type Orchestrator struct {
	DB       *gorm.DB
	Context  ContextSource
	Prompts  PromptBuilder
	Dispatch Dispatcher
	// Locks serializes implicit session creation per user and content.
	// Optional.
	Locks lock.Locker

	Temperature *float64
	MaxTokens   int
}

// Orchestrate runs req on behalf of userID.
func (o *Orchestrator) Orchestrate(ctx context.Context, userID string, req Request) (*Response, error) {
	tr := otel.Tracer("ai/Orchestrator")
	ctx, span := tr.Start(ctx, "Orchestrate",
		trace.WithAttributes(
			attribute.String("ai.role", string(req.Role)),
			attribute.String("user.id", userID),
			attribute.String("content.id", req.ContentID),
			attribute.String("session.id", req.SessionID),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := o.orchestrate(ctx, userID, req)
	aiLatency.WithLabelValues(string(req.Role)).Observe(time.Since(start).Seconds())
	if err != nil {
		aiCalls.WithLabelValues(string(req.Role), "", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "orchestrate failed")
		return nil, err
	}

	aiCalls.WithLabelValues(string(req.Role), string(resp.Provider), "ok").Inc()
	aiTokens.WithLabelValues(string(req.Role), string(resp.Provider), "prompt").Add(float64(resp.Usage.PromptTokens))
	aiTokens.WithLabelValues(string(req.Role), string(resp.Provider), "completion").Add(float64(resp.Usage.CompletionTokens))
	aiCost.WithLabelValues(string(req.Role), string(resp.Provider)).Add(resp.Usage.EstimatedCost)
	span.SetAttributes(
		attribute.String("ai.provider", string(resp.Provider)),
		attribute.String("ai.model", resp.Model),
		attribute.String("ai.prompt_version", resp.PromptVersion),
		attribute.Int("ai.tokens.total", resp.Usage.TotalTokens),
	)

	zerolog.Ctx(ctx).Info().
		Str("role", string(req.Role)).
		Str("provider", string(resp.Provider)).
		Int("tokens", resp.Usage.TotalTokens).
		Float64("cost_usd", resp.Usage.EstimatedCost).
		Msg("ai call")
	return resp, nil
}

func (o *Orchestrator) orchestrate(ctx context.Context, userID string, req Request) (*Response, error) {
	if !req.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, req.Role)
	}

	// Resolve ownership up front (reads only) so a foreign or unknown
	// session, content or concept fails before any tokens are spent.
	sc, err := o.resolveScope(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	// Caller-supplied fields seed the context; assembled fields override
	// them, except the user message.
	pc := prompt.Context{}
	for k, v := range req.AdditionalContext {
		pc[k] = v
	}
	pc[FieldUserMessage] = req.UserMessage

	if sc.contentID != "" && o.Context != nil {
		assembled, err := o.Context.Assemble(ctx, assembler.Options{
			ContentID: sc.contentID,
			ConceptID: sc.conceptID,
			SessionID: sc.sessionID,
		})
		if err != nil {
			return nil, fmt.Errorf("assemble context: %w", err)
		}
		for k, v := range assembled {
			if k == FieldUserMessage {
				continue
			}
			pc[k] = v
		}
	}

	system, version, err := o.Prompts.Build(ctx, req.Role, pc, req.PromptVersion)
	if err != nil {
		return nil, fmt.Errorf("build %s prompt: %w", req.Role, err)
	}

	out, err := o.Dispatch.Route(ctx, req.Role, system, req.UserMessage, provider.Options{
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s call: %w", req.Role, err)
	}

	resp := &Response{
		Content:       out.Content,
		Role:          req.Role,
		Provider:      out.Provider,
		Model:         out.Model,
		PromptVersion: version,
		Usage: Usage{
			Usage:         out.Usage,
			EstimatedCost: ai.EstimateCost(out.Provider, out.Usage.PromptTokens, out.Usage.CompletionTokens),
		},
	}

	sessionID := sc.sessionID
	if sessionID == "" && sc.contentID != "" {
		if sessionID, err = o.findOrCreateSession(ctx, userID, sc.contentID); err != nil {
			return nil, err
		}
	}
	if sessionID == "" {
		return resp, nil
	}

	in := &domain.Interaction{
		SessionID:       sessionID,
		ConceptID:       optional(sc.conceptID),
		Role:            req.Role.Persisted(),
		UserMessage:     clip(req.UserMessage, MaxUserMessageRunes),
		AIResponse:      clip(out.Content, MaxAIResponseRunes),
		InteractionType: req.InteractionType,
		TokensUsed:      out.Usage.TotalTokens,
		Provider:        string(out.Provider),
		PromptVersion:   version,
	}
	if in.InteractionType == "" {
		in.InteractionType = domain.InteractionExplanation
	}
	if req.Assess != nil {
		in.ConfidenceScore = req.Assess(out.Content)
	}
	// The provider already answered; don't lose the record to a client
	// disconnect.
	if err := repo.CreateInteraction(context.WithoutCancel(ctx), o.DB, in); err != nil {
		return nil, fmt.Errorf("record interaction: %w", err)
	}
	resp.InteractionID = in.ID
	resp.SessionID = sessionID
	return resp, nil
}

// scope is the ownership-checked target of a request.
type scope struct {
	sessionID string
	contentID string
	conceptID string
}

// resolveScope checks every id on req against userID. A session fixes the
// content; an explicit content id must match it. A concept must belong to
// the learning map of that content. Without a session, the user's ACTIVE
// session on the content is picked up if there is one.
func (o *Orchestrator) resolveScope(ctx context.Context, userID string, req Request) (scope, error) {
	sc := scope{contentID: req.ContentID}
	switch {
	case req.SessionID != "":
		s, err := repo.GetSession(ctx, o.DB, req.SessionID, userID)
		if err != nil {
			return scope{}, notFound("session", err)
		}
		if sc.contentID != "" && sc.contentID != s.ContentID {
			return scope{}, fmt.Errorf("%w: session %s is not on content %s", domain.ErrValidation, s.ID, sc.contentID)
		}
		sc.sessionID, sc.contentID = s.ID, s.ContentID
	case sc.contentID != "":
		if _, err := repo.GetContent(ctx, o.DB, sc.contentID, userID); err != nil {
			return scope{}, notFound("content", err)
		}
		s, err := repo.FindActiveSession(ctx, o.DB, userID, sc.contentID)
		switch {
		case err == nil:
			sc.sessionID = s.ID
		case !errors.Is(err, repo.ErrNotFound):
			return scope{}, err
		}
	}

	if req.ConceptID != "" {
		if sc.contentID == "" {
			return scope{}, fmt.Errorf("%w: concept_id needs content_id or session_id", domain.ErrValidation)
		}
		if _, err := repo.GetContentConcept(ctx, o.DB, sc.contentID, req.ConceptID); err != nil {
			return scope{}, notFound("concept", err)
		}
		sc.conceptID = req.ConceptID
	}
	return sc, nil
}

// findOrCreateSession reuses the user's ACTIVE session on contentID or
// starts one at the first concept of the content's learning map.
func (o *Orchestrator) findOrCreateSession(ctx context.Context, userID, contentID string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	if o.Locks != nil {
		unlock, err := o.Locks.Lock(ctx, "session-create:"+userID+":"+contentID)
		if err != nil {
			return "", err
		}
		defer unlock()
	}

	s, err := repo.FindActiveSession(ctx, o.DB, userID, contentID)
	if err == nil {
		return s.ID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}

	var first *string
	m, err := repo.GetLearningMap(ctx, o.DB, contentID)
	switch {
	case err == nil && len(m.Concepts) > 0:
		first = &m.Concepts[0].ID
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return "", err
	}
	created, err := repo.CreateSession(ctx, o.DB, userID, contentID, first)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return created.ID, nil
}

func notFound(what string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
