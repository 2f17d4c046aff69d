package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/tbourn/go-tutor-backend/internal/ai/orchestrator"
	"github.com/tbourn/go-tutor-backend/internal/domain"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultExample  = "See the explanation above for examples."
	defaultFollowUp = "Can you explain this concept in your own words?"

	// simplifyClip bounds how much of a previous explanation is echoed back.
	simplifyClip = 500
)

var (
	exampleLineRE = regexp.MustCompile(`(?m)^[-*]\s+.+$`)
	bulletRE      = regexp.MustCompile(`^[-*]\s+`)
	sentenceEndRE = regexp.MustCompile(`[.!?]\s+`)
)

// Target identifies what an AI role call is about. ContentID and ConceptID
// drive context assembly; SessionID pins the session the interaction is
// recorded on.
type Target struct {
	ContentID string `json:"content_id"`
	ConceptID string `json:"concept_id"`
	SessionID string `json:"session_id,omitempty"`
}

// Explanation is the tutor's structured answer.
type Explanation struct {
	Explanation      string   `json:"explanation"`
	Examples         []string `json:"examples"`
	FollowUpQuestion string   `json:"follow_up_question"`

	InteractionID string `json:"interaction_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// TutorService explains concepts in plain text and turns the reply into an
// Explanation.
type TutorService struct {
	AI Orchestrator
}

// ExplainConcept asks the tutor to explain the target concept. extra, when
// set, is passed along as additional context from the learner.
func (s *TutorService) ExplainConcept(ctx context.Context, userID string, t Target, extra string) (*Explanation, error) {
	tr := otel.Tracer("services/TutorService")
	ctx, span := tr.Start(ctx, "ExplainConcept", targetAttrs(userID, t))
	defer span.End()

	msg := "Please explain this concept to me."
	if extra = strings.TrimSpace(extra); extra != "" {
		msg = "Please explain this concept. Additional context: " + extra
	}
	return s.call(ctx, userID, t, msg, domain.InteractionExplanation)
}

// AnswerQuestion answers a learner's question about the target concept.
func (s *TutorService) AnswerQuestion(ctx context.Context, userID string, t Target, question string) (*Explanation, error) {
	tr := otel.Tracer("services/TutorService")
	ctx, span := tr.Start(ctx, "AnswerQuestion", targetAttrs(userID, t))
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyMessage
	}
	return s.call(ctx, userID, t, question, domain.InteractionQuestion)
}

// SimplifyExplanation asks for a simpler take on a previous explanation,
// quoting at most its first 500 characters.
func (s *TutorService) SimplifyExplanation(ctx context.Context, userID string, t Target, previous string) (*Explanation, error) {
	tr := otel.Tracer("services/TutorService")
	ctx, span := tr.Start(ctx, "SimplifyExplanation", targetAttrs(userID, t))
	defer span.End()

	msg := "I didn't quite understand the previous explanation. Can you explain it more simply? \n" +
		"Previous explanation: " + head(previous, simplifyClip) + "..."
	return s.call(ctx, userID, t, msg, domain.InteractionExplanation)
}

func (s *TutorService) call(ctx context.Context, userID string, t Target, msg string, kind domain.InteractionType) (*Explanation, error) {
	resp, err := s.AI.Orchestrate(ctx, userID, orchestrator.Request{
		Role:            domain.RoleTutor,
		ContentID:       t.ContentID,
		ConceptID:       t.ConceptID,
		SessionID:       t.SessionID,
		UserMessage:     msg,
		InteractionType: kind,
	})
	if err != nil {
		return nil, err
	}
	out := ParseExplanation(resp.Content)
	out.InteractionID = resp.InteractionID
	out.SessionID = resp.SessionID
	return &out, nil
}

// ParseExplanation splits free-form tutor text into explanation, bullet
// examples and a closing follow-up question. The last sentence ending in "?"
// becomes the follow-up and is removed from the explanation.
func ParseExplanation(content string) Explanation {
	var examples []string
	for _, line := range exampleLineRE.FindAllString(content, -1) {
		examples = append(examples, strings.TrimSpace(bulletRE.ReplaceAllString(line, "")))
	}
	if len(examples) == 0 {
		examples = []string{defaultExample}
	}

	followUp := ""
	for _, sentence := range splitSentences(content) {
		if sentence = strings.TrimSpace(sentence); strings.HasSuffix(sentence, "?") {
			followUp = sentence
		}
	}

	explanation := content
	if followUp != "" {
		explanation = strings.TrimSpace(strings.Replace(content, followUp, "", 1))
	} else {
		followUp = defaultFollowUp
	}
	return Explanation{Explanation: explanation, Examples: examples, FollowUpQuestion: followUp}
}

// splitSentences splits after sentence punctuation followed by whitespace.
func splitSentences(s string) []string {
	var out []string
	prev := 0
	for _, loc := range sentenceEndRE.FindAllStringIndex(s, -1) {
		out = append(out, s[prev:loc[0]+1])
		prev = loc[1]
	}
	return append(out, s[prev:])
}

func targetAttrs(userID string, t Target) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("content.id", t.ContentID),
		attribute.String("concept.id", t.ConceptID),
		attribute.String("session.id", t.SessionID),
	)
}
