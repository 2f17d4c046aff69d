package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/tbourn/go-tutor-backend/internal/ai/orchestrator"
	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/statemachine"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
)

// Decision is the coach's choice of what the learner does next. NextAction
// is always one of proceed, review, practice or complete.
type Decision struct {
	NextAction     statemachine.Action `json:"next_action"`
	Reason         string              `json:"reason"`
	Message        string              `json:"message"`
	ConceptToFocus string              `json:"concept_to_focus,omitempty"`
	Suggestions    []string            `json:"suggestions"`
	Encouragement  string              `json:"encouragement"`

	// Fallback is set when the decision was derived from the score because
	// the model's output was unusable.
	Fallback      bool   `json:"fallback"`
	InteractionID string `json:"interaction_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

type rawDecision struct {
	NextAction     string   `json:"nextAction"`
	Reason         string   `json:"reason"`
	Message        string   `json:"message"`
	ConceptToFocus string   `json:"conceptToFocus"`
	Suggestions    []string `json:"suggestions"`
	Encouragement  string   `json:"encouragement"`
}

// CoachService decides the next step after an evaluation.
type CoachService struct {
	AI Orchestrator
}

// Decide asks the coach for the next action given ev. last reports whether
// the target concept is the final one in its learning map.
func (s *CoachService) Decide(ctx context.Context, userID string, t Target, ev Evaluation, last bool) (*Decision, error) {
	tr := otel.Tracer("services/CoachService")
	ctx, span := tr.Start(ctx, "Decide", targetAttrs(userID, t))
	defer span.End()

	resp, err := s.AI.Orchestrate(ctx, userID, orchestrator.Request{
		Role:            domain.RoleCoach,
		ContentID:       t.ContentID,
		ConceptID:       t.ConceptID,
		SessionID:       t.SessionID,
		UserMessage:     coachMessage(ev, last),
		InteractionType: domain.InteractionDecision,
	})
	if err != nil {
		return nil, err
	}
	d := ParseDecision(resp.Content, ev, last)
	d.InteractionID = resp.InteractionID
	d.SessionID = resp.SessionID
	return &d, nil
}

// PracticeTask asks the coach for a practical exercise on the target concept
// and returns the reply verbatim.
func (s *CoachService) PracticeTask(ctx context.Context, userID string, t Target) (*orchestrator.Response, error) {
	tr := otel.Tracer("services/CoachService")
	ctx, span := tr.Start(ctx, "PracticeTask", targetAttrs(userID, t))
	defer span.End()

	return s.AI.Orchestrate(ctx, userID, orchestrator.Request{
		Role:            domain.RoleCoach,
		ContentID:       t.ContentID,
		ConceptID:       t.ConceptID,
		SessionID:       t.SessionID,
		UserMessage:     "Generate a practical application task for this concept that the student can work on.",
		InteractionType: domain.InteractionPractice,
	})
}

func coachMessage(ev Evaluation, last bool) string {
	var b strings.Builder
	b.WriteString("\nStudent evaluation results:\n")
	fmt.Fprintf(&b, "- Overall Score: %d%%\n", ev.OverallScore)
	fmt.Fprintf(&b, "- Confidence: %s\n", strconv.FormatFloat(ev.Confidence, 'f', -1, 64))
	fmt.Fprintf(&b, "- Strengths: %s\n", strings.Join(ev.Strengths, ", "))
	fmt.Fprintf(&b, "- Gaps: %s\n", strings.Join(ev.Gaps, ", "))
	fmt.Fprintf(&b, "- Feedback: %s\n", ev.Feedback)
	if last {
		b.WriteString("- This is the final concept in the learning map.\n")
	}
	b.WriteString("\nDecide the next step for this student.")
	return b.String()
}

// ParseDecision decodes and normalizes coach output. Unusable output yields
// FallbackDecision.
func ParseDecision(content string, ev Evaluation, last bool) Decision {
	var raw rawDecision
	if err := decodeAIJSON(content, &raw); err != nil {
		return FallbackDecision(ev, last)
	}

	action := normalizeAction(raw.NextAction, last)
	if action == "" {
		if ev.OverallScore >= ReadyThreshold {
			action = lo.Ternary(last, statemachine.Finish, statemachine.Proceed)
		} else {
			action = statemachine.Review
		}
	}
	d := Decision{
		NextAction:     action,
		Reason:         lo.Ternary(raw.Reason != "", raw.Reason, defaultReason(action, ev.OverallScore)),
		Message:        lo.Ternary(raw.Message != "", raw.Message, defaultMessage(action)),
		ConceptToFocus: raw.ConceptToFocus,
		Suggestions:    lo.Compact(raw.Suggestions),
		Encouragement:  lo.Ternary(raw.Encouragement != "", raw.Encouragement, defaultEncouragement(ev.OverallScore)),
	}
	if d.Suggestions == nil {
		d.Suggestions = []string{}
	}
	return d
}

// normalizeAction maps the model's action vocabulary onto the coach actions,
// returning "" for anything unrecognized.
func normalizeAction(s string, last bool) statemachine.Action {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "proceed":
		return statemachine.Proceed
	case "advance", "continue", "next":
		return lo.Ternary(last, statemachine.Finish, statemachine.Proceed)
	case "review", "revisit", "re-explain":
		return statemachine.Review
	case "practice", "evaluate", "try_again", "tryagain":
		return statemachine.Practice
	case "complete":
		return statemachine.Finish
	}
	return ""
}

// FallbackDecision decides from the overall score alone:
// >=85 and >=70 move on, >=50 practices, anything lower reviews.
func FallbackDecision(ev Evaluation, last bool) Decision {
	gaps := append([]string{}, ev.Gaps...)
	onward := lo.Ternary(last, statemachine.Finish, statemachine.Proceed)

	switch score := ev.OverallScore; {
	case score >= 85:
		return Decision{
			NextAction: onward,
			Reason:     "Excellent understanding demonstrated",
			Message: lo.Ternary(last,
				"Congratulations! You've mastered all concepts in this content.",
				"Great work! You're ready to move on to the next concept."),
			Suggestions: lo.Ternary(last,
				[]string{"Review your notes", "Apply what you learned"},
				[]string{"Keep up the momentum"}),
			Encouragement: "You're doing exceptionally well!",
			Fallback:      true,
		}
	case score >= ReadyThreshold:
		return Decision{
			NextAction:    onward,
			Reason:        "Good understanding with minor gaps",
			Message:       "You have a solid grasp of this concept. Let's continue forward.",
			Suggestions:   []string{"Review the areas mentioned in feedback later"},
			Encouragement: "Good progress! You're on the right track.",
			Fallback:      true,
		}
	case score >= 50:
		return Decision{
			NextAction:    statemachine.Practice,
			Reason:        "Understanding needs more practice",
			Message:       "Let's practice a bit more to strengthen your understanding.",
			Suggestions:   gaps,
			Encouragement: "You're making progress. A little more practice will help solidify these concepts.",
			Fallback:      true,
		}
	default:
		return Decision{
			NextAction:    statemachine.Review,
			Reason:        "Concept needs re-explanation",
			Message:       "Let's revisit this concept with a different approach.",
			Suggestions:   append([]string{"Focus on the core ideas first"}, gaps...),
			Encouragement: "Learning takes time. Let's try again with a clearer explanation.",
			Fallback:      true,
		}
	}
}

func defaultReason(a statemachine.Action, score int) string {
	switch a {
	case statemachine.Proceed:
		return fmt.Sprintf("Strong understanding (%d%%)", score)
	case statemachine.Review:
		return fmt.Sprintf("Needs more explanation (%d%%)", score)
	case statemachine.Practice:
		return fmt.Sprintf("Would benefit from practice (%d%%)", score)
	}
	return "All concepts mastered"
}

func defaultMessage(a statemachine.Action) string {
	switch a {
	case statemachine.Proceed:
		return "Great job! Let's move to the next concept."
	case statemachine.Review:
		return "Let's revisit this concept to strengthen understanding."
	case statemachine.Practice:
		return "Let's practice with some application exercises."
	}
	return "Congratulations! You've completed this learning session."
}

func defaultEncouragement(score int) string {
	switch {
	case score >= 80:
		return "Excellent work! Keep it up!"
	case score >= 60:
		return "You're making good progress!"
	}
	return "Every step forward is progress. Keep going!"
}
