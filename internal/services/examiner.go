package services

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/tbourn/go-tutor-backend/internal/ai/orchestrator"
	"github.com/tbourn/go-tutor-backend/internal/domain"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
)

// ReadyThreshold is the overall score at which a learner may advance.
const ReadyThreshold = 70

const (
	defaultFeedback       = "Thank you for your explanation."
	defaultElaborate      = "Can you elaborate on any specific aspect?"
	heuristicFollowUp     = "Can you provide a specific example of how this applies?"
	heuristicGoodFeedback = "Good explanation! You demonstrate understanding of the key concepts."
	heuristicWeakFeedback = "Your explanation shows some understanding, but could be more detailed."
	defaultSubScore       = 50
)

var (
	exampleLanguageRE = regexp.MustCompile(`(?i)for example|such as|like|instance`)
	questionRE        = regexp.MustCompile(`[^.!?]*\?`)
)

// Scores breaks an evaluation down by dimension, each 0..100.
type Scores struct {
	Accuracy      int `json:"accuracy"`
	Completeness  int `json:"completeness"`
	Understanding int `json:"understanding"`
	Application   int `json:"application"`
}

// Evaluation is the examiner's judgement of a learner's explanation.
type Evaluation struct {
	OverallScore      int      `json:"overall_score"`
	Confidence        float64  `json:"confidence"`
	Scores            Scores   `json:"scores"`
	Strengths         []string `json:"strengths"`
	Gaps              []string `json:"gaps"`
	Feedback          string   `json:"feedback"`
	SuggestedFollowUp string   `json:"suggested_follow_up"`
	ReadyToAdvance    bool     `json:"ready_to_advance"`

	// Heuristic is set when the model's output was unusable and the score
	// was estimated locally.
	Heuristic     bool   `json:"heuristic"`
	InteractionID string `json:"interaction_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// rawEvaluation is the examiner's JSON as the model writes it. Pointers
// distinguish a missing score from an explicit zero.
type rawEvaluation struct {
	OverallScore *float64 `json:"overallScore"`
	Scores       *struct {
		Accuracy      *float64 `json:"accuracy"`
		Completeness  *float64 `json:"completeness"`
		Understanding *float64 `json:"understanding"`
		Application   *float64 `json:"application"`
	} `json:"scores"`
	Strengths         []string `json:"strengths"`
	Gaps              []string `json:"gaps"`
	Feedback          string   `json:"feedback"`
	SuggestedFollowUp string   `json:"suggestedFollowUp"`
}

// ExaminerService scores learner explanations.
type ExaminerService struct {
	AI Orchestrator
}

// Evaluate scores explanation against the target concept. Unparseable model
// output is replaced by a length and structure heuristic, so the only
// errors are transport and lookup failures.
func (s *ExaminerService) Evaluate(ctx context.Context, userID string, t Target, explanation string) (*Evaluation, error) {
	tr := otel.Tracer("services/ExaminerService")
	ctx, span := tr.Start(ctx, "Evaluate", targetAttrs(userID, t))
	defer span.End()

	explanation = strings.TrimSpace(explanation)
	if explanation == "" {
		return nil, ErrEmptyMessage
	}

	var (
		ev       Evaluation
		assessed bool
	)
	resp, err := s.AI.Orchestrate(ctx, userID, orchestrator.Request{
		Role:            domain.RoleExaminer,
		ContentID:       t.ContentID,
		ConceptID:       t.ConceptID,
		SessionID:       t.SessionID,
		UserMessage:     explanation,
		InteractionType: domain.InteractionEvaluation,
		Assess: func(content string) *float64 {
			ev, assessed = ParseEvaluation(content, explanation), true
			return &ev.Confidence
		},
	})
	if err != nil {
		return nil, err
	}
	// Assess only runs when the call is recorded on a session.
	if !assessed {
		ev = ParseEvaluation(resp.Content, explanation)
	}
	ev.InteractionID = resp.InteractionID
	ev.SessionID = resp.SessionID
	return &ev, nil
}

// GenerateFollowUpQuestion asks for one question targeting prev's gaps. When the
// reply contains no question, prev's suggested follow-up is returned.
func (s *ExaminerService) GenerateFollowUpQuestion(ctx context.Context, userID string, t Target, prev Evaluation) (string, error) {
	tr := otel.Tracer("services/ExaminerService")
	ctx, span := tr.Start(ctx, "GenerateFollowUpQuestion", targetAttrs(userID, t))
	defer span.End()

	resp, err := s.AI.Orchestrate(ctx, userID, orchestrator.Request{
		Role:      domain.RoleExaminer,
		ContentID: t.ContentID,
		ConceptID: t.ConceptID,
		SessionID: t.SessionID,
		UserMessage: "Based on these knowledge gaps: " + strings.Join(prev.Gaps, ", ") +
			". Generate one specific question to test the user's understanding.",
		InteractionType: domain.InteractionQuestion,
	})
	if err != nil {
		return "", err
	}
	if q := strings.TrimSpace(questionRE.FindString(resp.Content)); q != "" {
		return q, nil
	}
	return prev.SuggestedFollowUp, nil
}

// ParseEvaluation decodes and normalizes examiner output, falling back to
// HeuristicEvaluation of explanation when the output is not a usable
// evaluation.
func ParseEvaluation(content, explanation string) Evaluation {
	var raw rawEvaluation
	if err := decodeAIJSON(content, &raw); err != nil || raw.OverallScore == nil {
		return HeuristicEvaluation(explanation)
	}
	return normalizeEvaluation(raw)
}

func normalizeEvaluation(raw rawEvaluation) Evaluation {
	overall := int(math.Round(clamp(*raw.OverallScore, 0, 100)))
	sub := func(v *float64) int {
		if v == nil {
			return defaultSubScore
		}
		return int(math.Round(clamp(*v, 0, 100)))
	}
	ev := Evaluation{
		OverallScore:      overall,
		Confidence:        float64(overall) / 100,
		Scores:            Scores{defaultSubScore, defaultSubScore, defaultSubScore, defaultSubScore},
		Strengths:         lo.Compact(raw.Strengths),
		Gaps:              lo.Compact(raw.Gaps),
		Feedback:          lo.Ternary(strings.TrimSpace(raw.Feedback) != "", raw.Feedback, defaultFeedback),
		SuggestedFollowUp: lo.Ternary(strings.TrimSpace(raw.SuggestedFollowUp) != "", raw.SuggestedFollowUp, defaultElaborate),
		ReadyToAdvance:    overall >= ReadyThreshold,
	}
	if raw.Scores != nil {
		ev.Scores = Scores{
			Accuracy:      sub(raw.Scores.Accuracy),
			Completeness:  sub(raw.Scores.Completeness),
			Understanding: sub(raw.Scores.Understanding),
			Application:   sub(raw.Scores.Application),
		}
	}
	if ev.Strengths == nil {
		ev.Strengths = []string{}
	}
	if ev.Gaps == nil {
		ev.Gaps = []string{}
	}
	return ev
}

// HeuristicEvaluation estimates a score from the explanation alone: 50 base,
// +10 over 30 words, +10 over 100 words, +15 for example language, +10 for
// multiple lines or over 50 words.
func HeuristicEvaluation(explanation string) Evaluation {
	words := len(strings.Fields(explanation))
	hasExamples := exampleLanguageRE.MatchString(explanation)
	hasStructure := strings.Contains(explanation, "\n") || words > 50

	score := 50
	if words > 30 {
		score += 10
	}
	if words > 100 {
		score += 10
	}
	if hasExamples {
		score += 15
	}
	if hasStructure {
		score += 10
	}
	score = clampInt(score)

	gaps := []string{}
	if words < 30 {
		gaps = append(gaps, "Could provide more detail")
	}
	return Evaluation{
		OverallScore: score,
		Confidence:   float64(score) / 100,
		Scores: Scores{
			Accuracy:      score,
			Completeness:  clampInt(score - 5),
			Understanding: clampInt(score + 5),
			Application:   clampInt(lo.Ternary(hasExamples, score+10, score-10)),
		},
		Strengths:         lo.Ternary(words > 50, []string{"Detailed explanation"}, []string{"Attempted explanation"}),
		Gaps:              gaps,
		Feedback:          lo.Ternary(score >= ReadyThreshold, heuristicGoodFeedback, heuristicWeakFeedback),
		SuggestedFollowUp: heuristicFollowUp,
		ReadyToAdvance:    score >= ReadyThreshold,
		Heuristic:         true,
	}
}

func clampInt(v int) int {
	return int(clamp(float64(v), 0, 100))
}
