package services

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Pacing advice.
const (
	PaceSlow   = "slow"
	PaceNormal = "normal"
	PaceFast   = "fast"
)

const mistakeBelow = 0.5

// ConceptCount pairs a concept with how often something happened on it.
type ConceptCount struct {
	ConceptID string `json:"concept_id"`
	Title     string `json:"title"`
	Count     int    `json:"count"`
}

// PatternAnalysis describes how the user studies a content.
type PatternAnalysis struct {
	RepeatedMistakes      []ConceptCount `json:"repeated_mistakes"`
	AvgMinutesPerConcept  int            `json:"avg_minutes_per_concept"`
	QualityTrend          string         `json:"quality_trend"`
	TotalInteractions     int            `json:"total_interactions"`
	LowConfidenceConcepts []ConceptScore `json:"low_confidence_concepts"`
}

// Adaptation is pacing advice for the next turn on a concept.
type Adaptation struct {
	Pace           string  `json:"pace"`
	ExtraExamples  bool    `json:"extra_examples"`
	SkipSuggested  bool    `json:"skip_suggested"`
	ReviewDue      bool    `json:"review_due"`
	NextReviewDate *string `json:"next_review_date"`
	Reasoning      string  `json:"reasoning"`
}

// WeakArea is a concept whose latest score is below 60.
type WeakArea struct {
	ConceptScore
	ReviewDue bool `json:"review_due"`
}

// Patterns analyzes the user's interactions on a content they own: concepts
// failed more than once, time per concept, the score trend and the concepts
// still below 60.
func (s *ProgressService) Patterns(ctx context.Context, userID, contentID string) (*PatternAnalysis, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "Patterns",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("content.id", contentID),
		),
	)
	defer span.End()

	titles, log, err := s.contentLog(ctx, userID, contentID)
	if err != nil {
		return nil, err
	}
	// Concepts dropped by a regenerated map no longer count.
	log = lo.Filter(log, func(in domain.Interaction, _ int) bool {
		_, ok := titles[lo.FromPtr(in.ConceptID)]
		return ok
	})

	out := &PatternAnalysis{
		RepeatedMistakes:      []ConceptCount{},
		QualityTrend:          TrendStable,
		TotalInteractions:     len(log),
		LowConfidenceConcepts: []ConceptScore{},
	}

	var order []string
	mistakes := map[string]int{}
	var scores []float64
	for _, in := range log {
		if in.ConfidenceScore == nil {
			continue
		}
		scores = append(scores, *in.ConfidenceScore)
		if *in.ConfidenceScore < mistakeBelow {
			if mistakes[*in.ConceptID] == 0 {
				order = append(order, *in.ConceptID)
			}
			mistakes[*in.ConceptID]++
		}
	}
	for _, id := range order {
		if mistakes[id] > 1 {
			out.RepeatedMistakes = append(out.RepeatedMistakes, ConceptCount{ConceptID: id, Title: titles[id], Count: mistakes[id]})
		}
	}
	sort.SliceStable(out.RepeatedMistakes, func(i, j int) bool { return out.RepeatedMistakes[i].Count > out.RepeatedMistakes[j].Count })

	if n := len(lo.UniqBy(log, func(in domain.Interaction) string { return *in.ConceptID })); n > 0 {
		out.AvgMinutesPerConcept = int(math.Round(float64(len(log)*minutesPerInteraction) / float64(n)))
	}
	out.QualityTrend = Trend(scores)

	_, latest := latestScores(log)
	for _, c := range lo.Keys(latest) {
		if latest[c] < weakBelow {
			out.LowConfidenceConcepts = append(out.LowConfidenceConcepts, ConceptScore{ConceptID: c, Title: titles[c], Confidence: latest[c]})
		}
	}
	sort.Slice(out.LowConfidenceConcepts, func(i, j int) bool {
		a, b := out.LowConfidenceConcepts[i], out.LowConfidenceConcepts[j]
		if a.Confidence != b.Confidence {
			return a.Confidence < b.Confidence
		}
		return a.ConceptID < b.ConceptID
	})
	return out, nil
}

// Adaptation advises pace and review for a concept of content the user
// owns, from their scores on it.
func (s *ProgressService) Adaptation(ctx context.Context, userID, conceptID string) (*Adaptation, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "Adaptation",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("concept.id", conceptID),
		),
	)
	defer span.End()

	if _, err := repo.GetUserConcept(ctx, s.DB, conceptID, userID); err != nil {
		return nil, lookupErr(err, ErrConceptNotFound)
	}
	log, err := repo.ListConceptInteractions(ctx, s.DB, userID, conceptID)
	if err != nil {
		return nil, err
	}
	scored := lo.Filter(log, func(in domain.Interaction, _ int) bool { return in.ConfidenceScore != nil })
	return adapt(scored, s.now()), nil
}

// adapt applies the pacing rules to scored interactions, oldest first.
func adapt(scored []domain.Interaction, now time.Time) *Adaptation {
	out := &Adaptation{Pace: PaceNormal}
	var latest, avg float64
	n := len(scored)
	if n > 0 {
		last := scored[n-1]
		latest = *last.ConfidenceScore
		avg = lo.MeanBy(scored, func(in domain.Interaction) float64 { return *in.ConfidenceScore })

		due := last.CreatedAt.UTC().AddDate(0, 0, ReviewInterval(latest))
		out.ReviewDue = !now.Before(due)
		out.NextReviewDate = lo.ToPtr(due.Format(dateLayout))
	}

	switch {
	case latest < 0.4 || (n > 2 && avg < 0.5):
		out.Pace = PaceSlow
	case latest > 0.85 && avg > 0.75:
		out.Pace = PaceFast
	}
	out.ExtraExamples = latest < 0.5 || (n > 1 && avg < 0.6)
	out.SkipSuggested = latest > 0.9 && n >= 2

	var reasons []string
	switch out.Pace {
	case PaceSlow:
		reasons = append(reasons, "Low confidence detected, slowing down with more detail")
	case PaceFast:
		reasons = append(reasons, "High mastery, can move faster")
	}
	if out.ExtraExamples {
		reasons = append(reasons, "Additional examples needed for clarity")
	}
	if out.SkipSuggested {
		reasons = append(reasons, "Content already mastered, skip available")
	}
	if out.ReviewDue {
		reasons = append(reasons, "Spaced repetition review due")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "Progressing normally")
	}
	out.Reasoning = strings.Join(reasons, ". ") + "."
	return out
}

// WeakAreas lists the concepts of a content the user owns whose latest
// score is below 60, weakest first, flagging those due for review.
func (s *ProgressService) WeakAreas(ctx context.Context, userID, contentID string) ([]WeakArea, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "WeakAreas",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("content.id", contentID),
		),
	)
	defer span.End()

	titles, log, err := s.contentLog(ctx, userID, contentID)
	if err != nil {
		return nil, err
	}
	// The newest scored interaction per concept, keyed by concept.
	latest := map[string]domain.Interaction{}
	for _, in := range log {
		if in.ConceptID != nil && in.ConfidenceScore != nil {
			latest[*in.ConceptID] = in
		}
	}

	now := s.now()
	out := []WeakArea{}
	for id, in := range latest {
		title, ok := titles[id]
		if !ok || *in.ConfidenceScore >= 0.6 {
			continue
		}
		days := int(now.Sub(in.CreatedAt.UTC()).Hours() / 24)
		out = append(out, WeakArea{
			ConceptScore: ConceptScore{ConceptID: id, Title: title, Confidence: percent(*in.ConfidenceScore)},
			ReviewDue:    days >= ReviewInterval(*in.ConfidenceScore),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence < out[j].Confidence
		}
		return out[i].ConceptID < out[j].ConceptID
	})
	return out, nil
}
