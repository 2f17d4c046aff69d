package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/ai/orchestrator"
	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	minConceptDifficulty = 1
	maxConceptDifficulty = 5

	// Reading pace used to size fallback concepts.
	wordsPerMinute     = 200
	minFallbackMinutes = 5
	fallbackDescClip   = 200
)

type rawConcept struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Difficulty       float64  `json:"difficulty"`
	EstimatedMinutes float64  `json:"estimatedMinutes"`
	Prerequisites    []string `json:"prerequisites"`
	KeyPoints        []string `json:"keyPoints"`
}

type rawLearningMap struct {
	Overview              string       `json:"overview"`
	TotalEstimatedMinutes float64      `json:"totalEstimatedMinutes"`
	Concepts              []rawConcept `json:"concepts"`
}

// PlannerService builds learning maps from content sections.
type PlannerService struct {
	DB *gorm.DB
	AI Orchestrator
}

// Generate asks the planner for a learning map of the user's content and
// stores it, replacing any previous map. Unfinished sessions on the content
// restart at the new first concept. When the model's output is unusable the
// map falls back to one concept per section.
func (s *PlannerService) Generate(ctx context.Context, userID, contentID string) (*domain.LearningMap, error) {
	tr := otel.Tracer("services/PlannerService")
	ctx, span := tr.Start(ctx, "Generate",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("content.id", contentID),
		),
	)
	defer span.End()

	content, err := repo.GetContent(ctx, s.DB, contentID, userID)
	if err != nil {
		return nil, lookupErr(err, ErrContentNotFound)
	}
	if len(content.Sections) == 0 {
		return nil, ErrNoSections
	}

	// The call is recorded on the user's ACTIVE session for the content,
	// opened here if needed; RepointSessions below moves it onto the new map.
	resp, err := s.AI.Orchestrate(ctx, userID, orchestrator.Request{
		Role:        domain.RolePlanner,
		ContentID:   contentID,
		UserMessage: "Generate a learning map for this content.",
		AdditionalContext: map[string]any{
			"contentTitle":       content.Title,
			"contentDescription": content.Description,
			"contentSections":    formatPlannerSections(content.Sections),
		},
		InteractionType: domain.InteractionPlanning,
	})
	if err != nil {
		return nil, err
	}

	m, ok := ParseLearningMap(resp.Content)
	if !ok {
		zerolog.Ctx(ctx).Warn().
			Str("content_id", contentID).
			Msg("planner output unusable, building map from sections")
		m = FallbackLearningMap(content)
	}
	m.ContentID = contentID
	if err := repo.ReplaceLearningMap(ctx, s.DB, m); err != nil {
		return nil, fmt.Errorf("store learning map: %w", err)
	}

	var first *string
	if len(m.Concepts) > 0 {
		first = &m.Concepts[0].ID
	}
	if n, err := repo.RepointSessions(ctx, s.DB, contentID, first); err != nil {
		return nil, fmt.Errorf("restart sessions: %w", err)
	} else if n > 0 {
		zerolog.Ctx(ctx).Info().Int64("sessions", n).Str("content_id", contentID).Msg("sessions restarted on new learning map")
	}
	return m, nil
}

// Get returns the learning map of the user's content.
func (s *PlannerService) Get(ctx context.Context, userID, contentID string) (*domain.LearningMap, error) {
	tr := otel.Tracer("services/PlannerService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("content.id", contentID),
		),
	)
	defer span.End()

	if _, err := repo.GetContent(ctx, s.DB, contentID, userID); err != nil {
		return nil, lookupErr(err, ErrContentNotFound)
	}
	m, err := repo.GetLearningMap(ctx, s.DB, contentID)
	if err != nil {
		return nil, lookupErr(err, ErrLearningMapNotFound)
	}
	return m, nil
}

// ParseLearningMap decodes planner output. ok is false when the output is not
// JSON or lists no concepts with a title.
func ParseLearningMap(content string) (*domain.LearningMap, bool) {
	var raw rawLearningMap
	if err := decodeAIJSON(content, &raw); err != nil {
		return nil, false
	}
	concepts := lo.Filter(raw.Concepts, func(c rawConcept, _ int) bool {
		return strings.TrimSpace(c.Title) != ""
	})
	if len(concepts) == 0 {
		return nil, false
	}

	m := &domain.LearningMap{
		Overview:          strings.TrimSpace(raw.Overview),
		EstimatedDuration: int(math.Round(math.Max(raw.TotalEstimatedMinutes, 0))),
	}
	sum := 0
	for _, c := range concepts {
		concept := domain.Concept{
			Title:            strings.TrimSpace(c.Title),
			Description:      strings.TrimSpace(c.Description),
			Difficulty:       int(math.Round(clamp(c.Difficulty, minConceptDifficulty, maxConceptDifficulty))),
			EstimatedMinutes: int(math.Round(math.Max(c.EstimatedMinutes, 0))),
			Prerequisites:    datatypes.JSONSlice[string](lo.Compact(c.Prerequisites)),
			KeyPoints:        datatypes.JSONSlice[string](lo.Compact(c.KeyPoints)),
		}
		sum += concept.EstimatedMinutes
		m.Concepts = append(m.Concepts, concept)
	}
	if m.EstimatedDuration == 0 {
		m.EstimatedDuration = sum
	}
	m.DifficultyLevel = DifficultyLevel(m.Concepts)
	return m, true
}

// FallbackLearningMap builds a map with one concept per section, in section
// order.
func FallbackLearningMap(content *domain.Content) *domain.LearningMap {
	m := &domain.LearningMap{
		Overview: fmt.Sprintf("Work through %q one section at a time.", content.Title),
	}
	for i, sec := range content.Sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = fmt.Sprintf("Section %d", i+1)
		}
		minutes := max(minFallbackMinutes, len(strings.Fields(sec.ContentText))/wordsPerMinute)
		m.Concepts = append(m.Concepts, domain.Concept{
			Title:            title,
			Description:      head(strings.TrimSpace(sec.ContentText), fallbackDescClip),
			Difficulty:       minConceptDifficulty,
			EstimatedMinutes: minutes,
			Prerequisites:    datatypes.JSONSlice[string]{},
			KeyPoints:        datatypes.JSONSlice[string]{},
		})
		m.EstimatedDuration += minutes
	}
	m.DifficultyLevel = DifficultyLevel(m.Concepts)
	return m
}

// DifficultyLevel bands the mean concept difficulty: below 2 is beginner,
// below 3.5 intermediate, otherwise advanced.
func DifficultyLevel(concepts []domain.Concept) string {
	if len(concepts) == 0 {
		return "beginner"
	}
	mean := lo.MeanBy(concepts, func(c domain.Concept) float64 { return float64(c.Difficulty) })
	switch {
	case mean < 2:
		return "beginner"
	case mean < 3.5:
		return "intermediate"
	}
	return "advanced"
}

func formatPlannerSections(sections []domain.ContentSection) string {
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = fmt.Sprintf("## Section %d: %s\n%s", i+1, s.Title, s.ContentText)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// lookupErr maps a missing row to notFound and passes other errors through.
func lookupErr(err, notFound error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound
	}
	return err
}
