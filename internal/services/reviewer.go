package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
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
	summaryLogSize     = 20
	summaryMessageClip = 200
	reviewFallbackClip = 500
	weeklySessionLines = 10
	trendMinScores     = 4
	trendDelta         = 0.1
	dateLayout         = "2006-01-02"
)

// Progress trends.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)

// Review priorities, in schedule order.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// ConceptConfidence is the latest confidence recorded on a concept, 0..100.
type ConceptConfidence struct {
	Concept    string `json:"concept"`
	Confidence int    `json:"confidence"`
}

// SessionSummary recaps one learning session.
type SessionSummary struct {
	SessionID          string              `json:"session_id"`
	ContentTitle       string              `json:"content_title"`
	ConceptsCovered    []string            `json:"concepts_covered"`
	Strengths          []string            `json:"strengths"`
	WeakPoints         []string            `json:"weak_points"`
	KeyTakeaways       []string            `json:"key_takeaways"`
	ConfidenceOverview []ConceptConfidence `json:"confidence_overview"`
	SuggestedNextSteps []string            `json:"suggested_next_steps"`
	OverallScore       int                 `json:"overall_score"`
	TimeSpentMinutes   int                 `json:"time_spent_minutes"`
}

// WeeklyReport recaps the user's last seven days.
type WeeklyReport struct {
	WeekStarting        string   `json:"week_starting"`
	TotalSessions       int      `json:"total_sessions"`
	TotalTimeMinutes    int      `json:"total_time_minutes"`
	ConceptsLearned     int      `json:"concepts_learned"`
	AverageConfidence   int      `json:"average_confidence"`
	TopStrengths        []string `json:"top_strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	Recommendations     []string `json:"recommendations"`
	ProgressTrend       string   `json:"progress_trend"`
}

// ReviewItem is one concept in the spaced-repetition schedule.
type ReviewItem struct {
	ConceptID     string `json:"concept_id"`
	ConceptTitle  string `json:"concept_title"`
	LastReviewed  string `json:"last_reviewed"`
	Confidence    int    `json:"confidence"`
	ReviewDueDate string `json:"review_due_date"`
	Priority      string `json:"priority"`
}

type rawSummary struct {
	Strengths          []string `json:"strengths"`
	WeakPoints         []string `json:"weakPoints"`
	KeyTakeaways       []string `json:"keyTakeaways"`
	SuggestedNextSteps []string `json:"suggestedNextSteps"`
	OverallScore       float64  `json:"overallScore"`
}

type rawWeekly struct {
	TopStrengths        []string `json:"topStrengths"`
	AreasForImprovement []string `json:"areasForImprovement"`
	Recommendations     []string `json:"recommendations"`
}

// ReviewerService produces summaries, weekly reports and review schedules
// from recorded interactions.
type ReviewerService struct {
	DB *gorm.DB
	AI Orchestrator

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *ReviewerService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// SessionSummary asks the reviewer to recap a session owned by userID. When
// the reply is not usable JSON its first 500 characters become the only key
// takeaway.
func (s *ReviewerService) SessionSummary(ctx context.Context, userID, sessionID string) (*SessionSummary, error) {
	tr := otel.Tracer("services/ReviewerService")
	ctx, span := tr.Start(ctx, "SessionSummary",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("session.id", sessionID),
		),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID, userID)
	if err != nil {
		return nil, lookupErr(err, ErrSessionNotFound)
	}
	content, err := repo.GetContentByID(ctx, s.DB, sess.ContentID)
	if err != nil {
		return nil, lookupErr(err, ErrContentNotFound)
	}
	log, err := repo.ListInteractions(ctx, s.DB, sessionID)
	if err != nil {
		return nil, err
	}
	titles, err := s.conceptTitles(ctx, log)
	if err != nil {
		return nil, err
	}

	var covered []string
	for _, in := range log {
		if t, ok := titles[lo.FromPtr(in.ConceptID)]; ok {
			covered = append(covered, t)
		}
	}
	covered = lo.Uniq(covered)

	lines := make([]string, 0, summaryLogSize)
	for _, in := range log[max(0, len(log)-summaryLogSize):] {
		score := "N/A"
		if in.ConfidenceScore != nil {
			score = fmt.Sprint(*in.ConfidenceScore)
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s → score: %s", in.Role, in.InteractionType, head(in.UserMessage, summaryMessageClip), score))
	}

	msg := fmt.Sprintf("Generate a session summary. Here is the interaction data:\n\n"+
		"Content: %s\nConcepts covered: %s\nTotal interactions: %d\nTime spent: %d minutes\n\n"+
		"Interaction log:\n%s",
		content.Title, strings.Join(covered, ", "), len(log), sess.TotalTimeMinutes, strings.Join(lines, "\n"))

	resp, err := s.AI.Orchestrate(ctx, userID, orchestrator.Request{
		Role:        domain.RoleReviewer,
		ContentID:   sess.ContentID,
		SessionID:   sessionID,
		UserMessage: msg,
		AdditionalContext: map[string]any{
			"sessionState": string(sess.Status),
			"timeSpent":    sess.TotalTimeMinutes,
		},
		InteractionType: domain.InteractionReview,
	})
	if err != nil {
		return nil, err
	}

	out := &SessionSummary{
		SessionID:          sessionID,
		ContentTitle:       content.Title,
		ConceptsCovered:    nonNil(covered),
		ConfidenceOverview: confidenceOverview(log, titles),
		TimeSpentMinutes:   sess.TotalTimeMinutes,
	}
	var raw rawSummary
	if err := decodeAIJSON(resp.Content, &raw); err != nil {
		out.Strengths, out.WeakPoints, out.SuggestedNextSteps = []string{}, []string{}, []string{}
		out.KeyTakeaways = []string{head(resp.Content, reviewFallbackClip)}
		return out, nil
	}
	out.Strengths = nonNil(raw.Strengths)
	out.WeakPoints = nonNil(raw.WeakPoints)
	out.KeyTakeaways = nonNil(raw.KeyTakeaways)
	out.SuggestedNextSteps = nonNil(raw.SuggestedNextSteps)
	out.OverallScore = int(math.Round(clamp(raw.OverallScore, 0, 100)))
	return out, nil
}

// WeeklyReport aggregates the sessions the user started in the last seven
// days and asks the reviewer for recommendations. When the reply is not
// usable JSON its first 500 characters become the only recommendation.
func (s *ReviewerService) WeeklyReport(ctx context.Context, userID string) (*WeeklyReport, error) {
	tr := otel.Tracer("services/ReviewerService")
	ctx, span := tr.Start(ctx, "WeeklyReport",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	since := s.now().AddDate(0, 0, -7)
	sessions, err := repo.ListSessionsSince(ctx, s.DB, userID, since)
	if err != nil {
		return nil, err
	}
	ids := lo.Map(sessions, func(x domain.LearningSession, _ int) string { return x.ID })

	counts, err := repo.CountInteractionsBySession(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	conceptIDs, err := repo.ListSessionConceptIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	concepts, err := repo.GetConceptsByIDs(ctx, s.DB, conceptIDs)
	if err != nil {
		return nil, err
	}
	scores, err := repo.ListSessionConfidences(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}

	report := &WeeklyReport{
		WeekStarting:     since.Format(dateLayout),
		TotalSessions:    len(sessions),
		TotalTimeMinutes: lo.SumBy(sessions, func(x domain.LearningSession) int { return x.TotalTimeMinutes }),
		ConceptsLearned:  len(lo.Uniq(lo.Map(concepts, func(c domain.Concept, _ int) string { return c.Title }))),
		ProgressTrend:    Trend(scores),
	}
	if len(scores) > 0 {
		report.AverageConfidence = int(math.Round(lo.Mean(scores) * 100))
	}

	lines := make([]string, 0, weeklySessionLines)
	for _, sess := range sessions[:min(len(sessions), weeklySessionLines)] {
		title := sess.ContentID
		if c, err := repo.GetContentByID(ctx, s.DB, sess.ContentID); err == nil {
			title = c.Title
		}
		lines = append(lines, fmt.Sprintf("- %s: %d interactions, %d min, status: %s",
			title, counts[sess.ID], sess.TotalTimeMinutes, sess.Status))
	}

	msg := fmt.Sprintf("Generate a weekly learning report.\n\nStats:\n"+
		"- Sessions: %d\n- Total time: %d minutes\n- Concepts covered: %d\n- Average confidence: %d%%\n- Trend: %s\n\n"+
		"Sessions this week:\n%s",
		report.TotalSessions, report.TotalTimeMinutes, report.ConceptsLearned, report.AverageConfidence,
		report.ProgressTrend, strings.Join(lines, "\n"))

	resp, err := s.AI.Orchestrate(ctx, userID, orchestrator.Request{
		Role:            domain.RoleReviewer,
		UserMessage:     msg,
		InteractionType: domain.InteractionReview,
	})
	if err != nil {
		return nil, err
	}

	var raw rawWeekly
	if err := decodeAIJSON(resp.Content, &raw); err != nil {
		report.TopStrengths, report.AreasForImprovement = []string{}, []string{}
		report.Recommendations = []string{head(resp.Content, reviewFallbackClip)}
		return report, nil
	}
	report.TopStrengths = nonNil(raw.TopStrengths)
	report.AreasForImprovement = nonNil(raw.AreasForImprovement)
	report.Recommendations = nonNil(raw.Recommendations)
	return report, nil
}

// ReviewSchedule lists every concept the user has a confidence score on,
// with a due date from the latest score: high priority first, then by due
// date.
func (s *ReviewerService) ReviewSchedule(ctx context.Context, userID string) ([]ReviewItem, error) {
	tr := otel.Tracer("services/ReviewerService")
	ctx, span := tr.Start(ctx, "ReviewSchedule",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	scored, err := repo.ListScoredInteractions(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	// scored is newest first, so the first hit per concept is the latest.
	latest := lo.UniqBy(scored, func(in domain.Interaction) string { return *in.ConceptID })
	titles, err := s.conceptTitles(ctx, latest)
	if err != nil {
		return nil, err
	}

	now := s.now()
	items := make([]ReviewItem, 0, len(latest))
	for _, in := range latest {
		title, ok := titles[*in.ConceptID]
		if !ok {
			// The concept went away with a regenerated learning map.
			continue
		}
		confidence := int(math.Round(*in.ConfidenceScore * 100))
		reviewed := in.CreatedAt.UTC()
		due := reviewed.AddDate(0, 0, ReviewInterval(float64(confidence)/100))

		priority := PriorityLow
		switch {
		case confidence < 50 || !now.Before(due):
			priority = PriorityHigh
		case confidence < ReadyThreshold:
			priority = PriorityMedium
		}
		items = append(items, ReviewItem{
			ConceptID:     *in.ConceptID,
			ConceptTitle:  title,
			LastReviewed:  reviewed.Format(dateLayout),
			Confidence:    confidence,
			ReviewDueDate: due.Format(dateLayout),
			Priority:      priority,
		})
	}

	rank := map[string]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}
	sort.SliceStable(items, func(i, j int) bool {
		if rank[items[i].Priority] != rank[items[j].Priority] {
			return rank[items[i].Priority] < rank[items[j].Priority]
		}
		return items[i].ReviewDueDate < items[j].ReviewDueDate
	})
	return items, nil
}

// ReviewInterval returns the days until a concept at confidence (0..1)
// should be reviewed again. Lower bounds are inclusive.
func ReviewInterval(confidence float64) int {
	switch {
	case confidence >= 0.9:
		return 30
	case confidence >= 0.8:
		return 14
	case confidence >= 0.7:
		return 7
	case confidence >= 0.5:
		return 3
	}
	return 1
}

// Trend compares the mean of the first half of scores with the second half.
// Fewer than four scores, or a shift within 0.1, is stable.
func Trend(scores []float64) string {
	if len(scores) < trendMinScores {
		return TrendStable
	}
	half := len(scores) / 2
	delta := lo.Mean(scores[half:]) - lo.Mean(scores[:half])
	switch {
	case delta > trendDelta:
		return TrendImproving
	case delta < -trendDelta:
		return TrendDeclining
	}
	return TrendStable
}

// conceptTitles resolves the concept ids referenced by log to titles.
func (s *ReviewerService) conceptTitles(ctx context.Context, log []domain.Interaction) (map[string]string, error) {
	ids := lo.Uniq(lo.FilterMap(log, func(in domain.Interaction, _ int) (string, bool) {
		return lo.FromPtr(in.ConceptID), in.ConceptID != nil
	}))
	concepts, err := repo.GetConceptsByIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	return lo.SliceToMap(concepts, func(c domain.Concept) (string, string) { return c.ID, c.Title }), nil
}

// confidenceOverview keeps the latest score per concept title, in order of
// first appearance.
func confidenceOverview(log []domain.Interaction, titles map[string]string) []ConceptConfidence {
	out := []ConceptConfidence{}
	index := map[string]int{}
	for _, in := range log {
		title, ok := titles[lo.FromPtr(in.ConceptID)]
		if !ok || in.ConfidenceScore == nil {
			continue
		}
		c := int(math.Round(*in.ConfidenceScore * 100))
		if i, seen := index[title]; seen {
			out[i].Confidence = c
			continue
		}
		index[title] = len(out)
		out = append(out, ConceptConfidence{Concept: title, Confidence: c})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
