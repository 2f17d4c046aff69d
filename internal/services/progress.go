package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// minutesPerInteraction estimates study time from interaction counts.
	minutesPerInteraction = 2
	maxConceptGaps        = 10
	weakBelow             = 60
	masteredFrom          = 80
)

// ConfidencePoint is one scored answer on a concept, 0..100.
type ConfidencePoint struct {
	Confidence int       `json:"confidence"`
	Date       time.Time `json:"date"`
}

// ConceptProgress is the user's standing on one concept.
type ConceptProgress struct {
	ConceptID         string            `json:"concept_id"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Difficulty        int               `json:"difficulty"`
	Started           bool              `json:"started"`
	Completed         bool              `json:"completed"`
	Confidence        int               `json:"confidence"`
	ConfidenceHistory []ConfidencePoint `json:"confidence_history"`
	TimeSpentMinutes  int               `json:"time_spent_minutes"`
	InteractionCount  int               `json:"interaction_count"`
	Gaps              []string          `json:"gaps"`
	LastInteractionAt *time.Time        `json:"last_interaction_at"`
}

// ConceptScore pairs a concept with its latest confidence, 0..100.
type ConceptScore struct {
	ConceptID  string `json:"concept_id"`
	Title      string `json:"title"`
	Confidence int    `json:"confidence"`
}

// ContentProgress aggregates the user's standing across a content's
// learning map.
type ContentProgress struct {
	ContentID         string         `json:"content_id"`
	ContentTitle      string         `json:"content_title"`
	TotalConcepts     int            `json:"total_concepts"`
	CompletedConcepts int            `json:"completed_concepts"`
	ProgressPercent   int            `json:"progress_percent"`
	AverageConfidence int            `json:"average_confidence"`
	TotalTimeMinutes  int            `json:"total_time_minutes"`
	WeakAreas         []ConceptScore `json:"weak_areas"`
	MasteredAreas     []ConceptScore `json:"mastered_areas"`
	LastSessionAt     *time.Time     `json:"last_session_at"`
}

// ProgressSummary aggregates every content the user has studied.
type ProgressSummary struct {
	TotalContents     int               `json:"total_contents"`
	CompletedContents int               `json:"completed_contents"`
	TotalConcepts     int               `json:"total_concepts"`
	CompletedConcepts int               `json:"completed_concepts"`
	AverageConfidence int               `json:"average_confidence"`
	TotalTimeMinutes  int               `json:"total_time_minutes"`
	CurrentStreak     int               `json:"current_streak"`
	LongestStreak     int               `json:"longest_streak"`
	Contents          []ContentProgress `json:"contents"`
}

// ConfidenceDataPoint is one scored answer within a content, for charts.
type ConfidenceDataPoint struct {
	Date         time.Time `json:"date"`
	Confidence   int       `json:"confidence"`
	ConceptTitle string    `json:"concept_title"`
}

// ProgressService derives learner progress, study patterns and pacing
// advice from recorded interactions. It never calls the AI.
type ProgressService struct {
	DB *gorm.DB

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *ProgressService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ConceptProgress reports the user's history on a concept of content they
// own.
func (s *ProgressService) ConceptProgress(ctx context.Context, userID, conceptID string) (*ConceptProgress, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "ConceptProgress",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("concept.id", conceptID),
		),
	)
	defer span.End()

	concept, err := repo.GetUserConcept(ctx, s.DB, conceptID, userID)
	if err != nil {
		return nil, lookupErr(err, ErrConceptNotFound)
	}
	log, err := repo.ListConceptInteractions(ctx, s.DB, userID, conceptID)
	if err != nil {
		return nil, err
	}

	history := []ConfidencePoint{}
	for _, in := range log {
		if in.ConfidenceScore != nil {
			history = append(history, ConfidencePoint{Confidence: percent(*in.ConfidenceScore), Date: in.CreatedAt.UTC()})
		}
	}
	out := &ConceptProgress{
		ConceptID:         concept.ID,
		Title:             concept.Title,
		Description:       concept.Description,
		Difficulty:        concept.Difficulty,
		Started:           len(log) > 0,
		ConfidenceHistory: history,
		TimeSpentMinutes:  len(log) * minutesPerInteraction,
		InteractionCount:  len(log),
		Gaps:              gapsFrom(log),
	}
	if n := len(history); n > 0 {
		out.Confidence = history[n-1].Confidence
	}
	out.Completed = out.Confidence >= ReadyThreshold
	if n := len(log); n > 0 {
		at := log[n-1].CreatedAt.UTC()
		out.LastInteractionAt = &at
	}
	return out, nil
}

// ContentProgress reports the user's standing across the learning map of a
// content they own. Content that was never planned reports zeros.
func (s *ProgressService) ContentProgress(ctx context.Context, userID, contentID string) (*ContentProgress, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "ContentProgress",
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
	return s.contentProgress(ctx, userID, content)
}

func (s *ProgressService) contentProgress(ctx context.Context, userID string, content *domain.Content) (*ContentProgress, error) {
	out := &ContentProgress{
		ContentID:     content.ID,
		ContentTitle:  content.Title,
		WeakAreas:     []ConceptScore{},
		MasteredAreas: []ConceptScore{},
	}
	m, err := repo.GetLearningMap(ctx, s.DB, content.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	log, err := repo.ListContentInteractions(ctx, s.DB, userID, content.ID)
	if err != nil {
		return nil, err
	}

	studied, latest := latestScores(log)
	var confidences []float64
	for _, c := range m.Concepts {
		score := ConceptScore{ConceptID: c.ID, Title: c.Title, Confidence: latest[c.ID]}
		if score.Confidence >= ReadyThreshold {
			out.CompletedConcepts++
		}
		if score.Confidence >= masteredFrom {
			out.MasteredAreas = append(out.MasteredAreas, score)
		}
		if !studied[c.ID] {
			continue
		}
		confidences = append(confidences, float64(score.Confidence))
		if score.Confidence < weakBelow {
			out.WeakAreas = append(out.WeakAreas, score)
		}
	}
	sort.SliceStable(out.WeakAreas, func(i, j int) bool { return out.WeakAreas[i].Confidence < out.WeakAreas[j].Confidence })
	sort.SliceStable(out.MasteredAreas, func(i, j int) bool { return out.MasteredAreas[i].Confidence > out.MasteredAreas[j].Confidence })

	out.TotalConcepts = len(m.Concepts)
	if len(confidences) > 0 {
		out.AverageConfidence = int(math.Round(lo.Mean(confidences)))
	}
	if out.TotalConcepts > 0 {
		out.ProgressPercent = int(math.Round(float64(out.CompletedConcepts) * 100 / float64(out.TotalConcepts)))
	}

	sessions, err := repo.ListUserSessions(ctx, s.DB, userID, content.ID)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		out.TotalTimeMinutes += sess.TotalTimeMinutes
		at := activeAt(sess)
		if out.LastSessionAt == nil || at.After(*out.LastSessionAt) {
			out.LastSessionAt = &at
		}
	}
	return out, nil
}

// Summary aggregates progress over every content the user has a session
// on, with study streaks counted in UTC days.
func (s *ProgressService) Summary(ctx context.Context, userID string) (*ProgressSummary, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "Summary", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	sessions, err := repo.ListUserSessions(ctx, s.DB, userID, "")
	if err != nil {
		return nil, err
	}
	out := &ProgressSummary{Contents: []ContentProgress{}}
	var averages []float64
	for _, contentID := range lo.Uniq(lo.Map(sessions, func(x domain.LearningSession, _ int) string { return x.ContentID })) {
		content, err := repo.GetContentByID(ctx, s.DB, contentID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cp, err := s.contentProgress(ctx, userID, content)
		if err != nil {
			return nil, err
		}
		out.Contents = append(out.Contents, *cp)
		out.TotalConcepts += cp.TotalConcepts
		out.CompletedConcepts += cp.CompletedConcepts
		out.TotalTimeMinutes += cp.TotalTimeMinutes
		if cp.ProgressPercent == 100 {
			out.CompletedContents++
		}
		if cp.AverageConfidence > 0 {
			averages = append(averages, float64(cp.AverageConfidence))
		}
	}
	out.TotalContents = len(out.Contents)
	if len(averages) > 0 {
		out.AverageConfidence = int(math.Round(lo.Mean(averages)))
	}
	out.CurrentStreak, out.LongestStreak = studyStreaks(sessions, s.now())
	return out, nil
}

// ConfidenceHistory lists every scored answer on the concepts of a content
// the user owns, oldest first.
func (s *ProgressService) ConfidenceHistory(ctx context.Context, userID, contentID string) ([]ConfidenceDataPoint, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "ConfidenceHistory",
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
	out := []ConfidenceDataPoint{}
	for _, in := range log {
		title, ok := titles[lo.FromPtr(in.ConceptID)]
		if !ok || in.ConfidenceScore == nil {
			continue
		}
		out = append(out, ConfidenceDataPoint{Date: in.CreatedAt.UTC(), Confidence: percent(*in.ConfidenceScore), ConceptTitle: title})
	}
	return out, nil
}

// contentLog checks that userID owns contentID and returns the concept
// titles of its learning map with the user's interactions on it, oldest
// first. Without a map both are empty.
func (s *ProgressService) contentLog(ctx context.Context, userID, contentID string) (map[string]string, []domain.Interaction, error) {
	if _, err := repo.GetContent(ctx, s.DB, contentID, userID); err != nil {
		return nil, nil, lookupErr(err, ErrContentNotFound)
	}
	m, err := repo.GetLearningMap(ctx, s.DB, contentID)
	if errors.Is(err, repo.ErrNotFound) {
		return map[string]string{}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	log, err := repo.ListContentInteractions(ctx, s.DB, userID, contentID)
	if err != nil {
		return nil, nil, err
	}
	titles := lo.SliceToMap(m.Concepts, func(c domain.Concept) (string, string) { return c.ID, c.Title })
	return titles, log, nil
}

// latestScores walks log oldest first and reports which concepts were
// studied and the latest confidence, 0..100, of each scored one.
func latestScores(log []domain.Interaction) (studied map[string]bool, latest map[string]int) {
	studied, latest = map[string]bool{}, map[string]int{}
	for _, in := range log {
		if in.ConceptID == nil {
			continue
		}
		studied[*in.ConceptID] = true
		if in.ConfidenceScore != nil {
			latest[*in.ConceptID] = percent(*in.ConfidenceScore)
		}
	}
	return studied, latest
}

// gapsFrom collects knowledge gaps named in JSON replies, first mention
// first, at most ten.
func gapsFrom(log []domain.Interaction) []string {
	var all []string
	for _, in := range log {
		var raw struct {
			Gaps            []string `json:"gaps"`
			WeakPoints      []string `json:"weakPoints"`
			MissingConcepts []string `json:"missingConcepts"`
		}
		if in.AIResponse == "" || decodeAIJSON(in.AIResponse, &raw) != nil {
			continue
		}
		all = append(all, raw.Gaps...)
		all = append(all, raw.WeakPoints...)
		all = append(all, raw.MissingConcepts...)
	}
	gaps := lo.Uniq(lo.Compact(all))
	if len(gaps) > maxConceptGaps {
		gaps = gaps[:maxConceptGaps]
	}
	return nonNil(gaps)
}

// studyStreaks counts consecutive UTC days with session activity. The
// current streak ends today, or yesterday when nothing happened yet today.
func studyStreaks(sessions []domain.LearningSession, now time.Time) (current, longest int) {
	active := map[int64]bool{}
	for _, sess := range sessions {
		active[dayNumber(activeAt(sess))] = true
	}
	if len(active) == 0 {
		return 0, 0
	}

	day := dayNumber(now)
	if !active[day] {
		day--
	}
	for active[day] {
		current++
		day--
	}

	days := lo.Keys(active)
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	run := 0
	for i, d := range days {
		if i > 0 && d == days[i-1]+1 {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
	}
	return current, longest
}

func activeAt(s domain.LearningSession) time.Time {
	if s.LastActiveAt.IsZero() {
		return s.CreatedAt.UTC()
	}
	return s.LastActiveAt.UTC()
}

func dayNumber(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func percent(score float64) int { return int(math.Round(score * 100)) }
