package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/repo/repotest"
)

func addTurn(t *testing.T, db *gorm.DB, sessionID, conceptID, reply string, at time.Time) {
	t.Helper()
	in := &domain.Interaction{
		SessionID:       sessionID,
		ConceptID:       &conceptID,
		Role:            domain.RoleTutor.Persisted(),
		UserMessage:     "explain again",
		AIResponse:      reply,
		InteractionType: domain.InteractionExplanation,
		CreatedAt:       at,
	}
	if err := repo.CreateInteraction(context.Background(), db, in); err != nil {
		t.Fatalf("CreateInteraction: %v", err)
	}
}

func newStudySession(t *testing.T, db *gorm.DB, userID string, content *domain.Content, m *domain.LearningMap) *domain.LearningSession {
	t.Helper()
	sess, err := repo.CreateSession(context.Background(), db, userID, content.ID, &m.Concepts[0].ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func march(d, h int) time.Time { return time.Date(2026, time.March, d, h, 0, 0, 0, time.UTC) }

func TestProgressService_ConceptProgress(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, m := seedMap(t, db, "u1", "Recursion", "Iteration")
	sess := newStudySession(t, db, "u1", content, m)
	a := m.Concepts[0].ID

	addScored(t, db, sess.ID, a, 0.4, march(1, 9))
	addScored(t, db, sess.ID, a, 0.75, march(2, 9))
	addTurn(t, db, sess.ID, a, "```json\n{\"gaps\": [\"base case\", \"base case\"], \"missingConcepts\": [\"stack depth\"]}\n```", march(3, 9))
	addTurn(t, db, sess.ID, a, "Recursion is a function calling itself.", march(3, 10))

	svc := &ProgressService{DB: db}
	got, err := svc.ConceptProgress(ctx, "u1", a)
	if err != nil {
		t.Fatalf("ConceptProgress: %v", err)
	}
	wantHistory := []ConfidencePoint{{Confidence: 40, Date: march(1, 9)}, {Confidence: 75, Date: march(2, 9)}}
	if !reflect.DeepEqual(got.ConfidenceHistory, wantHistory) {
		t.Fatalf("history = %+v", got.ConfidenceHistory)
	}
	if got.Confidence != 75 || !got.Completed || !got.Started || got.InteractionCount != 4 || got.TimeSpentMinutes != 8 {
		t.Fatalf("progress = %+v", got)
	}
	if !reflect.DeepEqual(got.Gaps, []string{"base case", "stack depth"}) {
		t.Fatalf("gaps = %#v", got.Gaps)
	}
	if got.LastInteractionAt == nil || !got.LastInteractionAt.Equal(march(3, 10)) {
		t.Fatalf("last interaction = %v", got.LastInteractionAt)
	}

	fresh, err := svc.ConceptProgress(ctx, "u1", m.Concepts[1].ID)
	if err != nil {
		t.Fatalf("unstudied: %v", err)
	}
	if fresh.Started || fresh.Completed || fresh.LastInteractionAt != nil || fresh.Gaps == nil || fresh.ConfidenceHistory == nil {
		t.Fatalf("unstudied = %+v", fresh)
	}

	if _, err := svc.ConceptProgress(ctx, "u2", a); !errors.Is(err, ErrConceptNotFound) {
		t.Fatalf("foreign concept: %v", err)
	}
}

func TestProgressService_ContentProgressAndHistory(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, m := seedMap(t, db, "u1", "A", "B", "C", "D")
	sess := newStudySession(t, db, "u1", content, m)
	a, b, c := m.Concepts[0].ID, m.Concepts[1].ID, m.Concepts[2].ID

	addScored(t, db, sess.ID, a, 0.3, march(1, 9))
	addScored(t, db, sess.ID, a, 0.75, march(1, 10))
	addScored(t, db, sess.ID, b, 0.5, march(2, 9))
	addTurn(t, db, sess.ID, b, "more on B", march(2, 10))
	addScored(t, db, sess.ID, c, 0.9, march(3, 9))
	if err := db.Model(&domain.LearningSession{}).Where("id = ?", sess.ID).Update("total_time_minutes", 25).Error; err != nil {
		t.Fatalf("set time: %v", err)
	}

	svc := &ProgressService{DB: db}
	got, err := svc.ContentProgress(ctx, "u1", content.ID)
	if err != nil {
		t.Fatalf("ContentProgress: %v", err)
	}
	if got.TotalConcepts != 4 || got.CompletedConcepts != 2 || got.ProgressPercent != 50 || got.AverageConfidence != 72 || got.TotalTimeMinutes != 25 {
		t.Fatalf("progress = %+v", got)
	}
	if !reflect.DeepEqual(got.WeakAreas, []ConceptScore{{ConceptID: b, Title: "B", Confidence: 50}}) {
		t.Fatalf("weak = %+v", got.WeakAreas)
	}
	if !reflect.DeepEqual(got.MasteredAreas, []ConceptScore{{ConceptID: c, Title: "C", Confidence: 90}}) {
		t.Fatalf("mastered = %+v", got.MasteredAreas)
	}
	if got.LastSessionAt == nil {
		t.Fatal("last session missing")
	}

	points, err := svc.ConfidenceHistory(ctx, "u1", content.ID)
	if err != nil {
		t.Fatalf("ConfidenceHistory: %v", err)
	}
	want := []ConfidenceDataPoint{
		{Date: march(1, 9), Confidence: 30, ConceptTitle: "A"},
		{Date: march(1, 10), Confidence: 75, ConceptTitle: "A"},
		{Date: march(2, 9), Confidence: 50, ConceptTitle: "B"},
		{Date: march(3, 9), Confidence: 90, ConceptTitle: "C"},
	}
	if !reflect.DeepEqual(points, want) {
		t.Fatalf("history:\n got %+v\nwant %+v", points, want)
	}

	if _, err := svc.ContentProgress(ctx, "u2", content.ID); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("foreign content: %v", err)
	}
	if _, err := svc.ConfidenceHistory(ctx, "u2", content.ID); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("foreign history: %v", err)
	}
}

func TestProgressService_ContentWithoutMap(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, _ := seedMap(t, db, "u1")

	svc := &ProgressService{DB: db}
	got, err := svc.ContentProgress(ctx, "u1", content.ID)
	if err != nil {
		t.Fatalf("ContentProgress: %v", err)
	}
	want := &ContentProgress{ContentID: content.ID, ContentTitle: "Graphs", WeakAreas: []ConceptScore{}, MasteredAreas: []ConceptScore{}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v", got)
	}
	points, err := svc.ConfidenceHistory(ctx, "u1", content.ID)
	if err != nil || len(points) != 0 || points == nil {
		t.Fatalf("history = %v, %v", points, err)
	}
}

func TestProgressService_Summary(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	first, m1 := seedMap(t, db, "u1", "A", "B")
	second, m2 := seedMap(t, db, "u1", "X")
	seedMap(t, db, "u1", "Never opened")

	s1 := newStudySession(t, db, "u1", first, m1)
	s2 := newStudySession(t, db, "u1", second, m2)
	addScored(t, db, s1.ID, m1.Concepts[0].ID, 0.7, march(1, 9))
	addScored(t, db, s1.ID, m1.Concepts[1].ID, 0.4, march(1, 10))
	addScored(t, db, s2.ID, m2.Concepts[0].ID, 0.95, march(2, 9))
	for id, at := range map[string]time.Time{s1.ID: march(19, 8), s2.ID: march(20, 8)} {
		if err := db.Model(&domain.LearningSession{}).Where("id = ?", id).Updates(map[string]any{"last_active_at": at, "total_time_minutes": 10}).Error; err != nil {
			t.Fatalf("touch session: %v", err)
		}
	}

	svc := &ProgressService{DB: db, Now: func() time.Time { return march(20, 18) }}
	sum, err := svc.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalContents != 2 || sum.CompletedContents != 1 || sum.TotalConcepts != 3 || sum.CompletedConcepts != 2 {
		t.Fatalf("summary counts = %+v", sum)
	}
	// Averages per content are 55 and 95.
	if sum.AverageConfidence != 75 || sum.TotalTimeMinutes != 20 {
		t.Fatalf("summary totals = %+v", sum)
	}
	if sum.CurrentStreak != 2 || sum.LongestStreak != 2 {
		t.Fatalf("streaks = %d/%d", sum.CurrentStreak, sum.LongestStreak)
	}

	empty, err := svc.Summary(ctx, "nobody")
	if err != nil || empty.TotalContents != 0 || empty.Contents == nil || empty.CurrentStreak != 0 {
		t.Fatalf("empty summary = %+v, %v", empty, err)
	}
}

func TestStudyStreaks(t *testing.T) {
	at := func(days ...int) []domain.LearningSession {
		out := make([]domain.LearningSession, len(days))
		for i, d := range days {
			out[i] = domain.LearningSession{CreatedAt: march(d, 8)}
		}
		return out
	}
	cases := []struct {
		name              string
		sessions          []domain.LearningSession
		current, longest int
	}{
		{"none", nil, 0, 0},
		{"today only", at(20), 1, 1},
		{"ends yesterday", at(17, 18, 19), 3, 3},
		{"gap before today", at(10, 11, 12, 13, 20), 1, 4},
		{"lapsed", at(1, 2, 15), 0, 2},
		{"same day twice", at(19, 19, 20), 2, 2},
	}
	now := march(20, 23)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cur, long := studyStreaks(tc.sessions, now)
			if cur != tc.current || long != tc.longest {
				t.Fatalf("streaks = %d/%d, want %d/%d", cur, long, tc.current, tc.longest)
			}
		})
	}

	// LastActiveAt wins over CreatedAt.
	moved := []domain.LearningSession{{CreatedAt: march(1, 8), LastActiveAt: march(20, 8)}}
	if cur, _ := studyStreaks(moved, now); cur != 1 {
		t.Fatalf("last active ignored: %d", cur)
	}
}

func TestProgressService_Patterns(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, m := seedMap(t, db, "u1", "P", "Q")
	sess := newStudySession(t, db, "u1", content, m)
	p, q := m.Concepts[0].ID, m.Concepts[1].ID

	addScored(t, db, sess.ID, p, 0.3, march(1, 9))
	addScored(t, db, sess.ID, p, 0.2, march(1, 10))
	addScored(t, db, sess.ID, q, 0.4, march(2, 9))
	addScored(t, db, sess.ID, q, 0.9, march(2, 10))
	addTurn(t, db, sess.ID, q, "worked example", march(2, 11))

	svc := &ProgressService{DB: db}
	got, err := svc.Patterns(ctx, "u1", content.ID)
	if err != nil {
		t.Fatalf("Patterns: %v", err)
	}
	want := &PatternAnalysis{
		RepeatedMistakes:      []ConceptCount{{ConceptID: p, Title: "P", Count: 2}},
		AvgMinutesPerConcept:  5,
		QualityTrend:          TrendImproving,
		TotalInteractions:     5,
		LowConfidenceConcepts: []ConceptScore{{ConceptID: p, Title: "P", Confidence: 20}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("patterns:\n got %+v\nwant %+v", got, want)
	}

	if _, err := svc.Patterns(ctx, "u2", content.ID); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("foreign content: %v", err)
	}
}

func TestAdapt(t *testing.T) {
	scored := func(points ...float64) []domain.Interaction {
		out := make([]domain.Interaction, len(points))
		for i, v := range points {
			out[i] = domain.Interaction{ConfidenceScore: f64(v), CreatedAt: march(1+i, 9)}
		}
		return out
	}
	cases := []struct {
		name   string
		scored []domain.Interaction
		now    time.Time
		want   Adaptation
	}{
		{
			name: "no scores",
			now:  march(1, 9),
			want: Adaptation{Pace: PaceSlow, ExtraExamples: true,
				Reasoning: "Low confidence detected, slowing down with more detail. Additional examples needed for clarity."},
		},
		{
			name:   "mastered",
			scored: scored(0.8, 0.95),
			now:    march(3, 9),
			want: Adaptation{Pace: PaceFast, SkipSuggested: true, NextReviewDate: lo.ToPtr("2026-04-01"),
				Reasoning: "High mastery, can move faster. Content already mastered, skip available."},
		},
		{
			name:   "review due",
			scored: scored(0.6),
			now:    march(10, 9),
			want:   Adaptation{Pace: PaceNormal, ReviewDue: true, NextReviewDate: lo.ToPtr("2026-03-04"), Reasoning: "Spaced repetition review due."},
		},
		{
			name:   "struggling on average",
			scored: scored(0.3, 0.45, 0.55),
			now:    march(3, 10),
			want: Adaptation{Pace: PaceSlow, ExtraExamples: true, NextReviewDate: lo.ToPtr("2026-03-06"),
				Reasoning: "Low confidence detected, slowing down with more detail. Additional examples needed for clarity."},
		},
		{
			name:   "steady",
			scored: scored(0.7),
			now:    march(2, 9),
			want:   Adaptation{Pace: PaceNormal, NextReviewDate: lo.ToPtr("2026-03-08"), Reasoning: "Progressing normally."},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := adapt(tc.scored, tc.now); !reflect.DeepEqual(*got, tc.want) {
				t.Fatalf("adapt:\n got %+v\nwant %+v", *got, tc.want)
			}
		})
	}
}

func TestProgressService_AdaptationAndWeakAreas(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, m := seedMap(t, db, "u1", "P", "Q", "R")
	sess := newStudySession(t, db, "u1", content, m)
	p, q, r := m.Concepts[0].ID, m.Concepts[1].ID, m.Concepts[2].ID

	addScored(t, db, sess.ID, p, 0.2, march(18, 9))
	addScored(t, db, sess.ID, q, 0.9, march(18, 9))
	addScored(t, db, sess.ID, r, 0.9, march(19, 9))
	addScored(t, db, sess.ID, r, 0.55, march(20, 9))

	svc := &ProgressService{DB: db, Now: func() time.Time { return march(20, 12) }}
	weak, err := svc.WeakAreas(ctx, "u1", content.ID)
	if err != nil {
		t.Fatalf("WeakAreas: %v", err)
	}
	want := []WeakArea{
		{ConceptScore: ConceptScore{ConceptID: p, Title: "P", Confidence: 20}, ReviewDue: true},
		{ConceptScore: ConceptScore{ConceptID: r, Title: "R", Confidence: 55}, ReviewDue: false},
	}
	if !reflect.DeepEqual(weak, want) {
		t.Fatalf("weak:\n got %+v\nwant %+v", weak, want)
	}

	adv, err := svc.Adaptation(ctx, "u1", r)
	if err != nil {
		t.Fatalf("Adaptation: %v", err)
	}
	if adv.Pace != PaceNormal || adv.ExtraExamples || adv.ReviewDue || adv.NextReviewDate == nil || *adv.NextReviewDate != "2026-03-23" {
		t.Fatalf("adaptation = %+v", adv)
	}
	if _, err := svc.Adaptation(ctx, "u2", r); !errors.Is(err, ErrConceptNotFound) {
		t.Fatalf("foreign concept: %v", err)
	}
	if _, err := svc.WeakAreas(ctx, "u2", content.ID); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("foreign content: %v", err)
	}
}
