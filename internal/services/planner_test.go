package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/repo/repotest"
)

const plannerReply = `Here is the map:
{
  "overview": "From nodes to paths",
  "concepts": [
    {"title": "Nodes", "description": "Vertices", "difficulty": 9, "estimatedMinutes": 10},
    {"title": "Edges", "difficulty": 2, "estimatedMinutes": 5, "keyPoints": ["direction", ""], "prerequisites": ["Nodes"]},
    {"title": "   "}
  ]
}`

func TestPlannerService_Generate(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, _ := seedMap(t, db, "u1")
	ai := newFakeAI(db).reply(domain.RolePlanner, plannerReply)
	svc := &PlannerService{DB: db, AI: ai}

	m, err := svc.Generate(ctx, "u1", content.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(m.Concepts) != 2 || m.TotalConcepts != 2 {
		t.Fatalf("concepts = %+v", m.Concepts)
	}
	if m.Concepts[0].Difficulty != 5 || m.Concepts[1].ConceptOrder != 2 {
		t.Fatalf("concept normalization: %+v", m.Concepts)
	}
	if !reflect.DeepEqual([]string(m.Concepts[1].KeyPoints), []string{"direction"}) {
		t.Fatalf("key points = %#v", m.Concepts[1].KeyPoints)
	}
	if m.EstimatedDuration != 15 || m.DifficultyLevel != "advanced" || m.Overview != "From nodes to paths" {
		t.Fatalf("map fields: %+v", m)
	}

	req := ai.last()
	if req.ContentID != content.ID || req.SessionID != "" || req.InteractionType != domain.InteractionPlanning {
		t.Fatalf("planning should be recorded under its content: %+v", req)
	}
	if req.AdditionalContext["contentTitle"] != "Graphs" {
		t.Fatalf("context = %#v", req.AdditionalContext)
	}

	got, err := svc.Get(ctx, "u1", content.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != m.ID || len(got.Concepts) != 2 || got.Concepts[0].Title != "Nodes" {
		t.Fatalf("stored map: %+v", got)
	}
}

func TestPlannerService_Generate_FallsBackToSections(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, _ := seedMap(t, db, "u1")
	svc := &PlannerService{DB: db, AI: newFakeAI(db).reply(domain.RolePlanner, "I could not produce JSON, sorry.")}

	m, err := svc.Generate(ctx, "u1", content.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(m.Concepts) != 1 {
		t.Fatalf("want one concept per section, got %d", len(m.Concepts))
	}
	c := m.Concepts[0]
	if c.Title != "Intro" || c.Difficulty != 1 || c.EstimatedMinutes != 5 || c.Description != "Graphs are made of nodes and edges." {
		t.Fatalf("fallback concept: %+v", c)
	}
	if m.DifficultyLevel != "beginner" || m.EstimatedDuration != 5 {
		t.Fatalf("fallback map: %+v", m)
	}
}

func TestPlannerService_Generate_RestartsOpenSessions(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, old := seedMap(t, db, "u1", "A", "B")

	second := &old.Concepts[1].ID
	open, err := repo.CreateSession(ctx, db, "u1", content.ID, second)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	progress, state := 50, "decide_next"
	if err := repo.UpdateSession(ctx, db, open.ID, "u1", repo.SessionUpdate{Progress: &progress, State: &state}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	svc := &PlannerService{DB: db, AI: newFakeAI(db).reply(domain.RolePlanner, plannerReply)}
	m, err := svc.Generate(ctx, "u1", content.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	got, err := repo.GetSession(ctx, db, open.ID, "u1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.CurrentConceptID == nil || *got.CurrentConceptID != m.Concepts[0].ID {
		t.Fatalf("session not moved to the new first concept: %v", got.CurrentConceptID)
	}
	if got.Progress != 0 || got.State != "init" {
		t.Fatalf("session not restarted: progress=%d state=%s", got.Progress, got.State)
	}
}

func TestPlannerService_Errors(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, _ := seedMap(t, db, "u1")
	svc := &PlannerService{DB: db, AI: newFakeAI(db)}

	if _, err := svc.Generate(ctx, "u2", content.ID); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("other user: got %v", err)
	}
	if _, err := svc.Get(ctx, "u1", content.ID); !errors.Is(err, ErrLearningMapNotFound) {
		t.Fatalf("unplanned content: got %v", err)
	}

	empty, err := repo.CreateContent(ctx, db, "u1", "Empty", "", nil)
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	if _, err := svc.Generate(ctx, "u1", empty.ID); !errors.Is(err, ErrNoSections) {
		t.Fatalf("no sections: got %v", err)
	}
	if !errors.Is(ErrNoSections, domain.ErrValidation) {
		t.Fatalf("ErrNoSections must be a validation error")
	}
}

func TestDifficultyLevel(t *testing.T) {
	mk := func(ds ...int) []domain.Concept {
		out := make([]domain.Concept, len(ds))
		for i, d := range ds {
			out[i].Difficulty = d
		}
		return out
	}
	cases := []struct {
		concepts []domain.Concept
		want     string
	}{
		{nil, "beginner"},
		{mk(1, 2), "beginner"},
		{mk(2, 2), "intermediate"},
		{mk(3, 4), "advanced"},
		{mk(5, 2), "advanced"},
	}
	for _, tc := range cases {
		if got := DifficultyLevel(tc.concepts); got != tc.want {
			t.Fatalf("DifficultyLevel(%v) = %s, want %s", tc.concepts, got, tc.want)
		}
	}
}
