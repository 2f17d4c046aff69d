package services

import (
	"context"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/ai/orchestrator"
	"github.com/tbourn/go-tutor-backend/internal/ai/provider"
	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"
)

// fakeAI answers each role from a queue of replies (the last one repeats)
// and, like the real orchestrator, records an interaction when the request
// names a session.
type fakeAI struct {
	db *gorm.DB

	mu      sync.Mutex
	replies map[domain.Role][]string
	errs    map[domain.Role]error
	calls   []orchestrator.Request
}

func newFakeAI(db *gorm.DB) *fakeAI {
	return &fakeAI{db: db, replies: map[domain.Role][]string{}, errs: map[domain.Role]error{}}
}

func (f *fakeAI) reply(role domain.Role, contents ...string) *fakeAI {
	f.replies[role] = append(f.replies[role], contents...)
	return f
}

func (f *fakeAI) Orchestrate(ctx context.Context, userID string, req orchestrator.Request) (*orchestrator.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	err := f.errs[req.Role]
	content := ""
	if q := f.replies[req.Role]; len(q) > 0 {
		content = q[0]
		if len(q) > 1 {
			f.replies[req.Role] = q[1:]
		}
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp := &orchestrator.Response{Content: content, Role: req.Role, Provider: provider.OpenAI, Model: "fake"}
	if f.db == nil || req.SessionID == "" {
		return resp, nil
	}
	in := &domain.Interaction{
		SessionID:       req.SessionID,
		Role:            req.Role.Persisted(),
		UserMessage:     req.UserMessage,
		AIResponse:      content,
		InteractionType: req.InteractionType,
	}
	if req.ConceptID != "" {
		id := req.ConceptID
		in.ConceptID = &id
	}
	if in.InteractionType == "" {
		in.InteractionType = domain.InteractionExplanation
	}
	if req.Assess != nil {
		in.ConfidenceScore = req.Assess(content)
	}
	if err := repo.CreateInteraction(ctx, f.db, in); err != nil {
		return nil, err
	}
	resp.InteractionID, resp.SessionID = in.ID, req.SessionID
	return resp, nil
}

func (f *fakeAI) rolesCalled() []domain.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Role, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Role
	}
	return out
}

func (f *fakeAI) last() orchestrator.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// seedMap stores content owned by userID with one section per concept and a
// learning map with the given concept titles.
func seedMap(t *testing.T, db *gorm.DB, userID string, concepts ...string) (*domain.Content, *domain.LearningMap) {
	t.Helper()
	ctx := context.Background()
	secs := []repo.SectionInput{{Title: "Intro", Text: "Graphs are made of nodes and edges."}}
	c, err := repo.CreateContent(ctx, db, userID, "Graphs", "A short course", secs)
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	if len(concepts) == 0 {
		return c, nil
	}
	m := &domain.LearningMap{ContentID: c.ID}
	for _, title := range concepts {
		m.Concepts = append(m.Concepts, domain.Concept{Title: title, Description: title + " explained", Difficulty: 2})
	}
	if err := repo.ReplaceLearningMap(ctx, db, m); err != nil {
		t.Fatalf("ReplaceLearningMap: %v", err)
	}
	return c, m
}

func f64(v float64) *float64 { return &v }
