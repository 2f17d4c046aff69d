package orchestrator

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/ai"
	"github.com/tbourn/go-tutor-backend/internal/ai/assembler"
	"github.com/tbourn/go-tutor-backend/internal/ai/prompt"
	"github.com/tbourn/go-tutor-backend/internal/ai/provider"
	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/lock"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/repo/repotest"
)

type recordingProvider struct {
	name    provider.Name
	content string
	err     error
	system  string
	user    string
	opts    provider.Options
	calls   int
}

func (p *recordingProvider) Name() provider.Name { return p.name }
func (p *recordingProvider) Available() bool     { return true }
func (p *recordingProvider) Call(_ context.Context, system, user string, opts provider.Options) (*provider.Response, error) {
	p.calls++
	p.system, p.user, p.opts = system, user, opts
	if p.err != nil {
		return nil, p.err
	}
	return &provider.Response{
		Content:  p.content,
		Usage:    provider.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000},
		Model:    "m-" + string(p.name),
		Provider: p.name,
	}, nil
}

type env struct {
	db     *gorm.DB
	o      *Orchestrator
	openai *recordingProvider
	ds     *recordingProvider
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	for _, r := range domain.Roles {
		d := filepath.Join(dir, string(r))
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
		tmpl := string(r) + " | msg={{userMessage}} | concept={{conceptTitle}} | extra={{extra}} | title={{contentTitle}}"
		if err := os.WriteFile(filepath.Join(d, "v1.txt"), []byte(tmpl), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	db := repotest.NewDB(t)
	oa := &recordingProvider{name: provider.OpenAI, content: "openai says hi"}
	ds := &recordingProvider{name: provider.DeepSeek, content: "deepseek says hi"}
	o := &Orchestrator{
		DB:       db,
		Context:  assembler.New(db, nil),
		Prompts:  prompt.NewStore(dir, 0),
		Dispatch: &ai.Router{OpenAI: oa, DeepSeek: ds},
		Locks:    lock.NewLocal(0),
	}
	return env{db: db, o: o, openai: oa, ds: ds}
}

func seedContent(t *testing.T, db *gorm.DB, userID string, concepts ...string) (*domain.Content, *domain.LearningMap) {
	t.Helper()
	ctx := context.Background()
	c, err := repo.CreateContent(ctx, db, userID, "Graphs", "desc", []repo.SectionInput{{Title: "s", Text: "t"}})
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	m := &domain.LearningMap{ContentID: c.ID}
	for _, title := range concepts {
		m.Concepts = append(m.Concepts, domain.Concept{Title: title, Difficulty: 1})
	}
	if err := repo.ReplaceLearningMap(ctx, db, m); err != nil {
		t.Fatalf("ReplaceLearningMap: %v", err)
	}
	return c, m
}

func countSessions(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	n, err := repo.CountSessions(context.Background(), db, userID)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestOrchestrate_NoContentPersistsNothing(t *testing.T) {
	e := newEnv(t)
	resp, err := e.o.Orchestrate(context.Background(), "u1", Request{
		Role:              domain.RoleTutor,
		UserMessage:       "what is a graph?",
		AdditionalContext: prompt.Context{"extra": "E", FieldUserMessage: "ignored"},
	})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if resp.InteractionID != "" || resp.SessionID != "" {
		t.Fatalf("nothing should be persisted: %+v", resp)
	}
	if e.ds.system != "tutor | msg=what is a graph? | concept= | extra=E | title=" {
		t.Fatalf("system prompt = %q", e.ds.system)
	}
	if e.ds.user != "what is a graph?" || e.ds.opts.Format != provider.FormatText {
		t.Fatalf("dispatch = %q %+v", e.ds.user, e.ds.opts)
	}
	if resp.Provider != provider.DeepSeek || resp.PromptVersion != "v1" || resp.Model != "m-deepseek" {
		t.Fatalf("resp = %+v", resp)
	}
	if math.Abs(resp.Usage.EstimatedCost-0.0003) > 1e-12 || resp.Usage.TotalTokens != 2000 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestOrchestrate_CreatesThenReusesSession(t *testing.T) {
	e := newEnv(t)
	c, m := seedContent(t, e.db, "u1", "Nodes", "Edges")
	ctx := context.Background()

	first, err := e.o.Orchestrate(ctx, "u1", Request{Role: domain.RoleExaminer, ContentID: c.ID, UserMessage: "hi"})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if first.SessionID == "" || first.InteractionID == "" {
		t.Fatalf("expected a session and interaction: %+v", first)
	}
	if n := countSessions(t, e.db, "u1"); n != 1 {
		t.Fatalf("sessions = %d", n)
	}
	s, _ := repo.GetSessionByID(ctx, e.db, first.SessionID)
	if s.State != "init" || s.CurrentConceptID == nil || *s.CurrentConceptID != m.Concepts[0].ID {
		t.Fatalf("new session = %+v", s)
	}

	second, err := e.o.Orchestrate(ctx, "u1", Request{Role: domain.RoleExaminer, ContentID: c.ID, UserMessage: "again"})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("session not reused: %s vs %s", second.SessionID, first.SessionID)
	}
	if n := countSessions(t, e.db, "u1"); n != 1 {
		t.Fatalf("sessions = %d", n)
	}
	if e.openai.system != "examiner | msg=again | concept= | extra= | title=Graphs" {
		t.Fatalf("assembled context missing: %q", e.openai.system)
	}
}

func TestOrchestrate_RecordsInteraction(t *testing.T) {
	e := newEnv(t)
	c, m := seedContent(t, e.db, "u1", "Nodes")
	ctx := context.Background()
	s, _ := repo.CreateSession(ctx, e.db, "u1", c.ID, &m.Concepts[0].ID)

	score := 0.8
	long := strings.Repeat("é", MaxUserMessageRunes+5)
	resp, err := e.o.Orchestrate(ctx, "u1", Request{
		Role:              domain.RoleExaminer,
		ContentID:         c.ID,
		ConceptID:         m.Concepts[0].ID,
		SessionID:         s.ID,
		UserMessage:       long,
		AdditionalContext: prompt.Context{"conceptTitle": "overridden"},
		InteractionType:   domain.InteractionEvaluation,
		Assess:            func(string) *float64 { return &score },
	})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if !strings.Contains(e.openai.system, "concept=Nodes") {
		t.Fatalf("assembled concept should override caller context: %q", e.openai.system)
	}

	list, _ := repo.ListInteractions(ctx, e.db, s.ID)
	if len(list) != 1 || list[0].ID != resp.InteractionID {
		t.Fatalf("interactions = %+v", list)
	}
	in := list[0]
	if in.Role != "EXAMINER" || in.InteractionType != domain.InteractionEvaluation || in.TokensUsed != 2000 ||
		in.Provider != "openai" || in.PromptVersion != "v1" || in.ConfidenceScore == nil || *in.ConfidenceScore != 0.8 {
		t.Fatalf("interaction = %+v", in)
	}
	if in.ConceptID == nil || *in.ConceptID != m.Concepts[0].ID {
		t.Fatalf("concept id = %v", in.ConceptID)
	}
	if n := len([]rune(in.UserMessage)); n != MaxUserMessageRunes {
		t.Fatalf("user message runes = %d", n)
	}
}

func TestOrchestrate_PlanningIsRecordedUnderContent(t *testing.T) {
	e := newEnv(t)
	c, _ := seedContent(t, e.db, "u1")
	ctx := context.Background()

	resp, err := e.o.Orchestrate(ctx, "u1", Request{
		Role:            domain.RolePlanner,
		ContentID:       c.ID,
		UserMessage:     "Generate a learning map for this content.",
		InteractionType: domain.InteractionPlanning,
	})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("planning call should attach to a session: %+v", resp)
	}
	list, _ := repo.ListInteractions(ctx, e.db, resp.SessionID)
	if len(list) != 1 || list[0].Role != "PLANNER" || list[0].InteractionType != domain.InteractionPlanning || list[0].TokensUsed != 2000 {
		t.Fatalf("interactions = %+v", list)
	}
	if list[0].ConceptID != nil {
		t.Fatalf("planning has no concept, got %v", *list[0].ConceptID)
	}
}

func TestOrchestrate_ProviderFailurePersistsNothing(t *testing.T) {
	e := newEnv(t)
	c, _ := seedContent(t, e.db, "u1", "Nodes")
	e.openai.err = errors.Join(domain.ErrProviderFailure, errors.New("503"))
	before := testutil.ToFloat64(aiCalls.WithLabelValues("planner", "", "error"))

	_, err := e.o.Orchestrate(context.Background(), "u1", Request{Role: domain.RolePlanner, ContentID: c.ID, UserMessage: "x"})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected provider failure, got %v", err)
	}
	if n := countSessions(t, e.db, "u1"); n != 0 {
		t.Fatalf("no session should be created, got %d", n)
	}
	if got := testutil.ToFloat64(aiCalls.WithLabelValues("planner", "", "error")); got != before+1 {
		t.Fatalf("error counter = %v, want %v", got, before+1)
	}
}

func TestOrchestrate_OwnershipAndValidation(t *testing.T) {
	e := newEnv(t)
	c, _ := seedContent(t, e.db, "owner", "Nodes")
	ctx := context.Background()
	s, _ := repo.CreateSession(ctx, e.db, "owner", c.ID, nil)

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"foreign session", Request{Role: domain.RoleTutor, SessionID: s.ID}, domain.ErrNotFound},
		{"foreign content", Request{Role: domain.RoleTutor, ContentID: c.ID}, domain.ErrNotFound},
		{"unknown session", Request{Role: domain.RoleTutor, SessionID: "nope"}, domain.ErrNotFound},
		{"bad role", Request{Role: "janitor"}, domain.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.o.Orchestrate(ctx, "intruder", tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if e.ds.calls != 0 || e.openai.calls != 0 {
		t.Fatalf("no provider should be called")
	}
}

func TestOrchestrate_ScopesIDsToCaller(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	own, ownMap := seedContent(t, e.db, "alice", "Nodes")
	foreign, foreignMap := seedContent(t, e.db, "bob", "Secret")
	if err := e.db.Model(&domain.Content{}).Where("id = ?", foreign.ID).Update("title", "BOB-TITLE").Error; err != nil {
		t.Fatal(err)
	}
	sess, _ := repo.CreateSession(ctx, e.db, "alice", own.ID, &ownMap.Concepts[0].ID)

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"own session, foreign content", Request{Role: domain.RoleTutor, SessionID: sess.ID, ContentID: foreign.ID}, domain.ErrValidation},
		{"foreign concept alone", Request{Role: domain.RoleTutor, ConceptID: foreignMap.Concepts[0].ID}, domain.ErrValidation},
		{"own content, foreign concept", Request{Role: domain.RoleTutor, ContentID: own.ID, ConceptID: foreignMap.Concepts[0].ID}, domain.ErrNotFound},
		{"own session, foreign concept", Request{Role: domain.RoleTutor, SessionID: sess.ID, ConceptID: foreignMap.Concepts[0].ID}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.UserMessage = "hi"
			if _, err := e.o.Orchestrate(ctx, "alice", tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if e.ds.calls != 0 || e.openai.calls != 0 {
		t.Fatalf("no provider should be called, prompt %q", e.ds.system)
	}

	// A session alone scopes the call to its own content.
	resp, err := e.o.Orchestrate(ctx, "alice", Request{Role: domain.RoleTutor, SessionID: sess.ID, ConceptID: ownMap.Concepts[0].ID, UserMessage: "hi"})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if e.ds.system != "tutor | msg=hi | concept=Nodes | extra= | title=Graphs" {
		t.Fatalf("system prompt = %q", e.ds.system)
	}
	if resp.SessionID != sess.ID {
		t.Fatalf("session = %q", resp.SessionID)
	}
}

func TestOrchestrate_CostFollowsServingProvider(t *testing.T) {
	e := newEnv(t)
	// A coach call served by the OpenAI fallback is priced at OpenAI rates.
	e.o.Dispatch = &ai.Router{OpenAI: e.openai, DeepSeek: &provider.Fallback{
		Preferred: &recordingProvider{name: provider.DeepSeek, err: errors.New("down")},
		Backup:    e.openai,
	}}
	resp, err := e.o.Orchestrate(context.Background(), "u1", Request{Role: domain.RoleCoach, UserMessage: "x"})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if resp.Provider != provider.OpenAI || math.Abs(resp.Usage.EstimatedCost-0.02) > 1e-12 {
		t.Fatalf("resp = %+v", resp)
	}
	if e.openai.opts.Format != provider.FormatJSON {
		t.Fatalf("coach format = %q", e.openai.opts.Format)
	}
}

func TestOrchestrate_MissingTemplate(t *testing.T) {
	e := newEnv(t)
	e.o.Prompts = prompt.NewStore(t.TempDir(), 0)
	_, err := e.o.Orchestrate(context.Background(), "u1", Request{Role: domain.RoleTutor, UserMessage: "x"})
	if !errors.Is(err, prompt.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestClip(t *testing.T) {
	if clip("héllo", 3) != "hél" || clip("hi", 3) != "hi" {
		t.Fatalf("clip mismatch")
	}
}
