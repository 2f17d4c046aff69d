package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/services"
	"github.com/tbourn/go-tutor-backend/internal/statemachine"
)

func (a *api) startSession(t *testing.T, user, contentID string) services.SessionDetails {
	t.Helper()
	w := a.do(t, http.MethodPost, "/sessions", user, CreateSessionRequest{ContentID: contentID})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", w.Code, w.Body.String())
	}
	return decode[services.SessionDetails](t, w)
}

func TestCreateAndGetSession(t *testing.T) {
	a := newAPI(t)
	content, m := a.seedPlanned(t, "u1", "Nodes", "Edges")

	s := a.startSession(t, "u1", content.ID)
	if s.State != string(statemachine.Init) || s.CurrentConcept == nil || s.CurrentConcept.ID != m.Concepts[0].ID {
		t.Fatalf("new session: %+v", s)
	}
	if s.ContentTitle != "Graphs" || s.ResponsibleRole != domain.RoleTutor {
		t.Fatalf("details: %+v", s)
	}

	w := a.do(t, http.MethodGet, "/sessions/"+s.ID, "u1", nil)
	if got := decode[services.SessionDetails](t, w); w.Code != http.StatusOK || got.ID != s.ID {
		t.Fatalf("get: %d %+v", w.Code, got)
	}
	expectError(t, a.do(t, http.MethodGet, "/sessions/"+s.ID, "u2", nil), http.StatusNotFound, ErrCodeNotFound)

	expectError(t, a.do(t, http.MethodPost, "/sessions", "u1", `{"content_id": "  "}`), http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, a.do(t, http.MethodPost, "/sessions", "u2", CreateSessionRequest{ContentID: content.ID}), http.StatusNotFound, ErrCodeNotFound)

	unplanned, _ := a.seedPlanned(t, "u1")
	expectError(t, a.do(t, http.MethodPost, "/sessions", "u1", CreateSessionRequest{ContentID: unplanned.ID}), http.StatusBadRequest, ErrCodeNoLearningMap)
}

func TestListSessions_PaginationAndETag(t *testing.T) {
	a := newAPI(t)
	content, _ := a.seedPlanned(t, "u1", "Nodes")
	for i := 0; i < 3; i++ {
		a.startSession(t, "u1", content.ID)
	}

	w := a.do(t, http.MethodGet, "/sessions?page=1&page_size=2", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	list := decode[ListSessionsResponse](t, w)
	if len(list.Sessions) != 2 || list.Pagination.Total != 3 || list.Pagination.TotalPages != 2 || !list.Pagination.HasNext {
		t.Fatalf("page: %+v", list)
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"sessions:u1:3:`) {
		t.Fatalf("etag = %q", etag)
	}

	w = a.do(t, http.MethodGet, "/sessions?page=1&page_size=2", "u1", nil, "If-None-Match", etag)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	// Another page of the same list is a different representation.
	w = a.do(t, http.MethodGet, "/sessions?page=2&page_size=2", "u1", nil, "If-None-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("page 2 with page 1's etag: %d", w.Code)
	}
	if second := decode[ListSessionsResponse](t, w); len(second.Sessions) != 1 || w.Header().Get("ETag") == etag {
		t.Fatalf("page 2: %+v etag=%q", second, w.Header().Get("ETag"))
	}

	w = a.do(t, http.MethodGet, "/sessions", "u2", nil)
	if other := decode[ListSessionsResponse](t, w); other.Sessions == nil || other.Pagination.Total != 0 {
		t.Fatalf("other user: %s", w.Body.String())
	}
}

func TestInteract_TurnsAndIdempotentReplay(t *testing.T) {
	a := newAPI(t)
	a.ai.reply(domain.RoleTutor, "Nodes are points. What is a node?")
	a.ai.reply(domain.RoleExaminer, `{"overallScore": 90, "strengths": ["clear"]}`)
	a.ai.reply(domain.RoleCoach, `{"nextAction": "proceed"}`)
	content, _ := a.seedPlanned(t, "u1", "Nodes", "Edges")
	s := a.startSession(t, "u1", content.ID)
	path := "/sessions/" + s.ID + "/interact"

	w := a.do(t, http.MethodPost, path, "u1", InteractRequest{}, "Idempotency-Key", "turn-1")
	if w.Code != http.StatusOK {
		t.Fatalf("explain: %d %s", w.Code, w.Body.String())
	}
	first := w.Body.Bytes()
	res := decode[services.InteractResult](t, w)
	if res.Role != domain.RoleTutor || res.State != statemachine.UserExplain || res.Explanation == nil {
		t.Fatalf("explain turn: %+v", res)
	}

	w = a.do(t, http.MethodPost, path, "u1", InteractRequest{}, "Idempotency-Key", "turn-1")
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: %d replayed=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}
	if !bytes.Equal(bytes.TrimSpace(w.Body.Bytes()), bytes.TrimSpace(first)) {
		t.Fatalf("replayed body differs:\n%s\n%s", w.Body.String(), first)
	}
	if n := a.ai.count(domain.RoleTutor); n != 1 {
		t.Fatalf("tutor called %d times", n)
	}

	w = a.do(t, http.MethodPost, path, "u1", InteractRequest{Message: "A node is\r\n\r\n\r\n\r\na point."})
	res = decode[services.InteractResult](t, w)
	if w.Code != http.StatusOK || res.Evaluation == nil || res.Evaluation.OverallScore != 90 || res.Decision == nil {
		t.Fatalf("evaluate turn: %d %s", w.Code, w.Body.String())
	}
	if res.Progress != 50 || res.State != statemachine.Explain || res.Status != domain.SessionActive {
		t.Fatalf("after proceed: %+v", res)
	}
	if a.ai.last.UserMessage == "" || strings.Contains(a.ai.last.UserMessage, "\r") {
		t.Fatalf("learner text not normalized: %q", a.ai.last.UserMessage)
	}
}

func TestInteract_Errors(t *testing.T) {
	a := newAPI(t)
	a.ai.reply(domain.RoleTutor, "Nodes are points.")
	content, _ := a.seedPlanned(t, "u1", "Nodes")
	s := a.startSession(t, "u1", content.ID)
	path := "/sessions/" + s.ID + "/interact"

	expectError(t, a.do(t, http.MethodPost, path, "u1", "{"), http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, a.do(t, http.MethodPost, path, "u2", InteractRequest{}), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, a.do(t, http.MethodPost, path, "u1", InteractRequest{Message: strings.Repeat("a", 501)}), http.StatusBadRequest, ErrCodeMessageTooLong)

	a.do(t, http.MethodPost, path, "u1", InteractRequest{})
	expectError(t, a.do(t, http.MethodPost, path, "u1", InteractRequest{Message: "  "}), http.StatusBadRequest, ErrCodeMessageEmpty)

	a.ai.fail(domain.RoleExaminer, fmt.Errorf("all providers down: %w", domain.ErrProviderFailure))
	expectError(t, a.do(t, http.MethodPost, path, "u1", InteractRequest{Message: "my answer"}), http.StatusBadGateway, ErrCodeAIUnavailable)
}

func TestSessionActionsUpdateAndAdvance(t *testing.T) {
	a := newAPI(t)
	a.ai.reply(domain.RoleTutor, "Nodes are points.")
	content, m := a.seedPlanned(t, "u1", "Nodes", "Edges")
	s := a.startSession(t, "u1", content.ID)
	base := "/sessions/" + s.ID

	expectError(t, a.do(t, http.MethodPost, base+"/actions", "u1", SessionActionRequest{Action: "pause"}), http.StatusConflict, ErrCodeInvalidTransition)
	a.do(t, http.MethodPost, base+"/interact", "u1", InteractRequest{})

	w := a.do(t, http.MethodPost, base+"/actions", "u1", SessionActionRequest{Action: "Pause"})
	if got := decode[services.SessionDetails](t, w); w.Code != http.StatusOK || got.Status != domain.SessionPaused {
		t.Fatalf("pause: %d %s", w.Code, w.Body.String())
	}
	expectError(t, a.do(t, http.MethodPost, base+"/interact", "u1", InteractRequest{Message: "hi"}), http.StatusConflict, ErrCodeSessionPaused)
	expectError(t, a.do(t, http.MethodPost, base+"/actions", "u1", SessionActionRequest{Action: "dance"}), http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, a.do(t, http.MethodPost, base+"/actions", "u1", `{}`), http.StatusBadRequest, ErrCodeBadRequest)

	w = a.do(t, http.MethodPost, base+"/actions", "u1", SessionActionRequest{Action: "resume"})
	if got := decode[services.SessionDetails](t, w); got.Status != domain.SessionActive || got.State != string(statemachine.Explain) {
		t.Fatalf("resume: %s", w.Body.String())
	}

	w = a.do(t, http.MethodPatch, base, "u1", `{"total_time_minutes": 12}`)
	if got := decode[services.SessionDetails](t, w); w.Code != http.StatusOK || got.TotalTimeMinutes != 12 {
		t.Fatalf("patch: %d %s", w.Code, w.Body.String())
	}
	expectError(t, a.do(t, http.MethodPatch, base, "u1", `{}`), http.StatusBadRequest, ErrCodeBadRequest)

	w = a.do(t, http.MethodPost, base+"/advance", "u1", nil)
	adv := decode[services.Advance](t, w)
	if w.Code != http.StatusOK || !adv.Moved || adv.Session.Progress != 50 || *adv.Session.CurrentConceptID != m.Concepts[1].ID {
		t.Fatalf("advance: %d %s", w.Code, w.Body.String())
	}
	w = a.do(t, http.MethodPost, base+"/advance", "u1", nil)
	if adv = decode[services.Advance](t, w); !adv.Completed || adv.Session.Status != domain.SessionCompleted {
		t.Fatalf("advance past last: %s", w.Body.String())
	}
	expectError(t, a.do(t, http.MethodPost, base+"/advance", "u1", nil), http.StatusConflict, ErrCodeSessionCompleted)

	w = a.do(t, http.MethodPost, base+"/actions", "u1", SessionActionRequest{Action: "complete"})
	if w.Code != http.StatusOK {
		t.Fatalf("complete is idempotent, got %d", w.Code)
	}
}

func TestListInteractions(t *testing.T) {
	a := newAPI(t)
	a.ai.reply(domain.RoleTutor, "Nodes are points.")
	content, _ := a.seedPlanned(t, "u1", "Nodes")
	s := a.startSession(t, "u1", content.ID)
	path := "/sessions/" + s.ID + "/interactions"

	w := a.do(t, http.MethodGet, path, "u1", nil)
	if list := decode[ListInteractionsResponse](t, w); list.Interactions == nil || list.Pagination.Total != 0 {
		t.Fatalf("empty log: %s", w.Body.String())
	}

	a.do(t, http.MethodPost, "/sessions/"+s.ID+"/interact", "u1", InteractRequest{})
	w = a.do(t, http.MethodGet, path, "u1", nil)
	list := decode[ListInteractionsResponse](t, w)
	if w.Code != http.StatusOK || len(list.Interactions) != 1 || list.Interactions[0].Role != "TUTOR" {
		t.Fatalf("log: %d %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"interactions:`+s.ID+`:1:`) {
		t.Fatalf("etag = %q", etag)
	}
	if w = a.do(t, http.MethodGet, path, "u1", nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	w = a.do(t, http.MethodGet, path, "u2", nil, "If-None-Match", etag)
	expectError(t, w, http.StatusNotFound, ErrCodeNotFound)
	if w.Header().Get("ETag") != "" {
		t.Fatalf("etag leaked to another user")
	}
}
