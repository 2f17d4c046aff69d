package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/services"
)

func TestNoteEndpoints(t *testing.T) {
	a := newAPI(t)
	content, _ := a.seedPlanned(t, "u1", "Nodes")
	s := a.startSession(t, "u1", content.ID)

	w := a.do(t, http.MethodPost, "/notes", "u1", SaveNoteRequest{SessionID: s.ID, NoteText: "BFS uses a queue"})
	if w.Code != http.StatusOK {
		t.Fatalf("save: %d %s", w.Code, w.Body.String())
	}
	saved := decode[domain.Note](t, w)

	w = a.do(t, http.MethodPost, "/notes", "u1", SaveNoteRequest{SessionID: s.ID, NoteText: "BFS uses a queue, DFS a stack"})
	if again := decode[domain.Note](t, w); w.Code != http.StatusOK || again.ID != saved.ID {
		t.Fatalf("resave: %d %s", w.Code, w.Body.String())
	}

	w = a.do(t, http.MethodGet, "/sessions/"+s.ID+"/notes", "u1", nil)
	if notes := decode[NotesResponse](t, w).Notes; w.Code != http.StatusOK || len(notes) != 1 || notes[0].NoteText != "BFS uses a queue, DFS a stack" {
		t.Fatalf("session notes: %d %s", w.Code, w.Body.String())
	}

	w = a.do(t, http.MethodGet, "/notes/search?q=dfs", "u1", nil)
	if hits := decode[NotesResponse](t, w).Notes; w.Code != http.StatusOK || len(hits) != 1 {
		t.Fatalf("search: %d %s", w.Code, w.Body.String())
	}
	w = a.do(t, http.MethodGet, "/notes/search?q=dfs", "u2", nil)
	if hits := decode[NotesResponse](t, w).Notes; hits == nil || len(hits) != 0 {
		t.Fatalf("other user search: %s", w.Body.String())
	}

	w = a.do(t, http.MethodPut, "/notes/"+saved.ID, "u1", UpdateNoteRequest{NoteText: "rewritten"})
	if n := decode[domain.Note](t, w); w.Code != http.StatusOK || n.NoteText != "rewritten" {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	expectError(t, a.do(t, http.MethodPut, "/notes/"+saved.ID, "u2", UpdateNoteRequest{NoteText: "x"}), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, a.do(t, http.MethodDelete, "/notes/"+saved.ID, "u2", nil), http.StatusNotFound, ErrCodeNotFound)

	w = a.do(t, http.MethodDelete, "/notes/"+saved.ID, "u1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	expectError(t, a.do(t, http.MethodDelete, "/notes/"+saved.ID, "u1", nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestNoteEndpoints_Errors(t *testing.T) {
	a := newAPI(t)
	content, _ := a.seedPlanned(t, "u1", "Nodes")
	s := a.startSession(t, "u1", content.ID)

	expectError(t, a.do(t, http.MethodPost, "/notes", "u1", `{"note_text": "no session"}`), http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, a.do(t, http.MethodPost, "/notes", "u1", SaveNoteRequest{SessionID: s.ID, NoteText: "   "}), http.StatusBadRequest, ErrCodeNoteEmpty)
	expectError(t, a.do(t, http.MethodPost, "/notes", "u1", SaveNoteRequest{SessionID: s.ID, NoteText: strings.Repeat("n", services.MaxNoteRunes+1)}), http.StatusBadRequest, ErrCodeNoteTooLong)
	expectError(t, a.do(t, http.MethodPost, "/notes", "u2", SaveNoteRequest{SessionID: s.ID, NoteText: "mine now"}), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, a.do(t, http.MethodGet, "/sessions/"+s.ID+"/notes", "u2", nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, a.do(t, http.MethodGet, "/notes/search", "u1", nil), http.StatusBadRequest, ErrCodeInvalidQuery)
	expectError(t, a.do(t, http.MethodGet, "/notes/search?q="+strings.Repeat("q", services.MaxQueryRunes+1), "u1", nil), http.StatusBadRequest, ErrCodeInvalidQuery)
	expectError(t, a.do(t, http.MethodPut, "/notes/n1", "u1", "{"), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestListNotes_PaginationAndETag(t *testing.T) {
	a := newAPI(t)
	content, _ := a.seedPlanned(t, "u1", "Nodes")
	for _, text := range []string{"one", "two", "three"} {
		s := a.startSession(t, "u1", content.ID)
		a.do(t, http.MethodPost, "/notes", "u1", SaveNoteRequest{SessionID: s.ID, NoteText: text})
	}

	w := a.do(t, http.MethodGet, "/notes?page=1&page_size=2", "u1", nil)
	page := decode[ListNotesResponse](t, w)
	if w.Code != http.StatusOK || len(page.Notes) != 2 || page.Pagination.Total != 3 || !page.Pagination.HasNext {
		t.Fatalf("page 1: %d %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"notes:u1:3:`) {
		t.Fatalf("etag = %q", etag)
	}
	if w := a.do(t, http.MethodGet, "/notes?page=1&page_size=2", "u1", nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("conditional: %d", w.Code)
	}
	if w := a.do(t, http.MethodGet, "/notes?page=2&page_size=2", "u1", nil, "If-None-Match", etag); w.Code != http.StatusOK {
		t.Fatalf("other page must not match: %d", w.Code)
	}

	a.do(t, http.MethodDelete, "/notes/"+page.Notes[0].ID, "u1", nil)
	if w := a.do(t, http.MethodGet, "/notes?page=1&page_size=2", "u1", nil, "If-None-Match", etag); w.Code != http.StatusOK {
		t.Fatalf("delete must change the ETag: %d", w.Code)
	}
}
