// Note HTTP handlers.
//
// A learner keeps one free-text note per session:
//   - POST   /notes                 (save the note of a session)
//   - GET    /notes                 (list own notes, paginated)
//   - GET    /notes/search?q=       (case-insensitive text search)
//   - GET    /sessions/{id}/notes   (notes of one session)
//   - PUT    /notes/{id}            (replace a note's text)
//   - DELETE /notes/{id}            (remove a note)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/services"
)

// SaveNoteRequest is the payload of POST /notes.
type SaveNoteRequest struct {
	SessionID string `json:"session_id" binding:"required" example:"7f1c0f0e-4a55-4c1e-9b1e-3f5b2a8c9d10"`
	NoteText  string `json:"note_text" example:"BFS uses a queue, DFS a stack."`
}

// UpdateNoteRequest is the payload of PUT /notes/{id}.
type UpdateNoteRequest struct {
	NoteText string `json:"note_text" example:"BFS uses a queue; DFS recurses."`
}

// ListNotesResponse is a page of notes.
type ListNotesResponse struct {
	Notes      []domain.Note `json:"notes"`
	Pagination Pagination    `json:"pagination"`
}

// NotesResponse wraps an unpaginated list of notes.
type NotesResponse struct {
	Notes []domain.Note `json:"notes"`
}

// SaveNote godoc
// @ID          saveNote
// @Summary     Save a session note
// @Description Stores the learner's note on a session they own, replacing an earlier note
// @Description on the same session.
// @Tags        Notes
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string                    false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.SaveNoteRequest  true  "Note payload"
//
// @Success     200  {object}  domain.Note
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or overlong note"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notes [post]
func (h *Handlers) SaveNote(c *gin.Context) {
	var req SaveNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session_id required")
		return
	}
	n, err := h.notes.Save(c.Request.Context(), userID(c), req.SessionID, req.NoteText)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}

// ListNotes godoc
// @ID          listNotes
// @Summary     List notes (paginated)
// @Description Returns a page of the user's notes, most recently updated first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Notes
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListNotesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notes [get]
func (h *Handlers) ListNotes(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page := pageQuery(c)

	if db := notesDB(h.notes); db != nil {
		if count, maxTS, err := repo.NotesStats(ctx, db, uid); err == nil {
			if checkETag(c, "notes", uid, count, maxTS, page) {
				return
			}
		}
	}

	items, total, err := h.notes.ListPage(ctx, uid, page.Number, page.Size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListNotesResponse{Notes: items, Pagination: newPagination(page, total)})
}

// SearchNotes godoc
// @ID          searchNotes
// @Summary     Search notes
// @Description Case-insensitive substring search over the user's notes. At most 50 results.
// @Tags        Notes
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       q          query   string  true  "Search text (1-200 chars)"  example(queue)
//
// @Success     200  {object}  handlers.NotesResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Blank or overlong query"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notes/search [get]
func (h *Handlers) SearchNotes(c *gin.Context) {
	items, err := h.notes.Search(c.Request.Context(), userID(c), c.Query("q"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, NotesResponse{Notes: items})
}

// SessionNotes godoc
// @ID          sessionNotes
// @Summary     Notes of a session
// @Tags        Notes
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Session ID (UUID)"      format(uuid)
//
// @Success     200  {object}  handlers.NotesResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id}/notes [get]
func (h *Handlers) SessionNotes(c *gin.Context) {
	items, err := h.notes.SessionNotes(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, NotesResponse{Notes: items})
}

// UpdateNote godoc
// @ID          updateNote
// @Summary     Replace a note's text
// @Tags        Notes
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string                      false "User ID (demo header)"  example(user123)
// @Param       id         path    string                      true  "Note ID (UUID)"         format(uuid)
// @Param       body       body    handlers.UpdateNoteRequest  true  "New text"
//
// @Success     200  {object}  domain.Note
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or overlong note"
// @Failure     404  {object}  handlers.ErrorResponse  "Note not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notes/{id} [put]
func (h *Handlers) UpdateNote(c *gin.Context) {
	var req UpdateNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	n, err := h.notes.Update(c.Request.Context(), userID(c), c.Param("id"), req.NoteText)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}

// DeleteNote godoc
// @ID          deleteNote
// @Summary     Delete a note
// @Tags        Notes
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Note ID (UUID)"         format(uuid)
//
// @Success     204  "Deleted"
// @Failure     404  {object}  handlers.ErrorResponse  "Note not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notes/{id} [delete]
func (h *Handlers) DeleteNote(c *gin.Context) {
	if err := h.notes.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// notesDB returns the database behind a concrete NotesService, or nil.
func notesDB(svc NotesService) *gorm.DB {
	if s, ok := svc.(*services.NotesService); ok {
		return s.DB
	}
	return nil
}
