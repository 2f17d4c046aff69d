// Session HTTP handlers.
//
// This file exposes REST endpoints for learning sessions:
//   - POST  /sessions                      (start a session on content)
//   - GET   /sessions                      (list, paginated, ETag support)
//   - GET   /sessions/{id}                 (session with current concept)
//   - PATCH /sessions/{id}                 (update time spent)
//   - POST  /sessions/{id}/actions         (pause, resume, complete)
//   - POST  /sessions/{id}/interact        (one learner turn)
//   - POST  /sessions/{id}/advance         (move to the next concept)
//   - GET   /sessions/{id}/interactions    (interaction log, paginated, ETag)
//
// Idempotency:
// If the client supplies an Idempotency-Key header on interact and a recorded
// result exists for (user, session, key), the handler returns the recorded
// body unchanged and sets `Idempotency-Replayed: true`.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/http/middleware"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/services"
)

//
// DTOs
//

// CreateSessionRequest is the JSON payload for starting a session.
type CreateSessionRequest struct {
	ContentID string `json:"content_id" binding:"required" example:"0b9f6a52-5a3e-4f5d-9a0e-6c1f1f3c2d11"`
}

// UpdateSessionRequest is the JSON payload for PATCH /sessions/{id}.
type UpdateSessionRequest struct {
	// TotalTimeMinutes replaces the recorded time spent; must be >= 0.
	TotalTimeMinutes *int `json:"total_time_minutes" example:"25"`
}

// SessionActionRequest names a lifecycle action.
type SessionActionRequest struct {
	Action string `json:"action" binding:"required" enums:"pause,resume,complete" example:"pause"`
}

// InteractRequest is the learner's message for one turn. It may be empty
// when the turn only asks the tutor to explain.
type InteractRequest struct {
	Message string `json:"message" example:"A graph is a set of nodes joined by edges."`
}

// ListSessionsResponse wraps a page of sessions and pagination information.
type ListSessionsResponse struct {
	Sessions   []domain.LearningSession `json:"sessions"`
	Pagination Pagination               `json:"pagination"`
}

// ListInteractionsResponse wraps a page of a session's interactions.
type ListInteractionsResponse struct {
	Interactions []domain.Interaction `json:"interactions"`
	Pagination   Pagination           `json:"pagination"`
}

//
// Handlers
//

// CreateSession godoc
// @ID          createSession
// @Summary     Start a learning session
// @Description Starts a session at the first concept of the content's learning map.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateSessionRequest  true  "Session payload"
//
// @Success     201  {object}  services.SessionDetails
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or no learning map"
// @Failure     404  {object}  handlers.ErrorResponse  "Content not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ContentID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content_id required")
		return
	}
	sess, err := h.sessions.Create(c.Request.Context(), userID(c), strings.TrimSpace(req.ContentID))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, sess)
}

// ListSessions godoc
// @ID          listSessions
// @Summary     List sessions (paginated)
// @Description Returns a page of the user's sessions, most recently updated first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Sessions
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListSessionsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page := pageQuery(c)

	// ETag pre-check (best effort).
	if db := sessionDB(h.sessions); db != nil {
		if count, maxTS, err := repo.SessionsStats(ctx, db, uid); err == nil {
			if checkETag(c, "sessions", uid, count, maxTS, page) {
				return
			}
		}
	}

	items, total, err := h.sessions.ListPage(ctx, uid, page.Number, page.Size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListSessionsResponse{Sessions: items, Pagination: newPagination(page, total)})
}

// GetSession godoc
// @ID          getSession
// @Summary     Get a session
// @Description Returns the session with its content, current concept, valid actions
// @Description and the role responsible for the current state.
// @Tags        Sessions
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Session ID (UUID)"      format(uuid)
//
// @Success     200  {object}  services.SessionDetails
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// UpdateSession godoc
// @ID          updateSession
// @Summary     Update a session
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Session ID (UUID)"      format(uuid)
// @Param       body       body    handlers.UpdateSessionRequest  true  "Patch"
//
// @Success     200  {object}  services.SessionDetails
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id} [patch]
func (h *Handlers) UpdateSession(c *gin.Context) {
	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	sess, err := h.sessions.Update(c.Request.Context(), userID(c), c.Param("id"), services.SessionPatch{TotalTimeMinutes: req.TotalTimeMinutes})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// SessionAction godoc
// @ID          sessionAction
// @Summary     Pause, resume or complete a session
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Session ID (UUID)"      format(uuid)
// @Param       body       body    handlers.SessionActionRequest  true  "Action"
//
// @Success     200  {object}  services.SessionDetails
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown action"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Action not valid in the current state"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id}/actions [post]
func (h *Handlers) SessionAction(c *gin.Context) {
	var req SessionActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "action required")
		return
	}
	sess, err := h.sessions.Apply(c.Request.Context(), userID(c), c.Param("id"), req.Action)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// Interact godoc
// @ID          interact
// @Summary     Send a learner message
// @Description Runs one turn of the tutoring loop for the session's current state: the tutor
// @Description explains, the examiner scores the learner's explanation, and the coach decides
// @Description whether to advance. Supports idempotency via the Idempotency-Key header.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Session ID (UUID)"      format(uuid)
// @Param       body             body    handlers.InteractRequest  true  "Learner message"
//
// @Success     200  {object}  services.InteractResult
// @Header      200  {string}  Idempotency-Replayed  "true when the body is a recorded result"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Session paused, completed or busy"
// @Failure     502  {object}  handlers.ErrorResponse  "AI provider unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id}/interact [post]
func (h *Handlers) Interact(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	var req InteractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	message := sanitizeContent(req.Message)

	uid := userID(c)
	db := sessionDB(h.sessions)

	// Idempotency (replay path).
	idemKey := idempotencyKey(c)
	if idemKey != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, uid, sessionID, idemKey, time.Now().UTC()); err == nil && rec != nil {
			middleware.LoggerFrom(c).Debug().
				Bool("validated", middleware.IsReplay(c)).
				Str("session_id", sessionID).
				Msg("idempotent replay")
			c.Header("Idempotency-Replayed", "true")
			c.Data(rec.Status, "application/json; charset=utf-8", rec.Body)
			return
		}
	}

	res, err := h.sessions.Interact(ctx, uid, sessionID, message)
	if err != nil {
		failErr(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && db != nil {
		if body, err := json.Marshal(res); err == nil {
			if _, err := repo.CreateIdempotency(ctx, db, uid, sessionID, idemKey, http.StatusOK, body, h.idemTTL); err != nil {
				lg := middleware.LoggerFrom(c)
				lg.Warn().Err(err).Str("session_id", sessionID).Msg("idempotency record not stored")
			}
		}
	}

	ok(c, http.StatusOK, res)
}

// AdvanceSession godoc
// @ID          advanceSession
// @Summary     Move to the next concept
// @Description Advances the session past its current concept. Past the last concept the
// @Description session completes with progress 100.
// @Tags        Sessions
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Session ID (UUID)"      format(uuid)
//
// @Success     200  {object}  services.Advance
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Session already completed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id}/advance [post]
func (h *Handlers) AdvanceSession(c *gin.Context) {
	adv, err := h.sessions.MoveToNextConcept(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, adv)
}

// ListInteractions godoc
// @ID          listInteractions
// @Summary     List a session's interactions
// @Description Returns the session's interaction log in creation order.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Sessions
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       id             path    string  true  "Session ID (UUID)"            format(uuid)
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListInteractionsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Session not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sessions/{id}/interactions [get]
func (h *Handlers) ListInteractions(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	sessionID := c.Param("id")
	page := pageQuery(c)

	// ETag pre-check, only for sessions the user owns.
	if db := sessionDB(h.sessions); db != nil {
		if _, err := repo.GetSession(ctx, db, sessionID, uid); err == nil {
			if count, maxTS, err := repo.InteractionsStats(ctx, db, sessionID); err == nil {
				if checkETag(c, "interactions", sessionID, count, maxTS, page) {
					return
				}
			}
		}
	}

	items, total, err := h.sessions.Interactions(ctx, uid, sessionID, page.Number, page.Size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListInteractionsResponse{Interactions: items, Pagination: newPagination(page, total)})
}

// idempotencyKey returns the key validated by the idempotency middleware,
// falling back to the raw header when the middleware is not mounted.
func idempotencyKey(c *gin.Context) string {
	if k, ok := middleware.GetIdempotencyKey(c); ok {
		return k
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
}
