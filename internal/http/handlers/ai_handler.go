// AI HTTP handlers.
//
// This file exposes the role endpoints callable outside a session turn:
//   - POST /ai/chat               (any role, free-form message)
//   - GET  /ai/roles              (role discovery)
//   - POST /ai/tutor/simplify     (re-explain more simply)
//   - POST /ai/examiner/follow-up     (question targeting knowledge gaps)
//   - POST /ai/coach/practice     (practical exercise)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tutor-backend/internal/ai"
	"github.com/tbourn/go-tutor-backend/internal/ai/orchestrator"
	"github.com/tbourn/go-tutor-backend/internal/ai/prompt"
	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/services"
)

//
// DTOs
//

// TargetRequest identifies the content, concept and optional session an AI
// call is about.
type TargetRequest struct {
	ContentID string `json:"content_id" example:"0b9f6a52-5a3e-4f5d-9a0e-6c1f1f3c2d11"`
	ConceptID string `json:"concept_id" example:"5c0e7d0a-8f8e-4a43-a1de-2f6b7e2a9c10"`
	SessionID string `json:"session_id,omitempty"`
}

func (t TargetRequest) target() services.Target {
	return services.Target{
		ContentID: strings.TrimSpace(t.ContentID),
		ConceptID: strings.TrimSpace(t.ConceptID),
		SessionID: strings.TrimSpace(t.SessionID),
	}
}

// ChatRequest is the payload of POST /ai/chat.
type ChatRequest struct {
	TargetRequest
	Role          string         `json:"role" binding:"required" enums:"tutor,examiner,coach,planner,reviewer" example:"tutor"`
	Message       string         `json:"message" binding:"required" example:"Why do we need a visited set in BFS?"`
	PromptVersion string         `json:"prompt_version,omitempty" example:"v1"`
	Context       map[string]any `json:"context,omitempty"`
}

// ListRolesResponse lists the roles the server can route.
type ListRolesResponse struct {
	Roles []ai.RoleInfo `json:"roles"`
}

// SimplifyRequest is the payload of POST /ai/tutor/simplify.
type SimplifyRequest struct {
	TargetRequest
	PreviousExplanation string `json:"previous_explanation" binding:"required"`
}

// FollowUpRequest is the payload of POST /ai/examiner/follow-up.
type FollowUpRequest struct {
	TargetRequest
	Evaluation services.Evaluation `json:"evaluation"`
}

// FollowUpResponse carries the generated question.
type FollowUpResponse struct {
	Question string `json:"question"`
}

// PracticeRequest is the payload of POST /ai/coach/practice.
type PracticeRequest struct {
	TargetRequest
}

// PracticeResponse carries the coach's exercise.
type PracticeResponse struct {
	Task          string `json:"task"`
	InteractionID string `json:"interaction_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

//
// Handlers
//

// Chat godoc
// @ID          aiChat
// @Summary     Talk to an AI role
// @Description Assembles context for the target, renders the role's prompt and calls the
// @Description role's provider, falling back to the alternate provider on failure.
// @Tags        AI
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.ChatRequest  true  "Chat payload"
//
// @Success     200  {object}  orchestrator.Response
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Content, concept or session not found"
// @Failure     502  {object}  handlers.ErrorResponse  "AI provider unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /ai/chat [post]
func (h *Handlers) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "role and message required")
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		failErr(c, err)
		return
	}
	message := sanitizeContent(req.Message)
	if message == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	t := req.target()
	resp, err := h.ai.Orchestrate(c.Request.Context(), userID(c), orchestrator.Request{
		Role:              role,
		ContentID:         t.ContentID,
		ConceptID:         t.ConceptID,
		SessionID:         t.SessionID,
		UserMessage:       message,
		AdditionalContext: prompt.Context(req.Context),
		PromptVersion:     strings.TrimSpace(req.PromptVersion),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, resp)
}

// ListRoles godoc
// @ID          listRoles
// @Summary     List AI roles
// @Description Returns every role with its display name, provider, output format and installed prompt versions.
// @Tags        AI
// @Produce     json
//
// @Success     200  {object}  handlers.ListRolesResponse
// @Router      /ai/roles [get]
func (h *Handlers) ListRoles(c *gin.Context) {
	ok(c, http.StatusOK, ListRolesResponse{Roles: ai.ListRoles(h.promptVersions)})
}

// Simplify godoc
// @ID          tutorSimplify
// @Summary     Simplify an explanation
// @Tags        AI
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.SimplifyRequest  true  "Previous explanation"
//
// @Success     200  {object}  services.Explanation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     502  {object}  handlers.ErrorResponse  "AI provider unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /ai/tutor/simplify [post]
func (h *Handlers) Simplify(c *gin.Context) {
	var req SimplifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PreviousExplanation) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "previous_explanation required")
		return
	}
	ex, err := h.tutor.SimplifyExplanation(c.Request.Context(), userID(c), req.target(), req.PreviousExplanation)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ex)
}

// FollowUp godoc
// @ID          examinerFollowUp
// @Summary     Generate a follow-up question
// @Description Asks the examiner for one question targeting the gaps of a previous evaluation.
// @Tags        AI
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.FollowUpRequest  true  "Previous evaluation"
//
// @Success     200  {object}  handlers.FollowUpResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     502  {object}  handlers.ErrorResponse  "AI provider unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /ai/examiner/follow-up [post]
func (h *Handlers) FollowUp(c *gin.Context) {
	var req FollowUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	q, err := h.examiner.GenerateFollowUpQuestion(c.Request.Context(), userID(c), req.target(), req.Evaluation)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, FollowUpResponse{Question: q})
}

// Practice godoc
// @ID          coachPractice
// @Summary     Generate a practice task
// @Tags        AI
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.PracticeRequest  true  "Target concept"
//
// @Success     200  {object}  handlers.PracticeResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     502  {object}  handlers.ErrorResponse  "AI provider unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /ai/coach/practice [post]
func (h *Handlers) Practice(c *gin.Context) {
	var req PracticeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	resp, err := h.coach.PracticeTask(c.Request.Context(), userID(c), req.target())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, PracticeResponse{Task: resp.Content, InteractionID: resp.InteractionID, SessionID: resp.SessionID})
}
