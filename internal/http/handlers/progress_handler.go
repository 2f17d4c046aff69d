// Progress HTTP handlers: learner standing per concept and content, study
// patterns and pacing advice. None of them call the AI.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tutor-backend/internal/services"
)

// ConfidenceHistoryResponse lists scored answers on a content, oldest first.
type ConfidenceHistoryResponse struct {
	Points []services.ConfidenceDataPoint `json:"points"`
}

// WeakAreasResponse lists the concepts scored below 60, weakest first.
type WeakAreasResponse struct {
	Items []services.WeakArea `json:"items"`
}

// ProgressSummary godoc
// @ID          progressSummary
// @Summary     Progress across all content
// @Description Aggregates every content the user has a session on, with study streaks
// @Description counted in UTC days.
// @Tags        Progress
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object}  services.ProgressSummary
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /progress/summary [get]
func (h *Handlers) ProgressSummary(c *gin.Context) {
	sum, err := h.progress.Summary(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

// ContentProgress godoc
// @ID          contentProgress
// @Summary     Progress on a content
// @Description A concept is completed at a latest confidence of 70 or more. Content without
// @Description a learning map reports zeros.
// @Tags        Progress
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Content ID (UUID)"      format(uuid)
//
// @Success     200  {object}  services.ContentProgress
// @Failure     404  {object}  handlers.ErrorResponse  "Content not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /progress/contents/{id} [get]
func (h *Handlers) ContentProgress(c *gin.Context) {
	p, err := h.progress.ContentProgress(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// ConfidenceHistory godoc
// @ID          confidenceHistory
// @Summary     Confidence history of a content
// @Tags        Progress
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Content ID (UUID)"      format(uuid)
//
// @Success     200  {object}  handlers.ConfidenceHistoryResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Content not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /progress/contents/{id}/confidence-history [get]
func (h *Handlers) ConfidenceHistory(c *gin.Context) {
	points, err := h.progress.ConfidenceHistory(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ConfidenceHistoryResponse{Points: points})
}

// StudyPatterns godoc
// @ID          studyPatterns
// @Summary     Study patterns on a content
// @Description Repeated mistakes (scores below 50 more than once), time per concept, the
// @Description score trend and concepts still below 60.
// @Tags        Progress
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Content ID (UUID)"      format(uuid)
//
// @Success     200  {object}  services.PatternAnalysis
// @Failure     404  {object}  handlers.ErrorResponse  "Content not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /progress/contents/{id}/patterns [get]
func (h *Handlers) StudyPatterns(c *gin.Context) {
	p, err := h.progress.Patterns(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// WeakAreas godoc
// @ID          weakAreas
// @Summary     Weak areas of a content
// @Tags        Progress
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Content ID (UUID)"      format(uuid)
//
// @Success     200  {object}  handlers.WeakAreasResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Content not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /progress/contents/{id}/weak-areas [get]
func (h *Handlers) WeakAreas(c *gin.Context) {
	items, err := h.progress.WeakAreas(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, WeakAreasResponse{Items: items})
}

// ConceptProgress godoc
// @ID          conceptProgress
// @Summary     Progress on a concept
// @Tags        Progress
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Concept ID (UUID)"      format(uuid)
//
// @Success     200  {object}  services.ConceptProgress
// @Failure     404  {object}  handlers.ErrorResponse  "Concept not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /progress/concepts/{id} [get]
func (h *Handlers) ConceptProgress(c *gin.Context) {
	p, err := h.progress.ConceptProgress(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// ConceptAdaptation godoc
// @ID          conceptAdaptation
// @Summary     Pacing advice for a concept
// @Description Pace, extra examples, skip and review advice from the user's scores on
// @Description the concept.
// @Tags        Progress
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Concept ID (UUID)"      format(uuid)
//
// @Success     200  {object}  services.Adaptation
// @Failure     404  {object}  handlers.ErrorResponse  "Concept not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /progress/concepts/{id}/adaptation [get]
func (h *Handlers) ConceptAdaptation(c *gin.Context) {
	a, err := h.progress.Adaptation(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}
