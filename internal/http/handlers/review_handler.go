// Review HTTP handlers: session summaries, weekly reports and the spaced
// review schedule.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tutor-backend/internal/services"
)

// ReviewScheduleResponse lists the concepts to review, most urgent first.
type ReviewScheduleResponse struct {
	Items []services.ReviewItem `json:"items"`
}

// SessionSummary godoc
// @ID          reviewSessionSummary
// @Summary     Summarize a session
// @Tags        Review
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Session ID (UUID)"      format(uuid)
//
// @Success     200  {object}  services.SessionSummary
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     502  {object}  handlers.ErrorResponse  "AI provider unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /review/sessions/{id}/summary [get]
func (h *Handlers) SessionSummary(c *gin.Context) {
	sum, err := h.reviewer.SessionSummary(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

// WeeklyReport godoc
// @ID          reviewWeekly
// @Summary     Weekly progress report
// @Description Aggregates the last seven days of sessions and scored interactions.
// @Tags        Review
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object}  services.WeeklyReport
// @Failure     502  {object}  handlers.ErrorResponse  "AI provider unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /review/weekly [get]
func (h *Handlers) WeeklyReport(c *gin.Context) {
	r, err := h.reviewer.WeeklyReport(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// ReviewSchedule godoc
// @ID          reviewSchedule
// @Summary     Spaced review schedule
// @Description Lists every scored concept with its next review date. Items due within
// @Description three days are high priority.
// @Tags        Review
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object}  handlers.ReviewScheduleResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /review/schedule [get]
func (h *Handlers) ReviewSchedule(c *gin.Context) {
	items, err := h.reviewer.ReviewSchedule(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []services.ReviewItem{}
	}
	ok(c, http.StatusOK, ReviewScheduleResponse{Items: items})
}
