package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/services"
	"github.com/tbourn/go-tutor-backend/internal/statemachine"
)

// Error codes carried in ErrorResponse.Code. Clients branch on them, so a
// published code keeps its meaning.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
	ErrCodeListFailed       = "list_failed"

	// Learner input
	ErrCodeMessageEmpty   = "message_empty"
	ErrCodeMessageTooLong = "message_too_long"

	// Content and learning maps
	ErrCodeNoSections    = "content_has_no_sections"
	ErrCodeNoLearningMap = "learning_map_missing"

	// Session lifecycle
	ErrCodeSessionCompleted  = "session_completed"
	ErrCodeSessionPaused     = "session_paused"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeConcurrentUpdate  = "concurrent_update"

	// Notes
	ErrCodeNoteEmpty    = "note_empty"
	ErrCodeNoteTooLong  = "note_too_long"
	ErrCodeInvalidQuery = "invalid_query"

	ErrCodeAIUnavailable = "ai_unavailable"
)

// specificCodes refines the category code for errors a client can act on.
// The first match wins.
var specificCodes = []struct {
	err  error
	code string
}{
	{services.ErrEmptyMessage, ErrCodeMessageEmpty},
	{services.ErrTooLong, ErrCodeMessageTooLong},
	{services.ErrNoSections, ErrCodeNoSections},
	{services.ErrNoLearningMap, ErrCodeNoLearningMap},
	{services.ErrSessionCompleted, ErrCodeSessionCompleted},
	{services.ErrSessionPaused, ErrCodeSessionPaused},
	{statemachine.ErrInvalidTransition, ErrCodeInvalidTransition},
	{repo.ErrConflict, ErrCodeConcurrentUpdate},
	{services.ErrEmptyNote, ErrCodeNoteEmpty},
	{services.ErrNoteTooLong, ErrCodeNoteTooLong},
	{services.ErrBadQuery, ErrCodeInvalidQuery},
}

// failErr answers with the status of err's category (domain.Err*) and the
// most specific code known for it.
func failErr(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, ErrCodeInternal
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, ErrCodeConflict
	case errors.Is(err, domain.ErrProviderFailure):
		status, code = http.StatusBadGateway, ErrCodeAIUnavailable
	}
	if status != http.StatusInternalServerError {
		for _, sc := range specificCodes {
			if errors.Is(err, sc.err) {
				code = sc.code
				break
			}
		}
	}
	fail(c, status, code, err.Error())
}
