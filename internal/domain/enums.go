package domain

import (
	"fmt"
	"strings"
)

// Role identifies one of the closed set of AI roles.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleTutor    Role = "tutor"
	RoleExaminer Role = "examiner"
	RoleCoach    Role = "coach"
	RoleReviewer Role = "reviewer"
)

// Roles lists every role in registry order.
var Roles = []Role{RolePlanner, RoleTutor, RoleExaminer, RoleCoach, RoleReviewer}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePlanner, RoleTutor, RoleExaminer, RoleCoach, RoleReviewer:
		return true
	}
	return false
}

// Persisted returns the upper-case form stored on interactions.
func (r Role) Persisted() string { return strings.ToUpper(string(r)) }

// ParseRole accepts either the lower-case or persisted form.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
	return r, nil
}

// SessionStatus is the coarse lifecycle of a LearningSession.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
)

// InteractionType classifies a persisted Interaction.
type InteractionType string

const (
	InteractionExplanation InteractionType = "EXPLANATION"
	InteractionQuestion    InteractionType = "QUESTION"
	InteractionEvaluation  InteractionType = "EVALUATION"
	InteractionDecision    InteractionType = "DECISION"
	InteractionPlanning    InteractionType = "PLANNING"
	InteractionReview      InteractionType = "REVIEW"
	InteractionPractice    InteractionType = "PRACTICE"
)

// IndexStatus is the outcome of background section indexing for a Content.
type IndexStatus string

const (
	IndexPending IndexStatus = "PENDING"
	IndexIndexed IndexStatus = "INDEXED"
	IndexFailed  IndexStatus = "FAILED"
)
