// Package services implements the tutoring application layer: the AI role
// services (tutor, examiner, coach, planner, reviewer) that call the
// orchestrator and recover from malformed model output, plus the content and
// session services that own the learning-session lifecycle.
//
// This file centralizes service-level error values. Each wraps one of the
// domain categories so handlers can map them to HTTP results without knowing
// every sentinel.
package services

import (
	"fmt"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// Lookup errors.
var (
	// ErrContentNotFound indicates that the content does not exist or is not
	// owned by the current user.
	ErrContentNotFound = fmt.Errorf("content %w", domain.ErrNotFound)

	// ErrSessionNotFound indicates that the session does not exist or is not
	// owned by the current user.
	ErrSessionNotFound = fmt.Errorf("session %w", domain.ErrNotFound)

	// ErrLearningMapNotFound is returned when a content has no learning map.
	ErrLearningMapNotFound = fmt.Errorf("learning map %w", domain.ErrNotFound)

	// ErrConceptNotFound indicates that the concept does not exist or its
	// content is not owned by the current user.
	ErrConceptNotFound = fmt.Errorf("concept %w", domain.ErrNotFound)

	// ErrNoteNotFound indicates that the note does not exist or is not owned
	// by the current user.
	ErrNoteNotFound = fmt.Errorf("note %w", domain.ErrNotFound)
)

// Input errors.
var (
	// ErrEmptyMessage is returned when a message that must carry text is blank.
	ErrEmptyMessage = fmt.Errorf("%w: message is empty", domain.ErrValidation)

	// ErrTooLong is returned when a message exceeds the configured rune limit.
	ErrTooLong = fmt.Errorf("%w: message too long", domain.ErrValidation)

	// ErrNoSections is returned when content without sections is registered
	// or planned.
	ErrNoSections = fmt.Errorf("%w: content has no sections", domain.ErrValidation)

	// ErrNoLearningMap is returned when a session is started on content that
	// has not been planned yet.
	ErrNoLearningMap = fmt.Errorf("%w: content has no learning map, generate one first", domain.ErrValidation)

	// ErrInvalidUpdate is returned for a session update with no usable field.
	ErrInvalidUpdate = fmt.Errorf("%w: invalid session update", domain.ErrValidation)

	// ErrEmptyNote is returned when a note has no text.
	ErrEmptyNote = fmt.Errorf("%w: note is empty", domain.ErrValidation)

	// ErrNoteTooLong is returned when a note exceeds MaxNoteRunes.
	ErrNoteTooLong = fmt.Errorf("%w: note too long", domain.ErrValidation)

	// ErrBadQuery is returned for a blank or overlong note search query.
	ErrBadQuery = fmt.Errorf("%w: search query must be 1-%d characters", domain.ErrValidation, MaxQueryRunes)
)

// State errors.
var (
	// ErrSessionCompleted is returned when a completed session is mutated.
	ErrSessionCompleted = fmt.Errorf("session already completed: %w", domain.ErrConflict)

	// ErrSessionPaused is returned when a paused session receives an
	// interaction.
	ErrSessionPaused = fmt.Errorf("session is paused: %w", domain.ErrConflict)
)
