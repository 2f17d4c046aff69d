package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MaxNoteRunes bounds a note's text.
	MaxNoteRunes = 50000
	// MaxQueryRunes bounds a note search query.
	MaxQueryRunes = 200
	// noteSearchLimit caps search results.
	noteSearchLimit = 50
)

// NotesService keeps the learner's free-text notes on their sessions.
type NotesService struct {
	DB *gorm.DB
}

// Save stores text as the user's note on sessionID, replacing an earlier
// note on the same session.
func (s *NotesService) Save(ctx context.Context, userID, sessionID, text string) (*domain.Note, error) {
	tr := otel.Tracer("services/NotesService")
	ctx, span := tr.Start(ctx, "Save",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("session.id", sessionID),
		),
	)
	defer span.End()

	text, err := noteText(text)
	if err != nil {
		return nil, err
	}
	if _, err := repo.GetSession(ctx, s.DB, sessionID, userID); err != nil {
		return nil, lookupErr(err, ErrSessionNotFound)
	}
	return repo.UpsertNote(ctx, s.DB, userID, sessionID, text)
}

// SessionNotes lists the user's notes on a session they own.
func (s *NotesService) SessionNotes(ctx context.Context, userID, sessionID string) ([]domain.Note, error) {
	tr := otel.Tracer("services/NotesService")
	ctx, span := tr.Start(ctx, "SessionNotes", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if _, err := repo.GetSession(ctx, s.DB, sessionID, userID); err != nil {
		return nil, lookupErr(err, ErrSessionNotFound)
	}
	out, err := repo.ListSessionNotes(ctx, s.DB, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return nonNilNotes(out), nil
}

// ListPage returns a page of the user's notes and their total count.
func (s *NotesService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Note, int64, error) {
	tr := otel.Tracer("services/NotesService")
	ctx, span := tr.Start(ctx, "ListPage", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	p := utils.Page{Number: page, Size: pageSize}.Clamp()
	total, err := repo.CountNotes(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	out, err := repo.ListNotesPage(ctx, s.DB, userID, p.Offset(), p.Size)
	if err != nil {
		return nil, 0, err
	}
	return nonNilNotes(out), total, nil
}

// Update replaces the text of a note the user owns.
func (s *NotesService) Update(ctx context.Context, userID, noteID, text string) (*domain.Note, error) {
	tr := otel.Tracer("services/NotesService")
	ctx, span := tr.Start(ctx, "Update", trace.WithAttributes(attribute.String("note.id", noteID)))
	defer span.End()

	text, err := noteText(text)
	if err != nil {
		return nil, err
	}
	if err := repo.UpdateNote(ctx, s.DB, noteID, userID, text); err != nil {
		return nil, lookupErr(err, ErrNoteNotFound)
	}
	n, err := repo.GetNote(ctx, s.DB, noteID, userID)
	if err != nil {
		return nil, lookupErr(err, ErrNoteNotFound)
	}
	return n, nil
}

// Delete removes a note the user owns.
func (s *NotesService) Delete(ctx context.Context, userID, noteID string) error {
	tr := otel.Tracer("services/NotesService")
	ctx, span := tr.Start(ctx, "Delete", trace.WithAttributes(attribute.String("note.id", noteID)))
	defer span.End()

	return lookupErr(repo.DeleteNote(ctx, s.DB, noteID, userID), ErrNoteNotFound)
}

// Search returns the user's notes containing query, ignoring case.
func (s *NotesService) Search(ctx context.Context, userID, query string) ([]domain.Note, error) {
	tr := otel.Tracer("services/NotesService")
	ctx, span := tr.Start(ctx, "Search", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	q := strings.TrimSpace(query)
	if q == "" || utf8.RuneCountInString(q) > MaxQueryRunes {
		return nil, ErrBadQuery
	}
	out, err := repo.SearchNotes(ctx, s.DB, userID, q, noteSearchLimit)
	if err != nil {
		return nil, err
	}
	return nonNilNotes(out), nil
}

func noteText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyNote
	}
	if utf8.RuneCountInString(text) > MaxNoteRunes {
		return "", ErrNoteTooLong
	}
	return text, nil
}

func nonNilNotes(n []domain.Note) []domain.Note {
	if n == nil {
		return []domain.Note{}
	}
	return n
}
