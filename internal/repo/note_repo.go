package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// likeEscaper escapes LIKE wildcards; the backslash is declared as ESCAPE.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// UpsertNote stores text as userID's note on sessionID, replacing the text of
// an existing note and keeping its id and creation time.
func UpsertNote(ctx context.Context, db *gorm.DB, userID, sessionID, text string) (*domain.Note, error) {
	now := time.Now().UTC()
	n := &domain.Note{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		NoteText:  text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := db.WithContext(ctx).Omit("Session").Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"note_text", "updated_at"}),
	}).Create(n).Error
	if err != nil {
		return nil, err
	}
	var out domain.Note
	err = db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNote fetches a note owned by userID.
func GetNote(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Note, error) {
	var n domain.Note
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// ListSessionNotes returns userID's notes on a session, most recently
// updated first.
func ListSessionNotes(ctx context.Context, db *gorm.DB, userID, sessionID string) ([]domain.Note, error) {
	var out []domain.Note
	err := db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("updated_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// CountNotes returns the number of notes owned by userID.
func CountNotes(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Note{}).Where("user_id = ?", userID).Count(&total).Error
	return total, err
}

// ListNotesPage returns a page of userID's notes, most recently updated first.
func ListNotesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Note, error) {
	var out []domain.Note
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateNote replaces the text of a note owned by userID. Returns
// ErrNotFound when no such note exists.
func UpdateNote(ctx context.Context, db *gorm.DB, id, userID, text string) error {
	res := db.WithContext(ctx).
		Model(&domain.Note{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"note_text": text, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNote removes a note owned by userID. Returns ErrNotFound when no
// such note exists.
func DeleteNote(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&domain.Note{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchNotes returns userID's notes whose text contains query, ignoring
// case, most recently updated first. Wildcards in query match literally.
func SearchNotes(ctx context.Context, db *gorm.DB, userID, query string, limit int) ([]domain.Note, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	var out []domain.Note
	err := db.WithContext(ctx).
		Where(`user_id = ? AND LOWER(note_text) LIKE ? ESCAPE '\'`, userID, pattern).
		Order("updated_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
