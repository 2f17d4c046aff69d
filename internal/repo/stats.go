// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// SessionsStats returns aggregate metadata for a user's sessions: the total
// number of rows and the maximum UpdatedAt timestamp among those rows.
//
// When the user has no sessions, the returned count is 0 and maxUpdatedAt
// is nil.
func SessionsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.LearningSession{}).Where("user_id = ?", userID)
	return latest(q, "updated_at")
}

// InteractionsStats returns the number of interactions of a session and the
// newest CreatedAt. Interactions are append-only so creation time is their
// only change marker.
func InteractionsStats(ctx context.Context, db *gorm.DB, sessionID string) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Interaction{}).Where("session_id = ?", sessionID)
	return latest(q, "created_at")
}

// NotesStats returns the number of notes owned by userID and the newest
// UpdatedAt among them.
func NotesStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Note{}).Where("user_id = ?", userID)
	return latest(q, "updated_at")
}

func latest(q *gorm.DB, column string) (int64, *time.Time, error) {
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest timestamp (avoid MAX() -> TEXT in SQLite)
	var row struct {
		At time.Time
	}
	if err := q.Session(&gorm.Session{}).Select(column + " AS at").Order(column + " DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.At, nil
}
