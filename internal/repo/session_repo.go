package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// ErrConflict reports that a conditional update matched no row because the
// session changed underneath the caller.
var ErrConflict = fmt.Errorf("session modified concurrently: %w", domain.ErrConflict)

// CreateSession inserts a new ACTIVE session in state "init" pointing at
// conceptID (nil when the map has no concepts).
func CreateSession(ctx context.Context, db *gorm.DB, userID, contentID string, conceptID *string) (*domain.LearningSession, error) {
	now := time.Now().UTC()
	s := &domain.LearningSession{
		ID:               uuid.NewString(),
		UserID:           userID,
		ContentID:        contentID,
		CurrentConceptID: conceptID,
		Status:           domain.SessionActive,
		State:            "init",
		LastActiveAt:     now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := db.WithContext(ctx).Omit("Content").Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession fetches a session by id owned by userID.
func GetSession(ctx context.Context, db *gorm.DB, id, userID string) (*domain.LearningSession, error) {
	var s domain.LearningSession
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSessionByID fetches a session without an ownership check.
func GetSessionByID(ctx context.Context, db *gorm.DB, id string) (*domain.LearningSession, error) {
	var s domain.LearningSession
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// FindActiveSession returns the most recently active ACTIVE session of
// userID on contentID, or ErrNotFound.
func FindActiveSession(ctx context.Context, db *gorm.DB, userID, contentID string) (*domain.LearningSession, error) {
	var s domain.LearningSession
	err := db.WithContext(ctx).
		Where("user_id = ? AND content_id = ? AND status = ?", userID, contentID, domain.SessionActive).
		Order("last_active_at desc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountSessions returns the number of sessions owned by userID.
func CountSessions(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.LearningSession{}).Where("user_id = ?", userID).Count(&total).Error
	return total, err
}

// ListSessionsPage returns a page of the user's sessions, most recently
// active first.
func ListSessionsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.LearningSession, error) {
	var out []domain.LearningSession
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_active_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListSessionsSince returns the user's sessions created at or after since,
// newest first.
func ListSessionsSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) ([]domain.LearningSession, error) {
	var out []domain.LearningSession
	err := db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// SessionUpdate carries the mutable fields of a session. Nil fields are left
// unchanged; LastActiveAt is always refreshed.
type SessionUpdate struct {
	State            *string
	Status           *domain.SessionStatus
	Progress         *int
	TotalTimeMinutes *int
	CurrentConceptID **string
}

func (u SessionUpdate) columns(now time.Time) map[string]any {
	cols := map[string]any{"last_active_at": now, "updated_at": now}
	if u.State != nil {
		cols["state"] = *u.State
	}
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.Progress != nil {
		cols["progress"] = *u.Progress
	}
	if u.TotalTimeMinutes != nil {
		cols["total_time_minutes"] = *u.TotalTimeMinutes
	}
	if u.CurrentConceptID != nil {
		cols["current_concept_id"] = *u.CurrentConceptID
	}
	return cols
}

// UpdateSession applies u to the session id owned by userID. Returns
// ErrNotFound if no such session exists.
func UpdateSession(ctx context.Context, db *gorm.DB, id, userID string, u SessionUpdate) error {
	res := db.WithContext(ctx).
		Model(&domain.LearningSession{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(u.columns(time.Now().UTC()))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AdvanceSession applies u only if the session still points at
// expectedConceptID and has not been completed. A mismatch returns
// ErrConflict so two writers cannot both advance the same concept.
func AdvanceSession(ctx context.Context, db *gorm.DB, id string, expectedConceptID *string, u SessionUpdate) error {
	q := db.WithContext(ctx).
		Model(&domain.LearningSession{}).
		Where("id = ? AND status <> ?", id, domain.SessionCompleted)
	if expectedConceptID == nil {
		q = q.Where("current_concept_id IS NULL")
	} else {
		q = q.Where("current_concept_id = ?", *expectedConceptID)
	}
	res := q.Updates(u.columns(time.Now().UTC()))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// RepointSessions moves every unfinished session on contentID to conceptID
// and restarts it, as after the content's learning map was regenerated.
// It returns the number of sessions touched.
func RepointSessions(ctx context.Context, db *gorm.DB, contentID string, conceptID *string) (int64, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.LearningSession{}).
		Where("content_id = ? AND status <> ?", contentID, domain.SessionCompleted).
		Updates(map[string]any{
			"current_concept_id": conceptID,
			"progress":           0,
			"state":              "init",
			"updated_at":         now,
		})
	return res.RowsAffected, res.Error
}

// ListUserSessions returns every session of userID, newest first. With a
// non-empty contentID only sessions on that content are returned.
func ListUserSessions(ctx context.Context, db *gorm.DB, userID, contentID string) ([]domain.LearningSession, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if contentID != "" {
		q = q.Where("content_id = ?", contentID)
	}
	var out []domain.LearningSession
	err := q.Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}
