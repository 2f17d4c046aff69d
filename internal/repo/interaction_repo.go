package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// CreateInteraction appends an interaction. The id is a UUIDv7 so ids sort
// in creation order.
func CreateInteraction(ctx context.Context, db *gorm.DB, in *domain.Interaction) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	in.ID = id.String()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit("Session").Create(in).Error
}

// ListInteractions returns every interaction of a session, oldest first.
func ListInteractions(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.Interaction, error) {
	var out []domain.Interaction
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListRecentInteractions returns the last n interactions of a session,
// oldest first.
func ListRecentInteractions(ctx context.Context, db *gorm.DB, sessionID string, n int) ([]domain.Interaction, error) {
	var out []domain.Interaction
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountInteractions returns the number of interactions of a session.
func CountInteractions(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Interaction{}).Where("session_id = ?", sessionID).Count(&total).Error
	return total, err
}

// ListInteractionsPage returns a page of a session's interactions, oldest first.
func ListInteractionsPage(ctx context.Context, db *gorm.DB, sessionID string, offset, limit int) ([]domain.Interaction, error) {
	var out []domain.Interaction
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListScoredInteractions returns the user's interactions that carry a
// confidence score and a concept, newest first.
func ListScoredInteractions(ctx context.Context, db *gorm.DB, userID string) ([]domain.Interaction, error) {
	var out []domain.Interaction
	err := db.WithContext(ctx).
		Joins("JOIN learning_sessions ON learning_sessions.id = interactions.session_id").
		Where("learning_sessions.user_id = ? AND interactions.confidence_score IS NOT NULL AND interactions.concept_id IS NOT NULL", userID).
		Order("interactions.created_at DESC, interactions.id DESC").
		Find(&out).Error
	return out, err
}

// ListSessionConfidences returns the confidence scores recorded in the given
// sessions, oldest first.
func ListSessionConfidences(ctx context.Context, db *gorm.DB, sessionIDs []string) ([]float64, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var out []float64
	err := db.WithContext(ctx).
		Model(&domain.Interaction{}).
		Where("session_id IN ? AND confidence_score IS NOT NULL", sessionIDs).
		Order("created_at ASC, id ASC").
		Pluck("confidence_score", &out).Error
	return out, err
}

// LatestInteraction returns the newest interaction of a session with the
// given type, or ErrNotFound.
func LatestInteraction(ctx context.Context, db *gorm.DB, sessionID string, kind domain.InteractionType) (*domain.Interaction, error) {
	var in domain.Interaction
	err := db.WithContext(ctx).
		Where("session_id = ? AND interaction_type = ?", sessionID, kind).
		Order("created_at DESC, id DESC").
		First(&in).Error
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// ListSessionConceptIDs returns the distinct concept ids referenced by the
// interactions of the given sessions.
func ListSessionConceptIDs(ctx context.Context, db *gorm.DB, sessionIDs []string) ([]string, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Interaction{}).
		Where("session_id IN ? AND concept_id IS NOT NULL", sessionIDs).
		Distinct("concept_id").
		Pluck("concept_id", &out).Error
	return out, err
}

// CountInteractionsBySession returns the interaction count of each listed
// session. Sessions without interactions are absent from the map.
func CountInteractionsBySession(ctx context.Context, db *gorm.DB, sessionIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		SessionID string
		N         int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Interaction{}).
		Select("session_id, COUNT(*) AS n").
		Where("session_id IN ?", sessionIDs).
		Group("session_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.SessionID] = r.N
	}
	return out, nil
}

// ListContentInteractions returns userID's interactions in sessions on
// contentID, oldest first.
func ListContentInteractions(ctx context.Context, db *gorm.DB, userID, contentID string) ([]domain.Interaction, error) {
	var out []domain.Interaction
	err := db.WithContext(ctx).
		Joins("JOIN learning_sessions ON learning_sessions.id = interactions.session_id").
		Where("learning_sessions.user_id = ? AND learning_sessions.content_id = ?", userID, contentID).
		Order("interactions.created_at ASC, interactions.id ASC").
		Find(&out).Error
	return out, err
}

// ListConceptInteractions returns userID's interactions on conceptID, oldest
// first.
func ListConceptInteractions(ctx context.Context, db *gorm.DB, userID, conceptID string) ([]domain.Interaction, error) {
	var out []domain.Interaction
	err := db.WithContext(ctx).
		Joins("JOIN learning_sessions ON learning_sessions.id = interactions.session_id").
		Where("learning_sessions.user_id = ? AND interactions.concept_id = ?", userID, conceptID).
		Order("interactions.created_at ASC, interactions.id ASC").
		Find(&out).Error
	return out, err
}
