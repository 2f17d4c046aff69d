package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// GetLearningMap returns the map for contentID with concepts ordered by
// ConceptOrder, or ErrNotFound.
func GetLearningMap(ctx context.Context, db *gorm.DB, contentID string) (*domain.LearningMap, error) {
	var m domain.LearningMap
	err := db.WithContext(ctx).
		Preload("Concepts", func(tx *gorm.DB) *gorm.DB { return tx.Order("concept_order ASC") }).
		Where("content_id = ?", contentID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ReplaceLearningMap deletes any existing map (and its concepts) for
// m.ContentID and inserts m with its concepts in a single transaction.
// IDs, ConceptOrder (1..n) and TotalConcepts are assigned here.
func ReplaceLearningMap(ctx context.Context, db *gorm.DB, m *domain.LearningMap) error {
	now := time.Now().UTC()
	m.ID = uuid.NewString()
	m.TotalConcepts = len(m.Concepts)
	m.CreatedAt, m.UpdatedAt = now, now
	for i := range m.Concepts {
		m.Concepts[i].ID = uuid.NewString()
		m.Concepts[i].LearningMapID = m.ID
		m.Concepts[i].ConceptOrder = i + 1
		m.Concepts[i].CreatedAt = now
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old []string
		if err := tx.Model(&domain.LearningMap{}).Where("content_id = ?", m.ContentID).Pluck("id", &old).Error; err != nil {
			return err
		}
		if len(old) > 0 {
			if err := tx.Where("learning_map_id IN ?", old).Delete(&domain.Concept{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", old).Delete(&domain.LearningMap{}).Error; err != nil {
				return err
			}
		}
		return tx.Omit("Content").Create(m).Error
	})
}

// GetConcept fetches a concept by id.
func GetConcept(ctx context.Context, db *gorm.DB, id string) (*domain.Concept, error) {
	var c domain.Concept
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContentConcept fetches concept id only if it belongs to the learning
// map of contentID, else ErrNotFound.
func GetContentConcept(ctx context.Context, db *gorm.DB, contentID, id string) (*domain.Concept, error) {
	var c domain.Concept
	err := db.WithContext(ctx).
		Joins("JOIN learning_maps ON learning_maps.id = concepts.learning_map_id").
		Where("concepts.id = ? AND learning_maps.content_id = ?", id, contentID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FirstConcept returns the lowest-ordered concept of a map, or nil when the
// map has none.
func FirstConcept(ctx context.Context, db *gorm.DB, mapID string) (*domain.Concept, error) {
	return conceptAfter(ctx, db, mapID, 0)
}

// NextConcept returns the concept following order in mapID, or nil if order
// is the last one.
func NextConcept(ctx context.Context, db *gorm.DB, mapID string, order int) (*domain.Concept, error) {
	return conceptAfter(ctx, db, mapID, order)
}

func conceptAfter(ctx context.Context, db *gorm.DB, mapID string, order int) (*domain.Concept, error) {
	var c domain.Concept
	err := db.WithContext(ctx).
		Where("learning_map_id = ? AND concept_order > ?", mapID, order).
		Order("concept_order ASC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConcepts returns the number of concepts in a map.
func CountConcepts(ctx context.Context, db *gorm.DB, mapID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Concept{}).Where("learning_map_id = ?", mapID).Count(&n).Error
	return n, err
}

// GetConceptsByIDs returns the concepts whose ids are listed.
func GetConceptsByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Concept, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.Concept
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// GetUserConcept fetches a concept whose content is owned by userID.
func GetUserConcept(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Concept, error) {
	var c domain.Concept
	err := db.WithContext(ctx).
		Joins("JOIN learning_maps ON learning_maps.id = concepts.learning_map_id").
		Joins("JOIN contents ON contents.id = learning_maps.content_id").
		Where("concepts.id = ? AND contents.user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}
