// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Content and
// its extracted sections.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside a caller's transaction. Missing rows surface as ErrNotFound.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// SectionInput is one pre-extracted section supplied at registration.
type SectionInput struct {
	Title string
	Text  string
}

// CreateContent inserts a Content owned by userID together with its sections,
// numbered 1..n in the given order. IndexStatus starts as PENDING.
func CreateContent(ctx context.Context, db *gorm.DB, userID, title, description string, sections []SectionInput) (*domain.Content, error) {
	now := time.Now().UTC()
	c := &domain.Content{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		Description: description,
		IndexStatus: domain.IndexPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, s := range sections {
		c.Sections = append(c.Sections, domain.ContentSection{
			ID:           uuid.NewString(),
			SectionOrder: i + 1,
			Title:        s.Title,
			ContentText:  s.Text,
			CreatedAt:    now,
		})
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetContent fetches a content owned by userID with its sections in order.
func GetContent(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Content, error) {
	var c domain.Content
	err := db.WithContext(ctx).
		Preload("Sections", func(tx *gorm.DB) *gorm.DB { return tx.Order("section_order ASC") }).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContentByID fetches a content without an ownership check and without
// sections. Used by context assembly where the caller already owns the session.
func GetContentByID(ctx context.Context, db *gorm.DB, id string) (*domain.Content, error) {
	var c domain.Content
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContents returns the user's contents, newest first, without sections.
func ListContents(ctx context.Context, db *gorm.DB, userID string) ([]domain.Content, error) {
	var out []domain.Content
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListSections returns the sections of a content ordered by SectionOrder.
func ListSections(ctx context.Context, db *gorm.DB, contentID string) ([]domain.ContentSection, error) {
	var out []domain.ContentSection
	err := db.WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("section_order ASC").
		Find(&out).Error
	return out, err
}

// GetSectionsByIDs returns the sections whose ids are listed, in no
// particular order.
func GetSectionsByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.ContentSection, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.ContentSection
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// SetIndexStatus records the outcome of section indexing.
func SetIndexStatus(ctx context.Context, db *gorm.DB, contentID string, status domain.IndexStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Content{}).
		Where("id = ?", contentID).
		Updates(map[string]any{"index_status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListContentIDs returns the ids of every content, oldest first.
func ListContentIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Content{}).
		Order("created_at ASC, id ASC").
		Pluck("id", &out).Error
	return out, err
}

// DeleteContent removes a content owned by userID together with everything
// derived from it: sections, learning map and concepts, sessions with their
// interactions and notes. Rows are deleted explicitly so the result does not
// depend on per-connection foreign key enforcement. Returns ErrNotFound when
// the user owns no such content.
func DeleteContent(ctx context.Context, db *gorm.DB, id, userID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Limit(1).Find(&domain.Content{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		sessions := tx.Model(&domain.LearningSession{}).Select("id").Where("content_id = ?", id)
		maps := tx.Model(&domain.LearningMap{}).Select("id").Where("content_id = ?", id)
		steps := []struct {
			model any
			query string
			arg   any
		}{
			{&domain.Interaction{}, "session_id IN (?)", sessions},
			{&domain.Note{}, "session_id IN (?)", sessions},
			{&domain.LearningSession{}, "content_id = ?", id},
			{&domain.Concept{}, "learning_map_id IN (?)", maps},
			{&domain.LearningMap{}, "content_id = ?", id},
			{&domain.ContentSection{}, "content_id = ?", id},
			{&domain.Content{}, "id = ?", id},
		}
		for _, s := range steps {
			if err := tx.Where(s.query, s.arg).Delete(s.model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
