// Package domain defines the persistence models for uploaded content, learning
// maps, learning sessions, and the interactions exchanged with the AI roles.
// These types are mapped with GORM and form the core data layer of the
// tutoring backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Content is a document registered by a user for study. Its text arrives
// pre-extracted as ordered sections.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: owner of the content; indexed for listing.
//   - Title / Description: human-readable metadata used in prompts.
//   - IndexStatus: outcome of background section indexing.
//   - Sections: ordered extracted sections (cascade-deleted).
type Content struct {
	ID          string      `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string      `json:"user_id"      gorm:"type:varchar(64);not null;index:idx_user_contents"`
	Title       string      `json:"title"        gorm:"type:varchar(255);not null"`
	Description string      `json:"description"  gorm:"type:text;not null;default:''"`
	IndexStatus IndexStatus `json:"index_status" gorm:"type:varchar(16);not null;default:'PENDING'"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	Sections []ContentSection `json:"sections,omitempty" gorm:"foreignKey:ContentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Content.
func (Content) TableName() string { return "contents" }

// ContentSection is one extracted section of a Content. SectionOrder is
// 1-based and unique within its content.
type ContentSection struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	ContentID    string    `json:"content_id"    gorm:"type:char(36);not null;uniqueIndex:ux_content_section_order,priority:1"`
	SectionOrder int       `json:"section_order" gorm:"not null;uniqueIndex:ux_content_section_order,priority:2"`
	Title        string    `json:"title"         gorm:"type:varchar(255);not null;default:''"`
	ContentText  string    `json:"content_text"  gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for ContentSection.
func (ContentSection) TableName() string { return "content_sections" }

// LearningMap is the Planner's ordered decomposition of a Content into
// concepts. A content has at most one map; regenerating replaces it.
type LearningMap struct {
	ID                string    `json:"id"                 gorm:"type:char(36);primaryKey"`
	ContentID         string    `json:"content_id"         gorm:"type:char(36);not null;uniqueIndex:ux_learning_map_content"`
	Overview          string    `json:"overview"           gorm:"type:text;not null;default:''"`
	TotalConcepts     int       `json:"total_concepts"     gorm:"not null;default:0"`
	EstimatedDuration int       `json:"estimated_duration" gorm:"not null;default:0"` // minutes
	DifficultyLevel   string    `json:"difficulty_level"   gorm:"type:varchar(16);not null;default:'beginner'"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Concepts []Concept `json:"concepts,omitempty" gorm:"foreignKey:LearningMapID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Content  Content   `json:"-"                  gorm:"foreignKey:ContentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for LearningMap.
func (LearningMap) TableName() string { return "learning_maps" }

// Concept is a single unit of study within a LearningMap.
//
// Fields:
//   - ConceptOrder: 1-based, dense and unique per map.
//   - Difficulty: 1..5.
//   - Prerequisites: titles of earlier concepts; advisory only.
//   - KeyPoints: short bullet points surfaced to the tutor.
type Concept struct {
	ID               string                      `json:"id"                gorm:"type:char(36);primaryKey"`
	LearningMapID    string                      `json:"learning_map_id"   gorm:"type:char(36);not null;uniqueIndex:ux_map_concept_order,priority:1"`
	Title            string                      `json:"title"             gorm:"type:varchar(255);not null"`
	Description      string                      `json:"description"       gorm:"type:text;not null;default:''"`
	ConceptOrder     int                         `json:"concept_order"     gorm:"not null;uniqueIndex:ux_map_concept_order,priority:2"`
	Difficulty       int                         `json:"difficulty"        gorm:"not null;default:1"`
	EstimatedMinutes int                         `json:"estimated_minutes" gorm:"not null;default:0"`
	Prerequisites    datatypes.JSONSlice[string] `json:"prerequisites"`
	KeyPoints        datatypes.JSONSlice[string] `json:"key_points"`
	CreatedAt        time.Time                   `json:"created_at"`
}

// TableName returns the database table name for Concept.
func (Concept) TableName() string { return "concepts" }

// LearningSession tracks one user's walk through a content's learning map.
// State holds the session state machine position; Status is the coarse
// lifecycle visible to clients.
//
// Invariant: while not COMPLETED, CurrentConceptID references a concept of
// the content's learning map, or is nil when the map has no concepts.
type LearningSession struct {
	ID               string        `json:"id"                 gorm:"type:char(36);primaryKey"`
	UserID           string        `json:"user_id"            gorm:"type:varchar(64);not null;index:idx_user_sessions,priority:1"`
	ContentID        string        `json:"content_id"         gorm:"type:char(36);not null;index:idx_user_sessions,priority:2"`
	CurrentConceptID *string       `json:"current_concept_id" gorm:"type:char(36)"`
	Status           SessionStatus `json:"status"             gorm:"type:varchar(16);not null;default:'ACTIVE';index"`
	State            string        `json:"state"              gorm:"type:varchar(16);not null;default:'init'"`
	Progress         int           `json:"progress"           gorm:"not null;default:0"`
	TotalTimeMinutes int           `json:"total_time_minutes" gorm:"not null;default:0"`
	LastActiveAt     time.Time     `json:"last_active_at"`
	CreatedAt        time.Time     `json:"created_at"         gorm:"index"`
	UpdatedAt        time.Time     `json:"updated_at"`

	Content Content `json:"-" gorm:"foreignKey:ContentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for LearningSession.
func (LearningSession) TableName() string { return "learning_sessions" }

// Interaction is one append-only exchange between a user and an AI role.
// IDs are time-ordered (UUIDv7) so listing by id is chronological.
type Interaction struct {
	ID              string          `json:"id"               gorm:"type:char(36);primaryKey"`
	SessionID       string          `json:"session_id"       gorm:"type:char(36);not null;index:idx_session_interactions,priority:1"`
	ConceptID       *string         `json:"concept_id"       gorm:"type:char(36);index"`
	Role            string          `json:"role"             gorm:"type:varchar(16);not null;check:role IN ('PLANNER','TUTOR','EXAMINER','COACH','REVIEWER')"`
	UserMessage     string          `json:"user_message"     gorm:"type:text;not null;default:''"`
	AIResponse      string          `json:"ai_response"      gorm:"type:text;not null;default:''"`
	InteractionType InteractionType `json:"interaction_type" gorm:"type:varchar(16);not null"`
	TokensUsed      int             `json:"tokens_used"      gorm:"not null;default:0"`
	ConfidenceScore *float64        `json:"confidence_score,omitempty"`
	Provider        string          `json:"provider"         gorm:"type:varchar(16);not null;default:''"`
	PromptVersion   string          `json:"prompt_version"   gorm:"type:varchar(16);not null;default:''"`
	CreatedAt       time.Time       `json:"created_at"       gorm:"index:idx_session_interactions,priority:2"`

	Session LearningSession `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Interaction.
func (Interaction) TableName() string { return "interactions" }

// Note is a learner's free-text note on a session. A user keeps at most one
// note per session; saving again replaces its text.
type Note struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_user_session_note,priority:1;index:idx_user_notes"`
	SessionID string    `json:"session_id" gorm:"type:char(36);not null;uniqueIndex:ux_user_session_note,priority:2"`
	NoteText  string    `json:"note_text"  gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`

	Session LearningSession `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Note.
func (Note) TableName() string { return "notes" }
