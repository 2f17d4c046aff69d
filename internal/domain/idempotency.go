package domain

import "time"

// Idempotency represents a recorded result of a previously processed request,
// keyed by (user_id, scope, key). Scope is the resource the request targeted
// (a session id for interact calls). A retry with the same key returns Body
// with Status instead of re-running the AI pipeline.
type Idempotency struct {
	ID        string    `gorm:"type:char(36);not null;primaryKey"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_scope_key,priority:1"`
	Scope     string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_scope_key,priority:2"`
	Key       string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_user_scope_key,priority:3"`
	Status    int       `gorm:"not null"`
	Body      []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
