// internal/domain/idempotency_test.go
package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestIdempotency_Migration_Indexes_AndInsert(t *testing.T) {
	db := newTestDB(t)

	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasTable(&Idempotency{}) {
		t.Fatalf("expected table %q to exist", Idempotency{}.TableName())
	}
	if !m.HasIndex(&Idempotency{}, "ux_user_scope_key") {
		t.Fatalf("expected composite index ux_user_scope_key to exist")
	}

	now := time.Now().UTC()

	// --------- Assert NOT NULL constraints by behavior (attempt NULL insert) ----------
	assertNullRejected := func(col string) {
		t.Helper()
		vals := []any{"x-" + col, "u1", "s1", "k1", 200, []byte("{}"), now, now.Add(time.Hour)}
		names := []string{"id", "user_id", "scope", "key", "status", "body", "created_at", "expires_at"}
		for i, name := range names {
			if name == col {
				vals[i] = nil // force NULL
			}
		}
		err := db.Exec(`INSERT INTO idempotency ("id","user_id","scope","key","status","body","created_at","expires_at")
		                VALUES (?,?,?,?,?,?,?,?)`, vals...).Error
		if err == nil {
			t.Fatalf("expected NOT NULL violation when inserting NULL into %q", col)
		}
	}
	for _, col := range []string{"user_id", "scope", "key", "status", "body", "expires_at"} {
		assertNullRejected(col)
	}

	// --------- Insert a valid record and read it back ----------
	rec := &Idempotency{
		ID:        "id-1",
		UserID:    "u1",
		Scope:     "s1",
		Key:       "k1",
		Status:    200,
		Body:      []byte(`{"state":"user_explain"}`),
		ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.UserID != "u1" || got.Scope != "s1" || got.Key != "k1" || got.Status != 200 || string(got.Body) != `{"state":"user_explain"}` {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be set by autoCreateTime")
	}

	// --------- Unique index behavior check (user_id,scope,key must be unique) ----------
	dup := &Idempotency{ID: "id-2", UserID: "u1", Scope: "s1", Key: "k1", Status: 200, Body: []byte("{}"), ExpiresAt: now.Add(2 * time.Hour)}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE constraint violation on (user_id, scope, key)")
	}
}
