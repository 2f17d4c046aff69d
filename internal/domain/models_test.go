package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection so the PRAGMA applies to every statement.
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		Content{}.TableName():         "contents",
		ContentSection{}.TableName():  "content_sections",
		LearningMap{}.TableName():     "learning_maps",
		Concept{}.TableName():         "concepts",
		LearningSession{}.TableName(): "learning_sessions",
		Interaction{}.TableName():     "interactions",
		Idempotency{}.TableName():     "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	models := []any{&Content{}, &ContentSection{}, &LearningMap{}, &Concept{}, &LearningSession{}, &Interaction{}}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, tbl := range models {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	// Indexes from tags exist
	idx := []struct {
		model any
		name  string
	}{
		{&Content{}, "idx_user_contents"},
		{&ContentSection{}, "ux_content_section_order"},
		{&LearningMap{}, "ux_learning_map_content"},
		{&Concept{}, "ux_map_concept_order"},
		{&LearningSession{}, "idx_user_sessions"},
		{&Interaction{}, "idx_session_interactions"},
	}
	for _, ix := range idx {
		if !m.HasIndex(ix.model, ix.name) {
			t.Fatalf("expected index %s on %T", ix.name, ix.model)
		}
	}

	now := time.Now().UTC()
	c := &Content{ID: "c1", UserID: "u1", Title: "Go", Sections: []ContentSection{
		{ID: "s1", SectionOrder: 1, Title: "Intro", ContentText: "hello"},
		{ID: "s2", SectionOrder: 2, Title: "More", ContentText: "world"},
	}}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("insert content: %v", err)
	}
	var reread Content
	if err := db.First(&reread, "id = ?", "c1").Error; err != nil {
		t.Fatalf("reread content: %v", err)
	}
	if reread.IndexStatus != IndexPending {
		t.Fatalf("IndexStatus default = %q; want PENDING", reread.IndexStatus)
	}

	// Duplicate section order is rejected.
	if err := db.Create(&ContentSection{ID: "s3", ContentID: "c1", SectionOrder: 2, ContentText: "dup"}).Error; err == nil {
		t.Fatalf("expected unique violation on (content_id, section_order)")
	}

	lm := &LearningMap{ID: "m1", ContentID: "c1", TotalConcepts: 1, Concepts: []Concept{{
		ID: "k1", Title: "Basics", ConceptOrder: 1, Difficulty: 2,
		Prerequisites: datatypes.JSONSlice[string]{},
		KeyPoints:     datatypes.JSONSlice[string]{"syntax", "types"},
	}}}
	if err := db.Create(lm).Error; err != nil {
		t.Fatalf("insert map: %v", err)
	}
	// At most one map per content.
	if err := db.Create(&LearningMap{ID: "m2", ContentID: "c1"}).Error; err == nil {
		t.Fatalf("expected unique violation on learning_maps.content_id")
	}

	var k Concept
	if err := db.First(&k, "id = ?", "k1").Error; err != nil {
		t.Fatalf("reread concept: %v", err)
	}
	if len(k.KeyPoints) != 2 || k.KeyPoints[1] != "types" {
		t.Fatalf("key points roundtrip = %#v", k.KeyPoints)
	}

	cid := "k1"
	s := &LearningSession{ID: "ls1", UserID: "u1", ContentID: "c1", CurrentConceptID: &cid, LastActiveAt: now}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("insert session: %v", err)
	}
	var rs LearningSession
	if err := db.First(&rs, "id = ?", "ls1").Error; err != nil {
		t.Fatalf("reread session: %v", err)
	}
	if rs.Status != SessionActive || rs.State != "init" {
		t.Fatalf("session defaults = %q/%q", rs.Status, rs.State)
	}

	in := &Interaction{ID: "i1", SessionID: "ls1", ConceptID: &cid, Role: RoleTutor.Persisted(), InteractionType: InteractionExplanation}
	if err := db.Create(in).Error; err != nil {
		t.Fatalf("insert interaction: %v", err)
	}
	bad := &Interaction{ID: "i2", SessionID: "ls1", Role: "tutor", InteractionType: InteractionExplanation}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected check constraint violation for lower-case role")
	}

	// CASCADE: deleting the content removes sections, map, concepts, sessions, interactions.
	if err := db.Delete(&Content{}, "id = ?", "c1").Error; err != nil {
		t.Fatalf("delete content: %v", err)
	}
	for _, tbl := range []any{&ContentSection{}, &LearningMap{}, &Concept{}, &LearningSession{}, &Interaction{}} {
		var cnt int64
		if err := db.Model(tbl).Count(&cnt).Error; err != nil {
			t.Fatalf("count %T: %v", tbl, err)
		}
		if cnt != 0 {
			t.Fatalf("expected %T to cascade-delete, got count=%d", tbl, cnt)
		}
	}
}
