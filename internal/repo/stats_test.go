package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

func TestSessionsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, _, err := SessionsStats(context.Background(), db, "u1")
	if err == nil {
		t.Fatalf("expected error due to missing learning_sessions table")
	}
}

func TestSessionsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Content{}, &domain.LearningSession{})
	count, maxAt, err := SessionsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("SessionsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestSessionsStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.Content{}, &domain.LearningSession{})

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for u1
	t3 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)   // for other user

	seed := []*domain.LearningSession{
		{ID: "s1", UserID: "u1", ContentID: "c1", Status: domain.SessionActive, State: "init", CreatedAt: t1, UpdatedAt: t1},
		{ID: "s2", UserID: "u1", ContentID: "c1", Status: domain.SessionActive, State: "init", CreatedAt: t2, UpdatedAt: t2},
		{ID: "s3", UserID: "u2", ContentID: "c1", Status: domain.SessionActive, State: "init", CreatedAt: t3, UpdatedAt: t3},
	}
	for _, s := range seed {
		if err := db.Omit("Content").Create(s).Error; err != nil {
			t.Fatalf("seed %s: %v", s.ID, err)
		}
	}

	count, maxAt, err := SessionsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("SessionsStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected maxUpdatedAt %v, got %v", t2, maxAt)
	}
}

func TestInteractionsStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.Content{}, &domain.LearningSession{}, &domain.Interaction{})

	t1 := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 4, 1, 12, 5, 0, 0, time.UTC) // max for sX
	t3 := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)  // other session

	for _, in := range []*domain.Interaction{
		{SessionID: "sX", Role: "TUTOR", InteractionType: domain.InteractionExplanation, CreatedAt: t1},
		{SessionID: "sX", Role: "EXAMINER", InteractionType: domain.InteractionEvaluation, CreatedAt: t2},
		{SessionID: "sY", Role: "TUTOR", InteractionType: domain.InteractionExplanation, CreatedAt: t3},
	} {
		if err := CreateInteraction(context.Background(), db, in); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	count, maxAt, err := InteractionsStats(context.Background(), db, "sX")
	if err != nil {
		t.Fatalf("InteractionsStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected maxCreatedAt %v, got %v", t2, maxAt)
	}
}

// Force the second query (SELECT updated_at ...) to fail by renaming the column.
func TestSessionsStats_SelectLatest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.Content{}, &domain.LearningSession{})

	now := time.Now().UTC()
	if err := db.Omit("Content").Create(&domain.LearningSession{
		ID: "sx", UserID: "uerr", ContentID: "c", Status: domain.SessionActive, State: "init", CreatedAt: now, UpdatedAt: now,
	}).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := db.Exec(`ALTER TABLE learning_sessions RENAME COLUMN updated_at TO updated_at_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}

	if _, _, err := SessionsStats(context.Background(), db, "uerr"); err == nil {
		t.Fatalf("expected error from latest-updated select after column rename")
	}
}

func TestNotesStats_TracksEdits(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.Content{}, &domain.LearningSession{}, &domain.Note{})

	count, maxAt, err := NotesStats(ctx, db, "u1")
	if err != nil || count != 0 || maxAt != nil {
		t.Fatalf("empty: (%d, %v, %v)", count, maxAt, err)
	}

	n, err := UpsertNote(ctx, db, "u1", "s1", "first")
	if err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	if _, err := UpsertNote(ctx, db, "u2", "s1", "other user"); err != nil {
		t.Fatalf("UpsertNote other: %v", err)
	}
	count, before, err := NotesStats(ctx, db, "u1")
	if err != nil || count != 1 || before == nil {
		t.Fatalf("after insert: (%d, %v, %v)", count, before, err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := UpdateNote(ctx, db, n.ID, "u1", "second"); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	_, after, err := NotesStats(ctx, db, "u1")
	if err != nil || after == nil || !after.After(*before) {
		t.Fatalf("update did not move the marker: %v -> %v (%v)", before, after, err)
	}
}
