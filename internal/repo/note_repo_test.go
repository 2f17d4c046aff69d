package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

func TestUpsertNote_OnePerUserAndSession(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.Content{}, &domain.LearningSession{}, &domain.Note{})

	first, err := UpsertNote(ctx, db, "u1", "s1", "draft")
	if err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	again, err := UpsertNote(ctx, db, "u1", "s1", "final")
	if err != nil {
		t.Fatalf("second UpsertNote: %v", err)
	}
	if again.ID != first.ID || again.NoteText != "final" || !again.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("upsert replaced the row: %+v vs %+v", again, first)
	}
	if _, err := UpsertNote(ctx, db, "u1", "s2", "other session"); err != nil {
		t.Fatalf("UpsertNote s2: %v", err)
	}
	if total, err := CountNotes(ctx, db, "u1"); err != nil || total != 2 {
		t.Fatalf("CountNotes = %d, %v", total, err)
	}

	if _, err := GetNote(ctx, db, first.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign GetNote: %v", err)
	}
	if err := UpdateNote(ctx, db, first.ID, "u2", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign UpdateNote: %v", err)
	}
	if err := DeleteNote(ctx, db, first.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign DeleteNote: %v", err)
	}
	if err := DeleteNote(ctx, db, first.ID, "u1"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if notes, err := ListSessionNotes(ctx, db, "u1", "s1"); err != nil || len(notes) != 0 {
		t.Fatalf("ListSessionNotes after delete = %+v, %v", notes, err)
	}
}

func TestSearchNotes_EscapesWildcards(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.Content{}, &domain.LearningSession{}, &domain.Note{})

	for i, text := range []string{"snake_case names", "snakeXcase names", `C:\path`, "Half the 50% rule"} {
		if _, err := UpsertNote(ctx, db, "u1", "s"+string(rune('a'+i)), text); err != nil {
			t.Fatalf("UpsertNote: %v", err)
		}
	}

	cases := []struct {
		q    string
		want int
	}{
		{"SNAKE", 2},
		{"snake_case", 1},
		{`c:\`, 1},
		{"%", 1},
		{"absent", 0},
	}
	for _, tc := range cases {
		got, err := SearchNotes(ctx, db, "u1", tc.q, 10)
		if err != nil || len(got) != tc.want {
			t.Fatalf("SearchNotes(%q) = %d notes, %v; want %d", tc.q, len(got), err, tc.want)
		}
	}
	if got, _ := SearchNotes(ctx, db, "u1", "names", 1); len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}
}
