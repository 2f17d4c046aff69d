package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-tutor-backend/internal/repo/repotest"
)

func TestNotesService_SaveReplacesPerSession(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, m := seedMap(t, db, "u1", "Nodes")
	sess := newStudySession(t, db, "u1", content, m)
	svc := &NotesService{DB: db}

	first, err := svc.Save(ctx, "u1", sess.ID, "  nodes hold values  ")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first.NoteText != "nodes hold values" {
		t.Fatalf("text not trimmed: %q", first.NoteText)
	}
	second, err := svc.Save(ctx, "u1", sess.ID, "nodes hold values and edges")
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if second.ID != first.ID || second.NoteText != "nodes hold values and edges" {
		t.Fatalf("upsert created a new note: %+v vs %+v", second, first)
	}

	notes, err := svc.SessionNotes(ctx, "u1", sess.ID)
	if err != nil || len(notes) != 1 || notes[0].ID != first.ID {
		t.Fatalf("SessionNotes = %+v, %v", notes, err)
	}

	if _, err := svc.Save(ctx, "u2", sess.ID, "not mine"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign session: %v", err)
	}
	if _, err := svc.SessionNotes(ctx, "u2", sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign session list: %v", err)
	}
}

func TestNotesService_Validation(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, m := seedMap(t, db, "u1", "Nodes")
	sess := newStudySession(t, db, "u1", content, m)
	svc := &NotesService{DB: db}

	if _, err := svc.Save(ctx, "u1", sess.ID, " \n "); !errors.Is(err, ErrEmptyNote) {
		t.Fatalf("blank: %v", err)
	}
	if _, err := svc.Save(ctx, "u1", sess.ID, strings.Repeat("n", MaxNoteRunes+1)); !errors.Is(err, ErrNoteTooLong) {
		t.Fatalf("long: %v", err)
	}
	if _, err := svc.Save(ctx, "u1", sess.ID, strings.Repeat("é", MaxNoteRunes)); err != nil {
		t.Fatalf("at limit: %v", err)
	}
	for _, q := range []string{"", "   ", strings.Repeat("q", MaxQueryRunes+1)} {
		if _, err := svc.Search(ctx, "u1", q); !errors.Is(err, ErrBadQuery) {
			t.Fatalf("query %q: %v", q, err)
		}
	}
}

func TestNotesService_UpdateDeleteOwnership(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, m := seedMap(t, db, "u1", "Nodes")
	sess := newStudySession(t, db, "u1", content, m)
	svc := &NotesService{DB: db}

	n, err := svc.Save(ctx, "u1", sess.ID, "draft")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := svc.Update(ctx, "u2", n.ID, "hijack"); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("foreign update: %v", err)
	}
	if err := svc.Delete(ctx, "u2", n.ID); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("foreign delete: %v", err)
	}
	updated, err := svc.Update(ctx, "u1", n.ID, "final")
	if err != nil || updated.NoteText != "final" {
		t.Fatalf("Update = %+v, %v", updated, err)
	}
	if _, err := svc.Update(ctx, "u1", n.ID, ""); !errors.Is(err, ErrEmptyNote) {
		t.Fatalf("blank update: %v", err)
	}
	if err := svc.Delete(ctx, "u1", n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, "u1", n.ID); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestNotesService_ListAndSearch(t *testing.T) {
	ctx := context.Background()
	db := repotest.NewDB(t)
	content, m := seedMap(t, db, "u1", "Nodes")
	var ids []string
	for _, text := range []string{"Dijkstra uses a heap", "BFS explores level by level", "100% sure about DFS"} {
		sess := newStudySession(t, db, "u1", content, m)
		n, err := (&NotesService{DB: db}).Save(ctx, "u1", sess.ID, text)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		ids = append(ids, n.ID)
	}
	other, om := seedMap(t, db, "u2", "Nodes")
	if _, err := (&NotesService{DB: db}).Save(ctx, "u2", newStudySession(t, db, "u2", other, om).ID, "heap of notes"); err != nil {
		t.Fatalf("Save other: %v", err)
	}
	svc := &NotesService{DB: db}

	page, total, err := svc.ListPage(ctx, "u1", 1, 2)
	if err != nil || total != 3 || len(page) != 2 {
		t.Fatalf("ListPage = %d items, total %d, %v", len(page), total, err)
	}
	rest, _, err := svc.ListPage(ctx, "u1", 2, 2)
	if err != nil || len(rest) != 1 {
		t.Fatalf("second page = %+v, %v", rest, err)
	}

	hits, err := svc.Search(ctx, "u1", "HEAP")
	if err != nil || len(hits) != 1 || hits[0].ID != ids[0] {
		t.Fatalf("case-insensitive search = %+v, %v", hits, err)
	}
	hits, err = svc.Search(ctx, "u1", "%")
	if err != nil || len(hits) != 1 || hits[0].ID != ids[2] {
		t.Fatalf("wildcard must match literally: %+v, %v", hits, err)
	}
	hits, err = svc.Search(ctx, "u1", "graph")
	if err != nil || hits == nil || len(hits) != 0 {
		t.Fatalf("no match = %#v, %v", hits, err)
	}
}
