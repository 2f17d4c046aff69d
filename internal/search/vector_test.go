package search

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedder struct {
	docs    [][]string
	queries []string
	err     error
	short   bool
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.docs = append(f.docs, texts)
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

type memStore struct {
	vectors  []Vector
	deleted  []string
	lastCID  string
	lastTopK int
}

func (m *memStore) Upsert(_ context.Context, v []Vector) error {
	m.vectors = append(m.vectors, v...)
	return nil
}

func (m *memStore) DeleteContent(_ context.Context, contentID string) error {
	m.deleted = append(m.deleted, contentID)
	return nil
}

func (m *memStore) Query(_ context.Context, _ []float32, contentID string, topK int) ([]Hit, error) {
	m.lastCID, m.lastTopK = contentID, topK
	return []Hit{{SectionID: "s1", ContentID: contentID, Score: 0.9}}, nil
}

func TestVectorIndex_IndexSections(t *testing.T) {
	emb := &fakeEmbedder{}
	store := &memStore{}
	v := &VectorIndex{Embedder: emb, Store: store}

	err := v.IndexSections(context.Background(), "c1", []Section{
		{ID: "s1", Title: "Intro", Text: "hello"},
		{ID: "s2", Title: "", Text: "   "},
		{ID: "s3", Title: "Tables", Text: "| a | b |"},
	})
	if err != nil {
		t.Fatalf("IndexSections: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "c1" {
		t.Fatalf("expected previous vectors cleared, got %v", store.deleted)
	}
	if len(store.vectors) != 2 || store.vectors[0].ID != "s1" || store.vectors[1].ID != "s3" {
		t.Fatalf("vectors = %+v", store.vectors)
	}
	if store.vectors[1].ContentID != "c1" || emb.docs[0][1] != "Tables\n\na b" {
		t.Fatalf("unexpected embedded text %q", emb.docs[0][1])
	}
}

func TestVectorIndex_Errors(t *testing.T) {
	v := &VectorIndex{Embedder: &fakeEmbedder{err: errors.New("quota")}, Store: &memStore{}}
	if err := v.IndexSections(context.Background(), "c1", []Section{{ID: "s1", Text: "x"}}); err == nil {
		t.Fatalf("expected embed error")
	}
	if _, err := v.Search(context.Background(), "q", "c1", 3); err == nil {
		t.Fatalf("expected query embed error")
	}

	v = &VectorIndex{Embedder: &fakeEmbedder{short: true}, Store: &memStore{}}
	if err := v.IndexSections(context.Background(), "c1", []Section{{ID: "s1", Text: "x"}}); !errors.Is(err, ErrEmbeddingMismatch) {
		t.Fatalf("expected ErrEmbeddingMismatch, got %v", err)
	}
}

func TestVectorIndex_Search(t *testing.T) {
	emb := &fakeEmbedder{}
	store := &memStore{}
	v := &VectorIndex{Embedder: emb, Store: store}

	hits, err := v.Search(context.Background(), "graphs", "c9", 0)
	if err != nil || len(hits) != 1 {
		t.Fatalf("Search = %+v, %v", hits, err)
	}
	if store.lastCID != "c9" || store.lastTopK != DefaultLimit {
		t.Fatalf("query args = %q, %d", store.lastCID, store.lastTopK)
	}
	if hits, _ := v.Search(context.Background(), " ", "c9", 3); hits != nil || len(emb.queries) != 1 {
		t.Fatalf("blank query should not embed")
	}
}

func TestContentFilter(t *testing.T) {
	f, err := contentFilter("c1")
	if err != nil {
		t.Fatalf("contentFilter: %v", err)
	}
	eq := f.AsMap()["contentId"].(map[string]any)["$eq"]
	if eq != "c1" {
		t.Fatalf("filter = %v", f.AsMap())
	}
}
