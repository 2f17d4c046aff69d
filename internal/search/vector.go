package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
)

// Vector is one embedded section ready for storage.
type Vector struct {
	ID        string
	ContentID string
	Values    []float32
	Title     string
}

// VectorStore persists section embeddings and answers nearest-neighbour
// queries, optionally filtered to one content item.
type VectorStore interface {
	Upsert(ctx context.Context, vectors []Vector) error
	DeleteContent(ctx context.Context, contentID string) error
	Query(ctx context.Context, values []float32, contentID string, topK int) ([]Hit, error)
}

// ErrEmbeddingMismatch is returned when the embedder returns a different
// number of vectors than it was given texts.
var ErrEmbeddingMismatch = errors.New("embedding count mismatch")

// VectorIndex is a Searcher and Indexer backed by embeddings.
type VectorIndex struct {
	Embedder embeddings.Embedder
	Store    VectorStore
}

// NewVectorIndex builds a VectorIndex over client, which is typically a
// langchaingo OpenAI model configured with an embedding model.
func NewVectorIndex(client embeddings.EmbedderClient, store VectorStore) (*VectorIndex, error) {
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &VectorIndex{Embedder: e, Store: store}, nil
}

// IndexSections implements Indexer.
func (v *VectorIndex) IndexSections(ctx context.Context, contentID string, sections []Section) error {
	if err := v.Store.DeleteContent(ctx, contentID); err != nil {
		return fmt.Errorf("clear vectors: %w", err)
	}

	texts := make([]string, 0, len(sections))
	kept := make([]Section, 0, len(sections))
	for _, s := range sections {
		t := strings.TrimSpace(PrepareSectionText(s.Title + "\n\n" + s.Text))
		if t == "" {
			continue
		}
		texts = append(texts, t)
		kept = append(kept, s)
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := v.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed sections: %w", err)
	}
	if len(vecs) != len(kept) {
		return fmt.Errorf("%w: %d texts, %d vectors", ErrEmbeddingMismatch, len(kept), len(vecs))
	}

	out := make([]Vector, len(kept))
	for i, s := range kept {
		out[i] = Vector{ID: s.ID, ContentID: contentID, Values: vecs[i], Title: s.Title}
	}
	return v.Store.Upsert(ctx, out)
}

// Search implements Searcher.
func (v *VectorIndex) Search(ctx context.Context, q, contentID string, limit int) ([]Hit, error) {
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	qv, err := v.Embedder.EmbedQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return v.Store.Query(ctx, qv, contentID, limit)
}
