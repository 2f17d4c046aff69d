package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

const upsertBatch = 50

// PineconeStore is a VectorStore over one Pinecone index namespace. The
// index host is resolved on first use.
type PineconeStore struct {
	client    *pinecone.Client
	indexName string
	namespace string

	mu   sync.Mutex
	conn *pinecone.IndexConnection
}

// NewPineconeStore creates a client for apiKey.
func NewPineconeStore(apiKey, indexName, namespace string) (*PineconeStore, error) {
	pc, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create pinecone client: %w", err)
	}
	return &PineconeStore{client: pc, indexName: indexName, namespace: namespace}, nil
}

func (p *PineconeStore) index(ctx context.Context) (*pinecone.IndexConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	desc, err := p.client.DescribeIndex(ctx, p.indexName)
	if err != nil {
		return nil, fmt.Errorf("describe index %s: %w", p.indexName, err)
	}
	conn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      desc.Host,
		Namespace: p.namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("connect index %s: %w", p.indexName, err)
	}
	p.conn = conn
	return conn, nil
}

// Upsert implements VectorStore.
func (p *PineconeStore) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	conn, err := p.index(ctx)
	if err != nil {
		return err
	}
	batch := make([]*pinecone.Vector, 0, upsertBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := conn.UpsertVectors(ctx, batch); err != nil {
			return fmt.Errorf("upsert vectors: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	for i := range vectors {
		v := vectors[i]
		md, err := structpb.NewStruct(map[string]any{
			"contentId": v.ContentID,
			"title":     v.Title,
		})
		if err != nil {
			return fmt.Errorf("vector metadata: %w", err)
		}
		values := v.Values
		batch = append(batch, &pinecone.Vector{Id: v.ID, Values: &values, Metadata: md})
		if len(batch) == upsertBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// DeleteContent implements VectorStore.
func (p *PineconeStore) DeleteContent(ctx context.Context, contentID string) error {
	conn, err := p.index(ctx)
	if err != nil {
		return err
	}
	filter, err := contentFilter(contentID)
	if err != nil {
		return err
	}
	if err := conn.DeleteVectorsByFilter(ctx, filter); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

// Query implements VectorStore.
func (p *PineconeStore) Query(ctx context.Context, values []float32, contentID string, topK int) ([]Hit, error) {
	conn, err := p.index(ctx)
	if err != nil {
		return nil, err
	}
	req := &pinecone.QueryByVectorValuesRequest{
		Vector:          values,
		TopK:            uint32(topK),
		IncludeValues:   false,
		IncludeMetadata: true,
	}
	if contentID != "" {
		filter, err := contentFilter(contentID)
		if err != nil {
			return nil, err
		}
		req.MetadataFilter = filter
	}
	res, err := conn.QueryByVectorValues(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	hits := make([]Hit, 0, len(res.Matches))
	for _, m := range res.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		h := Hit{SectionID: m.Vector.Id, Score: float64(m.Score)}
		if m.Vector.Metadata != nil {
			if cid, ok := m.Vector.Metadata.AsMap()["contentId"].(string); ok {
				h.ContentID = cid
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func contentFilter(contentID string) (*pinecone.MetadataFilter, error) {
	f, err := structpb.NewStruct(map[string]any{
		"contentId": map[string]any{"$eq": contentID},
	})
	if err != nil {
		return nil, fmt.Errorf("metadata filter: %w", err)
	}
	return f, nil
}
