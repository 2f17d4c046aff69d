package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/tbourn/go-tutor-backend/internal/ai"
	"github.com/tbourn/go-tutor-backend/internal/ai/provider"
	"github.com/tbourn/go-tutor-backend/internal/config"
	"github.com/tbourn/go-tutor-backend/internal/lock"
	"github.com/tbourn/go-tutor-backend/internal/search"
)

// sectionIndex is what the content service writes to and the context
// assembler reads from.
type sectionIndex interface {
	search.Indexer
	search.Searcher
}

// newSectionIndex builds the configured search backend. "pinecone" embeds
// sections with the OpenAI embedding model and stores them in Pinecone;
// anything else keeps a keyword index in memory.
func newSectionIndex(cfg config.Config) (sectionIndex, error) {
	if cfg.Search.Backend != "pinecone" {
		return search.NewSectionIndex(
			search.WithStopwords(cfg.Search.Stopwords),
			search.WithMinSectionRunes(cfg.Search.MinSectionRunes),
			search.WithMaxPerContent(cfg.Search.MaxPerContent),
		), nil
	}
	if strings.TrimSpace(cfg.Search.PineconeAPIKey) == "" || strings.TrimSpace(cfg.AI.OpenAI.APIKey) == "" {
		return nil, fmt.Errorf("pinecone search needs PINECONE_API_KEY and OPENAI_API_KEY")
	}
	store, err := search.NewPineconeStore(cfg.Search.PineconeAPIKey, cfg.Search.PineconeIndex, cfg.Search.PineconeNamespace)
	if err != nil {
		return nil, err
	}
	opts := []openai.Option{
		openai.WithToken(cfg.AI.OpenAI.APIKey),
		openai.WithEmbeddingModel(cfg.Search.EmbeddingModel),
	}
	if cfg.AI.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.AI.OpenAI.BaseURL))
	}
	embedder, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return search.NewVectorIndex(embedder, store)
}

// newAIRouter composes the providers: OpenAI retried with backoff; DeepSeek
// tried once, then handed to the retrying OpenAI chain.
func newAIRouter(cfg config.AIConfig) (*ai.Router, error) {
	oa, err := provider.NewClient(provider.OpenAI, cfg.OpenAI, cfg.ProviderTimeout)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	ds, err := provider.NewClient(provider.DeepSeek, cfg.DeepSeek, cfg.ProviderTimeout)
	if err != nil {
		return nil, fmt.Errorf("deepseek client: %w", err)
	}
	openAI := provider.NewRetrying(oa, cfg.RetryAttempts, cfg.RetryBaseDelay)
	deepSeek := &provider.Fallback{
		Preferred: ds,
		Backup:    openAI,
	}
	return &ai.Router{OpenAI: openAI, DeepSeek: deepSeek}, nil
}

// newLocker returns a Redis lock when REDIS_URL is set, else an in-process
// one. The closer releases the Redis connection.
func newLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, io.Closer, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return lock.NewLocal(cfg.Wait), io.NopCloser(nil), nil
	}
	r, err := lock.NewRedis(ctx, cfg.RedisURL, cfg.TTL, cfg.Wait)
	if err != nil {
		return nil, nil, err
	}
	return r, r, nil
}
