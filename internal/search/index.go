// Package search finds content sections related to a query. It backs the
// retrieval step of prompt context assembly.
//
// Two implementations are provided:
//
//   - SectionIndex: an in-memory, concurrency-safe index scoring sections by
//     Jaccard similarity between token sets. Deterministic and dependency-free.
//   - VectorIndex: embeddings from an OpenAI-compatible model stored in a
//     VectorStore (Pinecone in production).
//
// Both satisfy Searcher (read side) and Indexer (write side).
package search

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// Section is the unit that gets indexed.
type Section struct {
	ID        string
	ContentID string
	Title     string
	Text      string
}

// Hit is a ranked section match.
type Hit struct {
	SectionID string
	ContentID string
	Score     float64
}

// Searcher returns up to limit sections related to query, optionally
// restricted to one content item (empty contentID searches everything).
type Searcher interface {
	Search(ctx context.Context, query, contentID string, limit int) ([]Hit, error)
}

// Indexer makes a content item's sections searchable, replacing anything
// previously indexed for it.
type Indexer interface {
	IndexSections(ctx context.Context, contentID string, sections []Section) error
}

// DefaultLimit is used when Search is called with limit <= 0.
const DefaultLimit = 5

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minSectionRunes int
	stopwords       map[string]struct{}
	maxPerContent   int
}

func defaultConfig() config {
	return config{}
}

// WithMinSectionRunes skips sections shorter than n runes.
func WithMinSectionRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minSectionRunes = n
		}
	}
}

func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxPerContent caps how many sections of one content item are kept.
func WithMaxPerContent(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPerContent = n
		}
	}
}

// ----------------------------------------------------------------------------
// SectionIndex

type doc struct {
	id     string
	tokens map[string]struct{}
	tLen   int
	runes  int
}

// SectionIndex is an in-memory Searcher and Indexer.
type SectionIndex struct {
	cfg config

	mu   sync.RWMutex
	docs map[string][]doc // by content id
}

// NewSectionIndex returns an empty index.
func NewSectionIndex(opts ...Option) *SectionIndex {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &SectionIndex{cfg: cfg, docs: make(map[string][]doc)}
}

// IndexSections implements Indexer.
func (i *SectionIndex) IndexSections(ctx context.Context, contentID string, sections []Section) error {
	docs := make([]doc, 0, len(sections))
	for _, s := range sections {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := strings.TrimSpace(normalizeWhitespace(PrepareSectionText(s.Title + "\n\n" + s.Text)))
		if t == "" {
			continue
		}
		n := utf8.RuneCountInString(t)
		if i.cfg.minSectionRunes > 0 && n < i.cfg.minSectionRunes {
			continue
		}
		toks := tokenize(t, i.cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{id: s.ID, tokens: toks, tLen: len(toks), runes: n})
		if i.cfg.maxPerContent > 0 && len(docs) >= i.cfg.maxPerContent {
			break
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if len(docs) == 0 {
		delete(i.docs, contentID)
		return nil
	}
	i.docs[contentID] = docs
	return nil
}

// Remove drops everything indexed for contentID.
func (i *SectionIndex) Remove(contentID string) {
	i.mu.Lock()
	delete(i.docs, contentID)
	i.mu.Unlock()
}

// Search implements Searcher. Ties are broken by shorter section, then id.
func (i *SectionIndex) Search(ctx context.Context, q, contentID string, limit int) ([]Hit, error) {
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil, nil
	}
	qLen := len(qTokens)

	type scored struct {
		Hit
		runes int
	}

	i.mu.RLock()
	var buf []scored
	scan := func(cid string, docs []doc) {
		for _, d := range docs {
			over := overlap(qTokens, d.tokens)
			if over == 0 {
				continue
			}
			union := float64(qLen + d.tLen - over)
			if union <= 0 {
				continue
			}
			buf = append(buf, scored{Hit: Hit{SectionID: d.id, ContentID: cid, Score: float64(over) / union}, runes: d.runes})
		}
	}
	if contentID != "" {
		scan(contentID, i.docs[contentID])
	} else {
		for cid, docs := range i.docs {
			scan(cid, docs)
		}
	}
	i.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].Score != buf[b].Score {
			return buf[a].Score > buf[b].Score
		}
		if buf[a].runes != buf[b].runes {
			return buf[a].runes < buf[b].runes
		}
		return buf[a].SectionID < buf[b].SectionID
	})

	if limit > len(buf) {
		limit = len(buf)
	}
	out := make([]Hit, limit)
	for k := 0; k < limit; k++ {
		out[k] = buf[k].Hit
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
