// Package assembler gathers the context a role prompt is rendered with:
// content and concept metadata, retrieved sections, and the recent session
// history, bounded to a size budget.
package assembler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/ai/prompt"
	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/search"
)

const (
	DefaultBudget      = 16000
	DefaultMaxSections = 5
	DefaultHistorySize = 5

	historyClip   = 200
	truncateFloor = 500
	truncateMark  = "... [truncated]"
)

// Context field names produced by the assembler.
const (
	FieldContentTitle       = "contentTitle"
	FieldContentDescription = "contentDescription"
	FieldConceptTitle       = "conceptTitle"
	FieldConceptDescription = "conceptDescription"
	FieldRelevantSections   = "relevantSections"
	FieldSessionState       = "sessionState"
	FieldSessionHistory     = "sessionHistory"
	FieldPreviousStruggles  = "previousStruggles"
	FieldContentSections    = "contentSections"
)

// truncatable lists the fields Truncate may shorten, least important first.
var truncatable = []string{
	FieldSessionHistory,
	FieldPreviousStruggles,
	FieldRelevantSections,
	FieldContentSections,
}

// Options selects the sources to assemble. Empty ids skip their source.
type Options struct {
	ContentID   string
	ConceptID   string
	SessionID   string
	MaxSections int
}

// Assembler builds prompt contexts from the store and a section searcher.
type Assembler struct {
	DB          *gorm.DB
	Search      search.Searcher
	Budget      int
	MaxSections int
	HistorySize int
}

// New returns an Assembler with default limits.
func New(db *gorm.DB, s search.Searcher) *Assembler {
	return &Assembler{DB: db, Search: s, Budget: DefaultBudget, MaxSections: DefaultMaxSections, HistorySize: DefaultHistorySize}
}

// Assemble gathers every requested source into a context and truncates it
// to the budget. Missing records omit their fields; search failures are
// logged and omitted; store failures are returned.
func (a *Assembler) Assemble(ctx context.Context, opts Options) (prompt.Context, error) {
	var (
		content *domain.Content
		concept *domain.Concept
		session *domain.LearningSession
		history []domain.Interaction
	)

	g, gctx := errgroup.WithContext(ctx)
	if opts.ContentID != "" {
		g.Go(func() error {
			c, err := repo.GetContentByID(gctx, a.DB, opts.ContentID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("load content: %w", err)
			}
			content = c
			return nil
		})
	}
	if opts.ConceptID != "" {
		g.Go(func() error {
			c, err := repo.GetConcept(gctx, a.DB, opts.ConceptID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("load concept: %w", err)
			}
			concept = c
			return nil
		})
	}
	if opts.SessionID != "" {
		g.Go(func() error {
			s, err := repo.GetSessionByID(gctx, a.DB, opts.SessionID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("load session: %w", err)
			}
			session = s
			return nil
		})
		g.Go(func() error {
			h, err := repo.ListRecentInteractions(gctx, a.DB, opts.SessionID, a.historySize())
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			history = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := prompt.Context{}
	if content != nil {
		out[FieldContentTitle] = content.Title
		out[FieldContentDescription] = content.Description
	}
	if concept != nil {
		out[FieldConceptTitle] = concept.Title
		out[FieldConceptDescription] = concept.Description
	}

	if opts.ContentID != "" && concept != nil && a.Search != nil {
		sections, err := a.relevantSections(ctx, opts, concept)
		switch {
		case err != nil && isStoreError(err):
			return nil, err
		case err != nil:
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("content_id", opts.ContentID).
				Str("concept_id", opts.ConceptID).
				Msg("section search failed, continuing without retrieved sections")
		case sections != "":
			out[FieldRelevantSections] = sections
		}
	}

	if session != nil {
		out[FieldSessionState] = string(session.Status)
	}
	if len(history) > 0 {
		out[FieldSessionHistory] = formatHistory(history)
	}

	return Truncate(out, a.budget()), nil
}

type storeError struct{ error }

func (e storeError) Unwrap() error { return e.error }

func isStoreError(err error) bool {
	var se storeError
	return errors.As(err, &se)
}

func (a *Assembler) relevantSections(ctx context.Context, opts Options, c *domain.Concept) (string, error) {
	limit := opts.MaxSections
	if limit <= 0 {
		limit = a.MaxSections
	}
	if limit <= 0 {
		limit = DefaultMaxSections
	}
	hits, err := a.Search.Search(ctx, c.Title+" "+c.Description, opts.ContentID, limit)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.SectionID)
	}
	rows, err := repo.GetSectionsByIDs(ctx, a.DB, ids)
	if err != nil {
		return "", storeError{fmt.Errorf("load sections: %w", err)}
	}
	byID := make(map[string]domain.ContentSection, len(rows))
	for _, r := range rows {
		if r.ContentID == opts.ContentID {
			byID[r.ID] = r
		}
	}
	ordered := make([]domain.ContentSection, 0, len(rows))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			ordered = append(ordered, s)
			delete(byID, id)
		}
	}
	return FormatSections(ordered), nil
}

func (a *Assembler) budget() int {
	if a.Budget > 0 {
		return a.Budget
	}
	return DefaultBudget
}

func (a *Assembler) historySize() int {
	if a.HistorySize > 0 {
		return a.HistorySize
	}
	return DefaultHistorySize
}

// FormatSections renders sections as numbered Markdown blocks separated by
// horizontal rules.
func FormatSections(sections []domain.ContentSection) string {
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = fmt.Sprintf("### Section %d: %s\n%s", i+1, s.Title, s.ContentText)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func formatHistory(in []domain.Interaction) string {
	parts := make([]string, len(in))
	for i, it := range in {
		parts[i] = fmt.Sprintf("[%s]: %s...", it.Role, clipRunes(it.AIResponse, historyClip))
	}
	return strings.Join(parts, "\n\n")
}

// Truncate shortens the truncatable fields of c, least important first,
// until its JSON encoding fits budget runes. Each field keeps at least 500
// runes before the marker. Fields already at or under the floor are left alone. The input is
// not modified.
func Truncate(c prompt.Context, budget int) prompt.Context {
	out := make(prompt.Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	total := Size(out)
	for _, field := range truncatable {
		if total <= budget {
			break
		}
		s, ok := out[field].(string)
		if !ok {
			continue
		}
		n := utf8.RuneCountInString(s)
		if n <= truncateFloor {
			continue
		}
		keep := n - (total - budget) - len(truncateMark)
		if keep < truncateFloor {
			keep = truncateFloor
		}
		out[field] = clipRunes(s, keep) + truncateMark
		total = Size(out)
	}
	return out
}

// Size is the rune length of c's JSON encoding.
func Size(c prompt.Context) int {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return 0
	}
	return utf8.RuneCount(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

func clipRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
