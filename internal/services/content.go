package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/search"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxTitleRunes caps content and section titles.
const MaxTitleRunes = 255

// IndexSubmitter queues background section indexing. Each submission gets a
// channel that receives the job's outcome.
type IndexSubmitter interface {
	SubmitIndex(ctx context.Context, contentID string) (<-chan error, error)
}

// NewContent is the registration payload for a document whose text was
// already extracted into sections.
type NewContent struct {
	Title       string
	Description string
	Sections    []repo.SectionInput
}

// ContentService registers content and keeps its sections searchable.
type ContentService struct {
	DB      *gorm.DB
	Indexer search.Indexer
	// Jobs runs indexing in the background. When nil, Create indexes inline.
	Jobs IndexSubmitter
}

// Create validates and stores content owned by userID, then submits its
// sections for indexing. The returned channel yields the indexing outcome
// once; callers that don't care may drop it.
func (s *ContentService) Create(ctx context.Context, userID string, in NewContent) (*domain.Content, <-chan error, error) {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("sections", len(in.Sections)),
		),
	)
	defer span.End()

	title := strings.TrimSpace(in.Title)
	if title == "" || utf8.RuneCountInString(title) > MaxTitleRunes {
		return nil, nil, fmt.Errorf("%w: title required (1-%d chars)", domain.ErrValidation, MaxTitleRunes)
	}
	if len(in.Sections) == 0 {
		return nil, nil, ErrNoSections
	}
	sections := make([]repo.SectionInput, len(in.Sections))
	for i, sec := range in.Sections {
		text := strings.TrimSpace(sec.Text)
		if text == "" {
			return nil, nil, fmt.Errorf("%w: section %d has no text", domain.ErrValidation, i+1)
		}
		sections[i] = repo.SectionInput{Title: head(strings.TrimSpace(sec.Title), MaxTitleRunes), Text: text}
	}

	c, err := repo.CreateContent(ctx, s.DB, userID, title, strings.TrimSpace(in.Description), sections)
	if err != nil {
		return nil, nil, err
	}
	return c, s.submit(ctx, c.ID), nil
}

// Get returns the user's content with its sections.
func (s *ContentService) Get(ctx context.Context, userID, contentID string) (*domain.Content, error) {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("content.id", contentID),
		),
	)
	defer span.End()

	c, err := repo.GetContent(ctx, s.DB, contentID, userID)
	if err != nil {
		return nil, lookupErr(err, ErrContentNotFound)
	}
	return c, nil
}

// List returns the user's contents without sections.
func (s *ContentService) List(ctx context.Context, userID string) ([]domain.Content, error) {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "List", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	items, err := repo.ListContents(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Content{}
	}
	return items, nil
}

// Delete removes the user's content with its learning map, sessions,
// interactions and notes, then clears its sections from the search index.
// A failure to clear the index is logged; the rows are already gone.
func (s *ContentService) Delete(ctx context.Context, userID, contentID string) error {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("content.id", contentID),
		),
	)
	defer span.End()

	if err := repo.DeleteContent(ctx, s.DB, contentID, userID); err != nil {
		return lookupErr(err, ErrContentNotFound)
	}
	if s.Indexer == nil {
		return nil
	}
	// Indexing no sections clears whatever was stored for the content.
	if err := s.Indexer.IndexSections(ctx, contentID, nil); err != nil {
		span.RecordError(err)
		zerolog.Ctx(ctx).Warn().Err(err).Str("content_id", contentID).Msg("clear section index failed")
	}
	return nil
}

// IndexContent indexes the sections of contentID and records the outcome on
// the content. It is the background job handler.
func (s *ContentService) IndexContent(ctx context.Context, contentID string) error {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "IndexContent", trace.WithAttributes(attribute.String("content.id", contentID)))
	defer span.End()

	err := s.index(ctx, contentID)
	status := domain.IndexIndexed
	if err != nil {
		status = domain.IndexFailed
		span.RecordError(err)
	}
	if serr := repo.SetIndexStatus(context.WithoutCancel(ctx), s.DB, contentID, status); serr != nil {
		zerolog.Ctx(ctx).Error().Err(serr).Str("content_id", contentID).Msg("record index status failed")
	}
	return err
}

func (s *ContentService) index(ctx context.Context, contentID string) error {
	if s.Indexer == nil {
		return fmt.Errorf("no section indexer configured")
	}
	rows, err := repo.ListSections(ctx, s.DB, contentID)
	if err != nil {
		return fmt.Errorf("load sections: %w", err)
	}
	sections := make([]search.Section, len(rows))
	for i, r := range rows {
		sections[i] = search.Section{ID: r.ID, ContentID: r.ContentID, Title: r.Title, Text: r.ContentText}
	}
	return s.Indexer.IndexSections(ctx, contentID, sections)
}

// ReindexAll submits every stored content for indexing, as needed after a
// restart when the section index lives in memory. It returns the number of
// submissions.
func (s *ContentService) ReindexAll(ctx context.Context) (int, error) {
	ids, err := repo.ListContentIDs(ctx, s.DB)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.submit(ctx, id)
	}
	return len(ids), nil
}

// submit queues indexing for contentID, or runs it inline without a queue.
// A failed submission is itself an indexing failure.
func (s *ContentService) submit(ctx context.Context, contentID string) <-chan error {
	if s.Jobs == nil {
		done := make(chan error, 1)
		done <- s.IndexContent(ctx, contentID)
		close(done)
		return done
	}
	done, err := s.Jobs.SubmitIndex(ctx, contentID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("content_id", contentID).Msg("index submission failed")
		if serr := repo.SetIndexStatus(context.WithoutCancel(ctx), s.DB, contentID, domain.IndexFailed); serr != nil {
			zerolog.Ctx(ctx).Error().Err(serr).Str("content_id", contentID).Msg("record index status failed")
		}
		failed := make(chan error, 1)
		failed <- err
		close(failed)
		return failed
	}
	return done
}
