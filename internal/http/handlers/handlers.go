// Handler wiring shared by every endpoint group.
//
// Service contracts are declared here, next to their only consumer, so the
// HTTP layer can be tested with fakes. The concrete services from
// internal/services satisfy them; when a concrete service is wired, handlers
// additionally use its *gorm.DB for weak ETags and idempotency records.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/ai/orchestrator"
	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/http/middleware"
	"github.com/tbourn/go-tutor-backend/internal/services"
	"github.com/tbourn/go-tutor-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ContentService registers, reads and deletes learning content.
type ContentService interface {
	Create(ctx context.Context, userID string, in services.NewContent) (*domain.Content, <-chan error, error)
	Get(ctx context.Context, userID, contentID string) (*domain.Content, error)
	List(ctx context.Context, userID string) ([]domain.Content, error)
	Delete(ctx context.Context, userID, contentID string) error
}

// PlannerService builds and reads learning maps.
type PlannerService interface {
	Generate(ctx context.Context, userID, contentID string) (*domain.LearningMap, error)
	Get(ctx context.Context, userID, contentID string) (*domain.LearningMap, error)
}

// SessionService drives the learning-session lifecycle.
//
// Implementations must be safe for concurrent use; mutations of a single
// session are expected to be serialized by the implementation.
type SessionService interface {
	Create(ctx context.Context, userID, contentID string) (*services.SessionDetails, error)
	Get(ctx context.Context, userID, sessionID string) (*services.SessionDetails, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.LearningSession, int64, error)
	Interactions(ctx context.Context, userID, sessionID string, page, pageSize int) ([]domain.Interaction, int64, error)
	Update(ctx context.Context, userID, sessionID string, p services.SessionPatch) (*services.SessionDetails, error)
	Apply(ctx context.Context, userID, sessionID, action string) (*services.SessionDetails, error)
	MoveToNextConcept(ctx context.Context, userID, sessionID string) (*services.Advance, error)
	Interact(ctx context.Context, userID, sessionID, message string) (*services.InteractResult, error)
}

// TutorService exposes the tutor operations callable outside a session turn.
type TutorService interface {
	SimplifyExplanation(ctx context.Context, userID string, t services.Target, previous string) (*services.Explanation, error)
}

// ExaminerService exposes the examiner operations callable outside a session turn.
type ExaminerService interface {
	GenerateFollowUpQuestion(ctx context.Context, userID string, t services.Target, prev services.Evaluation) (string, error)
}

// CoachService exposes the coach operations callable outside a session turn.
type CoachService interface {
	PracticeTask(ctx context.Context, userID string, t services.Target) (*orchestrator.Response, error)
}

// ReviewerService produces summaries, weekly reports and review schedules.
type ReviewerService interface {
	SessionSummary(ctx context.Context, userID, sessionID string) (*services.SessionSummary, error)
	WeeklyReport(ctx context.Context, userID string) (*services.WeeklyReport, error)
	ReviewSchedule(ctx context.Context, userID string) ([]services.ReviewItem, error)
}

// NotesService keeps the learner's notes on their sessions.
type NotesService interface {
	Save(ctx context.Context, userID, sessionID, text string) (*domain.Note, error)
	SessionNotes(ctx context.Context, userID, sessionID string) ([]domain.Note, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Note, int64, error)
	Update(ctx context.Context, userID, noteID, text string) (*domain.Note, error)
	Delete(ctx context.Context, userID, noteID string) error
	Search(ctx context.Context, userID, query string) ([]domain.Note, error)
}

// ProgressService reports learner progress and pacing advice.
type ProgressService interface {
	Summary(ctx context.Context, userID string) (*services.ProgressSummary, error)
	ContentProgress(ctx context.Context, userID, contentID string) (*services.ContentProgress, error)
	ConfidenceHistory(ctx context.Context, userID, contentID string) ([]services.ConfidenceDataPoint, error)
	Patterns(ctx context.Context, userID, contentID string) (*services.PatternAnalysis, error)
	WeakAreas(ctx context.Context, userID, contentID string) ([]services.WeakArea, error)
	ConceptProgress(ctx context.Context, userID, conceptID string) (*services.ConceptProgress, error)
	Adaptation(ctx context.Context, userID, conceptID string) (*services.Adaptation, error)
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers. Nil services are allowed in
// tests that do not reach the corresponding endpoints.
type Services struct {
	Contents ContentService
	Planner  PlannerService
	Sessions SessionService
	Tutor    TutorService
	Examiner ExaminerService
	Coach    CoachService
	Reviewer ReviewerService
	Notes    NotesService
	Progress ProgressService
	AI       services.Orchestrator

	// PromptVersions reports installed prompt versions for GET /ai/roles.
	PromptVersions func(domain.Role) []string
	// IdempotencyTTL is how long interact results are replayable.
	IdempotencyTTL time.Duration
}

// Handlers groups the HTTP endpoints of the tutoring API.
type Handlers struct {
	contents ContentService
	planner  PlannerService
	sessions SessionService
	tutor    TutorService
	examiner ExaminerService
	coach    CoachService
	reviewer ReviewerService
	notes    NotesService
	progress ProgressService
	ai       services.Orchestrator

	promptVersions func(domain.Role) []string
	idemTTL        time.Duration
}

// New constructs Handlers bound to the given services.
func New(s Services) *Handlers {
	ttl := s.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		contents:       s.Contents,
		planner:        s.Planner,
		sessions:       s.Sessions,
		tutor:          s.Tutor,
		examiner:       s.Examiner,
		coach:          s.Coach,
		reviewer:       s.Reviewer,
		notes:          s.Notes,
		progress:       s.Progress,
		ai:             s.AI,
		promptVersions: s.PromptVersions,
		idemTTL:        ttl,
	}
}

// userID is the learner the request acts for.
func userID(c *gin.Context) string { return middleware.UserID(c) }

//
// Shared DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(p utils.Page, total int64) Pagination {
	return Pagination{
		Page:       p.Number,
		PageSize:   p.Size,
		Total:      total,
		TotalPages: p.TotalPages(total),
		HasNext:    p.HasNext(total),
	}
}

//
// Helpers
//

// pageQuery reads the page and page_size query params.
func pageQuery(c *gin.Context) utils.Page {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}

// checkETag sets a weak ETag built from a (count, latest timestamp) pair and
// the requested page, and reports whether the client's If-None-Match already
// matches it, in which case a 304 has been written.
func checkETag(c *gin.Context, kind, scope string, count int64, maxTS *time.Time, p utils.Page) bool {
	var ts int64
	if maxTS != nil {
		ts = maxTS.Unix()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d:p%d:s%d"`, kind, scope, count, ts, p.Number, p.Size)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// sessionDB returns the database behind a concrete SessionService, or nil.
func sessionDB(svc SessionService) *gorm.DB {
	if s, ok := svc.(*services.SessionService); ok {
		return s.DB
	}
	return nil
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes learner text for consistent downstream behavior:
// CRLF/CR become LF, runs of 3+ LFs collapse to two, and surrounding
// whitespace is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
