package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/lock"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/statemachine"
	"github.com/tbourn/go-tutor-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ConceptRef is the part of a concept shown alongside a session.
type ConceptRef struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Order       int    `json:"concept_order"`
}

// SessionDetails is a session with the content and concept it points at and
// what the learner can do next.
type SessionDetails struct {
	domain.LearningSession
	ContentTitle       string                `json:"content_title"`
	ContentDescription string                `json:"content_description"`
	CurrentConcept     *ConceptRef           `json:"current_concept"`
	ValidActions       []statemachine.Action `json:"valid_actions"`
	ResponsibleRole    domain.Role           `json:"responsible_role,omitempty"`
}

// SessionPatch carries the client-editable session fields.
type SessionPatch struct {
	TotalTimeMinutes *int
}

// Advance reports the outcome of moving to the next concept.
type Advance struct {
	Moved     bool            `json:"moved"`
	Completed bool            `json:"completed"`
	Session   *SessionDetails `json:"session"`
}

// InteractResult is the outcome of one learner turn. Only the parts produced
// by the roles that ran are set.
type InteractResult struct {
	SessionID     string                `json:"session_id"`
	Role          domain.Role           `json:"role,omitempty"`
	Response      string                `json:"response"`
	PreviousState statemachine.State    `json:"previous_state"`
	State         statemachine.State    `json:"state"`
	Actions       []statemachine.Action `json:"actions"`
	Explanation   *Explanation          `json:"explanation,omitempty"`
	Evaluation    *Evaluation           `json:"evaluation,omitempty"`
	Decision      *Decision             `json:"decision,omitempty"`
	PracticeTask  string                `json:"practice_task,omitempty"`

	Status           domain.SessionStatus `json:"status"`
	Progress         int                  `json:"progress"`
	CurrentConceptID *string              `json:"current_concept_id"`
}

// SessionService owns the learning-session lifecycle and drives the tutoring
// loop: tutor explains, learner explains back, examiner scores, coach
// decides. Mutations of one session are serialized through Locks.
type SessionService struct {
	DB    *gorm.DB
	Locks lock.Locker

	Tutor    *TutorService
	Examiner *ExaminerService
	Coach    *CoachService

	// MaxMessageRunes bounds learner messages; 0 disables the check.
	MaxMessageRunes int
}

// Create starts a session on the user's content at the first concept of its
// learning map.
func (s *SessionService) Create(ctx context.Context, userID, contentID string) (*SessionDetails, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("content.id", contentID),
		),
	)
	defer span.End()

	if _, err := repo.GetContent(ctx, s.DB, contentID, userID); err != nil {
		return nil, lookupErr(err, ErrContentNotFound)
	}
	m, err := repo.GetLearningMap(ctx, s.DB, contentID)
	if err != nil {
		return nil, lookupErr(err, ErrNoLearningMap)
	}
	var first *string
	c, err := repo.FirstConcept(ctx, s.DB, m.ID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		first = &c.ID
	}
	sess, err := repo.CreateSession(ctx, s.DB, userID, contentID, first)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, sess)
}

// Get returns a session owned by userID.
func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*SessionDetails, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Get", sessionAttrs(userID, sessionID))
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID, userID)
	if err != nil {
		return nil, lookupErr(err, ErrSessionNotFound)
	}
	return s.details(ctx, sess)
}

// ListPage returns a page of the user's sessions, most recently active
// first, and the total count.
func (s *SessionService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.LearningSession, int64, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountSessions(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.LearningSession{}, 0, nil
	}
	items, err := repo.ListSessionsPage(ctx, s.DB, userID, utils.Page{Number: page, Size: pageSize}.Offset(), pageSize)
	return items, total, err
}

// Interactions returns a page of a session's interaction log, oldest first,
// and the total count.
func (s *SessionService) Interactions(ctx context.Context, userID, sessionID string, page, pageSize int) ([]domain.Interaction, int64, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Interactions", sessionAttrs(userID, sessionID))
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if _, err := repo.GetSession(ctx, s.DB, sessionID, userID); err != nil {
		return nil, 0, lookupErr(err, ErrSessionNotFound)
	}
	total, err := repo.CountInteractions(ctx, s.DB, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Interaction{}, 0, nil
	}
	items, err := repo.ListInteractionsPage(ctx, s.DB, sessionID, utils.Page{Number: page, Size: pageSize}.Offset(), pageSize)
	return items, total, err
}

// Update applies a client patch. Only the time spent is editable.
func (s *SessionService) Update(ctx context.Context, userID, sessionID string, p SessionPatch) (*SessionDetails, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Update", sessionAttrs(userID, sessionID))
	defer span.End()

	if p.TotalTimeMinutes == nil || *p.TotalTimeMinutes < 0 {
		return nil, ErrInvalidUpdate
	}
	var out *SessionDetails
	err := s.locked(ctx, userID, sessionID, func(ctx context.Context, sess *domain.LearningSession) error {
		if err := repo.UpdateSession(ctx, s.DB, sess.ID, userID, repo.SessionUpdate{TotalTimeMinutes: p.TotalTimeMinutes}); err != nil {
			return err
		}
		var err error
		out, err = s.reload(ctx, userID, sessionID)
		return err
	})
	return out, err
}

// Pause suspends an in-progress session.
func (s *SessionService) Pause(ctx context.Context, userID, sessionID string) (*SessionDetails, error) {
	return s.transition(ctx, "Pause", userID, sessionID, statemachine.Pause, domain.SessionPaused)
}

// Resume reactivates a paused session. It always re-enters explain.
func (s *SessionService) Resume(ctx context.Context, userID, sessionID string) (*SessionDetails, error) {
	return s.transition(ctx, "Resume", userID, sessionID, statemachine.Resume, domain.SessionActive)
}

// Complete ends a session at 100% progress. Completing a completed session
// returns it unchanged.
func (s *SessionService) Complete(ctx context.Context, userID, sessionID string) (*SessionDetails, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Complete", sessionAttrs(userID, sessionID))
	defer span.End()

	var out *SessionDetails
	err := s.locked(ctx, userID, sessionID, func(ctx context.Context, sess *domain.LearningSession) error {
		if sess.Status != domain.SessionCompleted {
			if err := repo.UpdateSession(ctx, s.DB, sess.ID, userID, completedUpdate()); err != nil {
				return err
			}
		}
		var err error
		out, err = s.reload(ctx, userID, sessionID)
		return err
	})
	return out, err
}

// Apply runs a lifecycle action by name: pause, resume or complete.
func (s *SessionService) Apply(ctx context.Context, userID, sessionID, action string) (*SessionDetails, error) {
	switch statemachine.Action(strings.ToLower(strings.TrimSpace(action))) {
	case statemachine.Pause:
		return s.Pause(ctx, userID, sessionID)
	case statemachine.Resume:
		return s.Resume(ctx, userID, sessionID)
	case statemachine.Finish:
		return s.Complete(ctx, userID, sessionID)
	}
	return nil, fmt.Errorf("%w: action must be pause, resume or complete", domain.ErrValidation)
}

// MoveToNextConcept advances the session to the next concept of its map and
// sets progress to round(order/total*100) of the concept just finished.
// Past the last concept the session completes with progress 100.
func (s *SessionService) MoveToNextConcept(ctx context.Context, userID, sessionID string) (*Advance, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "MoveToNextConcept", sessionAttrs(userID, sessionID))
	defer span.End()

	var out *Advance
	err := s.locked(ctx, userID, sessionID, func(ctx context.Context, sess *domain.LearningSession) error {
		if sess.Status == domain.SessionCompleted {
			return ErrSessionCompleted
		}
		state := statemachine.State(sess.State)
		if state != statemachine.Init && state != statemachine.Paused {
			state = statemachine.Explain
		}
		moved, completed, err := s.advance(ctx, sess, state)
		if err != nil {
			return err
		}
		details, err := s.reload(ctx, userID, sessionID)
		if err != nil {
			return err
		}
		out = &Advance{Moved: moved, Completed: completed, Session: details}
		return nil
	})
	return out, err
}

// Interact processes one learner turn according to the session's state:
//
//   - init, explain: the tutor explains the current concept (message is
//     optional extra context) and the session waits for the learner.
//   - user_explain, evaluate: message is the learner's explanation; the
//     examiner scores it and the coach decides the next step in the same
//     turn.
//   - decide_next: the coach decides from the latest evaluation.
//
// Each completed stage is persisted, so a provider failure mid-turn leaves
// the session at the stage that failed.
func (s *SessionService) Interact(ctx context.Context, userID, sessionID, message string) (*InteractResult, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Interact", sessionAttrs(userID, sessionID))
	defer span.End()

	message = strings.TrimSpace(message)
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(message) > s.MaxMessageRunes {
		return nil, ErrTooLong
	}

	var out *InteractResult
	err := s.locked(ctx, userID, sessionID, func(ctx context.Context, sess *domain.LearningSession) error {
		switch sess.Status {
		case domain.SessionCompleted:
			return ErrSessionCompleted
		case domain.SessionPaused:
			return ErrSessionPaused
		}
		state, err := statemachine.ParseState(sess.State)
		if err != nil {
			return err
		}

		turn := &sessionTurn{svc: s, userID: userID, sess: sess, state: state}
		turn.res = &InteractResult{SessionID: sess.ID, PreviousState: state, Actions: []statemachine.Action{}}
		if err := turn.run(ctx, message); err != nil {
			return err
		}

		fresh, err := repo.GetSession(ctx, s.DB, sess.ID, userID)
		if err != nil {
			return err
		}
		out = turn.res
		out.State = statemachine.State(fresh.State)
		out.Status = fresh.Status
		out.Progress = fresh.Progress
		out.CurrentConceptID = fresh.CurrentConceptID
		return nil
	})
	return out, err
}

// sessionTurn carries one Interact call through the state machine.
type sessionTurn struct {
	svc    *SessionService
	userID string
	sess   *domain.LearningSession
	state  statemachine.State
	res    *InteractResult
}

func (t *sessionTurn) target() Target {
	var concept string
	if t.sess.CurrentConceptID != nil {
		concept = *t.sess.CurrentConceptID
	}
	return Target{ContentID: t.sess.ContentID, ConceptID: concept, SessionID: t.sess.ID}
}

func (t *sessionTurn) run(ctx context.Context, message string) error {
	switch t.state {
	case statemachine.Init, statemachine.Explain:
		return t.explain(ctx, message)
	case statemachine.UserExplain, statemachine.Evaluate:
		if message == "" {
			return ErrEmptyMessage
		}
		if t.state == statemachine.UserExplain {
			if err := t.apply(ctx, statemachine.UserResponded); err != nil {
				return err
			}
		}
		ev, err := t.evaluate(ctx, message)
		if err != nil {
			return err
		}
		return t.decide(ctx, *ev)
	case statemachine.DecideNext:
		ev, err := t.lastEvaluation(ctx, message)
		if err != nil {
			return err
		}
		return t.decide(ctx, *ev)
	}
	return fmt.Errorf("%w: no learner turn in state %s", domain.ErrConflict, t.state)
}

func (t *sessionTurn) explain(ctx context.Context, message string) error {
	exp, err := t.svc.Tutor.ExplainConcept(ctx, t.userID, t.target(), message)
	if err != nil {
		return err
	}
	t.res.Role = domain.RoleTutor
	t.res.Explanation = exp
	t.res.Response = exp.Explanation
	if t.state == statemachine.Init {
		if err := t.apply(ctx, statemachine.Start); err != nil {
			return err
		}
	}
	return t.apply(ctx, statemachine.ExplainComplete)
}

func (t *sessionTurn) evaluate(ctx context.Context, explanation string) (*Evaluation, error) {
	ev, err := t.svc.Examiner.Evaluate(ctx, t.userID, t.target(), explanation)
	if err != nil {
		return nil, err
	}
	t.res.Role = domain.RoleExaminer
	t.res.Evaluation = ev
	t.res.Response = ev.Feedback
	return ev, t.apply(ctx, statemachine.EvaluationComplete)
}

// lastEvaluation recovers the evaluation a coach decision is based on when
// a previous turn stopped after scoring.
func (t *sessionTurn) lastEvaluation(ctx context.Context, message string) (*Evaluation, error) {
	in, err := repo.LatestInteraction(ctx, t.svc.DB, t.sess.ID, domain.InteractionEvaluation)
	if errors.Is(err, repo.ErrNotFound) {
		ev := HeuristicEvaluation(message)
		return &ev, nil
	}
	if err != nil {
		return nil, err
	}
	ev := ParseEvaluation(in.AIResponse, in.UserMessage)
	return &ev, nil
}

func (t *sessionTurn) decide(ctx context.Context, ev Evaluation) error {
	last, err := t.svc.isLastConcept(ctx, t.sess)
	if err != nil {
		return err
	}
	d, err := t.svc.Coach.Decide(ctx, t.userID, t.target(), ev, last)
	if err != nil {
		return err
	}
	t.res.Role = domain.RoleCoach
	t.res.Decision = d
	t.res.Response = d.Message

	next, err := statemachine.Transition(t.state, d.NextAction)
	if err != nil {
		return err
	}
	t.res.Actions = append(t.res.Actions, d.NextAction)

	switch d.NextAction {
	case statemachine.Proceed:
		_, _, err = t.svc.advance(context.WithoutCancel(ctx), t.sess, next)
	case statemachine.Finish:
		err = repo.AdvanceSession(context.WithoutCancel(ctx), t.svc.DB, t.sess.ID, t.sess.CurrentConceptID, completedUpdate())
	case statemachine.Practice:
		if err = t.setState(ctx, next); err == nil {
			t.practice(ctx)
		}
	default:
		err = t.setState(ctx, next)
	}
	t.state = next
	return err
}

// practice attaches a practice task. A failure here only loses the task.
func (t *sessionTurn) practice(ctx context.Context) {
	resp, err := t.svc.Coach.PracticeTask(ctx, t.userID, t.target())
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", t.sess.ID).Msg("practice task generation failed")
		return
	}
	t.res.PracticeTask = resp.Content
}

// apply moves the turn through action and persists the new state.
func (t *sessionTurn) apply(ctx context.Context, action statemachine.Action) error {
	next, err := statemachine.Transition(t.state, action)
	if err != nil {
		return err
	}
	if err := t.setState(ctx, next); err != nil {
		return err
	}
	t.state = next
	t.res.Actions = append(t.res.Actions, action)
	return nil
}

func (t *sessionTurn) setState(ctx context.Context, st statemachine.State) error {
	v := string(st)
	return repo.UpdateSession(context.WithoutCancel(ctx), t.svc.DB, t.sess.ID, t.userID, repo.SessionUpdate{State: &v})
}

// transition applies a pause or resume through the state machine and sets
// the matching status.
func (s *SessionService) transition(ctx context.Context, name, userID, sessionID string, action statemachine.Action, status domain.SessionStatus) (*SessionDetails, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, name, sessionAttrs(userID, sessionID))
	defer span.End()

	var out *SessionDetails
	err := s.locked(ctx, userID, sessionID, func(ctx context.Context, sess *domain.LearningSession) error {
		cur := statemachine.State(sess.State)
		if sess.Status == domain.SessionCompleted || statemachine.IsTerminal(cur) {
			return ErrSessionCompleted
		}
		if action == statemachine.Pause && !statemachine.IsPauseable(cur) {
			return fmt.Errorf("%w: a session in %s cannot be paused", statemachine.ErrInvalidTransition, cur)
		}
		next, err := statemachine.Transition(cur, action)
		if err != nil {
			return err
		}
		st := string(next)
		if err := repo.UpdateSession(ctx, s.DB, sess.ID, userID, repo.SessionUpdate{State: &st, Status: &status}); err != nil {
			return err
		}
		out, err = s.reload(ctx, userID, sessionID)
		return err
	})
	return out, err
}

// advance moves sess past its current concept under an optimistic check on
// the concept pointer. state is the state to enter on the next concept.
func (s *SessionService) advance(ctx context.Context, sess *domain.LearningSession, state statemachine.State) (moved, completed bool, err error) {
	if sess.CurrentConceptID == nil {
		return false, true, repo.AdvanceSession(ctx, s.DB, sess.ID, nil, completedUpdate())
	}
	cur, err := repo.GetConcept(ctx, s.DB, *sess.CurrentConceptID)
	if err != nil {
		return false, false, fmt.Errorf("current concept: %w", err)
	}
	next, err := repo.NextConcept(ctx, s.DB, cur.LearningMapID, cur.ConceptOrder)
	if err != nil {
		return false, false, err
	}
	if next == nil {
		return false, true, repo.AdvanceSession(ctx, s.DB, sess.ID, sess.CurrentConceptID, completedUpdate())
	}
	total, err := repo.CountConcepts(ctx, s.DB, cur.LearningMapID)
	if err != nil {
		return false, false, err
	}
	progress := int(math.Round(float64(cur.ConceptOrder) / float64(total) * 100))
	nextID := &next.ID
	st := string(state)
	err = repo.AdvanceSession(ctx, s.DB, sess.ID, sess.CurrentConceptID, repo.SessionUpdate{
		CurrentConceptID: &nextID,
		Progress:         &progress,
		State:            &st,
	})
	return err == nil, false, err
}

func (s *SessionService) isLastConcept(ctx context.Context, sess *domain.LearningSession) (bool, error) {
	if sess.CurrentConceptID == nil {
		return true, nil
	}
	cur, err := repo.GetConcept(ctx, s.DB, *sess.CurrentConceptID)
	if err != nil {
		return false, fmt.Errorf("current concept: %w", err)
	}
	next, err := repo.NextConcept(ctx, s.DB, cur.LearningMapID, cur.ConceptOrder)
	return next == nil, err
}

// locked loads the user's session under its lock and runs fn.
func (s *SessionService) locked(ctx context.Context, userID, sessionID string, fn func(context.Context, *domain.LearningSession) error) error {
	if s.Locks != nil {
		unlock, err := s.Locks.Lock(ctx, lock.SessionKey(sessionID))
		if err != nil {
			return err
		}
		defer unlock()
	}
	sess, err := repo.GetSession(ctx, s.DB, sessionID, userID)
	if err != nil {
		return lookupErr(err, ErrSessionNotFound)
	}
	return fn(ctx, sess)
}

func (s *SessionService) reload(ctx context.Context, userID, sessionID string) (*SessionDetails, error) {
	sess, err := repo.GetSession(ctx, s.DB, sessionID, userID)
	if err != nil {
		return nil, lookupErr(err, ErrSessionNotFound)
	}
	return s.details(ctx, sess)
}

func (s *SessionService) details(ctx context.Context, sess *domain.LearningSession) (*SessionDetails, error) {
	out := &SessionDetails{LearningSession: *sess}
	content, err := repo.GetContentByID(ctx, s.DB, sess.ContentID)
	switch {
	case err == nil:
		out.ContentTitle = content.Title
		out.ContentDescription = content.Description
	case !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}
	if sess.CurrentConceptID != nil {
		c, err := repo.GetConcept(ctx, s.DB, *sess.CurrentConceptID)
		switch {
		case err == nil:
			out.CurrentConcept = &ConceptRef{ID: c.ID, Title: c.Title, Description: c.Description, Order: c.ConceptOrder}
		case !errors.Is(err, repo.ErrNotFound):
			return nil, err
		}
	}
	state := statemachine.State(sess.State)
	out.ValidActions = statemachine.ValidActions(state)
	if out.ValidActions == nil {
		out.ValidActions = []statemachine.Action{}
	}
	if role, ok := statemachine.ResponsibleRole(state); ok {
		out.ResponsibleRole = role
	}
	return out, nil
}

func completedUpdate() repo.SessionUpdate {
	status, progress, state := domain.SessionCompleted, 100, string(statemachine.Complete)
	return repo.SessionUpdate{Status: &status, Progress: &progress, State: &state}
}

func sessionAttrs(userID, sessionID string) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("session.id", sessionID),
	)
}
