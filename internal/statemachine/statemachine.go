// Package statemachine defines the learning-session state machine: the
// states a session moves through, the actions that move it, and which AI
// role is responsible for each state. The table is pure data; callers
// persist the resulting state themselves.
package statemachine

import (
	"fmt"

	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// State is a position in the session loop.
type State string

const (
	Init        State = "init"
	Explain     State = "explain"
	UserExplain State = "user_explain"
	Evaluate    State = "evaluate"
	DecideNext  State = "decide_next"
	Complete    State = "complete"
	Paused      State = "paused"
)

// Action is an event that may move a session to another state.
type Action string

const (
	Start              Action = "start"
	ExplainComplete    Action = "explain_complete"
	UserResponded      Action = "user_responded"
	EvaluationComplete Action = "evaluation_complete"
	Proceed            Action = "proceed"
	Review             Action = "review"
	Practice           Action = "practice"
	Pause              Action = "pause"
	Resume             Action = "resume"
	Finish             Action = "complete"
)

// ErrInvalidTransition is returned by Transition for an action the current
// state does not accept.
var ErrInvalidTransition = fmt.Errorf("invalid state transition: %w", domain.ErrConflict)

type transition struct {
	from   State
	action Action
	to     State
}

// Order matters: ValidActions reports actions in table order.
var transitions = []transition{
	{Init, Start, Explain},
	{Explain, ExplainComplete, UserExplain},
	{UserExplain, UserResponded, Evaluate},
	{Evaluate, EvaluationComplete, DecideNext},

	{DecideNext, Proceed, Explain},
	{DecideNext, Review, Explain},
	{DecideNext, Practice, UserExplain},
	{DecideNext, Finish, Complete},

	{Explain, Pause, Paused},
	{UserExplain, Pause, Paused},
	{Evaluate, Pause, Paused},
	{DecideNext, Pause, Paused},

	// Resume re-enters explain regardless of where the session paused.
	{Paused, Resume, Explain},
}

// Next returns the state reached by applying action in state, and false when
// the pair is not in the table.
func Next(state State, action Action) (State, bool) {
	for _, t := range transitions {
		if t.from == state && t.action == action {
			return t.to, true
		}
	}
	return "", false
}

// Transition is Next with an error for invalid pairs.
func Transition(state State, action Action) (State, error) {
	to, ok := Next(state, action)
	if !ok {
		return state, fmt.Errorf("%w: %s cannot %s", ErrInvalidTransition, state, action)
	}
	return to, nil
}

// IsValid reports whether action is accepted in state.
func IsValid(state State, action Action) bool {
	_, ok := Next(state, action)
	return ok
}

// ValidActions lists the actions accepted in state, in table order.
func ValidActions(state State) []Action {
	var out []Action
	for _, t := range transitions {
		if t.from == state {
			out = append(out, t.action)
		}
	}
	return out
}

// IsTerminal reports whether state ends the session.
func IsTerminal(state State) bool { return state == Complete }

// IsPauseable reports whether a session in state may be paused.
func IsPauseable(state State) bool {
	switch state {
	case Explain, UserExplain, Evaluate, DecideNext:
		return true
	}
	return false
}

// ResponsibleRole returns the AI role that acts in state. user_explain,
// complete and paused wait on the user, so they have none.
func ResponsibleRole(state State) (domain.Role, bool) {
	switch state {
	case Init, Explain:
		return domain.RoleTutor, true
	case Evaluate:
		return domain.RoleExaminer, true
	case DecideNext:
		return domain.RoleCoach, true
	}
	return "", false
}

// ParseState validates a persisted state string.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case Init, Explain, UserExplain, Evaluate, DecideNext, Complete, Paused:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown session state %q", domain.ErrValidation, s)
}

// ParseAction validates a client-supplied action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case Start, ExplainComplete, UserResponded, EvaluationComplete, Proceed, Review, Practice, Pause, Resume, Finish:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown session action %q", domain.ErrValidation, s)
}
