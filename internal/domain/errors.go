package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no session is active for a host.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrNotFound indicates a stored record does not exist or belongs to another owner.
	ErrNotFound = errors.New("not found")
	// ErrPhase is returned when an action is not valid in the current phase.
	ErrPhase = errors.New("action not allowed in current phase")
	// ErrSessionFinished is returned for any action on a finalized or abandoned session.
	ErrSessionFinished = errors.New("quiz session finished")
	// ErrTooFewTeams indicates a session was started with fewer than two teams.
	ErrTooFewTeams = errors.New("at least two teams are required")
	// ErrDuplicateTeam indicates two teams share a name.
	ErrDuplicateTeam = errors.New("team names must be unique")
	// ErrInvalidConfig indicates a non-positive round, question or timer setting.
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrEmptyQuestion indicates a blank prompt or answer.
	ErrEmptyQuestion = errors.New("question prompt and answer are required")
)

// InsufficientQuestionsError is fatal to a session: the pool cannot supply
// the questions a round (or the whole session) needs.
type InsufficientQuestionsError struct {
	Available int
	Needed    int
}

func (e *InsufficientQuestionsError) Error() string {
	return fmt.Sprintf("insufficient questions: %d available, %d needed", e.Available, e.Needed)
}

// InvalidScoreError rejects one score submission; the host may correct it.
type InvalidScoreError struct {
	Team string
	Raw  string
}

func (e *InvalidScoreError) Error() string {
	return fmt.Sprintf("invalid score %q for team %q", e.Raw, e.Team)
}

// PersistenceError wraps a failed write to the results sink.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsInsufficientQuestions reports whether err carries an InsufficientQuestionsError.
func IsInsufficientQuestions(err error) bool {
	var target *InsufficientQuestionsError
	return errors.As(err, &target)
}

// IsInvalidScore reports whether err carries an InvalidScoreError.
func IsInvalidScore(err error) bool {
	var target *InvalidScoreError
	return errors.As(err, &target)
}
