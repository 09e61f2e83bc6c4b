package domain

import "errors"

var (
	// ErrEmptyBlueprint is returned when generation selected zero questions
	// across every requested category. Hard stop before a session starts.
	ErrEmptyBlueprint = errors.New("blueprint contains no questions")
	// ErrInvalidTimeLimit is returned when a test is configured with a
	// non-positive overall time limit. Without one the session would expire
	// on its first interaction.
	ErrInvalidTimeLimit = errors.New("time limit must be positive")
	// ErrInvalidTransition marks a state-machine contract violation, e.g.
	// submitting outside AwaitingAnswer or advancing past the last question.
	// It is a programming error, not a user-facing condition.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrSessionNotFound is returned when a test session has not been started
	// or has already been disposed.
	ErrSessionNotFound = errors.New("test session not found")
	// ErrSessionExpired is returned for input arriving after the overall
	// countdown hit zero. The late action is discarded; the session has
	// already auto-submitted.
	ErrSessionExpired = errors.New("session time expired")
	// ErrQuestionNotInBlueprint indicates a submitted question ID does not
	// reference a question in the session's blueprint.
	ErrQuestionNotInBlueprint = errors.New("question not in blueprint")
	// ErrCategoryNotFound indicates the question bank has no such category.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrReportNotFound indicates no score report is stored under the key.
	ErrReportNotFound = errors.New("score report not found")
)
