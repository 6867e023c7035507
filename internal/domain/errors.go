package domain

import "errors"

var (
	// ErrStoreUnavailable is returned when the remote state store did not
	// become reachable within the bounded wait.
	ErrStoreUnavailable = errors.New("remote store unavailable")
	// ErrNotLoggedIn is returned when an operation requires an active team.
	ErrNotLoggedIn = errors.New("no team logged in")
	// ErrTeamNotFound is returned when a team record is missing.
	ErrTeamNotFound = errors.New("team not found")
	// ErrWrongPassword is returned on a failed password check.
	ErrWrongPassword = errors.New("invalid password")
	// ErrQuestionNotFound indicates an unknown question id.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrLevelLocked is returned when a question's level is still locked.
	ErrLevelLocked = errors.New("level is locked")
	// ErrAlreadySolved is returned when opening a question the team has
	// already solved.
	ErrAlreadySolved = errors.New("question already solved")
	// ErrInsufficientPoints is returned when a hint costs more than the
	// team's current points.
	ErrInsufficientPoints = errors.New("not enough points")
	// ErrNoHint indicates the question has no hint to buy.
	ErrNoHint = errors.New("no hint available")
	// ErrInvalidCatalog indicates the catalog document failed validation.
	ErrInvalidCatalog = errors.New("invalid catalog")
)
