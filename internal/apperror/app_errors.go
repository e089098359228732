package apperror

import "errors"

// rules engine
var (
	ErrInvalidPlayer  = errors.New("invalid player")
	ErrNotYourTurn    = errors.New("it's not your turn")
	ErrGameFinished   = errors.New("game is already finished")
	ErrInvalidCell    = errors.New("invalid cell index")
	ErrCellOccupied   = errors.New("cell is already occupied")
	ErrInvalidConfig  = errors.New("invalid game config")
	ErrMalformedMove  = errors.New("malformed move payload")
	ErrUnknownCommand = errors.New("unknown command")
)

// session
var (
	ErrSessionBusy        = errors.New("session is already active")
	ErrNotInMatch         = errors.New("session is not in a match")
	ErrCoordinatorStopped = errors.New("session coordinator is stopped")
)

// transport
var (
	ErrAlreadyAdvertising   = errors.New("already advertising")
	ErrAlreadyDiscovering   = errors.New("already discovering")
	ErrUnknownEndpoint      = errors.New("unknown endpoint")
	ErrEndpointNotConnected = errors.New("endpoint is not connected")
	ErrConnectionRejected   = errors.New("connection rejected")
	ErrEndpointNotFound     = errors.New("endpoint not found")
)

// IsInvalidMove reports whether err is one of the rules engine precondition failures.
func IsInvalidMove(err error) bool {
	return errors.Is(err, ErrInvalidPlayer) ||
		errors.Is(err, ErrNotYourTurn) ||
		errors.Is(err, ErrGameFinished) ||
		errors.Is(err, ErrInvalidCell) ||
		errors.Is(err, ErrCellOccupied)
}
