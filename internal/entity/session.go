package entity

import "github.com/rocketscienceinc/tictactoe-nearby/internal/game"

// Phase is the session-level state presentation navigates by.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseAdvertising Phase = "advertising"
	PhaseDiscovering Phase = "discovering"
	PhaseInMatch     Phase = "in_match"
)

// Role is the side this device plays for the lifetime of a session.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleJoiner
)

// LocalPlayer - the host always plays 1, the joiner always plays 2.
func (that Role) LocalPlayer() int {
	switch that {
	case RoleHost:
		return 1
	case RoleJoiner:
		return 2
	default:
		return 0
	}
}

func (that Role) RemotePlayer() int {
	switch that {
	case RoleHost:
		return 2
	case RoleJoiner:
		return 1
	default:
		return 0
	}
}

func (that Role) String() string {
	switch that {
	case RoleHost:
		return "host"
	case RoleJoiner:
		return "joiner"
	default:
		return "none"
	}
}

// SessionState is the value published to presentation. It is replaced wholesale on every
// change; the zero value is the uninitialized state.
type SessionState struct {
	Phase       Phase         `json:"phase"`
	LocalPlayer int           `json:"local_player"`
	Turn        int           `json:"turn"`
	Winner      int           `json:"winner"`
	IsOver      bool          `json:"is_over"`
	Board       [][]game.Cell `json:"board"`
}

func Uninitialized() SessionState {
	return SessionState{Phase: PhaseIdle}
}

func (that SessionState) IsUninitialized() bool {
	return that.Board == nil
}

func (that SessionState) IsLocalTurn() bool {
	return that.Board != nil && !that.IsOver && that.Turn == that.LocalPlayer
}

// IsDraw reports a finished match without a winner.
func (that SessionState) IsDraw() bool {
	return that.IsOver && that.Winner == 0
}
