package console

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/entity"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/game"
)

// Symbol - the mark drawn for a cell.
func Symbol(cell game.Cell) string {
	switch cell {
	case game.Empty:
		return "."
	case 1:
		return "X"
	case 2:
		return "O"
	default:
		return strconv.Itoa(int(cell))
	}
}

// Render - draws a session state as text.
func Render(state entity.SessionState) string {
	switch state.Phase {
	case entity.PhaseAdvertising:
		return "hosting, waiting for a player to join..."
	case entity.PhaseDiscovering:
		return "looking for a host..."
	case entity.PhaseInMatch:
	default:
		return "not connected, type host or join"
	}

	if state.IsUninitialized() {
		return "connected"
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "you are %s (player %d)\n", Symbol(game.Cell(state.LocalPlayer)), state.LocalPlayer)

	sb.WriteString("  ")
	for col := range state.Board {
		fmt.Fprintf(&sb, " %d", col)
	}
	sb.WriteString("\n")

	for row, cells := range state.Board {
		fmt.Fprintf(&sb, "%2d", row)
		for _, cell := range cells {
			sb.WriteString(" " + Symbol(cell))
		}
		sb.WriteString("\n")
	}

	switch {
	case state.IsDraw():
		sb.WriteString("draw, type new to play again")
	case state.IsOver && state.Winner == state.LocalPlayer:
		sb.WriteString("you win, type new to play again")
	case state.IsOver:
		fmt.Fprintf(&sb, "%s wins, type new to play again", Symbol(game.Cell(state.Winner)))
	case state.IsLocalTurn():
		sb.WriteString("your turn")
	default:
		fmt.Fprintf(&sb, "waiting for %s", Symbol(game.Cell(state.Turn)))
	}

	return sb.String()
}
