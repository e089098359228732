package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/apperror"
)

const separator = ","

// Move is a grid coordinate exchanged between peers.
type Move struct {
	Row int
	Col int
}

// EncodeMove - serializes a move as "row,col" UTF-8 text. The payload carries exactly one move.
func EncodeMove(move Move) []byte {
	return []byte(strconv.Itoa(move.Row) + separator + strconv.Itoa(move.Col))
}

// DecodeMove - parses a payload produced by EncodeMove.
func DecodeMove(payload []byte) (Move, error) {
	if len(payload) == 0 || !utf8.Valid(payload) {
		return Move{}, fmt.Errorf("%w: %q", apperror.ErrMalformedMove, payload)
	}

	parts := strings.Split(string(payload), separator)
	if len(parts) != 2 {
		return Move{}, fmt.Errorf("%w: %q", apperror.ErrMalformedMove, payload)
	}

	row, err := parseCoordinate(parts[0])
	if err != nil {
		return Move{}, fmt.Errorf("%w: row: %w", apperror.ErrMalformedMove, err)
	}

	col, err := parseCoordinate(parts[1])
	if err != nil {
		return Move{}, fmt.Errorf("%w: col: %w", apperror.ErrMalformedMove, err)
	}

	return Move{Row: row, Col: col}, nil
}

func parseCoordinate(s string) (int, error) {
	// Atoi would accept a leading sign
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, fmt.Errorf("invalid coordinate %q", s)
	}

	return strconv.Atoi(s)
}
