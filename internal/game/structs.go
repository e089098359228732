package game

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/apperror"
)

const (
	defaultPlayers   = 2
	defaultSize      = 3
	defaultWinLength = 3
)

// Cell is a board square: Empty or the id of the player that marked it.
type Cell int

const Empty Cell = 0

// Config holds the match parameters fixed at construction.
type Config struct {
	Players   int `yaml:"players" env:"BOARD_PLAYERS" env-default:"2"`
	Size      int `yaml:"size" env:"BOARD_SIZE" env-default:"3"`
	WinLength int `yaml:"win-length" env:"BOARD_WIN_LENGTH" env-default:"3"`
}

func DefaultConfig() Config {
	return Config{
		Players:   defaultPlayers,
		Size:      defaultSize,
		WinLength: defaultWinLength,
	}
}

// Validate - checks that a K-in-a-row run can fit on the board.
func (that Config) Validate() error {
	switch {
	case that.Players < 2:
		return fmt.Errorf("%w: players %d", apperror.ErrInvalidConfig, that.Players)
	case that.Size < 1:
		return fmt.Errorf("%w: size %d", apperror.ErrInvalidConfig, that.Size)
	case that.WinLength < 1 || that.WinLength > that.Size:
		return fmt.Errorf("%w: win length %d on size %d", apperror.ErrInvalidConfig, that.WinLength, that.Size)
	}

	return nil
}

// scan directions: horizontal, vertical, diagonal down-right, diagonal down-left.
var directions = [4][2]int{
	{0, 1},
	{1, 0},
	{1, 1},
	{1, -1},
}
