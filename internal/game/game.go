package game

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/apperror"
)

// Game is the rules engine for one match. It does no I/O and is not safe for concurrent use.
type Game struct {
	config Config

	board  [][]Cell
	turn   int
	winner int
	isOver bool
}

func New(config Config) (*Game, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	board := make([][]Cell, config.Size)
	for i := range board {
		board[i] = make([]Cell, config.Size)
	}

	return &Game{
		config: config,
		board:  board,
		turn:   1,
	}, nil
}

// Play - marks (row, col) for player and advances the match.
func (that *Game) Play(player, row, col int) error {
	if player < 1 || player > that.config.Players {
		return fmt.Errorf("%w: %d", apperror.ErrInvalidPlayer, player)
	}

	if player != that.turn {
		return apperror.ErrNotYourTurn
	}

	if that.isOver {
		return apperror.ErrGameFinished
	}

	if !that.InBounds(row, col) {
		return fmt.Errorf("%w: (%d,%d)", apperror.ErrInvalidCell, row, col)
	}

	if that.board[row][col] != Empty {
		return apperror.ErrCellOccupied
	}

	that.board[row][col] = Cell(player)

	switch {
	case that.hasPlayerWon(player):
		that.winner = player
		that.isOver = true
	case !that.anyEmptyCell():
		that.isOver = true
	default:
		that.turn = (player % that.config.Players) + 1
	}

	return nil
}

func (that *Game) InBounds(row, col int) bool {
	return row >= 0 && row < that.config.Size && col >= 0 && col < that.config.Size
}

func (that *Game) IsOccupied(row, col int) bool {
	return that.InBounds(row, col) && that.board[row][col] != Empty
}

func (that *Game) Turn() int { return that.turn }

// Winner returns 0 while nobody has won, including after a draw.
func (that *Game) Winner() int { return that.winner }

func (that *Game) IsOver() bool { return that.isOver }

func (that *Game) Size() int { return that.config.Size }

// Board - returns a copy of the grid.
func (that *Game) Board() [][]Cell {
	return CopyBoard(that.board)
}

func (that *Game) String() string {
	rows := make([]string, 0, len(that.board))
	for _, row := range that.board {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			cells = append(cells, strconv.Itoa(int(cell)))
		}
		rows = append(rows, strings.Join(cells, ","))
	}

	return strings.Join(rows, "\n")
}

// hasPlayerWon - looks for a run of WinLength starting at any cell owned by player.
func (that *Game) hasPlayerWon(player int) bool {
	mark := Cell(player)
	size, length := that.config.Size, that.config.WinLength

	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			if that.board[i][j] != mark {
				continue
			}

			for _, dir := range directions {
				endRow, endCol := i+dir[0]*(length-1), j+dir[1]*(length-1)
				if !that.InBounds(endRow, endCol) {
					continue
				}

				count := 1
				for step := 1; step < length; step++ {
					if that.board[i+dir[0]*step][j+dir[1]*step] != mark {
						break
					}
					count++
				}

				if count == length {
					return true
				}
			}
		}
	}

	return false
}

func (that *Game) anyEmptyCell() bool {
	for _, row := range that.board {
		for _, cell := range row {
			if cell == Empty {
				return true
			}
		}
	}

	return false
}

func CopyBoard(board [][]Cell) [][]Cell {
	if board == nil {
		return nil
	}

	out := make([][]Cell, len(board))
	for i, row := range board {
		out[i] = append([]Cell(nil), row...)
	}

	return out
}
