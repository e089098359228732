package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/entity"
)

const helpText = `commands:
  host             wait for a player to join
  join             look for a host and join it
  play <row> <col> mark a cell (or just "<row> <col>")
  new              start a new game with the same player
  leave            leave the session
  help             show this help
  quit             exit`

type session interface {
	StartHosting(ctx context.Context) error
	StartDiscovering(ctx context.Context) error
	Play(ctx context.Context, row, col int) error
	NewGame(ctx context.Context) error
	LeaveSession(ctx context.Context) error

	Subscribe() (<-chan entity.SessionState, func())
	Errors() <-chan error
}

// Console is a line-oriented front end for one session.
type Console struct {
	logger  *slog.Logger
	session session

	in    io.Reader
	out   io.Writer
	outMu sync.Mutex

	handlers map[string]func(ctx context.Context, args []string) error
}

func New(logger *slog.Logger, session session, in io.Reader, out io.Writer) *Console {
	console := &Console{
		logger:  logger.With("component", "console"),
		session: session,
		in:      in,
		out:     out,

		handlers: make(map[string]func(context.Context, []string) error),
	}

	console.handlers["host"] = console.handleHost
	console.handlers["join"] = console.handleJoin
	console.handlers["play"] = console.handlePlay
	console.handlers["new"] = console.handleNewGame
	console.handlers["leave"] = console.handleLeave
	console.handlers["help"] = console.handleHelp

	return console
}

// Run - renders every published state and executes commands until quit, end of input or ctx
// cancellation.
func (that *Console) Run(ctx context.Context) error {
	states, cancel := that.session.Subscribe()
	defer cancel()

	renderCtx, stopRender := context.WithCancel(ctx)
	renderDone := make(chan struct{})

	go func() {
		defer close(renderDone)
		that.renderLoop(renderCtx, states)
	}()

	defer func() {
		stopRender()
		<-renderDone
	}()

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(that.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		readErr <- scanner.Err()
	}()

	that.println(helpText)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("failed to read input: %w", err)
					}
				default:
				}

				return nil
			}

			quit, err := that.execute(ctx, line)
			if err != nil {
				that.println("error: " + err.Error())
			}

			if quit {
				return nil
			}
		}
	}
}

// execute - runs one input line. Bare "<row> <col>" is a play.
func (that *Console) execute(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false, nil
	}

	name, args := fields[0], fields[1:]

	if name == "quit" || name == "exit" {
		return true, nil
	}

	if _, err := strconv.Atoi(name); err == nil {
		name, args = "play", fields
	}

	handler, ok := that.handlers[name]
	if !ok {
		return false, fmt.Errorf("%w: %q, type help", apperror.ErrUnknownCommand, name)
	}

	if err := handler(ctx, args); err != nil {
		that.logger.Debug("command failed", "command", name, "error", err)
		return false, err
	}

	return false, nil
}

func (that *Console) handleHost(ctx context.Context, _ []string) error {
	return that.session.StartHosting(ctx)
}

func (that *Console) handleJoin(ctx context.Context, _ []string) error {
	return that.session.StartDiscovering(ctx)
}

func (that *Console) handlePlay(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: play needs a row and a column", apperror.ErrUnknownCommand)
	}

	row, rowErr := strconv.Atoi(args[0])
	col, colErr := strconv.Atoi(args[1])
	if err := errors.Join(rowErr, colErr); err != nil {
		return fmt.Errorf("%w: %w", apperror.ErrInvalidCell, err)
	}

	return that.session.Play(ctx, row, col)
}

func (that *Console) handleNewGame(ctx context.Context, _ []string) error {
	return that.session.NewGame(ctx)
}

func (that *Console) handleLeave(ctx context.Context, _ []string) error {
	return that.session.LeaveSession(ctx)
}

func (that *Console) handleHelp(_ context.Context, _ []string) error {
	that.println(helpText)
	return nil
}

func (that *Console) renderLoop(ctx context.Context, states <-chan entity.SessionState) {
	errs := that.session.Errors()

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}

			that.println(Render(state))
		case err := <-errs:
			that.println("peer error: " + err.Error())
		}
	}
}

func (that *Console) println(text string) {
	that.outMu.Lock()
	defer that.outMu.Unlock()

	if _, err := fmt.Fprintln(that.out, text); err != nil {
		that.logger.Error("failed to write output", "error", err)
	}
}
