package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/entity"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/game"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/nearby"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/protocol"
)

const (
	eventQueueSize = 64
	errorQueueSize = 16
)

var (
	ErrNilTransport     = errors.New("transport is required")
	ErrEmptyServiceID   = errors.New("service id is required")
	ErrAlreadyRunning   = errors.New("coordinator is already running")
	localIdentityOnce   = sync.OnceValue(uuid.NewString)
	errStaleRoleForLink = errors.New("connection established without a role")
)

// LocalIdentity - returns the identity token announced by this process. It is generated once.
func LocalIdentity() string {
	return localIdentityOnce()
}

type CoordinatorConfig struct {
	Identity  string
	ServiceID string
	Game      game.Config
}

// link is the connected peer. It exists only while a match is running, so a role without an
// endpoint cannot be represented.
type link struct {
	endpointID string
	role       entity.Role
}

// Coordinator owns one peer session: the rules engine, the role assignment and the link.
// All of that state is touched only by the Run loop; intents and transport callbacks are
// queued to it.
type Coordinator struct {
	logger    *slog.Logger
	transport nearby.Transport

	identity  string
	serviceID string
	rules     game.Config

	events  chan func(ctx context.Context)
	done    chan struct{}
	running atomic.Bool
	errs    chan error

	state       atomic.Pointer[entity.SessionState]
	watchMu     sync.Mutex
	watchers    map[int]chan entity.SessionState
	nextWatcher int

	// run loop only
	phase   entity.Phase
	pending entity.Role
	link    *link
	game    *game.Game
	epoch   uint64
}

func NewCoordinator(logger *slog.Logger, transport nearby.Transport, config CoordinatorConfig) (*Coordinator, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}

	if config.ServiceID == "" {
		return nil, ErrEmptyServiceID
	}

	if err := config.Game.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	identity := config.Identity
	if identity == "" {
		identity = LocalIdentity()
	}

	coordinator := &Coordinator{
		logger:    logger.With("component", "coordinator"),
		transport: transport,

		identity:  identity,
		serviceID: config.ServiceID,
		rules:     config.Game,

		events:   make(chan func(context.Context), eventQueueSize),
		done:     make(chan struct{}),
		errs:     make(chan error, errorQueueSize),
		watchers: make(map[int]chan entity.SessionState),

		phase: entity.PhaseIdle,
	}

	initial := entity.Uninitialized()
	coordinator.state.Store(&initial)

	return coordinator, nil
}

func (that *Coordinator) Identity() string {
	return that.identity
}

// Run - processes intents and transport events until ctx is cancelled. It may be called once.
func (that *Coordinator) Run(ctx context.Context) error {
	if !that.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	defer close(that.done)

	for {
		select {
		case <-ctx.Done():
			if that.phase != entity.PhaseIdle {
				that.goHome()
			}
			return nil
		case event := <-that.events:
			event(ctx)
		}
	}
}

// State - returns the last published state.
func (that *Coordinator) State() entity.SessionState {
	return *that.state.Load()
}

// Subscribe - returns a channel that holds the latest published state; older undelivered
// states are replaced. The current state is delivered immediately.
func (that *Coordinator) Subscribe() (<-chan entity.SessionState, func()) {
	ch := make(chan entity.SessionState, 1)

	that.watchMu.Lock()
	ch <- that.State()
	id := that.nextWatcher
	that.nextWatcher++
	that.watchers[id] = ch
	that.watchMu.Unlock()

	cancel := sync.OnceFunc(func() {
		that.watchMu.Lock()
		delete(that.watchers, id)
		close(ch)
		that.watchMu.Unlock()
	})

	return ch, cancel
}

// Errors - peer protocol errors. Payloads that caused them were dropped.
func (that *Coordinator) Errors() <-chan error {
	return that.errs
}

func (that *Coordinator) StartHosting(ctx context.Context) error {
	return that.submit(ctx, func(loopCtx context.Context) error {
		return that.startActivation(loopCtx, entity.PhaseAdvertising, entity.RoleHost)
	})
}

func (that *Coordinator) StartDiscovering(ctx context.Context) error {
	return that.submit(ctx, func(loopCtx context.Context) error {
		return that.startActivation(loopCtx, entity.PhaseDiscovering, entity.RoleJoiner)
	})
}

// Play - local tap on (row, col). Taps out of turn or on an occupied cell are dropped.
func (that *Coordinator) Play(ctx context.Context, row, col int) error {
	return that.submit(ctx, func(loopCtx context.Context) error {
		return that.playLocal(loopCtx, row, col)
	})
}

// NewGame - restarts the match on the same link.
func (that *Coordinator) NewGame(ctx context.Context) error {
	return that.submit(ctx, func(_ context.Context) error {
		if that.phase != entity.PhaseInMatch {
			return apperror.ErrNotInMatch
		}

		that.startMatch()
		return nil
	})
}

// LeaveSession - stops all transport activity and returns to idle.
func (that *Coordinator) LeaveSession(ctx context.Context) error {
	return that.submit(ctx, func(_ context.Context) error {
		that.goHome()
		return nil
	})
}

// flush - waits until every event queued before the call has been handled.
func (that *Coordinator) flush(ctx context.Context) error {
	return that.submit(ctx, func(context.Context) error { return nil })
}

func (that *Coordinator) submit(ctx context.Context, fn func(context.Context) error) error {
	result := make(chan error, 1)
	event := func(loopCtx context.Context) {
		result <- fn(loopCtx)
	}

	select {
	case that.events <- event:
	case <-that.done:
		return apperror.ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-that.done:
		select {
		case err := <-result:
			return err
		default:
			return apperror.ErrCoordinatorStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (that *Coordinator) startActivation(ctx context.Context, phase entity.Phase, role entity.Role) error {
	log := that.logger.With("method", "startActivation", "phase", phase)

	if that.phase != entity.PhaseIdle {
		return fmt.Errorf("%w: %s", apperror.ErrSessionBusy, that.phase)
	}

	that.epoch++
	that.phase = phase
	that.publish()

	var err error
	listener := &sessionListener{coordinator: that, epoch: that.epoch}

	switch phase {
	case entity.PhaseAdvertising:
		err = that.transport.StartAdvertising(ctx, that.identity, that.serviceID, nearby.StrategyPointToPoint, listener)
	default:
		err = that.transport.StartDiscovery(ctx, that.serviceID, nearby.StrategyPointToPoint, listener)
	}

	if err != nil {
		log.Warn("unable to start", "error", err)
		that.goHome()
		return nil
	}

	that.pending = role
	log.Info("started", "role", role, "identity", that.identity)

	return nil
}

func (that *Coordinator) playLocal(ctx context.Context, row, col int) error {
	log := that.logger.With("method", "playLocal")

	if that.phase != entity.PhaseInMatch {
		return apperror.ErrNotInMatch
	}

	if !that.game.InBounds(row, col) {
		return fmt.Errorf("%w: (%d,%d)", apperror.ErrInvalidCell, row, col)
	}

	local := that.link.role.LocalPlayer()
	if that.game.IsOver() || that.game.Turn() != local || that.game.IsOccupied(row, col) {
		return nil
	}

	if err := that.game.Play(local, row, col); err != nil {
		return fmt.Errorf("failed to play: %w", err)
	}

	log.Debug("player played", "player", local, "row", row, "col", col)
	that.publish()

	payload := protocol.EncodeMove(protocol.Move{Row: row, Col: col})
	if err := that.transport.SendPayload(ctx, that.link.endpointID, payload); err != nil {
		log.Error("failed to send move", "endpoint", that.link.endpointID, "error", err)
	}

	return nil
}

func (that *Coordinator) onEndpointFound(ctx context.Context, endpointID, name string) {
	log := that.logger.With("method", "onEndpointFound", "endpoint", endpointID, "name", name)

	if that.phase != entity.PhaseDiscovering {
		log.Debug("ignored outside discovery")
		return
	}

	listener := &sessionListener{coordinator: that, epoch: that.epoch}
	if err := that.transport.RequestConnection(ctx, that.identity, endpointID, listener); err != nil {
		log.Warn("failed to request the connection", "error", err)
		return
	}

	log.Info("requested a connection")
}

func (that *Coordinator) onConnectionInitiated(ctx context.Context, endpointID, name string) {
	log := that.logger.With("method", "onConnectionInitiated", "endpoint", endpointID, "name", name)

	if !that.connecting() {
		log.Debug("ignored outside advertising or discovery")
		return
	}

	listener := &sessionListener{coordinator: that, epoch: that.epoch}
	if err := that.transport.AcceptConnection(ctx, endpointID, listener); err != nil {
		log.Warn("failed to accept the connection", "error", err)
	}
}

func (that *Coordinator) onConnectionResult(endpointID string, status nearby.Status) {
	log := that.logger.With("method", "onConnectionResult", "endpoint", endpointID, "status", status)

	if !that.connecting() {
		log.Debug("ignored outside advertising or discovery")
		return
	}

	if status != nearby.StatusOK {
		log.Info("connection not established")
		return
	}

	if that.pending == entity.RoleNone {
		that.report(&ProtocolError{EndpointID: endpointID, Err: errStaleRoleForLink})
		return
	}

	that.transport.StopAdvertising()
	that.transport.StopDiscovery()

	that.link = &link{endpointID: endpointID, role: that.pending}
	that.pending = entity.RoleNone
	that.phase = entity.PhaseInMatch

	log.Info("connected", "role", that.link.role)
	that.startMatch()
}

func (that *Coordinator) onPayloadReceived(endpointID string, payload []byte) {
	log := that.logger.With("method", "onPayloadReceived", "endpoint", endpointID)

	if that.phase != entity.PhaseInMatch {
		that.report(&ProtocolError{EndpointID: endpointID, Payload: payload, Err: apperror.ErrNotInMatch})
		return
	}

	if endpointID != that.link.endpointID {
		that.report(&ProtocolError{EndpointID: endpointID, Payload: payload, Err: apperror.ErrUnknownEndpoint})
		return
	}

	move, err := protocol.DecodeMove(payload)
	if err != nil {
		that.report(&ProtocolError{EndpointID: endpointID, Payload: payload, Err: err})
		return
	}

	remote := that.link.role.RemotePlayer()
	if err = that.game.Play(remote, move.Row, move.Col); err != nil {
		that.report(&ProtocolError{EndpointID: endpointID, Payload: payload, Err: err})
		return
	}

	log.Debug("player played", "player", remote, "row", move.Row, "col", move.Col)
	that.publish()
}

func (that *Coordinator) onDisconnected(endpointID string) {
	log := that.logger.With("method", "onDisconnected", "endpoint", endpointID)

	if that.link == nil || that.link.endpointID != endpointID {
		log.Debug("ignored disconnect of a peer that is not linked")
		return
	}

	log.Info("peer disconnected")
	that.goHome()
}

func (that *Coordinator) connecting() bool {
	return that.phase == entity.PhaseAdvertising || that.phase == entity.PhaseDiscovering
}

func (that *Coordinator) startMatch() {
	match, err := game.New(that.rules)
	if err != nil {
		// rules were validated in NewCoordinator
		panic(fmt.Errorf("failed to start match: %w", err))
	}

	that.game = match
	that.logger.Info("starting new game", "method", "startMatch")
	that.publish()
}

// goHome - stops advertising, discovery and all endpoints and forgets the session. Callbacks
// bound to the previous epoch are dropped from now on.
func (that *Coordinator) goHome() {
	that.logger.Info("stop advertising, discovering, all endpoints", "method", "goHome")

	that.transport.StopAdvertising()
	that.transport.StopDiscovery()
	that.transport.StopAllEndpoints()

	that.epoch++
	that.pending = entity.RoleNone
	that.link = nil
	that.game = nil
	that.phase = entity.PhaseIdle
	that.publish()
}

func (that *Coordinator) snapshot() entity.SessionState {
	state := entity.SessionState{Phase: that.phase}

	if that.link == nil || that.game == nil {
		return state
	}

	state.LocalPlayer = that.link.role.LocalPlayer()
	state.Turn = that.game.Turn()
	state.Winner = that.game.Winner()
	state.IsOver = that.game.IsOver()
	state.Board = that.game.Board()

	return state
}

func (that *Coordinator) publish() {
	state := that.snapshot()
	that.state.Store(&state)

	that.watchMu.Lock()
	defer that.watchMu.Unlock()

	for _, ch := range that.watchers {
		select {
		case ch <- state:
			continue
		default:
		}

		// replace the undelivered state with the latest one
		select {
		case <-ch:
		default:
		}

		select {
		case ch <- state:
		default:
		}
	}
}

func (that *Coordinator) report(err *ProtocolError) {
	that.logger.Error("dropped peer payload", "method", "report", "endpoint", err.EndpointID, "error", err.Err)

	select {
	case that.errs <- err:
	default:
		that.logger.Warn("protocol error queue is full", "method", "report")
	}
}

// enqueue - hands a transport callback to the run loop. Callbacks of an older epoch are dropped.
func (that *Coordinator) enqueue(epoch uint64, name string, fn func(ctx context.Context)) {
	event := func(ctx context.Context) {
		if epoch != that.epoch {
			that.logger.Debug("dropped stale transport event", "event", name, "epoch", epoch)
			return
		}

		fn(ctx)
	}

	select {
	case that.events <- event:
	case <-that.done:
	}
}
