package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/entity"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/game"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/nearby"
)

const (
	testIdentity  = "local-token"
	testServiceID = "tictactoe-test"
	testPeer      = "peer-1"
)

var errRadioOff = errors.New("radio is off")

func newTestCoordinator(t *testing.T) (context.Context, *Coordinator, *mockTransport) {
	t.Helper()

	transport := newMockTransport()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	coordinator, err := NewCoordinator(logger, transport, CoordinatorConfig{
		Identity:  testIdentity,
		ServiceID: testServiceID,
		Game:      game.DefaultConfig(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		_ = coordinator.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-stopped
		transport.AssertExpectations(t)
	})

	return ctx, coordinator, transport
}

// connect - drives the coordinator through a successful handshake with testPeer.
func connect(t *testing.T, ctx context.Context, coordinator *Coordinator, transport *mockTransport, role entity.Role) {
	t.Helper()

	switch role {
	case entity.RoleHost:
		transport.On("StartAdvertising", testIdentity, testServiceID, nearby.StrategyPointToPoint).Return(nil).Once()
		require.NoError(t, coordinator.StartHosting(ctx))
	default:
		transport.On("StartDiscovery", testServiceID, nearby.StrategyPointToPoint).Return(nil).Once()
		require.NoError(t, coordinator.StartDiscovering(ctx))

		transport.On("RequestConnection", testIdentity, testPeer).Return(nil).Once()
		transport.events().EndpointFound(testPeer, "peer")
	}

	transport.On("AcceptConnection", testPeer).Return(nil).Once()
	transport.events().ConnectionInitiated(testPeer, "peer")
	transport.events().ConnectionResult(testPeer, nearby.StatusOK)

	require.NoError(t, coordinator.flush(ctx))
	require.Equal(t, entity.PhaseInMatch, coordinator.State().Phase)
}

func emptyBoard(size int) [][]game.Cell {
	board := make([][]game.Cell, size)
	for i := range board {
		board[i] = make([]game.Cell, size)
	}

	return board
}

func TestNewCoordinator(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Rejects invalid rules", func(t *testing.T) {
		// When: the board cannot fit a winning run
		_, err := NewCoordinator(logger, newMockTransport(), CoordinatorConfig{
			ServiceID: testServiceID,
			Game:      game.Config{Players: 2, Size: 3, WinLength: 5},
		})

		// Then: ErrInvalidConfig is returned
		require.ErrorIs(t, err, apperror.ErrInvalidConfig)
	})

	t.Run("Rejects missing transport and service id", func(t *testing.T) {
		_, err := NewCoordinator(logger, nil, CoordinatorConfig{ServiceID: testServiceID, Game: game.DefaultConfig()})
		require.ErrorIs(t, err, ErrNilTransport)

		_, err = NewCoordinator(logger, newMockTransport(), CoordinatorConfig{Game: game.DefaultConfig()})
		require.ErrorIs(t, err, ErrEmptyServiceID)
	})

	t.Run("Falls back to the process identity", func(t *testing.T) {
		// When: no identity is configured
		coordinator, err := NewCoordinator(logger, newMockTransport(), CoordinatorConfig{
			ServiceID: testServiceID,
			Game:      game.DefaultConfig(),
		})

		// Then: the process-wide token is announced, and it is stable
		require.NoError(t, err)
		assert.Equal(t, LocalIdentity(), coordinator.Identity())
		assert.Equal(t, LocalIdentity(), LocalIdentity())
		assert.True(t, coordinator.State().IsUninitialized())
	})
}

func TestCoordinator_Hosting(t *testing.T) {
	t.Run("Host connects and becomes player 1", func(t *testing.T) {
		// Given: a coordinator that is advertising
		ctx, coordinator, transport := newTestCoordinator(t)

		transport.On("StartAdvertising", testIdentity, testServiceID, nearby.StrategyPointToPoint).Return(nil).Once()
		require.NoError(t, coordinator.StartHosting(ctx))
		assert.Equal(t, entity.PhaseAdvertising, coordinator.State().Phase)

		// When: a peer connects and both sides accept
		transport.On("AcceptConnection", testPeer).Return(nil).Once()
		transport.events().ConnectionInitiated(testPeer, "joiner")
		transport.events().ConnectionResult(testPeer, nearby.StatusOK)
		require.NoError(t, coordinator.flush(ctx))

		// Then: the match starts with the host moving first
		state := coordinator.State()
		assert.Equal(t, entity.PhaseInMatch, state.Phase)
		assert.Equal(t, 1, state.LocalPlayer)
		assert.Equal(t, 1, state.Turn)
		assert.True(t, state.IsLocalTurn())
		assert.Equal(t, emptyBoard(3), state.Board)

		transport.AssertCalled(t, "StopAdvertising")
		transport.AssertCalled(t, "StopDiscovery")
	})

	t.Run("Advertising failure returns to idle", func(t *testing.T) {
		// Given: a transport that cannot advertise
		ctx, coordinator, transport := newTestCoordinator(t)
		transport.On("StartAdvertising", testIdentity, testServiceID, nearby.StrategyPointToPoint).Return(errRadioOff).Once()

		// When: hosting is requested
		err := coordinator.StartHosting(ctx)

		// Then: the failure is not returned but the session is idle again
		require.NoError(t, err)
		assert.Equal(t, entity.Uninitialized(), coordinator.State())

		// Then: hosting can be retried
		transport.On("StartAdvertising", testIdentity, testServiceID, nearby.StrategyPointToPoint).Return(nil).Once()
		require.NoError(t, coordinator.StartHosting(ctx))
		assert.Equal(t, entity.PhaseAdvertising, coordinator.State().Phase)
	})

	t.Run("Rejected connection keeps advertising", func(t *testing.T) {
		ctx, coordinator, transport := newTestCoordinator(t)

		transport.On("StartAdvertising", testIdentity, testServiceID, nearby.StrategyPointToPoint).Return(nil).Once()
		require.NoError(t, coordinator.StartHosting(ctx))

		// When: the handshake ends with a rejection
		transport.On("AcceptConnection", testPeer).Return(nil).Once()
		transport.events().ConnectionInitiated(testPeer, "joiner")
		transport.events().ConnectionResult(testPeer, nearby.StatusRejected)
		require.NoError(t, coordinator.flush(ctx))

		// Then: nothing changes
		assert.Equal(t, entity.PhaseAdvertising, coordinator.State().Phase)
		assert.True(t, coordinator.State().IsUninitialized())
	})

	t.Run("Busy outside idle", func(t *testing.T) {
		ctx, coordinator, transport := newTestCoordinator(t)

		transport.On("StartAdvertising", testIdentity, testServiceID, nearby.StrategyPointToPoint).Return(nil).Once()
		require.NoError(t, coordinator.StartHosting(ctx))

		// When: hosting or discovery is requested again
		// Then: ErrSessionBusy is returned
		require.ErrorIs(t, coordinator.StartHosting(ctx), apperror.ErrSessionBusy)
		require.ErrorIs(t, coordinator.StartDiscovering(ctx), apperror.ErrSessionBusy)
	})
}

func TestCoordinator_ScenarioC_JoinerConnects(t *testing.T) {
	// Given: a coordinator that is discovering
	ctx, coordinator, transport := newTestCoordinator(t)

	transport.On("StartDiscovery", testServiceID, nearby.StrategyPointToPoint).Return(nil).Once()
	require.NoError(t, coordinator.StartDiscovering(ctx))
	assert.Equal(t, entity.PhaseDiscovering, coordinator.State().Phase)

	// When: a host is found, the connection is initiated and then established
	transport.On("RequestConnection", testIdentity, testPeer).Return(nil).Once()
	transport.events().EndpointFound(testPeer, "host")

	transport.On("AcceptConnection", testPeer).Return(nil).Once()
	transport.events().ConnectionInitiated(testPeer, "host")
	transport.events().ConnectionResult(testPeer, nearby.StatusOK)
	require.NoError(t, coordinator.flush(ctx))

	// Then: the joiner is player 2 on an empty board and waits for player 1
	state := coordinator.State()
	assert.Equal(t, entity.PhaseInMatch, state.Phase)
	assert.Equal(t, 2, state.LocalPlayer)
	assert.Equal(t, 1, state.Turn)
	assert.False(t, state.IsLocalTurn())
	assert.Equal(t, emptyBoard(3), state.Board)
}

func TestCoordinator_DiscoveryFailure(t *testing.T) {
	ctx, coordinator, transport := newTestCoordinator(t)
	transport.On("StartDiscovery", testServiceID, nearby.StrategyPointToPoint).Return(errRadioOff).Once()

	// When: discovery cannot start
	require.NoError(t, coordinator.StartDiscovering(ctx))

	// Then: the session is idle and the transport was stopped
	assert.Equal(t, entity.Uninitialized(), coordinator.State())
	transport.AssertCalled(t, "StopAllEndpoints")
}

func TestCoordinator_ScenarioD_TurnEnforcement(t *testing.T) {
	// Given: a joiner in a match, so the remote host moves first
	ctx, coordinator, transport := newTestCoordinator(t)
	connect(t, ctx, coordinator, transport, entity.RoleJoiner)

	t.Run("Local tap out of turn is ignored", func(t *testing.T) {
		// When: the joiner taps a cell on the host's turn
		err := coordinator.Play(ctx, 0, 0)

		// Then: nothing is applied or sent
		require.NoError(t, err)
		assert.Equal(t, emptyBoard(3), coordinator.State().Board)
		transport.AssertNotCalled(t, "SendPayload", mock.Anything, mock.Anything)
	})

	t.Run("Remote move is applied", func(t *testing.T) {
		// When: the host's move arrives
		transport.events().PayloadReceived(testPeer, []byte("0,0"))
		require.NoError(t, coordinator.flush(ctx))

		// Then: the board shows player 1 and the turn passes to the joiner
		state := coordinator.State()
		assert.Equal(t, game.Cell(1), state.Board[0][0])
		assert.Equal(t, 2, state.Turn)
		assert.True(t, state.IsLocalTurn())
	})

	t.Run("Local tap on an occupied cell is ignored", func(t *testing.T) {
		require.NoError(t, coordinator.Play(ctx, 0, 0))

		assert.Equal(t, game.Cell(1), coordinator.State().Board[0][0])
		transport.AssertNotCalled(t, "SendPayload", mock.Anything, mock.Anything)
	})

	t.Run("Local move is applied and sent", func(t *testing.T) {
		transport.On("SendPayload", testPeer, []byte("1,1")).Return(nil).Once()

		// When: the joiner plays the center
		require.NoError(t, coordinator.Play(ctx, 1, 1))

		// Then: the move is on the board and went to the host
		state := coordinator.State()
		assert.Equal(t, game.Cell(2), state.Board[1][1])
		assert.Equal(t, 1, state.Turn)
		transport.AssertCalled(t, "SendPayload", testPeer, []byte("1,1"))
	})

	t.Run("Local tap outside the grid is an error", func(t *testing.T) {
		err := coordinator.Play(ctx, 3, 0)

		require.ErrorIs(t, err, apperror.ErrInvalidCell)
	})
}

func TestCoordinator_HostWinsOverTheLink(t *testing.T) {
	// Given: a host in a match
	ctx, coordinator, transport := newTestCoordinator(t)
	connect(t, ctx, coordinator, transport, entity.RoleHost)
	transport.On("SendPayload", testPeer, mock.Anything).Return(nil)

	// When: the host completes the top row while the joiner answers
	require.NoError(t, coordinator.Play(ctx, 0, 0))
	transport.events().PayloadReceived(testPeer, []byte("1,1"))
	require.NoError(t, coordinator.Play(ctx, 0, 1))
	transport.events().PayloadReceived(testPeer, []byte("1,0"))
	require.NoError(t, coordinator.Play(ctx, 0, 2))

	// Then: the host is the winner and further taps are ignored
	state := coordinator.State()
	assert.True(t, state.IsOver)
	assert.Equal(t, 1, state.Winner)

	require.NoError(t, coordinator.Play(ctx, 2, 2))
	assert.Equal(t, game.Empty, coordinator.State().Board[2][2])
	transport.AssertNumberOfCalls(t, "SendPayload", 3)
}

func TestCoordinator_ProtocolErrors(t *testing.T) {
	// Given: a host in a match, on its own turn
	ctx, coordinator, transport := newTestCoordinator(t)
	connect(t, ctx, coordinator, transport, entity.RoleHost)

	tests := []struct {
		name    string
		from    string
		payload string
		target  error
	}{
		{name: "Malformed payload", from: testPeer, payload: "one,two", target: apperror.ErrMalformedMove},
		{name: "Move out of turn", from: testPeer, payload: "0,0", target: apperror.ErrNotYourTurn},
		{name: "Unknown endpoint", from: "stranger", payload: "0,0", target: apperror.ErrUnknownEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := coordinator.State()

			// When: the peer sends a payload that cannot be applied
			transport.events().PayloadReceived(tt.from, []byte(tt.payload))
			require.NoError(t, coordinator.flush(ctx))

			// Then: a ProtocolError is reported and the session is untouched
			select {
			case err := <-coordinator.Errors():
				var protocolErr *ProtocolError
				require.ErrorAs(t, err, &protocolErr)
				require.ErrorIs(t, err, tt.target)
				assert.Equal(t, tt.from, protocolErr.EndpointID)
				assert.Equal(t, []byte(tt.payload), protocolErr.Payload)
			case <-time.After(time.Second):
				t.Fatal("no protocol error reported")
			}

			assert.Equal(t, before, coordinator.State())
		})
	}
}

func TestCoordinator_ScenarioE_Disconnect(t *testing.T) {
	// Given: a joiner in a match
	ctx, coordinator, transport := newTestCoordinator(t)
	connect(t, ctx, coordinator, transport, entity.RoleJoiner)
	stale := transport.events()

	// When: the peer disconnects
	stale.Disconnected(testPeer)
	require.NoError(t, coordinator.flush(ctx))

	// Then: everything is stopped and the state is uninitialized
	assert.Equal(t, entity.Uninitialized(), coordinator.State())
	transport.AssertCalled(t, "StopAdvertising")
	transport.AssertCalled(t, "StopDiscovery")
	transport.AssertCalled(t, "StopAllEndpoints")

	// When: a payload from the old link arrives late
	stale.PayloadReceived(testPeer, []byte("0,0"))
	require.NoError(t, coordinator.flush(ctx))

	// Then: it is dropped without an error
	assert.Equal(t, entity.Uninitialized(), coordinator.State())
	select {
	case err := <-coordinator.Errors():
		t.Fatalf("unexpected error: %v", err)
	default:
	}
}

func TestCoordinator_LeaveSession(t *testing.T) {
	t.Run("Stale handshake callbacks are dropped", func(t *testing.T) {
		// Given: a host that was advertising and then left
		ctx, coordinator, transport := newTestCoordinator(t)

		transport.On("StartAdvertising", testIdentity, testServiceID, nearby.StrategyPointToPoint).Return(nil).Once()
		require.NoError(t, coordinator.StartHosting(ctx))
		stale := transport.events()

		require.NoError(t, coordinator.LeaveSession(ctx))
		assert.Equal(t, entity.Uninitialized(), coordinator.State())

		// When: the transport reports a handshake that was in flight
		stale.ConnectionInitiated(testPeer, "joiner")
		stale.ConnectionResult(testPeer, nearby.StatusOK)
		require.NoError(t, coordinator.flush(ctx))

		// Then: the session stays idle and nothing was accepted
		assert.Equal(t, entity.Uninitialized(), coordinator.State())
		transport.AssertNotCalled(t, "AcceptConnection", testPeer)
	})

	t.Run("Leaving twice is harmless", func(t *testing.T) {
		ctx, coordinator, _ := newTestCoordinator(t)

		require.NoError(t, coordinator.LeaveSession(ctx))
		require.NoError(t, coordinator.LeaveSession(ctx))
		assert.Equal(t, entity.Uninitialized(), coordinator.State())
	})
}

func TestCoordinator_NewGame(t *testing.T) {
	t.Run("Outside a match", func(t *testing.T) {
		ctx, coordinator, _ := newTestCoordinator(t)

		require.ErrorIs(t, coordinator.NewGame(ctx), apperror.ErrNotInMatch)
		require.ErrorIs(t, coordinator.Play(ctx, 0, 0), apperror.ErrNotInMatch)
	})

	t.Run("Resets the board keeping the link", func(t *testing.T) {
		// Given: a host that made a move
		ctx, coordinator, transport := newTestCoordinator(t)
		connect(t, ctx, coordinator, transport, entity.RoleHost)
		transport.On("SendPayload", testPeer, []byte("2,2")).Return(nil).Once()
		require.NoError(t, coordinator.Play(ctx, 2, 2))

		// When: a new game is requested
		require.NoError(t, coordinator.NewGame(ctx))

		// Then: the board is empty and the role is unchanged
		state := coordinator.State()
		assert.Equal(t, entity.PhaseInMatch, state.Phase)
		assert.Equal(t, 1, state.LocalPlayer)
		assert.Equal(t, 1, state.Turn)
		assert.Equal(t, emptyBoard(3), state.Board)

		// Then: remote moves still come from the same endpoint
		transport.events().PayloadReceived(testPeer, []byte("0,0"))
		require.NoError(t, coordinator.flush(ctx))
		select {
		case err := <-coordinator.Errors():
			require.ErrorIs(t, err, apperror.ErrNotYourTurn)
		case <-time.After(time.Second):
			t.Fatal("no protocol error reported")
		}
	})
}

func TestCoordinator_Subscribe(t *testing.T) {
	// Given: a subscriber on an idle coordinator
	ctx, coordinator, transport := newTestCoordinator(t)
	states, cancel := coordinator.Subscribe()
	defer cancel()

	// Then: the current state is delivered first
	assert.Equal(t, entity.Uninitialized(), <-states)

	// When: several states are published without being read
	transport.On("StartAdvertising", testIdentity, testServiceID, nearby.StrategyPointToPoint).Return(nil).Once()
	require.NoError(t, coordinator.StartHosting(ctx))
	require.NoError(t, coordinator.LeaveSession(ctx))

	// Then: only the latest one is kept
	assert.Equal(t, entity.Uninitialized(), <-states)
	select {
	case state := <-states:
		t.Fatalf("unexpected state: %+v", state)
	default:
	}

	// When: the subscription is cancelled
	cancel()

	// Then: the channel is closed
	_, open := <-states
	assert.False(t, open)
}

func TestCoordinator_Stopped(t *testing.T) {
	// Given: a coordinator whose loop has exited
	transport := newMockTransport()
	coordinator, err := NewCoordinator(slog.New(slog.NewTextHandler(io.Discard, nil)), transport, CoordinatorConfig{
		Identity:  testIdentity,
		ServiceID: testServiceID,
		Game:      game.DefaultConfig(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, coordinator.Run(ctx))

	// When: intents are sent
	// Then: ErrCoordinatorStopped is returned
	require.ErrorIs(t, coordinator.StartHosting(context.Background()), apperror.ErrCoordinatorStopped)
	require.ErrorIs(t, coordinator.Run(context.Background()), ErrAlreadyRunning)
}
