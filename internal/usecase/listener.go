package usecase

import (
	"context"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/nearby"
)

// sessionListener binds transport callbacks to the activation that registered them.
type sessionListener struct {
	coordinator *Coordinator
	epoch       uint64
}

func (that *sessionListener) EndpointFound(endpointID, name string) {
	that.coordinator.enqueue(that.epoch, "endpoint_found", func(ctx context.Context) {
		that.coordinator.onEndpointFound(ctx, endpointID, name)
	})
}

func (that *sessionListener) EndpointLost(endpointID string) {
	that.coordinator.enqueue(that.epoch, "endpoint_lost", func(context.Context) {
		that.coordinator.logger.Debug("endpoint lost", "endpoint", endpointID)
	})
}

func (that *sessionListener) ConnectionInitiated(endpointID, name string) {
	that.coordinator.enqueue(that.epoch, "connection_initiated", func(ctx context.Context) {
		that.coordinator.onConnectionInitiated(ctx, endpointID, name)
	})
}

func (that *sessionListener) ConnectionResult(endpointID string, status nearby.Status) {
	that.coordinator.enqueue(that.epoch, "connection_result", func(context.Context) {
		that.coordinator.onConnectionResult(endpointID, status)
	})
}

func (that *sessionListener) PayloadReceived(endpointID string, payload []byte) {
	payload = append([]byte(nil), payload...)

	that.coordinator.enqueue(that.epoch, "payload_received", func(context.Context) {
		that.coordinator.onPayloadReceived(endpointID, payload)
	})
}

func (that *sessionListener) Disconnected(endpointID string) {
	that.coordinator.enqueue(that.epoch, "disconnected", func(context.Context) {
		that.coordinator.onDisconnected(endpointID)
	})
}

// ProtocolError is a peer-originated message the session could not apply. The session stays
// alive; the message is dropped.
type ProtocolError struct {
	EndpointID string
	Payload    []byte
	Err        error
}

func (that *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %q (payload %q): %v", that.EndpointID, that.Payload, that.Err)
}

func (that *ProtocolError) Unwrap() error {
	return that.Err
}
