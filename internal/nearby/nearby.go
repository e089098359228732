// Package nearby describes the peer discovery and connection capability the session
// coordinator drives. Implementations deliver Listener callbacks asynchronously, in order
// per endpoint.
package nearby

import "context"

// Strategy is the pairing policy of a transport.
type Strategy int

const (
	// StrategyPointToPoint allows exactly one advertiser and one discoverer per link.
	StrategyPointToPoint Strategy = iota + 1
)

func (that Strategy) String() string {
	if that == StrategyPointToPoint {
		return "point-to-point"
	}

	return "unknown"
}

// Status is the outcome of a connection handshake.
type Status int

const (
	StatusOK Status = iota
	StatusRejected
	StatusError
)

func (that Status) String() string {
	switch that {
	case StatusOK:
		return "ok"
	case StatusRejected:
		return "rejected"
	default:
		return "error"
	}
}

// Listener receives discovery, connection lifecycle and payload events.
type Listener interface {
	EndpointFound(endpointID, name string)
	EndpointLost(endpointID string)
	ConnectionInitiated(endpointID, name string)
	ConnectionResult(endpointID string, status Status)
	PayloadReceived(endpointID string, payload []byte)
	Disconnected(endpointID string)
}

type Transport interface {
	StartAdvertising(ctx context.Context, localName, serviceID string, strategy Strategy, listener Listener) error
	StartDiscovery(ctx context.Context, serviceID string, strategy Strategy, listener Listener) error

	RequestConnection(ctx context.Context, localName, endpointID string, listener Listener) error
	AcceptConnection(ctx context.Context, endpointID string, listener Listener) error

	SendPayload(ctx context.Context, endpointID string, payload []byte) error

	StopAdvertising()
	StopDiscovery()
	StopAllEndpoints()
}
