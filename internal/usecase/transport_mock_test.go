package usecase

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/nearby"
)

// mockTransport records calls and keeps the last listener handed to it, so tests can play
// the peer side of the transport.
type mockTransport struct {
	mock.Mock

	mu       sync.Mutex
	listener nearby.Listener
}

func newMockTransport() *mockTransport {
	transport := &mockTransport{}

	transport.On("StopAdvertising").Return().Maybe()
	transport.On("StopDiscovery").Return().Maybe()
	transport.On("StopAllEndpoints").Return().Maybe()

	return transport
}

func (that *mockTransport) events() nearby.Listener {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.listener
}

func (that *mockTransport) keep(listener nearby.Listener) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.listener = listener
}

func (that *mockTransport) StartAdvertising(
	_ context.Context, localName, serviceID string, strategy nearby.Strategy, listener nearby.Listener,
) error {
	that.keep(listener)
	return that.Called(localName, serviceID, strategy).Error(0)
}

func (that *mockTransport) StartDiscovery(
	_ context.Context, serviceID string, strategy nearby.Strategy, listener nearby.Listener,
) error {
	that.keep(listener)
	return that.Called(serviceID, strategy).Error(0)
}

func (that *mockTransport) RequestConnection(
	_ context.Context, localName, endpointID string, listener nearby.Listener,
) error {
	that.keep(listener)
	return that.Called(localName, endpointID).Error(0)
}

func (that *mockTransport) AcceptConnection(_ context.Context, endpointID string, listener nearby.Listener) error {
	that.keep(listener)
	return that.Called(endpointID).Error(0)
}

func (that *mockTransport) SendPayload(_ context.Context, endpointID string, payload []byte) error {
	return that.Called(endpointID, payload).Error(0)
}

func (that *mockTransport) StopAdvertising() {
	that.Called()
}

func (that *mockTransport) StopDiscovery() {
	that.Called()
}

func (that *mockTransport) StopAllEndpoints() {
	that.Called()
}
