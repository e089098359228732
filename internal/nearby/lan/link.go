package lan

import (
	"context"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/nearby"
	"github.com/rocketscienceinc/tictactoe-nearby/transport/websocket"
)

// link is one websocket connection to a peer, pending until both sides accepted.
type link struct {
	endpointID string
	name       string
	conn       *websocket.Conn
	cancel     context.CancelFunc

	// guarded by Transport.mu
	listener       nearby.Listener
	localAccepted  bool
	remoteAccepted bool
	established    bool
	closing        bool
}

// handleInbound - serves a connection dialed by a discoverer. It returns when the link is gone.
func (that *Transport) handleInbound(ctx context.Context, adv *advertisement, conn *websocket.Conn) {
	log := that.logger.With("method", "handleInbound")

	helloCtx, cancel := context.WithTimeout(ctx, that.config.DialTimeout)
	hello, err := conn.ReadFrame(helloCtx)
	cancel()

	if err != nil || hello.Kind != websocket.KindHello || hello.From == "" {
		log.Warn("dropped connection without hello", "error", err)
		_ = conn.CloseNow()
		return
	}

	that.mu.Lock()
	if that.advertising != adv || len(that.links) > 0 {
		that.mu.Unlock()

		log.Info("rejected connection", "endpoint", hello.From)
		_ = conn.WriteFrame(ctx, &websocket.Frame{Kind: websocket.KindReject, From: that.endpointID})
		_ = conn.Close("rejected")
		return
	}

	linkCtx, linkCancel := context.WithCancel(ctx)
	l := &link{
		endpointID: hello.From,
		name:       hello.Name,
		conn:       conn,
		cancel:     linkCancel,
		listener:   adv.listener,
	}
	that.links[l.endpointID] = l
	that.mu.Unlock()

	log.Info("connection initiated", "endpoint", l.endpointID, "name", l.name)
	that.events.post(func() {
		adv.listener.ConnectionInitiated(l.endpointID, l.name)
	})

	that.readLoop(linkCtx, l)
}

// RequestConnection - dials an advertiser found by discovery.
func (that *Transport) RequestConnection(
	ctx context.Context, localName, endpointID string, listener nearby.Listener,
) error {
	that.mu.Lock()
	disc := that.discovery
	busy := len(that.links) > 0
	that.mu.Unlock()

	if disc == nil {
		return fmt.Errorf("%w: not discovering", apperror.ErrUnknownEndpoint)
	}

	if busy {
		return fmt.Errorf("%w: a link is already open", apperror.ErrConnectionRejected)
	}

	announcement, err := that.endpoints.GetByID(ctx, disc.serviceID, endpointID)
	if err != nil {
		return fmt.Errorf("failed to resolve endpoint: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, that.config.DialTimeout)
	defer cancel()

	conn, err := websocket.Dial(dialCtx, announcement.Addr)
	if err != nil {
		return err
	}

	hello := &websocket.Frame{Kind: websocket.KindHello, From: that.endpointID, Name: localName}
	if err = conn.WriteFrame(dialCtx, hello); err != nil {
		_ = conn.CloseNow()
		return err
	}

	linkCtx, linkCancel := context.WithCancel(context.Background())
	l := &link{
		endpointID: endpointID,
		name:       announcement.Name,
		conn:       conn,
		cancel:     linkCancel,
		listener:   listener,
	}

	that.mu.Lock()
	that.links[endpointID] = l
	that.mu.Unlock()

	that.logger.Info("connection initiated", "method", "RequestConnection", "endpoint", endpointID)
	that.events.post(func() {
		listener.ConnectionInitiated(endpointID, l.name)
	})

	go that.readLoop(linkCtx, l)

	return nil
}

// AcceptConnection - accepts the pending link. It is established once the peer accepts too.
func (that *Transport) AcceptConnection(ctx context.Context, endpointID string, listener nearby.Listener) error {
	that.mu.Lock()
	l, ok := that.links[endpointID]
	if !ok {
		that.mu.Unlock()
		return apperror.ErrUnknownEndpoint
	}

	l.listener = listener
	if l.localAccepted {
		that.mu.Unlock()
		return nil
	}

	l.localAccepted = true
	established := l.remoteAccepted
	l.established = established
	that.mu.Unlock()

	if err := l.conn.WriteFrame(ctx, &websocket.Frame{Kind: websocket.KindAccept, From: that.endpointID}); err != nil {
		return err
	}

	if established {
		that.connected(l, listener)
	}

	return nil
}

func (that *Transport) SendPayload(ctx context.Context, endpointID string, payload []byte) error {
	that.mu.Lock()
	l, ok := that.links[endpointID]
	established := ok && l.established
	that.mu.Unlock()

	if !ok {
		return apperror.ErrUnknownEndpoint
	}

	if !established {
		return apperror.ErrEndpointNotConnected
	}

	return l.conn.WriteFrame(ctx, &websocket.Frame{Kind: websocket.KindPayload, From: that.endpointID, Body: payload})
}

// StopAllEndpoints - says bye on every link and closes it. No Disconnected is raised locally.
func (that *Transport) StopAllEndpoints() {
	that.mu.Lock()
	links := make([]*link, 0, len(that.links))
	for _, l := range that.links {
		l.closing = true
		links = append(links, l)
	}
	clear(that.links)
	that.mu.Unlock()

	for _, l := range links {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := l.conn.WriteFrame(ctx, &websocket.Frame{Kind: websocket.KindBye, From: that.endpointID}); err != nil {
			that.logger.Debug("failed to say bye", "method", "StopAllEndpoints", "endpoint", l.endpointID, "error", err)
		}
		cancel()

		l.cancel()
		_ = l.conn.CloseNow()
	}
}

func (that *Transport) readLoop(ctx context.Context, l *link) {
	log := that.logger.With("method", "readLoop", "endpoint", l.endpointID)

	for {
		frame, err := l.conn.ReadFrame(ctx)
		if err != nil {
			log.Debug("link read failed", "error", err)
			that.dropLink(l, nearby.StatusError)
			return
		}

		switch frame.Kind {
		case websocket.KindAccept:
			that.mu.Lock()
			l.remoteAccepted = true
			established := l.localAccepted && !l.established
			if established {
				l.established = true
			}
			listener := l.listener
			that.mu.Unlock()

			if established {
				that.connected(l, listener)
			}
		case websocket.KindPayload:
			that.mu.Lock()
			established := l.established
			listener := l.listener
			that.mu.Unlock()

			if !established {
				log.Warn("dropped payload before the link was established")
				continue
			}

			body := frame.Body
			that.events.post(func() {
				listener.PayloadReceived(l.endpointID, body)
			})
		case websocket.KindReject:
			that.dropLink(l, nearby.StatusRejected)
			return
		case websocket.KindBye:
			that.dropLink(l, nearby.StatusRejected)
			return
		default:
			log.Warn("unexpected frame", "kind", frame.Kind)
		}
	}
}

func (that *Transport) connected(l *link, listener nearby.Listener) {
	that.logger.Info("connection established", "method", "connected", "endpoint", l.endpointID)

	that.events.post(func() {
		listener.ConnectionResult(l.endpointID, nearby.StatusOK)
	})
}

// dropLink - forgets a link closed by the peer or the network. A pending link reports the
// failed handshake, an established one reports the disconnect.
func (that *Transport) dropLink(l *link, status nearby.Status) {
	that.mu.Lock()
	if that.links[l.endpointID] == l {
		delete(that.links, l.endpointID)
	}
	closing := l.closing
	established := l.established
	listener := l.listener
	that.mu.Unlock()

	l.cancel()
	_ = l.conn.CloseNow()

	if closing {
		return
	}

	if established {
		that.logger.Info("peer disconnected", "method", "dropLink", "endpoint", l.endpointID)
		that.events.post(func() {
			listener.Disconnected(l.endpointID)
		})
		return
	}

	that.logger.Info("connection failed", "method", "dropLink", "endpoint", l.endpointID, "status", status)
	that.events.post(func() {
		listener.ConnectionResult(l.endpointID, status)
	})
}
