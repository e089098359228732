package websocket

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"nhooyr.io/websocket"
)

var ErrUnexpectedMessageType = errors.New("unexpected websocket message type")

type FrameKind string

const (
	KindHello   FrameKind = "hello"
	KindAccept  FrameKind = "accept"
	KindReject  FrameKind = "reject"
	KindPayload FrameKind = "payload"
	KindBye     FrameKind = "bye"
)

// Frame is one link message. Body is opaque to the link.
type Frame struct {
	Kind FrameKind `cbor:"kind"`
	From string    `cbor:"from"`
	Name string    `cbor:"name,omitempty"`
	Body []byte    `cbor:"body,omitempty"`
}

// Conn carries Frames as binary websocket messages.
type Conn struct {
	conn *websocket.Conn
}

func newConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// WriteFrame - safe for concurrent use.
func (that *Conn) WriteFrame(ctx context.Context, frame *Frame) error {
	data, err := cbor.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	if err = that.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// ReadFrame - must not be called concurrently.
func (that *Conn) ReadFrame(ctx context.Context) (*Frame, error) {
	messageType, data, err := that.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}

	if messageType != websocket.MessageBinary {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedMessageType, messageType)
	}

	var frame Frame
	if err = cbor.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}

	return &frame, nil
}

// Close - performs the closing handshake.
func (that *Conn) Close(reason string) error {
	return that.conn.Close(websocket.StatusNormalClosure, reason)
}

// CloseNow - drops the connection without a handshake.
func (that *Conn) CloseNow() error {
	return that.conn.CloseNow()
}
