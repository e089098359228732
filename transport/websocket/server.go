package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/rocketscienceinc/tictactoe-nearby/transport/rest"
)

const (
	LinkPath = "/link"
	PingPath = "/ping"
)

// ConnHandler owns an accepted connection until it returns.
type ConnHandler func(ctx context.Context, conn *Conn)

type Server struct {
	logger  *slog.Logger
	handler ConnHandler

	srv      *http.Server
	listener net.Listener
}

func New(logger *slog.Logger, name string, handler ConnHandler) *Server {
	server := &Server{
		logger:  logger.With("component", "link_server"),
		handler: handler,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(LinkPath, server.upgradeToWebSocket)
	mux.HandleFunc(PingPath, rest.NewPingHandler(name).PingHandler)

	server.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	return server
}

// Start - listens on addr and serves in the background. An addr with port 0 picks a free port.
func (that *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	that.listener = listener

	go func() {
		if err := that.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			that.logger.Error("failed to serve", "error", err)
		}
	}()

	that.logger.Info("link server started", "addr", listener.Addr().String())

	return nil
}

// Addr - the bound address, valid after Start.
func (that *Server) Addr() net.Addr {
	return that.listener.Addr()
}

// Shutdown - stops accepting. Accepted connections are owned by their handlers.
func (that *Server) Shutdown(ctx context.Context) error {
	if err := that.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown link server: %w", err)
	}

	return nil
}

// upgradeToWebSocket - upgrades the connection and hands it to the handler.
func (that *Server) upgradeToWebSocket(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "upgradeToWebSocket")

	conn, err := websocket.Accept(writer, req, nil)
	if err != nil {
		log.Error("failed to accept websocket", "error", err)
		return
	}

	defer conn.CloseNow()

	log.Debug("websocket connection established", "remote", req.RemoteAddr)

	that.handler(req.Context(), newConn(conn))
}

// Dial - opens a link to a server at addr.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+LinkPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return newConn(conn), nil
}
