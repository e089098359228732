package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/config"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/console"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/nearby/lan"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/repository"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/usecase"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config, in io.Reader, out io.Writer) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		select {
		case sig := <-sigs:
			log.Info("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, redisAddrString)
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	endpointRepo := repository.NewEndpointRepository(redisStorage.Connection)
	transport := lan.New(logger, endpointRepo, conf.LAN)
	defer transport.Close()

	coordinator, err := usecase.NewCoordinator(logger, transport, usecase.CoordinatorConfig{
		Identity:  conf.Identity,
		ServiceID: conf.ServiceID,
		Game:      conf.Board,
	})
	if err != nil {
		return fmt.Errorf("could not create session coordinator: %w", err)
	}

	// run session coordinator
	coordinatorErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting session", "service", conf.ServiceID, "identity", coordinator.Identity())
		coordinatorErrCh <- coordinator.Run(ctx)
	}()

	// run console until quit
	consoleErr := console.New(logger, coordinator, in, out).Run(ctx)

	cancel()
	if err = <-coordinatorErrCh; err != nil {
		return fmt.Errorf("session coordinator error: %w", err)
	}

	if consoleErr != nil {
		return fmt.Errorf("console error: %w", consoleErr)
	}

	log.Info("Application stopped")

	return nil
}
