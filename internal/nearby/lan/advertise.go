package lan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/entity"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/nearby"
	"github.com/rocketscienceinc/tictactoe-nearby/transport/websocket"
)

const stopTimeout = 3 * time.Second

type advertisement struct {
	announcement entity.Announcement
	listener     nearby.Listener
	server       *websocket.Server
	cancel       context.CancelFunc
	done         chan struct{}
}

// StartAdvertising - serves the link and announces it under serviceID until StopAdvertising.
func (that *Transport) StartAdvertising(
	ctx context.Context, localName, serviceID string, strategy nearby.Strategy, listener nearby.Listener,
) error {
	log := that.logger.With("method", "StartAdvertising")

	if err := checkStrategy(strategy); err != nil {
		return err
	}

	that.lifecycleMu.Lock()
	defer that.lifecycleMu.Unlock()

	that.mu.Lock()
	if that.advertising != nil {
		that.mu.Unlock()
		return apperror.ErrAlreadyAdvertising
	}

	adv := &advertisement{listener: listener, done: make(chan struct{})}
	that.advertising = adv
	that.mu.Unlock()

	if err := that.serve(ctx, adv, localName, serviceID); err != nil {
		that.mu.Lock()
		that.advertising = nil
		that.mu.Unlock()

		return err
	}

	log.Info("advertising", "service", serviceID, "addr", adv.announcement.Addr)

	return nil
}

func (that *Transport) serve(ctx context.Context, adv *advertisement, localName, serviceID string) error {
	adv.server = websocket.New(that.logger, localName, func(connCtx context.Context, conn *websocket.Conn) {
		that.handleInbound(connCtx, adv, conn)
	})

	if err := adv.server.Start(that.config.ListenAddr); err != nil {
		return fmt.Errorf("failed to start link server: %w", err)
	}

	_, port, err := net.SplitHostPort(adv.server.Addr().String())
	if err != nil {
		_ = adv.server.Shutdown(ctx)
		return fmt.Errorf("failed to resolve link port: %w", err)
	}

	adv.announcement = entity.Announcement{
		EndpointID: that.endpointID,
		Name:       localName,
		ServiceID:  serviceID,
		Addr:       net.JoinHostPort(that.config.AdvertiseHost, port),
	}

	if err = that.endpoints.CreateOrUpdate(ctx, &adv.announcement, that.config.AnnounceTTL); err != nil {
		_ = adv.server.Shutdown(ctx)
		return fmt.Errorf("failed to announce endpoint: %w", err)
	}

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	adv.cancel = cancel

	go that.refresh(refreshCtx, adv)

	return nil
}

// refresh - keeps the announcement alive, recreating it if it expired.
func (that *Transport) refresh(ctx context.Context, adv *advertisement) {
	log := that.logger.With("method", "refresh")
	defer close(adv.done)

	ticker := time.NewTicker(that.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := that.endpoints.Refresh(ctx, adv.announcement.ServiceID, that.endpointID, that.config.AnnounceTTL)
		if errors.Is(err, apperror.ErrEndpointNotFound) {
			err = that.endpoints.CreateOrUpdate(ctx, &adv.announcement, that.config.AnnounceTTL)
		}

		if err != nil && ctx.Err() == nil {
			log.Warn("failed to refresh announcement", "error", err)
		}
	}
}

// StopAdvertising - withdraws the announcement and stops accepting links. Live links stay up.
func (that *Transport) StopAdvertising() {
	that.lifecycleMu.Lock()
	defer that.lifecycleMu.Unlock()

	that.mu.Lock()
	adv := that.advertising
	that.advertising = nil
	that.mu.Unlock()

	if adv == nil {
		return
	}

	log := that.logger.With("method", "StopAdvertising")

	adv.cancel()
	<-adv.done

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := that.endpoints.DeleteByID(ctx, adv.announcement.ServiceID, that.endpointID); err != nil {
		log.Warn("failed to withdraw announcement", "error", err)
	}

	if err := adv.server.Shutdown(ctx); err != nil {
		log.Warn("failed to stop link server", "error", err)
	}

	log.Info("advertising stopped", "addr", adv.announcement.Addr)
}
