package lan

import (
	"context"
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/entity"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/nearby"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/repository"
)

type discovery struct {
	serviceID    string
	listener     nearby.Listener
	subscription *repository.Subscription
	cancel       context.CancelFunc
	done         chan struct{}

	// discover goroutine only
	known map[string]entity.Announcement
}

// StartDiscovery - reports advertisers of serviceID until StopDiscovery.
func (that *Transport) StartDiscovery(
	ctx context.Context, serviceID string, strategy nearby.Strategy, listener nearby.Listener,
) error {
	if err := checkStrategy(strategy); err != nil {
		return err
	}

	that.lifecycleMu.Lock()
	defer that.lifecycleMu.Unlock()

	that.mu.Lock()
	if that.discovery != nil {
		that.mu.Unlock()
		return apperror.ErrAlreadyDiscovering
	}

	disc := &discovery{
		serviceID: serviceID,
		listener:  listener,
		done:      make(chan struct{}),
		known:     make(map[string]entity.Announcement),
	}
	that.discovery = disc
	that.mu.Unlock()

	// subscribe before the first scan so nothing announced in between is missed
	subscription, err := that.endpoints.Subscribe(ctx, serviceID)
	if err != nil {
		that.mu.Lock()
		that.discovery = nil
		that.mu.Unlock()

		return fmt.Errorf("failed to start discovery: %w", err)
	}

	discoverCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	disc.subscription = subscription
	disc.cancel = cancel

	go that.discover(discoverCtx, disc)

	that.logger.Info("discovering", "method", "StartDiscovery", "service", serviceID)

	return nil
}

func (that *Transport) discover(ctx context.Context, disc *discovery) {
	defer close(disc.done)

	that.rescan(ctx, disc)

	ticker := time.NewTicker(that.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-disc.subscription.Notices():
			if !ok {
				return
			}

			switch notice.Kind {
			case repository.NoticeFound:
				that.found(disc, notice.Announcement)
			case repository.NoticeLost:
				that.lost(disc, notice.Announcement.EndpointID)
			}
		case <-ticker.C:
			that.rescan(ctx, disc)
		}
	}
}

// rescan - reconciles the known set with the live announcements, which also catches
// announcements that expired without a notice.
func (that *Transport) rescan(ctx context.Context, disc *discovery) {
	announcements, err := that.endpoints.ListByService(ctx, disc.serviceID)
	if err != nil {
		if ctx.Err() == nil {
			that.logger.Warn("failed to scan endpoints", "method", "rescan", "error", err)
		}
		return
	}

	live := make(map[string]bool, len(announcements))
	for _, announcement := range announcements {
		live[announcement.EndpointID] = true
		that.found(disc, *announcement)
	}

	for endpointID := range disc.known {
		if !live[endpointID] {
			that.lost(disc, endpointID)
		}
	}
}

func (that *Transport) found(disc *discovery, announcement entity.Announcement) {
	if announcement.EndpointID == that.endpointID {
		return
	}

	if _, ok := disc.known[announcement.EndpointID]; ok {
		return
	}

	disc.known[announcement.EndpointID] = announcement

	that.events.post(func() {
		disc.listener.EndpointFound(announcement.EndpointID, announcement.Name)
	})
}

func (that *Transport) lost(disc *discovery, endpointID string) {
	if _, ok := disc.known[endpointID]; !ok {
		return
	}

	delete(disc.known, endpointID)

	that.events.post(func() {
		disc.listener.EndpointLost(endpointID)
	})
}

// StopDiscovery - stops reporting advertisers. Requested links stay up.
func (that *Transport) StopDiscovery() {
	that.lifecycleMu.Lock()
	defer that.lifecycleMu.Unlock()

	that.mu.Lock()
	disc := that.discovery
	that.discovery = nil
	that.mu.Unlock()

	if disc == nil {
		return
	}

	disc.cancel()
	if err := disc.subscription.Close(); err != nil {
		that.logger.Warn("failed to close subscription", "method", "StopDiscovery", "error", err)
	}
	<-disc.done

	that.logger.Info("discovery stopped", "method", "StopDiscovery")
}
