// Package lan implements nearby.Transport for peers that share a redis instance and a
// network. Redis carries announcements, a websocket carries the link.
package lan

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/nearby"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/repository"
)

var ErrUnsupportedStrategy = errors.New("unsupported strategy")

type Config struct {
	ListenAddr      string        `yaml:"listen-addr" env:"LAN_LISTEN_ADDR" env-default:"0.0.0.0:0"`
	AdvertiseHost   string        `yaml:"advertise-host" env:"LAN_ADVERTISE_HOST" env-default:"127.0.0.1"`
	AnnounceTTL     time.Duration `yaml:"announce-ttl" env:"LAN_ANNOUNCE_TTL" env-default:"10s"`
	RefreshInterval time.Duration `yaml:"refresh-interval" env:"LAN_REFRESH_INTERVAL" env-default:"3s"`
	DialTimeout     time.Duration `yaml:"dial-timeout" env:"LAN_DIAL_TIMEOUT" env-default:"5s"`
}

type Transport struct {
	logger    *slog.Logger
	endpoints repository.EndpointRepository
	config    Config

	endpointID string
	events     *dispatcher

	// serializes starting and stopping of advertising and discovery
	lifecycleMu sync.Mutex

	mu          sync.Mutex
	advertising *advertisement
	discovery   *discovery
	links       map[string]*link
}

var _ nearby.Transport = (*Transport)(nil)

func New(logger *slog.Logger, endpoints repository.EndpointRepository, config Config) *Transport {
	transport := &Transport{
		logger:    logger.With("component", "lan_transport"),
		endpoints: endpoints,
		config:    config,

		endpointID: uuid.NewString(),
		events:     newDispatcher(),

		links: make(map[string]*link),
	}

	go transport.events.run()

	return transport
}

// EndpointID - the id peers see for this transport.
func (that *Transport) EndpointID() string {
	return that.endpointID
}

// Close - stops everything and the event delivery.
func (that *Transport) Close() {
	that.StopAdvertising()
	that.StopDiscovery()
	that.StopAllEndpoints()
	that.events.stop()
}

func checkStrategy(strategy nearby.Strategy) error {
	if strategy != nearby.StrategyPointToPoint {
		return fmt.Errorf("%w: %s", ErrUnsupportedStrategy, strategy)
	}

	return nil
}

// dispatcher delivers listener callbacks on one goroutine, in the order they were posted,
// without blocking the poster.
type dispatcher struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (that *dispatcher) post(fn func()) {
	that.mu.Lock()
	that.queue = append(that.queue, fn)
	that.mu.Unlock()

	select {
	case that.wake <- struct{}{}:
	default:
	}
}

func (that *dispatcher) run() {
	for {
		select {
		case <-that.done:
			return
		case <-that.wake:
		}

		for {
			that.mu.Lock()
			if len(that.queue) == 0 {
				that.mu.Unlock()
				break
			}

			fn := that.queue[0]
			that.queue = that.queue[1:]
			that.mu.Unlock()

			fn()
		}
	}
}

func (that *dispatcher) stop() {
	that.once.Do(func() {
		close(that.done)
	})
}
