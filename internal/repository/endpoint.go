package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/entity"
)

const scanCount = 100

type NoticeKind string

const (
	NoticeFound NoticeKind = "found"
	NoticeLost  NoticeKind = "lost"
)

// EndpointNotice is published whenever an announcement appears or is withdrawn.
type EndpointNotice struct {
	Kind         NoticeKind          `json:"kind"`
	Announcement entity.Announcement `json:"announcement"`
}

type EndpointRepository interface {
	CreateOrUpdate(ctx context.Context, announcement *entity.Announcement, ttl time.Duration) error
	Refresh(ctx context.Context, serviceID, endpointID string, ttl time.Duration) error
	GetByID(ctx context.Context, serviceID, endpointID string) (*entity.Announcement, error)
	ListByService(ctx context.Context, serviceID string) ([]*entity.Announcement, error)
	DeleteByID(ctx context.Context, serviceID, endpointID string) error
	Subscribe(ctx context.Context, serviceID string) (*Subscription, error)
}

type dbEndpoint struct {
	client *redis.Client
}

func NewEndpointRepository(client *redis.Client) EndpointRepository {
	return &dbEndpoint{
		client: client,
	}
}

func endpointKey(serviceID, endpointID string) string {
	return "endpoint:" + serviceID + ":" + endpointID
}

func noticeChannel(serviceID string) string {
	return "endpoints:" + serviceID
}

// CreateOrUpdate - stores the announcement with a ttl and tells subscribers it was found.
func (that *dbEndpoint) CreateOrUpdate(ctx context.Context, announcement *entity.Announcement, ttl time.Duration) error {
	announcementJSON, err := json.Marshal(announcement)
	if err != nil {
		return fmt.Errorf("could not marshal announcement: %w", err)
	}

	key := endpointKey(announcement.ServiceID, announcement.EndpointID)
	if err = that.client.Set(ctx, key, announcementJSON, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set announcement: %w", err)
	}

	return that.publish(ctx, EndpointNotice{Kind: NoticeFound, Announcement: *announcement})
}

// Refresh - extends the ttl of a live announcement.
func (that *dbEndpoint) Refresh(ctx context.Context, serviceID, endpointID string, ttl time.Duration) error {
	ok, err := that.client.Expire(ctx, endpointKey(serviceID, endpointID), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh announcement: %w", err)
	}

	if !ok {
		return apperror.ErrEndpointNotFound
	}

	return nil
}

func (that *dbEndpoint) GetByID(ctx context.Context, serviceID, endpointID string) (*entity.Announcement, error) {
	response, err := that.client.Get(ctx, endpointKey(serviceID, endpointID)).Result()

	if errors.Is(err, redis.Nil) {
		return &entity.Announcement{}, apperror.ErrEndpointNotFound
	}

	if err != nil {
		return &entity.Announcement{}, fmt.Errorf("%w by id", err)
	}

	var announcement entity.Announcement
	if err = json.Unmarshal([]byte(response), &announcement); err != nil {
		return &entity.Announcement{}, fmt.Errorf("failed to unmarshal announcement: %w", err)
	}

	return &announcement, nil
}

// ListByService - returns every live announcement of the service. Keys that expire while
// scanning are skipped.
func (that *dbEndpoint) ListByService(ctx context.Context, serviceID string) ([]*entity.Announcement, error) {
	var announcements []*entity.Announcement

	iter := that.client.Scan(ctx, 0, endpointKey(serviceID, "*"), scanCount).Iterator()
	for iter.Next(ctx) {
		response, err := that.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get announcement: %w", err)
		}

		var announcement entity.Announcement
		if err = json.Unmarshal([]byte(response), &announcement); err != nil {
			return nil, fmt.Errorf("failed to unmarshal announcement: %w", err)
		}

		announcements = append(announcements, &announcement)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan announcements: %w", err)
	}

	return announcements, nil
}

// DeleteByID - withdraws the announcement and tells subscribers it was lost.
func (that *dbEndpoint) DeleteByID(ctx context.Context, serviceID, endpointID string) error {
	if err := that.client.Del(ctx, endpointKey(serviceID, endpointID)).Err(); err != nil {
		return fmt.Errorf("failed to delete announcement by ID: %w", err)
	}

	return that.publish(ctx, EndpointNotice{
		Kind:         NoticeLost,
		Announcement: entity.Announcement{EndpointID: endpointID, ServiceID: serviceID},
	})
}

// Subscribe - listens for notices of the service. The subscription is active when it returns.
func (that *dbEndpoint) Subscribe(ctx context.Context, serviceID string) (*Subscription, error) {
	pubsub := that.client.Subscribe(ctx, noticeChannel(serviceID))

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to notices: %w", err)
	}

	subscription := &Subscription{
		pubsub:  pubsub,
		notices: make(chan EndpointNotice),
		done:    make(chan struct{}),
	}

	go subscription.forward()

	return subscription, nil
}

func (that *dbEndpoint) publish(ctx context.Context, notice EndpointNotice) error {
	noticeJSON, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("could not marshal notice: %w", err)
	}

	if err = that.client.Publish(ctx, noticeChannel(notice.Announcement.ServiceID), noticeJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish notice: %w", err)
	}

	return nil
}

type Subscription struct {
	pubsub  *redis.PubSub
	notices chan EndpointNotice
	done    chan struct{}
	once    sync.Once
}

// Notices - decoded notices. The channel is closed after Close.
func (that *Subscription) Notices() <-chan EndpointNotice {
	return that.notices
}

func (that *Subscription) Close() error {
	var err error

	that.once.Do(func() {
		close(that.done)
		err = that.pubsub.Close()
	})

	return err
}

func (that *Subscription) forward() {
	defer close(that.notices)

	messages := that.pubsub.Channel()
	for {
		select {
		case <-that.done:
			return
		case message, ok := <-messages:
			if !ok {
				return
			}

			var notice EndpointNotice
			if err := json.Unmarshal([]byte(message.Payload), &notice); err != nil {
				continue
			}

			select {
			case that.notices <- notice:
			case <-that.done:
				return
			}
		}
	}
}
