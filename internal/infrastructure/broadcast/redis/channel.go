package redis

import (
	"context"
	"fmt"
	"sync"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel is the meeting-scoped broadcast channel over redis pub/sub.
// Delivery is at-least-once and includes the publisher's own echo; the chat
// engine's dedup absorbs both.
type Channel struct {
	client    *redis.Client
	meetingID domain.MeetingID
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	pubsubs map[*redis.PubSub]struct{}
	wg      sync.WaitGroup
	closed  bool
}

// NewChannel creates a broadcast channel for one meeting. The client is
// shared with other redis-backed components and is not closed by the
// channel.
func NewChannel(client *redis.Client, meetingID domain.MeetingID, logger *zap.SugaredLogger) ports.BroadcastChannel {
	return &Channel{
		client:    client,
		meetingID: meetingID,
		logger:    logger,
		pubsubs:   make(map[*redis.PubSub]struct{}),
	}
}

func (c *Channel) topic() string {
	return fmt.Sprintf("coachmeet:meeting:%s:chat", c.meetingID)
}

func (c *Channel) Publish(ctx context.Context, payload []byte, opts ports.PublishOptions) error {
	// Redis pub/sub has no retained delivery; Persist is the store's job.
	if err := c.client.Publish(ctx, c.topic(), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish chat payload: %w", err)
	}
	c.logger.Debugw("published chat payload",
		"meeting_id", c.meetingID,
		"bytes", len(payload),
		"persist", opts.Persist,
	)
	return nil
}

func (c *Channel) Subscribe(ctx context.Context, fn func(payload []byte)) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("broadcast channel closed")
	}
	pubsub := c.client.Subscribe(ctx, c.topic())
	c.pubsubs[pubsub] = struct{}{}
	c.mu.Unlock()

	// Force the SUBSCRIBE round trip so a publish right after Subscribe
	// returns is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		c.removePubsub(pubsub)
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn([]byte(msg.Payload))
			}
		}
	}()

	unsubscribe := func() {
		c.removePubsub(pubsub)
		if err := pubsub.Close(); err != nil {
			c.logger.Debugw("pubsub close", "error", err)
		}
	}
	return unsubscribe, nil
}

func (c *Channel) removePubsub(pubsub *redis.PubSub) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pubsubs, pubsub)
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pubsubs := make([]*redis.PubSub, 0, len(c.pubsubs))
	for ps := range c.pubsubs {
		pubsubs = append(pubsubs, ps)
	}
	c.pubsubs = make(map[*redis.PubSub]struct{})
	c.mu.Unlock()

	for _, ps := range pubsubs {
		ps.Close()
	}
	c.wg.Wait()
	return nil
}
