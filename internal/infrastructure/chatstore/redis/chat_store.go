package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const historyMaxLen = 500

// messageRecord is the stored wire form of a chat message.
type messageRecord struct {
	ID         string    `json:"id"`
	MeetingID  string    `json:"meeting_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// RedisChatStore persists chat history in a redis list per meeting and
// notifies live subscribers over a pub/sub channel separate from the
// broadcast channel, so store delivery lags broadcast delivery the way it
// would with a remote database.
type RedisChatStore struct {
	client *redis.Client
	logger *zap.SugaredLogger

	mu      sync.Mutex
	pubsubs map[*redis.PubSub]struct{}
	wg      sync.WaitGroup
}

func NewRedisChatStore(client *redis.Client, logger *zap.SugaredLogger) ports.ChatStore {
	return &RedisChatStore{
		client:  client,
		logger:  logger,
		pubsubs: make(map[*redis.PubSub]struct{}),
	}
}

func (s *RedisChatStore) historyKey(meetingID domain.MeetingID) string {
	return fmt.Sprintf("coachmeet:meeting:%s:history", meetingID)
}

func (s *RedisChatStore) insertTopic(meetingID domain.MeetingID) string {
	return fmt.Sprintf("coachmeet:meeting:%s:history:inserts", meetingID)
}

func (s *RedisChatStore) Append(ctx context.Context, msg *domain.ChatMessage) error {
	record := messageRecord{
		ID:         msg.ID,
		MeetingID:  string(msg.MeetingID),
		SenderID:   string(msg.SenderID),
		SenderName: msg.SenderName,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
		ExpiresAt:  msg.ExpiresAt,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := s.historyKey(msg.MeetingID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -historyMaxLen, -1)
	if !msg.ExpiresAt.IsZero() {
		pipe.ExpireAt(ctx, key, msg.ExpiresAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	if err := s.client.Publish(ctx, s.insertTopic(msg.MeetingID), data).Err(); err != nil {
		// Subscribers miss the live update but history is intact.
		s.logger.Warnw("failed to publish insert notification",
			"meeting_id", msg.MeetingID,
			"error", err,
		)
	}
	return nil
}

func (s *RedisChatStore) Recent(ctx context.Context, meetingID domain.MeetingID, limit int) ([]*domain.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	values, err := s.client.LRange(ctx, s.historyKey(meetingID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	out := make([]*domain.ChatMessage, 0, len(values))
	for _, value := range values {
		msg, err := decodeRecord([]byte(value))
		if err != nil {
			s.logger.Warnw("skipping undecodable history entry",
				"meeting_id", meetingID,
				"error", err,
			)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisChatStore) Subscribe(ctx context.Context, meetingID domain.MeetingID, onInsert func(*domain.ChatMessage)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, s.insertTopic(meetingID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to inserts: %w", err)
	}

	s.mu.Lock()
	s.pubsubs[pubsub] = struct{}{}
	s.mu.Unlock()

	ch := pubsub.Channel()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				msg, err := decodeRecord([]byte(raw.Payload))
				if err != nil {
					s.logger.Warnw("dropping undecodable insert notification",
						"meeting_id", meetingID,
						"error", err,
					)
					continue
				}
				onInsert(msg)
			}
		}
	}()

	unsubscribe := func() {
		s.mu.Lock()
		delete(s.pubsubs, pubsub)
		s.mu.Unlock()
		pubsub.Close()
	}
	return unsubscribe, nil
}

func (s *RedisChatStore) Close() error {
	s.mu.Lock()
	pubsubs := make([]*redis.PubSub, 0, len(s.pubsubs))
	for ps := range s.pubsubs {
		pubsubs = append(pubsubs, ps)
	}
	s.pubsubs = make(map[*redis.PubSub]struct{})
	s.mu.Unlock()

	for _, ps := range pubsubs {
		ps.Close()
	}
	s.wg.Wait()
	return nil
}

func decodeRecord(data []byte) (*domain.ChatMessage, error) {
	var record messageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &domain.ChatMessage{
		ID:         record.ID,
		MeetingID:  domain.MeetingID(record.MeetingID),
		SenderID:   domain.ParticipantID(record.SenderID),
		SenderName: record.SenderName,
		Body:       record.Body,
		CreatedAt:  record.CreatedAt,
		ExpiresAt:  record.ExpiresAt,
	}, nil
}
