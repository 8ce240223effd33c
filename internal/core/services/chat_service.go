package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"
	"coachmeet/pkg/circuitbreaker"
	"coachmeet/pkg/retry"
	"coachmeet/pkg/tracing"
	"coachmeet/pkg/utils"
	"coachmeet/pkg/validation"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChatConfig holds delivery and deduplication policy.
type ChatConfig struct {
	// EchoWindow is how recently a local message with the same body must
	// have been sent for an inbound event from ourselves to count as our own
	// echo.
	EchoWindow time.Duration
	// DuplicateWindow reconciles the same message arriving twice over the
	// broadcast channel.
	DuplicateWindow time.Duration
	// StoreDedupWindow reconciles store inserts against broadcast delivery;
	// wider because the store is expected to lag.
	StoreDedupWindow  time.Duration
	HistoryLimit      int
	MessagesPerSecond float64
	Burst             int
}

// DefaultChatConfig returns the chat engine defaults.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		EchoWindow:        time.Second,
		DuplicateWindow:   2 * time.Second,
		StoreDedupWindow:  5 * time.Second,
		HistoryLimit:      100,
		MessagesPerSecond: 5,
		Burst:             10,
	}
}

// chatEnvelope is the broadcast wire format.
type chatEnvelope struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Body       string `json:"body"`
	Timestamp  int64  `json:"timestamp"`
}

type chatService struct {
	meetingID domain.MeetingID
	localID   domain.ParticipantID
	localName string

	broadcast    ports.BroadcastChannel
	store        ports.ChatStore // nil when no store is configured
	notifier     ports.Notifier
	fallback     ports.Notifier
	limiter      *rate.Limiter
	storeBreaker *circuitbreaker.Breaker
	metrics      *MetricsService
	cfg          ChatConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	messages     []*domain.ChatMessage
	unread       int
	panelVisible bool

	unsubBroadcast func()
	unsubStore     func()

	logger *zap.SugaredLogger
}

// NewChatService creates the chat delivery and dedup engine and subscribes
// to both delivery channels. store, notifier and fallback may be nil; the
// engine degrades gracefully without them.
func NewChatService(
	meetingID domain.MeetingID,
	localID domain.ParticipantID,
	localName string,
	broadcast ports.BroadcastChannel,
	store ports.ChatStore,
	notifier ports.Notifier,
	fallback ports.Notifier,
	metrics *MetricsService,
	cfg ChatConfig,
	logger *zap.SugaredLogger,
) (ports.ChatService, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &chatService{
		meetingID: meetingID,
		localID:   localID,
		localName: localName,
		broadcast: broadcast,
		store:     store,
		notifier:  notifier,
		fallback:  fallback,
		limiter:   rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		metrics:   metrics,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
	if store != nil {
		s.storeBreaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: 3,
			OpenTimeout:      15 * time.Second,
		})
	}

	s.loadHistory(ctx)

	unsub, err := broadcast.Subscribe(ctx, s.handleBroadcast)
	if err != nil {
		cancel()
		return nil, err
	}
	s.unsubBroadcast = unsub

	if store != nil {
		unsubStore, err := store.Subscribe(ctx, meetingID, s.handleStoreInsert)
		if err != nil {
			// History works without the live feed; broadcast still delivers.
			s.logger.Warnw("chat store subscription failed, continuing without live feed",
				"meeting_id", meetingID,
				"error", err,
			)
		} else {
			s.unsubStore = unsubStore
		}
	}

	return s, nil
}

func (s *chatService) loadHistory(ctx context.Context) {
	if s.store == nil || s.cfg.HistoryLimit == 0 {
		return
	}
	history, err := s.store.Recent(ctx, s.meetingID, s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Warnw("chat history load failed",
			"meeting_id", s.meetingID,
			"error", err,
		)
		return
	}
	s.mu.Lock()
	s.messages = append(s.messages, history...)
	s.mu.Unlock()
}

// Send publishes a message and appends the local echo immediately. Delivery
// failures on either channel never block or revert the send; the local echo
// already made it feel successful.
func (s *chatService) Send(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if err := validation.ValidateChatBody(body); err != nil {
		return err
	}
	if !s.limiter.Allow() {
		return domain.ErrChatRateLimited
	}

	ctx, span := tracing.TraceChatOperation(ctx, "send", string(s.meetingID))
	defer span.End()

	now := time.Now()
	msg := &domain.ChatMessage{
		ID:         utils.GenerateMessageID(),
		MeetingID:  s.meetingID,
		SenderID:   s.localID,
		SenderName: s.localName,
		Body:       body,
		CreatedAt:  now,
	}

	// Local echo first: the sender sees the message instantly regardless of
	// network latency on either channel.
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.metrics.IncChatSent()

	payload, err := json.Marshal(chatEnvelope{
		SenderID:   string(s.localID),
		SenderName: s.localName,
		Body:       body,
		Timestamp:  now.UnixMilli(),
	})
	if err != nil {
		return err
	}

	if err := s.broadcast.Publish(ctx, payload, ports.PublishOptions{Persist: false}); err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("chat broadcast publish failed",
			"meeting_id", s.meetingID,
			"error", err,
		)
	}

	if s.store != nil {
		go s.appendToStore(msg)
	}
	return nil
}

func (s *chatService) appendToStore(msg *domain.ChatMessage) {
	err := s.storeBreaker.Do(func() error {
		return retry.Do(s.ctx, retry.Config{
			MaxAttempts:  2,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
		}, func() error {
			return s.store.Append(s.ctx, msg)
		})
	})
	if err != nil {
		// Logged only; the local echo already rendered the message.
		s.logger.Warnw("chat store append failed",
			"meeting_id", s.meetingID,
			"message_id", msg.ID,
			"breaker", s.storeBreaker.State().String(),
			"error", err,
		)
	}
}

// handleBroadcast merges an inbound broadcast event into the timeline.
func (s *chatService) handleBroadcast(payload []byte) {
	env, ok := parseEnvelope(payload)
	if !ok {
		s.logger.Debugw("dropping malformed chat payload", "meeting_id", s.meetingID)
		return
	}

	now := time.Now()
	s.mu.Lock()

	// Our own echo: the broadcast channel may reflect our publish back.
	if env.SenderID == string(s.localID) && s.hasRecentLocalBodyLocked(env.Body, now) {
		s.mu.Unlock()
		s.metrics.IncChatDeduped("broadcast")
		return
	}

	incoming := &domain.ChatMessage{
		SenderName: env.SenderName,
		Body:       env.Body,
		CreatedAt:  now,
	}
	if s.hasDuplicateLocked(incoming, s.cfg.DuplicateWindow) {
		s.mu.Unlock()
		s.metrics.IncChatDeduped("broadcast")
		return
	}

	msg := &domain.ChatMessage{
		ID:         utils.GenerateMessageID(),
		MeetingID:  s.meetingID,
		SenderID:   domain.ParticipantID(env.SenderID),
		SenderName: env.SenderName,
		Body:       env.Body,
		CreatedAt:  now,
	}
	s.messages = append(s.messages, msg)
	remote := env.SenderID != string(s.localID)
	hidden := !s.panelVisible
	if remote && hidden {
		s.unread++
		s.metrics.SetUnread(s.unread)
	}
	s.mu.Unlock()

	s.metrics.IncChatReceived("broadcast")
	if remote && hidden {
		s.notify()
	}
}

// handleStoreInsert merges a store live-update. The store lags the broadcast
// channel, so the dedup window is wider.
func (s *chatService) handleStoreInsert(msg *domain.ChatMessage) {
	s.mu.Lock()

	if s.hasDuplicateLocked(msg, s.cfg.StoreDedupWindow) {
		s.mu.Unlock()
		s.metrics.IncChatDeduped("store")
		return
	}

	if msg.ID == "" {
		msg.ID = utils.GenerateMessageID()
	}
	s.messages = append(s.messages, msg)
	remote := msg.SenderID != s.localID
	hidden := !s.panelVisible
	if remote && hidden {
		s.unread++
		s.metrics.SetUnread(s.unread)
	}
	s.mu.Unlock()

	s.metrics.IncChatReceived("store")
	if remote && hidden {
		s.notify()
	}
}

func (s *chatService) hasRecentLocalBodyLocked(body string, now time.Time) bool {
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if now.Sub(m.CreatedAt) > s.cfg.EchoWindow {
			break
		}
		if m.SenderID == s.localID && m.Body == body {
			return true
		}
	}
	return false
}

func (s *chatService) hasDuplicateLocked(incoming *domain.ChatMessage, window time.Duration) bool {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if incoming.IsDuplicateOf(s.messages[i], window) {
			return true
		}
		// Messages are appended in arrival order; once past the window there
		// is nothing older to match.
		if incoming.CreatedAt.Sub(s.messages[i].CreatedAt) > window {
			break
		}
	}
	return false
}

// notify plays the notification sound best-effort. The synthesized fallback
// absorbs primary failures; nothing here may propagate.
func (s *chatService) notify() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnw("notification sound panicked", "panic", r)
		}
	}()

	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(s.ctx); err == nil {
		return
	} else {
		s.logger.Debugw("primary notification sound failed, using fallback", "error", err)
	}
	if s.fallback == nil {
		return
	}
	if err := s.fallback.Notify(s.ctx); err != nil {
		s.logger.Debugw("fallback notification sound failed", "error", err)
	}
}

func (s *chatService) Messages() []*domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *chatService) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *chatService) SetPanelVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelVisible = visible
	if visible {
		s.unread = 0
		s.metrics.SetUnread(0)
	}
}

func (s *chatService) Close() {
	if s.unsubBroadcast != nil {
		s.unsubBroadcast()
	}
	if s.unsubStore != nil {
		s.unsubStore()
	}
	s.cancel()
}

// parseEnvelope accepts both the structured payload and the legacy
// double-encoded variant where the envelope arrives as a JSON string.
func parseEnvelope(payload []byte) (chatEnvelope, bool) {
	var env chatEnvelope
	if err := json.Unmarshal(payload, &env); err == nil && envelopeComplete(env) {
		return env, true
	}

	var nested string
	if err := json.Unmarshal(payload, &nested); err == nil {
		if err := json.Unmarshal([]byte(nested), &env); err == nil && envelopeComplete(env) {
			return env, true
		}
	}
	return chatEnvelope{}, false
}

func envelopeComplete(env chatEnvelope) bool {
	return env.SenderID != "" && env.SenderName != "" && env.Body != ""
}
