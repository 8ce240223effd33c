package services

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"
	"coachmeet/pkg/tracing"

	"go.uber.org/zap"
)

// ConnectionConfig holds the join/retry policy.
type ConnectionConfig struct {
	// JoinTimeout bounds the wait for the SDK joined callback per attempt.
	JoinTimeout time.Duration
	// DeferDelay postpones the first SDK join call so the mounting component
	// is fully up before any callback can fire.
	DeferDelay time.Duration
	// MaxRetries bounds automatic retries after the initial attempt.
	MaxRetries      int
	RetryDelay      time.Duration
	ErrorRetryDelay time.Duration
	ReconnectDelay  time.Duration
}

// DefaultConnectionConfig returns the session join policy defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		JoinTimeout:     15 * time.Second,
		DeferDelay:      500 * time.Millisecond,
		MaxRetries:      2,
		RetryDelay:      2 * time.Second,
		ErrorRetryDelay: 3 * time.Second,
		ReconnectDelay:  3 * time.Second,
	}
}

type connectionService struct {
	sdk         ports.RealtimeSDK
	media       ports.MediaService
	metrics     *MetricsService
	setPresence ports.PresenceSetter
	onEnd       func()
	cfg         ConnectionConfig

	meetingID     domain.MeetingID
	participantID domain.ParticipantID

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	// hasJoined guards Join idempotence. It is deliberately separate from
	// the state enum: the enum is reset on retry paths before the guard is.
	hasJoined bool
	state     domain.ConnectionState
	attempt   int
	endFired  bool

	deferTimer     *time.Timer
	timeoutTimer   *time.Timer
	retryTimer     *time.Timer
	reconnectTimer *time.Timer

	logger *zap.SugaredLogger
}

// NewConnectionService creates the connection state controller. setPresence
// and onEnd may be nil.
func NewConnectionService(
	sdk ports.RealtimeSDK,
	media ports.MediaService,
	metrics *MetricsService,
	setPresence ports.PresenceSetter,
	onEnd func(),
	cfg ConnectionConfig,
	meetingID domain.MeetingID,
	participantID domain.ParticipantID,
	logger *zap.SugaredLogger,
) ports.ConnectionService {
	ctx, cancel := context.WithCancel(context.Background())
	return &connectionService{
		sdk:           sdk,
		media:         media,
		metrics:       metrics,
		setPresence:   setPresence,
		onEnd:         onEnd,
		cfg:           cfg,
		meetingID:     meetingID,
		participantID: participantID,
		ctx:           ctx,
		cancel:        cancel,
		state:         domain.ConnectionIdle,
		logger:        logger,
	}
}

func (s *connectionService) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join starts the join lifecycle. A second call while a join is in flight or
// already completed is a no-op performing zero SDK calls.
func (s *connectionService) Join(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasJoined {
		s.logger.Debugw("join ignored, already joined or joining",
			"meeting_id", s.meetingID,
			"state", s.state.String(),
		)
		return nil
	}

	s.hasJoined = true
	s.endFired = false
	s.attempt = 1
	s.setStateLocked(domain.ConnectionConnecting)
	s.startAttemptLocked(true)
	return nil
}

// RetryJoin resets the guard and attempt counter and performs exactly one
// more attempt, without the defer delay and without automatic retries. It
// only acts from the failed state; a stale retry affordance clicked on a
// live session is a no-op.
func (s *connectionService) RetryJoin(ctx context.Context) error {
	s.mu.Lock()
	if s.state != domain.ConnectionFailed {
		state := s.state
		s.mu.Unlock()
		s.logger.Debugw("manual retry ignored",
			"meeting_id", s.meetingID,
			"state", state.String(),
		)
		return nil
	}
	s.clearTimersLocked()
	s.hasJoined = true
	s.attempt = s.cfg.MaxRetries + 1
	s.setStateLocked(domain.ConnectionConnecting)
	s.armJoinTimeoutLocked()
	s.mu.Unlock()

	s.logger.Infow("manual join retry", "meeting_id", s.meetingID)
	s.metrics.IncJoinAttempt()

	if err := s.callJoin(ctx); err != nil {
		s.mu.Lock()
		s.clearTimersLocked()
		s.setStateLocked(domain.ConnectionFailed)
		s.mu.Unlock()
		return err
	}
	return nil
}

// startAttemptLocked schedules the SDK join for the current attempt. The
// first attempt is deferred; retries fire immediately.
func (s *connectionService) startAttemptLocked(deferred bool) {
	s.armJoinTimeoutLocked()

	delay := time.Duration(0)
	if deferred {
		delay = s.cfg.DeferDelay
	}
	s.deferTimer = time.AfterFunc(delay, func() {
		s.metrics.IncJoinAttempt()
		if err := s.callJoin(s.ctx); err != nil {
			s.handleJoinCallError(err)
		}
	})
}

func (s *connectionService) callJoin(ctx context.Context) error {
	ctx, span := tracing.TraceSessionOperation(ctx, "join", string(s.meetingID), string(s.participantID))
	defer span.End()

	s.logger.Infow("joining meeting",
		"meeting_id", s.meetingID,
		"attempt", s.currentAttempt(),
	)
	if err := s.sdk.Join(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

func (s *connectionService) currentAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *connectionService) armJoinTimeoutLocked() {
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
	}
	s.timeoutTimer = time.AfterFunc(s.cfg.JoinTimeout, s.handleJoinTimeout)
}

// handleJoinTimeout fires when no joined callback arrived within the bounded
// wait.
func (s *connectionService) handleJoinTimeout() {
	s.scheduleRetry(s.cfg.RetryDelay, "join timeout")
}

// handleJoinCallError fires when the SDK join call itself threw.
func (s *connectionService) handleJoinCallError(err error) {
	s.logger.Warnw("sdk join call failed",
		"meeting_id", s.meetingID,
		"error", err,
	)
	s.scheduleRetry(s.cfg.ErrorRetryDelay, "join error")
}

func (s *connectionService) scheduleRetry(delay time.Duration, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.ConnectionConnected {
		return
	}
	s.clearTimersLocked()

	if s.attempt > s.cfg.MaxRetries {
		s.logger.Warnw("join retries exhausted",
			"meeting_id", s.meetingID,
			"attempts", s.attempt,
			"reason", reason,
		)
		s.setStateLocked(domain.ConnectionFailed)
		s.metrics.RecordJoinFailed()
		return
	}

	s.attempt++
	s.logger.Infow("scheduling join retry",
		"meeting_id", s.meetingID,
		"attempt", s.attempt,
		"delay", delay,
		"reason", reason,
	)
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.state == domain.ConnectionConnected {
			s.mu.Unlock()
			return
		}
		s.setStateLocked(domain.ConnectionConnecting)
		s.startAttemptLocked(false)
		s.mu.Unlock()
	})
}

// HandleJoined is the SDK joined callback: the only success signal.
func (s *connectionService) HandleJoined() {
	s.mu.Lock()
	s.clearTimersLocked()
	s.setStateLocked(domain.ConnectionConnected)
	s.attempt = 0
	s.mu.Unlock()

	if s.setPresence != nil {
		s.setPresence(true)
	}
	s.metrics.RecordJoined()
	s.logger.Infow("joined meeting", "meeting_id", s.meetingID)
}

// HandleConnectionError is the SDK connection-error callback. Network-shaped
// errors get a single delayed reconnect attempt, cancelled if a joined event
// lands first.
func (s *connectionService) HandleConnectionError(err error) {
	s.logger.Warnw("sdk connection error",
		"meeting_id", s.meetingID,
		"error", err,
	)

	if !isNetworkError(err) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reconnectTimer != nil {
		// One pending reconnect at a time.
		return
	}
	s.setStateLocked(domain.ConnectionReconnecting)
	s.metrics.IncReconnect()
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		if s.state != domain.ConnectionReconnecting {
			s.mu.Unlock()
			return
		}
		s.armJoinTimeoutLocked()
		s.mu.Unlock()

		if err := s.callJoin(s.ctx); err != nil {
			s.handleJoinCallError(err)
		}
	})
}

// Leave requests a graceful leave. Success is signaled only via HandleLeft;
// an SDK error falls back to firing the end callback directly so the caller
// never gets stuck.
func (s *connectionService) Leave(ctx context.Context) error {
	ctx, span := tracing.TraceSessionOperation(ctx, "leave", string(s.meetingID), string(s.participantID))
	defer span.End()

	if err := s.sdk.Leave(ctx); err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("sdk leave failed, ending session directly",
			"meeting_id", s.meetingID,
			"error", err,
		)
		if s.setPresence != nil {
			s.setPresence(false)
		}
		s.fireEnd()
		return err
	}
	return nil
}

// HandleLeft is the SDK left callback: the sole place media flags reset to
// their session defaults and the end callback fires on the graceful path.
func (s *connectionService) HandleLeft() {
	s.mu.Lock()
	s.clearTimersLocked()
	s.hasJoined = false
	s.attempt = 0
	s.setStateLocked(domain.ConnectionIdle)
	s.mu.Unlock()

	if s.media != nil {
		s.media.ResetToDefaults()
	}
	if s.setPresence != nil {
		s.setPresence(false)
	}
	s.logger.Infow("left meeting", "meeting_id", s.meetingID)
	s.fireEnd()
}

func (s *connectionService) fireEnd() {
	s.mu.Lock()
	if s.endFired {
		s.mu.Unlock()
		return
	}
	s.endFired = true
	s.mu.Unlock()

	if s.onEnd != nil {
		s.onEnd()
	}
}

// ForceUnload synchronously clears shared presence before any async cleanup
// runs. Called on page/tab teardown where nothing async is guaranteed.
func (s *connectionService) ForceUnload() {
	if s.setPresence != nil {
		s.setPresence(false)
	}
	s.mu.Lock()
	s.clearTimersLocked()
	s.mu.Unlock()
}

func (s *connectionService) Close() {
	s.mu.Lock()
	s.clearTimersLocked()
	s.mu.Unlock()
	s.cancel()
}

func (s *connectionService) setStateLocked(state domain.ConnectionState) {
	if s.state == state {
		return
	}
	s.state = state
	s.metrics.SetConnectionState(state)
}

func (s *connectionService) clearTimersLocked() {
	for _, t := range []*time.Timer{s.deferTimer, s.timeoutTimer, s.retryTimer, s.reconnectTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.deferTimer, s.timeoutTimer, s.retryTimer, s.reconnectTimer = nil, nil, nil, nil
}

// isNetworkError classifies SDK errors that warrant a reconnect attempt.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"network", "connection", "timeout", "websocket", "broken pipe", "reset by peer"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
