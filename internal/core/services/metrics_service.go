package services

import (
	"sync"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/pkg/utils"
)

// MetricsRecorder mirrors session counters into an external registry. The
// prometheus collector in infrastructure/monitoring implements it.
type MetricsRecorder interface {
	RecordConnectionState(state domain.ConnectionState)
	RecordJoinAttempt()
	RecordJoined(seconds float64)
	RecordJoinFailed()
	RecordReconnect()
	RecordToggleFailure(kind domain.MediaKind)
	RecordBindRetry(kind domain.MediaKind)
	RecordBindFailure(kind domain.MediaKind)
	RecordChatSent()
	RecordChatReceived(channel string)
	RecordChatDeduped(channel string)
	RecordUnread(n int)
	RecordParticipantCount(n int)
}

// MetricsService keeps session-level counters. An optional recorder mirrors
// them into an external registry; the service itself stays plain so the
// diagnostics endpoint can read the counters back.
type MetricsService struct {
	mu sync.RWMutex

	recorder MetricsRecorder

	connectionState domain.ConnectionState
	joinAttempts    int
	joinFailures    int
	joins           int
	reconnects      int
	joinStartedAt   time.Time
	participants    int

	toggleFailures map[domain.MediaKind]int
	bindRetries    map[domain.MediaKind]int
	bindFailures   map[domain.MediaKind]int

	chatSent     int
	chatReceived map[string]int
	chatDeduped  map[string]int
	unread       int
}

// MetricsSnapshot is a point-in-time copy for diagnostics.
type MetricsSnapshot struct {
	ConnectionState string         `json:"connection_state"`
	JoinAttempts    int            `json:"join_attempts"`
	JoinFailures    int            `json:"join_failures"`
	Joins           int            `json:"joins"`
	Reconnects      int            `json:"reconnects"`
	ToggleFailures  map[string]int `json:"toggle_failures"`
	BindRetries     map[string]int `json:"bind_retries"`
	BindFailures    map[string]int `json:"bind_failures"`
	ChatSent        int            `json:"chat_sent"`
	ChatReceived    map[string]int `json:"chat_received"`
	ChatDeduped     map[string]int `json:"chat_deduped"`
	Unread          int            `json:"unread"`
	Participants    int            `json:"participants"`
}

// SetRecorder attaches an external registry mirror. Call before the session
// starts producing events.
func (m *MetricsService) SetRecorder(r MetricsRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		toggleFailures: make(map[domain.MediaKind]int),
		bindRetries:    make(map[domain.MediaKind]int),
		bindFailures:   make(map[domain.MediaKind]int),
		chatReceived:   make(map[string]int),
		chatDeduped:    make(map[string]int),
	}
}

func (m *MetricsService) SetConnectionState(state domain.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionState = state
	if m.recorder != nil {
		m.recorder.RecordConnectionState(state)
	}
}

func (m *MetricsService) IncJoinAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinAttempts++
	m.joinStartedAt = utils.Now()
	if m.recorder != nil {
		m.recorder.RecordJoinAttempt()
	}
}

func (m *MetricsService) RecordJoined() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joins++
	if m.recorder != nil {
		seconds := 0.0
		if !m.joinStartedAt.IsZero() {
			seconds = utils.Since(m.joinStartedAt).Seconds()
		}
		m.recorder.RecordJoined(seconds)
	}
}

func (m *MetricsService) RecordJoinFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinFailures++
	if m.recorder != nil {
		m.recorder.RecordJoinFailed()
	}
}

func (m *MetricsService) IncReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
	if m.recorder != nil {
		m.recorder.RecordReconnect()
	}
}

func (m *MetricsService) IncToggleFailure(kind domain.MediaKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggleFailures[kind]++
	if m.recorder != nil {
		m.recorder.RecordToggleFailure(kind)
	}
}

func (m *MetricsService) IncBindRetry(kind domain.MediaKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindRetries[kind]++
	if m.recorder != nil {
		m.recorder.RecordBindRetry(kind)
	}
}

func (m *MetricsService) IncBindFailure(kind domain.MediaKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindFailures[kind]++
	if m.recorder != nil {
		m.recorder.RecordBindFailure(kind)
	}
}

func (m *MetricsService) IncChatSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatSent++
	if m.recorder != nil {
		m.recorder.RecordChatSent()
	}
}

func (m *MetricsService) IncChatReceived(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatReceived[channel]++
	if m.recorder != nil {
		m.recorder.RecordChatReceived(channel)
	}
}

func (m *MetricsService) IncChatDeduped(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatDeduped[channel]++
	if m.recorder != nil {
		m.recorder.RecordChatDeduped(channel)
	}
}

func (m *MetricsService) SetUnread(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread = n
	if m.recorder != nil {
		m.recorder.RecordUnread(n)
	}
}

func (m *MetricsService) SetParticipantCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants = n
	if m.recorder != nil {
		m.recorder.RecordParticipantCount(n)
	}
}

// Snapshot returns a copy of all counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		ConnectionState: m.connectionState.String(),
		JoinAttempts:    m.joinAttempts,
		JoinFailures:    m.joinFailures,
		Joins:           m.joins,
		Reconnects:      m.reconnects,
		ToggleFailures:  make(map[string]int, len(m.toggleFailures)),
		BindRetries:     make(map[string]int, len(m.bindRetries)),
		BindFailures:    make(map[string]int, len(m.bindFailures)),
		ChatSent:        m.chatSent,
		ChatReceived:    make(map[string]int, len(m.chatReceived)),
		ChatDeduped:     make(map[string]int, len(m.chatDeduped)),
		Unread:          m.unread,
		Participants:    m.participants,
	}
	for k, v := range m.toggleFailures {
		snap.ToggleFailures[string(k)] = v
	}
	for k, v := range m.bindRetries {
		snap.BindRetries[string(k)] = v
	}
	for k, v := range m.bindFailures {
		snap.BindFailures[string(k)] = v
	}
	for k, v := range m.chatReceived {
		snap.ChatReceived[k] = v
	}
	for k, v := range m.chatDeduped {
		snap.ChatDeduped[k] = v
	}
	return snap
}
