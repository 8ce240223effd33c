package sdkbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"coachmeet/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Signaling message types exchanged with the meeting backend.
const (
	msgJoin       = "join"
	msgJoined     = "joined"
	msgLeave      = "leave"
	msgLeft       = "left"
	msgMediaState = "media_state"
	msgPresenter  = "presenter"
	msgSpeaker    = "active_speaker"
	msgPeerJoined = "participant_joined"
	msgPeerLeft   = "participant_left"
	msgOffer      = "offer"
	msgAnswer     = "answer"
	msgICE        = "ice_candidate"
	msgError      = "error"
)

type signalMessage struct {
	Type          string               `json:"type"`
	MeetingID     domain.MeetingID     `json:"meeting_id,omitempty"`
	ParticipantID domain.ParticipantID `json:"participant_id,omitempty"`
	Payload       json.RawMessage      `json:"payload,omitempty"`
}

type joinPayload struct {
	Token  string `json:"token"`
	Name   string `json:"name"`
	IsHost bool   `json:"is_host"`
}

type participantPayload struct {
	ID       domain.ParticipantID `json:"id"`
	Name     string               `json:"name"`
	IsHost   bool                 `json:"is_host"`
	MicOn    bool                 `json:"mic_on"`
	WebcamOn bool                 `json:"webcam_on"`
}

type mediaStatePayload struct {
	Kind domain.MediaKind `json:"kind"`
	On   bool             `json:"on"`
}

type presenterPayload struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
}

type sdpPayload struct {
	SDP string `json:"sdp"`
}

type icePayload struct {
	Candidate string `json:"candidate"`
}

type errorPayload struct {
	Message string `json:"message"`
	Network bool   `json:"network"`
}

// SignalConfig carries websocket tuning for the signaling link.
type SignalConfig struct {
	URL          string
	DialTimeout  time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
}

// signalClient is the client half of the meeting signaling protocol over a
// single websocket. All writes go through a mutex; the read loop runs on its
// own goroutine and dispatches to onMessage.
type signalClient struct {
	cfg    SignalConfig
	logger *zap.SugaredLogger

	onMessage func(signalMessage)
	onClosed  func(error)

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

func newSignalClient(cfg SignalConfig, logger *zap.SugaredLogger, onMessage func(signalMessage), onClosed func(error)) *signalClient {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &signalClient{
		cfg:       cfg,
		logger:    logger,
		onMessage: onMessage,
		onClosed:  onClosed,
		done:      make(chan struct{}),
	}
}

// connect dials the signaling endpoint and starts the read and ping loops.
func (c *signalClient) connect(ctx context.Context, meetingID domain.MeetingID, participantID domain.ParticipantID) error {
	endpoint, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid signal url: %w", err)
	}
	query := endpoint.Query()
	query.Set("meeting_id", string(meetingID))
	query.Set("participant_id", string(participantID))
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial signal server: %w", err)
	}
	c.conn = conn

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()
	return nil
}

func (c *signalClient) readLoop() {
	for {
		var msg signalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.shutdown(err)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		c.onMessage(msg)
	}
}

func (c *signalClient) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *signalClient) send(msgType string, payload interface{}) error {
	msg := signalMessage{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		msg.Payload = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("signal client not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return nil
}

func (c *signalClient) shutdown(err error) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
		if c.onClosed != nil {
			c.onClosed(err)
		}
	})
}

func (c *signalClient) close() {
	c.shutdown(nil)
}
