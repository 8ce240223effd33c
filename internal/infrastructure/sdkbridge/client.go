package sdkbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config wires the bridge to one meeting on the backend.
type Config struct {
	Signal     SignalConfig
	ICEServers []webrtc.ICEServer

	MeetingID     domain.MeetingID
	ParticipantID domain.ParticipantID
	Token         string
	Name          string
	IsHost        bool
}

// Client implements the realtime SDK over the meeting backend's websocket
// signaling protocol plus a pion peer connection for media. State reported
// by the backend is authoritative; the client never infers toggle state from
// its own requests.
type Client struct {
	cfg    Config
	logger *zap.SugaredLogger

	handlerMu sync.RWMutex
	handler   ports.RealtimeHandler

	mu     sync.Mutex
	signal *signalClient
	pc     *webrtc.PeerConnection
	joined bool
	closed bool
}

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

func (c *Client) SetHandler(h ports.RealtimeHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = h
}

func (c *Client) currentHandler() ports.RealtimeHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.handler
}

// Join dials signaling, prepares the peer connection and requests entry to
// the meeting. Confirmation arrives as a joined event, not as the return
// value. A leftover connection from an attempt that never received the
// joined confirmation is torn down and replaced, so retrying a timed-out
// join performs a real re-attempt.
func (c *Client) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("sdk client closed")
	}
	if c.joined {
		c.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	stale := c.signal
	stalePC := c.pc
	c.signal = nil
	c.pc = nil
	c.mu.Unlock()

	if stalePC != nil {
		stalePC.Close()
	}
	if stale != nil {
		c.logger.Infow("discarding unconfirmed signal connection before rejoin",
			"meeting_id", c.cfg.MeetingID,
		)
		stale.close()
	}

	var signal *signalClient
	signal = newSignalClient(c.cfg.Signal, c.logger, c.dispatch, func(err error) {
		c.signalClosed(signal, err)
	})
	if err := signal.connect(ctx, c.cfg.MeetingID, c.cfg.ParticipantID); err != nil {
		return err
	}

	pc, err := c.createPeerConnection(signal)
	if err != nil {
		signal.close()
		return err
	}

	if err := signal.send(msgJoin, joinPayload{
		Token:  c.cfg.Token,
		Name:   c.cfg.Name,
		IsHost: c.cfg.IsHost,
	}); err != nil {
		pc.Close()
		signal.close()
		return err
	}

	c.mu.Lock()
	if c.closed || c.signal != nil {
		// Close or a concurrent Join raced the dial; ours is redundant.
		c.mu.Unlock()
		pc.Close()
		signal.close()
		return nil
	}
	c.signal = signal
	c.pc = pc
	c.mu.Unlock()
	return nil
}

func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	signal := c.signal
	c.mu.Unlock()
	if signal == nil {
		return domain.ErrNotConnected
	}
	return signal.send(msgLeave, nil)
}

func (c *Client) SetMicEnabled(ctx context.Context, on bool) error {
	return c.sendMediaState(domain.MediaKindMic, on)
}

func (c *Client) SetWebcamEnabled(ctx context.Context, on bool) error {
	return c.sendMediaState(domain.MediaKindWebcam, on)
}

func (c *Client) SetScreenShareEnabled(ctx context.Context, on bool) error {
	return c.sendMediaState(domain.MediaKindScreenShare, on)
}

func (c *Client) sendMediaState(kind domain.MediaKind, on bool) error {
	c.mu.Lock()
	signal := c.signal
	joined := c.joined
	c.mu.Unlock()
	if signal == nil || !joined {
		return domain.ErrNotConnected
	}
	return signal.send(msgMediaState, mediaStatePayload{Kind: kind, On: on})
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	signal := c.signal
	pc := c.pc
	c.signal = nil
	c.pc = nil
	c.joined = false
	c.mu.Unlock()

	if pc != nil {
		pc.Close()
	}
	if signal != nil {
		signal.close()
	}
	return nil
}

func (c *Client) createPeerConnection(signal *signalClient) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:   c.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		wrapped := newRemoteTrack(track, receiver)
		participantID := participantFromTrack(track)
		if participantID == "" {
			c.logger.Warnw("dropping track with no participant label",
				"track_id", track.ID(),
				"stream_id", track.StreamID(),
			)
			return
		}
		c.logger.Infow("remote track started",
			"participant_id", participantID,
			"kind", wrapped.Kind(),
			"codec", track.Codec().MimeType,
		)
		if h := c.currentHandler(); h != nil {
			h.OnTrackChanged(participantID, wrapped.Kind(), wrapped)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := signal.send(msgICE, icePayload{Candidate: candidate.ToJSON().Candidate}); err != nil {
			c.logger.Warnw("failed to send ICE candidate", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Infow("peer connection state changed", "state", state)
		if state == webrtc.PeerConnectionStateFailed {
			if h := c.currentHandler(); h != nil {
				h.OnConnectionError(fmt.Errorf("webrtc connection failed"))
			}
		}
	})

	return pc, nil
}

// dispatch routes one inbound signaling message to the handler. Runs on the
// signal client's read goroutine.
func (c *Client) dispatch(msg signalMessage) {
	h := c.currentHandler()
	switch msg.Type {
	case msgJoined:
		c.mu.Lock()
		c.joined = true
		c.mu.Unlock()
		if h != nil {
			h.OnJoined()
		}

	case msgLeft:
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		if h != nil {
			h.OnLeft()
		}

	case msgPeerJoined:
		var p participantPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warnw("bad participant payload", "error", err)
			return
		}
		if h != nil {
			h.OnParticipantJoined(&domain.Participant{
				ID:       p.ID,
				Name:     p.Name,
				IsLocal:  p.ID == c.cfg.ParticipantID,
				IsHost:   p.IsHost,
				MicOn:    p.MicOn,
				WebcamOn: p.WebcamOn,
			})
		}

	case msgPeerLeft:
		if h != nil && msg.ParticipantID != "" {
			h.OnParticipantLeft(msg.ParticipantID)
		}

	case msgMediaState:
		var p mediaStatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warnw("bad media state payload", "error", err)
			return
		}
		if h == nil {
			return
		}
		switch p.Kind {
		case domain.MediaKindMic:
			h.OnMicStateChanged(msg.ParticipantID, p.On)
		case domain.MediaKindWebcam:
			h.OnWebcamStateChanged(msg.ParticipantID, p.On)
		}
		if !p.On {
			// Off means the track is gone; on waits for the pion OnTrack.
			h.OnTrackChanged(msg.ParticipantID, p.Kind, nil)
		}

	case msgPresenter:
		var p presenterPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warnw("bad presenter payload", "error", err)
			return
		}
		if h != nil {
			h.OnPresenterChanged(p.ParticipantID)
		}

	case msgSpeaker:
		var p presenterPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if h != nil {
			h.OnActiveSpeakerChanged(p.ParticipantID)
		}

	case msgOffer:
		c.handleOffer(msg)

	case msgICE:
		c.handleRemoteICE(msg)

	case msgError:
		var p errorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			p.Message = "unknown backend error"
		}
		if h != nil {
			h.OnConnectionError(fmt.Errorf("backend error: %s", p.Message))
		}

	default:
		c.logger.Debugw("ignoring unknown signal message", "type", msg.Type)
	}
}

// handleOffer answers a media offer from the backend.
func (c *Client) handleOffer(msg signalMessage) {
	c.mu.Lock()
	pc := c.pc
	signal := c.signal
	c.mu.Unlock()
	if pc == nil || signal == nil {
		return
	}

	var p sdpPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.logger.Warnw("bad offer payload", "error", err)
		return
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	}); err != nil {
		c.logger.Warnw("failed to apply remote offer", "error", err)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		c.logger.Warnw("failed to create answer", "error", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		c.logger.Warnw("failed to set local description", "error", err)
		return
	}
	if err := signal.send(msgAnswer, sdpPayload{SDP: answer.SDP}); err != nil {
		c.logger.Warnw("failed to send answer", "error", err)
	}
}

func (c *Client) handleRemoteICE(msg signalMessage) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return
	}

	var p icePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.logger.Warnw("bad ICE payload", "error", err)
		return
	}
	if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: p.Candidate}); err != nil {
		c.logger.Warnw("failed to add ICE candidate", "error", err)
	}
}

// RequestKeyframe sends a PLI for the given SSRC so a surface attaching
// mid-stream gets a decodable picture promptly.
func (c *Client) RequestKeyframe(ssrc uint32) error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return domain.ErrNotConnected
	}
	return pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: ssrc},
	})
}

// signalClosed fires when a websocket dies from underneath us. The identity
// check makes the teardown of a replaced connection a no-op.
func (c *Client) signalClosed(s *signalClient, err error) {
	c.mu.Lock()
	if c.signal != s {
		c.mu.Unlock()
		return
	}
	wasJoined := c.joined
	c.joined = false
	c.signal = nil
	pc := c.pc
	c.pc = nil
	closed := c.closed
	c.mu.Unlock()

	if pc != nil {
		pc.Close()
	}
	if closed || err == nil {
		return
	}
	c.logger.Warnw("signal connection lost", "error", err, "was_joined", wasJoined)
	if h := c.currentHandler(); h != nil {
		h.OnConnectionError(fmt.Errorf("websocket connection lost: %w", err))
	}
}
