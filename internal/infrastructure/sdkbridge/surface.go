package sdkbridge

import (
	"context"
	"fmt"
	"sync"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// PacketSink receives decoded RTP packets from a render surface. The UI
// shell supplies a real renderer; tests and headless runs use a discard
// sink.
type PacketSink interface {
	WritePacket(id domain.ParticipantID, kind domain.MediaKind, packet *rtp.Packet) error
}

// PacketSinkFunc adapts a function to a PacketSink.
type PacketSinkFunc func(id domain.ParticipantID, kind domain.MediaKind, packet *rtp.Packet) error

func (f PacketSinkFunc) WritePacket(id domain.ParticipantID, kind domain.MediaKind, packet *rtp.Packet) error {
	return f(id, kind, packet)
}

// DiscardSink drains packets without rendering them.
var DiscardSink = PacketSinkFunc(func(domain.ParticipantID, domain.MediaKind, *rtp.Packet) error {
	return nil
})

// KeyframeRequester asks the sender for a fresh keyframe, so a surface that
// attaches mid-stream does not show a corrupt picture until the next natural
// keyframe.
type KeyframeRequester interface {
	RequestKeyframe(ssrc uint32) error
}

// SurfaceFactory builds RTP render surfaces backed by a shared packet sink.
type SurfaceFactory struct {
	sink      PacketSink
	keyframes KeyframeRequester
	logger    *zap.SugaredLogger
}

func NewSurfaceFactory(sink PacketSink, keyframes KeyframeRequester, logger *zap.SugaredLogger) *SurfaceFactory {
	if sink == nil {
		sink = DiscardSink
	}
	return &SurfaceFactory{sink: sink, keyframes: keyframes, logger: logger}
}

func (f *SurfaceFactory) NewSurface(id domain.ParticipantID, kind domain.MediaKind) ports.RenderSurface {
	return &rtpSurface{
		participantID: id,
		kind:          kind,
		sink:          f.sink,
		keyframes:     f.keyframes,
		logger:        f.logger,
	}
}

// rtpSurface pumps RTP packets from one remote track into the sink. Clear
// drops the surface's reference to the track and stops the pump; the track
// itself keeps flowing for any other consumer.
type rtpSurface struct {
	participantID domain.ParticipantID
	kind          domain.MediaKind
	sink          PacketSink
	keyframes     KeyframeRequester
	logger        *zap.SugaredLogger

	mu      sync.Mutex
	onError func(error)
	cancel  context.CancelFunc
	closed  bool
}

func (s *rtpSurface) SetErrorHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

func (s *rtpSurface) SetSource(ctx context.Context, track domain.MediaTrack) error {
	remote, ok := track.(*remoteTrack)
	if !ok {
		return fmt.Errorf("unsupported track type %T", track)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("surface closed")
	}
	if s.cancel != nil {
		s.cancel()
	}
	pumpCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	onError := s.onError
	s.mu.Unlock()

	if s.keyframes != nil && s.kind != domain.MediaKindMic {
		if err := s.keyframes.RequestKeyframe(uint32(remote.Remote().SSRC())); err != nil {
			s.logger.Debugw("keyframe request failed",
				"participant_id", s.participantID,
				"error", err,
			)
		}
	}

	go s.pump(pumpCtx, remote, onError)
	return nil
}

func (s *rtpSurface) pump(ctx context.Context, remote *remoteTrack, onError func(error)) {
	buffer := make([]byte, 1500)
	packet := &rtp.Packet{}

	for {
		if ctx.Err() != nil {
			return
		}
		n, _, err := remote.Remote().Read(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debugw("track read failed",
				"participant_id", s.participantID,
				"kind", s.kind,
				"error", err,
			)
			if onError != nil {
				onError(err)
			}
			return
		}
		if err := packet.Unmarshal(buffer[:n]); err != nil {
			s.logger.Debugw("bad RTP packet",
				"participant_id", s.participantID,
				"error", err,
			)
			continue
		}
		if err := s.sink.WritePacket(s.participantID, s.kind, packet); err != nil {
			if ctx.Err() != nil {
				return
			}
			if onError != nil {
				onError(err)
			}
			return
		}
	}
}

func (s *rtpSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *rtpSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}
