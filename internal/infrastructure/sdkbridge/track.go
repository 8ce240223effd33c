package sdkbridge

import (
	"strings"

	"coachmeet/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// remoteTrack adapts a pion remote track to the domain track handle. The
// underlying track stays owned by the peer connection.
type remoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	kind     domain.MediaKind
}

func newRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *remoteTrack {
	return &remoteTrack{
		track:    track,
		receiver: receiver,
		kind:     classifyTrack(track),
	}
}

func (t *remoteTrack) ID() string             { return t.track.ID() }
func (t *remoteTrack) Kind() domain.MediaKind { return t.kind }

// Remote exposes the pion track for the RTP render surface.
func (t *remoteTrack) Remote() *webrtc.TrackRemote { return t.track }

// classifyTrack maps a pion track to a media kind. The publisher encodes the
// kind into the MSID stream label ("<participant>:webcam" etc); audio tracks
// without a label default to mic.
func classifyTrack(track *webrtc.TrackRemote) domain.MediaKind {
	if kind, ok := kindFromLabel(track.StreamID()); ok {
		return kind
	}
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		return domain.MediaKindMic
	}
	return domain.MediaKindWebcam
}

func kindFromLabel(label string) (domain.MediaKind, bool) {
	if idx := strings.LastIndex(label, ":"); idx >= 0 {
		switch label[idx+1:] {
		case "mic":
			return domain.MediaKindMic, true
		case "webcam":
			return domain.MediaKindWebcam, true
		case "screenshare":
			return domain.MediaKindScreenShare, true
		}
	}
	return "", false
}

// participantFromTrack extracts the publishing participant from the MSID
// stream label. Empty when the label carries no participant prefix.
func participantFromTrack(track *webrtc.TrackRemote) domain.ParticipantID {
	return participantFromLabel(track.StreamID())
}

func participantFromLabel(label string) domain.ParticipantID {
	if idx := strings.LastIndex(label, ":"); idx > 0 {
		return domain.ParticipantID(label[:idx])
	}
	return ""
}
