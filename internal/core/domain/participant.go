package domain

import "time"

type MeetingID string
type ParticipantID string

// MediaKind identifies which capability a track carries.
type MediaKind string

const (
	MediaKindMic         MediaKind = "mic"
	MediaKindWebcam      MediaKind = "webcam"
	MediaKindScreenShare MediaKind = "screenshare"
)

// MediaTrack is a handle to a live media track. The track's lifetime is
// owned by the realtime SDK; holders only ever drop their reference.
type MediaTrack interface {
	ID() string
	Kind() MediaKind
}

// Participant is one member of a meeting. Capability flags mirror the
// SDK-reported values; the SDK is the server of truth for them.
type Participant struct {
	ID       ParticipantID
	Name     string
	IsLocal  bool
	IsHost   bool
	MicOn    bool
	WebcamOn bool

	MicStream         MediaTrack
	WebcamStream      MediaTrack
	ScreenShareStream MediaTrack

	JoinedAt time.Time
}

// SameTrack reports whether two track handles refer to the same underlying
// stream. Identity, not equality: a nil-to-nil comparison is true, and two
// distinct handles with the same ID are still the same stream.
func SameTrack(a, b MediaTrack) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}
