package ports

import (
	"context"

	"coachmeet/internal/core/domain"
)

// RealtimeHandler receives callbacks from the realtime SDK. Callbacks may
// arrive in any order relative to each other and to local calls; handlers
// must not block.
type RealtimeHandler interface {
	OnJoined()
	OnLeft()
	OnConnectionError(err error)

	OnParticipantJoined(p *domain.Participant)
	OnParticipantLeft(id domain.ParticipantID)

	// OnTrackChanged fires whenever a participant's stream reference for the
	// given kind changes identity. track is nil when the capability turned off.
	OnTrackChanged(id domain.ParticipantID, kind domain.MediaKind, track domain.MediaTrack)

	OnMicStateChanged(id domain.ParticipantID, on bool)
	OnWebcamStateChanged(id domain.ParticipantID, on bool)

	// OnPresenterChanged fires with the new presenter, or "" when nobody is
	// sharing. This is the only source of truth for presenter state.
	OnPresenterChanged(id domain.ParticipantID)

	OnActiveSpeakerChanged(id domain.ParticipantID)
}

// RealtimeSDK is the consumed realtime communication capability: join/leave,
// capability toggles and presenter election. Media track lifetimes belong to
// the SDK, never to callers.
type RealtimeSDK interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error

	SetMicEnabled(ctx context.Context, on bool) error
	SetWebcamEnabled(ctx context.Context, on bool) error
	SetScreenShareEnabled(ctx context.Context, on bool) error

	SetHandler(h RealtimeHandler)
	Close() error
}

// PublishOptions control broadcast delivery.
type PublishOptions struct {
	// Persist asks the channel to retain the message server-side. The chat
	// engine always publishes with Persist false and writes to the store
	// itself.
	Persist bool
}

// BroadcastChannel is the ephemeral pub/sub capability scoped to the active
// meeting. Delivery is at-least-once and unordered with respect to other
// channels; nothing is delivered before the local participant is connected.
type BroadcastChannel interface {
	Publish(ctx context.Context, payload []byte, opts PublishOptions) error
	// Subscribe registers fn for inbound payloads and returns an unsubscribe
	// function. fn is invoked from the channel's own goroutine.
	Subscribe(ctx context.Context, fn func(payload []byte)) (func(), error)
	Close() error
}

// ChatStore is the optional durable store for chat history. The chat engine
// degrades gracefully when it is nil.
type ChatStore interface {
	Append(ctx context.Context, msg *domain.ChatMessage) error
	Recent(ctx context.Context, meetingID domain.MeetingID, limit int) ([]*domain.ChatMessage, error)
	// Subscribe delivers newly inserted rows for the meeting, which may lag
	// the broadcast channel. Returns an unsubscribe function.
	Subscribe(ctx context.Context, meetingID domain.MeetingID, onInsert func(*domain.ChatMessage)) (func(), error)
	Close() error
}

// CaptureGrant is a short-lived test capture obtained purely to force the
// platform permission prompt. Release stops the grant's own tracks; it never
// touches SDK-owned tracks.
type CaptureGrant interface {
	Release()
}

// MediaPermissions is the platform permission capability. Failures are typed
// domain.PermissionError values distinguishing denial, lack of support,
// absence of a source, and user cancellation.
type MediaPermissions interface {
	RequestCapture(ctx context.Context, kind domain.MediaKind) (CaptureGrant, error)
	RequestDisplayCapture(ctx context.Context, withAudio bool) (CaptureGrant, error)
}

// RenderSurface is one render target for a bound track. The error handler
// must be attached before the source is assigned so no playback failure is
// lost. Clear drops the source reference only; the track keeps playing for
// other holders.
type RenderSurface interface {
	SetErrorHandler(fn func(error))
	SetSource(ctx context.Context, track domain.MediaTrack) error
	Clear()
	Close() error
}

// RenderSurfaceFactory builds a fresh surface per bind attempt.
type RenderSurfaceFactory interface {
	NewSurface(id domain.ParticipantID, kind domain.MediaKind) RenderSurface
}

// Notifier plays a best-effort notification sound. Errors are surfaced so a
// fallback can be layered on top; implementations must not panic.
type Notifier interface {
	Notify(ctx context.Context) error
}

// PresenceSetter records the session-scoped "in a meeting" flag. It is
// written on join success, on graceful leave, and synchronously on forced
// unload.
type PresenceSetter func(inMeeting bool)
