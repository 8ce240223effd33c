package ports

import (
	"context"

	"coachmeet/internal/core/domain"
)

type ConnectionService interface {
	// Join is idempotent while a join is in flight or already completed.
	Join(ctx context.Context) error
	// RetryJoin resets the join guard and attempt counter and performs
	// exactly one more attempt.
	RetryJoin(ctx context.Context) error
	Leave(ctx context.Context) error
	// ForceUnload synchronously clears shared presence state; called when the
	// host page is being torn down and no async work is guaranteed to run.
	ForceUnload()
	State() domain.ConnectionState
	Close()

	HandleJoined()
	HandleLeft()
	HandleConnectionError(err error)
}

type MediaService interface {
	ToggleMic(ctx context.Context) error
	ToggleWebcam(ctx context.Context) error
	MicOn() bool
	WebcamOn() bool
	// ResetToDefaults restores the session-default capability flags; invoked
	// only from the SDK left callback.
	ResetToDefaults()

	HandleMicStateChanged(on bool)
	HandleWebcamStateChanged(on bool)
}

type PresenterService interface {
	ToggleScreenShare(ctx context.Context) error
	PresenterID() (domain.ParticipantID, bool)
	// ShareError returns the current user-facing share failure message, if
	// any. Messages auto-clear.
	ShareError() (string, bool)
	Close()

	HandlePresenterChanged(id domain.ParticipantID)
}

type ChatService interface {
	Send(ctx context.Context, body string) error
	Messages() []*domain.ChatMessage
	UnreadCount() int
	SetPanelVisible(visible bool)
	Close()
}
