package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyJoined        = errors.New("join already in progress or completed")
	ErrNotConnected         = errors.New("not connected to meeting")
	ErrJoinTimeout          = errors.New("timed out waiting for join confirmation")
	ErrJoinFailed           = errors.New("join failed after retries")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrInvalidToken         = errors.New("invalid meeting token")
	ErrExpiredToken         = errors.New("meeting token expired")
	ErrTokenMeetingMismatch = errors.New("token issued for a different meeting")
	ErrChatRateLimited      = errors.New("chat send rate limit exceeded")
	ErrBindFailed           = errors.New("track bind failed after retries")
)

// PermissionErrorKind classifies platform capture failures. The kinds map
// onto the typed rejections the permission API can produce.
type PermissionErrorKind string

const (
	PermissionDenied       PermissionErrorKind = "denied"
	PermissionUnsupported  PermissionErrorKind = "unsupported"
	PermissionNoSource     PermissionErrorKind = "no_source"
	PermissionCancelled    PermissionErrorKind = "cancelled"
	PermissionInvalidState PermissionErrorKind = "invalid_state"
)

// PermissionError is a typed capture failure from the platform permission
// API. Permission failures are never retried automatically.
type PermissionError struct {
	Kind  PermissionErrorKind
	Media MediaKind
	Cause error
}

func (e *PermissionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("permission %s for %s: %v", e.Kind, e.Media, e.Cause)
	}
	return fmt.Sprintf("permission %s for %s", e.Kind, e.Media)
}

func (e *PermissionError) Unwrap() error {
	return e.Cause
}

// AsPermissionError extracts a PermissionError from an error chain.
func AsPermissionError(err error) (*PermissionError, bool) {
	var pe *PermissionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// PermissionKind returns the classified kind of err, or InvalidState when
// the error is not a typed permission failure.
func PermissionKind(err error) PermissionErrorKind {
	if pe, ok := AsPermissionError(err); ok {
		return pe.Kind
	}
	return PermissionInvalidState
}
