package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTrack struct {
	id   string
	kind MediaKind
}

func (t *testTrack) ID() string      { return t.id }
func (t *testTrack) Kind() MediaKind { return t.kind }

func TestSameTrack(t *testing.T) {
	a := &testTrack{id: "t1", kind: MediaKindWebcam}
	sameID := &testTrack{id: "t1", kind: MediaKindWebcam}
	other := &testTrack{id: "t2", kind: MediaKindWebcam}

	assert.True(t, SameTrack(nil, nil))
	assert.True(t, SameTrack(a, a))
	assert.True(t, SameTrack(a, sameID))
	assert.False(t, SameTrack(a, other))
	assert.False(t, SameTrack(a, nil))
	assert.False(t, SameTrack(nil, a))
}

func TestChatMessage_IsDuplicateOf(t *testing.T) {
	base := time.Now()
	m := &ChatMessage{SenderName: "Pat", Body: "hello", CreatedAt: base}

	dup := &ChatMessage{SenderName: "Pat", Body: "hello", CreatedAt: base.Add(time.Second)}
	assert.True(t, m.IsDuplicateOf(dup, 2*time.Second))
	// Symmetric in either arrival order.
	assert.True(t, dup.IsDuplicateOf(m, 2*time.Second))

	outside := &ChatMessage{SenderName: "Pat", Body: "hello", CreatedAt: base.Add(3 * time.Second)}
	assert.False(t, m.IsDuplicateOf(outside, 2*time.Second))

	differentBody := &ChatMessage{SenderName: "Pat", Body: "hello!", CreatedAt: base}
	assert.False(t, m.IsDuplicateOf(differentBody, 2*time.Second))

	differentSender := &ChatMessage{SenderName: "Sam", Body: "hello", CreatedAt: base}
	assert.False(t, m.IsDuplicateOf(differentSender, 2*time.Second))
}

func TestPermissionError(t *testing.T) {
	cause := errors.New("NotAllowedError")
	err := fmt.Errorf("toggle mic: %w", &PermissionError{
		Kind:  PermissionDenied,
		Media: MediaKindMic,
		Cause: cause,
	})

	pe, ok := AsPermissionError(err)
	require.True(t, ok)
	assert.Equal(t, PermissionDenied, pe.Kind)
	assert.Equal(t, MediaKindMic, pe.Media)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, PermissionDenied, PermissionKind(err))
	assert.Equal(t, PermissionInvalidState, PermissionKind(errors.New("plain")))
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "idle", ConnectionIdle.String())
	assert.Equal(t, "connecting", ConnectionConnecting.String())
	assert.Equal(t, "connected", ConnectionConnected.String())
	assert.Equal(t, "reconnecting", ConnectionReconnecting.String())
	assert.Equal(t, "failed", ConnectionFailed.String())
}
