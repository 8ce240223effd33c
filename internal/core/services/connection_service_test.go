package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeSDK is a scriptable realtime SDK shared by the service tests.
type fakeSDK struct {
	mu          sync.Mutex
	joinCalls   int
	leaveCalls  int
	micCalls    []bool
	webcamCalls []bool
	shareCalls  []bool

	joinErr  error
	leaveErr error
	micErr   error
	shareErr error
	// shareErrOnce fails only the first share call; the retry succeeds.
	shareErrOnce bool
}

func (f *fakeSDK) Join(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	return f.joinErr
}

func (f *fakeSDK) Leave(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	return f.leaveErr
}

func (f *fakeSDK) SetMicEnabled(ctx context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micCalls = append(f.micCalls, on)
	return f.micErr
}

func (f *fakeSDK) SetWebcamEnabled(ctx context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webcamCalls = append(f.webcamCalls, on)
	return nil
}

func (f *fakeSDK) SetScreenShareEnabled(ctx context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shareCalls = append(f.shareCalls, on)
	err := f.shareErr
	if f.shareErrOnce {
		f.shareErr = nil
	}
	return err
}

func (f *fakeSDK) SetHandler(h ports.RealtimeHandler) {}
func (f *fakeSDK) Close() error                       { return nil }

func (f *fakeSDK) JoinCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joinCalls
}

func (f *fakeSDK) SetJoinErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinErr = err
}

func (f *fakeSDK) MicCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.micCalls))
	copy(out, f.micCalls)
	return out
}

func (f *fakeSDK) ShareCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.shareCalls))
	copy(out, f.shareCalls)
	return out
}

// presenceRecorder captures presence flag writes in order.
type presenceRecorder struct {
	mu     sync.Mutex
	values []bool
}

func (p *presenceRecorder) set(in bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, in)
}

func (p *presenceRecorder) last() (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.values) == 0 {
		return false, false
	}
	return p.values[len(p.values)-1], true
}

func testConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		JoinTimeout:     100 * time.Millisecond,
		DeferDelay:      5 * time.Millisecond,
		MaxRetries:      2,
		RetryDelay:      10 * time.Millisecond,
		ErrorRetryDelay: 10 * time.Millisecond,
		ReconnectDelay:  10 * time.Millisecond,
	}
}

func newTestConnection(t *testing.T, sdk *fakeSDK, presence *presenceRecorder, onEnd func()) ports.ConnectionService {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	var setPresence ports.PresenceSetter
	if presence != nil {
		setPresence = presence.set
	}
	media := NewMediaService(sdk, grantAllPermissions{}, NewMetricsService(), alwaysConnected, DefaultMediaConfig(), logger)
	svc := NewConnectionService(sdk, media, NewMetricsService(), setPresence, onEnd,
		testConnectionConfig(), "meeting-1", "local-1", logger)
	t.Cleanup(svc.Close)
	return svc
}

// grantAllPermissions approves every capture request.
type grantAllPermissions struct{}

func (grantAllPermissions) RequestCapture(ctx context.Context, kind domain.MediaKind) (ports.CaptureGrant, error) {
	return nopGrant{}, nil
}

func (grantAllPermissions) RequestDisplayCapture(ctx context.Context, withAudio bool) (ports.CaptureGrant, error) {
	return nopGrant{}, nil
}

type nopGrant struct{}

func (nopGrant) Release() {}

func TestConnectionService_JoinIsIdempotent(t *testing.T) {
	sdk := &fakeSDK{}
	svc := newTestConnection(t, sdk, nil, nil)

	require.NoError(t, svc.Join(context.Background()))
	require.NoError(t, svc.Join(context.Background()))
	require.NoError(t, svc.Join(context.Background()))

	assert.Equal(t, domain.ConnectionConnecting, svc.State())
	require.Eventually(t, func() bool {
		return sdk.JoinCalls() == 1
	}, time.Second, 5*time.Millisecond)

	// The extra Join calls never reach the SDK.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sdk.JoinCalls())
}

func TestConnectionService_ConnectsOnJoinedCallback(t *testing.T) {
	sdk := &fakeSDK{}
	presence := &presenceRecorder{}
	svc := newTestConnection(t, sdk, presence, nil)

	require.NoError(t, svc.Join(context.Background()))
	require.Eventually(t, func() bool {
		return sdk.JoinCalls() == 1
	}, time.Second, 5*time.Millisecond)

	// A successful SDK call alone is not success.
	assert.Equal(t, domain.ConnectionConnecting, svc.State())

	svc.HandleJoined()
	assert.Equal(t, domain.ConnectionConnected, svc.State())
	last, ok := presence.last()
	require.True(t, ok)
	assert.True(t, last)
}

func TestConnectionService_RetriesThenFails(t *testing.T) {
	sdk := &fakeSDK{joinErr: errors.New("signal unreachable")}
	svc := newTestConnection(t, sdk, nil, nil)

	require.NoError(t, svc.Join(context.Background()))
	require.Eventually(t, func() bool {
		return svc.State() == domain.ConnectionFailed
	}, time.Second, 5*time.Millisecond)

	// Initial attempt plus two automatic retries.
	assert.Equal(t, 3, sdk.JoinCalls())
}

func TestConnectionService_ManualRetryAfterFailure(t *testing.T) {
	sdk := &fakeSDK{joinErr: errors.New("signal unreachable")}
	svc := newTestConnection(t, sdk, nil, nil)

	require.NoError(t, svc.Join(context.Background()))
	require.Eventually(t, func() bool {
		return svc.State() == domain.ConnectionFailed
	}, time.Second, 5*time.Millisecond)

	sdk.SetJoinErr(nil)
	require.NoError(t, svc.RetryJoin(context.Background()))
	assert.Equal(t, domain.ConnectionConnecting, svc.State())

	svc.HandleJoined()
	assert.Equal(t, domain.ConnectionConnected, svc.State())
}

func TestConnectionService_ManualRetryFailureStaysFailed(t *testing.T) {
	sdk := &fakeSDK{joinErr: errors.New("signal unreachable")}
	svc := newTestConnection(t, sdk, nil, nil)

	require.NoError(t, svc.Join(context.Background()))
	require.Eventually(t, func() bool {
		return svc.State() == domain.ConnectionFailed
	}, time.Second, 5*time.Millisecond)
	calls := sdk.JoinCalls()

	err := svc.RetryJoin(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ConnectionFailed, svc.State())
	// Exactly one extra attempt, no automatic retries after a manual one.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls+1, sdk.JoinCalls())
}

func TestConnectionService_ReconnectsOnNetworkError(t *testing.T) {
	sdk := &fakeSDK{}
	svc := newTestConnection(t, sdk, nil, nil)

	require.NoError(t, svc.Join(context.Background()))
	require.Eventually(t, func() bool {
		return sdk.JoinCalls() == 1
	}, time.Second, 5*time.Millisecond)
	svc.HandleJoined()

	svc.HandleConnectionError(errors.New("websocket connection lost"))
	assert.Equal(t, domain.ConnectionReconnecting, svc.State())

	require.Eventually(t, func() bool {
		return sdk.JoinCalls() == 2
	}, time.Second, 5*time.Millisecond)

	svc.HandleJoined()
	assert.Equal(t, domain.ConnectionConnected, svc.State())
}

func TestConnectionService_NonNetworkErrorDoesNotReconnect(t *testing.T) {
	sdk := &fakeSDK{}
	svc := newTestConnection(t, sdk, nil, nil)

	require.NoError(t, svc.Join(context.Background()))
	require.Eventually(t, func() bool {
		return sdk.JoinCalls() == 1
	}, time.Second, 5*time.Millisecond)
	svc.HandleJoined()

	svc.HandleConnectionError(errors.New("token revoked by host"))
	assert.Equal(t, domain.ConnectionConnected, svc.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sdk.JoinCalls())
}

func TestConnectionService_JoinedCancelsPendingReconnect(t *testing.T) {
	sdk := &fakeSDK{}
	svc := newTestConnection(t, sdk, nil, nil)

	require.NoError(t, svc.Join(context.Background()))
	require.Eventually(t, func() bool {
		return sdk.JoinCalls() == 1
	}, time.Second, 5*time.Millisecond)
	svc.HandleJoined()

	svc.HandleConnectionError(errors.New("connection reset by peer"))
	require.Equal(t, domain.ConnectionReconnecting, svc.State())

	// The joined event lands before the reconnect timer fires.
	svc.HandleJoined()
	assert.Equal(t, domain.ConnectionConnected, svc.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sdk.JoinCalls())
}

func TestConnectionService_GracefulLeave(t *testing.T) {
	sdk := &fakeSDK{}
	presence := &presenceRecorder{}
	var ended sync.WaitGroup
	ended.Add(1)
	svc := newTestConnection(t, sdk, presence, ended.Done)

	require.NoError(t, svc.Join(context.Background()))
	require.Eventually(t, func() bool {
		return sdk.JoinCalls() == 1
	}, time.Second, 5*time.Millisecond)
	svc.HandleJoined()

	require.NoError(t, svc.Leave(context.Background()))
	// Leave success is signaled only by the left callback.
	assert.Equal(t, domain.ConnectionConnected, svc.State())

	svc.HandleLeft()
	ended.Wait()
	assert.Equal(t, domain.ConnectionIdle, svc.State())
	last, ok := presence.last()
	require.True(t, ok)
	assert.False(t, last)

	// The join guard resets; a fresh join is possible.
	require.NoError(t, svc.Join(context.Background()))
	require.Eventually(t, func() bool {
		return sdk.JoinCalls() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestConnectionService_LeaveErrorFallsBackToEnd(t *testing.T) {
	sdk := &fakeSDK{leaveErr: errors.New("already closed")}
	presence := &presenceRecorder{}
	endCalls := 0
	svc := newTestConnection(t, sdk, presence, func() { endCalls++ })

	require.NoError(t, svc.Join(context.Background()))
	svc.HandleJoined()

	require.Error(t, svc.Leave(context.Background()))
	assert.Equal(t, 1, endCalls)
	last, ok := presence.last()
	require.True(t, ok)
	assert.False(t, last)

	// A late left callback must not fire the end callback twice.
	svc.HandleLeft()
	assert.Equal(t, 1, endCalls)
}

func TestConnectionService_ForceUnloadClearsPresence(t *testing.T) {
	sdk := &fakeSDK{}
	presence := &presenceRecorder{}
	svc := newTestConnection(t, sdk, presence, nil)

	require.NoError(t, svc.Join(context.Background()))
	svc.HandleJoined()

	svc.ForceUnload()
	last, ok := presence.last()
	require.True(t, ok)
	assert.False(t, last)
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"websocket", errors.New("websocket connection lost"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"auth", errors.New("token rejected"), false},
		{"validation", errors.New("bad meeting id"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNetworkError(tt.err))
		})
	}
}

func TestConnectionService_ManualRetryIgnoredWhileConnected(t *testing.T) {
	sdk := &fakeSDK{}
	svc := newTestConnection(t, sdk, nil, nil)

	require.NoError(t, svc.Join(context.Background()))
	require.Eventually(t, func() bool {
		return sdk.JoinCalls() == 1
	}, time.Second, 5*time.Millisecond)
	svc.HandleJoined()
	require.Equal(t, domain.ConnectionConnected, svc.State())

	// A stale retry affordance clicked on a live session must not touch the
	// SDK or the state machine.
	require.NoError(t, svc.RetryJoin(context.Background()))
	assert.Equal(t, domain.ConnectionConnected, svc.State())
	assert.Equal(t, 1, sdk.JoinCalls())
}

func TestConnectionService_ManualRetryIgnoredWhileIdle(t *testing.T) {
	sdk := &fakeSDK{}
	svc := newTestConnection(t, sdk, nil, nil)

	require.NoError(t, svc.RetryJoin(context.Background()))
	assert.Equal(t, domain.ConnectionIdle, svc.State())
	assert.Zero(t, sdk.JoinCalls())
}
