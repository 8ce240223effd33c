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

// displayPermissions scripts the display capture outcomes, including the
// audio-then-video-only fallback path.
type displayPermissions struct {
	mu             sync.Mutex
	withAudioErr   error
	videoOnlyErr   error
	withAudioCalls int
	videoOnlyCalls int
}

func (d *displayPermissions) RequestCapture(ctx context.Context, kind domain.MediaKind) (ports.CaptureGrant, error) {
	return nopGrant{}, nil
}

func (d *displayPermissions) RequestDisplayCapture(ctx context.Context, withAudio bool) (ports.CaptureGrant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if withAudio {
		d.withAudioCalls++
		if d.withAudioErr != nil {
			return nil, d.withAudioErr
		}
		return nopGrant{}, nil
	}
	d.videoOnlyCalls++
	if d.videoOnlyErr != nil {
		return nil, d.videoOnlyErr
	}
	return nopGrant{}, nil
}

func testShareConfig() ScreenShareConfig {
	return ScreenShareConfig{
		ErrorClearDelay: 80 * time.Millisecond,
		DeniedHintDelay: 30 * time.Millisecond,
	}
}

func newTestPresenter(t *testing.T, sdk *fakeSDK, perms ports.MediaPermissions) ports.PresenterService {
	t.Helper()
	if perms == nil {
		perms = grantAllPermissions{}
	}
	svc := NewPresenterService(sdk, perms, NewMetricsService(), testShareConfig(), "local-1", zaptest.NewLogger(t).Sugar())
	t.Cleanup(svc.Close)
	return svc
}

func TestPresenterService_StartRequestsShare(t *testing.T) {
	sdk := &fakeSDK{}
	svc := newTestPresenter(t, sdk, nil)

	require.NoError(t, svc.ToggleScreenShare(context.Background()))
	assert.Equal(t, []bool{true}, sdk.ShareCalls())

	// Presenter state changes only via the SDK event.
	_, sharing := svc.PresenterID()
	assert.False(t, sharing)

	svc.HandlePresenterChanged("local-1")
	id, sharing := svc.PresenterID()
	assert.True(t, sharing)
	assert.Equal(t, domain.ParticipantID("local-1"), id)
}

func TestPresenterService_ToggleWhilePresentingStops(t *testing.T) {
	sdk := &fakeSDK{}
	svc := newTestPresenter(t, sdk, nil)

	svc.HandlePresenterChanged("local-1")
	require.NoError(t, svc.ToggleScreenShare(context.Background()))
	assert.Equal(t, []bool{false}, sdk.ShareCalls())

	svc.HandlePresenterChanged("")
	_, sharing := svc.PresenterID()
	assert.False(t, sharing)
}

func TestPresenterService_RemotePresenterPreempts(t *testing.T) {
	sdk := &fakeSDK{}
	svc := newTestPresenter(t, sdk, nil)

	svc.HandlePresenterChanged("local-1")
	// The backend elects someone else; no local error, just the new state.
	svc.HandlePresenterChanged("remote-2")

	id, sharing := svc.PresenterID()
	assert.True(t, sharing)
	assert.Equal(t, domain.ParticipantID("remote-2"), id)
	_, hasErr := svc.ShareError()
	assert.False(t, hasErr)
}

func TestPresenterService_CancelledShareHasNoFallback(t *testing.T) {
	sdk := &fakeSDK{shareErr: &domain.PermissionError{
		Kind:  domain.PermissionCancelled,
		Media: domain.MediaKindScreenShare,
	}}
	perms := &displayPermissions{}
	svc := newTestPresenter(t, sdk, perms)

	err := svc.ToggleScreenShare(context.Background())
	require.Error(t, err)

	// Cancellation is user intent: no manual grant attempt.
	assert.Zero(t, perms.withAudioCalls)
	assert.Zero(t, perms.videoOnlyCalls)

	msg, ok := svc.ShareError()
	require.True(t, ok)
	assert.Equal(t, "Screen share was cancelled.", msg)
}

func TestPresenterService_FallbackRetriesAfterManualGrant(t *testing.T) {
	sdk := &fakeSDK{
		shareErr:     errors.New("no permission yet"),
		shareErrOnce: true,
	}
	perms := &displayPermissions{}
	svc := newTestPresenter(t, sdk, perms)

	require.NoError(t, svc.ToggleScreenShare(context.Background()))
	// Primary failed, manual grant forced the prompt, retry succeeded.
	assert.Equal(t, []bool{true, true}, sdk.ShareCalls())
	assert.Equal(t, 1, perms.withAudioCalls)
	_, hasErr := svc.ShareError()
	assert.False(t, hasErr)
}

func TestPresenterService_FallbackDropsAudioWhenRefused(t *testing.T) {
	sdk := &fakeSDK{
		shareErr:     errors.New("no permission yet"),
		shareErrOnce: true,
	}
	perms := &displayPermissions{
		withAudioErr: &domain.PermissionError{
			Kind:  domain.PermissionUnsupported,
			Media: domain.MediaKindScreenShare,
		},
	}
	svc := newTestPresenter(t, sdk, perms)

	require.NoError(t, svc.ToggleScreenShare(context.Background()))
	assert.Equal(t, 1, perms.withAudioCalls)
	assert.Equal(t, 1, perms.videoOnlyCalls)
	assert.Equal(t, []bool{true, true}, sdk.ShareCalls())
}

func TestPresenterService_DeniedShowsHintThenClears(t *testing.T) {
	sdk := &fakeSDK{shareErr: &domain.PermissionError{
		Kind:  domain.PermissionDenied,
		Media: domain.MediaKindScreenShare,
	}}
	perms := &displayPermissions{
		withAudioErr: &domain.PermissionError{Kind: domain.PermissionDenied, Media: domain.MediaKindScreenShare},
		videoOnlyErr: &domain.PermissionError{Kind: domain.PermissionDenied, Media: domain.MediaKindScreenShare},
	}
	svc := newTestPresenter(t, sdk, perms)

	require.Error(t, svc.ToggleScreenShare(context.Background()))

	msg, ok := svc.ShareError()
	require.True(t, ok)
	assert.Equal(t, "Screen share permission was denied.", msg)

	// After the hint delay the banner upgrades to actionable guidance.
	require.Eventually(t, func() bool {
		m, ok := svc.ShareError()
		return ok && m != msg
	}, time.Second, 5*time.Millisecond)
	hint, ok := svc.ShareError()
	require.True(t, ok)
	assert.Contains(t, hint, "site settings")

	// The banner then auto-clears.
	require.Eventually(t, func() bool {
		_, ok := svc.ShareError()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestPresenterService_ErrorBannerAutoClears(t *testing.T) {
	sdk := &fakeSDK{shareErr: &domain.PermissionError{
		Kind:  domain.PermissionNoSource,
		Media: domain.MediaKindScreenShare,
	}}
	perms := &displayPermissions{
		withAudioErr: &domain.PermissionError{Kind: domain.PermissionNoSource, Media: domain.MediaKindScreenShare},
		videoOnlyErr: &domain.PermissionError{Kind: domain.PermissionNoSource, Media: domain.MediaKindScreenShare},
	}
	svc := newTestPresenter(t, sdk, perms)

	require.Error(t, svc.ToggleScreenShare(context.Background()))
	msg, ok := svc.ShareError()
	require.True(t, ok)
	assert.Equal(t, "No screen was available to share.", msg)

	require.Eventually(t, func() bool {
		_, ok := svc.ShareError()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestPresenterService_NewToggleClearsStaleBanner(t *testing.T) {
	sdk := &fakeSDK{
		shareErr:     &domain.PermissionError{Kind: domain.PermissionNoSource, Media: domain.MediaKindScreenShare},
		shareErrOnce: true,
	}
	svc := newTestPresenter(t, sdk, &displayPermissions{
		withAudioErr: &domain.PermissionError{Kind: domain.PermissionNoSource, Media: domain.MediaKindScreenShare},
		videoOnlyErr: &domain.PermissionError{Kind: domain.PermissionNoSource, Media: domain.MediaKindScreenShare},
	})

	require.Error(t, svc.ToggleScreenShare(context.Background()))
	_, ok := svc.ShareError()
	require.True(t, ok)

	// The next attempt wipes the old banner before doing anything else.
	require.NoError(t, svc.ToggleScreenShare(context.Background()))
	_, ok = svc.ShareError()
	assert.False(t, ok)
}
