package services

import (
	"context"
	"sync"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"

	"go.uber.org/zap"
)

// ScreenShareConfig holds the share failure banner policy.
type ScreenShareConfig struct {
	ErrorClearDelay time.Duration
	DeniedHintDelay time.Duration
}

// DefaultScreenShareConfig returns the screen share defaults.
func DefaultScreenShareConfig() ScreenShareConfig {
	return ScreenShareConfig{
		ErrorClearDelay: 5 * time.Second,
		DeniedHintDelay: 3 * time.Second,
	}
}

var shareErrorMessages = map[domain.PermissionErrorKind]string{
	domain.PermissionDenied:       "Screen share permission was denied.",
	domain.PermissionUnsupported:  "Screen sharing is not supported here.",
	domain.PermissionNoSource:     "No screen was available to share.",
	domain.PermissionCancelled:    "Screen share was cancelled.",
	domain.PermissionInvalidState: "Could not start screen share. Please try again.",
}

const deniedShareHint = "Screen share permission was denied. Check your browser's site settings and allow screen capture, then try again."

type presenterService struct {
	sdk     ports.RealtimeSDK
	perms   ports.MediaPermissions
	metrics *MetricsService
	cfg     ScreenShareConfig
	localID domain.ParticipantID

	mu          sync.Mutex
	presenterID domain.ParticipantID
	shareErr    string
	clearTimer  *time.Timer
	hintTimer   *time.Timer

	logger *zap.SugaredLogger
}

// NewPresenterService creates the screen-share arbitrator.
func NewPresenterService(
	sdk ports.RealtimeSDK,
	perms ports.MediaPermissions,
	metrics *MetricsService,
	cfg ScreenShareConfig,
	localID domain.ParticipantID,
	logger *zap.SugaredLogger,
) ports.PresenterService {
	return &presenterService{
		sdk:     sdk,
		perms:   perms,
		metrics: metrics,
		cfg:     cfg,
		localID: localID,
		logger:  logger,
	}
}

// PresenterID returns the current presenter, if anyone is sharing. The UI
// layout (main view + thumbnail strip) derives from this; it is never stored
// separately.
func (s *presenterService) PresenterID() (domain.ParticipantID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presenterID, s.presenterID != ""
}

func (s *presenterService) ShareError() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shareErr, s.shareErr != ""
}

// ToggleScreenShare requests a share start or stop. Presenter state is never
// set here; it changes only when the SDK presenter-change event arrives. The
// only local state change before confirmation is clearing any previous error
// banner.
func (s *presenterService) ToggleScreenShare(ctx context.Context) error {
	s.mu.Lock()
	starting := s.presenterID != s.localID
	s.shareErr = ""
	s.stopBannerTimersLocked()
	s.mu.Unlock()

	if !starting {
		if err := s.sdk.SetScreenShareEnabled(ctx, false); err != nil {
			s.logger.Warnw("screen share stop failed", "error", err)
			s.surfaceFailure(err)
			return err
		}
		return nil
	}

	err := s.sdk.SetScreenShareEnabled(ctx, true)
	if err == nil {
		return nil
	}

	// Cancellation is user intent, not a recoverable failure: no fallback.
	if domain.PermissionKind(err) == domain.PermissionCancelled {
		s.surfaceFailure(err)
		return err
	}

	s.logger.Warnw("primary screen share path failed, trying manual grant",
		"error", err,
	)
	if ferr := s.manualGrantAndRetry(ctx); ferr != nil {
		s.surfaceFailure(ferr)
		return ferr
	}
	return nil
}

// manualGrantAndRetry forces the display-capture permission prompt manually,
// then retries the SDK toggle once permission is known to be granted. Audio
// capture is attempted first and dropped if the platform rejects it.
func (s *presenterService) manualGrantAndRetry(ctx context.Context) error {
	grant, err := s.perms.RequestDisplayCapture(ctx, true)
	if err != nil {
		grant, err = s.perms.RequestDisplayCapture(ctx, false)
	}
	if err != nil {
		return err
	}
	// The manual grant's only purpose is the prompt.
	grant.Release()

	return s.sdk.SetScreenShareEnabled(ctx, true)
}

func (s *presenterService) surfaceFailure(err error) {
	kind := domain.PermissionKind(err)
	msg, ok := shareErrorMessages[kind]
	if !ok {
		msg = shareErrorMessages[domain.PermissionInvalidState]
	}
	s.metrics.IncToggleFailure(domain.MediaKindScreenShare)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.shareErr = msg
	s.stopBannerTimersLocked()
	s.clearTimer = time.AfterFunc(s.cfg.ErrorClearDelay, s.clearBanner)
	if kind == domain.PermissionDenied {
		s.hintTimer = time.AfterFunc(s.cfg.DeniedHintDelay, s.showDeniedHint)
	}
}

func (s *presenterService) showDeniedHint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shareErr == "" {
		return
	}
	s.shareErr = deniedShareHint
	if s.clearTimer != nil {
		s.clearTimer.Stop()
	}
	s.clearTimer = time.AfterFunc(s.cfg.ErrorClearDelay, s.clearBanner)
}

func (s *presenterService) clearBanner() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shareErr = ""
}

// HandlePresenterChanged applies the SDK presenter election result. At most
// one presenter exists at a time; id is empty when nobody is sharing.
func (s *presenterService) HandlePresenterChanged(id domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presenterID = id
}

func (s *presenterService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopBannerTimersLocked()
}

func (s *presenterService) stopBannerTimersLocked() {
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
	if s.hintTimer != nil {
		s.hintTimer.Stop()
		s.hintTimer = nil
	}
}
