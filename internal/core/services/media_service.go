package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"

	"go.uber.org/zap"
)

// MediaConfig holds local capability toggle policy.
type MediaConfig struct {
	// SettleDelay separates releasing the permission test grant from the SDK
	// toggle, so the toggle does not race the permission subsystem.
	SettleDelay     time.Duration
	DefaultMicOn    bool
	DefaultWebcamOn bool
}

// DefaultMediaConfig returns the media toggle defaults.
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		SettleDelay:     100 * time.Millisecond,
		DefaultMicOn:    false,
		DefaultWebcamOn: false,
	}
}

type mediaService struct {
	sdk       ports.RealtimeSDK
	perms     ports.MediaPermissions
	metrics   *MetricsService
	connected func() bool
	cfg       MediaConfig

	mu         sync.Mutex
	micOn      bool
	webcamOn   bool
	micBusy    bool
	webcamBusy bool

	logger *zap.SugaredLogger
}

// NewMediaService creates the device permission gate + capability toggle
// service. connected reports whether the session is live; a nil probe
// disables the guard.
func NewMediaService(
	sdk ports.RealtimeSDK,
	perms ports.MediaPermissions,
	metrics *MetricsService,
	connected func() bool,
	cfg MediaConfig,
	logger *zap.SugaredLogger,
) ports.MediaService {
	return &mediaService{
		sdk:       sdk,
		perms:     perms,
		metrics:   metrics,
		connected: connected,
		cfg:       cfg,
		micOn:     cfg.DefaultMicOn,
		webcamOn:  cfg.DefaultWebcamOn,
		logger:    logger,
	}
}

func (s *mediaService) MicOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micOn
}

func (s *mediaService) WebcamOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webcamOn
}

func (s *mediaService) ToggleMic(ctx context.Context) error {
	return s.toggle(ctx, domain.MediaKindMic)
}

func (s *mediaService) ToggleWebcam(ctx context.Context) error {
	return s.toggle(ctx, domain.MediaKindWebcam)
}

func (s *mediaService) toggle(ctx context.Context, kind domain.MediaKind) error {
	// No toggle acts before the session is live: the user must never see a
	// capture prompt that cannot lead to a working track.
	if s.connected != nil && !s.connected() {
		s.logger.Debugw("toggle ignored, session not connected", "kind", kind)
		return domain.ErrNotConnected
	}

	s.mu.Lock()
	busy, target := s.beginToggleLocked(kind)
	if busy {
		s.mu.Unlock()
		s.logger.Debugw("toggle ignored, previous toggle in flight", "kind", kind)
		return nil
	}
	s.mu.Unlock()
	defer s.endToggle(kind)

	// Turning a capability on preflights the platform permission so the SDK
	// toggle cannot fail silently. Turning off needs no preflight.
	if target {
		grant, err := s.perms.RequestCapture(ctx, kind)
		if err != nil {
			s.metrics.IncToggleFailure(kind)
			s.logger.Warnw("capture permission refused",
				"kind", kind,
				"error", err,
			)
			return fmt.Errorf("toggle %s: %w", kind, err)
		}
		// The grant exists only to force the prompt.
		grant.Release()

		select {
		case <-time.After(s.cfg.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Optimistic flip: the UI reflects the toggle immediately and reverts if
	// the SDK call throws.
	s.setFlag(kind, target)

	if err := s.sdkToggle(ctx, kind, target); err != nil {
		s.setFlag(kind, !target)
		s.metrics.IncToggleFailure(kind)
		s.logger.Warnw("sdk toggle failed, reverting",
			"kind", kind,
			"target", target,
			"error", err,
		)
		return fmt.Errorf("toggle %s: %w", kind, err)
	}
	return nil
}

func (s *mediaService) beginToggleLocked(kind domain.MediaKind) (busy, target bool) {
	switch kind {
	case domain.MediaKindMic:
		if s.micBusy {
			return true, false
		}
		s.micBusy = true
		return false, !s.micOn
	default:
		if s.webcamBusy {
			return true, false
		}
		s.webcamBusy = true
		return false, !s.webcamOn
	}
}

func (s *mediaService) endToggle(kind domain.MediaKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == domain.MediaKindMic {
		s.micBusy = false
	} else {
		s.webcamBusy = false
	}
}

func (s *mediaService) setFlag(kind domain.MediaKind, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == domain.MediaKindMic {
		s.micOn = on
	} else {
		s.webcamOn = on
	}
}

func (s *mediaService) sdkToggle(ctx context.Context, kind domain.MediaKind, on bool) error {
	if kind == domain.MediaKindMic {
		return s.sdk.SetMicEnabled(ctx, on)
	}
	return s.sdk.SetWebcamEnabled(ctx, on)
}

// HandleMicStateChanged snaps the local flag to the SDK-reported value. The
// SDK is the server of truth once connected; the optimistic flag is only a
// bridge until this callback lands.
func (s *mediaService) HandleMicStateChanged(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.micOn = on
}

func (s *mediaService) HandleWebcamStateChanged(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webcamOn = on
}

// ResetToDefaults restores session-default flags. Only the SDK left callback
// calls this.
func (s *mediaService) ResetToDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.micOn = s.cfg.DefaultMicOn
	s.webcamOn = s.cfg.DefaultWebcamOn
}
