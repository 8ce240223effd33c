package binder

import (
	"context"
	"sync"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"
	"coachmeet/internal/core/services"

	"go.uber.org/zap"
)

// State is the render lifecycle of one track binding.
type State int

const (
	StateIdle State = iota
	StateBinding
	StateBound
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBinding:
		return "binding"
	case StateBound:
		return "bound"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config controls bind retry behavior.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 250 * time.Millisecond,
	}
}

// Binder keeps one (participant, media kind) pair attached to a render
// surface. The surface source must always reflect the current stream
// reference; any identity change rebuilds the surface. Tracks are owned by
// the SDK: the binder only ever clears its own reference, never stops a
// track.
type Binder struct {
	participantID domain.ParticipantID
	kind          domain.MediaKind
	factory       ports.RenderSurfaceFactory
	metrics       *services.MetricsService
	cfg           Config
	logger        *zap.SugaredLogger

	mu         sync.Mutex
	track      domain.MediaTrack
	surface    ports.RenderSurface
	state      State
	generation uint64

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBinder(
	participantID domain.ParticipantID,
	kind domain.MediaKind,
	factory ports.RenderSurfaceFactory,
	metrics *services.MetricsService,
	cfg Config,
	logger *zap.SugaredLogger,
) *Binder {
	ctx, cancel := context.WithCancel(context.Background())
	return &Binder{
		participantID: participantID,
		kind:          kind,
		factory:       factory,
		metrics:       metrics,
		cfg:           cfg,
		logger:        logger,
		state:         StateIdle,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetTrack rebinds when the stream reference changes identity. A nil track
// tears the binding down to idle. Same identity is a no-op, which makes the
// binder safe under at-least-once event delivery.
func (b *Binder) SetTrack(track domain.MediaTrack) {
	b.mu.Lock()
	if domain.SameTrack(b.track, track) {
		b.mu.Unlock()
		return
	}
	b.track = track
	b.generation++
	gen := b.generation
	b.releaseSurfaceLocked()

	if track == nil {
		b.state = StateIdle
		b.mu.Unlock()
		return
	}
	b.state = StateBinding
	b.mu.Unlock()

	go b.bindWithRetry(gen, track)
}

// Retry re-runs the full bind sequence for the current track after automatic
// retries were exhausted. No-op unless the binding is in the failed state.
func (b *Binder) Retry() {
	b.mu.Lock()
	if b.state != StateFailed || b.track == nil {
		b.mu.Unlock()
		return
	}
	b.generation++
	gen := b.generation
	track := b.track
	b.state = StateBinding
	b.mu.Unlock()

	b.logger.Infow("manual bind retry",
		"participant_id", b.participantID,
		"kind", b.kind,
	)
	go b.bindWithRetry(gen, track)
}

func (b *Binder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Close tears the binding down. Idempotent.
func (b *Binder) Close() {
	b.cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	b.releaseSurfaceLocked()
	b.track = nil
	b.state = StateIdle
}

func (b *Binder) bindWithRetry(gen uint64, track domain.MediaTrack) {
	for attempt := 1; ; attempt++ {
		if !b.generationCurrent(gen) {
			return
		}
		err := b.bindOnce(gen, track)
		if err == nil {
			return
		}
		if attempt >= b.cfg.MaxRetries {
			b.logger.Warnw("bind failed, degrading to placeholder",
				"participant_id", b.participantID,
				"kind", b.kind,
				"attempts", attempt,
				"error", err,
			)
			b.metrics.IncBindFailure(b.kind)
			b.markFailed(gen)
			return
		}
		b.metrics.IncBindRetry(b.kind)
		b.logger.Debugw("bind attempt failed, retrying",
			"participant_id", b.participantID,
			"kind", b.kind,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-time.After(b.cfg.RetryDelay * time.Duration(attempt)):
		case <-b.ctx.Done():
			return
		}
	}
}

// bindOnce builds a fresh surface, wires the error handler before assigning
// the source, then attaches the track.
func (b *Binder) bindOnce(gen uint64, track domain.MediaTrack) error {
	surface := b.factory.NewSurface(b.participantID, b.kind)
	surface.SetErrorHandler(func(err error) {
		b.handlePlaybackError(gen, err)
	})
	if err := surface.SetSource(b.ctx, track); err != nil {
		surface.Close()
		return err
	}

	b.mu.Lock()
	if gen != b.generation {
		// A newer track arrived while this bind was in flight.
		b.mu.Unlock()
		surface.Clear()
		surface.Close()
		return nil
	}
	b.surface = surface
	b.state = StateBound
	b.mu.Unlock()
	return nil
}

// handlePlaybackError fires from a surface's own goroutine after a
// previously successful bind breaks. It restarts the retry loop for the
// same stream reference.
func (b *Binder) handlePlaybackError(gen uint64, err error) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}
	b.generation++
	next := b.generation
	track := b.track
	b.releaseSurfaceLocked()
	b.state = StateBinding
	b.mu.Unlock()

	b.logger.Debugw("playback error, rebinding",
		"participant_id", b.participantID,
		"kind", b.kind,
		"error", err,
	)
	b.metrics.IncBindRetry(b.kind)
	go b.bindWithRetry(next, track)
}

func (b *Binder) markFailed(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation {
		return
	}
	b.state = StateFailed
}

func (b *Binder) generationCurrent(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return gen == b.generation
}

// releaseSurfaceLocked clears the surface's source reference and closes the
// surface itself. The underlying track is untouched.
func (b *Binder) releaseSurfaceLocked() {
	if b.surface != nil {
		b.surface.Clear()
		b.surface.Close()
		b.surface = nil
	}
}
