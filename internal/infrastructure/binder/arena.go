package binder

import (
	"sync"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"
	"coachmeet/internal/core/services"

	"go.uber.org/zap"
)

// Arena owns one binder per (participant, media kind), created when the
// participant joins and torn down when they leave. It plugs into the roster
// as a listener; the roster's event order drives the whole lifecycle, there
// is no reference counting.
type Arena struct {
	factory ports.RenderSurfaceFactory
	metrics *services.MetricsService
	cfg     Config
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	binders map[domain.ParticipantID]map[domain.MediaKind]*Binder
	closed  bool
}

func NewArena(
	factory ports.RenderSurfaceFactory,
	metrics *services.MetricsService,
	cfg Config,
	logger *zap.SugaredLogger,
) *Arena {
	return &Arena{
		factory: factory,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
		binders: make(map[domain.ParticipantID]map[domain.MediaKind]*Binder),
	}
}

var boundKinds = []domain.MediaKind{
	domain.MediaKindMic,
	domain.MediaKindWebcam,
	domain.MediaKindScreenShare,
}

func (a *Arena) OnParticipantJoined(p *domain.Participant) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	set, exists := a.binders[p.ID]
	if !exists {
		set = make(map[domain.MediaKind]*Binder, len(boundKinds))
		for _, kind := range boundKinds {
			set[kind] = NewBinder(p.ID, kind, a.factory, a.metrics, a.cfg, a.logger)
		}
		a.binders[p.ID] = set
	}
	a.mu.Unlock()

	// A participant can join with tracks already live.
	set[domain.MediaKindMic].SetTrack(p.MicStream)
	set[domain.MediaKindWebcam].SetTrack(p.WebcamStream)
	set[domain.MediaKindScreenShare].SetTrack(p.ScreenShareStream)
}

func (a *Arena) OnParticipantLeft(id domain.ParticipantID) {
	a.mu.Lock()
	set, exists := a.binders[id]
	delete(a.binders, id)
	a.mu.Unlock()
	if !exists {
		return
	}
	for _, b := range set {
		b.Close()
	}
}

func (a *Arena) OnTrackChanged(id domain.ParticipantID, kind domain.MediaKind, track domain.MediaTrack) {
	a.mu.Lock()
	set, exists := a.binders[id]
	a.mu.Unlock()
	if !exists {
		a.logger.Debugw("track change with no binder set", "participant_id", id, "kind", kind)
		return
	}
	if b, ok := set[kind]; ok {
		b.SetTrack(track)
	}
}

// Binder returns the binder for the pair, or nil. Used by the session to
// expose the screen-share viewer's manual retry.
func (a *Arena) Binder(id domain.ParticipantID, kind domain.MediaKind) *Binder {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, exists := a.binders[id]
	if !exists {
		return nil
	}
	return set[kind]
}

// Close tears down every binder. The arena is unusable afterwards.
func (a *Arena) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	binders := a.binders
	a.binders = make(map[domain.ParticipantID]map[domain.MediaKind]*Binder)
	a.mu.Unlock()

	for _, set := range binders {
		for _, b := range set {
			b.Close()
		}
	}
}
