package services

import (
	"sync"

	"coachmeet/internal/core/domain"

	"go.uber.org/zap"
)

// RosterListener observes the live participant set. Binder arenas hang off
// these callbacks.
type RosterListener interface {
	OnParticipantJoined(p *domain.Participant)
	OnParticipantLeft(id domain.ParticipantID)
	OnTrackChanged(id domain.ParticipantID, kind domain.MediaKind, track domain.MediaTrack)
}

// Roster owns the participant set for the session, fed exclusively by SDK
// events. Participants are created on joined events and destroyed on left
// events, never by reference counting.
type Roster struct {
	mu              sync.RWMutex
	participants    map[domain.ParticipantID]*domain.Participant
	order           []domain.ParticipantID
	dominantSpeaker domain.ParticipantID
	listeners       []RosterListener

	logger *zap.SugaredLogger
}

// NewRoster creates an empty participant roster.
func NewRoster(logger *zap.SugaredLogger) *Roster {
	return &Roster{
		participants: make(map[domain.ParticipantID]*domain.Participant),
		logger:       logger,
	}
}

// AddListener registers a listener. Register before the session joins;
// listeners are not retroactively notified.
func (r *Roster) AddListener(l RosterListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Roster) HandleParticipantJoined(p *domain.Participant) {
	r.mu.Lock()
	if _, exists := r.participants[p.ID]; exists {
		// At-least-once SDK delivery; a rejoin replaces the entry in place.
		r.participants[p.ID] = p
		listeners := r.snapshotListenersLocked()
		r.mu.Unlock()
		r.logger.Debugw("participant rejoined", "participant_id", p.ID)
		for _, l := range listeners {
			l.OnParticipantJoined(p)
		}
		return
	}
	r.participants[p.ID] = p
	r.order = append(r.order, p.ID)
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	r.logger.Infow("participant joined",
		"participant_id", p.ID,
		"name", p.Name,
		"local", p.IsLocal,
	)
	for _, l := range listeners {
		l.OnParticipantJoined(p)
	}
}

func (r *Roster) HandleParticipantLeft(id domain.ParticipantID) {
	r.mu.Lock()
	if _, exists := r.participants[id]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.participants, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.dominantSpeaker == id {
		r.dominantSpeaker = ""
	}
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	r.logger.Infow("participant left", "participant_id", id)
	for _, l := range listeners {
		l.OnParticipantLeft(id)
	}
}

// HandleTrackChanged records a stream identity change for a participant and
// fans it out so binders can rebind. track is nil when the capability turned
// off.
func (r *Roster) HandleTrackChanged(id domain.ParticipantID, kind domain.MediaKind, track domain.MediaTrack) {
	r.mu.Lock()
	p, exists := r.participants[id]
	if !exists {
		r.mu.Unlock()
		r.logger.Debugw("track change for unknown participant", "participant_id", id)
		return
	}
	switch kind {
	case domain.MediaKindMic:
		p.MicStream = track
	case domain.MediaKindWebcam:
		p.WebcamStream = track
	case domain.MediaKindScreenShare:
		p.ScreenShareStream = track
	}
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	for _, l := range listeners {
		l.OnTrackChanged(id, kind, track)
	}
}

func (r *Roster) HandleMicStateChanged(id domain.ParticipantID, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, exists := r.participants[id]; exists {
		p.MicOn = on
	}
}

func (r *Roster) HandleWebcamStateChanged(id domain.ParticipantID, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, exists := r.participants[id]; exists {
		p.WebcamOn = on
	}
}

// SetDominantSpeaker records the backend's active-speaker judgement; used
// only for UI prioritization.
func (r *Roster) SetDominantSpeaker(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dominantSpeaker = id
}

func (r *Roster) DominantSpeaker() (domain.ParticipantID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dominantSpeaker, r.dominantSpeaker != ""
}

// Get returns a copy of the participant.
func (r *Roster) Get(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.participants[id]
	if !exists {
		return domain.Participant{}, false
	}
	return *p, true
}

// Participants returns copies of all participants in join order.
func (r *Roster) Participants() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		if p, exists := r.participants[id]; exists {
			out = append(out, *p)
		}
	}
	return out
}

func (r *Roster) snapshotListenersLocked() []RosterListener {
	out := make([]RosterListener, len(r.listeners))
	copy(out, r.listeners)
	return out
}
