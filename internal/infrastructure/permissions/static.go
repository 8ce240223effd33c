package permissions

import (
	"context"
	"sync"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"
)

// Decision is a configured outcome for a capture request.
type Decision string

const (
	Granted     Decision = "granted"
	Denied      Decision = "denied"
	Unsupported Decision = "unsupported"
	NoSource    Decision = "no_source"
	Cancelled   Decision = "cancelled"
)

// Policy fixes the outcome per capability. The embedding shell replaces this
// with the real platform prompt; headless runs and tests configure outcomes
// up front.
type Policy struct {
	Mic          Decision
	Webcam       Decision
	Display      Decision
	DisplayAudio Decision
}

// AllowAll grants every capability.
func AllowAll() Policy {
	return Policy{
		Mic:          Granted,
		Webcam:       Granted,
		Display:      Granted,
		DisplayAudio: Granted,
	}
}

// StaticPermissions answers capture requests from a fixed policy.
type StaticPermissions struct {
	mu     sync.RWMutex
	policy Policy
}

func NewStaticPermissions(policy Policy) *StaticPermissions {
	return &StaticPermissions{policy: policy}
}

// SetPolicy swaps the policy; later requests see the new outcomes.
func (p *StaticPermissions) SetPolicy(policy Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
}

func (p *StaticPermissions) RequestCapture(ctx context.Context, kind domain.MediaKind) (ports.CaptureGrant, error) {
	p.mu.RLock()
	policy := p.policy
	p.mu.RUnlock()

	var decision Decision
	switch kind {
	case domain.MediaKindMic:
		decision = policy.Mic
	case domain.MediaKindWebcam:
		decision = policy.Webcam
	default:
		decision = policy.Display
	}
	return resolve(decision, kind)
}

func (p *StaticPermissions) RequestDisplayCapture(ctx context.Context, withAudio bool) (ports.CaptureGrant, error) {
	p.mu.RLock()
	policy := p.policy
	p.mu.RUnlock()

	decision := policy.Display
	if withAudio && policy.DisplayAudio != Granted {
		decision = policy.DisplayAudio
	}
	return resolve(decision, domain.MediaKindScreenShare)
}

func resolve(decision Decision, kind domain.MediaKind) (ports.CaptureGrant, error) {
	switch decision {
	case Granted, "":
		return noopGrant{}, nil
	case Denied:
		return nil, &domain.PermissionError{Kind: domain.PermissionDenied, Media: kind}
	case Unsupported:
		return nil, &domain.PermissionError{Kind: domain.PermissionUnsupported, Media: kind}
	case NoSource:
		return nil, &domain.PermissionError{Kind: domain.PermissionNoSource, Media: kind}
	case Cancelled:
		return nil, &domain.PermissionError{Kind: domain.PermissionCancelled, Media: kind}
	default:
		return nil, &domain.PermissionError{Kind: domain.PermissionInvalidState, Media: kind}
	}
}

// noopGrant has no live tracks of its own, so Release has nothing to stop.
type noopGrant struct{}

func (noopGrant) Release() {}
