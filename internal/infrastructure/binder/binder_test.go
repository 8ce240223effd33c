package binder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"
	"coachmeet/internal/core/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTrack struct {
	id   string
	kind domain.MediaKind
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.MediaKind { return t.kind }

// fakeSurface records the bind lifecycle and can fail SetSource.
type fakeSurface struct {
	factory *fakeFactory

	mu      sync.Mutex
	onError func(error)
	source  domain.MediaTrack
	cleared bool
	closed  bool
}

func (s *fakeSurface) SetErrorHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

func (s *fakeSurface) SetSource(ctx context.Context, track domain.MediaTrack) error {
	if err := s.factory.nextSetSourceErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = track
	return nil
}

func (s *fakeSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = nil
	s.cleared = true
}

func (s *fakeSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSurface) FireError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (s *fakeSurface) Source() domain.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

func (s *fakeSurface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeFactory builds fakeSurfaces and scripts SetSource failures: the first
// failSetSource calls across all surfaces fail.
type fakeFactory struct {
	mu            sync.Mutex
	surfaces      []*fakeSurface
	failSetSource int
}

func (f *fakeFactory) NewSurface(id domain.ParticipantID, kind domain.MediaKind) ports.RenderSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSurface{factory: f}
	f.surfaces = append(f.surfaces, s)
	return s
}

func (f *fakeFactory) nextSetSourceErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetSource > 0 {
		f.failSetSource--
		return errors.New("attach failed")
	}
	return nil
}

func (f *fakeFactory) Surfaces() []*fakeSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeSurface, len(f.surfaces))
	copy(out, f.surfaces)
	return out
}

func (f *fakeFactory) LatestSurface() *fakeSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.surfaces) == 0 {
		return nil
	}
	return f.surfaces[len(f.surfaces)-1]
}

func testConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 5 * time.Millisecond,
	}
}

func newTestBinder(t *testing.T, factory *fakeFactory) *Binder {
	t.Helper()
	b := NewBinder("p1", domain.MediaKindWebcam, factory, services.NewMetricsService(),
		testConfig(), zaptest.NewLogger(t).Sugar())
	t.Cleanup(b.Close)
	return b
}

func TestBinder_BindsTrack(t *testing.T) {
	factory := &fakeFactory{}
	b := newTestBinder(t, factory)

	track := &fakeTrack{id: "t1", kind: domain.MediaKindWebcam}
	b.SetTrack(track)

	require.Eventually(t, func() bool {
		return b.State() == StateBound
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, track, factory.LatestSurface().Source())
}

func TestBinder_SameTrackIsNoOp(t *testing.T) {
	factory := &fakeFactory{}
	b := newTestBinder(t, factory)

	b.SetTrack(&fakeTrack{id: "t1", kind: domain.MediaKindWebcam})
	require.Eventually(t, func() bool {
		return b.State() == StateBound
	}, time.Second, 2*time.Millisecond)

	// Same stream identity through a different handle: no rebind.
	b.SetTrack(&fakeTrack{id: "t1", kind: domain.MediaKindWebcam})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, factory.Surfaces(), 1)
}

func TestBinder_RebindOnIdentityChange(t *testing.T) {
	factory := &fakeFactory{}
	b := newTestBinder(t, factory)

	b.SetTrack(&fakeTrack{id: "t1", kind: domain.MediaKindWebcam})
	require.Eventually(t, func() bool {
		return b.State() == StateBound
	}, time.Second, 2*time.Millisecond)
	first := factory.LatestSurface()

	b.SetTrack(&fakeTrack{id: "t2", kind: domain.MediaKindWebcam})
	require.Eventually(t, func() bool {
		last := factory.LatestSurface()
		return b.State() == StateBound && last != first && last.Source() != nil
	}, time.Second, 2*time.Millisecond)

	// The old surface is torn down; the track itself is never touched.
	assert.True(t, first.Closed())
	assert.Equal(t, "t2", factory.LatestSurface().Source().ID())
}

func TestBinder_NilTrackTearsDown(t *testing.T) {
	factory := &fakeFactory{}
	b := newTestBinder(t, factory)

	b.SetTrack(&fakeTrack{id: "t1", kind: domain.MediaKindWebcam})
	require.Eventually(t, func() bool {
		return b.State() == StateBound
	}, time.Second, 2*time.Millisecond)

	b.SetTrack(nil)
	assert.Equal(t, StateIdle, b.State())
	assert.True(t, factory.LatestSurface().Closed())
}

func TestBinder_RetriesThenFails(t *testing.T) {
	factory := &fakeFactory{failSetSource: 100}
	b := newTestBinder(t, factory)

	b.SetTrack(&fakeTrack{id: "t1", kind: domain.MediaKindWebcam})
	require.Eventually(t, func() bool {
		return b.State() == StateFailed
	}, time.Second, 2*time.Millisecond)
	assert.Len(t, factory.Surfaces(), 3)
}

func TestBinder_TransientFailureRecovers(t *testing.T) {
	factory := &fakeFactory{failSetSource: 1}
	b := newTestBinder(t, factory)

	b.SetTrack(&fakeTrack{id: "t1", kind: domain.MediaKindWebcam})
	require.Eventually(t, func() bool {
		return b.State() == StateBound
	}, time.Second, 2*time.Millisecond)
	assert.Len(t, factory.Surfaces(), 2)
}

func TestBinder_ManualRetryFromFailed(t *testing.T) {
	factory := &fakeFactory{failSetSource: 100}
	b := newTestBinder(t, factory)

	b.SetTrack(&fakeTrack{id: "t1", kind: domain.MediaKindWebcam})
	require.Eventually(t, func() bool {
		return b.State() == StateFailed
	}, time.Second, 2*time.Millisecond)

	factory.mu.Lock()
	factory.failSetSource = 0
	factory.mu.Unlock()

	b.Retry()
	require.Eventually(t, func() bool {
		return b.State() == StateBound
	}, time.Second, 2*time.Millisecond)
}

func TestBinder_RetryIgnoredUnlessFailed(t *testing.T) {
	factory := &fakeFactory{}
	b := newTestBinder(t, factory)

	b.SetTrack(&fakeTrack{id: "t1", kind: domain.MediaKindWebcam})
	require.Eventually(t, func() bool {
		return b.State() == StateBound
	}, time.Second, 2*time.Millisecond)

	b.Retry()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateBound, b.State())
	assert.Len(t, factory.Surfaces(), 1)
}

func TestBinder_PlaybackErrorRebinds(t *testing.T) {
	factory := &fakeFactory{}
	b := newTestBinder(t, factory)

	b.SetTrack(&fakeTrack{id: "t1", kind: domain.MediaKindWebcam})
	require.Eventually(t, func() bool {
		return b.State() == StateBound
	}, time.Second, 2*time.Millisecond)
	first := factory.LatestSurface()

	first.FireError(errors.New("decoder stalled"))
	require.Eventually(t, func() bool {
		last := factory.LatestSurface()
		return b.State() == StateBound && last != first
	}, time.Second, 2*time.Millisecond)
}

func TestBinder_FastOffOnSettlesOnNewTrack(t *testing.T) {
	factory := &fakeFactory{}
	b := newTestBinder(t, factory)

	b.SetTrack(&fakeTrack{id: "t1", kind: domain.MediaKindWebcam})
	b.SetTrack(nil)
	b.SetTrack(&fakeTrack{id: "t2", kind: domain.MediaKindWebcam})

	require.Eventually(t, func() bool {
		return b.State() == StateBound
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, "t2", factory.LatestSurface().Source().ID())
}

func TestArena_LifecyclePerParticipant(t *testing.T) {
	factory := &fakeFactory{}
	logger := zaptest.NewLogger(t).Sugar()
	a := NewArena(factory, services.NewMetricsService(), testConfig(), logger)
	t.Cleanup(a.Close)

	a.OnParticipantJoined(&domain.Participant{
		ID:           "p1",
		WebcamStream: &fakeTrack{id: "t1", kind: domain.MediaKindWebcam},
	})

	// One binder per kind; only the live stream binds.
	require.NotNil(t, a.Binder("p1", domain.MediaKindMic))
	require.NotNil(t, a.Binder("p1", domain.MediaKindWebcam))
	require.NotNil(t, a.Binder("p1", domain.MediaKindScreenShare))
	require.Eventually(t, func() bool {
		return a.Binder("p1", domain.MediaKindWebcam).State() == StateBound
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, StateIdle, a.Binder("p1", domain.MediaKindMic).State())

	a.OnTrackChanged("p1", domain.MediaKindScreenShare, &fakeTrack{id: "s1", kind: domain.MediaKindScreenShare})
	require.Eventually(t, func() bool {
		return a.Binder("p1", domain.MediaKindScreenShare).State() == StateBound
	}, time.Second, 2*time.Millisecond)

	a.OnParticipantLeft("p1")
	assert.Nil(t, a.Binder("p1", domain.MediaKindWebcam))
}

func TestArena_TrackChangeForUnknownParticipant(t *testing.T) {
	factory := &fakeFactory{}
	a := NewArena(factory, services.NewMetricsService(), testConfig(), zaptest.NewLogger(t).Sugar())
	t.Cleanup(a.Close)

	a.OnTrackChanged("ghost", domain.MediaKindMic, &fakeTrack{id: "t1", kind: domain.MediaKindMic})
	assert.Empty(t, factory.Surfaces())
}
