package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ARP/internal/analyzer"
	"ARP/internal/simulation"
)

// stubSource is a steppable source replaying one spectrum per step.
type stubSource struct {
	mu       sync.Mutex
	spectra  [][]uint8
	idx      int
	duration time.Duration
	ready    chan struct{}
	ended    chan struct{}
	endFired bool
	playing  bool
	closed   int
	advanced int
}

func newStubSource(spectra ...[]uint8) *stubSource {
	s := &stubSource{
		spectra:  spectra,
		duration: time.Minute,
		ready:    make(chan struct{}),
		ended:    make(chan struct{}),
	}
	close(s.ready)
	return s
}

func (s *stubSource) Ready() <-chan struct{}  { return s.ready }
func (s *stubSource) Err() error              { return nil }
func (s *stubSource) Duration() time.Duration { return s.duration }
func (s *stubSource) Position() time.Duration { return 0 }
func (s *stubSource) SetVolume(float64)       {}
func (s *stubSource) SetMuted(bool)           {}
func (s *stubSource) SetFFTSize(int) error    { return nil }

func (s *stubSource) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = true
	return nil
}

func (s *stubSource) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
	return nil
}

func (s *stubSource) Rewind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx = 0
	if s.endFired {
		s.ended = make(chan struct{})
		s.endFired = false
	}
	return nil
}

func (s *stubSource) Ended() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *stubSource) FrequencyData(dst []uint8) ([]uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.idx
	if i >= len(s.spectra) {
		i = len(s.spectra) - 1
	}
	return append(dst[:0], s.spectra[i]...), nil
}

func (s *stubSource) Advance(time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanced++
	s.idx++
	return s.idx >= len(s.spectra)
}

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *stubSource) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endFired {
		s.endFired = true
		close(s.ended)
	}
}

// manualScheduler holds at most one pending callback until run is called.
type manualScheduler struct {
	mu        sync.Mutex
	pending   func()
	scheduled int
	cancelled int
}

func (m *manualScheduler) Schedule(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = fn
	m.scheduled++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.pending = nil
		m.cancelled++
	}
}

func (m *manualScheduler) run() bool {
	m.mu.Lock()
	fn := m.pending
	m.pending = nil
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (m *manualScheduler) hasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

type recordingDrawer struct {
	frames []Frame
	err    error
}

func (d *recordingDrawer) Draw(f Frame) error {
	d.frames = append(d.frames, f)
	return d.err
}

type imageStub struct {
	img simulation.SeedImage
	err error
}

func (i imageStub) Load(context.Context, string) (simulation.SeedImage, error) {
	return i.img, i.err
}

type viewportStub struct{ w, h int }

func (v *viewportStub) Resize(w, h int) { v.w, v.h = w, h }

func grey(w, h int) simulation.SeedImage {
	pix := make([]uint8, w*h*4)
	for i := range pix {
		pix[i] = 128
	}
	return simulation.SeedImage{Width: w, Height: h, Pix: pix}
}

func ramp(bins int, v uint8) []uint8 {
	out := make([]uint8, bins)
	for i := range out {
		out[i] = v
	}
	return out
}

type harness struct {
	src    *stubSource
	sched  *manualScheduler
	drawer *recordingDrawer
	view   *viewportStub
	deps   Deps
	cfg    Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		src:    newStubSource(ramp(128, 0), ramp(128, 100), ramp(128, 255)),
		sched:  &manualScheduler{},
		drawer: &recordingDrawer{},
		view:   &viewportStub{},
	}
	dev := simulation.NewCPUDevice(2)
	t.Cleanup(func() { _ = dev.Close() })
	h.deps = Deps{
		Opener: analyzer.OpenerFunc(func(context.Context, string, string) (analyzer.Source, error) {
			return h.src, nil
		}),
		Images:    imageStub{img: grey(4, 3)},
		Device:    dev,
		Scheduler: h.sched,
		Drawer:    h.drawer,
		Viewport:  h.view,
	}
	h.cfg = Config{Audio: analyzer.SingleSource("song.mp3"), ImagePath: "seed.png", FFTSize: 256}
	return h
}

func (h *harness) start(t *testing.T) *Session {
	t.Helper()
	s, err := New(h.cfg, h.deps)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	return s
}

func TestStartRunsAndTicks(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)
	assert.Equal(t, Running, s.State())

	for i := 0; i < 3; i++ {
		require.True(t, h.sched.run())
	}
	assert.Equal(t, 3, s.Frames())
	require.Len(t, h.drawer.frames, 3)

	last := h.drawer.frames[2]
	assert.Equal(t, 3, last.Generation)
	assert.Equal(t, 4, last.Width)
	assert.Equal(t, 3, last.Height)
	recs := make([]simulation.Record, 12)
	require.NoError(t, last.Read(recs))
	assert.True(t, h.sched.hasPending())

	p, ok := s.Profile()
	require.True(t, ok)
	assert.Equal(t, analyzer.RawAverage(ramp(128, 0)), p.MinPower)
	assert.Equal(t, analyzer.RawAverage(ramp(128, 255)), p.MaxPower)
	s.Destroy()
}

func TestNoTickBeforeRunning(t *testing.T) {
	h := newHarness(t)
	s, err := New(h.cfg, h.deps)
	require.NoError(t, err)
	assert.Equal(t, WaitingReady, s.State())
	assert.False(t, h.sched.hasPending())
	assert.Equal(t, 0, h.sched.scheduled)
	s.Destroy()
}

func TestSuppliedProfileSkipsCalibration(t *testing.T) {
	h := newHarness(t)
	h.cfg.Profile = &analyzer.CalibrationProfile{MinPower: 60, MaxPower: 400}
	s := h.start(t)
	defer s.Destroy()

	assert.Equal(t, 0, h.src.advanced)
	require.True(t, h.sched.run())
	require.Len(t, h.drawer.frames, 1)
	want := (&analyzer.CalibrationProfile{MinPower: 60, MaxPower: 400, AveragePower: analyzer.AveragePowerFor(128)}).Scalar(analyzer.RawAverage(ramp(128, 0)))
	assert.Equal(t, want, h.drawer.frames[0].Intensity)
}

func TestDestroyTwiceSchedulesNothing(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)
	require.True(t, h.sched.hasPending())

	s.Destroy()
	s.Destroy()

	assert.Equal(t, Destroyed, s.State())
	assert.False(t, h.sched.hasPending())
	assert.Equal(t, 1, h.sched.cancelled)
	assert.Equal(t, 1, h.src.closed)
	assert.NoError(t, s.Err())
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
	scheduled := h.sched.scheduled
	s.tick()
	assert.Equal(t, scheduled, h.sched.scheduled)
	assert.Empty(t, h.drawer.frames)
}

func TestLoadFailureRejectsStart(t *testing.T) {
	h := newHarness(t)
	h.deps.Opener = analyzer.OpenerFunc(func(context.Context, string, string) (analyzer.Source, error) {
		return nil, errors.New("404")
	})
	s, err := New(h.cfg, h.deps)
	require.NoError(t, err)

	err = s.Start(context.Background())
	var loadErr *analyzer.SourceLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, Destroyed, s.State())
	assert.Equal(t, 0, h.sched.scheduled)
	assert.ErrorIs(t, s.Err(), err)
}

func TestImageFailureRejectsStart(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("corrupt png")
	h.deps.Images = imageStub{err: boom}
	s, err := New(h.cfg, h.deps)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(context.Background()), boom)
	assert.Equal(t, Destroyed, s.State())
	assert.Equal(t, 1, h.src.closed)
}

func TestStartAfterDestroy(t *testing.T) {
	h := newHarness(t)
	s, err := New(h.cfg, h.deps)
	require.NoError(t, err)
	s.Destroy()
	assert.ErrorIs(t, s.Start(context.Background()), ErrDestroyed)
}

func TestSecondStartIsInvalid(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)
	defer s.Destroy()
	assert.ErrorIs(t, s.Start(context.Background()), ErrInvalidTransition)
}

func TestDrawFailureHaltsLoop(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)
	boom := errors.New("surface lost")
	h.drawer.err = boom

	require.True(t, h.sched.run())
	assert.Equal(t, Destroyed, s.State())
	assert.ErrorIs(t, s.Err(), boom)
	assert.False(t, h.sched.hasPending())
	<-s.Done()
}

func TestUpdateFailureHaltsLoop(t *testing.T) {
	h := newHarness(t)
	dev := &failingDevice{CPUDevice: simulation.NewCPUDevice(1)}
	defer dev.Close()
	h.deps.Device = dev
	s := h.start(t)

	dev.fail = true
	require.True(t, h.sched.run())
	assert.Equal(t, Destroyed, s.State())
	assert.Error(t, s.Err())
	assert.Empty(t, h.drawer.frames)
	assert.False(t, h.sched.run())
}

type failingDevice struct {
	*simulation.CPUDevice
	fail bool
}

func (d *failingDevice) Dispatch(p simulation.KernelParams, seed, src, dst simulation.Buffer) error {
	if d.fail {
		return errors.New("device lost")
	}
	return d.CPUDevice.Dispatch(p, seed, src, dst)
}

func TestPrimaryEndEndsSession(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)

	require.True(t, h.sched.run())
	h.src.finish()
	require.True(t, h.sched.run())

	assert.Equal(t, Destroyed, s.State())
	assert.NoError(t, s.Err())
	assert.Equal(t, 2, s.Frames())
	assert.False(t, h.sched.hasPending())
}

func TestOnResizeForwardsToViewport(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)

	s.OnResize(1280, 720)
	assert.Equal(t, 1280, h.view.w)
	assert.Equal(t, 720, h.view.h)
	require.True(t, h.sched.run())
	assert.Equal(t, 4, h.drawer.frames[0].Width)

	s.Destroy()
	s.OnResize(10, 10)
	assert.Equal(t, 1280, h.view.w)
}

func TestNewValidatesDeps(t *testing.T) {
	h := newHarness(t)
	h.deps.Drawer = nil
	_, err := New(h.cfg, h.deps)
	assert.Error(t, err)

	h = newHarness(t)
	h.cfg.FFTSize = 1000
	_, err = New(h.cfg, h.deps)
	assert.ErrorIs(t, err, analyzer.ErrInvalidFFTSize)
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, canTransition(Idle, WaitingReady))
	assert.True(t, canTransition(WaitingReady, Running))
	assert.True(t, canTransition(Running, Destroyed))
	assert.False(t, canTransition(Running, WaitingReady))
	assert.False(t, canTransition(Destroyed, Running))
	assert.False(t, canTransition(Idle, Running))
	assert.ErrorIs(t, transition(Destroyed, Idle), ErrInvalidTransition)
	assert.Equal(t, "waiting-ready", WaitingReady.String())
}

func TestFutureResolvesOnce(t *testing.T) {
	f := newFuture[int]()
	f.resolve(1, nil)
	f.resolve(2, errors.New("late"))

	v, err := f.wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, v)

	pending := newFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pending.wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
