// Package session ties the audio analyzer to the simulation pipeline and
// drives one tick per display refresh until the primary track ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ARP/internal/analyzer"
	"ARP/internal/simulation"
)

// ErrDestroyed is returned by Start once the session has been torn down.
var ErrDestroyed = errors.New("session destroyed")

// Scheduler runs fn once on the next display refresh. The returned function
// cancels the registration if it has not run yet.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// Drawer renders one frame.
type Drawer interface {
	Draw(f Frame) error
}

// Viewport receives window size changes.
type Viewport interface {
	Resize(width, height int)
}

// ImageLoader decodes the seed image.
type ImageLoader interface {
	Load(ctx context.Context, path string) (simulation.SeedImage, error)
}

// Frame is handed to the Drawer after every simulation update.
type Frame struct {
	Buffer     simulation.Buffer
	Width      int
	Height     int
	Generation int
	// Intensity is the reactive scalar the update ran with.
	Intensity float64
	Elapsed   time.Duration
	// Progress is the primary track position in percent.
	Progress float64

	read func(simulation.Buffer, []simulation.Record) error
}

// Read copies the frame's buffer into dst.
func (f Frame) Read(dst []simulation.Record) error {
	if f.read == nil {
		return simulation.ErrNotInitialized
	}
	return f.read(f.Buffer, dst)
}

// Config selects the media and analysis settings of a session.
type Config struct {
	Audio     analyzer.SourceSpec
	ImagePath string
	FFTSize   int
	// Profile skips the calibration pre-roll when set.
	Profile         *analyzer.CalibrationProfile
	RefreshInterval time.Duration
}

// Deps are the collaborators a session drives. Viewport, Logger and Clock are
// optional.
type Deps struct {
	Opener    analyzer.Opener
	Images    ImageLoader
	Device    simulation.Device
	Scheduler Scheduler
	Drawer    Drawer
	Viewport  Viewport
	Logger    *zap.Logger
	Clock     func() time.Time
}

func (d *Deps) validate() error {
	switch {
	case d.Opener == nil:
		return errors.New("session needs an audio opener")
	case d.Images == nil:
		return errors.New("session needs an image loader")
	case d.Device == nil:
		return errors.New("session needs a compute device")
	case d.Scheduler == nil:
		return errors.New("session needs a scheduler")
	case d.Drawer == nil:
		return errors.New("session needs a drawer")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return nil
}

// Session is one playthrough. Start and the scheduled ticks run on the host
// loop; Destroy and OnResize may be called from any goroutine.
type Session struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	audio      *analyzer.Analyzer
	pipeline   *simulation.Pipeline
	audioReady *future[struct{}]
	imageReady *future[simulation.SeedImage]
	ended      <-chan struct{}
	cancelTick func()
	startedAt  time.Time
	frames     int
	err        error
	done       chan struct{}

	// viewMu serializes OnResize independently of mu.
	viewMu    sync.Mutex
	destroyed atomic.Bool
}

// New validates the configuration and starts loading the audio sources and
// the seed image in the background.
func New(cfg Config, deps Deps) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	log := deps.Logger

	audio := analyzer.New(deps.Opener,
		analyzer.WithLogger(log.Named("analyzer")),
		analyzer.WithRefreshInterval(cfg.RefreshInterval),
		analyzer.WithClock(deps.Clock))
	if err := audio.Configure(cfg.FFTSize); err != nil {
		return nil, fmt.Errorf("configuring analyzer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		state:      Idle,
		audio:      audio,
		pipeline:   simulation.New(deps.Device, simulation.WithLogger(log.Named("simulation"))),
		audioReady: newFuture[struct{}](),
		imageReady: newFuture[simulation.SeedImage](),
		done:       make(chan struct{}),
	}

	go func() {
		s.audioReady.resolve(struct{}{}, audio.Load(ctx, cfg.Audio))
	}()
	go func() {
		s.imageReady.resolve(deps.Images.Load(ctx, cfg.ImagePath))
	}()

	s.mu.Lock()
	err := s.setState(WaitingReady)
	s.mu.Unlock()
	if err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *Session) setState(to State) error {
	if err := transition(s.state, to); err != nil {
		return err
	}
	s.log.Debug("session state", zap.Stringer("from", s.state), zap.Stringer("to", to))
	s.state = to
	return nil
}

// Start waits for the audio and the seed image, builds the simulation state,
// installs or learns the calibration profile and starts playback. Any failure
// destroys the session and is returned.
func (s *Session) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(s.ctx, stop)
	defer unhook()

	if _, err := s.audioReady.wait(ctx); err != nil {
		return s.abort(fmt.Errorf("loading audio: %w", err))
	}
	img, err := s.imageReady.wait(ctx)
	if err != nil {
		return s.abort(fmt.Errorf("loading seed image: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != WaitingReady {
		if s.state == Destroyed {
			return ErrDestroyed
		}
		return transition(s.state, Running)
	}

	if err := s.pipeline.Initialize(img.Width, img.Height, img); err != nil {
		return s.abortLocked(err)
	}
	if s.cfg.Profile != nil {
		if err := s.audio.UseProfile(*s.cfg.Profile); err != nil {
			return s.abortLocked(fmt.Errorf("installing calibration profile: %w", err))
		}
	} else if _, err := s.audio.Calibrate(ctx); err != nil {
		return s.abortLocked(fmt.Errorf("calibrating: %w", err))
	}

	err = s.audio.Play(func() {
		s.startedAt = s.deps.Clock()
	})
	if err != nil {
		return s.abortLocked(fmt.Errorf("starting playback: %w", err))
	}
	if err := s.setState(Running); err != nil {
		return s.abortLocked(err)
	}
	s.ended = s.audio.Ended()
	s.cancelTick = s.deps.Scheduler.Schedule(s.tick)

	w, h := s.pipeline.Dimensions()
	s.log.Info("session running",
		zap.String("primary", s.audio.Primary()),
		zap.Int("particles", w*h))
	return nil
}

func (s *Session) abort(err error) error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortLocked(err)
}

func (s *Session) abortLocked(err error) error {
	if s.state == Destroyed {
		return ErrDestroyed
	}
	s.log.Error("session start failed", zap.Error(err))
	s.teardown(err)
	return err
}

// tick runs once per refresh while the session is running.
func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return
	}
	s.cancelTick = nil

	if err := s.step(); err != nil {
		s.log.Error("session halted", zap.Int("frame", s.frames), zap.Error(err))
		s.teardown(err)
		return
	}
	select {
	case <-s.ended:
		s.log.Info("playback finished", zap.Int("frames", s.frames))
		s.teardown(nil)
		return
	default:
	}
	s.cancelTick = s.deps.Scheduler.Schedule(s.tick)
}

func (s *Session) step() error {
	intensity, err := s.audio.Sample("")
	switch {
	case errors.Is(err, analyzer.ErrNotReady):
		intensity = 0
	case err != nil:
		return fmt.Errorf("sampling audio: %w", err)
	}

	elapsed := s.deps.Clock().Sub(s.startedAt)
	params := simulation.KernelParams{
		Intensity: float32(intensity),
		Time:      float32(elapsed.Seconds()),
	}
	if err := s.pipeline.Update(params); err != nil {
		return fmt.Errorf("updating simulation: %w", err)
	}
	s.frames++

	w, h := s.pipeline.Dimensions()
	frame := Frame{
		Buffer:     s.pipeline.CurrentBuffer(),
		Width:      w,
		Height:     h,
		Generation: s.pipeline.Generation(),
		Intensity:  intensity,
		Elapsed:    elapsed,
		Progress:   s.audio.Progress(),
		read:       s.pipeline.ReadBuffer,
	}
	if err := s.deps.Drawer.Draw(frame); err != nil {
		return fmt.Errorf("drawing frame %d: %w", s.frames, err)
	}
	return nil
}

// OnResize forwards a window size change to the viewport. The simulation
// dimensions never change.
func (s *Session) OnResize(width, height int) {
	if s.destroyed.Load() || s.deps.Viewport == nil {
		return
	}
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.deps.Viewport.Resize(width, height)
}

// Destroy cancels the pending tick and any loads in flight, then releases
// the simulation buffers and the audio sources. Calling it again is a no-op.
func (s *Session) Destroy() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown(nil)
}

// teardown moves to Destroyed and frees every resource. s.mu must be held.
func (s *Session) teardown(cause error) {
	if s.state == Destroyed {
		return
	}
	if err := s.setState(Destroyed); err != nil {
		s.log.Warn("forcing teardown", zap.Error(err))
		s.state = Destroyed
	}
	s.destroyed.Store(true)
	s.err = cause
	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
	s.cancel()

	// The loader goroutine owns the analyzer until its future resolves.
	<-s.audioReady.done
	s.pipeline.Release()
	if err := s.audio.Release(); err != nil {
		s.log.Warn("releasing audio", zap.Error(err))
	}
	s.log.Info("session destroyed", zap.Int("frames", s.frames), zap.Bool("failed", cause != nil))
	close(s.done)
}

// State returns the lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Frames counts completed ticks.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Err returns the failure that ended the session, nil after a normal end or
// an explicit Destroy.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session is destroyed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Profile returns the calibration profile in use, if any.
func (s *Session) Profile() (analyzer.CalibrationProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Destroyed {
		return analyzer.CalibrationProfile{}, false
	}
	return s.audio.Profile()
}
