// Package analyzer owns audio playback for a session and reduces the playing
// spectrum to one normalized reactive value per frame.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ARP/internal/spectrum"
)

const defaultRefreshInterval = time.Second / 60

// Analyzer is driven from a single loop and is not safe for concurrent use.
type Analyzer struct {
	log     *zap.Logger
	opener  Opener
	clock   func() time.Time
	refresh time.Duration

	fftSize      int
	binCount     int
	averagePower float64

	sources map[string]Source
	names   []string
	primary string
	multi   bool

	profile *CalibrationProfile

	playing      bool
	startTime    time.Time
	lastProgress float64
	released     bool

	scratch []uint8
}

// Option customises an Analyzer.
type Option func(*Analyzer)

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Analyzer) {
		if log != nil {
			a.log = log
		}
	}
}

// WithRefreshInterval sets the display refresh period used by calibration.
func WithRefreshInterval(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.refresh = d
		}
	}
}

// WithClock replaces time.Now for session start bookkeeping.
func WithClock(clock func() time.Time) Option {
	return func(a *Analyzer) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// New returns an analyzer that opens sources through opener. Configure must
// be called before Load.
func New(opener Opener, opts ...Option) *Analyzer {
	a := &Analyzer{
		log:     zap.NewNop(),
		opener:  opener,
		clock:   time.Now,
		refresh: defaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Configure sets the spectral resolution. binCount becomes fftSize/2 and the
// average power ceiling is recomputed.
func (a *Analyzer) Configure(fftSize int) error {
	if len(a.sources) > 0 {
		return ErrAlreadyLoaded
	}
	if !spectrum.ValidFFTSize(fftSize) {
		return fmt.Errorf("%w: %d", ErrInvalidFFTSize, fftSize)
	}
	a.fftSize = fftSize
	a.binCount = fftSize / 2
	a.averagePower = AveragePowerFor(a.binCount)
	a.scratch = make([]uint8, a.binCount)
	a.log.Debug("analyzer configured",
		zap.Int("fft_size", a.fftSize),
		zap.Int("bins", a.binCount),
		zap.Float64("average_power", a.averagePower))
	return nil
}

// FFTSize returns the configured transform length, 0 before Configure.
func (a *Analyzer) FFTSize() int { return a.fftSize }

// BinCount returns fftSize/2.
func (a *Analyzer) BinCount() int { return a.binCount }

// AveragePower returns the theoretical power ceiling for the configured bin count.
func (a *Analyzer) AveragePower() float64 { return a.averagePower }

// Primary returns the name of the primary source, empty before Load.
func (a *Analyzer) Primary() string { return a.primary }

// Multi reports whether the loaded spec named several tracks.
func (a *Analyzer) Multi() bool { return a.multi }

// Loaded reports whether every source signalled readiness.
func (a *Analyzer) Loaded() bool { return len(a.sources) > 0 }

// Playing reports whether Play succeeded.
func (a *Analyzer) Playing() bool { return a.playing }

// StartTime returns when playback started.
func (a *Analyzer) StartTime() time.Time { return a.startTime }

// Load opens every source in spec and waits until all of them are decodable.
// In multi-source mode the longest source becomes primary.
func (a *Analyzer) Load(ctx context.Context, spec SourceSpec) error {
	if a.fftSize == 0 {
		return ErrNotConfigured
	}
	if len(a.sources) > 0 {
		return ErrAlreadyLoaded
	}
	entries := spec.entries()
	if len(entries) == 0 {
		return &SourceLoadError{Name: DefaultSourceName, Err: ErrNoSources}
	}

	opened := make(map[string]Source, len(entries))
	fail := func(err error) error {
		for _, src := range opened {
			_ = src.Close()
		}
		return err
	}

	for _, e := range entries {
		src, err := a.opener.Open(ctx, e.name, e.uri)
		if err != nil {
			return fail(&SourceLoadError{Name: e.name, URI: e.uri, Err: err})
		}
		opened[e.name] = src
		if err := src.SetFFTSize(a.fftSize); err != nil {
			return fail(&SourceLoadError{Name: e.name, URI: e.uri, Err: err})
		}
	}

	var longest time.Duration
	primary := ""
	for _, e := range entries {
		src := opened[e.name]
		select {
		case <-src.Ready():
		case <-ctx.Done():
			return fail(&SourceLoadError{Name: e.name, URI: e.uri, Err: ctx.Err()})
		}
		if err := src.Err(); err != nil {
			return fail(&SourceLoadError{Name: e.name, URI: e.uri, Err: err})
		}
		src.SetMuted(false)
		src.SetVolume(1)
		if d := src.Duration(); primary == "" || d > longest {
			longest = d
			primary = e.name
		}
	}

	a.sources = opened
	a.names = a.names[:0]
	for _, e := range entries {
		a.names = append(a.names, e.name)
	}
	a.primary = primary
	a.multi = spec.Multi()
	a.log.Info("audio sources ready",
		zap.Int("sources", len(entries)),
		zap.String("primary", primary),
		zap.Duration("duration", longest))
	return nil
}

// Play starts every source in lock-step and calls onStarted once playback is
// under way.
func (a *Analyzer) Play(onStarted func()) error {
	if len(a.sources) == 0 {
		return fmt.Errorf("play: %w", ErrNotReady)
	}
	if a.playing {
		return nil
	}
	for i, name := range a.names {
		if err := a.sources[name].Play(); err != nil {
			for _, started := range a.names[:i] {
				_ = a.sources[started].Pause()
			}
			return fmt.Errorf("playing source %q: %w", name, err)
		}
	}
	a.startTime = a.clock()
	a.playing = true
	a.lastProgress = 0
	a.log.Info("playback started", zap.String("primary", a.primary))
	if onStarted != nil {
		onStarted()
	}
	return nil
}

// Ended returns the primary source's end signal for the current playthrough.
// It returns nil before Load; a nil channel never fires.
func (a *Analyzer) Ended() <-chan struct{} {
	src := a.primarySource()
	if src == nil {
		return nil
	}
	return src.Ended()
}

// Progress returns the primary playback position as a percentage rounded to
// two decimals. It never decreases while playing and is exactly 100 once the
// primary source has ended.
func (a *Analyzer) Progress() float64 {
	src := a.primarySource()
	if src == nil {
		return 0
	}
	select {
	case <-src.Ended():
		a.lastProgress = 100
		return 100
	default:
	}
	d := src.Duration()
	if d <= 0 {
		return a.lastProgress
	}
	v := round2(float64(src.Position()) * 100 / float64(d))
	if v > 100 {
		v = 100
	}
	if a.playing && v < a.lastProgress {
		v = a.lastProgress
	}
	a.lastProgress = v
	return v
}

// Release pauses and closes every source. Calling it again is a no-op.
func (a *Analyzer) Release() error {
	if a.released {
		return nil
	}
	a.released = true
	a.playing = false
	var errs []error
	for _, name := range a.names {
		src := a.sources[name]
		if err := src.Pause(); err != nil {
			errs = append(errs, fmt.Errorf("pausing %q: %w", name, err))
		}
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", name, err))
		}
	}
	a.log.Debug("audio sources released", zap.Int("sources", len(a.names)))
	return errors.Join(errs...)
}

func (a *Analyzer) primarySource() Source {
	if a.primary == "" {
		return nil
	}
	return a.sources[a.primary]
}

func (a *Analyzer) source(key string) (Source, string, error) {
	if len(a.sources) == 0 {
		return nil, "", ErrNotReady
	}
	if key == "" {
		key = a.primary
	}
	src, ok := a.sources[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownSource, key)
	}
	return src, key, nil
}

// capture reads one spectrum and enforces the configured bin count.
func (a *Analyzer) capture(name string, src Source) ([]uint8, error) {
	data, err := src.FrequencyData(a.scratch)
	if err != nil {
		return nil, fmt.Errorf("reading spectrum of %q: %w", name, err)
	}
	if len(data) != a.binCount {
		return nil, &SpectrumLengthError{Source: name, Want: a.binCount, Got: len(data)}
	}
	a.scratch = data
	return data, nil
}
