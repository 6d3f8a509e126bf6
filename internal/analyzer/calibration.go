package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CalibrationProfile holds the observed raw-average range of a track and the
// average power ceiling it is normalized against.
type CalibrationProfile struct {
	Track        string  `yaml:"track,omitempty"`
	FFTSize      int     `yaml:"fft_size,omitempty"`
	MinPower     float64 `yaml:"min_power"`
	MaxPower     float64 `yaml:"max_power"`
	AveragePower float64 `yaml:"average_power,omitempty"`
}

// Range returns MaxPower-MinPower.
func (p CalibrationProfile) Range() float64 { return p.MaxPower - p.MinPower }

func (p CalibrationProfile) validate() error {
	if math.IsNaN(p.MinPower) || math.IsNaN(p.MaxPower) || math.IsInf(p.MinPower, 0) || math.IsInf(p.MaxPower, 0) {
		return fmt.Errorf("%w: non-finite power bounds", ErrInvalidProfile)
	}
	if p.MaxPower <= p.MinPower {
		return fmt.Errorf("%w: max power %.3f must exceed min power %.3f", ErrInvalidProfile, p.MaxPower, p.MinPower)
	}
	return nil
}

// Profile returns the installed profile.
func (a *Analyzer) Profile() (CalibrationProfile, bool) {
	if a.profile == nil {
		return CalibrationProfile{}, false
	}
	return *a.profile, true
}

// UseProfile installs known-good power bounds instead of running a pre-roll.
// The average power is always taken from the configured fft size.
func (a *Analyzer) UseProfile(p CalibrationProfile) error {
	if a.fftSize == 0 {
		return ErrNotConfigured
	}
	if a.profile != nil {
		return ErrAlreadyCalibrated
	}
	if err := p.validate(); err != nil {
		return err
	}
	if p.FFTSize != 0 && p.FFTSize != a.fftSize {
		return fmt.Errorf("%w: profile recorded at fft size %d, analyzer uses %d", ErrInvalidProfile, p.FFTSize, a.fftSize)
	}
	p.FFTSize = a.fftSize
	p.AveragePower = a.averagePower
	a.profile = &p
	a.logProfile("calibration profile supplied", p)
	return nil
}

type powerStats struct {
	min, max float64
	samples  int
}

func newPowerStats() powerStats {
	return powerStats{min: math.Inf(1), max: math.Inf(-1)}
}

func (s *powerStats) add(v float64) {
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	s.samples++
}

// Calibrate plays the primary source from start to end, sampling the raw
// average once per refresh interval, and installs the observed range as the
// profile. The source is rewound afterwards.
func (a *Analyzer) Calibrate(ctx context.Context) (CalibrationProfile, error) {
	if a.fftSize == 0 {
		return CalibrationProfile{}, ErrNotConfigured
	}
	if a.profile != nil {
		return CalibrationProfile{}, ErrAlreadyCalibrated
	}
	if a.playing {
		return CalibrationProfile{}, ErrPlaying
	}
	src := a.primarySource()
	if src == nil {
		return CalibrationProfile{}, fmt.Errorf("calibrate: %w", ErrNotReady)
	}
	if err := src.Rewind(); err != nil {
		return CalibrationProfile{}, fmt.Errorf("rewinding %q: %w", a.primary, err)
	}

	started := time.Now()
	stats := newPowerStats()
	var err error
	if st, ok := src.(Stepper); ok {
		err = a.calibrateStepped(ctx, src, st, &stats)
	} else {
		err = a.calibrateRealtime(ctx, src, &stats)
	}
	if rerr := src.Rewind(); rerr != nil && err == nil {
		err = fmt.Errorf("rewinding %q: %w", a.primary, rerr)
	}
	if err != nil {
		a.log.Warn("calibration aborted", zap.Int("samples", stats.samples), zap.Error(err))
		return CalibrationProfile{}, err
	}
	if stats.samples == 0 {
		return CalibrationProfile{}, incomplete(errors.New("no spectrum samples captured"))
	}

	p := CalibrationProfile{
		Track:        a.primary,
		FFTSize:      a.fftSize,
		MinPower:     stats.min,
		MaxPower:     stats.max,
		AveragePower: a.averagePower,
	}
	if err := p.validate(); err != nil {
		return CalibrationProfile{}, err
	}
	a.profile = &p
	a.logProfile("calibration finished", p,
		zap.Int("samples", stats.samples),
		zap.Duration("elapsed", time.Since(started)))
	return p, nil
}

func (a *Analyzer) calibrateStepped(ctx context.Context, src Source, st Stepper, stats *powerStats) error {
	for {
		if err := ctx.Err(); err != nil {
			return incomplete(err)
		}
		data, err := a.capture(a.primary, src)
		if err != nil {
			return err
		}
		stats.add(RawAverage(data))
		if st.Advance(a.refresh) {
			return nil
		}
	}
}

func (a *Analyzer) calibrateRealtime(ctx context.Context, src Source, stats *powerStats) error {
	src.SetMuted(true)
	defer src.SetMuted(false)
	if err := src.Play(); err != nil {
		return fmt.Errorf("playing %q for calibration: %w", a.primary, err)
	}
	defer func() { _ = src.Pause() }()

	ticker := time.NewTicker(a.refresh)
	defer ticker.Stop()
	ended := src.Ended()
	for {
		select {
		case <-ctx.Done():
			return incomplete(ctx.Err())
		case <-ended:
			if stats.samples == 0 {
				return incomplete(errors.New("track ended before the first sample"))
			}
			return nil
		case <-ticker.C:
			data, err := a.capture(a.primary, src)
			if err != nil {
				return err
			}
			stats.add(RawAverage(data))
		}
	}
}

func (a *Analyzer) logProfile(msg string, p CalibrationProfile, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.Float64("min_power", p.MinPower),
		zap.Float64("max_power", p.MaxPower),
		zap.Float64("range", p.Range()),
		zap.Float64("average_power", p.AveragePower),
	}, extra...)
	a.log.Info(msg, fields...)
}

// LoadProfile reads a YAML calibration profile.
func LoadProfile(path string) (CalibrationProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return CalibrationProfile{}, err
	}
	var p CalibrationProfile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return CalibrationProfile{}, fmt.Errorf("decoding profile %q: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return CalibrationProfile{}, fmt.Errorf("profile %q: %w", path, err)
	}
	return p, nil
}

// SaveProfile writes p as YAML.
func SaveProfile(path string, p CalibrationProfile) error {
	raw, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing profile %q: %w", path, err)
	}
	return nil
}
