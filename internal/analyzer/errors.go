package analyzer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when a reactive value is requested before a
	// calibration profile exists and playback has started.
	ErrNotReady = errors.New("analyzer not ready")
	// ErrCalibrationIncomplete is returned when the calibration pass stops
	// before the end of the track.
	ErrCalibrationIncomplete = errors.New("calibration incomplete")
	// ErrNotConfigured is returned when Load or Calibrate run before Configure.
	ErrNotConfigured = errors.New("analyzer fft size not configured")
	// ErrInvalidFFTSize is returned by Configure for unsupported sizes.
	ErrInvalidFFTSize = errors.New("invalid fft size")
	// ErrAlreadyLoaded is returned when the spectrum resolution would change
	// after sources were loaded.
	ErrAlreadyLoaded = errors.New("sources already loaded")
	// ErrAlreadyCalibrated is returned when a second profile is installed.
	ErrAlreadyCalibrated = errors.New("calibration profile already set")
	// ErrInvalidProfile is returned for profiles whose range is empty or
	// whose resolution does not match the analyzer.
	ErrInvalidProfile = errors.New("invalid calibration profile")
	// ErrUnknownSource is returned for sample keys that name no loaded source.
	ErrUnknownSource = errors.New("unknown audio source")
	// ErrPlaying is returned when calibration is requested during playback.
	ErrPlaying = errors.New("analyzer is playing")
	// ErrNoSources is returned for an empty source spec.
	ErrNoSources = errors.New("no audio sources")
)

// SourceLoadError reports a source that could not be opened or decoded.
type SourceLoadError struct {
	Name string
	URI  string
	Err  error
}

func (e *SourceLoadError) Error() string {
	return fmt.Sprintf("loading audio source %q (%s): %v", e.Name, e.URI, e.Err)
}

func (e *SourceLoadError) Unwrap() error { return e.Err }

// SpectrumLengthError reports a frequency capture whose bin count does not
// match the configured fft size.
type SpectrumLengthError struct {
	Source string
	Want   int
	Got    int
}

func (e *SpectrumLengthError) Error() string {
	return fmt.Sprintf("source %q returned %d frequency bins, want %d", e.Source, e.Got, e.Want)
}

func incomplete(cause error) error {
	return fmt.Errorf("%w: %w", ErrCalibrationIncomplete, cause)
}
