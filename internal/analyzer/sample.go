package analyzer

import (
	"fmt"
	"math"
)

// maxMagnitude is the largest byte magnitude an analyser reports.
const maxMagnitude = 255

// AveragePowerFor returns the power ceiling for binCount bins: the
// index-weighted average of a spectrum saturated at maxMagnitude, divided by 100.
// It depends only on binCount, never on audio data.
func AveragePowerFor(binCount int) float64 {
	if binCount < 2 {
		return 0
	}
	sum := 0.0
	for i := 0; i < binCount; i++ {
		sum += float64(maxMagnitude + i)
	}
	return sum / float64(binCount-1) / 100
}

// RawAverage returns the index-weighted spectrum average Σ(value[i]+i)/(n-1).
// Adding the bin index is deliberate; calibration and sampling both rely on it.
func RawAverage(spectrum []uint8) float64 {
	n := len(spectrum)
	if n < 2 {
		return 0
	}
	sum := 0.0
	for i, v := range spectrum {
		sum += float64(v) + float64(i)
	}
	return sum / float64(n-1)
}

// AnalysedValue returns the un-normalized value for a source: its raw average
// divided by the average power ceiling. An empty key selects the primary.
// Like Sample it needs a calibration profile and running playback.
func (a *Analyzer) AnalysedValue(key string) (float64, error) {
	if err := a.sampleReady("analysed value"); err != nil {
		return 0, err
	}
	src, name, err := a.source(key)
	if err != nil {
		return 0, err
	}
	data, err := a.capture(name, src)
	if err != nil {
		return 0, err
	}
	return RawAverage(data) / a.averagePower, nil
}

// Sample returns the reactive value for the current frame of the named source
// (primary when key is empty). It needs a calibration profile and running
// playback.
func (a *Analyzer) Sample(key string) (float64, error) {
	if err := a.sampleReady("sample"); err != nil {
		return 0, err
	}
	src, name, err := a.source(key)
	if err != nil {
		return 0, err
	}
	data, err := a.capture(name, src)
	if err != nil {
		return 0, err
	}
	return a.profile.Scalar(RawAverage(data)), nil
}

func (a *Analyzer) sampleReady(op string) error {
	if a.profile == nil {
		return fmt.Errorf("%s: no calibration profile: %w", op, ErrNotReady)
	}
	if !a.playing {
		return fmt.Errorf("%s: playback not started: %w", op, ErrNotReady)
	}
	return nil
}

// Scalar maps a raw average onto the profile's normalized range:
// the analysed value minus the normalized minimum, scaled by 100 over the
// normalized range, then rounded to two decimals of the unit interval.
func (p CalibrationProfile) Scalar(raw float64) float64 {
	ap := p.AveragePower
	analysed := raw / ap
	minN := p.MinPower / ap
	rangeN := (p.MaxPower - p.MinPower) / ap
	v := (analysed - minN) * (100 / rangeN)
	return math.Round(v) / 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
