package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"ARP/internal/analyzer"
	"ARP/internal/spectrum"
)

// audioFlag collects -audio values. A single bare path plays one track;
// name=path pairs play several tracks in lock-step.
type audioFlag []string

func (a *audioFlag) String() string { return strings.Join(*a, ",") }

func (a *audioFlag) Set(v string) error {
	if strings.TrimSpace(v) == "" {
		return errors.New("empty audio path")
	}
	*a = append(*a, v)
	return nil
}

// spec converts the collected values into a source spec.
func (a audioFlag) spec() (analyzer.SourceSpec, error) {
	switch {
	case len(a) == 0:
		return analyzer.SourceSpec{}, errors.New("no -audio track given")
	case len(a) == 1 && !strings.Contains(a[0], "="):
		return analyzer.SingleSource(a[0]), nil
	}
	tracks := make(map[string]string, len(a))
	for _, v := range a {
		name, path, ok := strings.Cut(v, "=")
		if !ok || name == "" || path == "" {
			return analyzer.SourceSpec{}, fmt.Errorf("audio track %q: want name=path when several tracks are given", v)
		}
		if _, dup := tracks[name]; dup {
			return analyzer.SourceSpec{}, fmt.Errorf("audio track name %q given twice", name)
		}
		tracks[name] = path
	}
	return analyzer.MultiSource(tracks), nil
}

// Command-line flags controlling media, analysis and rendering.
var (
	// audioTracks lists the audio files to play.
	audioTracks audioFlag

	// imageFlag is the seed image whose pixels become particles.
	imageFlag = flag.String("image", "", "seed image (png, jpeg, gif, bmp, tiff or webp)")

	// fftSizeFlag sets the analyser resolution.
	fftSizeFlag = flag.Int("fft-size", spectrum.DefaultFFTSize, "analyser FFT size (power of two, 32-32768)")

	// lowPerformanceFlag trades spectral resolution for speed.
	lowPerformanceFlag = flag.Bool("low-performance", false, "use a 256-point FFT")

	// songMinFlag and songMaxFlag supply known power bounds and skip calibration.
	songMinFlag = flag.Float64("song-min", 0, "known minimum raw spectrum average (with -song-max, skips calibration)")
	songMaxFlag = flag.Float64("song-max", 0, "known maximum raw spectrum average (with -song-min, skips calibration)")

	// demoProfileFlag uses the bounds measured for the original demo track.
	demoProfileFlag = flag.Bool("demo-profile", false, "use the demo track's power bounds instead of calibrating")

	// profileFlag loads power bounds from a YAML calibration profile.
	profileFlag = flag.String("profile", "", "calibration profile to load instead of calibrating")

	// saveProfileFlag writes the profile in use to a YAML file once playback starts.
	saveProfileFlag = flag.String("save-profile", "", "write the calibration profile to this file")

	// maxSeedFlag caps the seed image's longer side.
	maxSeedFlag = flag.Int("max-seed", defaultMaxSeedDim, "downsize the seed image so its longer side is at most this many pixels (0 keeps it)")

	// openCLFlag runs the simulation on an OpenCL device.
	openCLFlag = flag.Bool("opencl", false, "run the particle kernel with OpenCL (build with -tags opencl)")

	// preferFP16Flag stores OpenCL buffers as half floats.
	preferFP16Flag = flag.Bool("prefer-fp16", false, "use 16-bit buffers for the OpenCL device")

	// workersFlag sizes the CPU worker pool.
	workersFlag = flag.Int("workers", 0, "CPU simulation workers (0 uses GOMAXPROCS)")

	// debugFlag enables debug logging and the FPS overlay.
	debugFlag = flag.Bool("debug", false, "debug logging and FPS overlay")

	// cpuProfileFlag writes a CPU profile for the whole run.
	cpuProfileFlag = flag.String("cpuprofile", "", "write a CPU profile to this file")

	// volumeFlag scales playback volume.
	volumeFlag = flag.Float64("volume", 1, "playback volume (0-1)")
)

func init() {
	flag.Var(&audioTracks, "audio", "audio track path, or name=path (repeatable) for several tracks")
}
