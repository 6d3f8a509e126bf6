package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"go.uber.org/zap"

	"ARP/internal/analyzer"
	"ARP/internal/media"
	"ARP/internal/seed"
	"ARP/internal/session"
	"ARP/internal/simulation"
)

func main() {
	flag.Parse()
	log, err := newLogger(*debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	if err := run(log); err != nil {
		log.Error("exiting", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(log *zap.Logger) error {
	if *cpuProfileFlag != "" {
		stop, err := startCPUProfile(*cpuProfileFlag)
		if err != nil {
			return fmt.Errorf("starting CPU profile: %w", err)
		}
		defer stop()
	}

	spec, err := audioTracks.spec()
	if err != nil {
		return err
	}
	if *imageFlag == "" {
		return errors.New("no -image given")
	}
	profile, err := resolveProfile()
	if err != nil {
		return err
	}
	fftSize := *fftSizeFlag
	if *lowPerformanceFlag {
		fftSize = lowPerformanceFFT
	}

	dev := newDevice(log)
	defer dev.Close()

	audioCtx := audio.NewContext(audioSampleRate)
	camera := newOrbitCamera()
	renderer := newParticleRenderer(camera, windowWidth, windowHeight)
	sched := &frameScheduler{}

	s, err := session.New(session.Config{
		Audio:           spec,
		ImagePath:       *imageFlag,
		FFTSize:         fftSize,
		Profile:         profile,
		RefreshInterval: refreshInterval,
	}, session.Deps{
		Opener:    media.NewOpener(audioCtx, media.WithLogger(log.Named("media")), media.WithGain(*volumeFlag)),
		Images:    seed.NewLoader(seed.WithLogger(log.Named("seed")), seed.WithMaxDimension(*maxSeedFlag)),
		Device:    dev,
		Scheduler: sched,
		Drawer:    renderer,
		Viewport:  renderer,
		Logger:    log.Named("session"),
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer s.Destroy()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	go func() {
		select {
		case <-sigCtx.Done():
			log.Info("interrupted")
			s.Destroy()
		case <-s.Done():
		}
	}()

	game := newGame(log, s, sched, camera, renderer)
	go func() {
		ctx, cancel := context.WithTimeout(sigCtx, startTimeout)
		defer cancel()
		err := s.Start(ctx)
		if err == nil && *saveProfileFlag != "" {
			saveProfile(log, s, *saveProfileFlag)
		}
		game.startFinished(err)
	}()

	ebiten.SetWindowSize(windowWidth, windowHeight)
	ebiten.SetWindowTitle(windowTitle)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(defaultTPS)
	if err := ebiten.RunGame(game); !isTermination(err) {
		if errors.Is(err, session.ErrDestroyed) {
			return nil
		}
		return err
	}
	return nil
}

// resolveProfile picks the calibration profile supplied on the command line.
// A nil profile means the track is calibrated before playback.
func resolveProfile() (*analyzer.CalibrationProfile, error) {
	switch {
	case *profileFlag != "":
		p, err := analyzer.LoadProfile(*profileFlag)
		if err != nil {
			return nil, err
		}
		return &p, nil
	case *songMinFlag != 0 || *songMaxFlag != 0:
		return &analyzer.CalibrationProfile{MinPower: *songMinFlag, MaxPower: *songMaxFlag}, nil
	case *demoProfileFlag:
		return &analyzer.CalibrationProfile{MinPower: demoMinPower, MaxPower: demoMaxPower}, nil
	}
	return nil, nil
}

func saveProfile(log *zap.Logger, s *session.Session, path string) {
	p, ok := s.Profile()
	if !ok {
		return
	}
	if err := analyzer.SaveProfile(path, p); err != nil {
		log.Warn("saving calibration profile", zap.Error(err))
		return
	}
	log.Info("calibration profile saved", zap.String("path", path))
}

// newDevice returns the OpenCL device when requested and available, and the
// CPU worker pool otherwise.
func newDevice(log *zap.Logger) simulation.Device {
	if *openCLFlag {
		dev, err := simulation.NewOpenCLDevice(*preferFP16Flag)
		if err == nil {
			log.Info("OpenCL device enabled", zap.String("device", dev.Name()))
			return dev
		}
		log.Warn("OpenCL unavailable, using CPU workers", zap.Error(err))
	}
	dev := simulation.NewCPUDevice(*workersFlag)
	log.Info("CPU device enabled", zap.Int("workers", dev.Workers()))
	return dev
}
