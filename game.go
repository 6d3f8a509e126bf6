package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"go.uber.org/zap"

	"ARP/internal/session"
)

// Game adapts a session to ebiten's loop. Each Update runs at most one
// session tick, so the simulation advances once per refresh.
type Game struct {
	log      *zap.Logger
	session  *session.Session
	sched    *frameScheduler
	camera   *orbitCamera
	renderer *particleRenderer

	mu       sync.Mutex
	started  bool
	startErr error

	layoutW int
	layoutH int
}

func newGame(log *zap.Logger, s *session.Session, sched *frameScheduler, camera *orbitCamera, renderer *particleRenderer) *Game {
	return &Game{
		log:      log,
		session:  s,
		sched:    sched,
		camera:   camera,
		renderer: renderer,
		layoutW:  renderer.width,
		layoutH:  renderer.height,
	}
}

// startFinished records the outcome of Session.Start from the loader goroutine.
func (g *Game) startFinished(err error) {
	g.mu.Lock()
	g.started = true
	g.startErr = err
	g.mu.Unlock()
}

func (g *Game) startState() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started, g.startErr
}

// Update runs the pending session tick and ends the game with the session.
func (g *Game) Update() error {
	started, err := g.startState()
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	g.camera.update()
	if !started {
		return nil
	}
	g.sched.run()

	select {
	case <-g.session.Done():
		if err := g.session.Err(); err != nil {
			return err
		}
		g.log.Info("session complete", zap.Int("frames", g.session.Frames()))
		return ebiten.Termination
	default:
	}
	return nil
}

// Draw blits the latest frame and the overlay.
func (g *Game) Draw(screen *ebiten.Image) {
	if started, _ := g.startState(); !started {
		ebitenutil.DebugPrint(screen, "loading audio and seed image...")
		return
	}
	g.renderer.blit(screen)
	g.drawHUD(screen)
}

// Layout renders at the window's native size and forwards size changes to
// the session.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != g.layoutW || outsideHeight != g.layoutH {
		g.layoutW, g.layoutH = outsideWidth, outsideHeight
		g.session.OnResize(outsideWidth, outsideHeight)
	}
	return g.layoutW, g.layoutH
}

// isTermination reports whether RunGame ended normally.
func isTermination(err error) bool {
	return err == nil || errors.Is(err, ebiten.Termination)
}
