package media

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ARP/internal/spectrum"
)

// endPollInterval is how often the end watcher checks the player.
const endPollInterval = 20 * time.Millisecond

// player is the subset of *audio.Player a Track drives.
type player interface {
	Play()
	Pause()
	IsPlaying() bool
	Rewind() error
	Position() time.Duration
	SetVolume(volume float64)
	Close() error
}

var errNotDecoded = errors.New("track not decoded")

// Track is one audio file played through ebiten with an attached analyser.
// The analysis position follows the player while it plays and a virtual
// cursor otherwise, so a track can be analysed offline with Advance.
type Track struct {
	name string
	uri  string
	log  *zap.Logger

	ready chan struct{}
	quit  chan struct{}

	mu       sync.Mutex
	err      error
	data     *decoded
	player   player
	analyser *spectrum.Analyser
	fftSize  int
	volume   float64
	gain     float64
	muted    bool
	playing  bool
	virtual  time.Duration
	ended    chan struct{}
	endFired bool
	closed   bool
}

func newTrack(name, uri string, log *zap.Logger) *Track {
	return &Track{
		name:   name,
		uri:    uri,
		log:    log,
		ready:  make(chan struct{}),
		quit:   make(chan struct{}),
		ended:  make(chan struct{}),
		volume: 1,
		gain:   1,
		muted:  true,
	}
}

// attach installs decoded audio and its player and signals readiness. A
// non-nil err marks the track failed.
func (t *Track) attach(data *decoded, p player, err error) {
	t.mu.Lock()
	if err == nil && t.closed {
		err = errors.New("track closed while loading")
	}
	if err != nil {
		t.err = err
		if p != nil {
			_ = p.Close()
		}
	} else {
		t.data = data
		t.player = p
		t.applyVolume()
		go t.watchEnd()
	}
	t.mu.Unlock()
	close(t.ready)
}

// Name returns the source key.
func (t *Track) Name() string { return t.name }

func (t *Track) Ready() <-chan struct{} { return t.ready }

func (t *Track) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Track) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data == nil {
		return 0
	}
	return t.data.duration()
}

func (t *Track) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

func (t *Track) positionLocked() time.Duration {
	if t.player != nil && (t.playing || t.virtual == 0) {
		return t.player.Position()
	}
	return t.virtual
}

func (t *Track) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.player == nil {
		return errNotDecoded
	}
	t.player.Play()
	t.playing = true
	return nil
}

func (t *Track) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.player == nil {
		return nil
	}
	t.player.Pause()
	t.playing = false
	return nil
}

// Rewind moves both cursors to the start, clears analyser smoothing and arms
// a fresh end signal.
func (t *Track) Rewind() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.player == nil {
		return errNotDecoded
	}
	if err := t.player.Rewind(); err != nil {
		return err
	}
	t.virtual = 0
	if t.analyser != nil {
		t.analyser.Reset()
	}
	if t.endFired {
		t.ended = make(chan struct{})
		t.endFired = false
	}
	return nil
}

func (t *Track) SetVolume(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = v
	t.applyVolume()
}

func (t *Track) SetMuted(muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = muted
	t.applyVolume()
}

func (t *Track) applyVolume() {
	if t.player == nil {
		return
	}
	if t.muted {
		t.player.SetVolume(0)
		return
	}
	t.player.SetVolume(t.volume * t.gain)
}

func (t *Track) Ended() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// SetFFTSize replaces the analyser.
func (t *Track) SetFFTSize(n int) error {
	a, err := spectrum.New(n)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.analyser = a
	t.fftSize = n
	t.mu.Unlock()
	return nil
}

func (t *Track) FrequencyData(dst []uint8) ([]uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data == nil {
		return nil, errNotDecoded
	}
	if t.analyser == nil {
		return nil, errors.New("analyser not configured")
	}
	end := frameAt(t.positionLocked(), t.data.sampleRate, len(t.data.mono))
	return t.analyser.ByteFrequencyData(t.data.mono, end, dst), nil
}

// Advance moves the virtual cursor without producing audio and reports
// whether the end of the track was reached.
func (t *Track) Advance(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data == nil {
		return true
	}
	t.virtual += d
	total := t.data.duration()
	if t.virtual >= total {
		t.virtual = total
		return true
	}
	return false
}

// Close stops the end watcher and the player. Calling it again is a no-op.
func (t *Track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.quit)
	if t.player == nil {
		return nil
	}
	err := t.player.Close()
	t.player = nil
	return err
}

// watchEnd fires the end signal once a started player stops by itself.
func (t *Track) watchEnd() {
	ticker := time.NewTicker(endPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.quit:
			return
		case <-ticker.C:
			t.checkEnd()
		}
	}
}

func (t *Track) checkEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing || t.endFired || t.player == nil || t.player.IsPlaying() {
		return
	}
	t.playing = false
	t.endFired = true
	close(t.ended)
	t.log.Debug("track ended", zap.String("track", t.name))
}
