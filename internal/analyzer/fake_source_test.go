package analyzer

import (
	"context"
	"errors"
	"time"
)

// fakeSource replays a fixed spectrum sequence, one entry per refresh step.
type fakeSource struct {
	spectra  [][]uint8
	idx      int
	duration time.Duration
	position time.Duration
	bins     int

	ready    chan struct{}
	ended    chan struct{}
	endFired bool
	loadErr  error

	playing bool
	muted   bool
	volume  float64
	closed  int
	plays   int
	rewinds int
}

func newFakeSource(bins int, duration time.Duration, spectra ...[]uint8) *fakeSource {
	s := &fakeSource{
		spectra:  spectra,
		duration: duration,
		bins:     bins,
		ready:    make(chan struct{}),
		ended:    make(chan struct{}),
		muted:    true,
	}
	close(s.ready)
	return s
}

func (s *fakeSource) Ready() <-chan struct{}  { return s.ready }
func (s *fakeSource) Err() error              { return s.loadErr }
func (s *fakeSource) Duration() time.Duration { return s.duration }
func (s *fakeSource) Position() time.Duration { return s.position }
func (s *fakeSource) SetVolume(v float64)     { s.volume = v }
func (s *fakeSource) SetMuted(m bool)         { s.muted = m }
func (s *fakeSource) Ended() <-chan struct{}  { return s.ended }

func (s *fakeSource) Play() error {
	s.playing = true
	s.plays++
	return nil
}

func (s *fakeSource) Pause() error {
	s.playing = false
	return nil
}

func (s *fakeSource) Rewind() error {
	s.rewinds++
	s.idx = 0
	s.position = 0
	if s.endFired {
		s.ended = make(chan struct{})
		s.endFired = false
	}
	return nil
}

func (s *fakeSource) SetFFTSize(n int) error {
	if s.bins == 0 {
		s.bins = n / 2
	}
	return nil
}

func (s *fakeSource) FrequencyData(dst []uint8) ([]uint8, error) {
	if len(s.spectra) == 0 {
		return make([]uint8, s.bins), nil
	}
	i := s.idx
	if i >= len(s.spectra) {
		i = len(s.spectra) - 1
	}
	return append(dst[:0], s.spectra[i]...), nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

func (s *fakeSource) Advance(d time.Duration) bool {
	s.idx++
	s.position += d
	return s.idx >= len(s.spectra)
}

// finish fires the end signal as a real player would at end of track.
func (s *fakeSource) finish() {
	s.position = s.duration
	if !s.endFired {
		s.endFired = true
		close(s.ended)
	}
}

// realtimeSource hides Advance so calibration takes the ticker path. Each
// spectrum read moves on to the next entry.
type realtimeSource struct {
	*fakeSource
}

func (realtimeSource) Advance() {}

func (r realtimeSource) FrequencyData(dst []uint8) ([]uint8, error) {
	out, err := r.fakeSource.FrequencyData(dst)
	if r.idx < len(r.spectra)-1 {
		r.idx++
	}
	return out, err
}

type fakeOpener struct {
	sources map[string]Source
	opened  []string
	err     error
}

func (o *fakeOpener) Open(_ context.Context, name, uri string) (Source, error) {
	o.opened = append(o.opened, name)
	if o.err != nil {
		return nil, o.err
	}
	src, ok := o.sources[name]
	if !ok {
		return nil, errors.New("no such fake source: " + uri)
	}
	return src, nil
}

func flat(bins int, v uint8) []uint8 {
	out := make([]uint8, bins)
	for i := range out {
		out[i] = v
	}
	return out
}
