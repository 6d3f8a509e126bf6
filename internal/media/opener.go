// Package media plays audio files through ebiten's audio context and exposes
// each one as an analysable source.
package media

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"go.uber.org/zap"

	"ARP/internal/analyzer"
)

// Opener loads WAV and MP3 files into players on one audio context.
type Opener struct {
	ctx      *audio.Context
	log      *zap.Logger
	gain     float64
	readFile func(string) ([]byte, error)
}

// Option customises an Opener.
type Option func(*Opener)

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Opener) {
		if log != nil {
			o.log = log
		}
	}
}

// WithGain scales every track's volume, clamped to [0,1].
func WithGain(g float64) Option {
	return func(o *Opener) {
		o.gain = math.Max(0, math.Min(1, g))
	}
}

// NewOpener returns an opener playing through ctx.
func NewOpener(ctx *audio.Context, opts ...Option) *Opener {
	o := &Opener{ctx: ctx, log: zap.NewNop(), gain: 1, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open starts decoding uri in the background and returns immediately. The
// track's Ready channel closes once the file is playable or has failed.
func (o *Opener) Open(ctx context.Context, name, uri string) (analyzer.Source, error) {
	if uri == "" {
		return nil, fmt.Errorf("source %q has no path", name)
	}
	t := newTrack(name, uri, o.log)
	t.gain = o.gain
	go o.load(ctx, t)
	return t, nil
}

func (o *Opener) load(ctx context.Context, t *Track) {
	raw, err := o.readFile(t.uri)
	if err != nil {
		t.attach(nil, nil, err)
		return
	}
	if err := ctx.Err(); err != nil {
		t.attach(nil, nil, err)
		return
	}
	data, err := decodeTrack(o.ctx.SampleRate(), t.uri, raw)
	if err != nil {
		t.attach(nil, nil, err)
		return
	}
	p := o.ctx.NewPlayerFromBytes(data.pcm)
	o.log.Info("audio track decoded",
		zap.String("track", t.name),
		zap.String("path", t.uri),
		zap.Duration("duration", data.duration()),
		zap.Int("sample_rate", data.sampleRate))
	t.attach(data, p, nil)
}
