// Package simulation keeps the particle field on a compute device and advances
// it once per frame by feeding each tick's output back in as the next input.
package simulation

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Pipeline owns the seed buffer and the ping-pong pair. It is driven from a
// single loop.
type Pipeline struct {
	log *zap.Logger
	dev Device

	width  int
	height int

	seed    Buffer
	current Buffer
	next    Buffer

	generation int
	failed     error
	released   bool
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// New returns an uninitialized pipeline running on dev.
func New(dev Device, opts ...Option) *Pipeline {
	p := &Pipeline{log: zap.NewNop(), dev: dev}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize seeds the field from img and allocates the three device buffers.
// Dimensions are fixed from here on.
func (p *Pipeline) Initialize(width, height int, img SeedImage) error {
	if p.current != nil || p.released {
		return ErrAlreadyInitialized
	}
	fail := func(err error) error {
		return &ResourceAllocationError{Width: width, Height: height, Err: err}
	}
	if width <= 0 || height <= 0 {
		return fail(errors.New("dimensions must be positive"))
	}
	if img.Width != width || img.Height != height {
		return fail(fmt.Errorf("seed image is %dx%d", img.Width, img.Height))
	}
	if len(img.Pix) < width*height*4 {
		return fail(fmt.Errorf("seed image holds %d bytes, want %d", len(img.Pix), width*height*4))
	}

	records := seedRecords(width, height, img)
	var allocated []Buffer
	alloc := func(init []Record) (Buffer, error) {
		buf, err := p.dev.Allocate(width, height, init)
		if err != nil {
			for _, b := range allocated {
				p.dev.Release(b)
			}
			return nil, fail(err)
		}
		allocated = append(allocated, buf)
		return buf, nil
	}
	seed, err := alloc(records)
	if err != nil {
		return err
	}
	ping, err := alloc(records)
	if err != nil {
		return err
	}
	pong, err := alloc(nil)
	if err != nil {
		return err
	}

	p.width, p.height = width, height
	p.seed, p.current, p.next = seed, ping, pong
	p.log.Info("simulation initialized",
		zap.String("device", p.dev.Name()),
		zap.Int("width", width),
		zap.Int("height", height))
	return nil
}

// Update runs one kernel pass from the current buffer into the next one and
// swaps them. A failed dispatch poisons the pipeline.
func (p *Pipeline) Update(params KernelParams) error {
	if p.failed != nil {
		return fmt.Errorf("%w: %w", ErrPipelineFailed, p.failed)
	}
	if p.current == nil {
		return ErrNotInitialized
	}
	if err := p.dev.Dispatch(params, p.seed, p.current, p.next); err != nil {
		p.failed = err
		p.log.Error("simulation dispatch failed",
			zap.Int("generation", p.generation),
			zap.Error(err))
		return fmt.Errorf("dispatching generation %d: %w", p.generation+1, err)
	}
	p.current, p.next = p.next, p.current
	p.generation++
	return nil
}

// CurrentBuffer returns the buffer holding the latest state.
func (p *Pipeline) CurrentBuffer() Buffer { return p.current }

// ReadBuffer copies buf from the device into dst.
func (p *Pipeline) ReadBuffer(buf Buffer, dst []Record) error {
	if buf == nil {
		return ErrNotInitialized
	}
	return p.dev.Read(buf, dst)
}

// Dimensions returns the fixed field size, zero before Initialize.
func (p *Pipeline) Dimensions() (width, height int) { return p.width, p.height }

// Generation counts successful updates.
func (p *Pipeline) Generation() int { return p.generation }

// Failed reports whether a dispatch failed.
func (p *Pipeline) Failed() bool { return p.failed != nil }

// Release frees every device buffer. Calling it again is a no-op.
func (p *Pipeline) Release() {
	if p.released {
		return
	}
	p.released = true
	for _, b := range []Buffer{p.seed, p.current, p.next} {
		if b != nil {
			p.dev.Release(b)
		}
	}
	p.seed, p.current, p.next = nil, nil, nil
	p.log.Debug("simulation buffers released", zap.Int("generation", p.generation))
}
