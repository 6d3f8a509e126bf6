package simulation

import (
	"errors"
	"fmt"
)

var (
	// ErrPipelineFailed is returned by Update once a dispatch has failed.
	ErrPipelineFailed = errors.New("simulation pipeline failed")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("simulation pipeline already initialized")
	// ErrNotInitialized is returned by Update before Initialize.
	ErrNotInitialized = errors.New("simulation pipeline not initialized")
	// ErrAliasedBuffers is returned when a dispatch would read and write the
	// same buffer.
	ErrAliasedBuffers = errors.New("source and destination buffers alias")
	// ErrForeignBuffer is returned when a buffer was allocated by another device.
	ErrForeignBuffer = errors.New("buffer does not belong to this device")
	// ErrDeviceClosed is returned by any call after Close.
	ErrDeviceClosed = errors.New("device closed")
	// ErrOpenCLUnavailable is returned by NewOpenCLDevice in builds without
	// the opencl tag.
	ErrOpenCLUnavailable = errors.New("OpenCL support is not enabled; rebuild with -tags opencl")
)

// ResourceAllocationError reports a failure to build the simulation state.
type ResourceAllocationError struct {
	Width  int
	Height int
	Err    error
}

func (e *ResourceAllocationError) Error() string {
	return fmt.Sprintf("allocating %dx%d simulation state: %v", e.Width, e.Height, e.Err)
}

func (e *ResourceAllocationError) Unwrap() error { return e.Err }

// Buffer is a device-resident grid of records.
type Buffer interface {
	Dimensions() (width, height int)
}

// Device runs the particle kernel. Buffers are only valid on the device that
// allocated them.
type Device interface {
	Name() string
	// Allocate creates a width*height buffer. init may be nil for an
	// uninitialized buffer; otherwise it must hold width*height records.
	Allocate(width, height int, init []Record) (Buffer, error)
	// Dispatch writes StepRecord(seed[i], src[i], p) into dst[i] for every
	// texel. src and dst must be distinct.
	Dispatch(p KernelParams, seed, src, dst Buffer) error
	// Read copies buf into dst, which must hold width*height records.
	Read(buf Buffer, dst []Record) error
	Release(buf Buffer)
	Close() error
}

func checkDispatch(seed, src, dst Buffer) error {
	if src == dst || seed == dst {
		return ErrAliasedBuffers
	}
	sw, sh := seed.Dimensions()
	for _, b := range []Buffer{src, dst} {
		w, h := b.Dimensions()
		if w != sw || h != sh {
			return fmt.Errorf("buffer is %dx%d, seed is %dx%d", w, h, sw, sh)
		}
	}
	return nil
}
