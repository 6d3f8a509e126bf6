package simulation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyDevice wraps a CPUDevice and fails on demand.
type flakyDevice struct {
	*CPUDevice
	allocs       int
	failAllocAt  int
	dispatchErr  error
	releasedBufs int
}

func (d *flakyDevice) Allocate(w, h int, init []Record) (Buffer, error) {
	d.allocs++
	if d.allocs == d.failAllocAt {
		return nil, errors.New("out of device memory")
	}
	return d.CPUDevice.Allocate(w, h, init)
}

func (d *flakyDevice) Dispatch(p KernelParams, seed, src, dst Buffer) error {
	if d.dispatchErr != nil {
		return d.dispatchErr
	}
	return d.CPUDevice.Dispatch(p, seed, src, dst)
}

func (d *flakyDevice) Release(b Buffer) {
	d.releasedBufs++
	d.CPUDevice.Release(b)
}

func solidImage(w, h int, rgb uint8) SeedImage {
	pix := make([]uint8, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = rgb, rgb, rgb, 255
	}
	return SeedImage{Width: w, Height: h, Pix: pix}
}

func newTestPipeline(t *testing.T, w, h int) *Pipeline {
	t.Helper()
	dev := NewCPUDevice(3)
	t.Cleanup(func() { _ = dev.Close() })
	p := New(dev)
	require.NoError(t, p.Initialize(w, h, solidImage(w, h, 128)))
	return p
}

func TestCurrentBufferAlternatesWithParity(t *testing.T) {
	p := newTestPipeline(t, 4, 3)
	original := p.CurrentBuffer()

	require.NoError(t, p.Update(KernelParams{Intensity: 0.4, Time: 0.1}))
	b0 := p.CurrentBuffer()
	assert.NotSame(t, original, b0)

	for k := 2; k <= 7; k++ {
		require.NoError(t, p.Update(KernelParams{Intensity: 0.4, Time: float32(k) / 60}))
		if k%2 == 0 {
			assert.Same(t, original, p.CurrentBuffer(), "k=%d", k)
		} else {
			assert.Same(t, b0, p.CurrentBuffer(), "k=%d", k)
		}
	}
	assert.Equal(t, 7, p.Generation())
}

func TestSeedTransformBlackWhite(t *testing.T) {
	img := SeedImage{Width: 2, Height: 1, Pix: []uint8{
		0, 0, 0, 255,
		255, 255, 255, 255,
	}}
	dev := NewCPUDevice(1)
	defer dev.Close()
	p := New(dev)
	require.NoError(t, p.Initialize(2, 1, img))

	got := make([]Record, 2)
	require.NoError(t, p.ReadBuffer(p.CurrentBuffer(), got))

	assert.Equal(t, float32(0), got[0].Elevation)
	assert.InDelta(t, 64, got[1].Elevation-got[0].Elevation, 1e-4)

	assert.Equal(t, Record{X: -1, Elevation: 0, Z: -0.5}, got[0])
	assert.Equal(t, float32(0), got[1].X)
	assert.Equal(t, float32(-0.5), got[1].Z)
}

func TestSeedLayoutCentresOnOrigin(t *testing.T) {
	recs := seedRecords(4, 2, solidImage(4, 2, 0))
	assert.Equal(t, Record{X: -2, Z: -1}, recs[0])
	assert.Equal(t, Record{X: 1, Z: -1}, recs[3])
	assert.Equal(t, Record{X: -2, Z: 0}, recs[4])
	assert.Equal(t, Record{X: 1, Z: 0}, recs[7])

	odd := seedRecords(3, 3, solidImage(3, 3, 0))
	assert.Equal(t, Record{X: -1.5, Z: -1.5}, odd[0])
	assert.Equal(t, Record{X: -0.5, Z: -0.5}, odd[4])
	assert.Equal(t, Record{X: 0.5, Z: 0.5}, odd[8])
}

func TestUpdateMatchesKernel(t *testing.T) {
	p := newTestPipeline(t, 5, 4)
	seed := seedRecords(5, 4, solidImage(5, 4, 128))

	params := []KernelParams{{Intensity: 0.8, Time: 0.5}, {Intensity: 0.2, Time: 0.6}}
	want := append([]Record(nil), seed...)
	for _, kp := range params {
		require.NoError(t, p.Update(kp))
		for i := range want {
			want[i] = StepRecord(seed[i], want[i], kp)
		}
	}
	got := make([]Record, len(want))
	require.NoError(t, p.ReadBuffer(p.CurrentBuffer(), got))
	assert.Equal(t, want, got)
}

func TestZeroIntensityHoldsSeed(t *testing.T) {
	p := newTestPipeline(t, 3, 3)
	before := make([]Record, 9)
	require.NoError(t, p.ReadBuffer(p.CurrentBuffer(), before))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Update(KernelParams{Time: float32(i)}))
	}
	after := make([]Record, 9)
	require.NoError(t, p.ReadBuffer(p.CurrentBuffer(), after))
	assert.Equal(t, before, after)
}

func TestInitializeRejectsBadDimensions(t *testing.T) {
	dev := NewCPUDevice(1)
	defer dev.Close()

	for _, tc := range []struct {
		name string
		w, h int
		img  SeedImage
	}{
		{"zero width", 0, 2, solidImage(0, 2, 0)},
		{"negative height", 2, -1, SeedImage{Width: 2, Height: -1}},
		{"mismatched seed", 3, 3, solidImage(2, 2, 0)},
		{"short pixels", 2, 2, SeedImage{Width: 2, Height: 2, Pix: make([]uint8, 4)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := New(dev)
			err := p.Initialize(tc.w, tc.h, tc.img)
			var re *ResourceAllocationError
			require.ErrorAs(t, err, &re)
			assert.Nil(t, p.CurrentBuffer())
		})
	}
}

func TestInitializeReleasesOnAllocationFailure(t *testing.T) {
	dev := &flakyDevice{CPUDevice: NewCPUDevice(1), failAllocAt: 3}
	defer dev.Close()
	p := New(dev)

	err := p.Initialize(2, 2, solidImage(2, 2, 10))
	var re *ResourceAllocationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 2, dev.releasedBufs)
	assert.Nil(t, p.CurrentBuffer())
}

func TestSecondInitializeFails(t *testing.T) {
	p := newTestPipeline(t, 2, 2)
	err := p.Initialize(4, 4, solidImage(4, 4, 0))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	w, h := p.Dimensions()
	assert.Equal(t, 2, w)
	assert.Equal(t, 2, h)
}

func TestUpdateBeforeInitialize(t *testing.T) {
	p := New(NewCPUDevice(1))
	assert.ErrorIs(t, p.Update(KernelParams{}), ErrNotInitialized)
}

func TestDispatchFailurePoisonsPipeline(t *testing.T) {
	dev := &flakyDevice{CPUDevice: NewCPUDevice(2)}
	defer dev.Close()
	p := New(dev)
	require.NoError(t, p.Initialize(2, 2, solidImage(2, 2, 0)))
	before := p.CurrentBuffer()

	boom := errors.New("device lost")
	dev.dispatchErr = boom
	err := p.Update(KernelParams{Intensity: 1})
	assert.ErrorIs(t, err, boom)
	assert.True(t, p.Failed())
	assert.Same(t, before, p.CurrentBuffer())

	dev.dispatchErr = nil
	err = p.Update(KernelParams{Intensity: 1})
	assert.ErrorIs(t, err, ErrPipelineFailed)
	assert.Equal(t, 0, p.Generation())
}

func TestReleaseIsIdempotent(t *testing.T) {
	dev := &flakyDevice{CPUDevice: NewCPUDevice(1)}
	defer dev.Close()
	p := New(dev)
	require.NoError(t, p.Initialize(2, 2, solidImage(2, 2, 0)))

	p.Release()
	p.Release()
	assert.Equal(t, 3, dev.releasedBufs)
	assert.Nil(t, p.CurrentBuffer())
	assert.ErrorIs(t, p.Initialize(2, 2, solidImage(2, 2, 0)), ErrAlreadyInitialized)
}
