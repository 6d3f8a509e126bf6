//go:build opencl

package simulation

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
)

const particleKernelSource = `
#ifdef USE_HALF
typedef half store_t;
#define LOAD(buf, i) vload_half((i), (buf))
#define STORE(buf, i, v) vstore_half((v), (i), (buf))
#else
typedef float store_t;
#define LOAD(buf, i) (buf)[(i)]
#define STORE(buf, i, v) (buf)[(i)] = (v)
#endif

__kernel void step_particles(
    const int count,
    const float intensity,
    const float time,
    __global const store_t* seed,
    __global const store_t* src,
    __global store_t* dst)
{
    int i = get_global_id(0);
    if (i >= count) {
        return;
    }
    int b = i * 3;
    float sx = LOAD(seed, b);
    float se = LOAD(seed, b + 1);
    float sz = LOAD(seed, b + 2);
    float ce = LOAD(src, b + 1);
    float phase = sqrt(sx * sx + sz * sz) * 0.05f - time * 2.0f;
    float target = se * (1.0f + 0.5f * intensity) + 24.0f * intensity * sin(phase);
    STORE(dst, b, sx);
    STORE(dst, b + 1, ce + (target - ce) * 0.2f);
    STORE(dst, b + 2, sz);
}`

// kernel argument slots
const (
	argCount = iota
	argIntensity
	argTime
	argSeed
	argSrc
	argDst
)

type clBuffer struct {
	owner  *OpenCLDevice
	mem    *cl.MemObject
	width  int
	height int
}

func (b *clBuffer) Dimensions() (int, int) { return b.width, b.height }

// OpenCLDevice runs the kernel on the first GPU (or CPU) OpenCL device found.
type OpenCLDevice struct {
	context    *cl.Context
	queue      *cl.CommandQueue
	program    *cl.Program
	kernel     *cl.Kernel
	deviceName string
	half       bool

	boundSeed *cl.MemObject
	boundSrc  *cl.MemObject
	boundDst  *cl.MemObject
	boundN    int

	floatScratch []float32
	halfScratch  []uint16
}

// NewOpenCLDevice builds the particle kernel. With preferHalf the buffers
// hold binary16 values converted with vload_half/vstore_half.
func NewOpenCLDevice(preferHalf bool) (*OpenCLDevice, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with `clinfo`"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms available; ensure a vendor driver is installed and detected by `clinfo`")
	}
	device := pickDevice(platforms, cl.DeviceTypeGPU)
	if device == nil {
		device = pickDevice(platforms, cl.DeviceTypeCPU)
	}
	if device == nil {
		return nil, errors.New("no suitable OpenCL devices found")
	}

	context, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL context: %w", err)
	}
	d := &OpenCLDevice{context: context, deviceName: device.Name(), half: preferHalf}
	if d.queue, err = context.CreateCommandQueue(device, 0); err != nil {
		d.Close()
		return nil, fmt.Errorf("creating OpenCL command queue: %w", err)
	}
	if d.program, err = context.CreateProgramWithSource([]string{particleKernelSource}); err != nil {
		d.Close()
		return nil, fmt.Errorf("creating OpenCL program: %w", err)
	}
	options := ""
	if preferHalf {
		options = "-DUSE_HALF"
	}
	if err := d.program.BuildProgram([]*cl.Device{device}, options); err != nil {
		d.Close()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, fmt.Errorf("building OpenCL program: %s", string(buildErr))
		}
		return nil, fmt.Errorf("building OpenCL program: %w", err)
	}
	if d.kernel, err = d.program.CreateKernel("step_particles"); err != nil {
		d.Close()
		return nil, fmt.Errorf("creating OpenCL kernel: %w", err)
	}
	return d, nil
}

func pickDevice(platforms []*cl.Platform, kind cl.DeviceType) *cl.Device {
	for _, p := range platforms {
		devices, err := p.GetDevices(kind)
		if err != nil && err != cl.ErrDeviceNotFound {
			continue
		}
		if len(devices) > 0 {
			return devices[0]
		}
	}
	return nil
}

func (d *OpenCLDevice) Name() string {
	if d.half {
		return d.deviceName + " (fp16 storage)"
	}
	return d.deviceName
}

func (d *OpenCLDevice) byteSize(records int) int {
	if d.half {
		return records * halfStride * int(unsafe.Sizeof(uint16(0)))
	}
	return records * halfStride * int(unsafe.Sizeof(float32(0)))
}

func (d *OpenCLDevice) Allocate(width, height int, init []Record) (Buffer, error) {
	if d.context == nil {
		return nil, ErrDeviceClosed
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	size := width * height
	if init != nil && len(init) != size {
		return nil, fmt.Errorf("initial data holds %d records, want %d", len(init), size)
	}
	mem, err := d.context.CreateEmptyBuffer(cl.MemReadWrite, d.byteSize(size))
	if err != nil {
		return nil, fmt.Errorf("allocating %dx%d buffer: %w", width, height, err)
	}
	buf := &clBuffer{owner: d, mem: mem, width: width, height: height}
	if init != nil {
		if err := d.upload(buf, init); err != nil {
			mem.Release()
			return nil, err
		}
	}
	return buf, nil
}

func (d *OpenCLDevice) upload(buf *clBuffer, records []Record) error {
	var ptr unsafe.Pointer
	if d.half {
		host := d.ensureHalf(len(records) * halfStride)
		PackHalf(host, records)
		ptr = unsafe.Pointer(&host[0])
	} else {
		host := d.ensureFloat(len(records) * halfStride)
		flatten(host, records)
		ptr = unsafe.Pointer(&host[0])
	}
	if _, err := d.queue.EnqueueWriteBuffer(buf.mem, true, 0, d.byteSize(len(records)), ptr, nil); err != nil {
		return fmt.Errorf("writing buffer: %w", err)
	}
	return nil
}

func (d *OpenCLDevice) own(b Buffer) (*clBuffer, error) {
	cb, ok := b.(*clBuffer)
	if !ok || cb.owner != d || cb.mem == nil {
		return nil, ErrForeignBuffer
	}
	return cb, nil
}

// bindBuffers rebinds only the arguments whose handle changed since the last
// dispatch.
func (d *OpenCLDevice) bindBuffers(n int, seed, src, dst *cl.MemObject) error {
	if d.boundN != n {
		if err := d.kernel.SetArgInt32(argCount, int32(n)); err != nil {
			return err
		}
		d.boundN = n
	}
	if d.boundSeed != seed {
		if err := d.kernel.SetArgBuffer(argSeed, seed); err != nil {
			return err
		}
		d.boundSeed = seed
	}
	if d.boundSrc != src {
		if err := d.kernel.SetArgBuffer(argSrc, src); err != nil {
			return err
		}
		d.boundSrc = src
	}
	if d.boundDst != dst {
		if err := d.kernel.SetArgBuffer(argDst, dst); err != nil {
			return err
		}
		d.boundDst = dst
	}
	return nil
}

func (d *OpenCLDevice) Dispatch(p KernelParams, seed, src, dst Buffer) error {
	if d.kernel == nil {
		return ErrDeviceClosed
	}
	if err := checkDispatch(seed, src, dst); err != nil {
		return err
	}
	seedBuf, err := d.own(seed)
	if err != nil {
		return err
	}
	srcBuf, err := d.own(src)
	if err != nil {
		return err
	}
	dstBuf, err := d.own(dst)
	if err != nil {
		return err
	}
	n := seedBuf.width * seedBuf.height
	if err := d.bindBuffers(n, seedBuf.mem, srcBuf.mem, dstBuf.mem); err != nil {
		return fmt.Errorf("binding buffers: %w", err)
	}
	if err := d.kernel.SetArgFloat32(argIntensity, p.Intensity); err != nil {
		return fmt.Errorf("setting intensity: %w", err)
	}
	if err := d.kernel.SetArgFloat32(argTime, p.Time); err != nil {
		return fmt.Errorf("setting time: %w", err)
	}
	if _, err := d.queue.EnqueueNDRangeKernel(d.kernel, nil, []int{n}, nil, nil); err != nil {
		return fmt.Errorf("enqueueing kernel: %w", err)
	}
	if err := d.queue.Finish(); err != nil {
		return fmt.Errorf("finishing queue: %w", err)
	}
	return nil
}

func (d *OpenCLDevice) Read(buf Buffer, dst []Record) error {
	cb, err := d.own(buf)
	if err != nil {
		return err
	}
	size := cb.width * cb.height
	if len(dst) != size {
		return fmt.Errorf("read destination holds %d records, want %d", len(dst), size)
	}
	if d.half {
		host := d.ensureHalf(size * halfStride)
		if _, err := d.queue.EnqueueReadBuffer(cb.mem, true, 0, d.byteSize(size), unsafe.Pointer(&host[0]), nil); err != nil {
			return fmt.Errorf("reading buffer: %w", err)
		}
		UnpackHalf(dst, host)
		return nil
	}
	host := d.ensureFloat(size * halfStride)
	if _, err := d.queue.EnqueueReadBufferFloat32(cb.mem, true, 0, host, nil); err != nil {
		return fmt.Errorf("reading buffer: %w", err)
	}
	unflatten(dst, host)
	return nil
}

func (d *OpenCLDevice) Release(buf Buffer) {
	cb, err := d.own(buf)
	if err != nil {
		return
	}
	switch cb.mem {
	case d.boundSeed:
		d.boundSeed = nil
	case d.boundSrc:
		d.boundSrc = nil
	case d.boundDst:
		d.boundDst = nil
	}
	cb.mem.Release()
	cb.mem = nil
}

// Close releases the kernel, program, queue and context. Buffers must be
// released first.
func (d *OpenCLDevice) Close() error {
	if d.kernel != nil {
		d.kernel.Release()
		d.kernel = nil
	}
	if d.program != nil {
		d.program.Release()
		d.program = nil
	}
	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.context != nil {
		d.context.Release()
		d.context = nil
	}
	return nil
}

func (d *OpenCLDevice) ensureFloat(n int) []float32 {
	if cap(d.floatScratch) < n {
		d.floatScratch = make([]float32, n)
	}
	d.floatScratch = d.floatScratch[:n]
	return d.floatScratch
}

func (d *OpenCLDevice) ensureHalf(n int) []uint16 {
	if cap(d.halfScratch) < n {
		d.halfScratch = make([]uint16, n)
	}
	d.halfScratch = d.halfScratch[:n]
	return d.halfScratch
}

func flatten(dst []float32, src []Record) {
	for i, r := range src {
		o := i * halfStride
		dst[o], dst[o+1], dst[o+2] = r.X, r.Elevation, r.Z
	}
}

func unflatten(dst []Record, src []float32) {
	for i := range dst {
		o := i * halfStride
		dst[i] = Record{X: src[o], Elevation: src[o+1], Z: src[o+2]}
	}
}
