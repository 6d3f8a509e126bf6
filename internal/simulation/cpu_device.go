package simulation

import (
	"fmt"
	"runtime"
	"sync"
)

// cpuBuffer is a host-memory grid owned by one CPUDevice.
type cpuBuffer struct {
	owner  *CPUDevice
	width  int
	height int
	data   []Record
}

func (b *cpuBuffer) Dimensions() (int, int) { return b.width, b.height }

// workerMask collects the rows assigned to a worker goroutine.
type workerMask struct {
	rows []int
}

// assignRows distributes rows across workers in round robin fashion.
func assignRows(workerCount, height int) []workerMask {
	if workerCount < 1 {
		workerCount = 1
	}
	masks := make([]workerMask, workerCount)
	for y := 0; y < height; y++ {
		idx := y % workerCount
		masks[idx].rows = append(masks[idx].rows, y)
	}
	return masks
}

type cpuJob struct {
	params KernelParams
	width  int
	seed   []Record
	src    []Record
	dst    []Record
}

// CPUDevice runs the kernel on a persistent pool of worker goroutines. Each
// Dispatch wakes every worker once and waits until all rows are written.
type CPUDevice struct {
	workerCount int

	mu      sync.Mutex
	cond    *sync.Cond
	step    int
	pending int
	masks   []workerMask
	maskH   int
	job     cpuJob
	started bool
	closed  bool
}

// NewCPUDevice returns a device with the given number of workers; values
// below one select GOMAXPROCS.
func NewCPUDevice(workers int) *CPUDevice {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	d := &CPUDevice{workerCount: workers}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *CPUDevice) Name() string {
	return fmt.Sprintf("cpu (%d workers)", d.workerCount)
}

// Workers returns the pool size.
func (d *CPUDevice) Workers() int { return d.workerCount }

func (d *CPUDevice) Allocate(width, height int, init []Record) (Buffer, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrDeviceClosed
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	size := width * height
	if init != nil && len(init) != size {
		return nil, fmt.Errorf("initial data holds %d records, want %d", len(init), size)
	}
	buf := &cpuBuffer{owner: d, width: width, height: height, data: make([]Record, size)}
	copy(buf.data, init)
	return buf, nil
}

func (d *CPUDevice) own(b Buffer) (*cpuBuffer, error) {
	cb, ok := b.(*cpuBuffer)
	if !ok || cb.owner != d || cb.data == nil {
		return nil, ErrForeignBuffer
	}
	return cb, nil
}

func (d *CPUDevice) Dispatch(p KernelParams, seed, src, dst Buffer) error {
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

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	d.startWorkers()
	if d.maskH != seedBuf.height {
		d.masks = assignRows(d.workerCount, seedBuf.height)
		d.maskH = seedBuf.height
	}
	d.job = cpuJob{
		params: p,
		width:  seedBuf.width,
		seed:   seedBuf.data,
		src:    srcBuf.data,
		dst:    dstBuf.data,
	}
	d.pending = d.workerCount
	d.step++
	d.cond.Broadcast()
	for d.pending > 0 {
		d.cond.Wait()
	}
	d.job = cpuJob{}
	return nil
}

func (d *CPUDevice) Read(buf Buffer, dst []Record) error {
	cb, err := d.own(buf)
	if err != nil {
		return err
	}
	if len(dst) != len(cb.data) {
		return fmt.Errorf("read destination holds %d records, want %d", len(dst), len(cb.data))
	}
	copy(dst, cb.data)
	return nil
}

func (d *CPUDevice) Release(buf Buffer) {
	if cb, err := d.own(buf); err == nil {
		cb.data = nil
	}
}

// Close stops the worker goroutines. Calling it again is a no-op.
func (d *CPUDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	return nil
}

// startWorkers launches the pool on first use. d.mu must be held.
func (d *CPUDevice) startWorkers() {
	if d.started {
		return
	}
	d.started = true
	for i := 0; i < d.workerCount; i++ {
		go d.workerLoop(i)
	}
}

// workerLoop executes the kernel for the rows assigned to the worker.
func (d *CPUDevice) workerLoop(index int) {
	lastStep := 0
	d.mu.Lock()
	for {
		for d.step == lastStep {
			if d.closed {
				d.mu.Unlock()
				return
			}
			d.cond.Wait()
		}
		lastStep = d.step
		var mask workerMask
		if index < len(d.masks) {
			mask = d.masks[index]
		}
		job := d.job
		d.mu.Unlock()

		if len(mask.rows) > 0 {
			processMask(&job, &mask)
		}

		d.mu.Lock()
		d.pending--
		if d.pending == 0 {
			d.cond.Broadcast()
		}
	}
}

// processMask steps every texel of the worker's rows.
func processMask(job *cpuJob, mask *workerMask) {
	width := job.width
	p := job.params
	for _, y := range mask.rows {
		base := y * width
		seed := job.seed[base : base+width]
		src := job.src[base : base+width]
		dst := job.dst[base : base+width]
		for x := range dst {
			dst[x] = StepRecord(seed[x], src[x], p)
		}
	}
}
