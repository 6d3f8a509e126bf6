//go:build !opencl

package simulation

// OpenCLDevice is unavailable without the opencl build tag.
type OpenCLDevice struct{}

// NewOpenCLDevice always fails in this build.
func NewOpenCLDevice(bool) (*OpenCLDevice, error) {
	return nil, ErrOpenCLUnavailable
}

func (*OpenCLDevice) Name() string { return "" }

func (*OpenCLDevice) Allocate(int, int, []Record) (Buffer, error) {
	return nil, ErrOpenCLUnavailable
}

func (*OpenCLDevice) Dispatch(KernelParams, Buffer, Buffer, Buffer) error {
	return ErrOpenCLUnavailable
}

func (*OpenCLDevice) Read(Buffer, []Record) error { return ErrOpenCLUnavailable }

func (*OpenCLDevice) Release(Buffer) {}

func (*OpenCLDevice) Close() error { return nil }
