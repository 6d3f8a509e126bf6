package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignRowsRoundRobin(t *testing.T) {
	masks := assignRows(3, 7)
	require.Len(t, masks, 3)
	assert.Equal(t, []int{0, 3, 6}, masks[0].rows)
	assert.Equal(t, []int{1, 4}, masks[1].rows)
	assert.Equal(t, []int{2, 5}, masks[2].rows)

	assert.Len(t, assignRows(0, 2), 1)
}

func TestCPUDeviceMoreWorkersThanRows(t *testing.T) {
	dev := NewCPUDevice(8)
	defer dev.Close()

	init := seedRecords(3, 2, solidImage(3, 2, 200))
	seed, err := dev.Allocate(3, 2, init)
	require.NoError(t, err)
	src, err := dev.Allocate(3, 2, init)
	require.NoError(t, err)
	dst, err := dev.Allocate(3, 2, nil)
	require.NoError(t, err)

	kp := KernelParams{Intensity: 1, Time: 2}
	require.NoError(t, dev.Dispatch(kp, seed, src, dst))

	got := make([]Record, 6)
	require.NoError(t, dev.Read(dst, got))
	for i := range got {
		assert.Equal(t, StepRecord(init[i], init[i], kp), got[i])
	}
}

func TestCPUDeviceRejectsAliasing(t *testing.T) {
	dev := NewCPUDevice(2)
	defer dev.Close()
	a, err := dev.Allocate(2, 2, nil)
	require.NoError(t, err)
	b, err := dev.Allocate(2, 2, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, dev.Dispatch(KernelParams{}, a, b, b), ErrAliasedBuffers)
	assert.ErrorIs(t, dev.Dispatch(KernelParams{}, a, b, a), ErrAliasedBuffers)
}

func TestCPUDeviceRejectsForeignBuffers(t *testing.T) {
	one := NewCPUDevice(1)
	two := NewCPUDevice(1)
	defer one.Close()
	defer two.Close()

	seed, _ := one.Allocate(2, 2, nil)
	src, _ := one.Allocate(2, 2, nil)
	dst, _ := two.Allocate(2, 2, nil)
	assert.ErrorIs(t, one.Dispatch(KernelParams{}, seed, src, dst), ErrForeignBuffer)

	one.Release(src)
	assert.ErrorIs(t, one.Read(src, make([]Record, 4)), ErrForeignBuffer)
}

func TestCPUDeviceRejectsMismatchedSizes(t *testing.T) {
	dev := NewCPUDevice(1)
	defer dev.Close()
	seed, _ := dev.Allocate(2, 2, nil)
	src, _ := dev.Allocate(2, 2, nil)
	dst, _ := dev.Allocate(3, 2, nil)
	assert.Error(t, dev.Dispatch(KernelParams{}, seed, src, dst))

	_, err := dev.Allocate(2, 2, make([]Record, 3))
	assert.Error(t, err)
}

func TestCPUDeviceClosed(t *testing.T) {
	dev := NewCPUDevice(2)
	seed, _ := dev.Allocate(1, 1, nil)
	src, _ := dev.Allocate(1, 1, nil)
	dst, _ := dev.Allocate(1, 1, nil)
	require.NoError(t, dev.Dispatch(KernelParams{}, seed, src, dst))

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
	assert.ErrorIs(t, dev.Dispatch(KernelParams{}, seed, src, dst), ErrDeviceClosed)
	_, err := dev.Allocate(1, 1, nil)
	assert.ErrorIs(t, err, ErrDeviceClosed)
}

func TestOpenCLUnavailableWithoutTag(t *testing.T) {
	dev, err := NewOpenCLDevice(false)
	if err != nil {
		assert.ErrorIs(t, err, ErrOpenCLUnavailable)
		return
	}
	_ = dev.Close()
}
