//go:build cuda
// +build cuda

package gpu

import (
	"context"
	"sync"
	"unsafe"

	"github.com/neurogrid/xferbench/gpu/bindings"
)

// CUDAConnector implements Connector using CUDA async memcpy.
type CUDAConnector struct {
	stream bindings.Stream
	pool   *PinnedPool
	mu     sync.Mutex
}

// NewCUDAConnector creates a new CUDA connector.
func NewCUDAConnector(poolSize int64) (*CUDAConnector, error) {
	stream, err := bindings.CreateStream()
	if err != nil {
		return nil, err
	}

	pool, err := NewPinnedPool(poolSize)
	if err != nil {
		bindings.DestroyStream(stream)
		return nil, err
	}

	return &CUDAConnector{
		stream: stream,
		pool:   pool,
	}, nil
}

// ToHost copies len(dst) bytes from device memory at devPtr into dst.
func (c *CUDAConnector) ToHost(ctx context.Context, devPtr uintptr, dst []byte) error {
	if len(dst) == 0 {
		return ErrInvalidSpan
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Stage through a pinned buffer
	buf, err := c.pool.Alloc(len(dst))
	if err != nil {
		return err
	}
	defer c.pool.Free(buf)

	pinnedPtr := unsafe.Pointer(&buf[0])
	srcPtr := unsafe.Pointer(devPtr)

	if err := bindings.CopyToHost(pinnedPtr, srcPtr, len(dst), c.stream); err != nil {
		return err
	}

	if err := bindings.SyncStream(c.stream); err != nil {
		return err
	}

	copy(dst, buf)
	return nil
}

// ToDevice copies src into device memory at devPtr.
func (c *CUDAConnector) ToDevice(ctx context.Context, src []byte, devPtr uintptr) error {
	if len(src) == 0 {
		return ErrInvalidSpan
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf, err := c.pool.Alloc(len(src))
	if err != nil {
		return err
	}
	defer c.pool.Free(buf)

	copy(buf, src)

	pinnedPtr := unsafe.Pointer(&buf[0])
	dstPtr := unsafe.Pointer(devPtr)

	if err := bindings.CopyToDevice(dstPtr, pinnedPtr, len(src), c.stream); err != nil {
		return err
	}

	return bindings.SyncStream(c.stream)
}

// Sync waits for async operations to complete.
func (c *CUDAConnector) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bindings.SyncStream(c.stream)
}

// Close releases resources.
func (c *CUDAConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}

	if c.stream != nil {
		bindings.DestroyStream(c.stream)
		c.stream = nil
	}

	return nil
}

// DeviceMemInfo returns GPU memory info.
func DeviceMemInfo(deviceID int) (totalMem, freeMem int64, err error) {
	return bindings.GetDeviceMemInfo(deviceID)
}
