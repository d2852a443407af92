// Package gpu provides device memory staging for bulk transfers.
package gpu

import (
	"context"
	"errors"
)

var (
	ErrNotInitialized   = errors.New("GPU connector not initialized")
	ErrInvalidSpan      = errors.New("invalid device span")
	ErrAllocationFailed = errors.New("memory allocation failed")
	ErrPoolExhausted    = errors.New("pinned memory pool exhausted")
	ErrPoolClosed       = errors.New("pinned memory pool closed")
)

// Connector moves raw byte spans between device and host memory.
type Connector interface {
	// ToHost copies len(dst) bytes from device memory at devPtr into dst.
	ToHost(ctx context.Context, devPtr uintptr, dst []byte) error

	// ToDevice copies src into device memory at devPtr.
	ToDevice(ctx context.Context, src []byte, devPtr uintptr) error

	// Sync waits for async copies to complete.
	Sync() error

	// Close releases resources.
	Close() error
}

// PoolStats contains pool statistics.
type PoolStats struct {
	MaxSize     int64
	CurrentSize int64
	BufferCount int
	FreeCount   int
}
