package backend

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/neurogrid/xferbench/pkg/gpu"
	"github.com/neurogrid/xferbench/pkg/region"
)

// FileBackend serves file-backed regions alongside host memory. With a
// device connector attached it covers the storage-to-accelerator path
// (the GDS shape); without one it is the plain POSIX variant.
type FileBackend struct {
	name   string
	dev    gpu.Connector // nil for POSIX
	mu     sync.Mutex
	closed bool
}

// NewGDSBackend creates a file backend with a device path.
func NewGDSBackend(cfg Config) (*FileBackend, error) {
	dev, err := gpu.NewConnector(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("create device connector: %w", err)
	}
	return &FileBackend{name: PluginGDS, dev: dev}, nil
}

// NewPOSIXBackend creates a file backend limited to host memory and files.
func NewPOSIXBackend(cfg Config) (*FileBackend, error) {
	return &FileBackend{name: PluginPOSIX}, nil
}

// Name returns the plugin name.
func (b *FileBackend) Name() string {
	return b.name
}

// MemKinds returns the served region kinds.
func (b *FileBackend) MemKinds() []region.MemKind {
	kinds := []region.MemKind{region.DRAM, region.FILE}
	if b.dev != nil {
		kinds = append(kinds, region.VRAM)
	}
	return kinds
}

// ReadRegion copies the first len(p) bytes of r into p.
func (b *FileBackend) ReadRegion(ctx context.Context, r *region.Region, p []byte) error {
	if err := b.check(r, len(p)); err != nil {
		return err
	}

	switch r.Kind {
	case region.DRAM:
		copy(p, r.Buf[:len(p)])
		return nil
	case region.VRAM:
		return b.dev.ToHost(ctx, r.DevPtr, p)
	default: // FILE
		n, err := r.File.ReadAt(p, r.Offset)
		if err == io.EOF && n == len(p) {
			err = nil
		}
		if err != nil {
			return fmt.Errorf("read file region at %d: %w", r.Offset, err)
		}
		return nil
	}
}

// WriteRegion copies p into the start of r.
func (b *FileBackend) WriteRegion(ctx context.Context, p []byte, r *region.Region) error {
	if err := b.check(r, len(p)); err != nil {
		return err
	}

	switch r.Kind {
	case region.DRAM:
		copy(r.Buf, p)
		return nil
	case region.VRAM:
		return b.dev.ToDevice(ctx, p, r.DevPtr)
	default: // FILE
		if _, err := r.File.WriteAt(p, r.Offset); err != nil {
			return fmt.Errorf("write file region at %d: %w", r.Offset, err)
		}
		return nil
	}
}

// check validates state and span.
func (b *FileBackend) check(r *region.Region, n int) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return ErrBackendClosed
	}
	return CheckRegion(b, r, n)
}

// Close releases the device connector if present. Safe to call twice.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.dev != nil {
		return b.dev.Close()
	}
	return nil
}

var _ Backend = (*FileBackend)(nil)
