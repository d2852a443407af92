package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/neurogrid/xferbench/pkg/gpu"
	"github.com/neurogrid/xferbench/pkg/region"
)

// HostBackend serves host and device memory regions. This is the variant
// a paired-agent network benchmark runs over.
type HostBackend struct {
	dev    gpu.Connector
	mu     sync.Mutex
	closed bool
}

// NewHostBackend creates a host memory backend with a device connector
// for VRAM regions.
func NewHostBackend(cfg Config) (*HostBackend, error) {
	dev, err := gpu.NewConnector(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("create device connector: %w", err)
	}
	return &HostBackend{dev: dev}, nil
}

// Name returns the plugin name.
func (b *HostBackend) Name() string {
	return PluginUCX
}

// MemKinds returns the served region kinds.
func (b *HostBackend) MemKinds() []region.MemKind {
	return []region.MemKind{region.DRAM, region.VRAM}
}

// ReadRegion copies the first len(p) bytes of r into p.
func (b *HostBackend) ReadRegion(ctx context.Context, r *region.Region, p []byte) error {
	if err := b.check(r, len(p)); err != nil {
		return err
	}

	switch r.Kind {
	case region.DRAM:
		copy(p, r.Buf[:len(p)])
		return nil
	default: // VRAM
		return b.dev.ToHost(ctx, r.DevPtr, p)
	}
}

// WriteRegion copies p into the start of r.
func (b *HostBackend) WriteRegion(ctx context.Context, p []byte, r *region.Region) error {
	if err := b.check(r, len(p)); err != nil {
		return err
	}

	switch r.Kind {
	case region.DRAM:
		copy(r.Buf, p)
		return nil
	default: // VRAM
		return b.dev.ToDevice(ctx, p, r.DevPtr)
	}
}

// check validates state and span (takes the lock briefly for closed).
func (b *HostBackend) check(r *region.Region, n int) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return ErrBackendClosed
	}
	return CheckRegion(b, r, n)
}

// Device exposes the underlying connector for direct device staging.
func (b *HostBackend) Device() gpu.Connector {
	return b.dev
}

// Close releases the device connector. Safe to call twice.
func (b *HostBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.dev.Close()
}

var _ Backend = (*HostBackend)(nil)
