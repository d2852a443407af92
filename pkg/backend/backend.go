// Package backend provides the transport backends a transfer agent moves
// region bytes through. The agent depends only on the Backend interface;
// concrete variants cover host memory, device memory and file spans.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/neurogrid/xferbench/pkg/region"
)

var (
	ErrPluginNotFound  = errors.New("backend plugin not found")
	ErrUnsupportedKind = errors.New("memory kind not supported by backend")
	ErrShortBuffer     = errors.New("buffer shorter than requested span")
	ErrBackendClosed   = errors.New("backend closed")
)

// Known backend plugin names.
const (
	PluginUCX   = "UCX"
	PluginGDS   = "GDS"
	PluginPOSIX = "POSIX"
)

// Config holds backend construction options.
type Config struct {
	// PluginDir is the backend discovery root. Empty skips discovery
	// and allows any built-in backend.
	PluginDir string

	// DeviceID selects the accelerator for device-backed regions.
	DeviceID int

	// PoolSize bounds the pinned staging pool for device copies.
	PoolSize int64

	// TransportTimeout bounds peer connection establishment.
	TransportTimeout time.Duration
}

// DefaultConfig returns default backend configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:         256 * 1024 * 1024, // 256MB staging pool
		TransportTimeout: 5 * time.Second,
	}
}

// Backend moves bytes between registered regions and host buffers.
type Backend interface {
	// Name returns the plugin name (UCX, GDS, POSIX).
	Name() string

	// MemKinds returns the region kinds this backend can serve.
	MemKinds() []region.MemKind

	// ReadRegion copies the first len(p) bytes of r into p.
	ReadRegion(ctx context.Context, r *region.Region, p []byte) error

	// WriteRegion copies p into the start of r.
	WriteRegion(ctx context.Context, p []byte, r *region.Region) error

	// Close releases backend resources.
	Close() error
}

// supports reports whether kind is in the backend's served set.
func supports(b Backend, kind region.MemKind) bool {
	for _, k := range b.MemKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// CheckRegion validates that r can be served by b with a span of length n.
func CheckRegion(b Backend, r *region.Region, n int) error {
	if !supports(b, r.Kind) {
		return ErrUnsupportedKind
	}
	if n > r.Length {
		return ErrShortBuffer
	}
	return nil
}
