// Package region tracks memory and file spans eligible for bulk transfer.
package region

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
)

var (
	ErrInvalidLength     = errors.New("region length must be positive")
	ErrAlreadyRegistered = errors.New("backing already registered")
	ErrRegionBusy        = errors.New("region referenced by in-flight transfer")
	ErrNotFound          = errors.New("region not found")
	ErrRegistryClosed    = errors.New("registry closed")
)

// ID identifies a registered region within one registry.
type ID uint64

// MemKind describes what backs a region.
type MemKind int

const (
	DRAM MemKind = iota // host memory
	VRAM                // device memory
	FILE                // file span at a fixed offset
)

// String returns the kind name used on the wire and in logs.
func (k MemKind) String() string {
	switch k {
	case DRAM:
		return "DRAM"
	case VRAM:
		return "VRAM"
	case FILE:
		return "FILE"
	}
	return fmt.Sprintf("MemKind(%d)", int(k))
}

// AccessMode controls which transfer directions may touch a region.
type AccessMode int

const (
	ModeRead AccessMode = iota + 1
	ModeWrite
	ModeReadWrite
)

// CanRead reports whether data may be read out of the region.
func (m AccessMode) CanRead() bool {
	return m == ModeRead || m == ModeReadWrite
}

// CanWrite reports whether data may be written into the region.
func (m AccessMode) CanWrite() bool {
	return m == ModeWrite || m == ModeReadWrite
}

// Region is a registered, addressable span. The registry owns the
// bookkeeping only; the backing memory or file stays caller-owned.
type Region struct {
	ID     ID
	Kind   MemKind
	Mode   AccessMode
	Length int

	// Exactly one of the backings below is set, per Kind.
	Buf    []byte   // DRAM
	DevPtr uintptr  // VRAM
	File   *os.File // FILE
	Offset int64    // FILE offset within File

	refCount atomic.Int32
}

// String returns a human-readable region description.
func (r *Region) String() string {
	return fmt.Sprintf("region %d (%s, %d bytes)", r.ID, r.Kind, r.Length)
}

// Ref pins the region against deregistration for the duration of a transfer.
func (r *Region) Ref() {
	r.refCount.Add(1)
}

// Unref releases one transfer reference.
func (r *Region) Unref() int32 {
	return r.refCount.Add(-1)
}

// RefCount returns the number of transfers currently referencing the region.
func (r *Region) RefCount() int32 {
	return r.refCount.Load()
}
