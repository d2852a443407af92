package region

import (
	"log"
	"os"
	"sort"
	"sync"
	"unsafe"
)

// backingKey identifies the backing of a region for duplicate detection.
type backingKey struct {
	kind MemKind
	addr uintptr // first byte for DRAM, device pointer for VRAM, fd for FILE
	off  int64   // FILE only
}

// Stats contains registry counters.
type Stats struct {
	Regions      int
	Bytes        int64
	Registered   int64
	Deregistered int64
}

// Registry tracks regions owned by one agent.
type Registry struct {
	mu      sync.RWMutex
	regions map[ID]*Region
	byBack  map[backingKey]ID
	nextID  ID
	closed  bool

	registered   int64
	deregistered int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		regions: make(map[ID]*Region),
		byBack:  make(map[backingKey]ID),
	}
}

// Register adds a host memory region backed by buf.
func (g *Registry) Register(buf []byte, mode AccessMode) (ID, error) {
	if len(buf) == 0 {
		return 0, ErrInvalidLength
	}
	key := backingKey{kind: DRAM, addr: uintptr(unsafe.Pointer(&buf[0]))}
	return g.add(&Region{Kind: DRAM, Mode: mode, Length: len(buf), Buf: buf}, key)
}

// RegisterDevice adds a device memory region at ptr.
func (g *Registry) RegisterDevice(ptr uintptr, length int, mode AccessMode) (ID, error) {
	if length <= 0 {
		return 0, ErrInvalidLength
	}
	key := backingKey{kind: VRAM, addr: ptr}
	return g.add(&Region{Kind: VRAM, Mode: mode, Length: length, DevPtr: ptr}, key)
}

// RegisterFile adds a file-backed region covering length bytes at offset.
func (g *Registry) RegisterFile(f *os.File, offset int64, length int, mode AccessMode) (ID, error) {
	if length <= 0 {
		return 0, ErrInvalidLength
	}
	key := backingKey{kind: FILE, addr: f.Fd(), off: offset}
	return g.add(&Region{Kind: FILE, Mode: mode, Length: length, File: f, Offset: offset}, key)
}

// add inserts a region after duplicate checks (takes the lock).
func (g *Registry) add(r *Region, key backingKey) (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return 0, ErrRegistryClosed
	}
	if _, exists := g.byBack[key]; exists {
		return 0, ErrAlreadyRegistered
	}

	g.nextID++
	r.ID = g.nextID
	g.regions[r.ID] = r
	g.byBack[key] = r.ID
	g.registered++

	return r.ID, nil
}

// Lookup returns the region for id.
func (g *Registry) Lookup(id ID) (*Region, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, ErrRegistryClosed
	}
	r, exists := g.regions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return r, nil
}

// Deregister releases the bookkeeping for id. The backing memory or file
// is untouched. Fails with ErrRegionBusy while a transfer references it.
func (g *Registry) Deregister(id ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrRegistryClosed
	}
	r, exists := g.regions[id]
	if !exists {
		return ErrNotFound
	}
	if r.RefCount() > 0 {
		return ErrRegionBusy
	}

	delete(g.regions, id)
	delete(g.byBack, g.keyOf(r))
	g.deregistered++
	return nil
}

// keyOf rebuilds the backing key for a registered region (must hold lock).
func (g *Registry) keyOf(r *Region) backingKey {
	switch r.Kind {
	case DRAM:
		return backingKey{kind: DRAM, addr: uintptr(unsafe.Pointer(&r.Buf[0]))}
	case VRAM:
		return backingKey{kind: VRAM, addr: r.DevPtr}
	default:
		return backingKey{kind: FILE, addr: r.File.Fd(), off: r.Offset}
	}
}

// List returns all registered regions ordered by id.
func (g *Registry) List() []*Region {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Region, 0, len(g.regions))
	for _, r := range g.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns registry counters.
func (g *Registry) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var bytes int64
	for _, r := range g.regions {
		bytes += int64(r.Length)
	}
	return Stats{
		Regions:      len(g.regions),
		Bytes:        bytes,
		Registered:   g.registered,
		Deregistered: g.deregistered,
	}
}

// Close deregisters everything and marks the registry closed. Regions still
// referenced by in-flight transfers are abandoned, not retried. Safe to call
// more than once.
func (g *Registry) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	for id, r := range g.regions {
		if r.RefCount() > 0 {
			log.Printf("Abandoning busy %s on registry close", r)
		}
		delete(g.regions, id)
		g.deregistered++
	}
	g.byBack = nil
	g.closed = true
	return nil
}
