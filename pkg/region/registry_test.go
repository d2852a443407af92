package region

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistry_RegisterLookup(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	buf := make([]byte, 256)
	id, err := reg.Register(buf, ModeReadWrite)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	r, err := reg.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if r.Kind != DRAM {
		t.Errorf("Expected DRAM region, got %s", r.Kind)
	}
	if r.Length != 256 {
		t.Errorf("Expected length 256, got %d", r.Length)
	}
	if !r.Mode.CanRead() || !r.Mode.CanWrite() {
		t.Error("ModeReadWrite should allow both directions")
	}
}

func TestRegistry_InvalidLength(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	if _, err := reg.Register(nil, ModeRead); err != ErrInvalidLength {
		t.Errorf("Expected ErrInvalidLength, got %v", err)
	}
	if _, err := reg.RegisterDevice(0x1000, 0, ModeRead); err != ErrInvalidLength {
		t.Errorf("Expected ErrInvalidLength for device region, got %v", err)
	}
}

func TestRegistry_AlreadyRegistered(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	buf := make([]byte, 128)
	if _, err := reg.Register(buf, ModeRead); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := reg.Register(buf, ModeWrite); err != ErrAlreadyRegistered {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistry_DeregisterThenLookup(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	buf := make([]byte, 64)
	id, _ := reg.Register(buf, ModeRead)

	if err := reg.Deregister(id); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	if _, err := reg.Lookup(id); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound after deregister, got %v", err)
	}

	// Backing is free for re-registration afterwards.
	if _, err := reg.Register(buf, ModeRead); err != nil {
		t.Errorf("Re-register after deregister failed: %v", err)
	}
}

func TestRegistry_DeregisterBusy(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	buf := make([]byte, 64)
	id, _ := reg.Register(buf, ModeRead)

	r, _ := reg.Lookup(id)
	r.Ref() // simulate a pending transfer

	if err := reg.Deregister(id); err != ErrRegionBusy {
		t.Errorf("Expected ErrRegionBusy, got %v", err)
	}

	r.Unref()
	if err := reg.Deregister(id); err != nil {
		t.Errorf("Deregister after release failed: %v", err)
	}
}

func TestRegistry_RegisterFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "regions.dat"))
	if err != nil {
		t.Fatalf("Create temp file: %v", err)
	}
	defer f.Close()

	reg := NewRegistry()
	defer reg.Close()

	id, err := reg.RegisterFile(f, 4096, 1024, ModeReadWrite)
	if err != nil {
		t.Fatalf("RegisterFile failed: %v", err)
	}

	r, _ := reg.Lookup(id)
	if r.Kind != FILE {
		t.Errorf("Expected FILE region, got %s", r.Kind)
	}
	if r.Offset != 4096 {
		t.Errorf("Expected offset 4096, got %d", r.Offset)
	}

	// Same file at a different offset is a distinct backing.
	if _, err := reg.RegisterFile(f, 8192, 1024, ModeReadWrite); err != nil {
		t.Errorf("Register at second offset failed: %v", err)
	}
	// Same file at the same offset is not.
	if _, err := reg.RegisterFile(f, 4096, 512, ModeRead); err != ErrAlreadyRegistered {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistry_ListOrdered(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	for i := 0; i < 4; i++ {
		if _, err := reg.Register(make([]byte, 32), ModeRead); err != nil {
			t.Fatalf("Register %d failed: %v", i, err)
		}
	}

	regions := reg.List()
	if len(regions) != 4 {
		t.Fatalf("Expected 4 regions, got %d", len(regions))
	}
	for i := 1; i < len(regions); i++ {
		if regions[i].ID <= regions[i-1].ID {
			t.Error("List should be ordered by id")
		}
	}
}

func TestRegistry_Stats(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	id, _ := reg.Register(make([]byte, 100), ModeRead)
	reg.Register(make([]byte, 200), ModeRead)
	reg.Deregister(id)

	stats := reg.Stats()
	if stats.Regions != 1 {
		t.Errorf("Expected 1 region, got %d", stats.Regions)
	}
	if stats.Bytes != 200 {
		t.Errorf("Expected 200 bytes, got %d", stats.Bytes)
	}
	if stats.Registered != 2 || stats.Deregistered != 1 {
		t.Errorf("Unexpected counters: %+v", stats)
	}
}

func TestRegistry_CloseIdempotent(t *testing.T) {
	reg := NewRegistry()
	reg.Register(make([]byte, 32), ModeRead)

	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if _, err := reg.Lookup(1); err != ErrRegistryClosed {
		t.Errorf("Expected ErrRegistryClosed, got %v", err)
	}
}
