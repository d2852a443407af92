package backend

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/neurogrid/xferbench/pkg/region"
)

func TestHostBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := NewHostBackend(DefaultConfig())
	if err != nil {
		t.Fatalf("NewHostBackend failed: %v", err)
	}
	defer b.Close()

	reg := region.NewRegistry()
	defer reg.Close()

	buf := make([]byte, 256)
	id, _ := reg.Register(buf, region.ModeReadWrite)
	r, _ := reg.Lookup(id)

	payload := bytes.Repeat([]byte{0xba}, 256)
	if err := b.WriteRegion(ctx, payload, r); err != nil {
		t.Fatalf("WriteRegion failed: %v", err)
	}

	out := make([]byte, 256)
	if err := b.ReadRegion(ctx, r, out); err != nil {
		t.Fatalf("ReadRegion failed: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Error("Round trip corrupted data")
	}
}

func TestHostBackend_UnsupportedKind(t *testing.T) {
	ctx := context.Background()
	b, _ := NewHostBackend(DefaultConfig())
	defer b.Close()

	f, err := os.Create(filepath.Join(t.TempDir(), "span.dat"))
	if err != nil {
		t.Fatalf("Create temp file: %v", err)
	}
	defer f.Close()

	reg := region.NewRegistry()
	defer reg.Close()
	id, _ := reg.RegisterFile(f, 0, 64, region.ModeReadWrite)
	r, _ := reg.Lookup(id)

	if err := b.ReadRegion(ctx, r, make([]byte, 64)); err != ErrUnsupportedKind {
		t.Errorf("Expected ErrUnsupportedKind, got %v", err)
	}
}

func TestHostBackend_ShortRegion(t *testing.T) {
	ctx := context.Background()
	b, _ := NewHostBackend(DefaultConfig())
	defer b.Close()

	reg := region.NewRegistry()
	defer reg.Close()
	id, _ := reg.Register(make([]byte, 16), region.ModeRead)
	r, _ := reg.Lookup(id)

	if err := b.ReadRegion(ctx, r, make([]byte, 32)); err != ErrShortBuffer {
		t.Errorf("Expected ErrShortBuffer, got %v", err)
	}
}

func TestFileBackend_FileRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := NewPOSIXBackend(DefaultConfig())
	if err != nil {
		t.Fatalf("NewPOSIXBackend failed: %v", err)
	}
	defer b.Close()

	f, err := os.Create(filepath.Join(t.TempDir(), "xfer.dat"))
	if err != nil {
		t.Fatalf("Create temp file: %v", err)
	}
	defer f.Close()

	reg := region.NewRegistry()
	defer reg.Close()

	// Region at a nonzero offset
	id, _ := reg.RegisterFile(f, 4096, 128, region.ModeReadWrite)
	r, _ := reg.Lookup(id)

	payload := bytes.Repeat([]byte{0xab}, 128)
	if err := b.WriteRegion(ctx, payload, r); err != nil {
		t.Fatalf("WriteRegion failed: %v", err)
	}

	out := make([]byte, 128)
	if err := b.ReadRegion(ctx, r, out); err != nil {
		t.Fatalf("ReadRegion failed: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Error("File round trip corrupted data")
	}

	// Bytes really landed at the offset
	direct := make([]byte, 128)
	if _, err := f.ReadAt(direct, 4096); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(direct, payload) {
		t.Error("Data not written at region offset")
	}
}

func TestFileBackend_DeviceRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := NewGDSBackend(DefaultConfig())
	if err != nil {
		t.Fatalf("NewGDSBackend failed: %v", err)
	}
	defer b.Close()

	reg := region.NewRegistry()
	defer reg.Close()
	id, _ := reg.RegisterDevice(0x7000, 64, region.ModeReadWrite)
	r, _ := reg.Lookup(id)

	payload := bytes.Repeat([]byte{0x42}, 64)
	if err := b.WriteRegion(ctx, payload, r); err != nil {
		t.Fatalf("WriteRegion failed: %v", err)
	}

	out := make([]byte, 64)
	if err := b.ReadRegion(ctx, r, out); err != nil {
		t.Fatalf("ReadRegion failed: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Error("Device round trip corrupted data")
	}
}

func TestBackend_ClosedRejects(t *testing.T) {
	ctx := context.Background()
	b, _ := NewHostBackend(DefaultConfig())

	reg := region.NewRegistry()
	defer reg.Close()
	id, _ := reg.Register(make([]byte, 16), region.ModeRead)
	r, _ := reg.Lookup(id)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if err := b.ReadRegion(ctx, r, make([]byte, 16)); err != ErrBackendClosed {
		t.Errorf("Expected ErrBackendClosed, got %v", err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"libplugin_UCX.so",
		"libplugin_GDS.so",
		"README.md",
		"libother.so",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
	}

	names, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(names) != 2 || names[0] != "GDS" || names[1] != "UCX" {
		t.Errorf("Unexpected plugin names: %v", names)
	}
}

func TestOpen_PluginGating(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "libplugin_POSIX.so"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := DefaultConfig()
	cfg.PluginDir = dir

	b, err := Open(PluginPOSIX, cfg)
	if err != nil {
		t.Fatalf("Open POSIX failed: %v", err)
	}
	b.Close()

	if _, err := Open(PluginGDS, cfg); err == nil {
		t.Error("Expected error opening undiscovered plugin")
	}
}

func TestOpen_UnknownName(t *testing.T) {
	if _, err := Open("NVLINK", DefaultConfig()); err == nil {
		t.Error("Expected error for unknown backend name")
	}
}

func TestParams(t *testing.T) {
	for _, name := range []string{PluginUCX, PluginGDS, PluginPOSIX} {
		params, err := Params(name)
		if err != nil {
			t.Fatalf("Params(%s) failed: %v", name, err)
		}
		if params["mem_types"] == "" {
			t.Errorf("Params(%s) missing mem_types", name)
		}
	}
	if _, err := Params("NVLINK"); err == nil {
		t.Error("Expected error for unknown plugin")
	}
}
