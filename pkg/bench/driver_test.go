package bench

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/neurogrid/xferbench/pkg/backend"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown role", func(c *Config) { c.Role = "observer" }},
		{"initiator without peer", func(c *Config) { c.Role = RoleInitiator; c.PeerAddr = "" }},
		{"unknown backend", func(c *Config) { c.Backend = "RDMA" }},
		{"posix without file", func(c *Config) { c.Backend = backend.PluginPOSIX; c.FilePath = "" }},
		{"zero buf size", func(c *Config) { c.BufSize = 0 }},
		{"zero buf count", func(c *Config) { c.BufCount = 0 }},
		{"zero transfers", func(c *Config) { c.Transfers = 0 }},
		{"bad direction", func(c *Config) { c.Direction = "COPY" }},
		{"zero window", func(c *Config) { c.Outstanding = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfiguration) {
				t.Errorf("Validate() = %v, want ErrConfiguration", err)
			}
		})
	}

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func runLoopback(t *testing.T, cfg Config) *Result {
	t.Helper()

	d, err := NewDriver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	defer d.Close()

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v (result: %+v)", err, res)
	}
	return res
}

func TestLoopbackHostWrite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufSize = 64 << 10
	cfg.Transfers = 8

	res := runLoopback(t, cfg)

	if res.Completed != 8 {
		t.Errorf("Completed = %d, want 8", res.Completed)
	}
	if res.TotalBytes != int64(8*cfg.BufSize) {
		t.Errorf("TotalBytes = %d, want %d", res.TotalBytes, 8*cfg.BufSize)
	}
	if !res.Verified {
		t.Error("Verified = false")
	}
	if res.Phase != "DONE" {
		t.Errorf("Phase = %s, want DONE", res.Phase)
	}
	if res.Throughput <= 0 || res.ThroughputHuman == "" {
		t.Errorf("throughput not computed: %v %q", res.Throughput, res.ThroughputHuman)
	}
}

func TestLoopbackPosixFile(t *testing.T) {
	for _, dir := range []string{"WRITE", "READ"} {
		t.Run(dir, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Backend = backend.PluginPOSIX
			cfg.FilePath = filepath.Join(t.TempDir(), "bench.dat")
			cfg.BufSize = 32 << 10
			cfg.BufCount = 2
			cfg.Transfers = 4
			cfg.Direction = dir

			res := runLoopback(t, cfg)
			if res.Completed != 4 {
				t.Errorf("Completed = %d, want 4", res.Completed)
			}
			if !res.Verified {
				t.Error("Verified = false")
			}
		})
	}
}

func TestLoopbackOutstandingWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufSize = 16 << 10
	cfg.BufCount = 4
	cfg.Transfers = 16
	cfg.Outstanding = 4

	res := runLoopback(t, cfg)
	if res.Completed != 16 {
		t.Errorf("Completed = %d, want 16", res.Completed)
	}
}

func TestPairedRun(t *testing.T) {
	tcfg := DefaultConfig()
	tcfg.Role = RoleTarget
	tcfg.Name = "target"
	tcfg.BufSize = 64 << 10

	target, err := NewDriver(context.Background(), tcfg)
	if err != nil {
		t.Fatalf("NewDriver(target): %v", err)
	}
	defer target.Close()

	targetCtx, cancelTarget := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTarget()

	targetDone := make(chan *Result, 1)
	go func() {
		res, _ := target.Run(targetCtx)
		targetDone <- res
	}()

	icfg := DefaultConfig()
	icfg.Role = RoleInitiator
	icfg.Name = "initiator"
	icfg.PeerAddr = target.Addrs()[0]
	icfg.BufSize = 64 << 10
	icfg.Transfers = 6

	initiator, err := NewDriver(context.Background(), icfg)
	if err != nil {
		t.Fatalf("NewDriver(initiator): %v", err)
	}
	defer initiator.Close()

	res, err := initiator.Run(context.Background())
	if err != nil {
		t.Fatalf("initiator Run: %v (result: %+v)", err, res)
	}
	if res.Completed != 6 {
		t.Errorf("Completed = %d, want 6", res.Completed)
	}
	if !res.Verified {
		t.Error("Verified = false")
	}

	select {
	case tres := <-targetDone:
		if tres.Error != "" {
			t.Errorf("target ended with error: %s", tres.Error)
		}
	case <-time.After(10 * time.Second):
		t.Error("target did not observe the done signal")
	}
}

func TestAbortOnCancelledContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufSize = 16 << 10
	cfg.Transfers = 4

	d, err := NewDriver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.Run(ctx)
	if !errors.Is(err, ErrTransfer) {
		t.Fatalf("Run = %v, want ErrTransfer", err)
	}
	if res == nil {
		t.Fatal("no partial result returned")
	}
	if res.Error == "" {
		t.Error("partial result has no error string")
	}
	if res.Phase != PhaseTransferLoop.String() {
		t.Errorf("Phase = %s, want TRANSFER_LOOP", res.Phase)
	}
}

func TestConnectionErrorClass(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Role = RoleInitiator
	cfg.PeerAddr = "/ip4/127.0.0.1/tcp/1/p2p/QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N"
	cfg.TransportTimeout = 300 * time.Millisecond

	d, err := NewDriver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	defer d.Close()

	res, err := d.Run(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("Run = %v, want ErrConnection", err)
	}
	if res.Phase != PhaseInit.String() {
		t.Errorf("Phase = %s, want INIT", res.Phase)
	}
}

func TestResultSummary(t *testing.T) {
	r := &Result{
		Backend:    backend.PluginUCX,
		Direction:  "WRITE",
		BufSize:    1 << 20,
		Requested:  10,
		Completed:  10,
		TotalBytes: 10 << 20,
		Elapsed:    time.Second,
	}
	r.finalize()

	if r.Throughput != float64(10<<20) {
		t.Errorf("Throughput = %v, want %v", r.Throughput, float64(10<<20))
	}
	if r.ThroughputHuman != "10M/s" {
		t.Errorf("ThroughputHuman = %q, want 10M/s", r.ThroughputHuman)
	}
	if r.Summary() == "" {
		t.Error("empty summary")
	}

	r.Error = "boom"
	r.Phase = "TRANSFER_LOOP"
	if r.Summary() == "" {
		t.Error("empty failure summary")
	}
}
