// Package main runs the paired-agent bulk transfer benchmark.
//
// A loopback run moves data between two sets of host buffers inside one
// process. A storage run registers spans of a backing file and moves data
// between host buffers and the file. A paired run uses two processes: start
// a target first, then point an initiator at its address.
//
// Usage:
//
//	# Loopback host-memory benchmark
//	xferbench -transfers 100 -bufsize 4M
//
//	# Storage benchmark against a file
//	xferbench -backend POSIX -transfers 100 /data/bench.dat
//
//	# Paired run
//	xferbench -role target -listen 9500
//	xferbench -role initiator -peer /ip4/10.0.0.2/tcp/9500/p2p/<ID> -transfers 100
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"

	"github.com/neurogrid/xferbench/pkg/bench"
)

func main() {
	cfg, jsonOut := parseFlags()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := bench.NewDriver(ctx, cfg)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if cfg.Role == bench.RoleTarget {
		for _, addr := range d.Addrs() {
			fmt.Fprintf(os.Stderr, "Target address: %s\n", addr)
		}
	}

	res, runErr := d.Run(ctx)

	if jsonOut {
		if err := res.WriteJSON(os.Stdout); err != nil {
			log.Fatalf("Error: encode result: %v", err)
		}
	} else {
		fmt.Println(res.Summary())
	}

	if runErr != nil {
		os.Exit(1)
	}
}

func parseFlags() (bench.Config, bool) {
	cfg := bench.DefaultConfig()

	var (
		bufSize = "1M"
		jsonOut bool
		timeout time.Duration
	)

	flag.StringVar(&cfg.Role, "role", cfg.Role, "Run role: initiator, target or loopback")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "Agent name")
	flag.IntVar(&cfg.ListenPort, "listen", 0, "TCP listen port (0 picks a free one)")
	flag.StringVar(&cfg.PeerAddr, "peer", "", "Target multiaddr (initiator role)")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "Backend plugin: UCX, GDS or POSIX")
	flag.StringVar(&bufSize, "bufsize", bufSize, "Buffer size (e.g. 256K, 4M)")
	flag.IntVar(&cfg.BufCount, "buffers", cfg.BufCount, "Number of buffers per side")
	flag.IntVar(&cfg.Transfers, "transfers", cfg.Transfers, "Number of transfers to run")
	flag.StringVar(&cfg.Direction, "direction", cfg.Direction, "Transfer direction: WRITE or READ")
	flag.IntVar(&cfg.Outstanding, "outstanding", cfg.Outstanding, "In-flight transfer window")
	flag.BoolVar(&cfg.Verify, "verify", cfg.Verify, "Verify destination contents after the loop")
	flag.BoolVar(&cfg.Compress, "compress", false, "LZ4-compress payloads on the wire")
	flag.StringVar(&cfg.PluginDir, "plugin-dir", os.Getenv("XFER_PLUGIN_DIR"), "Backend plugin directory")
	flag.IntVar(&cfg.DeviceID, "device", 0, "GPU device ID")
	flag.DurationVar(&timeout, "timeout", cfg.TransportTimeout, "Transport timeout")
	flag.BoolVar(&jsonOut, "json", false, "Emit the result as JSON")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Paired-agent bulk transfer benchmark\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [options] [file]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "A positional file argument selects the storage variant: file spans\n")
		fmt.Fprintf(os.Stderr, "are registered as the remote side of a loopback run.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	size, err := bytefmt.ToBytes(bufSize)
	if err != nil {
		log.Fatalf("Error: invalid -bufsize %q: %v", bufSize, err)
	}
	cfg.BufSize = int(size)
	cfg.TransportTimeout = timeout

	if flag.NArg() > 1 {
		log.Fatalf("Error: at most one positional file argument, got %d", flag.NArg())
	}
	if flag.NArg() == 1 {
		cfg.FilePath = flag.Arg(0)
		if cfg.Backend == "UCX" {
			cfg.Backend = "POSIX"
		}
	}

	return cfg, jsonOut
}
