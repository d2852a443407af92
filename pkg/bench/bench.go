// Package bench drives paired-agent bulk transfer benchmarks: it registers
// buffers, runs a timed transfer loop against a peer (or loopback against
// local storage), verifies the data and reports throughput.
package bench

import (
	"errors"
	"fmt"
	"time"

	"github.com/neurogrid/xferbench/pkg/backend"
)

// Error classes. Every failure Run reports wraps exactly one of these.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrConnection    = errors.New("connection error")
	ErrRegistration  = errors.New("registration error")
	ErrTransfer      = errors.New("transfer error")
	ErrVerification  = errors.New("verification mismatch")
)

// Phase is the driver state. Transitions run strictly forward:
// INIT -> REGISTER -> TRANSFER_LOOP -> VERIFY -> CLEANUP -> DONE.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseRegister
	PhaseTransferLoop
	PhaseVerify
	PhaseCleanup
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseRegister:
		return "REGISTER"
	case PhaseTransferLoop:
		return "TRANSFER_LOOP"
	case PhaseVerify:
		return "VERIFY"
	case PhaseCleanup:
		return "CLEANUP"
	case PhaseDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// Roles.
const (
	RoleInitiator = "initiator"
	RoleTarget    = "target"
	RoleLoopback  = "loopback"
)

// Pattern is the byte every source buffer is filled with before the loop.
const Pattern = 0xba

// Config holds benchmark configuration.
type Config struct {
	Role       string // initiator, target or loopback
	Name       string // agent name
	ListenPort int
	PeerAddr   string // multiaddr of the target, initiator only

	Backend  string // UCX, GDS or POSIX
	FilePath string // backing file for GDS/POSIX loopback runs

	BufSize     int
	BufCount    int
	Transfers   int
	Direction   string // WRITE or READ
	Outstanding int    // in-flight transfer window

	Verify   bool
	Compress bool

	PluginDir        string
	DeviceID         int
	TransportTimeout time.Duration
}

// DefaultConfig returns a small loopback benchmark.
func DefaultConfig() Config {
	return Config{
		Role:             RoleLoopback,
		Name:             "xferbench",
		Backend:          backend.PluginUCX,
		BufSize:          1 << 20,
		BufCount:         2,
		Transfers:        10,
		Direction:        "WRITE",
		Outstanding:      1,
		Verify:           true,
		TransportTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration. All failures wrap ErrConfiguration.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleInitiator, RoleTarget, RoleLoopback:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrConfiguration, c.Role)
	}
	if c.Role == RoleInitiator && c.PeerAddr == "" {
		return fmt.Errorf("%w: initiator requires a peer address", ErrConfiguration)
	}
	switch c.Backend {
	case backend.PluginUCX, backend.PluginGDS, backend.PluginPOSIX:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrConfiguration, c.Backend)
	}
	if c.Role == RoleLoopback && c.Backend != backend.PluginUCX && c.FilePath == "" {
		return fmt.Errorf("%w: %s loopback requires a file path", ErrConfiguration, c.Backend)
	}
	if c.BufSize <= 0 {
		return fmt.Errorf("%w: buffer size must be positive", ErrConfiguration)
	}
	if c.BufCount <= 0 {
		return fmt.Errorf("%w: buffer count must be positive", ErrConfiguration)
	}
	if c.Transfers <= 0 && c.Role != RoleTarget {
		return fmt.Errorf("%w: transfer count must be positive", ErrConfiguration)
	}
	if c.Direction != "WRITE" && c.Direction != "READ" {
		return fmt.Errorf("%w: direction must be WRITE or READ", ErrConfiguration)
	}
	if c.Outstanding < 1 {
		return fmt.Errorf("%w: outstanding window must be at least 1", ErrConfiguration)
	}
	return nil
}
