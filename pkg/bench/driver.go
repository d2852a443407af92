package bench

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/neurogrid/xferbench/pkg/agent"
	"github.com/neurogrid/xferbench/pkg/backend"
	"github.com/neurogrid/xferbench/pkg/region"
)

// doneSignal is the notification payload the initiator sends when its
// transfer loop finishes, releasing a waiting target.
const doneSignal = "bench-done"

// Driver owns one side of a benchmark run and walks it through the phases.
type Driver struct {
	cfg      Config
	registry *region.Registry
	backend  backend.Backend
	agent    *agent.Agent
	file     *os.File

	srcBufs   [][]byte
	localIDs  []region.ID
	remoteIDs []region.ID

	phase   atomic.Int32
	cleaned atomic.Bool
}

// NewDriver builds the driver in INIT phase: backend opened, registry and
// agent created, nothing registered yet.
func NewDriver(ctx context.Context, cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bcfg := backend.DefaultConfig()
	bcfg.PluginDir = cfg.PluginDir
	bcfg.DeviceID = cfg.DeviceID
	bcfg.TransportTimeout = cfg.TransportTimeout

	bk, err := backend.Open(cfg.Backend, bcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open backend %s: %v", ErrConfiguration, cfg.Backend, err)
	}

	reg := region.NewRegistry()

	acfg := agent.DefaultConfig()
	acfg.Name = cfg.Name
	acfg.ListenPort = cfg.ListenPort
	acfg.TransportTimeout = cfg.TransportTimeout
	acfg.Compress = cfg.Compress

	ag, err := agent.New(ctx, acfg, reg, bk)
	if err != nil {
		bk.Close()
		reg.Close()
		return nil, fmt.Errorf("%w: create agent: %v", ErrConnection, err)
	}

	return &Driver{
		cfg:      cfg,
		registry: reg,
		backend:  bk,
		agent:    ag,
	}, nil
}

// Addrs returns the multiaddrs a peer initiator can dial.
func (d *Driver) Addrs() []string {
	return d.agent.Addrs()
}

// Phase returns the current driver phase.
func (d *Driver) Phase() Phase {
	return Phase(d.phase.Load())
}

func (d *Driver) setPhase(p Phase) {
	d.phase.Store(int32(p))
	log.Printf("Driver %s: phase %s", d.cfg.Name, p)
}

// Run executes the benchmark and always returns a result, partial when the
// run aborts. Cleanup runs regardless of where a failure happened.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		Role:      d.cfg.Role,
		Backend:   d.cfg.Backend,
		Direction: d.cfg.Direction,
		BufSize:   d.cfg.BufSize,
		BufCount:  d.cfg.BufCount,
		Requested: d.cfg.Transfers,
	}
	if d.cfg.Role == RoleTarget {
		res.Requested = 0
	}

	err := d.run(ctx, res)

	failPhase := d.Phase()
	d.setPhase(PhaseCleanup)
	d.cleanup()

	if err != nil {
		res.Phase = failPhase.String()
		res.Error = err.Error()
	} else {
		d.setPhase(PhaseDone)
		res.Phase = PhaseDone.String()
	}
	res.finalize()
	return res, err
}

func (d *Driver) run(ctx context.Context, res *Result) error {
	if d.cfg.Role == RoleInitiator {
		if err := d.agent.Connect(ctx, d.cfg.PeerAddr); err != nil {
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}

	d.setPhase(PhaseRegister)
	if err := d.register(); err != nil {
		return err
	}

	if d.cfg.Role == RoleInitiator {
		// The peer registered its regions before we connected or after.
		// Refresh the table now that both sides are set up.
		if err := d.agent.FetchRemoteRegions(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
		if err := d.resolveRemoteRegions(); err != nil {
			return err
		}
	}

	d.setPhase(PhaseTransferLoop)
	if d.cfg.Role == RoleTarget {
		return d.serve(ctx)
	}

	if err := d.transferLoop(ctx, res); err != nil {
		return err
	}

	if d.cfg.Role == RoleInitiator {
		if err := d.agent.SendNotification(ctx, []byte(doneSignal)); err != nil {
			log.Printf("Driver %s: done notification failed: %v", d.cfg.Name, err)
		}
	}

	if d.cfg.Verify {
		d.setPhase(PhaseVerify)
		// A mismatch is reported, not fatal: cleanup and the result still run.
		if err := d.verify(ctx); err != nil {
			log.Printf("Driver %s: %v", d.cfg.Name, err)
			res.VerifyError = err.Error()
		} else {
			res.Verified = true
		}
	}
	return nil
}

// register allocates and registers the transfer buffers. Source buffers are
// filled with the test pattern; destinations start zeroed.
func (d *Driver) register() error {
	// The side data flows out of starts with the pattern: the initiator's
	// buffers on WRITE, the target's (and the loopback remote side) on READ.
	fillLocal := d.cfg.Direction == "WRITE" && d.cfg.Role != RoleTarget ||
		d.cfg.Direction == "READ" && d.cfg.Role == RoleTarget

	for i := 0; i < d.cfg.BufCount; i++ {
		buf := make([]byte, d.cfg.BufSize)
		if fillLocal {
			fill(buf, Pattern)
		}
		id, err := d.registry.Register(buf, region.ModeReadWrite)
		if err != nil {
			return fmt.Errorf("%w: buffer %d: %v", ErrRegistration, i, err)
		}
		d.srcBufs = append(d.srcBufs, buf)
		d.localIDs = append(d.localIDs, id)
	}

	if d.cfg.Role != RoleLoopback {
		return nil
	}

	// Loopback runs need a second set of local regions for the remote side.
	if d.cfg.FilePath != "" {
		return d.registerFileRegions()
	}
	for i := 0; i < d.cfg.BufCount; i++ {
		buf := make([]byte, d.cfg.BufSize)
		if d.cfg.Direction == "READ" {
			fill(buf, Pattern)
		}
		id, err := d.registry.Register(buf, region.ModeReadWrite)
		if err != nil {
			return fmt.Errorf("%w: remote buffer %d: %v", ErrRegistration, i, err)
		}
		d.remoteIDs = append(d.remoteIDs, id)
	}
	return nil
}

// registerFileRegions opens the backing file and registers one span per
// buffer, at consecutive offsets.
func (d *Driver) registerFileRegions() error {
	size := int64(d.cfg.BufCount) * int64(d.cfg.BufSize)

	f, err := os.OpenFile(d.cfg.FilePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrRegistration, d.cfg.FilePath, err)
	}
	d.file = f

	if d.cfg.Direction == "READ" {
		// READ pulls from the file, so seed it with the pattern.
		buf := make([]byte, d.cfg.BufSize)
		fill(buf, Pattern)
		for i := 0; i < d.cfg.BufCount; i++ {
			if _, err := f.WriteAt(buf, int64(i)*int64(d.cfg.BufSize)); err != nil {
				return fmt.Errorf("%w: seed %s: %v", ErrRegistration, d.cfg.FilePath, err)
			}
		}
	} else if err := f.Truncate(size); err != nil {
		return fmt.Errorf("%w: truncate %s: %v", ErrRegistration, d.cfg.FilePath, err)
	}

	for i := 0; i < d.cfg.BufCount; i++ {
		off := int64(i) * int64(d.cfg.BufSize)
		id, err := d.registry.RegisterFile(f, off, d.cfg.BufSize, region.ModeReadWrite)
		if err != nil {
			return fmt.Errorf("%w: file span %d: %v", ErrRegistration, i, err)
		}
		d.remoteIDs = append(d.remoteIDs, id)
	}
	return nil
}

// resolveRemoteRegions picks usable regions out of the peer's table.
func (d *Driver) resolveRemoteRegions() error {
	p := d.agent.Peer()
	if p == nil {
		return fmt.Errorf("%w: no peer state", ErrConnection)
	}
	for id, rw := range p.Regions {
		if rw.Length >= d.cfg.BufSize {
			d.remoteIDs = append(d.remoteIDs, id)
		}
	}
	if len(d.remoteIDs) == 0 {
		return fmt.Errorf("%w: peer exports no region of at least %d bytes",
			ErrRegistration, d.cfg.BufSize)
	}
	sortRegionIDs(d.remoteIDs)
	return nil
}

// transferLoop submits the configured transfers, keeping up to Outstanding
// in flight, and aborts on the first failure or context cancellation.
func (d *Driver) transferLoop(ctx context.Context, res *Result) error {
	dir := agent.Write
	if d.cfg.Direction == "READ" {
		dir = agent.Read
	}

	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	window := make([]*agent.Descriptor, 0, d.cfg.Outstanding)
	drain := func(desc *agent.Descriptor) error {
		status, err := desc.Wait(ctx, d.cfg.TransportTimeout)
		if err != nil {
			return fmt.Errorf("%w: transfer %d: %v", ErrTransfer, desc.ID, err)
		}
		if status != agent.Complete {
			return fmt.Errorf("%w: transfer %d ended %s: %v",
				ErrTransfer, desc.ID, status, desc.Err())
		}
		res.Completed++
		res.TotalBytes += int64(desc.Length)
		res.TransferMs = append(res.TransferMs, float64(desc.Elapsed().Microseconds())/1000.0)
		return nil
	}

	for i := 0; i < d.cfg.Transfers; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: aborted before transfer %d: %v", ErrTransfer, i, err)
		}

		local := d.localIDs[i%len(d.localIDs)]
		remote := d.remoteIDs[i%len(d.remoteIDs)]

		desc, err := d.agent.Submit(dir, local, remote, d.cfg.BufSize)
		if err != nil {
			return fmt.Errorf("%w: submit transfer %d: %v", ErrTransfer, i, err)
		}
		window = append(window, desc)

		if len(window) >= d.cfg.Outstanding {
			if err := drain(window[0]); err != nil {
				return err
			}
			window = window[1:]
		}
	}

	for _, desc := range window {
		if err := drain(desc); err != nil {
			return err
		}
	}
	return nil
}

// serve keeps a target alive until the initiator signals completion or the
// context is cancelled.
func (d *Driver) serve(ctx context.Context) error {
	log.Printf("Driver %s: serving %d regions, waiting for initiator", d.cfg.Name, len(d.localIDs))

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := d.agent.PollNotification()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTransfer, err)
			}
			if n != nil && string(n.Payload) == doneSignal {
				log.Printf("Driver %s: initiator %s finished", d.cfg.Name, n.Sender)
				return nil
			}
		}
	}
}

// verify reads the destination side back and checks every byte against the
// pattern.
func (d *Driver) verify(ctx context.Context) error {
	if d.cfg.Direction == "READ" {
		// READ landed the data in our local buffers.
		for i, buf := range d.srcBufs {
			if off := firstMismatch(buf, Pattern); off >= 0 {
				return fmt.Errorf("%w: local buffer %d differs at offset %d", ErrVerification, i, off)
			}
		}
		return nil
	}

	switch d.cfg.Role {
	case RoleLoopback:
		scratch := make([]byte, d.cfg.BufSize)
		for _, id := range d.remoteIDs {
			r, err := d.registry.Lookup(id)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrVerification, err)
			}
			if err := d.backend.ReadRegion(ctx, r, scratch); err != nil {
				return fmt.Errorf("%w: read back %s: %v", ErrVerification, r, err)
			}
			if off := firstMismatch(scratch, Pattern); off >= 0 {
				return fmt.Errorf("%w: %s differs at offset %d", ErrVerification, r, off)
			}
		}
	case RoleInitiator:
		// Pull each remote region back into a scratch region and compare.
		scratch := make([]byte, d.cfg.BufSize)
		scratchID, err := d.registry.Register(scratch, region.ModeReadWrite)
		if err != nil {
			return fmt.Errorf("%w: scratch region: %v", ErrVerification, err)
		}
		defer d.registry.Deregister(scratchID)

		for _, id := range d.remoteIDs {
			desc, err := d.agent.Submit(agent.Read, scratchID, id, d.cfg.BufSize)
			if err != nil {
				return fmt.Errorf("%w: read back region %d: %v", ErrVerification, id, err)
			}
			status, err := desc.Wait(ctx, d.cfg.TransportTimeout)
			if err != nil || status != agent.Complete {
				return fmt.Errorf("%w: read back region %d ended %s: %v",
					ErrVerification, id, status, err)
			}
			if off := firstMismatch(scratch, Pattern); off >= 0 {
				return fmt.Errorf("%w: remote region %d differs at offset %d", ErrVerification, id, off)
			}
		}
	}
	return nil
}

// cleanup tears everything down. Runs once, tolerates partial setup.
func (d *Driver) cleanup() {
	if !d.cleaned.CompareAndSwap(false, true) {
		return
	}

	// Remote IDs belong to the peer's registry except in loopback runs.
	owned := d.localIDs
	if d.cfg.Role == RoleLoopback {
		owned = append(owned, d.remoteIDs...)
	}
	for _, id := range owned {
		if err := d.registry.Deregister(id); err != nil {
			log.Printf("Driver %s: deregister %d: %v", d.cfg.Name, id, err)
		}
	}

	if err := d.agent.Close(); err != nil {
		log.Printf("Driver %s: close agent: %v", d.cfg.Name, err)
	}
	if d.file != nil {
		d.file.Close()
	}
	if err := d.backend.Close(); err != nil {
		log.Printf("Driver %s: close backend: %v", d.cfg.Name, err)
	}
	if err := d.registry.Close(); err != nil {
		log.Printf("Driver %s: close registry: %v", d.cfg.Name, err)
	}
}

// Close tears the driver down without running the benchmark.
func (d *Driver) Close() {
	d.cleanup()
}

func fill(buf []byte, b byte) {
	for i := range buf {
		buf[i] = b
	}
}

// firstMismatch returns the offset of the first byte not equal to b, or -1.
func firstMismatch(buf []byte, b byte) int {
	for i, v := range buf {
		if v != b {
			return i
		}
	}
	return -1
}

func sortRegionIDs(ids []region.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
