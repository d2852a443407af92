// Package agent implements the paired transfer agent: a libp2p node that
// exports registered memory regions and moves bulk data between peers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/neurogrid/xferbench/pkg/backend"
	"github.com/neurogrid/xferbench/pkg/compression"
	"github.com/neurogrid/xferbench/pkg/protocol"
	"github.com/neurogrid/xferbench/pkg/region"
)

// DefaultTransportTimeout bounds peer connection and per-request waits.
const DefaultTransportTimeout = 5 * time.Second

var (
	ErrPeerUnreachable = errors.New("peer unreachable")
	ErrNotConnected    = errors.New("no connected peer")
	ErrOutOfBounds     = errors.New("transfer exceeds region bounds")
	ErrAccessMode      = errors.New("region access mode forbids transfer")
	ErrRemoteRegion    = errors.New("remote region not exported by peer")
	ErrTimeout         = errors.New("transfer wait timed out")
	ErrChannelClosed   = errors.New("notification channel closed")
	ErrAgentClosed     = errors.New("agent closed")
)

// Config holds agent configuration.
type Config struct {
	Name             string // Agent name announced in Hello exchanges
	ListenPort       int    // TCP port, 0 picks a free one
	TransportTimeout time.Duration
	Compress         bool // LZ4-compress transfer payloads on the wire
	InboxSize        int  // Per-sender notification bound, 0 means DefaultInboxSize
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:             "agent",
		ListenPort:       0,
		TransportTimeout: DefaultTransportTimeout,
		InboxSize:        DefaultInboxSize,
	}
}

// PeerState tracks a connected peer and its exported region table.
type PeerState struct {
	ID       peer.ID
	Name     string
	Addrs    []multiaddr.Multiaddr
	Regions  map[region.ID]protocol.RegionWire
	LastSeen time.Time
}

// response wraps response data.
type response struct {
	header  protocol.Header
	payload []byte
}

// Agent is a transfer endpoint. It serves its registered regions to the
// connected peer and submits asynchronous transfers against the peer's table.
type Agent struct {
	cfg      Config
	host     host.Host
	registry *region.Registry
	backend  backend.Backend
	comp     *compression.LZ4Compressor

	peerMu sync.RWMutex
	peer   *PeerState

	inbox *inbox

	xfersMu sync.Mutex
	xfers   map[uint64]*Descriptor
	xfersWG sync.WaitGroup

	reqIDGen  atomic.Uint64
	xferIDGen atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New creates an agent listening on cfg.ListenPort and serving the regions
// held by reg through bk.
func New(ctx context.Context, cfg Config, reg *region.Registry, bk backend.Backend) (*Agent, error) {
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = DefaultTransportTimeout
	}

	agentCtx, cancel := context.WithCancel(ctx)

	listenAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid listen address: %w", err)
	}

	h, err := libp2p.New(libp2p.ListenAddrs(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	a := &Agent{
		cfg:      cfg,
		host:     h,
		registry: reg,
		backend:  bk,
		comp:     compression.NewLZ4Compressor(1),
		inbox:    newInbox(cfg.InboxSize),
		xfers:    make(map[uint64]*Descriptor),
		ctx:      agentCtx,
		cancel:   cancel,
	}

	h.SetStreamHandler(libp2pprotocol.ID(protocol.ProtocolID), a.handleStream)

	log.Printf("Agent %s started: %s", cfg.Name, h.ID())
	for _, addr := range h.Addrs() {
		log.Printf("  Listening: %s/p2p/%s", addr, h.ID())
	}

	return a, nil
}

// Name returns the configured agent name.
func (a *Agent) Name() string {
	return a.cfg.Name
}

// Addrs returns the full multiaddrs peers can dial.
func (a *Agent) Addrs() []string {
	addrs := make([]string, 0, len(a.host.Addrs()))
	for _, addr := range a.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", addr, a.host.ID()))
	}
	return addrs
}

// Host returns the underlying libp2p host.
func (a *Agent) Host() host.Host {
	return a.host
}

// Connect dials the peer at addr and fetches its exported region table.
// Returns ErrPeerUnreachable when the dial does not complete within the
// transport timeout.
func (a *Agent) Connect(ctx context.Context, addr string) error {
	if a.closed.Load() {
		return ErrAgentClosed
	}

	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid peer address: %w", err)
	}

	pi, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return fmt.Errorf("invalid peer address: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.TransportTimeout)
	defer cancel()

	if err := a.host.Connect(dialCtx, *pi); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, pi.ID, err)
	}

	a.peerMu.Lock()
	a.peer = &PeerState{
		ID:       pi.ID,
		Addrs:    pi.Addrs,
		Regions:  make(map[region.ID]protocol.RegionWire),
		LastSeen: time.Now(),
	}
	a.peerMu.Unlock()

	log.Printf("Connected to peer: %s", pi.ID)
	return a.FetchRemoteRegions(ctx)
}

// FetchRemoteRegions exchanges Hello with the connected peer and replaces
// the cached remote region table. Call again after the peer registers or
// deregisters regions.
func (a *Agent) FetchRemoteRegions(ctx context.Context) error {
	pid, err := a.peerID()
	if err != nil {
		return err
	}

	req := protocol.HelloRequest{AgentName: a.cfg.Name}
	resp, err := a.sendRequest(ctx, pid, protocol.MsgHello, a.reqIDGen.Add(1), req)
	if err != nil {
		return fmt.Errorf("hello exchange: %w", err)
	}

	var hello protocol.HelloResponse
	if err := msgpack.Unmarshal(resp.payload, &hello); err != nil {
		return fmt.Errorf("decode hello response: %w", err)
	}

	table := make(map[region.ID]protocol.RegionWire, len(hello.Regions))
	for _, rw := range hello.Regions {
		table[region.ID(rw.ID)] = rw
	}

	a.peerMu.Lock()
	a.peer.Name = hello.AgentName
	a.peer.Regions = table
	a.peer.LastSeen = time.Now()
	a.peerMu.Unlock()

	log.Printf("Peer %s exports %d regions", hello.AgentName, len(table))
	return nil
}

// Peer returns a snapshot of the connected peer state, or nil.
func (a *Agent) Peer() *PeerState {
	a.peerMu.RLock()
	defer a.peerMu.RUnlock()
	if a.peer == nil {
		return nil
	}
	p := *a.peer
	return &p
}

// Submit starts an asynchronous transfer of length bytes between the local
// region and the remote region, and returns immediately with a descriptor
// in Pending state. When no peer is connected, remoteID names a second
// local region and the transfer runs through the backend without touching
// the network.
func (a *Agent) Submit(dir Direction, localID, remoteID region.ID, length int) (*Descriptor, error) {
	if a.closed.Load() {
		return nil, ErrAgentClosed
	}

	local, err := a.registry.Lookup(localID)
	if err != nil {
		return nil, fmt.Errorf("local region %d: %w", localID, err)
	}

	if length <= 0 || length > local.Length {
		return nil, fmt.Errorf("%w: length %d, local region %s", ErrOutOfBounds, length, local)
	}
	if dir == Write && !local.Mode.CanRead() {
		return nil, fmt.Errorf("%w: %s is not readable", ErrAccessMode, local)
	}
	if dir == Read && !local.Mode.CanWrite() {
		return nil, fmt.Errorf("%w: %s is not writable", ErrAccessMode, local)
	}

	a.peerMu.RLock()
	p := a.peer
	a.peerMu.RUnlock()

	var remote *region.Region
	if p == nil {
		// Loopback transfer between two locally registered regions.
		remote, err = a.registry.Lookup(remoteID)
		if err != nil {
			return nil, fmt.Errorf("remote region %d: %w", remoteID, err)
		}
		if length > remote.Length {
			return nil, fmt.Errorf("%w: length %d, remote region %s", ErrOutOfBounds, length, remote)
		}
		if dir == Write && !remote.Mode.CanWrite() {
			return nil, fmt.Errorf("%w: %s is not writable", ErrAccessMode, remote)
		}
		if dir == Read && !remote.Mode.CanRead() {
			return nil, fmt.Errorf("%w: %s is not readable", ErrAccessMode, remote)
		}
	} else {
		rw, ok := p.Regions[remoteID]
		if !ok {
			return nil, fmt.Errorf("%w: region %d", ErrRemoteRegion, remoteID)
		}
		if length > rw.Length {
			return nil, fmt.Errorf("%w: length %d, remote region %d has %d bytes",
				ErrOutOfBounds, length, remoteID, rw.Length)
		}
	}

	d := newDescriptor(a.xferIDGen.Add(1), dir, localID, remoteID, length)

	// Pin regions for the lifetime of the transfer so Deregister reports
	// busy instead of pulling memory out from under it.
	local.Ref()
	if remote != nil {
		remote.Ref()
	}

	a.xfersMu.Lock()
	a.xfers[d.ID] = d
	a.xfersMu.Unlock()

	a.xfersWG.Add(1)
	go func() {
		defer a.xfersWG.Done()
		defer func() {
			local.Unref()
			if remote != nil {
				remote.Unref()
			}
			a.xfersMu.Lock()
			delete(a.xfers, d.ID)
			a.xfersMu.Unlock()
		}()

		d.markInFlight()
		var xferErr error
		if remote != nil {
			xferErr = a.runLocal(d, local, remote)
		} else {
			xferErr = a.runRemote(d, local, p.ID)
		}
		if xferErr != nil {
			log.Printf("Transfer %d (%s %s) failed: %v", d.ID, d.Direction, local, xferErr)
		}
		d.complete(xferErr)
	}()

	return d, nil
}

// runLocal moves bytes between two regions owned by this agent.
func (a *Agent) runLocal(d *Descriptor, local, remote *region.Region) error {
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.TransportTimeout)
	defer cancel()

	src, dst := local, remote
	if d.Direction == Read {
		src, dst = remote, local
	}

	buf := make([]byte, d.Length)
	if err := a.backend.ReadRegion(ctx, src, buf); err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := a.backend.WriteRegion(ctx, buf, dst); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// runRemote executes a single request/response exchange with the peer.
func (a *Agent) runRemote(d *Descriptor, local *region.Region, pid peer.ID) error {
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.TransportTimeout)
	defer cancel()

	if d.Direction == Write {
		return a.remoteWrite(ctx, d, local, pid)
	}
	return a.remoteRead(ctx, d, local, pid)
}

func (a *Agent) remoteWrite(ctx context.Context, d *Descriptor, local *region.Region, pid peer.ID) error {
	buf := make([]byte, d.Length)
	if err := a.backend.ReadRegion(ctx, local, buf); err != nil {
		return fmt.Errorf("read %s: %w", local, err)
	}

	req := protocol.WriteRequest{
		Region:   uint64(d.RemoteID),
		Length:   d.Length,
		Checksum: crc32.ChecksumIEEE(buf),
		Data:     buf,
	}
	if a.cfg.Compress {
		compressed, err := a.comp.Compress(buf)
		if err == nil && len(compressed) < len(buf) {
			req.Compressed = true
			req.Data = compressed
		}
	}

	resp, err := a.sendRequest(ctx, pid, protocol.MsgWrite, a.reqIDGen.Add(1), req)
	if err != nil {
		return err
	}

	var ack protocol.WriteResponse
	if err := msgpack.Unmarshal(resp.payload, &ack); err != nil {
		return fmt.Errorf("decode write ack: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("peer rejected write: %s", ack.Error)
	}
	return nil
}

func (a *Agent) remoteRead(ctx context.Context, d *Descriptor, local *region.Region, pid peer.ID) error {
	req := protocol.ReadRequest{
		Region:   uint64(d.RemoteID),
		Length:   d.Length,
		Compress: a.cfg.Compress,
	}

	resp, err := a.sendRequest(ctx, pid, protocol.MsgRead, a.reqIDGen.Add(1), req)
	if err != nil {
		return err
	}

	var rr protocol.ReadResponse
	if err := msgpack.Unmarshal(resp.payload, &rr); err != nil {
		return fmt.Errorf("decode read response: %w", err)
	}
	if rr.Error != "" {
		return fmt.Errorf("peer rejected read: %s", rr.Error)
	}

	data := rr.Data
	if rr.Compressed {
		data, err = a.comp.Decompress(data)
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
	}
	if len(data) != d.Length {
		return fmt.Errorf("peer returned %d bytes, want %d", len(data), d.Length)
	}
	if crc32.ChecksumIEEE(data) != rr.Checksum {
		return errors.New("payload checksum mismatch")
	}

	return a.backend.WriteRegion(ctx, data, local)
}

// SendNotification delivers a small payload to the connected peer. Delivery
// is best effort and carries no acknowledgment.
func (a *Agent) SendNotification(ctx context.Context, payload []byte) error {
	if a.closed.Load() {
		return ErrAgentClosed
	}
	pid, err := a.peerID()
	if err != nil {
		return err
	}

	s, err := a.host.NewStream(ctx, pid, libp2pprotocol.ID(protocol.ProtocolID))
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer s.Close()

	msg := protocol.NotifyMessage{Sender: a.cfg.Name, Payload: payload}
	return protocol.WriteMessage(s, protocol.MsgNotify, a.reqIDGen.Add(1), msg)
}

// PollNotification returns the oldest queued notification, or (nil, nil)
// when none is pending. Returns ErrChannelClosed after Close.
func (a *Agent) PollNotification() (*Notification, error) {
	return a.inbox.pop()
}

// Ping measures round-trip time to the peer and returns its region stats.
func (a *Agent) Ping(ctx context.Context) (time.Duration, protocol.PongResponse, error) {
	pid, err := a.peerID()
	if err != nil {
		return 0, protocol.PongResponse{}, err
	}

	req := protocol.PingRequest{SentAt: time.Now().UnixNano()}
	resp, err := a.sendRequest(ctx, pid, protocol.MsgPing, a.reqIDGen.Add(1), req)
	if err != nil {
		return 0, protocol.PongResponse{}, err
	}

	var pong protocol.PongResponse
	if err := msgpack.Unmarshal(resp.payload, &pong); err != nil {
		return 0, protocol.PongResponse{}, err
	}

	rtt := time.Duration(time.Now().UnixNano() - pong.SentAt)
	return rtt, pong, nil
}

// Close shuts the agent down. In-flight transfers are abandoned: their
// request contexts are cancelled and each failure is logged. Safe to call
// more than once.
func (a *Agent) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.xfersMu.Lock()
	pending := len(a.xfers)
	a.xfersMu.Unlock()
	if pending > 0 {
		log.Printf("Agent %s closing with %d in-flight transfers, abandoning", a.cfg.Name, pending)
	}

	a.cancel()
	a.xfersWG.Wait()
	a.inbox.close()

	err := a.host.Close()
	log.Printf("Agent %s closed", a.cfg.Name)
	return err
}

func (a *Agent) peerID() (peer.ID, error) {
	a.peerMu.RLock()
	defer a.peerMu.RUnlock()
	if a.peer == nil {
		return "", ErrNotConnected
	}
	return a.peer.ID, nil
}

// sendRequest sends a request and waits for the response on the same stream.
func (a *Agent) sendRequest(ctx context.Context, pid peer.ID, msgType protocol.MessageType, reqID uint64, payload interface{}) (*response, error) {
	s, err := a.host.NewStream(ctx, pid, libp2pprotocol.ID(protocol.ProtocolID))
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer s.Close()

	if err := protocol.WriteMessage(s, msgType, reqID, payload); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	respChan := make(chan *response, 1)
	errChan := make(chan error, 1)

	go func() {
		header, respPayload, err := protocol.ReadMessage(s)
		if err != nil {
			errChan <- fmt.Errorf("failed to read response: %w", err)
			return
		}
		respChan <- &response{header: header, payload: respPayload}
	}()

	select {
	case resp := <-respChan:
		return resp, nil
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleStream processes incoming streams (requests from the peer).
func (a *Agent) handleStream(s network.Stream) {
	defer s.Close()

	header, payload, err := protocol.ReadMessage(s)
	if err != nil {
		log.Printf("Error reading message from %s: %v", s.Conn().RemotePeer(), err)
		return
	}

	switch header.Type {
	case protocol.MsgHello:
		a.handleHello(s, header, payload)
	case protocol.MsgRead:
		a.handleRead(s, header, payload)
	case protocol.MsgWrite:
		a.handleWrite(s, header, payload)
	case protocol.MsgNotify:
		a.handleNotify(payload)
	case protocol.MsgPing:
		a.handlePing(s, header, payload)
	default:
		log.Printf("Unknown message type: %d", header.Type)
	}
}

// handleHello answers with this agent's name and exported region table.
func (a *Agent) handleHello(s network.Stream, header protocol.Header, payload []byte) {
	var req protocol.HelloRequest
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return
	}

	regions := a.registry.List()
	resp := protocol.HelloResponse{
		AgentName: a.cfg.Name,
		Regions:   make([]protocol.RegionWire, 0, len(regions)),
	}
	for _, r := range regions {
		resp.Regions = append(resp.Regions, protocol.RegionWire{
			ID:     uint64(r.ID),
			Kind:   r.Kind.String(),
			Length: r.Length,
			Mode:   int(r.Mode),
		})
	}

	log.Printf("Hello from %s, exporting %d regions", req.AgentName, len(resp.Regions))
	protocol.WriteMessage(s, protocol.MsgHelloAck, header.RequestID, resp)
}

// handleRead serves region bytes to the peer.
func (a *Agent) handleRead(s network.Stream, header protocol.Header, payload []byte) {
	var req protocol.ReadRequest
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return
	}

	resp := a.serveRead(req)
	protocol.WriteMessage(s, protocol.MsgReadAck, header.RequestID, resp)
}

func (a *Agent) serveRead(req protocol.ReadRequest) protocol.ReadResponse {
	r, err := a.registry.Lookup(region.ID(req.Region))
	if err != nil {
		return protocol.ReadResponse{Error: err.Error()}
	}
	if req.Length <= 0 || req.Length > r.Length {
		return protocol.ReadResponse{Error: ErrOutOfBounds.Error()}
	}
	if !r.Mode.CanRead() {
		return protocol.ReadResponse{Error: ErrAccessMode.Error()}
	}

	r.Ref()
	defer r.Unref()

	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.TransportTimeout)
	defer cancel()

	buf := make([]byte, req.Length)
	if err := a.backend.ReadRegion(ctx, r, buf); err != nil {
		return protocol.ReadResponse{Error: err.Error()}
	}

	resp := protocol.ReadResponse{
		Checksum: crc32.ChecksumIEEE(buf),
		Data:     buf,
	}
	if req.Compress {
		compressed, err := a.comp.Compress(buf)
		if err == nil && len(compressed) < len(buf) {
			resp.Compressed = true
			resp.Data = compressed
		}
	}
	return resp
}

// handleWrite accepts region bytes from the peer.
func (a *Agent) handleWrite(s network.Stream, header protocol.Header, payload []byte) {
	var req protocol.WriteRequest
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return
	}

	if err := a.serveWrite(req); err != nil {
		protocol.WriteMessage(s, protocol.MsgWriteAck, header.RequestID,
			protocol.WriteResponse{Error: err.Error()})
		return
	}
	protocol.WriteMessage(s, protocol.MsgWriteAck, header.RequestID,
		protocol.WriteResponse{OK: true})
}

func (a *Agent) serveWrite(req protocol.WriteRequest) error {
	r, err := a.registry.Lookup(region.ID(req.Region))
	if err != nil {
		return err
	}
	if req.Length <= 0 || req.Length > r.Length {
		return ErrOutOfBounds
	}
	if !r.Mode.CanWrite() {
		return ErrAccessMode
	}

	data := req.Data
	if req.Compressed {
		data, err = a.comp.Decompress(data)
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
	}
	if len(data) != req.Length {
		return fmt.Errorf("got %d bytes, want %d", len(data), req.Length)
	}
	if crc32.ChecksumIEEE(data) != req.Checksum {
		return errors.New("payload checksum mismatch")
	}

	r.Ref()
	defer r.Unref()

	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.TransportTimeout)
	defer cancel()

	return a.backend.WriteRegion(ctx, data, r)
}

// handleNotify queues an out-of-band notification. No response.
func (a *Agent) handleNotify(payload []byte) {
	var msg protocol.NotifyMessage
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return
	}
	a.inbox.push(msg.Sender, msg.Payload)
}

// handlePing answers a health check with registry stats.
func (a *Agent) handlePing(s network.Stream, header protocol.Header, payload []byte) {
	var req protocol.PingRequest
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return
	}

	stats := a.registry.Stats()
	resp := protocol.PongResponse{
		SentAt:     req.SentAt,
		ReceivedAt: time.Now().UnixNano(),
		Regions:    int64(stats.Regions),
		Bytes:      stats.Bytes,
	}

	protocol.WriteMessage(s, protocol.MsgPong, header.RequestID, resp)
}
