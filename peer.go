// This represents a single connection to another node, inbound or outbound.
// It does the version/verack handshake then serves addr, inv, getdata and
// object messages until either side hangs up.

package hyperbit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	"github.com/mirrorwish/hyperbit/common"
	"github.com/mirrorwish/hyperbit/netdb"
	"github.com/mirrorwish/hyperbit/proto"
	"github.com/mirrorwish/hyperbit/util"
)

type PeerState int32

const (
	// Not yet connected.
	StateDisconnected PeerState = iota
	StateHandshaking
	StateReady
	// Terminal, the connection is gone and will not come back.
	StateClosed
)

func (s PeerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}

	return "unknown"
}

// Where a connection learns and tells about other peers.
type AddressBook interface {
	Upsert(timestamp int64, services uint64, ip net.IP, port uint16, rejectPrivate bool) (*netdb.Entry, error)
	Recent(limit int) ([]netdb.Entry, error)
}

// What a Peer needs from the node it belongs to.
type PeerConfig struct {
	Identity  proto.Identity
	Stream    uint64
	Objects   proto.ObjectStore
	Addresses AddressBook
	Dialer    common.Dialer
	Now       func() time.Time
}

type Peer struct {
	config PeerConfig

	// host:port we dial, empty for inbound connections
	target  string
	inbound bool

	conn   net.Conn
	client *proto.Client

	state      atomic.Int32
	gotVersion atomic.Bool
	gotVerack  bool

	lock            sync.RWMutex
	remoteHost      net.IP
	remotePort      uint16
	remoteServices  uint64
	remoteUserAgent string
	connectedAt     time.Time

	// Everything we send goes through here and is written by writeLoop, so
	// reading never waits on the remote reading.
	queueLock sync.Mutex
	queue     []proto.Payload
	queueWake chan struct{}
	writeErr  error

	cancel     context.CancelFunc
	finishOnce sync.Once
	closed     atomic.Bool

	connected    util.Observers[*Peer]
	disconnected util.Observers[*Peer]
}

func newPeer(config PeerConfig) *Peer {
	if config.Now == nil {
		config.Now = time.Now
	}

	if config.Stream == 0 {
		config.Stream = proto.DefaultStream
	}

	return &Peer{config: config, queueWake: make(chan struct{}, 1)}
}

// A connection we make. target is host:port, the host may be a name when
// dialing through a proxy.
func NewOutboundPeer(target string, config PeerConfig) *Peer {
	p := newPeer(config)
	p.target = target

	if host, port, err := net.SplitHostPort(target); err == nil {
		p.remoteHost = net.ParseIP(host)
		if n, err := strconv.ParseUint(port, 10, 16); err == nil {
			p.remotePort = uint16(n)
		}
	}

	return p
}

// A connection accepted by our listener.
func NewInboundPeer(conn net.Conn, config PeerConfig) *Peer {
	p := newPeer(config)
	p.conn = conn
	p.inbound = true

	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		p.remoteHost = tcp.IP
	}

	return p
}

func (p *Peer) State() PeerState {
	return PeerState(p.state.Load())
}

func (p *Peer) setState(s PeerState) {
	p.state.Store(int32(s))
}

func (p *Peer) Inbound() bool {
	return p.inbound
}

// Whether the remote's version was accepted. Inventory may be sent from this
// point on.
func (p *Peer) GotVersion() bool {
	return p.gotVersion.Load()
}

func (p *Peer) RemoteHost() net.IP {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.remoteHost
}

// For outbound connections the port we dialed, once the handshake is done
// the port the remote says it listens on.
func (p *Peer) RemotePort() uint16 {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.remotePort
}

func (p *Peer) RemoteServices() uint64 {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.remoteServices
}

func (p *Peer) RemoteUserAgent() string {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.remoteUserAgent
}

func (p *Peer) ConnectedAt() time.Time {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.connectedAt
}

func (p *Peer) String() string {
	if p.target != "" {
		return p.target
	}

	host := p.RemoteHost()
	if host == nil {
		return "unknown"
	}

	return host.String()
}

// fn is called once the remote's version has been accepted.
func (p *Peer) OnConnect(fn func(*Peer)) *util.Subscription {
	return p.connected.Subscribe(fn)
}

// fn is called exactly once when the connection ends, however it ends,
// including when the dial fails.
func (p *Peer) OnDisconnect(fn func(*Peer)) *util.Subscription {
	return p.disconnected.Subscribe(fn)
}

// Connects if needed, handshakes and then handles messages until the
// connection ends or ctx is cancelled. A clean hang up returns nil, anything
// else the reason the connection was dropped.
func (p *Peer) Run(ctx context.Context) error {
	defer p.finish()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.lock.Lock()
	p.cancel = cancel
	p.lock.Unlock()

	if p.closed.Load() {
		return nil
	}

	if p.conn == nil {
		if p.config.Dialer == nil {
			return errors.New("No dialer for outbound peer")
		}

		log.WithField("peer", p.target).Debug("Connecting")

		conn, err := p.config.Dialer.DialContext(ctx, "tcp", p.target)

		if err != nil {
			log.WithField("peer", p.target).Debug("Connection failed: ", err.Error())
			return err
		}

		p.lock.Lock()
		p.conn = conn
		p.lock.Unlock()
	}

	p.lock.Lock()
	p.client = proto.NewClient(p.conn)
	p.lock.Unlock()

	// closing the transport is what unblocks a pending read
	stop := context.AfterFunc(ctx, func() { p.client.Close() })
	defer stop()

	writerDone := make(chan struct{})
	go p.writeLoop(ctx, writerDone)

	defer func() {
		cancel()
		<-writerDone
	}()

	p.setState(StateHandshaking)

	p.queueMessage(p.version())

	for {
		msg, err := p.client.ReadMessage()

		if err != nil {
			return p.exitErr(ctx, err)
		}

		err = p.handle(msg)

		if err != nil {
			log.WithField("peer", p.String()).Info("Dropping peer: ", err.Error())
			return err
		}
	}
}

func (p *Peer) exitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// a failed write closes the transport, the read error that follows
	// says nothing
	if werr := p.writeError(); werr != nil {
		err = werr
	}

	if proto.IsEndOfStream(err) {
		log.WithField("peer", p.String()).Debug("Peer closed connection")
		return nil
	}

	log.WithField("peer", p.String()).Info("Connection error: ", err.Error())

	return err
}

func (p *Peer) finish() {
	p.finishOnce.Do(func() {
		p.closeConn()
		p.setState(StateClosed)
		p.disconnected.Notify(p)
	})
}

func (p *Peer) version() *proto.MsgVersion {
	return proto.NewVersion(p.config.Identity, p.RemoteHost(), p.RemotePort(), p.config.Now())
}

// Reads are sequential, one message is fully handled before the next is
// read.
func (p *Peer) handle(msg *proto.Message) error {
	if p.State() != StateReady {
		return p.handleHandshake(msg)
	}

	payload, err := proto.DecodePayload(msg)

	if errors.Is(err, proto.ErrUnknownCommand) {
		log.WithField("peer", p.String()).Debug("Ignoring ", msg.Command)
		return nil
	}

	if err != nil {
		return err
	}

	if log.IsLevelEnabled(log.TraceLevel) {
		log.WithField("peer", p.String()).Trace(spew.Sdump(payload))
	}

	switch m := payload.(type) {
	case *proto.MsgAddr:
		return p.handleAddr(m)
	case *proto.MsgInv:
		return p.handleInv(m)
	case *proto.MsgGetdata:
		return p.handleGetdata(m)
	case *proto.Object:
		return p.handleObject(m)
	case *proto.MsgVersion, *proto.MsgVerack:
		// already handshaken
		return nil
	}

	return fmt.Errorf("unhandled payload %T", payload)
}

// Only version and verack mean anything before the handshake is done.
func (p *Peer) handleHandshake(msg *proto.Message) error {
	switch msg.Command {
	case proto.CommandVersion:
		if p.GotVersion() {
			return nil
		}

		payload, err := proto.DecodePayload(msg)

		if err != nil {
			return err
		}

		err = p.handleVersion(payload.(*proto.MsgVersion))

		if err != nil {
			return err
		}

	case proto.CommandVerack:
		p.gotVerack = true

	default:
		log.WithField("peer", p.String()).Debug("Ignoring ", msg.Command, " before handshake")
		return nil
	}

	if p.GotVersion() && p.gotVerack {
		p.setState(StateReady)
		log.WithFields(log.Fields{
			"peer":       p.String(),
			"user agent": p.RemoteUserAgent(),
		}).Info("Handshake complete")
	}

	return nil
}

func (p *Peer) handleVersion(v *proto.MsgVersion) error {
	err := proto.CheckVersion(v, p.config.Identity.Nonce, p.config.Stream)

	if err != nil {
		return err
	}

	p.lock.Lock()
	p.remoteUserAgent = v.UserAgent
	p.remoteServices = v.Services
	p.remotePort = v.AddrFrom.Port
	p.connectedAt = p.config.Now()
	p.lock.Unlock()

	log.WithFields(log.Fields{
		"peer":       p.String(),
		"version":    v.Version,
		"user agent": v.UserAgent,
	}).Debug("Got version")

	p.queueMessage(&proto.MsgVerack{})
	p.queueMessage(p.addresses())

	if p.config.Objects != nil {
		for _, inv := range proto.InvChunks(p.config.Objects.HashesForSend()) {
			p.queueMessage(inv)
		}
	}

	p.gotVersion.Store(true)
	p.connected.Notify(p)

	return nil
}

// The public peers we know of, most recently seen first.
func (p *Peer) addresses() *proto.MsgAddr {
	ret := &proto.MsgAddr{Addresses: make([]proto.AddrRecord, 0)}

	if p.config.Addresses == nil {
		return ret
	}

	entries, err := p.config.Addresses.Recent(common.MaxAddrPerMessage)

	if err != nil {
		log.Error(err.Error())
		return ret
	}

	for _, e := range entries {
		if e.Address.IsPrivate() {
			continue
		}

		ret.Addresses = append(ret.Addresses, proto.AddrRecord{
			Time:       uint64(e.Timestamp),
			Stream:     uint32(p.config.Stream),
			NetAddress: proto.NewNetAddress(e.Services, e.Address.IP(), e.Port),
		})
	}

	return ret
}

// Announces hashes to the remote. Does nothing until the remote's version
// has been accepted. Never blocks on the network.
func (p *Peer) SendInv(hashes []common.Hash) {
	if !p.GotVersion() || p.State() == StateClosed {
		return
	}

	for _, inv := range proto.InvChunks(hashes) {
		p.queueMessage(inv)
	}
}

// Queues a message for the writer. The queue has no bound, a remote that
// stops reading is dropped by the write timeout instead.
func (p *Peer) queueMessage(m proto.Payload) {
	p.queueLock.Lock()
	p.queue = append(p.queue, m)
	p.queueLock.Unlock()

	select {
	case p.queueWake <- struct{}{}:
	default:
	}
}

func (p *Peer) takeQueue() []proto.Payload {
	p.queueLock.Lock()
	defer p.queueLock.Unlock()

	ret := p.queue
	p.queue = nil

	return ret
}

func (p *Peer) writeError() error {
	p.queueLock.Lock()
	defer p.queueLock.Unlock()

	return p.writeErr
}

// Writes queued messages in order until ctx is done or a write fails. A
// failed write closes the transport, which ends the read loop.
func (p *Peer) writeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.queueWake:
		}

		for batch := p.takeQueue(); len(batch) > 0; batch = p.takeQueue() {
			for _, m := range batch {
				err := p.client.WritePayload(m)

				if err == nil {
					continue
				}

				if ctx.Err() == nil {
					p.queueLock.Lock()
					p.writeErr = err
					p.queueLock.Unlock()

					p.client.Close()
				}

				return
			}
		}
	}
}

// Hangs up, cancelling a dial in progress. Run returns shortly after.
func (p *Peer) Close() {
	p.closed.Store(true)

	p.lock.RLock()
	if p.cancel != nil {
		p.cancel()
	}
	p.lock.RUnlock()

	p.closeConn()
}

func (p *Peer) closeConn() {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if p.conn != nil {
		p.conn.Close()
	}
}
