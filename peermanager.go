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

	"github.com/ethereum/go-ethereum/common/mclock"
	cmap "github.com/streamrail/concurrent-map"

	"github.com/mirrorwish/hyperbit/common"
	"github.com/mirrorwish/hyperbit/netdb"
	"github.com/mirrorwish/hyperbit/proto"
	"github.com/mirrorwish/hyperbit/util"

	log "github.com/sirupsen/logrus"
)

// errors

var (
	ErrNoCandidate = errors.New("No idle peer to connect to")
)

// A snapshot of the connection counts.
type Stats struct {
	Connected int `json:"connected"`
	Pending   int `json:"pending"`
	Known     int `json:"known"`
	Active    int `json:"active"`

	// Only meaningful in trusted mode.
	Trusted netdb.Status `json:"trusted"`
}

// handles peer connections
type PeerManager struct {
	config   Config
	identity proto.Identity

	netdb   *netdb.NetDB
	objects proto.ObjectStore
	dialer  common.Dialer
	clock   mclock.Clock
	now     func() time.Time
	server  atomic.Pointer[proto.Server]

	// a map of currently running connections, keyed by connection id
	peers  cmap.ConcurrentMap
	nextId atomic.Uint64
	wg     sync.WaitGroup

	// In trusted mode the one connection is tracked here, not in the peer
	// table.
	trustedStatus atomic.Int32

	stats util.Observers[Stats]
}

func NewPeerManager(config Config, identity proto.Identity, db *netdb.NetDB, objects proto.ObjectStore) (*PeerManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ret := &PeerManager{
		config:   config,
		identity: identity,
		netdb:    db,
		objects:  objects,
		clock:    mclock.System{},
		now:      time.Now,
		peers:    cmap.New(),
	}

	switch config.Proxy {
	case ProxyTor:
		dialer, err := proto.SocksDialer(config.TorHost, config.TorPort)

		if err != nil {
			return nil, err
		}

		ret.dialer = dialer
	default:
		ret.dialer = proto.DirectDialer()
	}

	db.Subscribe(func(e netdb.Event) {
		if e.Op == netdb.EventAdded {
			ret.statsChanged()
		}
	})

	return ret, nil
}

// Replaces how outbound connections are made.
func (pm *PeerManager) SetDialer(d common.Dialer) {
	pm.dialer = d
}

// Replaces the clock driving the maintenance loop and reconnect delay.
func (pm *PeerManager) SetClock(c mclock.Clock) {
	pm.clock = c
}

func (pm *PeerManager) peerConfig() PeerConfig {
	return PeerConfig{
		Identity:  pm.identity,
		Stream:    pm.config.Stream,
		Objects:   pm.objects,
		Addresses: pm.netdb,
		Dialer:    pm.dialer,
		Now:       pm.now,
	}
}

// Runs until ctx is cancelled, in whichever mode is configured.
func (pm *PeerManager) Run(ctx context.Context) error {
	defer pm.wg.Wait()

	// the trusted peer is all we ever talk to
	if pm.config.Proxy != ProxyTrusted {
		if err := pm.LoadSeeds(); err != nil {
			log.Error(err.Error())
		}
	}

	switch pm.config.Proxy {
	case ProxyTrusted:
		return pm.runTrusted(ctx)

	case ProxyDisabled:
		server := proto.NewServer()

		err := server.Listen(fmt.Sprintf(":%d", pm.config.ListenPort))

		if err != nil {
			return err
		}

		pm.server.Store(server)

		pm.wg.Add(1)
		go func() {
			defer pm.wg.Done()

			if err := server.Serve(ctx, pm.handleInbound); err != nil {
				log.Error(err.Error())
			}
		}()
	}

	return pm.maintain(ctx)
}

// The listener's address, nil unless running in direct mode.
func (pm *PeerManager) ListenAddr() net.Addr {
	server := pm.server.Load()

	if server == nil {
		return nil
	}

	return server.Addr()
}

func (pm *PeerManager) maintain(ctx context.Context) error {
	log.WithField("target", pm.config.ConnectionCount).Info("Maintaining connections")

	for {
		pm.Maintain(ctx)

		if err := sleep(ctx, pm.clock, pm.config.MaintainInterval); err != nil {
			return nil
		}
	}
}

// One pass of the maintenance loop. If we are short of connected peers, one
// more connection is opened. Then connections are opened until pending plus
// connected reaches the target. Neither step opens more connections than
// there are known peers.
func (pm *PeerManager) Maintain(ctx context.Context) {
	target := pm.config.ConnectionCount

	connected, err := pm.countConnected()
	if err != nil {
		log.Error(err.Error())
		return
	}

	active, err := pm.countPendingAndConnected()
	if err != nil {
		log.Error(err.Error())
		return
	}

	all, err := pm.netdb.CountAll()
	if err != nil {
		log.Error(err.Error())
		return
	}

	if connected < target && active < all {
		if err := pm.openOne(ctx); err != nil {
			log.Debug(err.Error())
			return
		}
	}

	for {
		active, err := pm.countPendingAndConnected()
		if err != nil {
			log.Error(err.Error())
			return
		}

		all, err := pm.netdb.CountAll()
		if err != nil {
			log.Error(err.Error())
			return
		}

		if active >= target || active >= all {
			return
		}

		if err := pm.openOne(ctx); err != nil {
			log.Debug(err.Error())
			return
		}
	}
}

// Dials the best idle peer in the table.
func (pm *PeerManager) openOne(ctx context.Context) error {
	entry, err := pm.netdb.BestCandidate()

	if err != nil {
		return err
	}

	if entry == nil {
		return ErrNoCandidate
	}

	log.WithField("peer", entry.HostPort()).Info("Trying")

	addr := entry.Address

	err = pm.netdb.MarkPending(addr)

	if err != nil {
		return err
	}

	peer := NewOutboundPeer(entry.HostPort(), pm.peerConfig())

	peer.OnConnect(func(p *Peer) {
		if err := pm.netdb.MarkConnected(addr); err != nil {
			log.Error(err.Error())
		}
		pm.statsChanged()
	})

	peer.OnDisconnect(func(p *Peer) {
		if err := pm.netdb.MarkDisconnected(addr); err != nil {
			log.Error(err.Error())
		}
		pm.statsChanged()
	})

	pm.spawn(ctx, peer)

	return nil
}

// Runs a connection in the background, keeping it in the active set until
// it ends.
func (pm *PeerManager) spawn(ctx context.Context, peer *Peer) {
	id := pm.add(peer)

	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()
		defer pm.peers.Remove(id)

		peer.Run(ctx)
	}()
}

func (pm *PeerManager) add(peer *Peer) string {
	id := strconv.FormatUint(pm.nextId.Add(1), 10)
	pm.peers.Set(id, peer)

	return id
}

// Inbound connections from public addresses are recorded under the address
// they came from and the port they say they listen on, once their version is
// accepted. A peer we are already dialing or connected to keeps its status,
// only a connection that marked a peer connected marks it idle again.
func (pm *PeerManager) handleInbound(ctx context.Context, conn net.Conn) {
	peer := NewInboundPeer(conn, pm.peerConfig())

	var addr netdb.Address
	recorded := false

	peer.OnConnect(func(p *Peer) {
		host := p.RemoteHost()
		port := p.RemotePort()

		// not listening, nothing we could dial
		if host == nil || port == 0 {
			return
		}

		entry, err := pm.netdb.Upsert(pm.now().Unix(), p.RemoteServices(), host, port, true)

		if err != nil {
			log.Error(err.Error())
			return
		}

		if entry == nil {
			return
		}

		claimed, err := pm.netdb.ClaimConnected(entry.Address)

		if err != nil {
			log.Error(err.Error())
			return
		}

		if !claimed {
			log.WithField("peer", entry.HostPort()).Debug("Inbound peer already active")
			return
		}

		addr = entry.Address
		recorded = true

		// it moved since we last heard of it
		if entry.Port != port {
			if err := pm.netdb.SetPort(addr, port); err != nil {
				log.Error(err.Error())
			}
		}

		pm.statsChanged()
	})

	peer.OnDisconnect(func(p *Peer) {
		if !recorded {
			return
		}

		if err := pm.netdb.MarkDisconnected(addr); err != nil {
			log.Error(err.Error())
		}
		pm.statsChanged()
	})

	id := pm.add(peer)
	defer pm.peers.Remove(id)

	err := peer.Run(ctx)

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithField("peer", peer.String()).Debug(err.Error())
	}
}

// Keeps one connection to the trusted peer, reconnecting after a delay
// whenever it drops. Never gives up.
func (pm *PeerManager) runTrusted(ctx context.Context) error {
	addr := pm.config.TrustedAddr()

	for {
		log.WithField("peer", addr).Info("Trying trusted peer")

		pm.setTrusted(netdb.StatusPending)

		peer := NewOutboundPeer(addr, pm.peerConfig())
		peer.OnConnect(func(p *Peer) {
			pm.setTrusted(netdb.StatusConnected)
		})

		id := pm.add(peer)
		err := peer.Run(ctx)
		pm.peers.Remove(id)

		pm.setTrusted(netdb.StatusIdle)

		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			log.WithField("peer", addr).Info("Trusted peer lost: ", err.Error())
		}

		if err := sleep(ctx, pm.clock, pm.config.ReconnectDelay); err != nil {
			return nil
		}
	}
}

func (pm *PeerManager) setTrusted(s netdb.Status) {
	pm.trustedStatus.Store(int32(s))
	pm.statsChanged()
}

func (pm *PeerManager) TrustedStatus() netdb.Status {
	return netdb.Status(pm.trustedStatus.Load())
}

func (pm *PeerManager) countConnected() (int, error) {
	count, err := pm.netdb.CountByStatus(netdb.StatusConnected)

	if err != nil {
		return 0, err
	}

	if pm.TrustedStatus() == netdb.StatusConnected {
		count++
	}

	return count, nil
}

func (pm *PeerManager) countPendingAndConnected() (int, error) {
	connected, err := pm.netdb.CountByStatus(netdb.StatusConnected)

	if err != nil {
		return 0, err
	}

	pending, err := pm.netdb.CountByStatus(netdb.StatusPending)

	if err != nil {
		return 0, err
	}

	if s := pm.TrustedStatus(); s == netdb.StatusPending || s == netdb.StatusConnected {
		pending++
	}

	return connected + pending, nil
}

// Connected peers, the trusted peer included.
func (pm *PeerManager) CountConnected() int {
	count, err := pm.countConnected()

	if err != nil {
		log.Error(err.Error())
	}

	return count
}

// Pending and connected peers, the trusted peer included.
func (pm *PeerManager) CountPendingAndConnected() int {
	count, err := pm.countPendingAndConnected()

	if err != nil {
		log.Error(err.Error())
	}

	return count
}

func (pm *PeerManager) CountAll() int {
	count, err := pm.netdb.CountAll()

	if err != nil {
		log.Error(err.Error())
	}

	return count
}

// Number of running connections, whatever their state.
func (pm *PeerManager) Count() int {
	return pm.peers.Count()
}

func (pm *PeerManager) Peers() []*Peer {
	ret := make([]*Peer, 0, pm.peers.Count())

	for _, v := range pm.peers.Items() {
		ret = append(ret, v.(*Peer))
	}

	return ret
}

// Announces hashes to every connection past its handshake.
func (pm *PeerManager) Broadcast(hashes []common.Hash) {
	for _, p := range pm.Peers() {
		if !p.GotVersion() {
			continue
		}

		p.SendInv(hashes)
	}
}

func (pm *PeerManager) Stats() Stats {
	connected, _ := pm.netdb.CountByStatus(netdb.StatusConnected)
	pending, _ := pm.netdb.CountByStatus(netdb.StatusPending)

	return Stats{
		Connected: connected,
		Pending:   pending,
		Known:     pm.CountAll(),
		Active:    pm.Count(),
		Trusted:   pm.TrustedStatus(),
	}
}

// fn is called whenever connection counts may have changed. It runs on the
// goroutine that made the change and must not open or close connections.
func (pm *PeerManager) OnStatsChanged(fn func(Stats)) *util.Subscription {
	return pm.stats.Subscribe(fn)
}

func (pm *PeerManager) statsChanged() {
	if pm.stats.Len() == 0 {
		return
	}

	pm.stats.Notify(pm.Stats())
}

// Waits for d on clock, or until ctx is done.
func sleep(ctx context.Context, clock mclock.Clock, d time.Duration) error {
	done := make(chan struct{})
	timer := clock.AfterFunc(d, func() { close(done) })

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}
