// The local peer. This runs on the current node, so it owns the peer table,
// the object database and the connections.

package hyperbit

import (
	"context"
	"os"

	"github.com/ethereum/go-ethereum/common/mclock"
	log "github.com/sirupsen/logrus"

	"github.com/mirrorwish/hyperbit/common"
	"github.com/mirrorwish/hyperbit/data"
	"github.com/mirrorwish/hyperbit/jobs"
	"github.com/mirrorwish/hyperbit/netdb"
	"github.com/mirrorwish/hyperbit/proto"
	"github.com/mirrorwish/hyperbit/util"
)

type LocalPeer struct {
	Config   Config
	Identity proto.Identity

	NetDB    *netdb.NetDB
	Database *data.Database

	peerManager *PeerManager
	objectSub   *util.Subscription
}

// Opens the databases and sets up the session identity. The nonce is picked
// here, once per process.
func NewLocalPeer(config Config) (*LocalPeer, error) {
	var err error

	if err = config.Validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(config.DataDir, 0700); err != nil {
		return nil, err
	}

	lp := &LocalPeer{Config: config}

	nonce, err := util.CryptoRandUint64()

	if err != nil {
		return nil, err
	}

	lp.Identity = proto.Identity{
		Nonce:     nonce,
		Services:  proto.NodeNetwork,
		UserAgent: proto.UserAgent(),
		Streams:   []uint64{config.Stream},
	}

	// only direct mode listens
	if config.Proxy == ProxyDisabled {
		lp.Identity.Port = uint16(config.ListenPort)
	}

	lp.NetDB, err = netdb.NewNetDB(config.PeerDBPath())

	if err != nil {
		return nil, err
	}

	lp.Database = data.NewDatabase(config.ObjectDBPath())

	if err = lp.Database.Connect(); err != nil {
		lp.NetDB.Close()
		return nil, err
	}

	lp.peerManager, err = NewPeerManager(config, lp.Identity, lp.NetDB, lp.Database)

	if err != nil {
		lp.Close()
		return nil, err
	}

	// new objects are announced to everyone, whoever sent them
	lp.objectSub = lp.Database.Subscribe(func(o *proto.Object) {
		lp.peerManager.Broadcast([]common.Hash{o.Hash()})
	})

	return lp, nil
}

func (lp *LocalPeer) PeerManager() *PeerManager {
	return lp.peerManager
}

// Runs the network until ctx is cancelled.
func (lp *LocalPeer) Run(ctx context.Context) error {
	go jobs.PruneJob(ctx, mclock.System{}, lp.Database, jobs.PruneFrequency)

	return lp.peerManager.Run(ctx)
}

// Stores an object and announces it to connected peers.
func (lp *LocalPeer) AddObject(o *proto.Object) bool {
	return lp.Database.Add(o)
}

func (lp *LocalPeer) Close() {
	lp.objectSub.Unsubscribe()

	if err := lp.Database.Close(); err != nil {
		log.Error(err.Error())
	}

	if err := lp.NetDB.Close(); err != nil {
		log.Error(err.Error())
	}
}

// convenience methods
func (lp *LocalPeer) PeerCount() int {
	return lp.peerManager.Count()
}

func (lp *LocalPeer) Peers() []*Peer {
	return lp.peerManager.Peers()
}
