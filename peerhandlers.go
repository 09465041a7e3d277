package hyperbit

import (
	"runtime"

	log "github.com/sirupsen/logrus"

	"github.com/mirrorwish/hyperbit/common"
	"github.com/mirrorwish/hyperbit/proto"
)

// Peers on our stream go into the address book, private addresses are
// dropped there.
func (p *Peer) handleAddr(msg *proto.MsgAddr) error {
	if p.config.Addresses == nil {
		return nil
	}

	added := 0

	for _, a := range msg.Addresses {
		if uint64(a.Stream) != p.config.Stream {
			continue
		}

		entry, err := p.config.Addresses.Upsert(int64(a.Time), a.Services, a.NetIP(), a.Port, true)

		if err != nil {
			log.WithField("address", a.String()).Error(err.Error())
			continue
		}

		if entry != nil {
			added++
		}
	}

	log.WithFields(log.Fields{
		"peer":     p.String(),
		"received": len(msg.Addresses),
		"stored":   added,
	}).Debug("Handled addr")

	return nil
}

// Asks for every announced object we don't hold, in a single getdata.
func (p *Peer) handleInv(msg *proto.MsgInv) error {
	if p.config.Objects == nil {
		return nil
	}

	missing := make([]common.Hash, 0)

	for _, h := range msg.Hashes {
		if p.config.Objects.Object(h) == nil {
			missing = append(missing, h)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	log.WithFields(log.Fields{
		"peer":    p.String(),
		"objects": len(missing),
	}).Debug("Requesting objects")

	p.queueMessage(&proto.MsgGetdata{Hashes: missing})

	return nil
}

// Queues every requested object we hold. Other connections get a turn
// between objects, a getdata can ask for a lot.
func (p *Peer) handleGetdata(msg *proto.MsgGetdata) error {
	if p.config.Objects == nil {
		return nil
	}

	for _, h := range msg.Hashes {
		o := p.config.Objects.Object(h)

		if o == nil {
			continue
		}

		p.queueMessage(o)

		runtime.Gosched()
	}

	return nil
}

// Validating and deduplicating is the store's job.
func (p *Peer) handleObject(o *proto.Object) error {
	if p.config.Objects == nil {
		return nil
	}

	p.config.Objects.AddObject(o)

	return nil
}
