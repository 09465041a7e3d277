package hyperbit

import (
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/mirrorwish/hyperbit/proto"
)

// Looks up the addresses of a seed given by name.
var lookupIP = net.LookupIP

// Puts the configured seed peers into the peer table. Known peers keep their
// history, new ones start idle with a zero timestamp so anything learned from
// the network is preferred over them.
func (pm *PeerManager) LoadSeeds() error {
	log.Info("Loading seed list")

	var lastErr error
	loaded := 0

	for _, seed := range pm.config.KnownPeers {
		ips, port, err := pm.resolveSeed(seed)

		if err != nil {
			log.WithField("seed", seed).Error(err.Error())
			lastErr = err
			continue
		}

		for _, ip := range ips {
			_, err := pm.netdb.Upsert(0, proto.NodeNetwork, ip, port, false)

			if err != nil {
				log.WithField("seed", seed).Error(err.Error())
				lastErr = err
				continue
			}

			loaded++
		}
	}

	log.WithField("seeds", loaded).Info("Finished loading seed list")

	return lastErr
}

func (pm *PeerManager) resolveSeed(seed string) ([]net.IP, uint16, error) {
	host, port, err := splitHostPort(seed)

	if err != nil {
		return nil, 0, err
	}

	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, port, nil
	}

	// the peer table only holds IPs, and resolving here would leak the
	// lookup around the proxy
	if pm.config.Proxy == ProxyTor {
		return nil, 0, fmt.Errorf("seed %s is not an IP address", host)
	}

	ips, err := lookupIP(host)

	if err != nil {
		return nil, 0, err
	}

	return ips, port, nil
}
