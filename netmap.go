package hyperbit

import (
	"net"
	"strconv"
)

type MapNode struct {
	// the address is treated like an id
	Address string `json:"id"`
	Name    string `json:"name"`
}

type MapLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// this file creates a JSON map of the network, compatible with d3.js

const selfNode = "self"

// Maps the local node and every connection it has, with a link from us to
// each of them. Peers still handshaking are left out, so are duplicate
// connections to the same address.
func CreateNetMap(peers []*Peer) ([]MapNode, []MapLink) {
	nodes := []MapNode{{Address: selfNode, Name: "local"}}
	links := make([]MapLink, 0, len(peers))

	seen := make(map[string]bool)

	for _, p := range peers {
		if !p.GotVersion() {
			continue
		}

		host := p.RemoteHost()
		if host == nil {
			continue
		}

		id := net.JoinHostPort(host.String(), strconv.Itoa(int(p.RemotePort())))

		if seen[id] {
			continue
		}
		seen[id] = true

		nodes = append(nodes, MapNode{Address: id, Name: p.RemoteUserAgent()})

		if p.Inbound() {
			links = append(links, MapLink{Source: id, Target: selfNode})
		} else {
			links = append(links, MapLink{Source: selfNode, Target: id})
		}
	}

	return nodes, links
}
