package hyperbit

import (
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mirrorwish/hyperbit/netdb"
	"github.com/mirrorwish/hyperbit/proto"
)

// Command server type

type CommandServer struct {
	LocalPeer *LocalPeer
}

func NewCommandServer(lp *LocalPeer) *CommandServer {
	return &CommandServer{LocalPeer: lp}
}

type CommandResult struct {
	IsOK  bool        `json:"status"`
	Value interface{} `json:"value"`
	Error error       `json:"error"`
}

type CommandPeers struct {
	// 0 returns every known peer
	Limit int `json:"limit"`
}

type CommandAddPeer struct {
	Address string `json:"address"`
}

// A running connection, as reported by Connections.
type ConnectionInfo struct {
	Host        string    `json:"host"`
	Port        uint16    `json:"port"`
	Inbound     bool      `json:"inbound"`
	State       string    `json:"state"`
	UserAgent   string    `json:"userAgent"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Command functions

func (cs *CommandServer) Stats() CommandResult {
	log.Debug("Command: Stats request")

	return CommandResult{true, cs.LocalPeer.PeerManager().Stats(), nil}
}

func (cs *CommandServer) Peers(cp CommandPeers) CommandResult {
	log.Info("Command: Peers request")

	limit := cp.Limit
	if limit <= 0 {
		limit = -1
	}

	entries, err := cs.LocalPeer.NetDB.Recent(limit)

	if err != nil {
		return CommandResult{false, nil, err}
	}

	return CommandResult{true, entries, nil}
}

func (cs *CommandServer) Connections() CommandResult {
	log.Info("Command: Connections request")

	ret := make([]ConnectionInfo, 0, cs.LocalPeer.PeerCount())

	for _, p := range cs.LocalPeer.Peers() {
		host := ""
		if ip := p.RemoteHost(); ip != nil {
			host = ip.String()
		}

		ret = append(ret, ConnectionInfo{
			Host:        host,
			Port:        p.RemotePort(),
			Inbound:     p.Inbound(),
			State:       p.State().String(),
			UserAgent:   p.RemoteUserAgent(),
			ConnectedAt: p.ConnectedAt(),
		})
	}

	return CommandResult{true, ret, nil}
}

// Adds a peer by hand, like a seed. It is dialed by the maintenance loop like
// any other idle peer.
func (cs *CommandServer) AddPeer(cmd CommandAddPeer) CommandResult {
	log.WithField("address", cmd.Address).Info("Command: Add Peer request")

	host, port, err := splitHostPort(cmd.Address)

	if err != nil {
		return CommandResult{false, nil, err}
	}

	ip := net.ParseIP(host)

	if ip == nil {
		return CommandResult{false, nil, errors.New("Address must be an IP")}
	}

	entry, err := cs.LocalPeer.NetDB.Upsert(0, proto.NodeNetwork, ip, port, false)

	if err != nil {
		return CommandResult{false, nil, err}
	}

	return CommandResult{true, entry, nil}
}

func (cs *CommandServer) Objects() CommandResult {
	log.Info("Command: Objects request")

	return CommandResult{true, len(cs.LocalPeer.Database.HashesForSend()), nil}
}

func (cs *CommandServer) PeerStatus(addr string) CommandResult {
	a, err := netdb.ParseAddress(addr)

	if err != nil {
		return CommandResult{false, nil, err}
	}

	entry, err := cs.LocalPeer.NetDB.Query(a)

	if err != nil {
		return CommandResult{false, nil, err}
	}

	return CommandResult{true, entry.Status.String(), nil}
}

type NetMap struct {
	Nodes []MapNode `json:"nodes"`
	Links []MapLink `json:"links"`
}

func (cs *CommandServer) NetMap() CommandResult {
	log.Info("Command: Net Map request")

	nodes, links := CreateNetMap(cs.LocalPeer.Peers())

	return CommandResult{true, NetMap{nodes, links}, nil}
}
