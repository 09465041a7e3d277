package hyperbit

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mirrorwish/hyperbit/proto"
)

type ProxyMode string

const (
	// Dial directly and accept inbound connections.
	ProxyDisabled ProxyMode = "disabled"
	// Dial through a SOCKS5 proxy, no listener.
	ProxyTor ProxyMode = "tor"
	// Keep exactly one connection to a single trusted peer.
	ProxyTrusted ProxyMode = "trusted"
)

const (
	MaintainInterval = time.Second * 10
	ReconnectDelay   = time.Second * 10
)

// Everything the node needs to run. Built once at startup, never changed
// afterwards.
type Config struct {
	Proxy ProxyMode

	TorHost string
	TorPort int

	TrustedHost string
	TrustedPort int

	ListenPort      int
	ConnectionCount int

	// host:port pairs inserted into the peer table at startup.
	KnownPeers []string

	Stream uint64

	MaintainInterval time.Duration
	ReconnectDelay   time.Duration

	DataDir string
}

func DefaultConfig() Config {
	return Config{
		Proxy:            ProxyDisabled,
		TorHost:          "127.0.0.1",
		TorPort:          9050,
		TrustedHost:      "127.0.0.1",
		TrustedPort:      8444,
		ListenPort:       8444,
		ConnectionCount:  8,
		KnownPeers:       []string{},
		Stream:           proto.DefaultStream,
		MaintainInterval: MaintainInterval,
		ReconnectDelay:   ReconnectDelay,
		DataDir:          "./data",
	}
}

func validPort(port int) bool {
	return port > 0 && port <= 0xffff
}

func (c *Config) Validate() error {
	switch c.Proxy {
	case ProxyDisabled:
		if c.ListenPort < 0 || c.ListenPort > 0xffff {
			return fmt.Errorf("invalid listen port %d", c.ListenPort)
		}
	case ProxyTor:
		if c.TorHost == "" || !validPort(c.TorPort) {
			return fmt.Errorf("invalid tor proxy %s:%d", c.TorHost, c.TorPort)
		}
	case ProxyTrusted:
		if c.TrustedHost == "" || !validPort(c.TrustedPort) {
			return fmt.Errorf("invalid trusted peer %s:%d", c.TrustedHost, c.TrustedPort)
		}
	default:
		return fmt.Errorf("unknown proxy mode %q", c.Proxy)
	}

	if c.ConnectionCount < 1 {
		return fmt.Errorf("connection count must be at least 1, got %d", c.ConnectionCount)
	}

	if c.Stream == 0 {
		return fmt.Errorf("stream must be at least 1")
	}

	if c.MaintainInterval <= 0 || c.ReconnectDelay <= 0 {
		return fmt.Errorf("intervals must be positive")
	}

	for _, p := range c.KnownPeers {
		if _, _, err := splitHostPort(p); err != nil {
			return fmt.Errorf("known peer %q: %w", p, err)
		}
	}

	return nil
}

func (c *Config) PeerDBPath() string {
	return filepath.Join(c.DataDir, "peers.db")
}

func (c *Config) ObjectDBPath() string {
	return filepath.Join(c.DataDir, "objects")
}

func (c *Config) TrustedAddr() string {
	return net.JoinHostPort(c.TrustedHost, strconv.Itoa(c.TrustedPort))
}

func splitHostPort(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)

	if err != nil {
		return "", 0, err
	}

	port, err := strconv.ParseUint(portStr, 10, 16)

	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}

	return host, uint16(port), nil
}
