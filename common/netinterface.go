package common

import (
	"context"
	"net"
)

// Opens outbound transports. Implemented by net.Dialer, the SOCKS5 dialer
// and fakes in tests.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}
