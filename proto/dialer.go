// Picks how outbound TCP connections are made, directly or through SOCKS5.

package proto

import (
	"context"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/mirrorwish/hyperbit/common"
)

const DialTimeout = time.Second * 20

// Returns a plain TCP dialer.
func DirectDialer() common.Dialer {
	return &net.Dialer{Timeout: DialTimeout}
}

// Returns a dialer that routes everything through a SOCKS5 proxy, tor for
// instance. Hostnames are resolved by the proxy.
func SocksDialer(host string, port int) (common.Dialer, error) {
	forward := &net.Dialer{Timeout: DialTimeout}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer, err := proxy.SOCKS5("tcp", addr, nil, forward)

	if err != nil {
		return nil, err
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd, nil
	}

	return &contextlessDialer{dialer}, nil
}

type contextlessDialer struct {
	d proxy.Dialer
}

func (c *contextlessDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}

	ret := make(chan result, 1)

	go func() {
		conn, err := c.d.Dial(network, addr)
		ret <- result{conn, err}
	}()

	select {
	case r := <-ret:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ret; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
