package netdb

import (
	"errors"
	"net"
)

const AddressBinarySize = 16

var ErrBadAddress = errors.New("not an IP address")

// The identity of a peer, its IP as 16 bytes. IPv4 addresses are stored
// mapped into IPv6.
type Address [AddressBinarySize]byte

func AddressFromIP(ip net.IP) (Address, error) {
	var ret Address

	ip16 := ip.To16()
	if ip16 == nil {
		return ret, ErrBadAddress
	}

	copy(ret[:], ip16)

	return ret, nil
}

func ParseAddress(s string) (Address, error) {
	ip := net.ParseIP(s)

	if ip == nil {
		return Address{}, ErrBadAddress
	}

	return AddressFromIP(ip)
}

func (a Address) IP() net.IP {
	ip := make(net.IP, AddressBinarySize)
	copy(ip, a[:])

	return ip
}

func (a Address) String() string {
	return a.IP().String()
}

func (a Address) Bytes() []byte {
	return a[:]
}

// Ranges that never hold a reachable public peer.
var nonPublic = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/29",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
	"::/128",
	"::1/128",
	"100::/64",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
)

// Whether the address is loopback, link local, private or reserved for
// documentation. Peers gossiped with such an address are ignored.
func (a Address) IsPrivate() bool {
	ip := a.IP()

	for _, n := range nonPublic {
		if n.Contains(ip) {
			return true
		}
	}

	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	ret := make([]*net.IPNet, 0, len(cidrs))

	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)

		if err != nil {
			panic(err)
		}

		ret = append(ret, n)
	}

	return ret
}
