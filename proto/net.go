// a few network helpers
package proto

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
)

// services, ip and port, as found in version messages.
type NetAddress struct {
	Services uint64
	IP       [16]byte
	Port     uint16
}

const netAddressSize = 8 + 16 + 2

// IPv4 addresses are stored mapped into IPv6.
func NewNetAddress(services uint64, ip net.IP, port uint16) NetAddress {
	ret := NetAddress{Services: services, Port: port}

	if ip16 := ip.To16(); ip16 != nil {
		copy(ret.IP[:], ip16)
	}

	return ret
}

func (a NetAddress) NetIP() net.IP {
	ip := make(net.IP, 16)
	copy(ip, a.IP[:])

	return ip
}

func (a NetAddress) String() string {
	return net.JoinHostPort(a.NetIP().String(), strconv.Itoa(int(a.Port)))
}

func (a *NetAddress) Encode(w io.Writer) error {
	var buf [netAddressSize]byte

	binary.BigEndian.PutUint64(buf[0:8], a.Services)
	copy(buf[8:24], a.IP[:])
	binary.BigEndian.PutUint16(buf[24:26], a.Port)

	_, err := w.Write(buf[:])
	return err
}

func (a *NetAddress) Decode(r io.Reader) error {
	var buf [netAddressSize]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}

	a.Services = binary.BigEndian.Uint64(buf[0:8])
	copy(a.IP[:], buf[8:24])
	a.Port = binary.BigEndian.Uint16(buf[24:26])

	return nil
}

// An entry of an addr message.
type AddrRecord struct {
	Time   uint64
	Stream uint32
	NetAddress
}

func (a *AddrRecord) Encode(w io.Writer) error {
	var buf [12]byte

	binary.BigEndian.PutUint64(buf[0:8], a.Time)
	binary.BigEndian.PutUint32(buf[8:12], a.Stream)

	if _, err := w.Write(buf[:]); err != nil {
		return err
	}

	return a.NetAddress.Encode(w)
}

func (a *AddrRecord) Decode(r io.Reader) error {
	var buf [12]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}

	a.Time = binary.BigEndian.Uint64(buf[0:8])
	a.Stream = binary.BigEndian.Uint32(buf[8:12])

	return a.NetAddress.Decode(r)
}

func (a AddrRecord) String() string {
	return fmt.Sprintf("%s stream %d", a.NetAddress.String(), a.Stream)
}
