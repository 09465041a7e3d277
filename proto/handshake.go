package proto

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// Handshake failures. All of them end the connection without telling the
// remote why.
var (
	ErrSelfConnection  = errors.New("connected to self")
	ErrProtocolVersion = errors.New("protocol version too old")
	ErrStreamMismatch  = errors.New("no common stream")
)

// What we say about ourselves in a version message.
type Identity struct {
	Nonce     uint64
	Services  uint64
	UserAgent string
	Streams   []uint64

	// Our listening port, 0 when we don't accept connections.
	Port uint16
}

// Builds the version message sent as soon as a transport is up.
func NewVersion(id Identity, remoteIP net.IP, remotePort uint16, now time.Time) *MsgVersion {
	return &MsgVersion{
		Version:   ProtocolVersion,
		Services:  id.Services,
		Timestamp: now.Unix(),
		AddrRecv:  NewNetAddress(NodeNetwork, remoteIP, remotePort),
		AddrFrom:  NewNetAddress(id.Services, net.IPv6zero, id.Port),
		Nonce:     id.Nonce,
		UserAgent: id.UserAgent,
		Streams:   id.Streams,
	}
}

// Validates a version received from a peer.
func CheckVersion(v *MsgVersion, localNonce uint64, stream uint64) error {
	if v.Nonce == localNonce {
		return ErrSelfConnection
	}

	if v.Version < ProtocolVersion {
		return errors.Wrapf(ErrProtocolVersion, "remote speaks %d", v.Version)
	}

	if !HasStream(v.Streams, stream) {
		return errors.Wrapf(ErrStreamMismatch, "remote streams %v, want %d", v.Streams, stream)
	}

	return nil
}

func IsHandshakeError(err error) bool {
	return errors.Is(err, ErrSelfConnection) || errors.Is(err, ErrProtocolVersion) ||
		errors.Is(err, ErrStreamMismatch)
}
