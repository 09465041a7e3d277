package proto

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"io"
	"time"

	"github.com/mirrorwish/hyperbit/common"
)

type ObjectType uint32

const (
	ObjectGetpubkey ObjectType = 0
	ObjectPubkey    ObjectType = 1
	ObjectMsg       ObjectType = 2
	ObjectBroadcast ObjectType = 3
)

func (t ObjectType) String() string {
	switch t {
	case ObjectGetpubkey:
		return "getpubkey"
	case ObjectPubkey:
		return "pubkey"
	case ObjectMsg:
		return "msg"
	case ObjectBroadcast:
		return "broadcast"
	}

	return "unknown"
}

// The envelope every piece of content travels in. The payload is opaque at
// this layer, and the proof of work nonce is carried but never checked.
type Object struct {
	Nonce   uint64
	Expires uint64
	Type    ObjectType
	Version uint64
	Stream  uint64
	Payload []byte
}

func (o *Object) Command() string { return CommandObject }
func (o *Object) payload()        {}

func (o *Object) Encode(w io.Writer) error {
	var buf [20]byte

	binary.BigEndian.PutUint64(buf[0:8], o.Nonce)
	binary.BigEndian.PutUint64(buf[8:16], o.Expires)
	binary.BigEndian.PutUint32(buf[16:20], uint32(o.Type))

	if _, err := w.Write(buf[:]); err != nil {
		return err
	}

	if err := WriteVarInt(w, o.Version); err != nil {
		return err
	}

	if err := WriteVarInt(w, o.Stream); err != nil {
		return err
	}

	_, err := w.Write(o.Payload)
	return err
}

// Everything after the stream number is payload, so r should be limited to
// a single message.
func (o *Object) Decode(r io.Reader) error {
	var buf [20]byte
	var err error

	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return err
	}

	o.Nonce = binary.BigEndian.Uint64(buf[0:8])
	o.Expires = binary.BigEndian.Uint64(buf[8:16])
	o.Type = ObjectType(binary.BigEndian.Uint32(buf[16:20]))

	if o.Version, err = ReadVarInt(r); err != nil {
		return err
	}

	if o.Stream, err = ReadVarInt(r); err != nil {
		return err
	}

	o.Payload, err = io.ReadAll(io.LimitReader(r, common.MaxMessageSize))
	return err
}

func (o *Object) Bytes() []byte {
	var buf bytes.Buffer

	// writes to a bytes.Buffer don't fail
	o.Encode(&buf)

	return buf.Bytes()
}

// The inventory hash, first 32 bytes of a double SHA-512 over the encoded
// object.
func (o *Object) Hash() common.Hash {
	return InvHash(o.Bytes())
}

func InvHash(data []byte) common.Hash {
	var ret common.Hash

	first := sha512.Sum512(data)
	second := sha512.Sum512(first[:])
	copy(ret[:], second[:common.HashSize])

	return ret
}

func (o *Object) ExpiresAt() time.Time {
	return time.Unix(int64(o.Expires), 0)
}

func (o *Object) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt())
}
