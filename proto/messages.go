package proto

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/mirrorwish/hyperbit/common"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Most streams a version message may list.
const MaxStreams = 160000

// A typed payload. The set of implementations is closed, DecodePayload
// switches over all of them.
type Payload interface {
	common.Encodable
	Command() string

	payload()
}

type MsgVersion struct {
	Version   int32
	Services  uint64
	Timestamp int64
	AddrRecv  NetAddress
	AddrFrom  NetAddress
	Nonce     uint64
	UserAgent string
	Streams   []uint64
}

func (m *MsgVersion) Command() string { return CommandVersion }
func (m *MsgVersion) payload()        {}

func (m *MsgVersion) Encode(w io.Writer) error {
	var buf [20]byte

	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Version))
	binary.BigEndian.PutUint64(buf[4:12], m.Services)
	binary.BigEndian.PutUint64(buf[12:20], uint64(m.Timestamp))

	if _, err := w.Write(buf[:]); err != nil {
		return err
	}

	if err := m.AddrRecv.Encode(w); err != nil {
		return err
	}

	if err := m.AddrFrom.Encode(w); err != nil {
		return err
	}

	binary.BigEndian.PutUint64(buf[0:8], m.Nonce)
	if _, err := w.Write(buf[:8]); err != nil {
		return err
	}

	if err := WriteVarStr(w, m.UserAgent); err != nil {
		return err
	}

	return WriteVarIntList(w, m.Streams)
}

func (m *MsgVersion) Decode(r io.Reader) error {
	var buf [20]byte
	var err error

	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return err
	}

	m.Version = int32(binary.BigEndian.Uint32(buf[0:4]))
	m.Services = binary.BigEndian.Uint64(buf[4:12])
	m.Timestamp = int64(binary.BigEndian.Uint64(buf[12:20]))

	if err = m.AddrRecv.Decode(r); err != nil {
		return err
	}

	if err = m.AddrFrom.Decode(r); err != nil {
		return err
	}

	if _, err = io.ReadFull(r, buf[:8]); err != nil {
		return err
	}
	m.Nonce = binary.BigEndian.Uint64(buf[:8])

	if m.UserAgent, err = ReadVarStr(r); err != nil {
		return err
	}

	m.Streams, err = ReadVarIntList(r, MaxStreams)
	return err
}

type MsgVerack struct{}

func (m *MsgVerack) Command() string          { return CommandVerack }
func (m *MsgVerack) payload()                 {}
func (m *MsgVerack) Encode(w io.Writer) error { return nil }
func (m *MsgVerack) Decode(r io.Reader) error { return nil }

type MsgAddr struct {
	Addresses []AddrRecord
}

func (m *MsgAddr) Command() string { return CommandAddr }
func (m *MsgAddr) payload()        {}

func (m *MsgAddr) Encode(w io.Writer) error {
	if len(m.Addresses) > common.MaxAddrPerMessage {
		return errors.Errorf("addr with %d entries is too big", len(m.Addresses))
	}

	if err := WriteVarInt(w, uint64(len(m.Addresses))); err != nil {
		return err
	}

	for i := range m.Addresses {
		if err := m.Addresses[i].Encode(w); err != nil {
			return err
		}
	}

	return nil
}

func (m *MsgAddr) Decode(r io.Reader) error {
	count, err := ReadVarInt(r)

	if err != nil {
		return err
	}

	if count > common.MaxAddrPerMessage {
		return errors.Errorf("addr with %d entries is too big", count)
	}

	m.Addresses = make([]AddrRecord, count)
	for i := range m.Addresses {
		if err := m.Addresses[i].Decode(r); err != nil {
			return err
		}
	}

	return nil
}

// inv and getdata share a layout.
type hashList []common.Hash

func (l hashList) encode(w io.Writer) error {
	if len(l) > common.MaxInvPerMessage {
		return errors.Errorf("%d hashes is too many for one message", len(l))
	}

	if err := WriteVarInt(w, uint64(len(l))); err != nil {
		return err
	}

	for _, h := range l {
		if _, err := w.Write(h[:]); err != nil {
			return err
		}
	}

	return nil
}

func decodeHashList(r io.Reader) (hashList, error) {
	count, err := ReadVarInt(r)

	if err != nil {
		return nil, err
	}

	if count > common.MaxInvPerMessage {
		return nil, errors.Errorf("%d hashes is too many for one message", count)
	}

	ret := make(hashList, count)
	for i := range ret {
		if _, err := io.ReadFull(r, ret[i][:]); err != nil {
			return nil, err
		}
	}

	return ret, nil
}

type MsgInv struct {
	Hashes []common.Hash
}

func (m *MsgInv) Command() string          { return CommandInv }
func (m *MsgInv) payload()                 {}
func (m *MsgInv) Encode(w io.Writer) error { return hashList(m.Hashes).encode(w) }

func (m *MsgInv) Decode(r io.Reader) error {
	hashes, err := decodeHashList(r)
	m.Hashes = hashes

	return err
}

type MsgGetdata struct {
	Hashes []common.Hash
}

func (m *MsgGetdata) Command() string          { return CommandGetdata }
func (m *MsgGetdata) payload()                 {}
func (m *MsgGetdata) Encode(w io.Writer) error { return hashList(m.Hashes).encode(w) }

func (m *MsgGetdata) Decode(r io.Reader) error {
	hashes, err := decodeHashList(r)
	m.Hashes = hashes

	return err
}

// Splits hashes into inv messages no bigger than the protocol allows.
func InvChunks(hashes []common.Hash) []*MsgInv {
	ret := make([]*MsgInv, 0, len(hashes)/common.MaxInvPerMessage+1)

	for i := 0; i < len(hashes); i += common.MaxInvPerMessage {
		end := i + common.MaxInvPerMessage
		if end > len(hashes) {
			end = len(hashes)
		}

		ret = append(ret, &MsgInv{Hashes: hashes[i:end]})
	}

	return ret
}

// Returns an empty payload of the right type for a command.
func NewPayload(command string) (Payload, error) {
	switch command {
	case CommandVersion:
		return &MsgVersion{}, nil
	case CommandVerack:
		return &MsgVerack{}, nil
	case CommandAddr:
		return &MsgAddr{}, nil
	case CommandInv:
		return &MsgInv{}, nil
	case CommandGetdata:
		return &MsgGetdata{}, nil
	case CommandObject:
		return &Object{}, nil
	}

	return nil, errors.Wrap(ErrUnknownCommand, command)
}

// Interprets a generic message as its typed payload.
func DecodePayload(msg *Message) (Payload, error) {
	p, err := NewPayload(msg.Command)

	if err != nil {
		return nil, err
	}

	if err := p.Decode(bytes.NewReader(msg.Payload)); err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, "%s: %v", msg.Command, err)
	}

	return p, nil
}

func EncodePayload(p Payload) (*Message, error) {
	var buf bytes.Buffer

	if err := p.Encode(&buf); err != nil {
		return nil, errors.Wrapf(err, "encoding %s", p.Command())
	}

	return &Message{Command: p.Command(), Payload: buf.Bytes()}, nil
}
