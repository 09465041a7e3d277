package proto

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

// Framing errors. Any of these means the stream can't be trusted any more and
// the connection has to go.
var (
	ErrBadMagic        = errors.New("bad magic")
	ErrBadChecksum     = errors.New("checksum mismatch")
	ErrMessageTooLarge = errors.New("message too large")
	ErrBadCommand      = errors.New("bad command")
)

type Header struct {
	Magic    uint32
	Command  string
	Length   uint32
	Checksum [ChecksumSize]byte
}

func (h *Header) Encode(w io.Writer) error {
	var buf [HeaderSize]byte

	if len(h.Command) > CommandSize {
		return errors.Wrap(ErrBadCommand, h.Command)
	}

	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	copy(buf[4:4+CommandSize], h.Command)
	binary.BigEndian.PutUint32(buf[16:20], h.Length)
	copy(buf[20:24], h.Checksum[:])

	_, err := w.Write(buf[:])
	return err
}

// Reads exactly HeaderSize bytes. Only the magic is checked here, length and
// checksum need the caller's context.
func (h *Header) Decode(r io.Reader) error {
	var buf [HeaderSize]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}

	h.Magic = binary.BigEndian.Uint32(buf[0:4])

	if h.Magic != Magic {
		return errors.Wrapf(ErrBadMagic, "got %#08x", h.Magic)
	}

	h.Command = string(bytes.TrimRight(buf[4:4+CommandSize], "\x00"))
	h.Length = binary.BigEndian.Uint32(buf[16:20])
	copy(h.Checksum[:], buf[20:24])

	return nil
}

// A command and its raw payload, before it is interpreted as a typed
// payload.
type Message struct {
	Command string
	Payload []byte
}

// First four bytes of the SHA-512 of the payload.
func Checksum(payload []byte) [ChecksumSize]byte {
	var ret [ChecksumSize]byte

	sum := sha512.Sum512(payload)
	copy(ret[:], sum[:ChecksumSize])

	return ret
}

// Builds the full frame, header followed by payload.
func EncodeFrame(command string, payload []byte) ([]byte, error) {
	header := Header{
		Magic:    Magic,
		Command:  command,
		Length:   uint32(len(payload)),
		Checksum: Checksum(payload),
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(payload)))

	if err := header.Encode(buf); err != nil {
		return nil, err
	}

	buf.Write(payload)

	return buf.Bytes(), nil
}

func (m *Message) Bytes() ([]byte, error) {
	return EncodeFrame(m.Command, m.Payload)
}

// Reads one frame. A stream closed part way through gives io.EOF or
// io.ErrUnexpectedEOF, see IsEndOfStream. Frames that fail validation give an
// error for which IsInvalid is true.
func DecodeFrame(r io.Reader, maxSize uint32) (*Message, error) {
	var header Header

	if err := header.Decode(r); err != nil {
		return nil, err
	}

	if header.Length > maxSize {
		return nil, errors.Wrapf(ErrMessageTooLarge, "%s of %d bytes", header.Command, header.Length)
	}

	payload := make([]byte, header.Length)

	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if Checksum(payload) != header.Checksum {
		return nil, errors.Wrap(ErrBadChecksum, header.Command)
	}

	return &Message{Command: header.Command, Payload: payload}, nil
}

// The transport went away, either cleanly between frames or part way through
// one.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// The peer sent something that is not a valid frame.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrBadMagic) || errors.Is(err, ErrBadChecksum) ||
		errors.Is(err, ErrMessageTooLarge)
}
