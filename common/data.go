package common

import (
	"encoding/hex"
	"io"
)

// Anything that can be written to and read from the wire.
type Encodable interface {
	Encode(io.Writer) error
	Decode(io.Reader) error
}

// A 32 byte object hash, as found in inv and getdata messages.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}
