// Stores things like message codes, etc.

package proto

const (
	// Every packet starts with this.
	Magic uint32 = 0xe9beb4d9

	// The lowest version we speak, and the one we advertise.
	ProtocolVersion int32 = 3

	// Bytes in a packet header: magic, command, length, checksum.
	HeaderSize   = 24
	CommandSize  = 12
	ChecksumSize = 4

	// Services bitmask values.
	NodeNetwork uint64 = 1

	// The stream everything lives on unless configured otherwise.
	DefaultStream uint64 = 1

	SoftwareName = "hyperbit"
)

// Version is set at build time.
var Version = "0.1.0"

const (
	CommandVersion = "version"
	CommandVerack  = "verack"
	CommandAddr    = "addr"
	CommandInv     = "inv"
	CommandGetdata = "getdata"
	CommandObject  = "object"
)

func UserAgent() string {
	return "/" + SoftwareName + ":" + Version + "/"
}
