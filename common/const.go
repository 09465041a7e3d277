package common

const (
	// Largest payload a peer may announce in a packet header. The biggest
	// legal payload is an inv or getdata carrying MaxInvPerMessage hashes.
	MaxMessageSize = 1600100

	// Hashes per inv/getdata message.
	MaxInvPerMessage = 50000

	// Address records per addr message.
	MaxAddrPerMessage = 1000

	// Object hashes are truncated double SHA-512.
	HashSize = 32

	// Default Bitmessage port, also used when a peer advertises none.
	DefaultPort = 8444
)
