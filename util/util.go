package util

import (
	"crypto/rand"
	"encoding/binary"
)

func CryptoRandBytes(size int) ([]byte, error) {
	buf := make([]byte, size)
	_, err := rand.Read(buf)

	if err != nil {
		return nil, err
	}

	return buf, nil
}

// A random 64 bit value, used for the session nonce sent in version
// messages.
func CryptoRandUint64() (uint64, error) {
	buf, err := CryptoRandBytes(8)

	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(buf), nil
}
