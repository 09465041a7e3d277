package proto

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Strings longer than this are refused when decoding.
const MaxVarStrLength = 5000

// Bitmessage variable length integers. Values below 0xfd are one byte,
// otherwise a prefix byte selects a 2, 4 or 8 byte big endian value.
func WriteVarInt(w io.Writer, v uint64) error {
	var buf [9]byte
	n := 0

	switch {
	case v < 0xfd:
		buf[0] = byte(v)
		n = 1
	case v <= 0xffff:
		buf[0] = 0xfd
		binary.BigEndian.PutUint16(buf[1:], uint16(v))
		n = 3
	case v <= 0xffffffff:
		buf[0] = 0xfe
		binary.BigEndian.PutUint32(buf[1:], uint32(v))
		n = 5
	default:
		buf[0] = 0xff
		binary.BigEndian.PutUint64(buf[1:], v)
		n = 9
	}

	_, err := w.Write(buf[:n])
	return err
}

func ReadVarInt(r io.Reader) (uint64, error) {
	var buf [8]byte

	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return 0, err
	}

	switch buf[0] {
	case 0xfd:
		if _, err := io.ReadFull(r, buf[:2]); err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint16(buf[:2])), nil
	case 0xfe:
		if _, err := io.ReadFull(r, buf[:4]); err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint32(buf[:4])), nil
	case 0xff:
		if _, err := io.ReadFull(r, buf[:8]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(buf[:8]), nil
	}

	return uint64(buf[0]), nil
}

func VarIntSize(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	}

	return 9
}

func WriteVarStr(w io.Writer, s string) error {
	if err := WriteVarInt(w, uint64(len(s))); err != nil {
		return err
	}

	_, err := io.WriteString(w, s)
	return err
}

func ReadVarStr(r io.Reader) (string, error) {
	length, err := ReadVarInt(r)

	if err != nil {
		return "", err
	}

	if length > MaxVarStrLength {
		return "", errors.Errorf("var_str of %d bytes is too long", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}

func WriteVarIntList(w io.Writer, list []uint64) error {
	if err := WriteVarInt(w, uint64(len(list))); err != nil {
		return err
	}

	for _, v := range list {
		if err := WriteVarInt(w, v); err != nil {
			return err
		}
	}

	return nil
}

// Reads a count prefixed list of var_ints, refusing more than max entries.
func ReadVarIntList(r io.Reader, max uint64) ([]uint64, error) {
	count, err := ReadVarInt(r)

	if err != nil {
		return nil, err
	}

	if count > max {
		return nil, errors.Errorf("var_int list of %d entries is too long", count)
	}

	ret := make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		v, err := ReadVarInt(r)

		if err != nil {
			return nil, err
		}

		ret = append(ret, v)
	}

	return ret, nil
}
