package proto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrorwish/hyperbit/proto"
)

func TestVarIntBoundaries(t *testing.T) {
	cases := []struct {
		value   uint64
		encoded []byte
	}{
		{0, []byte{0x00}},
		{0xfc, []byte{0xfc}},
		{0xfd, []byte{0xfd, 0x00, 0xfd}},
		{0xffff, []byte{0xfd, 0xff, 0xff}},
		{0x10000, []byte{0xfe, 0x00, 0x01, 0x00, 0x00}},
		{0xffffffff, []byte{0xfe, 0xff, 0xff, 0xff, 0xff}},
		{0x100000000, []byte{0xff, 0, 0, 0, 1, 0, 0, 0, 0}},
	}

	for _, c := range cases {
		var buf bytes.Buffer

		require.NoError(t, proto.WriteVarInt(&buf, c.value))
		require.Equal(t, c.encoded, buf.Bytes(), "value %#x", c.value)
		require.Equal(t, len(c.encoded), proto.VarIntSize(c.value))

		got, err := proto.ReadVarInt(&buf)
		require.NoError(t, err)
		require.Equal(t, c.value, got)
	}
}

func TestVarIntTruncated(t *testing.T) {
	_, err := proto.ReadVarInt(bytes.NewReader([]byte{0xfe, 0x01}))
	require.True(t, proto.IsEndOfStream(err))
}

func TestVarStr(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, proto.WriteVarStr(&buf, "/hyperbit:0.1.0/"))

	s, err := proto.ReadVarStr(&buf)
	require.NoError(t, err)
	require.Equal(t, "/hyperbit:0.1.0/", s)
}

func TestVarStrTooLong(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, proto.WriteVarInt(&buf, proto.MaxVarStrLength+1))

	_, err := proto.ReadVarStr(&buf)
	require.Error(t, err)
}

func TestVarIntListLimit(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, proto.WriteVarIntList(&buf, []uint64{1, 2, 3}))

	_, err := proto.ReadVarIntList(bytes.NewReader(buf.Bytes()), 2)
	require.Error(t, err)

	list, err := proto.ReadVarIntList(bytes.NewReader(buf.Bytes()), 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, list)
}
