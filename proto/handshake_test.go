package proto_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/mirrorwish/hyperbit/proto"
)

func version(nonce uint64, v int32, streams ...uint64) *proto.MsgVersion {
	id := proto.Identity{Nonce: nonce, Services: proto.NodeNetwork, Streams: streams}
	ret := proto.NewVersion(id, net.IPv6loopback, 8444, time.Now())
	ret.Version = v

	return ret
}

func TestCheckVersion(t *testing.T) {
	cases := []struct {
		name string
		v    *proto.MsgVersion
		want error
	}{
		{"ok", version(2, 3, 1), nil},
		{"newer", version(2, 4, 2, 1), nil},
		{"self", version(1, 3, 1), proto.ErrSelfConnection},
		{"old", version(2, 2, 1), proto.ErrProtocolVersion},
		{"stream", version(2, 3, 2), proto.ErrStreamMismatch},
		{"no streams", version(2, 3), proto.ErrStreamMismatch},
	}

	for _, c := range cases {
		err := proto.CheckVersion(c.v, 1, 1)

		if c.want == nil && err != nil {
			t.Fatal(c.name, err.Error())
		}

		if c.want != nil {
			if !errors.Is(err, c.want) {
				t.Fatalf("%s: got %v, want %v", c.name, err, c.want)
			}

			if !proto.IsHandshakeError(err) {
				t.Fatal(c.name, "not classified as a handshake error")
			}
		}
	}
}

func TestUserAgent(t *testing.T) {
	if proto.UserAgent() != "/hyperbit:"+proto.Version+"/" {
		t.Fatal("bad user agent", proto.UserAgent())
	}
}
