package proto_test

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/mirrorwish/hyperbit/common"
	"github.com/mirrorwish/hyperbit/proto"
)

func TestClientOverPipe(t *testing.T) {
	a, b := net.Pipe()
	ca, cb := proto.NewClient(a), proto.NewClient(b)
	defer ca.Close()
	defer cb.Close()

	go func() {
		ca.WritePayload(&proto.MsgInv{Hashes: []common.Hash{{7}}})
	}()

	msg, err := cb.ReadMessage()
	fatalErr(err, t)

	p, err := proto.DecodePayload(msg)
	fatalErr(err, t)

	inv, ok := p.(*proto.MsgInv)
	if !ok || len(inv.Hashes) != 1 || inv.Hashes[0] != (common.Hash{7}) {
		t.Fatal("unexpected payload", p)
	}

	ca.Close()

	_, err = cb.ReadMessage()
	if !proto.IsEndOfStream(err) {
		t.Fatal("expected end of stream, got", err)
	}
}

func TestServerAccepts(t *testing.T) {
	s := proto.NewServer()
	fatalErr(s.Listen("127.0.0.1:0"), t)

	ctx, cancel := context.WithCancel(context.Background())
	accepted := make(chan struct{}, 1)
	done := make(chan error, 1)

	go func() {
		done <- s.Serve(ctx, func(ctx context.Context, conn net.Conn) {
			conn.Close()
			accepted <- struct{}{}
		})
	}()

	conn, err := proto.DirectDialer().DialContext(ctx, "tcp", s.Addr().String())
	fatalErr(err, t)
	conn.Close()

	select {
	case <-accepted:
	case <-time.After(time.Second * 5):
		t.Fatal("connection was not handled")
	}

	cancel()

	select {
	case err := <-done:
		fatalErr(err, t)
	case <-time.After(time.Second * 5):
		t.Fatal("Serve did not return")
	}
}

func TestClientWriteTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	// nobody reads b
	c := proto.NewClient(a)
	c.SetWriteTimeout(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- c.WritePayload(&proto.MsgVerack{})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, os.ErrDeadlineExceeded) {
			t.Fatal("expected a deadline error, got", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write never timed out")
	}
}
