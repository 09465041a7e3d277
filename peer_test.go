package hyperbit

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mirrorwish/hyperbit/common"
	"github.com/mirrorwish/hyperbit/data"
	"github.com/mirrorwish/hyperbit/proto"
)

func inboundPair(t *testing.T, config PeerConfig) (*Peer, *remote) {
	local, other := net.Pipe()

	return NewInboundPeer(local, config), newRemote(t, other)
}

func runPeer(ctx context.Context, p *Peer) chan error {
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	return done
}

func waitState(t *testing.T, p *Peer, s PeerState) {
	require.Eventually(t, func() bool { return p.State() == s }, 5*time.Second, 5*time.Millisecond)
}

func TestPeerHandshake(t *testing.T) {
	objects := data.NewCollection()
	o := testObject("hello")
	require.True(t, objects.Add(o))

	p, r := inboundPair(t, PeerConfig{Identity: testIdentity(), Objects: objects})

	connected := make(chan struct{})
	p.OnConnect(func(*Peer) { close(connected) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runPeer(ctx, p)

	msg := r.expect(proto.CommandVersion)
	payload, err := proto.DecodePayload(msg)
	require.NoError(t, err)

	v := payload.(*proto.MsgVersion)
	require.Equal(t, uint64(testNonce), v.Nonce)
	require.Equal(t, proto.UserAgent(), v.UserAgent)

	r.handshake(99)

	r.expect(proto.CommandVerack)
	r.expect(proto.CommandAddr)

	// what we hold is announced straight away
	msg = r.expect(proto.CommandInv)
	payload, err = proto.DecodePayload(msg)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{o.Hash()}, payload.(*proto.MsgInv).Hashes)

	<-connected
	waitState(t, p, StateReady)

	require.True(t, p.GotVersion())
	require.Equal(t, "/remote:1.0/", p.RemoteUserAgent())
	require.Equal(t, uint16(8444), p.RemotePort())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, StateClosed, p.State())
}

func TestPeerSelfConnection(t *testing.T) {
	p, r := inboundPair(t, PeerConfig{Identity: testIdentity()})

	connected := false
	p.OnConnect(func(*Peer) { connected = true })

	disconnected := make(chan struct{})
	p.OnDisconnect(func(*Peer) { close(disconnected) })

	done := runPeer(context.Background(), p)

	r.expect(proto.CommandVersion)
	r.send(proto.NewVersion(testIdentity(), nil, 0, time.Now()))

	require.ErrorIs(t, <-done, proto.ErrSelfConnection)
	<-disconnected

	require.False(t, connected)
	require.False(t, p.GotVersion())
	require.Equal(t, StateClosed, p.State())
}

func TestPeerStreamMismatch(t *testing.T) {
	p, r := inboundPair(t, PeerConfig{Identity: testIdentity()})

	done := runPeer(context.Background(), p)

	r.expect(proto.CommandVersion)

	id := testIdentity()
	id.Nonce = 99
	id.Streams = []uint64{2}
	r.send(proto.NewVersion(id, nil, 0, time.Now()))

	require.ErrorIs(t, <-done, proto.ErrStreamMismatch)
}

func TestPeerInvRequestsMissing(t *testing.T) {
	objects := data.NewCollection()
	have := testObject("have")
	want := testObject("want")
	require.True(t, objects.Add(have))

	p, r := inboundPair(t, PeerConfig{Identity: testIdentity(), Objects: objects})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runPeer(ctx, p)

	r.expect(proto.CommandVersion)
	r.handshake(99)
	waitState(t, p, StateReady)

	r.send(&proto.MsgInv{Hashes: []common.Hash{have.Hash(), want.Hash()}})

	msg := r.expect(proto.CommandGetdata)
	payload, err := proto.DecodePayload(msg)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{want.Hash()}, payload.(*proto.MsgGetdata).Hashes)

	// the object arrives and is stored
	r.send(want)
	require.Eventually(t, func() bool { return objects.Has(want.Hash()) }, 5*time.Second, 5*time.Millisecond)
}

func TestPeerGetdata(t *testing.T) {
	objects := data.NewCollection()
	o := testObject("requested")
	require.True(t, objects.Add(o))

	p, r := inboundPair(t, PeerConfig{Identity: testIdentity(), Objects: objects})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runPeer(ctx, p)

	r.expect(proto.CommandVersion)
	r.handshake(99)
	waitState(t, p, StateReady)

	var unknown common.Hash
	unknown[0] = 1

	r.send(&proto.MsgGetdata{Hashes: []common.Hash{unknown, o.Hash()}})

	msg := r.expect(proto.CommandObject)
	require.Equal(t, o.Bytes(), msg.Payload)
}

func TestPeerAddr(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Upsert(time.Now().Unix(), proto.NodeNetwork, net.ParseIP("8.8.4.4"), 8444, false)
	require.NoError(t, err)
	_, err = db.Upsert(time.Now().Unix(), proto.NodeNetwork, net.ParseIP("10.0.0.1"), 8444, false)
	require.NoError(t, err)

	p, r := inboundPair(t, PeerConfig{Identity: testIdentity(), Addresses: db})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runPeer(ctx, p)

	r.expect(proto.CommandVersion)
	r.handshake(99)

	// only public addresses are passed on
	msg := r.expect(proto.CommandAddr)
	payload, err := proto.DecodePayload(msg)
	require.NoError(t, err)

	addrs := payload.(*proto.MsgAddr).Addresses
	require.Len(t, addrs, 1)
	require.True(t, addrs[0].NetIP().Equal(net.ParseIP("8.8.4.4")))

	waitState(t, p, StateReady)

	r.send(&proto.MsgAddr{Addresses: []proto.AddrRecord{
		{Time: 500, Stream: 1, NetAddress: proto.NewNetAddress(1, net.ParseIP("1.2.3.4"), 8444)},
		{Time: 500, Stream: 2, NetAddress: proto.NewNetAddress(1, net.ParseIP("1.2.3.5"), 8444)},
		{Time: 500, Stream: 1, NetAddress: proto.NewNetAddress(1, net.ParseIP("192.168.1.1"), 8444)},
	}})

	// public and on our stream
	require.Eventually(t, func() bool {
		count, err := db.CountAll()
		return err == nil && count == 3
	}, 5*time.Second, 5*time.Millisecond)

	_, err = db.Query(mustAddress(t, "1.2.3.5"))
	require.Error(t, err)
}

func TestPeerIgnoresBeforeHandshake(t *testing.T) {
	objects := data.NewCollection()
	p, r := inboundPair(t, PeerConfig{Identity: testIdentity(), Objects: objects})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runPeer(ctx, p)

	r.expect(proto.CommandVersion)

	o := testObject("early")
	r.send(o)

	r.handshake(99)
	waitState(t, p, StateReady)

	require.False(t, objects.Has(o.Hash()))
}

func TestPeerMalformedPayload(t *testing.T) {
	p, r := inboundPair(t, PeerConfig{Identity: testIdentity()})

	done := runPeer(context.Background(), p)

	r.expect(proto.CommandVersion)
	r.handshake(99)
	waitState(t, p, StateReady)

	// count says one hash, none follow
	require.NoError(t, r.client.WriteMessage(&proto.Message{Command: proto.CommandInv, Payload: []byte{1}}))

	require.ErrorIs(t, <-done, proto.ErrMalformedPayload)
}

func TestPeerRemoteHangsUp(t *testing.T) {
	p, r := inboundPair(t, PeerConfig{Identity: testIdentity()})

	done := runPeer(context.Background(), p)

	r.expect(proto.CommandVersion)
	r.client.Close()

	require.NoError(t, <-done)
	require.Equal(t, StateClosed, p.State())
}

func TestOutboundPeerDialFails(t *testing.T) {
	d := &blockingDialer{}
	p := NewOutboundPeer("1.2.3.4:8444", PeerConfig{Identity: testIdentity(), Dialer: d})

	disconnected := make(chan struct{})
	p.OnDisconnect(func(*Peer) { close(disconnected) })

	ctx, cancel := context.WithCancel(context.Background())
	done := runPeer(ctx, p)

	require.Eventually(t, func() bool { return len(d.Targets()) == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	require.Error(t, <-done)
	<-disconnected

	require.Equal(t, "1.2.3.4:8444", p.String())
	require.Equal(t, uint16(8444), p.RemotePort())
}

// Hands out the same, large, list of hashes and holds no objects.
type hashStore struct {
	hashes []common.Hash
}

func (s *hashStore) HashesForSend() []common.Hash     { return s.hashes }
func (s *hashStore) Object(common.Hash) *proto.Object { return nil }
func (s *hashStore) AddObject(*proto.Object)          {}

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	a, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	b, ok := <-accepted
	require.True(t, ok)

	return a, b
}

// Both sides announce far more than the socket buffers hold before either
// reads the other's version.
func TestPeersLargeInventories(t *testing.T) {
	hashes := make([]common.Hash, 8*common.MaxInvPerMessage)
	for i := range hashes {
		binary.BigEndian.PutUint64(hashes[i][:], uint64(i)+1)
	}

	store := &hashStore{hashes: hashes}
	ca, cb := tcpPair(t)

	idA := testIdentity()
	idA.Nonce = 1
	idB := testIdentity()
	idB.Nonce = 2

	a := NewInboundPeer(ca, PeerConfig{Identity: idA, Objects: store})
	b := NewInboundPeer(cb, PeerConfig{Identity: idB, Objects: store})

	ctx, cancel := context.WithCancel(context.Background())

	doneA := runPeer(ctx, a)
	doneB := runPeer(ctx, b)

	require.Eventually(t, func() bool {
		return a.State() == StateReady && b.State() == StateReady
	}, 30*time.Second, 10*time.Millisecond, "a=%s b=%s", a.State(), b.State())

	require.True(t, a.GotVersion())
	require.True(t, b.GotVersion())

	cancel()
	require.ErrorIs(t, <-doneA, context.Canceled)
	require.ErrorIs(t, <-doneB, context.Canceled)
}

func TestPeerCloseCancelsDial(t *testing.T) {
	d := &blockingDialer{}
	p := NewOutboundPeer("1.2.3.4:8444", PeerConfig{Identity: testIdentity(), Dialer: d})

	done := runPeer(context.Background(), p)

	require.Eventually(t, func() bool { return len(d.Targets()) == 1 }, 5*time.Second, 5*time.Millisecond)
	p.Close()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dial kept going after close")
	}

	require.Equal(t, StateClosed, p.State())
}

func TestPeerCloseBeforeRun(t *testing.T) {
	d := &blockingDialer{}
	p := NewOutboundPeer("1.2.3.4:8444", PeerConfig{Identity: testIdentity(), Dialer: d})

	p.Close()

	require.NoError(t, p.Run(context.Background()))
	require.Empty(t, d.Targets())
}

func TestPeerSendInvQueued(t *testing.T) {
	p, r := inboundPair(t, PeerConfig{Identity: testIdentity()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runPeer(ctx, p)

	// nothing goes out before the remote's version
	var h common.Hash
	h[0] = 9
	p.SendInv([]common.Hash{h})

	r.expect(proto.CommandVersion)
	r.handshake(99)
	waitState(t, p, StateReady)

	p.SendInv([]common.Hash{h})

	msg := r.expect(proto.CommandInv)
	payload, err := proto.DecodePayload(msg)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{h}, payload.(*proto.MsgInv).Hashes)
}
