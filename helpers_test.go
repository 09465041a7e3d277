package hyperbit

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mirrorwish/hyperbit/netdb"
	"github.com/mirrorwish/hyperbit/proto"
)

const testNonce = 0x1234

func testIdentity() proto.Identity {
	return proto.Identity{
		Nonce:     testNonce,
		Services:  proto.NodeNetwork,
		UserAgent: proto.UserAgent(),
		Streams:   []uint64{proto.DefaultStream},
		Port:      8444,
	}
}

func newTestDB(t *testing.T) *netdb.NetDB {
	db, err := netdb.NewNetDB(filepath.Join(t.TempDir(), "peers.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func testObject(payload string) *proto.Object {
	return &proto.Object{
		Nonce:   1,
		Expires: uint64(time.Now().Add(time.Hour).Unix()),
		Type:    proto.ObjectMsg,
		Version: 1,
		Stream:  proto.DefaultStream,
		Payload: []byte(payload),
	}
}

// The other end of a connection, driven by the test.
type remote struct {
	t        *testing.T
	client   *proto.Client
	messages chan *proto.Message
}

func newRemote(t *testing.T, conn net.Conn) *remote {
	r := &remote{
		t:        t,
		client:   proto.NewClient(conn),
		messages: make(chan *proto.Message, 64),
	}

	// pipes are unbuffered, so everything the peer writes has to be read
	go func() {
		defer close(r.messages)

		for {
			msg, err := r.client.ReadMessage()

			if err != nil {
				return
			}

			r.messages <- msg
		}
	}()

	t.Cleanup(func() { r.client.Close() })

	return r
}

func (r *remote) send(p proto.Payload) {
	require.NoError(r.t, r.client.WritePayload(p))
}

func (r *remote) handshake(nonce uint64) {
	id := testIdentity()
	id.Nonce = nonce
	id.UserAgent = "/remote:1.0/"

	r.send(proto.NewVersion(id, net.IPv4(127, 0, 0, 1), 8444, time.Now()))
	r.send(&proto.MsgVerack{})
}

// Waits for a message with the given command, skipping anything else.
func (r *remote) expect(command string) *proto.Message {
	timeout := time.After(5 * time.Second)

	for {
		select {
		case msg, ok := <-r.messages:
			if !ok {
				r.t.Fatalf("connection closed waiting for %s", command)
			}

			if msg.Command == command {
				return msg
			}
		case <-timeout:
			r.t.Fatalf("timed out waiting for %s", command)
		}
	}
}

// Hands out one end of a pipe per dial, the other end goes to remotes.
type pipeDialer struct {
	lock    sync.Mutex
	targets []string
	remotes chan net.Conn

	// called before the connection is returned
	onDial func(target string)
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{remotes: make(chan net.Conn, 8)}
}

func (d *pipeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.lock.Lock()
	d.targets = append(d.targets, addr)
	d.lock.Unlock()

	if d.onDial != nil {
		d.onDial(addr)
	}

	local, other := net.Pipe()
	d.remotes <- other

	return local, nil
}

func (d *pipeDialer) Targets() []string {
	d.lock.Lock()
	defer d.lock.Unlock()

	return append([]string{}, d.targets...)
}

// Dials that never complete until ctx is done.
type blockingDialer struct {
	lock    sync.Mutex
	targets []string
}

func (d *blockingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.lock.Lock()
	d.targets = append(d.targets, addr)
	d.lock.Unlock()

	<-ctx.Done()

	return nil, ctx.Err()
}

func (d *blockingDialer) Targets() []string {
	d.lock.Lock()
	defer d.lock.Unlock()

	return append([]string{}, d.targets...)
}

func mustAddress(t *testing.T, s string) netdb.Address {
	a, err := netdb.ParseAddress(s)
	require.NoError(t, err)

	return a
}
