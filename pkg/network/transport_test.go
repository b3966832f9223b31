package network

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ZentaChain/hubstack/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// accepted collects connections opened on a factory and serves them
type accepted struct {
	conns    chan Connection
	messages chan *protocol.Message
}

func acceptOn(f ConnectionFactory) *accepted {
	a := &accepted{conns: make(chan Connection, 4), messages: make(chan *protocol.Message, 16)}
	f.OnConnectionOpened(func(c Connection) {
		c.Serve(func(msg *protocol.Message) { a.messages <- msg }, nil)
		a.conns <- c
	})
	return a
}

func (a *accepted) message(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case msg := <-a.messages:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func exchange(t *testing.T, client, server ConnectionFactory, address string) {
	t.Helper()
	srv := acceptOn(server)

	conn, err := client.Connect(context.Background(), address)
	require.NoError(t, err)
	defer conn.Close()

	closed := make(chan struct{})
	replies := make(chan *protocol.Message, 1)
	conn.Serve(func(msg *protocol.Message) { replies <- msg }, func() { close(closed) })

	require.NoError(t, conn.Send(testMessage("ping")))
	msg := srv.message(t)
	text, err := msg.ExtractString()
	require.NoError(t, err)
	assert.Equal(t, "ping", text)

	peer := <-srv.conns
	require.NoError(t, peer.Send(testMessage("pong")))
	select {
	case reply := <-replies:
		assert.Equal(t, protocol.Identifier("Test"), reply.Identifier())
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}

	peer.Close()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close not observed")
	}
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.Send(testMessage("late")), ErrConnectionClosed)
}

func TestMemoryTransport(t *testing.T) {
	network := NewMemoryNetwork()
	server := network.Factory()
	require.NoError(t, server.Listen("mem://server"))
	assert.Equal(t, []string{"mem://server"}, server.ListenAddresses())

	exchange(t, network.Factory(), server, "mem://server")
}

func TestMemoryTransportErrors(t *testing.T) {
	network := NewMemoryNetwork()
	server := network.Factory()
	require.NoError(t, server.Listen("mem://server"))
	assert.Error(t, network.Factory().Listen("mem://server"), "address in use")

	_, err := network.Factory().Connect(context.Background(), "mem://nowhere")
	assert.ErrorIs(t, err, ErrAddressNotFound)

	require.NoError(t, server.Close())
	_, err = network.Factory().Connect(context.Background(), "mem://server")
	assert.ErrorIs(t, err, ErrAddressNotFound)
}

func TestTCPTransport(t *testing.T) {
	server := NewTCPFactory()
	defer server.Close()
	require.NoError(t, server.Listen("127.0.0.1:0"))

	addrs := server.ListenAddresses()
	require.Len(t, addrs, 1)

	client := NewTCPFactory()
	defer client.Close()
	exchange(t, client, server, addrs[0])
}

func TestLibp2pTransport(t *testing.T) {
	server, err := NewLibp2pFactory(Libp2pConfig{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}})
	require.NoError(t, err)
	defer server.Close()

	var address string
	for _, a := range server.ListenAddresses() {
		if strings.HasPrefix(a, "/ip4/127.0.0.1/tcp/") {
			address = a
			break
		}
	}
	require.NotEmpty(t, address)
	assert.Contains(t, address, "/p2p/"+server.PeerID().String())

	client, err := NewLibp2pFactory(Libp2pConfig{})
	require.NoError(t, err)
	defer client.Close()

	exchange(t, client, server, address)

	_, err = client.Connect(context.Background(), "/ip4/127.0.0.1/tcp/1")
	assert.Error(t, err, "address without peer id")
}

func TestTCPStack(t *testing.T) {
	newStack := func(name string, hub bool) *Stack {
		cfg := DefaultStackConfig()
		cfg.Name = name
		cfg.IsHub = hub
		cfg.ListenAddresses = []string{"127.0.0.1:0"}
		s, err := NewStack(cfg, NewTCPFactory())
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))
		t.Cleanup(func() { s.Stop() })
		return s
	}

	hub := newStack("hub", true)
	a := newStack("a", false)
	b := newStack("b", false)
	in := newInbox(b)
	connect(t, a, hub)
	connect(t, b, hub)

	result := <-a.Sender().Send(context.Background(), b.Self().NodeId, testMessage("over tcp"), SendOptions{})
	require.NoError(t, result.Err)
	assert.Equal(t, RouteRelayed, result.Route)
	assert.True(t, in.next(t).Relayed)
}
