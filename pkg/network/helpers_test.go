package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ZentaChain/hubstack/pkg/protocol"
	"github.com/stretchr/testify/require"
)

// newTestStack starts a stack listening on mem://<name>
func newTestStack(t *testing.T, network *MemoryNetwork, name string, hub bool, opts ...func(*StackConfig)) *Stack {
	t.Helper()

	cfg := DefaultStackConfig()
	cfg.Name = name
	cfg.IsHub = hub
	cfg.ListenAddresses = []string{"mem://" + name}
	cfg.HopTimeout = 2 * time.Second
	cfg.ConnectTimeout = 2 * time.Second
	for _, opt := range opts {
		opt(&cfg)
	}

	s, err := NewStack(cfg, network.Factory())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return s
}

// connect links from to the stack listening at to's address
func connect(t *testing.T, from, to *Stack) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := from.Connect(ctx, protocol.NodeInfo{Address: to.Self().Address}, true)
	require.NoError(t, err)
}

// inbox collects deliveries handed to a stack's message handler
type inbox struct {
	ch chan Delivery
}

func newInbox(s *Stack) *inbox {
	in := &inbox{ch: make(chan Delivery, 16)}
	s.SetMessageHandler(func(d Delivery) { in.ch <- d })
	return in
}

func (in *inbox) next(t *testing.T) Delivery {
	t.Helper()
	select {
	case d := <-in.ch:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
		return Delivery{}
	}
}

func (in *inbox) empty(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case d := <-in.ch:
		t.Fatalf("unexpected delivery %s", d.Message.Identifier())
	case <-time.After(wait):
	}
}

func testMessage(text string) *protocol.Message {
	msg := protocol.NewMessage("Test")
	msg.AppendString(text)
	return msg
}

func node(name string) protocol.NodeInfo {
	return protocol.NodeInfo{
		NodeId:  protocol.NodeId{Identity: protocol.NewGUID()},
		Address: "mem://" + name,
		Name:    name,
	}
}

// recordingConn is a Connection that records what is sent on it
type recordingConn struct {
	remote  string
	sendErr error

	mu     sync.Mutex
	sent   []*protocol.Message
	closed bool
}

func (c *recordingConn) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return ErrConnectionClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingConn) Serve(MessageHandler, func()) {}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordingConn) RemoteAddress() string {
	return c.remote
}

func (c *recordingConn) Sent() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Message(nil), c.sent...)
}
