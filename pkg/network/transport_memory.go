package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

const memoryInboxSize = 1024

// MemoryNetwork connects MemoryFactory instances inside one process. It is
// used to run several stacks side by side without sockets.
type MemoryNetwork struct {
	mu        sync.Mutex
	listeners map[string]*MemoryFactory
	dials     atomic.Uint64
}

// NewMemoryNetwork creates an empty in-process network
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{listeners: make(map[string]*MemoryFactory)}
}

// Factory returns a new transport attached to this network
func (n *MemoryNetwork) Factory() *MemoryFactory {
	return &MemoryFactory{network: n}
}

// MemoryFactory is a ConnectionFactory over a MemoryNetwork
type MemoryFactory struct {
	network *MemoryNetwork

	mu        sync.Mutex
	addresses []string
	onOpened  func(Connection)
	closed    bool
}

// Connect opens a pipe to the factory listening on address
func (f *MemoryFactory) Connect(ctx context.Context, address string) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.network.mu.Lock()
	target := f.network.listeners[address]
	f.network.mu.Unlock()

	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, address)
	}

	dialer := fmt.Sprintf("mem://dialer-%d", f.network.dials.Add(1))
	local, remote := newMemoryPipe(dialer, address)
	target.accept(remote)
	return local, nil
}

func (f *MemoryFactory) accept(conn *memoryConnection) {
	f.mu.Lock()
	fn := f.onOpened
	f.mu.Unlock()

	// Without a handler the connection stays open but is never read,
	// which makes for a peer that never answers.
	if fn != nil {
		fn(conn)
	}
}

// Listen registers the factory under address
func (f *MemoryFactory) Listen(address string) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	f.network.mu.Lock()
	defer f.network.mu.Unlock()

	if _, taken := f.network.listeners[address]; taken {
		return fmt.Errorf("listen on %s: address in use", address)
	}
	f.network.listeners[address] = f

	f.mu.Lock()
	f.addresses = append(f.addresses, address)
	f.mu.Unlock()
	return nil
}

// OnConnectionOpened registers the handler for accepted connections
func (f *MemoryFactory) OnConnectionOpened(fn func(Connection)) {
	f.mu.Lock()
	f.onOpened = fn
	f.mu.Unlock()
}

// ListenAddresses returns the registered addresses
func (f *MemoryFactory) ListenAddresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.addresses...)
}

// Close unregisters all addresses
func (f *MemoryFactory) Close() error {
	f.mu.Lock()
	addrs := f.addresses
	f.addresses = nil
	f.closed = true
	f.mu.Unlock()

	f.network.mu.Lock()
	for _, a := range addrs {
		if f.network.listeners[a] == f {
			delete(f.network.listeners, a)
		}
	}
	f.network.mu.Unlock()
	return nil
}

// memoryConnection is one end of an in-process pipe
type memoryConnection struct {
	peer   *memoryConnection
	remote string
	inbox  chan *protocol.Message

	serveOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

func newMemoryPipe(localAddr, remoteAddr string) (*memoryConnection, *memoryConnection) {
	a := &memoryConnection{remote: remoteAddr, inbox: make(chan *protocol.Message, memoryInboxSize), closed: make(chan struct{})}
	b := &memoryConnection{remote: localAddr, inbox: make(chan *protocol.Message, memoryInboxSize), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (c *memoryConnection) Send(msg *protocol.Message) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	// Copy through the encoded form so both sides own their message
	copied, err := protocol.ParseMessage(msg.Bytes())
	if err != nil {
		return err
	}

	select {
	case c.peer.inbox <- copied:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	}
}

func (c *memoryConnection) Serve(onMessage MessageHandler, onClosed func()) {
	c.serveOnce.Do(func() {
		go c.readLoop(onMessage, onClosed)
	})
}

func (c *memoryConnection) readLoop(onMessage MessageHandler, onClosed func()) {
	defer func() {
		if onClosed != nil {
			onClosed()
		}
	}()

	for {
		select {
		case msg := <-c.inbox:
			onMessage(msg)
		case <-c.closed:
			// Deliver what was sent before the close
			for {
				select {
				case msg := <-c.inbox:
					onMessage(msg)
				default:
					return
				}
			}
		}
	}
}

func (c *memoryConnection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (c *memoryConnection) Close() error {
	c.shutdown()
	c.peer.shutdown()
	return nil
}

func (c *memoryConnection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *memoryConnection) RemoteAddress() string {
	return c.remote
}
