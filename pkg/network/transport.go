package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// MessageHandler receives messages read from a connection
type MessageHandler func(msg *protocol.Message)

// Connection is a bidirectional message link to one peer.
//
// Serve starts delivery of inbound messages and must be called exactly once,
// by the connection's single owner. Messages arriving before Serve is called
// are held until then. onClosed runs once after the link closes.
type Connection interface {
	Send(msg *protocol.Message) error
	Serve(onMessage MessageHandler, onClosed func())
	Close() error
	IsClosed() bool
	RemoteAddress() string
}

// ConnectionFactory dials and accepts connections on one transport
type ConnectionFactory interface {
	Connect(ctx context.Context, address string) (Connection, error)
	Listen(address string) error
	OnConnectionOpened(fn func(Connection))
	ListenAddresses() []string
	Close() error
}

// streamConnection frames messages over any byte stream (TCP socket,
// libp2p stream) with the protocol frame header.
type streamConnection struct {
	rwc    io.ReadWriteCloser
	remote string

	writeMu   sync.Mutex
	serveOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newStreamConnection(rwc io.ReadWriteCloser, remote string) *streamConnection {
	return &streamConnection{
		rwc:    rwc,
		remote: remote,
		closed: make(chan struct{}),
	}
}

func (c *streamConnection) Send(msg *protocol.Message) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	err := protocol.WriteFrame(c.rwc, msg)
	c.writeMu.Unlock()

	if err != nil {
		c.Close()
		return fmt.Errorf("write %s frame to %s: %w", msg.Identifier(), c.remote, err)
	}
	return nil
}

func (c *streamConnection) Serve(onMessage MessageHandler, onClosed func()) {
	c.serveOnce.Do(func() {
		go c.readLoop(onMessage, onClosed)
	})
}

func (c *streamConnection) readLoop(onMessage MessageHandler, onClosed func()) {
	defer func() {
		c.Close()
		if onClosed != nil {
			onClosed()
		}
	}()

	for {
		msg, _, err := protocol.ReadFrame(c.rwc)
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.IsClosed() {
				logger.Debugf("Read error from %s: %v", c.remote, err)
			}
			return
		}
		onMessage(msg)
	}
}

func (c *streamConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

func (c *streamConnection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *streamConnection) RemoteAddress() string {
	return c.remote
}
