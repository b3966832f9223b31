package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/multierr"
)

// TCPFactory carries framed messages over plain TCP sockets
type TCPFactory struct {
	dialer net.Dialer

	mu        sync.Mutex
	listeners []net.Listener
	onOpened  func(Connection)
	closed    bool
}

// NewTCPFactory creates a TCP transport
func NewTCPFactory() *TCPFactory {
	return &TCPFactory{}
}

// Connect dials host:port
func (f *TCPFactory) Connect(ctx context.Context, address string) (Connection, error) {
	conn, err := f.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return newStreamConnection(conn, conn.RemoteAddr().String()), nil
}

// Listen accepts connections on host:port
func (f *TCPFactory) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		ln.Close()
		return ErrConnectionClosed
	}
	f.listeners = append(f.listeners, ln)
	f.mu.Unlock()

	logger.Infof("✅ Listening on tcp %s", ln.Addr())
	go f.acceptLoop(ln)
	return nil
}

// acceptLoop accepts incoming connections
func (f *TCPFactory) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Warnf("Accept error: %v", err)
			}
			return
		}

		f.mu.Lock()
		fn := f.onOpened
		f.mu.Unlock()

		if fn == nil {
			conn.Close()
			continue
		}
		fn(newStreamConnection(conn, conn.RemoteAddr().String()))
	}
}

// OnConnectionOpened registers the handler for accepted connections
func (f *TCPFactory) OnConnectionOpened(fn func(Connection)) {
	f.mu.Lock()
	f.onOpened = fn
	f.mu.Unlock()
}

// ListenAddresses returns the bound listener addresses
func (f *TCPFactory) ListenAddresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	addrs := make([]string, 0, len(f.listeners))
	for _, ln := range f.listeners {
		addrs = append(addrs, ln.Addr().String())
	}
	return addrs
}

// Close stops all listeners
func (f *TCPFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var err error
	for _, ln := range f.listeners {
		err = multierr.Append(err, ln.Close())
	}
	f.listeners = nil
	return err
}
