package network

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	p2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pproto "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
)

// StreamProtocolID is the libp2p protocol hubstack streams are opened under
const StreamProtocolID = p2pproto.ID("/hubstack/link/1.0.0")

// Libp2pConfig configures the libp2p host behind a Libp2pFactory
type Libp2pConfig struct {
	ListenAddrs []string          // e.g. /ip4/0.0.0.0/tcp/7401
	PrivateKey  p2pcrypto.PrivKey // Optional: provide your own key
	EnableNAT   bool
}

// Libp2pFactory carries framed messages over libp2p streams. Addresses are
// full multiaddrs ending in /p2p/<peer id>.
type Libp2pFactory struct {
	host host.Host

	mu       sync.Mutex
	onOpened func(Connection)
}

// NewLibp2pFactory creates the libp2p host and registers the stream handler
func NewLibp2pFactory(cfg Libp2pConfig) (*Libp2pFactory, error) {
	priv := cfg.PrivateKey
	if priv == nil {
		var err error
		priv, _, err = p2pcrypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key pair: %w", err)
		}
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	} else {
		opts = append(opts, libp2p.NoListenAddrs)
	}
	if cfg.EnableNAT {
		opts = append(opts, libp2p.NATPortMap(), libp2p.EnableNATService())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	f := &Libp2pFactory{host: h}
	h.SetStreamHandler(StreamProtocolID, f.handleStream)

	logger.Infof("✅ libp2p host %s started", h.ID())
	return f, nil
}

// PeerID returns the host's libp2p identity
func (f *Libp2pFactory) PeerID() peer.ID {
	return f.host.ID()
}

// Connect dials a /p2p multiaddr and opens a hubstack stream
func (f *Libp2pFactory) Connect(ctx context.Context, address string) (Connection, error) {
	maddr, err := multiaddr.NewMultiaddr(address)
	if err != nil {
		return nil, fmt.Errorf("invalid multiaddr %q: %w", address, err)
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("address %q has no peer id: %w", address, err)
	}

	if err := f.host.Connect(ctx, *info); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", info.ID, err)
	}

	stream, err := f.host.NewStream(ctx, info.ID, StreamProtocolID)
	if err != nil {
		return nil, fmt.Errorf("open stream to %s: %w", info.ID, err)
	}

	return newStreamConnection(stream, address), nil
}

// handleStream adopts an inbound stream as a connection
func (f *Libp2pFactory) handleStream(stream p2pnet.Stream) {
	f.mu.Lock()
	fn := f.onOpened
	f.mu.Unlock()

	if fn == nil {
		stream.Reset()
		return
	}

	remote := fmt.Sprintf("%s/p2p/%s", stream.Conn().RemoteMultiaddr(), stream.Conn().RemotePeer())
	fn(newStreamConnection(stream, remote))
}

// Listen adds a listen multiaddr to the running host
func (f *Libp2pFactory) Listen(address string) error {
	maddr, err := multiaddr.NewMultiaddr(address)
	if err != nil {
		return fmt.Errorf("invalid multiaddr %q: %w", address, err)
	}
	if err := f.host.Network().Listen(maddr); err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}
	logger.Infof("✅ Listening on %s", address)
	return nil
}

// OnConnectionOpened registers the handler for inbound streams
func (f *Libp2pFactory) OnConnectionOpened(fn func(Connection)) {
	f.mu.Lock()
	f.onOpened = fn
	f.mu.Unlock()
}

// ListenAddresses returns dialable multiaddrs including the peer id
func (f *Libp2pFactory) ListenAddresses() []string {
	addrs := f.host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, f.host.ID()))
	}
	return out
}

// Close shuts down the host
func (f *Libp2pFactory) Close() error {
	f.host.RemoveStreamHandler(StreamProtocolID)
	return f.host.Close()
}
