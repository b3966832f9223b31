package network

import (
	"crypto/rsa"
	"time"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// HubStore persists the known hub list across restarts
type HubStore interface {
	SaveHub(hub protocol.NodeInfo) error
	LoadHubs() ([]protocol.NodeInfo, error)
}

// RelayQueue holds relays a hub could not deliver until the destination
// next connects
type RelayQueue interface {
	QueueRelay(relay *protocol.MessageRelay) error
	DequeueRelays(to protocol.GUID) ([]*protocol.MessageRelay, error)
}

// StackConfig configures a Stack. It is built once by the entry point and
// passed down.
type StackConfig struct {
	// Identity of this node. A zero value generates a fresh GUID.
	Identity protocol.GUID
	Name     string

	// PrivateKey is optional. When set, its public key is advertised in the
	// node's UserId.
	PrivateKey *rsa.PrivateKey

	ListenAddresses  []string
	AdvertiseAddress string // defaults to the first listen address
	BootstrapHubs    []string

	// IsHub makes the node answer broadcasts with candidate hubs and
	// advertise itself in handshakes.
	IsHub bool

	// AcceptUnsolicited accepts handshakes from peers that were not asked
	// to connect back.
	AcceptUnsolicited bool

	MaxConnections int

	LookupTimeout  time.Duration
	ConnectTimeout time.Duration
	HopTimeout     time.Duration

	BroadcastFanout  int
	MaxBroadcastHubs int

	PendingExpectationTTL time.Duration
	IdleTimeout           time.Duration
	RelayCacheSize        int

	HubStore   HubStore
	RelayQueue RelayQueue
	Metrics    *Metrics
}

// DefaultStackConfig returns a configuration with default timeouts and limits
func DefaultStackConfig() StackConfig {
	return StackConfig{
		AcceptUnsolicited:     true,
		MaxConnections:        256,
		LookupTimeout:         30 * time.Second,
		ConnectTimeout:        15 * time.Second,
		HopTimeout:            5 * time.Second,
		BroadcastFanout:       3,
		MaxBroadcastHubs:      64,
		PendingExpectationTTL: 60 * time.Second,
		IdleTimeout:           2 * time.Minute,
		RelayCacheSize:        4096,
	}
}

// withDefaults fills zero values from DefaultStackConfig
func (c StackConfig) withDefaults() StackConfig {
	d := DefaultStackConfig()
	if c.Identity == protocol.EmptyGUID {
		c.Identity = protocol.NewGUID()
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HopTimeout <= 0 {
		c.HopTimeout = d.HopTimeout
	}
	if c.BroadcastFanout <= 0 {
		c.BroadcastFanout = d.BroadcastFanout
	}
	if c.MaxBroadcastHubs <= 0 {
		c.MaxBroadcastHubs = d.MaxBroadcastHubs
	}
	if c.PendingExpectationTTL <= 0 {
		c.PendingExpectationTTL = d.PendingExpectationTTL
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.RelayCacheSize <= 0 {
		c.RelayCacheSize = d.RelayCacheSize
	}
	return c
}
