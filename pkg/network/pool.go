package network

import (
	"sync"
	"time"

	"github.com/ZentaChain/hubstack/pkg/protocol"
	"go.uber.org/multierr"
)

// PeerConnection is an established link to a known node
type PeerConnection struct {
	Conn        Connection
	Node        protocol.NodeInfo
	Persistent  bool
	Established time.Time

	lastUsed time.Time
}

// LastUsed returns when the connection was last handed out
func (p *PeerConnection) LastUsed() time.Time {
	return p.lastUsed
}

// PoolStats summarizes the pool
type PoolStats struct {
	Total          int `json:"total"`
	Persistent     int `json:"persistent"`
	Transient      int `json:"transient"`
	MaxConnections int `json:"max_connections"`
}

// ConnectionPool manages established connections keyed by node identity
type ConnectionPool struct {
	conns map[protocol.GUID]*PeerConnection
	mu    sync.Mutex

	maxConns int
	closed   bool
}

// NewConnectionPool creates a new connection pool. maxConns <= 0 means no limit.
func NewConnectionPool(maxConns int) *ConnectionPool {
	return &ConnectionPool{
		conns:    make(map[protocol.GUID]*PeerConnection),
		maxConns: maxConns,
	}
}

// Add registers an established connection. An existing entry for the same
// node is replaced and its connection closed. When the pool is full the
// least recently used transient connection is evicted, or the least
// recently used persistent one if every entry is persistent.
func (p *ConnectionPool) Add(pc *PeerConnection) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		pc.Conn.Close()
		return ErrPoolClosed
	}

	now := time.Now()
	if pc.Established.IsZero() {
		pc.Established = now
	}
	pc.lastUsed = now

	var stale []Connection
	identity := pc.Node.Identity
	if existing, ok := p.conns[identity]; ok {
		if existing.Conn != pc.Conn {
			stale = append(stale, existing.Conn)
		}
		pc.Persistent = pc.Persistent || existing.Persistent
		delete(p.conns, identity)
	}

	if p.maxConns > 0 && len(p.conns) >= p.maxConns {
		if victim := p.evictOldest(); victim != nil {
			logger.Debugf("Pool full, evicting %s", victim.Node)
			stale = append(stale, victim.Conn)
		}
	}

	p.conns[identity] = pc
	p.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
	return nil
}

// Get returns the live connection to identity and marks it used
func (p *ConnectionPool) Get(identity protocol.GUID) (*PeerConnection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.conns[identity]
	if !ok {
		return nil, false
	}
	if pc.Conn.IsClosed() {
		delete(p.conns, identity)
		return nil, false
	}
	pc.lastUsed = time.Now()
	return pc, true
}

// MarkPersistent exempts the connection to identity from idle reaping and
// preferred eviction
func (p *ConnectionPool) MarkPersistent(identity protocol.GUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pc, ok := p.conns[identity]; ok {
		pc.Persistent = true
	}
}

// Remove drops the entry for identity if it still holds conn
func (p *ConnectionPool) Remove(identity protocol.GUID, conn Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.conns[identity]
	if !ok || pc.Conn != conn {
		return false
	}
	delete(p.conns, identity)
	return true
}

// FindByConnection returns the entry holding conn
func (p *ConnectionPool) FindByConnection(conn Connection) (*PeerConnection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pc := range p.conns {
		if pc.Conn == conn {
			return pc, true
		}
	}
	return nil, false
}

// All returns a snapshot of the pooled connections
func (p *ConnectionPool) All() []PeerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PeerConnection, 0, len(p.conns))
	for _, pc := range p.conns {
		out = append(out, *pc)
	}
	return out
}

// Len returns the number of pooled connections
func (p *ConnectionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// CloseIdle closes transient connections unused for longer than maxIdle
func (p *ConnectionPool) CloseIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	p.mu.Lock()
	var idle []Connection
	for identity, pc := range p.conns {
		if !pc.Persistent && pc.lastUsed.Before(cutoff) {
			idle = append(idle, pc.Conn)
			delete(p.conns, identity)
		}
	}
	p.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	return len(idle)
}

// Stats returns pool statistics
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{Total: len(p.conns), MaxConnections: p.maxConns}
	for _, pc := range p.conns {
		if pc.Persistent {
			stats.Persistent++
		} else {
			stats.Transient++
		}
	}
	return stats
}

// Close closes all connections and shuts down the pool
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	conns := p.conns
	p.conns = make(map[protocol.GUID]*PeerConnection)
	p.mu.Unlock()

	var err error
	for _, pc := range conns {
		err = multierr.Append(err, pc.Conn.Close())
	}
	return err
}

// evictOldest removes the least recently used entry, preferring transient
// ones (must be called with lock held)
func (p *ConnectionPool) evictOldest() *PeerConnection {
	var victim *PeerConnection
	for _, pc := range p.conns {
		if victim == nil {
			victim = pc
			continue
		}
		if victim.Persistent != pc.Persistent {
			if victim.Persistent {
				victim = pc
			}
			continue
		}
		if pc.lastUsed.Before(victim.lastUsed) {
			victim = pc
		}
	}
	if victim != nil {
		delete(p.conns, victim.Node.Identity)
	}
	return victim
}
