package network

import (
	"context"
	"sync"
	"time"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// QuerySource runs broadcasts and delivers their results. *Stack implements it.
type QuerySource interface {
	Subscribe(queryGuid protocol.GUID, fn func(protocol.NodeInfo)) func()
	Broadcast(ctx context.Context, queryGuid protocol.GUID, query *protocol.Message, target protocol.GUID) error
}

// ResultCollector gathers the results of one broadcast query in arrival
// order. Start and Stop are idempotent; at most one subscription is active.
type ResultCollector struct {
	source    QuerySource
	query     *protocol.Message
	queryGuid protocol.GUID

	lifecycle   sync.Mutex
	started     bool
	unsubscribe func()
	cancel      context.CancelFunc

	mu       sync.Mutex
	results  []protocol.NodeInfo
	changed  chan struct{}
	onChange func(protocol.NodeInfo)
}

// NewResultCollector creates a stopped collector for query
func NewResultCollector(source QuerySource, query *protocol.Message) *ResultCollector {
	return &ResultCollector{
		source:    source,
		query:     query,
		queryGuid: protocol.NewGUID(),
		changed:   make(chan struct{}),
	}
}

// QueryGuid identifies the broadcast this collector listens to
func (c *ResultCollector) QueryGuid() protocol.GUID {
	return c.queryGuid
}

// OnChange registers fn, called with each new result
func (c *ResultCollector) OnChange(fn func(protocol.NodeInfo)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Start subscribes to results and launches the broadcast in the background
func (c *ResultCollector) Start() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.started {
		return
	}
	c.started = true
	c.unsubscribe = c.source.Subscribe(c.queryGuid, c.add)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		if err := c.source.Broadcast(ctx, c.queryGuid, c.query, protocol.EmptyGUID); err != nil && ctx.Err() == nil {
			logger.Debugf("Broadcast %s ended: %v", c.queryGuid, err)
		}
	}()
}

// Stop cancels the broadcast and unsubscribes. Collected results are kept.
func (c *ResultCollector) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if !c.started {
		return
	}
	c.started = false
	c.cancel()
	c.unsubscribe()
	c.cancel, c.unsubscribe = nil, nil
}

// IsStarted reports whether the collector is subscribed
func (c *ResultCollector) IsStarted() bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.started
}

func (c *ResultCollector) add(node protocol.NodeInfo) {
	c.mu.Lock()
	c.results = append(c.results, node)
	close(c.changed)
	c.changed = make(chan struct{})
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(node)
	}
}

// Results returns the results collected so far
func (c *ResultCollector) Results() []protocol.NodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.NodeInfo(nil), c.results...)
}

// Count returns the number of results collected so far
func (c *ResultCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// WaitForResults starts the collector if needed and blocks until at least
// minCount results have arrived or timeout elapses. It reports whether the
// threshold was met.
func (c *ResultCollector) WaitForResults(minCount int, timeout time.Duration) bool {
	c.Start()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		n := len(c.results)
		changed := c.changed
		c.mu.Unlock()

		if n >= minCount {
			return true
		}

		select {
		case <-changed:
		case <-timer.C:
			return c.Count() >= minCount
		}
	}
}
