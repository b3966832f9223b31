package network

import (
	"context"
	"fmt"
	"time"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// NodeFinder resolves a node identity to a reachable NodeInfo
type NodeFinder interface {
	Find(ctx context.Context, identity protocol.GUID, timeout time.Duration) (protocol.NodeInfo, error)
}

// FindNode resolves identity through finder within timeout
func FindNode(ctx context.Context, finder NodeFinder, identity protocol.GUID, timeout time.Duration) (protocol.NodeInfo, error) {
	if identity == protocol.EmptyGUID {
		return protocol.NodeInfo{}, fmt.Errorf("%w: empty identity", protocol.ErrInvalidArgument)
	}
	return finder.Find(ctx, identity, timeout)
}

// Find resolves identity: itself and pooled peers answer locally, anything
// else is looked up with a broadcast NodeLookup whose first result wins.
// A timeout <= 0 uses LookupTimeout. Failures are ErrNodeNotFound, or
// ErrLookupTimeout when the deadline passed.
func (s *Stack) Find(ctx context.Context, identity protocol.GUID, timeout time.Duration) (protocol.NodeInfo, error) {
	if self := s.Self(); self.Identity == identity {
		return self, nil
	}
	if pc, ok := s.pool.Get(identity); ok {
		s.metrics.lookup("local")
		return pc.Node, nil
	}

	if timeout <= 0 {
		timeout = s.cfg.LookupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	queryGuid := protocol.NewGUID()
	found := make(chan protocol.NodeInfo, 1)
	unsubscribe := s.Subscribe(queryGuid, func(node protocol.NodeInfo) {
		if node.Identity != identity {
			return
		}
		select {
		case found <- node:
		default:
		}
	})
	defer unsubscribe()

	lookup := (&protocol.NodeLookup{Target: identity}).Encode()
	done := make(chan error, 1)
	go func() {
		done <- s.Broadcast(ctx, queryGuid, lookup, identity)
	}()

	select {
	case node := <-found:
		s.metrics.lookup("found")
		return node, nil

	case err := <-done:
		// A hub sends its results before the acknowledgement that ends the round
		select {
		case node := <-found:
			s.metrics.lookup("found")
			return node, nil
		default:
		}
		if isTimeout(ctx.Err()) {
			s.metrics.lookup("timeout")
			return protocol.NodeInfo{}, fmt.Errorf("find %s: %w", identity, ErrLookupTimeout)
		}
		s.metrics.lookup("not_found")
		if err != nil && ctx.Err() == nil {
			return protocol.NodeInfo{}, fmt.Errorf("find %s: %w: %v", identity, ErrNodeNotFound, err)
		}
		return protocol.NodeInfo{}, fmt.Errorf("find %s: %w", identity, ErrNodeNotFound)

	case <-ctx.Done():
		if isTimeout(ctx.Err()) {
			s.metrics.lookup("timeout")
			return protocol.NodeInfo{}, fmt.Errorf("find %s: %w", identity, ErrLookupTimeout)
		}
		return protocol.NodeInfo{}, ctx.Err()
	}
}
