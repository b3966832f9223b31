package network

import (
	"context"
	"fmt"
	"time"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// ReverseConnector asks a node to dial back when it cannot be dialed
type ReverseConnector interface {
	RequestReverseConnection(ctx context.Context, target protocol.NodeInfo, persistent bool) (Connection, error)
}

// handleStackConnector dials the node named in a Conn message
func (s *Stack) handleStackConnector(msg *protocol.Message) {
	var connector protocol.StackConnector
	if err := connector.Decode(msg); err != nil {
		logger.Warnf("Invalid connector: %v", err)
		return
	}
	if connector.ToNode.Identity == s.Self().Identity {
		return
	}

	s.goroutine(func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
		defer cancel()

		if _, err := s.Connect(ctx, connector.ToNode, connector.IsPersistent); err != nil {
			logger.Warnf("Reverse connection to %s failed: %v", connector.ToNode, err)
			return
		}
		logger.Infof("Opened reverse connection to %s", connector.ToNode)
	})
}

// RequestReverseConnection relays a StackConnector to target asking it to
// connect to this node, then waits for that connection to be established.
// The handshake from target is accepted even when unsolicited connections
// are refused, as long as it arrives within PendingExpectationTTL.
func (s *Stack) RequestReverseConnection(ctx context.Context, target protocol.NodeInfo, persistent bool) (Connection, error) {
	if target.Identity == protocol.EmptyGUID {
		return nil, fmt.Errorf("%w: empty target identity", protocol.ErrInvalidArgument)
	}
	if pc, ok := s.pool.Get(target.Identity); ok {
		return pc.Conn, nil
	}

	ch := make(chan Connection, 1)
	s.mu.Lock()
	self := s.self
	s.pending[target.Identity] = time.Now().Add(s.cfg.PendingExpectationTTL)
	s.waiters[target.Identity] = append(s.waiters[target.Identity], ch)
	s.mu.Unlock()
	defer s.removeWaiter(target.Identity, ch)

	connector := &protocol.StackConnector{ToNode: self, IsPersistent: persistent}
	relay, err := protocol.NewMessageRelay(connector.Encode(), target.Identity)
	if err != nil {
		return nil, err
	}
	if err := s.Relay(ctx, relay); err != nil {
		return nil, fmt.Errorf("request reverse connection from %s: %w", target, err)
	}

	select {
	case conn := <-ch:
		return conn, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("reverse connection from %s: %w", target, ErrHandshakeTimeout)
	}
}

func (s *Stack) removeWaiter(identity protocol.GUID, ch chan Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiters := s.waiters[identity]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(s.waiters, identity)
	} else {
		s.waiters[identity] = waiters
	}
}
