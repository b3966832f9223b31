package network

import (
	"context"
	"fmt"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// MessageRelayer forwards a MessageRelay toward its destination
type MessageRelayer interface {
	Relay(ctx context.Context, relay *protocol.MessageRelay) error
}

// Relay hands relay to hubs one at a time until one reports the destination
// found. Hubs that cannot deliver report candidates, which are tried next,
// closest to the destination first.
func (s *Stack) Relay(ctx context.Context, relay *protocol.MessageRelay) error {
	if relay == nil || relay.RelayedMessage == nil || relay.ToNodeGuid == protocol.EmptyGUID {
		return fmt.Errorf("%w: incomplete relay", protocol.ErrInvalidArgument)
	}

	self := s.Self()
	if relay.ToNodeGuid == self.Identity {
		s.dispatchRelayed(relay, self)
		return nil
	}
	s.seen.Add(relay.Guid, struct{}{})

	search := NewProgressiveSearch(self.Identity, relay.ToNodeGuid, s.cfg.MaxBroadcastHubs)
	if pc, ok := s.pool.Get(relay.ToNodeGuid); ok {
		search.AddCandidates([]protocol.NodeInfo{pc.Node})
	}
	search.AddCandidates(s.KnownHubs())
	if search.Exhausted() {
		s.metrics.relay("no_hubs")
		return fmt.Errorf("relay %s: %w", relay.Guid, ErrNoHubs)
	}

	for {
		batch := search.Next(1)
		if len(batch) == 0 {
			s.metrics.relay("undelivered")
			return fmt.Errorf("relay %s to %s: %w", relay.Guid, relay.ToNodeGuid, ErrRelayNotDelivered)
		}
		hub := batch[0]

		ack, err := s.relayVia(ctx, hub, relay)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Debugf("Relay %s via %s failed: %v", relay.Guid, hub, err)
			continue
		}
		if ack.Found() {
			s.metrics.relay("sent")
			logger.Debugf("Relay %s accepted by %s", relay.Guid, hub)
			return nil
		}
		search.Merge(ack.VisitedHubs, ack.CandidateHubs)
	}
}

func (s *Stack) relayVia(ctx context.Context, hub protocol.NodeInfo, relay *protocol.MessageRelay) (*protocol.BroadcastAcknowledgement, error) {
	conn, err := s.Connect(ctx, hub, false)
	if err != nil {
		return nil, err
	}

	key := ackKey{guid: relay.Guid, conn: conn}
	ch := s.expectAck(key)
	defer s.dropAck(key)

	if err := conn.Send(relay.Encode()); err != nil {
		return nil, err
	}
	return s.awaitAck(ctx, ch)
}

// handleRelay processes a relay received from peer
func (s *Stack) handleRelay(l *link, from protocol.NodeInfo, relay *protocol.MessageRelay) {
	self := s.Self()
	to := relay.ToNodeGuid
	fresh := s.markSeen(relay.Guid)

	if to == self.Identity {
		if fresh {
			s.metrics.relay("received")
			s.dispatchRelayed(relay, from)
		}
		s.ackRelayFound(l, relay)
		return
	}

	if !fresh {
		s.metrics.relay("duplicate")
		s.ackRelayNotFound(l, relay, nil, nil)
		return
	}

	if pc, ok := s.pool.Get(to); ok && pc.Conn != l.conn {
		err := pc.Conn.Send(relay.Encode())
		if err == nil {
			s.metrics.relay("forwarded")
			logger.Debugf("Forwarded relay %s to %s", relay.Guid, pc.Node)
			s.ackRelayFound(l, relay)
			return
		}
		logger.Debugf("Forwarding relay %s to %s failed: %v", relay.Guid, pc.Node, err)
	}

	visited := []protocol.NodeInfo{self}
	var candidates protocol.KnownHubList
	if s.cfg.IsHub {
		s.mu.Lock()
		candidates = s.knownHubs.Without(self.Identity, from.Identity)
		s.mu.Unlock()
	}

	if len(candidates) == 0 && s.cfg.IsHub && s.cfg.RelayQueue != nil {
		err := s.cfg.RelayQueue.QueueRelay(relay)
		if err == nil {
			s.metrics.relay("queued")
			logger.Infof("📬 Queued relay %s for %s", relay.Guid, to)
			s.ackRelayFound(l, relay)
			return
		}
		logger.Warnf("Failed to queue relay %s: %v", relay.Guid, err)
	}

	s.metrics.relay("not_found")
	s.ackRelayNotFound(l, relay, visited, candidates)
}

// markSeen records guid and reports whether it was new
func (s *Stack) markSeen(guid protocol.GUID) bool {
	seen, _ := s.seen.ContainsOrAdd(guid, struct{}{})
	return !seen
}

func (s *Stack) ackRelayFound(l *link, relay *protocol.MessageRelay) {
	ack, err := protocol.NewRelayFoundAcknowledgement(relay.Guid, relay.ToNodeGuid)
	if err != nil {
		logger.Errorf("Failed to build relay acknowledgement: %v", err)
		return
	}
	if err := l.conn.Send(ack.Encode()); err != nil {
		logger.Debugf("Failed to acknowledge relay %s: %v", relay.Guid, err)
	}
}

func (s *Stack) ackRelayNotFound(l *link, relay *protocol.MessageRelay, visited, candidates []protocol.NodeInfo) {
	ack, err := protocol.NewRelayNotFoundAcknowledgement(relay.Guid, relay.ToNodeGuid, visited, candidates)
	if err != nil {
		logger.Errorf("Failed to build relay acknowledgement: %v", err)
		return
	}
	if err := l.conn.Send(ack.Encode()); err != nil {
		logger.Debugf("Failed to acknowledge relay %s: %v", relay.Guid, err)
	}
}

// dispatchRelayed unwraps a relay addressed to this node
func (s *Stack) dispatchRelayed(relay *protocol.MessageRelay, from protocol.NodeInfo) {
	msg := relay.RelayedMessage
	if msg.Identifier() == protocol.TagStackConnector {
		s.handleStackConnector(msg)
		return
	}
	s.deliver(Delivery{Message: msg, From: from, Relayed: true})
}
