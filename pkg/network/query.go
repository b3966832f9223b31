package network

import (
	"context"
	"errors"

	"github.com/ZentaChain/hubstack/pkg/protocol"
	"golang.org/x/sync/errgroup"
)

// Subscribe registers fn for results of the broadcast queryGuid. The returned
// function unsubscribes and may be called more than once.
func (s *Stack) Subscribe(queryGuid protocol.GUID, fn func(protocol.NodeInfo)) func() {
	s.mu.Lock()
	s.subSeq++
	id := s.subSeq
	if s.subs[queryGuid] == nil {
		s.subs[queryGuid] = make(map[uint64]func(protocol.NodeInfo))
	}
	s.subs[queryGuid][id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs := s.subs[queryGuid]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.subs, queryGuid)
			}
		}
	}
}

func (s *Stack) publishResult(result *protocol.QueryResult) {
	s.mu.Lock()
	subs := s.subs[result.QueryGuid]
	fns := make([]func(protocol.NodeInfo), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if len(fns) == 0 {
		logger.Debugf("Result for unknown query %s", result.QueryGuid)
		return
	}
	for _, fn := range fns {
		fn(result.Node)
	}
}

// Broadcast runs a progressive broadcast of query across the known hubs.
// Each round asks up to BroadcastFanout hubs in parallel and queues the
// candidates they report. Results are published to subscribers of queryGuid.
// Broadcast returns nil once every reachable hub has been asked.
func (s *Stack) Broadcast(ctx context.Context, queryGuid protocol.GUID, query *protocol.Message, target protocol.GUID) error {
	if query == nil || queryGuid == protocol.EmptyGUID {
		return protocol.ErrInvalidArgument
	}

	hubs := s.KnownHubs()
	if len(hubs) == 0 {
		return ErrNoHubs
	}

	self := s.Self()
	search := NewProgressiveSearch(self.Identity, target, s.cfg.MaxBroadcastHubs)
	search.AddCandidates(hubs)

	for round := 1; ; round++ {
		batch := search.Next(s.cfg.BroadcastFanout)
		if len(batch) == 0 {
			logger.Debugf("Broadcast %s exhausted after %d rounds", queryGuid, round-1)
			return nil
		}

		request := &protocol.BroadcastQuery{
			QueryGuid:   queryGuid,
			Origin:      self,
			VisitedHubs: search.Visited(),
			Query:       query,
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, hub := range batch {
			g.Go(func() error {
				ack, err := s.queryHub(gctx, hub, request)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Debugf("Hub %s skipped in broadcast %s: %v", hub, queryGuid, err)
					return nil
				}
				search.Merge(ack.VisitedHubs, ack.CandidateHubs)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// queryHub sends one BroadcastQuery to hub and waits for its acknowledgement
func (s *Stack) queryHub(ctx context.Context, hub protocol.NodeInfo, request *protocol.BroadcastQuery) (*protocol.BroadcastAcknowledgement, error) {
	conn, err := s.Connect(ctx, hub, false)
	if err != nil {
		return nil, err
	}

	key := ackKey{guid: request.QueryGuid, conn: conn}
	ch := s.expectAck(key)
	defer s.dropAck(key)

	if err := conn.Send(request.Encode()); err != nil {
		return nil, err
	}
	return s.awaitAck(ctx, ch)
}

// handleBroadcastQuery answers a query from a peer: one QRes per match, then
// a single QAck naming the hubs worth asking next
func (s *Stack) handleBroadcastQuery(l *link, request *protocol.BroadcastQuery) {
	results := s.evaluateQuery(request.Query)
	for _, node := range results {
		res := &protocol.QueryResult{QueryGuid: request.QueryGuid, Node: node}
		if err := l.conn.Send(res.Encode()); err != nil {
			logger.Debugf("Failed to send query result: %v", err)
			return
		}
	}

	s.mu.Lock()
	self := s.self
	visited := protocol.KnownHubList(request.VisitedHubs).Merge([]protocol.NodeInfo{self})
	var candidates protocol.KnownHubList
	if s.cfg.IsHub {
		exclude := make([]protocol.GUID, 0, len(visited)+1)
		for _, hub := range visited {
			exclude = append(exclude, hub.Identity)
		}
		exclude = append(exclude, request.Origin.Identity)
		candidates = s.knownHubs.Without(exclude...)
	}
	s.mu.Unlock()

	deadEnd := len(results) == 0 && len(candidates) == 0
	ack, err := protocol.NewQueryAcknowledgement(request.QueryGuid, visited, candidates, deadEnd)
	if err != nil {
		logger.Errorf("Failed to build query acknowledgement: %v", err)
		return
	}
	if err := l.conn.Send(ack.Encode()); err != nil {
		logger.Debugf("Failed to acknowledge query %s: %v", request.QueryGuid, err)
	}
}

// evaluateQuery returns the nodes known locally that match query
func (s *Stack) evaluateQuery(query *protocol.Message) []protocol.NodeInfo {
	switch query.Identifier() {
	case protocol.TagNodeLookup:
		var lookup protocol.NodeLookup
		if err := lookup.Decode(query); err != nil {
			logger.Debugf("Invalid node lookup: %v", err)
			return nil
		}
		if self := s.Self(); self.Identity == lookup.Target {
			return []protocol.NodeInfo{self}
		}
		if pc, ok := s.pool.Get(lookup.Target); ok {
			return []protocol.NodeInfo{pc.Node}
		}
		return nil

	case protocol.TagXPathQuery:
		var xq protocol.XPathQuery
		if err := xq.Decode(query); err != nil {
			logger.Debugf("Invalid xpath query: %v", err)
			return nil
		}
		want := xq.Contents()
		var out []protocol.NodeInfo
		if self := s.Self(); self.Name == want {
			out = append(out, self)
		}
		for _, pc := range s.pool.All() {
			if pc.Node.Name == want {
				out = append(out, pc.Node)
			}
		}
		return out

	default:
		logger.Debugf("Unsupported query type %s", query.Identifier())
		return nil
	}
}

// isTimeout reports whether err is a context deadline
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
