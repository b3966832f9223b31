package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZentaChain/hubstack/pkg/crypto"
	"github.com/ZentaChain/hubstack/pkg/logging"
	"github.com/ZentaChain/hubstack/pkg/protocol"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

var logger = logging.Logger("network")

// Delivery is an application message handed up by the stack
type Delivery struct {
	Message *protocol.Message
	From    protocol.NodeInfo // the peer the message arrived from
	Relayed bool              // unwrapped from a MessageRelay
}

// ConnectionInfo describes a pooled connection
type ConnectionInfo struct {
	Node        protocol.NodeInfo `json:"node"`
	Remote      string            `json:"remote"`
	Persistent  bool              `json:"persistent"`
	Established time.Time         `json:"established"`
	LastUsed    time.Time         `json:"last_used"`
}

// StackStats is a point-in-time summary of the stack
type StackStats struct {
	Pool                PoolStats `json:"pool"`
	Links               int       `json:"links"`
	KnownHubs           int       `json:"known_hubs"`
	PendingExpectations int       `json:"pending_expectations"`
	Subscriptions       int       `json:"subscriptions"`
	IsHub               bool      `json:"is_hub"`
}

// link is the stack's state for one connection, established or not
type link struct {
	conn      Connection
	handshake *Handshake // set on outgoing links

	// guarded by Stack.mu
	peer        protocol.NodeInfo
	established bool
}

type ackKey struct {
	guid protocol.GUID
	conn Connection
}

// Stack owns the connections of one node: it answers handshakes, routes
// inbound messages, runs broadcasts and relays, and hands application
// messages to the registered handler.
type Stack struct {
	cfg     StackConfig
	factory ConnectionFactory
	pool    *ConnectionPool
	metrics *Metrics
	seen    *lru.Cache[protocol.GUID, struct{}]
	dials   singleflight.Group

	mu        sync.Mutex
	self      protocol.NodeInfo
	knownHubs protocol.KnownHubList
	pending   map[protocol.GUID]time.Time
	links     map[Connection]*link
	acks      map[ackKey]chan *protocol.BroadcastAcknowledgement
	statuses  map[Connection]chan *protocol.StatusMessageResponse
	subs      map[protocol.GUID]map[uint64]func(protocol.NodeInfo)
	subSeq    uint64
	waiters   map[protocol.GUID][]chan Connection
	handler   func(Delivery)
	started   bool
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStack creates a stack on top of factory
func NewStack(cfg StackConfig, factory ConnectionFactory) (*Stack, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil connection factory", protocol.ErrInvalidArgument)
	}
	cfg = cfg.withDefaults()

	seen, err := lru.New[protocol.GUID, struct{}](cfg.RelayCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay cache: %w", err)
	}

	self := protocol.NodeInfo{
		NodeId:  protocol.NodeId{Identity: cfg.Identity},
		Address: cfg.AdvertiseAddress,
		Name:    cfg.Name,
	}
	if cfg.PrivateKey != nil {
		der, err := crypto.ExportPublicKeyDER(&cfg.PrivateKey.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to export public key: %w", err)
		}
		self.User = &protocol.UserId{PublicKey: der}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Stack{
		cfg:      cfg,
		factory:  factory,
		pool:     NewConnectionPool(cfg.MaxConnections),
		metrics:  cfg.Metrics,
		seen:     seen,
		self:     self,
		pending:  make(map[protocol.GUID]time.Time),
		links:    make(map[Connection]*link),
		acks:     make(map[ackKey]chan *protocol.BroadcastAcknowledgement),
		statuses: make(map[Connection]chan *protocol.StatusMessageResponse),
		subs:     make(map[protocol.GUID]map[uint64]func(protocol.NodeInfo)),
		waiters:  make(map[protocol.GUID][]chan Connection),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start loads known hubs, begins listening and dials the bootstrap hubs.
// Bootstrap dials run until Stop; ctx is not retained.
func (s *Stack) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStackStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if s.cfg.HubStore != nil {
		hubs, err := s.cfg.HubStore.LoadHubs()
		if err != nil {
			return fmt.Errorf("failed to load known hubs: %w", err)
		}
		s.mergeHubs(hubs, false)
		logger.Infof("Loaded %d known hubs", len(hubs))
	}

	s.factory.OnConnectionOpened(s.adopt)
	for _, addr := range s.cfg.ListenAddresses {
		if err := s.factory.Listen(addr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	s.mu.Lock()
	if s.self.Address == "" {
		if addrs := s.factory.ListenAddresses(); len(addrs) > 0 {
			s.self.Address = addrs[0]
		}
	}
	self := s.self
	s.mu.Unlock()

	s.goroutine(s.maintenanceLoop)

	for _, addr := range s.cfg.BootstrapHubs {
		s.goroutine(func() {
			hub := protocol.NodeInfo{Address: addr}
			if _, err := s.Connect(s.ctx, hub, true); err != nil {
				logger.Warnf("Bootstrap hub %s unreachable: %v", addr, err)
			}
		})
	}

	logger.Infof("✅ Stack started: %s (hub=%v)", self, s.cfg.IsHub)
	return nil
}

// Stop closes every connection and waits for background work to finish
func (s *Stack) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	links := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.mu.Unlock()

	s.cancel()

	var err error
	err = multierr.Append(err, s.factory.Close())
	if perr := s.pool.Close(); perr != nil && !errors.Is(perr, ErrPoolClosed) {
		err = multierr.Append(err, perr)
	}
	for _, l := range links {
		l.conn.Close()
	}

	s.wg.Wait()
	logger.Infof("Stack %s stopped", s.cfg.Identity)
	return err
}

// goroutine runs fn in the background unless the stack is stopping
func (s *Stack) goroutine(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// Self returns this node's NodeInfo
func (s *Stack) Self() protocol.NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// IsHub reports whether this node acts as a hub
func (s *Stack) IsHub() bool {
	return s.cfg.IsHub
}

// Config returns the effective configuration
func (s *Stack) Config() StackConfig {
	return s.cfg
}

// SetMessageHandler registers the receiver of application messages
func (s *Stack) SetMessageHandler(fn func(Delivery)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// KnownHubs returns the hubs this node knows about
func (s *Stack) KnownHubs() []protocol.NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.NodeInfo(nil), s.knownHubs...)
}

// AddKnownHubs records hubs learned out of band
func (s *Stack) AddKnownHubs(hubs ...protocol.NodeInfo) {
	s.mergeHubs(hubs, true)
}

// Connection returns the pooled connection to identity
func (s *Stack) Connection(identity protocol.GUID) (Connection, bool) {
	pc, ok := s.pool.Get(identity)
	if !ok {
		return nil, false
	}
	return pc.Conn, true
}

// Connections lists the pooled connections
func (s *Stack) Connections() []ConnectionInfo {
	all := s.pool.All()
	out := make([]ConnectionInfo, 0, len(all))
	for _, pc := range all {
		out = append(out, ConnectionInfo{
			Node:        pc.Node,
			Remote:      pc.Conn.RemoteAddress(),
			Persistent:  pc.Persistent,
			Established: pc.Established,
			LastUsed:    pc.LastUsed(),
		})
	}
	return out
}

// Stats returns a summary of the stack
func (s *Stack) Stats() StackStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StackStats{
		Pool:                s.pool.Stats(),
		Links:               len(s.links),
		KnownHubs:           len(s.knownHubs),
		PendingExpectations: len(s.pending),
		Subscriptions:       len(s.subs),
		IsHub:               s.cfg.IsHub,
	}
}

// Sender returns a Sender routing through this stack
func (s *Stack) Sender() *Sender {
	sender := NewSender(s, s, s, s.metrics)
	sender.defaultLookup = s.cfg.LookupTimeout
	sender.defaultConnect = s.cfg.ConnectTimeout
	return sender
}

// Connect returns an established connection to node, dialing and running
// the handshake when none is pooled. A node without an identity accepts
// whichever node answers at its address.
func (s *Stack) Connect(ctx context.Context, node protocol.NodeInfo, persistent bool) (Connection, error) {
	self := s.Self()
	if node.Identity != protocol.EmptyGUID {
		if node.Identity == self.Identity {
			return nil, &NegotiationError{Code: protocol.ErrorSameNode, Peer: node.Address}
		}
		if pc, ok := s.pool.Get(node.Identity); ok {
			if persistent {
				s.pool.MarkPersistent(node.Identity)
			}
			return pc.Conn, nil
		}
	}
	if node.Address == "" {
		return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, node)
	}

	key := node.Identity.String() + "@" + node.Address
	v, err, _ := s.dials.Do(key, func() (interface{}, error) {
		return s.dial(ctx, node, persistent)
	})
	if err != nil {
		return nil, err
	}
	return v.(Connection), nil
}

func (s *Stack) dial(ctx context.Context, node protocol.NodeInfo, persistent bool) (Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.factory.Connect(ctx, node.Address)
	if err != nil {
		s.metrics.handshake("initiator", "dial_failed")
		return nil, fmt.Errorf("connect to %s: %w", node.Address, err)
	}

	s.mu.Lock()
	request := &protocol.StackConnectionRequest{
		IsPersistent:     persistent,
		FromNodeInfo:     s.self,
		FromKnownHubList: s.advertisedHubsLocked(),
		ToNodeGuid:       node.Identity,
	}
	s.mu.Unlock()

	hs := NewHandshake(request)
	l := &link{conn: conn, handshake: hs}
	if !s.track(l) {
		conn.Close()
		return nil, ErrStackStopped
	}

	if err := hs.Send(conn); err != nil {
		conn.Close()
		s.metrics.handshake("initiator", "not_sent")
		return nil, err
	}

	resp, err := hs.Await(ctx)
	if err != nil {
		conn.Close()
		s.metrics.handshake("initiator", handshakeResult(err))
		return nil, err
	}

	s.metrics.handshake("initiator", "established")
	logger.Debugf("Connected to %s", resp.FromNodeInfo)
	return conn, nil
}

func handshakeResult(err error) string {
	var negErr *NegotiationError
	switch {
	case errors.As(err, &negErr):
		return negErr.Code.String()
	case errors.Is(err, ErrHandshakeTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// adopt takes ownership of an accepted connection
func (s *Stack) adopt(conn Connection) {
	if !s.track(&link{conn: conn}) {
		conn.Close()
	}
}

// track registers l and starts serving its connection
func (s *Stack) track(l *link) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.links[l.conn] = l
	s.mu.Unlock()

	l.conn.Serve(
		func(msg *protocol.Message) { s.handleMessage(l, msg) },
		func() { s.linkClosed(l) },
	)
	return true
}

func (s *Stack) linkClosed(l *link) {
	s.mu.Lock()
	delete(s.links, l.conn)
	peer := l.peer
	established := l.established
	s.mu.Unlock()

	if l.handshake != nil {
		l.handshake.Abort(ErrConnectionClosed)
	}
	if established {
		s.pool.Remove(peer.Identity, l.conn)
		s.metrics.setConnections(s.pool.Len())
		logger.Debugf("Connection to %s closed", peer)
	}
}

// handleMessage routes one inbound message. Only handshake and status
// messages are accepted before the link is established.
func (s *Stack) handleMessage(l *link, msg *protocol.Message) {
	switch msg.Identifier() {
	case protocol.TagConnectionRequest:
		s.handleConnectionRequest(l, msg)
		return
	case protocol.TagConnectionResponse:
		s.handleConnectionResponse(l, msg)
		return
	case protocol.TagStatusRequest:
		s.handleStatusRequest(l, msg)
		return
	case protocol.TagStatusResponse:
		s.handleStatusResponse(l, msg)
		return
	}

	s.mu.Lock()
	established := l.established
	peer := l.peer
	s.mu.Unlock()

	if !established {
		logger.Debugf("Dropping %s from %s: link not established", msg.Identifier(), l.conn.RemoteAddress())
		return
	}
	s.pool.Get(peer.Identity) // touch

	switch msg.Identifier() {
	case protocol.TagMessageRelay:
		var relay protocol.MessageRelay
		if err := relay.Decode(msg); err != nil {
			logger.Warnf("Invalid relay from %s: %v", peer, err)
			return
		}
		s.goroutine(func() { s.handleRelay(l, peer, &relay) })

	case protocol.TagRelayAcknowledgment, protocol.TagQueryAcknowledgment:
		s.handleAcknowledgement(l, msg)

	case protocol.TagBroadcastQuery:
		var query protocol.BroadcastQuery
		if err := query.Decode(msg); err != nil {
			logger.Warnf("Invalid broadcast query from %s: %v", peer, err)
			return
		}
		s.goroutine(func() { s.handleBroadcastQuery(l, &query) })

	case protocol.TagQueryResult:
		var result protocol.QueryResult
		if err := result.Decode(msg); err != nil {
			logger.Warnf("Invalid query result from %s: %v", peer, err)
			return
		}
		s.publishResult(&result)

	case protocol.TagStackConnector:
		s.handleStackConnector(msg)

	default:
		s.deliver(Delivery{Message: msg, From: peer})
	}
}

func (s *Stack) deliver(d Delivery) {
	s.mu.Lock()
	fn := s.handler
	s.mu.Unlock()

	if fn == nil {
		logger.Debugf("No handler for %s from %s", d.Message.Identifier(), d.From)
		return
	}
	fn(d)
}

// ===== HANDSHAKE (RESPONDER) =====

func (s *Stack) handleConnectionRequest(l *link, msg *protocol.Message) {
	var req protocol.StackConnectionRequest
	if err := req.Decode(msg); err != nil {
		logger.Warnf("Invalid connection request from %s: %v", l.conn.RemoteAddress(), err)
		l.conn.Close()
		return
	}

	code := s.evaluateRequest(&req)

	s.mu.Lock()
	resp := &protocol.StackConnectionResponse{
		StackConnectionRequest: protocol.StackConnectionRequest{
			IsPersistent:     req.IsPersistent,
			FromNodeInfo:     s.self,
			FromKnownHubList: s.advertisedHubsLocked(),
			ToNodeGuid:       req.FromNodeInfo.Identity,
		},
		Error: code,
	}
	s.mu.Unlock()

	if code != protocol.ErrorNone {
		logger.Infof("Rejected connection from %s: %s", req.FromNodeInfo, code)
		s.metrics.handshake("responder", code.String())
		l.conn.Send(resp.Encode())
		l.conn.Close()
		return
	}

	peer := req.FromNodeInfo
	if peer.Address == "" {
		peer.Address = l.conn.RemoteAddress()
	}
	s.establish(l, peer, req.IsPersistent, req.FromKnownHubList)

	if err := l.conn.Send(resp.Encode()); err != nil {
		logger.Warnf("Failed to answer %s: %v", peer, err)
		l.conn.Close()
		return
	}
	s.metrics.handshake("responder", "established")
	s.afterEstablish(l, peer)
}

// evaluateRequest applies the responder's acceptance rules in order
func (s *Stack) evaluateRequest(req *protocol.StackConnectionRequest) protocol.ErrorType {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := req.FromNodeInfo.Identity
	if from == s.self.Identity {
		return protocol.ErrorSameNode
	}
	if req.ToNodeGuid != protocol.EmptyGUID && req.ToNodeGuid != s.self.Identity {
		return protocol.ErrorIncorrectNode
	}
	if from == protocol.EmptyGUID {
		return protocol.ErrorIncorrectNode
	}

	if expires, ok := s.pending[from]; ok {
		if time.Now().After(expires) {
			delete(s.pending, from)
			return protocol.ErrorTimedOut
		}
		return protocol.ErrorNone
	}
	if !s.cfg.AcceptUnsolicited {
		return protocol.ErrorNodeNotPending
	}
	return protocol.ErrorNone
}

// ===== HANDSHAKE (INITIATOR) =====

func (s *Stack) handleConnectionResponse(l *link, msg *protocol.Message) {
	var resp protocol.StackConnectionResponse
	if err := resp.Decode(msg); err != nil {
		logger.Warnf("Invalid connection response from %s: %v", l.conn.RemoteAddress(), err)
		l.conn.Close()
		return
	}

	hs := l.handshake
	if hs == nil || hs.State() != HandshakeRequestSent {
		logger.Debugf("Unexpected connection response from %s", l.conn.RemoteAddress())
		return
	}

	// Establish before waking the dialer so the link accepts traffic as soon
	// as Connect returns.
	if hs.Accepts(&resp) {
		peer := resp.FromNodeInfo
		if peer.Address == "" {
			peer.Address = l.conn.RemoteAddress()
		}
		s.establish(l, peer, hs.Request().IsPersistent, resp.FromKnownHubList)
		hs.Complete(&resp)
		s.afterEstablish(l, peer)
		return
	}
	hs.Complete(&resp)
}

// establish marks l as a link to peer and pools it
func (s *Stack) establish(l *link, peer protocol.NodeInfo, persistent bool, hubs []protocol.NodeInfo) {
	s.mu.Lock()
	l.peer = peer
	l.established = true
	delete(s.pending, peer.Identity)
	s.mu.Unlock()

	s.pool.Add(&PeerConnection{Conn: l.conn, Node: peer, Persistent: persistent})
	s.metrics.setConnections(s.pool.Len())
	s.mergeHubs(hubs, true)
}

// afterEstablish wakes reverse-connection waiters and flushes queued relays
func (s *Stack) afterEstablish(l *link, peer protocol.NodeInfo) {
	s.mu.Lock()
	waiters := s.waiters[peer.Identity]
	delete(s.waiters, peer.Identity)
	s.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- l.conn:
		default:
		}
	}

	logger.Infof("🔗 Connected with %s", peer)

	if s.cfg.RelayQueue != nil {
		s.goroutine(func() { s.flushRelayQueue(l.conn, peer) })
	}
}

func (s *Stack) flushRelayQueue(conn Connection, peer protocol.NodeInfo) {
	relays, err := s.cfg.RelayQueue.DequeueRelays(peer.Identity)
	if err != nil {
		logger.Warnf("Failed to load queued relays for %s: %v", peer, err)
		return
	}
	for _, relay := range relays {
		if err := conn.Send(relay.Encode()); err != nil {
			logger.Warnf("Failed to deliver queued relay %s: %v", relay.Guid, err)
			if qerr := s.cfg.RelayQueue.QueueRelay(relay); qerr != nil {
				logger.Errorf("Dropped relay %s: %v", relay.Guid, qerr)
			}
			continue
		}
		s.metrics.relay("dequeued")
	}
	if len(relays) > 0 {
		logger.Infof("📬 Delivered %d queued relays to %s", len(relays), peer)
	}
}

// ===== KNOWN HUBS =====

// advertisedHubsLocked is the hub list sent in handshakes; hubs include
// themselves (must be called with s.mu held)
func (s *Stack) advertisedHubsLocked() protocol.KnownHubList {
	hubs := append(protocol.KnownHubList(nil), s.knownHubs...)
	if s.cfg.IsHub {
		hubs = hubs.Merge([]protocol.NodeInfo{s.self})
	}
	return hubs
}

func (s *Stack) mergeHubs(hubs []protocol.NodeInfo, persist bool) {
	s.mu.Lock()
	selfID := s.self.Identity
	var added []protocol.NodeInfo
	for _, hub := range hubs {
		if hub.Identity == protocol.EmptyGUID || hub.Identity == selfID {
			continue
		}
		if !s.knownHubs.Contains(hub.Identity) {
			added = append(added, hub)
		}
		s.knownHubs = s.knownHubs.Merge([]protocol.NodeInfo{hub})
	}
	s.mu.Unlock()

	if !persist || s.cfg.HubStore == nil {
		return
	}
	for _, hub := range added {
		if err := s.cfg.HubStore.SaveHub(hub); err != nil {
			logger.Warnf("Failed to save hub %s: %v", hub, err)
		}
	}
}

// ===== STATUS =====

func (s *Stack) handleStatusRequest(l *link, msg *protocol.Message) {
	var req protocol.StatusMessageRequest
	if err := req.Decode(msg); err != nil {
		logger.Debugf("Invalid status request: %v", err)
		return
	}

	s.mu.Lock()
	resp := &protocol.StatusMessageResponse{
		Node:          s.self,
		IsHub:         s.cfg.IsHub,
		KnownHubCount: int32(len(s.knownHubs)),
	}
	s.mu.Unlock()
	resp.ConnectionCount = int32(s.pool.Len())

	if err := l.conn.Send(resp.Encode()); err != nil {
		logger.Debugf("Failed to answer status request: %v", err)
	}
}

func (s *Stack) handleStatusResponse(l *link, msg *protocol.Message) {
	var resp protocol.StatusMessageResponse
	if err := resp.Decode(msg); err != nil {
		logger.Debugf("Invalid status response: %v", err)
		return
	}

	s.mu.Lock()
	ch := s.statuses[l.conn]
	delete(s.statuses, l.conn)
	s.mu.Unlock()

	if ch != nil {
		ch <- &resp
	}
}

// Status probes node with Sta? and returns its Sta! reply
func (s *Stack) Status(ctx context.Context, node protocol.NodeInfo) (*protocol.StatusMessageResponse, error) {
	conn, err := s.Connect(ctx, node, false)
	if err != nil {
		return nil, err
	}

	ch := make(chan *protocol.StatusMessageResponse, 1)
	s.mu.Lock()
	s.statuses[conn] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.statuses[conn] == ch {
			delete(s.statuses, conn)
		}
		s.mu.Unlock()
	}()

	if err := conn.Send(protocol.StatusMessageRequest{}.Encode()); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.cfg.HopTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, ErrAckTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ===== ACKNOWLEDGEMENTS =====

func (s *Stack) expectAck(key ackKey) chan *protocol.BroadcastAcknowledgement {
	ch := make(chan *protocol.BroadcastAcknowledgement, 1)
	s.mu.Lock()
	s.acks[key] = ch
	s.mu.Unlock()
	return ch
}

func (s *Stack) dropAck(key ackKey) {
	s.mu.Lock()
	delete(s.acks, key)
	s.mu.Unlock()
}

// awaitAck waits up to HopTimeout for the acknowledgement registered on ch
func (s *Stack) awaitAck(ctx context.Context, ch chan *protocol.BroadcastAcknowledgement) (*protocol.BroadcastAcknowledgement, error) {
	timer := time.NewTimer(s.cfg.HopTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		return nil, ErrAckTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stack) handleAcknowledgement(l *link, msg *protocol.Message) {
	ack, err := protocol.DecodeBroadcastAcknowledgement(msg)
	if err != nil {
		logger.Warnf("Invalid acknowledgement from %s: %v", l.conn.RemoteAddress(), err)
		return
	}

	key := ackKey{guid: ack.CorrelationGuid(), conn: l.conn}
	s.mu.Lock()
	ch := s.acks[key]
	delete(s.acks, key)
	s.mu.Unlock()

	if ch == nil {
		logger.Debugf("Unsolicited %s acknowledgement %s", ack.Kind, key.guid)
		return
	}
	ch <- ack
}

// ===== MAINTENANCE =====

func (s *Stack) maintenanceLoop() {
	interval := s.cfg.IdleTimeout / 2
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.pool.CloseIdle(s.cfg.IdleTimeout); n > 0 {
				logger.Debugf("Closed %d idle connections", n)
				s.metrics.setConnections(s.pool.Len())
			}
			s.expirePending()
		}
	}
}

// expirePending drops reverse-connection expectations well past their TTL.
// Recently expired ones are kept so a late handshake is answered TimedOut.
func (s *Stack) expirePending() {
	cutoff := time.Now().Add(-s.cfg.PendingExpectationTTL)
	s.mu.Lock()
	for id, expires := range s.pending {
		if expires.Before(cutoff) {
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()
}
