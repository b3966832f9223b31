package network

import (
	"context"
	"fmt"
	"time"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// Route is how a message left this node
type Route int

const (
	RouteNone Route = iota
	RouteDirect
	RouteRelayed
)

func (r Route) String() string {
	switch r {
	case RouteDirect:
		return "direct"
	case RouteRelayed:
		return "relayed"
	default:
		return "none"
	}
}

// SendOptions controls one send
type SendOptions struct {
	// RequiresDirectConnection forbids relaying; a connection is dialed
	// when none exists.
	RequiresDirectConnection bool
	// Persistent marks a dialed connection as persistent
	Persistent bool

	LookupTimeout  time.Duration // default 30s
	ConnectTimeout time.Duration // default 15s
}

// SendResult is the outcome of one send. Err is nil on success.
type SendResult struct {
	Node  protocol.NodeInfo
	Route Route
	Err   error
}

// ConnectionProvider looks up and establishes connections by node identity
type ConnectionProvider interface {
	Connection(identity protocol.GUID) (Connection, bool)
	Connect(ctx context.Context, node protocol.NodeInfo, persistent bool) (Connection, error)
}

// Sender delivers messages to nodes by identity, directly when a connection
// exists or can be made, otherwise through the relay subsystem. Sends run in
// the background and report through a result channel.
type Sender struct {
	finder  NodeFinder
	relayer MessageRelayer
	conns   ConnectionProvider
	metrics *Metrics

	defaultLookup  time.Duration
	defaultConnect time.Duration
}

// NewSender creates a sender. conns may also implement ReverseConnector,
// which is then used when dialing fails.
func NewSender(finder NodeFinder, relayer MessageRelayer, conns ConnectionProvider, metrics *Metrics) *Sender {
	return &Sender{
		finder:         finder,
		relayer:        relayer,
		conns:          conns,
		metrics:        metrics,
		defaultLookup:  30 * time.Second,
		defaultConnect: 15 * time.Second,
	}
}

// Send resolves to and delivers msg. The returned channel receives exactly
// one SendResult and is then closed.
func (s *Sender) Send(ctx context.Context, to protocol.NodeId, msg *protocol.Message, opts SendOptions) <-chan SendResult {
	results := make(chan SendResult, 1)
	go func() {
		defer close(results)
		results <- s.send(ctx, to, nil, msg, opts)
	}()
	return results
}

// SendToNode delivers msg to an already resolved node
func (s *Sender) SendToNode(ctx context.Context, node protocol.NodeInfo, msg *protocol.Message, opts SendOptions) <-chan SendResult {
	results := make(chan SendResult, 1)
	go func() {
		defer close(results)
		results <- s.send(ctx, node.NodeId, &node, msg, opts)
	}()
	return results
}

func (s *Sender) send(ctx context.Context, to protocol.NodeId, resolved *protocol.NodeInfo, msg *protocol.Message, opts SendOptions) SendResult {
	if msg == nil || to.Identity == protocol.EmptyGUID {
		return s.fail(protocol.NodeInfo{NodeId: to}, RouteNone, fmt.Errorf("%w: missing message or destination", protocol.ErrInvalidArgument))
	}

	var node protocol.NodeInfo
	conn, connected := s.conns.Connection(to.Identity)
	switch {
	case resolved != nil:
		node = *resolved
	case connected:
		node = protocol.NodeInfo{NodeId: to}
	default:
		timeout := opts.LookupTimeout
		if timeout <= 0 {
			timeout = s.defaultLookup
		}
		found, err := FindNode(ctx, s.finder, to.Identity, timeout)
		if err != nil {
			return s.fail(protocol.NodeInfo{NodeId: to}, RouteNone, fmt.Errorf("resolve %s: %w", to, err))
		}
		node = found
	}

	if !connected {
		conn, connected = s.conns.Connection(node.Identity)
	}
	if connected {
		return s.transmit(conn, node, msg)
	}

	if !opts.RequiresDirectConnection {
		relay, err := protocol.NewMessageRelay(msg, node.Identity)
		if err != nil {
			return s.fail(node, RouteRelayed, err)
		}
		if err := s.relayer.Relay(ctx, relay); err != nil {
			return s.fail(node, RouteRelayed, fmt.Errorf("%w: %w", ErrSendFailed, err))
		}
		s.metrics.send(RouteRelayed, "ok")
		return SendResult{Node: node, Route: RouteRelayed}
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = s.defaultConnect
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.conns.Connect(cctx, node, opts.Persistent)
	if err != nil {
		reverse, ok := s.conns.(ReverseConnector)
		if !ok {
			return s.fail(node, RouteDirect, fmt.Errorf("%w: %w", ErrSendFailed, err))
		}
		logger.Debugf("Dial to %s failed (%v), requesting reverse connection", node, err)
		conn, err = reverse.RequestReverseConnection(cctx, node, opts.Persistent)
		if err != nil {
			return s.fail(node, RouteDirect, fmt.Errorf("%w: %w", ErrSendFailed, err))
		}
	}
	return s.transmit(conn, node, msg)
}

func (s *Sender) transmit(conn Connection, node protocol.NodeInfo, msg *protocol.Message) SendResult {
	if err := conn.Send(msg); err != nil {
		return s.fail(node, RouteDirect, fmt.Errorf("%w: %w", ErrSendFailed, err))
	}
	s.metrics.send(RouteDirect, "ok")
	return SendResult{Node: node, Route: RouteDirect}
}

func (s *Sender) fail(node protocol.NodeInfo, route Route, err error) SendResult {
	s.metrics.send(route, "error")
	logger.Debugf("Send to %s failed: %v", node, err)
	return SendResult{Node: node, Route: route, Err: err}
}
