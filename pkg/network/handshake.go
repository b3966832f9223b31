package network

import (
	"context"
	"sync"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// HandshakeState is the initiator's view of a connection attempt
type HandshakeState int

const (
	HandshakeIdle HandshakeState = iota
	HandshakeRequestSent
	HandshakeEstablished
	HandshakeRejected
	HandshakeTimedOut
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeIdle:
		return "idle"
	case HandshakeRequestSent:
		return "request-sent"
	case HandshakeEstablished:
		return "established"
	case HandshakeRejected:
		return "rejected"
	case HandshakeTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Handshake drives one outgoing connection attempt:
// Idle -> RequestSent -> Established | Rejected | TimedOut.
type Handshake struct {
	request *protocol.StackConnectionRequest
	peer    string

	mu       sync.Mutex
	state    HandshakeState
	code     protocol.ErrorType
	response *protocol.StackConnectionResponse
	err      error
	done     chan struct{}
}

// NewHandshake creates an idle handshake for request
func NewHandshake(request *protocol.StackConnectionRequest) *Handshake {
	return &Handshake{
		request: request,
		done:    make(chan struct{}),
	}
}

// Request returns the request this handshake sends
func (h *Handshake) Request() *protocol.StackConnectionRequest {
	return h.request
}

// State returns the current state
func (h *Handshake) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Code returns the negotiation error of a rejected handshake
func (h *Handshake) Code() protocol.ErrorType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code
}

// Send transmits the request. A failed send rejects the handshake with
// RequestNotSent.
func (h *Handshake) Send(conn Connection) error {
	h.mu.Lock()
	if h.state != HandshakeIdle {
		h.mu.Unlock()
		return nil
	}
	h.peer = conn.RemoteAddress()
	h.state = HandshakeRequestSent
	h.mu.Unlock()

	if err := conn.Send(h.request.Encode()); err != nil {
		logger.Debugf("Handshake request to %s not sent: %v", conn.RemoteAddress(), err)
		h.finish(HandshakeRejected, protocol.ErrorRequestNotSent, nil, nil)
		return h.err
	}
	return nil
}

// Accepts reports whether resp would establish this handshake
func (h *Handshake) Accepts(resp *protocol.StackConnectionResponse) bool {
	return h.outcome(resp) == protocol.ErrorNone
}

func (h *Handshake) outcome(resp *protocol.StackConnectionResponse) protocol.ErrorType {
	if !resp.Accepted() {
		return resp.Error
	}
	want := h.request.ToNodeGuid
	if want != protocol.EmptyGUID && resp.FromNodeInfo.Identity != want {
		return protocol.ErrorIncorrectNode
	}
	if resp.FromNodeInfo.Identity == protocol.EmptyGUID {
		return protocol.ErrorIncorrectNode
	}
	return protocol.ErrorNone
}

// Complete applies the peer's response and returns the resulting state.
// Responses outside the RequestSent state are ignored.
func (h *Handshake) Complete(resp *protocol.StackConnectionResponse) HandshakeState {
	code := h.outcome(resp)
	if code == protocol.ErrorNone {
		h.finish(HandshakeEstablished, code, resp, nil)
	} else {
		h.finish(HandshakeRejected, code, resp, nil)
	}
	return h.State()
}

// Abort ends a pending handshake with err, e.g. when the link closes
func (h *Handshake) Abort(err error) {
	h.finish(HandshakeRejected, protocol.ErrorNone, nil, err)
}

// Await blocks until the handshake leaves RequestSent or ctx ends. A
// rejection returns a *NegotiationError, a local deadline ErrHandshakeTimeout.
func (h *Handshake) Await(ctx context.Context) (*protocol.StackConnectionResponse, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		h.finish(HandshakeTimedOut, protocol.ErrorNone, nil, ErrHandshakeTimeout)
		<-h.done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == HandshakeEstablished {
		return h.response, nil
	}
	return h.response, h.err
}

func (h *Handshake) finish(state HandshakeState, code protocol.ErrorType, resp *protocol.StackConnectionResponse, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != HandshakeRequestSent {
		return
	}
	h.state = state
	h.code = code
	h.response = resp
	switch {
	case err != nil:
		h.err = err
	case state == HandshakeRejected:
		h.err = &NegotiationError{Code: code, Peer: h.peer}
	}
	close(h.done)
}
