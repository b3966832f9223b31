package network

import (
	"errors"
	"fmt"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrLookupTimeout     = fmt.Errorf("%w: lookup timed out", ErrNodeNotFound)
	ErrHandshakeTimeout  = errors.New("handshake timed out")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrAddressNotFound   = errors.New("no listener at address")
	ErrPoolClosed        = errors.New("connection pool closed")
	ErrStackStopped      = errors.New("stack stopped")
	ErrNoHubs            = errors.New("no known hubs")
	ErrRelayNotDelivered = errors.New("relay not delivered")
	ErrSendFailed        = errors.New("send failed")
	ErrAckTimeout        = errors.New("acknowledgement timed out")
)

// NegotiationError is returned when a handshake ends in the Rejected state
type NegotiationError struct {
	Code protocol.ErrorType
	Peer string
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("connection to %s rejected: %s", e.Peer, e.Code)
}
