package protocol

import "fmt"

// ErrorType is the negotiation result carried by a StackConnectionResponse
type ErrorType int32

const (
	ErrorNone ErrorType = iota
	ErrorIncorrectNode
	ErrorNodeNotPending
	ErrorTimedOut
	ErrorRequestNotSent
	ErrorSameNode
)

func (e ErrorType) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorIncorrectNode:
		return "IncorrectNode"
	case ErrorNodeNotPending:
		return "NodeNotPending"
	case ErrorTimedOut:
		return "TimedOut"
	case ErrorRequestNotSent:
		return "RequestNotSent"
	case ErrorSameNode:
		return "SameNode"
	default:
		return fmt.Sprintf("ErrorType(%d)", int32(e))
	}
}

// Valid reports whether the value is a known error type
func (e ErrorType) Valid() bool {
	return e >= ErrorNone && e <= ErrorSameNode
}

// StackConnectionRequest opens the handshake on a new link (HiHo).
// An empty ToNodeGuid accepts whichever node answers.
type StackConnectionRequest struct {
	IsPersistent     bool
	FromNodeInfo     NodeInfo
	FromKnownHubList KnownHubList
	ToNodeGuid       GUID
}

// StackConnectionResponse answers a StackConnectionRequest (HiGo)
type StackConnectionResponse struct {
	StackConnectionRequest
	Error ErrorType
}

// Accepted reports whether the responder established the link
func (r *StackConnectionResponse) Accepted() bool {
	return r.Error == ErrorNone
}

func (r *StackConnectionRequest) appendFields(msg *Message) {
	msg.AppendBool(r.IsPersistent)
	AppendNodeInfo(msg, r.FromNodeInfo)
	AppendNodeInfoList(msg, r.FromKnownHubList)
	msg.AppendGUID(r.ToNodeGuid)
}

func (r *StackConnectionRequest) extractFields(msg *Message) error {
	id := msg.Identifier()
	var err error
	if r.IsPersistent, err = msg.ExtractBool(); err != nil {
		return fieldError(id, "IsPersistent", err)
	}
	if r.FromNodeInfo, err = ExtractNodeInfo(msg); err != nil {
		return fieldError(id, "FromNodeInfo", err)
	}
	hubs, err := ExtractNodeInfoList(msg)
	if err != nil {
		return fieldError(id, "FromKnownHubList", err)
	}
	r.FromKnownHubList = hubs
	if r.ToNodeGuid, err = msg.ExtractGUID(); err != nil {
		return fieldError(id, "ToNodeGuid", err)
	}
	return nil
}

// Encode encodes the request
func (r *StackConnectionRequest) Encode() *Message {
	msg := NewMessage(TagConnectionRequest)
	r.appendFields(msg)
	return msg
}

// Decode decodes a HiHo message
func (r *StackConnectionRequest) Decode(msg *Message) error {
	if err := msg.ExpectIdentifier(TagConnectionRequest); err != nil {
		return err
	}
	msg.Rewind()
	if err := r.extractFields(msg); err != nil {
		return err
	}
	return msg.AssertAtEnd()
}

// Encode encodes the response
func (r *StackConnectionResponse) Encode() *Message {
	msg := NewMessage(TagConnectionResponse)
	r.appendFields(msg)
	msg.AppendInt32(int32(r.Error))
	return msg
}

// Decode decodes a HiGo message
func (r *StackConnectionResponse) Decode(msg *Message) error {
	if err := msg.ExpectIdentifier(TagConnectionResponse); err != nil {
		return err
	}
	msg.Rewind()
	if err := r.extractFields(msg); err != nil {
		return err
	}
	code, err := msg.ExtractInt32()
	if err != nil {
		return fieldError(TagConnectionResponse, "Error", err)
	}
	r.Error = ErrorType(code)
	if !r.Error.Valid() {
		return fieldError(TagConnectionResponse, "Error", fmt.Errorf("%w: unknown error type %d", ErrMalformed, code))
	}
	return msg.AssertAtEnd()
}

// StackConnector asks the receiver to open a connection toward ToNode (Conn)
type StackConnector struct {
	ToNode       NodeInfo
	IsPersistent bool
}

// Encode encodes the connector
func (c *StackConnector) Encode() *Message {
	msg := NewMessage(TagStackConnector)
	AppendNodeInfo(msg, c.ToNode)
	msg.AppendBool(c.IsPersistent)
	return msg
}

// Decode decodes a Conn message
func (c *StackConnector) Decode(msg *Message) error {
	if err := msg.ExpectIdentifier(TagStackConnector); err != nil {
		return err
	}
	msg.Rewind()
	var err error
	if c.ToNode, err = ExtractNodeInfo(msg); err != nil {
		return fieldError(TagStackConnector, "ToNode", err)
	}
	if c.IsPersistent, err = msg.ExtractBool(); err != nil {
		return fieldError(TagStackConnector, "IsPersistent", err)
	}
	return msg.AssertAtEnd()
}

// StatusMessageRequest is a zero-field liveness probe (Sta?)
type StatusMessageRequest struct{}

// Encode encodes the probe
func (StatusMessageRequest) Encode() *Message {
	return NewMessage(TagStatusRequest)
}

// Decode checks the identifier and that the body is empty
func (StatusMessageRequest) Decode(msg *Message) error {
	if err := msg.ExpectIdentifier(TagStatusRequest); err != nil {
		return err
	}
	msg.Rewind()
	return msg.AssertAtEnd()
}

// StatusMessageResponse answers a probe (Sta!)
type StatusMessageResponse struct {
	Node            NodeInfo
	IsHub           bool
	ConnectionCount int32
	KnownHubCount   int32
}

// Encode encodes the reply
func (s *StatusMessageResponse) Encode() *Message {
	msg := NewMessage(TagStatusResponse)
	AppendNodeInfo(msg, s.Node)
	msg.AppendBool(s.IsHub)
	msg.AppendInt32(s.ConnectionCount)
	msg.AppendInt32(s.KnownHubCount)
	return msg
}

// Decode decodes a Sta! message
func (s *StatusMessageResponse) Decode(msg *Message) error {
	if err := msg.ExpectIdentifier(TagStatusResponse); err != nil {
		return err
	}
	msg.Rewind()
	var err error
	if s.Node, err = ExtractNodeInfo(msg); err != nil {
		return fieldError(TagStatusResponse, "Node", err)
	}
	if s.IsHub, err = msg.ExtractBool(); err != nil {
		return fieldError(TagStatusResponse, "IsHub", err)
	}
	if s.ConnectionCount, err = msg.ExtractInt32(); err != nil {
		return fieldError(TagStatusResponse, "ConnectionCount", err)
	}
	if s.KnownHubCount, err = msg.ExtractInt32(); err != nil {
		return fieldError(TagStatusResponse, "KnownHubCount", err)
	}
	return msg.AssertAtEnd()
}
