package protocol

import "fmt"

// MessageRelay carries a message toward a node the sender has no direct
// connection to (RLay).
type MessageRelay struct {
	Guid           GUID
	RelayedMessage *Message
	ToNodeGuid     GUID
}

// NewMessageRelay wraps msg for delivery to the given node under a fresh
// relay GUID.
func NewMessageRelay(msg *Message, toNodeGuid GUID) (*MessageRelay, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil relayed message", ErrInvalidArgument)
	}
	if toNodeGuid == EmptyGUID {
		return nil, fmt.Errorf("%w: empty destination guid", ErrInvalidArgument)
	}
	return &MessageRelay{
		Guid:           NewGUID(),
		RelayedMessage: msg,
		ToNodeGuid:     toNodeGuid,
	}, nil
}

// Encode writes guid, embedded message and destination in that order
func (r *MessageRelay) Encode() *Message {
	msg := NewMessage(TagMessageRelay)
	msg.AppendGUID(r.Guid)
	msg.AppendMessage(r.RelayedMessage)
	msg.AppendGUID(r.ToNodeGuid)
	return msg
}

// Decode decodes an RLay message
func (r *MessageRelay) Decode(msg *Message) error {
	if err := msg.ExpectIdentifier(TagMessageRelay); err != nil {
		return err
	}
	msg.Rewind()

	var err error
	if r.Guid, err = msg.ExtractGUID(); err != nil {
		return fieldError(TagMessageRelay, "Guid", err)
	}
	if r.RelayedMessage, err = msg.ExtractMessage(); err != nil {
		return fieldError(TagMessageRelay, "RelayedMessage", err)
	}
	if r.ToNodeGuid, err = msg.ExtractGUID(); err != nil {
		return fieldError(TagMessageRelay, "ToNodeGuid", err)
	}
	if err := msg.AssertAtEnd(); err != nil {
		return err
	}

	switch {
	case r.Guid == EmptyGUID:
		return fieldError(TagMessageRelay, "Guid", fmt.Errorf("%w: empty guid", ErrMalformed))
	case r.RelayedMessage == nil:
		return fieldError(TagMessageRelay, "RelayedMessage", fmt.Errorf("%w: missing message", ErrMalformed))
	case r.ToNodeGuid == EmptyGUID:
		return fieldError(TagMessageRelay, "ToNodeGuid", fmt.Errorf("%w: empty destination", ErrMalformed))
	}
	return nil
}
