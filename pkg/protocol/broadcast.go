package protocol

import "fmt"

// AckKind selects the variant of a BroadcastAcknowledgement
type AckKind uint8

const (
	AckKindQuery AckKind = iota + 1
	AckKindRelay
)

func (k AckKind) String() string {
	switch k {
	case AckKindQuery:
		return "query"
	case AckKindRelay:
		return "relay"
	default:
		return fmt.Sprintf("AckKind(%d)", uint8(k))
	}
}

// BroadcastAcknowledgement is a hub's answer to one step of a progressive
// broadcast: which hubs have been searched, which are worth searching next
// and whether this branch is exhausted.
//
// Query acknowledgements carry QueryGuid; relay acknowledgements carry
// RelayGuid and ToNodeGuid. Use the constructors, which enforce that no hub
// is both visited and a candidate.
type BroadcastAcknowledgement struct {
	VisitedHubs   []NodeInfo
	CandidateHubs []NodeInfo
	IsDeadEnd     bool

	Kind       AckKind
	QueryGuid  GUID
	RelayGuid  GUID
	ToNodeGuid GUID
}

// NewQueryAcknowledgement acknowledges one hop of a broadcast query
func NewQueryAcknowledgement(queryGuid GUID, visited, candidates []NodeInfo, deadEnd bool) (*BroadcastAcknowledgement, error) {
	if queryGuid == EmptyGUID {
		return nil, fmt.Errorf("%w: empty query guid", ErrInvalidArgument)
	}
	if err := checkDisjoint(visited, candidates); err != nil {
		return nil, err
	}
	return &BroadcastAcknowledgement{
		VisitedHubs:   visited,
		CandidateHubs: candidates,
		IsDeadEnd:     deadEnd,
		Kind:          AckKindQuery,
		QueryGuid:     queryGuid,
	}, nil
}

// NewRelayFoundAcknowledgement reports that a relay reached its destination
// or was handed to a connection that does.
func NewRelayFoundAcknowledgement(relayGuid, toNodeGuid GUID) (*BroadcastAcknowledgement, error) {
	if err := checkRelayGuids(relayGuid, toNodeGuid); err != nil {
		return nil, err
	}
	return &BroadcastAcknowledgement{
		Kind:       AckKindRelay,
		RelayGuid:  relayGuid,
		ToNodeGuid: toNodeGuid,
	}, nil
}

// NewRelayNotFoundAcknowledgement reports that this hub cannot reach the
// destination. The acknowledgement is always a dead end.
func NewRelayNotFoundAcknowledgement(relayGuid, toNodeGuid GUID, visited, candidates []NodeInfo) (*BroadcastAcknowledgement, error) {
	if err := checkRelayGuids(relayGuid, toNodeGuid); err != nil {
		return nil, err
	}
	if err := checkDisjoint(visited, candidates); err != nil {
		return nil, err
	}
	return &BroadcastAcknowledgement{
		VisitedHubs:   visited,
		CandidateHubs: candidates,
		IsDeadEnd:     true,
		Kind:          AckKindRelay,
		RelayGuid:     relayGuid,
		ToNodeGuid:    toNodeGuid,
	}, nil
}

// Found reports whether a relay acknowledgement confirms delivery
func (a *BroadcastAcknowledgement) Found() bool {
	return a.Kind == AckKindRelay && !a.IsDeadEnd
}

// CorrelationGuid returns the query or relay GUID this answers
func (a *BroadcastAcknowledgement) CorrelationGuid() GUID {
	if a.Kind == AckKindRelay {
		return a.RelayGuid
	}
	return a.QueryGuid
}

func checkRelayGuids(relayGuid, toNodeGuid GUID) error {
	if relayGuid == EmptyGUID {
		return fmt.Errorf("%w: empty relay guid", ErrInvalidArgument)
	}
	if toNodeGuid == EmptyGUID {
		return fmt.Errorf("%w: empty destination guid", ErrInvalidArgument)
	}
	return nil
}

func checkDisjoint(visited, candidates []NodeInfo) error {
	seen := make(map[GUID]struct{}, len(visited))
	for _, hub := range visited {
		seen[hub.Identity] = struct{}{}
	}
	for _, hub := range candidates {
		if _, ok := seen[hub.Identity]; ok {
			return &OverlapError{Identity: hub.Identity}
		}
	}
	return nil
}

// Encode encodes the acknowledgement as QAck or RAck
func (a *BroadcastAcknowledgement) Encode() *Message {
	var msg *Message
	if a.Kind == AckKindRelay {
		msg = NewMessage(TagRelayAcknowledgment)
	} else {
		msg = NewMessage(TagQueryAcknowledgment)
	}

	AppendNodeInfoList(msg, a.VisitedHubs)
	AppendNodeInfoList(msg, a.CandidateHubs)
	msg.AppendBool(a.IsDeadEnd)

	if a.Kind == AckKindRelay {
		msg.AppendGUID(a.RelayGuid)
		msg.AppendGUID(a.ToNodeGuid)
	} else {
		msg.AppendGUID(a.QueryGuid)
	}
	return msg
}

// DecodeBroadcastAcknowledgement decodes a QAck or RAck message
func DecodeBroadcastAcknowledgement(msg *Message) (*BroadcastAcknowledgement, error) {
	id := msg.Identifier()
	if id != TagQueryAcknowledgment && id != TagRelayAcknowledgment {
		return nil, &TypeIdentifierError{Expected: TagQueryAcknowledgment, Actual: id}
	}
	msg.Rewind()

	visited, err := ExtractNodeInfoList(msg)
	if err != nil {
		return nil, fieldError(id, "VisitedHubs", err)
	}
	candidates, err := ExtractNodeInfoList(msg)
	if err != nil {
		return nil, fieldError(id, "CandidateHubs", err)
	}
	deadEnd, err := msg.ExtractBool()
	if err != nil {
		return nil, fieldError(id, "IsDeadEnd", err)
	}

	if id == TagQueryAcknowledgment {
		queryGuid, err := msg.ExtractGUID()
		if err != nil {
			return nil, fieldError(id, "QueryGuid", err)
		}
		if err := msg.AssertAtEnd(); err != nil {
			return nil, err
		}
		return NewQueryAcknowledgement(queryGuid, visited, candidates, deadEnd)
	}

	relayGuid, err := msg.ExtractGUID()
	if err != nil {
		return nil, fieldError(id, "RelayGuid", err)
	}
	toNodeGuid, err := msg.ExtractGUID()
	if err != nil {
		return nil, fieldError(id, "ToNodeGuid", err)
	}
	if err := msg.AssertAtEnd(); err != nil {
		return nil, err
	}
	if !deadEnd {
		if len(visited) > 0 || len(candidates) > 0 {
			return nil, fieldError(id, "CandidateHubs", fmt.Errorf("%w: found acknowledgement lists hubs", ErrMalformed))
		}
		return NewRelayFoundAcknowledgement(relayGuid, toNodeGuid)
	}
	return NewRelayNotFoundAcknowledgement(relayGuid, toNodeGuid, visited, candidates)
}
