package protocol

import (
	"errors"
	"testing"
)

func hub(name string) NodeInfo {
	return NodeInfo{NodeId: NewNodeId(NewGUID(), nil), Address: name + ":7400", Name: name}
}

func TestQueryAcknowledgementCodec(t *testing.T) {
	visited := []NodeInfo{hub("h1"), hub("h2")}
	candidates := []NodeInfo{hub("h3")}

	ack, err := NewQueryAcknowledgement(NewGUID(), visited, candidates, false)
	if err != nil {
		t.Fatalf("NewQueryAcknowledgement() error = %v", err)
	}

	msg := ack.Encode()
	if msg.Identifier() != TagQueryAcknowledgment {
		t.Fatalf("Encode() identifier = %q", msg.Identifier())
	}

	got, err := DecodeBroadcastAcknowledgement(msg)
	if err != nil {
		t.Fatalf("DecodeBroadcastAcknowledgement() error = %v", err)
	}
	if got.Kind != AckKindQuery || got.QueryGuid != ack.QueryGuid || got.IsDeadEnd {
		t.Errorf("decoded = %+v", got)
	}
	if len(got.VisitedHubs) != 2 || len(got.CandidateHubs) != 1 {
		t.Errorf("decoded lists: visited %d candidates %d", len(got.VisitedHubs), len(got.CandidateHubs))
	}
}

func TestBroadcastAcknowledgementWireOrder(t *testing.T) {
	ack, err := NewQueryAcknowledgement(NewGUID(), nil, nil, true)
	if err != nil {
		t.Fatalf("NewQueryAcknowledgement() error = %v", err)
	}

	body := ack.Encode().Body()
	// visited count, candidate count, dead-end flag, query guid
	want := 4 + 4 + 1 + 16
	if len(body) != want {
		t.Fatalf("body length = %d, want %d", len(body), want)
	}
	if body[8] != 1 {
		t.Errorf("dead-end byte = %d, want 1", body[8])
	}
	if string(body[9:]) != string(ack.QueryGuid[:]) {
		t.Error("query guid is not the trailing field")
	}
}

func TestAcknowledgementOverlap(t *testing.T) {
	shared := hub("shared")

	_, err := NewQueryAcknowledgement(NewGUID(), []NodeInfo{shared}, []NodeInfo{hub("x"), shared}, false)
	var overlap *OverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("NewQueryAcknowledgement() error = %v, want *OverlapError", err)
	}
	if overlap.Identity != shared.Identity {
		t.Errorf("OverlapError.Identity = %v, want %v", overlap.Identity, shared.Identity)
	}

	_, err = NewRelayNotFoundAcknowledgement(NewGUID(), NewGUID(), []NodeInfo{shared}, []NodeInfo{shared})
	if !errors.Is(err, ErrOverlappingHubs) {
		t.Errorf("NewRelayNotFoundAcknowledgement() error = %v, want ErrOverlappingHubs", err)
	}
}

func TestDecodeRejectsOverlap(t *testing.T) {
	shared := hub("shared")

	msg := NewMessage(TagQueryAcknowledgment)
	AppendNodeInfoList(msg, []NodeInfo{shared})
	AppendNodeInfoList(msg, []NodeInfo{shared})
	msg.AppendBool(false)
	msg.AppendGUID(NewGUID())

	if _, err := DecodeBroadcastAcknowledgement(msg); !errors.Is(err, ErrOverlappingHubs) {
		t.Errorf("DecodeBroadcastAcknowledgement() error = %v, want ErrOverlappingHubs", err)
	}
}

func TestRelayAcknowledgementVariants(t *testing.T) {
	relayGuid, toNode := NewGUID(), NewGUID()

	found, err := NewRelayFoundAcknowledgement(relayGuid, toNode)
	if err != nil {
		t.Fatalf("NewRelayFoundAcknowledgement() error = %v", err)
	}
	if found.IsDeadEnd || len(found.VisitedHubs) != 0 || len(found.CandidateHubs) != 0 || !found.Found() {
		t.Errorf("found acknowledgement = %+v", found)
	}

	notFound, err := NewRelayNotFoundAcknowledgement(relayGuid, toNode, []NodeInfo{hub("v")}, []NodeInfo{hub("c")})
	if err != nil {
		t.Fatalf("NewRelayNotFoundAcknowledgement() error = %v", err)
	}
	if !notFound.IsDeadEnd || notFound.Found() {
		t.Errorf("not-found acknowledgement = %+v", notFound)
	}

	for _, ack := range []*BroadcastAcknowledgement{found, notFound} {
		msg := ack.Encode()
		if msg.Identifier() != TagRelayAcknowledgment {
			t.Fatalf("Encode() identifier = %q", msg.Identifier())
		}
		got, err := DecodeBroadcastAcknowledgement(msg)
		if err != nil {
			t.Fatalf("DecodeBroadcastAcknowledgement() error = %v", err)
		}
		if got.RelayGuid != relayGuid || got.ToNodeGuid != toNode || got.IsDeadEnd != ack.IsDeadEnd {
			t.Errorf("decoded = %+v, want %+v", got, ack)
		}
		if got.CorrelationGuid() != relayGuid {
			t.Errorf("CorrelationGuid() = %v, want %v", got.CorrelationGuid(), relayGuid)
		}
	}
}

func TestAcknowledgementArguments(t *testing.T) {
	if _, err := NewQueryAcknowledgement(EmptyGUID, nil, nil, true); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty query guid error = %v, want ErrInvalidArgument", err)
	}
	if _, err := NewRelayFoundAcknowledgement(NewGUID(), EmptyGUID); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty destination error = %v, want ErrInvalidArgument", err)
	}
}

func TestDecodeAcknowledgementWrongTag(t *testing.T) {
	_, err := DecodeBroadcastAcknowledgement(NewMessage(TagMessageRelay))
	var typeErr *TypeIdentifierError
	if !errors.As(err, &typeErr) {
		t.Errorf("DecodeBroadcastAcknowledgement() error = %v, want *TypeIdentifierError", err)
	}
}

func TestDecodeAcknowledgementTrailingData(t *testing.T) {
	ack, _ := NewRelayFoundAcknowledgement(NewGUID(), NewGUID())
	msg := ack.Encode()
	msg.AppendBool(true)

	if _, err := DecodeBroadcastAcknowledgement(msg); !errors.Is(err, ErrExtraData) {
		t.Errorf("DecodeBroadcastAcknowledgement() error = %v, want ErrExtraData", err)
	}
}
