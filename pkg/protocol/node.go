package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// UserId carries the public key (PKIX DER) a node signs with
type UserId struct {
	PublicKey []byte
}

// NodeId identifies a node on the overlay
type NodeId struct {
	Identity GUID
	User     *UserId
}

// NodeInfo is a NodeId plus what is needed to reach it
type NodeInfo struct {
	NodeId
	Address string
	Name    string
}

// KnownHubList is an ordered list of hubs a node knows about
type KnownHubList []NodeInfo

// NewNodeId builds a NodeId; a nil key means the node has no user key
func NewNodeId(identity GUID, publicKey []byte) NodeId {
	id := NodeId{Identity: identity}
	if publicKey != nil {
		id.User = &UserId{PublicKey: publicKey}
	}
	return id
}

// PublicKey returns the DER public key or nil
func (n NodeId) PublicKey() []byte {
	if n.User == nil || len(n.User.PublicKey) == 0 {
		return nil
	}
	return n.User.PublicKey
}

// IsEmpty reports whether the identity is the empty GUID
func (n NodeId) IsEmpty() bool {
	return n.Identity == EmptyGUID
}

// Equal compares identity and key. Two absent keys are equal.
func (n NodeId) Equal(other NodeId) bool {
	if n.Identity != other.Identity {
		return false
	}
	return bytes.Equal(n.PublicKey(), other.PublicKey())
}

// HashKey returns a map key consistent with Equal
func (n NodeId) HashKey() string {
	key := n.PublicKey()
	if key == nil {
		return n.Identity.String()
	}
	sum := blake2b.Sum256(key)
	return n.Identity.String() + ":" + hex.EncodeToString(sum[:8])
}

func (n NodeId) String() string {
	return n.Identity.String()
}

func (n NodeInfo) String() string {
	if n.Name != "" {
		return fmt.Sprintf("%s(%s@%s)", n.Name, n.Identity, n.Address)
	}
	return fmt.Sprintf("%s@%s", n.Identity, n.Address)
}

// Contains reports whether a hub with this identity is listed
func (l KnownHubList) Contains(identity GUID) bool {
	return l.indexOf(identity) >= 0
}

func (l KnownHubList) indexOf(identity GUID) int {
	for i := range l {
		if l[i].Identity == identity {
			return i
		}
	}
	return -1
}

// Merge returns the list with other hubs added or updated, keeping the
// original order and appending new hubs at the end.
func (l KnownHubList) Merge(other []NodeInfo) KnownHubList {
	merged := make(KnownHubList, len(l), len(l)+len(other))
	copy(merged, l)
	for _, hub := range other {
		if hub.IsEmpty() {
			continue
		}
		if i := merged.indexOf(hub.Identity); i >= 0 {
			merged[i] = hub
			continue
		}
		merged = append(merged, hub)
	}
	return merged
}

// Without returns the list minus the given identities
func (l KnownHubList) Without(identities ...GUID) KnownHubList {
	out := make(KnownHubList, 0, len(l))
	for _, hub := range l {
		skip := false
		for _, id := range identities {
			if hub.Identity == id {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, hub)
		}
	}
	return out
}

// ===== FIELD CODECS =====

// AppendNodeId writes identity and optional public key without a header
func AppendNodeId(m *Message, id NodeId) {
	m.AppendGUID(id.Identity)
	m.AppendBytes(id.PublicKey())
}

// ExtractNodeId reads a NodeId written by AppendNodeId
func ExtractNodeId(m *Message) (NodeId, error) {
	identity, err := m.ExtractGUID()
	if err != nil {
		return NodeId{}, err
	}
	key, err := m.ExtractBytes()
	if err != nil {
		return NodeId{}, err
	}
	return NewNodeId(identity, key), nil
}

// AppendNodeInfo writes a NodeInfo without a header
func AppendNodeInfo(m *Message, info NodeInfo) {
	AppendNodeId(m, info.NodeId)
	m.AppendString(info.Address)
	m.AppendString(info.Name)
}

// ExtractNodeInfo reads a NodeInfo written by AppendNodeInfo
func ExtractNodeInfo(m *Message) (NodeInfo, error) {
	id, err := ExtractNodeId(m)
	if err != nil {
		return NodeInfo{}, err
	}
	address, err := m.ExtractString()
	if err != nil {
		return NodeInfo{}, err
	}
	name, err := m.ExtractString()
	if err != nil {
		return NodeInfo{}, err
	}
	return NodeInfo{NodeId: id, Address: address, Name: name}, nil
}

// AppendNodeInfoList writes a count followed by each NodeInfo
func AppendNodeInfoList(m *Message, list []NodeInfo) {
	m.AppendCount(len(list))
	for _, info := range list {
		AppendNodeInfo(m, info)
	}
}

// ExtractNodeInfoList reads a list written by AppendNodeInfoList
func ExtractNodeInfoList(m *Message) ([]NodeInfo, error) {
	n, err := m.ExtractCount()
	if err != nil {
		return nil, err
	}
	list := make([]NodeInfo, 0, n)
	for i := 0; i < n; i++ {
		info, err := ExtractNodeInfo(m)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		list = append(list, info)
	}
	return list, nil
}
