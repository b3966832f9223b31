package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Protocol constants
const (
	// Magic number for frames ('HUBS')
	ProtocolMagic = 0x48554253

	// Protocol version
	ProtocolVersion = 0x0100 // v1.0

	// Header size
	HeaderSize = 32

	// IdentifierSize is the length of a message type identifier
	IdentifierSize = 4

	// MaxFrameSize bounds a single framed message
	MaxFrameSize = 16 << 20
)

// Message identifiers
const (
	// Connection management
	TagConnectionRequest  Identifier = "HiHo"
	TagConnectionResponse Identifier = "HiGo"
	TagStackConnector     Identifier = "Conn"
	TagStatusRequest      Identifier = "Sta?"
	TagStatusResponse     Identifier = "Sta!"

	// Routing
	TagMessageRelay        Identifier = "RLay"
	TagRelayAcknowledgment Identifier = "RAck"
	TagBroadcastQuery      Identifier = "BQry"
	TagQueryAcknowledgment Identifier = "QAck"
	TagQueryResult         Identifier = "QRes"
	TagNodeLookup          Identifier = "NLkp"
	TagXPathQuery          Identifier = "XPQM"

	// Security
	TagSignedMessage    Identifier = "SGNM"
	TagEncryptedMessage Identifier = "ENCR"
)

// Frame flags
const (
	FlagRelayed uint16 = 0x0001 // Frame carries a relayed message
	FlagSecured uint16 = 0x0002 // Frame carries a signed or encrypted envelope
)

// GUID identifies nodes, relays and queries
type GUID = uuid.UUID

// EmptyGUID is the all-zero GUID
var EmptyGUID = uuid.Nil

// FrameID represents a unique frame identifier (16 bytes)
type FrameID [16]byte

// NewGUID returns a random GUID
func NewGUID() GUID {
	return uuid.New()
}

// ParseGUID parses the textual form of a GUID
func ParseGUID(s string) (GUID, error) {
	return uuid.Parse(s)
}

// GenerateFrameID generates a random frame ID
func GenerateFrameID() FrameID {
	var id FrameID
	// Timestamp first for ordering
	timestamp := time.Now().UnixNano()
	binary.BigEndian.PutUint64(id[0:8], uint64(timestamp))

	if _, err := rand.Read(id[8:]); err != nil {
		binary.BigEndian.PutUint64(id[8:], uint64(timestamp^0xDEADBEEF))
	}

	return id
}
