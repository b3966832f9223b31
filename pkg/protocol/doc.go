// Package protocol implements the hubstack wire protocol.
//
// The protocol package defines the tagged binary messages exchanged between
// overlay nodes and hubs, the identity types they carry, and the transport
// frame header that wraps them on stream transports.
//
// # Message Format
//
// Every message starts with a 4-character ASCII type identifier followed by
// its body. Bodies are written and read with a cursor:
//
//	msg := protocol.NewMessage(protocol.TagMessageRelay)
//	msg.AppendGUID(relayGuid)
//	msg.AppendMessage(inner)
//
//	guid, err := msg.ExtractGUID()
//
// Integers are fixed width big-endian, GUIDs are 16 raw bytes, byte blocks and
// strings are prefixed by a 32-bit length, nested messages are length-prefixed
// copies of their own tag and body, and collections are a 32-bit count followed
// by the element encodings.
//
// # Message Types
//
// Connection management:
//   - HiHo / HiGo: stack connection request and response
//   - Conn: ask the receiver to open a connection toward a node
//   - Sta? / Sta!: status probe and reply
//
// Routing:
//   - RLay / RAck: relayed message and its acknowledgement
//   - BQry / QAck / QRes: progressive broadcast query, acknowledgement, result
//   - NLkp / XPQM: node lookup and XPath queries carried inside BQry
//
// Security:
//   - SGNM: signed envelope
//   - ENCR: encrypted envelope
//
// # Frame Header
//
// Stream transports prefix every message with a 32-byte header:
//
//	Offset | Size | Field
//	-------|------|-------------
//	0      | 4    | Magic (0x48554253 "HUBS")
//	4      | 2    | Version
//	6      | 2    | Flags
//	8      | 4    | Identifier
//	12     | 4    | Length
//	16     | 16   | Frame ID
//
// All multi-byte integers use big-endian byte order.
package protocol
