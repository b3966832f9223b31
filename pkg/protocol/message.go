package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Identifier is the 4-character ASCII type tag at the start of every message.
type Identifier string

// Validate checks that the identifier is exactly four printable ASCII characters.
func (id Identifier) Validate() error {
	if len(id) != IdentifierSize {
		return fmt.Errorf("%w: %q has length %d", ErrInvalidIdentifier, string(id), len(id))
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] > 0x7e {
			return fmt.Errorf("%w: %q contains non-printable byte", ErrInvalidIdentifier, string(id))
		}
	}
	return nil
}

// Message is a tagged binary message with a read cursor over its body.
// A Message is not safe for concurrent use.
type Message struct {
	id   Identifier
	body []byte
	pos  int
}

// NewMessage creates an empty message. It panics if id is not a valid
// identifier, which is a programming error.
func NewMessage(id Identifier) *Message {
	if err := id.Validate(); err != nil {
		panic(err)
	}
	return &Message{id: id}
}

// ParseMessage splits raw bytes into identifier and body. The cursor starts
// at the beginning of the body.
func ParseMessage(raw []byte) (*Message, error) {
	if len(raw) < IdentifierSize {
		return nil, fmt.Errorf("%w: %d bytes cannot hold an identifier", ErrTruncated, len(raw))
	}
	id := Identifier(raw[:IdentifierSize])
	if err := id.Validate(); err != nil {
		return nil, err
	}
	body := make([]byte, len(raw)-IdentifierSize)
	copy(body, raw[IdentifierSize:])
	return &Message{id: id, body: body}, nil
}

// Identifier returns the message type tag
func (m *Message) Identifier() Identifier {
	return m.id
}

// Body returns the encoded body without the identifier
func (m *Message) Body() []byte {
	return m.body
}

// Bytes returns identifier followed by body
func (m *Message) Bytes() []byte {
	buf := make([]byte, 0, IdentifierSize+len(m.body))
	buf = append(buf, string(m.id)...)
	return append(buf, m.body...)
}

// Len returns the encoded size of the message
func (m *Message) Len() int {
	return IdentifierSize + len(m.body)
}

// Remaining returns the number of unread body bytes
func (m *Message) Remaining() int {
	return len(m.body) - m.pos
}

// Rewind moves the read cursor back to the start of the body
func (m *Message) Rewind() {
	m.pos = 0
}

// Clone returns an independent copy with the cursor rewound
func (m *Message) Clone() *Message {
	body := make([]byte, len(m.body))
	copy(body, m.body)
	return &Message{id: m.id, body: body}
}

// ExpectIdentifier fails with a *TypeIdentifierError unless the message
// carries the given identifier.
func (m *Message) ExpectIdentifier(id Identifier) error {
	if m.id != id {
		return &TypeIdentifierError{Expected: id, Actual: m.id}
	}
	return nil
}

// AssertAtEnd fails if unread bytes remain after decoding.
func (m *Message) AssertAtEnd() error {
	if n := m.Remaining(); n > 0 {
		return fmt.Errorf("%w: %d bytes left in %s", ErrExtraData, n, m.id)
	}
	return nil
}

// ===== WRITER =====

// AppendBool appends a single byte boolean
func (m *Message) AppendBool(v bool) {
	if v {
		m.body = append(m.body, 1)
	} else {
		m.body = append(m.body, 0)
	}
}

// AppendInt32 appends a fixed width 32-bit integer
func (m *Message) AppendInt32(v int32) {
	m.body = binary.BigEndian.AppendUint32(m.body, uint32(v))
}

// AppendGUID appends 16 raw GUID bytes
func (m *Message) AppendGUID(g GUID) {
	m.body = append(m.body, g[:]...)
}

// AppendBytes appends a length-prefixed block. A nil slice is encoded with
// length -1 and decodes back to nil.
func (m *Message) AppendBytes(b []byte) {
	if b == nil {
		m.AppendInt32(-1)
		return
	}
	m.AppendInt32(int32(len(b)))
	m.body = append(m.body, b...)
}

// AppendString appends a length-prefixed UTF-8 string. Invalid byte
// sequences are replaced with U+FFFD so the result always decodes.
func (m *Message) AppendString(s string) {
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	m.AppendInt32(int32(len(s)))
	m.body = append(m.body, s...)
}

// AppendMessage embeds another message as a length-prefixed block holding
// its identifier and body.
func (m *Message) AppendMessage(inner *Message) {
	if inner == nil {
		m.AppendBytes(nil)
		return
	}
	m.AppendBytes(inner.Bytes())
}

// AppendCount appends a collection element count
func (m *Message) AppendCount(n int) {
	m.AppendInt32(int32(n))
}

// ===== READER =====

func (m *Message) read(n int) ([]byte, error) {
	if n > m.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, m.Remaining())
	}
	b := m.body[m.pos : m.pos+n]
	m.pos += n
	return b, nil
}

// ExtractBool reads a boolean; bytes other than 0 and 1 are malformed
func (m *Message) ExtractBool() (bool, error) {
	b, err := m.read(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: boolean byte 0x%02x", ErrMalformed, b[0])
	}
}

// ExtractInt32 reads a fixed width 32-bit integer
func (m *Message) ExtractInt32() (int32, error) {
	b, err := m.read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// ExtractGUID reads 16 raw GUID bytes
func (m *Message) ExtractGUID() (GUID, error) {
	var g GUID
	b, err := m.read(len(g))
	if err != nil {
		return g, err
	}
	copy(g[:], b)
	return g, nil
}

// ExtractBytes reads a length-prefixed block
func (m *Message) ExtractBytes() ([]byte, error) {
	n, err := m.ExtractInt32()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrMalformed, n)
	}
	b, err := m.read(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ExtractString reads a length-prefixed UTF-8 string
func (m *Message) ExtractString() (string, error) {
	n, err := m.ExtractInt32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("%w: negative string length %d", ErrMalformed, n)
	}
	b, err := m.read(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: invalid UTF-8 string", ErrMalformed)
	}
	return string(b), nil
}

// ExtractMessage reads an embedded message. An encoded nil yields (nil, nil).
func (m *Message) ExtractMessage() (*Message, error) {
	raw, err := m.ExtractBytes()
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return ParseMessage(raw)
}

// ExtractCount reads a collection count. Every element occupies at least one
// byte, so counts larger than the remaining body are rejected up front.
func (m *Message) ExtractCount() (int, error) {
	n, err := m.ExtractInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative count %d", ErrMalformed, n)
	}
	if int(n) > m.Remaining() {
		return 0, fmt.Errorf("%w: count %d exceeds %d remaining bytes", ErrTruncated, n, m.Remaining())
	}
	return int(n), nil
}
