package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidMagic   = errors.New("invalid protocol magic")
	ErrInvalidVersion = errors.New("unsupported protocol version")
	ErrInvalidHeader  = errors.New("invalid header")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
)

// Header prefixes every message written to a stream transport
type Header struct {
	Magic      uint32  // Magic number (0x48554253)
	Version    uint16  // Protocol version
	Flags      uint16  // Feature flags
	Identifier [4]byte // Identifier of the framed message
	Length     uint32  // Message length including identifier
	FrameID    FrameID // Unique frame ID
}

// NewHeader builds the header for a message
func NewHeader(msg *Message) *Header {
	h := &Header{
		Magic:   ProtocolMagic,
		Version: ProtocolVersion,
		Length:  uint32(msg.Len()),
		FrameID: GenerateFrameID(),
	}
	copy(h.Identifier[:], string(msg.Identifier()))

	switch msg.Identifier() {
	case TagMessageRelay:
		h.SetFlag(FlagRelayed)
	case TagSignedMessage, TagEncryptedMessage:
		h.SetFlag(FlagSecured)
	}
	return h
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)

	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Flags)
	copy(buf[8:12], h.Identifier[:])
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	copy(buf[16:32], h.FrameID[:])

	return buf
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.Version = binary.BigEndian.Uint16(buf[4:6])
	h.Flags = binary.BigEndian.Uint16(buf[6:8])
	copy(h.Identifier[:], buf[8:12])
	h.Length = binary.BigEndian.Uint32(buf[12:16])
	copy(h.FrameID[:], buf[16:32])

	return nil
}

// Validate validates the header
func (h *Header) Validate() error {
	if h.Magic != ProtocolMagic {
		return ErrInvalidMagic
	}

	if h.Version != ProtocolVersion {
		return ErrInvalidVersion
	}

	if h.Length < IdentifierSize {
		return ErrInvalidHeader
	}

	if h.Length > MaxFrameSize {
		return ErrFrameTooLarge
	}

	return nil
}

// HasFlag checks if a flag is set
func (h *Header) HasFlag(flag uint16) bool {
	return (h.Flags & flag) != 0
}

// SetFlag sets a flag
func (h *Header) SetFlag(flag uint16) {
	h.Flags |= flag
}

// ReadHeader reads a header from an io.Reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	header := &Header{}
	if err := header.Decode(buf); err != nil {
		return nil, err
	}

	if err := header.Validate(); err != nil {
		return nil, err
	}

	return header, nil
}

// WriteFrame writes header and message in a single write
func WriteFrame(w io.Writer, msg *Message) error {
	if msg.Len() > MaxFrameSize {
		return ErrFrameTooLarge
	}
	frame := append(NewHeader(msg).Encode(), msg.Bytes()...)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one framed message
func ReadFrame(r io.Reader) (*Message, *Header, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}

	raw := make([]byte, header.Length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, err
	}

	msg, err := ParseMessage(raw)
	if err != nil {
		return nil, nil, err
	}

	if string(header.Identifier[:]) != string(msg.Identifier()) {
		return nil, nil, fmt.Errorf("%w: header identifier %q does not match message %q",
			ErrInvalidHeader, string(header.Identifier[:]), msg.Identifier())
	}

	return msg, header, nil
}
