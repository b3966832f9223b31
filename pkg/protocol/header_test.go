package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderEncodeDecode(t *testing.T) {
	frameID := GenerateFrameID()

	tests := []struct {
		name   string
		header *Header
	}{
		{
			name: "relay frame",
			header: &Header{
				Magic:      ProtocolMagic,
				Version:    ProtocolVersion,
				Flags:      FlagRelayed,
				Identifier: [4]byte{'R', 'L', 'a', 'y'},
				Length:     1024,
				FrameID:    frameID,
			},
		},
		{
			name: "secured frame",
			header: &Header{
				Magic:      ProtocolMagic,
				Version:    ProtocolVersion,
				Flags:      FlagSecured,
				Identifier: [4]byte{'S', 'G', 'N', 'M'},
				Length:     4096,
				FrameID:    frameID,
			},
		},
		{
			name: "probe frame",
			header: &Header{
				Magic:      ProtocolMagic,
				Version:    ProtocolVersion,
				Identifier: [4]byte{'S', 't', 'a', '?'},
				Length:     IdentifierSize,
				FrameID:    frameID,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.header.Encode()
			if len(encoded) != HeaderSize {
				t.Fatalf("Encode() length = %d, want %d", len(encoded), HeaderSize)
			}

			decoded := &Header{}
			if err := decoded.Decode(encoded); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if *decoded != *tt.header {
				t.Errorf("Decode() = %+v, want %+v", decoded, tt.header)
			}
			if err := decoded.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestHeaderValidate(t *testing.T) {
	tests := []struct {
		name    string
		header  Header
		wantErr error
	}{
		{"bad magic", Header{Magic: 0x5A54414C, Version: ProtocolVersion, Length: 8}, ErrInvalidMagic},
		{"bad version", Header{Magic: ProtocolMagic, Version: 0x0200, Length: 8}, ErrInvalidVersion},
		{"too short", Header{Magic: ProtocolMagic, Version: ProtocolVersion, Length: 2}, ErrInvalidHeader},
		{"too large", Header{Magic: ProtocolMagic, Version: ProtocolVersion, Length: MaxFrameSize + 1}, ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.header.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeShortHeader(t *testing.T) {
	h := &Header{}
	if err := h.Decode(make([]byte, HeaderSize-1)); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Decode() error = %v, want ErrInvalidHeader", err)
	}
}

func TestHeaderFlags(t *testing.T) {
	relay, _ := NewMessageRelay(NewMessage(TagStatusRequest), NewGUID())

	tests := []struct {
		name string
		msg  *Message
		flag uint16
		want bool
	}{
		{"relay sets relayed", relay.Encode(), FlagRelayed, true},
		{"signed sets secured", NewMessage(TagSignedMessage), FlagSecured, true},
		{"probe sets nothing", NewMessage(TagStatusRequest), FlagRelayed | FlagSecured, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewHeader(tt.msg).HasFlag(tt.flag); got != tt.want {
				t.Errorf("HasFlag(0x%04x) = %v, want %v", tt.flag, got, tt.want)
			}
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	lookup := (&NodeLookup{Target: NewGUID()}).Encode()
	status := StatusMessageRequest{}.Encode()

	var buf bytes.Buffer
	if err := WriteFrame(&buf, lookup); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if err := WriteFrame(&buf, status); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	for _, want := range []*Message{lookup, status} {
		got, header, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		if !bytes.Equal(got.Bytes(), want.Bytes()) {
			t.Errorf("ReadFrame() = %x, want %x", got.Bytes(), want.Bytes())
		}
		if int(header.Length) != want.Len() {
			t.Errorf("header Length = %d, want %d", header.Length, want.Len())
		}
	}
}

func TestReadFrameIdentifierMismatch(t *testing.T) {
	msg := StatusMessageRequest{}.Encode()
	header := NewHeader(msg)
	copy(header.Identifier[:], "RLay")

	var buf bytes.Buffer
	buf.Write(header.Encode())
	buf.Write(msg.Bytes())

	if _, _, err := ReadFrame(&buf); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("ReadFrame() error = %v, want ErrInvalidHeader", err)
	}
}

func TestGenerateFrameIDUnique(t *testing.T) {
	seen := make(map[FrameID]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateFrameID()
		if seen[id] {
			t.Fatalf("GenerateFrameID() produced duplicate after %d ids", i)
		}
		seen[id] = true
	}
}
