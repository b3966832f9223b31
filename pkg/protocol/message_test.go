package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestMessagePrimitives(t *testing.T) {
	guid := NewGUID()
	inner := NewMessage(TagStatusRequest)

	msg := NewMessage(TagMessageRelay)
	msg.AppendBool(true)
	msg.AppendBool(false)
	msg.AppendInt32(-42)
	msg.AppendGUID(guid)
	msg.AppendBytes([]byte{1, 2, 3})
	msg.AppendBytes(nil)
	msg.AppendString("héllo")
	msg.AppendMessage(inner)

	parsed, err := ParseMessage(msg.Bytes())
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Identifier() != TagMessageRelay {
		t.Errorf("Identifier() = %q, want %q", parsed.Identifier(), TagMessageRelay)
	}

	if v, err := parsed.ExtractBool(); err != nil || !v {
		t.Errorf("ExtractBool() = %v, %v, want true", v, err)
	}
	if v, err := parsed.ExtractBool(); err != nil || v {
		t.Errorf("ExtractBool() = %v, %v, want false", v, err)
	}
	if v, err := parsed.ExtractInt32(); err != nil || v != -42 {
		t.Errorf("ExtractInt32() = %v, %v, want -42", v, err)
	}
	if v, err := parsed.ExtractGUID(); err != nil || v != guid {
		t.Errorf("ExtractGUID() = %v, %v, want %v", v, err, guid)
	}
	if v, err := parsed.ExtractBytes(); err != nil || !bytes.Equal(v, []byte{1, 2, 3}) {
		t.Errorf("ExtractBytes() = %v, %v", v, err)
	}
	if v, err := parsed.ExtractBytes(); err != nil || v != nil {
		t.Errorf("ExtractBytes() = %v, %v, want nil", v, err)
	}
	if v, err := parsed.ExtractString(); err != nil || v != "héllo" {
		t.Errorf("ExtractString() = %q, %v", v, err)
	}
	nested, err := parsed.ExtractMessage()
	if err != nil {
		t.Fatalf("ExtractMessage() error = %v", err)
	}
	if nested.Identifier() != TagStatusRequest || nested.Remaining() != 0 {
		t.Errorf("ExtractMessage() = %q with %d bytes", nested.Identifier(), nested.Remaining())
	}
	if err := parsed.AssertAtEnd(); err != nil {
		t.Errorf("AssertAtEnd() error = %v", err)
	}
}

func TestMessageTruncation(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		extract func(m *Message) error
	}{
		{
			name: "bool",
			body: nil,
			extract: func(m *Message) error {
				_, err := m.ExtractBool()
				return err
			},
		},
		{
			name: "int32",
			body: []byte{0, 0, 1},
			extract: func(m *Message) error {
				_, err := m.ExtractInt32()
				return err
			},
		},
		{
			name: "guid",
			body: make([]byte, 15),
			extract: func(m *Message) error {
				_, err := m.ExtractGUID()
				return err
			},
		},
		{
			name: "bytes shorter than prefix",
			body: []byte{0, 0, 0, 5, 1, 2},
			extract: func(m *Message) error {
				_, err := m.ExtractBytes()
				return err
			},
		},
		{
			name: "string shorter than prefix",
			body: []byte{0, 0, 0, 3, 'a'},
			extract: func(m *Message) error {
				_, err := m.ExtractString()
				return err
			},
		},
		{
			name: "count larger than body",
			body: []byte{0, 0, 0, 9},
			extract: func(m *Message) error {
				_, err := m.ExtractCount()
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := append([]byte(TagMessageRelay), tt.body...)
			msg, err := ParseMessage(raw)
			if err != nil {
				t.Fatalf("ParseMessage() error = %v", err)
			}
			if err := tt.extract(msg); !errors.Is(err, ErrTruncated) {
				t.Errorf("extract error = %v, want ErrTruncated", err)
			}
		})
	}
}

func TestMessageMalformed(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		extract func(m *Message) error
	}{
		{
			name: "bool out of range",
			body: []byte{2},
			extract: func(m *Message) error {
				_, err := m.ExtractBool()
				return err
			},
		},
		{
			name: "negative bytes length",
			body: []byte{0xff, 0xff, 0xff, 0xfe},
			extract: func(m *Message) error {
				_, err := m.ExtractBytes()
				return err
			},
		},
		{
			name: "invalid utf-8",
			body: []byte{0, 0, 0, 2, 0xc3, 0x28},
			extract: func(m *Message) error {
				_, err := m.ExtractString()
				return err
			},
		},
		{
			name: "negative count",
			body: []byte{0xff, 0xff, 0xff, 0xff},
			extract: func(m *Message) error {
				_, err := m.ExtractCount()
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := append([]byte(TagMessageRelay), tt.body...)
			msg, err := ParseMessage(raw)
			if err != nil {
				t.Fatalf("ParseMessage() error = %v", err)
			}
			if err := tt.extract(msg); !errors.Is(err, ErrMalformed) {
				t.Errorf("extract error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestAppendStringInvalidUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single invalid byte", "\xff", "\uFFFD"},
		{"embedded invalid byte", "hub\xfe-1", "hub\uFFFD-1"},
		{"truncated sequence", "caf\xc3", "caf\uFFFD"},
		{"valid", "héllo", "héllo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewMessage(TagStatusResponse)
			msg.AppendString(tt.in)
			AppendNodeInfo(msg, NodeInfo{
				NodeId:  NewNodeId(NewGUID(), nil),
				Address: "mem://" + tt.in,
				Name:    tt.in,
			})

			parsed, err := ParseMessage(msg.Bytes())
			if err != nil {
				t.Fatalf("ParseMessage() error = %v", err)
			}
			got, err := parsed.ExtractString()
			if err != nil {
				t.Fatalf("ExtractString() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractString() = %q, want %q", got, tt.want)
			}
			info, err := ExtractNodeInfo(parsed)
			if err != nil {
				t.Fatalf("ExtractNodeInfo() error = %v", err)
			}
			if info.Name != tt.want || info.Address != "mem://"+tt.want {
				t.Errorf("ExtractNodeInfo() = %q@%q, want %q", info.Name, info.Address, tt.want)
			}
			if err := parsed.AssertAtEnd(); err != nil {
				t.Errorf("AssertAtEnd() error = %v", err)
			}
		})
	}
}

func TestAssertAtEnd(t *testing.T) {
	msg := NewMessage(TagStatusRequest)
	msg.AppendInt32(7)

	if err := msg.AssertAtEnd(); !errors.Is(err, ErrExtraData) {
		t.Errorf("AssertAtEnd() before reading = %v, want ErrExtraData", err)
	}
	if _, err := msg.ExtractInt32(); err != nil {
		t.Fatalf("ExtractInt32() error = %v", err)
	}
	if err := msg.AssertAtEnd(); err != nil {
		t.Errorf("AssertAtEnd() after reading = %v", err)
	}
}

func TestExpectIdentifier(t *testing.T) {
	msg := NewMessage(TagStatusRequest)

	err := msg.ExpectIdentifier(TagMessageRelay)
	var typeErr *TypeIdentifierError
	if !errors.As(err, &typeErr) {
		t.Fatalf("ExpectIdentifier() error = %v, want *TypeIdentifierError", err)
	}
	if typeErr.Expected != TagMessageRelay || typeErr.Actual != TagStatusRequest {
		t.Errorf("TypeIdentifierError = %+v", typeErr)
	}
	if err := msg.ExpectIdentifier(TagStatusRequest); err != nil {
		t.Errorf("ExpectIdentifier() matching tag error = %v", err)
	}
}

func TestParseMessageInvalid(t *testing.T) {
	if _, err := ParseMessage([]byte("RL")); !errors.Is(err, ErrTruncated) {
		t.Errorf("ParseMessage(short) error = %v, want ErrTruncated", err)
	}
	if _, err := ParseMessage([]byte{'R', 'L', 0x01, 'y'}); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("ParseMessage(non-printable) error = %v, want ErrInvalidIdentifier", err)
	}
}

func TestNewMessagePanicsOnBadIdentifier(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewMessage() with 3-character identifier did not panic")
		}
	}()
	NewMessage("abc")
}

func TestCloneIsIndependent(t *testing.T) {
	msg := NewMessage(TagNodeLookup)
	msg.AppendInt32(1)
	clone := msg.Clone()
	msg.AppendInt32(2)

	if clone.Len() != IdentifierSize+4 {
		t.Errorf("clone Len() = %d, want %d", clone.Len(), IdentifierSize+4)
	}
}
