package protocol

import "fmt"

// EnvelopeVersion is the current envelope schema version
const EnvelopeVersion int32 = 1

// Algorithm identifies how an envelope payload is protected
type Algorithm int32

const (
	AlgRSAPKCS1v15SHA256 Algorithm = 1 // RSA PKCS#1 v1.5 signature over SHA-256
	AlgRSAOAEPAES256GCM  Algorithm = 2 // AES-256-GCM payload, key wrapped with RSA-OAEP-SHA256
)

func (a Algorithm) String() string {
	switch a {
	case AlgRSAPKCS1v15SHA256:
		return "rsa-pkcs1v15-sha256"
	case AlgRSAOAEPAES256GCM:
		return "rsa-oaep-aes256gcm"
	default:
		return fmt.Sprintf("Algorithm(%d)", int32(a))
	}
}

// SignatureEnvelope holds a signed payload
type SignatureEnvelope struct {
	Version   int32
	Algorithm Algorithm
	KeyID     []byte
	Payload   []byte
	Signature []byte
}

// EncryptionEnvelope holds an encrypted payload and its wrapped content key
type EncryptionEnvelope struct {
	Version    int32
	Algorithm  Algorithm
	KeyID      []byte
	WrappedKey []byte
	Ciphertext []byte
}

// AppendTo writes the envelope fields without a header
func (e *SignatureEnvelope) AppendTo(msg *Message) {
	msg.AppendInt32(e.Version)
	msg.AppendInt32(int32(e.Algorithm))
	msg.AppendBytes(e.KeyID)
	msg.AppendBytes(e.Payload)
	msg.AppendBytes(e.Signature)
}

// ExtractFrom reads fields written by AppendTo
func (e *SignatureEnvelope) ExtractFrom(msg *Message) error {
	id := msg.Identifier()
	if err := extractVersion(msg, &e.Version, &e.Algorithm, AlgRSAPKCS1v15SHA256); err != nil {
		return fieldError(id, "Envelope", err)
	}
	var err error
	if e.KeyID, err = msg.ExtractBytes(); err != nil {
		return fieldError(id, "KeyID", err)
	}
	if e.Payload, err = msg.ExtractBytes(); err != nil {
		return fieldError(id, "Payload", err)
	}
	if e.Signature, err = msg.ExtractBytes(); err != nil {
		return fieldError(id, "Signature", err)
	}
	if e.Payload == nil || e.Signature == nil {
		return fieldError(id, "Payload", fmt.Errorf("%w: missing payload or signature", ErrMalformed))
	}
	return nil
}

// AppendTo writes the envelope fields without a header
func (e *EncryptionEnvelope) AppendTo(msg *Message) {
	msg.AppendInt32(e.Version)
	msg.AppendInt32(int32(e.Algorithm))
	msg.AppendBytes(e.KeyID)
	msg.AppendBytes(e.WrappedKey)
	msg.AppendBytes(e.Ciphertext)
}

// ExtractFrom reads fields written by AppendTo
func (e *EncryptionEnvelope) ExtractFrom(msg *Message) error {
	id := msg.Identifier()
	if err := extractVersion(msg, &e.Version, &e.Algorithm, AlgRSAOAEPAES256GCM); err != nil {
		return fieldError(id, "Envelope", err)
	}
	var err error
	if e.KeyID, err = msg.ExtractBytes(); err != nil {
		return fieldError(id, "KeyID", err)
	}
	if e.WrappedKey, err = msg.ExtractBytes(); err != nil {
		return fieldError(id, "WrappedKey", err)
	}
	if e.Ciphertext, err = msg.ExtractBytes(); err != nil {
		return fieldError(id, "Ciphertext", err)
	}
	if e.WrappedKey == nil || e.Ciphertext == nil {
		return fieldError(id, "Ciphertext", fmt.Errorf("%w: missing key or ciphertext", ErrMalformed))
	}
	return nil
}

func extractVersion(msg *Message, version *int32, alg *Algorithm, want Algorithm) error {
	v, err := msg.ExtractInt32()
	if err != nil {
		return err
	}
	if v != EnvelopeVersion {
		return fmt.Errorf("%w: envelope version %d", ErrInvalidVersion, v)
	}
	a, err := msg.ExtractInt32()
	if err != nil {
		return err
	}
	if Algorithm(a) != want {
		return fmt.Errorf("%w: unsupported algorithm %s", ErrMalformed, Algorithm(a))
	}
	*version = v
	*alg = Algorithm(a)
	return nil
}
