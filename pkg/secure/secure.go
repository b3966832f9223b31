// Package secure signs, verifies, encrypts and decrypts protocol messages.
//
// Signed messages (SGNM) carry a signature envelope followed by the signer's
// NodeId. Encrypted messages (ENCR) carry an encryption envelope whose
// content key is wrapped for the recipient. Both envelopes embed the
// complete inner message, identifier included.
package secure

import (
	"bytes"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ZentaChain/hubstack/pkg/crypto"
	"github.com/ZentaChain/hubstack/pkg/protocol"
)

var (
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrNoRecipientKey   = errors.New("recipient has no public key")
	ErrKeyMismatch      = errors.New("signer key does not match private key")
)

// SignatureError reports a failed verification and the node it was checked
// against.
type SignatureError struct {
	Signer protocol.NodeId
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%v for node %s: %s", ErrSignatureInvalid, e.Signer, e.Reason)
}

func (e *SignatureError) Unwrap() error {
	return ErrSignatureInvalid
}

// SignMessage signs raw with priv and attaches the signer identity. When
// signer carries no key, the public half of priv is attached.
func SignMessage(raw *protocol.Message, signer protocol.NodeId, priv *rsa.PrivateKey) (*protocol.Message, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil message", protocol.ErrInvalidArgument)
	}
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", protocol.ErrInvalidArgument)
	}

	der, err := crypto.ExportPublicKeyDER(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if key := signer.PublicKey(); key == nil {
		signer = protocol.NewNodeId(signer.Identity, der)
	} else if !bytes.Equal(key, der) {
		return nil, ErrKeyMismatch
	}

	payload := raw.Bytes()
	signature, err := crypto.SignData(payload, priv)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	env := &protocol.SignatureEnvelope{
		Version:   protocol.EnvelopeVersion,
		Algorithm: protocol.AlgRSAPKCS1v15SHA256,
		KeyID:     crypto.KeyID(der),
		Payload:   payload,
		Signature: signature,
	}

	msg := protocol.NewMessage(protocol.TagSignedMessage)
	env.AppendTo(msg)
	protocol.AppendNodeId(msg, signer)
	return msg, nil
}

// VerifySignedMessage checks a signed message and returns the inner message.
// The trailing signer record is optional; when absent the claimed sender's
// key is used.
func VerifySignedMessage(signed *protocol.Message, claimedSender protocol.NodeId) (*protocol.Message, error) {
	if err := signed.ExpectIdentifier(protocol.TagSignedMessage); err != nil {
		return nil, err
	}
	signed.Rewind()

	var env protocol.SignatureEnvelope
	if err := env.ExtractFrom(signed); err != nil {
		return nil, err
	}

	signer := claimedSender
	if signed.Remaining() > 0 {
		recorded, err := protocol.ExtractNodeId(signed)
		if err != nil {
			return nil, fmt.Errorf("decode signer: %w", err)
		}
		if err := signed.AssertAtEnd(); err != nil {
			return nil, err
		}
		if !claimedSender.IsEmpty() && recorded.Identity != claimedSender.Identity {
			return nil, &SignatureError{Signer: recorded, Reason: "signer is not the claimed sender " + claimedSender.String()}
		}
		signer = recorded
	}

	key := signer.PublicKey()
	if key == nil {
		key = claimedSender.PublicKey()
	}
	if key == nil {
		return nil, &SignatureError{Signer: signer, Reason: "no public key"}
	}
	if !crypto.MatchKeyID(env.KeyID, key) {
		return nil, &SignatureError{Signer: signer, Reason: "key id mismatch"}
	}

	pub, err := crypto.ImportPublicKeyDER(key)
	if err != nil {
		return nil, &SignatureError{Signer: signer, Reason: err.Error()}
	}
	if err := crypto.VerifySignature(env.Payload, env.Signature, pub); err != nil {
		return nil, &SignatureError{Signer: signer, Reason: err.Error()}
	}

	return protocol.ParseMessage(env.Payload)
}

// EncryptMessage encrypts raw for the recipient's public key
func EncryptMessage(raw *protocol.Message, recipient protocol.NodeId) (*protocol.Message, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil message", protocol.ErrInvalidArgument)
	}
	der := recipient.PublicKey()
	if der == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRecipientKey, recipient)
	}
	pub, err := crypto.ImportPublicKeyDER(der)
	if err != nil {
		return nil, err
	}

	wrappedKey, ciphertext, err := crypto.Seal(raw.Bytes(), pub)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}

	env := &protocol.EncryptionEnvelope{
		Version:    protocol.EnvelopeVersion,
		Algorithm:  protocol.AlgRSAOAEPAES256GCM,
		KeyID:      crypto.KeyID(der),
		WrappedKey: wrappedKey,
		Ciphertext: ciphertext,
	}

	msg := protocol.NewMessage(protocol.TagEncryptedMessage)
	env.AppendTo(msg)
	return msg, nil
}

// DecryptMessage decrypts an ENCR message. Failures from the cipher layer are
// returned wrapped, never reinterpreted.
func DecryptMessage(enc *protocol.Message, priv *rsa.PrivateKey) (*protocol.Message, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", protocol.ErrInvalidArgument)
	}
	if err := enc.ExpectIdentifier(protocol.TagEncryptedMessage); err != nil {
		return nil, err
	}
	enc.Rewind()

	var env protocol.EncryptionEnvelope
	if err := env.ExtractFrom(enc); err != nil {
		return nil, err
	}
	if err := enc.AssertAtEnd(); err != nil {
		return nil, err
	}

	der, err := crypto.ExportPublicKeyDER(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	// The key id is checked before unwrapping, so this failure names both
	// keys instead of coming from the cipher layer.
	if !crypto.MatchKeyID(env.KeyID, der) {
		return nil, fmt.Errorf("decrypt message: %w: envelope key %s, private key %s",
			crypto.ErrDecryptionFailed, hex.EncodeToString(env.KeyID), hex.EncodeToString(crypto.KeyID(der)))
	}

	plaintext, err := crypto.Open(env.WrappedKey, env.Ciphertext, priv)
	if err != nil {
		return nil, fmt.Errorf("decrypt message: %w", err)
	}
	return protocol.ParseMessage(plaintext)
}
