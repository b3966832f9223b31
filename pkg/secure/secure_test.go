package secure

import (
	"bytes"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/hubstack/pkg/crypto"
	"github.com/ZentaChain/hubstack/pkg/protocol"
)

type testNode struct {
	id   protocol.NodeId
	priv *rsa.PrivateKey
}

var (
	nodesOnce sync.Once
	alice     testNode
	bob       testNode
)

func testNodes(t *testing.T) (testNode, testNode) {
	t.Helper()
	nodesOnce.Do(func() {
		alice = newTestNode()
		bob = newTestNode()
	})
	return alice, bob
}

func newTestNode() testNode {
	priv, err := crypto.GenerateRSAKey(2048)
	if err != nil {
		panic(err)
	}
	der, err := crypto.ExportPublicKeyDER(&priv.PublicKey)
	if err != nil {
		panic(err)
	}
	return testNode{id: protocol.NewNodeId(protocol.NewGUID(), der), priv: priv}
}

func sampleMessage() *protocol.Message {
	return (&protocol.XPathQuery{XPath: `//node[@name="hub-7"]`}).Encode()
}

func TestSignAndVerify(t *testing.T) {
	a, _ := testNodes(t)
	raw := sampleMessage()

	signed, err := SignMessage(raw, a.id, a.priv)
	require.NoError(t, err)
	assert.Equal(t, protocol.TagSignedMessage, signed.Identifier())

	inner, err := VerifySignedMessage(signed, a.id)
	require.NoError(t, err)
	assert.Equal(t, raw.Bytes(), inner.Bytes())
}

func TestSignFillsMissingKey(t *testing.T) {
	a, _ := testNodes(t)

	keyless := protocol.NewNodeId(a.id.Identity, nil)
	signed, err := SignMessage(sampleMessage(), keyless, a.priv)
	require.NoError(t, err)

	// Verification succeeds even though the claimed sender has no key,
	// because the signer record carries it.
	_, err = VerifySignedMessage(signed, keyless)
	assert.NoError(t, err)
}

func TestSignRejectsForeignKey(t *testing.T) {
	a, b := testNodes(t)

	_, err := SignMessage(sampleMessage(), b.id, a.priv)
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestVerifyDetectsTampering(t *testing.T) {
	a, _ := testNodes(t)
	raw := sampleMessage()

	signed, err := SignMessage(raw, a.id, a.priv)
	require.NoError(t, err)

	body := append([]byte(nil), signed.Body()...)
	idx := bytes.Index(body, raw.Bytes())
	require.GreaterOrEqual(t, idx, 0, "payload not found in envelope")
	body[idx+raw.Len()/2] ^= 0x01

	tampered, err := protocol.ParseMessage(append([]byte(protocol.TagSignedMessage), body...))
	require.NoError(t, err)

	_, err = VerifySignedMessage(tampered, a.id)
	var sigErr *SignatureError
	require.True(t, errors.As(err, &sigErr), "got %v", err)
	assert.True(t, sigErr.Signer.Equal(a.id))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Contains(t, err.Error(), a.id.String())
}

func TestVerifyToleratesMissingSignerRecord(t *testing.T) {
	a, _ := testNodes(t)

	signed, err := SignMessage(sampleMessage(), a.id, a.priv)
	require.NoError(t, err)

	// signer record: 16 byte guid, 4 byte key length, key
	recordLen := 16 + 4 + len(a.id.PublicKey())
	raw := signed.Bytes()
	stripped, err := protocol.ParseMessage(raw[:len(raw)-recordLen])
	require.NoError(t, err)

	_, err = VerifySignedMessage(stripped, a.id)
	assert.NoError(t, err)

	_, err = VerifySignedMessage(stripped, protocol.NewNodeId(a.id.Identity, nil))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyRejectsImpersonation(t *testing.T) {
	a, b := testNodes(t)

	signed, err := SignMessage(sampleMessage(), a.id, a.priv)
	require.NoError(t, err)

	_, err = VerifySignedMessage(signed, b.id)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyWrongIdentifier(t *testing.T) {
	a, _ := testNodes(t)

	_, err := VerifySignedMessage(sampleMessage(), a.id)
	var typeErr *protocol.TypeIdentifierError
	assert.True(t, errors.As(err, &typeErr))
}

func TestEncryptDecrypt(t *testing.T) {
	_, b := testNodes(t)
	raw := sampleMessage()

	enc, err := EncryptMessage(raw, b.id)
	require.NoError(t, err)
	assert.Equal(t, protocol.TagEncryptedMessage, enc.Identifier())
	assert.False(t, bytes.Contains(enc.Body(), raw.Bytes()), "plaintext visible in envelope")

	dec, err := DecryptMessage(enc, b.priv)
	require.NoError(t, err)
	assert.Equal(t, raw.Bytes(), dec.Bytes())
}

func TestDecryptWithWrongKey(t *testing.T) {
	a, b := testNodes(t)

	enc, err := EncryptMessage(sampleMessage(), b.id)
	require.NoError(t, err)

	_, err = DecryptMessage(enc, a.priv)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), hex.EncodeToString(crypto.KeyID(b.id.PublicKey())))
	assert.Contains(t, err.Error(), hex.EncodeToString(crypto.KeyID(a.id.PublicKey())))
}

func TestDecryptCorruptCiphertext(t *testing.T) {
	_, b := testNodes(t)

	enc, err := EncryptMessage(sampleMessage(), b.id)
	require.NoError(t, err)

	raw := enc.Bytes()
	raw[len(raw)-1] ^= 0x01
	corrupt, err := protocol.ParseMessage(raw)
	require.NoError(t, err)

	_, err = DecryptMessage(corrupt, b.priv)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestEncryptWithoutRecipientKey(t *testing.T) {
	_, err := EncryptMessage(sampleMessage(), protocol.NewNodeId(protocol.NewGUID(), nil))
	assert.ErrorIs(t, err, ErrNoRecipientKey)

	_, err = EncryptMessage(nil, protocol.NewNodeId(protocol.NewGUID(), nil))
	assert.ErrorIs(t, err, protocol.ErrInvalidArgument)
}
