package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
)

// AESKeySize is the content key size used by Seal
const AESKeySize = 32

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Seal encrypts plaintext under a fresh AES-256-GCM key and wraps that key
// for the recipient with RSA-OAEP.
func Seal(plaintext []byte, recipient *rsa.PublicKey) (wrappedKey, ciphertext []byte, err error) {
	if recipient == nil {
		return nil, nil, ErrInvalidKey
	}

	aesKey, err := GenerateAESKey()
	if err != nil {
		return nil, nil, err
	}

	ciphertext, err = AESEncrypt(plaintext, aesKey)
	if err != nil {
		return nil, nil, err
	}

	wrappedKey, err = RSAEncrypt(aesKey, recipient)
	if err != nil {
		return nil, nil, err
	}

	return wrappedKey, ciphertext, nil
}

// Open reverses Seal. Any failure to unwrap the key or authenticate the
// ciphertext is reported as ErrDecryptionFailed.
func Open(wrappedKey, ciphertext []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	aesKey, err := RSADecrypt(wrappedKey, privateKey)
	if err != nil {
		return nil, err
	}
	if len(aesKey) != AESKeySize {
		return nil, fmt.Errorf("%w: content key is %d bytes", ErrDecryptionFailed, len(aesKey))
	}

	plaintext, err := AESDecrypt(ciphertext, aesKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// AESEncrypt encrypts data with AES-256-GCM, prefixing the nonce
func AESEncrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// AESDecrypt decrypts data produced by AESEncrypt
func AESDecrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, sealed, nil)
}

// GenerateAESKey generates a random 256-bit key
func GenerateAESKey() ([]byte, error) {
	return GenerateNonce(AESKeySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
