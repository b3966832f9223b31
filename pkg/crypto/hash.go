package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// Hash generates a BLAKE2b-256 hash
func Hash(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// KeyID identifies a public key by the BLAKE2b-256 hash of its DER encoding
func KeyID(publicKeyDER []byte) []byte {
	return Hash(publicKeyDER)
}

// MatchKeyID reports whether id was derived from publicKeyDER
func MatchKeyID(id, publicKeyDER []byte) bool {
	return subtle.ConstantTimeCompare(id, KeyID(publicKeyDER)) == 1
}

// GenerateNonce generates a random nonce
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
