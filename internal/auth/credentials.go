package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashCredential returns a bcrypt hash of the secret. Only the hash is
// ever written to storage; the plaintext stays confined to the
// handshake.
func HashCredential(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

// CompareCredential reports whether secret matches the stored hash.
func CompareCredential(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}
