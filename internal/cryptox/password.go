// Package cryptox implements password hashing and verification for the
// platform's credential store.
//
// Secrets are produced with PBKDF2-HMAC-SHA256 over a per-password random
// salt and stored as a single base64 string of salt‖derivedKey. The
// plaintext password is never persisted anywhere.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dkravets/kinolog/internal/common"
)

const (
	saltSize = 32
	keySize  = 32

	// PBKDF2 iteration count. High enough to cost tens of milliseconds
	// per derivation on commodity hardware.
	iterations = 100_000
)

// HashPassword derives a storable secret from a plaintext password. The
// result is base64(salt‖key) with a fresh random salt, so hashing the same
// password twice yields two different strings.
//
// An empty password is a caller error and returns common.ErrValidation.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: empty password", common.ErrValidation)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)

	encoded := make([]byte, 0, saltSize+keySize)
	encoded = append(encoded, salt...)
	encoded = append(encoded, key...)

	return base64.StdEncoding.EncodeToString(encoded), nil
}

// VerifyPassword reports whether password matches an encoded secret produced
// by HashPassword. It never fails: empty, undecodable, or wrong-length input
// yields false without attempting derivation. The stored key is compared in
// constant time.
func VerifyPassword(password, encoded string) bool {
	if password == "" || encoded == "" {
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	if len(raw) != saltSize+keySize {
		return false
	}

	salt, stored := raw[:saltSize], raw[saltSize:]
	key := pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)

	return subtle.ConstantTimeCompare(key, stored) == 1
}
