package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters for API key hashes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// keyHash is a salted Argon2id digest of one API key.
type keyHash struct {
	salt []byte
	sum  []byte
}

func newKeyHash(apiKey string) (keyHash, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return keyHash{}, fmt.Errorf("auth: generate salt: %w", err)
	}
	return keyHash{salt: salt, sum: derive(apiKey, salt)}, nil
}

// matches compares in constant time.
func (h keyHash) matches(apiKey string) bool {
	return subtle.ConstantTimeCompare(h.sum, derive(apiKey, h.salt)) == 1
}

func derive(apiKey string, salt []byte) []byte {
	return argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// dummyVerify burns one derivation so a rejected request costs the same
// whether or not any key was checked.
func dummyVerify() {
	derive("dummy", make([]byte, saltLen))
}
