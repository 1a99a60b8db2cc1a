package auth

import (
	"errors"
	"fmt"

	"github.com/ashita-ai/mission-control/internal/model"
)

// ErrInvalidCredentials is returned when an API key matches no configured key.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

type roleKey struct {
	role model.Role
	hash keyHash
}

// KeyRing holds the Argon2id hashes of the configured API keys. The
// plaintext keys are dropped once hashed.
type KeyRing struct {
	keys []roleKey
}

// NewKeyRing hashes the given keys by role. Empty keys are skipped.
func NewKeyRing(keys map[model.Role]string) (*KeyRing, error) {
	kr := &KeyRing{}
	// Highest privilege first so a key reused across roles resolves upward.
	for _, role := range []model.Role{model.RoleOperator, model.RoleAgent, model.RoleReader} {
		k := keys[role]
		if k == "" {
			continue
		}
		h, err := newKeyHash(k)
		if err != nil {
			return nil, fmt.Errorf("auth: hash %s key: %w", role, err)
		}
		kr.keys = append(kr.keys, roleKey{role: role, hash: h})
	}
	return kr, nil
}

// Len reports how many keys are configured.
func (kr *KeyRing) Len() int { return len(kr.keys) }

// Authenticate returns the role of the key that matches apiKey.
func (kr *KeyRing) Authenticate(apiKey string) (model.Role, error) {
	if apiKey == "" || len(kr.keys) == 0 {
		dummyVerify()
		return "", ErrInvalidCredentials
	}
	for _, k := range kr.keys {
		if k.hash.matches(apiKey) {
			return k.role, nil
		}
	}
	return "", ErrInvalidCredentials
}
