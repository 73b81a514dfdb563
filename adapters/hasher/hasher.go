// Package hasher hashes and verifies admin bearer tokens.
package hasher

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/bulwark/ports"
)

// Bcrypt uses bcrypt for hashing.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher with the given cost. Out of range
// costs fall back to bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Cost returns the effective bcrypt cost.
func (h *Bcrypt) Cost() int { return h.cost }

// Hash generates a bcrypt hash of token.
func (h *Bcrypt) Hash(token string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(token), h.cost)
}

// Verify reports whether token matches hash. An empty hash never matches.
func (h *Bcrypt) Verify(hash []byte, token string) bool {
	if len(hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil
}

// Ensure interface compliance.
var _ ports.TokenHasher = (*Bcrypt)(nil)

// Plain compares tokens verbatim (NOT FOR PRODUCTION).
type Plain struct{}

// Hash returns the token as bytes.
func (Plain) Hash(token string) ([]byte, error) {
	return []byte(token), nil
}

// Verify does simple equality check.
func (Plain) Verify(hash []byte, token string) bool {
	return len(hash) > 0 && string(hash) == token
}

// Ensure interface compliance.
var _ ports.TokenHasher = Plain{}
