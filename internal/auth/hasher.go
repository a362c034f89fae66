// Package auth provides password hashing and session tokens.
package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrHashing is returned when a password cannot be hashed.
	ErrHashing = errors.New("password hashing failed")

	// ErrConfig is returned when an auth primitive is misconfigured.
	ErrConfig = errors.New("auth misconfigured")
)

// Hasher hashes and verifies passwords with bcrypt. The salt and cost are
// embedded in every hash it produces.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using the given bcrypt work factor.
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("AUTH_INVALID_COST").
			With("cost", cost).
			Wrapf(ErrHashing, "bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash derives a salted bcrypt hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").
			With("cost", h.cost).
			Wrap(fmt.Errorf("%w: %w", ErrHashing, err))
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches hash. A malformed hash simply
// does not match.
func (h *Hasher) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
