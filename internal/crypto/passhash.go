// Package crypto implements server-side PIN hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/and161185/pinlock/internal/errs"
	"github.com/and161185/pinlock/internal/model"
)

// Secret format limits.
const (
	MinSecretLen = 4
	MaxSecretLen = 12
)

// SaltSize is the per-account salt length in bytes.
const SaltSize = model.SecretSaltMinBits / 8

// Params are Argon2id cost parameters.
type Params struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultParams are tuned for server-side hashing.
var DefaultParams = Params{
	Time:    3,
	Memory:  64 * 1024, // 64 MB
	Threads: 1,
	KeyLen:  32,
}

// Hasher derives and checks secret digests.
type Hasher struct {
	p Params
}

// NewHasher constructs a Hasher. Zero fields fall back to DefaultParams.
func NewHasher(p Params) *Hasher {
	if p.Time == 0 {
		p.Time = DefaultParams.Time
	}
	if p.Memory == 0 {
		p.Memory = DefaultParams.Memory
	}
	if p.Threads == 0 {
		p.Threads = DefaultParams.Threads
	}
	if p.KeyLen == 0 {
		p.KeyLen = DefaultParams.KeyLen
	}
	return &Hasher{p: p}
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewSalt returns a fresh per-account salt.
func NewSalt() ([]byte, error) {
	return RandBytes(SaltSize)
}

// ValidateSecret checks length and charset before any hashing takes place.
func ValidateSecret(secret string) error {
	if n := len(secret); n < MinSecretLen || n > MaxSecretLen {
		return fmt.Errorf("secret length must be %d..%d: %w", MinSecretLen, MaxSecretLen, errs.ErrInvalidFormat)
	}
	for i := 0; i < len(secret); i++ {
		c := secret[i]
		isDigit := c >= '0' && c <= '9'
		isAlpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !isDigit && !isAlpha {
			return fmt.Errorf("secret must be alphanumeric: %w", errs.ErrInvalidFormat)
		}
	}
	return nil
}

// Hash returns the Argon2id digest of secret using the provided salt.
func (h *Hasher) Hash(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, h.p.Time, h.p.Memory, h.p.Threads, h.p.KeyLen)
}

// Verify reports whether secret matches digest under salt, in constant time.
func (h *Hasher) Verify(secret string, salt, digest []byte) bool {
	if len(salt) == 0 || len(digest) != int(h.p.KeyLen) {
		return false
	}
	got := h.Hash(secret, salt)
	return subtle.ConstantTimeCompare(got, digest) == 1
}
