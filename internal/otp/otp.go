// README: One-time codes for the pickup and delivery handoffs.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"
)

// Length is the number of decimal digits in a code.
const Length = 6

var (
	ErrInvalid = errors.New("invalid otp")
	ErrExpired = errors.New("otp expired")
)

var codeSpace = big.NewInt(1_000_000)

// Code is a generated one-time code and the instant after which it stops validating.
type Code struct {
	Value     string
	ExpiresAt time.Time
}

type Generator struct {
	rand io.Reader
	now  func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader, now: time.Now}
}

// NewGeneratorWith is used by tests to pin the entropy source and clock.
func NewGeneratorWith(r io.Reader, now func() time.Time) *Generator {
	return &Generator{rand: r, now: now}
}

// Generate returns a uniformly distributed zero-padded 6-digit code valid for ttl.
func (g *Generator) Generate(ttl time.Duration) (Code, error) {
	n, err := rand.Int(g.rand, codeSpace)
	if err != nil {
		return Code{}, fmt.Errorf("otp generate: %w", err)
	}
	return Code{
		Value:     fmt.Sprintf("%0*d", Length, n.Int64()),
		ExpiresAt: g.now().Add(ttl),
	}, nil
}

// Validate checks a submitted code against the stored one. Expiry wins over a mismatch,
// and a missing stored code never validates.
func Validate(submitted string, stored *string, expiresAt *time.Time, now time.Time) error {
	if stored == nil || expiresAt == nil {
		return ErrInvalid
	}
	if now.After(*expiresAt) {
		return ErrExpired
	}
	if len(submitted) != len(*stored) || subtle.ConstantTimeCompare([]byte(submitted), []byte(*stored)) != 1 {
		return ErrInvalid
	}
	return nil
}
