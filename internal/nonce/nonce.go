// Package nonce issues and checks the single-use submission tokens that
// protect event intake against replay.
package nonce

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidFormat = errors.New("invalid nonce format")
	ErrExpired       = errors.New("nonce expired")
	ErrFromFuture    = errors.New("nonce timestamp is in the future")
	ErrAlreadyUsed   = errors.New("nonce already used")
)

// <base36 millisecond timestamp>-<16 lowercase hex>
var pattern = regexp.MustCompile(`^[0-9a-z]{1,13}-[0-9a-f]{16}$`)

// Generate returns a fresh nonce stamped with the current time
func Generate() string {
	return GenerateAt(time.Now())
}

// GenerateAt returns a nonce stamped with t
func GenerateAt(t time.Time) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("nonce: crypto/rand unavailable: " + err.Error())
	}
	return strconv.FormatInt(t.UnixMilli(), 36) + "-" + hex.EncodeToString(b)
}

// IssuedAt extracts the embedded timestamp
func IssuedAt(nonce string) (time.Time, error) {
	if !pattern.MatchString(nonce) {
		return time.Time{}, ErrInvalidFormat
	}
	stamp, _, _ := strings.Cut(nonce, "-")
	ms, err := strconv.ParseInt(stamp, 36, 64)
	if err != nil {
		return time.Time{}, ErrInvalidFormat
	}
	return time.UnixMilli(ms), nil
}

// Guard validates nonce freshness
type Guard struct {
	maxAge     time.Duration
	futureSkew time.Duration
	now        func() time.Time
}

// NewGuard creates a guard accepting nonces no older than maxAge and no further
// than futureSkew ahead of the server clock
func NewGuard(maxAge, futureSkew time.Duration) *Guard {
	return &Guard{maxAge: maxAge, futureSkew: futureSkew, now: time.Now}
}

// Validate checks format and age and returns when the nonce stops being valid
func (g *Guard) Validate(nonce string) (time.Time, error) {
	issued, err := IssuedAt(nonce)
	if err != nil {
		return time.Time{}, err
	}

	now := g.now()
	if now.Sub(issued) > g.maxAge {
		return time.Time{}, ErrExpired
	}
	if issued.Sub(now) > g.futureSkew {
		return time.Time{}, ErrFromFuture
	}
	return issued.Add(g.maxAge), nil
}

// MaxAge returns the validity window
func (g *Guard) MaxAge() time.Duration {
	return g.maxAge
}
