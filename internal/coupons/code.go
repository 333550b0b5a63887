package coupons

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// CodeAlphabet omits 0, O, 1, I and L
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	codeGroups    = 4
	codeGroupSize = 4
)

var codePattern = regexp.MustCompile(`^[A-HJKMNP-Z2-9]{4}(-[A-HJKMNP-Z2-9]{4}){3}$`)

// GenerateCode returns a random XXXX-XXXX-XXXX-XXXX code over CodeAlphabet
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(codeGroups*codeGroupSize + codeGroups - 1)
	max := big.NewInt(int64(len(CodeAlphabet)))

	for g := 0; g < codeGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < codeGroupSize; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to read random bytes: %w", err)
			}
			b.WriteByte(CodeAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// NormalizeCode upper-cases and trims a code typed by a person
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code has the issued shape
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Hasher derives the stored fingerprint of a code
type Hasher struct {
	secret []byte
}

// NewHasher creates a hasher keyed with the server secret
func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// Hash returns the hex HMAC-SHA256 of code
func (h *Hasher) Hash(code string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}
