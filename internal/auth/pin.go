package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"

	"github.com/kosumphisai/koshare/backend/internal/sanitizer"
)

const (
	// MinPinLength is the minimum PIN length in characters
	MinPinLength = 4
	// MaxPinLength is the maximum PIN length in characters
	MaxPinLength = 6
	// PinIterations is the PBKDF2 iteration count
	PinIterations = 100000
	pinKeyLength  = 32
)

// PinHasher derives and checks PIN digests with a fixed salt
type PinHasher struct {
	salt       []byte
	iterations int
}

// NewPinHasher creates a PinHasher using salt for every digest
func NewPinHasher(salt string) *PinHasher {
	return NewPinHasherWithIterations(salt, PinIterations)
}

// NewPinHasherWithIterations creates a PinHasher with a custom PBKDF2 cost
func NewPinHasherWithIterations(salt string, iterations int) *PinHasher {
	if iterations <= 0 {
		iterations = PinIterations
	}
	return &PinHasher{salt: []byte(salt), iterations: iterations}
}

// Normalize strips markup and surrounding whitespace from a PIN
func (h *PinHasher) Normalize(pin string) string {
	return sanitizer.Sanitize(pin, 0)
}

// Validate checks the PIN length after normalization
func (h *PinHasher) Validate(pin string) error {
	n := utf8.RuneCountInString(h.Normalize(pin))
	if n < MinPinLength || n > MaxPinLength {
		return &ValidationError{Field: "pin", Message: "PIN must be 4 to 6 characters"}
	}
	return nil
}

// Digest returns the hex PBKDF2-SHA256 digest of the normalized PIN
func (h *PinHasher) Digest(pin string) string {
	key := pbkdf2.Key([]byte(h.Normalize(pin)), h.salt, h.iterations, pinKeyLength, sha256.New)
	return hex.EncodeToString(key)
}

// Matches compares pin against a stored digest in constant time
func (h *PinHasher) Matches(pin, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Digest(pin)), []byte(digest)) == 1
}
