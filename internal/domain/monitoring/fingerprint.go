package monitoring

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
)

// Fingerprint is the SHA-256 content fingerprint of a requirement's text.
// Two observations of a requirement with equal fingerprints carry identical
// text and are never diffed.
type Fingerprint struct {
	hash string // Hex-encoded SHA-256 hash (64 characters)
}

var sha256HexRegex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// NewFingerprint creates a Fingerprint value object with validation
func NewFingerprint(hash string) (Fingerprint, error) {
	if hash == "" {
		return Fingerprint{}, errors.NewValidationError("EMPTY_FINGERPRINT",
			"fingerprint cannot be empty")
	}

	normalized := strings.ToLower(strings.TrimSpace(hash))

	if !sha256HexRegex.MatchString(normalized) {
		return Fingerprint{}, errors.NewValidationError("INVALID_FINGERPRINT_FORMAT",
			"fingerprint must be a 64-character hexadecimal string (SHA-256)")
	}

	return Fingerprint{hash: normalized}, nil
}

// ComputeFingerprint computes the fingerprint of requirement text. Text is
// whitespace-normalized first so formatting-only edits in the upstream
// document do not register as content changes.
func ComputeFingerprint(text string) Fingerprint {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return Fingerprint{hash: hex.EncodeToString(sum[:])}
}

// MustNewFingerprint creates a Fingerprint and panics on error (for tests)
func MustNewFingerprint(hash string) Fingerprint {
	f, err := NewFingerprint(hash)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the hex-encoded hash
func (f Fingerprint) String() string {
	return f.hash
}

// IsZero reports whether the fingerprint is unset
func (f Fingerprint) IsZero() bool {
	return f.hash == ""
}

// Equal compares two fingerprints
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.hash == other.hash
}

// MarshalText implements encoding.TextMarshaler
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.hash), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (f *Fingerprint) UnmarshalText(data []byte) error {
	parsed, err := NewFingerprint(string(data))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
