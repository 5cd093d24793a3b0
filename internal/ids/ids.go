// Package ids generates entity identifiers and session invite codes.
package ids

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Generator produces unique entity IDs.
type Generator interface {
	NewID() string
}

// UUID generates random UUIDv4 strings.
type UUID struct{}

func (UUID) NewID() string {
	return uuid.NewString()
}

// Sequence generates predictable IDs ("prefix-1", "prefix-2", ...). It is
// meant for tests and is safe for concurrent use.
type Sequence struct {
	prefix string
	n      atomic.Int64
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewID() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.n.Add(1))
}

const (
	inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteLength   = 6
)

var inviteRE = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// NewInviteCode returns a random 6-character uppercase alphanumeric code.
// Uniqueness is enforced by the store, not here.
func NewInviteCode() (string, error) {
	code, err := gonanoid.Generate(inviteAlphabet, inviteLength)
	if err != nil {
		return "", fmt.Errorf("generate invite code: %w", err)
	}
	return code, nil
}

// NormalizeInviteCode trims and upper-cases user input.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidInviteCode reports whether code is a well-formed invite code.
func ValidInviteCode(code string) bool {
	return inviteRE.MatchString(code)
}
