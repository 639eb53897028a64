package battle

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	InviteCodeLength = 6
	// InviteAlphabet leaves out 0/O and 1/I so codes survive being read aloud.
	InviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewInviteCode returns a random code of InviteCodeLength characters.
func NewInviteCode() (string, error) {
	b := make([]byte, InviteCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	for i := range b {
		b[i] = InviteAlphabet[int(b[i])%len(InviteAlphabet)]
	}
	return string(b), nil
}

// NormalizeInviteCode trims and upper-cases a typed code and rejects
// anything that could never have been issued.
func NormalizeInviteCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != InviteCodeLength {
		return "", ErrInvalidInviteCode
	}
	for _, c := range code {
		if !strings.ContainsRune(InviteAlphabet, c) {
			return "", ErrInvalidInviteCode
		}
	}
	return code, nil
}
