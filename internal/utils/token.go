package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// InviteTokenBytes is the entropy of an invitation token before encoding.
const InviteTokenBytes = 32

// GenerateInviteToken returns a random hex token suitable as a bearer credential.
func GenerateInviteToken() (string, error) {
	b := make([]byte, InviteTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
