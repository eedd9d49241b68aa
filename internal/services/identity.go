package services

import "strings"

// Identity is the caller as asserted by the identity provider.
type Identity struct {
	SubjectID string
	Email     string
	Name      string
}

// Valid reports whether the identity can be used for caller-facing operations.
func (id Identity) Valid() bool {
	return strings.TrimSpace(id.SubjectID) != ""
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func requireIdentity(id Identity) error {
	if !id.Valid() {
		return ErrUnauthenticated()
	}
	return nil
}
