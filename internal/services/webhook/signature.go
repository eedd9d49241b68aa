// Package webhook authenticates inbound payment-provider callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	HeaderSecret    = "X-Webhook-Secret"
	HeaderSignature = "X-Webhook-Signature"

	signaturePrefix = "sha256="
)

var (
	ErrNotConfigured    = errors.New("webhook secret not configured")
	ErrMissingSignature = errors.New("missing webhook secret or signature")
	ErrBadSignature     = errors.New("webhook signature mismatch")
)

// VerifySharedSecret compares the presented secret in constant time.
func VerifySharedSecret(secret, presented string) bool {
	if secret == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) == 1
}

// Sign returns the "sha256=<hex>" HMAC of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" HMAC of body.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(secret, body)))
}

// Authenticate accepts a request carrying either a body signature or the
// shared secret. The signature wins when both are present.
func Authenticate(secret string, body []byte, signature, presentedSecret string) error {
	if secret == "" {
		return ErrNotConfigured
	}
	switch {
	case signature != "":
		if !VerifySignature(secret, body, signature) {
			return ErrBadSignature
		}
	case presentedSecret != "":
		if !VerifySharedSecret(secret, presentedSecret) {
			return ErrBadSignature
		}
	default:
		return ErrMissingSignature
	}
	return nil
}
