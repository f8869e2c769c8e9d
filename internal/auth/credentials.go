package auth

import (
	"crypto/rand"
	"encoding/base64"
)

// APIKeyPrefix marks management keys so they are recognisable in logs and
// support bundles without revealing the secret part.
const APIKeyPrefix = "ovmeet-api-key-"

// NewAPIKey mints an opaque prefixed management key.
func NewAPIKey() string {
	return APIKeyPrefix + randomToken(32)
}

// NewSecret mints an opaque secret for anonymous room access URLs.
func NewSecret() string {
	return randomToken(16)
}

// RandomSuffix returns a lowercase URL-safe identifier fragment of length n
// (room id suffixes, external member ids, recording uids).
func RandomSuffix(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	for i := range raw {
		raw[i] = alphabet[int(raw[i])%len(alphabet)]
	}
	return string(raw)
}

func randomToken(n int) string {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}
