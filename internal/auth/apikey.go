package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix marks a bearer credential as a personal access token.
	APIKeyPrefix = "mfo_"
	// APIKeyLookupLen is how many leading characters are stored in clear
	// for lookup.
	APIKeyLookupLen = len(APIKeyPrefix) + 8

	apiKeyRandomBytes = 24
)

// GeneratedKey is a freshly minted personal access token. Raw is only ever
// returned to the caller once.
type GeneratedKey struct {
	Raw    string
	Prefix string
	Hash   string
}

// GenerateAPIKey creates a random key and its bcrypt hash.
func GenerateAPIKey() (*GeneratedKey, error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	raw := APIKeyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	return &GeneratedKey{Raw: raw, Prefix: raw[:APIKeyLookupLen], Hash: string(hash)}, nil
}

// IsAPIKey reports whether token looks like a personal access token.
func IsAPIKey(token string) bool {
	return strings.HasPrefix(token, APIKeyPrefix) && len(token) > APIKeyLookupLen
}

// MatchAPIKey reports whether raw hashes to hash.
func MatchAPIKey(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
