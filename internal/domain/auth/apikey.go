// Package auth authenticates server-to-server callers by API key.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to API keys.
const (
	// ScopeRedeem allows consuming discount codes at order confirmation.
	ScopeRedeem = "redeem"
	// ScopeManageBusiness allows changing a business's spin wheel settings.
	ScopeManageBusiness = "manage_business"
)

// ErrKeyNotFound is returned by a Repository for unknown or revoked keys.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Hash returns the raw HMAC-SHA256 of key under pepper.
func Hash(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// HashHex is Hash encoded as lower-case hex, the stored form.
func HashHex(pepper []byte, key string) string {
	return hex.EncodeToString(Hash(pepper, key))
}
