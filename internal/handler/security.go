package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/spin-rewards/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

type apiKeyCtxKey struct{}

// APIKeyFrom returns the authenticated key of the request, if any.
func APIKeyFrom(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// SecurityHandler authenticates server-to-server requests via HMAC-SHA256
// hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate computes the HMAC-SHA256 of the provided key, looks it up and
// compares the stored hash in constant time. The key must carry scope.
func (s *SecurityHandler) Authenticate(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errUnauthorized
	}
	hash := auth.Hash(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if !errors.Is(err, auth.ErrKeyNotFound) {
			zctx.From(ctx).Warn("API key lookup failed", zap.Error(err))
		}
		return nil, errUnauthorized
	}

	// The repository could return a stale or wrong row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, errUnauthorized
	}
	if !info.HasScope(scope) {
		return nil, errForbidden
	}
	return info, nil
}

// Require wraps next so that it only runs for keys granted scope.
func (s *SecurityHandler) Require(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.Authenticate(r.Context(), r.Header.Get(APIKeyHeader), scope)
		switch {
		case errors.Is(err, errForbidden):
			apiError{Status: http.StatusForbidden, Message: "api key lacks scope " + scope, Reason: "forbidden"}.write(w)
			return
		case err != nil:
			apiError{Status: http.StatusUnauthorized, Message: "missing or invalid api key", Reason: "unauthorized"}.write(w)
			return
		}

		ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, apiKeyCtxKey{}, info)))
	})
}
