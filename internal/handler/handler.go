// Package handler exposes the spin reward service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/spin-rewards/internal/domain/auth"
	"github.com/xenking/spin-rewards/internal/domain/reward"
)

// RewardService is the domain surface the handlers use.
type RewardService interface {
	Eligibility(ctx context.Context, userID int64, businessID *int64) (reward.Eligibility, error)
	Spin(ctx context.Context, userID int64, businessID *int64) (*reward.SpinResult, error)
	ValidateCode(ctx context.Context, code string, businessID *int64) (reward.Validation, error)
	RedeemCode(ctx context.Context, code string, businessID *int64) (*reward.Code, error)
	History(ctx context.Context, userID int64, businessID *int64, status reward.Status) ([]reward.Entry, error)
	SpinSettings(ctx context.Context, businessID int64) (*reward.SpinSettings, error)
	UpdateSpinSettings(ctx context.Context, businessID int64, enabled bool, rewards []string) (*reward.SpinSettings, error)
	Label(c *reward.Code) string
}

// PushTokens registers device push tokens.
type PushTokens interface {
	RegisterPushToken(ctx context.Context, userID int64, token string) error
}

var _ RewardService = (*reward.Service)(nil)

// Handler serves the reward API, delegating business logic to the reward
// service.
type Handler struct {
	rewards  RewardService
	tokens   PushTokens
	security *SecurityHandler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(rewards RewardService, tokens PushTokens, security *SecurityHandler) *Handler {
	return &Handler{
		rewards:  rewards,
		tokens:   tokens,
		security: security,
	}
}

// Route is one API operation.
type Route struct {
	// Pattern is the http.ServeMux pattern, method included.
	Pattern string
	// Operation names the route in traces and metrics.
	Operation string
	Handler   http.Handler
}

// Routes lists every API operation. Server-to-server operations are wrapped
// with API key authentication.
func (h *Handler) Routes() []Route {
	return []Route{
		{"GET /api/spin/eligibility", "checkEligibility", http.HandlerFunc(h.Eligibility)},
		{"POST /api/spin", "spin", http.HandlerFunc(h.Spin)},
		{"POST /api/codes/validate", "validateCode", http.HandlerFunc(h.ValidateCode)},
		{"POST /api/codes/redeem", "redeemCode", h.security.Require(auth.ScopeRedeem, http.HandlerFunc(h.RedeemCode))},
		{"GET /api/codes/history", "codeHistory", http.HandlerFunc(h.History)},
		{"GET /api/businesses/{id}/spin-settings", "getSpinSettings", http.HandlerFunc(h.GetSpinSettings)},
		{"PUT /api/businesses/{id}/spin-settings", "updateSpinSettings", h.security.Require(auth.ScopeManageBusiness, http.HandlerFunc(h.UpdateSpinSettings))},
		{"PUT /api/users/{id}/push-token", "registerPushToken", http.HandlerFunc(h.RegisterPushToken)},
	}
}
