// Package user holds the contact data used to address notifications.
package user

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// PushTokenPrefix starts every Expo push token.
const PushTokenPrefix = "ExponentPushToken["

// ErrNotFound is returned for unknown user ids.
var ErrNotFound = errors.New("user not found")

// ErrInvalidPushToken is returned for tokens that are not Expo push tokens.
var ErrInvalidPushToken = errors.New("invalid push token")

// Contact is how a user can be reached. Empty fields mean the channel is
// not available for the user.
type Contact struct {
	ID        int64
	Name      string
	Email     string
	Phone     string
	PushToken string
}

// Repository provides contact lookups and push token registration.
type Repository interface {
	GetContact(ctx context.Context, id int64) (*Contact, error)
	SetPushToken(ctx context.Context, id int64, token string) error
}

// ValidPushToken reports whether token looks like an Expo push token.
func ValidPushToken(token string) bool {
	return strings.HasPrefix(token, PushTokenPrefix) && strings.HasSuffix(token, "]")
}

// Service manages user contact settings.
type Service struct {
	repo Repository
}

// NewService returns a Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterPushToken stores token as the user's push destination.
func (s *Service) RegisterPushToken(ctx context.Context, id int64, token string) error {
	token = strings.TrimSpace(token)
	if !ValidPushToken(token) {
		return ErrInvalidPushToken
	}
	if err := s.repo.SetPushToken(ctx, id, token); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "set push token")
	}
	return nil
}
