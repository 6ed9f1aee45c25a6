package reward

import "context"

// Business is a merchant hosting a spin wheel.
type Business struct {
	ID          int64
	Name        string
	SpinEnabled bool
	// Rewards is the business' own policy as stored; it may be empty, in
	// which case spins use the global defaults.
	Rewards Policy
}

// BusinessRepository provides the spin settings of businesses.
type BusinessRepository interface {
	// GetBusiness returns the business or ErrBusinessNotFound.
	GetBusiness(ctx context.Context, id int64) (*Business, error)
	// UpdateSpinSettings replaces the wheel switch and reward policy of a
	// business, returning ErrBusinessNotFound for unknown ids.
	UpdateSpinSettings(ctx context.Context, id int64, enabled bool, rewards Policy) (*Business, error)
}
