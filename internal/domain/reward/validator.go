package reward

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validation is the read-only verdict on a code.
type Validation struct {
	Valid  bool
	Code   *Code
	Reason Reason
}

// Validator checks codes without consuming them and redeems them at order
// confirmation.
type Validator struct {
	store *Store
	now   func() time.Time
}

// NewValidator returns a Validator backed by store.
func NewValidator(store *Store) *Validator {
	return &Validator{store: store, now: time.Now}
}

// Validate reports whether code can be redeemed at businessID right now.
// It may be called any number of times; it never changes the code.
func (v *Validator) Validate(ctx context.Context, code string, businessID *int64) (Validation, error) {
	c, err := v.store.Find(ctx, code, businessID)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return Validation{Reason: ReasonNotFound}, nil
		}
		return Validation{}, err
	}

	switch c.StatusAt(v.now()) {
	case StatusUsed:
		return Validation{Code: c, Reason: ReasonUsed}, nil
	case StatusExpired:
		return Validation{Code: c, Reason: ReasonExpired}, nil
	default:
		return Validation{Valid: true, Code: c}, nil
	}
}

// Redeem consumes the code. It must only be called once the order using
// the code is confirmed.
func (v *Validator) Redeem(ctx context.Context, code string, businessID *int64) (*Code, error) {
	return v.store.Consume(ctx, code, businessID)
}
