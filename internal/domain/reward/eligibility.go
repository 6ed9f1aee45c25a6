package reward

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// DefaultCooldown is the spin cooldown used when none is configured.
const DefaultCooldown = 24 * time.Hour

// Eligibility is the outcome of an eligibility check.
type Eligibility struct {
	Eligible bool
	// NextEligibleAt and LastAttemptAt are zero when the user is eligible
	// because they never spun in the scope.
	NextEligibleAt time.Time
	LastAttemptAt  time.Time
	Reason         Reason
}

// AttemptFinder returns the most recent spin attempt of a user in a scope,
// or ErrNoAttempt.
type AttemptFinder interface {
	LastAttempt(ctx context.Context, userID int64, scope Scope) (*Attempt, error)
}

// EligibilityChecker decides whether a user may spin again in a scope.
type EligibilityChecker struct {
	attempts AttemptFinder
	window   time.Duration
	now      func() time.Time
}

// NewEligibilityChecker returns a checker enforcing the given cooldown
// window. A non-positive window falls back to DefaultCooldown.
func NewEligibilityChecker(attempts AttemptFinder, window time.Duration) *EligibilityChecker {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &EligibilityChecker{attempts: attempts, window: window, now: time.Now}
}

// Window returns the configured cooldown window.
func (c *EligibilityChecker) Window() time.Duration {
	return c.window
}

// Check looks up the last attempt of userID in scope and evaluates it
// against the cooldown window. It never records anything.
func (c *EligibilityChecker) Check(ctx context.Context, userID int64, scope Scope) (Eligibility, error) {
	last, err := c.attempts.LastAttempt(ctx, userID, scope)
	if err != nil {
		if errors.Is(err, ErrNoAttempt) {
			return Eligibility{Eligible: true}, nil
		}
		return Eligibility{}, errors.Wrap(err, "last attempt")
	}
	return Evaluate(last.CreatedAt, c.window, c.now()), nil
}

// Evaluate applies the cooldown rule to the time of the last attempt.
func Evaluate(lastAttemptAt time.Time, window time.Duration, now time.Time) Eligibility {
	next := lastAttemptAt.Add(window)
	if now.Sub(lastAttemptAt) < window {
		return Eligibility{
			Eligible:       false,
			NextEligibleAt: next,
			LastAttemptAt:  lastAttemptAt,
			Reason:         ReasonCooldown,
		}
	}
	return Eligibility{Eligible: true, LastAttemptAt: lastAttemptAt}
}
