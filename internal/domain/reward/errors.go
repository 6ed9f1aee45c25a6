package reward

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrCodeNotFound is returned when a code does not exist or is scoped to
	// a different business than the one it is presented at.
	ErrCodeNotFound = errors.New("code not found")
	// ErrCodeUsed is returned when a code has already been redeemed.
	ErrCodeUsed = errors.New("code already used")
	// ErrCodeExpired is returned when an unused code is past its expiry.
	ErrCodeExpired = errors.New("code expired")
	// ErrCodeCollision is returned by a Repository when the generated code
	// string already exists.
	ErrCodeCollision = errors.New("code collision")
	// ErrGenerationExhausted is returned when no unique code could be
	// generated within the retry budget. It is transient.
	ErrGenerationExhausted = errors.New("unable to generate a unique code")
	// ErrCooldownActive is returned when the user spun in the same scope
	// within the cooldown window.
	ErrCooldownActive = errors.New("cooldown active")
	// ErrNoAttempt is returned by a Repository when the user never spun in
	// the requested scope.
	ErrNoAttempt = errors.New("no spin attempt")
	// ErrBusinessNotFound is returned for unknown business ids.
	ErrBusinessNotFound = errors.New("business not found")
	// ErrSpinDisabled is returned when the business turned its wheel off.
	ErrSpinDisabled = errors.New("spin wheel is not enabled for this business")
)

// Reason is the machine-readable cause of a rejected spin or code.
type Reason string

const (
	ReasonNotFound     Reason = "not_found"
	ReasonUsed         Reason = "used"
	ReasonExpired      Reason = "expired"
	ReasonCooldown     Reason = "cooldown"
	ReasonSpinDisabled Reason = "spin_disabled"
)

// ReasonOf maps domain errors to their machine-readable reason. It returns
// an empty Reason for errors that have none.
func ReasonOf(err error) Reason {
	switch {
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrBusinessNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrCodeUsed):
		return ReasonUsed
	case errors.Is(err, ErrCodeExpired):
		return ReasonExpired
	case errors.Is(err, ErrCooldownActive):
		return ReasonCooldown
	case errors.Is(err, ErrSpinDisabled):
		return ReasonSpinDisabled
	default:
		return ""
	}
}

// CooldownError reports when the user becomes eligible again.
type CooldownError struct {
	Scope          Scope
	LastAttemptAt  time.Time
	NextEligibleAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active in %s until %s", e.Scope, e.NextEligibleAt.UTC().Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrCooldownActive.
func (e *CooldownError) Unwrap() error {
	return ErrCooldownActive
}

// ValidationError indicates missing or malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
