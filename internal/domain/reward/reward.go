// Package reward implements the discount code engine: spin eligibility,
// reward selection, code issuance, validation and one-time redemption.
//
// A code moves from active to used exactly once. Expiry is derived from
// ExpiresAt at read time and never stored, so a used code stays used even
// after it expires.
package reward

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a discount code, derived at read time.
type Status string

const (
	// StatusActive is an unused code that has not expired yet.
	StatusActive Status = "active"
	// StatusUsed is a code consumed by a redemption.
	StatusUsed Status = "used"
	// StatusExpired is an unused code past its expiry.
	StatusExpired Status = "expired"
)

// ParseStatus parses a status filter value.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusUsed, StatusExpired:
		return st, nil
	default:
		return "", &ValidationError{Field: "status", Message: "must be one of active, used, expired"}
	}
}

// Scope selects the cooldown pool a spin belongs to. The global pool and
// every per-business pool are tracked independently.
type Scope struct {
	businessID int64
	business   bool
}

// Global returns the scope of spins not tied to any business.
func Global() Scope {
	return Scope{}
}

// ForBusiness returns the scope of spins at the given business.
func ForBusiness(id int64) Scope {
	return Scope{businessID: id, business: true}
}

// ScopeOf converts a nullable business id into a Scope.
func ScopeOf(businessID *int64) Scope {
	if businessID == nil {
		return Global()
	}
	return ForBusiness(*businessID)
}

// BusinessID returns the business of a per-business scope.
func (s Scope) BusinessID() (int64, bool) {
	return s.businessID, s.business
}

// IsGlobal reports whether s is the global pool.
func (s Scope) IsGlobal() bool {
	return !s.business
}

// Ptr returns the business id as a nullable value, nil for the global pool.
func (s Scope) Ptr() *int64 {
	if !s.business {
		return nil
	}
	id := s.businessID
	return &id
}

func (s Scope) String() string {
	if !s.business {
		return "global"
	}
	return "business:" + strconv.FormatInt(s.businessID, 10)
}

// Code is an issued discount code.
type Code struct {
	ID     int64
	Code   string
	UserID int64
	// BusinessID is nil for codes redeemable at any business.
	BusinessID *int64
	Amount     decimal.Decimal
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Used       bool
	UsedAt     *time.Time
	Source     string
}

// SourceSpin marks codes issued by the spin wheel.
const SourceSpin = "spin"

// StatusAt derives the status of c at the given instant.
func (c *Code) StatusAt(now time.Time) Status {
	switch {
	case c.Used:
		return StatusUsed
	case !now.Before(c.ExpiresAt):
		return StatusExpired
	default:
		return StatusActive
	}
}

// Scope returns the cooldown scope the code was issued in.
func (c *Code) Scope() Scope {
	return ScopeOf(c.BusinessID)
}

// RedeemableAt reports whether the code may be used at the given business.
// A nil business matches any code; a global code matches any business.
func (c *Code) RedeemableAt(businessID *int64) bool {
	if businessID == nil || c.BusinessID == nil {
		return true
	}
	return *c.BusinessID == *businessID
}

// Attempt records a successful spin. Attempts are never updated or deleted.
type Attempt struct {
	ID        int64
	UserID    int64
	Scope     Scope
	CodeID    int64
	CreatedAt time.Time
}

// Entry is a code annotated with its derived status. BusinessName is empty
// for global codes and for businesses that no longer exist.
type Entry struct {
	Code         Code
	Status       Status
	BusinessName string
}

// NormalizeCode trims and upper-cases a code for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
