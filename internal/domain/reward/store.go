package reward

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// maxGenerateAttempts bounds code regeneration after collisions.
const maxGenerateAttempts = 5

// Repository is the durable storage of codes and spin attempts.
type Repository interface {
	AttemptFinder

	// CreateIssued inserts c together with the spin attempt it was earned by
	// in one transaction. The attempt shares the user, scope and creation
	// time of c. Under a per-(user, scope) lock the repository re-checks the
	// cooldown and returns a *CooldownError when another attempt landed
	// within it. A duplicate code string yields ErrCodeCollision.
	CreateIssued(ctx context.Context, c *Code, cooldown time.Duration) (*Code, error)
	// FindByCode returns the code with the given normalized string, or
	// ErrCodeNotFound.
	FindByCode(ctx context.Context, code string) (*Code, error)
	// MarkUsed flips used=false to true in a single conditional update that
	// also requires expires_at > at and, when businessID is set, a matching
	// or global scope. It returns ErrCodeNotFound when no row qualified.
	MarkUsed(ctx context.Context, code string, businessID *int64, at time.Time) (*Code, error)
	// ListByUser returns the user's codes newest first, optionally limited
	// to one business.
	ListByUser(ctx context.Context, userID int64, businessID *int64) ([]Code, error)
}

// IssueRequest describes a code to issue.
type IssueRequest struct {
	UserID   int64
	Scope    Scope
	Amount   decimal.Decimal
	TTL      time.Duration
	Cooldown time.Duration
}

// Store owns codes and attempts. It adds generation retries, scoping and
// status derivation on top of a Repository.
type Store struct {
	repo Repository
	gen  Generator
	now  func() time.Time
}

// NewStore returns a Store persisting into repo and drawing codes from gen.
func NewStore(repo Repository, gen Generator) *Store {
	return &Store{repo: repo, gen: gen, now: time.Now}
}

// Issue creates a new active code and records the spin attempt with it.
// Collisions are retried with fresh codes; after maxGenerateAttempts the
// call fails with ErrGenerationExhausted and nothing is written.
func (s *Store) Issue(ctx context.Context, req IssueRequest) (*Code, error) {
	if req.UserID <= 0 {
		return nil, &ValidationError{Field: "userId", Message: "must be a positive integer"}
	}
	if !req.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if req.TTL <= 0 {
		return nil, &ValidationError{Field: "ttl", Message: "must be positive"}
	}

	now := s.now()
	for range maxGenerateAttempts {
		c := &Code{
			Code:       NormalizeCode(s.gen.Generate()),
			UserID:     req.UserID,
			BusinessID: req.Scope.Ptr(),
			Amount:     req.Amount,
			CreatedAt:  now,
			ExpiresAt:  now.Add(req.TTL),
			Source:     SourceSpin,
		}
		created, err := s.repo.CreateIssued(ctx, c, req.Cooldown)
		if err == nil {
			return created, nil
		}
		if errors.Is(err, ErrCodeCollision) {
			continue
		}
		var cdErr *CooldownError
		if errors.As(err, &cdErr) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create code")
	}
	return nil, ErrGenerationExhausted
}

// Find returns the code if it exists and may be used at businessID.
// Codes scoped to another business are reported as ErrCodeNotFound.
func (s *Store) Find(ctx context.Context, code string, businessID *int64) (*Code, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, &ValidationError{Field: "code", Message: "required"}
	}
	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, errors.Wrap(err, "find code")
	}
	if !c.RedeemableAt(businessID) {
		return nil, ErrCodeNotFound
	}
	return c, nil
}

// Consume atomically marks the code used. Exactly one of any number of
// concurrent calls for the same code succeeds; the others observe
// ErrCodeUsed. Failed attempts are classified into ErrCodeNotFound,
// ErrCodeUsed or ErrCodeExpired.
func (s *Store) Consume(ctx context.Context, code string, businessID *int64) (*Code, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, &ValidationError{Field: "code", Message: "required"}
	}
	now := s.now()
	c, err := s.repo.MarkUsed(ctx, code, businessID, now)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCodeNotFound) {
		return nil, errors.Wrap(err, "mark used")
	}

	// The conditional update matched nothing; find out why.
	c, err = s.Find(ctx, code, businessID)
	if err != nil {
		return nil, err
	}
	if c.Used {
		return nil, ErrCodeUsed
	}
	if c.StatusAt(now) == StatusExpired {
		return nil, ErrCodeExpired
	}
	return nil, errors.Errorf("consume %s: conditional update matched no row", code)
}

// List returns the user's codes with their derived status, newest first.
// A non-empty status keeps only codes in that state.
func (s *Store) List(ctx context.Context, userID int64, businessID *int64, status Status) ([]Entry, error) {
	if userID <= 0 {
		return nil, &ValidationError{Field: "userId", Message: "must be a positive integer"}
	}
	codes, err := s.repo.ListByUser(ctx, userID, businessID)
	if err != nil {
		return nil, errors.Wrap(err, "list codes")
	}

	now := s.now()
	entries := make([]Entry, 0, len(codes))
	for _, c := range codes {
		st := c.StatusAt(now)
		if status != "" && st != status {
			continue
		}
		entries = append(entries, Entry{Code: c, Status: st})
	}
	return entries, nil
}

// LastAttempt exposes the attempt history for eligibility checks.
func (s *Store) LastAttempt(ctx context.Context, userID int64, scope Scope) (*Attempt, error) {
	return s.repo.LastAttempt(ctx, userID, scope)
}
