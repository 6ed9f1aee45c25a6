package reward

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// DefaultCodeTTL is the lifetime of a spin code when none is configured.
const DefaultCodeTTL = 24 * time.Hour

// Config holds the tunables of the spin service.
type Config struct {
	// CodeTTL is how long an issued code stays redeemable.
	CodeTTL time.Duration
	// Currency is prepended to amounts in reward labels.
	Currency string
}

// SpinResult is the reward granted by a successful spin.
type SpinResult struct {
	Code         *Code
	Label        string
	BusinessName string
}

// SpinSettings is the wheel configuration of a business.
type SpinSettings struct {
	Business  *Business
	Effective Policy
}

// Service ties eligibility, reward selection, issuance and redemption
// together.
type Service struct {
	cfg        Config
	businesses BusinessRepository
	checker    *EligibilityChecker
	selector   *Selector
	store      *Store
	validator  *Validator
	notifier   Notifier
	now        func() time.Time

	spins       metric.Int64Counter
	redemptions metric.Int64Counter
}

// NewService creates a Service. A nil notifier discards events and a nil
// meter records nothing.
func NewService(
	cfg Config,
	businesses BusinessRepository,
	checker *EligibilityChecker,
	selector *Selector,
	store *Store,
	validator *Validator,
	notifier Notifier,
	meter metric.Meter,
) (*Service, error) {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("reward")
	}

	spins, err := meter.Int64Counter("reward.spins",
		metric.WithDescription("Spin requests by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "spins counter")
	}
	redemptions, err := meter.Int64Counter("reward.redemptions",
		metric.WithDescription("Code redemptions by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "redemptions counter")
	}

	return &Service{
		cfg:         cfg,
		businesses:  businesses,
		checker:     checker,
		selector:    selector,
		store:       store,
		validator:   validator,
		notifier:    notifier,
		now:         time.Now,
		spins:       spins,
		redemptions: redemptions,
	}, nil
}

// Eligibility reports whether userID may spin in the scope of businessID.
// A business whose wheel is switched off makes the user ineligible.
func (s *Service) Eligibility(ctx context.Context, userID int64, businessID *int64) (Eligibility, error) {
	if userID <= 0 {
		return Eligibility{}, &ValidationError{Field: "userId", Message: "must be a positive integer"}
	}
	if businessID != nil {
		b, err := s.business(ctx, *businessID)
		if err != nil {
			return Eligibility{}, err
		}
		if !b.SpinEnabled {
			return Eligibility{Reason: ReasonSpinDisabled}, nil
		}
	}
	return s.checker.Check(ctx, userID, ScopeOf(businessID))
}

// Spin grants a reward to userID if the cooldown of the scope has elapsed.
// The code and its attempt are committed together; notifications follow
// best-effort.
func (s *Service) Spin(ctx context.Context, userID int64, businessID *int64) (_ *SpinResult, rerr error) {
	defer func() {
		s.spins.Add(ctx, 1, metric.WithAttributes(outcome(rerr)))
	}()

	if userID <= 0 {
		return nil, &ValidationError{Field: "userId", Message: "must be a positive integer"}
	}

	var (
		policy Policy
		name   string
	)
	if businessID != nil {
		b, err := s.business(ctx, *businessID)
		if err != nil {
			return nil, err
		}
		if !b.SpinEnabled {
			return nil, ErrSpinDisabled
		}
		policy, name = b.Rewards, b.Name
	}

	scope := ScopeOf(businessID)
	el, err := s.checker.Check(ctx, userID, scope)
	if err != nil {
		return nil, errors.Wrap(err, "check eligibility")
	}
	if !el.Eligible {
		return nil, &CooldownError{
			Scope:          scope,
			LastAttemptAt:  el.LastAttemptAt,
			NextEligibleAt: el.NextEligibleAt,
		}
	}

	c, err := s.store.Issue(ctx, IssueRequest{
		UserID:   userID,
		Scope:    scope,
		Amount:   s.selector.Select(policy),
		TTL:      s.cfg.CodeTTL,
		Cooldown: s.checker.Window(),
	})
	if err != nil {
		return nil, err
	}

	res := &SpinResult{
		Code:         c,
		Label:        s.Label(c),
		BusinessName: name,
	}
	s.notifier.Notify(ctx, Event{
		Kind:         EventCodeIssued,
		Code:         *c,
		Label:        res.Label,
		BusinessName: name,
		OccurredAt:   c.CreatedAt,
	})
	return res, nil
}

// ValidateCode checks a code without consuming it.
func (s *Service) ValidateCode(ctx context.Context, code string, businessID *int64) (Validation, error) {
	return s.validator.Validate(ctx, code, businessID)
}

// RedeemCode consumes a code at order confirmation.
func (s *Service) RedeemCode(ctx context.Context, code string, businessID *int64) (_ *Code, rerr error) {
	defer func() {
		s.redemptions.Add(ctx, 1, metric.WithAttributes(outcome(rerr)))
	}()

	c, err := s.validator.Redeem(ctx, code, businessID)
	if err != nil {
		return nil, err
	}

	var name string
	if id, ok := c.Scope().BusinessID(); ok {
		// Only used to enrich the notification text.
		if b, err := s.businesses.GetBusiness(ctx, id); err == nil {
			name = b.Name
		}
	}
	at := s.now()
	if c.UsedAt != nil {
		at = *c.UsedAt
	}
	s.notifier.Notify(ctx, Event{
		Kind:         EventCodeRedeemed,
		Code:         *c,
		Label:        s.Label(c),
		BusinessName: name,
		OccurredAt:   at,
	})
	return c, nil
}

// History lists the user's codes with derived status and the name of the
// business each code is scoped to.
func (s *Service) History(ctx context.Context, userID int64, businessID *int64, status Status) ([]Entry, error) {
	entries, err := s.store.List(ctx, userID, businessID, status)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string)
	for i := range entries {
		id := entries[i].Code.BusinessID
		if id == nil {
			continue
		}
		name, ok := names[*id]
		if !ok {
			b, err := s.businesses.GetBusiness(ctx, *id)
			switch {
			case err == nil:
				name = b.Name
			case !errors.Is(err, ErrBusinessNotFound):
				return nil, errors.Wrapf(err, "get business %d", *id)
			}
			names[*id] = name
		}
		entries[i].BusinessName = name
	}
	return entries, nil
}

// SpinSettings returns the stored and effective policy of a business.
func (s *Service) SpinSettings(ctx context.Context, businessID int64) (*SpinSettings, error) {
	b, err := s.business(ctx, businessID)
	if err != nil {
		return nil, err
	}
	return &SpinSettings{Business: b, Effective: s.selector.Effective(b.Rewards)}, nil
}

// UpdateSpinSettings replaces the wheel switch and policy of a business.
// An empty reward list makes the business use the global defaults.
func (s *Service) UpdateSpinSettings(ctx context.Context, businessID int64, enabled bool, rewards []string) (*SpinSettings, error) {
	policy, err := ParsePolicy(rewards)
	if err != nil {
		return nil, err
	}
	b, err := s.businesses.UpdateSpinSettings(ctx, businessID, enabled, policy)
	if err != nil {
		if errors.Is(err, ErrBusinessNotFound) {
			return nil, ErrBusinessNotFound
		}
		return nil, errors.Wrap(err, "update spin settings")
	}
	return &SpinSettings{Business: b, Effective: s.selector.Effective(b.Rewards)}, nil
}

// Label renders the human-readable reward of a code, e.g. "₹50 OFF".
func (s *Service) Label(c *Code) string {
	return s.cfg.Currency + c.Amount.String() + " OFF"
}

func (s *Service) business(ctx context.Context, id int64) (*Business, error) {
	if id <= 0 {
		return nil, &ValidationError{Field: "businessId", Message: "must be a positive integer"}
	}
	b, err := s.businesses.GetBusiness(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBusinessNotFound) {
			return nil, ErrBusinessNotFound
		}
		return nil, errors.Wrap(err, "get business")
	}
	return b, nil
}

func outcome(err error) attribute.KeyValue {
	if err == nil {
		return attribute.String("outcome", "ok")
	}
	if r := ReasonOf(err); r != "" {
		return attribute.String("outcome", string(r))
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return attribute.String("outcome", "invalid")
	}
	return attribute.String("outcome", "error")
}
