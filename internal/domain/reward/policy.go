package reward

import (
	"math/rand/v2"
	"strings"

	"github.com/ecodeclub/ekit/slice"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// DefaultRewards is the global reward set used when a business has no
// usable policy of its own.
var DefaultRewards = Policy{
	decimal.NewFromInt(10),
	decimal.NewFromInt(20),
	decimal.NewFromInt(50),
	decimal.NewFromInt(100),
	decimal.NewFromInt(200),
	decimal.NewFromInt(500),
}

// MaxAmount is the first amount discount_codes.amount NUMERIC(12,2) cannot
// hold.
var MaxAmount = decimal.New(1, 10)

// Policy is an ordered set of discount amounts a spin may grant.
type Policy []decimal.Decimal

// CheckAmount reports why d cannot be issued as a code amount: it must be
// positive, have at most two decimal places and stay below MaxAmount.
func CheckAmount(d decimal.Decimal) error {
	switch {
	case !d.IsPositive():
		return errors.New("must be positive")
	case !d.Equal(d.Round(2)):
		return errors.New("at most two decimal places")
	case d.GreaterThanOrEqual(MaxAmount):
		return errors.New("must be less than " + MaxAmount.String())
	}
	return nil
}

// Sanitize drops amounts that fail CheckAmount, keeping the original order.
func (p Policy) Sanitize() Policy {
	return slice.FilterMap(p, func(_ int, d decimal.Decimal) (decimal.Decimal, bool) {
		return d, CheckAmount(d) == nil
	})
}

// Strings formats the amounts for display and configuration round-trips.
func (p Policy) Strings() []string {
	return slice.Map(p, func(_ int, d decimal.Decimal) string {
		return d.String()
	})
}

// ParsePolicy parses decimal strings into a Policy. Unlike DecodePolicy it
// is strict: any entry failing CheckAmount is an error.
func ParsePolicy(values []string) (Policy, error) {
	p := make(Policy, 0, len(values))
	for _, v := range values {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, &ValidationError{Field: "rewards", Message: "not a number: " + v}
		}
		if err := CheckAmount(d); err != nil {
			return nil, &ValidationError{Field: "rewards", Message: err.Error() + ": " + v}
		}
		p = append(p, d)
	}
	return p, nil
}

// DecodePolicy reads a stored JSON array of amounts. Entries may be numbers
// or numeric strings; anything else, including amounts failing CheckAmount,
// is skipped. A null or empty document yields an empty policy.
func DecodePolicy(raw []byte) (Policy, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(raw)
	if d.Next() == jx.Null {
		return nil, nil
	}

	var p Policy
	if err := d.Arr(func(d *jx.Decoder) error {
		var s string
		switch d.Next() {
		case jx.Number:
			n, err := d.Num()
			if err != nil {
				return err
			}
			s = n.String()
		case jx.String:
			v, err := d.Str()
			if err != nil {
				return err
			}
			s = strings.TrimSpace(v)
		default:
			return d.Skip()
		}
		v, err := decimal.NewFromString(s)
		if err != nil || CheckAmount(v) != nil {
			return nil
		}
		p = append(p, v)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode reward policy")
	}
	return p, nil
}

// EncodePolicy writes p as a JSON array of numbers.
func EncodePolicy(p Policy) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, d := range p {
		e.Num(jx.Num(d.String()))
	}
	e.ArrEnd()
	return e.Bytes()
}

// Selector picks a reward amount uniformly among the allowed values.
type Selector struct {
	defaults Policy
	intn     func(n int) int
}

// NewSelector returns a Selector falling back to defaults for businesses
// without a usable policy. defaults must contain a positive amount.
func NewSelector(defaults Policy) (*Selector, error) {
	defaults = defaults.Sanitize()
	if len(defaults) == 0 {
		return nil, errors.New("default reward set is empty")
	}
	return &Selector{defaults: defaults, intn: rand.IntN}, nil
}

// Defaults returns the global default reward set.
func (s *Selector) Defaults() Policy {
	return s.defaults
}

// Effective returns the amounts a spin under p can yield.
func (s *Selector) Effective(p Policy) Policy {
	if p = p.Sanitize(); len(p) > 0 {
		return p
	}
	return s.defaults
}

// Select picks one amount from the effective policy.
func (s *Selector) Select(p Policy) decimal.Decimal {
	allowed := s.Effective(p)
	return allowed[s.intn(len(allowed))]
}
