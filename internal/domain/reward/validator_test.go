package reward

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	store := newTestStore(repo, NewCodeGenerator(""))
	v := NewValidator(store)
	v.now = func() time.Time { return testNow.Add(time.Minute) }

	c, err := store.Issue(ctx, IssueRequest{
		UserID:   7,
		Scope:    ForBusiness(3),
		Amount:   decimal.NewFromInt(50),
		TTL:      time.Hour,
		Cooldown: 24 * time.Hour,
	})
	require.NoError(t, err)

	res, err := v.Validate(ctx, c.Code, int64p(3))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
	require.NotNil(t, res.Code)
	assert.True(t, decimal.NewFromInt(50).Equal(res.Code.Amount))

	// Validation is read-only.
	again, err := v.Validate(ctx, c.Code, int64p(3))
	require.NoError(t, err)
	assert.True(t, again.Valid)

	_, err = v.Redeem(ctx, c.Code, int64p(3))
	require.NoError(t, err)

	res, err = v.Validate(ctx, c.Code, int64p(3))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonUsed, res.Reason)
}

func TestValidator_Validate(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	repo.put(Code{Code: "SPIN-LIVE", UserID: 7, BusinessID: int64p(3), ExpiresAt: testNow.Add(time.Hour)})
	repo.put(Code{Code: "SPIN-STALE", UserID: 7, ExpiresAt: testNow.Add(-time.Hour)})
	v := NewValidator(newTestStore(repo, sequence("unused")))
	v.now = func() time.Time { return testNow }

	tests := []struct {
		name       string
		code       string
		businessID *int64
		valid      bool
		reason     Reason
	}{
		{name: "valid", code: "SPIN-LIVE", businessID: int64p(3), valid: true},
		{name: "lowercase input", code: "spin-live", businessID: int64p(3), valid: true},
		{name: "no business context", code: "SPIN-LIVE", valid: true},
		{name: "foreign business", code: "SPIN-LIVE", businessID: int64p(4), reason: ReasonNotFound},
		{name: "expired", code: "SPIN-STALE", reason: ReasonExpired},
		{name: "unknown", code: "SPIN-NOPE", reason: ReasonNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(ctx, tt.code, tt.businessID)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}
