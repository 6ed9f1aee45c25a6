package reward

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memRepo is an in-memory Repository with the same atomicity guarantees as
// the PostgreSQL one: a single mutex stands in for row locks.
type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	codes    map[string]*Code
	attempts []Attempt

	createErr error
	creates   int
}

func newMemRepo() *memRepo {
	return &memRepo{codes: make(map[string]*Code)}
}

func (r *memRepo) CreateIssued(_ context.Context, c *Code, cooldown time.Duration) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.creates++
	if r.createErr != nil {
		return nil, r.createErr
	}
	if _, ok := r.codes[c.Code]; ok {
		return nil, ErrCodeCollision
	}
	if last := r.lastAttempt(c.UserID, c.Scope()); last != nil {
		if el := Evaluate(last.CreatedAt, cooldown, c.CreatedAt); !el.Eligible {
			return nil, &CooldownError{Scope: c.Scope(), LastAttemptAt: last.CreatedAt, NextEligibleAt: el.NextEligibleAt}
		}
	}

	r.nextID++
	stored := *c
	stored.ID = r.nextID
	r.codes[stored.Code] = &stored
	r.attempts = append(r.attempts, Attempt{
		ID:        int64(len(r.attempts) + 1),
		UserID:    stored.UserID,
		Scope:     stored.Scope(),
		CodeID:    stored.ID,
		CreatedAt: stored.CreatedAt,
	})
	out := stored
	return &out, nil
}

func (r *memRepo) FindByCode(_ context.Context, code string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	out := *c
	return &out, nil
}

func (r *memRepo) MarkUsed(_ context.Context, code string, businessID *int64, at time.Time) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[code]
	if !ok || c.Used || !c.ExpiresAt.After(at) || !c.RedeemableAt(businessID) {
		return nil, ErrCodeNotFound
	}
	c.Used = true
	usedAt := at
	c.UsedAt = &usedAt
	out := *c
	return &out, nil
}

func (r *memRepo) ListByUser(_ context.Context, userID int64, businessID *int64) ([]Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Code
	for _, c := range r.codes {
		if c.UserID != userID {
			continue
		}
		if businessID != nil && (c.BusinessID == nil || *c.BusinessID != *businessID) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memRepo) LastAttempt(_ context.Context, userID int64, scope Scope) (*Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a := r.lastAttempt(userID, scope); a != nil {
		out := *a
		return &out, nil
	}
	return nil, ErrNoAttempt
}

func (r *memRepo) lastAttempt(userID int64, scope Scope) *Attempt {
	var last *Attempt
	for i := range r.attempts {
		a := &r.attempts[i]
		if a.UserID != userID || a.Scope != scope {
			continue
		}
		if last == nil || !a.CreatedAt.Before(last.CreatedAt) {
			last = a
		}
	}
	return last
}

// put stores a code directly, bypassing issuance.
func (r *memRepo) put(c Code) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	c.ID = r.nextID
	r.codes[c.Code] = &c
}

type memBusinesses struct {
	byID map[int64]*Business
	err  error
}

func newMemBusinesses(bs ...Business) *memBusinesses {
	m := &memBusinesses{byID: make(map[int64]*Business, len(bs))}
	for i := range bs {
		m.byID[bs[i].ID] = &bs[i]
	}
	return m
}

func (m *memBusinesses) GetBusiness(_ context.Context, id int64) (*Business, error) {
	if m.err != nil {
		return nil, m.err
	}
	b, ok := m.byID[id]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	out := *b
	return &out, nil
}

func (m *memBusinesses) UpdateSpinSettings(_ context.Context, id int64, enabled bool, rewards Policy) (*Business, error) {
	b, ok := m.byID[id]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	b.SpinEnabled = enabled
	b.Rewards = rewards
	out := *b
	return &out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) kinds() []EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventKind, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

// sequence returns a Generator yielding codes in order, repeating the last.
func sequence(codes ...string) Generator {
	var (
		mu sync.Mutex
		i  int
	)
	return GeneratorFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[min(i, len(codes)-1)]
		i++
		return c
	})
}

func int64p(v int64) *int64 {
	return &v
}
