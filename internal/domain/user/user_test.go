package user

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	tokens map[int64]string
	err    error
}

func (m *mockRepo) GetContact(_ context.Context, id int64) (*Contact, error) {
	token, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Contact{ID: id, PushToken: token}, nil
}

func (m *mockRepo) SetPushToken(_ context.Context, id int64, token string) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.tokens[id]; !ok {
		return ErrNotFound
	}
	m.tokens[id] = token
	return nil
}

func TestValidPushToken(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]", true},
		{"ExponentPushToken[]", true},
		{"ExponentPushToken[abc", false},
		{"ExpoPushToken[abc]", false},
		{"", false},
		{"fcm:abcdef", false},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidPushToken(tt.token))
		})
	}
}

func TestService_RegisterPushToken(t *testing.T) {
	repo := &mockRepo{tokens: map[int64]string{7: ""}}
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.RegisterPushToken(ctx, 7, " ExponentPushToken[abc] "))
	assert.Equal(t, "ExponentPushToken[abc]", repo.tokens[7])

	assert.ErrorIs(t, svc.RegisterPushToken(ctx, 7, "bogus"), ErrInvalidPushToken)
	assert.Equal(t, "ExponentPushToken[abc]", repo.tokens[7], "rejected token must not be stored")

	assert.ErrorIs(t, svc.RegisterPushToken(ctx, 8, "ExponentPushToken[abc]"), ErrNotFound)

	repo.err = errors.New("db down")
	err := svc.RegisterPushToken(ctx, 7, "ExponentPushToken[def]")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
