package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:         "0.0.0.0:8080",
		DatabaseURL:  "postgres://localhost/spin",
		APIKeyPepper: "pepper",
		Spin: SpinConfig{
			Cooldown:       24 * time.Hour,
			CodeTTL:        24 * time.Hour,
			DefaultRewards: []string{"10", "20", "50"},
		},
		RateLimit: RateLimitConfig{Max: 100, Window: time.Minute},
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")
	t.Setenv("REDIS_URL", "redis://:secret@redis.internal:6380/0")

	var cfg Config
	cfg.Addr = "0.0.0.0:8080"
	require.NoError(t, cfg.applyPlatformDefaults())

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
}

func TestApplyPlatformDefaults_ExplicitWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")
	t.Setenv("REDIS_URL", "redis://redis.internal:6380")

	cfg := validConfig()
	cfg.Addr = "127.0.0.1:7000"
	cfg.Redis.Addr = "localhost:6379"
	require.NoError(t, cfg.applyPlatformDefaults())

	assert.Equal(t, "postgres://localhost/spin", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{name: "NoDatabase", mutate: func(c *Config) { c.DatabaseURL = "" }, errMsg: "database URL"},
		{name: "NoPepper", mutate: func(c *Config) { c.APIKeyPepper = "" }, errMsg: "pepper"},
		{name: "ZeroCooldown", mutate: func(c *Config) { c.Spin.Cooldown = 0 }, errMsg: "cooldown"},
		{name: "BadRewards", mutate: func(c *Config) { c.Spin.DefaultRewards = []string{"10", "ten"} }, errMsg: "default rewards"},
		{name: "NoRewards", mutate: func(c *Config) { c.Spin.DefaultRewards = nil }, errMsg: "at least one"},
		{name: "NoRateLimit", mutate: func(c *Config) { c.RateLimit.Max = 0 }, errMsg: "rate limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDefaultRewards(t *testing.T) {
	cfg := validConfig()
	cfg.Spin.DefaultRewards = []string{" 25 ", "75.5"}
	p, err := cfg.DefaultRewards()
	require.NoError(t, err)
	assert.Equal(t, []string{"25", "75.5"}, p.Strings())
}

func TestNotifyConfigMapping(t *testing.T) {
	cfg := NotifyConfig{
		Timeout:     time.Second,
		MaxInFlight: 8,
		Email:       EmailConfig{AccessKeyID: "id", AccessKeySecret: "secret", AccountName: "noreply@example.com"},
		SMS:         SMSConfig{AccessKeyID: "id", AccessKeySecret: "secret"},
		Kafka:       KafkaConfig{Brokers: []string{"kafka:9092"}, Topic: "codes"},
	}

	d := cfg.dispatcher()
	assert.Equal(t, time.Second, d.Timeout)
	assert.Equal(t, int64(8), d.MaxInFlight)
	assert.True(t, cfg.Email.notify().Enabled())
	assert.False(t, cfg.SMS.notify().Enabled(), "template code is required")
	assert.True(t, cfg.Kafka.notify().Enabled())
}
