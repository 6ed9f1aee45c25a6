package app

import (
	"net/url"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/spin-rewards/internal/domain/reward"
	"github.com/xenking/spin-rewards/internal/notify"
)

// Config holds the complete application configuration, loadable from
// environment variables (SPIN_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SPIN_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SPIN_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Spin         SpinConfig
	Notify       NotifyConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// SpinConfig controls cooldowns, code lifetime and reward defaults.
type SpinConfig struct {
	Cooldown       time.Duration `default:"24h" usage:"Minimum time between spins of a user in one scope"`
	CodeTTL        time.Duration `default:"24h" usage:"Lifetime of an issued code" flag:"code-ttl"`
	CodePrefix     string        `default:"SPIN-" usage:"Prefix of generated codes"`
	DefaultRewards []string      `default:"10,20,50,100,200,500" usage:"Reward amounts used when a business has none"`
	Currency       string        `default:"₹" usage:"Currency symbol in reward labels"`
}

// NotifyConfig controls notification delivery.
type NotifyConfig struct {
	Timeout     time.Duration `default:"5s" usage:"Deadline for delivering one event across channels"`
	MaxInFlight int64         `default:"64" usage:"Concurrent deliveries before events are dropped"`
	Expo        ExpoConfig
	Email       EmailConfig
	SMS         SMSConfig
	Kafka       KafkaConfig
}

// ExpoConfig controls the Expo push channel.
type ExpoConfig struct {
	Enabled     bool   `default:"true" usage:"Send push notifications through Expo"`
	URL         string `default:"https://exp.host/--/api/v2/push/send" usage:"Expo push endpoint"`
	AccessToken string `usage:"Expo access token for enhanced push security"`
}

// EmailConfig controls the Aliyun DirectMail channel. It is off unless
// credentials and a sender are set.
type EmailConfig struct {
	AccessKeyID     string `usage:"Aliyun access key id"`
	AccessKeySecret string `usage:"Aliyun access key secret"`
	AccountName     string `usage:"Verified DirectMail sender address"`
	FromAlias       string `default:"Spin Rewards" usage:"Sender display name"`
}

// SMSConfig controls the Aliyun SMS channel.
type SMSConfig struct {
	AccessKeyID     string `usage:"Aliyun access key id"`
	AccessKeySecret string `usage:"Aliyun access key secret"`
	SignName        string `usage:"SMS signature"`
	TemplateCode    string `usage:"SMS template with code and amount parameters"`
}

// KafkaConfig controls publishing of code lifecycle events.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"spin-rewards.codes" usage:"Topic for code events"`
}

// RedisConfig enables the shared rate limiter.
type RedisConfig struct {
	Addr     string `usage:"Redis address (host:port); empty keeps rate limits per instance"`
	Password string `usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SPIN",
		Files:     []string{"config.yaml", "/etc/spin-rewards/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables such as
// DATABASE_URL, PORT and REDIS_URL onto the SPIN_ configuration.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	if raw := os.Getenv("REDIS_URL"); raw != "" && c.Redis.Addr == "" {
		u, err := url.Parse(raw)
		if err != nil {
			return errors.Wrap(err, "parse REDIS_URL")
		}
		c.Redis.Addr = u.Host
		if p, ok := u.User.Password(); ok {
			c.Redis.Password = p
		}
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SPIN_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set SPIN_API_KEY_PEPPER")
	}
	if c.Spin.Cooldown <= 0 || c.Spin.CodeTTL <= 0 {
		return errors.New("spin cooldown and code TTL must be positive")
	}
	if _, err := c.DefaultRewards(); err != nil {
		return err
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// DefaultRewards parses the configured global reward set.
func (c *Config) DefaultRewards() (reward.Policy, error) {
	p, err := reward.ParsePolicy(c.Spin.DefaultRewards)
	if err != nil {
		return nil, errors.Wrap(err, "spin default rewards")
	}
	if len(p.Sanitize()) == 0 {
		return nil, errors.New("spin default rewards: at least one positive amount is required")
	}
	return p, nil
}

func (c NotifyConfig) dispatcher() notify.DispatcherConfig {
	return notify.DispatcherConfig{Timeout: c.Timeout, MaxInFlight: c.MaxInFlight}
}

func (c EmailConfig) notify() notify.EmailConfig {
	return notify.EmailConfig{
		AccessKeyID:     c.AccessKeyID,
		AccessKeySecret: c.AccessKeySecret,
		AccountName:     c.AccountName,
		FromAlias:       c.FromAlias,
	}
}

func (c SMSConfig) notify() notify.SMSConfig {
	return notify.SMSConfig{
		AccessKeyID:     c.AccessKeyID,
		AccessKeySecret: c.AccessKeySecret,
		SignName:        c.SignName,
		TemplateCode:    c.TemplateCode,
	}
}

func (c KafkaConfig) notify() notify.EventsConfig {
	return notify.EventsConfig{Brokers: c.Brokers, Topic: c.Topic}
}
