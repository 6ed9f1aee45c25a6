package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/spin-rewards/internal/domain/auth"
	"github.com/xenking/spin-rewards/internal/domain/reward"
	"github.com/xenking/spin-rewards/internal/domain/user"
	"github.com/xenking/spin-rewards/internal/storage/postgres"
)

type fixtures struct {
	Businesses []reward.Business
	Users      []user.Contact
}

func main() {
	var (
		databaseURL  string
		fixturesFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&fixturesFile, "fixtures-file", "db/seed/fixtures.json", "path to businesses and users JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or SPIN_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SPIN_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SPIN_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SPIN_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SPIN_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, fixturesFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, fixturesFile, apiKey, pepper string) error {
	data, err := os.ReadFile(fixturesFile)
	if err != nil {
		return errors.Wrap(err, "read fixtures file")
	}
	fx, err := parseFixtures(data)
	if err != nil {
		return errors.Wrap(err, "parse fixtures")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	businesses := postgres.NewBusinessRepository(pool)
	for _, b := range fx.Businesses {
		if err := businesses.UpsertBusiness(ctx, b); err != nil {
			return errors.Wrapf(err, "upsert business %d", b.ID)
		}
		slog.Info("upserted business",
			slog.Int64("id", b.ID),
			slog.String("name", b.Name),
			slog.Bool("spin_enabled", b.SpinEnabled),
			slog.Any("rewards", b.Rewards.Strings()),
		)
	}

	users := postgres.NewUserRepository(pool)
	for _, u := range fx.Users {
		if err := users.UpsertUser(ctx, u); err != nil {
			return errors.Wrapf(err, "upsert user %d", u.ID)
		}
		slog.Info("upserted user", slog.Int64("id", u.ID), slog.String("name", u.Name))
	}

	return seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper)
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashHex([]byte(pepper), apiKey),
		Name:    "Default POS and admin key",
		Scopes:  []string{auth.ScopeRedeem, auth.ScopeManageBusiness},
	}
	if err := repo.UpsertAPIKey(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}
	slog.Info("upserted API key", slog.String("id", info.ID), slog.Any("scopes", info.Scopes))
	return nil
}

// parseFixtures reads the seed document. Business rewards use the same
// lenient parsing as stored policies.
func parseFixtures(data []byte) (fixtures, error) {
	var fx fixtures
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "businesses":
			return d.Arr(func(d *jx.Decoder) error {
				b, err := parseBusiness(d)
				if err != nil {
					return err
				}
				fx.Businesses = append(fx.Businesses, b)
				return nil
			})
		case "users":
			return d.Arr(func(d *jx.Decoder) error {
				u, err := parseUser(d)
				if err != nil {
					return err
				}
				fx.Users = append(fx.Users, u)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return fx, err
}

func parseBusiness(d *jx.Decoder) (reward.Business, error) {
	var b reward.Business
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			b.ID, err = d.Int64()
		case "name":
			b.Name, err = d.Str()
		case "spinWheelEnabled":
			b.SpinEnabled, err = d.Bool()
		case "spinDiscounts":
			var raw jx.Raw
			if raw, err = d.Raw(); err != nil {
				return err
			}
			b.Rewards, err = reward.DecodePolicy(raw)
		default:
			err = d.Skip()
		}
		return err
	})
	return b, err
}

func parseUser(d *jx.Decoder) (user.Contact, error) {
	var u user.Contact
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			u.ID, err = d.Int64()
		case "name":
			u.Name, err = d.Str()
		case "email":
			u.Email, err = d.Str()
		case "phone":
			u.Phone, err = d.Str()
		case "pushToken":
			u.PushToken, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return u, err
}
