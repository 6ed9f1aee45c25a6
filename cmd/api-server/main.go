package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/spin-rewards/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		lg.Info("Config loaded",
			zap.Duration("spin.cooldown", cfg.Spin.Cooldown),
			zap.Duration("spin.code_ttl", cfg.Spin.CodeTTL),
			zap.Bool("redis", cfg.Redis.Addr != ""),
		)
		return appkg.Run(ctx, lg, m, cfg)
	})
}
