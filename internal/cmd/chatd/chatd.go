// Package chatd parses chat daemon flags and composes the server entrypoint.
package chatd

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/aeriallens/livechat/internal/platform/cmd"
	server "github.com/aeriallens/livechat/internal/services/chat/app"
)

// Config holds chat daemon configuration.
type Config struct {
	HTTPAddr       string        `env:"AERIALLENS_CHAT_HTTP_ADDR"        envDefault:":8090"`
	StoragePath    string        `env:"AERIALLENS_CHAT_STORAGE_PATH"`
	AdminJWTSecret string        `env:"AERIALLENS_CHAT_ADMIN_JWT_SECRET"`
	ActiveWindow   time.Duration `env:"AERIALLENS_CHAT_ACTIVE_WINDOW"    envDefault:"24h"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "chat HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "sqlite database path, empty for in-memory")
	fs.StringVar(&cfg.AdminJWTSecret, "admin-jwt-secret", cfg.AdminJWTSecret, "secret for admin console tokens, empty disables auth")
	fs.DurationVar(&cfg.ActiveWindow, "active-window", cfg.ActiveWindow, "how long an idle conversation stays listed as active")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the chat backend and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceChat, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:       cfg.HTTPAddr,
			StoragePath:    cfg.StoragePath,
			AdminJWTSecret: cfg.AdminJWTSecret,
			ActiveWindow:   cfg.ActiveWindow,
		}); err != nil {
			return fmt.Errorf("serve chat: %w", err)
		}
		return nil
	})
}
