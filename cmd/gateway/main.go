// Command gateway runs the AKP authentication gateway: it verifies
// edge-layer assertions on every request and brokers the Facebook OAuth
// authorization-code flow for asserted users.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/akp/postbufferer/internal/server"
	"github.com/akp/postbufferer/pkg/access"
	"github.com/akp/postbufferer/pkg/clients/postgres"
	"github.com/akp/postbufferer/pkg/clients/redis"
	"github.com/akp/postbufferer/pkg/config"
	"github.com/akp/postbufferer/pkg/facebook"
)

// gatewayConfig aggregates all component configuration. Nested structs
// carry their own env tags, so a flat environment configures the whole
// process; the optional YAML file mirrors the same shape.
type gatewayConfig struct {
	// LogLevel sets the minimum log level: debug, info, warn, or error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`

	Server server.Config `yaml:"server"`

	// Access verification settings.
	AccessAudience string `yaml:"access_audience" env:"CF_ACCESS_AUD" required:"true"`

	// AccessTeam is the edge layer's team name. The signing key endpoint
	// is derived from it unless AccessCertsURL overrides it outright.
	AccessTeam      string        `yaml:"access_team" env:"CF_ACCESS_TEAM"`
	AccessCertsURL  string        `yaml:"access_certs_url" env:"CF_ACCESS_CERTS_URL"`
	AccessKeySetTTL time.Duration `yaml:"access_keyset_ttl" env:"CF_ACCESS_KEYSET_TTL"`

	Facebook facebook.Config `yaml:"facebook"`

	// StateTTL bounds how long a pending login's CSRF state is honored.
	StateTTL time.Duration `yaml:"state_ttl" env:"FB_STATE_TTL" envDefault:"10m"`

	Redis    redis.Config    `yaml:"redis"`
	Postgres postgres.Config `yaml:"postgres"`
}

func (c *gatewayConfig) certsURL() (string, error) {
	if c.AccessCertsURL != "" {
		return c.AccessCertsURL, nil
	}
	if c.AccessTeam == "" {
		return "", fmt.Errorf("either CF_ACCESS_TEAM or CF_ACCESS_CERTS_URL must be set")
	}
	return fmt.Sprintf("https://%s.cloudflareaccess.com/cdn-cgi/access/certs", c.AccessTeam), nil
}

// postgresConfigured reports whether any database target was provided.
// The database backs diagnostics only, so it stays optional.
func (c *gatewayConfig) postgresConfigured() bool {
	return c.Postgres.URI != "" || c.Postgres.Database != ""
}

func main() {
	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "gateway.yaml"
	}
	cfg := config.MustLoad[gatewayConfig](config.New().WithFile(configFile))

	setupLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("gateway: fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg gatewayConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	certsURL, err := cfg.certsURL()
	if err != nil {
		return err
	}

	verifier := access.NewVerifier(
		access.NewKeySetCache(certsURL, cfg.AccessKeySetTTL, nil),
		access.VerifierConfig{Audience: cfg.AccessAudience},
	)

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	var db *postgres.Client
	if cfg.postgresConfigured() {
		db, err = postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
	} else {
		slog.Info("gateway: no database configured, diagnostics route disabled")
	}

	broker, err := facebook.NewBroker(cfg.Facebook,
		facebook.NewStateStore(redisClient, cfg.StateTTL), nil)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server, server.Deps{
		Verifier: verifier,
		Broker:   broker,
		Redis:    redisClient,
		DB:       db,
	})

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		slog.Info("gateway: shutdown signal received")
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("gateway: shutdown: %w", err)
	}
	slog.Info("gateway: stopped")
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
