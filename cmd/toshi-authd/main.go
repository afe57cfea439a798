package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/toshiapp/toshi-auth-go/pkg/config"
	"github.com/toshiapp/toshi-auth-go/pkg/logger"
	"github.com/toshiapp/toshi-auth-go/pkg/metrics"
	"github.com/toshiapp/toshi-auth-go/pkg/persistence/factory"
	"github.com/toshiapp/toshi-auth-go/pkg/server"
	"github.com/toshiapp/toshi-auth-go/pkg/verifier"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "toshi-authd",
		Usage: "Verifies Toshi signed requests",
		Description: `An HTTP server that accepts requests carrying Token-ID-Address,
Token-Signature and Token-Timestamp headers.

Requests are accepted when the signature recovers to the claimed address,
the timestamp is inside the configured window and the signature has not
been used before.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file. Flags override values from the file",
				EnvVars: []string{config.EnvToshiConfigFile},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvToshiPort},
			},
			&cli.DurationFlag{
				Name:    "timestamp-window",
				Value:   config.DefaultTimestampWindow,
				Usage:   "Allowed distance between Token-Timestamp and the server clock",
				EnvVars: []string{config.EnvToshiTimestampWindow},
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Value:   "badger",
				Usage:   "Replay guard storage: memory, badger or redis",
				EnvVars: []string{config.EnvToshiPersistenceType},
			},
			&cli.StringFlag{
				Name:    "badger-path",
				Value:   config.DefaultBadgerPath,
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvToshiBadgerPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis host:port",
				EnvVars: []string{config.EnvToshiRedisAddress},
			},
			&cli.Float64Flag{
				Name:  "requests-per-second",
				Usage: "Per address rate limit, 0 disables it",
			},
			&cli.IntFlag{
				Name:  "burst",
				Value: 10,
				Usage: "Per address burst size",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write logs to this rotated file",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvToshiVerbose},
			},
		},
		Action: runAuthServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runAuthServer(c *cli.Context) error {
	cfg, err := parseAuthServerConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug, FilePath: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	store, err := factory.New(&cfg.Persistence, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Warnw("Failed to close persistence", "error", err)
		}
	}()

	m := metrics.New(metrics.DefaultNamespace)
	v := verifier.NewVerifier(verifier.Config{
		Window:  cfg.TimestampWindow,
		Replay:  store,
		Metrics: m,
		Logger:  l,
	})

	srv, err := server.NewServer(&server.Config{
		Port:              cfg.Port,
		Verifier:          v,
		Health:            store,
		Metrics:           m,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Logger:            l,
	})
	if err != nil {
		return err
	}

	if cfg.Verbose {
		l.Sugar().Infow("Auth server configuration",
			"port", cfg.Port,
			"timestamp_window", cfg.TimestampWindow.String(),
			"persistence", cfg.Persistence.Type,
			"requests_per_second", cfg.RequestsPerSecond,
			"burst", cfg.Burst)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	l.Sugar().Infow("Auth server running", "port", cfg.Port)
	l.Sugar().Infow("Available endpoints",
		"whoami", "ANY /v1/whoami",
		"timestamp", "GET /v1/timestamp",
		"health", "GET /healthz",
		"metrics", "GET /metrics")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	l.Sugar().Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// parseAuthServerConfig starts from the config file, or the defaults, and
// applies every flag that was set explicitly
func parseAuthServerConfig(c *cli.Context) (*config.AuthServerConfig, error) {
	cfg := config.DefaultAuthServerConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadAuthServerConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("timestamp-window") {
		cfg.TimestampWindow = c.Duration("timestamp-window")
	}
	if c.IsSet("persistence-type") {
		cfg.Persistence.Type = c.String("persistence-type")
	}
	if c.IsSet("badger-path") {
		cfg.Persistence.BadgerPath = c.String("badger-path")
	}
	if c.IsSet("redis-address") {
		cfg.Persistence.RedisAddress = c.String("redis-address")
	}
	if c.IsSet("requests-per-second") {
		cfg.RequestsPerSecond = c.Float64("requests-per-second")
	}
	if c.IsSet("burst") || cfg.Burst == 0 {
		cfg.Burst = c.Int("burst")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}
	if c.Bool("verbose") {
		cfg.Verbose = true
		cfg.Debug = true
	}
	return cfg, nil
}
