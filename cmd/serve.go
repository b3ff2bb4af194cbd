package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eggdash/cache"
	"eggdash/config"
	"eggdash/dashboard"
	"eggdash/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the egg dashboard",
		Description: `Starts the egg dashboard HTTP server.

Serves the JSON endpoints of the dashboard on the specified or default port.
Aggregated feed listings are cached in memory or in redis for the configured
cache lifetime, 12 hours in production and 5 minutes in development unless
overridden.`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "product-id",
				Usage:   "Xively product id of the Air Quality Egg",
				EnvVars: []string{"PRODUCT_ID"},
			},
			&cli.StringFlag{
				Name:    "session-secret",
				Usage:   "Secret used to encrypt session cookies",
				EnvVars: []string{"SESSION_SECRET"},
			},
			&cli.StringFlag{
				Name:    "environment",
				Aliases: []string{"e"},
				Value:   config.EnvDevelopment,
				Usage:   "Runtime environment, development or production",
				EnvVars: []string{"APP_ENV"},
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "Lifetime of cached listings, overrides the environment default",
				EnvVars: []string{"CACHE_TTL"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Optional TOML configuration file",
				EnvVars: []string{"EGGDASH_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   3000,
				Usage:   "Port to listen on",
				EnvVars: []string{"PORT"},
			},
			&cli.StringFlag{
				Name:    "cache-backend",
				Value:   "memory",
				Usage:   "Cache backend, memory or redis",
				EnvVars: []string{"CACHE_BACKEND"},
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address (host:port) for the redis cache backend",
				EnvVars: []string{"REDIS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "flush-token",
				Usage:   "Token required by /cache/flush, unset leaves the endpoint open",
				EnvVars: []string{"FLUSH_TOKEN"},
			},
		}, upstreamFlags()...),
		Action: func(ctx *cli.Context) error {
			cfg, err := config.New(config.Params{
				ProductId:     ctx.String("product-id"),
				ApiKey:        ctx.String("api-key"),
				ApiUrl:        ctx.String("api-url"),
				SessionSecret: ctx.String("session-secret"),
				Environment:   ctx.String("environment"),
				CacheTTL:      ctx.Duration("cache-ttl"),
				ConfigPath:    ctx.String("config"),
				Port:          ctx.Int("port"),
				CacheBackend:  ctx.String("cache-backend"),
				RedisAddr:     ctx.String("redis-addr"),
				FlushToken:    ctx.String("flush-token"),
				Upstream:      upstreamFromFlags(ctx),
			})
			if err != nil {
				return err
			}

			if cfg.FlushToken == "" {
				log.Warn("/cache/flush is open to anyone, set FLUSH_TOKEN to protect it")
			}

			backend, closeBackend, err := newBackend(ctx.Context, cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			client := newClient(cfg.ApiBaseUrl, cfg.ReadApiKey, cfg.Upstream)
			svc := dashboard.NewService(cfg, cache.New(backend), client)

			log.WithFields(log.Fields{
				"environment": cfg.Environment,
				"cache_ttl":   cfg.CacheTTL,
				"backend":     cfg.CacheBackend,
				"api_url":     cfg.ApiBaseUrl,
			}).Info("Starting eggdash")

			app := server.Server(&server.ServerConfig{
				Config:  cfg,
				Service: svc,
			})

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(c)

			go func() {
				<-c
				log.Info("Gracefully shutting down...")
				if err := app.ShutdownWithTimeout(60 * time.Second); err != nil {
					log.WithError(err).Error("Shutdown failed")
				}
			}()

			log.Infof("Listening on %s", cfg.ListenAddr())
			if err := app.Listen(cfg.ListenAddr()); err != nil {
				return fmt.Errorf("server stopped: %w", err)
			}

			log.Info("Done!")
			return nil
		},
	}
}

// newBackend picks the cache backend and returns a func releasing it
func newBackend(ctx context.Context, cfg config.Config) (cache.Backend, func(), error) {
	switch cfg.CacheBackend {
	case "redis":
		backend, err := cache.NewRedisBackend(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() {
			if err := backend.Close(); err != nil {
				log.WithError(err).Warn("Failed to close redis connection")
			}
		}, nil
	default:
		return cache.NewMemoryBackend(), func() {}, nil
	}
}
