package cmd

import (
	"strings"

	"eggdash/config"
	"eggdash/xively"

	"github.com/urfave/cli/v2"
)

// Flags needed to talk to the telemetry platform
func upstreamFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "Read only Xively API key",
			EnvVars: []string{"API_KEY"},
		},
		&cli.StringFlag{
			Name:    "api-url",
			Value:   config.DefaultApiUrl,
			Usage:   "Base URL of the Xively API",
			EnvVars: []string{"API_URL"},
		},
		&cli.Float64Flag{
			Name:    "upstream-rps",
			Usage:   "Maximum requests per second sent to the platform, 0 for no limit",
			EnvVars: []string{"UPSTREAM_RPS"},
		},
		&cli.IntFlag{
			Name:    "upstream-burst",
			Usage:   "Burst size of the upstream rate limiter (default 1)",
			EnvVars: []string{"UPSTREAM_BURST"},
		},
		&cli.DurationFlag{
			Name:    "upstream-timeout",
			Usage:   "Timeout of a single upstream request (default 30s)",
			EnvVars: []string{"UPSTREAM_TIMEOUT"},
		},
		&cli.Uint64Flag{
			Name:    "upstream-retries",
			Usage:   "Retries of upstream requests that failed before getting a response (default 2, 0 disables retries)",
			EnvVars: []string{"UPSTREAM_RETRIES"},
		},
	}
}

// Unset upstream flags stay zero so the TOML file or the defaults apply
func upstreamFromFlags(ctx *cli.Context) config.Upstream {
	upstream := config.Upstream{
		RequestsPerSecond: ctx.Float64("upstream-rps"),
		Burst:             ctx.Int("upstream-burst"),
		Timeout:           ctx.Duration("upstream-timeout"),
	}
	// Zero retries is a valid choice, so only a set flag counts
	if ctx.IsSet("upstream-retries") {
		retries := ctx.Uint64("upstream-retries")
		upstream.Retries = &retries
	}
	return upstream
}

func newClient(apiUrl string, apiKey string, upstream config.Upstream) *xively.Client {
	return xively.NewClient(xively.ClientConfig{
		BaseUrl:           apiUrl,
		ApiKey:            apiKey,
		RequestsPerSecond: upstream.RequestsPerSecond,
		Burst:             upstream.Burst,
		Timeout:           upstream.Timeout,
		Retries:           upstream.RetryCount(),
	})
}

// clientFromFlags builds a platform client for the one shot commands
func clientFromFlags(ctx *cli.Context) (*xively.Client, error) {
	apiKey := strings.TrimSpace(ctx.String("api-key"))
	if apiKey == "" {
		return nil, &config.ConfigError{Name: "API_KEY"}
	}
	apiUrl := strings.TrimRight(strings.TrimSpace(ctx.String("api-url")), "/")
	if apiUrl == "" {
		return nil, &config.ConfigError{Name: "API_URL"}
	}
	return newClient(apiUrl, apiKey, upstreamFromFlags(ctx).WithDefaults()), nil
}
