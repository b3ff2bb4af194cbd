package config_test

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"eggdash/config"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() config.Params {
	return config.Params{
		ProductId:     "prod-1",
		ApiKey:        "read-key",
		ApiUrl:        config.DefaultApiUrl,
		SessionSecret: "secret",
	}
}

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "eggdash.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewRequiresValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *config.Params)
		missing string
	}{
		{name: "product id", mutate: func(p *config.Params) { p.ProductId = "" }, missing: "PRODUCT_ID"},
		{name: "api key", mutate: func(p *config.Params) { p.ApiKey = "  " }, missing: "API_KEY"},
		{name: "api url", mutate: func(p *config.Params) { p.ApiUrl = "" }, missing: "API_URL"},
		{name: "redis address", mutate: func(p *config.Params) { p.CacheBackend = "redis" }, missing: "REDIS_ADDR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(&params)

			_, err := config.New(params)
			var configErr *config.ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Equal(t, tt.missing, configErr.Name)
			assert.Equal(t, tt.missing+" not set", err.Error())
		})
	}
}

func TestNewRejectsUnknownValues(t *testing.T) {
	params := validParams()
	params.Environment = "staging"
	_, err := config.New(params)
	assert.Error(t, err)

	params = validParams()
	params.CacheBackend = "memcached"
	_, err = config.New(params)
	assert.Error(t, err)
}

func TestCacheTTLPerEnvironment(t *testing.T) {
	tests := []struct {
		environment string
		expected    time.Duration
	}{
		{environment: "", expected: 5 * time.Minute},
		{environment: "development", expected: 5 * time.Minute},
		{environment: "Production", expected: 12 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.environment, func(t *testing.T) {
			params := validParams()
			params.Environment = tt.environment

			cfg, err := config.New(params)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.CacheTTL)
		})
	}
}

func TestCacheTTLPrecedence(t *testing.T) {
	path := writeConfig(t, `
[environments.production]
cache_ttl = "1h"

[upstream]
requests_per_second = 5.0
burst = 3
timeout = "10s"
`)

	params := validParams()
	params.Environment = config.EnvProduction
	params.ConfigPath = path

	cfg, err := config.New(params)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 5.0, cfg.Upstream.RequestsPerSecond)
	assert.Equal(t, 3, cfg.Upstream.Burst)
	assert.Equal(t, 10*time.Second, cfg.Upstream.Timeout)
	require.NotNil(t, cfg.Upstream.Retries)
	assert.Equal(t, uint64(2), *cfg.Upstream.Retries)

	params.CacheTTL = 90 * time.Second
	params.Upstream.Burst = 7
	cfg, err = config.New(params)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL, "flag wins over the file")
	assert.Equal(t, 7, cfg.Upstream.Burst)

	// Environments missing from the file keep their default
	params = validParams()
	params.ConfigPath = path
	cfg, err = config.New(params)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}

func TestRetriesCanBeDisabled(t *testing.T) {
	params := validParams()
	params.ConfigPath = writeConfig(t, `
[upstream]
retries = 0
`)
	cfg, err := config.New(params)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cfg.Upstream.RetryCount())

	// A flag set to zero wins over the file
	params.ConfigPath = writeConfig(t, `
[upstream]
retries = 5
`)
	zero := uint64(0)
	params.Upstream.Retries = &zero
	cfg, err = config.New(params)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cfg.Upstream.RetryCount())

	params.Upstream.Retries = nil
	cfg, err = config.New(params)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cfg.Upstream.RetryCount())

	assert.Equal(t, uint64(2), config.Upstream{}.RetryCount())
	assert.Equal(t, uint64(2), *config.Upstream{}.WithDefaults().Retries)
}

func TestBadConfigFile(t *testing.T) {
	params := validParams()
	params.ConfigPath = writeConfig(t, `[environments.development]
cache_ttl = "soon"`)
	_, err := config.New(params)
	assert.Error(t, err)

	params.ConfigPath = filepath.Join(t.TempDir(), "missing.toml")
	_, err = config.New(params)
	assert.Error(t, err)
}

func TestSessionKey(t *testing.T) {
	cfg, err := config.New(validParams())
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("secret"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), cfg.SessionKey)
	assert.False(t, cfg.EphemeralSessionKey)

	hook := logtest.NewGlobal()
	defer hook.Reset()

	params := validParams()
	params.SessionSecret = ""
	first, err := config.New(params)
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.False(t, strings.HasPrefix(entry.Message, "WARN"), "the level is not repeated in the message")

	second, err := config.New(params)
	require.NoError(t, err)

	assert.True(t, first.EphemeralSessionKey)
	assert.NotEqual(t, first.SessionKey, second.SessionKey)
	key, err := base64.StdEncoding.DecodeString(first.SessionKey)
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestNormalisesValues(t *testing.T) {
	params := validParams()
	params.ApiUrl = "http://localhost:8080/ "
	params.Port = 8080

	cfg, err := config.New(params)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.ApiBaseUrl)
	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.True(t, cfg.Development())
}
