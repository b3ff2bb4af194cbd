package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DefaultApiUrl = "https://api.xively.com"
)

// Default cache lifetimes per environment
var defaultCacheTTL = map[string]time.Duration{
	EnvDevelopment: 5 * time.Minute,
	EnvProduction:  12 * time.Hour,
}

// ConfigError reports a required configuration value that is missing
type ConfigError struct {
	Name string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s not set", e.Name)
}

// Upstream tunes how the telemetry platform is called. Zero values mean
// "use the default", a zero rate means no rate limit.
type Upstream struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	// Nil means unset, zero turns retries off
	Retries *uint64
}

const defaultRetries uint64 = 2

var defaultUpstream = Upstream{
	Burst:   1,
	Timeout: 30 * time.Second,
}

// WithDefaults fills unset fields with the default upstream tuning
func (u Upstream) WithDefaults() Upstream {
	if u.Burst == 0 {
		u.Burst = defaultUpstream.Burst
	}
	if u.Timeout == 0 {
		u.Timeout = defaultUpstream.Timeout
	}
	if u.Retries == nil {
		retries := defaultRetries
		u.Retries = &retries
	}
	return u
}

// RetryCount returns the configured retries, or the default when unset
func (u Upstream) RetryCount() uint64 {
	if u.Retries == nil {
		return defaultRetries
	}
	return *u.Retries
}

// Config is the process wide configuration. It is built once at startup
// and passed by value, never mutated afterwards.
type Config struct {
	ProductId   string
	ReadApiKey  string
	ApiBaseUrl  string
	Environment string
	CacheTTL    time.Duration

	// Base64 encoded 32 byte key for cookie encryption
	SessionKey string
	// True when no SESSION_SECRET was configured and SessionKey is random
	EphemeralSessionKey bool

	Port         int
	CacheBackend string
	RedisAddr    string
	FlushToken   string
	Upstream     Upstream
}

// Params holds the raw values collected from flags and environment
type Params struct {
	ProductId     string
	ApiKey        string
	ApiUrl        string
	SessionSecret string
	Environment   string
	CacheTTL      time.Duration
	ConfigPath    string
	Port          int
	CacheBackend  string
	RedisAddr     string
	FlushToken    string
	Upstream      Upstream
}

// TomlEnvironment holds per environment settings from the TOML file
type TomlEnvironment struct {
	CacheTTL string `toml:"cache_ttl"`
}

// TomlUpstream holds upstream tuning from the TOML file
type TomlUpstream struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	Timeout           string  `toml:"timeout"`
	Retries           *uint64 `toml:"retries"`
}

// TomlConfig represents the top-level configuration file
type TomlConfig struct {
	Environments map[string]TomlEnvironment `toml:"environments"`
	Upstream     TomlUpstream               `toml:"upstream"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// New validates the params and builds the process configuration. Values
// set through flags or the environment win over the TOML file.
func New(p Params) (Config, error) {
	cfg := Config{
		ProductId:    strings.TrimSpace(p.ProductId),
		ReadApiKey:   strings.TrimSpace(p.ApiKey),
		ApiBaseUrl:   strings.TrimRight(strings.TrimSpace(p.ApiUrl), "/"),
		Environment:  strings.ToLower(strings.TrimSpace(p.Environment)),
		Port:         p.Port,
		CacheBackend: p.CacheBackend,
		RedisAddr:    p.RedisAddr,
		FlushToken:   p.FlushToken,
		Upstream:     p.Upstream,
	}

	if cfg.ProductId == "" {
		return Config{}, &ConfigError{Name: "PRODUCT_ID"}
	}
	if cfg.ReadApiKey == "" {
		return Config{}, &ConfigError{Name: "API_KEY"}
	}
	if cfg.ApiBaseUrl == "" {
		return Config{}, &ConfigError{Name: "API_URL"}
	}

	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}
	if _, ok := defaultCacheTTL[cfg.Environment]; !ok {
		return Config{}, fmt.Errorf("unknown environment %q", cfg.Environment)
	}

	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "memory"
	}
	if cfg.CacheBackend != "memory" && cfg.CacheBackend != "redis" {
		return Config{}, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
	if cfg.CacheBackend == "redis" && cfg.RedisAddr == "" {
		return Config{}, &ConfigError{Name: "REDIS_ADDR"}
	}

	var file *TomlConfig
	if p.ConfigPath != "" {
		loaded, err := LoadConfig(p.ConfigPath)
		if err != nil {
			return Config{}, err
		}
		file = loaded
	}

	ttl, err := resolveCacheTTL(p.CacheTTL, cfg.Environment, file)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTL = ttl

	if err := applyUpstreamFile(&cfg.Upstream, file); err != nil {
		return Config{}, err
	}
	cfg.Upstream = cfg.Upstream.WithDefaults()

	if p.SessionSecret == "" {
		log.Warn("You should set a SESSION_SECRET, sessions will not survive a restart")
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return Config{}, fmt.Errorf("failed to generate session key: %w", err)
		}
		cfg.SessionKey = base64.StdEncoding.EncodeToString(key)
		cfg.EphemeralSessionKey = true
	} else {
		sum := sha256.Sum256([]byte(p.SessionSecret))
		cfg.SessionKey = base64.StdEncoding.EncodeToString(sum[:])
	}

	return cfg, nil
}

// Development reports whether the process runs with development settings
func (c Config) Development() bool {
	return c.Environment == EnvDevelopment
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func resolveCacheTTL(flag time.Duration, environment string, file *TomlConfig) (time.Duration, error) {
	if flag > 0 {
		return flag, nil
	}
	if file != nil {
		if env, ok := file.Environments[environment]; ok && env.CacheTTL != "" {
			ttl, err := time.ParseDuration(env.CacheTTL)
			if err != nil {
				return 0, fmt.Errorf("invalid cache_ttl for %s: %w", environment, err)
			}
			if ttl <= 0 {
				return 0, fmt.Errorf("cache_ttl for %s must be positive", environment)
			}
			return ttl, nil
		}
	}
	return defaultCacheTTL[environment], nil
}

func applyUpstreamFile(up *Upstream, file *TomlConfig) error {
	if file == nil {
		return nil
	}
	if up.RequestsPerSecond == 0 {
		up.RequestsPerSecond = file.Upstream.RequestsPerSecond
	}
	if up.Burst == 0 {
		up.Burst = file.Upstream.Burst
	}
	if up.Retries == nil {
		up.Retries = file.Upstream.Retries
	}
	if up.Timeout == 0 && file.Upstream.Timeout != "" {
		timeout, err := time.ParseDuration(file.Upstream.Timeout)
		if err != nil {
			return fmt.Errorf("invalid upstream timeout: %w", err)
		}
		up.Timeout = timeout
	}
	return nil
}
