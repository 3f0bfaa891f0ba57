// Package config loads service settings from defaults, an optional config
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/cimillas/ticket-engine/internal/domain"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Port        string   `mapstructure:"port"`
	Storage     string   `mapstructure:"storage"`
	DatabaseURL string   `mapstructure:"database_url"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	Log      LogConfig      `mapstructure:"log"`
	Identity IdentityConfig `mapstructure:"identity"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Redis    RedisConfig    `mapstructure:"redis"`

	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	PageSize      int           `mapstructure:"page_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IdentityConfig points at the external identity provider. With no URL the
// service falls back to StaticTokens, a map of token to "user_id:role".
// Keys pass through viper and so arrive lowercased.
type IdentityConfig struct {
	URL          string            `mapstructure:"url"`
	APIKey       string            `mapstructure:"api_key"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	StaticTokens map[string]string `mapstructure:"static_tokens"`
}

type PaymentConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ExecuteTimeout time.Duration `mapstructure:"execute_timeout"`
	Currency       string        `mapstructure:"currency"`
	WalletScheme   string        `mapstructure:"wallet_scheme"`
	WalletPayee    string        `mapstructure:"wallet_payee"`
	// CallbackSecret, when set, must accompany payment provider callbacks.
	CallbackSecret string `mapstructure:"callback_secret"`
}

// RedisConfig enables the event cache and the ticket event stream when Addr
// is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Stream   bool          `mapstructure:"stream"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("storage", StorageMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("identity.url", "")
	v.SetDefault("identity.api_key", "")
	v.SetDefault("identity.timeout", 3*time.Second)
	v.SetDefault("identity.static_tokens", map[string]string{})

	v.SetDefault("payment.timeout", 15*time.Minute)
	v.SetDefault("payment.execute_timeout", 10*time.Second)
	v.SetDefault("payment.currency", "USD")
	v.SetDefault("payment.wallet_scheme", "mwallet")
	v.SetDefault("payment.wallet_payee", "")
	v.SetDefault("payment.callback_secret", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", time.Minute)
	v.SetDefault("redis.stream", true)

	v.SetDefault("sweep_interval", 30*time.Second)
	v.SetDefault("page_size", 50)
}

// Load reads settings. An empty path searches ./config and the working
// directory for config.yaml; a missing file there is not an error.
// Environment variables use the key with dots replaced by underscores,
// e.g. PAYMENT_TIMEOUT or REDIS_ADDR.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = splitOrigins(cfg.CORSOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: database_url is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown storage %q", c.Storage)
	}
	if c.Payment.Timeout <= 0 {
		return errors.New("config: payment.timeout must be positive")
	}
	// Outside the in-memory development setup an unsigned callback would let
	// anyone confirm a wallet reservation without paying.
	if c.Payment.CallbackSecret == "" && (c.Storage != StorageMemory || c.Identity.URL != "") {
		return errors.New("config: payment.callback_secret is required with postgres storage or a remote identity provider")
	}
	if c.SweepInterval <= 0 {
		return errors.New("config: sweep_interval must be positive")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.StaticIdentities(); err != nil {
		return err
	}
	return nil
}

// StaticIdentities decodes Identity.StaticTokens.
func (c Config) StaticIdentities() (map[string]domain.Identity, error) {
	out := make(map[string]domain.Identity, len(c.Identity.StaticTokens))
	for token, value := range c.Identity.StaticTokens {
		userID, role, ok := strings.Cut(value, ":")
		if !ok || userID == "" || !domain.Role(role).Valid() {
			return nil, fmt.Errorf("config: static token %q: want user_id:role", token)
		}
		out[token] = domain.Identity{UserID: userID, Role: domain.Role(role)}
	}
	return out, nil
}

// NewLogger builds the process logger from Log.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if c.Log.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
