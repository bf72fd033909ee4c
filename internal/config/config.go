package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "TXSIGNER"

// Config holds the application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Signing    SigningConfig    `mapstructure:"signing"`
	KeyManager KeyManagerConfig `mapstructure:"key_manager"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds the server configuration.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// AuthConfig enables HMAC authentication when APIKey is set.
type AuthConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// UpstreamConfig points at the node requests are forwarded to.
// A zero ChainID is resolved with eth_chainId at start-up.
type UpstreamConfig struct {
	URL     string `mapstructure:"url"`
	ChainID uint64 `mapstructure:"chain_id"`
}

// SigningConfig bounds the retry loops.
type SigningConfig struct {
	MaxSignatureAttempts int `mapstructure:"max_signature_attempts"`
	MaxNonceAttempts     int `mapstructure:"max_nonce_attempts"`
}

// KeyManagerConfig holds the configuration for the key manager.
type KeyManagerConfig struct {
	Type  string      `mapstructure:"type"` // "local" or "vault"
	Local LocalConfig `mapstructure:"local"`
	Vault VaultConfig `mapstructure:"vault"`
}

// LocalConfig holds the configuration for the local key manager.
type LocalConfig struct {
	KeyDir   string `mapstructure:"key_dir"`
	Password string `mapstructure:"password"`
}

// VaultConfig holds the Vault configuration.
type VaultConfig struct {
	Address     string `mapstructure:"address"`
	Token       string `mapstructure:"token"`
	TransitPath string `mapstructure:"transit_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from path, or config.yaml in the working
// directory when path is empty, with TXSIGNER_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.address", "")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.api_secret", "")
	v.SetDefault("upstream.url", "http://127.0.0.1:8545")
	v.SetDefault("upstream.chain_id", 0)
	v.SetDefault("signing.max_signature_attempts", 8)
	v.SetDefault("signing.max_nonce_attempts", 5)
	v.SetDefault("key_manager.type", "local")
	v.SetDefault("key_manager.local.key_dir", "./keystore")
	v.SetDefault("key_manager.local.password", "")
	v.SetDefault("key_manager.vault.address", "http://127.0.0.1:8200")
	v.SetDefault("key_manager.vault.token", "")
	v.SetDefault("key_manager.vault.transit_path", "transit")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("metrics.enabled", true)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.KeyManager.Type {
	case "local", "vault":
	default:
		return errors.Errorf("unknown key manager type %q", c.KeyManager.Type)
	}
	if c.Upstream.URL == "" {
		return errors.New("upstream.url is required")
	}
	if c.Auth.APIKey != "" && c.Auth.APISecret == "" {
		return errors.New("auth.api_secret is required when auth.api_key is set")
	}
	return nil
}
