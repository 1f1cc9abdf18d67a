// Package config loads server settings from defaults, an optional YAML file
// and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultAESKey is the key shared with the bundled browser collector.
const DefaultAESKey = "7f9K2b$pQ!4z@1Yd"

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are tried in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/cursorguard/config.yaml"}

type Config struct {
	ServerAddr   string   `koanf:"server_addr" validate:"required"`
	TrustProxy   bool     `koanf:"trust_proxy"`
	MaxBodyBytes int64    `koanf:"max_body_bytes" validate:"gt=0"` // bytes for /predict payload
	IPHashSecret string   `koanf:"ip_hash_secret"`
	Outputs      []string `koanf:"outputs" validate:"dive,oneof=log kafka postgres"` // enabled verdict sinks

	ModelPath         string `koanf:"model_path" validate:"required"`
	AESKey            string `koanf:"aes_key"`
	EncryptionEnabled bool   `koanf:"encryption_enabled"`
	NormalizerPolicy  string `koanf:"normalizer_policy" validate:"oneof=presence truthy"`

	RateLimitPerMinute int      `koanf:"rate_limit_per_minute" validate:"gte=0"` // 0 disables
	CORSOrigins        []string `koanf:"cors_origins"`

	LogLevel  string `koanf:"log_level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	LogFormat string `koanf:"log_format" validate:"oneof=json console"`
}

func defaultConfig() Config {
	return Config{
		ServerAddr:         ":5000",
		TrustProxy:         false,
		MaxBodyBytes:       1 << 20, // 1 MiB
		Outputs:            []string{"log"},
		ModelPath:          "cursorguard_model.json",
		AESKey:             DefaultAESKey,
		EncryptionEnabled:  true,
		NormalizerPolicy:   "presence",
		RateLimitPerMinute: 600,
		CORSOrigins:        []string{"*"},
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Default returns the built-in configuration.
func Default() Config { return defaultConfig() }

var envKeys = map[string]bool{
	"server_addr":           true,
	"trust_proxy":           true,
	"max_body_bytes":        true,
	"ip_hash_secret":        true,
	"outputs":               true,
	"model_path":            true,
	"aes_key":               true,
	"encryption_enabled":    true,
	"normalizer_policy":     true,
	"rate_limit_per_minute": true,
	"cors_origins":          true,
	"log_level":             true,
	"log_format":            true,
}

var sliceKeys = []string{"outputs", "cors_origins"}

// envTransform maps SERVER_ADDR to server_addr and drops unrelated variables.
func envTransform(key string) string {
	key = strings.ToLower(key)
	if envKeys[key] {
		return key
	}
	return ""
}

// Load reads defaults, then the config file, then the environment, and
// validates the result.
func Load() (Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSlices(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// splitSlices turns comma separated env values into lists.
func splitSlices(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(key, out); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

var validate = validator.New()

// ErrMissingKey is returned when encryption is on without a key.
var ErrMissingKey = errors.New("encryption enabled but aes_key is empty")

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if !c.EncryptionEnabled {
		return nil
	}
	switch len(c.AESKey) {
	case 0:
		return ErrMissingKey
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("aes_key must be 16, 24 or 32 bytes, got %d", len(c.AESKey))
	}
}

// HasOutput reports whether the named sink is enabled.
func (c *Config) HasOutput(name string) bool {
	for _, o := range c.Outputs {
		if o == name {
			return true
		}
	}
	return false
}
