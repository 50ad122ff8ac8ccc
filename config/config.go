// Package config loads node configuration from a file and QBFT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/sig-0/go-qbft/keys"
	"github.com/sig-0/go-qbft/validator"
)

const EnvPrefix = "QBFT"

var ErrInvalidConfig = errors.New("invalid node config")

type Config struct {
	// Validators is the number of keys generated when Keys is empty
	Validators int `mapstructure:"validators"`

	// Keys are hex encoded validator private keys
	Keys []string `mapstructure:"keys"`

	Round0Duration   time.Duration `mapstructure:"round0_duration"`
	MaxRoundDuration time.Duration `mapstructure:"max_round_duration"`
	LagTolerance     uint64        `mapstructure:"lag_tolerance"`
	QueueSize        int           `mapstructure:"queue_size"`
	BufferCapacity   int           `mapstructure:"buffer_capacity"`

	// AdminAddr is the listen address of the admin and metrics server. Empty disables it
	AdminAddr        string `mapstructure:"admin_addr"`
	VotesEnabled     bool   `mapstructure:"votes_enabled"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func Default() Config {
	return Config{
		Validators:       4,
		Round0Duration:   2 * time.Second,
		MaxRoundDuration: time.Minute,
		LagTolerance:     1,
		QueueSize:        1024,
		BufferCapacity:   4096,
		AdminAddr:        "127.0.0.1:8545",
		VotesEnabled:     true,
		MetricsNamespace: "qbft",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads path, if not empty, on top of the defaults and applies
// environment overrides such as QBFT_ROUND0_DURATION=5s
func Load(path string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("validators", def.Validators)
	v.SetDefault("keys", def.Keys)
	v.SetDefault("round0_duration", def.Round0Duration)
	v.SetDefault("max_round_duration", def.MaxRoundDuration)
	v.SetDefault("lag_tolerance", def.LagTolerance)
	v.SetDefault("queue_size", def.QueueSize)
	v.SetDefault("buffer_capacity", def.BufferCapacity)
	v.SetDefault("admin_addr", def.AdminAddr)
	v.SetDefault("votes_enabled", def.VotesEnabled)
	v.SetDefault("metrics_namespace", def.MetricsNamespace)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Keys) == 0 && c.Validators < 1 {
		return fmt.Errorf("%w: no validators", ErrInvalidConfig)
	}

	if c.Round0Duration <= 0 {
		return fmt.Errorf("%w: round0_duration must be positive", ErrInvalidConfig)
	}

	if c.MaxRoundDuration != 0 && c.MaxRoundDuration < c.Round0Duration {
		return fmt.Errorf("%w: max_round_duration below round0_duration", ErrInvalidConfig)
	}

	if c.QueueSize < 0 || c.BufferCapacity < 0 {
		return fmt.Errorf("%w: negative queue_size or buffer_capacity", ErrInvalidConfig)
	}

	if _, err := c.level(); err != nil {
		return err
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	}

	return nil
}

func (c Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}

	return level, nil
}

// Logger returns a logger writing to w in the configured format and level
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// ValidatorSet returns the validator keys, generating fresh ones when none are
// configured, and the set they form
func (c Config) ValidatorSet() (*validator.Set, []*keys.Key, error) {
	var ks []*keys.Key

	if len(c.Keys) == 0 {
		ks = keys.MustGenerate(c.Validators)
	}

	for _, hex := range c.Keys {
		k, err := keys.FromHex(hex)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}

		ks = append(ks, k)
	}

	addrs := make([]common.Address, 0, len(ks))
	for _, k := range ks {
		addrs = append(addrs, k.Address())
	}

	set, err := validator.NewSet(addrs...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return set, ks, nil
}
