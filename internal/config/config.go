// Package config loads command settings from flags, LEDGER_* environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "LEDGER"

// Sync holds the settings of the sync, drift and checkpoints commands.
type Sync struct {
	RPCURL        string
	PGDSN         string
	Factory       common.Address
	Certificates  common.Address
	Governance    common.Address
	StartBlock    uint64
	Confirmations uint64
	BatchSize     uint64
	Interval      time.Duration
	DriftInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	Concurrency   int
	ArchivePath   string
	MetricsAddr   string
	Trace         bool
	LogLevel      string
}

// Simulate holds the settings of the simulate command.
type Simulate struct {
	PGDSN       string
	ArchivePath string
	Policy      Policy
	Trace       bool
	LogLevel    string
}

// LoadSync merges config file, environment variables and flags into Sync.
func LoadSync(cfgFile string, flags *pflag.FlagSet) (Sync, error) {
	v := viper.New()
	v.SetDefault("confirmations", uint64(0))
	v.SetDefault("batch-size", uint64(1000))
	v.SetDefault("interval", 5*time.Second)
	v.SetDefault("drift-interval", time.Minute)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("concurrency", 4)
	v.SetDefault("metrics-addr", ":9102")
	v.SetDefault("log-level", "info")

	if err := read(v, cfgFile, flags); err != nil {
		return Sync{}, err
	}

	cfg := Sync{
		RPCURL:        v.GetString("rpc"),
		PGDSN:         v.GetString("pg-dsn"),
		StartBlock:    v.GetUint64("start-block"),
		Confirmations: v.GetUint64("confirmations"),
		BatchSize:     v.GetUint64("batch-size"),
		Interval:      v.GetDuration("interval"),
		DriftInterval: v.GetDuration("drift-interval"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		Concurrency:   v.GetInt("concurrency"),
		ArchivePath:   v.GetString("archive"),
		MetricsAddr:   v.GetString("metrics-addr"),
		Trace:         v.GetBool("trace"),
		LogLevel:      v.GetString("log-level"),
	}

	var err error
	if cfg.Factory, err = parseAddress(v, "factory"); err != nil {
		return Sync{}, err
	}
	if cfg.Certificates, err = parseAddress(v, "certificates"); err != nil {
		return Sync{}, err
	}
	if cfg.Governance, err = parseAddress(v, "governance"); err != nil {
		return Sync{}, err
	}
	if cfg.BatchSize == 0 {
		return Sync{}, errors.New("batch-size must be greater than zero")
	}
	if cfg.Concurrency <= 0 {
		return Sync{}, errors.New("concurrency must be greater than zero")
	}
	return cfg, nil
}

// LoadSimulate merges config file, environment variables and flags into
// Simulate.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (Simulate, error) {
	v := viper.New()
	setPolicyDefaults(v)
	v.SetDefault("log-level", "info")

	if err := read(v, cfgFile, flags); err != nil {
		return Simulate{}, err
	}

	policy, err := loadPolicy(v)
	if err != nil {
		return Simulate{}, err
	}
	return Simulate{
		PGDSN:       v.GetString("pg-dsn"),
		ArchivePath: v.GetString("archive"),
		Policy:      policy,
		Trace:       v.GetBool("trace"),
		LogLevel:    v.GetString("log-level"),
	}, nil
}

func read(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// parseAddress reads an optional hex address; unset yields the zero address.
func parseAddress(v *viper.Viper, key string) (common.Address, error) {
	input := strings.TrimSpace(v.GetString(key))
	if input == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", key, input)
	}
	return common.HexToAddress(input), nil
}
