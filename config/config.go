package config

import (
	"flag"

	"github.com/BurntSushi/toml"
	"github.com/Nystya/optimistic-commit/repository/database"
	"github.com/pkg/errors"
)

type Config struct {
	LogLevel       string   `toml:"log-level"`
	WalDir         string   `toml:"wal-dir"`          // Directory holding one WAL per store. Must exist and be writable.
	WalMaxFileSize int64    `toml:"wal-max-filesize"` // KB per WAL segment before rotation.
	TxTimeout      int      `toml:"tx-timeout"`       // Seconds before a short transaction is invalidated.
	Stores         []string `toml:"stores"`           // Names of the transaction-aware stores to create.
}

var DefaultConf = Config{
	LogLevel:       "info",
	WalDir:         "/tmp/optimistic-commit",
	WalMaxFileSize: 100,
	TxTimeout:      30,
	Stores:         []string{"accounts", "audit"},
}

// Load reads a TOML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConf

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Wrapf(err, "could not decode config file %q", path)
	}

	return &cfg, nil
}

// NewConfig builds the configuration from flags, optionally layered over a
// TOML file given with -config.
func NewConfig() (*Config, error) {
	confPath := flag.String("config", "", "path to a TOML config file")
	walDir := flag.String("wal-dir", "", "override the write-ahead log directory")
	logLevel := flag.String("log-level", "", "override the log level")
	flag.Parse()

	cfg := DefaultConf

	if *confPath != "" {
		loaded, err := Load(*confPath)
		if err != nil {
			return nil, err
		}

		cfg = *loaded
	}

	if *walDir != "" {
		cfg.WalDir = *walDir
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	return &cfg, nil
}

// WalConfig derives the per-store WAL configuration.
func (c *Config) WalConfig(store string) *database.WriteAheadLogConfig {
	return &database.WriteAheadLogConfig{
		Dir:         c.WalDir,
		MaxFileSize: c.WalMaxFileSize,
		Prefix:      store,
	}
}
