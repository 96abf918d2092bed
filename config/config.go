// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package config loads the indexer configuration from a YAML file with
// environment overrides prefixed LENDING_.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/lending-indexer/ledger"
	"github.com/luxfi/lending-indexer/storage/query"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "LENDING_"

var ErrInvalid = errors.New("config: invalid")

// Config is the full indexer configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	RPC      RPCConfig      `yaml:"rpc" envPrefix:"RPC_"`
	Oracle   OracleConfig   `yaml:"oracle" envPrefix:"ORACLE_"`
	Treasury TreasuryConfig `yaml:"treasury" envPrefix:"TREASURY_"`
	API      APIConfig      `yaml:"api" envPrefix:"API_"`
	Replay   ReplayConfig   `yaml:"replay" envPrefix:"REPLAY_"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LEVEL"`
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

// StorageConfig selects the entity store and the optional SQL projection.
type StorageConfig struct {
	Path         string `yaml:"path" env:"PATH"`
	InMemory     bool   `yaml:"in_memory" env:"IN_MEMORY"`
	QueryBackend string `yaml:"query_backend" env:"QUERY_BACKEND"`
	QueryURL     string `yaml:"query_url" env:"QUERY_URL"`
	QueryDataDir string `yaml:"query_data_dir" env:"QUERY_DATA_DIR"`
	DualWrite    bool   `yaml:"dual_write" env:"DUAL_WRITE"`
}

// RPCConfig points the contract reader at a node. An empty endpoint runs
// without contract reads.
type RPCConfig struct {
	Endpoint string        `yaml:"endpoint" env:"ENDPOINT"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Retries  uint          `yaml:"retries" env:"RETRIES"`
}

type OracleConfig struct {
	Address string `yaml:"address" env:"ADDRESS"`
}

type TreasuryConfig struct {
	Addresses []string `yaml:"addresses" env:"ADDRESSES" envSeparator:","`
}

type APIConfig struct {
	Listen string `yaml:"listen" env:"LISTEN"`
}

type ReplayConfig struct {
	EventsFile string `yaml:"events_file" env:"EVENTS_FILE"`
	Resume     bool   `yaml:"resume" env:"RESUME"`
}

// Default returns a configuration that replays into ./data with the
// default treasury set and no contract reads.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Storage: StorageConfig{
			Path:         "./data/kv",
			QueryBackend: string(query.BackendSQLite),
			QueryDataDir: "./data",
			DualWrite:    true,
		},
		RPC: RPCConfig{
			Timeout: 30 * time.Second,
			Retries: 5,
		},
		Treasury: TreasuryConfig{
			Addresses: append([]string(nil), ledger.DefaultTreasuryAddresses...),
		},
		API: APIConfig{
			Listen: ":8080",
		},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects malformed addresses and unknown backends.
func (c *Config) Validate() error {
	if c.Oracle.Address != "" && !common.IsHexAddress(c.Oracle.Address) {
		return fmt.Errorf("%w: oracle address %q", ErrInvalid, c.Oracle.Address)
	}
	for _, a := range c.Treasury.Addresses {
		if !common.IsHexAddress(strings.TrimSpace(a)) {
			return fmt.Errorf("%w: treasury address %q", ErrInvalid, a)
		}
	}
	switch query.Backend(c.Storage.QueryBackend) {
	case "", query.BackendSQLite, query.BackendPostgres:
	default:
		return fmt.Errorf("%w: query backend %q", ErrInvalid, c.Storage.QueryBackend)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage path required", ErrInvalid)
	}
	return nil
}

// OracleAddress returns the configured oracle or the zero address.
func (c *Config) OracleAddress() common.Address {
	if c.Oracle.Address == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Oracle.Address)
}

// TreasurySet builds the treasury address set.
func (c *Config) TreasurySet() (ledger.TreasurySet, error) {
	addrs := make([]string, 0, len(c.Treasury.Addresses))
	for _, a := range c.Treasury.Addresses {
		addrs = append(addrs, strings.TrimSpace(a))
	}
	return ledger.NewTreasurySet(addrs)
}
