// Package config loads the bridge's TOML configuration.
//
//	[bridge]
//	chain_id = 1
//	mech_address = "0x..."
//
//	[signer]
//	strategy = "sticky"
//	[[signer.endpoints]]
//	url = "http://127.0.0.1:8545"
//	weight = 1
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/isabella232/mech/codec"
	"github.com/isabella232/mech/loadbalance"
	"github.com/isabella232/mech/mech"
	"github.com/isabella232/mech/registry"
	"github.com/isabella232/mech/session"
)

type BridgeConfig struct {
	ChainID     uint64 `toml:"chain_id"`
	MechAddress string `toml:"mech_address"`
}

type MetadataConfig struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	URL         string   `toml:"url"`
	Icons       []string `toml:"icons"`
}

type EndpointConfig struct {
	URL    string `toml:"url"`
	Weight int    `toml:"weight"`
}

type SignerConfig struct {
	Endpoints      []EndpointConfig `toml:"endpoints"`
	Strategy       string           `toml:"strategy"` // roundrobin | weighted | sticky
	From           string           `toml:"from"`
	TimeoutSeconds int              `toml:"timeout_seconds"`
}

type StorageConfig struct {
	Backend       string   `toml:"backend"` // memory | sqlite | etcd
	Codec         string   `toml:"codec"`   // json | binary
	SQLitePath    string   `toml:"sqlite_path"`
	EtcdEndpoints []string `toml:"etcd_endpoints"`
	EtcdPrefix    string   `toml:"etcd_prefix"`
}

type RelayConfig struct {
	URL                 string `toml:"url"`
	ProjectID           string `toml:"project_id"`
	PingIntervalSeconds int    `toml:"ping_interval_seconds"`
}

type DispatchConfig struct {
	RatePerSecond    float64 `toml:"rate_per_second"` // 0 disables rate limiting
	Burst            int     `toml:"burst"`
	ReadRetries      int     `toml:"read_retries"`
	RetryBaseDelayMS int     `toml:"retry_base_delay_ms"`
	SlowRequestMS    int     `toml:"slow_request_ms"`
}

type ModernConfig struct {
	Reconcile string `toml:"reconcile"` // cron spec, empty disables
}

type APIConfig struct {
	Addr string `toml:"addr"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console | json
}

type Config struct {
	Bridge   BridgeConfig   `toml:"bridge"`
	Metadata MetadataConfig `toml:"metadata"`
	Signer   SignerConfig   `toml:"signer"`
	Storage  StorageConfig  `toml:"storage"`
	Relay    RelayConfig    `toml:"relay"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Modern   ModernConfig   `toml:"modern"`
	API      APIConfig      `toml:"api"`
	Logging  LoggingConfig  `toml:"logging"`
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Signer.Strategy == "" {
		cfg.Signer.Strategy = "roundrobin"
	}
	if cfg.Signer.TimeoutSeconds == 0 {
		cfg.Signer.TimeoutSeconds = 30
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = registry.BackendMemory
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "mechbridge.db"
	}
	if cfg.Storage.EtcdPrefix == "" {
		cfg.Storage.EtcdPrefix = registry.DefaultEtcdPrefix
	}
	if cfg.Relay.URL == "" {
		cfg.Relay.URL = "ws://127.0.0.1:8765/relay"
	}
	if cfg.Dispatch.Burst == 0 {
		cfg.Dispatch.Burst = 10
	}
	if cfg.Dispatch.ReadRetries == 0 {
		cfg.Dispatch.ReadRetries = 2
	}
	if cfg.Dispatch.RetryBaseDelayMS == 0 {
		cfg.Dispatch.RetryBaseDelayMS = 100
	}
	if cfg.Dispatch.SlowRequestMS == 0 {
		cfg.Dispatch.SlowRequestMS = 10_000
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = "127.0.0.1:8088"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

func (cfg *Config) validate() error {
	if cfg.Bridge.ChainID == 0 {
		return fmt.Errorf("bridge.chain_id required")
	}
	if !mech.IsAddress(cfg.Bridge.MechAddress) {
		return fmt.Errorf("bridge.mech_address must be a 0x-prefixed 20 byte hex address, got %q", cfg.Bridge.MechAddress)
	}
	if len(cfg.Signer.Endpoints) == 0 {
		return fmt.Errorf("signer.endpoints requires at least one endpoint")
	}
	for i, ep := range cfg.Signer.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("signer.endpoints[%d].url required", i)
		}
	}
	if _, err := loadbalance.New(cfg.Signer.Strategy); err != nil {
		return fmt.Errorf("signer.strategy: %w", err)
	}
	if cfg.Signer.From != "" && !mech.IsAddress(cfg.Signer.From) {
		return fmt.Errorf("signer.from is not an address: %q", cfg.Signer.From)
	}
	switch cfg.Storage.Backend {
	case registry.BackendMemory, registry.BackendSQLite:
	case registry.BackendEtcd:
		if len(cfg.Storage.EtcdEndpoints) == 0 {
			return fmt.Errorf("storage.etcd_endpoints required for the etcd backend")
		}
	default:
		return fmt.Errorf("storage.backend: %w: %q", registry.ErrUnknownBackend, cfg.Storage.Backend)
	}
	if _, err := codec.ParseType(cfg.Storage.Codec); err != nil {
		return fmt.Errorf("storage.codec: %w", err)
	}
	if cfg.Dispatch.RatePerSecond < 0 {
		return fmt.Errorf("dispatch.rate_per_second must not be negative")
	}
	switch cfg.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", cfg.Logging.Format)
	}
	return nil
}

// SelfMetadata is the [metadata] section as the bridge advertises it.
func (cfg *Config) SelfMetadata() session.Metadata {
	return session.Metadata{
		Name:        cfg.Metadata.Name,
		Description: cfg.Metadata.Description,
		URL:         cfg.Metadata.URL,
		Icons:       cfg.Metadata.Icons,
	}
}

func (cfg *Config) SignerEndpoints() []loadbalance.Endpoint {
	out := make([]loadbalance.Endpoint, len(cfg.Signer.Endpoints))
	for i, ep := range cfg.Signer.Endpoints {
		out[i] = loadbalance.Endpoint{URL: ep.URL, Weight: ep.Weight}
	}
	return out
}

// StoreOptions converts [storage] into registry options. validate has already
// checked the codec name.
func (cfg *Config) StoreOptions() registry.Options {
	ct, _ := codec.ParseType(cfg.Storage.Codec)
	return registry.Options{
		Backend:       cfg.Storage.Backend,
		Codec:         ct,
		SQLitePath:    cfg.Storage.SQLitePath,
		EtcdEndpoints: cfg.Storage.EtcdEndpoints,
		EtcdPrefix:    cfg.Storage.EtcdPrefix,
		DialTimeout:   5 * time.Second,
	}
}

func (cfg *Config) SignerTimeout() time.Duration {
	return time.Duration(cfg.Signer.TimeoutSeconds) * time.Second
}

func (cfg *Config) PingInterval() time.Duration {
	return time.Duration(cfg.Relay.PingIntervalSeconds) * time.Second
}
