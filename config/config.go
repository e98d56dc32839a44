// Package config loads the TOML configuration shared by the wcpeer
// commands. Durations are written as Go duration strings ("30s", "1m").
//
//	[relay]
//	balancer = "round_robin"
//	request_timeout = "30s"
//	[[relay.endpoints]]
//	url = "wss://relay.example"
//	weight = 1
//
//	[relay.registry]
//	endpoints = ["127.0.0.1:2379"]
//
//	[store]
//	backend = "sqlite"
//	path = "/var/lib/wcpeer/sessions.db"
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"wc-rpc/loadbalance"
)

type Config struct {
	Relay  RelayConfig
	Server ServerConfig
	Store  StoreConfig
	Log    LogConfig
}

type RelayConfig struct {
	Endpoints      []loadbalance.Endpoint
	Balancer       string
	RequestTimeout time.Duration // negative disables call deadlines
	TTL            int64         // publish TTL in seconds
	PingInterval   time.Duration // websocket keepalive
	Registry       RegistryConfig
}

// RegistryConfig locates the etcd cluster relays announce themselves in.
// With no endpoints, peers use the static relay endpoints only.
type RegistryConfig struct {
	Endpoints []string
	Prefix    string
	TTL       int64 // lease seconds for announced relays
}

type ServerConfig struct {
	RateLimit       float64 // requests per second, zero disables limiting
	Burst           int
	HandlerTimeout  time.Duration // zero disables
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Backend     string // memory, sqlite or etcd
	Path        string
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
}

type LogConfig struct {
	Level       string
	Development bool
}

// Default is the configuration used when no file is given.
func Default() Config {
	return Config{
		Relay: RelayConfig{
			Endpoints:      []loadbalance.Endpoint{{URL: "ws://127.0.0.1:8787", Weight: 1}},
			Balancer:       "round_robin",
			RequestTimeout: 30 * time.Second,
			TTL:            600,
			PingInterval:   30 * time.Second,
			Registry: RegistryConfig{
				Prefix: "/wc-rpc/relays/",
				TTL:    10,
			},
		},
		Server: ServerConfig{
			Burst:           1,
			HandlerTimeout:  10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Backend:     "memory",
			Prefix:      "/wc-rpc/sessions/",
			DialTimeout: 5 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

type fileConfig struct {
	Relay struct {
		Endpoints      []loadbalance.Endpoint `toml:"endpoints"`
		Balancer       string                 `toml:"balancer"`
		RequestTimeout string                 `toml:"request_timeout"`
		TTL            int64                  `toml:"ttl"`
		PingInterval   string                 `toml:"ping_interval"`
		Registry       struct {
			Endpoints []string `toml:"endpoints"`
			Prefix    string   `toml:"prefix"`
			TTL       int64    `toml:"ttl"`
		} `toml:"registry"`
	} `toml:"relay"`
	Server struct {
		RateLimit       float64 `toml:"rate_limit"`
		Burst           int     `toml:"burst"`
		HandlerTimeout  string  `toml:"handler_timeout"`
		ShutdownTimeout string  `toml:"shutdown_timeout"`
	} `toml:"server"`
	Store struct {
		Backend     string   `toml:"backend"`
		Path        string   `toml:"path"`
		Endpoints   []string `toml:"endpoints"`
		Prefix      string   `toml:"prefix"`
		DialTimeout string   `toml:"dial_timeout"`
	} `toml:"store"`
	Log struct {
		Level       string `toml:"level"`
		Development bool   `toml:"development"`
	} `toml:"log"`
}

// Load reads the file at path over Default. Keys absent from the file keep
// their defaults.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"relay.request_timeout", raw.Relay.RequestTimeout, &cfg.Relay.RequestTimeout},
		{"relay.ping_interval", raw.Relay.PingInterval, &cfg.Relay.PingInterval},
		{"server.handler_timeout", raw.Server.HandlerTimeout, &cfg.Server.HandlerTimeout},
		{"server.shutdown_timeout", raw.Server.ShutdownTimeout, &cfg.Server.ShutdownTimeout},
		{"store.dial_timeout", raw.Store.DialTimeout, &cfg.Store.DialTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("relay", "endpoints") {
		cfg.Relay.Endpoints = raw.Relay.Endpoints
	}
	if meta.IsDefined("relay", "balancer") {
		cfg.Relay.Balancer = strings.TrimSpace(raw.Relay.Balancer)
	}
	if meta.IsDefined("relay", "ttl") {
		cfg.Relay.TTL = raw.Relay.TTL
	}
	if meta.IsDefined("relay", "registry", "endpoints") {
		cfg.Relay.Registry.Endpoints = raw.Relay.Registry.Endpoints
	}
	if meta.IsDefined("relay", "registry", "prefix") {
		cfg.Relay.Registry.Prefix = strings.TrimSpace(raw.Relay.Registry.Prefix)
	}
	if meta.IsDefined("relay", "registry", "ttl") {
		cfg.Relay.Registry.TTL = raw.Relay.Registry.TTL
	}
	if meta.IsDefined("server", "rate_limit") {
		cfg.Server.RateLimit = raw.Server.RateLimit
	}
	if meta.IsDefined("server", "burst") {
		cfg.Server.Burst = raw.Server.Burst
	}
	if meta.IsDefined("store", "backend") {
		cfg.Store.Backend = strings.TrimSpace(raw.Store.Backend)
	}
	if meta.IsDefined("store", "path") {
		cfg.Store.Path = strings.TrimSpace(raw.Store.Path)
	}
	if meta.IsDefined("store", "endpoints") {
		cfg.Store.Endpoints = raw.Store.Endpoints
	}
	if meta.IsDefined("store", "prefix") {
		cfg.Store.Prefix = strings.TrimSpace(raw.Store.Prefix)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "development") {
		cfg.Log.Development = raw.Log.Development
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	if len(cfg.Relay.Endpoints) == 0 && len(cfg.Relay.Registry.Endpoints) == 0 {
		return fmt.Errorf("relay.endpoints must not be empty without a relay.registry")
	}
	for i, ep := range cfg.Relay.Endpoints {
		if strings.TrimSpace(ep.URL) == "" {
			return fmt.Errorf("relay.endpoints[%d]: url is required", i)
		}
		if ep.Weight < 0 {
			return fmt.Errorf("relay.endpoints[%d]: weight must not be negative", i)
		}
	}
	if _, err := loadbalance.New(cfg.Relay.Balancer); err != nil {
		return fmt.Errorf("relay.balancer: %w", err)
	}
	if len(cfg.Relay.Registry.Endpoints) > 0 && cfg.Relay.Registry.TTL < 1 {
		return fmt.Errorf("relay.registry.ttl must be at least 1")
	}
	if cfg.Relay.TTL < 0 {
		return fmt.Errorf("relay.ttl must not be negative")
	}
	if cfg.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.Burst < 1 {
		return fmt.Errorf("server.burst must be at least 1 when rate limiting")
	}
	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	case "etcd":
		if len(cfg.Store.Endpoints) == 0 {
			return fmt.Errorf("store.endpoints is required for the etcd backend")
		}
	default:
		return fmt.Errorf("store.backend: unknown backend %q", cfg.Store.Backend)
	}
	return nil
}
