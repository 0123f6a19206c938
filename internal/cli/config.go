package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "RELAY"

	defaultStorageKind    = "sqlite"
	defaultSQLitePath     = "relay.db"
	defaultRedisAddr      = "localhost:6379"
	defaultRedisHash      = "relay:outbox"
	defaultElectionMode   = "static"
	defaultLeaseKey       = "relay:leader"
	defaultLogLevel       = "info"
	defaultProbeInterval  = 30 * time.Second
	defaultMetricsAddress = ""
)

// DaemonConfig captures runtime configuration for relayd.
type DaemonConfig struct {
	// Storage selects the persistence backend: sqlite, redis, or memory.
	Storage    string
	SQLitePath string
	RedisAddr  string
	RedisHash  string

	// Election selects leadership coordination: static or redislease.
	Election string
	LeaseKey string
	LeaseTTL time.Duration

	// RemoteURL is where the forwarder posts transactions.
	RemoteURL string

	// Collections lists the collection ids this daemon accepts.
	Collections []string

	// ProbeURL enables the HTTP connectivity prober when set.
	ProbeURL      string
	ProbeInterval time.Duration

	// MetricsAddress serves Prometheus metrics when set (e.g. ":9090").
	MetricsAddress string

	LogLevel string
}

// NewViper returns a viper instance with defaults and env bindings applied.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on v.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("storage.kind", defaultStorageKind)
	v.SetDefault("storage.sqlite_path", defaultSQLitePath)
	v.SetDefault("storage.redis_addr", defaultRedisAddr)
	v.SetDefault("storage.redis_hash", defaultRedisHash)
	v.SetDefault("election.mode", defaultElectionMode)
	v.SetDefault("election.lease_key", defaultLeaseKey)
	v.SetDefault("election.lease_ttl", "10s")
	v.SetDefault("probe.interval", defaultProbeInterval.String())
	v.SetDefault("metrics.address", defaultMetricsAddress)
	v.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from v.
func Load(v *viper.Viper) (DaemonConfig, error) {
	cfg := DaemonConfig{
		Storage:        v.GetString("storage.kind"),
		SQLitePath:     v.GetString("storage.sqlite_path"),
		RedisAddr:      v.GetString("storage.redis_addr"),
		RedisHash:      v.GetString("storage.redis_hash"),
		Election:       v.GetString("election.mode"),
		LeaseKey:       v.GetString("election.lease_key"),
		LeaseTTL:       v.GetDuration("election.lease_ttl"),
		RemoteURL:      v.GetString("remote.url"),
		Collections:    v.GetStringSlice("collections"),
		ProbeURL:       v.GetString("probe.url"),
		ProbeInterval:  v.GetDuration("probe.interval"),
		MetricsAddress: v.GetString("metrics.address"),
		LogLevel:       v.GetString("log.level"),
	}
	if err := cfg.validate(); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

func (c DaemonConfig) validate() error {
	switch c.Storage {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("storage.kind must be sqlite, redis, or memory, got %q", c.Storage)
	}
	switch c.Election {
	case "static", "redislease":
	default:
		return fmt.Errorf("election.mode must be static or redislease, got %q", c.Election)
	}
	if strings.TrimSpace(c.RemoteURL) == "" {
		return fmt.Errorf("remote.url is required")
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("collections must list at least one collection id")
	}
	return nil
}
