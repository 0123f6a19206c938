package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseViper() map[string]any {
	return map[string]any{
		"remote.url":  "https://api.example.com/mutations",
		"collections": []string{"notes"},
	}
}

func loadWith(t *testing.T, overrides map[string]any) (DaemonConfig, error) {
	t.Helper()
	v := NewViper()
	for key, value := range baseViper() {
		v.Set(key, value)
	}
	for key, value := range overrides {
		v.Set(key, value)
	}
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWith(t, nil)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage)
	assert.Equal(t, "relay.db", cfg.SQLitePath)
	assert.Equal(t, "static", cfg.Election)
	assert.Equal(t, "relay:leader", cfg.LeaseKey)
	assert.Equal(t, 10*time.Second, cfg.LeaseTTL)
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"notes"}, cfg.Collections)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := loadWith(t, map[string]any{
		"storage.kind":       "redis",
		"storage.redis_addr": "redis:6379",
		"election.mode":      "redislease",
		"election.lease_ttl": "5s",
		"log.level":          "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Storage)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "redislease", cfg.Election)
	assert.Equal(t, 5*time.Second, cfg.LeaseTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_RequiresRemoteURL(t *testing.T) {
	v := NewViper()
	v.Set("collections", []string{"notes"})
	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.url")
}

func TestLoad_RequiresCollections(t *testing.T) {
	v := NewViper()
	v.Set("remote.url", "https://api.example.com")
	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collections")
}

func TestLoad_RejectsUnknownStorage(t *testing.T) {
	_, err := loadWith(t, map[string]any{"storage.kind": "tape"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.kind")
}

func TestLoad_RejectsUnknownElection(t *testing.T) {
	_, err := loadWith(t, map[string]any{"election.mode": "paxos"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "election.mode")
}
