package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"servicemarket/crypto"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	authority := crypto.FormatPrincipal([20]byte{0x01})
	path := writeFile(t, "marketd.yaml", `
listen: ":9000"
storage:
  backend: memory
journal:
  dsn: "file:test?mode=memory"
market:
  authority: "`+authority+`"
  royalty_percent: 7
  payment_assets: ["usdc", "eurc"]
kafka:
  interval: 250ms
`)
	cfg, err := Load(path, WithLookupEnv(noEnv))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, ":7081", cfg.GRPCAddress)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Empty(t, cfg.Storage.Path)
	require.Equal(t, "sqlite", cfg.Journal.Driver)
	require.NotNil(t, cfg.Market.RoyaltyPercent)
	require.EqualValues(t, 7, *cfg.Market.RoyaltyPercent)
	require.Equal(t, 250*time.Millisecond, cfg.Kafka.Interval.Duration)
	require.Equal(t, "market.events", cfg.Kafka.Topic)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew.Duration)

	principal, ok, err := cfg.Market.AuthorityPrincipal()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [20]byte{0x01}, principal)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "marketd.toml", `
listen = ":9100"

[storage]
backend = "bolt"
path = "/tmp/market.bolt"

[journal]
driver = "postgres"
dsn = "postgres://market@db/market"

[auth]
enabled = true
hmac_secret = "s3cret"
clock_skew = "30s"
`)
	cfg, err := Load(path, WithLookupEnv(noEnv))
	require.NoError(t, err)
	require.Equal(t, "bolt", cfg.Storage.Backend)
	require.Equal(t, "postgres", cfg.Journal.Driver)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew.Duration)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	yamlPath := writeFile(t, "bad.yaml", "listen: \":1\"\nunknown: true\n")
	_, err := Load(yamlPath, WithLookupEnv(noEnv))
	require.Error(t, err)

	tomlPath := writeFile(t, "bad.toml", "listen = \":1\"\nunknown = true\n")
	_, err = Load(tomlPath, WithLookupEnv(noEnv))
	require.ErrorContains(t, err, "unknown key")
}

func TestValidateCollectsErrors(t *testing.T) {
	path := writeFile(t, "invalid.yaml", `
storage:
  backend: rocksdb
journal:
  driver: mysql
  dsn: x
market:
  authority: "not-a-principal"
  royalty_percent: 150
auth:
  enabled: true
`)
	_, err := Load(path, WithLookupEnv(noEnv))
	require.Error(t, err)
	for _, fragment := range []string{"storage.backend", "journal.driver", "market.authority", "royalty_percent", "hmac_secret"} {
		require.ErrorContains(t, err, fragment)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "env.yaml", "storage:\n  backend: memory\nauth:\n  enabled: true\n")
	env := map[string]string{
		"MARKET_AUTH_SECRET":   "from-env",
		"MARKET_JOURNAL_DSN":   "file:env?mode=memory",
		"MARKET_KAFKA_BROKERS": "k1:9092, k2:9092",
	}
	cfg, err := Load(path, WithLookupEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.HMACSecret)
	require.Equal(t, "file:env?mode=memory", cfg.Journal.DSN)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}
