package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/services/balance"
	"github.com/vadiminshakov/copier/internal/services/connector"
	"github.com/vadiminshakov/copier/internal/services/stream"
	"github.com/vadiminshakov/copier/internal/storage/idempotency"
	"github.com/vadiminshakov/copier/internal/storage/journal"
)

const fullConfig = `
pair: ETH_USDT
leader:
  exchange: binance
  env: test
  api_key: ${LEADER_KEY}
  api_secret: leader-secret
  stream_url: ws://localhost:9443/ws
followers:
  - id: alice
    exchange: bybit
    api_key: a-key
    api_secret: a-secret
  - id: bob
    exchange: Bitget
    env: demo
    api_key: b-key
    api_secret: b-secret
    passphrase: b-pass
    status: paused
poll_interval: 10s
heartbeat_interval: 15s
idempotency:
  backend: redis
  redis_url: redis://localhost:6379/0
  ttl: 24h
precision:
  bybit:
    quote: 4
    base: 3
max_parallel_per_exchange: 4
http_addr: 127.0.0.1:9000
journal_dir: /var/lib/copier/journal
enabled: false
`

func TestParse_Full(t *testing.T) {
	t.Setenv("LEADER_KEY", "leader-key")

	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, domain.Pair{From: "ETH", To: "USDT"}, cfg.Pair)
	assert.Equal(t, domain.Account{
		ID:          "leader",
		Exchange:    domain.ExchangeBinance,
		Environment: domain.EnvironmentTest,
		Credentials: domain.Credentials{APIKey: "leader-key", APISecret: "leader-secret"},
		Status:      domain.AccountStatusActive,
	}, cfg.Leader)
	assert.Equal(t, "ws://localhost:9443/ws", cfg.LeaderStreamURL)

	require.Len(t, cfg.Followers, 2)
	assert.Equal(t, domain.EnvironmentLive, cfg.Followers[0].Environment)
	assert.True(t, cfg.Followers[0].IsActive())
	assert.Equal(t, domain.ExchangeBitget, cfg.Followers[1].Exchange)
	assert.Equal(t, domain.AccountStatusPaused, cfg.Followers[1].Status)
	assert.Equal(t, "b-pass", cfg.Followers[1].Credentials.Passphrase)

	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, stream.DefaultKeepaliveInterval, cfg.KeepaliveInterval)
	assert.Equal(t, idempotency.Config{
		Backend:   idempotency.BackendRedis,
		RedisURL:  "redis://localhost:6379/0",
		Retention: idempotency.DefaultRetention,
		TTL:       24 * time.Hour,
	}, cfg.Idempotency)
	assert.Equal(t, map[domain.Exchange]connector.Precision{domain.ExchangeBybit: {Quote: 4, Base: 3}}, cfg.Precision)
	assert.Equal(t, 4, cfg.MaxParallelPerExchange)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, "/var/lib/copier/journal", cfg.JournalDir)
	assert.False(t, cfg.Enabled)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
leader: {exchange: binance, api_key: k, api_secret: s}
`))
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultPair, cfg.Pair)
	assert.Equal(t, balance.DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, stream.DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, stream.DefaultKeepaliveInterval, cfg.KeepaliveInterval)
	assert.Equal(t, idempotency.BackendWAL, cfg.Idempotency.Backend)
	assert.Equal(t, idempotency.DefaultRetention, cfg.Idempotency.Retention)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, journal.DefaultDir, cfg.JournalDir)
	assert.True(t, cfg.Enabled)
	assert.Empty(t, cfg.Followers)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			yaml:    "pair: [",
			wantErr: "invalid yaml config",
		},
		{
			name:    "bad pair",
			yaml:    "pair: BTCUSDT\nleader: {exchange: binance, api_key: k, api_secret: s}",
			wantErr: "incorrect 'pair'",
		},
		{
			name:    "leader not binance",
			yaml:    "leader: {exchange: bybit, api_key: k, api_secret: s}",
			wantErr: "only binance streams",
		},
		{
			name:    "leader missing secret",
			yaml:    "leader: {exchange: binance, api_key: k}",
			wantErr: "'api_key' and 'api_secret' are required",
		},
		{
			name:    "unknown exchange",
			yaml:    "leader: {exchange: binance, api_key: k, api_secret: s}\nfollowers: [{id: a, exchange: kraken, api_key: k, api_secret: s}]",
			wantErr: "unsupported exchange",
		},
		{
			name:    "follower without id",
			yaml:    "leader: {exchange: binance, api_key: k, api_secret: s}\nfollowers: [{exchange: bybit, api_key: k, api_secret: s}]",
			wantErr: "'id' is required",
		},
		{
			name:    "duplicate follower",
			yaml:    "leader: {exchange: binance, api_key: k, api_secret: s}\nfollowers: [{id: a, exchange: bybit, api_key: k, api_secret: s}, {id: a, exchange: bybit, api_key: k, api_secret: s}]",
			wantErr: "declared twice",
		},
		{
			name:    "bitget without passphrase",
			yaml:    "leader: {exchange: binance, api_key: k, api_secret: s}\nfollowers: [{id: a, exchange: bitget, api_key: k, api_secret: s}]",
			wantErr: "require 'passphrase'",
		},
		{
			name:    "unknown env",
			yaml:    "leader: {exchange: binance, env: staging, api_key: k, api_secret: s}",
			wantErr: "unknown environment",
		},
		{
			name:    "unknown status",
			yaml:    "leader: {exchange: binance, api_key: k, api_secret: s}\nfollowers: [{id: a, exchange: bybit, status: sleeping, api_key: k, api_secret: s}]",
			wantErr: "unknown account status",
		},
		{
			name:    "redis without url",
			yaml:    "leader: {exchange: binance, api_key: k, api_secret: s}\nidempotency: {backend: redis}",
			wantErr: "redis_url",
		},
		{
			name:    "unknown backend",
			yaml:    "leader: {exchange: binance, api_key: k, api_secret: s}\nidempotency: {backend: etcd}",
			wantErr: "unknown 'idempotency.backend'",
		},
		{
			name:    "negative precision",
			yaml:    "leader: {exchange: binance, api_key: k, api_secret: s}\nprecision: {bybit: {quote: -1}}",
			wantErr: "must not be negative",
		},
		{
			name:    "negative parallelism",
			yaml:    "leader: {exchange: binance, api_key: k, api_secret: s}\nmax_parallel_per_exchange: -2",
			wantErr: "'max_parallel_per_exchange'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("leader: {exchange: binance, api_key: k, api_secret: s}"), 0600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.Leader.Credentials.APIKey)
}

func TestMarshal_RoundTrip(t *testing.T) {
	enabled := false
	tmp := ConfigTmp{
		Pair:         "SOL_USDT",
		Leader:       AccountTmp{Exchange: "binance", APIKey: "k", APISecret: "s"},
		Followers:    []AccountTmp{{ID: "a", Exchange: "bybit", APIKey: "k2", APISecret: "s2"}},
		PollInterval: 7 * time.Second,
		Enabled:      &enabled,
	}
	data, err := Marshal(tmp)
	require.NoError(t, err)

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "SOL", cfg.Pair.Base())
	assert.Equal(t, 7*time.Second, cfg.PollInterval)
	assert.False(t, cfg.Enabled)
	require.Len(t, cfg.Followers, 1)
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, Flags{ConfigPath: DefaultConfigPath, SetupPath: DefaultSetupPath}, f)

	f, err = ParseFlags([]string{"--config", "prod.yaml", "--setup", "--setup-out", "out.yaml"})
	require.NoError(t, err)
	assert.Equal(t, Flags{ConfigPath: "prod.yaml", Setup: true, SetupPath: "out.yaml"}, f)

	_, err = ParseFlags([]string{"--nope"})
	assert.Error(t, err)
}
