// Package config loads the copier configuration from YAML and command line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/services/balance"
	"github.com/vadiminshakov/copier/internal/services/connector"
	"github.com/vadiminshakov/copier/internal/services/stream"
	"github.com/vadiminshakov/copier/internal/storage/idempotency"
	"github.com/vadiminshakov/copier/internal/storage/journal"
)

const (
	DefaultConfigPath = "config.yaml"
	DefaultSetupPath  = "config.gen.yaml"
	DefaultHTTPAddr   = ":8080"
)

// Flags holds the command line switches.
type Flags struct {
	ConfigPath string
	Setup      bool
	SetupPath  string
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("copier", flag.ContinueOnError)
	var f Flags
	fs.StringVar(&f.ConfigPath, "config", DefaultConfigPath, "path to yaml config")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive config wizard")
	fs.StringVar(&f.SetupPath, "setup-out", DefaultSetupPath, "where the wizard writes the generated config")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Config is the validated runtime configuration.
type Config struct {
	Pair      domain.Pair
	Leader    domain.Account
	Followers []domain.Account

	// LeaderStreamURL and LeaderRESTURL override the exchange endpoints.
	LeaderStreamURL string
	LeaderRESTURL   string

	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	KeepaliveInterval time.Duration

	Idempotency            idempotency.Config
	JournalDir             string
	Precision              map[domain.Exchange]connector.Precision
	MaxParallelPerExchange int
	HTTPAddr               string
	Enabled                bool
}

// AccountTmp is the YAML shape of one exchange account.
type AccountTmp struct {
	ID         string `yaml:"id,omitempty"`
	Exchange   string `yaml:"exchange"`
	Env        string `yaml:"env,omitempty"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase,omitempty"`
	Status     string `yaml:"status,omitempty"`
	StreamURL  string `yaml:"stream_url,omitempty"`
	RESTURL    string `yaml:"rest_url,omitempty"`
}

// ConfigTmp is the YAML shape of the config file.
type ConfigTmp struct {
	Pair                   string                         `yaml:"pair"`
	Leader                 AccountTmp                     `yaml:"leader"`
	Followers              []AccountTmp                   `yaml:"followers"`
	PollInterval           time.Duration                  `yaml:"poll_interval,omitempty"`
	HeartbeatInterval      time.Duration                  `yaml:"heartbeat_interval,omitempty"`
	KeepaliveInterval      time.Duration                  `yaml:"keepalive_interval,omitempty"`
	Idempotency            idempotency.Config             `yaml:"idempotency,omitempty"`
	JournalDir             string                         `yaml:"journal_dir,omitempty"`
	Precision              map[string]connector.Precision `yaml:"precision,omitempty"`
	MaxParallelPerExchange int                            `yaml:"max_parallel_per_exchange,omitempty"`
	HTTPAddr               string                         `yaml:"http_addr,omitempty"`
	Enabled                *bool                          `yaml:"enabled,omitempty"`
}

// Load reads and validates the config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates a YAML document. ${VAR} references are expanded from the
// environment before decoding so credentials can stay out of the file.
func Parse(data []byte) (Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &tmp); err != nil {
		return Config{}, fmt.Errorf("invalid yaml config: %w", err)
	}
	return tmp.build()
}

func (c ConfigTmp) build() (Config, error) {
	cfg := Config{
		Pair:                   domain.DefaultPair,
		PollInterval:           orDefault(c.PollInterval, balance.DefaultPollInterval),
		HeartbeatInterval:      orDefault(c.HeartbeatInterval, stream.DefaultHeartbeatInterval),
		KeepaliveInterval:      orDefault(c.KeepaliveInterval, stream.DefaultKeepaliveInterval),
		Idempotency:            c.Idempotency,
		JournalDir:             c.JournalDir,
		Precision:              make(map[domain.Exchange]connector.Precision),
		MaxParallelPerExchange: c.MaxParallelPerExchange,
		HTTPAddr:               c.HTTPAddr,
		Enabled:                true,
	}

	if c.Pair != "" {
		pair, err := domain.ParsePair(c.Pair)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'pair' param in yaml config: %w", err)
		}
		cfg.Pair = pair
	}
	if c.Enabled != nil {
		cfg.Enabled = *c.Enabled
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.JournalDir == "" {
		cfg.JournalDir = journal.DefaultDir
	}
	if cfg.MaxParallelPerExchange < 0 {
		return Config{}, fmt.Errorf("'max_parallel_per_exchange' must not be negative, got %d", cfg.MaxParallelPerExchange)
	}

	if cfg.Idempotency.Backend == "" {
		cfg.Idempotency.Backend = idempotency.BackendWAL
	}
	switch cfg.Idempotency.Backend {
	case idempotency.BackendWAL, idempotency.BackendMemory:
	case idempotency.BackendRedis:
		if cfg.Idempotency.RedisURL == "" {
			return Config{}, fmt.Errorf("'idempotency.redis_url' is required for the redis backend")
		}
	default:
		return Config{}, fmt.Errorf("unknown 'idempotency.backend' %q, expected wal, redis or memory", cfg.Idempotency.Backend)
	}
	if cfg.Idempotency.Retention <= 0 {
		cfg.Idempotency.Retention = idempotency.DefaultRetention
	}

	for name, p := range c.Precision {
		ex, err := parseExchange(name)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'precision' key: %w", err)
		}
		if p.Quote < 0 || p.Base < 0 {
			return Config{}, fmt.Errorf("precision for %s must not be negative", name)
		}
		cfg.Precision[ex] = p
	}

	leader, err := c.Leader.account("leader")
	if err != nil {
		return Config{}, err
	}
	if leader.Exchange != domain.ExchangeBinance {
		return Config{}, fmt.Errorf("leader exchange %q is not supported, only binance streams are implemented", leader.Exchange)
	}
	cfg.Leader = leader
	cfg.LeaderStreamURL = c.Leader.StreamURL
	cfg.LeaderRESTURL = c.Leader.RESTURL

	seen := make(map[string]struct{}, len(c.Followers))
	for i, f := range c.Followers {
		if f.ID == "" {
			return Config{}, fmt.Errorf("follower #%d: 'id' is required", i+1)
		}
		if _, dup := seen[f.ID]; dup {
			return Config{}, fmt.Errorf("follower %q is declared twice", f.ID)
		}
		seen[f.ID] = struct{}{}

		acc, err := f.account("follower " + f.ID)
		if err != nil {
			return Config{}, err
		}
		cfg.Followers = append(cfg.Followers, acc)
	}

	return cfg, nil
}

func (a AccountTmp) account(name string) (domain.Account, error) {
	ex, err := parseExchange(a.Exchange)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%s: %w", name, err)
	}

	env := domain.Environment(strings.ToLower(a.Env))
	if env == "" {
		env = domain.EnvironmentLive
	}
	if err := env.Validate(); err != nil {
		return domain.Account{}, fmt.Errorf("%s: %w", name, err)
	}

	status := domain.AccountStatus(strings.ToLower(a.Status))
	if status == "" {
		status = domain.AccountStatusActive
	}
	if err := status.Validate(); err != nil {
		return domain.Account{}, fmt.Errorf("%s: %w", name, err)
	}

	if a.APIKey == "" || a.APISecret == "" {
		return domain.Account{}, fmt.Errorf("%s: 'api_key' and 'api_secret' are required", name)
	}
	if ex == domain.ExchangeBitget && a.Passphrase == "" {
		return domain.Account{}, fmt.Errorf("%s: bitget accounts require 'passphrase'", name)
	}

	id := a.ID
	if id == "" {
		id = name
	}
	return domain.Account{
		ID:          id,
		Exchange:    ex,
		Environment: env,
		Credentials: domain.Credentials{APIKey: a.APIKey, APISecret: a.APISecret, Passphrase: a.Passphrase},
		Status:      status,
	}, nil
}

func parseExchange(s string) (domain.Exchange, error) {
	switch ex := domain.Exchange(strings.ToLower(strings.TrimSpace(s))); ex {
	case domain.ExchangeBinance, domain.ExchangeBitget, domain.ExchangeBybit:
		return ex, nil
	}
	return "", fmt.Errorf("unsupported exchange %q", s)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Marshal renders tmp as YAML.
func Marshal(tmp ConfigTmp) ([]byte, error) {
	return yaml.Marshal(tmp)
}
