package internal

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/copier/config"
	"github.com/vadiminshakov/copier/internal/clients"
	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/registry"
	"github.com/vadiminshakov/copier/internal/services/balance"
	"github.com/vadiminshakov/copier/internal/services/connector"
	"github.com/vadiminshakov/copier/internal/services/dispatcher"
	"github.com/vadiminshakov/copier/internal/services/stream"
	"github.com/vadiminshakov/copier/internal/services/watcher"
	"github.com/vadiminshakov/copier/internal/storage/idempotency"
	"github.com/vadiminshakov/copier/internal/storage/journal"
)

// leaderEventBuffer lets the stream run ahead of a slow dispatch cycle by a few fills.
const leaderEventBuffer = 16

// Components is the wired object graph behind a Copier.
type Components struct {
	Copier     *Copier
	Accounts   *registry.Static
	Connectors *connector.Registry
	Balances   *balance.Cache
	Dispatcher *dispatcher.Dispatcher
	Store      idempotency.Store
	// Journal is nil when the journal could not be opened.
	Journal    *journal.WALStore
}

type closers []closer

// Close closes every element and returns the first error.
func (cs closers) Close() error {
	var first error
	for _, c := range cs {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build wires every component for cfg.
func Build(cfg config.Config, logger *zap.Logger) (*Components, error) {
	if cfg.Leader.Exchange != domain.ExchangeBinance {
		return nil, errors.Errorf("unsupported leader exchange %q", cfg.Leader.Exchange)
	}

	accounts := registry.NewStatic(cfg.Followers)
	connectors := connector.NewDefaultRegistry(cfg.Precision)
	store := idempotency.Open(cfg.Idempotency, logger)
	balances := balance.NewCache(accounts, connectors, cfg.Pair, cfg.PollInterval, logger)

	d := dispatcher.New(dispatcher.Config{
		Pair:                   cfg.Pair,
		MaxParallelPerExchange: cfg.MaxParallelPerExchange,
		Enabled:                cfg.Enabled,
	}, accounts, connectors, balances, store, logger)

	owned := closers{store}
	cycles, err := journal.NewWALStore(cfg.JournalDir)
	if err != nil {
		logger.Warn("dispatch journal unavailable, history stream disabled", zap.String("dir", cfg.JournalDir), zap.Error(err))
	} else {
		d.SetJournal(cycles)
		owned = append(owned, cycles)
	}

	var leaderOpts []connector.Option
	if cfg.LeaderRESTURL != "" {
		leaderOpts = append(leaderOpts, connector.WithBaseURL(cfg.LeaderRESTURL))
	}
	leaderBalances := connector.NewBinance(cfg.Leader.Environment, leaderOpts...)

	streamURL := cfg.LeaderStreamURL
	if streamURL == "" {
		streamURL = clients.BinanceStreamURL(cfg.Leader.Environment)
	}

	newWatcher := func(creds domain.Credentials) LeaderWatcher {
		keys := stream.NewBinanceListenKeys(creds, cfg.Leader.Environment, cfg.LeaderRESTURL, nil)
		return watcher.New(watcher.Config{
			Pair:        cfg.Pair,
			Credentials: creds,
			Stream: stream.Config{
				BaseURL:           streamURL,
				HeartbeatInterval: cfg.HeartbeatInterval,
				KeepaliveInterval: cfg.KeepaliveInterval,
			},
			EventBuffer: leaderEventBuffer,
		}, leaderBalances, keys, nil, logger)
	}

	return &Components{
		Copier:     NewCopier(cfg.Leader.Credentials, newWatcher, d, balances, owned, logger),
		Accounts:   accounts,
		Connectors: connectors,
		Balances:   balances,
		Dispatcher: d,
		Store:      store,
		Journal:    cycles,
	}, nil
}
