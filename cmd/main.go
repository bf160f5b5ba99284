// Command copier mirrors the market orders of a Binance spot leader account
// onto follower accounts on Binance, Bitget and Bybit, sized proportionally to
// each follower's free balance.
//
// Usage:
//
//	copier --config config.yaml
//	copier --setup [--setup-out config.gen.yaml]
//
// Credentials may reference environment variables, e.g. api_key: ${LEADER_KEY}.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/copier/config"
	"github.com/vadiminshakov/copier/internal"
	"github.com/vadiminshakov/copier/internal/setup"
	"github.com/vadiminshakov/copier/internal/web"
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if flags.Setup {
		if err := setup.RunTUI(flags.SetupPath); err != nil {
			log.Fatal(err)
		}
		flags.ConfigPath = flags.SetupPath
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	components, err := internal.Build(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build copier", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting copier",
		zap.Stringer("pair", cfg.Pair),
		zap.Stringer("leader", cfg.Leader.Credentials),
		zap.Int("followers", len(cfg.Followers)),
		zap.String("idempotency", cfg.Idempotency.Backend))

	server := web.NewServer(cfg.HTTPAddr, components.Copier, components.Accounts, logger)
	server.Balances = components.Balances
	if components.Journal != nil {
		server.Journal = components.Journal
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return components.Copier.Run(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("copier stopped with error", zap.Error(err))
	}

	if err := components.Copier.Close(); err != nil {
		logger.Error("failed to close copier", zap.Error(err))
	}
	logger.Info("copier shut down")
}
