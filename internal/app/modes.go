package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/KowsarAtz/nfts-price/internal/catalog"
	"github.com/KowsarAtz/nfts-price/internal/chain/ethereum"
	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/ingest"
	"github.com/KowsarAtz/nfts-price/internal/ledger"
	"github.com/KowsarAtz/nfts-price/internal/matcher"
	"github.com/KowsarAtz/nfts-price/internal/pipeline"
	"github.com/KowsarAtz/nfts-price/internal/pricing"
	"github.com/KowsarAtz/nfts-price/internal/server"
	"github.com/KowsarAtz/nfts-price/internal/server/handler"
	"github.com/KowsarAtz/nfts-price/internal/server/ws"
	"github.com/KowsarAtz/nfts-price/internal/tokens"
)

var (
	_ pipeline.ChainSource = (*ethereum.Source)(nil)
	_ pipeline.Decoder     = (*ethereum.Decoder)(nil)
)

// IndexMode follows the chain from the last checkpoint until ctx is
// cancelled.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting index mode")
	dispatcher := a.buildDispatcher(deps)
	return a.runIndexer(ctx, deps, dispatcher)
}

// ReplayMode re-dispatches every archived batch once and returns.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode", slog.String("prefix", a.cfg.S3.Prefix))
	if deps.BlobReader == nil {
		return errors.New("app: replay requires the s3 archive")
	}

	dispatcher := a.buildDispatcher(deps)
	n, err := pipeline.NewReplayer(deps.BlobReader, a.cfg.S3.Prefix, dispatcher, a.logger).Run(ctx)
	if err != nil {
		return fmt.Errorf("app: replay: %w", err)
	}

	stats := dispatcher.Stats()
	a.logger.InfoContext(ctx, "replay finished",
		slog.Int("batches", n),
		slog.Int64("events", stats.Events),
		slog.Int64("sales", stats.Sales),
		slog.Int64("skipped", stats.Skipped),
	)
	return nil
}

// ServerMode serves the API and relays sales published by indexers through
// the sale bus.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if deps.SaleBus != nil {
		hub = ws.NewHub(deps.SaleBus, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	} else {
		a.logger.WarnContext(ctx, "redis disabled, live sale feed unavailable")
	}

	a.startHTTPServer(ctx, g, deps, hub, nil)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the indexer and the API server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	// Sales reach the hub through the bus when there is one, in-process
	// otherwise.
	var extra []domain.SaleSink
	var hub *ws.Hub
	if deps.SaleBus != nil {
		hub = ws.NewHub(deps.SaleBus, a.logger)
	} else {
		hub = ws.NewHub(nil, a.logger)
		extra = append(extra, hub)
	}
	g.Go(func() error { return hub.Run(ctx) })

	dispatcher := a.buildDispatcher(deps, extra...)
	a.startHTTPServer(ctx, g, deps, hub, func() any { return dispatcher.Stats() })

	g.Go(func() error {
		return a.runIndexer(ctx, deps, dispatcher)
	})

	return ignoreCanceled(g.Wait())
}

// buildDispatcher assembles the reconciliation core on top of the chain
// adapters. Sinks run in order: catalog, bus, analytics, notifier, extra.
func (a *App) buildDispatcher(deps *Dependencies, extra ...domain.SaleSink) *pipeline.Dispatcher {
	chainCfg := a.cfg.Chain
	caller := ethereum.NewCaller(deps.Chain.Client(), chainCfg.PinReads).
		WithRateLimit(chainCfg.RPCRateLimit, chainCfg.RPCBurst)
	nft := ethereum.NewNFT(caller)

	l := ledger.New(deps.Entities.Transactions)
	handlers := ingest.New(deps.Entities, l, a.logger)
	resolver := tokens.NewResolver(deps.Entities.PaymentTokens, ethereum.NewERC20(caller), a.logger)
	engine := pricing.NewEngine(
		ethereum.NewRouter(caller, common.HexToAddress(chainCfg.Router)),
		common.HexToAddress(chainCfg.USDC),
		common.HexToAddress(chainCfg.WETH),
	)
	m := matcher.New(deps.Entities, l, resolver, engine, a.logger)

	sinks := []domain.SaleSink{catalog.New(deps.Entities, nft, a.logger)}
	if deps.SaleBus != nil {
		sinks = append(sinks, deps.SaleBus)
	}
	if deps.Analytics != nil {
		sinks = append(sinks, deps.Analytics)
	}
	if deps.Notifier != nil {
		usdc := common.HexToAddress(chainCfg.USDC)
		sinks = append(sinks, deps.Notifier.WithUSDToken(resolver, deps.Entities.PaymentTokens, usdc))
	}
	sinks = append(sinks, extra...)

	return pipeline.NewDispatcher(
		handlers,
		m,
		ethereum.NewDecoder(common.HexToAddress(chainCfg.Exchange)),
		pipeline.SettlementSource(chainCfg.Settlement),
		sinks,
		a.logger,
	)
}

// runIndexer holds the indexer lock, when Redis is configured, for as long as
// the indexer runs.
func (a *App) runIndexer(ctx context.Context, deps *Dependencies, dispatcher *pipeline.Dispatcher) error {
	chainCfg := a.cfg.Chain

	var lock domain.Lock
	if deps.LockManager != nil {
		var err error
		lock, err = deps.LockManager.Acquire(ctx, "indexer:"+chainCfg.IndexerName, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: acquire indexer lock: %w", err)
		}
		defer lock.Release()
	}

	var archive *pipeline.BatchArchive
	if deps.BlobWriter != nil {
		archive = pipeline.NewBatchArchive(deps.BlobWriter, deps.BlobReader, a.cfg.S3.Prefix)
	}

	ix := pipeline.NewIndexer(pipeline.IndexerConfig{
		Name:           chainCfg.IndexerName,
		Exchange:       common.HexToAddress(chainCfg.Exchange),
		StartBlock:     chainCfg.StartBlock,
		Confirmations:  chainCfg.Confirmations,
		BatchSize:      chainCfg.BatchSize,
		PollInterval:   chainCfg.PollInterval.Duration,
		LockTTL:        a.cfg.Redis.LockTTL.Duration,
		FetchCallInput: chainCfg.Settlement == string(pipeline.SettleOnCall),
	}, deps.Chain, dispatcher, archive, deps.Entities.Checkpoints, lock, a.logger)

	return ignoreCanceled(ix.Run(ctx))
}

// startHTTPServer adds the API server to g and shuts it down when ctx is
// cancelled. stats may be nil.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, stats handler.StatsFunc) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, stats, a.logger),
		Entities: handler.NewEntityHandler(deps.Entities, common.HexToAddress(a.cfg.Chain.USDC), a.logger),
	}, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
