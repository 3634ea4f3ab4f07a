// Package main wires together the registry crawler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/registry-graph-crawler/internal/api"
	"github.com/JakeFAU/registry-graph-crawler/internal/auth"
	"github.com/JakeFAU/registry-graph-crawler/internal/clock/system"
	"github.com/JakeFAU/registry-graph-crawler/internal/config"
	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
	"github.com/JakeFAU/registry-graph-crawler/internal/dispatcher"
	"github.com/JakeFAU/registry-graph-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/registry-graph-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/registry-graph-crawler/internal/graph/memory"
	neo4jgraph "github.com/JakeFAU/registry-graph-crawler/internal/graph/neo4j"
	"github.com/JakeFAU/registry-graph-crawler/internal/id/uuid"
	"github.com/JakeFAU/registry-graph-crawler/internal/logging"
	"github.com/JakeFAU/registry-graph-crawler/internal/metrics"
	"github.com/JakeFAU/registry-graph-crawler/internal/storage/postgres"
	"github.com/JakeFAU/registry-graph-crawler/internal/worker"
)

const closeTimeout = 10 * time.Second

// graphStore is what main needs from either graph backend.
type graphStore interface {
	crawler.GraphStore
	EnsureSchema(ctx context.Context) error
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 2
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("crawl failed", zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()
	clock := system.New()

	runID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("run_id", runID))

	fetchCfg := collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	}
	if cfg.Auth.Enabled {
		jar, err := auth.Login(ctx, auth.Config{
			LoginURL:    cfg.Site.LoginURL,
			Credentials: cfg.Auth.Credentials,
			UserAgent:   cfg.HTTP.UserAgent,
			Timeout:     cfg.FetchTimeout(),
		}, logger.Named("auth"))
		if err != nil {
			return fmt.Errorf("establish session: %w", err)
		}
		fetchCfg.Jar = jar
	}
	fetcher := collyfetcher.New(fetchCfg)

	store, closeStore, err := openGraphStore(ctx, cfg, logger.Named("graph"))
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	checks := map[string]api.ReadinessCheck{}
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		checks["graph"] = p.Ping
	}

	var ledger crawler.Ledger
	var outcomes *postgres.OutcomeStore
	if cfg.DB.DSN != "" {
		outcomes, err = postgres.NewOutcomeStore(ctx, postgres.OutcomeStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return err
		}
		defer outcomes.Close()
		if err := outcomes.EnsureTables(ctx); err != nil {
			return err
		}
		ledger = outcomes
		checks["ledger"] = outcomes.Ping
	}

	extractor := extract.New(
		extract.NewHTTPVATResolver(fetcher, cfg.Site.VATURLTemplate, logger.Named("vat")),
		logger.Named("extract"),
	)
	w := worker.New(
		fetcher,
		extractor,
		store,
		ledger,
		crawler.NewExponentialRetryPolicy(cfg.Graph.WriteAttempts),
		clock,
		worker.Config{
			SearchURL: cfg.Site.SearchURL,
			Country:   cfg.Site.Country,
			RunID:     runID,
		},
		logger.Named("worker"),
	)
	dispatch := dispatcher.New(w, clock, logger.Named("dispatcher"))

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	serverErr := make(chan error, 1)
	if cfg.Server.Port > 0 {
		srv := api.NewServer(dispatch, checks, logger.Named("api"))
		go func() {
			serverErr <- srv.Serve(serverCtx, fmt.Sprintf(":%d", cfg.Server.Port))
		}()
	} else {
		serverErr <- nil
	}

	runCfg := dispatcher.RunConfig{
		Range:             cfg.Range(),
		RequestsPerSecond: cfg.Crawl.RequestsPerSecond,
		Workers:           cfg.Crawl.Workers,
		RunID:             runID,
	}
	if outcomes != nil {
		if err := outcomes.StartRun(ctx, runID, runCfg.Range, clock.Now()); err != nil {
			logger.Warn("ledger run start failed", zap.Error(err))
		}
	}

	summary, runErr := dispatch.Run(ctx, runCfg)

	if outcomes != nil {
		errText := ""
		if runErr != nil {
			errText = runErr.Error()
		}
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		if err := outcomes.FinishRun(finishCtx, summary, errText); err != nil {
			logger.Warn("ledger run finish failed", zap.Error(err))
		}
		cancel()
	}

	stopServer()
	if err := <-serverErr; err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// openGraphStore selects the configured backend and returns its closer.
func openGraphStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (graphStore, func(), error) {
	linkBy := crawler.LinkTarget(cfg.Graph.LinkBy)
	switch cfg.Graph.Driver {
	case config.GraphDriverMemory:
		logger.Info("using in-memory graph store")
		return memory.NewStore(linkBy), func() {}, nil
	case config.GraphDriverNeo4j:
		store, err := neo4jgraph.New(ctx, neo4jgraph.Config{
			URI:      cfg.Graph.URI,
			Username: cfg.Graph.Username,
			Password: cfg.Graph.Password,
			Database: cfg.Graph.Database,
			LinkBy:   linkBy,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				logger.Warn("graph store close failed", zap.Error(err))
			}
		}
		return store, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("%w: graph.driver %q is not supported", crawler.ErrInvalidConfig, cfg.Graph.Driver)
	}
}
