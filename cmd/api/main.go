package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cimillas/ticket-engine/internal/app"
	"github.com/cimillas/ticket-engine/internal/catalogcache"
	"github.com/cimillas/ticket-engine/internal/clock"
	"github.com/cimillas/ticket-engine/internal/config"
	"github.com/cimillas/ticket-engine/internal/identity"
	"github.com/cimillas/ticket-engine/internal/ledger"
	"github.com/cimillas/ticket-engine/internal/metrics"
	"github.com/cimillas/ticket-engine/internal/notify"
	"github.com/cimillas/ticket-engine/internal/payment"
	"github.com/cimillas/ticket-engine/internal/storage/memory"
	"github.com/cimillas/ticket-engine/internal/storage/postgres"
	transporthttp "github.com/cimillas/ticket-engine/internal/transport/http"
	"github.com/cimillas/ticket-engine/migrations"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("api stopped")
	}
	logger.Info("api stopped")
}

type storage struct {
	events app.EventRepository
	ledger ledger.Ledger
	ping   transporthttp.HealthCheck
	close  func()
}

func openStorage(ctx context.Context, cfg config.Config, clk clock.Clock, logger logrus.FieldLogger) (storage, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return storage{
			events: memory.NewEventRepository(),
			ledger: ledger.NewMemory(clk),
			close:  func() {},
		}, nil
	}

	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return storage{}, err
	}
	if err := pool.Ping(startupCtx); err != nil {
		pool.Close()
		return storage{}, err
	}
	applied, err := migrations.Apply(startupCtx, pool)
	if err != nil {
		pool.Close()
		return storage{}, err
	}
	if len(applied) > 0 {
		logger.WithField("migrations", applied).Info("migrations applied")
	}
	return storage{
		events: postgres.NewEventRepository(pool),
		ledger: postgres.NewLedger(pool, clk),
		ping:   pool.Ping,
		close:  pool.Close,
	}, nil
}

func newGate(cfg config.Config) (identity.Gate, error) {
	if cfg.Identity.URL != "" {
		opts := []identity.RemoteOption{identity.WithAPIKey(cfg.Identity.APIKey)}
		if cfg.Identity.Timeout > 0 {
			opts = append(opts, identity.WithHTTPClient(&http.Client{Timeout: cfg.Identity.Timeout}))
		}
		return identity.NewRemoteGate(cfg.Identity.URL, opts...), nil
	}
	tokens, err := cfg.StaticIdentities()
	if err != nil {
		return nil, err
	}
	return identity.NewStaticGate(tokens), nil
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	clk := clock.NewSystem()

	store, err := openStorage(ctx, cfg, clk, logger)
	if err != nil {
		return err
	}
	defer store.close()

	events := store.events
	purchaseOpts := []app.PurchaseOption{
		app.WithPaymentTimeout(cfg.Payment.Timeout),
		app.WithExecuteTimeout(cfg.Payment.ExecuteTimeout),
		app.WithPurchaseLogger(logger),
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		events = catalogcache.New(events, rdb, cfg.Redis.CacheTTL, logger)

		if cfg.Redis.Stream {
			pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: rdb}, notify.NewWatermillLogger(logger))
			if err != nil {
				return err
			}
			defer pub.Close()
			purchaseOpts = append(purchaseOpts, app.WithNotifier(notify.NewPublisher(pub, clk)))
		}
	}

	gate, err := newGate(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	purchaseOpts = append(purchaseOpts, app.WithObserver(m))

	catalog := app.NewCatalogService(events, store.ledger, clk,
		app.WithPageSize(cfg.PageSize),
		app.WithCatalogLogger(logger),
	)
	dispatcher := payment.NewDispatcher(payment.Config{
		Currency:     cfg.Payment.Currency,
		WalletScheme: cfg.Payment.WalletScheme,
		WalletPayee:  cfg.Payment.WalletPayee,
	})
	purchases := app.NewPurchaseService(gate, catalog, store.ledger, dispatcher, clk, purchaseOpts...)
	sweeper := app.NewSweeper(purchases, cfg.SweepInterval, logger)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: transporthttp.NewRouter(transporthttp.RouterConfig{
			Catalog:        catalog,
			Purchases:      purchases,
			Gate:           gate,
			Metrics:        m.Handler(),
			Health:         store.ping,
			Logger:         logger,
			CORSOrigins:    cfg.CORSOrigins,
			CallbackSecret: cfg.Payment.CallbackSecret,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "storage": cfg.Storage}).Info("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
