package app

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libredis "storyforge/backend/libs/redis"
	"storyforge/backend/services/credits-service/internal/config"
	"storyforge/backend/services/credits-service/internal/events"
	httpserver "storyforge/backend/services/credits-service/internal/http"
	"storyforge/backend/services/credits-service/internal/http/handlers"
	"storyforge/backend/services/credits-service/internal/ledger"
	"storyforge/backend/services/credits-service/internal/repository"
)

// App wires credits service dependencies.
type App struct {
	cfg    *config.Config
	server *httpserver.Server
	ledger *ledger.Ledger
	store  repository.Store
	redis  *goredis.Client
	bus    *events.RedisBus
	logger *zap.Logger
}

// New constructs application graph. Websocket connections are bound to ctx.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg, cfg.Storage.AutoMigrate, logger)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, store: store, logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := events.NewHub(logger)
	var notifier ledger.Notifier = hub
	if cfg.Redis.Addr != "" {
		client, err := libredis.NewRedisClient(libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		a.bus = events.NewRedisBus(client, cfg.Redis.Channel, hub, logger)
		notifier = a.bus
	}

	opts := LedgerOptions(cfg)
	opts.Metrics = ledger.NewMetrics(reg)
	opts.Notifier = notifier
	l, err := ledger.New(store, logger, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ledger = l

	wsServer := events.NewServer(ctx, hub, l, cfg.WS.WriteTimeout, logger)

	routes := httpserver.Routes{
		Ensure:       handlers.NewEnsureHandler(l, logger),
		Status:       handlers.NewStatusHandler(l, logger),
		Reserve:      handlers.NewReserveHandler(l, logger),
		Commit:       handlers.NewCommitHandler(l, logger),
		Release:      handlers.NewReleaseHandler(l, logger),
		Refund:       handlers.NewRefundHandler(l, logger),
		Reconcile:    handlers.NewReconcileHandler(l, logger),
		Transactions: handlers.NewTransactionsHandler(l, logger),
		AdminBonus:   handlers.NewAdminBonusHandler(l, logger),
		AdminReset:   handlers.NewAdminResetCycleHandler(l, logger),
		Events:       wsServer.HandleWS,
		Health:       handlers.NewHealthHandler(store, logger),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	router := httpserver.NewRouter(routes, cfg.Auth.ServiceKeyHash, logger)
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger)
	return a, nil
}

// Run starts the HTTP server plus the sweeper and event relay, and blocks
// until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.cfg.Sweep.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.ledger.RunSweeper(ctx, a.cfg.Sweep.Interval, a.cfg.Sweep.MaxAge, a.cfg.Sweep.Batch)
		}()
	}
	if a.bus != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("balance event relay stopped", zap.Error(err))
			}
		}()
	}

	err := a.server.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Close releases resources.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}
