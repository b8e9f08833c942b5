package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/analytics"
	"github.com/patrickwarner/flashbid/internal/api"
	"github.com/patrickwarner/flashbid/internal/cache"
	"github.com/patrickwarner/flashbid/internal/config"
	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/logic"
	"github.com/patrickwarner/flashbid/internal/models"
	"github.com/patrickwarner/flashbid/internal/observability"
	"github.com/patrickwarner/flashbid/internal/ws"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracing, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdownTracing()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	store, err := db.InitRedis(cfg.RedisAddr, cfg.RedisDialTimeout, cfg.RedisOpTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	metricsRegistry := observability.NewPrometheusRegistry()

	// The audit sink is optional; without a DSN accepted bids simply skip
	// the bid_events stream.
	var auditor *analytics.Analytics
	if cfg.ClickHouseDSN != "" {
		auditor, err = analytics.InitClickHouse(cfg.ClickHouseDSN, metricsRegistry)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer auditor.Close()
		go auditor.Run(ctx)
	}

	campaignCache := cache.New(store, pg)
	prewarmCampaigns(ctx, logger, pg, store, campaignCache)

	hub := ws.NewHub(logger, metricsRegistry)

	var bidAuditor logic.BidAuditor
	if auditor != nil {
		bidAuditor = auditor
	}
	bidService := logic.NewBidService(campaignCache, pg, store, hub, bidAuditor, metricsRegistry, logger)
	rankingService := logic.NewRankingService(store, pg, logger)
	userService := logic.NewUserService(pg)
	inventory := logic.NewInventory(store, metricsRegistry, logger)
	settlement := logic.NewSettlementService(logic.NewPostgresSettlementStore(pg), store, inventory, hub, metricsRegistry, logger)
	settlement.OpTimeout = cfg.DBOpTimeout

	broadcaster := ws.NewBroadcaster(hub, store, campaignCache, metricsRegistry, logger, cfg.BroadcastInterval)

	srvDeps := api.NewServer(logger, store, pg, campaignCache, bidService, rankingService, userService, hub, metricsRegistry, cfg)

	corsWrapper := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	handler := corsWrapper.Handler(srvDeps.Router())
	if cfg.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Flash-sale bidding engine running", zap.String("addr", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	go broadcaster.Run(ctx)
	go settlement.Run(ctx, cfg.SettlementInterval)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

// prewarmCampaigns pushes every active campaign's parameters into the cache
// tiers and makes sure its stock counter exists, so the first bids after a
// restart never stampede Postgres.
func prewarmCampaigns(ctx context.Context, logger *zap.Logger, pg *db.Postgres, store *db.RedisStore, campaignCache *cache.CampaignCache) {
	campaigns, err := pg.ActiveCampaigns(ctx, time.Now().UTC())
	if err != nil {
		logger.Warn("campaign cache pre-warm", zap.Error(err))
		return
	}

	for i := range campaigns {
		c := &campaigns[i]
		product, err := pg.ProductByID(ctx, c.ProductID)
		if err != nil {
			logger.Warn("campaign cache pre-warm product",
				zap.String("campaign_id", c.ID.String()), zap.Error(err))
			continue
		}
		campaignCache.Populate(ctx, models.ViewOf(c, product))

		if stock, err := store.Stock(ctx, c.ProductID.String()); err == nil && stock == 0 && product.Stock > 0 {
			if err := store.InitStock(ctx, c.ProductID.String(), product.Stock); err != nil {
				logger.Warn("stock counter pre-warm", zap.Error(err))
			}
		}
		logger.Info("pre-warmed campaign cache", zap.String("campaign_id", c.ID.String()))
	}
}
