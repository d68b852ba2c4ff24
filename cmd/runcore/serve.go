package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/runcore-labs/runcore/pkg/budget"
	"github.com/runcore-labs/runcore/pkg/config"
	"github.com/runcore-labs/runcore/pkg/events"
	"github.com/runcore-labs/runcore/pkg/gateway"
	"github.com/runcore-labs/runcore/pkg/ledger"
	runcorelog "github.com/runcore-labs/runcore/pkg/log"
	"github.com/runcore-labs/runcore/pkg/metrics"
	"github.com/runcore-labs/runcore/pkg/pricing"
	"github.com/runcore-labs/runcore/pkg/redact"
	"github.com/runcore-labs/runcore/pkg/runmodel"
	"github.com/runcore-labs/runcore/pkg/store"
)

// serveCmd assembles every collaborator (store, ledger, pricing, budget,
// gateway) and serves the narrow /health + /metrics HTTP surface, mirroring
// cmd/tarsy/main.go's own config-init -> db-connect -> services -> router
// sequence.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the health/metrics HTTP surface with the full runcore stack wired up",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil {
				cmd.PrintErrf("warning: could not load %s: %v\n", envFile, err)
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			logger := runcorelog.Setup(cfg.Log)
			logger.Info("starting runcore", "http_port", cfg.Server.HTTPPort)

			ctx := context.Background()

			dbStore, err := store.NewPostgresStore(ctx, store.Config{
				Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
				Password: cfg.Database.Password, Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
				MaxOpenConns: cfg.Database.MaxOpenConns, MaxIdleConns: cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime, ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			})
			if err != nil {
				return err
			}
			defer dbStore.Close()
			logger.Info("connected to postgres durable store")

			// registers runcore_* collectors against the default registry and
			// is threaded into every collaborator below so GatewayCalls,
			// LedgerAppends, BudgetDenials, TasksTotal, CostPerRun, and
			// GatewayLatency actually move (spec.md §11).
			m := metrics.New(nil)

			led := ledger.New(dbStore).WithMetrics(m)

			registry, err := pricing.NewRegistry(pricing.ModeFailClosed, loadCatalogOverlay(cfg.Cost.PricingCatalogFile))
			if err != nil {
				return err
			}

			mgr := budget.NewManager(cfg.BudgetConfig(), led, registry).WithMetrics(m)
			if cfg.Redis.Enabled {
				rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
				mgr.WithAccumulator(budget.NewRedisAccumulator(rdb, "runcore:"))
				logger.Info("budget accumulator backed by redis", "addr", cfg.Redis.Addr)
			}
			if _, err := mgr.LoadSessionCosts(ctx); err != nil {
				logger.Warn("session cost reconciliation failed", "error", err)
			}

			bus := events.NewBus(logger)
			redactor := redact.New()

			unknownMode := pricing.UnknownPricingMode(cfg.Cost.UnknownPricingMode)
			stubClient := runmodel.NewStubModelClient("openai", "gpt-4o-mini", runmodel.LLMUsage{})
			gw := gateway.New(stubClient, mgr, registry, led, bus, redactor, unknownMode).WithMetrics(m)
			_ = gw // wired for embedders that construct an engine.Engine around it

			router := gin.New()
			router.Use(gin.Recovery())

			router.GET("/health", func(c *gin.Context) {
				reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
				defer cancel()

				if err := dbStore.DB().PingContext(reqCtx); err != nil {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
					return
				}
				c.JSON(http.StatusOK, gin.H{
					"status": "healthy",
					"config": gin.H{
						"unknown_pricing_mode": cfg.Cost.UnknownPricingMode,
						"max_concurrent_tasks": cfg.Cost.MaxConcurrentTasks,
						"max_cost_per_run":     cfg.Cost.MaxCostPerRun,
						"max_cost_per_session": cfg.Cost.MaxCostPerSession,
					},
				})
			})
			router.GET("/metrics", gin.WrapH(promhttp.Handler()))

			logger.Info("http server listening", "port", cfg.Server.HTTPPort)
			return router.Run(":" + cfg.Server.HTTPPort)
		},
	}
}

func loadCatalogOverlay(path string) []byte {
	if path == "" {
		return nil
	}
	data, err := readFileBestEffort(path)
	if err != nil {
		return nil
	}
	return data
}
