package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/marabbate/echoq/internal/config"
	"github.com/marabbate/echoq/internal/dispatch"
	"github.com/marabbate/echoq/internal/ingress"
	"github.com/marabbate/echoq/internal/ledger"
	"github.com/marabbate/echoq/internal/metrics"
	"github.com/marabbate/echoq/internal/node"
	"github.com/marabbate/echoq/internal/store"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "serve",
		Short:         "Run the echoq dispatch engine and HTTP ingress",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(root)
		},
	}
}

func runServe(root *rootOptions) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	n, err := node.New(cfg.Node.DataDir, cfg.Node.ID)
	if err != nil {
		return fmt.Errorf("init node: %w", err)
	}
	logger.Info("echoq starting", "node_id", n.ID(), "redis_addr", cfg.Redis.Addr, "data_dir", n.DataDir())

	metricsReg := &metrics.Registry{}

	var ledgerLog *ledger.Ledger
	if cfg.Ledger.Enabled {
		ledgerLog, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer ledgerLog.Close()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	gw := store.NewRedisGateway(rdb)
	defer gw.Close()

	hub := ingress.NewHub()

	fatal := make(chan error, 1)
	engine := dispatch.New(gw,
		dispatch.WithMetrics(metricsReg),
		dispatch.WithLedger(ledgerLog),
		dispatch.WithObserver(hub.Observe),
		dispatch.WithLogger(logger),
		dispatch.WithBatchSize(cfg.Dispatch.BatchSize),
		dispatch.WithNodeID(string(n.ID())),
		dispatch.WithFatalHook(func(err error) {
			logger.Error("dispatch engine giving up on the store", "err", err)
			select {
			case fatal <- err:
			default:
			}
		}),
	)

	engineCtx, cancelEngine := context.WithCancel(context.Background())
	defer cancelEngine()
	if err := engine.Start(engineCtx); err != nil {
		return fmt.Errorf("start dispatch engine: %w", err)
	}
	defer engine.Shutdown()

	srv := ingress.New(engine, hub, ledgerLog, n, ingress.Config{
		MaxRate: float64(cfg.Ingress.MaxRate),
		Burst:   cfg.Ingress.Burst,
	}, logger)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("echoq ready", "addr", cfg.Ingress.Addr)
		if err := srv.ListenAndServe(cfg.Ingress.Addr); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		} else {
			serveErr <- nil
		}
	}()

	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			logger.Info("metrics server listening", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, metricsReg.Handler()); err != nil {
				logger.Warn("metrics server error", "err", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case err := <-fatal:
		logger.Error("shutting down after fatal dispatch error", "err", err)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("ingress shutdown error", "err", err)
	}

	logger.Info("echoq stopped")
	return nil
}
