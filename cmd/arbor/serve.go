package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/config"
	"github.com/aretw0/arbor/internal/logging"
	httpAdapter "github.com/aretw0/arbor/pkg/adapters/http"
	redisAdapter "github.com/aretw0/arbor/pkg/adapters/redis"
	"github.com/aretw0/arbor/pkg/adapters/tcp"
	"github.com/aretw0/arbor/pkg/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the evaluation server",
	Long: `Starts the Arbor server: the message protocol on a TCP port and the
admin API (health, sessions, pipeline, metrics) on an HTTP port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			cfg.ListenAddr = addr
		}
		if addr, _ := cmd.Flags().GetString("http"); addr != "" {
			cfg.HTTPAddr = addr
		}

		logger := logging.New(logging.ParseLevel(cfg.LogLevel))

		opts := []arbor.Option{
			arbor.WithLogger(logger),
			arbor.WithPoolSize(cfg.PoolSize),
			arbor.WithDefaultEvaluator(cfg.Evaluator),
		}

		var registry *prometheus.Registry
		if cfg.Metrics {
			registry = prometheus.NewRegistry()
			opts = append(opts, arbor.WithMetrics(observability.New(registry)))
		}

		var redisStore *redisAdapter.Store
		if cfg.Redis.Addr != "" {
			redisStore = redisAdapter.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
				redisAdapter.WithTTL(cfg.Redis.TTL))
			opts = append(opts, arbor.WithSnapshotStore(redisStore))
			logger.Info("snapshot persistence enabled", "addr", cfg.Redis.Addr)
		}

		srv, err := arbor.New(opts...)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		ctx := lifecycle.NewSignalContext(context.Background())

		adminSrv := &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: httpAdapter.NewHandler(srv.Registry(), srv.Descriptors,
				gathererOrNil(registry)),
		}
		lifecycle.Go(ctx, func(ctx context.Context) error {
			logger.Info("admin api listening", "addr", cfg.HTTPAddr)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		tcpSrv := tcp.NewServer(cfg.ListenAddr, srv, srv.Pool(), tcp.WithLogger(logger))
		serveErr := tcpSrv.Serve(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin api shutdown incomplete", "error", err)
		}
		srv.Shutdown()
		if redisStore != nil {
			redisStore.Close()
		}

		if serveErr != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", serveErr)
			os.Exit(1)
		}
		logger.Info("arbor stopped gracefully")
		return nil
	},
}

func gathererOrNil(reg *prometheus.Registry) prometheus.Gatherer {
	if reg == nil {
		return nil
	}
	return reg
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "TCP address for the message protocol (overrides config)")
	serveCmd.Flags().String("http", "", "HTTP address for the admin API (overrides config)")
}
