package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"issuerLedger/internal/chain"
	"issuerLedger/internal/config"
	"issuerLedger/internal/storage"
	"issuerLedger/internal/storage/postgres"
	"issuerLedger/internal/syncer"
	"issuerLedger/internal/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:          "ledger",
		Short:        "Investment and governance settlement ledger tools",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Project settlement events into Postgres",
		RunE:  runSync,
	}
	addSyncFlags(syncCmd)
	syncCmd.Flags().Bool("once", false, "run a single tick and drift check, then exit")
	syncCmd.Flags().Bool("resume-errored", false, "reset errored checkpoints to active before syncing")
	syncCmd.Flags().Duration("interval", 5*time.Second, "delay between ticks")
	syncCmd.Flags().Duration("drift-interval", time.Minute, "delay between drift checks")
	syncCmd.Flags().String("archive", "", "optional JSONL archive of raw settlement logs")
	syncCmd.Flags().String("metrics-addr", ":9102", "prometheus listen address, empty disables")
	syncCmd.Flags().Bool("trace", false, "export spans to stderr")
	root.AddCommand(syncCmd)

	driftCmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare ledger counters with the relational store",
		RunE:  runDrift,
	}
	addSyncFlags(driftCmd)
	root.AddCommand(driftCmd)

	root.AddCommand(newCheckpointsCmd())
	root.AddCommand(newSimulateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "settlement chain RPC URL")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("factory", "", "campaign factory address")
	cmd.Flags().String("certificates", "", "certificate contract address")
	cmd.Flags().String("governance", "", "governance contract address")
	cmd.Flags().Uint64("start-block", 0, "first block of new checkpoints")
	cmd.Flags().Uint64("confirmations", 0, "blocks to hold back from head")
	cmd.Flags().Uint64("batch-size", 1000, "blocks per applied range")
	cmd.Flags().Int("max-retries", 5, "retries per range before a checkpoint errors")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Int("concurrency", 4, "targets synchronized in parallel")
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSync(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "ledger-sync", cfg.Trace, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer stopMetrics()
	}

	s, closeAll, err := openSyncer(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	if resume, _ := cmd.Flags().GetBool("resume-errored"); resume {
		n, err := s.ResumeErrored(ctx)
		if err != nil {
			return err
		}
		logger.Info("errored checkpoints resumed", zap.Int("count", n))
	}

	logger.Info("sync start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("factory", cfg.Factory.Hex()),
		zap.String("certificates", cfg.Certificates.Hex()),
		zap.String("governance", cfg.Governance.Hex()),
		zap.Uint64("start_block", cfg.StartBlock),
		zap.Uint64("confirmations", cfg.Confirmations),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Int("concurrency", cfg.Concurrency),
	)

	if once, _ := cmd.Flags().GetBool("once"); once {
		res, err := s.Tick(ctx)
		if err != nil {
			return err
		}
		logger.Info("tick complete",
			zap.Uint64("head", res.Head),
			zap.Uint64("applied", res.Applied),
			zap.Int("failed", len(res.Failed)),
		)
		if _, err := s.CheckDrift(ctx); err != nil {
			logger.Warn("drift check failed", zap.Error(err))
		}
		if len(res.Failed) > 0 {
			return fmt.Errorf("%d checkpoints failed", len(res.Failed))
		}
		return nil
	}

	return s.Run(ctx)
}

func runDrift(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSync(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, closeAll, err := openSyncer(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	report, err := s.CheckDrift(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "campaigns     ledger=%d store=%d\n", report.LedgerCampaigns, report.StoreCampaigns)
	fmt.Fprintf(out, "certificates  ledger=%d store=%d\n", report.LedgerCertificates, report.StoreCertificates)
	if report.Drifted() {
		fmt.Fprintln(out, "drift detected")
	}
	return nil
}

// openSyncer connects the RPC source and Postgres store and builds a
// synchronizer over them. The returned func releases both connections.
func openSyncer(ctx context.Context, cfg config.Sync, registry prometheus.Registerer, logger *zap.Logger) (*syncer.Syncer, func(), error) {
	if cfg.RPCURL == "" {
		return nil, nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PGDSN == "" {
		return nil, nil, fmt.Errorf("pg dsn is required")
	}

	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		client.Close()
		return nil, nil, err
	}

	var archive storage.Archive
	if cfg.ArchivePath != "" {
		archive = storage.NewJSONLArchive(cfg.ArchivePath)
	}

	s, err := syncer.New(syncer.Config{
		ChainID:       chainID,
		Factory:       cfg.Factory,
		Certificates:  cfg.Certificates,
		Governance:    cfg.Governance,
		StartBlock:    cfg.StartBlock,
		Confirmations: cfg.Confirmations,
		BatchSize:     cfg.BatchSize,
		Interval:      cfg.Interval,
		DriftInterval: cfg.DriftInterval,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		Concurrency:   cfg.Concurrency,
	}, syncer.Deps{
		Source:  client,
		Store:   store,
		Archive: archive,
		Counters: syncer.ChainCounters{
			Caller:       client,
			Factory:      cfg.Factory,
			Certificates: cfg.Certificates,
		},
		Metrics: syncer.NewMetrics(registry),
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		client.Close()
		return nil, nil, err
	}

	return s, func() {
		store.Close()
		client.Close()
	}, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
