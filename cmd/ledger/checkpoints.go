package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"issuerLedger/internal/config"
	"issuerLedger/internal/contracts"
	"issuerLedger/internal/model"
	"issuerLedger/internal/storage/postgres"
)

func newCheckpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List synchronizer checkpoints",
		Args:  cobra.NoArgs,
		RunE:  runListCheckpoints,
	}
	cmd.PersistentFlags().String("pg-dsn", "", "Postgres DSN")

	cmd.AddCommand(&cobra.Command{
		Use:   "pause <source> <event-type>",
		Short: "Stop advancing a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return markCheckpoint(cmd, args, model.CheckpointPaused)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "resume <source> <event-type>",
		Short: "Resume a paused or errored checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return markCheckpoint(cmd, args, model.CheckpointActive)
		},
	})
	return cmd
}

func openCheckpointStore(ctx context.Context, cmd *cobra.Command) (*postgres.Store, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSync(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if cfg.PGDSN == "" {
		return nil, nil, fmt.Errorf("pg dsn is required")
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return store, logger, nil
}

func runListCheckpoints(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, logger, err := openCheckpointStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	defer logger.Sync()

	checkpoints, err := store.ListCheckpoints(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tEVENT\tLAST_APPLIED\tSTATUS\tUPDATED\tERROR")
	for _, cp := range checkpoints {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			cp.Key.Source.Hex(),
			cp.Key.EventType,
			cp.LastApplied,
			cp.Status,
			cp.UpdatedAt.UTC().Format(time.RFC3339),
			cp.LastError,
		)
	}
	return w.Flush()
}

func markCheckpoint(cmd *cobra.Command, args []string, status model.CheckpointStatus) error {
	if !common.IsHexAddress(args[0]) {
		return fmt.Errorf("invalid source address: %s", args[0])
	}
	eventType, err := contracts.ParseEventType(args[1])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, logger, err := openCheckpointStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	defer logger.Sync()

	key := model.CheckpointKey{Source: common.HexToAddress(args[0]), EventType: eventType}
	if err := store.MarkCheckpoint(ctx, key, status, ""); err != nil {
		return err
	}
	logger.Info("checkpoint updated", zap.String("checkpoint", key.String()), zap.String("status", string(status)))
	return nil
}
