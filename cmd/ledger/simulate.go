package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"issuerLedger/internal/access"
	"issuerLedger/internal/certificate"
	"issuerLedger/internal/clock"
	"issuerLedger/internal/config"
	"issuerLedger/internal/governance"
	"issuerLedger/internal/journal"
	"issuerLedger/internal/ledger"
	"issuerLedger/internal/model"
	"issuerLedger/internal/storage"
	"issuerLedger/internal/storage/memory"
	"issuerLedger/internal/storage/postgres"
	"issuerLedger/internal/syncer"
	"issuerLedger/internal/telemetry"
	"issuerLedger/internal/treasury"
)

var (
	simFactory      = common.HexToAddress("0x000000000000000000000000000000000000f000")
	simCertificates = common.HexToAddress("0x000000000000000000000000000000000000ce00")
	simGovernance   = common.HexToAddress("0x000000000000000000000000000000000000d000")
	simTreasury     = common.HexToAddress("0x000000000000000000000000000000000000fe00")

	simCreator   = access.Account(common.HexToAddress("0x0000000000000000000000000000000000001001"))
	simAlice     = access.Account(common.HexToAddress("0x0000000000000000000000000000000000002001"))
	simBob       = access.Account(common.HexToAddress("0x0000000000000000000000000000000000002002"))
	simCarol     = access.Account(common.HexToAddress("0x0000000000000000000000000000000000002003"))
	simDave      = access.Account(common.HexToAddress("0x0000000000000000000000000000000000002004"))
	simRecorder  = access.Grant(common.HexToAddress("0x0000000000000000000000000000000000003001"), access.RolePaymentRecorder)
	simRegulator = access.Grant(common.HexToAddress("0x0000000000000000000000000000000000003002"), access.RoleRegulator)
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the reference scenarios against an in-process ledger and synchronize them",
		Args:  cobra.NoArgs,
		RunE:  runSimulate,
	}
	cmd.Flags().String("pg-dsn", "", "project into Postgres instead of memory")
	cmd.Flags().String("archive", "", "optional JSONL archive of raw settlement logs")
	cmd.Flags().Bool("trace", false, "export spans to stderr")
	cmd.Flags().String("platform-fee-percent", "2.5", "platform fee on released funds")
	cmd.Flags().String("success-threshold-percent", "75", "default campaign success threshold")
	return cmd
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
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

	shutdownTracing, err := telemetry.Setup(ctx, "ledger-simulate", cfg.Trace, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}()

	clk := clock.NewManual(clock.System{}.Now())

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return err
		}
		store = pg
	} else {
		store = memory.New(clk)
	}
	defer store.Close()

	var archive storage.Archive
	if cfg.ArchivePath != "" {
		archive = storage.NewJSONLArchive(cfg.ArchivePath)
	}

	sim, err := newSimulation(clk, cfg.Policy, store, archive, logger)
	if err != nil {
		return err
	}
	return sim.run(ctx, cmd.OutOrStdout())
}

// simulation is a complete in-process platform emitting into one journal.
type simulation struct {
	clock   *clock.Manual
	journal *journal.Journal
	issuer  *certificate.Issuer
	vault   *treasury.Vault
	ledger  *ledger.Ledger
	factory *ledger.Factory
	gov     *governance.Engine
	syncer  *syncer.Syncer
	store   storage.Store
	logger  *zap.Logger
}

func newSimulation(clk *clock.Manual, policy config.Policy, store storage.Store, archive storage.Archive, logger *zap.Logger) (*simulation, error) {
	j := journal.New(clk, logger.Named("journal"))

	issuer, err := certificate.New(certificate.Config{
		Address:    simCertificates,
		VotingUnit: policy.VotingUnit,
		Clock:      clk,
		Emitter:    j,
		Logger:     logger.Named("certificate"),
	})
	if err != nil {
		return nil, err
	}

	rail := treasury.NewRail(clk, logger.Named("rail"))
	vault := treasury.NewVault(simTreasury, rail, clk, logger.Named("treasury"))

	l, err := ledger.New(ledger.Config{
		Factory:  simFactory,
		Policy:   policy.Ledger(),
		Clock:    clk,
		Emitter:  j,
		Minter:   issuer,
		Issuer:   access.Grant(simFactory, access.RoleMinter),
		Payer:    rail,
		Treasury: vault,
		Logger:   logger.Named("ledger"),
	})
	if err != nil {
		return nil, err
	}
	factory := ledger.NewFactory(l)

	gov, err := governance.New(governance.Config{
		Address:  simGovernance,
		Policy:   policy.Governance(),
		Clock:    clk,
		Emitter:  j,
		Power:    issuer,
		Treasury: vault,
		Logger:   logger.Named("governance"),
	})
	if err != nil {
		return nil, err
	}

	s, err := syncer.New(syncer.Config{
		Factory:      simFactory,
		Certificates: simCertificates,
		Governance:   simGovernance,
		BatchSize:    16,
		MaxRetries:   2,
		RetryBackoff: 10 * time.Millisecond,
	}, syncer.Deps{
		Source:   j,
		Store:    store,
		Archive:  archive,
		Counters: syncer.LocalCounters{Campaigns: factory, Supply: issuer},
		Clock:    clk,
		Logger:   logger.Named("syncer"),
	})
	if err != nil {
		return nil, err
	}

	return &simulation{
		clock:   clk,
		journal: j,
		issuer:  issuer,
		vault:   vault,
		ledger:  l,
		factory: factory,
		gov:     gov,
		syncer:  s,
		store:   store,
		logger:  logger,
	}, nil
}

func (s *simulation) run(ctx context.Context, out io.Writer) error {
	successful, err := s.successfulCampaign()
	if err != nil {
		return fmt.Errorf("successful campaign: %w", err)
	}
	failed, err := s.failedCampaign()
	if err != nil {
		return fmt.Errorf("failed campaign: %w", err)
	}
	proposalID, err := s.quorumShortfall()
	if err != nil {
		return fmt.Errorf("quorum shortfall: %w", err)
	}

	// Campaign instances registered by the first tick are synchronized by the second.
	var applied uint64
	for i := 0; i < 2; i++ {
		res, err := s.syncer.Tick(ctx)
		if err != nil {
			return err
		}
		if len(res.Failed) > 0 {
			return fmt.Errorf("checkpoints failed: %v", res.Failed)
		}
		applied += res.Applied
	}
	replay, err := s.syncer.Tick(ctx)
	if err != nil {
		return err
	}
	report, err := s.syncer.CheckDrift(ctx)
	if err != nil {
		return err
	}
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return err
	}
	head, err := s.journal.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}

	stats := s.factory.Stats()
	fmt.Fprintf(out, "campaign %s successful, certificates %d\n", successful, len(s.issuer.CertificatesByCampaign(successful)))
	fmt.Fprintf(out, "campaign %s failed, investors refunded\n", failed)
	fmt.Fprintf(out, "proposal %d rejected: quorum not reached\n", proposalID)
	fmt.Fprintf(out, "factory: %d campaigns, %d completed, raised %s\n", stats.Total, stats.Completed, stats.TotalRaised)
	fmt.Fprintf(out, "treasury balance %s\n", s.vault.Balance())
	fmt.Fprintf(out, "synchronized %d of %d settlement events, replay applied %d\n", applied, head, replay.Applied)
	fmt.Fprintf(out, "store: %d campaigns, %d investments, %d certificates, %d proposals, %d votes\n",
		counts.Campaigns, counts.Investments, counts.Certificates, counts.Proposals, counts.Votes)
	if report.Drifted() {
		fmt.Fprintln(out, "drift detected")
	} else {
		fmt.Fprintln(out, "no drift")
	}
	return nil
}

// successfulCampaign raises 800 of 1000 against a 75% threshold and releases
// the funds.
func (s *simulation) successfulCampaign() (string, error) {
	id := uuid.NewString()
	if _, err := s.factory.CreateCampaign(simCreator, id, "Solar Cooperative", "community solar array", big.NewInt(1000), 24*time.Hour, "ipfs://solar"); err != nil {
		return "", err
	}
	if _, err := s.ledger.InvestNative(simAlice, id, big.NewInt(400)); err != nil {
		return "", err
	}
	if _, err := s.ledger.RecordExternalPayment(simRecorder, id, simBob.Address, big.NewInt(400), "card", "pi_"+id[:8]); err != nil {
		return "", err
	}

	s.clock.Advance(25 * time.Hour)
	c, err := s.ledger.Complete(simCreator, id)
	if err != nil {
		return "", err
	}
	if c.Status != model.CampaignSuccessful {
		return "", fmt.Errorf("unexpected status %s", c.Status)
	}
	net, fee, err := s.ledger.ReleaseFunds(simCreator, id)
	if err != nil {
		return "", err
	}
	s.logger.Info("funds released", zap.String("campaign_id", id), zap.String("net", net.String()), zap.String("fee", fee.String()))
	return id, nil
}

// failedCampaign raises 500 of 1000 and refunds both investors exactly once.
func (s *simulation) failedCampaign() (string, error) {
	id := uuid.NewString()
	if _, err := s.factory.CreateCampaign(simCreator, id, "Harbor Bakery", "", big.NewInt(1000), 24*time.Hour, "ipfs://bakery"); err != nil {
		return "", err
	}
	if _, err := s.ledger.InvestNative(simAlice, id, big.NewInt(300)); err != nil {
		return "", err
	}
	if _, err := s.ledger.InvestNative(simBob, id, big.NewInt(200)); err != nil {
		return "", err
	}

	s.clock.Advance(25 * time.Hour)
	c, err := s.ledger.Complete(simCreator, id)
	if err != nil {
		return "", err
	}
	if c.Status != model.CampaignFailed {
		return "", fmt.Errorf("unexpected status %s", c.Status)
	}
	for _, investor := range []access.Caller{simAlice, simBob} {
		if _, err := s.ledger.RequestRefund(investor, id); err != nil {
			return "", err
		}
	}
	if _, err := s.ledger.RequestRefund(simAlice, id); !errors.Is(err, ledger.ErrNothingToRefund) {
		return "", fmt.Errorf("second refund: expected rejection, got %v", err)
	}
	return id, nil
}

// quorumShortfall gives two holders 600 and 300 votes and shows that 900 for
// votes fail a quorum of 1000.
func (s *simulation) quorumShortfall() (uint64, error) {
	id := uuid.NewString()
	if _, err := s.factory.CreateCampaign(simCreator, id, "Riverside Clinic", "", big.NewInt(1_000_000), 24*time.Hour, "ipfs://clinic"); err != nil {
		return 0, err
	}
	if _, err := s.ledger.InvestNative(simCarol, id, big.NewInt(600_000)); err != nil {
		return 0, err
	}
	if _, err := s.ledger.InvestNative(simDave, id, big.NewInt(300_000)); err != nil {
		return 0, err
	}
	s.clock.Advance(25 * time.Hour)
	if _, err := s.ledger.Complete(simCreator, id); err != nil {
		return 0, err
	}

	p, err := s.gov.Create(simCarol, governance.CreateParams{
		Type:         model.ProposalPlatform,
		Title:        "Extend campaign durations",
		VotingPeriod: 24 * time.Hour,
		Fee:          big.NewInt(10),
	})
	if err != nil {
		return 0, err
	}
	for _, voter := range []access.Caller{simCarol, simDave} {
		if _, err := s.gov.Vote(voter, p.ID, true); err != nil {
			return 0, err
		}
	}

	s.clock.Advance(25 * time.Hour)
	if _, err := s.gov.Execute(simCarol, p.ID); !errors.Is(err, governance.ErrQuorumNotReached) {
		return 0, fmt.Errorf("execute: expected quorum rejection, got %v", err)
	}

	// A regulator action after the vote does not touch the recorded tally.
	certs := s.issuer.CertificatesByOwner(simDave.Address)
	if len(certs) > 0 {
		if err := s.issuer.Revoke(simRegulator, certs[0].TokenID, "accreditation expired"); err != nil {
			return 0, err
		}
	}
	return p.ID, nil
}
