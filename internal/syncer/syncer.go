// Package syncer keeps the relational store consistent with the settlement
// log through checkpointed, idempotent event replay.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"issuerLedger/internal/clock"
	"issuerLedger/internal/contracts"
	"issuerLedger/internal/model"
	"issuerLedger/internal/storage"
)

const tracerName = "issuerLedger/internal/syncer"

// errCheckpointInactive stops a stream whose checkpoint was paused or
// errored after the tick started.
var errCheckpointInactive = errors.New("checkpoint no longer active")

var (
	factoryTypes     = []model.EventType{model.EventCampaignCreated}
	certificateTypes = []model.EventType{
		model.EventCertificateIssued,
		model.EventCertificateRevoked,
		model.EventCertificateTransferred,
	}
	governanceTypes = []model.EventType{
		model.EventProposalCreated,
		model.EventVoteCast,
		model.EventProposalExecuted,
		model.EventProposalCancelled,
	}
	campaignTypes = []model.EventType{
		model.EventInvestmentMade,
		model.EventCampaignCompleted,
		model.EventRefundIssued,
		model.EventFundsReleased,
	}
)

// Config holds runtime settings for the synchronizer.
type Config struct {
	ChainID       uint64
	Factory       common.Address
	Certificates  common.Address
	Governance    common.Address
	StartBlock    uint64
	Confirmations uint64
	BatchSize     uint64
	Interval      time.Duration
	DriftInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	Concurrency   int
}

// Deps are the collaborators of a Syncer. Source and Store are required.
type Deps struct {
	Source   Source
	Store    storage.Store
	Archive  storage.Archive
	Counters Counters
	Metrics  *Metrics
	Tracer   trace.Tracer
	Clock    clock.Clock
	Logger   *zap.Logger
}

// TickResult summarises one reconciliation pass.
type TickResult struct {
	Head    uint64
	Targets int
	Applied uint64
	Failed  []model.CheckpointKey
}

// Syncer projects settlement events into the relational store.
type Syncer struct {
	cfg      Config
	source   Source
	store    storage.Store
	archive  storage.Archive
	counters Counters
	decoder  *contracts.Decoder
	topics   map[model.EventType]common.Hash
	metrics  *Metrics
	tracer   trace.Tracer
	clock    clock.Clock
	logger   *zap.Logger
}

type target struct {
	address common.Address
	types   []model.EventType
}

// New builds a Syncer, filling unset tunables with defaults.
func New(cfg Config, deps Deps) (*Syncer, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("settlement source is nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	decoder, err := contracts.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	topics := make(map[model.EventType]common.Hash)
	for _, group := range [][]model.EventType{factoryTypes, certificateTypes, governanceTypes, campaignTypes} {
		for _, eventType := range group {
			topic, err := contracts.Topic0(eventType)
			if err != nil {
				return nil, err
			}
			topics[eventType] = topic
		}
	}

	s := &Syncer{
		cfg:      cfg,
		source:   deps.Source,
		store:    deps.Store,
		archive:  deps.Archive,
		counters: deps.Counters,
		decoder:  decoder,
		topics:   topics,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// Run ticks every Interval and checks drift every DriftInterval until ctx is
// cancelled. Tick failures are logged and retried on the next interval.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var driftC <-chan time.Time
	if s.counters != nil && s.cfg.DriftInterval > 0 {
		driftTicker := time.NewTicker(s.cfg.DriftInterval)
		defer driftTicker.Stop()
		driftC = driftTicker.C
	}

	for {
		if _, err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("sync tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-driftC:
			if _, err := s.CheckDrift(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("drift check failed", zap.Error(err))
			}
		case <-ticker.C:
		}
	}
}

// Tick reconciles every target up to the confirmed head once. Checkpoint
// failures are reported in the result; the error is reserved for failures
// that prevent the tick from running at all.
func (s *Syncer) Tick(ctx context.Context) (TickResult, error) {
	started := time.Now()
	defer func() {
		s.metrics.tickDuration.Observe(time.Since(started).Seconds())
	}()

	ctx, span := s.tracer.Start(ctx, "syncer.tick")
	defer span.End()

	var latest uint64
	err := s.retry(model.CheckpointKey{}).do(ctx, func(ctx context.Context) error {
		var err error
		latest, err = s.source.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return TickResult{}, s.fail(span, fmt.Errorf("get latest position: %w", err))
	}

	var head uint64
	if latest > s.cfg.Confirmations {
		head = latest - s.cfg.Confirmations
	}
	s.metrics.head.Set(float64(head))
	span.SetAttributes(attribute.Int64("head", int64(head)))

	targets, err := s.targets(ctx)
	if err != nil {
		return TickResult{}, s.fail(span, err)
	}

	result := TickResult{Head: head, Targets: len(targets)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			applied, failed, err := s.syncTarget(gctx, t, head)
			mu.Lock()
			result.Applied += applied
			if failed != nil {
				result.Failed = append(result.Failed, *failed)
			}
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return result, s.fail(span, err)
	}

	if result.Applied > 0 || len(result.Failed) > 0 {
		s.logger.Info("sync tick complete",
			zap.Uint64("head", head),
			zap.Int("targets", len(targets)),
			zap.Uint64("applied", result.Applied),
			zap.Int("failed", len(result.Failed)),
		)
	}
	return result, nil
}

// ResumeErrored moves every errored checkpoint back to active.
func (s *Syncer) ResumeErrored(ctx context.Context) (int, error) {
	checkpoints, err := s.store.ListCheckpoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}
	resumed := 0
	for _, cp := range checkpoints {
		if cp.Status != model.CheckpointError {
			continue
		}
		if err := s.store.MarkCheckpoint(ctx, cp.Key, model.CheckpointActive, ""); err != nil {
			return resumed, fmt.Errorf("resume checkpoint %s: %w", cp.Key, err)
		}
		s.logger.Info("checkpoint resumed", zap.String("checkpoint", cp.Key.String()), zap.Uint64("last_applied", cp.LastApplied))
		resumed++
	}
	return resumed, nil
}

func (s *Syncer) targets(ctx context.Context) ([]target, error) {
	var out []target
	add := func(addr common.Address, types []model.EventType) {
		if addr != (common.Address{}) {
			out = append(out, target{address: addr, types: types})
		}
	}
	add(s.cfg.Factory, factoryTypes)
	add(s.cfg.Certificates, certificateTypes)
	add(s.cfg.Governance, governanceTypes)

	campaigns, err := s.store.CampaignAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list campaign addresses: %w", err)
	}
	for _, addr := range campaigns {
		add(addr, campaignTypes)
	}
	return out, nil
}

// syncTarget walks the target's event types in order and stops at the first
// checkpoint that fails. Only cancellation is returned as an error.
func (s *Syncer) syncTarget(ctx context.Context, t target, head uint64) (uint64, *model.CheckpointKey, error) {
	var total uint64
	for _, eventType := range t.types {
		key := model.CheckpointKey{Source: t.address, EventType: eventType}
		applied, err := s.syncStream(ctx, key, head)
		total += applied
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return total, nil, ctx.Err()
		}

		s.metrics.checkpointErrors.Inc()
		s.logger.Error("checkpoint failed",
			zap.String("checkpoint", key.String()),
			zap.Error(err),
		)
		if markErr := s.store.MarkCheckpoint(ctx, key, model.CheckpointError, err.Error()); markErr != nil {
			s.logger.Error("mark checkpoint error", zap.String("checkpoint", key.String()), zap.Error(markErr))
		}
		return total, &key, nil
	}
	return total, nil, nil
}

func (s *Syncer) syncStream(ctx context.Context, key model.CheckpointKey, head uint64) (uint64, error) {
	cp, ok, err := s.store.LoadCheckpoint(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		cp = model.Checkpoint{Key: key, Status: model.CheckpointActive}
		if s.cfg.StartBlock > 0 {
			cp.LastApplied = s.cfg.StartBlock - 1
		}
		if err := s.store.InTx(ctx, func(tx storage.Tx) error {
			return tx.SaveCheckpoint(ctx, cp)
		}); err != nil {
			return 0, fmt.Errorf("create checkpoint: %w", err)
		}
	}
	if cp.Status != model.CheckpointActive {
		s.logger.Debug("checkpoint skipped", zap.String("checkpoint", key.String()), zap.String("status", string(cp.Status)))
		return 0, nil
	}

	from := cp.LastApplied + 1
	if from > head {
		return 0, nil
	}
	spans, err := SplitRange(from, head, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, rng := range spans {
		var (
			applied  uint64
			inactive bool
		)
		err := s.retry(key).do(ctx, func(ctx context.Context) error {
			var err error
			applied, err = s.applyRange(ctx, key, rng)
			if errors.Is(err, errCheckpointInactive) {
				inactive = true
				return nil
			}
			return err
		})
		if inactive {
			s.logger.Info("checkpoint deactivated during sync",
				zap.String("checkpoint", key.String()),
				zap.Uint64("next", rng.From),
			)
			return total, nil
		}
		if err != nil {
			s.metrics.ranges.WithLabelValues("failed").Inc()
			return total, fmt.Errorf("apply range %s: %w", rng, err)
		}
		s.metrics.ranges.WithLabelValues("applied").Inc()
		s.metrics.checkpointPosition.WithLabelValues(key.Source.Hex(), string(key.EventType)).Set(float64(rng.To))
		total += applied
	}
	return total, nil
}

// applyRange applies every event of one stream in rng together with the
// checkpoint advance to rng.To, or nothing at all.
func (s *Syncer) applyRange(ctx context.Context, key model.CheckpointKey, rng Span) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "syncer.apply_range", trace.WithAttributes(
		attribute.String("checkpoint", key.String()),
		attribute.Int64("from", int64(rng.From)),
		attribute.Int64("to", int64(rng.To)),
	))
	defer span.End()

	logs, err := s.source.FilterLogs(ctx, rng.From, rng.To, []common.Address{key.Source}, []common.Hash{s.topics[key.EventType]})
	if err != nil {
		return 0, s.fail(span, fmt.Errorf("filter logs: %w", err))
	}

	ingestedAt := s.clock.Now()
	timestamps := make(map[uint64]uint64)
	events := make([]*model.SettlementEvent, 0, len(logs))
	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		ts, ok := timestamps[log.BlockNumber]
		if !ok {
			ts, err = s.source.BlockTimestamp(ctx, log.BlockNumber)
			if err != nil {
				return 0, s.fail(span, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err))
			}
			timestamps[log.BlockNumber] = ts
		}

		ev, err := s.decoder.Decode(log, ts)
		if err != nil {
			return 0, s.fail(span, fmt.Errorf("decode log %s:%d: %w", log.TxHash.Hex(), log.Index, err))
		}
		ev.ChainID = s.cfg.ChainID
		events = append(events, ev)
		records = append(records, buildLogRecord(s.cfg.ChainID, key.EventType, log, ts, ingestedAt))
	}

	var applied uint64
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		applied = 0
		cp, ok, err := tx.LoadCheckpoint(ctx, key)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if ok && cp.Status != model.CheckpointActive {
			return errCheckpointInactive
		}
		if ok && cp.LastApplied >= rng.To {
			return nil
		}

		for _, ev := range events {
			fresh, err := tx.MirrorEvent(ctx, ev)
			if err != nil {
				return fmt.Errorf("mirror event %s:%d: %w", ev.TxHash, ev.LogIndex, err)
			}
			if !fresh {
				continue
			}
			if err := s.project(ctx, tx, ev); err != nil {
				return fmt.Errorf("project %s %s:%d: %w", ev.EventType, ev.TxHash, ev.LogIndex, err)
			}
			applied++
		}

		return tx.SaveCheckpoint(ctx, model.Checkpoint{
			Key:         key,
			LastApplied: rng.To,
			Status:      model.CheckpointActive,
		})
	})
	if errors.Is(err, errCheckpointInactive) {
		return 0, err
	}
	if err != nil {
		return 0, s.fail(span, err)
	}

	s.metrics.eventsApplied.WithLabelValues(string(key.EventType)).Add(float64(applied))
	span.SetAttributes(attribute.Int64("applied", int64(applied)))
	if applied > 0 {
		s.logger.Info("range applied",
			zap.String("checkpoint", key.String()),
			zap.Uint64("from", rng.From),
			zap.Uint64("to", rng.To),
			zap.Uint64("applied", applied),
		)
	}

	if s.archive != nil && len(records) > 0 {
		if err := s.archive.PutLogBatch(records); err != nil {
			s.logger.Warn("archive logs failed", zap.String("checkpoint", key.String()), zap.Error(err))
		}
	}
	return applied, nil
}

func (s *Syncer) retry(key model.CheckpointKey) retryPolicy {
	return retryPolicy{
		maxRetries: s.cfg.MaxRetries,
		baseDelay:  s.cfg.RetryBackoff,
		onRetry: func(attempt int, delay time.Duration, err error) {
			s.metrics.retries.WithLabelValues(string(key.EventType)).Inc()
			s.logger.Warn("sync attempt failed",
				zap.String("checkpoint", key.String()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
		},
	}
}

func (s *Syncer) fail(span trace.Span, err error) error {
	if !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
