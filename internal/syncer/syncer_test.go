package syncer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"issuerLedger/internal/clock"
	"issuerLedger/internal/journal"
	"issuerLedger/internal/model"
	"issuerLedger/internal/storage"
	"issuerLedger/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	factoryAddr   = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	certAddr      = common.HexToAddress("0x00000000000000000000000000000000000000ce")
	govAddr       = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	campaignAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	untrackedAddr = common.HexToAddress("0x0000000000000000000000000000000000000099")
	investorAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

var errInjected = errors.New("injected failure")

// flakyStore fails RefreshRaised while failures remain; a negative count
// fails forever. beforeTx runs ahead of every transaction.
type flakyStore struct {
	*memory.Store

	mu       sync.Mutex
	failures int
	beforeTx func(ctx context.Context)
}

func (f *flakyStore) setBeforeTx(fn func(ctx context.Context)) {
	f.mu.Lock()
	f.beforeTx = fn
	f.mu.Unlock()
}

func (f *flakyStore) setFailures(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

func (f *flakyStore) take() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.failures < 0:
		return true
	case f.failures > 0:
		f.failures--
		return true
	default:
		return false
	}
}

func (f *flakyStore) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	f.mu.Lock()
	before := f.beforeTx
	f.mu.Unlock()
	if before != nil {
		before(ctx)
	}
	return f.Store.InTx(ctx, func(tx storage.Tx) error {
		return fn(flakyTx{Tx: tx, store: f})
	})
}

type flakyTx struct {
	storage.Tx
	store *flakyStore
}

func (t flakyTx) RefreshRaised(ctx context.Context, campaignID string) (*big.Int, error) {
	if t.store.take() {
		return nil, errInjected
	}
	return t.Tx.RefreshRaised(ctx, campaignID)
}

type fixture struct {
	clock   *clock.Manual
	journal *journal.Journal
	store   *flakyStore
	metrics *Metrics
	syncer  *Syncer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	f := &fixture{
		clock:   clk,
		journal: journal.New(clk, nil),
		store:   &flakyStore{Store: memory.New(clk)},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	s, err := New(cfg, Deps{
		Source:  f.journal,
		Store:   f.store,
		Metrics: f.metrics,
		Clock:   clk,
	})
	require.NoError(t, err)
	f.syncer = s
	return f
}

// seedCampaign registers campaignAddr as campaign c1, as a previous
// campaign-created projection would have.
func (f *fixture) seedCampaign(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.RegisterContract(ctx, campaignAddr, storage.KindCampaign, "c1", 1); err != nil {
			return err
		}
		return tx.UpsertCampaign(ctx, model.Campaign{
			ID:          "c1",
			Address:     campaignAddr,
			Creator:     common.HexToAddress("0x0000000000000000000000000000000000000001"),
			FundingGoal: big.NewInt(1000),
			Status:      model.CampaignActive,
		})
	}))
}

func (f *fixture) emit(t *testing.T, source common.Address, payload interface{}) {
	t.Helper()
	require.NoError(t, f.journal.Emit(source, payload))
}

func (f *fixture) checkpoint(t *testing.T, key model.CheckpointKey) model.Checkpoint {
	t.Helper()
	cp, ok, err := f.store.LoadCheckpoint(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "checkpoint %s missing", key)
	return cp
}

func investmentOf(amount, total int64) model.InvestmentMadeData {
	return model.InvestmentMadeData{
		Investor:      investorAddr.Hex(),
		Amount:        fmt.Sprint(amount),
		PaymentMethod: model.PaymentNative,
		TotalRaised:   fmt.Sprint(total),
	}
}

func TestTickAppliesOnlyEventsAfterCheckpoint(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.seedCampaign(t)

	for i := 0; i < 100; i++ {
		f.emit(t, untrackedAddr, investmentOf(100, 100))
	}
	var total int64
	for i := int64(1); i <= 5; i++ {
		total += i * 100
		f.emit(t, campaignAddr, investmentOf(i*100, total))
	}

	key := model.CheckpointKey{Source: campaignAddr, EventType: model.EventInvestmentMade}
	require.NoError(t, f.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.SaveCheckpoint(ctx, model.Checkpoint{Key: key, LastApplied: 100, Status: model.CheckpointActive})
	}))

	res, err := f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), res.Head)
	assert.Equal(t, uint64(5), res.Applied)
	assert.Empty(t, res.Failed)

	assert.Equal(t, uint64(105), f.checkpoint(t, key).LastApplied)
	assert.Len(t, f.store.Investments("c1"), 5)
	c, ok := f.store.Campaign("c1")
	require.True(t, ok)
	assert.Equal(t, "1500", c.RaisedAmount.String())
	assert.Equal(t, float64(5), testutil.ToFloat64(f.metrics.eventsApplied.WithLabelValues(string(model.EventInvestmentMade))))

	// A second tick and a rewound checkpoint both replay to the same state.
	res, err = f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)

	require.NoError(t, f.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.SaveCheckpoint(ctx, model.Checkpoint{Key: key, LastApplied: 100, Status: model.CheckpointActive})
	}))
	res, err = f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
	assert.Len(t, f.store.Investments("c1"), 5)
	assert.Equal(t, uint64(105), f.checkpoint(t, key).LastApplied)
}

func TestTickRetriesTransientFailure(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 3})
	ctx := context.Background()
	f.seedCampaign(t)
	f.emit(t, campaignAddr, investmentOf(400, 400))
	f.store.setFailures(1)

	res, err := f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Applied)
	assert.Empty(t, res.Failed)

	key := model.CheckpointKey{Source: campaignAddr, EventType: model.EventInvestmentMade}
	cp := f.checkpoint(t, key)
	assert.Equal(t, model.CheckpointActive, cp.Status)
	assert.Equal(t, uint64(1), cp.LastApplied)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.retries.WithLabelValues(string(model.EventInvestmentMade))))
	assert.Len(t, f.store.Investments("c1"), 1)
}

func TestPersistentFailureIsolatesCheckpoint(t *testing.T) {
	f := newFixture(t, Config{Factory: factoryAddr, MaxRetries: 2})
	ctx := context.Background()
	f.seedCampaign(t)

	f.emit(t, campaignAddr, investmentOf(400, 400))
	f.emit(t, campaignAddr, investmentOf(300, 700))
	f.emit(t, factoryAddr, model.CampaignCreatedData{
		CampaignID:   "c2",
		Campaign:     common.HexToAddress("0x00000000000000000000000000000000000000c2").Hex(),
		Creator:      investorAddr.Hex(),
		Name:         "Second",
		FundingGoal:  "5000",
		Deadline:     1_700_086_400,
		ThresholdBps: 7500,
	})
	f.store.setFailures(-1)

	key := model.CheckpointKey{Source: campaignAddr, EventType: model.EventInvestmentMade}
	res, err := f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.CheckpointKey{key}, res.Failed)

	cp := f.checkpoint(t, key)
	assert.Equal(t, model.CheckpointError, cp.Status)
	assert.Zero(t, cp.LastApplied)
	assert.Contains(t, cp.LastError, errInjected.Error())
	assert.Empty(t, f.store.Investments("c1"))

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Investments)
	assert.Equal(t, uint64(1), counts.Events)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.retries.WithLabelValues(string(model.EventInvestmentMade))))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.checkpointErrors))

	// The factory stream advanced and later campaign types were not attempted.
	factoryKey := model.CheckpointKey{Source: factoryAddr, EventType: model.EventCampaignCreated}
	assert.Equal(t, uint64(3), f.checkpoint(t, factoryKey).LastApplied)
	_, ok := f.store.Campaign("c2")
	assert.True(t, ok)
	_, ok, err = f.store.LoadCheckpoint(ctx, model.CheckpointKey{Source: campaignAddr, EventType: model.EventCampaignCompleted})
	require.NoError(t, err)
	assert.False(t, ok)

	// Errored checkpoints stay put until resumed.
	f.store.setFailures(0)
	_, err = f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.store.Investments("c1"))

	resumed, err := f.syncer.ResumeErrored(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	res, err = f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Len(t, f.store.Investments("c1"), 2)
	assert.Equal(t, uint64(3), f.checkpoint(t, key).LastApplied)
}

func TestPausedCheckpointIsSkipped(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.seedCampaign(t)
	f.emit(t, campaignAddr, investmentOf(400, 400))

	key := model.CheckpointKey{Source: campaignAddr, EventType: model.EventInvestmentMade}
	require.NoError(t, f.store.MarkCheckpoint(ctx, key, model.CheckpointPaused, ""))

	res, err := f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
	assert.Equal(t, model.CheckpointPaused, f.checkpoint(t, key).Status)
	assert.Empty(t, f.store.Investments("c1"))
}

func TestPauseDuringBackfillStopsRemainingRanges(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})
	ctx := context.Background()
	f.seedCampaign(t)
	var total int64
	for i := int64(1); i <= 4; i++ {
		total += 100
		f.emit(t, campaignAddr, investmentOf(100, total))
	}

	// An operator pauses the checkpoint once the first range has committed.
	key := model.CheckpointKey{Source: campaignAddr, EventType: model.EventInvestmentMade}
	f.store.setBeforeTx(func(ctx context.Context) {
		cp, ok, err := f.store.LoadCheckpoint(ctx, key)
		if err == nil && ok && cp.Status == model.CheckpointActive && cp.LastApplied >= 2 {
			assert.NoError(t, f.store.MarkCheckpoint(ctx, key, model.CheckpointPaused, ""))
		}
	})

	res, err := f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Equal(t, uint64(2), res.Applied)

	cp := f.checkpoint(t, key)
	assert.Equal(t, model.CheckpointPaused, cp.Status)
	assert.Equal(t, uint64(2), cp.LastApplied)
	assert.Len(t, f.store.Investments("c1"), 2)
	assert.Zero(t, testutil.ToFloat64(f.metrics.checkpointErrors))

	res, err = f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
	assert.Equal(t, model.CheckpointPaused, f.checkpoint(t, key).Status)

	f.store.setBeforeTx(nil)
	require.NoError(t, f.store.MarkCheckpoint(ctx, key, model.CheckpointActive, ""))
	res, err = f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Applied)
	assert.Len(t, f.store.Investments("c1"), 4)
	assert.Equal(t, uint64(4), f.checkpoint(t, key).LastApplied)
}

func TestConfirmationsHoldBackHead(t *testing.T) {
	f := newFixture(t, Config{Confirmations: 2})
	ctx := context.Background()
	f.seedCampaign(t)
	f.emit(t, campaignAddr, investmentOf(100, 100))
	f.emit(t, campaignAddr, investmentOf(100, 200))
	f.emit(t, campaignAddr, investmentOf(100, 300))

	res, err := f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Head)
	assert.Len(t, f.store.Investments("c1"), 1)
}

type fixedCounter uint64

func (c fixedCounter) CampaignCount() uint64 { return uint64(c) }
func (c fixedCounter) TotalSupply() uint64   { return uint64(c) }

func TestCheckDriftReportsWithoutWriting(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	store := memory.New(clk)
	metrics := NewMetrics(prometheus.NewRegistry())
	s, err := New(Config{}, Deps{
		Source:   journal.New(clk, nil),
		Store:    store,
		Counters: LocalCounters{Campaigns: fixedCounter(2), Supply: fixedCounter(0)},
		Metrics:  metrics,
	})
	require.NoError(t, err)

	report, err := s.CheckDrift(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Drifted())
	assert.Equal(t, uint64(2), report.LedgerCampaigns)
	assert.Zero(t, report.StoreCampaigns)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.drift.WithLabelValues("campaigns")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.drift.WithLabelValues("certificates")))

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.Counts{}, counts)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{Interval: 5 * time.Millisecond})
	f.seedCampaign(t)
	f.emit(t, campaignAddr, investmentOf(400, 400))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.syncer.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(f.store.Investments("c1")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
