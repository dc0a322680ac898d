package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuerLedger/internal/access"
	"issuerLedger/internal/certificate"
	"issuerLedger/internal/clock"
	"issuerLedger/internal/journal"
	"issuerLedger/internal/model"
	"issuerLedger/internal/treasury"
)

var (
	factoryAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	certAddr     = common.HexToAddress("0x00000000000000000000000000000000000000ce")
	treasuryAddr = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	creatorAddr  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	aliceAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	adminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	recorderAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")

	creator  = access.Account(creatorAddr)
	alice    = access.Account(aliceAddr)
	bob      = access.Account(bobAddr)
	admin    = access.Grant(adminAddr, access.RoleAdmin)
	recorder = access.Grant(recorderAddr, access.RolePaymentRecorder)
)

type fixture struct {
	clock   *clock.Manual
	journal *journal.Journal
	issuer  *certificate.Issuer
	rail    *treasury.Rail
	vault   *treasury.Vault
	ledger  *Ledger
	factory *Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	j := journal.New(clk, nil)
	issuer, err := certificate.New(certificate.Config{Address: certAddr, Clock: clk, Emitter: j})
	require.NoError(t, err)
	rail := treasury.NewRail(clk, nil)
	vault := treasury.NewVault(treasuryAddr, rail, clk, nil)
	l, err := New(Config{
		Factory:  factoryAddr,
		Policy:   DefaultPolicy(),
		Clock:    clk,
		Emitter:  j,
		Minter:   issuer,
		Issuer:   access.Grant(factoryAddr, access.RoleMinter),
		Payer:    rail,
		Treasury: vault,
	})
	require.NoError(t, err)
	return &fixture{clock: clk, journal: j, issuer: issuer, rail: rail, vault: vault, ledger: l, factory: NewFactory(l)}
}

func (f *fixture) create(t *testing.T, id string, goal int64) model.Campaign {
	t.Helper()
	c, err := f.ledger.Create(creator, CreateParams{
		ID:       id,
		Name:     "Acme " + id,
		Goal:     big.NewInt(goal),
		Duration: 24 * time.Hour,
		DocRef:   "ipfs://" + id,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) invest(t *testing.T, who access.Caller, id string, amount int64) {
	t.Helper()
	_, err := f.ledger.InvestNative(who, id, big.NewInt(amount))
	require.NoError(t, err)
}

func TestSuccessfulCampaignIssuesCertificates(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", 1000)
	f.invest(t, alice, "c1", 400)
	f.invest(t, bob, "c1", 400)

	progress, err := f.ledger.ProgressBps("c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(8000), progress)

	f.clock.Advance(25 * time.Hour)
	c, err := f.ledger.Complete(creator, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignSuccessful, c.Status)
	assert.True(t, c.Completed)

	certs := f.issuer.CertificatesByCampaign("c1")
	require.Len(t, certs, 2)
	assert.Equal(t, aliceAddr, certs[0].Owner)
	assert.Equal(t, bobAddr, certs[1].Owner)
	for _, cert := range certs {
		assert.Equal(t, "400", cert.InvestmentAmount.String())
		assert.Equal(t, uint64(1), cert.VotingWeight)
		assert.Equal(t, uint16(5000), cert.EquityBps)
		assert.Equal(t, "1", cert.ShareCount.String())
		assert.Equal(t, "ipfs://c1", cert.MetadataRef)
		assert.False(t, cert.Transferable)
	}
	assert.Equal(t, uint64(1), f.issuer.VotingPower(aliceAddr))
	require.NoError(t, f.ledger.Audit("c1"))

	ok, err := f.ledger.IsSuccessful("c1")
	require.NoError(t, err)
	assert.True(t, ok)

	// created, two investments, completed, two certificates
	head, err := f.journal.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(6), head)
}

func TestFailedCampaignRefundsEachInvestorOnce(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", 1000)
	f.invest(t, alice, "c1", 300)
	f.invest(t, bob, "c1", 200)

	f.clock.Advance(25 * time.Hour)
	c, err := f.ledger.Complete(creator, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignFailed, c.Status)
	assert.Empty(t, f.issuer.CertificatesByCampaign("c1"))

	refund, err := f.ledger.RequestRefund(alice, "c1")
	require.NoError(t, err)
	assert.Equal(t, "300", refund.String())
	refund, err = f.ledger.RequestRefund(bob, "c1")
	require.NoError(t, err)
	assert.Equal(t, "200", refund.String())

	_, err = f.ledger.RequestRefund(alice, "c1")
	require.ErrorIs(t, err, ErrNothingToRefund)
	_, err = f.ledger.RequestRefund(bob, "c1")
	require.ErrorIs(t, err, ErrNothingToRefund)

	assert.Equal(t, "300", f.rail.PaidTo(aliceAddr).String())
	assert.Equal(t, "200", f.rail.PaidTo(bobAddr).String())

	c, err = f.ledger.Details("c1")
	require.NoError(t, err)
	assert.Zero(t, c.RaisedAmount.Sign())
	require.NoError(t, f.ledger.Audit("c1"))

	invs, err := f.ledger.Investments("c1")
	require.NoError(t, err)
	require.Len(t, invs, 2)
	for _, inv := range invs {
		assert.True(t, inv.Refunded)
	}
}

func TestThresholdDecidesOutcome(t *testing.T) {
	cases := []struct {
		name          string
		goal          int64
		first, second int64
		want          model.CampaignStatus
	}{
		{name: "exactly threshold", goal: 1000, first: 650, second: 100, want: model.CampaignSuccessful},
		{name: "one below threshold", goal: 1000, first: 649, second: 100, want: model.CampaignFailed},
		// 75% of 1001 is 750.75, so 750 falls short.
		{name: "fractional threshold not met", goal: 1001, first: 650, second: 100, want: model.CampaignFailed},
		{name: "fractional threshold met", goal: 1001, first: 651, second: 100, want: model.CampaignSuccessful},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.create(t, "c1", tc.goal)
			f.invest(t, alice, "c1", tc.first)
			f.invest(t, bob, "c1", tc.second)

			f.clock.Advance(24 * time.Hour)
			c, err := f.ledger.Complete(creator, "c1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.Status)
		})
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", 1000)

	cases := []struct {
		name   string
		params CreateParams
		want   error
	}{
		{"duplicate id", CreateParams{ID: "c1", Goal: big.NewInt(1), Duration: time.Hour}, ErrCampaignExists},
		{"empty id", CreateParams{ID: " ", Goal: big.NewInt(1), Duration: time.Hour}, ErrInvalidID},
		{"zero goal", CreateParams{ID: "c2", Goal: big.NewInt(0), Duration: time.Hour}, ErrInvalidGoal},
		{"nil goal", CreateParams{ID: "c2", Duration: time.Hour}, ErrInvalidGoal},
		{"zero duration", CreateParams{ID: "c2", Goal: big.NewInt(1)}, ErrInvalidDuration},
		{"negative duration", CreateParams{ID: "c2", Goal: big.NewInt(1), Duration: -time.Hour}, ErrInvalidDuration},
		{"too long", CreateParams{ID: "c2", Goal: big.NewInt(1), Duration: 181 * 24 * time.Hour}, ErrInvalidDuration},
		{"threshold", CreateParams{ID: "c2", Goal: big.NewInt(1), Duration: time.Hour, ThresholdBps: 10001}, ErrInvalidThreshold},
		{"other creator", CreateParams{ID: "c2", Goal: big.NewInt(1), Duration: time.Hour, Creator: aliceAddr}, ErrNotAuthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ledger.Create(creator, tc.params)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, uint64(1), f.ledger.Count())

	c, err := f.ledger.Create(admin, CreateParams{ID: "c2", Creator: aliceAddr, Goal: big.NewInt(1), Duration: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, aliceAddr, c.Creator)
	assert.Equal(t, uint16(7500), c.ThresholdBps)
}

func TestInvestRejections(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", 1000)

	_, err := f.ledger.InvestNative(alice, "c1", big.NewInt(99))
	require.ErrorIs(t, err, ErrBelowMinimum)
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = f.ledger.InvestNative(alice, "c1", big.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.ledger.InvestNative(creator, "c1", big.NewInt(100))
	require.ErrorIs(t, err, ErrCreatorInvestment)
	assert.True(t, errors.Is(err, model.ErrUnauthorized))

	_, err = f.ledger.InvestNative(alice, "missing", big.NewInt(100))
	require.ErrorIs(t, err, ErrCampaignNotFound)

	f.clock.Advance(24 * time.Hour)
	_, err = f.ledger.InvestNative(alice, "c1", big.NewInt(100))
	require.ErrorIs(t, err, ErrDeadlinePassed)
	assert.True(t, errors.Is(err, model.ErrStateConflict))

	_, err = f.ledger.Complete(creator, "c1")
	require.NoError(t, err)
	_, err = f.ledger.InvestNative(alice, "c1", big.NewInt(100))
	require.ErrorIs(t, err, ErrCampaignNotActive)

	c, err := f.ledger.Details("c1")
	require.NoError(t, err)
	assert.Zero(t, c.RaisedAmount.Sign())
}

func TestRecordExternalPayment(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", 1000)

	_, err := f.ledger.RecordExternalPayment(alice, "c1", aliceAddr, big.NewInt(500), "card", "pay-1")
	require.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.ledger.RecordExternalPayment(recorder, "c1", aliceAddr, big.NewInt(500), "native", "pay-1")
	require.ErrorIs(t, err, ErrInvalidMethod)
	_, err = f.ledger.RecordExternalPayment(recorder, "c1", aliceAddr, big.NewInt(500), "card", "")
	require.ErrorIs(t, err, ErrInvalidReference)

	inv, err := f.ledger.RecordExternalPayment(recorder, "c1", aliceAddr, big.NewInt(500), "Card", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "card", inv.PaymentMethod)
	assert.Equal(t, "pay-1", inv.ExternalRef)

	_, err = f.ledger.RecordExternalPayment(recorder, "c1", bobAddr, big.NewInt(300), "bank", "pay-1")
	require.ErrorIs(t, err, ErrDuplicateReference)

	f.invest(t, alice, "c1", 100)
	stake, err := f.ledger.InvestmentAmount("c1", aliceAddr)
	require.NoError(t, err)
	assert.Equal(t, "600", stake.String())

	investors, err := f.ledger.Investors("c1")
	require.NoError(t, err)
	assert.Equal(t, []common.Address{aliceAddr}, investors)
	require.NoError(t, f.ledger.Audit("c1"))
}

func TestCompleteAuthorizationAndOnce(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", 1000)
	f.invest(t, alice, "c1", 800)

	_, err := f.ledger.Complete(bob, "c1")
	require.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.ledger.Complete(creator, "c1")
	require.ErrorIs(t, err, ErrDeadlineNotReached)

	c, err := f.ledger.Complete(admin, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignSuccessful, c.Status)

	_, err = f.ledger.Complete(admin, "c1")
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Len(t, f.issuer.CertificatesByCampaign("c1"), 1)

	require.NoError(t, f.ledger.IssueCertificates(admin, "c1"))
	assert.Len(t, f.issuer.CertificatesByCampaign("c1"), 1)
}

func TestReleaseFunds(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ok", 1000)
	f.create(t, "ko", 1000)
	f.invest(t, alice, "ok", 500)
	f.invest(t, bob, "ok", 300)
	f.invest(t, alice, "ko", 100)
	f.clock.Advance(24 * time.Hour)
	_, err := f.ledger.Complete(creator, "ok")
	require.NoError(t, err)
	_, err = f.ledger.Complete(creator, "ko")
	require.NoError(t, err)

	_, _, err = f.ledger.ReleaseFunds(alice, "ok")
	require.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.ledger.RequestRefund(alice, "ok")
	require.ErrorIs(t, err, ErrNotFailed)
	_, _, err = f.ledger.ReleaseFunds(creator, "ko")
	require.ErrorIs(t, err, ErrNotSuccessful)

	net, fee, err := f.ledger.ReleaseFunds(creator, "ok")
	require.NoError(t, err)
	assert.Equal(t, "780", net.String())
	assert.Equal(t, "20", fee.String())
	assert.Equal(t, "780", f.rail.PaidTo(creatorAddr).String())
	assert.Equal(t, "20", f.vault.Balance().String())

	_, _, err = f.ledger.ReleaseFunds(admin, "ok")
	require.ErrorIs(t, err, ErrFundsReleased)
	assert.Equal(t, "20", f.vault.Balance().String())
}

// flakyFeeSink rejects deposits while failures remain.
type flakyFeeSink struct {
	FeeSink
	failures int
}

func (s *flakyFeeSink) Deposit(from common.Address, amount *big.Int, memo string) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("treasury unavailable")
	}
	return s.FeeSink.Deposit(from, amount, memo)
}

func TestReleaseResumesAfterFeeDepositFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.treasury = &flakyFeeSink{FeeSink: f.vault, failures: 1}
	c := f.create(t, "c1", 1000)
	f.invest(t, alice, "c1", 800)
	f.clock.Advance(24 * time.Hour)
	_, err := f.ledger.Complete(creator, "c1")
	require.NoError(t, err)

	ctx := context.Background()
	before, err := f.journal.LatestBlockNumber(ctx)
	require.NoError(t, err)

	_, _, err = f.ledger.ReleaseFunds(creator, "c1")
	require.Error(t, err)
	details, err := f.ledger.Details("c1")
	require.NoError(t, err)
	assert.False(t, details.FundsReleased)
	assert.Equal(t, "780", f.rail.PaidTo(creatorAddr).String())
	assert.Zero(t, f.vault.Balance().Sign())
	head, err := f.journal.LatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, head)

	net, fee, err := f.ledger.ReleaseFunds(creator, "c1")
	require.NoError(t, err)
	assert.Equal(t, "780", net.String())
	assert.Equal(t, "20", fee.String())
	assert.Equal(t, "780", f.rail.PaidTo(creatorAddr).String())
	assert.Equal(t, "20", f.vault.Balance().String())

	logs, err := f.journal.FilterLogs(ctx, before+1, before+1, []common.Address{c.Address}, nil)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	details, err = f.ledger.Details("c1")
	require.NoError(t, err)
	assert.True(t, details.FundsReleased)

	_, _, err = f.ledger.ReleaseFunds(creator, "c1")
	require.ErrorIs(t, err, ErrFundsReleased)
}

func TestConcurrentInvestmentsKeepAccumulatorConsistent(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", 100_000)

	const investors = 40
	var wg sync.WaitGroup
	errs := make(chan error, investors)
	for i := 0; i < investors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			investor := common.BigToAddress(big.NewInt(int64(0x1000 + i)))
			var err error
			if i%2 == 0 {
				_, err = f.ledger.InvestNative(access.Account(investor), "c1", big.NewInt(150))
			} else {
				_, err = f.ledger.RecordExternalPayment(recorder, "c1", investor, big.NewInt(150), "bank", fmt.Sprintf("ref-%d", i))
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c, err := f.ledger.Details("c1")
	require.NoError(t, err)
	assert.Equal(t, "6000", c.RaisedAmount.String())
	require.NoError(t, f.ledger.Audit("c1"))
}

func TestFactory(t *testing.T) {
	f := newFixture(t)

	first, err := f.factory.CreateCampaign(creator, "", "Acme", "widgets", big.NewInt(1000), time.Hour, "doc")
	require.NoError(t, err)
	second, err := f.factory.CreateCampaign(creator, "named", "Beta", "", big.NewInt(2000), time.Hour, "")
	require.NoError(t, err)

	assert.Equal(t, crypto.CreateAddress(factoryAddr, 0), first)
	assert.Equal(t, crypto.CreateAddress(factoryAddr, 1), second)
	assert.Equal(t, factoryAddr, f.factory.Address())

	c, err := f.factory.GetCampaign(first)
	require.NoError(t, err)
	_, err = uuid.Parse(c.ID)
	require.NoError(t, err)

	byID, err := f.factory.GetCampaignByID("named")
	require.NoError(t, err)
	assert.Equal(t, second, byID.Address)

	f.invest(t, alice, "named", 1500)
	f.clock.Advance(time.Hour)
	done, err := f.factory.CompleteCampaign(creator, second)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignSuccessful, done.Status)

	stats := f.factory.Stats()
	assert.Equal(t, uint64(2), stats.Total)
	assert.Equal(t, uint64(1), stats.Active)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, "1500", stats.TotalRaised.String())
	assert.Equal(t, uint64(2), f.factory.CampaignCount())

	_, err = f.factory.GetCampaign(common.HexToAddress("0xdead"))
	require.ErrorIs(t, err, ErrCampaignNotFound)
}

type rejectingMinter struct{}

func (rejectingMinter) Issue(access.Caller, certificate.IssueParams) (uint64, error) {
	return 0, errors.New("minter offline")
}

func TestCompleteReportsIssuanceFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.minter = rejectingMinter{}
	f.create(t, "c1", 1000)
	f.invest(t, alice, "c1", 900)
	f.clock.Advance(24 * time.Hour)

	c, err := f.ledger.Complete(creator, "c1")
	require.ErrorIs(t, err, ErrCertificateIssue)
	assert.Equal(t, model.CampaignSuccessful, c.Status)

	f.ledger.minter = f.issuer
	require.NoError(t, f.ledger.IssueCertificates(admin, "c1"))
	assert.Len(t, f.issuer.CertificatesByCampaign("c1"), 1)
}
