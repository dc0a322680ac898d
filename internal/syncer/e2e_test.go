package syncer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuerLedger/internal/access"
	"issuerLedger/internal/certificate"
	"issuerLedger/internal/governance"
	"issuerLedger/internal/ledger"
	"issuerLedger/internal/model"
	"issuerLedger/internal/treasury"
)

func TestSynchronizerMirrorsLedgerActivity(t *testing.T) {
	f := newFixture(t, Config{
		Factory:      factoryAddr,
		Certificates: certAddr,
		Governance:   govAddr,
		BatchSize:    4,
	})
	ctx := context.Background()

	var (
		creator   = access.Account(common.HexToAddress("0x0000000000000000000000000000000000000001"))
		alice     = access.Account(common.HexToAddress("0x00000000000000000000000000000000000000a1"))
		bob       = access.Account(common.HexToAddress("0x00000000000000000000000000000000000000b1"))
		carol     = access.Account(common.HexToAddress("0x00000000000000000000000000000000000000c3"))
		regulator = access.Grant(common.HexToAddress("0x00000000000000000000000000000000000000e1"), access.RoleRegulator)
	)

	issuer, err := certificate.New(certificate.Config{Address: certAddr, Clock: f.clock, Emitter: f.journal})
	require.NoError(t, err)
	rail := treasury.NewRail(f.clock, nil)
	vault := treasury.NewVault(common.HexToAddress("0x00000000000000000000000000000000000000fe"), rail, f.clock, nil)
	l, err := ledger.New(ledger.Config{
		Factory:  factoryAddr,
		Policy:   ledger.DefaultPolicy(),
		Clock:    f.clock,
		Emitter:  f.journal,
		Minter:   issuer,
		Issuer:   access.Grant(factoryAddr, access.RoleMinter),
		Payer:    rail,
		Treasury: vault,
	})
	require.NoError(t, err)
	factory := ledger.NewFactory(l)
	engine, err := governance.New(governance.Config{
		Address: govAddr,
		Policy: governance.Policy{
			ProposalThreshold: 1,
			ProposalFee:       big.NewInt(10),
			DefaultQuorum:     2,
			MinVotingPeriod:   time.Hour,
			MaxVotingPeriod:   48 * time.Hour,
		},
		Clock:    f.clock,
		Emitter:  f.journal,
		Power:    issuer,
		Treasury: vault,
	})
	require.NoError(t, err)

	addr1, err := factory.CreateCampaign(creator, "c1", "Acme", "rooftop solar", big.NewInt(1000), 24*time.Hour, "ipfs://acme")
	require.NoError(t, err)
	addr2, err := factory.CreateCampaign(creator, "c2", "Borealis", "", big.NewInt(1000), 24*time.Hour, "ipfs://borealis")
	require.NoError(t, err)

	_, err = l.InvestNative(alice, "c1", big.NewInt(400))
	require.NoError(t, err)
	_, err = l.InvestNative(bob, "c1", big.NewInt(400))
	require.NoError(t, err)
	_, err = l.InvestNative(carol, "c2", big.NewInt(200))
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	_, err = factory.CompleteCampaign(creator, addr1)
	require.NoError(t, err)
	_, err = factory.CompleteCampaign(creator, addr2)
	require.NoError(t, err)
	_, _, err = l.ReleaseFunds(creator, "c1")
	require.NoError(t, err)
	_, err = l.RequestRefund(carol, "c2")
	require.NoError(t, err)

	prop, err := engine.Create(alice, governance.CreateParams{
		Type:         model.ProposalPlatform,
		Title:        "Lower platform fee",
		VotingPeriod: 2 * time.Hour,
		Fee:          big.NewInt(10),
	})
	require.NoError(t, err)
	_, err = engine.Vote(alice, prop.ID, true)
	require.NoError(t, err)
	_, err = engine.Vote(bob, prop.ID, true)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Hour)
	_, err = engine.Execute(alice, prop.ID)
	require.NoError(t, err)
	require.NoError(t, issuer.Revoke(regulator, 2, "kyc lapsed"))

	// Campaign instances registered by the first tick are synchronized by the next.
	first, err := f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, first.Failed)
	assert.Equal(t, 3, first.Targets)

	second, err := f.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Failed)
	assert.Equal(t, 5, second.Targets)

	head, err := f.journal.LatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, head, first.Applied+second.Applied)

	c1, ok := f.store.Campaign("c1")
	require.True(t, ok)
	assert.Equal(t, addr1, c1.Address)
	assert.Equal(t, model.CampaignSuccessful, c1.Status)
	assert.True(t, c1.Completed)
	assert.True(t, c1.FundsReleased)
	assert.Equal(t, "800", c1.RaisedAmount.String())
	assert.Equal(t, "Acme", c1.Name)
	assert.Equal(t, "rooftop solar", c1.Description)

	c2, ok := f.store.Campaign("c2")
	require.True(t, ok)
	assert.Equal(t, model.CampaignFailed, c2.Status)
	assert.Zero(t, c2.RaisedAmount.Sign())
	invs := f.store.Investments("c2")
	require.Len(t, invs, 1)
	assert.True(t, invs[0].Refunded)

	cert1, ok := f.store.Certificate(1)
	require.True(t, ok)
	assert.Equal(t, alice.Address, cert1.Owner)
	assert.True(t, cert1.Active)
	assert.Equal(t, uint16(5000), cert1.EquityBps)
	assert.Equal(t, "ipfs://acme", cert1.MetadataRef)
	cert2, ok := f.store.Certificate(2)
	require.True(t, ok)
	assert.False(t, cert2.Active)
	assert.Equal(t, "kyc lapsed", cert2.RevokeReason)

	p, ok := f.store.Proposal(prop.ID)
	require.True(t, ok)
	assert.Equal(t, model.ProposalExecuted, p.Status)
	assert.True(t, p.Executed)
	assert.Equal(t, uint64(2), p.ForVotes)
	assert.Zero(t, p.AgainstVotes)

	s, err := New(f.syncer.cfg, Deps{
		Source:   f.journal,
		Store:    f.store,
		Counters: LocalCounters{Campaigns: factory, Supply: issuer},
	})
	require.NoError(t, err)
	report, err := s.CheckDrift(ctx)
	require.NoError(t, err)
	assert.False(t, report.Drifted())
	assert.Equal(t, uint64(2), report.StoreCampaigns)
	assert.Equal(t, uint64(2), report.StoreCertificates)
}
