package certificate

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuerLedger/internal/access"
	"issuerLedger/internal/clock"
	"issuerLedger/internal/journal"
	"issuerLedger/internal/model"
)

var (
	contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000ce")
	aliceAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr      = common.HexToAddress("0x00000000000000000000000000000000000000b1")

	minter    = access.Grant(common.HexToAddress("0x00000000000000000000000000000000000000f0"), access.RoleMinter)
	regulator = access.Grant(common.HexToAddress("0x00000000000000000000000000000000000000e1"), access.RoleRegulator)
	alice     = access.Account(aliceAddr)
	bob       = access.Account(bobAddr)
)

func newIssuer(t *testing.T) (*Issuer, *journal.Journal) {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	j := journal.New(clk, nil)
	issuer, err := New(Config{Address: contractAddr, VotingUnit: big.NewInt(1000), Clock: clk, Emitter: j})
	require.NoError(t, err)
	return issuer, j
}

func params(owner common.Address, campaignID string, amount int64) IssueParams {
	return IssueParams{
		Owner:            owner,
		CampaignID:       campaignID,
		IssuerName:       "Acme",
		EquityBps:        5000,
		InvestmentAmount: big.NewInt(amount),
		ShareCount:       big.NewInt(1),
		MetadataRef:      "ipfs://doc",
	}
}

func TestVotingWeight(t *testing.T) {
	issuer, _ := newIssuer(t)
	cases := []struct {
		amount int64
		want   uint64
	}{
		{amount: 1, want: 1},
		{amount: 999, want: 1},
		{amount: 1000, want: 1},
		{amount: 2999, want: 2},
		{amount: 1_000_000, want: 1000},
	}
	for _, tc := range cases {
		got, err := issuer.VotingWeight(big.NewInt(tc.amount))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "amount %d", tc.amount)
	}
	_, err := issuer.VotingWeight(big.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestIssueValidatesAndIndexes(t *testing.T) {
	issuer, _ := newIssuer(t)

	_, err := issuer.Issue(alice, params(aliceAddr, "c1", 5000))
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.True(t, errors.Is(err, model.ErrUnauthorized))

	bad := params(common.Address{}, "c1", 5000)
	_, err = issuer.Issue(minter, bad)
	require.ErrorIs(t, err, ErrInvalidAddress)
	bad = params(aliceAddr, "", 5000)
	_, err = issuer.Issue(minter, bad)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
	bad = params(aliceAddr, "c1", 0)
	_, err = issuer.Issue(minter, bad)
	require.ErrorIs(t, err, ErrInvalidAmount)
	bad = params(aliceAddr, "c1", 5000)
	bad.ShareCount = big.NewInt(0)
	_, err = issuer.Issue(minter, bad)
	require.ErrorIs(t, err, ErrInvalidShares)

	id, err := issuer.Issue(minter, params(aliceAddr, "c1", 5000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	_, err = issuer.Issue(minter, params(aliceAddr, "c1", 5000))
	require.ErrorIs(t, err, ErrAlreadyMinted)

	_, err = issuer.Issue(minter, params(aliceAddr, "c2", 2000))
	require.NoError(t, err)
	_, err = issuer.Issue(minter, params(bobAddr, "c2", 400))
	require.NoError(t, err)

	assert.Len(t, issuer.CertificatesByOwner(aliceAddr), 2)
	assert.Len(t, issuer.CertificatesByCampaign("c2"), 2)
	assert.Len(t, issuer.CertificatesByIssuer("Acme"), 3)
	assert.Equal(t, uint64(3), issuer.TotalSupply())
	assert.Equal(t, uint64(7), issuer.VotingPower(aliceAddr))
	assert.Equal(t, uint64(1), issuer.VotingPower(bobAddr))
}

func TestRevokedCertificatesLoseVotingPower(t *testing.T) {
	issuer, _ := newIssuer(t)
	id, err := issuer.Issue(minter, params(aliceAddr, "c1", 5000))
	require.NoError(t, err)
	_, err = issuer.Issue(minter, params(aliceAddr, "c2", 3000))
	require.NoError(t, err)

	require.ErrorIs(t, issuer.Revoke(alice, id, "fraud"), ErrNotAuthorized)
	require.NoError(t, issuer.Revoke(regulator, id, "fraud"))
	require.ErrorIs(t, issuer.Revoke(regulator, id, "again"), ErrRevoked)

	assert.Equal(t, uint64(3), issuer.VotingPower(aliceAddr))
	cert, err := issuer.Certificate(id)
	require.NoError(t, err)
	assert.False(t, cert.Active)
	assert.Equal(t, "fraud", cert.RevokeReason)
	assert.Equal(t, uint64(2), issuer.TotalSupply())

	_, err = issuer.Certificate(99)
	require.ErrorIs(t, err, ErrCertificateNotFound)
}

func TestBoundTransferNeedsOneShotApproval(t *testing.T) {
	issuer, _ := newIssuer(t)
	id, err := issuer.Issue(minter, params(aliceAddr, "c1", 5000))
	require.NoError(t, err)

	require.ErrorIs(t, issuer.Transfer(alice, id, bobAddr), ErrTransferNotApproved)
	require.ErrorIs(t, issuer.ApproveTransfer(alice, id), ErrNotAuthorized)
	require.NoError(t, issuer.ApproveTransfer(regulator, id))

	cert, err := issuer.Certificate(id)
	require.NoError(t, err)
	assert.True(t, cert.Transferable)

	require.ErrorIs(t, issuer.Transfer(bob, id, bobAddr), ErrNotOwner)
	require.NoError(t, issuer.Transfer(alice, id, bobAddr))

	assert.Zero(t, issuer.VotingPower(aliceAddr))
	assert.Equal(t, uint64(5), issuer.VotingPower(bobAddr))
	assert.Empty(t, issuer.CertificatesByOwner(aliceAddr))

	// approval is consumed
	require.ErrorIs(t, issuer.Transfer(bob, id, aliceAddr), ErrTransferNotApproved)
}

func TestGlobalTransferability(t *testing.T) {
	issuer, j := newIssuer(t)
	id, err := issuer.Issue(minter, params(aliceAddr, "c1", 5000))
	require.NoError(t, err)

	require.ErrorIs(t, issuer.SetTransferable(alice, true), ErrNotAuthorized)
	require.NoError(t, issuer.SetTransferable(regulator, true))
	require.NoError(t, issuer.Transfer(alice, id, bobAddr))
	require.NoError(t, issuer.Transfer(bob, id, aliceAddr))
	assert.Equal(t, uint64(5), issuer.VotingPower(aliceAddr))

	require.NoError(t, issuer.SetTransferable(regulator, false))
	require.ErrorIs(t, issuer.Transfer(alice, id, bobAddr), ErrTransferNotApproved)

	require.NoError(t, issuer.Revoke(regulator, id, "expired"))
	require.NoError(t, issuer.SetTransferable(regulator, true))
	require.ErrorIs(t, issuer.Transfer(alice, id, bobAddr), ErrRevoked)

	// issued, two transfers, revoked
	head, err := j.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), head)
}
