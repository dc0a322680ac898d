// Package storage defines the relational store the synchronizer projects
// settlement events into, and the raw log archive.
package storage

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"issuerLedger/internal/model"
)

// ErrNotFound reports a projection referencing a row that does not exist.
var ErrNotFound = errors.New("row not found")

// KindCampaign marks campaign instance addresses in the contract registry.
const KindCampaign = "campaign"

// EventKey identifies a settlement log exactly once.
type EventKey struct {
	TxHash   string
	LogIndex uint64
}

// Counts are aggregate row counts used by the drift check.
type Counts struct {
	Campaigns    uint64
	Investments  uint64
	Certificates uint64
	Proposals    uint64
	Votes        uint64
	Events       uint64
}

// Tx is one atomic unit of relational writes. Nothing written through a Tx
// is visible to other readers until the enclosing InTx returns nil.
type Tx interface {
	LoadCheckpoint(ctx context.Context, key model.CheckpointKey) (model.Checkpoint, bool, error)
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error

	// MirrorEvent records ev keyed by (tx hash, log index) and reports
	// whether it was new.
	MirrorEvent(ctx context.Context, ev *model.SettlementEvent) (bool, error)
	RegisterContract(ctx context.Context, addr common.Address, kind, campaignID string, block uint64) error
	CampaignIDByAddress(ctx context.Context, addr common.Address) (string, bool, error)

	UpsertCampaign(ctx context.Context, c model.Campaign) error
	SetCampaignOutcome(ctx context.Context, campaignID string, status model.CampaignStatus) error
	SetFundsReleased(ctx context.Context, campaignID string) error
	InsertInvestment(ctx context.Context, key EventKey, inv model.Investment) error
	MarkRefunded(ctx context.Context, campaignID string, investor common.Address) error
	RefreshRaised(ctx context.Context, campaignID string) (*big.Int, error)

	UpsertCertificate(ctx context.Context, c model.Certificate) error
	SetCertificateActive(ctx context.Context, tokenID uint64, active bool, reason string) error
	SetCertificateOwner(ctx context.Context, tokenID uint64, owner common.Address) error

	UpsertProposal(ctx context.Context, p model.Proposal) error
	InsertVote(ctx context.Context, proposalID uint64, vote model.VoteReceipt) error
	RefreshTally(ctx context.Context, proposalID uint64) (forVotes, againstVotes uint64, err error)
	SetProposalStatus(ctx context.Context, proposalID uint64, status model.ProposalStatus, executed bool) error
}

// Store is the relational materialized view of the settlement log.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	LoadCheckpoint(ctx context.Context, key model.CheckpointKey) (model.Checkpoint, bool, error)
	// MarkCheckpoint changes status and last error without moving the position.
	MarkCheckpoint(ctx context.Context, key model.CheckpointKey, status model.CheckpointStatus, lastErr string) error
	ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error)
	CampaignAddresses(ctx context.Context) ([]common.Address, error)
	Counts(ctx context.Context) (Counts, error)
	Close()
}

// Archive is a sink for raw settlement logs.
type Archive interface {
	PutLogBatch(logs []model.LogRecord) error
}
