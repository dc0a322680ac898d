package model

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProposalType categorises a governance proposal.
type ProposalType uint8

const (
	ProposalCampaign ProposalType = iota
	ProposalPlatform
	ProposalTreasury
	ProposalGovernance
)

func (t ProposalType) String() string {
	switch t {
	case ProposalCampaign:
		return "campaign"
	case ProposalPlatform:
		return "platform"
	case ProposalTreasury:
		return "treasury"
	case ProposalGovernance:
		return "governance"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is a known proposal type.
func (t ProposalType) Valid() bool {
	return t <= ProposalGovernance
}

// ProposalStatus is the governance lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalActive    ProposalStatus = "active"
	ProposalExecuted  ProposalStatus = "executed"
	ProposalFailed    ProposalStatus = "failed"
	ProposalCancelled ProposalStatus = "cancelled"
)

// Proposal is a read-only snapshot of a governance proposal.
type Proposal struct {
	ID           uint64
	Proposer     common.Address
	Type         ProposalType
	Title        string
	Description  string
	Target       common.Address
	Amount       *big.Int
	Payload      []byte
	StartTime    time.Time
	EndTime      time.Time
	ForVotes     uint64
	AgainstVotes uint64
	Quorum       uint64
	Status       ProposalStatus
	Executed     bool
}

// VoteReceipt is the one-time choice recorded for a voter.
type VoteReceipt struct {
	Voter   common.Address
	Support bool
	Weight  uint64
	CastAt  time.Time
}
