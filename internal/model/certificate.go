package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Certificate is an ownership record minted from a successful campaign.
type Certificate struct {
	TokenID          uint64
	Owner            common.Address
	CampaignID       string
	IssuerName       string
	EquityBps        uint16
	InvestmentAmount *big.Int
	ShareCount       *big.Int
	VotingWeight     uint64
	MetadataRef      string
	Active           bool
	Transferable     bool
	RevokeReason     string
	IssuedAt         time.Time
}
