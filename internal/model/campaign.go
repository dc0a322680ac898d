package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CampaignStatus is the funding lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignActive     CampaignStatus = "active"
	CampaignSuccessful CampaignStatus = "successful"
	CampaignFailed     CampaignStatus = "failed"
	CampaignCancelled  CampaignStatus = "cancelled"
)

// PaymentNative tags investments settled on the ledger itself.
const PaymentNative = "native"

// Campaign is a read-only snapshot of a campaign aggregate.
type Campaign struct {
	ID            string
	Address       common.Address
	Name          string
	Description   string
	Creator       common.Address
	FundingGoal   *big.Int
	RaisedAmount  *big.Int
	Deadline      time.Time
	ThresholdBps  uint16
	DocRef        string
	Status        CampaignStatus
	Completed     bool
	FundsReleased bool
	CreatedAt     time.Time
}

// Investment is a single recorded contribution toward a campaign.
type Investment struct {
	CampaignID    string
	Investor      common.Address
	Amount        *big.Int
	PaymentMethod string
	ExternalRef   string
	Refunded      bool
	RecordedAt    time.Time
}
