package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"issuerLedger/internal/model"
)

var eventNames = map[model.EventType]string{
	model.EventCampaignCreated:        "CampaignCreated",
	model.EventInvestmentMade:         "InvestmentMade",
	model.EventCampaignCompleted:      "CampaignCompleted",
	model.EventRefundIssued:           "RefundIssued",
	model.EventFundsReleased:          "FundsReleased",
	model.EventCertificateIssued:      "CertificateIssued",
	model.EventCertificateRevoked:     "CertificateRevoked",
	model.EventCertificateTransferred: "CertificateTransferred",
	model.EventProposalCreated:        "ProposalCreated",
	model.EventVoteCast:               "VoteCast",
	model.EventProposalExecuted:       "ProposalExecuted",
	model.EventProposalCancelled:      "ProposalCancelled",
}

// Topic0 returns the event signature hash for an event type.
func Topic0(eventType model.EventType) (common.Hash, error) {
	name, ok := eventNames[eventType]
	if !ok {
		return common.Hash{}, fmt.Errorf("unknown event type: %s", eventType)
	}
	parsed, err := SettlementABI()
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse settlement abi: %w", err)
	}
	event, ok := parsed.Events[name]
	if !ok {
		return common.Hash{}, fmt.Errorf("event %s missing from abi", name)
	}
	return event.ID, nil
}

// ParseEventType validates an event type key.
func ParseEventType(input string) (model.EventType, error) {
	eventType := model.EventType(input)
	if _, ok := eventNames[eventType]; !ok {
		return "", fmt.Errorf("unknown event type: %s", input)
	}
	return eventType, nil
}
