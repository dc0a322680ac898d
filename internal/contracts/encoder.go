package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"issuerLedger/internal/model"
)

// Encode packs a typed event payload into the topics and data of a settlement
// log. It is the inverse of Decoder.Decode.
func Encode(payload interface{}) (model.EventType, []common.Hash, []byte, error) {
	eventType, args, err := encodeArgs(payload)
	if err != nil {
		return "", nil, nil, err
	}

	name := eventNames[eventType]
	parsed, err := SettlementABI()
	if err != nil {
		return "", nil, nil, fmt.Errorf("parse settlement abi: %w", err)
	}
	event := parsed.Events[name]

	data, err := event.Inputs.NonIndexed().Pack(args...)
	if err != nil {
		return "", nil, nil, fmt.Errorf("pack %s: %w", name, err)
	}
	return eventType, []common.Hash{event.ID}, data, nil
}

func encodeArgs(payload interface{}) (model.EventType, []interface{}, error) {
	switch p := payload.(type) {
	case model.CampaignCreatedData:
		campaign, err := parseAddress(p.Campaign)
		if err != nil {
			return "", nil, err
		}
		creator, err := parseAddress(p.Creator)
		if err != nil {
			return "", nil, err
		}
		goal, err := parseAmount(p.FundingGoal)
		if err != nil {
			return "", nil, err
		}
		return model.EventCampaignCreated, []interface{}{
			p.CampaignID, campaign, creator, p.Name, goal, p.Deadline, p.ThresholdBps, p.DocRef, p.Description,
		}, nil
	case model.InvestmentMadeData:
		investor, err := parseAddress(p.Investor)
		if err != nil {
			return "", nil, err
		}
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return "", nil, err
		}
		total, err := parseAmount(p.TotalRaised)
		if err != nil {
			return "", nil, err
		}
		return model.EventInvestmentMade, []interface{}{
			investor, amount, p.PaymentMethod, p.ExternalRef, total,
		}, nil
	case model.CampaignCompletedData:
		raised, err := parseAmount(p.Raised)
		if err != nil {
			return "", nil, err
		}
		threshold, err := parseAmount(p.Threshold)
		if err != nil {
			return "", nil, err
		}
		return model.EventCampaignCompleted, []interface{}{p.Successful, raised, threshold}, nil
	case model.RefundIssuedData:
		investor, err := parseAddress(p.Investor)
		if err != nil {
			return "", nil, err
		}
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return "", nil, err
		}
		return model.EventRefundIssued, []interface{}{investor, amount}, nil
	case model.FundsReleasedData:
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return "", nil, err
		}
		fee, err := parseAmount(p.PlatformFee)
		if err != nil {
			return "", nil, err
		}
		return model.EventFundsReleased, []interface{}{amount, fee}, nil
	case model.CertificateIssuedData:
		owner, err := parseAddress(p.Owner)
		if err != nil {
			return "", nil, err
		}
		amount, err := parseAmount(p.InvestmentAmount)
		if err != nil {
			return "", nil, err
		}
		shares, err := parseAmount(p.ShareCount)
		if err != nil {
			return "", nil, err
		}
		return model.EventCertificateIssued, []interface{}{
			uint256(p.TokenID), owner, p.CampaignID, p.IssuerName, amount, shares, uint256(p.VotingWeight), p.EquityBps, p.MetadataRef,
		}, nil
	case model.CertificateRevokedData:
		return model.EventCertificateRevoked, []interface{}{uint256(p.TokenID), p.Reason}, nil
	case model.CertificateTransferredData:
		from, err := parseAddress(p.From)
		if err != nil {
			return "", nil, err
		}
		to, err := parseAddress(p.To)
		if err != nil {
			return "", nil, err
		}
		return model.EventCertificateTransferred, []interface{}{uint256(p.TokenID), from, to}, nil
	case model.ProposalCreatedData:
		proposer, err := parseAddress(p.Proposer)
		if err != nil {
			return "", nil, err
		}
		target, err := parseAddress(p.Target)
		if err != nil {
			return "", nil, err
		}
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return "", nil, err
		}
		return model.EventProposalCreated, []interface{}{
			uint256(p.ProposalID), proposer, p.ProposalType, p.Title, target, amount, p.StartTime, p.EndTime, uint256(p.Quorum),
		}, nil
	case model.VoteCastData:
		voter, err := parseAddress(p.Voter)
		if err != nil {
			return "", nil, err
		}
		return model.EventVoteCast, []interface{}{uint256(p.ProposalID), voter, p.Support, uint256(p.Weight)}, nil
	case model.ProposalExecutedData:
		return model.EventProposalExecuted, []interface{}{
			uint256(p.ProposalID), p.Passed, uint256(p.ForVotes), uint256(p.AgainstVotes),
		}, nil
	case model.ProposalCancelledData:
		return model.EventProposalCancelled, []interface{}{uint256(p.ProposalID)}, nil
	default:
		return "", nil, fmt.Errorf("unsupported event payload %T", payload)
	}
}

func uint256(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
