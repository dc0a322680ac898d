package syncer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"issuerLedger/internal/model"
	"issuerLedger/internal/storage"
)

// project applies one newly mirrored event to the relational tables.
// Aggregate columns are recomputed from rows rather than incremented.
func (s *Syncer) project(ctx context.Context, tx storage.Tx, ev *model.SettlementEvent) error {
	switch d := ev.Decoded.(type) {
	case model.CampaignCreatedData:
		goal, err := model.ParseAmount(d.FundingGoal)
		if err != nil {
			return err
		}
		addr := common.HexToAddress(d.Campaign)
		if err := tx.RegisterContract(ctx, addr, storage.KindCampaign, d.CampaignID, ev.BlockNumber); err != nil {
			return fmt.Errorf("register campaign: %w", err)
		}
		return tx.UpsertCampaign(ctx, model.Campaign{
			ID:           d.CampaignID,
			Address:      addr,
			Name:         d.Name,
			Description:  d.Description,
			Creator:      common.HexToAddress(d.Creator),
			FundingGoal:  goal,
			RaisedAmount: new(big.Int),
			Deadline:     unixTime(d.Deadline),
			ThresholdBps: d.ThresholdBps,
			DocRef:       d.DocRef,
			Status:       model.CampaignActive,
			CreatedAt:    unixTime(ev.Timestamp),
		})

	case model.InvestmentMadeData:
		campaignID, err := campaignOf(ctx, tx, ev)
		if err != nil {
			return err
		}
		amount, err := model.ParseAmount(d.Amount)
		if err != nil {
			return err
		}
		err = tx.InsertInvestment(ctx, storage.EventKey{TxHash: ev.TxHash, LogIndex: ev.LogIndex}, model.Investment{
			CampaignID:    campaignID,
			Investor:      common.HexToAddress(d.Investor),
			Amount:        amount,
			PaymentMethod: d.PaymentMethod,
			ExternalRef:   d.ExternalRef,
			RecordedAt:    unixTime(ev.Timestamp),
		})
		if err != nil {
			return fmt.Errorf("insert investment: %w", err)
		}
		raised, err := tx.RefreshRaised(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("refresh raised: %w", err)
		}
		if raised.String() != d.TotalRaised {
			s.logger.Warn("raised amount differs from event",
				zap.String("campaign_id", campaignID),
				zap.String("store_raised", raised.String()),
				zap.String("event_raised", d.TotalRaised),
			)
		}
		return nil

	case model.CampaignCompletedData:
		campaignID, err := campaignOf(ctx, tx, ev)
		if err != nil {
			return err
		}
		status := model.CampaignFailed
		if d.Successful {
			status = model.CampaignSuccessful
		}
		return tx.SetCampaignOutcome(ctx, campaignID, status)

	case model.RefundIssuedData:
		campaignID, err := campaignOf(ctx, tx, ev)
		if err != nil {
			return err
		}
		if err := tx.MarkRefunded(ctx, campaignID, common.HexToAddress(d.Investor)); err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}
		_, err = tx.RefreshRaised(ctx, campaignID)
		return err

	case model.FundsReleasedData:
		campaignID, err := campaignOf(ctx, tx, ev)
		if err != nil {
			return err
		}
		return tx.SetFundsReleased(ctx, campaignID)

	case model.CertificateIssuedData:
		invested, err := model.ParseAmount(d.InvestmentAmount)
		if err != nil {
			return err
		}
		shares, err := model.ParseAmount(d.ShareCount)
		if err != nil {
			return err
		}
		return tx.UpsertCertificate(ctx, model.Certificate{
			TokenID:          d.TokenID,
			Owner:            common.HexToAddress(d.Owner),
			CampaignID:       d.CampaignID,
			IssuerName:       d.IssuerName,
			EquityBps:        d.EquityBps,
			InvestmentAmount: invested,
			ShareCount:       shares,
			VotingWeight:     d.VotingWeight,
			MetadataRef:      d.MetadataRef,
			Active:           true,
			IssuedAt:         unixTime(ev.Timestamp),
		})

	case model.CertificateRevokedData:
		return tx.SetCertificateActive(ctx, d.TokenID, false, d.Reason)

	case model.CertificateTransferredData:
		return tx.SetCertificateOwner(ctx, d.TokenID, common.HexToAddress(d.To))

	case model.ProposalCreatedData:
		amount, err := model.ParseAmount(d.Amount)
		if err != nil {
			return err
		}
		return tx.UpsertProposal(ctx, model.Proposal{
			ID:        d.ProposalID,
			Proposer:  common.HexToAddress(d.Proposer),
			Type:      model.ProposalType(d.ProposalType),
			Title:     d.Title,
			Target:    common.HexToAddress(d.Target),
			Amount:    amount,
			StartTime: unixTime(d.StartTime),
			EndTime:   unixTime(d.EndTime),
			Quorum:    d.Quorum,
			Status:    model.ProposalActive,
		})

	case model.VoteCastData:
		err := tx.InsertVote(ctx, d.ProposalID, model.VoteReceipt{
			Voter:   common.HexToAddress(d.Voter),
			Support: d.Support,
			Weight:  d.Weight,
			CastAt:  unixTime(ev.Timestamp),
		})
		if err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
		_, _, err = tx.RefreshTally(ctx, d.ProposalID)
		return err

	case model.ProposalExecutedData:
		if d.Passed {
			return tx.SetProposalStatus(ctx, d.ProposalID, model.ProposalExecuted, true)
		}
		return tx.SetProposalStatus(ctx, d.ProposalID, model.ProposalFailed, false)

	case model.ProposalCancelledData:
		return tx.SetProposalStatus(ctx, d.ProposalID, model.ProposalCancelled, false)

	default:
		return fmt.Errorf("no projection for %T", ev.Decoded)
	}
}

func campaignOf(ctx context.Context, tx storage.Tx, ev *model.SettlementEvent) (string, error) {
	id, ok, err := tx.CampaignIDByAddress(ctx, common.HexToAddress(ev.Address))
	if err != nil {
		return "", fmt.Errorf("resolve campaign: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("campaign at %s: %w", ev.Address, storage.ErrNotFound)
	}
	return id, nil
}

func unixTime(sec uint64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}
