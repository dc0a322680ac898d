package syncer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"issuerLedger/internal/contracts"
)

// Counters reads the authoritative ledger's own counters.
type Counters interface {
	CampaignCount(ctx context.Context) (uint64, error)
	CertificateSupply(ctx context.Context) (uint64, error)
}

// ChainCounters reads counters through contract view calls.
type ChainCounters struct {
	Caller       contracts.ContractCaller
	Factory      common.Address
	Certificates common.Address
}

func (c ChainCounters) CampaignCount(ctx context.Context) (uint64, error) {
	return contracts.CampaignCount(ctx, c.Caller, c.Factory)
}

func (c ChainCounters) CertificateSupply(ctx context.Context) (uint64, error) {
	return contracts.TotalSupply(ctx, c.Caller, c.Certificates)
}

// LocalCounters reads counters from in-process components.
type LocalCounters struct {
	Campaigns interface{ CampaignCount() uint64 }
	Supply    interface{ TotalSupply() uint64 }
}

func (c LocalCounters) CampaignCount(ctx context.Context) (uint64, error) {
	if c.Campaigns == nil {
		return 0, fmt.Errorf("campaign counter is nil")
	}
	return c.Campaigns.CampaignCount(), nil
}

func (c LocalCounters) CertificateSupply(ctx context.Context) (uint64, error) {
	if c.Supply == nil {
		return 0, fmt.Errorf("certificate supply is nil")
	}
	return c.Supply.TotalSupply(), nil
}

// DriftReport compares ledger counters with relational row counts.
type DriftReport struct {
	LedgerCampaigns    uint64
	StoreCampaigns     uint64
	LedgerCertificates uint64
	StoreCertificates  uint64
}

// Drifted reports whether any pair disagrees.
func (r DriftReport) Drifted() bool {
	return r.LedgerCampaigns != r.StoreCampaigns || r.LedgerCertificates != r.StoreCertificates
}

// CheckDrift compares aggregate counts between the ledger and the store. A
// mismatch is logged and exported, never repaired.
func (s *Syncer) CheckDrift(ctx context.Context) (DriftReport, error) {
	if s.counters == nil {
		return DriftReport{}, fmt.Errorf("drift counters are not configured")
	}

	counts, err := s.store.Counts(ctx)
	if err != nil {
		return DriftReport{}, fmt.Errorf("store counts: %w", err)
	}
	campaigns, err := s.counters.CampaignCount(ctx)
	if err != nil {
		return DriftReport{}, fmt.Errorf("ledger campaign count: %w", err)
	}
	supply, err := s.counters.CertificateSupply(ctx)
	if err != nil {
		return DriftReport{}, fmt.Errorf("ledger certificate supply: %w", err)
	}

	report := DriftReport{
		LedgerCampaigns:    campaigns,
		StoreCampaigns:     counts.Campaigns,
		LedgerCertificates: supply,
		StoreCertificates:  counts.Certificates,
	}
	s.metrics.drift.WithLabelValues("campaigns").Set(float64(campaigns) - float64(counts.Campaigns))
	s.metrics.drift.WithLabelValues("certificates").Set(float64(supply) - float64(counts.Certificates))

	if report.Drifted() {
		s.logger.Warn("store drift detected",
			zap.Uint64("ledger_campaigns", campaigns),
			zap.Uint64("store_campaigns", counts.Campaigns),
			zap.Uint64("ledger_certificates", supply),
			zap.Uint64("store_certificates", counts.Certificates),
		)
	}
	return report, nil
}
