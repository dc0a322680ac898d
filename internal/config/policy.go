package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/viper"

	"issuerLedger/internal/governance"
	"issuerLedger/internal/ledger"
	"issuerLedger/internal/model"
)

// Policy is the platform rule set shared by the ledger, issuer and
// governance engine.
type Policy struct {
	MinInvestment       *big.Int
	VotingUnit          *big.Int
	ShareUnit           *big.Int
	SuccessThresholdBps uint16
	PlatformFeeBps      uint64
	ProposalThreshold   uint64
	ProposalFee         *big.Int
	DefaultQuorum       uint64
	MinVotingPeriod     time.Duration
	MaxVotingPeriod     time.Duration
	MaxCampaignDuration time.Duration
}

func setPolicyDefaults(v *viper.Viper) {
	v.SetDefault("min-investment", "100")
	v.SetDefault("voting-unit", "1000")
	v.SetDefault("share-unit", "1000")
	v.SetDefault("success-threshold-percent", "75")
	v.SetDefault("platform-fee-percent", "2.5")
	v.SetDefault("proposal-threshold", uint64(100))
	v.SetDefault("proposal-fee", "10")
	v.SetDefault("default-quorum", uint64(1000))
	v.SetDefault("min-voting-period", 24*time.Hour)
	v.SetDefault("max-voting-period", 30*24*time.Hour)
	v.SetDefault("max-campaign-duration", 180*24*time.Hour)
}

// DefaultPolicy returns the platform defaults.
func DefaultPolicy() Policy {
	v := viper.New()
	setPolicyDefaults(v)
	p, err := loadPolicy(v)
	if err != nil {
		panic(fmt.Sprintf("default policy: %v", err))
	}
	return p
}

func loadPolicy(v *viper.Viper) (Policy, error) {
	var (
		p   Policy
		err error
	)
	amounts := []struct {
		key string
		dst **big.Int
	}{
		{"min-investment", &p.MinInvestment},
		{"voting-unit", &p.VotingUnit},
		{"share-unit", &p.ShareUnit},
		{"proposal-fee", &p.ProposalFee},
	}
	for _, a := range amounts {
		if *a.dst, err = model.ParseAmount(v.GetString(a.key)); err != nil {
			return Policy{}, fmt.Errorf("%s: %w", a.key, err)
		}
	}
	if p.VotingUnit.Sign() == 0 || p.ShareUnit.Sign() == 0 {
		return Policy{}, fmt.Errorf("voting-unit and share-unit must be positive")
	}

	threshold, err := model.PercentToBps(v.GetString("success-threshold-percent"))
	if err != nil {
		return Policy{}, fmt.Errorf("success-threshold-percent: %w", err)
	}
	if threshold == 0 || threshold > model.BpsDenominator {
		return Policy{}, fmt.Errorf("success-threshold-percent must be in (0, 100]")
	}
	p.SuccessThresholdBps = uint16(threshold)

	if p.PlatformFeeBps, err = model.PercentToBps(v.GetString("platform-fee-percent")); err != nil {
		return Policy{}, fmt.Errorf("platform-fee-percent: %w", err)
	}
	if p.PlatformFeeBps >= model.BpsDenominator {
		return Policy{}, fmt.Errorf("platform-fee-percent must be below 100")
	}

	p.ProposalThreshold = v.GetUint64("proposal-threshold")
	p.DefaultQuorum = v.GetUint64("default-quorum")
	if p.DefaultQuorum == 0 {
		return Policy{}, fmt.Errorf("default-quorum must be greater than zero")
	}

	p.MinVotingPeriod = v.GetDuration("min-voting-period")
	p.MaxVotingPeriod = v.GetDuration("max-voting-period")
	if p.MinVotingPeriod <= 0 || p.MaxVotingPeriod < p.MinVotingPeriod {
		return Policy{}, fmt.Errorf("invalid voting period bounds [%s, %s]", p.MinVotingPeriod, p.MaxVotingPeriod)
	}
	p.MaxCampaignDuration = v.GetDuration("max-campaign-duration")
	if p.MaxCampaignDuration <= 0 {
		return Policy{}, fmt.Errorf("max-campaign-duration must be positive")
	}
	return p, nil
}

// Ledger projects the funding rules.
func (p Policy) Ledger() ledger.Policy {
	return ledger.Policy{
		MinInvestment:       model.CopyAmount(p.MinInvestment),
		ShareUnit:           model.CopyAmount(p.ShareUnit),
		DefaultThresholdBps: p.SuccessThresholdBps,
		PlatformFeeBps:      p.PlatformFeeBps,
		MaxDuration:         p.MaxCampaignDuration,
	}
}

// Governance projects the proposal rules.
func (p Policy) Governance() governance.Policy {
	return governance.Policy{
		ProposalThreshold: p.ProposalThreshold,
		ProposalFee:       model.CopyAmount(p.ProposalFee),
		DefaultQuorum:     p.DefaultQuorum,
		MinVotingPeriod:   p.MinVotingPeriod,
		MaxVotingPeriod:   p.MaxVotingPeriod,
	}
}
