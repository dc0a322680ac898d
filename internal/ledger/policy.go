package ledger

import (
	"math/big"
	"time"
)

const defaultThresholdBps = 7500

// Policy holds the platform-wide funding rules.
type Policy struct {
	MinInvestment       *big.Int
	ShareUnit           *big.Int
	DefaultThresholdBps uint16
	PlatformFeeBps      uint64
	MaxDuration         time.Duration
}

// DefaultPolicy mirrors the platform defaults: 100 minimum investment, one
// share per 1000 invested, 75% success threshold, 2.5% platform fee.
func DefaultPolicy() Policy {
	return Policy{
		MinInvestment:       big.NewInt(100),
		ShareUnit:           big.NewInt(1000),
		DefaultThresholdBps: defaultThresholdBps,
		PlatformFeeBps:      250,
		MaxDuration:         180 * 24 * time.Hour,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MinInvestment == nil {
		p.MinInvestment = d.MinInvestment
	}
	if p.ShareUnit == nil || p.ShareUnit.Sign() <= 0 {
		p.ShareUnit = d.ShareUnit
	}
	if p.DefaultThresholdBps == 0 {
		p.DefaultThresholdBps = d.DefaultThresholdBps
	}
	return p
}
