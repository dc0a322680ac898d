package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"issuerLedger/internal/model"
)

// campaign is the serialized owner of one campaign's funding state. Every
// mutation holds mu for its whole duration.
type campaign struct {
	mu sync.Mutex

	state       model.Campaign
	investments []model.Investment
	investors   []common.Address
	stakes      map[common.Address]*big.Int
	refs        map[string]struct{}
	certified   map[common.Address]bool

	// Release legs already settled, so a retried release resumes after the
	// last one that succeeded.
	netPaid      bool
	feeDeposited bool
}

func newCampaign(state model.Campaign) *campaign {
	return &campaign{
		state:     state,
		stakes:    make(map[common.Address]*big.Int),
		refs:      make(map[string]struct{}),
		certified: make(map[common.Address]bool),
	}
}

func (c *campaign) snapshot() model.Campaign {
	out := c.state
	out.FundingGoal = model.CopyAmount(c.state.FundingGoal)
	out.RaisedAmount = model.CopyAmount(c.state.RaisedAmount)
	return out
}

func (c *campaign) stake(investor common.Address) *big.Int {
	return model.CopyAmount(c.stakes[investor])
}

func (c *campaign) record(inv model.Investment) {
	if _, seen := c.stakes[inv.Investor]; !seen {
		c.investors = append(c.investors, inv.Investor)
		c.stakes[inv.Investor] = new(big.Int)
	}
	c.stakes[inv.Investor].Add(c.stakes[inv.Investor], inv.Amount)
	if inv.ExternalRef != "" {
		c.refs[inv.ExternalRef] = struct{}{}
	}
	c.investments = append(c.investments, inv)
	c.state.RaisedAmount = new(big.Int).Add(c.state.RaisedAmount, inv.Amount)
}

func (c *campaign) refund(investor common.Address) *big.Int {
	amount := c.stake(investor)
	for i := range c.investments {
		if c.investments[i].Investor == investor {
			c.investments[i].Refunded = true
		}
	}
	c.stakes[investor] = new(big.Int)
	c.state.RaisedAmount = new(big.Int).Sub(c.state.RaisedAmount, amount)
	return amount
}

func (c *campaign) activeSum() *big.Int {
	sum := new(big.Int)
	for _, inv := range c.investments {
		if !inv.Refunded {
			sum.Add(sum, inv.Amount)
		}
	}
	return sum
}
