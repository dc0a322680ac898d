package ledger

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"issuerLedger/internal/access"
	"issuerLedger/internal/model"
)

// Stats summarises every campaign created through the factory.
type Stats struct {
	Total       uint64
	Active      uint64
	Completed   uint64
	TotalRaised *big.Int
}

// Factory is the address-oriented facade over the ledger: it deploys
// campaigns and resolves them by id or instance address.
type Factory struct {
	ledger *Ledger
}

func NewFactory(l *Ledger) *Factory {
	return &Factory{ledger: l}
}

// Address is the factory's own settlement address.
func (f *Factory) Address() common.Address {
	return f.ledger.factory
}

// CreateCampaign opens a campaign owned by the caller and returns its
// instance address. An empty id is replaced by a random UUID.
func (f *Factory) CreateCampaign(caller access.Caller, id, name, description string, goal *big.Int, duration time.Duration, docRef string) (common.Address, error) {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	c, err := f.ledger.Create(caller, CreateParams{
		ID:          id,
		Name:        name,
		Description: description,
		Goal:        goal,
		Duration:    duration,
		DocRef:      docRef,
	})
	if err != nil {
		return common.Address{}, err
	}
	return c.Address, nil
}

// CompleteCampaign completes the campaign deployed at addr.
func (f *Factory) CompleteCampaign(caller access.Caller, addr common.Address) (model.Campaign, error) {
	c, err := f.ledger.CampaignByAddress(addr)
	if err != nil {
		return model.Campaign{}, err
	}
	return f.ledger.Complete(caller, c.ID)
}

// GetCampaignByID returns a snapshot of the campaign with the given id.
func (f *Factory) GetCampaignByID(id string) (model.Campaign, error) {
	return f.ledger.Details(id)
}

// GetCampaign returns a snapshot of the campaign deployed at addr.
func (f *Factory) GetCampaign(addr common.Address) (model.Campaign, error) {
	return f.ledger.CampaignByAddress(addr)
}

// CampaignCount is the factory's campaign counter.
func (f *Factory) CampaignCount() uint64 {
	return f.ledger.Count()
}

// Stats totals every campaign the factory created.
func (f *Factory) Stats() Stats {
	stats := Stats{TotalRaised: new(big.Int)}
	for _, c := range f.ledger.Campaigns() {
		stats.Total++
		if c.Completed {
			stats.Completed++
		} else if c.Status == model.CampaignActive {
			stats.Active++
		}
		stats.TotalRaised.Add(stats.TotalRaised, c.RaisedAmount)
	}
	return stats
}
