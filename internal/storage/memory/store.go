// Package memory is an in-process transactional Store. Each transaction
// works on a private copy of the tables that replaces the committed copy
// only when the transaction succeeds.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"issuerLedger/internal/clock"
	"issuerLedger/internal/model"
	"issuerLedger/internal/storage"
)

type registryRow struct {
	kind       string
	campaignID string
	block      uint64
}

type investmentRow struct {
	key storage.EventKey
	inv model.Investment
}

type tables struct {
	checkpoints  map[model.CheckpointKey]model.Checkpoint
	events       map[storage.EventKey]model.SettlementEvent
	registry     map[common.Address]registryRow
	campaigns    map[string]model.Campaign
	investments  []investmentRow
	certificates map[uint64]model.Certificate
	proposals    map[uint64]model.Proposal
	votes        map[uint64]map[common.Address]model.VoteReceipt
}

func newTables() *tables {
	return &tables{
		checkpoints:  make(map[model.CheckpointKey]model.Checkpoint),
		events:       make(map[storage.EventKey]model.SettlementEvent),
		registry:     make(map[common.Address]registryRow),
		campaigns:    make(map[string]model.Campaign),
		certificates: make(map[uint64]model.Certificate),
		proposals:    make(map[uint64]model.Proposal),
		votes:        make(map[uint64]map[common.Address]model.VoteReceipt),
	}
}

// clone copies every table. Row values are replaced on write, never mutated
// in place, so copying the maps is enough.
func (t *tables) clone() *tables {
	out := newTables()
	for k, v := range t.checkpoints {
		out.checkpoints[k] = v
	}
	for k, v := range t.events {
		out.events[k] = v
	}
	for k, v := range t.registry {
		out.registry[k] = v
	}
	for k, v := range t.campaigns {
		out.campaigns[k] = v
	}
	out.investments = append([]investmentRow(nil), t.investments...)
	for k, v := range t.certificates {
		out.certificates[k] = v
	}
	for k, v := range t.proposals {
		out.proposals[k] = v
	}
	for id, votes := range t.votes {
		copied := make(map[common.Address]model.VoteReceipt, len(votes))
		for voter, r := range votes {
			copied[voter] = r
		}
		out.votes[id] = copied
	}
	return out
}

// Store keeps the committed tables. Transactions are serialized.
type Store struct {
	clock clock.Clock

	mu        sync.Mutex
	committed *tables
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{clock: clk, committed: newTables()}
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.committed.clone()
	if err := fn(&tx{t: work, clock: s.clock}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.committed = work
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, key model.CheckpointKey) (model.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.committed.checkpoints[key]
	return cp, ok, nil
}

func (s *Store) MarkCheckpoint(ctx context.Context, key model.CheckpointKey, status model.CheckpointStatus, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.committed.checkpoints[key]
	if !ok {
		cp = model.Checkpoint{Key: key}
	}
	cp.Status = status
	cp.LastError = lastErr
	cp.UpdatedAt = s.clock.Now()
	s.committed.checkpoints[key] = cp
	return nil
}

func (s *Store) ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Checkpoint, 0, len(s.committed.checkpoints))
	for _, cp := range s.committed.checkpoints {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out, nil
}

func (s *Store) CampaignAddresses(ctx context.Context) ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []common.Address
	for addr, row := range s.committed.registry {
		if row.kind == storage.KindCampaign {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out, nil
}

func (s *Store) Counts(ctx context.Context) (storage.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.committed
	counts := storage.Counts{
		Investments:  uint64(len(t.investments)),
		Certificates: uint64(len(t.certificates)),
		Proposals:    uint64(len(t.proposals)),
		Events:       uint64(len(t.events)),
	}
	for _, c := range t.campaigns {
		if c.Address != (common.Address{}) {
			counts.Campaigns++
		}
	}
	for _, votes := range t.votes {
		counts.Votes += uint64(len(votes))
	}
	return counts, nil
}

func (s *Store) Close() {}

// Campaign returns the committed campaign row.
func (s *Store) Campaign(id string) (model.Campaign, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.committed.campaigns[id]
	return c, ok
}

// Investments returns the committed investment rows of a campaign.
func (s *Store) Investments(campaignID string) []model.Investment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Investment
	for _, row := range s.committed.investments {
		if row.inv.CampaignID == campaignID {
			out = append(out, row.inv)
		}
	}
	return out
}

// Certificate returns the committed certificate row.
func (s *Store) Certificate(tokenID uint64) (model.Certificate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.committed.certificates[tokenID]
	return c, ok
}

// Proposal returns the committed proposal row.
func (s *Store) Proposal(id uint64) (model.Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.committed.proposals[id]
	return p, ok
}

type tx struct {
	t     *tables
	clock clock.Clock
}

func (x *tx) LoadCheckpoint(ctx context.Context, key model.CheckpointKey) (model.Checkpoint, bool, error) {
	cp, ok := x.t.checkpoints[key]
	return cp, ok, nil
}

func (x *tx) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	cp.UpdatedAt = x.clock.Now()
	x.t.checkpoints[cp.Key] = cp
	return nil
}

func (x *tx) MirrorEvent(ctx context.Context, ev *model.SettlementEvent) (bool, error) {
	key := storage.EventKey{TxHash: ev.TxHash, LogIndex: ev.LogIndex}
	if _, ok := x.t.events[key]; ok {
		return false, nil
	}
	x.t.events[key] = *ev
	return true, nil
}

func (x *tx) RegisterContract(ctx context.Context, addr common.Address, kind, campaignID string, block uint64) error {
	if existing, ok := x.t.registry[addr]; ok && existing.block <= block {
		return nil
	}
	x.t.registry[addr] = registryRow{kind: kind, campaignID: campaignID, block: block}
	return nil
}

func (x *tx) CampaignIDByAddress(ctx context.Context, addr common.Address) (string, bool, error) {
	row, ok := x.t.registry[addr]
	if !ok || row.kind != storage.KindCampaign {
		return "", false, nil
	}
	return row.campaignID, true, nil
}

func (x *tx) UpsertCampaign(ctx context.Context, c model.Campaign) error {
	if existing, ok := x.t.campaigns[c.ID]; ok {
		c.RaisedAmount = existing.RaisedAmount
		c.Status = existing.Status
		c.Completed = existing.Completed
		c.FundsReleased = existing.FundsReleased
	}
	if c.RaisedAmount == nil {
		c.RaisedAmount = new(big.Int)
	}
	x.t.campaigns[c.ID] = c
	return nil
}

func (x *tx) campaign(id string) (model.Campaign, error) {
	c, ok := x.t.campaigns[id]
	if !ok {
		return model.Campaign{}, fmt.Errorf("campaign %s: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

func (x *tx) SetCampaignOutcome(ctx context.Context, campaignID string, status model.CampaignStatus) error {
	c, err := x.campaign(campaignID)
	if err != nil {
		return err
	}
	c.Status = status
	c.Completed = true
	x.t.campaigns[campaignID] = c
	return nil
}

func (x *tx) SetFundsReleased(ctx context.Context, campaignID string) error {
	c, err := x.campaign(campaignID)
	if err != nil {
		return err
	}
	c.FundsReleased = true
	x.t.campaigns[campaignID] = c
	return nil
}

func (x *tx) InsertInvestment(ctx context.Context, key storage.EventKey, inv model.Investment) error {
	if _, err := x.campaign(inv.CampaignID); err != nil {
		return err
	}
	for _, row := range x.t.investments {
		if row.key == key {
			return nil
		}
	}
	x.t.investments = append(x.t.investments, investmentRow{key: key, inv: inv})
	return nil
}

func (x *tx) MarkRefunded(ctx context.Context, campaignID string, investor common.Address) error {
	found := false
	for i, row := range x.t.investments {
		if row.inv.CampaignID == campaignID && row.inv.Investor == investor {
			row.inv.Refunded = true
			x.t.investments[i] = row
			found = true
		}
	}
	if !found {
		return fmt.Errorf("investments of %s in %s: %w", investor.Hex(), campaignID, storage.ErrNotFound)
	}
	return nil
}

func (x *tx) RefreshRaised(ctx context.Context, campaignID string) (*big.Int, error) {
	c, err := x.campaign(campaignID)
	if err != nil {
		return nil, err
	}
	raised := new(big.Int)
	for _, row := range x.t.investments {
		if row.inv.CampaignID == campaignID && !row.inv.Refunded {
			raised.Add(raised, row.inv.Amount)
		}
	}
	c.RaisedAmount = raised
	x.t.campaigns[campaignID] = c
	return new(big.Int).Set(raised), nil
}

func (x *tx) UpsertCertificate(ctx context.Context, c model.Certificate) error {
	x.t.certificates[c.TokenID] = c
	return nil
}

func (x *tx) certificate(tokenID uint64) (model.Certificate, error) {
	c, ok := x.t.certificates[tokenID]
	if !ok {
		return model.Certificate{}, fmt.Errorf("certificate %d: %w", tokenID, storage.ErrNotFound)
	}
	return c, nil
}

func (x *tx) SetCertificateActive(ctx context.Context, tokenID uint64, active bool, reason string) error {
	c, err := x.certificate(tokenID)
	if err != nil {
		return err
	}
	c.Active = active
	c.RevokeReason = reason
	x.t.certificates[tokenID] = c
	return nil
}

func (x *tx) SetCertificateOwner(ctx context.Context, tokenID uint64, owner common.Address) error {
	c, err := x.certificate(tokenID)
	if err != nil {
		return err
	}
	c.Owner = owner
	x.t.certificates[tokenID] = c
	return nil
}

func (x *tx) UpsertProposal(ctx context.Context, p model.Proposal) error {
	if existing, ok := x.t.proposals[p.ID]; ok {
		p.ForVotes = existing.ForVotes
		p.AgainstVotes = existing.AgainstVotes
		p.Status = existing.Status
		p.Executed = existing.Executed
	}
	x.t.proposals[p.ID] = p
	return nil
}

func (x *tx) proposal(id uint64) (model.Proposal, error) {
	p, ok := x.t.proposals[id]
	if !ok {
		return model.Proposal{}, fmt.Errorf("proposal %d: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (x *tx) InsertVote(ctx context.Context, proposalID uint64, vote model.VoteReceipt) error {
	if _, err := x.proposal(proposalID); err != nil {
		return err
	}
	votes, ok := x.t.votes[proposalID]
	if !ok {
		votes = make(map[common.Address]model.VoteReceipt)
		x.t.votes[proposalID] = votes
	}
	if _, voted := votes[vote.Voter]; voted {
		return nil
	}
	votes[vote.Voter] = vote
	return nil
}

func (x *tx) RefreshTally(ctx context.Context, proposalID uint64) (uint64, uint64, error) {
	p, err := x.proposal(proposalID)
	if err != nil {
		return 0, 0, err
	}
	var forVotes, againstVotes uint64
	for _, v := range x.t.votes[proposalID] {
		if v.Support {
			forVotes += v.Weight
		} else {
			againstVotes += v.Weight
		}
	}
	p.ForVotes = forVotes
	p.AgainstVotes = againstVotes
	x.t.proposals[proposalID] = p
	return forVotes, againstVotes, nil
}

func (x *tx) SetProposalStatus(ctx context.Context, proposalID uint64, status model.ProposalStatus, executed bool) error {
	p, err := x.proposal(proposalID)
	if err != nil {
		return err
	}
	p.Status = status
	p.Executed = executed
	x.t.proposals[proposalID] = p
	return nil
}
