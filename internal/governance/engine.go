// Package governance runs the proposal state machine: creation gated by
// voting power and fee, one-time weighted votes, and quorum/majority
// execution.
package governance

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"issuerLedger/internal/access"
	"issuerLedger/internal/clock"
	"issuerLedger/internal/model"
)

// Emitter appends settlement events to the append-only log.
type Emitter interface {
	Emit(source common.Address, payload interface{}) error
}

// PowerSource reports the live voting power of an account.
type PowerSource interface {
	VotingPower(owner common.Address) uint64
}

// Treasury collects proposal fees and pays treasury proposals.
type Treasury interface {
	Deposit(from common.Address, amount *big.Int, memo string) error
	Pay(to common.Address, amount *big.Int, memo string) error
}

// Policy holds the proposal rules.
type Policy struct {
	ProposalThreshold uint64
	ProposalFee       *big.Int
	DefaultQuorum     uint64
	MinVotingPeriod   time.Duration
	MaxVotingPeriod   time.Duration
}

// DefaultPolicy is the platform's stock proposal rules.
func DefaultPolicy() Policy {
	return Policy{
		ProposalThreshold: 100,
		ProposalFee:       big.NewInt(10),
		DefaultQuorum:     1000,
		MinVotingPeriod:   24 * time.Hour,
		MaxVotingPeriod:   30 * 24 * time.Hour,
	}
}

// Config wires an Engine to its collaborators.
type Config struct {
	Address  common.Address
	Policy   Policy
	Clock    clock.Clock
	Emitter  Emitter
	Power    PowerSource
	Treasury Treasury
	Logger   *zap.Logger
}

// CreateParams describes a new proposal. Fee is the amount the proposer
// pays; it must cover the policy fee and is credited to the treasury.
type CreateParams struct {
	Type         model.ProposalType
	Title        string
	Description  string
	Target       common.Address
	Amount       *big.Int
	Payload      []byte
	VotingPeriod time.Duration
	Fee          *big.Int
}

type proposal struct {
	mu       sync.Mutex
	state    model.Proposal
	receipts map[common.Address]model.VoteReceipt
	// paid is set once a Treasury payout settled, so a retried Execute
	// does not pay again.
	paid bool
}

func (p *proposal) snapshot() model.Proposal {
	out := p.state
	out.Amount = model.CopyAmount(p.state.Amount)
	out.Payload = append([]byte(nil), p.state.Payload...)
	return out
}

// Engine owns every proposal. Mutations on one proposal are serialized by
// that proposal's mutex.
type Engine struct {
	address  common.Address
	policy   Policy
	clock    clock.Clock
	emitter  Emitter
	power    PowerSource
	treasury Treasury
	logger   *zap.Logger

	mu            sync.RWMutex
	proposals     []*proposal
	defaultQuorum uint64
}

// New validates cfg and returns an engine with no proposals.
func New(cfg Config) (*Engine, error) {
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("governance address is required")
	}
	if cfg.Power == nil || cfg.Treasury == nil {
		return nil, errors.New("power source and treasury are required")
	}
	if cfg.Policy.MinVotingPeriod <= 0 || cfg.Policy.MaxVotingPeriod < cfg.Policy.MinVotingPeriod {
		return nil, fmt.Errorf("invalid voting period bounds [%s, %s]", cfg.Policy.MinVotingPeriod, cfg.Policy.MaxVotingPeriod)
	}
	if cfg.Policy.DefaultQuorum == 0 {
		return nil, ErrInvalidQuorum
	}
	if cfg.Policy.ProposalFee == nil {
		cfg.Policy.ProposalFee = new(big.Int)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Emitter == nil {
		cfg.Emitter = nopEmitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		address:       cfg.Address,
		policy:        cfg.Policy,
		clock:         cfg.Clock,
		emitter:       cfg.Emitter,
		power:         cfg.Power,
		treasury:      cfg.Treasury,
		logger:        cfg.Logger,
		defaultQuorum: cfg.Policy.DefaultQuorum,
	}, nil
}

func (e *Engine) Address() common.Address {
	return e.address
}

// Create opens an Active proposal whose quorum is the default in force now.
func (e *Engine) Create(caller access.Caller, p CreateParams) (model.Proposal, error) {
	if !caller.Valid() {
		return model.Proposal{}, e.reject("create", ErrInvalidAddress)
	}
	if !p.Type.Valid() {
		return model.Proposal{}, e.reject("create", ErrInvalidType)
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return model.Proposal{}, e.reject("create", ErrInvalidTitle)
	}
	if p.VotingPeriod < e.policy.MinVotingPeriod || p.VotingPeriod > e.policy.MaxVotingPeriod {
		return model.Proposal{}, e.reject("create", fmt.Errorf("%w: %s", ErrInvalidPeriod, p.VotingPeriod))
	}
	if p.Amount != nil && p.Amount.Sign() < 0 {
		return model.Proposal{}, e.reject("create", ErrInvalidAmount)
	}
	if p.Type == model.ProposalTreasury && !model.IsPositive(p.Amount) {
		return model.Proposal{}, e.reject("create", ErrInvalidAmount)
	}
	if power := e.power.VotingPower(caller.Address); power < e.policy.ProposalThreshold {
		return model.Proposal{}, e.reject("create", fmt.Errorf("%w: %d < %d", ErrInsufficientPower, power, e.policy.ProposalThreshold))
	}
	fee := model.CopyAmount(p.Fee)
	if fee.Cmp(e.policy.ProposalFee) < 0 {
		return model.Proposal{}, e.reject("create", fmt.Errorf("%w: %s < %s", ErrInsufficientFee, fee, e.policy.ProposalFee))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := uint64(len(e.proposals)) + 1
	if fee.Sign() > 0 {
		if err := e.treasury.Deposit(caller.Address, fee, fmt.Sprintf("proposal fee %d", id)); err != nil {
			return model.Proposal{}, fmt.Errorf("deposit proposal fee: %w", err)
		}
	}

	now := e.clock.Now()
	state := model.Proposal{
		ID:          id,
		Proposer:    caller.Address,
		Type:        p.Type,
		Title:       title,
		Description: p.Description,
		Target:      p.Target,
		Amount:      model.CopyAmount(p.Amount),
		Payload:     append([]byte(nil), p.Payload...),
		StartTime:   now,
		EndTime:     now.Add(p.VotingPeriod),
		Quorum:      e.defaultQuorum,
		Status:      model.ProposalActive,
	}
	err := e.emitter.Emit(e.address, model.ProposalCreatedData{
		ProposalID:   id,
		Proposer:     state.Proposer.Hex(),
		ProposalType: uint8(state.Type),
		Title:        state.Title,
		Target:       state.Target.Hex(),
		Amount:       state.Amount.String(),
		StartTime:    uint64(state.StartTime.Unix()),
		EndTime:      uint64(state.EndTime.Unix()),
		Quorum:       state.Quorum,
	})
	if err != nil {
		err = fmt.Errorf("emit proposal created: %w", err)
		if fee.Sign() > 0 {
			if refundErr := e.treasury.Pay(caller.Address, fee, fmt.Sprintf("proposal fee refund %d", id)); refundErr != nil {
				e.logger.Error("proposal fee refund failed", zap.Uint64("proposal_id", id), zap.Error(refundErr))
				err = errors.Join(err, fmt.Errorf("refund proposal fee: %w", refundErr))
			}
		}
		return model.Proposal{}, err
	}

	prop := &proposal{state: state, receipts: make(map[common.Address]model.VoteReceipt)}
	e.proposals = append(e.proposals, prop)

	e.logger.Info("proposal created",
		zap.Uint64("proposal_id", id),
		zap.Stringer("proposer", caller.Address),
		zap.Stringer("type", state.Type),
		zap.Uint64("quorum", state.Quorum),
		zap.Time("end_time", state.EndTime),
	)
	return prop.snapshot(), nil
}

// Vote records the caller's one-time choice weighted by their current power.
func (e *Engine) Vote(caller access.Caller, proposalID uint64, support bool) (model.VoteReceipt, error) {
	p, err := e.lookup(proposalID)
	if err != nil {
		return model.VoteReceipt{}, e.reject("vote", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := e.clock.Now()
	if p.state.Status != model.ProposalActive {
		return model.VoteReceipt{}, e.reject("vote", ErrProposalNotActive)
	}
	if now.After(p.state.EndTime) {
		return model.VoteReceipt{}, e.reject("vote", ErrVotingClosed)
	}
	if _, voted := p.receipts[caller.Address]; voted {
		return model.VoteReceipt{}, e.reject("vote", ErrAlreadyVoted)
	}
	weight := e.power.VotingPower(caller.Address)
	if weight == 0 {
		return model.VoteReceipt{}, e.reject("vote", ErrNoVotingPower)
	}

	err = e.emitter.Emit(e.address, model.VoteCastData{
		ProposalID: proposalID,
		Voter:      caller.Address.Hex(),
		Support:    support,
		Weight:     weight,
	})
	if err != nil {
		return model.VoteReceipt{}, fmt.Errorf("emit vote: %w", err)
	}

	receipt := model.VoteReceipt{Voter: caller.Address, Support: support, Weight: weight, CastAt: now}
	p.receipts[caller.Address] = receipt
	if support {
		p.state.ForVotes += weight
	} else {
		p.state.AgainstVotes += weight
	}

	e.logger.Info("vote cast",
		zap.Uint64("proposal_id", proposalID),
		zap.Stringer("voter", caller.Address),
		zap.Bool("support", support),
		zap.Uint64("weight", weight),
	)
	return receipt, nil
}

// Execute finalizes a proposal after its window. A passing proposal becomes
// Executed; a failing one becomes Failed and the returned error says whether
// quorum or majority was missing.
func (e *Engine) Execute(caller access.Caller, proposalID uint64) (model.Proposal, error) {
	if !caller.Valid() {
		return model.Proposal{}, e.reject("execute", ErrInvalidAddress)
	}
	p, err := e.lookup(proposalID)
	if err != nil {
		return model.Proposal{}, e.reject("execute", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Executed {
		return model.Proposal{}, e.reject("execute", ErrAlreadyExecuted)
	}
	if p.state.Status != model.ProposalActive {
		return model.Proposal{}, e.reject("execute", ErrProposalNotActive)
	}
	if !e.clock.Now().After(p.state.EndTime) {
		return model.Proposal{}, e.reject("execute", ErrVotingOpen)
	}

	var rejection error
	switch {
	case p.state.ForVotes+p.state.AgainstVotes < p.state.Quorum:
		rejection = ErrQuorumNotReached
	case p.state.ForVotes <= p.state.AgainstVotes:
		rejection = ErrMajorityNotReached
	}

	if rejection == nil && p.state.Type == model.ProposalTreasury && !p.paid {
		payee := p.state.Target
		if payee == (common.Address{}) {
			payee = p.state.Proposer
		}
		memo := fmt.Sprintf("proposal %d", p.state.ID)
		if err := e.treasury.Pay(payee, p.state.Amount, memo); err != nil {
			return model.Proposal{}, fmt.Errorf("pay treasury proposal: %w", err)
		}
		p.paid = true
	}

	err = e.emitter.Emit(e.address, model.ProposalExecutedData{
		ProposalID:   p.state.ID,
		Passed:       rejection == nil,
		ForVotes:     p.state.ForVotes,
		AgainstVotes: p.state.AgainstVotes,
	})
	if err != nil {
		return model.Proposal{}, fmt.Errorf("emit proposal executed: %w", err)
	}

	fields := []zap.Field{
		zap.Uint64("proposal_id", p.state.ID),
		zap.Uint64("for", p.state.ForVotes),
		zap.Uint64("against", p.state.AgainstVotes),
		zap.Uint64("quorum", p.state.Quorum),
	}
	if rejection != nil {
		p.state.Status = model.ProposalFailed
		e.logger.Info("proposal failed", append(fields, zap.Error(rejection))...)
		return p.snapshot(), rejection
	}
	p.state.Status = model.ProposalExecuted
	p.state.Executed = true
	e.logger.Info("proposal executed", fields...)
	return p.snapshot(), nil
}

// Cancel withdraws an Active proposal.
func (e *Engine) Cancel(caller access.Caller, proposalID uint64) error {
	if !caller.Has(access.RoleAdmin) {
		return e.reject("cancel", ErrNotAuthorized)
	}
	p, err := e.lookup(proposalID)
	if err != nil {
		return e.reject("cancel", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Status != model.ProposalActive {
		return e.reject("cancel", ErrProposalNotActive)
	}
	if err := e.emitter.Emit(e.address, model.ProposalCancelledData{ProposalID: proposalID}); err != nil {
		return fmt.Errorf("emit proposal cancelled: %w", err)
	}
	p.state.Status = model.ProposalCancelled
	e.logger.Info("proposal cancelled", zap.Uint64("proposal_id", proposalID), zap.Stringer("by", caller.Address))
	return nil
}

// SetDefaultQuorum changes the quorum snapshotted by future proposals.
func (e *Engine) SetDefaultQuorum(caller access.Caller, quorum uint64) error {
	if !caller.Has(access.RoleAdmin) {
		return e.reject("set quorum", ErrNotAuthorized)
	}
	if quorum == 0 {
		return e.reject("set quorum", ErrInvalidQuorum)
	}
	e.mu.Lock()
	e.defaultQuorum = quorum
	e.mu.Unlock()
	e.logger.Info("default quorum changed", zap.Uint64("quorum", quorum))
	return nil
}

// DefaultQuorum is the quorum new proposals snapshot at creation.
func (e *Engine) DefaultQuorum() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaultQuorum
}

// Proposal returns a snapshot of one proposal.
func (e *Engine) Proposal(proposalID uint64) (model.Proposal, error) {
	p, err := e.lookup(proposalID)
	if err != nil {
		return model.Proposal{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot(), nil
}

func (e *Engine) HasVoted(proposalID uint64, voter common.Address) (bool, error) {
	_, ok, err := e.Receipt(proposalID, voter)
	return ok, err
}

// Receipt returns the voter's recorded choice, if any.
func (e *Engine) Receipt(proposalID uint64, voter common.Address) (model.VoteReceipt, bool, error) {
	p, err := e.lookup(proposalID)
	if err != nil {
		return model.VoteReceipt{}, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.receipts[voter]
	return r, ok, nil
}

// ProposalCount is the number of proposals created so far.
func (e *Engine) ProposalCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint64(len(e.proposals))
}

func (e *Engine) lookup(proposalID uint64) (*proposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if proposalID == 0 || proposalID > uint64(len(e.proposals)) {
		return nil, fmt.Errorf("%w: %d", ErrProposalNotFound, proposalID)
	}
	return e.proposals[proposalID-1], nil
}

func (e *Engine) reject(op string, err error) error {
	e.logger.Debug("governance call rejected", zap.String("op", op), zap.Error(err))
	return err
}

type nopEmitter struct{}

func (nopEmitter) Emit(common.Address, interface{}) error { return nil }
