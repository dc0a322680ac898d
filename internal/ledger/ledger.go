// Package ledger implements the settlement ledger: campaign funding
// aggregates, completion, refunds and fund release.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"issuerLedger/internal/access"
	"issuerLedger/internal/certificate"
	"issuerLedger/internal/clock"
	"issuerLedger/internal/model"
)

// Emitter appends settlement events to the append-only log.
type Emitter interface {
	Emit(source common.Address, payload interface{}) error
}

// Minter issues certificates for successful campaigns.
type Minter interface {
	Issue(caller access.Caller, params certificate.IssueParams) (uint64, error)
}

// Payer moves funds out of a campaign to an external account.
type Payer interface {
	Pay(to common.Address, amount *big.Int, memo string) error
}

// FeeSink receives platform fees.
type FeeSink interface {
	Deposit(from common.Address, amount *big.Int, memo string) error
}

// Config wires a Ledger to its collaborators.
type Config struct {
	Factory  common.Address
	Policy   Policy
	Clock    clock.Clock
	Emitter  Emitter
	Minter   Minter
	Issuer   access.Caller
	Payer    Payer
	Treasury FeeSink
	Logger   *zap.Logger
}

// CreateParams describes a new campaign. A zero Creator means the caller.
type CreateParams struct {
	ID           string
	Name         string
	Description  string
	Creator      common.Address
	Goal         *big.Int
	Duration     time.Duration
	DocRef       string
	ThresholdBps uint16
}

// Ledger owns every campaign aggregate. Mutations on one campaign are
// serialized by that campaign's mutex; native and external payments on the
// same campaign are each atomic but carry no relative ordering guarantee.
type Ledger struct {
	factory  common.Address
	policy   Policy
	clock    clock.Clock
	emitter  Emitter
	minter   Minter
	issuer   access.Caller
	payer    Payer
	treasury FeeSink
	logger   *zap.Logger

	mu        sync.RWMutex
	nonce     uint64
	byID      map[string]*campaign
	byAddress map[common.Address]*campaign
	order     []*campaign
}

// New validates cfg and returns an empty ledger. Unset optional
// collaborators get no-op defaults.
func New(cfg Config) (*Ledger, error) {
	if cfg.Factory == (common.Address{}) {
		return nil, errors.New("factory address is required")
	}
	if cfg.Minter == nil || cfg.Payer == nil || cfg.Treasury == nil {
		return nil, errors.New("minter, payer and treasury are required")
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
	return &Ledger{
		factory:   cfg.Factory,
		policy:    cfg.Policy.normalized(),
		clock:     cfg.Clock,
		emitter:   cfg.Emitter,
		minter:    cfg.Minter,
		issuer:    cfg.Issuer,
		payer:     cfg.Payer,
		treasury:  cfg.Treasury,
		logger:    cfg.Logger,
		byID:      make(map[string]*campaign),
		byAddress: make(map[common.Address]*campaign),
	}, nil
}

// Policy returns the effective funding policy.
func (l *Ledger) Policy() Policy {
	return l.policy
}

// Create opens a new Active campaign and returns its snapshot.
func (l *Ledger) Create(caller access.Caller, p CreateParams) (model.Campaign, error) {
	if !caller.Valid() {
		return model.Campaign{}, l.reject("create", ErrInvalidAddress)
	}
	creator := p.Creator
	if creator == (common.Address{}) {
		creator = caller.Address
	}
	if creator != caller.Address && !caller.Has(access.RoleAdmin) {
		return model.Campaign{}, l.reject("create", ErrNotAuthorized)
	}
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return model.Campaign{}, l.reject("create", ErrInvalidID)
	}
	if !model.IsPositive(p.Goal) {
		return model.Campaign{}, l.reject("create", ErrInvalidGoal)
	}
	if p.Duration <= 0 || (l.policy.MaxDuration > 0 && p.Duration > l.policy.MaxDuration) {
		return model.Campaign{}, l.reject("create", fmt.Errorf("%w: %s", ErrInvalidDuration, p.Duration))
	}
	threshold := p.ThresholdBps
	if threshold == 0 {
		threshold = l.policy.DefaultThresholdBps
	}
	if threshold > model.BpsDenominator {
		return model.Campaign{}, l.reject("create", ErrInvalidThreshold)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[id]; exists {
		return model.Campaign{}, l.reject("create", fmt.Errorf("%w: %s", ErrCampaignExists, id))
	}

	now := l.clock.Now()
	state := model.Campaign{
		ID:           id,
		Address:      crypto.CreateAddress(l.factory, l.nonce),
		Name:         p.Name,
		Description:  p.Description,
		Creator:      creator,
		FundingGoal:  model.CopyAmount(p.Goal),
		RaisedAmount: new(big.Int),
		Deadline:     now.Add(p.Duration),
		ThresholdBps: threshold,
		DocRef:       p.DocRef,
		Status:       model.CampaignActive,
		CreatedAt:    now,
	}
	err := l.emitter.Emit(l.factory, model.CampaignCreatedData{
		CampaignID:   state.ID,
		Campaign:     state.Address.Hex(),
		Creator:      state.Creator.Hex(),
		Name:         state.Name,
		FundingGoal:  state.FundingGoal.String(),
		Deadline:     uint64(state.Deadline.Unix()),
		ThresholdBps: state.ThresholdBps,
		DocRef:       state.DocRef,
		Description:  state.Description,
	})
	if err != nil {
		return model.Campaign{}, fmt.Errorf("emit campaign created: %w", err)
	}

	c := newCampaign(state)
	l.nonce++
	l.byID[id] = c
	l.byAddress[state.Address] = c
	l.order = append(l.order, c)

	l.logger.Info("campaign created",
		zap.String("campaign_id", id),
		zap.Stringer("campaign", state.Address),
		zap.Stringer("creator", creator),
		zap.Stringer("goal", state.FundingGoal),
		zap.Time("deadline", state.Deadline),
	)
	return c.snapshot(), nil
}

// InvestNative records a contribution settled on the ledger by the caller.
func (l *Ledger) InvestNative(caller access.Caller, campaignID string, amount *big.Int) (model.Investment, error) {
	return l.invest(campaignID, caller.Address, amount, model.PaymentNative, "")
}

// RecordExternalPayment records a contribution settled on another rail.
// The reference must be unique within the campaign.
func (l *Ledger) RecordExternalPayment(caller access.Caller, campaignID string, investor common.Address, amount *big.Int, method, externalRef string) (model.Investment, error) {
	if !caller.Has(access.RolePaymentRecorder) {
		return model.Investment{}, l.reject("record payment", ErrNotAuthorized)
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" || method == model.PaymentNative {
		return model.Investment{}, l.reject("record payment", ErrInvalidMethod)
	}
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return model.Investment{}, l.reject("record payment", ErrInvalidReference)
	}
	return l.invest(campaignID, investor, amount, method, externalRef)
}

func (l *Ledger) invest(campaignID string, investor common.Address, amount *big.Int, method, ref string) (model.Investment, error) {
	if investor == (common.Address{}) {
		return model.Investment{}, l.reject("invest", ErrInvalidAddress)
	}
	if !model.IsPositive(amount) {
		return model.Investment{}, l.reject("invest", ErrInvalidAmount)
	}
	if amount.Cmp(l.policy.MinInvestment) < 0 {
		return model.Investment{}, l.reject("invest", fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, l.policy.MinInvestment))
	}
	c, err := l.lookup(campaignID)
	if err != nil {
		return model.Investment{}, l.reject("invest", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := l.clock.Now()
	if c.state.Status != model.CampaignActive || c.state.Completed {
		return model.Investment{}, l.reject("invest", ErrCampaignNotActive)
	}
	if !now.Before(c.state.Deadline) {
		return model.Investment{}, l.reject("invest", ErrDeadlinePassed)
	}
	if investor == c.state.Creator {
		return model.Investment{}, l.reject("invest", ErrCreatorInvestment)
	}
	if ref != "" {
		if _, dup := c.refs[ref]; dup {
			return model.Investment{}, l.reject("invest", fmt.Errorf("%w: %s", ErrDuplicateReference, ref))
		}
	}

	inv := model.Investment{
		CampaignID:    c.state.ID,
		Investor:      investor,
		Amount:        model.CopyAmount(amount),
		PaymentMethod: method,
		ExternalRef:   ref,
		RecordedAt:    now,
	}
	total := new(big.Int).Add(c.state.RaisedAmount, amount)
	err = l.emitter.Emit(c.state.Address, model.InvestmentMadeData{
		Investor:      investor.Hex(),
		Amount:        amount.String(),
		PaymentMethod: method,
		ExternalRef:   ref,
		TotalRaised:   total.String(),
	})
	if err != nil {
		return model.Investment{}, fmt.Errorf("emit investment: %w", err)
	}
	c.record(inv)

	l.logger.Info("investment recorded",
		zap.String("campaign_id", c.state.ID),
		zap.Stringer("investor", investor),
		zap.Stringer("amount", amount),
		zap.String("method", method),
		zap.Stringer("raised", c.state.RaisedAmount),
	)
	return copyInvestment(inv), nil
}

// Complete decides a campaign's outcome. The creator or an admin may call it
// once the deadline has passed; an admin may also trigger it early. On
// success a certificate is issued to every investor with a live stake.
func (l *Ledger) Complete(caller access.Caller, campaignID string) (model.Campaign, error) {
	c, err := l.lookup(campaignID)
	if err != nil {
		return model.Campaign{}, l.reject("complete", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	isAdmin := caller.Has(access.RoleAdmin)
	if caller.Address != c.state.Creator && !isAdmin {
		return model.Campaign{}, l.reject("complete", ErrNotAuthorized)
	}
	if c.state.Completed {
		return model.Campaign{}, l.reject("complete", ErrAlreadyCompleted)
	}
	if c.state.Status != model.CampaignActive {
		return model.Campaign{}, l.reject("complete", ErrCampaignNotActive)
	}
	if l.clock.Now().Before(c.state.Deadline) && !isAdmin {
		return model.Campaign{}, l.reject("complete", ErrDeadlineNotReached)
	}

	threshold := model.CeilBps(c.state.FundingGoal, uint64(c.state.ThresholdBps))
	successful := c.state.RaisedAmount.Cmp(threshold) >= 0
	err = l.emitter.Emit(c.state.Address, model.CampaignCompletedData{
		Successful: successful,
		Raised:     c.state.RaisedAmount.String(),
		Threshold:  threshold.String(),
	})
	if err != nil {
		return model.Campaign{}, fmt.Errorf("emit campaign completed: %w", err)
	}

	c.state.Completed = true
	c.state.Status = model.CampaignFailed
	if successful {
		c.state.Status = model.CampaignSuccessful
	}
	l.logger.Info("campaign completed",
		zap.String("campaign_id", c.state.ID),
		zap.String("status", string(c.state.Status)),
		zap.Stringer("raised", c.state.RaisedAmount),
		zap.Stringer("threshold", threshold),
	)

	if successful {
		if err := l.issueCertificates(c); err != nil {
			return c.snapshot(), err
		}
	}
	return c.snapshot(), nil
}

// IssueCertificates retries issuance for investors of a successful campaign
// that do not hold a certificate yet.
func (l *Ledger) IssueCertificates(caller access.Caller, campaignID string) error {
	if !caller.Has(access.RoleAdmin) {
		return l.reject("issue certificates", ErrNotAuthorized)
	}
	c, err := l.lookup(campaignID)
	if err != nil {
		return l.reject("issue certificates", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != model.CampaignSuccessful {
		return l.reject("issue certificates", ErrNotSuccessful)
	}
	return l.issueCertificates(c)
}

func (l *Ledger) issueCertificates(c *campaign) error {
	var errs []error
	for _, investor := range c.investors {
		stake := c.stakes[investor]
		if c.certified[investor] || !model.IsPositive(stake) {
			continue
		}
		shares := new(big.Int).Quo(stake, l.policy.ShareUnit)
		if shares.Sign() == 0 {
			shares.SetInt64(1)
		}
		tokenID, err := l.minter.Issue(l.issuer, certificate.IssueParams{
			Owner:            investor,
			CampaignID:       c.state.ID,
			IssuerName:       c.state.Name,
			EquityBps:        uint16(model.RatioBps(stake, c.state.RaisedAmount)),
			InvestmentAmount: model.CopyAmount(stake),
			ShareCount:       shares,
			MetadataRef:      c.state.DocRef,
		})
		if errors.Is(err, certificate.ErrAlreadyMinted) {
			c.certified[investor] = true
			continue
		}
		if err != nil {
			l.logger.Error("certificate issuance failed",
				zap.String("campaign_id", c.state.ID),
				zap.Stringer("investor", investor),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("issue certificate for %s: %w", investor.Hex(), err))
			continue
		}
		c.certified[investor] = true
		l.logger.Info("certificate issued",
			zap.String("campaign_id", c.state.ID),
			zap.Stringer("investor", investor),
			zap.Uint64("token_id", tokenID),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrCertificateIssue, errors.Join(errs...))
	}
	return nil
}

// RequestRefund pays the caller back their full live stake in a failed
// campaign. A second request finds nothing to refund.
func (l *Ledger) RequestRefund(caller access.Caller, campaignID string) (*big.Int, error) {
	if !caller.Valid() {
		return nil, l.reject("refund", ErrInvalidAddress)
	}
	c, err := l.lookup(campaignID)
	if err != nil {
		return nil, l.reject("refund", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != model.CampaignFailed {
		return nil, l.reject("refund", ErrNotFailed)
	}
	investor := caller.Address
	amount := c.stake(investor)
	if amount.Sign() == 0 {
		return nil, l.reject("refund", ErrNothingToRefund)
	}

	if err := l.payer.Pay(investor, amount, "refund "+c.state.ID); err != nil {
		return nil, fmt.Errorf("pay refund: %w", err)
	}
	c.refund(investor)

	l.logger.Info("refund issued",
		zap.String("campaign_id", c.state.ID),
		zap.Stringer("investor", investor),
		zap.Stringer("amount", amount),
	)
	err = l.emitter.Emit(c.state.Address, model.RefundIssuedData{
		Investor: investor.Hex(),
		Amount:   amount.String(),
	})
	if err != nil {
		return amount, fmt.Errorf("emit refund: %w", err)
	}
	return amount, nil
}

// ReleaseFunds pays the raised balance minus the platform fee to the creator
// and the fee to the treasury. It succeeds at most once. After a failed leg a
// retry skips the legs that already settled.
func (l *Ledger) ReleaseFunds(caller access.Caller, campaignID string) (net *big.Int, fee *big.Int, err error) {
	c, err := l.lookup(campaignID)
	if err != nil {
		return nil, nil, l.reject("release", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if caller.Address != c.state.Creator && !caller.Has(access.RoleAdmin) {
		return nil, nil, l.reject("release", ErrNotAuthorized)
	}
	if c.state.Status != model.CampaignSuccessful {
		return nil, nil, l.reject("release", ErrNotSuccessful)
	}
	if c.state.FundsReleased {
		return nil, nil, l.reject("release", ErrFundsReleased)
	}

	fee = model.ApplyBps(c.state.RaisedAmount, l.policy.PlatformFeeBps)
	net = new(big.Int).Sub(c.state.RaisedAmount, fee)
	if !c.netPaid && net.Sign() > 0 {
		if err := l.payer.Pay(c.state.Creator, net, "release "+c.state.ID); err != nil {
			return nil, nil, fmt.Errorf("pay creator: %w", err)
		}
	}
	c.netPaid = true
	if !c.feeDeposited && fee.Sign() > 0 {
		if err := l.treasury.Deposit(c.state.Address, fee, "platform fee "+c.state.ID); err != nil {
			l.logger.Error("platform fee deposit failed", zap.String("campaign_id", c.state.ID), zap.Error(err))
			return nil, nil, fmt.Errorf("deposit platform fee: %w", err)
		}
	}
	c.feeDeposited = true

	err = l.emitter.Emit(c.state.Address, model.FundsReleasedData{
		Amount:      net.String(),
		PlatformFee: fee.String(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("emit funds released: %w", err)
	}
	c.state.FundsReleased = true

	l.logger.Info("funds released",
		zap.String("campaign_id", c.state.ID),
		zap.Stringer("creator", c.state.Creator),
		zap.Stringer("amount", net),
		zap.Stringer("fee", fee),
	)
	return net, fee, nil
}

// Details returns a snapshot of the campaign.
func (l *Ledger) Details(campaignID string) (model.Campaign, error) {
	c, err := l.lookup(campaignID)
	if err != nil {
		return model.Campaign{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(), nil
}

// CampaignByAddress returns the campaign deployed at addr.
func (l *Ledger) CampaignByAddress(addr common.Address) (model.Campaign, error) {
	l.mu.RLock()
	c, ok := l.byAddress[addr]
	l.mu.RUnlock()
	if !ok {
		return model.Campaign{}, fmt.Errorf("%w: %s", ErrCampaignNotFound, addr.Hex())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(), nil
}

// Investors lists every investor in order of first investment.
func (l *Ledger) Investors(campaignID string) ([]common.Address, error) {
	c, err := l.lookup(campaignID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]common.Address(nil), c.investors...), nil
}

// InvestmentAmount returns the investor's non-refunded stake.
func (l *Ledger) InvestmentAmount(campaignID string, investor common.Address) (*big.Int, error) {
	c, err := l.lookup(campaignID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stake(investor), nil
}

// Investments returns every recorded investment, refunded ones included.
func (l *Ledger) Investments(campaignID string) ([]model.Investment, error) {
	c, err := l.lookup(campaignID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Investment, len(c.investments))
	for i, inv := range c.investments {
		out[i] = copyInvestment(inv)
	}
	return out, nil
}

// IsSuccessful reports whether the campaign completed above its threshold.
func (l *Ledger) IsSuccessful(campaignID string) (bool, error) {
	c, err := l.Details(campaignID)
	if err != nil {
		return false, err
	}
	return c.Status == model.CampaignSuccessful, nil
}

// ProgressBps returns raised*10000/goal.
func (l *Ledger) ProgressBps(campaignID string) (uint64, error) {
	c, err := l.Details(campaignID)
	if err != nil {
		return 0, err
	}
	return model.RatioBps(c.RaisedAmount, c.FundingGoal), nil
}

// Audit verifies that the raised amount equals the sum of non-refunded
// investments and of the investor stakes.
func (l *Ledger) Audit(campaignID string) error {
	c, err := l.lookup(campaignID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if sum := c.activeSum(); sum.Cmp(c.state.RaisedAmount) != 0 {
		return fmt.Errorf("audit %s: raised %s != investments %s", c.state.ID, c.state.RaisedAmount, sum)
	}
	stakes := new(big.Int)
	for _, s := range c.stakes {
		stakes.Add(stakes, s)
	}
	if stakes.Cmp(c.state.RaisedAmount) != 0 {
		return fmt.Errorf("audit %s: raised %s != stakes %s", c.state.ID, c.state.RaisedAmount, stakes)
	}
	return nil
}

// Campaigns returns snapshots in creation order.
func (l *Ledger) Campaigns() []model.Campaign {
	l.mu.RLock()
	order := append([]*campaign(nil), l.order...)
	l.mu.RUnlock()

	out := make([]model.Campaign, 0, len(order))
	for _, c := range order {
		c.mu.Lock()
		out = append(out, c.snapshot())
		c.mu.Unlock()
	}
	return out
}

// Count returns the number of campaigns created.
func (l *Ledger) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.order))
}

// Addresses returns every campaign address, sorted.
func (l *Ledger) Addresses() []common.Address {
	l.mu.RLock()
	out := make([]common.Address, 0, len(l.byAddress))
	for addr := range l.byAddress {
		out = append(out, addr)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Hex(), out[j].Hex()) < 0
	})
	return out
}

func (l *Ledger) lookup(campaignID string) (*campaign, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.byID[campaignID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
	}
	return c, nil
}

func (l *Ledger) reject(op string, err error) error {
	l.logger.Debug("ledger call rejected", zap.String("op", op), zap.Error(err))
	return err
}

func copyInvestment(inv model.Investment) model.Investment {
	inv.Amount = model.CopyAmount(inv.Amount)
	return inv
}

type nopEmitter struct{}

func (nopEmitter) Emit(common.Address, interface{}) error { return nil }
