// Package certificate issues ownership certificates for successful campaigns
// and derives governance voting power from them.
package certificate

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

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

// Config wires an Issuer. VotingUnit is the investment amount worth one vote.
type Config struct {
	Address    common.Address
	VotingUnit *big.Int
	Clock      clock.Clock
	Emitter    Emitter
	Logger     *zap.Logger
}

// IssueParams describes one certificate to mint.
type IssueParams struct {
	Owner            common.Address
	CampaignID       string
	IssuerName       string
	EquityBps        uint16
	InvestmentAmount *big.Int
	ShareCount       *big.Int
	MetadataRef      string
}

// entry keeps the issuance record immutable; only owner, active and the
// pending approval change after minting.
type entry struct {
	issued   model.Certificate
	owner    common.Address
	active   bool
	reason   string
	approved bool
}

type mintKey struct {
	campaignID string
	owner      common.Address
}

// Issuer is the certificate arena with owner, campaign and issuer indexes.
type Issuer struct {
	address common.Address
	unit    *big.Int
	clock   clock.Clock
	emitter Emitter
	logger  *zap.Logger

	mu           sync.RWMutex
	certs        []*entry
	byOwner      map[common.Address]map[uint64]struct{}
	byCampaign   map[string][]uint64
	byIssuer     map[string][]uint64
	minted       map[mintKey]uint64
	transferable bool
}

func New(cfg Config) (*Issuer, error) {
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("certificate contract address is required")
	}
	unit := cfg.VotingUnit
	if unit == nil {
		unit = big.NewInt(1000)
	}
	if unit.Sign() <= 0 {
		return nil, errors.New("voting unit must be positive")
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
	return &Issuer{
		address:    cfg.Address,
		unit:       new(big.Int).Set(unit),
		clock:      cfg.Clock,
		emitter:    cfg.Emitter,
		logger:     cfg.Logger,
		byOwner:    make(map[common.Address]map[uint64]struct{}),
		byCampaign: make(map[string][]uint64),
		byIssuer:   make(map[string][]uint64),
		minted:     make(map[mintKey]uint64),
	}, nil
}

// Address is the issuer's settlement address.
func (i *Issuer) Address() common.Address {
	return i.address
}

// VotingWeight returns max(1, floor(amount/unit)).
func (i *Issuer) VotingWeight(amount *big.Int) (uint64, error) {
	if !model.IsPositive(amount) {
		return 0, ErrInvalidAmount
	}
	weight := new(big.Int).Quo(amount, i.unit)
	if !weight.IsUint64() {
		return 0, fmt.Errorf("%w: voting weight overflows", ErrInvalidAmount)
	}
	if weight.Sign() == 0 {
		return 1, nil
	}
	return weight.Uint64(), nil
}

// Issue mints one certificate and returns its token id. Token ids start at 1.
func (i *Issuer) Issue(caller access.Caller, p IssueParams) (uint64, error) {
	if !caller.Has(access.RoleMinter) {
		return 0, i.reject("issue", ErrNotAuthorized)
	}
	if p.Owner == (common.Address{}) {
		return 0, i.reject("issue", ErrInvalidAddress)
	}
	if strings.TrimSpace(p.CampaignID) == "" || strings.TrimSpace(p.IssuerName) == "" {
		return 0, i.reject("issue", ErrInvalidIdentifier)
	}
	if !model.IsPositive(p.ShareCount) {
		return 0, i.reject("issue", ErrInvalidShares)
	}
	if p.EquityBps > model.BpsDenominator {
		return 0, i.reject("issue", ErrInvalidEquity)
	}
	weight, err := i.VotingWeight(p.InvestmentAmount)
	if err != nil {
		return 0, i.reject("issue", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	key := mintKey{campaignID: p.CampaignID, owner: p.Owner}
	if id, ok := i.minted[key]; ok {
		return 0, i.reject("issue", fmt.Errorf("%w: token %d", ErrAlreadyMinted, id))
	}

	tokenID := uint64(len(i.certs)) + 1
	cert := model.Certificate{
		TokenID:          tokenID,
		Owner:            p.Owner,
		CampaignID:       p.CampaignID,
		IssuerName:       p.IssuerName,
		EquityBps:        p.EquityBps,
		InvestmentAmount: model.CopyAmount(p.InvestmentAmount),
		ShareCount:       model.CopyAmount(p.ShareCount),
		VotingWeight:     weight,
		MetadataRef:      p.MetadataRef,
		Active:           true,
		IssuedAt:         i.clock.Now(),
	}
	err = i.emitter.Emit(i.address, model.CertificateIssuedData{
		TokenID:          tokenID,
		Owner:            p.Owner.Hex(),
		CampaignID:       p.CampaignID,
		IssuerName:       p.IssuerName,
		InvestmentAmount: cert.InvestmentAmount.String(),
		ShareCount:       cert.ShareCount.String(),
		VotingWeight:     weight,
		EquityBps:        p.EquityBps,
		MetadataRef:      cert.MetadataRef,
	})
	if err != nil {
		return 0, fmt.Errorf("emit certificate issued: %w", err)
	}

	i.certs = append(i.certs, &entry{issued: cert, owner: p.Owner, active: true})
	i.index(p.Owner, tokenID)
	i.byCampaign[p.CampaignID] = append(i.byCampaign[p.CampaignID], tokenID)
	i.byIssuer[p.IssuerName] = append(i.byIssuer[p.IssuerName], tokenID)
	i.minted[key] = tokenID

	i.logger.Info("certificate minted",
		zap.Uint64("token_id", tokenID),
		zap.Stringer("owner", p.Owner),
		zap.String("campaign_id", p.CampaignID),
		zap.Uint64("voting_weight", weight),
	)
	return tokenID, nil
}

// VotingPower sums the weight of active certificates currently held by owner.
func (i *Issuer) VotingPower(owner common.Address) uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var power uint64
	for id := range i.byOwner[owner] {
		e := i.certs[id-1]
		if e.active && e.owner == owner {
			power += e.issued.VotingWeight
		}
	}
	return power
}

// Revoke deactivates a certificate. The record stays for audit.
func (i *Issuer) Revoke(caller access.Caller, tokenID uint64, reason string) error {
	if !caller.HasAny(access.RoleRegulator, access.RoleAdmin) {
		return i.reject("revoke", ErrNotAuthorized)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	e, err := i.get(tokenID)
	if err != nil {
		return i.reject("revoke", err)
	}
	if !e.active {
		return i.reject("revoke", ErrRevoked)
	}
	err = i.emitter.Emit(i.address, model.CertificateRevokedData{TokenID: tokenID, Reason: reason})
	if err != nil {
		return fmt.Errorf("emit certificate revoked: %w", err)
	}
	e.active = false
	e.reason = reason
	e.approved = false

	i.logger.Info("certificate revoked", zap.Uint64("token_id", tokenID), zap.String("reason", reason))
	return nil
}

// ApproveTransfer grants a one-shot transfer of a bound certificate.
func (i *Issuer) ApproveTransfer(caller access.Caller, tokenID uint64) error {
	if !caller.Has(access.RoleRegulator) {
		return i.reject("approve transfer", ErrNotAuthorized)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	e, err := i.get(tokenID)
	if err != nil {
		return i.reject("approve transfer", err)
	}
	if !e.active {
		return i.reject("approve transfer", ErrRevoked)
	}
	e.approved = true
	i.logger.Info("certificate transfer approved", zap.Uint64("token_id", tokenID))
	return nil
}

// SetTransferable toggles global transferability of every certificate.
func (i *Issuer) SetTransferable(caller access.Caller, transferable bool) error {
	if !caller.Has(access.RoleRegulator) {
		return i.reject("set transferable", ErrNotAuthorized)
	}
	i.mu.Lock()
	i.transferable = transferable
	i.mu.Unlock()
	i.logger.Info("certificate transferability changed", zap.Bool("transferable", transferable))
	return nil
}

// Transfer moves a certificate from the caller to to. Bound certificates
// need a pending approval, which the transfer consumes.
func (i *Issuer) Transfer(caller access.Caller, tokenID uint64, to common.Address) error {
	if to == (common.Address{}) {
		return i.reject("transfer", ErrInvalidAddress)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	e, err := i.get(tokenID)
	if err != nil {
		return i.reject("transfer", err)
	}
	if e.owner != caller.Address {
		return i.reject("transfer", ErrNotOwner)
	}
	if !e.active {
		return i.reject("transfer", ErrRevoked)
	}
	if !i.transferable && !e.approved {
		return i.reject("transfer", ErrTransferNotApproved)
	}
	if to == e.owner {
		return nil
	}

	from := e.owner
	err = i.emitter.Emit(i.address, model.CertificateTransferredData{
		TokenID: tokenID,
		From:    from.Hex(),
		To:      to.Hex(),
	})
	if err != nil {
		return fmt.Errorf("emit certificate transferred: %w", err)
	}
	delete(i.byOwner[from], tokenID)
	e.owner = to
	e.approved = false
	i.index(to, tokenID)

	i.logger.Info("certificate transferred",
		zap.Uint64("token_id", tokenID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	return nil
}

// Certificate returns the current view of a certificate.
func (i *Issuer) Certificate(tokenID uint64) (model.Certificate, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, err := i.get(tokenID)
	if err != nil {
		return model.Certificate{}, err
	}
	return i.view(e), nil
}

// CertificatesByOwner returns the owner's certificates in token order.
func (i *Issuer) CertificatesByOwner(owner common.Address) []model.Certificate {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ids := make([]uint64, 0, len(i.byOwner[owner]))
	for id := range i.byOwner[owner] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return i.views(ids)
}

// CertificatesByCampaign returns the certificates minted for a campaign.
func (i *Issuer) CertificatesByCampaign(campaignID string) []model.Certificate {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.views(i.byCampaign[campaignID])
}

// CertificatesByIssuer returns the certificates carrying issuerName.
func (i *Issuer) CertificatesByIssuer(issuerName string) []model.Certificate {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.views(i.byIssuer[issuerName])
}

// TotalSupply counts every certificate ever minted, revoked ones included.
func (i *Issuer) TotalSupply() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return uint64(len(i.certs))
}

func (i *Issuer) Transferable() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.transferable
}

func (i *Issuer) get(tokenID uint64) (*entry, error) {
	if tokenID == 0 || tokenID > uint64(len(i.certs)) {
		return nil, fmt.Errorf("%w: %d", ErrCertificateNotFound, tokenID)
	}
	return i.certs[tokenID-1], nil
}

func (i *Issuer) index(owner common.Address, tokenID uint64) {
	ids, ok := i.byOwner[owner]
	if !ok {
		ids = make(map[uint64]struct{})
		i.byOwner[owner] = ids
	}
	ids[tokenID] = struct{}{}
}

func (i *Issuer) view(e *entry) model.Certificate {
	out := e.issued
	out.InvestmentAmount = model.CopyAmount(e.issued.InvestmentAmount)
	out.ShareCount = model.CopyAmount(e.issued.ShareCount)
	out.Owner = e.owner
	out.Active = e.active
	out.RevokeReason = e.reason
	out.Transferable = e.active && (i.transferable || e.approved)
	return out
}

func (i *Issuer) views(ids []uint64) []model.Certificate {
	out := make([]model.Certificate, 0, len(ids))
	for _, id := range ids {
		out = append(out, i.view(i.certs[id-1]))
	}
	return out
}

func (i *Issuer) reject(op string, err error) error {
	i.logger.Debug("certificate call rejected", zap.String("op", op), zap.Error(err))
	return err
}

type nopEmitter struct{}

func (nopEmitter) Emit(common.Address, interface{}) error { return nil }
