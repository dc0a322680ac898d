// Package treasury holds platform funds and records disbursements sent to
// external accounts.
package treasury

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"issuerLedger/internal/clock"
	"issuerLedger/internal/model"
)

var (
	ErrInvalidAmount     = fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	ErrInvalidAddress    = fmt.Errorf("%w: payee address is zero", model.ErrValidation)
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient treasury balance", model.ErrStateConflict)
)

// Entry is one movement of funds.
type Entry struct {
	Counterparty common.Address
	Amount       *big.Int
	Memo         string
	Inbound      bool
	At           time.Time
}

// Payer delivers funds to an external account.
type Payer interface {
	Pay(to common.Address, amount *big.Int, memo string) error
}

// Rail records every payment it is asked to deliver. It stands in for the
// external settlement rail in simulations and tests.
type Rail struct {
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	entries []Entry
	paid    map[common.Address]*big.Int
}

func NewRail(clk clock.Clock, logger *zap.Logger) *Rail {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rail{clock: clk, logger: logger, paid: make(map[common.Address]*big.Int)}
}

func (r *Rail) Pay(to common.Address, amount *big.Int, memo string) error {
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	if !model.IsPositive(amount) {
		return ErrInvalidAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{
		Counterparty: to,
		Amount:       model.CopyAmount(amount),
		Memo:         memo,
		At:           r.clock.Now(),
	})
	total, ok := r.paid[to]
	if !ok {
		total = new(big.Int)
		r.paid[to] = total
	}
	total.Add(total, amount)
	r.logger.Debug("payment sent", zap.Stringer("to", to), zap.Stringer("amount", amount), zap.String("memo", memo))
	return nil
}

// PaidTo returns the total delivered to addr.
func (r *Rail) PaidTo(addr common.Address) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.CopyAmount(r.paid[addr])
}

func (r *Rail) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyEntries(r.entries)
}

// Vault is the platform treasury. It collects platform and proposal fees
// and pays approved treasury proposals through its outbound rail.
type Vault struct {
	address common.Address
	rail    Payer
	clock   clock.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	balance *big.Int
	entries []Entry
}

func NewVault(address common.Address, rail Payer, clk clock.Clock, logger *zap.Logger) *Vault {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		address: address,
		rail:    rail,
		clock:   clk,
		logger:  logger,
		balance: new(big.Int),
	}
}

func (v *Vault) Address() common.Address {
	return v.address
}

// Deposit credits the vault.
func (v *Vault) Deposit(from common.Address, amount *big.Int, memo string) error {
	if !model.IsPositive(amount) {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance.Add(v.balance, amount)
	v.entries = append(v.entries, Entry{
		Counterparty: from,
		Amount:       model.CopyAmount(amount),
		Memo:         memo,
		Inbound:      true,
		At:           v.clock.Now(),
	})
	v.logger.Info("treasury deposit",
		zap.Stringer("from", from),
		zap.Stringer("amount", amount),
		zap.String("memo", memo),
		zap.Stringer("balance", v.balance),
	)
	return nil
}

// Pay debits the vault and delivers amount to to. Overdrafts are rejected
// and a failed delivery leaves the balance unchanged.
func (v *Vault) Pay(to common.Address, amount *big.Int, memo string) error {
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	if !model.IsPositive(amount) {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, v.balance, amount)
	}
	if v.rail != nil {
		if err := v.rail.Pay(to, amount, memo); err != nil {
			return fmt.Errorf("deliver treasury payment: %w", err)
		}
	}
	v.balance.Sub(v.balance, amount)
	v.entries = append(v.entries, Entry{
		Counterparty: to,
		Amount:       model.CopyAmount(amount),
		Memo:         memo,
		At:           v.clock.Now(),
	})
	v.logger.Info("treasury payment",
		zap.Stringer("to", to),
		zap.Stringer("amount", amount),
		zap.String("memo", memo),
		zap.Stringer("balance", v.balance),
	)
	return nil
}

func (v *Vault) Balance() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return model.CopyAmount(v.balance)
}

func (v *Vault) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return copyEntries(v.entries)
}

func copyEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		e.Amount = model.CopyAmount(e.Amount)
		out[i] = e
	}
	return out
}
