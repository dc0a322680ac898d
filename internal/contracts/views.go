package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// CampaignCount reads the factory's campaign counter.
func CampaignCount(ctx context.Context, caller ContractCaller, factory common.Address) (uint64, error) {
	return callCounter(ctx, caller, factory, "campaignCount")
}

// TotalSupply reads the certificate contract's issued count.
func TotalSupply(ctx context.Context, caller ContractCaller, certificates common.Address) (uint64, error) {
	return callCounter(ctx, caller, certificates, "totalSupply")
}

func callCounter(ctx context.Context, caller ContractCaller, to common.Address, method string) (uint64, error) {
	if caller == nil {
		return 0, fmt.Errorf("contract caller is nil")
	}
	parsed, err := SettlementABI()
	if err != nil {
		return 0, fmt.Errorf("parse settlement abi: %w", err)
	}
	data, err := parsed.Pack(method)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("unexpected %s values: %d", method, len(values))
	}
	return asUint64(values[0])
}
