// Package journal is the in-process append-only settlement log. It answers
// the same log queries as an EVM node so the synchronizer can consume either.
package journal

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"issuerLedger/internal/clock"
	"issuerLedger/internal/contracts"
)

type block struct {
	number    uint64
	hash      common.Hash
	timestamp uint64
	log       types.Log
}

// Journal stores every settlement event as its own block.
type Journal struct {
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.RWMutex
	blocks []block
}

// New builds an empty journal; block numbers start at 1.
func New(clk clock.Clock, logger *zap.Logger) *Journal {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{clock: clk, logger: logger}
}

// Append encodes payload as a log emitted by source and returns its position.
func (j *Journal) Append(source common.Address, payload interface{}) (uint64, error) {
	eventType, topics, data, err := contracts.Encode(payload)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	number := uint64(len(j.blocks)) + 1
	txHash := syntheticTxHash(number, source, topics[0])
	blockHash := crypto.Keccak256Hash(txHash.Bytes())
	ts := uint64(j.clock.Now().Unix())

	j.blocks = append(j.blocks, block{
		number:    number,
		hash:      blockHash,
		timestamp: ts,
		log: types.Log{
			Address:     source,
			Topics:      topics,
			Data:        data,
			BlockNumber: number,
			TxHash:      txHash,
			TxIndex:     0,
			BlockHash:   blockHash,
			Index:       0,
		},
	})

	j.logger.Debug("journal append",
		zap.Uint64("position", number),
		zap.String("source", source.Hex()),
		zap.String("event_type", string(eventType)),
	)
	return number, nil
}

// Emit appends payload attributed to source.
func (j *Journal) Emit(source common.Address, payload interface{}) error {
	_, err := j.Append(source, payload)
	return err
}

// LatestBlockNumber returns the position of the last appended event.
func (j *Journal) LatestBlockNumber(ctx context.Context) (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return uint64(len(j.blocks)), nil
}

// BlockTimestamp returns the time at which the event at number was appended.
func (j *Journal) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if number == 0 || number > uint64(len(j.blocks)) {
		return 0, fmt.Errorf("block %d not found", number)
	}
	return j.blocks[number-1].timestamp, nil
}

// FilterLogs returns logs in the inclusive range emitted by one of addresses
// whose topic0 is one of topic0. Empty filters match everything.
func (j *Journal) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("to block must be >= from block")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if fromBlock == 0 {
		fromBlock = 1
	}
	if toBlock > uint64(len(j.blocks)) {
		toBlock = uint64(len(j.blocks))
	}

	var out []types.Log
	for n := fromBlock; n <= toBlock; n++ {
		log := j.blocks[n-1].log
		if !matchAddress(log.Address, addresses) || !matchTopic(log.Topics[0], topic0) {
			continue
		}
		log.Data = append([]byte(nil), log.Data...)
		out = append(out, log)
	}
	return out, nil
}

func matchAddress(addr common.Address, filter []common.Address) bool {
	if len(filter) == 0 {
		return true
	}
	for _, candidate := range filter {
		if candidate == addr {
			return true
		}
	}
	return false
}

func matchTopic(topic common.Hash, filter []common.Hash) bool {
	if len(filter) == 0 {
		return true
	}
	for _, candidate := range filter {
		if candidate == topic {
			return true
		}
	}
	return false
}

func syntheticTxHash(number uint64, source common.Address, topic0 common.Hash) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return crypto.Keccak256Hash(buf[:], source.Bytes(), topic0.Bytes())
}
