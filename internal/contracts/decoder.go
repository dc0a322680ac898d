package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"issuerLedger/internal/model"
)

// Decoder decodes settlement contract logs into typed events.
type Decoder struct {
	settlementABI abi.ABI
	topicToType   map[common.Hash]model.EventType
}

// NewDecoder builds a settlement log decoder.
func NewDecoder() (*Decoder, error) {
	parsed, err := SettlementABI()
	if err != nil {
		return nil, err
	}

	topicToType := make(map[common.Hash]model.EventType, len(eventNames))
	for eventType, name := range eventNames {
		event, ok := parsed.Events[name]
		if !ok {
			return nil, fmt.Errorf("event %s missing from abi", name)
		}
		topicToType[event.ID] = eventType
	}

	return &Decoder{settlementABI: parsed, topicToType: topicToType}, nil
}

// CanDecode checks if the topic0 is supported.
func (d *Decoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToType[topic0]
	return ok
}

// Decode converts a raw log into a SettlementEvent stamped with its block time.
func (d *Decoder) Decode(log types.Log, timestamp uint64) (*model.SettlementEvent, error) {
	if len(log.Topics) != 1 {
		return nil, fmt.Errorf("expected 1 topic, got %d", len(log.Topics))
	}
	eventType, ok := d.topicToType[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	name := eventNames[eventType]
	values, err := d.settlementABI.Events[name].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", name, err)
	}

	decoded, err := decodeValues(eventType, values)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	return &model.SettlementEvent{
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		EventType:   eventType,
		Timestamp:   timestamp,
		Decoded:     decoded,
		Raw: &model.RawLogRef{
			Topic0: log.Topics[0].Hex(),
			Data:   hexutil.Encode(log.Data),
		},
	}, nil
}

// valueReader walks unpacked ABI values in order, keeping the first error.
type valueReader struct {
	values []interface{}
	pos    int
	err    error
}

func (r *valueReader) next() interface{} {
	if r.err != nil {
		return nil
	}
	if r.pos >= len(r.values) {
		r.err = fmt.Errorf("missing value at position %d", r.pos)
		return nil
	}
	v := r.values[r.pos]
	r.pos++
	return v
}

func (r *valueReader) address() string {
	v := r.next()
	if r.err != nil {
		return ""
	}
	addr, err := asAddress(v)
	if err != nil {
		r.err = err
		return ""
	}
	return addr.Hex()
}

func (r *valueReader) amount() string {
	v := r.next()
	if r.err != nil {
		return ""
	}
	b, err := asBigInt(v)
	if err != nil {
		r.err = err
		return ""
	}
	return b.String()
}

func (r *valueReader) uint64() uint64 {
	v := r.next()
	if r.err != nil {
		return 0
	}
	out, err := asUint64(v)
	if err != nil {
		r.err = err
	}
	return out
}

func (r *valueReader) uint16() uint16 {
	v := r.next()
	if r.err != nil {
		return 0
	}
	out, err := asUint16(v)
	if err != nil {
		r.err = err
	}
	return out
}

func (r *valueReader) uint8() uint8 {
	v := r.next()
	if r.err != nil {
		return 0
	}
	out, err := asUint8(v)
	if err != nil {
		r.err = err
	}
	return out
}

func (r *valueReader) string() string {
	v := r.next()
	if r.err != nil {
		return ""
	}
	out, err := asString(v)
	if err != nil {
		r.err = err
	}
	return out
}

func (r *valueReader) bool() bool {
	v := r.next()
	if r.err != nil {
		return false
	}
	out, err := asBool(v)
	if err != nil {
		r.err = err
	}
	return out
}

func decodeValues(eventType model.EventType, values []interface{}) (interface{}, error) {
	r := &valueReader{values: values}
	var out interface{}

	switch eventType {
	case model.EventCampaignCreated:
		out = model.CampaignCreatedData{
			CampaignID:   r.string(),
			Campaign:     r.address(),
			Creator:      r.address(),
			Name:         r.string(),
			FundingGoal:  r.amount(),
			Deadline:     r.uint64(),
			ThresholdBps: r.uint16(),
			DocRef:       r.string(),
			Description:  r.string(),
		}
	case model.EventInvestmentMade:
		out = model.InvestmentMadeData{
			Investor:      r.address(),
			Amount:        r.amount(),
			PaymentMethod: r.string(),
			ExternalRef:   r.string(),
			TotalRaised:   r.amount(),
		}
	case model.EventCampaignCompleted:
		out = model.CampaignCompletedData{
			Successful: r.bool(),
			Raised:     r.amount(),
			Threshold:  r.amount(),
		}
	case model.EventRefundIssued:
		out = model.RefundIssuedData{
			Investor: r.address(),
			Amount:   r.amount(),
		}
	case model.EventFundsReleased:
		out = model.FundsReleasedData{
			Amount:      r.amount(),
			PlatformFee: r.amount(),
		}
	case model.EventCertificateIssued:
		out = model.CertificateIssuedData{
			TokenID:          r.uint64(),
			Owner:            r.address(),
			CampaignID:       r.string(),
			IssuerName:       r.string(),
			InvestmentAmount: r.amount(),
			ShareCount:       r.amount(),
			VotingWeight:     r.uint64(),
			EquityBps:        r.uint16(),
			MetadataRef:      r.string(),
		}
	case model.EventCertificateRevoked:
		out = model.CertificateRevokedData{
			TokenID: r.uint64(),
			Reason:  r.string(),
		}
	case model.EventCertificateTransferred:
		out = model.CertificateTransferredData{
			TokenID: r.uint64(),
			From:    r.address(),
			To:      r.address(),
		}
	case model.EventProposalCreated:
		out = model.ProposalCreatedData{
			ProposalID:   r.uint64(),
			Proposer:     r.address(),
			ProposalType: r.uint8(),
			Title:        r.string(),
			Target:       r.address(),
			Amount:       r.amount(),
			StartTime:    r.uint64(),
			EndTime:      r.uint64(),
			Quorum:       r.uint64(),
		}
	case model.EventVoteCast:
		out = model.VoteCastData{
			ProposalID: r.uint64(),
			Voter:      r.address(),
			Support:    r.bool(),
			Weight:     r.uint64(),
		}
	case model.EventProposalExecuted:
		out = model.ProposalExecutedData{
			ProposalID:   r.uint64(),
			Passed:       r.bool(),
			ForVotes:     r.uint64(),
			AgainstVotes: r.uint64(),
		}
	case model.EventProposalCancelled:
		out = model.ProposalCancelledData{
			ProposalID: r.uint64(),
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.pos != len(values) {
		return nil, fmt.Errorf("unexpected %s values: %d", eventType, len(values))
	}
	return out, nil
}
