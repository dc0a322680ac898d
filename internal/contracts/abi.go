package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// All event arguments are non-indexed; consumers filter by emitting address
// and topic0 only.
const settlementABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "string", "name": "campaignId", "type": "string"},
      {"indexed": false, "internalType": "address", "name": "campaign", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "creator", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "name", "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "fundingGoal", "type": "uint256"},
      {"indexed": false, "internalType": "uint64", "name": "deadline", "type": "uint64"},
      {"indexed": false, "internalType": "uint16", "name": "thresholdBps", "type": "uint16"},
      {"indexed": false, "internalType": "string", "name": "docRef", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "description", "type": "string"}
    ],
    "name": "CampaignCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "investor", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "paymentMethod", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "externalRef", "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "totalRaised", "type": "uint256"}
    ],
    "name": "InvestmentMade",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "bool", "name": "successful", "type": "bool"},
      {"indexed": false, "internalType": "uint256", "name": "raised", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "threshold", "type": "uint256"}
    ],
    "name": "CampaignCompleted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "investor", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "RefundIssued",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "platformFee", "type": "uint256"}
    ],
    "name": "FundsReleased",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "campaignId", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "issuerName", "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "investmentAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "shareCount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "votingWeight", "type": "uint256"},
      {"indexed": false, "internalType": "uint16", "name": "equityBps", "type": "uint16"},
      {"indexed": false, "internalType": "string", "name": "metadataRef", "type": "string"}
    ],
    "name": "CertificateIssued",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "reason", "type": "string"}
    ],
    "name": "CertificateRevoked",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "to", "type": "address"}
    ],
    "name": "CertificateTransferred",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "proposalId", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "proposer", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "proposalType", "type": "uint8"},
      {"indexed": false, "internalType": "string", "name": "title", "type": "string"},
      {"indexed": false, "internalType": "address", "name": "target", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint64", "name": "startTime", "type": "uint64"},
      {"indexed": false, "internalType": "uint64", "name": "endTime", "type": "uint64"},
      {"indexed": false, "internalType": "uint256", "name": "quorum", "type": "uint256"}
    ],
    "name": "ProposalCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "proposalId", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "voter", "type": "address"},
      {"indexed": false, "internalType": "bool", "name": "support", "type": "bool"},
      {"indexed": false, "internalType": "uint256", "name": "weight", "type": "uint256"}
    ],
    "name": "VoteCast",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "proposalId", "type": "uint256"},
      {"indexed": false, "internalType": "bool", "name": "passed", "type": "bool"},
      {"indexed": false, "internalType": "uint256", "name": "forVotes", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "againstVotes", "type": "uint256"}
    ],
    "name": "ProposalExecuted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "proposalId", "type": "uint256"}
    ],
    "name": "ProposalCancelled",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "campaignCount",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "totalSupply",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	settlementABI     abi.ABI
	settlementABIOnce sync.Once
	settlementABIErr  error
)

// SettlementABI returns the parsed settlement contracts ABI.
func SettlementABI() (abi.ABI, error) {
	settlementABIOnce.Do(func() {
		settlementABI, settlementABIErr = abi.JSON(strings.NewReader(settlementABIJSON))
	})
	return settlementABI, settlementABIErr
}
