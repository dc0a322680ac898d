package model

// LogRecord is the normalized representation of a settlement log as archived
// before it is applied to the relational store.
type LogRecord struct {
	ChainID     uint64    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	TxHash      string    `json:"tx_hash"`
	TxIndex     uint64    `json:"tx_index"`
	LogIndex    uint64    `json:"log_index"`
	Address     string    `json:"address"`
	EventType   EventType `json:"event_type"`
	Topics      []string  `json:"topics"`
	Data        string    `json:"data"`
	Removed     bool      `json:"removed"`
	Timestamp   uint64    `json:"timestamp"`
	IngestedAt  string    `json:"ingested_at"`
}
