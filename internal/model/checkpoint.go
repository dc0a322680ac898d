package model

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CheckpointStatus describes whether a checkpoint is being advanced.
type CheckpointStatus string

const (
	CheckpointActive CheckpointStatus = "active"
	CheckpointPaused CheckpointStatus = "paused"
	CheckpointError  CheckpointStatus = "error"
)

// CheckpointKey identifies one event stream of one settlement contract.
type CheckpointKey struct {
	Source    common.Address
	EventType EventType
}

func (k CheckpointKey) String() string {
	return fmt.Sprintf("%s/%s", k.Source.Hex(), k.EventType)
}

// Checkpoint tracks the last settlement position applied to the relational store.
type Checkpoint struct {
	Key         CheckpointKey
	LastApplied uint64
	Status      CheckpointStatus
	LastError   string
	UpdatedAt   time.Time
}
