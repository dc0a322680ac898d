package governance

import (
	"fmt"

	"issuerLedger/internal/model"
)

var (
	ErrInvalidAddress     = fmt.Errorf("%w: caller address is zero", model.ErrValidation)
	ErrInvalidType        = fmt.Errorf("%w: unknown proposal type", model.ErrValidation)
	ErrInvalidTitle       = fmt.Errorf("%w: proposal title is required", model.ErrValidation)
	ErrInvalidPeriod      = fmt.Errorf("%w: voting period out of range", model.ErrValidation)
	ErrInvalidAmount      = fmt.Errorf("%w: treasury proposals need a positive amount", model.ErrValidation)
	ErrInvalidQuorum      = fmt.Errorf("%w: quorum must be positive", model.ErrValidation)
	ErrInsufficientFee    = fmt.Errorf("%w: proposal fee not paid", model.ErrValidation)
	ErrProposalNotFound   = fmt.Errorf("%w: proposal not found", model.ErrValidation)
	ErrNotAuthorized      = fmt.Errorf("%w: caller lacks the required capability", model.ErrUnauthorized)
	ErrInsufficientPower  = fmt.Errorf("%w: voting power below proposal threshold", model.ErrUnauthorized)
	ErrNoVotingPower      = fmt.Errorf("%w: caller has no voting power", model.ErrUnauthorized)
	ErrProposalNotActive  = fmt.Errorf("%w: proposal is not active", model.ErrStateConflict)
	ErrVotingClosed       = fmt.Errorf("%w: voting window has closed", model.ErrStateConflict)
	ErrVotingOpen         = fmt.Errorf("%w: voting window still open", model.ErrStateConflict)
	ErrAlreadyVoted       = fmt.Errorf("%w: caller already voted", model.ErrStateConflict)
	ErrAlreadyExecuted    = fmt.Errorf("%w: proposal already executed", model.ErrStateConflict)
	ErrProposalRejected   = fmt.Errorf("%w: proposal rejected", model.ErrStateConflict)
	ErrQuorumNotReached   = fmt.Errorf("%w: quorum not reached", ErrProposalRejected)
	ErrMajorityNotReached = fmt.Errorf("%w: majority not reached", ErrProposalRejected)
)
