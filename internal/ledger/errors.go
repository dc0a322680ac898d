package ledger

import (
	"fmt"

	"issuerLedger/internal/model"
)

var (
	ErrInvalidID          = fmt.Errorf("%w: campaign id is required", model.ErrValidation)
	ErrInvalidAddress     = fmt.Errorf("%w: address is zero", model.ErrValidation)
	ErrInvalidGoal        = fmt.Errorf("%w: funding goal must be positive", model.ErrValidation)
	ErrInvalidDuration    = fmt.Errorf("%w: duration out of range", model.ErrValidation)
	ErrInvalidThreshold   = fmt.Errorf("%w: success threshold out of range", model.ErrValidation)
	ErrInvalidAmount      = fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	ErrBelowMinimum       = fmt.Errorf("%w: amount below minimum investment", model.ErrValidation)
	ErrInvalidReference   = fmt.Errorf("%w: external reference is required", model.ErrValidation)
	ErrInvalidMethod      = fmt.Errorf("%w: payment method is invalid", model.ErrValidation)
	ErrCampaignNotFound   = fmt.Errorf("%w: campaign not found", model.ErrValidation)
	ErrNotAuthorized      = fmt.Errorf("%w: caller lacks the required capability", model.ErrUnauthorized)
	ErrCreatorInvestment  = fmt.Errorf("%w: creator cannot invest in own campaign", model.ErrUnauthorized)
	ErrCampaignExists     = fmt.Errorf("%w: campaign already exists", model.ErrStateConflict)
	ErrCampaignNotActive  = fmt.Errorf("%w: campaign is not active", model.ErrStateConflict)
	ErrDeadlinePassed     = fmt.Errorf("%w: campaign deadline has passed", model.ErrStateConflict)
	ErrDeadlineNotReached = fmt.Errorf("%w: campaign deadline not reached", model.ErrStateConflict)
	ErrDuplicateReference = fmt.Errorf("%w: external reference already recorded", model.ErrStateConflict)
	ErrAlreadyCompleted   = fmt.Errorf("%w: campaign already completed", model.ErrStateConflict)
	ErrNotFailed          = fmt.Errorf("%w: refunds require a failed campaign", model.ErrStateConflict)
	ErrNothingToRefund    = fmt.Errorf("%w: no refundable balance", model.ErrStateConflict)
	ErrNotSuccessful      = fmt.Errorf("%w: campaign is not successful", model.ErrStateConflict)
	ErrFundsReleased      = fmt.Errorf("%w: funds already released", model.ErrStateConflict)
	ErrCertificateIssue   = fmt.Errorf("%w: certificate issuance incomplete", model.ErrStateConflict)
)
