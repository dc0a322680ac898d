package certificate

import (
	"fmt"

	"issuerLedger/internal/model"
)

var (
	ErrInvalidAddress      = fmt.Errorf("%w: owner address is zero", model.ErrValidation)
	ErrInvalidAmount       = fmt.Errorf("%w: investment amount must be positive", model.ErrValidation)
	ErrInvalidShares       = fmt.Errorf("%w: share count must be positive", model.ErrValidation)
	ErrInvalidIdentifier   = fmt.Errorf("%w: campaign id and issuer name are required", model.ErrValidation)
	ErrInvalidEquity       = fmt.Errorf("%w: equity exceeds 100%%", model.ErrValidation)
	ErrCertificateNotFound = fmt.Errorf("%w: certificate not found", model.ErrValidation)
	ErrNotAuthorized       = fmt.Errorf("%w: caller lacks the required capability", model.ErrUnauthorized)
	ErrNotOwner            = fmt.Errorf("%w: caller does not own the certificate", model.ErrUnauthorized)
	ErrTransferNotApproved = fmt.Errorf("%w: certificate is bound", model.ErrUnauthorized)
	ErrAlreadyMinted       = fmt.Errorf("%w: certificate already minted for this investor and campaign", model.ErrStateConflict)
	ErrRevoked             = fmt.Errorf("%w: certificate is revoked", model.ErrStateConflict)
)
