package engine

import "errors"

// Every rejection is fail-fast and specifically tagged; the engine never
// degrades into a partial fill or a silent no-op.
var (
	// authorization
	ErrInvalidSignature = errors.New("signature does not recover to the maker")
	ErrNotMaker         = errors.New("caller is not the order maker")

	// state
	ErrOrderCancelled              = errors.New("order is cancelled")
	ErrOrderExpired                = errors.New("order is expired")
	ErrInsufficientAmountAvailable = errors.New("insufficient fillable amount available")
	ErrInvalidFillAmount           = errors.New("invalid fill amount")
	ErrKindMismatch                = errors.New("order item kind does not match entry point")
	ErrAssetFlagged                = errors.New("asset is flagged and cannot be escrowed")

	// proof
	ErrInvalidCriteriaProof = errors.New("invalid criteria proof")

	// transfer
	ErrTransferFailed = errors.New("asset or fund transfer failed")
)
