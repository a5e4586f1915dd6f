package market

import "errors"

var (
	// ErrUnauthorized indicates the caller lacks the capability or ownership
	// required for the operation.
	ErrUnauthorized = errors.New("market: unauthorized")
	// ErrNonceReused indicates the listing nonce was already consumed by a
	// previous successful placement.
	ErrNonceReused = errors.New("market: nonce already used")
	// ErrInvalidSignature indicates the listing authorization could not be
	// decoded or recovered.
	ErrInvalidSignature = errors.New("market: invalid listing signature")
	// ErrSignerMismatch indicates the recovered identity does not hold the
	// signer capability.
	ErrSignerMismatch = errors.New("market: signer not authorized")
	// ErrListingExists indicates the token already has an active listing.
	ErrListingExists = errors.New("market: token already listed")
	// ErrNoSuchListing indicates no active listing exists for the token.
	ErrNoSuchListing = errors.New("market: no listing for token")
	// ErrInsufficientVolume indicates a purchase would exceed the remaining
	// listed volume.
	ErrInsufficientVolume = errors.New("market: insufficient listed volume")
	// ErrInvalidAmount indicates a zero or negative quantity where a positive
	// one is required.
	ErrInvalidAmount = errors.New("market: amount must be positive")
)
