package market

import (
	"math/big"
	"strconv"

	"crypton/core/types"
	"crypton/crypto"
)

const (
	EventTypeListingPlaced  = "market.listing.placed"
	EventTypePurchase       = "market.listing.purchase"
	EventTypeRoundFinished  = "market.listing.finished"
	EventTypeFundsCollected = "market.listing.funds_collected"
	EventTypeFeesWithdrawn  = "market.fees.withdrawn"
)

func formatAddress(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.CryptonPrefix, addr[:]).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewListingPlacedEvent returns the canonical payload for a newly opened
// listing.
func NewListingPlacedEvent(l *Listing) *types.Event {
	return &types.Event{Type: EventTypeListingPlaced, Attributes: map[string]string{
		"token":  l.Token,
		"nonce":  strconv.FormatUint(l.Nonce, 10),
		"owner":  formatAddress(l.Owner),
		"volume": formatAmount(l.InitialVolume),
		"price":  formatAmount(l.Price),
	}}
}

// NewPurchaseEvent returns the canonical payload emitted for a settled
// purchase.
func NewPurchaseEvent(l *Listing, buyer [20]byte, paymentToken string, paymentAmount, proceeds, purchased, fee *big.Int) *types.Event {
	return &types.Event{Type: EventTypePurchase, Attributes: map[string]string{
		"token":         l.Token,
		"buyer":         formatAddress(buyer),
		"paymentToken":  paymentToken,
		"paymentAmount": formatAmount(paymentAmount),
		"proceeds":      formatAmount(proceeds),
		"purchased":     formatAmount(purchased),
		"fee":           formatAmount(fee),
		"remaining":     formatAmount(l.Volume),
	}}
}

// NewRoundFinishedEvent returns the canonical payload emitted when a listing
// is closed by its owner.
func NewRoundFinishedEvent(l *Listing) *types.Event {
	return &types.Event{Type: EventTypeRoundFinished, Attributes: map[string]string{
		"token":          l.Token,
		"owner":          formatAddress(l.Owner),
		"refundedVolume": formatAmount(l.Volume),
		"collectedPaid":  formatAmount(l.CollectedAmount),
	}}
}

// NewFundsCollectedEvent returns the canonical payload emitted when the owner
// withdraws accrued proceeds.
func NewFundsCollectedEvent(l *Listing, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeFundsCollected, Attributes: map[string]string{
		"token":  l.Token,
		"owner":  formatAddress(l.Owner),
		"amount": formatAmount(amount),
	}}
}

// NewFeesWithdrawnEvent returns the canonical payload emitted when the admin
// drains the fee pool.
func NewFeesWithdrawnEvent(admin [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeFeesWithdrawn, Attributes: map[string]string{
		"admin":  formatAddress(admin),
		"amount": formatAmount(amount),
	}}
}
