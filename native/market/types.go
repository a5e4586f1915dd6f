package market

import (
	"fmt"
	"math/big"
	"strings"
)

// Listing captures a single active sale round for one token. At most one
// listing exists per token; the record is created by PlaceTokens, mutated by
// BuyTokens and CollectFunds, and removed entirely by FinishRound.
type Listing struct {
	Token           string
	Owner           [20]byte
	Price           *big.Int
	InitialVolume   *big.Int
	Volume          *big.Int
	CollectedAmount *big.Int
	IsActive        bool
	CreatedAt       uint64
	Nonce           uint64
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Price = cloneBigInt(l.Price)
	clone.InitialVolume = cloneBigInt(l.InitialVolume)
	clone.Volume = cloneBigInt(l.Volume)
	clone.CollectedAmount = cloneBigInt(l.CollectedAmount)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// NormalizeToken canonicalises a token symbol for state lookups. Symbols are
// upper-cased and must be non-empty after trimming.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("market: empty token symbol")
	}
	return trimmed, nil
}

// SanitizeListing validates and normalises the supplied listing, returning a
// cloned instance with canonical token casing and non-nil amount fields. The
// function does not mutate the original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	clone := l.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("market: listing price must be positive")
	}
	if clone.InitialVolume.Sign() <= 0 {
		return nil, fmt.Errorf("market: listing volume must be positive")
	}
	if clone.Volume.Sign() < 0 || clone.Volume.Cmp(clone.InitialVolume) > 0 {
		return nil, fmt.Errorf("market: listing volume out of range")
	}
	if clone.CollectedAmount.Sign() < 0 {
		return nil, fmt.Errorf("market: collected amount must be non-negative")
	}
	return clone, nil
}
