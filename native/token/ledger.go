package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrUnknownToken indicates the symbol has not been registered.
	ErrUnknownToken = errors.New("token: unknown token")
	// ErrTokenExists indicates a registration collides with an existing symbol.
	ErrTokenExists = errors.New("token: symbol already registered")
	// ErrInsufficientBalance indicates a transfer exceeds the sender balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance indicates a delegated transfer exceeds the
	// approved allowance.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrInvalidAmount indicates a negative quantity was supplied.
	ErrInvalidAmount = errors.New("token: amount must be non-negative")
)

// Storage abstracts the subset of state manager functionality required by the
// token ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	metadataPrefix  = []byte("token/meta/")
	balancePrefix   = []byte("token/balance/")
	allowancePrefix = []byte("token/allowance/")
)

// Metadata describes a registered fungible token.
type Metadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// Ledger implements mint, transfer and approve/allowance semantics for
// registered fungible tokens on top of a state backend. It is the transfer
// primitive the settlement engine escrows against.
type Ledger struct {
	state Storage
}

// NewLedger creates a ledger bound to the supplied storage.
func NewLedger(state Storage) *Ledger {
	return &Ledger{state: state}
}

// NormalizeSymbol canonicalises a token symbol for state lookups.
func NormalizeSymbol(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("token: empty symbol")
	}
	return trimmed, nil
}

func metadataKey(symbol string) []byte {
	return append(append([]byte(nil), metadataPrefix...), symbol...)
}

func balanceKey(symbol string, addr [20]byte) []byte {
	key := append(append([]byte(nil), balancePrefix...), symbol...)
	key = append(key, '/')
	return append(key, addr[:]...)
}

func allowanceKey(symbol string, owner, spender [20]byte) []byte {
	key := append(append([]byte(nil), allowancePrefix...), symbol...)
	key = append(key, '/')
	key = append(key, owner[:]...)
	key = append(key, '/')
	return append(key, spender[:]...)
}

// Register persists metadata for a new token. Registration is rejected when
// the symbol already exists with a different definition; re-registering an
// identical definition is a no-op so daemon restarts stay idempotent.
func (l *Ledger) Register(meta Metadata) error {
	symbol, err := NormalizeSymbol(meta.Symbol)
	if err != nil {
		return err
	}
	meta.Symbol = symbol
	existing, ok, err := l.Metadata(symbol)
	if err != nil {
		return err
	}
	if ok {
		if existing != meta {
			return ErrTokenExists
		}
		return nil
	}
	return l.state.KVPut(metadataKey(symbol), meta)
}

// Metadata resolves the registered definition for a symbol.
func (l *Ledger) Metadata(symbol string) (Metadata, bool, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return Metadata{}, false, err
	}
	var meta Metadata
	ok, err := l.state.KVGet(metadataKey(normalized), &meta)
	if err != nil {
		return Metadata{}, false, err
	}
	return meta, ok, nil
}

// Exists reports whether the symbol is registered.
func (l *Ledger) Exists(symbol string) bool {
	_, ok, err := l.Metadata(symbol)
	return err == nil && ok
}

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(symbol string, addr [20]byte) (*big.Int, error) {
	normalized, err := l.requireToken(symbol)
	if err != nil {
		return nil, err
	}
	return l.loadAmount(balanceKey(normalized, addr))
}

// Allowance returns the amount spender may move on behalf of owner.
func (l *Ledger) Allowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	normalized, err := l.requireToken(symbol)
	if err != nil {
		return nil, err
	}
	return l.loadAmount(allowanceKey(normalized, owner, spender))
}

// Mint credits newly issued units to addr.
func (l *Ledger) Mint(symbol string, addr [20]byte, amount *big.Int) error {
	normalized, err := l.requireToken(symbol)
	if err != nil {
		return err
	}
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	balance, err := l.loadAmount(balanceKey(normalized, addr))
	if err != nil {
		return err
	}
	return l.state.KVPut(balanceKey(normalized, addr), new(big.Int).Add(balance, amt))
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	normalized, err := l.requireToken(symbol)
	if err != nil {
		return err
	}
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	return l.move(normalized, from, to, amt)
}

// Approve sets the allowance spender may move on behalf of owner.
func (l *Ledger) Approve(symbol string, owner, spender [20]byte, amount *big.Int) error {
	normalized, err := l.requireToken(symbol)
	if err != nil {
		return err
	}
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	return l.state.KVPut(allowanceKey(normalized, owner, spender), amt)
}

// IncreaseAllowance raises the spender allowance by amount.
func (l *Ledger) IncreaseAllowance(symbol string, owner, spender [20]byte, amount *big.Int) error {
	normalized, err := l.requireToken(symbol)
	if err != nil {
		return err
	}
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	current, err := l.loadAmount(allowanceKey(normalized, owner, spender))
	if err != nil {
		return err
	}
	return l.state.KVPut(allowanceKey(normalized, owner, spender), new(big.Int).Add(current, amt))
}

// TransferFrom moves amount from `from` to `to` on behalf of spender,
// consuming the corresponding allowance.
func (l *Ledger) TransferFrom(symbol string, spender, from, to [20]byte, amount *big.Int) error {
	normalized, err := l.requireToken(symbol)
	if err != nil {
		return err
	}
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	if spender != from {
		allowance, err := l.loadAmount(allowanceKey(normalized, from, spender))
		if err != nil {
			return err
		}
		if allowance.Cmp(amt) < 0 {
			return ErrInsufficientAllowance
		}
		if err := l.state.KVPut(allowanceKey(normalized, from, spender), new(big.Int).Sub(allowance, amt)); err != nil {
			return err
		}
	}
	return l.move(normalized, from, to, amt)
}

func (l *Ledger) requireToken(symbol string) (string, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return "", err
	}
	ok, err := l.state.KVGet(metadataKey(normalized), nil)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownToken, normalized)
	}
	return normalized, nil
}

func (l *Ledger) loadAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := l.state.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (l *Ledger) move(symbol string, from, to [20]byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := l.loadAmount(balanceKey(symbol, from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.loadAmount(balanceKey(symbol, to))
	if err != nil {
		return err
	}
	if err := l.state.KVPut(balanceKey(symbol, from), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.KVPut(balanceKey(symbol, to), new(big.Int).Add(toBalance, amount))
}

func checkAmount(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(amount), nil
}
