package market

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crypton/core/events"
	"crypton/core/types"
	"crypton/native/token"
)

var (
	errNilState  = errors.New("market engine: state not configured")
	errNilLedger = errors.New("market engine: token ledger not configured")
	errNilOracle = errors.New("market engine: price oracle not configured")
)

// EngineState is the state access the settlement engine requires. A single
// listing slot exists per token; nonce consumption is permanent.
type EngineState interface {
	ListingPut(*Listing) error
	ListingGet(token string) (*Listing, bool, error)
	ListingRemove(token string) error
	NonceConsume(nonce uint64) (bool, error)
	NonceConsumed(nonce uint64) (bool, error)
	SignerPut(addr [20]byte) error
	SignerRemove(addr [20]byte) error
	SignerHas(addr [20]byte) (bool, error)
	ParamsGet() (*Params, bool, error)
	ParamsPut(*Params) error
	FeePoolGet() (*big.Int, error)
	FeePoolPut(*big.Int) error
}

// TokenLedger is the fungible-asset transfer primitive the engine escrows
// against. Satisfied by *token.Ledger.
type TokenLedger interface {
	Transfer(symbol string, from, to [20]byte, amount *big.Int) error
	TransferFrom(symbol string, spender, from, to [20]byte, amount *big.Int) error
	BalanceOf(symbol string, addr [20]byte) (*big.Int, error)
	Allowance(symbol string, owner, spender [20]byte) (*big.Int, error)
	Metadata(symbol string) (token.Metadata, bool, error)
}

// Oracle converts amounts between tokens. Satisfied by *oracle.Adapter.
type Oracle interface {
	TokensByAmount(from, to string, amount *big.Int) (*big.Int, error)
	AmountByTokens(from, to string, amount *big.Int) (*big.Int, error)
}

// Params holds the admin-mutable marketplace configuration.
type Params struct {
	FeePercent   uint64
	PricingToken string
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine implements the listing lifecycle: signature-gated placement, the
// buy/settlement algorithm with oracle conversion, round finishing and the
// proceeds/fee withdrawals. Every public operation validates all preconditions
// before the first transfer so a failure leaves no partial state behind.
// Mutating operations serialise on an internal mutex, so concurrent hosts
// cannot interleave settlement against stale listing or fee-pool reads. The
// Set* wiring methods are not guarded and must finish before serving begins.
type Engine struct {
	mu         sync.Mutex
	state      EngineState
	ledger     TokenLedger
	oracle     Oracle
	emitter    events.Emitter
	authorizer ListingAuthorizer
	admin      [20]byte
	vault      [20]byte
	router     [20]byte
	nowFn      func() int64
}

// NewEngine creates an engine owned by the supplied admin identity. The admin
// is immutable for the life of the engine.
func NewEngine(admin [20]byte) *Engine {
	return &Engine{
		admin:      admin,
		vault:      ModuleVaultAddress(),
		router:     ModuleRouterAddress(),
		emitter:    events.NoopEmitter{},
		authorizer: RecoverAuthorizer{},
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// ModuleVaultAddress derives the deterministic escrow account all listings
// settle through.
func ModuleVaultAddress() [20]byte {
	return moduleAddress("crypton/market/vault")
}

// ModuleRouterAddress derives the default ledger account the router settles
// cross-token swaps through. Deployments with a real router account override
// it via SetRouterAccount.
func ModuleRouterAddress() [20]byte {
	return moduleAddress("crypton/market/router")
}

func moduleAddress(seed string) [20]byte {
	digest := ethcrypto.Keccak256([]byte(seed))
	var addr [20]byte
	copy(addr[:], digest[len(digest)-20:])
	return addr
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetLedger configures the token ledger used for escrow transfers.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetOracle configures the price oracle used for cross-token purchases.
func (e *Engine) SetOracle(o Oracle) { e.oracle = o }

// SetRouterAccount configures the ledger account the router settles swaps
// through. Cross-token payments are routed into it and pricing-token proceeds
// are drawn out of it, mirroring the swap an on-chain router would execute.
func (e *Engine) SetRouterAccount(addr [20]byte) { e.router = addr }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets to a no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetAuthorizer overrides the listing authorization verifier. Passing nil
// restores the default recover-based verifier.
func (e *Engine) SetAuthorizer(a ListingAuthorizer) {
	if a == nil {
		e.authorizer = RecoverAuthorizer{}
		return
	}
	e.authorizer = a
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// VaultAddress returns the escrow account the engine settles through.
func (e *Engine) VaultAddress() [20]byte { return e.vault }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

// InitParams seeds the fee percent and pricing token when no parameters have
// been stored yet. Restarting against an initialised state is a no-op, so the
// stored values always win over config defaults.
func (e *Engine) InitParams(feePercent uint64, pricingToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok, err := e.state.ParamsGet(); err != nil {
		return err
	} else if ok {
		return nil
	}
	if feePercent > 100 {
		return fmt.Errorf("%w: fee percent %d", ErrInvalidAmount, feePercent)
	}
	normalized, err := NormalizeToken(pricingToken)
	if err != nil {
		return err
	}
	if !e.tokenRegistered(normalized) {
		return fmt.Errorf("%w: %s", token.ErrUnknownToken, normalized)
	}
	return e.state.ParamsPut(&Params{FeePercent: feePercent, PricingToken: normalized})
}

func (e *Engine) params() (*Params, error) {
	params, ok, err := e.state.ParamsGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("market engine: parameters not initialised")
	}
	return params, nil
}

// FeePercent returns the platform fee taken from every purchase.
func (e *Engine) FeePercent() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	params, err := e.params()
	if err != nil {
		return 0, err
	}
	return params.FeePercent, nil
}

// PricingToken returns the token all prices and proceeds are denominated in.
// Satisfies oracle.PricingSource.
func (e *Engine) PricingToken() (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	params, err := e.params()
	if err != nil {
		return "", err
	}
	return params.PricingToken, nil
}

// Decimals returns the decimal precision listing prices are scaled by, taken
// from the pricing token's registered metadata.
func (e *Engine) Decimals() (uint8, error) {
	pricing, err := e.PricingToken()
	if err != nil {
		return 0, err
	}
	meta, ok, err := e.ledger.Metadata(pricing)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", token.ErrUnknownToken, pricing)
	}
	return meta.Decimals, nil
}

// CollectedFees returns the accumulated platform fee pool.
func (e *Engine) CollectedFees() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.FeePoolGet()
}

// Listing returns the active listing for the token.
func (e *Engine) Listing(symbol string) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	normalized, err := NormalizeToken(symbol)
	if err != nil {
		return nil, err
	}
	listing, ok, err := e.state.ListingGet(normalized)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchListing, normalized)
	}
	return listing.Clone(), nil
}

func (e *Engine) tokenRegistered(symbol string) bool {
	_, ok, err := e.ledger.Metadata(symbol)
	return err == nil && ok
}

// PlaceTokens escrows volume units of the token and opens a listing at the
// given price. The signature must cover (caller, token, volume, price, nonce)
// and recover to a registered signer; the nonce is consumed permanently.
func (e *Engine) PlaceTokens(caller [20]byte, nonce uint64, price *big.Int, symbol string, volume *big.Int, signature []byte) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	normalized, err := NormalizeToken(symbol)
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price", ErrInvalidAmount)
	}
	if volume == nil || volume.Sign() <= 0 {
		return nil, fmt.Errorf("%w: volume", ErrInvalidAmount)
	}
	if !e.tokenRegistered(normalized) {
		return nil, fmt.Errorf("%w: %s", token.ErrUnknownToken, normalized)
	}
	if _, ok, err := e.state.ListingGet(normalized); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%w: %s", ErrListingExists, normalized)
	}
	if used, err := e.state.NonceConsumed(nonce); err != nil {
		return nil, err
	} else if used {
		return nil, fmt.Errorf("%w: %d", ErrNonceReused, nonce)
	}
	signer, err := e.authorizer.Recover(ListingAuthorization{
		Owner:  caller,
		Token:  normalized,
		Volume: volume,
		Price:  price,
		Nonce:  nonce,
	}, signature)
	if err != nil {
		return nil, err
	}
	if ok, err := e.state.SignerHas(signer); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrSignerMismatch
	}
	if err := e.checkFunds(normalized, caller, volume); err != nil {
		return nil, err
	}

	// Preconditions hold; commit.
	if ok, err := e.state.NonceConsume(nonce); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNonceReused, nonce)
	}
	if err := e.ledger.TransferFrom(normalized, e.vault, caller, e.vault, volume); err != nil {
		return nil, err
	}
	listing := &Listing{
		Token:           normalized,
		Owner:           caller,
		Price:           new(big.Int).Set(price),
		InitialVolume:   new(big.Int).Set(volume),
		Volume:          new(big.Int).Set(volume),
		CollectedAmount: big.NewInt(0),
		IsActive:        true,
		CreatedAt:       uint64(e.now()),
		Nonce:           nonce,
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewListingPlacedEvent(listing))
	return listing.Clone(), nil
}

// BuyTokens settles a purchase against the token's listing. Payments in the
// pricing token apply directly; any other payment token is converted through
// the oracle and swapped via the router account so the vault physically holds
// pricing-token proceeds. The platform fee is skimmed off the proceeds.
func (e *Engine) BuyTokens(buyer [20]byte, symbol, paymentSymbol string, paymentAmount *big.Int) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	normalized, err := NormalizeToken(symbol)
	if err != nil {
		return nil, err
	}
	payment, err := NormalizeToken(paymentSymbol)
	if err != nil {
		return nil, err
	}
	if paymentAmount == nil || paymentAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: payment amount", ErrInvalidAmount)
	}
	if !e.tokenRegistered(payment) {
		return nil, fmt.Errorf("%w: %s", token.ErrUnknownToken, payment)
	}
	listing, ok, err := e.state.ListingGet(normalized)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchListing, normalized)
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}

	proceeds := new(big.Int).Set(paymentAmount)
	if payment != params.PricingToken {
		if e.oracle == nil {
			return nil, errNilOracle
		}
		proceeds, err = e.oracle.TokensByAmount(payment, params.PricingToken, paymentAmount)
		if err != nil {
			return nil, err
		}
	}
	decimals, err := e.Decimals()
	if err != nil {
		return nil, err
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	purchased := new(big.Int).Mul(proceeds, scale)
	purchased.Div(purchased, listing.Price)
	if purchased.Sign() == 0 {
		return nil, fmt.Errorf("%w: payment below unit price", ErrInvalidAmount)
	}
	if purchased.Cmp(listing.Volume) > 0 {
		return nil, fmt.Errorf("%w: want %s, remaining %s", ErrInsufficientVolume, purchased, listing.Volume)
	}
	if err := e.checkFunds(payment, buyer, paymentAmount); err != nil {
		return nil, err
	}
	if payment != params.PricingToken {
		// The router must hold enough pricing liquidity to settle the swap.
		routerBalance, err := e.ledger.BalanceOf(params.PricingToken, e.router)
		if err != nil {
			return nil, err
		}
		if routerBalance.Cmp(proceeds) < 0 {
			return nil, fmt.Errorf("market engine: router liquidity below %s %s", proceeds, params.PricingToken)
		}
	}

	// Preconditions hold; commit.
	if payment == params.PricingToken {
		if err := e.ledger.TransferFrom(payment, e.vault, buyer, e.vault, paymentAmount); err != nil {
			return nil, err
		}
	} else {
		if err := e.ledger.TransferFrom(payment, e.vault, buyer, e.router, paymentAmount); err != nil {
			return nil, err
		}
		if err := e.ledger.Transfer(params.PricingToken, e.router, e.vault, proceeds); err != nil {
			return nil, err
		}
	}
	if err := e.ledger.Transfer(normalized, e.vault, buyer, purchased); err != nil {
		return nil, err
	}

	// The bookkeeping below shares the storage backend with the transfers
	// above, so an error here is a storage fault, not a recoverable logical
	// failure; the daemon must stop rather than keep serving that backend.
	fee := new(big.Int).Mul(proceeds, new(big.Int).SetUint64(params.FeePercent))
	fee.Div(fee, big.NewInt(100))
	pool, err := e.state.FeePoolGet()
	if err != nil {
		return nil, err
	}
	if err := e.state.FeePoolPut(new(big.Int).Add(pool, fee)); err != nil {
		return nil, err
	}
	listing.Volume = new(big.Int).Sub(listing.Volume, purchased)
	listing.CollectedAmount = new(big.Int).Add(listing.CollectedAmount, new(big.Int).Sub(proceeds, fee))
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewPurchaseEvent(listing, buyer, payment, paymentAmount, proceeds, purchased, fee))
	return listing.Clone(), nil
}

// FinishRound closes the listing, refunding the unsold volume and paying out
// any uncollected proceeds to the owner. The listing record is removed; the
// round cannot be reopened or finished twice.
func (e *Engine) FinishRound(caller [20]byte, symbol string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	normalized, err := NormalizeToken(symbol)
	if err != nil {
		return err
	}
	listing, ok, err := e.state.ListingGet(normalized)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchListing, normalized)
	}
	if listing.Owner != caller {
		return ErrUnauthorized
	}
	params, err := e.params()
	if err != nil {
		return err
	}

	if err := e.ledger.Transfer(normalized, e.vault, listing.Owner, listing.Volume); err != nil {
		return err
	}
	if listing.CollectedAmount.Sign() > 0 {
		if err := e.ledger.Transfer(params.PricingToken, e.vault, listing.Owner, listing.CollectedAmount); err != nil {
			return err
		}
	}
	if err := e.state.ListingRemove(normalized); err != nil {
		return err
	}
	e.emit(NewRoundFinishedEvent(listing))
	return nil
}

// CollectFunds pays the listing's accrued pricing-token proceeds to the owner
// and resets the accrual. Collecting a zero balance is a successful no-op.
func (e *Engine) CollectFunds(caller [20]byte, symbol string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	normalized, err := NormalizeToken(symbol)
	if err != nil {
		return nil, err
	}
	listing, ok, err := e.state.ListingGet(normalized)
	if err != nil {
		return nil, err
	}
	if !ok || listing.Owner != caller {
		// A finished listing has no owner; owner-gated collection fails the
		// same way as a plain ownership mismatch.
		return nil, ErrUnauthorized
	}
	amount := new(big.Int).Set(listing.CollectedAmount)
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Transfer(params.PricingToken, e.vault, listing.Owner, amount); err != nil {
		return nil, err
	}
	listing.CollectedAmount = big.NewInt(0)
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewFundsCollectedEvent(listing, amount))
	return amount, nil
}

// WithdrawFees pays the entire accumulated fee pool to the admin and resets
// it. Admin-only.
func (e *Engine) WithdrawFees(caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return nil, ErrUnauthorized
	}
	pool, err := e.state.FeePoolGet()
	if err != nil {
		return nil, err
	}
	if pool.Sign() == 0 {
		return big.NewInt(0), nil
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Transfer(params.PricingToken, e.vault, caller, pool); err != nil {
		return nil, err
	}
	if err := e.state.FeePoolPut(big.NewInt(0)); err != nil {
		return nil, err
	}
	e.emit(NewFeesWithdrawnEvent(caller, pool))
	return pool, nil
}

// SetFeePercent updates the platform fee for subsequent purchases. Admin-only.
func (e *Engine) SetFeePercent(caller [20]byte, percent uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrUnauthorized
	}
	if percent > 100 {
		return fmt.Errorf("%w: fee percent %d", ErrInvalidAmount, percent)
	}
	params, err := e.params()
	if err != nil {
		return err
	}
	params.FeePercent = percent
	return e.state.ParamsPut(params)
}

// SetPricingToken changes the pricing denomination for subsequent operations.
// Outstanding listings keep their recorded price denomination; operators pick
// the changeover moment. Admin-only.
func (e *Engine) SetPricingToken(caller [20]byte, symbol string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrUnauthorized
	}
	normalized, err := NormalizeToken(symbol)
	if err != nil {
		return err
	}
	if !e.tokenRegistered(normalized) {
		return fmt.Errorf("%w: %s", token.ErrUnknownToken, normalized)
	}
	params, err := e.params()
	if err != nil {
		return err
	}
	params.PricingToken = normalized
	return e.state.ParamsPut(params)
}

// checkFunds verifies the holder's balance and vault allowance cover amount so
// the subsequent TransferFrom cannot fail mid-commit.
func (e *Engine) checkFunds(symbol string, holder [20]byte, amount *big.Int) error {
	balance, err := e.ledger.BalanceOf(symbol, holder)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return token.ErrInsufficientBalance
	}
	allowance, err := e.ledger.Allowance(symbol, holder, e.vault)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return token.ErrInsufficientAllowance
	}
	return nil
}
