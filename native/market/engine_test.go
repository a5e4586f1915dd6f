package market

import (
	"bytes"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"crypton/core/events"
	"crypton/core/types"
	"crypton/crypto"
	"crypton/native/oracle"
	"crypton/native/token"
)

type mockState struct {
	listings map[string]*Listing
	nonces   map[uint64]bool
	signers  map[[20]byte]bool
	params   *Params
	feePool  *big.Int
}

func newMockState() *mockState {
	return &mockState{
		listings: make(map[string]*Listing),
		nonces:   make(map[uint64]bool),
		signers:  make(map[[20]byte]bool),
		feePool:  big.NewInt(0),
	}
}

func (m *mockState) ListingPut(l *Listing) error {
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return err
	}
	m.listings[sanitized.Token] = sanitized.Clone()
	return nil
}

func (m *mockState) ListingGet(token string) (*Listing, bool, error) {
	listing, ok := m.listings[token]
	if !ok {
		return nil, false, nil
	}
	return listing.Clone(), true, nil
}

func (m *mockState) ListingRemove(token string) error {
	delete(m.listings, token)
	return nil
}

func (m *mockState) NonceConsume(nonce uint64) (bool, error) {
	if m.nonces[nonce] {
		return false, nil
	}
	m.nonces[nonce] = true
	return true, nil
}

func (m *mockState) NonceConsumed(nonce uint64) (bool, error) {
	return m.nonces[nonce], nil
}

func (m *mockState) SignerPut(addr [20]byte) error {
	m.signers[addr] = true
	return nil
}

func (m *mockState) SignerRemove(addr [20]byte) error {
	delete(m.signers, addr)
	return nil
}

func (m *mockState) SignerHas(addr [20]byte) (bool, error) {
	return m.signers[addr], nil
}

func (m *mockState) ParamsGet() (*Params, bool, error) {
	if m.params == nil {
		return nil, false, nil
	}
	clone := *m.params
	return &clone, true, nil
}

func (m *mockState) ParamsPut(p *Params) error {
	clone := *p
	m.params = &clone
	return nil
}

func (m *mockState) FeePoolGet() (*big.Int, error) {
	return new(big.Int).Set(m.feePool), nil
}

func (m *mockState) FeePoolPut(pool *big.Int) error {
	m.feePool = new(big.Int).Set(pool)
	return nil
}

type kvStore struct {
	data map[string][]byte
}

func newKVStore() *kvStore {
	return &kvStore{data: make(map[string][]byte)}
}

func (s *kvStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	s.data[string(key)] = encoded
	return nil
}

func (s *kvStore) KVGet(key []byte, out interface{}) (bool, error) {
	data, ok := s.data[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

type capturedEvents struct {
	events []*types.Event
}

func (c *capturedEvents) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	c.events = append(c.events, carrier.Event())
}

func (c *capturedEvents) last() *types.Event {
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type testEnv struct {
	engine    *Engine
	state     *mockState
	ledger    *token.Ledger
	router    *oracle.StaticRouter
	events    *capturedEvents
	admin     [20]byte
	owner     [20]byte
	buyer     [20]byte
	signerKey *crypto.PrivateKey
}

const (
	testToken   = "TOKA"
	testPricing = "BUSD"
	testOther   = "OTHER"
)

// scaled converts whole pricing-token units into base units under the two
// pricing decimals the test tokens register with.
func scaled(units int64) *big.Int {
	return big.NewInt(units * 100)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		state: newMockState(),
		admin: newTestAddress(0x01),
		owner: newTestAddress(0x02),
		buyer: newTestAddress(0x03),
	}

	env.ledger = token.NewLedger(newKVStore())
	for _, meta := range []token.Metadata{
		{Symbol: testPricing, Name: "Pricing Stable", Decimals: 2},
		{Symbol: testToken, Name: "Listed Token", Decimals: 2},
		{Symbol: testOther, Name: "Other Token", Decimals: 2},
	} {
		if err := env.ledger.Register(meta); err != nil {
			t.Fatalf("register %s: %v", meta.Symbol, err)
		}
	}

	env.engine = NewEngine(env.admin)
	env.engine.SetState(env.state)
	env.engine.SetLedger(env.ledger)
	env.engine.SetNowFunc(func() int64 { return 1700000000 })
	env.events = &capturedEvents{}
	env.engine.SetEmitter(env.events)

	if err := env.engine.InitParams(7, testPricing); err != nil {
		t.Fatalf("init params: %v", err)
	}

	env.router = oracle.NewStaticRouter()
	for _, rate := range []struct {
		from, to string
		num, den uint64
	}{
		{testToken, testPricing, 1, 2},
		{testPricing, testToken, 1, 2},
		{testPricing, testOther, 2, 1},
		{testOther, testPricing, 20, 3},
	} {
		if err := env.router.SetRate(rate.from, rate.to, rate.num, rate.den); err != nil {
			t.Fatalf("set rate: %v", err)
		}
	}
	env.engine.SetOracle(oracle.NewAdapter(env.router, env.engine))

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate signer key: %v", err)
	}
	env.signerKey = key
	if err := env.engine.GrantSigner(env.admin, key.PubKey().Address().Array()); err != nil {
		t.Fatalf("grant signer: %v", err)
	}

	// Seed balances: the owner holds the listed token, the buyer holds both
	// payment tokens, the router account holds pricing liquidity for swaps.
	mint := func(symbol string, addr [20]byte, amount int64) {
		t.Helper()
		if err := env.ledger.Mint(symbol, addr, big.NewInt(amount)); err != nil {
			t.Fatalf("mint %s: %v", symbol, err)
		}
	}
	mint(testToken, env.owner, 200)
	mint(testPricing, env.buyer, 200)
	mint(testOther, env.buyer, 200)
	mint(testPricing, ModuleRouterAddress(), 20)

	return env
}

func (env *testEnv) approve(t *testing.T, symbol string, holder [20]byte, amount int64) {
	t.Helper()
	if err := env.ledger.Approve(symbol, holder, env.engine.VaultAddress(), big.NewInt(amount)); err != nil {
		t.Fatalf("approve %s: %v", symbol, err)
	}
}

func (env *testEnv) sign(t *testing.T, owner [20]byte, symbol string, volume, price *big.Int, nonce uint64) []byte {
	t.Helper()
	sig, err := SignListingAuthorization(env.signerKey, ListingAuthorization{
		Owner:  owner,
		Token:  symbol,
		Volume: volume,
		Price:  price,
		Nonce:  nonce,
	})
	if err != nil {
		t.Fatalf("sign authorization: %v", err)
	}
	return sig
}

func (env *testEnv) place(t *testing.T, nonce uint64, volume int64) *Listing {
	t.Helper()
	vol := big.NewInt(volume)
	price := scaled(2)
	env.approve(t, testToken, env.owner, volume)
	listing, err := env.engine.PlaceTokens(env.owner, nonce, price, testToken, vol, env.sign(t, env.owner, testToken, vol, price, nonce))
	if err != nil {
		t.Fatalf("place tokens: %v", err)
	}
	return listing
}

func (env *testEnv) balance(t *testing.T, symbol string, addr [20]byte) *big.Int {
	t.Helper()
	balance, err := env.ledger.BalanceOf(symbol, addr)
	if err != nil {
		t.Fatalf("balance of %s: %v", symbol, err)
	}
	return balance
}

func requireInt(t *testing.T, want int64, got *big.Int, label string) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: want %d, got %s", label, want, got)
	}
}

func TestPlaceTokens(t *testing.T) {
	env := newTestEnv(t)

	listing := env.place(t, 1, 100)

	if listing.Owner != env.owner {
		t.Fatalf("listing owner mismatch")
	}
	requireInt(t, 100, listing.InitialVolume, "initial volume")
	requireInt(t, 100, listing.Volume, "volume")
	requireInt(t, 0, listing.CollectedAmount, "collected amount")
	requireInt(t, 200, listing.Price, "price")
	if !listing.IsActive {
		t.Fatalf("listing should be active")
	}
	if used, _ := env.state.NonceConsumed(1); !used {
		t.Fatalf("nonce should be consumed")
	}
	requireInt(t, 100, env.balance(t, testToken, env.owner), "owner balance after escrow")
	requireInt(t, 100, env.balance(t, testToken, env.engine.VaultAddress()), "vault escrow balance")

	evt := env.events.last()
	if evt == nil || evt.Type != EventTypeListingPlaced {
		t.Fatalf("expected %s event, got %+v", EventTypeListingPlaced, evt)
	}
	if evt.Attributes["token"] != testToken || evt.Attributes["nonce"] != "1" {
		t.Fatalf("unexpected event attributes: %+v", evt.Attributes)
	}
}

func TestPlaceTokensValidation(t *testing.T) {
	env := newTestEnv(t)
	vol := big.NewInt(100)
	price := scaled(2)
	env.approve(t, testToken, env.owner, 200)

	if _, err := env.engine.PlaceTokens(env.owner, 1, big.NewInt(0), testToken, vol, env.sign(t, env.owner, testToken, vol, big.NewInt(0), 1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero price: want ErrInvalidAmount, got %v", err)
	}
	if _, err := env.engine.PlaceTokens(env.owner, 1, price, testToken, big.NewInt(0), env.sign(t, env.owner, testToken, big.NewInt(0), price, 1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero volume: want ErrInvalidAmount, got %v", err)
	}

	// Signature from a key without the signer capability.
	rogue, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate rogue key: %v", err)
	}
	sig, err := SignListingAuthorization(rogue, ListingAuthorization{Owner: env.owner, Token: testToken, Volume: vol, Price: price, Nonce: 1})
	if err != nil {
		t.Fatalf("rogue sign: %v", err)
	}
	if _, err := env.engine.PlaceTokens(env.owner, 1, price, testToken, vol, sig); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("rogue signer: want ErrSignerMismatch, got %v", err)
	}

	// Valid signature over a different tuple recovers a different identity.
	wrong := env.sign(t, env.owner, testToken, vol, price, 9)
	if _, err := env.engine.PlaceTokens(env.owner, 1, price, testToken, vol, wrong); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("tuple mismatch: want ErrSignerMismatch, got %v", err)
	}

	if _, err := env.engine.PlaceTokens(env.owner, 1, price, testToken, vol, []byte("short")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("malformed signature: want ErrInvalidSignature, got %v", err)
	}

	if used, _ := env.state.NonceConsumed(1); used {
		t.Fatalf("failed placements must not consume the nonce")
	}
}

func TestPlaceTokensNonceReplay(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 100)
	if err := env.engine.FinishRound(env.owner, testToken); err != nil {
		t.Fatalf("finish round: %v", err)
	}

	vol := big.NewInt(50)
	price := scaled(2)
	env.approve(t, testToken, env.owner, 50)
	_, err := env.engine.PlaceTokens(env.owner, 1, price, testToken, vol, env.sign(t, env.owner, testToken, vol, price, 1))
	if !errors.Is(err, ErrNonceReused) {
		t.Fatalf("want ErrNonceReused, got %v", err)
	}
}

func TestPlaceTokensExclusiveSlot(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 100)

	vol := big.NewInt(50)
	price := scaled(2)
	env.approve(t, testToken, env.owner, 50)
	_, err := env.engine.PlaceTokens(env.owner, 2, price, testToken, vol, env.sign(t, env.owner, testToken, vol, price, 2))
	if !errors.Is(err, ErrListingExists) {
		t.Fatalf("want ErrListingExists, got %v", err)
	}
	if used, _ := env.state.NonceConsumed(2); used {
		t.Fatalf("nonce must survive a rejected placement")
	}
}

func TestBuyTokensWithPricingToken(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 100)

	// 90 units at price 2.00 cost 180 pricing units.
	env.approve(t, testPricing, env.buyer, 200)
	listing, err := env.engine.BuyTokens(env.buyer, testToken, testPricing, big.NewInt(180))
	if err != nil {
		t.Fatalf("buy tokens: %v", err)
	}

	requireInt(t, 10, listing.Volume, "remaining volume")
	requireInt(t, 168, listing.CollectedAmount, "collected amount net of fee")
	fees, err := env.engine.CollectedFees()
	if err != nil {
		t.Fatalf("collected fees: %v", err)
	}
	requireInt(t, 12, fees, "fee pool")

	requireInt(t, 90, env.balance(t, testToken, env.buyer), "buyer token balance")
	requireInt(t, 20, env.balance(t, testPricing, env.buyer), "buyer pricing balance")
	requireInt(t, 10, env.balance(t, testToken, env.engine.VaultAddress()), "vault token balance")
	requireInt(t, 180, env.balance(t, testPricing, env.engine.VaultAddress()), "vault pricing balance")

	evt := env.events.last()
	if evt == nil || evt.Type != EventTypePurchase {
		t.Fatalf("expected %s event, got %+v", EventTypePurchase, evt)
	}
	if evt.Attributes["proceeds"] != "180" || evt.Attributes["fee"] != "12" {
		t.Fatalf("unexpected purchase attributes: %+v", evt.Attributes)
	}
}

func TestBuyTokensInsufficientVolume(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 100)

	env.approve(t, testPricing, env.buyer, 200)
	buyerBefore := env.balance(t, testPricing, env.buyer)
	vaultBefore := env.balance(t, testToken, env.engine.VaultAddress())

	// 220 pricing units would buy 110 tokens against 100 listed.
	_, err := env.engine.BuyTokens(env.buyer, testToken, testPricing, big.NewInt(220))
	if !errors.Is(err, ErrInsufficientVolume) {
		t.Fatalf("want ErrInsufficientVolume, got %v", err)
	}

	if env.balance(t, testPricing, env.buyer).Cmp(buyerBefore) != 0 {
		t.Fatalf("failed purchase must not move payment")
	}
	if env.balance(t, testToken, env.engine.VaultAddress()).Cmp(vaultBefore) != 0 {
		t.Fatalf("failed purchase must not move escrow")
	}
	listing, err := env.engine.Listing(testToken)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	requireInt(t, 100, listing.Volume, "volume unchanged")
	requireInt(t, 0, listing.CollectedAmount, "collected unchanged")
}

func TestBuyTokensThroughOracle(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 100)

	env.approve(t, testPricing, env.buyer, 200)
	if _, err := env.engine.BuyTokens(env.buyer, testToken, testPricing, big.NewInt(180)); err != nil {
		t.Fatalf("first buy: %v", err)
	}

	// 3 OTHER converts to 20 pricing units, buying the remaining 10 tokens.
	env.approve(t, testOther, env.buyer, 3)
	routerAddr := ModuleRouterAddress()
	routerPricingBefore := env.balance(t, testPricing, routerAddr)

	listing, err := env.engine.BuyTokens(env.buyer, testToken, testOther, big.NewInt(3))
	if err != nil {
		t.Fatalf("oracle buy: %v", err)
	}

	requireInt(t, 0, listing.Volume, "volume sold out")
	requireInt(t, 168+19, listing.CollectedAmount, "collected across both buys")
	fees, err := env.engine.CollectedFees()
	if err != nil {
		t.Fatalf("collected fees: %v", err)
	}
	requireInt(t, 13, fees, "total fee pool")

	requireInt(t, 100, env.balance(t, testToken, env.buyer), "buyer holds full volume")
	requireInt(t, 197, env.balance(t, testOther, env.buyer), "buyer paid 3 OTHER")
	requireInt(t, 3, env.balance(t, testOther, routerAddr), "router received payment leg")
	if got := env.balance(t, testPricing, routerAddr); got.Cmp(new(big.Int).Sub(routerPricingBefore, big.NewInt(20))) != 0 {
		t.Fatalf("router pricing leg: want -20, got %s (before %s)", got, routerPricingBefore)
	}
	requireInt(t, 200, env.balance(t, testPricing, env.engine.VaultAddress()), "vault holds both proceeds")
}

// Two settlements racing for the same listing must serialise: exactly one can
// win the remaining volume, and the loser's payment stays untouched.
func TestBuyTokensConcurrent(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 100)
	env.approve(t, testPricing, env.buyer, 200)

	// Each payment of 120 buys 60 units; the listing only holds 100.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.BuyTokens(env.buyer, testToken, testPricing, big.NewInt(120))
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrInsufficientVolume):
			lost++
		default:
			t.Fatalf("unexpected buy error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("want exactly one settled purchase, got %d settled / %d rejected", won, lost)
	}

	requireInt(t, 80, env.balance(t, testPricing, env.buyer), "buyer paid for one purchase only")
	requireInt(t, 60, env.balance(t, testToken, env.buyer), "buyer holds one purchase of tokens")
	requireInt(t, 120, env.balance(t, testPricing, env.engine.VaultAddress()), "vault holds one payment")

	listing, err := env.engine.Listing(testToken)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	requireInt(t, 40, listing.Volume, "remaining volume")
	requireInt(t, 112, listing.CollectedAmount, "collected net of fee")
	fees, err := env.engine.CollectedFees()
	if err != nil {
		t.Fatalf("collected fees: %v", err)
	}
	requireInt(t, 8, fees, "fee pool from the settled purchase")
}

func TestBuyTokensNoListing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.BuyTokens(env.buyer, testToken, testPricing, big.NewInt(10))
	if !errors.Is(err, ErrNoSuchListing) {
		t.Fatalf("want ErrNoSuchListing, got %v", err)
	}
}

func TestBuyTokensDustPayment(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 100)
	env.approve(t, testPricing, env.buyer, 200)
	// One pricing unit buys zero whole tokens at price 2.00.
	_, err := env.engine.BuyTokens(env.buyer, testToken, testPricing, big.NewInt(1))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("want ErrInvalidAmount, got %v", err)
	}
}

func TestFinishRound(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 100)
	env.approve(t, testPricing, env.buyer, 200)
	if _, err := env.engine.BuyTokens(env.buyer, testToken, testPricing, big.NewInt(180)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if err := env.engine.FinishRound(env.buyer, testToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner finish: want ErrUnauthorized, got %v", err)
	}

	ownerTokenBefore := env.balance(t, testToken, env.owner)
	ownerPricingBefore := env.balance(t, testPricing, env.owner)

	if err := env.engine.FinishRound(env.owner, testToken); err != nil {
		t.Fatalf("finish round: %v", err)
	}

	// Remaining volume and uncollected proceeds both return to the owner.
	if got := env.balance(t, testToken, env.owner); got.Cmp(new(big.Int).Add(ownerTokenBefore, big.NewInt(10))) != 0 {
		t.Fatalf("owner refund: got %s", got)
	}
	if got := env.balance(t, testPricing, env.owner); got.Cmp(new(big.Int).Add(ownerPricingBefore, big.NewInt(168))) != 0 {
		t.Fatalf("owner proceeds payout: got %s", got)
	}
	requireInt(t, 0, env.balance(t, testToken, env.engine.VaultAddress()), "vault emptied of token")

	if _, err := env.engine.Listing(testToken); !errors.Is(err, ErrNoSuchListing) {
		t.Fatalf("listing should be removed, got %v", err)
	}
	if err := env.engine.FinishRound(env.owner, testToken); !errors.Is(err, ErrNoSuchListing) {
		t.Fatalf("second finish: want ErrNoSuchListing, got %v", err)
	}
	if _, err := env.engine.CollectFunds(env.owner, testToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("collect after finish: want ErrUnauthorized, got %v", err)
	}

	evt := env.events.last()
	if evt == nil || evt.Type != EventTypeRoundFinished {
		t.Fatalf("expected %s event, got %+v", EventTypeRoundFinished, evt)
	}
}

func TestCollectFunds(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 100)
	env.approve(t, testPricing, env.buyer, 200)
	if _, err := env.engine.BuyTokens(env.buyer, testToken, testPricing, big.NewInt(180)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if _, err := env.engine.CollectFunds(env.buyer, testToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner collect: want ErrUnauthorized, got %v", err)
	}

	amount, err := env.engine.CollectFunds(env.owner, testToken)
	if err != nil {
		t.Fatalf("collect funds: %v", err)
	}
	requireInt(t, 168, amount, "collected payout")
	requireInt(t, 168, env.balance(t, testPricing, env.owner), "owner pricing balance")

	listing, err := env.engine.Listing(testToken)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	requireInt(t, 0, listing.CollectedAmount, "collected reset")

	// Repeat collection is a successful no-op.
	amount, err = env.engine.CollectFunds(env.owner, testToken)
	if err != nil {
		t.Fatalf("zero collect: %v", err)
	}
	requireInt(t, 0, amount, "zero payout")
}

func TestWithdrawFees(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 100)
	env.approve(t, testPricing, env.buyer, 200)
	if _, err := env.engine.BuyTokens(env.buyer, testToken, testPricing, big.NewInt(180)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	env.approve(t, testOther, env.buyer, 3)
	if _, err := env.engine.BuyTokens(env.buyer, testToken, testOther, big.NewInt(3)); err != nil {
		t.Fatalf("oracle buy: %v", err)
	}

	if _, err := env.engine.WithdrawFees(env.owner); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin withdraw: want ErrUnauthorized, got %v", err)
	}

	amount, err := env.engine.WithdrawFees(env.admin)
	if err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}
	requireInt(t, 13, amount, "fee payout")
	requireInt(t, 13, env.balance(t, testPricing, env.admin), "admin pricing balance")

	fees, err := env.engine.CollectedFees()
	if err != nil {
		t.Fatalf("collected fees: %v", err)
	}
	requireInt(t, 0, fees, "fee pool reset")

	// Draining an empty pool transfers nothing and does not fail.
	amount, err = env.engine.WithdrawFees(env.admin)
	if err != nil {
		t.Fatalf("empty withdraw: %v", err)
	}
	requireInt(t, 0, amount, "empty payout")
}

func TestAdminConfigMutators(t *testing.T) {
	env := newTestEnv(t)

	if err := env.engine.SetFeePercent(env.owner, 9); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin fee change: want ErrUnauthorized, got %v", err)
	}
	if err := env.engine.SetFeePercent(env.admin, 101); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("fee out of range: want ErrInvalidAmount, got %v", err)
	}
	if err := env.engine.SetFeePercent(env.admin, 8); err != nil {
		t.Fatalf("set fee percent: %v", err)
	}
	percent, err := env.engine.FeePercent()
	if err != nil || percent != 8 {
		t.Fatalf("fee percent: want 8, got %d (%v)", percent, err)
	}

	if err := env.engine.SetPricingToken(env.owner, testOther); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin pricing change: want ErrUnauthorized, got %v", err)
	}
	if err := env.engine.SetPricingToken(env.admin, "UNKNOWN"); !errors.Is(err, token.ErrUnknownToken) {
		t.Fatalf("unknown pricing token: want ErrUnknownToken, got %v", err)
	}
	if err := env.engine.SetPricingToken(env.admin, testOther); err != nil {
		t.Fatalf("set pricing token: %v", err)
	}
	pricing, err := env.engine.PricingToken()
	if err != nil || pricing != testOther {
		t.Fatalf("pricing token: want %s, got %s (%v)", testOther, pricing, err)
	}
}

func TestSignerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	signer := env.signerKey.PubKey().Address().Array()

	if err := env.engine.GrantSigner(env.owner, newTestAddress(0x09)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin grant: want ErrUnauthorized, got %v", err)
	}
	if ok, _ := env.engine.IsSigner(signer); !ok {
		t.Fatalf("signer should be registered")
	}
	if err := env.engine.RevokeSigner(env.admin, signer); err != nil {
		t.Fatalf("revoke signer: %v", err)
	}
	if ok, _ := env.engine.IsSigner(signer); ok {
		t.Fatalf("signer should be revoked")
	}

	vol := big.NewInt(100)
	price := scaled(2)
	env.approve(t, testToken, env.owner, 100)
	_, err := env.engine.PlaceTokens(env.owner, 1, price, testToken, vol, env.sign(t, env.owner, testToken, vol, price, 1))
	if !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("revoked signer placement: want ErrSignerMismatch, got %v", err)
	}

	if !env.engine.IsAdmin(env.admin) || env.engine.IsAdmin(env.owner) {
		t.Fatalf("admin capability mismatch")
	}
}

func TestPlaceRequiresFunds(t *testing.T) {
	env := newTestEnv(t)
	vol := big.NewInt(100)
	price := scaled(2)

	// No vault allowance yet.
	_, err := env.engine.PlaceTokens(env.owner, 1, price, testToken, vol, env.sign(t, env.owner, testToken, vol, price, 1))
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("want ErrInsufficientAllowance, got %v", err)
	}

	// Allowance present but balance short.
	vol = big.NewInt(500)
	env.approve(t, testToken, env.owner, 500)
	_, err = env.engine.PlaceTokens(env.owner, 1, price, testToken, vol, env.sign(t, env.owner, testToken, vol, price, 1))
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
	if used, _ := env.state.NonceConsumed(1); used {
		t.Fatalf("failed placements must not consume the nonce")
	}
}
