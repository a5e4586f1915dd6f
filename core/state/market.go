package state

import (
	"encoding/binary"
	"math/big"

	"crypton/native/market"
)

var (
	listingPrefix = []byte("market/listing/")
	noncePrefix   = []byte("market/nonce/")
	signerPrefix  = []byte("market/signer/")
	paramsKey     = []byte("market/params")
	feePoolKey    = []byte("market/fees")
)

func listingKey(token string) []byte {
	return append(append([]byte(nil), listingPrefix...), token...)
}

func nonceKey(nonce uint64) []byte {
	key := append([]byte(nil), noncePrefix...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return append(key, buf[:]...)
}

func signerKey(addr [20]byte) []byte {
	return append(append([]byte(nil), signerPrefix...), addr[:]...)
}

// ListingPut persists the listing under its token's exclusive slot.
func (m *Manager) ListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	return m.KVPut(listingKey(sanitized.Token), sanitized)
}

// ListingGet loads the listing occupying the token's slot, if any.
func (m *Manager) ListingGet(token string) (*market.Listing, bool, error) {
	normalized, err := market.NormalizeToken(token)
	if err != nil {
		return nil, false, err
	}
	listing := new(market.Listing)
	ok, err := m.KVGet(listingKey(normalized), listing)
	if err != nil || !ok {
		return nil, false, err
	}
	return listing, true, nil
}

// ListingRemove clears the token's listing slot entirely. Subsequent lookups
// behave as if no listing ever existed.
func (m *Manager) ListingRemove(token string) error {
	normalized, err := market.NormalizeToken(token)
	if err != nil {
		return err
	}
	return m.KVDelete(listingKey(normalized))
}

// NonceConsume marks the nonce as used, returning false when it was already
// consumed. Consumption is permanent; no removal path exists.
func (m *Manager) NonceConsume(nonce uint64) (bool, error) {
	key := nonceKey(nonce)
	used, err := m.KVHas(key)
	if err != nil {
		return false, err
	}
	if used {
		return false, nil
	}
	if err := m.KVPut(key, true); err != nil {
		return false, err
	}
	return true, nil
}

// NonceConsumed reports whether the nonce has been used.
func (m *Manager) NonceConsumed(nonce uint64) (bool, error) {
	return m.KVHas(nonceKey(nonce))
}

// SignerPut adds the address to the signer capability set.
func (m *Manager) SignerPut(addr [20]byte) error {
	return m.KVPut(signerKey(addr), true)
}

// SignerRemove drops the address from the signer capability set.
func (m *Manager) SignerRemove(addr [20]byte) error {
	return m.KVDelete(signerKey(addr))
}

// SignerHas reports signer capability membership.
func (m *Manager) SignerHas(addr [20]byte) (bool, error) {
	return m.KVHas(signerKey(addr))
}

// ParamsPut persists the marketplace parameters.
func (m *Manager) ParamsPut(p *market.Params) error {
	return m.KVPut(paramsKey, p)
}

// ParamsGet loads the marketplace parameters when initialised.
func (m *Manager) ParamsGet() (*market.Params, bool, error) {
	params := new(market.Params)
	ok, err := m.KVGet(paramsKey, params)
	if err != nil || !ok {
		return nil, false, err
	}
	return params, true, nil
}

// FeePoolGet returns the accumulated platform fee pool.
func (m *Manager) FeePoolGet() (*big.Int, error) {
	pool := new(big.Int)
	ok, err := m.KVGet(feePoolKey, pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return pool, nil
}

// FeePoolPut stores the accumulated platform fee pool.
func (m *Manager) FeePoolPut(pool *big.Int) error {
	if pool == nil {
		pool = big.NewInt(0)
	}
	return m.KVPut(feePoolKey, pool)
}
