package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crypton/crypto"
)

// ListingAuthorization is the tuple a signer authorizes off-chain. The byte
// encoding of the digest is part of the wire contract with off-chain signers
// and must not change: keccak256(owner || keccak256(token) || volume(32) ||
// price(32) || nonce(32)), wrapped with the Ethereum signed-message prefix.
type ListingAuthorization struct {
	Owner  [20]byte
	Token  string
	Volume *big.Int
	Price  *big.Int
	Nonce  uint64
}

// Digest returns the prefixed message hash signers commit to.
func (a ListingAuthorization) Digest() ([]byte, error) {
	token, err := NormalizeToken(a.Token)
	if err != nil {
		return nil, err
	}
	if a.Volume == nil || a.Price == nil {
		return nil, fmt.Errorf("market: authorization amounts not set")
	}
	if a.Volume.Sign() < 0 || a.Price.Sign() < 0 {
		return nil, fmt.Errorf("market: authorization amounts must be non-negative")
	}
	if a.Volume.BitLen() > 256 || a.Price.BitLen() > 256 {
		return nil, fmt.Errorf("market: authorization amounts exceed 256 bits")
	}
	var volume, price, nonce [32]byte
	a.Volume.FillBytes(volume[:])
	a.Price.FillBytes(price[:])
	new(big.Int).SetUint64(a.Nonce).FillBytes(nonce[:])
	tokenHash := ethcrypto.Keccak256([]byte(token))
	inner := ethcrypto.Keccak256(a.Owner[:], tokenHash, volume[:], price[:], nonce[:])
	return accounts.TextHash(inner), nil
}

// ListingAuthorizer recovers the identity that authorized a listing tuple.
// The engine compares the result against the signer capability set; hosts with
// a different account-derivation scheme can plug their own implementation.
type ListingAuthorizer interface {
	Recover(auth ListingAuthorization, signature []byte) ([20]byte, error)
}

// RecoverAuthorizer verifies secp256k1 signatures in the Ethereum
// personal-message format ([R || S || V], 65 bytes).
type RecoverAuthorizer struct{}

// Recover implements ListingAuthorizer.
func (RecoverAuthorizer) Recover(auth ListingAuthorization, signature []byte) ([20]byte, error) {
	if len(signature) != 65 {
		return [20]byte{}, ErrInvalidSignature
	}
	digest, err := auth.Digest()
	if err != nil {
		return [20]byte{}, err
	}
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pubKey, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return [20]byte{}, ErrInvalidSignature
	}
	var signer [20]byte
	copy(signer[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	return signer, nil
}

// SignListingAuthorization produces a signature accepted by RecoverAuthorizer.
// Used by the operator CLI and tests.
func SignListingAuthorization(key *crypto.PrivateKey, auth ListingAuthorization) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("market: nil signing key")
	}
	digest, err := auth.Digest()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Sign(digest, key.PrivateKey)
}
