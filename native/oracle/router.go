package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// ErrNoPriceRoute indicates the router has no rate data for a hop on the
// requested path. Callers surface this as an aborted operation.
var ErrNoPriceRoute = errors.New("oracle: no price route")

// Router models the subset of an AMM router the marketplace consumes as a
// price source. Both directions are exposed because a router's reserve-implied
// in and out rates are not required to be strict inverses of each other.
type Router interface {
	// GetAmountsOut quotes the output amounts obtained by swapping amountIn
	// along path, including the input amount at index zero.
	GetAmountsOut(amountIn *big.Int, path []string) ([]*big.Int, error)
	// GetAmountsIn quotes the input amounts required to obtain amountOut at
	// the end of path, including the final output amount at the last index.
	GetAmountsIn(amountOut *big.Int, path []string) ([]*big.Int, error)
}

type pairRate struct {
	num *big.Int
	den *big.Int
}

// StaticRouter is a Router with directional per-pair rates configured up
// front. Amount math truncates, matching on-chain integer division. It backs
// development deployments and the engine test suite.
type StaticRouter struct {
	mu    sync.RWMutex
	rates map[string]pairRate
}

// NewStaticRouter creates an empty static router.
func NewStaticRouter() *StaticRouter {
	return &StaticRouter{rates: make(map[string]pairRate)}
}

func pairKey(from, to string) string {
	return strings.ToUpper(strings.TrimSpace(from)) + "/" + strings.ToUpper(strings.TrimSpace(to))
}

// SetRate registers the directional rate from→to as num/den. The opposite
// direction is configured independently; asymmetric books are legal.
func (r *StaticRouter) SetRate(from, to string, num, den uint64) error {
	if num == 0 || den == 0 {
		return fmt.Errorf("oracle: rate terms must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[pairKey(from, to)] = pairRate{
		num: new(big.Int).SetUint64(num),
		den: new(big.Int).SetUint64(den),
	}
	return nil
}

func (r *StaticRouter) rate(from, to string) (pairRate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rate, ok := r.rates[pairKey(from, to)]
	return rate, ok
}

// GetAmountsOut implements Router.
func (r *StaticRouter) GetAmountsOut(amountIn *big.Int, path []string) ([]*big.Int, error) {
	if err := checkPath(amountIn, path); err != nil {
		return nil, err
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		rate, ok := r.rate(path[i], path[i+1])
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoPriceRoute, pairKey(path[i], path[i+1]))
		}
		out := new(big.Int).Mul(amounts[i], rate.num)
		amounts[i+1] = out.Div(out, rate.den)
	}
	return amounts, nil
}

// GetAmountsIn implements Router.
func (r *StaticRouter) GetAmountsIn(amountOut *big.Int, path []string) ([]*big.Int, error) {
	if err := checkPath(amountOut, path); err != nil {
		return nil, err
	}
	amounts := make([]*big.Int, len(path))
	amounts[len(path)-1] = new(big.Int).Set(amountOut)
	for i := len(path) - 1; i > 0; i-- {
		rate, ok := r.rate(path[i-1], path[i])
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoPriceRoute, pairKey(path[i-1], path[i]))
		}
		in := new(big.Int).Mul(amounts[i], rate.den)
		amounts[i-1] = in.Div(in, rate.num)
	}
	return amounts, nil
}

func checkPath(amount *big.Int, path []string) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("oracle: amount must be non-negative")
	}
	if len(path) < 2 {
		return fmt.Errorf("oracle: path requires at least two tokens")
	}
	return nil
}
