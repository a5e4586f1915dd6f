package oracle

import (
	"fmt"
	"math/big"
	"strings"
)

// PricingSource resolves the marketplace's current pricing token. The
// settlement engine satisfies this, so a pricing-token change applies to
// subsequent quotes immediately.
type PricingSource interface {
	PricingToken() (string, error)
}

// Adapter converts amounts between arbitrary tokens through a router,
// shortcutting to a direct pair when one side is the pricing token and
// routing through it otherwise.
type Adapter struct {
	router  Router
	pricing PricingSource
}

// NewAdapter binds a router to a pricing-token source.
func NewAdapter(router Router, pricing PricingSource) *Adapter {
	return &Adapter{router: router, pricing: pricing}
}

// TokensByAmount answers how many units of `to` are equivalent to `amount`
// units of `from` under the router's current out-rates.
func (a *Adapter) TokensByAmount(from, to string, amount *big.Int) (*big.Int, error) {
	path, identity, err := a.path(from, to)
	if err != nil {
		return nil, err
	}
	if identity {
		return new(big.Int).Set(amount), nil
	}
	amounts, err := a.router.GetAmountsOut(amount, path)
	if err != nil {
		return nil, err
	}
	return amounts[len(amounts)-1], nil
}

// AmountByTokens answers the cost in `to` of acquiring `amount` units of
// `from`, quoting the reverse path against the router's in-rates. This is not
// the strict inverse of TokensByAmount when the router's directional rates
// are asymmetric.
func (a *Adapter) AmountByTokens(from, to string, amount *big.Int) (*big.Int, error) {
	path, identity, err := a.path(to, from)
	if err != nil {
		return nil, err
	}
	if identity {
		return new(big.Int).Set(amount), nil
	}
	amounts, err := a.router.GetAmountsIn(amount, path)
	if err != nil {
		return nil, err
	}
	return amounts[0], nil
}

func (a *Adapter) path(from, to string) ([]string, bool, error) {
	if a == nil || a.router == nil {
		return nil, false, fmt.Errorf("oracle: router not configured")
	}
	if a.pricing == nil {
		return nil, false, fmt.Errorf("oracle: pricing source not configured")
	}
	src := strings.ToUpper(strings.TrimSpace(from))
	dst := strings.ToUpper(strings.TrimSpace(to))
	if src == "" || dst == "" {
		return nil, false, fmt.Errorf("oracle: empty token symbol")
	}
	if src == dst {
		return nil, true, nil
	}
	pricing, err := a.pricing.PricingToken()
	if err != nil {
		return nil, false, err
	}
	pricing = strings.ToUpper(strings.TrimSpace(pricing))
	if src == pricing || dst == pricing {
		return []string{src, dst}, false, nil
	}
	return []string{src, pricing, dst}, false, nil
}
