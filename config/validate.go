package config

import (
	"fmt"
	"strings"

	"crypton/crypto"
)

// Validate checks the configuration for internal consistency before the
// daemon wires any component.
func (c *Config) Validate() error {
	if c.FeePercent > 100 {
		return fmt.Errorf("config: FeePercent must be 0-100, got %d", c.FeePercent)
	}

	pricing := strings.ToUpper(strings.TrimSpace(c.PricingToken))
	if pricing == "" {
		return fmt.Errorf("config: PricingToken is required")
	}

	seen := make(map[string]struct{}, len(c.Tokens))
	for i, tok := range c.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: Tokens[%d] has an empty symbol", i)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate token symbol %s", symbol)
		}
		seen[symbol] = struct{}{}
	}
	if _, ok := seen[pricing]; !ok {
		return fmt.Errorf("config: PricingToken %s is not among the configured Tokens", pricing)
	}

	for i, signer := range c.Signers {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(signer)); err != nil {
			return fmt.Errorf("config: Signers[%d] %q: %w", i, signer, err)
		}
	}

	switch c.Router.Mode {
	case RouterModeStatic:
		for i, rate := range c.Router.Rates {
			if strings.TrimSpace(rate.From) == "" || strings.TrimSpace(rate.To) == "" {
				return fmt.Errorf("config: Router.Rates[%d] needs From and To", i)
			}
			if rate.Num == 0 || rate.Den == 0 {
				return fmt.Errorf("config: Router.Rates[%d] terms must be positive", i)
			}
		}
	case RouterModeHTTP:
		if strings.TrimSpace(c.Router.Endpoint) == "" {
			return fmt.Errorf("config: Router.Endpoint is required in http mode")
		}
	default:
		return fmt.Errorf("config: unknown Router.Mode %q", c.Router.Mode)
	}

	return nil
}
