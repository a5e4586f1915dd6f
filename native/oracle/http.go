package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 5 * time.Second

// HTTPRouter quotes against an external AMM quote service speaking a small
// JSON protocol: POST /amounts_out and /amounts_in with {"amount": "...",
// "path": [...]}, responding {"amounts": ["...", ...]} as decimal strings.
type HTTPRouter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRouter validates the endpoint and returns a router with a bounded
// request timeout.
func NewHTTPRouter(endpoint string) (*HTTPRouter, error) {
	trimmed := strings.TrimSpace(endpoint)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("oracle: invalid router endpoint %q", endpoint)
	}
	return &HTTPRouter{
		endpoint: strings.TrimRight(trimmed, "/"),
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

type quoteRequest struct {
	Amount string   `json:"amount"`
	Path   []string `json:"path"`
}

type quoteResponse struct {
	Amounts []string `json:"amounts"`
}

// GetAmountsOut implements Router.
func (r *HTTPRouter) GetAmountsOut(amountIn *big.Int, path []string) ([]*big.Int, error) {
	if err := checkPath(amountIn, path); err != nil {
		return nil, err
	}
	return r.quote("/amounts_out", amountIn, path)
}

// GetAmountsIn implements Router.
func (r *HTTPRouter) GetAmountsIn(amountOut *big.Int, path []string) ([]*big.Int, error) {
	if err := checkPath(amountOut, path); err != nil {
		return nil, err
	}
	return r.quote("/amounts_in", amountOut, path)
}

func (r *HTTPRouter) quote(route string, amount *big.Int, path []string) ([]*big.Int, error) {
	payload, err := json.Marshal(quoteRequest{Amount: amount.String(), Path: path})
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Post(r.endpoint+route, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("oracle: router request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNoPriceRoute, strings.Join(path, "/"))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("oracle: router returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var decoded quoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("oracle: invalid router response: %w", err)
	}
	if len(decoded.Amounts) != len(path) {
		return nil, fmt.Errorf("oracle: router returned %d amounts for path of %d", len(decoded.Amounts), len(path))
	}
	amounts := make([]*big.Int, len(decoded.Amounts))
	for i, raw := range decoded.Amounts {
		value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok || value.Sign() < 0 {
			return nil, fmt.Errorf("oracle: invalid amount %q in router response", raw)
		}
		amounts[i] = value
	}
	return amounts, nil
}
