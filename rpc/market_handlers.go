package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"crypton/crypto"
	"crypton/native/market"
)

type listingJSON struct {
	Token           string `json:"token"`
	Owner           string `json:"owner"`
	Price           string `json:"price"`
	InitialVolume   string `json:"initialVolume"`
	Volume          string `json:"volume"`
	CollectedAmount string `json:"collectedAmount"`
	IsActive        bool   `json:"isActive"`
	CreatedAt       uint64 `json:"createdAt"`
	Nonce           uint64 `json:"nonce"`
}

func newListingJSON(l *market.Listing) listingJSON {
	return listingJSON{
		Token:           l.Token,
		Owner:           crypto.MustNewAddress(crypto.CryptonPrefix, l.Owner[:]).String(),
		Price:           l.Price.String(),
		InitialVolume:   l.InitialVolume.String(),
		Volume:          l.Volume.String(),
		CollectedAmount: l.CollectedAmount.String(),
		IsActive:        l.IsActive,
		CreatedAt:       l.CreatedAt,
		Nonce:           l.Nonce,
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object")
	}
	return jsonUnmarshalStrict(req.Params[0], out)
}

func parseAddress(value, field string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr.Array(), nil
}

func parseAmount(value, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must be non-negative", field)
	}
	return amount, nil
}

func parseSignature(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("signature must be hex encoded: %w", err)
	}
	return sig, nil
}

func invalidParams(w http.ResponseWriter, id interface{}, err error) error {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error())
	return err
}

type tokenParams struct {
	Token string `json:"token"`
}

func (s *Server) handleGetListing(w http.ResponseWriter, req *RPCRequest) error {
	var params tokenParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	listing, err := s.engine.Listing(params.Token)
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, newListingJSON(listing))
	return nil
}

func (s *Server) handleFeePercent(w http.ResponseWriter, req *RPCRequest) error {
	percent, err := s.engine.FeePercent()
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]uint64{"feePercent": percent})
	return nil
}

func (s *Server) handlePricingToken(w http.ResponseWriter, req *RPCRequest) error {
	pricing, err := s.engine.PricingToken()
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"pricingToken": pricing})
	return nil
}

func (s *Server) handleCollectedFees(w http.ResponseWriter, req *RPCRequest) error {
	fees, err := s.engine.CollectedFees()
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"collectedFees": fees.String()})
	return nil
}

func (s *Server) handleDecimals(w http.ResponseWriter, req *RPCRequest) error {
	decimals, err := s.engine.Decimals()
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]uint8{"decimals": decimals})
	return nil
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) handleIsSigner(w http.ResponseWriter, req *RPCRequest) error {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	addr, err := parseAddress(params.Address, "address")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	ok, err := s.engine.IsSigner(addr)
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]bool{"isSigner": ok})
	return nil
}

type eventsParams struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, req *RPCRequest) error {
	params := eventsParams{}
	if len(req.Params) == 1 {
		if err := jsonUnmarshalStrict(req.Params[0], &params); err != nil {
			return invalidParams(w, req.ID, err)
		}
	}
	writeResult(w, req.ID, s.recentEvents(params.Limit))
	return nil
}

type quoteParams struct {
	Direction string `json:"direction"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
}

func (s *Server) handleOracleQuote(w http.ResponseWriter, req *RPCRequest) error {
	var params quoteParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	var result *big.Int
	switch strings.TrimSpace(params.Direction) {
	case "", "tokensByAmount":
		result, err = s.oracle.TokensByAmount(params.From, params.To, amount)
	case "amountByTokens":
		result, err = s.oracle.AmountByTokens(params.From, params.To, amount)
	default:
		return invalidParams(w, req.ID, errors.New("direction must be tokensByAmount or amountByTokens"))
	}
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"amount": result.String()})
	return nil
}

type placeParams struct {
	Caller    string `json:"caller"`
	Nonce     uint64 `json:"nonce"`
	Price     string `json:"price"`
	Token     string `json:"token"`
	Volume    string `json:"volume"`
	Signature string `json:"signature"`
}

func (s *Server) handlePlaceTokens(w http.ResponseWriter, req *RPCRequest) error {
	var params placeParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	price, err := parseAmount(params.Price, "price")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	volume, err := parseAmount(params.Volume, "volume")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	signature, err := parseSignature(params.Signature)
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	listing, err := s.engine.PlaceTokens(caller, params.Nonce, price, params.Token, volume, signature)
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, newListingJSON(listing))
	return nil
}

type buyParams struct {
	Buyer         string `json:"buyer"`
	Token         string `json:"token"`
	PaymentToken  string `json:"paymentToken"`
	PaymentAmount string `json:"paymentAmount"`
}

func (s *Server) handleBuyTokens(w http.ResponseWriter, req *RPCRequest) error {
	var params buyParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	buyer, err := parseAddress(params.Buyer, "buyer")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	amount, err := parseAmount(params.PaymentAmount, "paymentAmount")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	listing, err := s.engine.BuyTokens(buyer, params.Token, params.PaymentToken, amount)
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, newListingJSON(listing))
	return nil
}

type callerTokenParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
}

func (s *Server) handleFinishRound(w http.ResponseWriter, req *RPCRequest) error {
	var params callerTokenParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	if err := s.engine.FinishRound(caller, params.Token); err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]bool{"finished": true})
	return nil
}

func (s *Server) handleGetCollectedFunds(w http.ResponseWriter, req *RPCRequest) error {
	var params callerTokenParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	amount, err := s.engine.CollectFunds(caller, params.Token)
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
	return nil
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, req *RPCRequest) error {
	amount, err := s.engine.WithdrawFees(s.admin)
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
	return nil
}

type feePercentParams struct {
	Percent uint64 `json:"percent"`
}

func (s *Server) handleSetFeePercent(w http.ResponseWriter, req *RPCRequest) error {
	var params feePercentParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	if err := s.engine.SetFeePercent(s.admin, params.Percent); err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]uint64{"feePercent": params.Percent})
	return nil
}

func (s *Server) handleSetPricingToken(w http.ResponseWriter, req *RPCRequest) error {
	var params tokenParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	if err := s.engine.SetPricingToken(s.admin, params.Token); err != nil {
		return marketError(w, req.ID, err)
	}
	pricing, err := s.engine.PricingToken()
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"pricingToken": pricing})
	return nil
}

func (s *Server) handleGrantSigner(w http.ResponseWriter, req *RPCRequest) error {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	signer, err := parseAddress(params.Address, "address")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	if err := s.engine.GrantSigner(s.admin, signer); err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]bool{"granted": true})
	return nil
}

func (s *Server) handleRevokeSigner(w http.ResponseWriter, req *RPCRequest) error {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	signer, err := parseAddress(params.Address, "address")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	if err := s.engine.RevokeSigner(s.admin, signer); err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]bool{"revoked": true})
	return nil
}
