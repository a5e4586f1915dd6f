package rpc

import (
	"net/http"
	"strings"
)

type balanceParams struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

func (s *Server) handleBalanceOf(w http.ResponseWriter, req *RPCRequest) error {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	addr, err := parseAddress(params.Address, "address")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	balance, err := s.ledger.BalanceOf(params.Token, addr)
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
	return nil
}

// spenderOrVault resolves an optional spender field; listings settle through
// the vault, so it is the default counterparty for approvals and queries.
func (s *Server) spenderOrVault(value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return s.engine.VaultAddress(), nil
	}
	return parseAddress(value, "spender")
}

type allowanceParams struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
}

func (s *Server) handleAllowance(w http.ResponseWriter, req *RPCRequest) error {
	var params allowanceParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	owner, err := parseAddress(params.Owner, "owner")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	spender, err := s.spenderOrVault(params.Spender)
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	allowance, err := s.ledger.Allowance(params.Token, owner, spender)
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"allowance": allowance.String()})
	return nil
}

type approveParams struct {
	Caller  string `json:"caller"`
	Token   string `json:"token"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

func (s *Server) handleApprove(w http.ResponseWriter, req *RPCRequest) error {
	var params approveParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	spender, err := s.spenderOrVault(params.Spender)
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	if err := s.ledger.Approve(params.Token, caller, spender, amount); err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"allowance": amount.String()})
	return nil
}

type mintParams struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, req *RPCRequest) error {
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(w, req.ID, err)
	}
	addr, err := parseAddress(params.Address, "address")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	if err := s.ledger.Mint(params.Token, addr, amount); err != nil {
		return marketError(w, req.ID, err)
	}
	balance, err := s.ledger.BalanceOf(params.Token, addr)
	if err != nil {
		return marketError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
	return nil
}
