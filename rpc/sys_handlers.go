package rpc

import (
	"net/http"
	"strings"
)

type sysCallerParams struct {
	Caller string `json:"caller"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type pausedResult struct {
	Paused bool `json:"paused"`
}

type custodyResult struct {
	Vault   string `json:"vault"`
	Balance string `json:"balance"`
}

func (s *Server) handleSysPause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleSysSwitch(w, r, req, s.node.Pause)
}

func (s *Server) handleSysUnpause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleSysSwitch(w, r, req, s.node.Unpause)
}

func (s *Server) handleSysSwitch(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func([20]byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params sysCallerParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fn(caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleSysPaused(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	paused, err := s.node.Paused()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, pausedResult{Paused: paused})
}

func (s *Server) handleSysCustody(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	balance, err := s.node.CustodyBalance()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, custodyResult{
		Vault:   formatAddress(s.node.EscrowVaultAddress()),
		Balance: balance.String(),
	})
}

func (s *Server) handleLedgerGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.BalanceOf(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, balanceResult{
		Address: strings.TrimSpace(params.Address),
		Balance: balance.String(),
	})
}
