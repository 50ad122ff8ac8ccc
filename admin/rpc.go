package admin

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/validator"
)

const jsonRPCVersion = "2.0"

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type methodFn func(params []json.RawMessage) (any, error)

// methods returns the JSON-RPC method table served by api
func (a *API) methods() map[string]methodFn {
	return map[string]methodFn{
		"qbft_proposeValidatorVote": a.proposeValidatorVote,
		"qbft_discardValidatorVote": a.discardValidatorVote,
		"qbft_getPendingVotes":      a.getPendingVotes,
		"qbft_getValidators":        a.getValidators,
		"qbft_getVoteTally":         a.getVoteTally,
	}
}

// Call executes a single JSON-RPC method
func (a *API) Call(method string, params []json.RawMessage) (any, error) {
	fn, ok := a.methods()[method]
	if !ok {
		return nil, ErrMethodNotFound
	}

	return fn(params)
}

func (a *API) proposeValidatorVote(params []json.RawMessage) (any, error) {
	if a.votes == nil {
		return nil, ErrMethodNotEnabled
	}

	target, err := addressParam(params, 0)
	if err != nil {
		return nil, err
	}

	add, err := boolParam(params, 1)
	if err != nil {
		return nil, err
	}

	auth := validator.AuthDrop
	if add {
		auth = validator.AuthAdd
	}

	a.ProposeVote(target, auth)

	return true, nil
}

func (a *API) discardValidatorVote(params []json.RawMessage) (any, error) {
	if a.votes == nil {
		return nil, ErrMethodNotEnabled
	}

	target, err := addressParam(params, 0)
	if err != nil {
		return nil, err
	}

	a.DiscardVote(target)

	return true, nil
}

func (a *API) getPendingVotes([]json.RawMessage) (any, error) {
	if a.votes == nil {
		return nil, ErrMethodNotEnabled
	}

	return a.PendingVotes(), nil
}

func (a *API) getValidators([]json.RawMessage) (any, error) {
	return a.Validators().Validators, nil
}

func (a *API) getVoteTally([]json.RawMessage) (any, error) {
	return a.ctx.Tally().Tally(), nil
}

func addressParam(params []json.RawMessage, index int) (common.Address, error) {
	if index >= len(params) {
		return common.Address{}, &ParamError{Kind: ParamMissing, Index: index}
	}

	invalid := &ParamError{Kind: ParamInvalid, Index: index, Expected: "address"}

	var s string
	if err := json.Unmarshal(params[index], &s); err != nil {
		return common.Address{}, invalid
	}

	addr, ok := parseAddress(s)
	if !ok {
		return common.Address{}, invalid
	}

	return addr, nil
}

// boolParam accepts a JSON boolean or the strings "true" and "false"
func boolParam(params []json.RawMessage, index int) (bool, error) {
	if index >= len(params) {
		return false, &ParamError{Kind: ParamMissing, Index: index}
	}

	var b bool
	if err := json.Unmarshal(params[index], &b); err == nil {
		return b, nil
	}

	var s string
	if err := json.Unmarshal(params[index], &s); err == nil {
		switch strings.ToLower(s) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}

	return false, &ParamError{Kind: ParamInvalid, Index: index, Expected: "boolean"}
}

// parseAddress accepts up to 20 bytes of hex, left padding shorter values
func parseAddress(s string) (common.Address, bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 2*common.AddressLength {
		return common.Address{}, false
	}

	if len(s)%2 == 1 {
		s = "0" + s
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return common.Address{}, false
	}

	return common.BytesToAddress(b), true
}
