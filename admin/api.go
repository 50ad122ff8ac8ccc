// Package admin exposes operator controls of a QBFT node over HTTP: a JSON-RPC
// 2.0 endpoint, equivalent REST routes and the Prometheus scrape endpoint.
package admin

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft"
	"github.com/sig-0/go-qbft/validator"
)

// API implements the admin methods on top of a consensus context
type API struct {
	log   *slog.Logger
	ctx   *qbft.Context
	votes *validator.PendingVotes
}

// NewAPI serves ctx. When votesEnabled is false the vote methods report
// ErrMethodNotEnabled
func NewAPI(log *slog.Logger, ctx *qbft.Context, votesEnabled bool) *API {
	a := &API{log: log, ctx: ctx}
	if votesEnabled {
		a.votes = ctx.PendingVotes()
	}

	return a
}

type ValidatorsResponse struct {
	Height     uint64           `json:"height"`
	Validators []common.Address `json:"validators"`
}

func (a *API) Validators() ValidatorsResponse {
	snap := a.ctx.Snapshot()

	return ValidatorsResponse{
		Height:     snap.Height,
		Validators: snap.Validators.Addresses(),
	}
}

// PendingVotes maps each target to true for an add vote and false for a drop vote
func (a *API) PendingVotes() map[common.Address]bool {
	pending := a.votes.List()

	out := make(map[common.Address]bool, len(pending))
	for target, auth := range pending {
		out[target] = auth == validator.AuthAdd
	}

	return out
}

func (a *API) ProposeVote(target common.Address, auth validator.Auth) {
	a.votes.Propose(target, auth)
	a.log.Info("Validator vote proposed", "target", target, "auth", auth)
}

func (a *API) DiscardVote(target common.Address) {
	a.votes.Discard(target)
	a.log.Info("Validator vote discarded", "target", target)
}
