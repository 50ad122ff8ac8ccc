// Package qbft defines the chain-scoped context of the QBFT consensus core and
// the capabilities it requires from the host chain.
package qbft

import (
	"context"
	"errors"

	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/validator"
)

var (
	// ErrNoTransactions and ErrExecution make the proposer abstain from the round
	ErrNoTransactions = errors.New("no transactions to propose")
	ErrExecution      = errors.New("block execution failed")

	// ErrBlockRejected is returned by the importer for a block the chain refuses
	ErrBlockRejected = errors.New("block rejected by chain")

	ErrInvalidConfig = errors.New("invalid qbft context")
)

// BlockBuilder constructs blocks on behalf of the proposer
type BlockBuilder interface {
	// BuildProposal returns a new block for (height, round). It must honor ctx cancellation
	BuildProposal(ctx context.Context, height, round uint64) ([]byte, error)
}

// BlockImporter persists finalized blocks
type BlockImporter interface {
	// ImportAndFinalize imports fb together with its commit seals
	ImportAndFinalize(ctx context.Context, fb *message.FinalizedBlock) error
}

type BlockVerifier interface {
	// IsValidProposal checks if block is a valid proposal for height
	IsValidProposal(block []byte, height uint64) bool
}

// VoteExtractor reads the validator vote a block carries
type VoteExtractor interface {
	// ExtractVote returns the vote in block, or nil if there is none.
	// The voter is filled in by the caller
	ExtractVote(block []byte) (*validator.Vote, error)
}

// BlockInterface is the full set of block capabilities of a chain
type BlockInterface interface {
	BlockBuilder
	BlockImporter
	BlockVerifier
	VoteExtractor
}
