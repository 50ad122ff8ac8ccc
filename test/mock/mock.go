// Package mock provides function-backed fakes of the host chain capabilities.
package mock

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/validator"
)

var (
	OkBlock = func(_ []byte, _ uint64) bool { return true }
	NoVote  = func(_ []byte) (*validator.Vote, error) { return nil, nil }
)

// StaticBlock builds the same block for every height and round
func StaticBlock(block []byte) func(context.Context, uint64, uint64) ([]byte, error) {
	return func(context.Context, uint64, uint64) ([]byte, error) {
		return block, nil
	}
}

// Blocks implements qbft.BlockInterface. A nil function falls back to an
// accepting default
type Blocks struct {
	BuildProposalFn     func(ctx context.Context, height, round uint64) ([]byte, error)
	ImportAndFinalizeFn func(ctx context.Context, fb *message.FinalizedBlock) error
	IsValidProposalFn   func(block []byte, height uint64) bool
	ExtractVoteFn       func(block []byte) (*validator.Vote, error)
}

func (b Blocks) BuildProposal(ctx context.Context, height, round uint64) ([]byte, error) {
	if b.BuildProposalFn == nil {
		return []byte("block"), nil
	}

	return b.BuildProposalFn(ctx, height, round)
}

func (b Blocks) ImportAndFinalize(ctx context.Context, fb *message.FinalizedBlock) error {
	if b.ImportAndFinalizeFn == nil {
		return nil
	}

	return b.ImportAndFinalizeFn(ctx, fb)
}

func (b Blocks) IsValidProposal(block []byte, height uint64) bool {
	if b.IsValidProposalFn == nil {
		return OkBlock(block, height)
	}

	return b.IsValidProposalFn(block, height)
}

func (b Blocks) ExtractVote(block []byte) (*validator.Vote, error) {
	if b.ExtractVoteFn == nil {
		return NoVote(block)
	}

	return b.ExtractVoteFn(block)
}

// Metrics records consensus events for assertions. It is safe for concurrent use
type Metrics struct {
	mu sync.Mutex

	Quorums       map[message.Kind]int
	RoundChanges  int
	RoundTimeouts int
	Equivocations map[common.Address]int
	Invalid       map[message.Kind]int
	Finalized     []uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		Quorums:       make(map[message.Kind]int),
		Equivocations: make(map[common.Address]int),
		Invalid:       make(map[message.Kind]int),
	}
}

func (m *Metrics) QuorumReached(kind message.Kind, _ message.View) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Quorums[kind]++
}

func (m *Metrics) RoundChange(message.View) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RoundChanges++
}

func (m *Metrics) RoundTimeout(message.View) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RoundTimeouts++
}

func (m *Metrics) Equivocation(_ message.Kind, sender common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Equivocations[sender]++
}

func (m *Metrics) InvalidMessage(kind message.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Invalid[kind]++
}

func (m *Metrics) BlockFinalized(height, _ uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Finalized = append(m.Finalized, height)
}

// EquivocationsOf returns the number of conflicting messages seen from sender
func (m *Metrics) EquivocationsOf(sender common.Address) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Equivocations[sender]
}

func (m *Metrics) FinalizedHeights() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]uint64(nil), m.Finalized...)
}
