// Package metrics defines the observability sink of the consensus engine.
package metrics

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/message"
)

// Metrics receives consensus events. Implementations must be safe for
// concurrent use and must not block
type Metrics interface {
	// QuorumReached is emitted once per round and message kind
	QuorumReached(kind message.Kind, view message.View)

	// RoundChange is emitted when the node moves to view.Round within a height
	RoundChange(view message.View)

	// RoundTimeout is emitted when the round timer of view expires
	RoundTimeout(view message.View)

	// Equivocation is emitted when sender signed two conflicting messages
	Equivocation(kind message.Kind, sender common.Address)

	InvalidMessage(kind message.Kind)
	BlockFinalized(height, round uint64)
}

// NoOp discards all events
type NoOp struct{}

func (NoOp) QuorumReached(message.Kind, message.View) {}
func (NoOp) RoundChange(message.View) {}
func (NoOp) RoundTimeout(message.View) {}
func (NoOp) Equivocation(message.Kind, common.Address) {}
func (NoOp) InvalidMessage(message.Kind) {}
func (NoOp) BlockFinalized(uint64, uint64) {}
