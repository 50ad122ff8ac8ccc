package qbft

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/validator"
)

// Snapshot is the height being decided and the validators deciding it
type Snapshot struct {
	Height     uint64
	Validators *validator.Set
}

// Context holds the chain-scoped state shared by the consensus engine and the
// admin surface. The snapshot is replaced, never mutated, and only by Finalize
type Context struct {
	log      *slog.Logger
	snapshot atomic.Pointer[Snapshot]
	tally    *validator.Tally
	votes    *validator.PendingVotes
	blocks   BlockInterface
}

// NewContext starts consensus at snapshot.Height with snapshot.Validators
func NewContext(log *slog.Logger, blocks BlockInterface, snapshot Snapshot) (*Context, error) {
	if blocks == nil {
		return nil, fmt.Errorf("%w: nil block interface", ErrInvalidConfig)
	}

	if snapshot.Validators == nil || snapshot.Validators.Len() == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, validator.ErrEmptySet)
	}

	c := &Context{
		log:    log,
		tally:  validator.NewTally(),
		votes:  validator.NewPendingVotes(),
		blocks: blocks,
	}

	c.snapshot.Store(&snapshot)

	return c, nil
}

func (c *Context) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

func (c *Context) Height() uint64 {
	return c.Snapshot().Height
}

func (c *Context) Validators() *validator.Set {
	return c.Snapshot().Validators
}

func (c *Context) Tally() *validator.Tally {
	return c.tally
}

func (c *Context) PendingVotes() *validator.PendingVotes {
	return c.votes
}

func (c *Context) Blocks() BlockInterface {
	return c.blocks
}

// NextVote returns the operator vote the next proposed block should carry
func (c *Context) NextVote() (common.Address, validator.Auth, bool) {
	return c.votes.Next(c.Validators())
}

// Finalize applies the vote carried by the imported block fb and moves the
// snapshot to the next height. Vote rejections are logged and do not stop the chain
func (c *Context) Finalize(fb *message.FinalizedBlock) (*Snapshot, error) {
	current := c.Snapshot()
	if fb.Height != current.Height {
		return nil, fmt.Errorf("%w: finalized height %d, current %d", ErrInvalidConfig, fb.Height, current.Height)
	}

	set := current.Validators

	vote, err := c.blocks.ExtractVote(fb.Block)
	if err != nil {
		c.log.Warn("Unable to read vote from finalized block", "height", fb.Height, "err", err)
	}

	if vote != nil {
		// blocks that do not name their author credit the proposer of the deciding round
		if vote.Voter == (common.Address{}) {
			vote.Voter = fb.Proposer
		}

		updated, outcome, err := c.tally.CastVote(set, *vote)

		switch {
		case err != nil:
			c.log.Info("Vote ignored",
				"height", fb.Height,
				"voter", vote.Voter,
				"target", vote.Target,
				"auth", vote.Auth,
				"err", err,
			)
		case outcome != validator.OutcomePending:
			c.log.Info("Validator set changed",
				"height", fb.Height,
				"target", vote.Target,
				"auth", vote.Auth,
				"validators", updated.Len(),
			)
		}

		set = updated
	}

	next := &Snapshot{
		Height:     fb.Height + 1,
		Validators: set,
	}

	c.snapshot.Store(next)

	return next, nil
}
