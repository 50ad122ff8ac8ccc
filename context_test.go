package qbft_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/go-qbft"
	"github.com/sig-0/go-qbft/chain"
	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/validator"
)

func validators(t *testing.T, n int) *validator.Set {
	t.Helper()

	addrs := make([]common.Address, 0, n)
	for i := 1; i <= n; i++ {
		addrs = append(addrs, common.BytesToAddress([]byte{byte(i)}))
	}

	set, err := validator.NewSet(addrs...)
	require.NoError(t, err)

	return set
}

func Test_NewContext(t *testing.T) {
	t.Parallel()

	_, err := qbft.NewContext(slogt.New(t), nil, qbft.Snapshot{Height: 1, Validators: validators(t, 4)})
	assert.ErrorIs(t, err, qbft.ErrInvalidConfig)

	_, err = qbft.NewContext(slogt.New(t), chain.NewMemory(), qbft.Snapshot{Height: 1})
	assert.ErrorIs(t, err, validator.ErrEmptySet)

	c, err := qbft.NewContext(slogt.New(t), chain.NewMemory(), qbft.Snapshot{Height: 1, Validators: validators(t, 4)})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), c.Height())
	assert.Equal(t, 4, c.Validators().Len())
}

// propose builds a block carrying the pending vote of c, as proposer would
func propose(t *testing.T, c *qbft.Context, mem *chain.Memory, proposer common.Address) *message.FinalizedBlock {
	t.Helper()

	block, err := mem.BuildProposal(context.Background(), c.Height(), 0)
	require.NoError(t, err)

	fb := &message.FinalizedBlock{
		Height:    c.Height(),
		Block:     block,
		BlockHash: message.BlockHash(block),
		Proposer:  proposer,
	}

	require.NoError(t, mem.ImportAndFinalize(context.Background(), fb))

	return fb
}

func Test_Context_Finalize_AddsValidator(t *testing.T) {
	t.Parallel()

	var (
		set       = validators(t, 4)
		candidate = common.BytesToAddress([]byte{0xff})
		mem       = chain.NewMemory()
	)

	c, err := qbft.NewContext(slogt.New(t), mem, qbft.Snapshot{Height: 1, Validators: set})
	require.NoError(t, err)

	mem.Votes = c

	c.PendingVotes().Propose(candidate, validator.AuthAdd)

	// quorum of 4 is 3 distinct proposers voting for the candidate
	for i, proposer := range set.Addresses()[:3] {
		snap, err := c.Finalize(propose(t, c, mem, proposer))
		require.NoError(t, err)

		assert.Equal(t, uint64(i+2), snap.Height)
	}

	assert.True(t, c.Validators().Contains(candidate))
	assert.Equal(t, 5, c.Validators().Len())
	assert.Empty(t, c.Tally().Tally())

	// satisfied votes are no longer embedded
	_, _, ok := c.NextVote()
	assert.False(t, ok)
}

func Test_Context_Finalize_CreditsBlockAuthor(t *testing.T) {
	t.Parallel()

	var (
		set       = validators(t, 4)
		candidate = common.BytesToAddress([]byte{0xff})
		builder   = set.At(0)
		decider   = set.At(1)
		mem       = chain.NewMemory()
	)

	c, err := qbft.NewContext(slogt.New(t), mem, qbft.Snapshot{Height: 1, Validators: set})
	require.NoError(t, err)

	mem.Votes = c
	mem.Author = builder

	c.PendingVotes().Propose(candidate, validator.AuthAdd)

	// the block built by builder is decided in a round proposed by decider
	_, err = c.Finalize(propose(t, c, mem, decider))
	require.NoError(t, err)

	assert.Equal(t,
		map[common.Address]validator.Auth{builder: validator.AuthAdd},
		c.Tally().Voters(candidate),
	)
}

func Test_Context_Finalize_RejectedVoteAdvances(t *testing.T) {
	t.Parallel()

	var (
		set = validators(t, 4)
		mem = chain.NewMemory()
	)

	c, err := qbft.NewContext(slogt.New(t), mem, qbft.Snapshot{Height: 1, Validators: set})
	require.NoError(t, err)

	mem.Votes = c

	c.PendingVotes().Propose(set.At(0), validator.AuthDrop)

	for _, proposer := range set.Addresses()[:3] {
		_, err := c.Finalize(propose(t, c, mem, proposer))
		require.NoError(t, err)
	}

	// dropping a member of a 4 validator set would leave it unsafe
	assert.Equal(t, set, c.Validators())
	assert.Equal(t, uint64(4), c.Height())
}

func Test_Context_Finalize_WrongHeight(t *testing.T) {
	t.Parallel()

	c, err := qbft.NewContext(slogt.New(t), chain.NewMemory(), qbft.Snapshot{Height: 5, Validators: validators(t, 4)})
	require.NoError(t, err)

	_, err = c.Finalize(&message.FinalizedBlock{Height: 4})
	assert.Error(t, err)
	assert.Equal(t, uint64(5), c.Height())
}
