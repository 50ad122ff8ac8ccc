package test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/metrics"
	"github.com/sig-0/go-qbft/test/mock"
	"github.com/sig-0/go-qbft/validator"
)

func run(t *testing.T, n *Network, timeout time.Duration) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	wait := n.Run(ctx)

	t.Cleanup(func() {
		cancel()
		wait()
	})

	return ctx
}

func Test_All_Honest_Validators(t *testing.T) {
	t.Parallel()

	n, _, err := NewNetwork(4, WithLogger(slogt.New(t)))
	require.NoError(t, err)

	ctx := run(t, n, 10*time.Second)

	require.True(t, n.WaitHeight(ctx, 4))

	for h := uint64(1); h < 4; h++ {
		want := n.Validators[0].Chain.BlockAt(h)
		require.NotNil(t, want)

		for _, v := range n.Validators[1:] {
			got := v.Chain.BlockAt(h)
			require.NotNil(t, got)

			assert.Equal(t, want.Hash, got.Hash)
			assert.GreaterOrEqual(t, len(got.Seals), n.Set.Quorum())
		}
	}
}

func Test_Sequence_Finalized_In_Round_1(t *testing.T) {
	t.Parallel()

	n, _, err := NewNetwork(4,
		WithLogger(slogt.New(t)),
		WithRound0Duration(200*time.Millisecond),
	)
	require.NoError(t, err)

	n.WithFilter(ExcludeMsgIf(IsMsgProposal(), HasRound(0), HasHeight(1)))

	ctx := run(t, n, 10*time.Second)

	require.True(t, n.WaitHeight(ctx, 3))

	for _, v := range n.Validators {
		assert.Equal(t, uint64(1), v.Chain.BlockAt(1).Round)
	}
}

func Test_Round_Change_Certificate_Carries_Prepared_Block(t *testing.T) {
	t.Parallel()

	n, _, err := NewNetwork(4,
		WithLogger(slogt.New(t)),
		WithRound0Duration(200*time.Millisecond),
	)
	require.NoError(t, err)

	// everyone prepares in round 0 but nobody sees a commit, so round 1 must re-propose
	n.WithFilter(ExcludeMsgIf(IsMsgCommit(), HasRound(0), HasHeight(1)))

	ctx := run(t, n, 10*time.Second)

	require.True(t, n.WaitHeight(ctx, 2))

	block := n.Validators[0].Chain.BlockAt(1)
	require.NotNil(t, block)

	assert.Equal(t, uint64(1), block.Round)
	assert.Equal(t, uint64(0), block.Header.Round)
}

func Test_Offline_Validator(t *testing.T) {
	t.Parallel()

	n, offline, err := NewNetwork(4,
		WithLogger(slogt.New(t)),
		WithRound0Duration(200*time.Millisecond),
		WithOffline(1),
	)
	require.NoError(t, err)
	require.Len(t, offline, 1)
	require.Len(t, n.Validators, 3)

	ctx := run(t, n, 15*time.Second)

	// the offline validator proposes one of the first four heights
	require.True(t, n.WaitHeight(ctx, 5))
}

func Test_Equivocating_Validator(t *testing.T) {
	t.Parallel()

	recorders := make(map[common.Address]*mock.Metrics)

	n, offline, err := NewNetwork(4,
		WithLogger(slogt.New(t)),
		WithRound0Duration(200*time.Millisecond),
		WithOffline(1),
		WithMetrics(func(addr common.Address) metrics.Metrics {
			recorders[addr] = mock.NewMetrics()

			return recorders[addr]
		}),
	)
	require.NoError(t, err)

	var (
		byzantine = offline[0]
		target    = n.Validators[0]
		view      = message.View{Height: 1, Round: 0}
	)

	require.NoError(t, target.Engine.AddMessage(message.NewPrepare(byzantine, view, common.HexToHash("0x1"))))
	require.NoError(t, target.Engine.AddMessage(message.NewPrepare(byzantine, view, common.HexToHash("0x2"))))

	ctx := run(t, n, 10*time.Second)

	require.True(t, n.WaitHeight(ctx, 3))

	m := recorders[target.Key.Address()]

	assert.Equal(t, 1, m.EquivocationsOf(byzantine.Address()))
	assert.Contains(t, m.FinalizedHeights(), uint64(1))
}

func Test_Validator_Vote(t *testing.T) {
	t.Parallel()

	n, offline, err := NewNetwork(5,
		WithLogger(slogt.New(t)),
		WithRound0Duration(200*time.Millisecond),
		WithOffline(1),
		WithGenesis(4),
	)
	require.NoError(t, err)
	require.Equal(t, 4, n.Set.Len())

	joining := offline[0].Address()

	for _, v := range n.Validators {
		v.Context.PendingVotes().Propose(joining, validator.AuthAdd)
	}

	ctx := run(t, n, 20*time.Second)

	require.True(t, n.WaitFor(ctx, func(v *Validator) bool {
		return v.Context.Validators().Contains(joining)
	}))

	for _, v := range n.Validators {
		assert.Equal(t, 5, v.Context.Validators().Len())
	}

	// four of five is still a quorum
	height := n.Validators[0].Context.Height()
	require.True(t, n.WaitHeight(ctx, height+2))
}

func Test_Reproposed_Block_Credits_Vote_To_Builder(t *testing.T) {
	t.Parallel()

	n, offline, err := NewNetwork(5,
		WithLogger(slogt.New(t)),
		WithRound0Duration(200*time.Millisecond),
		WithOffline(1),
		WithGenesis(4),
	)
	require.NoError(t, err)

	var (
		joining    = offline[0].Address()
		builder    = n.Set.At(1) // proposer of height 1, round 0
		reproposer = n.Set.At(2) // proposer of height 1, round 1
		node       = n.Validator(builder)
	)

	require.NotNil(t, node)
	node.Context.PendingVotes().Propose(joining, validator.AuthAdd)

	// round 0 prepares but never commits, so round 1 re-proposes the builder's block
	n.WithFilter(ExcludeMsgIf(IsMsgCommit(), HasRound(0), HasHeight(1)))

	ctx := run(t, n, 10*time.Second)

	require.True(t, n.WaitHeight(ctx, 2))

	for _, v := range n.Validators {
		block := v.Chain.BlockAt(1)
		require.NotNil(t, block)

		assert.Equal(t, uint64(1), block.Round)
		assert.Equal(t, reproposer, block.Proposer)
		assert.Equal(t, builder, block.Header.Author)

		assert.Equal(t,
			map[common.Address]validator.Auth{builder: validator.AuthAdd},
			v.Context.Tally().Voters(joining),
		)
	}
}
