package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/go-qbft"
	"github.com/sig-0/go-qbft/chain"
	"github.com/sig-0/go-qbft/keys"
	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/message/store"
	"github.com/sig-0/go-qbft/message/transport"
	"github.com/sig-0/go-qbft/message/wire"
	"github.com/sig-0/go-qbft/test/mock"
	"github.com/sig-0/go-qbft/validator"
)

var discardTransport = transport.Broadcast(func([]byte) {})

func newContext(t *testing.T, addrs ...common.Address) (*qbft.Context, *chain.Memory) {
	t.Helper()

	set, err := validator.NewSet(addrs...)
	require.NoError(t, err)

	mem := chain.NewMemory()

	ctx, err := qbft.NewContext(slogt.New(t), mem, qbft.Snapshot{Height: 1, Validators: set})
	require.NoError(t, err)

	return ctx, mem
}

func Test_Config_IsValid(t *testing.T) {
	t.Parallel()

	key := keys.MustGenerate(1)[0]
	qctx, _ := newContext(t, key.Address())

	table := []struct {
		name     string
		cfg      Config
		expected error
	}{
		{
			name:     "missing context",
			expected: ErrInvalidConfig,
			cfg:      Config{},
		},

		{
			name:     "missing signer",
			expected: ErrInvalidConfig,
			cfg: Config{
				Context: qctx,
			},
		},

		{
			name:     "missing verifier",
			expected: ErrInvalidConfig,
			cfg: Config{
				Context: qctx,
				Signer:  key,
			},
		},

		{
			name:     "missing transport",
			expected: ErrInvalidConfig,
			cfg: Config{
				Context:  qctx,
				Signer:   key,
				Verifier: keys.ECRecover{},
			},
		},

		{
			name:     "invalid round 0 duration",
			expected: ErrInvalidConfig,
			cfg: Config{
				Context:   qctx,
				Signer:    key,
				Verifier:  keys.ECRecover{},
				Transport: discardTransport,
			},
		},

		{
			name:     "max round duration below round 0",
			expected: ErrInvalidConfig,
			cfg: Config{
				Context:          qctx,
				Signer:           key,
				Verifier:         keys.ECRecover{},
				Transport:        discardTransport,
				Round0Duration:   time.Second,
				MaxRoundDuration: time.Millisecond,
			},
		},

		{
			name:     "ok",
			expected: nil,
			cfg: Config{
				Context:        qctx,
				Signer:         key,
				Verifier:       keys.ECRecover{},
				Transport:      discardTransport,
				Round0Duration: time.Second,
			},
		},
	}

	for _, tt := range table {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.ErrorIs(t, tt.cfg.IsValid(), tt.expected)
		})
	}
}

func Test_Engine_AddMessage(t *testing.T) {
	t.Parallel()

	ks := keys.MustGenerate(4)
	qctx, _ := newContext(t, ks[0].Address(), ks[1].Address(), ks[2].Address(), ks[3].Address())

	e, err := New(Config{
		Context:        qctx,
		Signer:         ks[0],
		Verifier:       keys.ECRecover{},
		Transport:      discardTransport,
		Logger:         slogt.New(t),
		Round0Duration: time.Second,
		QueueSize:      1,
	})
	require.NoError(t, err)

	prepare := message.NewPrepare(ks[1], message.View{Height: 1}, common.Hash{1})

	assert.ErrorIs(t, e.AddMessage(&message.MsgPrepare{}), message.ErrInvalidMessage)
	assert.ErrorIs(t, e.AddRawMessage([]byte{0xff}), wire.ErrMalformedEnvelope)

	require.NoError(t, e.AddRawMessage(wire.Encode(prepare)))
	assert.ErrorIs(t, e.AddMessage(prepare), ErrQueueFull)
}

func Test_Engine_SingleValidator(t *testing.T) {
	t.Parallel()

	key := keys.MustGenerate(1)[0]
	qctx, mem := newContext(t, key.Address())

	e, err := New(Config{
		Context:        qctx,
		Signer:         key,
		Verifier:       keys.ECRecover{},
		Transport:      discardTransport,
		Logger:         slogt.New(t),
		Round0Duration: time.Second,
	})
	require.NoError(t, err)

	ch := make(chan *message.FinalizedBlock, 8)
	sub := e.SubscribeFinalized(ch)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx)
	}()

	for height := uint64(1); height <= 3; height++ {
		select {
		case fb := <-ch:
			assert.Equal(t, height, fb.Height)
			assert.Equal(t, uint64(0), fb.Round)
			assert.Equal(t, key.Address(), fb.Proposer)
			require.Len(t, fb.Seals, 1)
		case <-time.After(5 * time.Second):
			t.Fatalf("height %d not finalized", height)
		}
	}

	assert.ErrorIs(t, e.Run(ctx), ErrAlreadyRunning)

	// the feed blocks the loop on a full channel until unsubscribed
	sub.Unsubscribe()
	cancel()
	require.NoError(t, <-done)

	assert.GreaterOrEqual(t, mem.Head().Header.Height, uint64(3))
	assert.Greater(t, qctx.Height(), uint64(3))
}

// newEngine returns an engine over a 4 validator set for the validator at
// index of the set. Its round timer never fires on its own
func newEngine(
	t *testing.T,
	index int,
	blocks mock.Blocks,
	tr message.Transport,
	m *mock.Metrics,
) (*Engine, *qbft.Context, map[common.Address]*keys.Key) {
	t.Helper()

	ks := keys.MustGenerate(4)

	byAddr := make(map[common.Address]*keys.Key, len(ks))
	addrs := make([]common.Address, 0, len(ks))

	for _, k := range ks {
		byAddr[k.Address()] = k
		addrs = append(addrs, k.Address())
	}

	set, err := validator.NewSet(addrs...)
	require.NoError(t, err)

	qctx, err := qbft.NewContext(slogt.New(t), blocks, qbft.Snapshot{Height: 1, Validators: set})
	require.NoError(t, err)

	e, err := New(Config{
		Context:        qctx,
		Signer:         byAddr[set.At(index)],
		Verifier:       keys.ECRecover{},
		Transport:      tr,
		Metrics:        m,
		Logger:         slogt.New(t),
		Round0Duration: time.Hour,
	})
	require.NoError(t, err)

	t.Cleanup(e.sched.stop)

	return e, qctx, byAddr
}

func Test_Engine_BuffersFutureHeight(t *testing.T) {
	t.Parallel()

	var (
		m              = mock.NewMetrics()
		e, qctx, byKey = newEngine(t, 0, mock.Blocks{}, discardTransport, m)
		set            = qctx.Validators()
		peer           = byKey[set.At(2)]
		outsider       = keys.MustGenerate(1)[0]
		hash           = common.Hash{1}
	)

	e.startHeight()

	next := message.NewPrepare(peer, message.View{Height: 2}, hash)
	e.handleMessage(next)

	assert.Equal(t, 1, e.buffer.Len())

	// too far ahead, or from a sender outside the set
	e.handleMessage(message.NewPrepare(peer, message.View{Height: 2 + maxHeightLookahead}, hash))
	e.handleMessage(message.NewPrepare(outsider, message.View{Height: 2}, hash))

	assert.Equal(t, 1, e.buffer.Len())

	_, err := qctx.Finalize(&message.FinalizedBlock{Height: 1, Block: []byte("block")})
	require.NoError(t, err)

	e.startHeight()

	assert.Equal(t, 0, e.buffer.Len())
	assert.Equal(t, uint64(2), e.seq.View().Height)
	assert.Equal(t, 1, e.seq.RoundState(0).PrepareCount())

	// past height messages are dropped without being judged
	e.handleMessage(message.NewPrepare(peer, message.View{Height: 1}, hash))

	assert.Equal(t, 0, e.buffer.Len())
	assert.Empty(t, m.Invalid)
}

func Test_Engine_FutureFloodKeepsNextHeight(t *testing.T) {
	t.Parallel()

	var (
		e, qctx, byKey = newEngine(t, 0, mock.Blocks{}, discardTransport, mock.NewMetrics())
		set            = qctx.Validators()
		peer           = byKey[set.At(2)]
		outsider       = keys.MustGenerate(1)[0]
		hash           = common.Hash{1}
	)

	e.buffer = store.NewMsgStore(4)
	e.startHeight()

	next := message.NewPrepare(peer, message.View{Height: 2}, hash)
	e.handleMessage(next)

	for round := uint64(0); round < 16; round++ {
		e.handleMessage(message.NewPrepare(peer, message.View{Height: 1_000_000, Round: round}, hash))
		e.handleMessage(message.NewPrepare(outsider, message.View{Height: 3, Round: round}, hash))
	}

	assert.Equal(t, []uint64{2}, e.buffer.Heights())
	assert.Equal(t, []message.Message{next}, e.buffer.Take(2))
}

func Test_Engine_IgnoresSupersededBuild(t *testing.T) {
	t.Parallel()

	var (
		release = make(chan struct{})
		sent    []message.Kind
	)

	blocks := mock.Blocks{
		BuildProposalFn: func(ctx context.Context, _, _ uint64) ([]byte, error) {
			select {
			case <-release:
				return []byte("late block"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	tr := transport.Broadcast(func(data []byte) {
		msg, err := wire.Decode(data)
		require.NoError(t, err)

		sent = append(sent, msg.Kind())
	})

	// index 1 proposes height 1, round 0
	e, _, _ := newEngine(t, 1, blocks, tr, mock.NewMetrics())

	e.startHeight()
	require.NotNil(t, e.sched.build)

	e.handle(timeoutEvent{view: message.View{Height: 1, Round: 0}})
	require.Equal(t, uint64(1), e.seq.View().Round)

	close(release)

	select {
	case ev := <-e.events:
		require.IsType(t, builtEvent{}, ev)
		e.handle(ev)
	case <-time.After(5 * time.Second):
		t.Fatal("block build never completed")
	}

	assert.Equal(t, []message.Kind{message.KindRoundChange}, sent)
	assert.Nil(t, e.seq.RoundState(0).Proposal())
	assert.Nil(t, e.seq.RoundState(1).Proposal())
}

func Test_Scheduler_CompleteStaleBuild(t *testing.T) {
	t.Parallel()

	e, _, _ := newEngine(t, 0, mock.Blocks{}, discardTransport, mock.NewMetrics())

	view := message.View{Height: 1}

	e.sched.RequestProposal(view)
	first := e.sched.build.id

	e.sched.RequestProposal(view)
	second := e.sched.build.id

	assert.False(t, e.sched.complete(first))
	assert.True(t, e.sched.complete(second))
	assert.False(t, e.sched.complete(second))
}

func Test_Engine_FinalizeFailureHalts(t *testing.T) {
	t.Parallel()

	key := keys.MustGenerate(1)[0]

	set, err := validator.NewSet(key.Address())
	require.NoError(t, err)

	var qctx *qbft.Context

	// the importer advances the context itself, so the engine finds it at the wrong height
	blocks := mock.Blocks{
		ImportAndFinalizeFn: func(_ context.Context, fb *message.FinalizedBlock) error {
			_, err := qctx.Finalize(fb)

			return err
		},
	}

	qctx, err = qbft.NewContext(slogt.New(t), blocks, qbft.Snapshot{Height: 1, Validators: set})
	require.NoError(t, err)

	e, err := New(Config{
		Context:        qctx,
		Signer:         key,
		Verifier:       keys.ECRecover{},
		Transport:      discardTransport,
		Logger:         slogt.New(t),
		Round0Duration: time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.ErrorIs(t, e.Run(ctx), qbft.ErrInvalidConfig)
	assert.NoError(t, ctx.Err())
	assert.Equal(t, uint64(2), qctx.Height())
}
