package test

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/keys"
	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/message/transport"
	"github.com/sig-0/go-qbft/metrics"
	"github.com/sig-0/go-qbft/validator"
)

const Round0Timeout = 500 * time.Millisecond

type MessageOption func(m message.Message) bool

// ExcludeMsgIf drops messages matching all opts
func ExcludeMsgIf(opts ...MessageOption) transport.Filter {
	return func(_, _ common.Address, m message.Message) bool {
		for _, opt := range opts {
			if !opt(m) {
				return true
			}
		}

		return false
	}
}

func IsMsgProposal() MessageOption {
	return func(m message.Message) bool {
		return m.Kind() == message.KindProposal
	}
}

func IsMsgPrepare() MessageOption {
	return func(m message.Message) bool {
		return m.Kind() == message.KindPrepare
	}
}

func IsMsgCommit() MessageOption {
	return func(m message.Message) bool {
		return m.Kind() == message.KindCommit
	}
}

func IsMsgRoundChange() MessageOption {
	return func(m message.Message) bool {
		return m.Kind() == message.KindRoundChange
	}
}

func HasRound(r uint64) MessageOption {
	return func(m message.Message) bool {
		return m.View().Round == r
	}
}

func HasHeight(h uint64) MessageOption {
	return func(m message.Message) bool {
		return m.View().Height == h
	}
}

// Network is a set of validators connected through an in-process bus
type Network struct {
	Bus        *transport.Bus
	Set        *validator.Set
	Validators []*Validator
}

type NetworkOption func(*networkConfig)

type networkConfig struct {
	log            *slog.Logger
	round0Duration time.Duration
	offline        int
	genesis        int
	metrics        func(addr common.Address) metrics.Metrics
}

func WithLogger(log *slog.Logger) NetworkOption {
	return func(cfg *networkConfig) {
		cfg.log = log
	}
}

func WithRound0Duration(d time.Duration) NetworkOption {
	return func(cfg *networkConfig) {
		cfg.round0Duration = d
	}
}

// WithOffline keeps the last n members of the validator set without a running node
func WithOffline(n int) NetworkOption {
	return func(cfg *networkConfig) {
		cfg.offline = n
	}
}

// WithGenesis puts only the first n keys in the starting validator set
func WithGenesis(n int) NetworkOption {
	return func(cfg *networkConfig) {
		cfg.genesis = n
	}
}

func WithMetrics(fn func(addr common.Address) metrics.Metrics) NetworkOption {
	return func(cfg *networkConfig) {
		cfg.metrics = fn
	}
}

// NewNetwork creates size validators starting at height 1. The keys of offline
// validators are returned so tests can sign on their behalf
func NewNetwork(size int, opts ...NetworkOption) (*Network, []*keys.Key, error) {
	cfg := networkConfig{
		log:            slog.Default(),
		round0Duration: Round0Timeout,
		metrics:        func(common.Address) metrics.Metrics { return metrics.NoOp{} },
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.genesis == 0 {
		cfg.genesis = size
	}

	ks := keys.MustGenerate(size)

	addrs := make([]common.Address, 0, cfg.genesis)
	for _, k := range ks[:cfg.genesis] {
		addrs = append(addrs, k.Address())
	}

	set, err := validator.NewSet(addrs...)
	if err != nil {
		return nil, nil, err
	}

	n := &Network{
		Bus: transport.NewBus(),
		Set: set,
	}

	online := ks[:size-cfg.offline]

	for _, k := range online {
		v, err := NewValidator(k, set, n.Bus, cfg)
		if err != nil {
			return nil, nil, err
		}

		n.Validators = append(n.Validators, v)
	}

	return n, ks[size-cfg.offline:], nil
}

// Validator returns the running node of addr, or nil
func (n *Network) Validator(addr common.Address) *Validator {
	for _, v := range n.Validators {
		if v.Key.Address() == addr {
			return v
		}
	}

	return nil
}

func (n *Network) WithFilter(f transport.Filter) *Network {
	n.Bus.SetFilter(f)

	return n
}

// Run runs all validators until ctx is cancelled. The returned function waits for them to stop
func (n *Network) Run(ctx context.Context) func() {
	var wg sync.WaitGroup

	for _, v := range n.Validators {
		wg.Add(1)

		go func(v *Validator) {
			defer wg.Done()

			_ = v.Engine.Run(ctx)
		}(v)
	}

	return wg.Wait
}

// WaitFor polls cond on every validator until it holds for all of them
func (n *Network) WaitFor(ctx context.Context, cond func(v *Validator) bool) bool {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		done := true

		for _, v := range n.Validators {
			if !cond(v) {
				done = false

				break
			}
		}

		if done {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// WaitHeight waits until every validator has finalized all heights below height
func (n *Network) WaitHeight(ctx context.Context, height uint64) bool {
	return n.WaitFor(ctx, func(v *Validator) bool {
		return v.Context.Height() >= height
	})
}
