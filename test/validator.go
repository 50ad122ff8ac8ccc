package test

import (
	"github.com/sig-0/go-qbft"
	"github.com/sig-0/go-qbft/chain"
	"github.com/sig-0/go-qbft/engine"
	"github.com/sig-0/go-qbft/keys"
	"github.com/sig-0/go-qbft/message/transport"
	"github.com/sig-0/go-qbft/validator"
)

// Validator is a complete node: key, chain, consensus context and engine
type Validator struct {
	Key     *keys.Key
	Chain   *chain.Memory
	Context *qbft.Context
	Engine  *engine.Engine
}

func NewValidator(key *keys.Key, set *validator.Set, bus *transport.Bus, cfg networkConfig) (*Validator, error) {
	log := cfg.log.With("node", key.Address())

	mem := chain.NewMemory()
	mem.Author = key.Address()

	ctx, err := qbft.NewContext(log, mem, qbft.Snapshot{Height: 1, Validators: set})
	if err != nil {
		return nil, err
	}

	mem.Votes = ctx

	v := &Validator{
		Key:     key,
		Chain:   mem,
		Context: ctx,
	}

	tr := bus.Join(key.Address(), func(data []byte) {
		_ = v.Engine.AddRawMessage(data)
	})

	v.Engine, err = engine.New(engine.Config{
		Context:        ctx,
		Signer:         key,
		Verifier:       keys.ECRecover{},
		Transport:      tr,
		Metrics:        cfg.metrics(key.Address()),
		Logger:         log,
		Round0Duration: cfg.round0Duration,
	})
	if err != nil {
		return nil, err
	}

	return v, nil
}
