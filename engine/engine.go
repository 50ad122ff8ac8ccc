// Package engine drives the QBFT sequencer across heights. It serializes network
// messages, round timers and block construction results onto one event loop,
// imports finalized blocks and advances the chain-scoped context.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	gethevent "github.com/ethereum/go-ethereum/event"

	"github.com/sig-0/go-qbft"
	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/message/store"
	"github.com/sig-0/go-qbft/message/wire"
	"github.com/sig-0/go-qbft/metrics"
	"github.com/sig-0/go-qbft/sequencer"
)

const (
	DefaultQueueSize = 1024

	// messages further ahead than this many heights are not buffered
	maxHeightLookahead = 16
)

var (
	ErrInvalidConfig  = errors.New("invalid engine config")
	ErrQueueFull      = errors.New("engine event queue is full")
	ErrAlreadyRunning = errors.New("engine is already running")
)

type Config struct {
	Context   *qbft.Context
	Signer    message.Signer
	Verifier  message.SignatureVerifier
	Transport message.Transport
	Metrics   metrics.Metrics
	Logger    *slog.Logger

	Round0Duration   time.Duration
	MaxRoundDuration time.Duration
	LagTolerance     uint64

	// QueueSize bounds pending events. Network messages beyond it are dropped
	QueueSize int

	// BufferCapacity bounds buffered future height messages
	BufferCapacity int
}

func (cfg Config) IsValid() error {
	if cfg.Context == nil {
		return fmt.Errorf("%w: nil Context", ErrInvalidConfig)
	}

	if cfg.Signer == nil {
		return fmt.Errorf("%w: nil Signer", ErrInvalidConfig)
	}

	if cfg.Verifier == nil {
		return fmt.Errorf("%w: nil Verifier", ErrInvalidConfig)
	}

	if cfg.Transport == nil {
		return fmt.Errorf("%w: nil Transport", ErrInvalidConfig)
	}

	if cfg.Round0Duration <= 0 {
		return fmt.Errorf("%w: round 0 duration must be positive", ErrInvalidConfig)
	}

	if cfg.MaxRoundDuration != 0 && cfg.MaxRoundDuration < cfg.Round0Duration {
		return fmt.Errorf("%w: max round duration below round 0 duration", ErrInvalidConfig)
	}

	if cfg.QueueSize < 0 || cfg.BufferCapacity < 0 {
		return fmt.Errorf("%w: negative queue size or buffer capacity", ErrInvalidConfig)
	}

	return nil
}

// Engine finalizes consecutive heights of a single chain. Run drives it;
// AddMessage and AddRawMessage may be called from any goroutine
type Engine struct {
	cfg    Config
	log    *slog.Logger
	ctx    *qbft.Context
	seq    *sequencer.Sequencer
	buffer *store.MsgStore
	events chan event

	finalizedFeed gethevent.Feed
	running       atomic.Bool

	// owned by the Run goroutine
	sched *scheduler
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoOp{}
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	e := &Engine{
		cfg:    cfg,
		log:    cfg.Logger.With("validator", cfg.Signer.Address()),
		ctx:    cfg.Context,
		buffer: store.NewMsgStore(cfg.BufferCapacity),
		events: make(chan event, cfg.QueueSize),
	}

	e.sched = newScheduler(e)

	e.seq = sequencer.New(sequencer.NewConfig(
		sequencer.WithSigner(cfg.Signer),
		sequencer.WithSignatureVerifier(cfg.Verifier),
		sequencer.WithBlockVerifier(cfg.Context.Blocks()),
		sequencer.WithTransport(cfg.Transport),
		sequencer.WithScheduler(e.sched),
		sequencer.WithMetrics(cfg.Metrics),
		sequencer.WithLogger(e.log),
		sequencer.WithRound0Duration(cfg.Round0Duration),
		sequencer.WithMaxRoundDuration(cfg.MaxRoundDuration),
		sequencer.WithLagTolerance(cfg.LagTolerance),
	))

	return e, nil
}

// AddMessage queues msg for the event loop after checking its structure.
// It never blocks: ErrQueueFull is returned when the loop falls behind
func (e *Engine) AddMessage(msg message.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	select {
	case e.events <- msgEvent{msg: msg}:
		return nil
	default:
		return ErrQueueFull
	}
}

// AddRawMessage decodes a wire envelope and queues the message
func (e *Engine) AddRawMessage(data []byte) error {
	msg, err := wire.Decode(data)
	if err != nil {
		return err
	}

	return e.AddMessage(msg)
}

// SubscribeFinalized delivers every imported block to ch. Sends block the
// event loop, so ch should be buffered and drained
func (e *Engine) SubscribeFinalized(ch chan<- *message.FinalizedBlock) gethevent.Subscription {
	return e.finalizedFeed.Subscribe(ch)
}

func (e *Engine) Context() *qbft.Context {
	return e.ctx
}

// Run processes events until ctx is cancelled. It fails only when an imported
// block cannot be applied to the context, which leaves the height undecidable
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.sched.start(ctx)
	defer e.sched.stop()

	e.startHeight()

	if err := e.advance(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Engine stopped", "height", e.ctx.Height())

			return nil
		case ev := <-e.events:
			e.handle(ev)

			if err := e.advance(ctx); err != nil {
				e.log.Error("Engine halted", "err", err)

				return err
			}
		}
	}
}

func (e *Engine) handle(ev event) {
	switch ev := ev.(type) {
	case msgEvent:
		e.handleMessage(ev.msg)
	case timeoutEvent:
		e.seq.HandleTimeout(ev.view)
	case builtEvent:
		if !e.sched.complete(ev.id) {
			e.log.Debug("Ignoring stale block", "height", ev.view.Height, "round", ev.view.Round)

			return
		}

		e.seq.HandleBuiltProposal(ev.view, ev.block, ev.err)
	}
}

func (e *Engine) handleMessage(msg message.Message) {
	err := e.seq.HandleMessage(msg)

	switch {
	case err == nil:
	case errors.Is(err, sequencer.ErrFutureHeight):
		e.bufferMessage(msg)
	case errors.Is(err, sequencer.ErrPastHeight), errors.Is(err, sequencer.ErrFinalized):
	default:
		e.log.Debug("Message dropped",
			"kind", msg.Kind(),
			"sender", msg.Sender(),
			"height", msg.View().Height,
			"round", msg.View().Round,
			"err", err,
		)
	}
}

// bufferMessage keeps a future height message from a current validator for
// replay. Messages of validators that join in a later height are not buffered
func (e *Engine) bufferMessage(msg message.Message) {
	snap := e.ctx.Snapshot()

	if msg.View().Height > snap.Height+maxHeightLookahead {
		e.log.Debug("Dropping message too far ahead", "height", msg.View().Height, "current", snap.Height)

		return
	}

	if !snap.Validators.Contains(msg.Sender()) {
		e.log.Debug("Dropping future message from unknown sender", "sender", msg.Sender())

		return
	}

	if kept, evicted := e.buffer.Add(msg); evicted > 0 {
		e.log.Debug("Future message buffer full, evicted oldest height", "evicted", evicted, "kept", kept)
	}
}

// advance imports finalized blocks and moves through heights until one is
// left undecided
func (e *Engine) advance(ctx context.Context) error {
	for {
		fb := e.seq.Finalized()
		if fb == nil {
			return nil
		}

		if err := e.ctx.Blocks().ImportAndFinalize(ctx, fb); err != nil {
			e.seq.HandleImportFailure(err)

			continue
		}

		e.cfg.Metrics.BlockFinalized(fb.Height, fb.Round)

		if _, err := e.ctx.Finalize(fb); err != nil {
			return fmt.Errorf("unable to finalize height %d: %w", fb.Height, err)
		}

		e.finalizedFeed.Send(fb)
		e.startHeight()
	}
}

// startHeight starts the sequencer on the context snapshot and replays
// messages buffered for it
func (e *Engine) startHeight() {
	snap := e.ctx.Snapshot()

	e.sched.cancelBuild()
	e.buffer.Prune(snap.Height)
	e.seq.StartHeight(snap.Height, snap.Validators)

	for _, msg := range e.buffer.Take(snap.Height) {
		e.handleMessage(msg)
	}
}
