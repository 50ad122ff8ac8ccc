package sequencer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/metrics"
	"github.com/sig-0/go-qbft/validator"
)

const (
	DefaultRound0Duration = 2 * time.Second
	DefaultLagTolerance   = 1

	// rounds further ahead than this are not tracked
	maxRoundLookahead = 64
)

var ErrInvalidConfig = errors.New("invalid sequencer config")

// BlockVerifier checks a proposed block against the host chain
type BlockVerifier interface {
	// IsValidProposal checks if block is a valid proposal for height
	IsValidProposal(block []byte, height uint64) bool
}

type BlockVerifierFn func(block []byte, height uint64) bool

func (f BlockVerifierFn) IsValidProposal(block []byte, height uint64) bool {
	return f(block, height)
}

// Scheduler runs the asynchronous side of a height on behalf of the Sequencer.
// Results are handed back through the Sequencer's Handle methods on the same
// goroutine that drives it
type Scheduler interface {
	// ScheduleTimeout arms the round timer for view, replacing any armed timer
	ScheduleTimeout(view message.View, d time.Duration)

	// RequestProposal asks for a block to propose in view. The outcome is
	// delivered via Sequencer.HandleBuiltProposal
	RequestProposal(view message.View)
}

type Config struct {
	Signer           message.Signer
	Verifier         message.SignatureVerifier
	BlockVerifier    BlockVerifier
	Transport        message.Transport
	Scheduler        Scheduler
	Metrics          metrics.Metrics
	Logger           *slog.Logger
	Proposer         validator.ProposerFn
	Round0Duration   time.Duration
	MaxRoundDuration time.Duration
	LagTolerance     uint64
}

func NewConfig(opts ...Option) Config {
	cfg := Config{
		Metrics:        metrics.NoOp{},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Proposer:       validator.RoundRobin,
		Round0Duration: DefaultRound0Duration,
		LagTolerance:   DefaultLagTolerance,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

func (cfg Config) IsValid() error {
	if cfg.Signer == nil {
		return fmt.Errorf("%w: nil Signer", ErrInvalidConfig)
	}

	if cfg.Verifier == nil {
		return fmt.Errorf("%w: nil Verifier", ErrInvalidConfig)
	}

	if cfg.BlockVerifier == nil {
		return fmt.Errorf("%w: nil BlockVerifier", ErrInvalidConfig)
	}

	if cfg.Transport == nil {
		return fmt.Errorf("%w: nil Transport", ErrInvalidConfig)
	}

	if cfg.Scheduler == nil {
		return fmt.Errorf("%w: nil Scheduler", ErrInvalidConfig)
	}

	if cfg.Metrics == nil || cfg.Logger == nil || cfg.Proposer == nil {
		return fmt.Errorf("%w: nil Metrics, Logger or Proposer", ErrInvalidConfig)
	}

	if cfg.Round0Duration <= 0 {
		return fmt.Errorf("%w: round 0 duration must be positive", ErrInvalidConfig)
	}

	if cfg.MaxRoundDuration != 0 && cfg.MaxRoundDuration < cfg.Round0Duration {
		return fmt.Errorf("%w: max round duration below round 0 duration", ErrInvalidConfig)
	}

	return nil
}

type Option func(*Config)

func WithSigner(s message.Signer) Option {
	return func(cfg *Config) {
		cfg.Signer = s
	}
}

func WithSignatureVerifier(v message.SignatureVerifier) Option {
	return func(cfg *Config) {
		cfg.Verifier = v
	}
}

func WithBlockVerifier(v BlockVerifier) Option {
	return func(cfg *Config) {
		cfg.BlockVerifier = v
	}
}

func WithTransport(t message.Transport) Option {
	return func(cfg *Config) {
		cfg.Transport = t
	}
}

func WithScheduler(s Scheduler) Option {
	return func(cfg *Config) {
		cfg.Scheduler = s
	}
}

func WithMetrics(m metrics.Metrics) Option {
	return func(cfg *Config) {
		cfg.Metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

func WithProposer(p validator.ProposerFn) Option {
	return func(cfg *Config) {
		cfg.Proposer = p
	}
}

func WithRound0Duration(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.Round0Duration = d
	}
}

func WithMaxRoundDuration(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.MaxRoundDuration = d
	}
}

func WithLagTolerance(rounds uint64) Option {
	return func(cfg *Config) {
		cfg.LagTolerance = rounds
	}
}
