// Package sequencer implements the QBFT state machine of a single height.
//
// A Sequencer is not safe for concurrent use. It is driven by one goroutine
// that feeds it validated network messages, expired round timers and built
// blocks, and it reports its outcome through Finalized.
package sequencer

import (
	"errors"
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/validator"
)

var ErrNotStarted = errors.New("sequencer has no active height")

type Sequencer struct {
	cfg       Config
	log       *slog.Logger
	validator MessageValidator
	state     state
}

func New(cfg Config) *Sequencer {
	return &Sequencer{
		cfg:       cfg,
		log:       cfg.Logger,
		validator: NewMessageValidator(cfg),
	}
}

func (s *Sequencer) Address() common.Address {
	return s.cfg.Signer.Address()
}

func (s *Sequencer) View() message.View {
	return s.state.view
}

func (s *Sequencer) Validators() *validator.Set {
	return s.state.validators
}

// Finalized returns the block certified in the active height, or nil
func (s *Sequencer) Finalized() *message.FinalizedBlock {
	return s.state.finalized
}

// RoundState returns the accumulator of round in the active height, or nil
func (s *Sequencer) RoundState(round uint64) *RoundState {
	return s.state.rounds[round]
}

// StartHeight discards all state of the previous height and enters round 0 of
// height over the validator snapshot set
func (s *Sequencer) StartHeight(height uint64, set *validator.Set) {
	s.state = newState(height, set)

	s.log.Info("Starting height", "height", height, "validators", set.Len())

	s.startRound(0)
}

// HandleMessage validates msg against the active view and applies it. The returned
// error explains why a message had no effect. It is never fatal
func (s *Sequencer) HandleMessage(msg message.Message) error {
	if !s.state.started {
		return ErrNotStarted
	}

	if s.state.isDone() {
		return ErrFinalized
	}

	if err := s.validator.Validate(msg, s.state.view, s.state.validators); err != nil {
		if !errors.Is(err, ErrFutureHeight) && !errors.Is(err, ErrPastHeight) {
			s.cfg.Metrics.InvalidMessage(msg.Kind())
		}

		return err
	}

	if err := s.apply(msg); err != nil {
		if errors.Is(err, ErrEquivocation) {
			s.cfg.Metrics.Equivocation(msg.Kind(), msg.Sender())
			s.log.Warn("Equivocation detected",
				"kind", msg.Kind(),
				"sender", msg.Sender(),
				"height", msg.View().Height,
				"round", msg.View().Round,
			)
		}

		return err
	}

	s.progress()

	return nil
}

// HandleTimeout handles the expiry of the round timer armed for view. Timers of
// a superseded view are ignored
func (s *Sequencer) HandleTimeout(view message.View) {
	if !s.state.started || s.state.isDone() || view != s.state.view {
		return
	}

	s.cfg.Metrics.RoundTimeout(view)
	s.state.current().Expire()

	s.log.Info("Round timer expired", "height", view.Height, "round", view.Round)

	s.roundChange(view.Round + 1)
	s.progress()
}

// HandleImportFailure abandons the finalized block after the host chain rejected
// it and moves to the next round. Commit quorums of the abandoned rounds are ignored
func (s *Sequencer) HandleImportFailure(err error) {
	fb := s.state.finalized
	if fb == nil {
		return
	}

	s.log.Warn("Finalized block rejected by importer", "height", fb.Height, "round", fb.Round, "err", err)

	next := s.state.getRound() + 1

	s.state.finalized = nil
	s.state.minFinalizeRound = next

	s.roundChange(next)
	s.progress()
}

func (s *Sequencer) startRound(round uint64) {
	s.state.view.Round = round
	s.state.pendingRCC = nil

	if round > s.cfg.LagTolerance {
		s.state.pruneBelow(round - s.cfg.LagTolerance)
	}

	rs := s.state.current()

	s.cfg.Scheduler.ScheduleTimeout(s.state.view, s.roundTimeout(round))

	if round > 0 {
		s.cfg.Metrics.RoundChange(s.state.view)
	}

	s.log.Debug("Entered round", "height", s.state.getHeight(), "round", round, "proposer", s.isProposer())

	if round == 0 && s.isProposer() {
		rs.requested = true
		s.cfg.Scheduler.RequestProposal(s.state.view)
	}
}

// progress performs protocol steps until none applies
func (s *Sequencer) progress() {
	for !s.state.isDone() && s.step() {
	}
}

func (s *Sequencer) step() bool {
	if s.tryFinalize() {
		return false
	}

	for _, rs := range s.state.rounds {
		if pc := rs.PreparedCertificate(); pc != nil {
			s.state.acceptPC(pc)
		}
	}

	rs := s.state.current()

	if rs.Proposal() != nil && !rs.prepareSent {
		s.sendMsgPrepare(rs)

		return true
	}

	if !rs.commitSent && rs.PreparedCertificate() != nil {
		s.sendMsgCommit(rs)

		return true
	}

	if s.tryHigherRoundRCC() {
		return true
	}

	if s.tryRoundSkip() {
		return true
	}

	return s.tryPropose()
}

// tryFinalize looks for a commit quorum in any retained round
func (s *Sequencer) tryFinalize() bool {
	for _, round := range slices.Sorted(maps.Keys(s.state.rounds)) {
		if round < s.state.minFinalizeRound {
			continue
		}

		rs := s.state.rounds[round]

		seals := rs.CommitSeals()
		if seals == nil {
			continue
		}

		proposal := rs.Proposal()

		s.state.finalized = &message.FinalizedBlock{
			Height:    s.state.getHeight(),
			Round:     round,
			Block:     proposal.ProposedBlock.Block,
			BlockHash: proposal.BlockHash,
			Proposer:  proposal.Sender(),
			Seals:     seals,
		}

		s.log.Info("Block finalized",
			"height", s.state.getHeight(),
			"round", round,
			"hash", proposal.BlockHash,
			"seals", len(seals),
		)

		return true
	}

	return false
}

// apply adds a validated message to its round
func (s *Sequencer) apply(msg message.Message) error {
	view := msg.View()

	switch m := msg.(type) {
	case *message.MsgProposal:
		if view.Round > s.state.getRound() {
			s.log.Info("Moving to round of justified proposal", "height", view.Height, "round", view.Round)
			s.startRound(view.Round)
		}

		return s.state.roundState(view.Round).SetProposal(m)

	case *message.MsgPrepare:
		reached, err := s.state.roundState(view.Round).AddPrepare(m)
		if reached {
			s.cfg.Metrics.QuorumReached(message.KindPrepare, view)
		}

		return err

	case *message.MsgCommit:
		reached, err := s.state.roundState(view.Round).AddCommit(m)
		if reached {
			s.cfg.Metrics.QuorumReached(message.KindCommit, view)
		}

		return err

	case *message.MsgRoundChange:
		reached, err := s.state.roundState(view.Round).AddRoundChange(m)
		if err != nil {
			return err
		}

		if view.Round > s.state.latestRC[m.Sender()] {
			s.state.latestRC[m.Sender()] = view.Round
		}

		if reached {
			s.cfg.Metrics.QuorumReached(message.KindRoundChange, view)
		}
	}

	return nil
}

// applyOwn processes a message this node just broadcast
func (s *Sequencer) applyOwn(msg message.Message) {
	if err := s.apply(msg); err != nil {
		s.log.Debug("Own message not applied", "kind", msg.Kind(), "err", err)
	}
}

func (s *Sequencer) isProposer() bool {
	return s.cfg.Proposer.IsProposer(s.state.validators, s.Address(), s.state.getHeight(), s.state.getRound())
}

// roundTimeout returns round0 * 2^round, capped by the max round duration
func (s *Sequencer) roundTimeout(round uint64) time.Duration {
	d := float64(s.cfg.Round0Duration) * math.Pow(2, float64(round))

	if limit := s.cfg.MaxRoundDuration; limit > 0 && d > float64(limit) {
		return limit
	}

	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(d)
}
