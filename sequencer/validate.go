package sequencer

import (
	"errors"
	"fmt"

	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/validator"
)

var (
	ErrInvalidSignature           = errors.New("invalid signature")
	ErrUnknownSender              = errors.New("sender is not a validator")
	ErrFutureHeight               = errors.New("message for a future height")
	ErrPastHeight                 = errors.New("message for a past height")
	ErrStaleRound                 = errors.New("message for a stale round")
	ErrFutureRound                = errors.New("message round too far ahead")
	ErrWrongProposer              = errors.New("proposal not signed by the round proposer")
	ErrInvalidBlock               = errors.New("invalid proposed block")
	ErrInvalidJustification       = errors.New("invalid round change justification")
	ErrInvalidPreparedCertificate = errors.New("invalid prepared certificate")
	ErrInvalidCommitSeal          = errors.New("invalid commit seal")
	ErrEquivocation               = errors.New("conflicting message from sender")
	ErrDuplicateMessage           = errors.New("duplicate message")
	ErrFinalized                  = errors.New("height already finalized")
)

// MessageValidator authenticates consensus messages and checks them against the
// current view and validator set. It holds no state
type MessageValidator struct {
	verifier message.SignatureVerifier
	blocks   BlockVerifier
	proposer validator.ProposerFn
	lag      uint64
}

func NewMessageValidator(cfg Config) MessageValidator {
	return MessageValidator{
		verifier: cfg.Verifier,
		blocks:   cfg.BlockVerifier,
		proposer: cfg.Proposer,
		lag:      cfg.LagTolerance,
	}
}

// Validate checks msg, in order: structure, signature, height, membership,
// round, and the kind specific rules. ErrFutureHeight and ErrPastHeight are not
// invalidity verdicts: the caller buffers or drops such messages
func (v MessageValidator) Validate(msg message.Message, view message.View, set *validator.Set) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if err := v.verifySignature(msg); err != nil {
		return err
	}

	height, round := msg.View().Height, msg.View().Round

	switch {
	case height > view.Height:
		return ErrFutureHeight
	case height < view.Height:
		return ErrPastHeight
	}

	if !set.Contains(msg.Sender()) {
		return fmt.Errorf("%w: %s", ErrUnknownSender, msg.Sender())
	}

	if round+v.lag < view.Round {
		return fmt.Errorf("%w: round %d, current %d", ErrStaleRound, round, view.Round)
	}

	if round > view.Round+maxRoundLookahead {
		return fmt.Errorf("%w: round %d, current %d", ErrFutureRound, round, view.Round)
	}

	switch m := msg.(type) {
	case *message.MsgProposal:
		return v.validateProposal(m, set)
	case *message.MsgCommit:
		if err := v.verifier.Verify(m.Sender(), m.BlockHash.Bytes(), m.CommitSeal); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommitSeal, err)
		}
	case *message.MsgRoundChange:
		if pc := m.LatestPreparedCertificate; pc != nil {
			return v.validatePC(pc, m.View(), set)
		}
	}

	return nil
}

func (v MessageValidator) verifySignature(msg message.Message) error {
	if err := v.verifier.Verify(msg.Sender(), message.Digest(msg), msg.Signature()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	return nil
}

func (v MessageValidator) validateProposal(msg *message.MsgProposal, set *validator.Set) error {
	view := msg.View()

	if proposer := v.proposer(set, view.Height, view.Round); msg.Sender() != proposer {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongProposer, msg.Sender(), proposer)
	}

	if msg.BlockHash != message.BlockHash(msg.ProposedBlock.Block) {
		return fmt.Errorf("%w: block hash mismatch", ErrInvalidBlock)
	}

	if view.Round > 0 {
		if err := v.validateJustification(msg, set); err != nil {
			return err
		}
	}

	if !v.blocks.IsValidProposal(msg.ProposedBlock.Block, view.Height) {
		return ErrInvalidBlock
	}

	return nil
}

// validateJustification checks that the round change certificate of a round > 0 proposal
// is a quorum for the proposal's view and, if any sender prepared a block, that the
// proposal carries the block prepared in the highest round
func (v MessageValidator) validateJustification(msg *message.MsgProposal, set *validator.Set) error {
	rcc := msg.RoundChangeCertificate
	if err := v.validateRCC(rcc, msg.View(), set); err != nil {
		return err
	}

	pc, err := rcc.HighestPrepared()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJustification, err)
	}

	if pc != nil && pc.BlockHash() != msg.BlockHash {
		return fmt.Errorf("%w: proposal does not carry the highest prepared block", ErrInvalidJustification)
	}

	return nil
}

func (v MessageValidator) validateRCC(
	rcc *message.RoundChangeCertificate,
	view message.View,
	set *validator.Set,
) error {
	if rcc == nil || len(rcc.Messages) == 0 {
		return fmt.Errorf("%w: empty round change certificate", ErrInvalidJustification)
	}

	cache := newMsgCache(func(msg *message.MsgRoundChange) bool {
		if msg.Validate() != nil || msg.View() != view || !set.Contains(msg.Sender()) {
			return false
		}

		if v.verifySignature(msg) != nil {
			return false
		}

		pc := msg.LatestPreparedCertificate

		return pc == nil || v.validatePC(pc, view, set) == nil
	}).add(rcc.Messages)

	if len(cache.get()) != len(rcc.Messages) {
		return fmt.Errorf("%w: invalid or duplicate round change", ErrInvalidJustification)
	}

	if !set.HasQuorum(cache.senders()) {
		return fmt.Errorf("%w: no quorum", ErrInvalidJustification)
	}

	return nil
}

// validatePC checks a prepared certificate carried by a round change for view
func (v MessageValidator) validatePC(
	pc *message.PreparedCertificate,
	view message.View,
	set *validator.Set,
) error {
	if pc.ProposedBlock == nil || len(pc.PrepareMessages) == 0 {
		return fmt.Errorf("%w: incomplete", ErrInvalidPreparedCertificate)
	}

	if pc.Round() >= view.Round {
		return fmt.Errorf("%w: prepared in round %d, not before %d", ErrInvalidPreparedCertificate, pc.Round(), view.Round)
	}

	var (
		prepared  = message.View{Height: view.Height, Round: pc.Round()}
		blockHash = pc.BlockHash()
	)

	cache := newMsgCache(func(msg *message.MsgPrepare) bool {
		if msg.Validate() != nil || msg.View() != prepared || msg.BlockHash != blockHash {
			return false
		}

		return set.Contains(msg.Sender()) && v.verifySignature(msg) == nil
	}).add(pc.PrepareMessages)

	if len(cache.get()) != len(pc.PrepareMessages) {
		return fmt.Errorf("%w: invalid or duplicate prepare", ErrInvalidPreparedCertificate)
	}

	if !set.HasQuorum(cache.senders()) {
		return fmt.Errorf("%w: no quorum", ErrInvalidPreparedCertificate)
	}

	return nil
}
