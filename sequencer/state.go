package sequencer

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/validator"
)

type state struct {
	view       message.View
	validators *validator.Set
	rounds     map[uint64]*RoundState

	// highest round prepared certificate observed in this height
	latestPC *message.PreparedCertificate

	// highest round change round per sender, used to catch up with the network
	latestRC map[common.Address]uint64

	// round change certificate justifying the block being built for the current round
	pendingRCC *message.RoundChangeCertificate

	// commit quorums in rounds below this are ignored after a failed import
	minFinalizeRound uint64

	finalized *message.FinalizedBlock
	started   bool
}

func newState(height uint64, set *validator.Set) state {
	return state{
		view:       message.View{Height: height},
		validators: set,
		rounds:     make(map[uint64]*RoundState),
		latestRC:   make(map[common.Address]uint64),
		started:    true,
	}
}

func (s *state) getHeight() uint64 {
	return s.view.Height
}

func (s *state) getRound() uint64 {
	return s.view.Round
}

// roundState returns the accumulator of round, creating it on first use
func (s *state) roundState(round uint64) *RoundState {
	rs, ok := s.rounds[round]
	if !ok {
		rs = NewRoundState(message.View{Height: s.view.Height, Round: round}, s.validators)
		s.rounds[round] = rs
	}

	return rs
}

func (s *state) current() *RoundState {
	return s.roundState(s.view.Round)
}

// pruneBelow drops round states older than round
func (s *state) pruneBelow(round uint64) {
	for r := range s.rounds {
		if r < round {
			delete(s.rounds, r)
		}
	}
}

func (s *state) acceptPC(pc *message.PreparedCertificate) {
	if s.latestPC == nil || pc.Round() > s.latestPC.Round() {
		s.latestPC = pc
	}
}

func (s *state) isDone() bool {
	return s.finalized != nil
}
