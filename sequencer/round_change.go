package sequencer

import (
	"cmp"
	"slices"

	"github.com/sig-0/go-qbft/message"
)

// roundChange enters round and broadcasts a round change carrying the latest
// prepared certificate of this height
func (s *Sequencer) roundChange(round uint64) {
	s.startRound(round)
	s.sendMsgRoundChange()
}

func (s *Sequencer) sendMsgRoundChange() {
	msg := message.NewRoundChange(s.cfg.Signer, s.state.view, s.state.latestPC)

	s.cfg.Transport.MulticastRoundChange(msg)
	s.applyOwn(msg)
}

// tryHigherRoundRCC moves to the highest round above the current one for which a
// round change quorum exists
func (s *Sequencer) tryHigherRoundRCC() bool {
	var (
		current = s.state.getRound()
		target  = current
	)

	for round, rs := range s.state.rounds {
		if round > target && rs.RoundChangeCertificate() != nil {
			target = round
		}
	}

	if target == current {
		return false
	}

	s.log.Info("Round change quorum for higher round", "height", s.state.getHeight(), "round", target)
	s.startRound(target)

	return true
}

// tryRoundSkip catches up with the network once f+1 validators announced higher
// rounds. The target is the highest round at least f+1 of them reached
func (s *Sequencer) tryRoundSkip() bool {
	current := s.state.getRound()

	higher := make([]uint64, 0, len(s.state.latestRC))
	for sender, round := range s.state.latestRC {
		if round > current && s.state.validators.Contains(sender) {
			higher = append(higher, round)
		}
	}

	f := s.state.validators.MaxFaulty()
	if len(higher) < f+1 {
		return false
	}

	slices.SortFunc(higher, func(a, b uint64) int {
		return cmp.Compare(b, a)
	})

	target := higher[f]

	s.log.Info("Skipping to round announced by f+1 validators",
		"height", s.state.getHeight(),
		"from", current,
		"to", target,
	)

	s.roundChange(target)

	return true
}
