package sequencer

import "github.com/sig-0/go-qbft/message"

// HandleBuiltProposal delivers the block built for view after RequestProposal.
// A build error makes the node abstain from proposing in that round
func (s *Sequencer) HandleBuiltProposal(view message.View, block []byte, err error) {
	if !s.state.started || s.state.isDone() || view != s.state.view {
		s.log.Debug("Dropping block built for a superseded view", "height", view.Height, "round", view.Round)

		return
	}

	rs := s.state.current()
	if !rs.requested || rs.proposed {
		return
	}

	if err != nil {
		s.log.Info("Block building failed, abstaining from round",
			"height", view.Height,
			"round", view.Round,
			"err", err,
		)

		return
	}

	if view.Round > 0 && s.state.pendingRCC == nil {
		return
	}

	s.sendMsgProposal(block, s.state.pendingRCC)
	s.progress()
}

func (s *Sequencer) sendMsgProposal(block []byte, rcc *message.RoundChangeCertificate) {
	rs := s.state.current()
	rs.proposed = true

	msg := message.NewProposal(s.cfg.Signer, s.state.view, block, rcc)

	s.log.Info("Proposing block",
		"height", s.state.getHeight(),
		"round", s.state.getRound(),
		"hash", msg.BlockHash,
	)

	s.cfg.Transport.MulticastProposal(msg)
	s.applyOwn(msg)
}

// tryPropose justifies a proposal for round > 0 once this node, as proposer,
// holds a round change quorum. A block prepared in the highest round is proposed
// again. Without one a fresh block is requested from the host
func (s *Sequencer) tryPropose() bool {
	round := s.state.getRound()
	rs := s.state.current()

	if round == 0 || rs.requested || rs.proposed || !s.isProposer() {
		return false
	}

	rcc := rs.RoundChangeCertificate()
	if rcc == nil {
		return false
	}

	rs.requested = true

	pc, err := rcc.HighestPrepared()
	if err != nil {
		s.log.Warn("Cannot justify proposal, abstaining from round", "round", round, "err", err)

		return false
	}

	if pc != nil {
		s.log.Debug("Re-proposing block prepared in round", "round", pc.Round(), "hash", pc.BlockHash())
		s.sendMsgProposal(pc.ProposedBlock.Block, rcc)

		return true
	}

	s.state.pendingRCC = rcc
	s.cfg.Scheduler.RequestProposal(s.state.view)

	return false
}
