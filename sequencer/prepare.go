package sequencer

import "github.com/sig-0/go-qbft/message"

// sendMsgPrepare votes for the proposal accepted in rs. The proposer prepares its
// own proposal too, so the quorum counts prepare messages only
func (s *Sequencer) sendMsgPrepare(rs *RoundState) {
	rs.prepareSent = true

	msg := message.NewPrepare(s.cfg.Signer, rs.View(), rs.Proposal().BlockHash)

	s.cfg.Transport.MulticastPrepare(msg)
	s.applyOwn(msg)
}
