package sequencer

import "github.com/sig-0/go-qbft/message"

// sendMsgCommit commits to the block prepared in rs. The commit seal signs the block hash
func (s *Sequencer) sendMsgCommit(rs *RoundState) {
	rs.commitSent = true

	msg := message.NewCommit(s.cfg.Signer, rs.View(), rs.Proposal().BlockHash)

	s.cfg.Transport.MulticastCommit(msg)
	s.applyOwn(msg)
}
