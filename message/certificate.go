package message

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var ErrConflictingCertificates = errors.New("conflicting prepared certificates at the highest round")

// PreparedCertificate proves that a quorum of validators prepared
// ProposedBlock in round ProposedBlock.Round
type PreparedCertificate struct {
	ProposedBlock   *ProposedBlock
	PrepareMessages []*MsgPrepare
}

func (pc *PreparedCertificate) Round() uint64 {
	return pc.ProposedBlock.Round
}

func (pc *PreparedCertificate) BlockHash() common.Hash {
	return BlockHash(pc.ProposedBlock.Block)
}

// RoundChangeCertificate is a quorum of round change messages for the same view.
// It justifies a proposal in a round greater than 0
type RoundChangeCertificate struct {
	Messages []*MsgRoundChange
}

// HighestPrepared returns the prepared certificate with the highest round carried by the
// round change messages, or nil if no message carries one. Two certificates at that round
// for different blocks cannot both be honest, so they are reported as ErrConflictingCertificates
func (rcc *RoundChangeCertificate) HighestPrepared() (*PreparedCertificate, error) {
	var highest *PreparedCertificate

	for _, msg := range rcc.Messages {
		pc := msg.LatestPreparedCertificate
		if pc == nil || pc.ProposedBlock == nil {
			continue
		}

		if highest == nil || pc.Round() > highest.Round() {
			highest = pc
		}
	}

	if highest == nil {
		return nil, nil
	}

	for _, msg := range rcc.Messages {
		pc := msg.LatestPreparedCertificate
		if pc == nil || pc.ProposedBlock == nil || pc.Round() != highest.Round() {
			continue
		}

		if pc.BlockHash() != highest.BlockHash() {
			return nil, ErrConflictingCertificates
		}
	}

	return highest, nil
}
