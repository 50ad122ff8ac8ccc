package message

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// MsgInfo is the common header of every consensus message
type MsgInfo struct {
	Height    uint64
	Round     uint64
	Sender    common.Address
	Signature []byte
}

func (i *MsgInfo) validate() error {
	if i.Sender == (common.Address{}) {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}

	if len(i.Signature) == 0 {
		return fmt.Errorf("%w: missing signature", ErrInvalidMessage)
	}

	return nil
}

type ProposedBlock struct {
	Block []byte
	Round uint64
}

type MsgProposal struct {
	Info                   MsgInfo
	ProposedBlock          *ProposedBlock
	BlockHash              common.Hash
	RoundChangeCertificate *RoundChangeCertificate `rlp:"nil"`
}

type MsgPrepare struct {
	Info      MsgInfo
	BlockHash common.Hash
}

type MsgCommit struct {
	Info       MsgInfo
	BlockHash  common.Hash
	CommitSeal []byte
}

type MsgRoundChange struct {
	Info                      MsgInfo
	LatestPreparedCertificate *PreparedCertificate `rlp:"nil"`
}

// CommitSeal is a validator's signature over the finalized block hash
type CommitSeal struct {
	From common.Address
	Seal []byte
}

// FinalizedBlock is the outcome of a single height: the block certified by a
// quorum of commit seals
type FinalizedBlock struct {
	Height    uint64
	Round     uint64
	Block     []byte
	BlockHash common.Hash
	Proposer  common.Address
	Seals     []CommitSeal
}

func encode(v any) []byte {
	bz, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(fmt.Errorf("rlp encode %T: %w", v, err))
	}

	return bz
}

// Unmarshal decodes the body of a message of the given kind
func Unmarshal(kind Kind, data []byte) (Message, error) {
	var msg Message

	switch kind {
	case KindProposal:
		msg = &MsgProposal{}
	case KindPrepare:
		msg = &MsgPrepare{}
	case KindCommit:
		msg = &MsgCommit{}
	case KindRoundChange:
		msg = &MsgRoundChange{}
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidMessage, kind)
	}

	if err := rlp.DecodeBytes(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, kind, err)
	}

	return msg, nil
}

/*	MsgProposal	*/

func (m *MsgProposal) Kind() Kind { return KindProposal }
func (m *MsgProposal) GetInfo() *MsgInfo { return &m.Info }
func (m *MsgProposal) Sender() common.Address { return m.Info.Sender }
func (m *MsgProposal) Signature() []byte { return m.Info.Signature }
func (m *MsgProposal) Bytes() []byte { return encode(m) }
func (m *MsgProposal) GetBlockHash() common.Hash { return m.BlockHash }

func (m *MsgProposal) View() View {
	return View{Height: m.Info.Height, Round: m.Info.Round}
}

func (m *MsgProposal) Payload() []byte {
	cp := *m
	cp.Info.Signature = nil

	return encode(&cp)
}

func (m *MsgProposal) Validate() error {
	if err := m.Info.validate(); err != nil {
		return err
	}

	if m.ProposedBlock == nil || len(m.ProposedBlock.Block) == 0 {
		return fmt.Errorf("%w: missing proposed block", ErrInvalidMessage)
	}

	if m.ProposedBlock.Round != m.Info.Round {
		return fmt.Errorf("%w: proposed block round mismatch", ErrInvalidMessage)
	}

	if m.BlockHash == (common.Hash{}) {
		return fmt.Errorf("%w: missing block hash", ErrInvalidMessage)
	}

	if m.Info.Round > 0 && m.RoundChangeCertificate == nil {
		return fmt.Errorf("%w: missing round change certificate", ErrInvalidMessage)
	}

	return nil
}

/*	MsgPrepare	*/

func (m *MsgPrepare) Kind() Kind { return KindPrepare }
func (m *MsgPrepare) GetInfo() *MsgInfo { return &m.Info }
func (m *MsgPrepare) Sender() common.Address { return m.Info.Sender }
func (m *MsgPrepare) Signature() []byte { return m.Info.Signature }
func (m *MsgPrepare) Bytes() []byte { return encode(m) }
func (m *MsgPrepare) GetBlockHash() common.Hash { return m.BlockHash }

func (m *MsgPrepare) View() View {
	return View{Height: m.Info.Height, Round: m.Info.Round}
}

func (m *MsgPrepare) Payload() []byte {
	cp := *m
	cp.Info.Signature = nil

	return encode(&cp)
}

func (m *MsgPrepare) Validate() error {
	if err := m.Info.validate(); err != nil {
		return err
	}

	if m.BlockHash == (common.Hash{}) {
		return fmt.Errorf("%w: missing block hash", ErrInvalidMessage)
	}

	return nil
}

/*	MsgCommit	*/

func (m *MsgCommit) Kind() Kind { return KindCommit }
func (m *MsgCommit) GetInfo() *MsgInfo { return &m.Info }
func (m *MsgCommit) Sender() common.Address { return m.Info.Sender }
func (m *MsgCommit) Signature() []byte { return m.Info.Signature }
func (m *MsgCommit) Bytes() []byte { return encode(m) }
func (m *MsgCommit) GetBlockHash() common.Hash { return m.BlockHash }

func (m *MsgCommit) View() View {
	return View{Height: m.Info.Height, Round: m.Info.Round}
}

func (m *MsgCommit) Payload() []byte {
	cp := *m
	cp.Info.Signature = nil

	return encode(&cp)
}

func (m *MsgCommit) Validate() error {
	if err := m.Info.validate(); err != nil {
		return err
	}

	if m.BlockHash == (common.Hash{}) {
		return fmt.Errorf("%w: missing block hash", ErrInvalidMessage)
	}

	if len(m.CommitSeal) == 0 {
		return fmt.Errorf("%w: missing commit seal", ErrInvalidMessage)
	}

	return nil
}

/*	MsgRoundChange	*/

func (m *MsgRoundChange) Kind() Kind { return KindRoundChange }
func (m *MsgRoundChange) GetInfo() *MsgInfo { return &m.Info }
func (m *MsgRoundChange) Sender() common.Address { return m.Info.Sender }
func (m *MsgRoundChange) Signature() []byte { return m.Info.Signature }
func (m *MsgRoundChange) Bytes() []byte { return encode(m) }

func (m *MsgRoundChange) View() View {
	return View{Height: m.Info.Height, Round: m.Info.Round}
}

func (m *MsgRoundChange) Payload() []byte {
	cp := *m
	cp.Info.Signature = nil

	return encode(&cp)
}

func (m *MsgRoundChange) Validate() error {
	if err := m.Info.validate(); err != nil {
		return err
	}

	// round 0 is entered by starting the height, never by a round change
	if m.Info.Round == 0 {
		return fmt.Errorf("%w: round change for round 0", ErrInvalidMessage)
	}

	pc := m.LatestPreparedCertificate
	if pc == nil {
		return nil
	}

	if pc.ProposedBlock == nil || len(pc.ProposedBlock.Block) == 0 {
		return fmt.Errorf("%w: prepared certificate without block", ErrInvalidMessage)
	}

	if len(pc.PrepareMessages) == 0 {
		return fmt.Errorf("%w: prepared certificate without prepares", ErrInvalidMessage)
	}

	return nil
}
