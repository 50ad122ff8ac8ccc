package message

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidMessage = errors.New("invalid consensus message")

// QBFTMessage defines the 4 message types used in the QBFT protocol
// to reach network-wide consensus on a block for a particular height
type QBFTMessage interface {
	*MsgProposal | *MsgPrepare | *MsgCommit | *MsgRoundChange
}

// Message is an opaque wrapper for the QBFT consensus messages. See QBFTMessage for concrete type definitions
type Message interface {
	// Kind returns the protocol step this message belongs to
	Kind() Kind

	// View returns the (height, round) the message was signed for
	View() View

	Sender() common.Address
	Signature() []byte

	// Payload returns the encoded message without the signature. The signature
	// is computed over the keccak256 digest of the payload
	Payload() []byte

	// Bytes returns the full encoded message, signature included
	Bytes() []byte

	// Validate checks that all required fields are present and consistent
	Validate() error

	GetInfo() *MsgInfo
}

type Signer interface {
	Address() common.Address

	// Sign computes the signature of given digest
	Sign(digest []byte) []byte
}

type SignatureVerifier interface {
	// Verify checks if signature over digest was produced by signer
	Verify(signer common.Address, digest, signature []byte) error
}

// Transport is used to gossip consensus messages to the network
type Transport interface {
	MulticastProposal(msg *MsgProposal)
	MulticastPrepare(msg *MsgPrepare)
	MulticastCommit(msg *MsgCommit)
	MulticastRoundChange(msg *MsgRoundChange)
}

// Kind tags the concrete message type on the wire
type Kind uint8

const (
	KindProposal Kind = iota + 1
	KindPrepare
	KindCommit
	KindRoundChange
)

func (k Kind) String() string {
	switch k {
	case KindProposal:
		return "proposal"
	case KindPrepare:
		return "prepare"
	case KindCommit:
		return "commit"
	case KindRoundChange:
		return "round_change"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// View identifies a single consensus round
type View struct {
	Height uint64
	Round  uint64
}

func (v View) String() string {
	return fmt.Sprintf("(%d, %d)", v.Height, v.Round)
}

// Digest returns the hash a message signature is computed over
func Digest(msg Message) []byte {
	return crypto.Keccak256(msg.Payload())
}

// BlockHash returns the value identity of a block. It does not depend on the
// round, so re-proposing a block in a later round yields the same hash
func BlockHash(block []byte) common.Hash {
	return crypto.Keccak256Hash(block)
}

// WrapMessages wraps concrete message types into Message type
func WrapMessages[M QBFTMessage](messages ...M) []Message {
	wrapped := make([]Message, 0, len(messages))
	for _, msg := range messages {
		wrapped = append(wrapped, Message(msg))
	}

	return wrapped
}

// SignMsg stamps the signer's address on msg and signs its payload
func SignMsg[M QBFTMessage](msg M, signer Signer) M {
	m := Message(msg)

	info := m.GetInfo()
	info.Sender = signer.Address()
	info.Signature = nil
	info.Signature = signer.Sign(Digest(m))

	return msg
}

func NewProposal(signer Signer, view View, block []byte, rcc *RoundChangeCertificate) *MsgProposal {
	return SignMsg(&MsgProposal{
		Info:                   MsgInfo{Height: view.Height, Round: view.Round},
		ProposedBlock:          &ProposedBlock{Block: block, Round: view.Round},
		BlockHash:              BlockHash(block),
		RoundChangeCertificate: rcc,
	}, signer)
}

func NewPrepare(signer Signer, view View, blockHash common.Hash) *MsgPrepare {
	return SignMsg(&MsgPrepare{
		Info:      MsgInfo{Height: view.Height, Round: view.Round},
		BlockHash: blockHash,
	}, signer)
}

// NewCommit builds a commit for blockHash. The commit seal is the signer's
// signature over the block hash and ends up in the finalized block
func NewCommit(signer Signer, view View, blockHash common.Hash) *MsgCommit {
	return SignMsg(&MsgCommit{
		Info:       MsgInfo{Height: view.Height, Round: view.Round},
		BlockHash:  blockHash,
		CommitSeal: signer.Sign(blockHash.Bytes()),
	}, signer)
}

func NewRoundChange(signer Signer, view View, pc *PreparedCertificate) *MsgRoundChange {
	return SignMsg(&MsgRoundChange{
		Info:                      MsgInfo{Height: view.Height, Round: view.Round},
		LatestPreparedCertificate: pc,
	}, signer)
}
