package sequencer

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/validator"
)

// Step is the progress of a single round
type Step uint8

const (
	StepAwaitingProposal Step = iota
	StepPreparing
	StepPrepared
	StepCommitted
)

func (s Step) String() string {
	switch s {
	case StepAwaitingProposal:
		return "awaiting_proposal"
	case StepPreparing:
		return "preparing"
	case StepPrepared:
		return "prepared"
	case StepCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

type vote[M message.QBFTMessage] struct {
	msg   M
	value common.Hash
}

// votes keeps the first message of every sender and counts signers per bucket
type votes[M message.QBFTMessage] struct {
	set      *validator.Set
	bySender map[common.Address]vote[M]
	buckets  map[common.Hash]*bitset.BitSet
	reached  bool
}

func newVotes[M message.QBFTMessage](set *validator.Set) votes[M] {
	return votes[M]{
		set:      set,
		bySender: make(map[common.Address]vote[M]),
		buckets:  make(map[common.Hash]*bitset.BitSet),
	}
}

// add records msg under bucket. value identifies what the sender signed: a second
// message with the same value is a duplicate, a different value is equivocation.
// It returns true the first time any bucket reaches quorum
func (v *votes[M]) add(msg M, value, bucket common.Hash) (bool, error) {
	sender := message.Message(msg).Sender()

	idx := v.set.IndexOf(sender)
	if idx < 0 {
		return false, ErrUnknownSender
	}

	if prev, ok := v.bySender[sender]; ok {
		if prev.value == value {
			return false, ErrDuplicateMessage
		}

		return false, ErrEquivocation
	}

	v.bySender[sender] = vote[M]{msg: msg, value: value}

	signers, ok := v.buckets[bucket]
	if !ok {
		signers = bitset.New(uint(v.set.Len()))
		v.buckets[bucket] = signers
	}

	signers.Set(uint(idx))

	if v.reached || int(signers.Count()) < v.set.Quorum() {
		return false, nil
	}

	v.reached = true

	return true, nil
}

func (v *votes[M]) hasQuorum(bucket common.Hash) bool {
	signers, ok := v.buckets[bucket]

	return ok && int(signers.Count()) >= v.set.Quorum()
}

// messages returns the messages counted in bucket, ordered by sender index
func (v *votes[M]) messages(bucket common.Hash) []M {
	signers, ok := v.buckets[bucket]
	if !ok {
		return nil
	}

	out := make([]M, 0, signers.Count())

	for i, ok := signers.NextSet(0); ok; i, ok = signers.NextSet(i + 1) {
		out = append(out, v.bySender[v.set.At(int(i))].msg)
	}

	return out
}

func (v *votes[M]) len() int {
	return len(v.bySender)
}

// RoundState accumulates the messages of a single (height, round)
type RoundState struct {
	view     message.View
	set      *validator.Set
	proposal *message.MsgProposal

	prepares     votes[*message.MsgPrepare]
	commits      votes[*message.MsgCommit]
	roundChanges votes[*message.MsgRoundChange]

	expired     bool
	requested   bool
	proposed    bool
	prepareSent bool
	commitSent  bool
}

func NewRoundState(view message.View, set *validator.Set) *RoundState {
	return &RoundState{
		view:         view,
		set:          set,
		prepares:     newVotes[*message.MsgPrepare](set),
		commits:      newVotes[*message.MsgCommit](set),
		roundChanges: newVotes[*message.MsgRoundChange](set),
	}
}

func (rs *RoundState) View() message.View {
	return rs.view
}

func (rs *RoundState) Proposal() *message.MsgProposal {
	return rs.proposal
}

// SetProposal accepts the first proposal of the round. A second proposal for
// another block is equivocation by the proposer
func (rs *RoundState) SetProposal(msg *message.MsgProposal) error {
	if rs.proposal != nil {
		if rs.proposal.BlockHash == msg.BlockHash {
			return ErrDuplicateMessage
		}

		return ErrEquivocation
	}

	rs.proposal = msg

	return nil
}

// AddPrepare returns true the first time prepares for one block reach quorum
func (rs *RoundState) AddPrepare(msg *message.MsgPrepare) (bool, error) {
	return rs.prepares.add(msg, msg.BlockHash, msg.BlockHash)
}

// AddCommit returns true the first time commits for one block reach quorum
func (rs *RoundState) AddCommit(msg *message.MsgCommit) (bool, error) {
	return rs.commits.add(msg, msg.BlockHash, msg.BlockHash)
}

// AddRoundChange returns true the first time round changes reach quorum.
// Round changes count toward the same quorum whatever certificate they carry
func (rs *RoundState) AddRoundChange(msg *message.MsgRoundChange) (bool, error) {
	var value common.Hash
	if pc := msg.LatestPreparedCertificate; pc != nil {
		value = pc.BlockHash()
	}

	return rs.roundChanges.add(msg, value, common.Hash{})
}

// PreparedCertificate returns the certificate for the accepted proposal once a
// quorum prepared it, or nil
func (rs *RoundState) PreparedCertificate() *message.PreparedCertificate {
	if rs.proposal == nil || !rs.prepares.hasQuorum(rs.proposal.BlockHash) {
		return nil
	}

	return &message.PreparedCertificate{
		ProposedBlock:   rs.proposal.ProposedBlock,
		PrepareMessages: rs.prepares.messages(rs.proposal.BlockHash),
	}
}

// CommitSeals returns the seals of a commit quorum for the accepted proposal, or nil.
// Their presence is the terminal condition of the height
func (rs *RoundState) CommitSeals() []message.CommitSeal {
	if rs.proposal == nil || !rs.commits.hasQuorum(rs.proposal.BlockHash) {
		return nil
	}

	commits := rs.commits.messages(rs.proposal.BlockHash)

	seals := make([]message.CommitSeal, 0, len(commits))
	for _, c := range commits {
		seals = append(seals, message.CommitSeal{From: c.Sender(), Seal: c.CommitSeal})
	}

	return seals
}

// RoundChangeCertificate returns all round changes of this round once they form a quorum, or nil
func (rs *RoundState) RoundChangeCertificate() *message.RoundChangeCertificate {
	if !rs.roundChanges.hasQuorum(common.Hash{}) {
		return nil
	}

	return &message.RoundChangeCertificate{
		Messages: rs.roundChanges.messages(common.Hash{}),
	}
}

func (rs *RoundState) PrepareCount() int {
	return rs.prepares.len()
}

func (rs *RoundState) CommitCount() int {
	return rs.commits.len()
}

func (rs *RoundState) RoundChangeCount() int {
	return rs.roundChanges.len()
}

func (rs *RoundState) Step() Step {
	switch {
	case rs.CommitSeals() != nil:
		return StepCommitted
	case rs.PreparedCertificate() != nil:
		return StepPrepared
	case rs.proposal != nil:
		return StepPreparing
	default:
		return StepAwaitingProposal
	}
}

// Expire marks the round as timed out
func (rs *RoundState) Expire() {
	rs.expired = true
}

func (rs *RoundState) Expired() bool {
	return rs.expired
}
