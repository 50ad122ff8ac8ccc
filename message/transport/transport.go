package transport

import (
	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/message/wire"
)

type MulticastFn[M message.QBFTMessage] func(M)

func (f MulticastFn[M]) Multicast(msg M) {
	f(msg)
}

type transport struct {
	proposal    MulticastFn[*message.MsgProposal]
	prepare     MulticastFn[*message.MsgPrepare]
	commit      MulticastFn[*message.MsgCommit]
	roundChange MulticastFn[*message.MsgRoundChange]
}

// NewTransport returns a message.Transport object based on the provided message callbacks
func NewTransport(
	proposal MulticastFn[*message.MsgProposal],
	prepare MulticastFn[*message.MsgPrepare],
	commit MulticastFn[*message.MsgCommit],
	roundChange MulticastFn[*message.MsgRoundChange],
) message.Transport {
	return transport{
		proposal:    proposal,
		prepare:     prepare,
		commit:      commit,
		roundChange: roundChange,
	}
}

func (t transport) MulticastProposal(msg *message.MsgProposal) {
	t.proposal.Multicast(msg)
}

func (t transport) MulticastPrepare(msg *message.MsgPrepare) {
	t.prepare.Multicast(msg)
}

func (t transport) MulticastCommit(msg *message.MsgCommit) {
	t.commit.Multicast(msg)
}

func (t transport) MulticastRoundChange(msg *message.MsgRoundChange) {
	t.roundChange.Multicast(msg)
}

// Broadcast returns a message.Transport that frames every message with the wire
// codec and hands the bytes to send
func Broadcast(send func(data []byte)) message.Transport {
	return NewTransport(
		func(msg *message.MsgProposal) { send(wire.Encode(msg)) },
		func(msg *message.MsgPrepare) { send(wire.Encode(msg)) },
		func(msg *message.MsgCommit) { send(wire.Encode(msg)) },
		func(msg *message.MsgRoundChange) { send(wire.Encode(msg)) },
	)
}
