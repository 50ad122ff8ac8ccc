package store

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/message"
)

type msgKey struct {
	kind   message.Kind
	round  uint64
	sender common.Address
}

// msgSet holds at most one message per (kind, round, sender)
type msgSet map[msgKey]message.Message

func (s msgSet) add(msg message.Message) bool {
	key := msgKey{
		kind:   msg.Kind(),
		round:  msg.View().Round,
		sender: msg.Sender(),
	}

	if _, ok := s[key]; ok {
		return false
	}

	s[key] = msg

	return true
}

func (s msgSet) messages() []message.Message {
	messages := make([]message.Message, 0, len(s))
	for _, msg := range s {
		messages = append(messages, msg)
	}

	return messages
}

// collection groups buffered messages by height
type collection map[uint64]msgSet

func (c collection) set(height uint64) msgSet {
	set, ok := c[height]
	if !ok {
		set = msgSet{}
		c[height] = set
	}

	return set
}

func (c collection) lowestHeight() (uint64, bool) {
	var (
		lowest uint64
		found  bool
	)

	for height := range c {
		if !found || height < lowest {
			lowest, found = height, true
		}
	}

	return lowest, found
}
