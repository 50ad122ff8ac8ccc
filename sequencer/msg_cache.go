package sequencer

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/message"
)

// msgCache keeps the first message of every sender that passes filterFn.
// Later messages from a seen sender are skipped even if the first one was filtered out
type msgCache[M message.QBFTMessage] struct {
	filterFn func(M) bool
	seen     map[common.Address]struct{}
	filtered []M
}

func newMsgCache[M message.QBFTMessage](filterFn func(M) bool) msgCache[M] {
	return msgCache[M]{
		filterFn: filterFn,
		filtered: make([]M, 0),
		seen:     make(map[common.Address]struct{}),
	}
}

func (c msgCache[M]) add(messages []M) msgCache[M] {
	for _, msg := range messages {
		sender := message.Message(msg).Sender()
		if _, ok := c.seen[sender]; ok {
			continue
		}

		c.seen[sender] = struct{}{}

		if !c.filterFn(msg) {
			continue
		}

		c.filtered = append(c.filtered, msg)
	}

	return c
}

func (c msgCache[M]) get() []M {
	return c.filtered
}

func (c msgCache[M]) senders() []common.Address {
	out := make([]common.Address, 0, len(c.filtered))
	for _, msg := range c.filtered {
		out = append(out, message.Message(msg).Sender())
	}

	return out
}
