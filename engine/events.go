package engine

import (
	"github.com/rs/xid"

	"github.com/sig-0/go-qbft/message"
)

// event is anything the Run loop reacts to
type event interface {
	isEvent()
}

type msgEvent struct {
	msg message.Message
}

type timeoutEvent struct {
	view message.View
}

// builtEvent carries the outcome of a block construction request
type builtEvent struct {
	id    xid.ID
	view  message.View
	block []byte
	err   error
}

func (msgEvent) isEvent()     {}
func (timeoutEvent) isEvent() {}
func (builtEvent) isEvent()   {}
