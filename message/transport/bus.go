package transport

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/message/wire"
)

// Filter decides whether msg sent by from is delivered to to
type Filter func(from, to common.Address, msg message.Message) bool

// Bus is an in-process broadcast network. Messages travel as wire encoded
// bytes and are never delivered back to their sender
type Bus struct {
	mu     sync.RWMutex
	peers  map[common.Address]func([]byte)
	filter Filter
}

func NewBus() *Bus {
	return &Bus{peers: make(map[common.Address]func([]byte))}
}

// Join registers deliver as the inbound handler of addr and returns the
// transport addr uses to broadcast
func (b *Bus) Join(addr common.Address, deliver func(data []byte)) message.Transport {
	b.mu.Lock()
	b.peers[addr] = deliver
	b.mu.Unlock()

	return Broadcast(func(data []byte) {
		b.send(addr, data)
	})
}

func (b *Bus) Leave(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.peers, addr)
}

// SetFilter installs f for all subsequent deliveries. A nil filter delivers everything
func (b *Bus) SetFilter(f Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filter = f
}

func (b *Bus) send(from common.Address, data []byte) {
	b.mu.RLock()
	filter := b.filter

	peers := make(map[common.Address]func([]byte), len(b.peers))
	for addr, deliver := range b.peers {
		peers[addr] = deliver
	}
	b.mu.RUnlock()

	var msg message.Message

	if filter != nil {
		decoded, err := wire.Decode(data)
		if err != nil {
			return
		}

		msg = decoded
	}

	for to, deliver := range peers {
		if to == from {
			continue
		}

		if filter != nil && !filter(from, to, msg) {
			continue
		}

		deliver(data)
	}
}
