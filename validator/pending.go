package validator

import (
	"bytes"
	"maps"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PendingVotes holds the votes an operator wants this node to cast. Each time
// the node proposes a block, Next hands out one vote to embed in it
type PendingVotes struct {
	mu     sync.Mutex
	votes  map[common.Address]Auth
	cursor int
}

func NewPendingVotes() *PendingVotes {
	return &PendingVotes{votes: make(map[common.Address]Auth)}
}

// Propose registers a vote, replacing any earlier vote for target
func (p *PendingVotes) Propose(target common.Address, auth Auth) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.votes[target] = auth
}

func (p *PendingVotes) Discard(target common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.votes, target)
}

func (p *PendingVotes) List() map[common.Address]Auth {
	p.mu.Lock()
	defer p.mu.Unlock()

	return maps.Clone(p.votes)
}

// Next returns the next vote that would still change set, rotating through
// the pending votes so each gets a turn
func (p *PendingVotes) Next(set *Set) (common.Address, Auth, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	targets := slices.SortedFunc(maps.Keys(p.votes), func(a, b common.Address) int {
		return bytes.Compare(a.Bytes(), b.Bytes())
	})

	for i := 0; i < len(targets); i++ {
		target := targets[(p.cursor+i)%len(targets)]
		auth := p.votes[target]

		if auth == AuthAdd && set.Contains(target) || auth == AuthDrop && !set.Contains(target) {
			continue
		}

		p.cursor = (p.cursor + i + 1) % len(targets)

		return target, auth, true
	}

	return common.Address{}, 0, false
}
