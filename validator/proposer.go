package validator

import "github.com/ethereum/go-ethereum/common"

// ProposerFn selects the proposer of (height, round). It must be deterministic
// so that all honest validators agree without communication
type ProposerFn func(set *Set, height, round uint64) common.Address

// RoundRobin offsets the identity ordered set by (height + round) mod n, so a
// round change always rotates to a different validator
func RoundRobin(set *Set, height, round uint64) common.Address {
	return set.At(int((height + round) % uint64(set.Len())))
}

func (f ProposerFn) IsProposer(set *Set, addr common.Address, height, round uint64) bool {
	return f(set, height, round) == addr
}
