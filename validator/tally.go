package validator

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientValidators = errors.New("validator set would drop below minimum safe size")
	ErrRedundantVote          = errors.New("vote does not change the validator set")
	ErrNotValidator           = errors.New("voter is not a validator")
	ErrInvalidAuth            = errors.New("invalid vote direction")
)

// Auth is the direction of a validator vote
type Auth uint8

const (
	AuthAdd Auth = iota + 1
	AuthDrop
)

func (a Auth) String() string {
	switch a {
	case AuthAdd:
		return "add"
	case AuthDrop:
		return "drop"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Vote asks to add Target to, or drop Target from, the validator set. Votes
// travel in block headers, so Voter is the validator that built the carrying block
type Vote struct {
	Voter  common.Address
	Target common.Address
	Auth   Auth
}

// Outcome describes the effect a vote had on the validator set
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeAdded
	OutcomeDropped
)

// Count is the number of pending votes for a single target
type Count struct {
	Add  int `json:"add"`
	Drop int `json:"drop"`
}

// Tally accumulates validator votes across blocks. It is mutated only at
// finalization and may be read concurrently
type Tally struct {
	mu sync.RWMutex

	// target -> voter -> direction
	votes map[common.Address]map[common.Address]Auth
}

func NewTally() *Tally {
	return &Tally{votes: make(map[common.Address]map[common.Address]Auth)}
}

// CastVote records vote against set. A voter's later vote for the same target
// replaces the earlier one. Once a direction gathers set.Quorum() votes from current
// members the change is applied, the target's votes are cleared and the new set is
// returned. A drop that would leave fewer than MinSafeSize validators is discarded
// with ErrInsufficientValidators and set is returned unchanged
func (t *Tally) CastVote(set *Set, vote Vote) (*Set, Outcome, error) {
	if vote.Auth != AuthAdd && vote.Auth != AuthDrop {
		return set, OutcomePending, fmt.Errorf("%w: %d", ErrInvalidAuth, vote.Auth)
	}

	if !set.Contains(vote.Voter) {
		return set, OutcomePending, fmt.Errorf("%w: %s", ErrNotValidator, vote.Voter)
	}

	isMember := set.Contains(vote.Target)
	if vote.Auth == AuthAdd && isMember || vote.Auth == AuthDrop && !isMember {
		return set, OutcomePending, fmt.Errorf("%w: %s %s", ErrRedundantVote, vote.Auth, vote.Target)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	voters, ok := t.votes[vote.Target]
	if !ok {
		voters = make(map[common.Address]Auth)
		t.votes[vote.Target] = voters
	}

	voters[vote.Voter] = vote.Auth

	count := 0

	for voter, auth := range voters {
		if auth == vote.Auth && set.Contains(voter) {
			count++
		}
	}

	if count < set.Quorum() {
		return set, OutcomePending, nil
	}

	delete(t.votes, vote.Target)

	if vote.Auth == AuthAdd {
		next, err := set.With(vote.Target)
		if err != nil {
			return set, OutcomePending, err
		}

		return next, OutcomeAdded, nil
	}

	if set.Len()-1 < MinSafeSize {
		return set, OutcomePending, fmt.Errorf(
			"%w: dropping %s leaves %d validators",
			ErrInsufficientValidators,
			vote.Target,
			set.Len()-1,
		)
	}

	next, err := set.Without(vote.Target)
	if err != nil {
		return set, OutcomePending, err
	}

	// a removed validator's own votes no longer count
	for target, voters := range t.votes {
		delete(voters, vote.Target)

		if len(voters) == 0 {
			delete(t.votes, target)
		}
	}

	return next, OutcomeDropped, nil
}

// Tally returns the pending vote counts per target
func (t *Tally) Tally() map[common.Address]Count {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[common.Address]Count, len(t.votes))

	for target, voters := range t.votes {
		var c Count

		for _, auth := range voters {
			switch auth {
			case AuthAdd:
				c.Add++
			case AuthDrop:
				c.Drop++
			}
		}

		out[target] = c
	}

	return out
}

// Voters returns the pending votes cast for target, by voter
func (t *Tally) Voters(target common.Address) map[common.Address]Auth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return maps.Clone(t.votes[target])
}

// Discard drops all pending votes for target
func (t *Tally) Discard(target common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.votes, target)
}
