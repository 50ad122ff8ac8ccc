// Package validator holds the validator set snapshot, proposer selection and
// the voting mechanism used to add or remove validators.
package validator

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
)

// MinSafeSize is the smallest set that still tolerates one faulty validator
const MinSafeSize = 4

var (
	ErrEmptySet           = errors.New("empty validator set")
	ErrDuplicateValidator = errors.New("duplicate validator")
)

// Set is an immutable, identity ordered snapshot of validators. A new Set is
// produced whenever a finalized block changes membership
type Set struct {
	addrs []common.Address
	index map[common.Address]int
}

func NewSet(addrs ...common.Address) (*Set, error) {
	if len(addrs) == 0 {
		return nil, ErrEmptySet
	}

	sorted := slices.Clone(addrs)
	slices.SortFunc(sorted, func(a, b common.Address) int {
		return bytes.Compare(a.Bytes(), b.Bytes())
	})

	index := make(map[common.Address]int, len(sorted))

	for i, addr := range sorted {
		if _, ok := index[addr]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateValidator, addr)
		}

		index[addr] = i
	}

	return &Set{addrs: sorted, index: index}, nil
}

func (s *Set) Len() int {
	return len(s.addrs)
}

// Addresses returns a copy of the ordered validator addresses
func (s *Set) Addresses() []common.Address {
	return slices.Clone(s.addrs)
}

func (s *Set) At(i int) common.Address {
	return s.addrs[i]
}

func (s *Set) Contains(addr common.Address) bool {
	_, ok := s.index[addr]

	return ok
}

// IndexOf returns the position of addr in the set, or -1
func (s *Set) IndexOf(addr common.Address) int {
	i, ok := s.index[addr]
	if !ok {
		return -1
	}

	return i
}

// Quorum returns floor(2n/3)+1
func (s *Set) Quorum() int {
	return 2*len(s.addrs)/3 + 1
}

// MaxFaulty returns the number of faulty validators f the set tolerates
func (s *Set) MaxFaulty() int {
	return (len(s.addrs) - 1) / 3
}

// HasQuorum reports whether the given senders form a quorum. Senders are
// counted once and non-members are ignored
func (s *Set) HasQuorum(senders []common.Address) bool {
	seen := make(map[common.Address]struct{}, len(senders))

	for _, sender := range senders {
		if s.Contains(sender) {
			seen[sender] = struct{}{}
		}
	}

	return len(seen) >= s.Quorum()
}

// With returns a new set that includes addr
func (s *Set) With(addr common.Address) (*Set, error) {
	return NewSet(append(s.Addresses(), addr)...)
}

// Without returns a new set that excludes addr
func (s *Set) Without(addr common.Address) (*Set, error) {
	return NewSet(slices.DeleteFunc(s.Addresses(), func(a common.Address) bool {
		return a == addr
	})...)
}

func (s *Set) String() string {
	return fmt.Sprintf("%v", s.addrs)
}
