// Package store buffers consensus messages received ahead of the local height.
package store

import (
	"slices"
	"sort"
	"sync"

	"github.com/sig-0/go-qbft/message"
)

// DefaultCapacity bounds the number of buffered messages
const DefaultCapacity = 4096

// MsgStore is a bounded, thread-safe buffer of future height messages. When full,
// the messages of the oldest buffered height are evicted first
type MsgStore struct {
	mux        sync.RWMutex
	collection collection
	size       int
	capacity   int
}

func NewMsgStore(capacity int) *MsgStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &MsgStore{
		collection: collection{},
		capacity:   capacity,
	}
}

// Add buffers msg and reports whether it was kept, along with the number of
// evicted messages. Only the first message per (kind, round, sender) of a height
// is kept. msg itself is evicted when it belongs to the oldest height of a full store
func (s *MsgStore) Add(msg message.Message) (bool, int) {
	s.mux.Lock()
	defer s.mux.Unlock()

	height := msg.View().Height

	if !s.collection.set(height).add(msg) {
		return false, 0
	}

	s.size++

	evicted := 0

	for s.size > s.capacity {
		oldest, ok := s.collection.lowestHeight()
		if !ok {
			break
		}

		n := len(s.collection[oldest])
		delete(s.collection, oldest)

		s.size -= n
		evicted += n
	}

	_, kept := s.collection[height]

	return kept, evicted
}

// Take removes and returns all messages buffered for height, ordered by round
// and then by kind so proposals replay ahead of their votes
func (s *MsgStore) Take(height uint64) []message.Message {
	s.mux.Lock()
	defer s.mux.Unlock()

	set, ok := s.collection[height]
	if !ok {
		return nil
	}

	delete(s.collection, height)
	s.size -= len(set)

	messages := set.messages()
	sort.SliceStable(messages, func(i, j int) bool {
		vi, vj := messages[i].View(), messages[j].View()
		if vi.Round != vj.Round {
			return vi.Round < vj.Round
		}

		return messages[i].Kind() < messages[j].Kind()
	})

	return messages
}

// Prune drops all messages for heights below height
func (s *MsgStore) Prune(height uint64) {
	s.mux.Lock()
	defer s.mux.Unlock()

	for h, set := range s.collection {
		if h < height {
			s.size -= len(set)
			delete(s.collection, h)
		}
	}
}

func (s *MsgStore) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()

	return s.size
}

// Heights returns the buffered heights in ascending order
func (s *MsgStore) Heights() []uint64 {
	s.mux.RLock()
	defer s.mux.RUnlock()

	heights := make([]uint64, 0, len(s.collection))
	for h := range s.collection {
		heights = append(heights, h)
	}

	slices.Sort(heights)

	return heights
}
