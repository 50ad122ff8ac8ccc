package store

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/go-qbft/message"
)

func prepare(sender byte, height, round uint64) *message.MsgPrepare {
	return &message.MsgPrepare{
		Info: message.MsgInfo{
			Height:    height,
			Round:     round,
			Sender:    common.BytesToAddress([]byte{sender}),
			Signature: []byte("signature"),
		},
		BlockHash: message.BlockHash([]byte("block")),
	}
}

func Test_MsgStore_FirstPerSender(t *testing.T) {
	t.Parallel()

	s := NewMsgStore(10)

	added, _ := s.Add(prepare(1, 5, 0))
	assert.True(t, added)

	added, _ = s.Add(prepare(1, 5, 0))
	assert.False(t, added)

	// a different round or kind is a different slot
	added, _ = s.Add(prepare(1, 5, 1))
	assert.True(t, added)

	added, _ = s.Add(&message.MsgCommit{Info: prepare(1, 5, 0).Info, CommitSeal: []byte("seal")})
	assert.True(t, added)

	assert.Equal(t, 3, s.Len())
}

func Test_MsgStore_Take(t *testing.T) {
	t.Parallel()

	s := NewMsgStore(10)

	commit := &message.MsgCommit{Info: prepare(2, 7, 0).Info, CommitSeal: []byte("seal")}
	proposal := &message.MsgProposal{Info: prepare(3, 7, 0).Info}

	s.Add(prepare(1, 7, 1))
	s.Add(commit)
	s.Add(prepare(1, 7, 0))
	s.Add(proposal)
	s.Add(prepare(1, 8, 0))

	messages := s.Take(7)
	require.Len(t, messages, 4)

	assert.Equal(t, message.Message(proposal), messages[0])
	assert.Equal(t, message.KindPrepare, messages[1].Kind())
	assert.Equal(t, message.Message(commit), messages[2])
	assert.Equal(t, uint64(1), messages[3].View().Round)

	assert.Nil(t, s.Take(7))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []uint64{8}, s.Heights())
}

func Test_MsgStore_EvictsOldestHeight(t *testing.T) {
	t.Parallel()

	s := NewMsgStore(3)

	s.Add(prepare(1, 10, 0))
	s.Add(prepare(2, 10, 0))
	s.Add(prepare(1, 12, 0))

	added, evicted := s.Add(prepare(1, 11, 0))
	assert.True(t, added)
	assert.Equal(t, 2, evicted)

	assert.Equal(t, []uint64{11, 12}, s.Heights())
	assert.Equal(t, 2, s.Len())
}

func Test_MsgStore_EvictedOnAdd(t *testing.T) {
	t.Parallel()

	s := NewMsgStore(2)

	s.Add(prepare(1, 10, 0))
	s.Add(prepare(2, 10, 0))

	// the new message is alone at the oldest height of a full store
	added, evicted := s.Add(prepare(1, 9, 0))
	assert.False(t, added)
	assert.Equal(t, 1, evicted)

	assert.Equal(t, []uint64{10}, s.Heights())
	assert.Nil(t, s.Take(9))
}

func Test_MsgStore_Prune(t *testing.T) {
	t.Parallel()

	s := NewMsgStore(0)

	for h := uint64(1); h <= 5; h++ {
		s.Add(prepare(1, h, 0))
	}

	s.Prune(4)

	assert.Equal(t, []uint64{4, 5}, s.Heights())
	assert.Equal(t, 2, s.Len())
}
