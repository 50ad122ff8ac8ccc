// Package chain provides an in-memory block chain that satisfies qbft.BlockInterface.
// Blocks are RLP encoded headers. A header may carry one validator vote.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/sig-0/go-qbft"
	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/validator"
)

// Header is the block format of the in-memory chain
type Header struct {
	Height     uint64
	ParentHash common.Hash
	Author     common.Address
	Round      uint64
	Timestamp  uint64
	VoteTarget common.Address
	VoteAuth   uint8
	Extra      []byte
}

func (h *Header) Bytes() []byte {
	data, err := rlp.EncodeToBytes(h)
	if err != nil {
		panic(fmt.Errorf("failed to encode header: %w", err).Error())
	}

	return data
}

func (h *Header) Hash() common.Hash {
	return message.BlockHash(h.Bytes())
}

// Vote returns the vote carried by the header, cast by its author, or nil
func (h *Header) Vote() *validator.Vote {
	if h.VoteAuth == 0 {
		return nil
	}

	return &validator.Vote{
		Voter:  h.Author,
		Target: h.VoteTarget,
		Auth:   validator.Auth(h.VoteAuth),
	}
}

func DecodeHeader(block []byte) (*Header, error) {
	var h Header
	if err := rlp.DecodeBytes(block, &h); err != nil {
		return nil, fmt.Errorf("malformed header: %w", err)
	}

	return &h, nil
}

// Block is a header imported together with its finality proof
type Block struct {
	Header   *Header
	Hash     common.Hash
	Round    uint64
	Proposer common.Address
	Seals    []message.CommitSeal
}

// VoteSource supplies the vote a proposed block carries
type VoteSource interface {
	NextVote() (common.Address, validator.Auth, bool)
}

// ExtraFn returns the payload of a block being built. Returning
// qbft.ErrNoTransactions makes the proposer abstain
type ExtraFn func(height uint64) ([]byte, error)

// Memory is an append-only chain kept in memory
type Memory struct {
	mux    sync.RWMutex
	blocks []*Block

	// Author is stamped on built blocks and credited with their vote
	Author common.Address

	// Votes is consulted when building a block. Nil means no votes are cast
	Votes VoteSource

	// Extra fills the block payload. Nil produces empty blocks
	Extra ExtraFn
}

// NewMemory returns a chain holding only the genesis block at height 0
func NewMemory() *Memory {
	genesis := &Header{}

	return &Memory{
		blocks: []*Block{{Header: genesis, Hash: genesis.Hash()}},
	}
}

// Head returns the latest imported block
func (m *Memory) Head() *Block {
	m.mux.RLock()
	defer m.mux.RUnlock()

	return m.blocks[len(m.blocks)-1]
}

// BlockAt returns the block at height, or nil
func (m *Memory) BlockAt(height uint64) *Block {
	m.mux.RLock()
	defer m.mux.RUnlock()

	if height >= uint64(len(m.blocks)) {
		return nil
	}

	return m.blocks[height]
}

func (m *Memory) BuildProposal(ctx context.Context, height, round uint64) ([]byte, error) {
	head := m.Head()
	if head.Header.Height+1 != height {
		return nil, fmt.Errorf("%w: chain head at %d, building %d", qbft.ErrExecution, head.Header.Height, height)
	}

	h := &Header{
		Height:     height,
		ParentHash: head.Hash,
		Author:     m.Author,
		Round:      round,
		Timestamp:  uint64(time.Now().Unix()),
	}

	if m.Extra != nil {
		extra, err := m.Extra(height)
		if err != nil {
			return nil, err
		}

		h.Extra = extra
	}

	if m.Votes != nil {
		if target, auth, ok := m.Votes.NextVote(); ok {
			h.VoteTarget = target
			h.VoteAuth = uint8(auth)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return h.Bytes(), nil
}

func (m *Memory) IsValidProposal(block []byte, height uint64) bool {
	h, err := DecodeHeader(block)
	if err != nil {
		return false
	}

	head := m.Head()

	return h.Height == height && h.Height == head.Header.Height+1 && h.ParentHash == head.Hash
}

func (m *Memory) ImportAndFinalize(_ context.Context, fb *message.FinalizedBlock) error {
	h, err := DecodeHeader(fb.Block)
	if err != nil {
		return fmt.Errorf("%w: %w", qbft.ErrBlockRejected, err)
	}

	m.mux.Lock()
	defer m.mux.Unlock()

	head := m.blocks[len(m.blocks)-1]

	if h.Height != fb.Height || h.Height != head.Header.Height+1 {
		return fmt.Errorf("%w: height %d does not extend head %d", qbft.ErrBlockRejected, h.Height, head.Header.Height)
	}

	if h.ParentHash != head.Hash {
		return fmt.Errorf("%w: unknown parent %s", qbft.ErrBlockRejected, h.ParentHash)
	}

	m.blocks = append(m.blocks, &Block{
		Header:   h,
		Hash:     fb.BlockHash,
		Round:    fb.Round,
		Proposer: fb.Proposer,
		Seals:    fb.Seals,
	})

	return nil
}

func (m *Memory) ExtractVote(block []byte) (*validator.Vote, error) {
	h, err := DecodeHeader(block)
	if err != nil {
		return nil, err
	}

	return h.Vote(), nil
}
