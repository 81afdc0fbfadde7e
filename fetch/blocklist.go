// Package fetch implements the multi-range fetch engine of §4.4: block
// planning, a mirror worker pool with work-stealing, and whole-file
// checksum verification, grounded on the provider package's own
// pulse-and-dispatch idiom (provider/scheduler.go) generalized from a
// single in-flight request per worker to many concurrent byte ranges.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fetch

import (
	"sync"
	"sync/atomic"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/debug"
)

// BlockState is one block's position in the §4.4.5 state machine.
type BlockState uint8

const (
	Pending BlockState = iota
	Fetch
	Competing
	Finalized
	Refetch
)

// Block is one addressable byte range of the destination file, optionally
// carrying its own content digest (metalink/zsync piece hash).
type Block struct {
	Offset   int64
	Size     int64
	Checksum string // hex digest, empty when the source carries none
}

// Stripe groups a run of blocks approximately default_blksize long (§4.4.1).
// State is a parallel vector, one entry per member block, guarded by mu
// since worker goroutines race to claim and finalize the same stripe.
type Stripe struct {
	mu     sync.Mutex
	Blocks []int // indices into BlockList.Blocks
	State  []BlockState
}

func (s *Stripe) get(i int) BlockState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State[i]
}

func (s *Stripe) set(i int, st BlockState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State[i] = st
}

// compareAndSet transitions State[i] from "from" to "to" iff it is still
// "from", reporting whether the caller won the race.
func (s *Stripe) compareAndSet(i int, from, to BlockState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	debug.Assert(to != Pending, "compareAndSet never transitions a block back to Pending")
	if s.State[i] != from {
		return false
	}
	s.State[i] = to
	return true
}

func (s *Stripe) allFinalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.State {
		if st != Finalized {
			return false
		}
	}
	return true
}

// BlockList is the engine's full plan: every block of the destination file
// grouped into stripes (§4.4.1).
type BlockList struct {
	Blocks  []Block
	Stripes []*Stripe

	next int32 // atomic cursor into Stripes, claimed by nextJob
}

// casNext atomically advances the unclaimed-stripe cursor, used by
// Engine.claimUnclaimedStripe to hand out each stripe to exactly one
// first-pass worker.
func (bl *BlockList) casNext(from, to int32) bool {
	return atomic.CompareAndSwapInt32(&bl.next, from, to)
}

// PlanBlocks implements §4.4.1: synthesize a block list when none was
// supplied by the metalink/zsync source, or validate and stripe one that
// was. Returns an error when neither a block list nor a known filesize is
// available, signalling the caller to fall back to the single-connection
// path (§4.4.1 step 2).
func PlanBlocks(filesize int64, supplied []Block, cfg cmn.FetchConfig) (*BlockList, error) {
	blocks := supplied
	if len(blocks) == 0 {
		if filesize <= 0 {
			return nil, cmn.NewErr(cmn.KindInvalidInput, 0, "multi-range fetch requires a block list or a known filesize")
		}
		blkSize := defaultBlockSize(filesize, cfg)
		blocks = synthesizeBlocks(filesize, blkSize)
	}

	total := int64(0)
	for _, b := range blocks {
		total += b.Size
	}
	stripeSize := defaultBlockSize(total, cfg)

	bl := &BlockList{Blocks: blocks}
	var cur *Stripe
	var curSize int64
	for i, b := range blocks {
		if cur == nil || curSize >= stripeSize {
			cur = &Stripe{}
			bl.Stripes = append(bl.Stripes, cur)
			curSize = 0
		}
		cur.Blocks = append(cur.Blocks, i)
		cur.State = append(cur.State, Pending)
		curSize += b.Size
	}
	debug.Assert(len(bl.Stripes) > 0, "a non-empty block list always stripes into at least one stripe")
	return bl, nil
}

// defaultBlksize = max(total/min(max_conns, 10), 4 KiB) (§4.4.1).
func defaultBlockSize(total int64, cfg cmn.FetchConfig) int64 {
	divisor := cfg.MaxConns
	if divisor <= 0 || divisor > 10 {
		divisor = 10
	}
	floor := cfg.MinBlockSize
	if floor <= 0 {
		floor = 4 * 1024
	}
	size := total / int64(divisor)
	if size < floor {
		size = floor
	}
	return size
}

func synthesizeBlocks(filesize, blkSize int64) []Block {
	var blocks []Block
	for off := int64(0); off < filesize; off += blkSize {
		size := blkSize
		if off+size > filesize {
			size = filesize - off
		}
		blocks = append(blocks, Block{Offset: off, Size: size})
	}
	return blocks
}
