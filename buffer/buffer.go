// Package buffer implements BlockBuffer, the capacity-bounded, start-time
// ordered store of materialized Blocks that sits between a MediaComponent's
// decoding side and the rendering worker.
package buffer

import (
	"sort"
	"sync"
	"time"

	"github.com/zsiec/reel/block"
)

// BlockBuffer holds at most Capacity blocks of a single media type, kept
// sorted by Start. Once full, Add recycles the oldest block's SharedBuffer
// instead of allocating a new one, matching spec.md's "materialize
// reuses the evicted block's buffer" invariant.
type BlockBuffer struct {
	mu       sync.Mutex
	capacity int
	blocks   []*block.Block
}

// New creates an empty BlockBuffer with the given capacity (must be >= 1).
func New(capacity int) *BlockBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &BlockBuffer{capacity: capacity}
}

// Len returns the number of blocks currently held.
func (b *BlockBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blocks)
}

// Capacity returns the buffer's configured maximum block count.
func (b *BlockBuffer) Capacity() int { return b.capacity }

// IsFull reports whether the buffer is at capacity.
func (b *BlockBuffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blocks) >= b.capacity
}

// CapacityPercent returns occupancy as a 0..1 fraction.
func (b *BlockBuffer) CapacityPercent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(len(b.blocks)) / float64(b.capacity)
}

// Add inserts newBlock in Start order. If a block with the same Start
// already exists, it is replaced in place (duplicate start times happen
// when a decoder resends a frame after a seek lands exactly on a keyframe).
// If the buffer is at capacity and newBlock's start is not a duplicate, the
// oldest block is evicted and its SharedBuffer handed back to the caller
// for reuse; otherwise the returned buffer is nil.
func (b *BlockBuffer) Add(newBlock *block.Block) (recycled *block.SharedBuffer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, exact := b.search(newBlock.Start)
	if exact {
		old := b.blocks[idx]
		b.blocks[idx] = newBlock
		return old.SharedBuffer
	}

	if len(b.blocks) >= b.capacity {
		oldest := b.blocks[0]
		b.blocks = append(b.blocks[:0], b.blocks[1:]...)
		idx, _ = b.search(newBlock.Start)
		recycled = oldest.SharedBuffer
	}

	b.blocks = append(b.blocks, nil)
	copy(b.blocks[idx+1:], b.blocks[idx:])
	b.blocks[idx] = newBlock
	return recycled
}

// search returns the insertion index for t and whether a block with
// exactly that start already exists. Caller must hold mu.
func (b *BlockBuffer) search(t block.Timestamp) (idx int, exact bool) {
	idx = sort.Search(len(b.blocks), func(i int) bool {
		return !b.blocks[i].Start.Less(t)
	})
	if idx < len(b.blocks) && b.blocks[idx].Start == t {
		return idx, true
	}
	return idx, false
}

// At returns the block containing t, falling back to the nearest prior
// block, or nil if t precedes every held block.
func (b *BlockBuffer) At(t block.Timestamp) *block.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOfLocked(t)
	if i < 0 {
		return nil
	}
	return b.blocks[i]
}

// IndexOf returns the index of the block containing t, falling back to the
// nearest prior block, or -1 if t precedes every held block.
func (b *BlockBuffer) IndexOf(t block.Timestamp) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexOfLocked(t)
}

func (b *BlockBuffer) indexOfLocked(t block.Timestamp) int {
	for i, blk := range b.blocks {
		if blk.Contains(t) {
			return i
		}
	}
	nearest := -1
	for i, blk := range b.blocks {
		if blk.End <= t {
			nearest = i
		}
	}
	return nearest
}

// RangeStart returns the Start of the earliest held block.
func (b *BlockBuffer) RangeStart() (block.Timestamp, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		return block.Unset, false
	}
	return b.blocks[0].Start, true
}

// RangeEnd returns the End of the latest held block.
func (b *BlockBuffer) RangeEnd() (block.Timestamp, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		return block.Unset, false
	}
	return b.blocks[len(b.blocks)-1].End, true
}

// RangeDuration returns RangeEnd - RangeStart, or 0 if empty.
func (b *BlockBuffer) RangeDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		return 0
	}
	return b.blocks[len(b.blocks)-1].End.Sub(b.blocks[0].Start)
}

// IsInRange reports whether t falls within [RangeStart, RangeEnd).
func (b *BlockBuffer) IsInRange(t block.Timestamp) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		return false
	}
	return !t.Less(b.blocks[0].Start) && t.Less(b.blocks[len(b.blocks)-1].End)
}

// RangeBitRate estimates bits/second across the currently held range from
// total buffered bytes over RangeDuration. Returns 0 if the range has no
// duration or no blocks are held.
func (b *BlockBuffer) RangeBitRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) < 2 {
		return 0
	}
	totalBytes := 0
	for _, blk := range b.blocks {
		totalBytes += blk.Size
	}
	dur := b.blocks[len(b.blocks)-1].End.Sub(b.blocks[0].Start)
	if dur <= 0 {
		return 0
	}
	return float64(totalBytes*8) / dur.Seconds()
}

// RangePercent returns how far t sits through the held range, as a
// fraction clamped to [0, +Inf): 1.0 means t sits exactly at the range's
// end, and values above 1 mean t has run past everything currently
// buffered. Used by the host to render a buffered-ahead indicator.
func (b *BlockBuffer) RangePercent(t block.Timestamp) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		return 0
	}
	start := b.blocks[0].Start
	end := b.blocks[len(b.blocks)-1].End
	total := end.Sub(start)
	if total <= 0 {
		return 0
	}
	elapsed := t.Sub(start)
	pct := float64(elapsed) / float64(total)
	if pct < 0 {
		return 0
	}
	return pct
}

// GetSnapPosition returns the nearest block boundary to t: the Start of the
// block containing t if any, otherwise the closest edge of the held range.
// Used by seeks that land between blocks to avoid starving the renderer.
func (b *BlockBuffer) GetSnapPosition(t block.Timestamp) (block.Timestamp, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		return block.Unset, false
	}
	if i := b.indexOfLocked(t); i >= 0 {
		return b.blocks[i].Start, true
	}
	if t.Less(b.blocks[0].Start) {
		return b.blocks[0].Start, true
	}
	return b.blocks[len(b.blocks)-1].Start, true
}

// Clear empties the buffer, returning the SharedBuffers of every block it
// held so the caller (typically a seek/close handler) can recycle them.
func (b *BlockBuffer) Clear() []*block.SharedBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	bufs := make([]*block.SharedBuffer, len(b.blocks))
	for i, blk := range b.blocks {
		bufs[i] = blk.SharedBuffer
	}
	b.blocks = nil
	return bufs
}

// Oldest returns the earliest block without removing it, or nil if empty.
func (b *BlockBuffer) Oldest() *block.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		return nil
	}
	return b.blocks[0]
}

// Newest returns the latest block without removing it, or nil if empty.
func (b *BlockBuffer) Newest() *block.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		return nil
	}
	return b.blocks[len(b.blocks)-1]
}
