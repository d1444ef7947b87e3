package buffer

import (
	"testing"
	"time"

	"github.com/zsiec/reel/block"
)

func mkBlock(startMS int, durMS int, size int) *block.Block {
	b := block.NewBlock(size)
	b.Reserve(size)
	b.SetTiming(block.FromDuration(time.Duration(startMS)*time.Millisecond), time.Duration(durMS)*time.Millisecond)
	return b
}

func TestBlockBuffer_AddKeepsStartOrder(t *testing.T) {
	buf := New(4)
	buf.Add(mkBlock(20, 10, 8))
	buf.Add(mkBlock(0, 10, 8))
	buf.Add(mkBlock(10, 10, 8))

	if buf.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", buf.Len())
	}
	start, ok := buf.RangeStart()
	if !ok || start != block.FromDuration(0) {
		t.Fatalf("RangeStart() = %v, %v", start, ok)
	}
	end, ok := buf.RangeEnd()
	if !ok || end != block.FromDuration(30*time.Millisecond) {
		t.Fatalf("RangeEnd() = %v, %v", end, ok)
	}
}

func TestBlockBuffer_EvictsOldestAtCapacity(t *testing.T) {
	buf := New(2)
	buf.Add(mkBlock(0, 10, 8))
	buf.Add(mkBlock(10, 10, 8))
	recycled := buf.Add(mkBlock(20, 10, 8))
	if recycled == nil {
		t.Fatal("expected a recycled SharedBuffer when adding past capacity")
	}
	if buf.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after eviction", buf.Len())
	}
	start, _ := buf.RangeStart()
	if start != block.FromDuration(10*time.Millisecond) {
		t.Fatalf("RangeStart() = %v, want 10ms after evicting oldest", start)
	}
}

func TestBlockBuffer_AddReplacesDuplicateStart(t *testing.T) {
	buf := New(4)
	buf.Add(mkBlock(0, 10, 8))
	recycled := buf.Add(mkBlock(0, 20, 16))
	if recycled == nil {
		t.Fatal("expected the replaced block's buffer back")
	}
	if buf.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after replace", buf.Len())
	}
	blk := buf.At(block.FromDuration(5 * time.Millisecond))
	if blk == nil || blk.Duration != 20*time.Millisecond {
		t.Fatalf("At() did not return the replacement block: %+v", blk)
	}
}

func TestBlockBuffer_IsFullAndCapacityPercent(t *testing.T) {
	buf := New(2)
	if buf.IsFull() {
		t.Fatal("empty buffer reported full")
	}
	buf.Add(mkBlock(0, 10, 8))
	if buf.CapacityPercent() != 0.5 {
		t.Fatalf("CapacityPercent() = %v, want 0.5", buf.CapacityPercent())
	}
	buf.Add(mkBlock(10, 10, 8))
	if !buf.IsFull() {
		t.Fatal("full buffer not reported full")
	}
}

func TestBlockBuffer_IsInRangeAndPercent(t *testing.T) {
	buf := New(4)
	buf.Add(mkBlock(0, 10, 8))
	buf.Add(mkBlock(10, 10, 8))
	buf.Add(mkBlock(20, 10, 8))

	if !buf.IsInRange(block.FromDuration(15 * time.Millisecond)) {
		t.Fatal("expected 15ms to be in range")
	}
	if buf.IsInRange(block.FromDuration(100 * time.Millisecond)) {
		t.Fatal("expected 100ms to be out of range")
	}
	pct := buf.RangePercent(block.FromDuration(15 * time.Millisecond))
	if pct <= 0 || pct >= 1 {
		t.Fatalf("RangePercent(15ms) = %v, want in (0,1)", pct)
	}
}

func TestBlockBuffer_RangePercentClampsOnlyBelowZero(t *testing.T) {
	buf := New(4)
	buf.Add(mkBlock(0, 10, 8))
	buf.Add(mkBlock(10, 10, 8))

	if pct := buf.RangePercent(block.FromDuration(-5 * time.Millisecond)); pct != 0 {
		t.Fatalf("RangePercent(before range) = %v, want 0", pct)
	}
	if pct := buf.RangePercent(block.FromDuration(100 * time.Millisecond)); pct <= 1 {
		t.Fatalf("RangePercent(past range) = %v, want >1", pct)
	}
}

func TestBlockBuffer_GetSnapPosition(t *testing.T) {
	buf := New(4)
	buf.Add(mkBlock(0, 10, 8))
	buf.Add(mkBlock(10, 10, 8))

	snap, ok := buf.GetSnapPosition(block.FromDuration(5 * time.Millisecond))
	if !ok || snap != block.FromDuration(0) {
		t.Fatalf("GetSnapPosition(5ms) = %v, %v", snap, ok)
	}
	snap, ok = buf.GetSnapPosition(block.FromDuration(100 * time.Millisecond))
	if !ok || snap != block.FromDuration(10*time.Millisecond) {
		t.Fatalf("GetSnapPosition(100ms) = %v, %v, want snapped to last block", snap, ok)
	}
}

func TestBlockBuffer_Clear(t *testing.T) {
	buf := New(4)
	buf.Add(mkBlock(0, 10, 8))
	buf.Add(mkBlock(10, 10, 8))
	bufs := buf.Clear()
	if len(bufs) != 2 {
		t.Fatalf("Clear() returned %d buffers, want 2", len(bufs))
	}
	if buf.Len() != 0 {
		t.Fatalf("Len() after Clear() = %d, want 0", buf.Len())
	}
}
