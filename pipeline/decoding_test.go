package pipeline

import (
	"testing"
	"time"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/buffer"
	"github.com/zsiec/reel/clock"
	"github.com/zsiec/reel/command"
	"github.com/zsiec/reel/worker"
)

type fakePacketSource struct {
	remaining int
}

func (f *fakePacketSource) ReceiveNextFrame() (*block.Frame, error) {
	if f.remaining <= 0 {
		return nil, nil
	}
	f.remaining--
	return &block.Frame{Type: block.Video, Duration: 10 * time.Millisecond, HasValidStartTime: false, Data: make([]byte, 8)}, nil
}
func (f *fakePacketSource) HasPacketsInCodec() bool { return false }
func (f *fakePacketSource) BufferCount() int        { return f.remaining }

type sequentialMaterializer struct {
	next block.Timestamp
	step time.Duration
}

func (m *sequentialMaterializer) Materialize(frame *block.Frame, prev *block.Block, target *block.Block) (bool, error) {
	target.Lock()
	target.Reserve(8)
	target.Unlock()
	target.SetTiming(m.next, m.step)
	m.next = m.next.Add(m.step)
	return true, nil
}
func (m *sequentialMaterializer) Dispose() error { return nil }

func newTestWorker() *worker.Worker {
	pool := worker.NewPool(1)
	return worker.New("t", time.Hour, pool, func(w *worker.Worker) (bool, error) { return false, nil }, nil, nil, nil)
}

func TestDecodingWorker_HysteresisStopsAtCapacity(t *testing.T) {
	buf := buffer.New(3)
	comp := &fakePacketSource{remaining: 10}
	mat := &sequentialMaterializer{step: 10 * time.Millisecond}
	ts := NewTypeState(block.Video, buf, mat, comp, 8)

	dw := &DecodingWorker{
		Types: []*TypeState{ts},
		Main:  block.Video,
		Clock: clock.New(),
		Cmds:  command.New(),
	}
	w := newTestWorker()
	added := dw.fillOne(w, ts)
	if buf.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (capacity)", buf.Len())
	}
	if !buf.IsFull() {
		t.Fatal("expected buffer to report full once capacity is hit")
	}
	if added != 3 {
		t.Fatalf("added = %d, want 3", added)
	}
}

func TestDecodingWorker_BufferOrderingAndEviction(t *testing.T) {
	buf := buffer.New(2)
	comp := &fakePacketSource{remaining: 10}
	mat := &sequentialMaterializer{step: 10 * time.Millisecond}
	ts := NewTypeState(block.Video, buf, mat, comp, 8)
	dw := &DecodingWorker{Types: []*TypeState{ts}, Main: block.Video, Clock: clock.New(), Cmds: command.New()}

	for i := 0; i < 5; i++ {
		if _, err := dw.addNextBlock(ts); err != nil {
			t.Fatalf("addNextBlock() error: %v", err)
		}
	}
	if buf.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", buf.Len())
	}
	start, _ := buf.RangeStart()
	if start != block.FromDuration(30*time.Millisecond) {
		t.Fatalf("RangeStart() = %v, want 30ms (the 4th block) after evicting the first three", start)
	}
}

func TestDecodingWorker_InterruptResponsiveness(t *testing.T) {
	buf := buffer.New(10)
	comp := &fakePacketSource{remaining: 10}
	mat := &sequentialMaterializer{step: 10 * time.Millisecond}
	ts := NewTypeState(block.Video, buf, mat, comp, 8)
	dw := &DecodingWorker{Types: []*TypeState{ts}, Main: block.Video, Clock: clock.New(), Cmds: command.New()}

	w := newTestWorker()
	_ = w.Start()
	_ = w.Suspend() // sets InterruptRequested()
	added := dw.fillOne(w, ts)
	_ = w.Stop()
	if added != 0 {
		t.Fatalf("added = %d, want 0 once interrupted", added)
	}
}
