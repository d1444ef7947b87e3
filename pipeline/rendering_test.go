package pipeline

import (
	"testing"
	"time"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/buffer"
	"github.com/zsiec/reel/clock"
	"github.com/zsiec/reel/command"
	"github.com/zsiec/reel/renderer"
)

type fakeRenderer struct {
	renders []block.Timestamp
	seeks   int
	updates int
	busy    bool
}

func (f *fakeRenderer) Play()  {}
func (f *fakeRenderer) Pause() {}
func (f *fakeRenderer) Stop()  {}
func (f *fakeRenderer) Seek()  { f.seeks++ }
func (f *fakeRenderer) Close() {}
func (f *fakeRenderer) WaitForReady() {}
func (f *fakeRenderer) Render(b *block.Block, wall block.Timestamp) bool {
	if f.busy {
		return false
	}
	f.renders = append(f.renders, b.Start)
	return true
}
func (f *fakeRenderer) Update(wall block.Timestamp) { f.updates++ }

func mkBlk(startMS, durMS int) *block.Block {
	b := block.NewBlock(8)
	b.Reserve(8)
	b.SetTiming(block.FromDuration(time.Duration(startMS)*time.Millisecond), time.Duration(durMS)*time.Millisecond)
	return b
}

func TestRenderingWorker_RendersOncePerDistinctStart(t *testing.T) {
	buf := buffer.New(4)
	buf.Add(mkBlk(0, 10))
	buf.Add(mkBlk(10, 10))

	rend := &fakeRenderer{}
	c := clock.New()
	c.Update(block.FromDuration(5 * time.Millisecond))

	rw := &RenderingWorker{
		Main:      block.Video,
		Buffers:   map[block.MediaType]*buffer.BlockBuffer{block.Video: buf},
		Renderers: map[block.MediaType]renderer.Renderer{block.Video: rend},
		Clock:     c,
		Cmds:      command.New(),
	}
	w := newTestWorker()
	if _, err := rw.cycle(w); err != nil {
		t.Fatalf("cycle() error: %v", err)
	}
	if _, err := rw.cycle(w); err != nil {
		t.Fatalf("cycle() error: %v", err)
	}
	if len(rend.renders) != 1 {
		t.Fatalf("renders = %v, want exactly one call for an unchanged block", rend.renders)
	}

	c.Update(block.FromDuration(15 * time.Millisecond))
	if _, err := rw.cycle(w); err != nil {
		t.Fatalf("cycle() error: %v", err)
	}
	if len(rend.renders) != 2 {
		t.Fatalf("renders = %v, want a second call once the selected block changes", rend.renders)
	}
	if rend.updates != 3 {
		t.Fatalf("updates = %d, want 3 (once per cycle call)", rend.updates)
	}
}

func TestRenderingWorker_InvalidateIsIdempotent(t *testing.T) {
	buf := buffer.New(4)
	buf.Add(mkBlk(0, 10))
	rend := &fakeRenderer{}
	rw := &RenderingWorker{
		Main:      block.Video,
		Buffers:   map[block.MediaType]*buffer.BlockBuffer{block.Video: buf},
		Renderers: map[block.MediaType]renderer.Renderer{block.Video: rend},
		Clock:     clock.New(),
		Cmds:      command.New(),
	}
	rw.InvalidateRenderer(block.Video)
	rw.InvalidateRenderer(block.Video)
	if rw.lastRenderTime[block.Video] != block.Unset {
		t.Fatal("expected last render time to stay Unset after two invalidations")
	}
	if rend.seeks != 2 {
		t.Fatalf("seeks = %d, want 2 (Seek() itself is not required to be idempotent, only the resulting state)", rend.seeks)
	}
}
