package pipeline

import (
	"time"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/buffer"
	"github.com/zsiec/reel/clock"
	"github.com/zsiec/reel/command"
	"github.com/zsiec/reel/logger"
	"github.com/zsiec/reel/metrics"
	"github.com/zsiec/reel/renderer"
	"github.com/zsiec/reel/worker"
)

// SubtitlePreload is a precomputed, non-decoder-backed subtitle source
// consulted in place of a subtitle BlockBuffer when present (spec.md §9's
// open question on preload-vs-stream precedence: preload always wins).
type SubtitlePreload interface {
	At(t block.Timestamp) *block.Block
}

// RenderingWorker drives the ~30ms cycle that selects, for each media
// type, the block containing the wall clock and hands it to that type's
// Renderer.
type RenderingWorker struct {
	Main      block.MediaType
	Buffers   map[block.MediaType]*buffer.BlockBuffer
	Renderers map[block.MediaType]renderer.Renderer
	Preload   SubtitlePreload

	Clock *clock.Clock
	Cmds  *command.CommandManager
	Log   logger.Logger

	// HasDecodingEnded reports the decoding worker's has_decoding_ended
	// flag, consulted for end-of-media detection.
	HasDecodingEnded func() bool
	// OnMediaEnded is invoked exactly once when end-of-media fires.
	OnMediaEnded func()
	// OnPositionChanged publishes wall each cycle the pipeline isn't
	// interrupted or sync-buffering.
	OnPositionChanged func(wall block.Timestamp)

	lastRenderTime map[block.MediaType]block.Timestamp
	mediaEnded     bool
}

// NewWorker builds the ~30ms rendering cycle. Call WaitForStart
// before starting the returned worker to perform spec.md §4.7's start-up
// handshake.
func (r *RenderingWorker) NewWorker(period time.Duration, pool *worker.Pool) *worker.Worker {
	if r.lastRenderTime == nil {
		r.lastRenderTime = make(map[block.MediaType]block.Timestamp)
		for t := range r.Renderers {
			r.lastRenderTime[t] = block.Unset
		}
	}
	return worker.New("renderer", period, pool, r.cycle, r.Log, nil, nil)
}

// WaitForStart implements the start-up handshake: block until the main
// buffer has at least one block (or decoding has ended), seat the clock
// at the main buffer's range start, and wait for every renderer to report
// ready.
func (r *RenderingWorker) WaitForStart(pollEvery time.Duration, interrupted func() bool) {
	mainBuf := r.Buffers[r.Main]
	for mainBuf.Len() == 0 {
		if interrupted != nil && interrupted() {
			break
		}
		if r.HasDecodingEnded != nil && r.HasDecodingEnded() {
			break
		}
		time.Sleep(pollEvery)
	}
	if start, ok := mainBuf.RangeStart(); ok {
		r.Clock.Update(start)
	}
	for _, rend := range r.Renderers {
		rend.WaitForReady()
	}
}

// InvalidateRenderer forces the next matching block through for type t,
// even if its start time equals the last one rendered. Idempotent: calling
// it twice in a row is equivalent to calling it once (spec property 8).
func (r *RenderingWorker) InvalidateRenderer(t block.MediaType) {
	if r.lastRenderTime == nil {
		r.lastRenderTime = make(map[block.MediaType]block.Timestamp)
	}
	r.lastRenderTime[t] = block.Unset
	if rend, ok := r.Renderers[t]; ok {
		rend.Seek()
	}
}

func (r *RenderingWorker) cycle(w *worker.Worker) (bool, error) {
	if r.Cmds.IsExecutingDirectCommand() {
		return false, nil
	}
	if r.Cmds.IsSeeking() {
		return false, nil
	}
	if r.lastRenderTime == nil {
		r.lastRenderTime = make(map[block.MediaType]block.Timestamp)
	}

	wall := r.Clock.Position()

	for t, rend := range r.Renderers {
		current := r.selectBlock(t, wall)
		if current != nil && !current.Disposed {
			last, seen := r.lastRenderTime[t]
			if !seen {
				last = block.Unset
			}
			if last.IsUnset() || current.Start != last {
				if rend.Render(current, wall) {
					metrics.IncrementRenderCall(t.String())
				} else {
					metrics.IncrementRenderSkip(t.String())
				}
				r.lastRenderTime[t] = current.Start
			}
		}
		rend.Update(wall)
	}

	for t, buf := range r.Buffers {
		metrics.SetBufferOccupancy(t.String(), buf.CapacityPercent(), buf.RangeDuration().Seconds())
	}

	r.detectEndOfMedia(wall)

	if !w.InterruptRequested() && !r.Cmds.InterruptRequested() && r.OnPositionChanged != nil {
		r.OnPositionChanged(wall)
	}
	return false, nil
}

func (r *RenderingWorker) selectBlock(t block.MediaType, wall block.Timestamp) *block.Block {
	if t == block.Subtitle && r.Preload != nil {
		return r.Preload.At(wall)
	}
	buf, ok := r.Buffers[t]
	if !ok {
		return nil
	}
	return buf.At(wall)
}

func (r *RenderingWorker) detectEndOfMedia(wall block.Timestamp) {
	if r.mediaEnded {
		return
	}
	if r.HasDecodingEnded == nil || !r.HasDecodingEnded() {
		return
	}
	if r.Cmds.IsSeeking() {
		return
	}
	mainBuf := r.Buffers[r.Main]
	rangeEnd, ok := mainBuf.RangeEnd()
	if !ok {
		return
	}
	lastMain, seen := r.lastRenderTime[r.Main]
	if !seen || lastMain.IsUnset() {
		return
	}
	if wall < lastMain || wall < rangeEnd {
		return
	}

	r.Clock.Pause()
	r.Clock.Update(rangeEnd)
	r.mediaEnded = true
	if r.OnMediaEnded != nil {
		r.OnMediaEnded()
	}
	for t := range r.Renderers {
		r.InvalidateRenderer(t)
	}
}
