package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/buffer"
	"github.com/zsiec/reel/clock"
	"github.com/zsiec/reel/command"
	"github.com/zsiec/reel/component"
	"github.com/zsiec/reel/logger"
	"github.com/zsiec/reel/metrics"
	"github.com/zsiec/reel/worker"
)

// blockPool recycles the SharedBuffers of evicted blocks so a steady-state
// decoder rarely allocates once the buffer has filled once.
type blockPool struct {
	mu         sync.Mutex
	free       []*block.SharedBuffer
	initialCap int
}

func newBlockPool(initialCap int) *blockPool {
	return &blockPool{initialCap: initialCap}
}

func (p *blockPool) get() *block.Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		return &block.Block{SharedBuffer: buf}
	}
	return block.NewBlock(p.initialCap)
}

func (p *blockPool) put(buf *block.SharedBuffer) {
	if buf == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf)
}

// TypeState bundles one media type's decoding-side state: its block
// buffer, its component (packet queue + materializer), and a recycle pool
// for evicted SharedBuffers.
type TypeState struct {
	Type         block.MediaType
	Buffer       *buffer.BlockBuffer
	Materializer component.Materializer
	Component    PacketSource
	pool         *blockPool
}

// NewTypeState constructs a TypeState. initialBlockBytes sizes newly
// allocated (non-recycled) block buffers.
func NewTypeState(t block.MediaType, buf *buffer.BlockBuffer, m component.Materializer, comp PacketSource, initialBlockBytes int) *TypeState {
	return &TypeState{Type: t, Buffer: buf, Materializer: m, Component: comp, pool: newBlockPool(initialBlockBytes)}
}

// PacketSource is the subset of component.Base the decoding worker needs
// beyond Materializer: visibility into packet-queue and in-codec state.
type PacketSource interface {
	ReceiveNextFrame() (*block.Frame, error)
	HasPacketsInCodec() bool
	BufferCount() int
}

// DecodingWorker holds the shared state behind the ~20ms decoder cycle:
// one TypeState per media type, the clock, and the command manager whose
// queued seeks it services at the head of every cycle.
type DecodingWorker struct {
	Types   []*TypeState
	Main    block.MediaType
	Clock   *clock.Clock
	Cmds    *command.CommandManager
	Log     logger.Logger

	// CanProduceMoreFrames reports whether type t's component could still
	// yield frames later (queued packets, in-flight codec work, or the
	// reader not yet at EOF for that stream) — used only to decide
	// has_decoding_ended for the main type.
	CanProduceMoreFrames func(t block.MediaType) bool

	hasDecodingEnded atomic.Bool

	// HandleSeek executes a dequeued seek: clearing/repositioning buffers
	// as appropriate for the new position. It is injected because the
	// exact buffer-clearing policy belongs to the engine, which knows
	// every TypeState. Errors are forwarded to the seek's caller.
	HandleSeek func(pos block.Timestamp) error
}

func (d *DecodingWorker) state(t block.MediaType) *TypeState {
	for _, ts := range d.Types {
		if ts.Type == t {
			return ts
		}
	}
	return nil
}

// HasDecodingEnded reports whether the main type has nothing left to
// decode and the wall clock has caught up to its buffered range.
func (d *DecodingWorker) HasDecodingEnded() bool { return d.hasDecodingEnded.Load() }

// NewWorker builds the ~20ms decoding cycle.
func (d *DecodingWorker) NewWorker(period time.Duration, pool *worker.Pool) *worker.Worker {
	return worker.New("decoder", period, pool, d.cycle, d.Log, nil, nil)
}

func (d *DecodingWorker) cycle(w *worker.Worker) (bool, error) {
	if req := d.Cmds.DequeuePendingSeek(); req != nil {
		var err error
		if d.HandleSeek != nil {
			err = d.HandleSeek(req.Position)
		}
		req.Complete(err)
		return false, nil
	}
	if d.Cmds.IsExecutingDirectCommand() {
		return false, nil
	}
	if d.hasDecodingEnded.Load() {
		return false, nil
	}

	decodedThisCycle := 0
	for _, ts := range d.Types {
		decodedThisCycle += d.fillOne(w, ts)
	}

	d.applyMainRangeFallback()

	interrupted := w.InterruptRequested() || d.Cmds.InterruptRequested()
	main := d.state(d.Main)
	canReadMore := d.CanProduceMoreFrames != nil && d.CanProduceMoreFrames(d.Main)
	wall := d.Clock.Position()
	caughtUp := main != nil && main.Buffer.IndexOf(wall) >= main.Buffer.Len()-1

	d.hasDecodingEnded.Store(decodedThisCycle == 0 && !interrupted && !canReadMore && caughtUp)

	return false, nil
}

// fillOne runs the hysteresis loop (spec.md §4.6 step 3) for one media
// type, returning the number of blocks successfully added.
func (d *DecodingWorker) fillOne(w *worker.Worker, ts *TypeState) int {
	start := time.Now()
	defer func() {
		metrics.ObserveDecodeCycle(ts.Type.String(), time.Since(start).Seconds())
	}()

	wall := d.Clock.Position()
	rangePct := ts.Buffer.RangePercent(wall)
	added := 0

	for !ts.Buffer.IsFull() || rangePct > 0.75 {
		if w.InterruptRequested() || d.Cmds.InterruptRequested() {
			break
		}
		if ts.Component.BufferCount() == 0 && !ts.Component.HasPacketsInCodec() {
			break
		}
		ok, err := d.addNextBlock(ts)
		if err != nil {
			if d.Log != nil {
				d.Log.WithError(err).Warn("decode cycle error")
			}
			break
		}
		if !ok {
			break
		}
		added++

		wall = d.Clock.Position()
		rangePct = ts.Buffer.RangePercent(wall)
		if rangePct > 0 && rangePct <= 0.75 && !ts.Buffer.IsFull() && ts.Buffer.CapacityPercent() >= 0.25 && ts.Buffer.IsInRange(wall) {
			break
		}
	}
	return added
}

// addNextBlock pulls one frame, materializes it into a (possibly recycled)
// block, and inserts it into ts.Buffer. Returns false with no error when
// the component simply has nothing ready yet.
func (d *DecodingWorker) addNextBlock(ts *TypeState) (bool, error) {
	frame, err := ts.Component.ReceiveNextFrame()
	if err != nil {
		return false, err
	}
	if frame == nil {
		return false, nil
	}

	target := ts.pool.get()
	prev := ts.Buffer.Newest()
	ok, err := ts.Materializer.Materialize(frame, prev, target)
	if err != nil {
		ts.pool.put(target.SharedBuffer)
		return false, err
	}
	if !ok {
		ts.pool.put(target.SharedBuffer)
		return false, nil
	}

	if recycled := ts.Buffer.Add(target); recycled != nil {
		ts.pool.put(recycled)
	}
	metrics.IncrementDecodedBlocks(ts.Type.String())
	return true, nil
}

// applyMainRangeFallback implements spec.md §4.6 step 4: if the main
// buffer's range no longer contains the wall clock, either snap the clock
// to the nearest available block or pause it outright if starving.
func (d *DecodingWorker) applyMainRangeFallback() {
	main := d.state(d.Main)
	if main == nil {
		return
	}
	wall := d.Clock.Position()
	if main.Buffer.IsInRange(wall) {
		return
	}
	if main.Buffer.Len() > 0 {
		if snap, ok := main.Buffer.GetSnapPosition(wall); ok {
			d.Clock.Update(snap)
		}
		return
	}
	d.Clock.Pause()
}
