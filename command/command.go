// Package command implements CommandManager, which serializes the
// lifecycle commands (Open, Close, Pause, Play, Seek, ChangeMedia,
// ChangeSpeed, Stop) against the three pipeline workers.
package command

import (
	"sync"
	"sync/atomic"

	"github.com/zsiec/reel/block"
)

// Suspendable is the subset of worker.Worker that CommandManager needs to
// coordinate direct commands: suspend shared state access, do the work,
// then either resume or permanently stop.
type Suspendable interface {
	Suspend() error
	Resume() error
	Stop() error
}

// SeekRequest is a queued indirect seek, executed at the head of the next
// decoding-worker cycle. Complete must be called exactly once.
type SeekRequest struct {
	Position block.Timestamp
	done     chan error
}

// Complete signals the seek's outcome to the blocked caller of Seek.
func (r *SeekRequest) Complete(err error) { r.done <- err }

// CommandManager serializes lifecycle commands with respect to the
// pipeline's three workers. Its flags are single-word atomics per the
// design's "atomic flags vs. locks" note — workers poll InterruptRequested,
// they never take CommandManager's lock.
type CommandManager struct {
	mu sync.Mutex // serializes direct-command execution only

	workersMu sync.Mutex // guards workers only; never held across fn()
	workers   []Suspendable

	seeking         atomic.Bool
	changing        atomic.Bool
	closing         atomic.Bool
	stopPending     atomic.Bool
	executingDirect atomic.Bool

	pendingSeek atomic.Pointer[SeekRequest]
}

// New creates a CommandManager that suspends/resumes the given workers
// around every direct command.
func New(workers ...Suspendable) *CommandManager {
	return &CommandManager{workers: workers}
}

// SetWorkers replaces the set of workers a direct command suspends and
// resumes. The engine calls this once the reader/decoder/renderer workers
// for a session exist, and again on ChangeMedia once they are rebuilt.
// Guarded by its own lock, separate from mu, so it can safely be called
// from inside a direct()-wrapped fn (e.g. Engine.Open's body) without
// deadlocking against the command-serialization lock held for fn's
// duration.
func (c *CommandManager) SetWorkers(workers ...Suspendable) {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	c.workers = workers
}

func (c *CommandManager) snapshotWorkers() []Suspendable {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	return c.workers
}

// InterruptRequested is the flag worker cycles poll at every suspension
// point: seeking, changing, closing, or a pending stop.
func (c *CommandManager) InterruptRequested() bool {
	return c.seeking.Load() || c.changing.Load() || c.closing.Load() || c.stopPending.Load()
}

func (c *CommandManager) IsSeeking() bool              { return c.seeking.Load() }
func (c *CommandManager) IsChanging() bool             { return c.changing.Load() }
func (c *CommandManager) IsClosing() bool              { return c.closing.Load() }
func (c *CommandManager) IsStopWorkersPending() bool   { return c.stopPending.Load() }
func (c *CommandManager) IsExecutingDirectCommand() bool { return c.executingDirect.Load() }

// Open executes fn as a direct command: workers suspend, fn runs, workers
// resume.
func (c *CommandManager) Open(fn func() error) error { return c.direct(nil, fn, false) }

// Close executes fn as a direct command and leaves the workers stopped
// afterward rather than resuming them.
func (c *CommandManager) Close(fn func() error) error { return c.direct(&c.closing, fn, true) }

// Pause executes fn (typically clock.Pause) as a direct command.
func (c *CommandManager) Pause(fn func() error) error { return c.direct(nil, fn, false) }

// Play executes fn (typically clock.Play) as a direct command.
func (c *CommandManager) Play(fn func() error) error { return c.direct(nil, fn, false) }

// ChangeMedia executes fn as a direct command under the changing flag.
func (c *CommandManager) ChangeMedia(fn func() error) error { return c.direct(&c.changing, fn, false) }

// ChangeSpeed executes fn as a direct command.
func (c *CommandManager) ChangeSpeed(fn func() error) error { return c.direct(nil, fn, false) }

// Stop executes fn as a direct command and leaves the workers stopped.
func (c *CommandManager) Stop(fn func() error) error { return c.direct(&c.stopPending, fn, true) }

func (c *CommandManager) direct(flag *atomic.Bool, fn func() error, terminal bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.executingDirect.Store(true)
	if flag != nil {
		flag.Store(true)
	}
	defer func() {
		if flag != nil {
			flag.Store(false)
		}
		c.executingDirect.Store(false)
	}()

	workers := c.snapshotWorkers()
	for _, w := range workers {
		_ = w.Suspend()
	}

	err := fn()

	for _, w := range workers {
		if terminal {
			_ = w.Stop()
		} else {
			_ = w.Resume()
		}
	}
	return err
}

// Seek queues an indirect seek and blocks until the decoding worker
// dequeues and completes it via SeekRequest.Complete.
func (c *CommandManager) Seek(pos block.Timestamp) error {
	c.seeking.Store(true)
	defer c.seeking.Store(false)

	req := &SeekRequest{Position: pos, done: make(chan error, 1)}
	c.pendingSeek.Store(req)
	return <-req.done
}

// DequeuePendingSeek is called by the decoding worker at the head of each
// cycle. Returns nil if no seek is queued.
func (c *CommandManager) DequeuePendingSeek() *SeekRequest {
	return c.pendingSeek.Swap(nil)
}
