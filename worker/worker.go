// Package worker implements the cooperative periodic worker primitive that
// the reader, decoder, and rendering stages are built on: start/suspend/
// resume/stop with cycle-completion signaling, dispatched through a shared
// pool so that only one cycle of a given worker is ever in flight.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/errs"
	"github.com/zsiec/reel/logger"
	"golang.org/x/sync/semaphore"
)

// State is a Worker's position in the Unstarted -> Running <-> Suspended ->
// Stopped -> Disposed state machine.
type State int32

const (
	StateUnstarted State = iota
	StateRunning
	StateSuspended
	StateStopped
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateStopped:
		return "stopped"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// CycleFunc is one worker cycle body. It receives the Worker so it can poll
// InterruptRequested at suspension points inside long inner loops. Returning
// loop=true requests an immediate next iteration without waiting for the
// worker's period — used by the decoding worker to burn down backlog.
type CycleFunc func(w *Worker) (loop bool, err error)

// Pool is the shared dispatcher that worker cycles run on, bounding how
// many cycles (across all workers) execute concurrently at once.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool allowing up to maxConcurrent cycles in flight.
func NewPool(maxConcurrent int64) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{sem: semaphore.NewWeighted(maxConcurrent)}
}

func (p *Pool) run(fn func()) {
	_ = p.sem.Acquire(context.Background(), 1)
	defer p.sem.Release(1)
	fn()
}

// Worker is a cooperative periodic worker with a fixed cycle period,
// configured at construction per the requirement that every worker state
// an explicit period (see spec.md's note on the ambiguous no-period
// ReadingWorker variant: this implementation always requires one).
type Worker struct {
	name      string
	period    time.Duration
	cycleFn   CycleFunc
	pool      *Pool
	log       logger.Logger
	onStarted func()
	onStopped func()

	mu       sync.Mutex
	state    State
	cycleN   int64
	resumeCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	cycleSig chan struct{}

	interrupt atomic.Bool
}

// New creates a Worker. onStarted/onStopped may be nil.
func New(name string, period time.Duration, pool *Pool, cycleFn CycleFunc, log logger.Logger, onStarted, onStopped func()) *Worker {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Worker{
		name:      name,
		period:    period,
		cycleFn:   cycleFn,
		pool:      pool,
		log:       log.WithField("worker", name),
		onStarted: onStarted,
		onStopped: onStopped,
		state:     StateUnstarted,
		cycleSig:  make(chan struct{}),
	}
}

// Name returns the worker's configured name.
func (w *Worker) Name() string { return w.name }

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// CycleCount returns the number of completed cycles.
func (w *Worker) CycleCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cycleN
}

// InterruptRequested reports whether the worker has been asked to suspend
// or stop. Cycle bodies must poll this at every suspension point.
func (w *Worker) InterruptRequested() bool { return w.interrupt.Load() }

// Start transitions Unstarted -> Running and begins cycling.
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.state != StateUnstarted {
		w.mu.Unlock()
		return errs.NewStateError("worker.Start", nil).WithFields(map[string]any{"worker": w.name, "state": w.state.String()})
	}
	w.state = StateRunning
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.loop()
	if w.onStarted != nil {
		w.onStarted()
	}
	return nil
}

// Suspend sets the interrupt flag and transitions Running -> Suspended. The
// in-flight cycle, if any, runs to its next suspension point and exits
// before the worker actually parks.
func (w *Worker) Suspend() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRunning {
		return errs.NewStateError("worker.Suspend", nil).WithFields(map[string]any{"worker": w.name, "state": w.state.String()})
	}
	w.interrupt.Store(true)
	w.state = StateSuspended
	w.resumeCh = make(chan struct{})
	return nil
}

// Resume clears the interrupt flag and transitions Suspended -> Running.
func (w *Worker) Resume() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateSuspended {
		return errs.NewStateError("worker.Resume", nil).WithFields(map[string]any{"worker": w.name, "state": w.state.String()})
	}
	w.interrupt.Store(false)
	w.state = StateRunning
	close(w.resumeCh)
	return nil
}

// Stop suspends (if needed), joins the in-flight cycle, and releases the
// worker's timer. Safe to call from Running or Suspended.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.state != StateRunning && w.state != StateSuspended {
		w.mu.Unlock()
		return errs.NewStateError("worker.Stop", nil).WithFields(map[string]any{"worker": w.name, "state": w.state.String()})
	}
	w.interrupt.Store(true)
	stopCh := w.stopCh
	resumeCh := w.resumeCh
	w.mu.Unlock()

	close(stopCh)
	if resumeCh != nil {
		// A parked loop also waits on stopCh, so closing stopCh above is
		// what wakes it; this receive only polls resumeCh without blocking.
		select {
		case <-resumeCh:
		default:
		}
	}
	<-w.doneCh
	return nil
}

// WaitOne blocks until the next cycle boundary (or until the worker stops).
func (w *Worker) WaitOne() {
	w.mu.Lock()
	sig := w.cycleSig
	done := w.doneCh
	w.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-sig:
	case <-done:
	}
}

// Dispose stops the worker if still active and marks it Disposed.
func (w *Worker) Dispose() error {
	w.mu.Lock()
	st := w.state
	w.mu.Unlock()
	if st == StateDisposed {
		return nil
	}
	if st == StateRunning || st == StateSuspended {
		if err := w.Stop(); err != nil {
			return err
		}
	}
	w.mu.Lock()
	w.state = StateDisposed
	w.mu.Unlock()
	return nil
}

func (w *Worker) loop() {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	first := true
	for {
		w.mu.Lock()
		st := w.state
		resumeCh := w.resumeCh
		stopCh := w.stopCh
		w.mu.Unlock()

		if st == StateSuspended {
			select {
			case <-resumeCh:
				continue
			case <-stopCh:
				w.finish()
				return
			}
		}

		if first {
			// The first cycle runs as soon as the worker starts.
			first = false
			select {
			case <-stopCh:
				w.finish()
				return
			default:
			}
		} else {
			select {
			case <-stopCh:
				w.finish()
				return
			case <-ticker.C:
			}
		}

		w.mu.Lock()
		runnable := w.state == StateRunning
		w.mu.Unlock()
		if !runnable {
			continue
		}
		w.runCycle()
	}
}

func (w *Worker) finish() {
	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()
	if w.onStopped != nil {
		w.onStopped()
	}
	close(w.doneCh)
}

func (w *Worker) runCycle() {
	for {
		if w.interrupt.Load() {
			return
		}
		var loopAgain bool
		w.pool.run(func() {
			var err error
			loopAgain, err = w.cycleFn(w)
			if err != nil {
				if errs.IsCancelled(err) {
					return
				}
				w.log.WithError(err).Warn("cycle error")
			}
		})

		w.mu.Lock()
		w.cycleN++
		old := w.cycleSig
		w.cycleSig = make(chan struct{})
		w.mu.Unlock()
		close(old)

		if !loopAgain || w.interrupt.Load() {
			return
		}
	}
}
