package worker

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWorker_StartRunsAndStop(t *testing.T) {
	var n atomic.Int64
	pool := NewPool(4)
	w := New("t", 5*time.Millisecond, pool, func(w *Worker) (bool, error) {
		n.Add(1)
		return false, nil
	}, nil, nil, nil)

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	w.WaitOne()
	w.WaitOne()
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if w.State() != StateStopped {
		t.Fatalf("State() = %v, want Stopped", w.State())
	}
	if n.Load() < 2 {
		t.Fatalf("cycle ran %d times, want >= 2", n.Load())
	}
}

func TestWorker_StartTwiceIsStateError(t *testing.T) {
	pool := NewPool(1)
	w := New("t", time.Millisecond, pool, func(w *Worker) (bool, error) { return false, nil }, nil, nil, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()
	if err := w.Start(); err == nil {
		t.Fatal("second Start() should fail")
	}
}

func TestWorker_SuspendStopsExecution(t *testing.T) {
	var n atomic.Int64
	pool := NewPool(1)
	w := New("t", 5*time.Millisecond, pool, func(w *Worker) (bool, error) {
		n.Add(1)
		return false, nil
	}, nil, nil, nil)
	_ = w.Start()
	w.WaitOne()
	if err := w.Suspend(); err != nil {
		t.Fatalf("Suspend() error: %v", err)
	}
	if w.State() != StateSuspended {
		t.Fatalf("State() = %v, want Suspended", w.State())
	}
	count := n.Load()
	time.Sleep(25 * time.Millisecond)
	if n.Load() != count {
		t.Fatalf("cycles ran while suspended: %d -> %d", count, n.Load())
	}
	if err := w.Resume(); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	w.WaitOne()
	if n.Load() <= count {
		t.Fatal("cycles did not resume")
	}
	_ = w.Stop()
}

func TestWorker_LoopAgainBurnsDownWithoutWaitingForPeriod(t *testing.T) {
	var n atomic.Int64
	pool := NewPool(1)
	w := New("t", time.Hour, pool, func(w *Worker) (bool, error) {
		v := n.Add(1)
		return v < 5, nil
	}, nil, nil, nil)
	_ = w.Start()
	w.WaitOne()
	deadline := time.Now().Add(time.Second)
	for n.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n.Load() != 5 {
		t.Fatalf("n = %d, want 5", n.Load())
	}
	_ = w.Stop()
}

func TestWorker_DisposeFromUnstarted(t *testing.T) {
	pool := NewPool(1)
	w := New("t", time.Millisecond, pool, func(w *Worker) (bool, error) { return false, nil }, nil, nil, nil)
	if err := w.Dispose(); err != nil {
		t.Fatalf("Dispose() error: %v", err)
	}
	if w.State() != StateDisposed {
		t.Fatalf("State() = %v, want Disposed", w.State())
	}
}
