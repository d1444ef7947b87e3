package renderer

import (
	"sync"
	"testing"
	"time"

	"github.com/zsiec/reel/block"
)

type blockingHostView struct {
	release chan struct{}
}

func (h *blockingHostView) Dispatch(fn func()) {
	go func() {
		<-h.release
		fn()
	}()
}

type syncHostView struct{}

func (syncHostView) Dispatch(fn func()) { fn() }

func TestBase_DispatchSkipsWhileBusy(t *testing.T) {
	host := &blockingHostView{release: make(chan struct{})}
	b := NewBase(block.Video, host, nil)

	if ok := b.Dispatch(func() {}); !ok {
		t.Fatal("first Dispatch should succeed")
	}
	if !b.IsBusy() {
		t.Fatal("expected renderer to be busy after a dispatched present hasn't completed")
	}

	if ok := b.Dispatch(func() {}); ok {
		t.Fatal("second Dispatch should be skipped while the first is in flight")
	}

	close(host.release)

	deadline := time.Now().Add(time.Second)
	for b.IsBusy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if b.IsBusy() {
		t.Fatal("busy flag never cleared after present completed")
	}
}

func TestBase_DispatchRecoversFromPanic(t *testing.T) {
	b := NewBase(block.Audio, syncHostView{}, nil)

	if ok := b.Dispatch(func() { panic("boom") }); !ok {
		t.Fatal("Dispatch should report success even though present panics")
	}
	if b.IsBusy() {
		t.Fatal("busy flag must clear even after a panicking present")
	}

	if ok := b.Dispatch(func() {}); !ok {
		t.Fatal("renderer should accept a new Dispatch after recovering from a panic")
	}
}

func TestBase_ConcurrentDispatchOnlyOneWins(t *testing.T) {
	host := &blockingHostView{release: make(chan struct{})}
	b := NewBase(block.Video, host, nil)
	defer close(host.release)

	var wg sync.WaitGroup
	successes := make([]bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			successes[i] = b.Dispatch(func() {})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range successes {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one concurrent Dispatch to win, got %d", wins)
	}
}
