package command

import (
	"errors"
	"testing"
	"time"

	"github.com/zsiec/reel/block"
)

type fakeWorker struct {
	suspended, resumed, stopped int
}

func (f *fakeWorker) Suspend() error { f.suspended++; return nil }
func (f *fakeWorker) Resume() error  { f.resumed++; return nil }
func (f *fakeWorker) Stop() error    { f.stopped++; return nil }

func TestCommandManager_DirectCommandSuspendsAndResumes(t *testing.T) {
	w := &fakeWorker{}
	cm := New(w)
	ran := false
	if err := cm.Pause(func() error { ran = true; return nil }); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if !ran || w.suspended != 1 || w.resumed != 1 || w.stopped != 0 {
		t.Fatalf("ran=%v suspended=%d resumed=%d stopped=%d", ran, w.suspended, w.resumed, w.stopped)
	}
	if cm.IsExecutingDirectCommand() {
		t.Fatal("flag should clear after the command returns")
	}
}

func TestCommandManager_StopLeavesWorkersStopped(t *testing.T) {
	w := &fakeWorker{}
	cm := New(w)
	if err := cm.Stop(func() error { return nil }); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if w.stopped != 1 || w.resumed != 0 {
		t.Fatalf("stopped=%d resumed=%d, want stopped=1 resumed=0", w.stopped, w.resumed)
	}
}

func TestCommandManager_DirectCommandPropagatesError(t *testing.T) {
	cm := New(&fakeWorker{})
	wantErr := errors.New("boom")
	if err := cm.ChangeSpeed(func() error { return wantErr }); err != wantErr {
		t.Fatalf("ChangeSpeed() error = %v, want %v", err, wantErr)
	}
}

func TestCommandManager_SetWorkersReplacesSuspendTargets(t *testing.T) {
	old := &fakeWorker{}
	cm := New(old)
	fresh := &fakeWorker{}
	cm.SetWorkers(fresh)

	if err := cm.Play(func() error { return nil }); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if old.suspended != 0 || old.resumed != 0 {
		t.Fatalf("old worker touched after SetWorkers: suspended=%d resumed=%d", old.suspended, old.resumed)
	}
	if fresh.suspended != 1 || fresh.resumed != 1 {
		t.Fatalf("fresh worker suspended=%d resumed=%d, want 1 and 1", fresh.suspended, fresh.resumed)
	}
}

func TestCommandManager_SeekBlocksUntilDecoderCompletes(t *testing.T) {
	cm := New(&fakeWorker{})
	resultCh := make(chan error, 1)
	go func() {
		resultCh <- cm.Seek(block.FromDuration(5 * time.Second))
	}()

	var req *SeekRequest
	deadline := time.Now().Add(time.Second)
	for req == nil && time.Now().Before(deadline) {
		req = cm.DequeuePendingSeek()
		if req == nil {
			time.Sleep(time.Millisecond)
		}
	}
	if req == nil {
		t.Fatal("decoding worker never observed the queued seek")
	}
	if req.Position != block.FromDuration(5*time.Second) {
		t.Fatalf("req.Position = %v, want 5s", req.Position)
	}
	if !cm.IsSeeking() {
		t.Fatal("IsSeeking() should be true while the seek is pending")
	}
	req.Complete(nil)

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("Seek() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Seek() never returned after Complete")
	}
}
