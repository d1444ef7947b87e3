package pipeline

import (
	"io"
	"testing"
	"time"

	"github.com/zsiec/reel/worker"
)

type fakeSource struct {
	reads       int
	aborted     bool
	eof         bool
	live        bool
	network     bool
	bufferLen   int
	enough      bool
	readErr     error
	eofAfter    int
}

func (f *fakeSource) Read() error {
	f.reads++
	if f.readErr != nil {
		return f.readErr
	}
	if f.eofAfter > 0 && f.reads >= f.eofAfter {
		f.eof = true
		return io.EOF
	}
	return nil
}
func (f *fakeSource) ReadAborted() bool     { return f.aborted }
func (f *fakeSource) AtEndOfStream() bool   { return f.eof }
func (f *fakeSource) IsLiveStream() bool    { return f.live }
func (f *fakeSource) IsNetworkStream() bool { return f.network }
func (f *fakeSource) BufferLength() int     { return f.bufferLen }
func (f *fakeSource) HasEnoughPackets() bool { return f.enough }

func TestReadingWorker_StopsAtEndOfStream(t *testing.T) {
	src := &fakeSource{eofAfter: 3}
	pool := worker.NewPool(2)
	w := NewReadingWorker(2*time.Millisecond, pool, src, 0, nil)
	_ = w.Start()

	deadline := time.Now().Add(time.Second)
	for !src.eof && time.Now().Before(deadline) {
		w.WaitOne()
	}
	_ = w.Stop()
	if !src.eof {
		t.Fatal("source never reached EOF")
	}
}

func TestShouldReadMorePackets_NetworkRespectsBufferMax(t *testing.T) {
	src := &fakeSource{network: true, bufferLen: 20 << 20}
	if shouldReadMorePackets(src, 16<<20) {
		t.Fatal("expected false once buffer exceeds BUFFER_MAX")
	}
	src.bufferLen = 1 << 20
	if !shouldReadMorePackets(src, 16<<20) {
		t.Fatal("expected true while under BUFFER_MAX")
	}
}

func TestShouldReadMorePackets_LiveAlwaysReads(t *testing.T) {
	src := &fakeSource{live: true, enough: true}
	if !shouldReadMorePackets(src, BufferMaxDefault) {
		t.Fatal("live streams should always read regardless of enough-packets")
	}
}

func TestShouldReadMorePackets_FileRespectsHasEnoughPackets(t *testing.T) {
	src := &fakeSource{enough: true}
	if shouldReadMorePackets(src, BufferMaxDefault) {
		t.Fatal("expected false once the component has enough packets")
	}
}
