package engine

import (
	"testing"
	"time"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/config"
	"github.com/zsiec/reel/renderer"
)

type fakeHostView struct{}

func (fakeHostView) Dispatch(fn func()) { fn() }

type recordingRenderer struct {
	*renderer.Base
	renders []block.Timestamp
	seeks   int
	ready   bool
}

func newRecordingRenderer(t block.MediaType) *recordingRenderer {
	return &recordingRenderer{Base: renderer.NewBase(t, fakeHostView{}, nil)}
}

func (r *recordingRenderer) Play()          {}
func (r *recordingRenderer) Pause()         {}
func (r *recordingRenderer) Stop()          {}
func (r *recordingRenderer) Seek()          { r.seeks++ }
func (r *recordingRenderer) Close()         {}
func (r *recordingRenderer) WaitForReady()  { r.ready = true }
func (r *recordingRenderer) Render(b *block.Block, wall block.Timestamp) bool {
	return r.Dispatch(func() { r.renders = append(r.renders, b.Start) })
}
func (r *recordingRenderer) Update(wall block.Timestamp) {}

func testEngine(t *testing.T) (*Engine, *recordingRenderer, *recordingRenderer) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	cfg.Workers.ReadPeriod = 2 * time.Millisecond
	cfg.Workers.DecodePeriod = 3 * time.Millisecond
	cfg.Workers.RenderPeriod = 4 * time.Millisecond
	cfg.Buffers.AudioCapacity = 8
	cfg.Buffers.VideoCapacity = 8

	e := New(cfg, nil)
	videoRend := newRecordingRenderer(block.Video)
	audioRend := newRecordingRenderer(block.Audio)
	return e, videoRend, audioRend
}

func openOptions(videoRend, audioRend renderer.Renderer) SessionOptions {
	streams := []codec.StreamInfo{
		{Index: 0, Type: block.Audio, SampleRate: 48000, Channels: 2},
		{Index: 1, Type: block.Video, Width: 64, Height: 48},
	}
	return SessionOptions{
		OpenDemuxer: func(uri string) (codec.Demuxer, error) {
			return codec.NewSimulatedDemuxer(streams, 10*time.Millisecond, 200), nil
		},
		URI:   "test://media",
		Media: config.DefaultMediaOptions(),
		NewDecoder: func(si codec.StreamInfo) (codec.Decoder, error) {
			return codec.NewSimulatedDecoder(si, 10*time.Millisecond), nil
		},
		NewResampler: func() codec.Resampler { return &codec.SimulatedResampler{} },
		Renderers: map[block.MediaType]renderer.Renderer{
			block.Video: videoRend,
			block.Audio: audioRend,
		},
		Main: block.Video,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestEngine_OpenPlayRendersBothTypes(t *testing.T) {
	e, videoRend, audioRend := testEngine(t)
	if err := e.Open(openOptions(videoRend, audioRend)); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if !videoRend.ready || !audioRend.ready {
		t.Fatal("expected WaitForReady to be called on both renderers during Open")
	}
	if err := e.Play(); err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	waitFor(t, func() bool { return len(videoRend.renders) > 0 && len(audioRend.renders) > 0 })

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestEngine_SeekInvalidatesRenderersAndRepositionsClock(t *testing.T) {
	e, videoRend, audioRend := testEngine(t)
	if err := e.Open(openOptions(videoRend, audioRend)); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := e.Play(); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	waitFor(t, func() bool { return len(videoRend.renders) > 0 })

	target := block.FromDuration(3 * time.Second)
	if err := e.Seek(target); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	if videoRend.seeks == 0 {
		t.Fatal("expected Seek() to invalidate the video renderer")
	}

	waitFor(t, func() bool {
		pos := e.Position()
		return pos >= target
	})

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestEngine_PauseStopsClockAdvancing(t *testing.T) {
	e, videoRend, audioRend := testEngine(t)
	if err := e.Open(openOptions(videoRend, audioRend)); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := e.Play(); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	waitFor(t, func() bool { return len(videoRend.renders) > 0 })

	if err := e.Pause(); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	pos := e.Position()
	time.Sleep(30 * time.Millisecond)
	if e.Position() != pos {
		t.Fatalf("Position() advanced from %v to %v while paused", pos, e.Position())
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestEngine_DoubleOpenIsStateError(t *testing.T) {
	e, videoRend, audioRend := testEngine(t)
	if err := e.Open(openOptions(videoRend, audioRend)); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := e.Open(openOptions(videoRend, audioRend)); err == nil {
		t.Fatal("expected the second Open() to fail while a session is already open")
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}
