// Package engine ties together the block buffers, clock, command manager,
// and the three pipeline workers into the session lifecycle a host embeds:
// open a container, decode into per-type buffers around the wall clock,
// and render through host-supplied Renderer implementations.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/buffer"
	"github.com/zsiec/reel/clock"
	"github.com/zsiec/reel/command"
	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/component"
	"github.com/zsiec/reel/config"
	"github.com/zsiec/reel/container"
	"github.com/zsiec/reel/errs"
	"github.com/zsiec/reel/logger"
	"github.com/zsiec/reel/metrics"
	"github.com/zsiec/reel/pipeline"
	"github.com/zsiec/reel/renderer"
	"github.com/zsiec/reel/worker"
)

// enoughPacketsThreshold is the per-type queued-packet byte threshold
// at or above which a component reports has_enough_packets. Video carries more
// bytes per access unit than audio or subtitles.
const (
	enoughPacketsThresholdVideo = 2 << 20
	enoughPacketsThresholdOther = 256 << 10

	initialBlockBytesVideo = 1 << 20
	initialBlockBytesOther = 64 << 10
)

// DecoderFactory opens a per-stream codec.Decoder for si. The host (or a
// test) supplies this; the engine never talks to a native codec library
// directly.
type DecoderFactory func(si codec.StreamInfo) (codec.Decoder, error)

// SessionOptions configures one Open or ChangeMedia call.
type SessionOptions struct {
	OpenDemuxer codec.OpenFunc
	URI         string

	Media config.MediaOptions

	NewDecoder     DecoderFactory
	NewResampler   func() codec.Resampler
	NewFilterGraph func() codec.FilterGraph // only consulted when Media.AudioFilter != ""

	Renderers map[block.MediaType]renderer.Renderer
	Preload   pipeline.SubtitlePreload

	// Main names the type the decoding/rendering workers treat as the
	// timeline anchor. Defaults to Video if a video stream is present,
	// else Audio.
	Main block.MediaType
}

// mediaComponent is the full set of behavior the engine needs from a
// per-stream component: the decode-side Materializer/PacketSource contract
// plus the packet-queue sink methods container.Container routes into.
type mediaComponent interface {
	component.Materializer
	pipeline.PacketSource
	Enqueue(p *block.Packet)
	BufferLength() int
	HasEnoughPackets() bool
}

type typeUnit struct {
	comp mediaComponent
	buf  *buffer.BlockBuffer
}

// Engine owns one playback session at a time: the container, per-type
// decode state, and the reader/decoder/renderer workers built around it.
type Engine struct {
	cfg  *config.EngineConfig
	log  logger.Logger
	pool *worker.Pool

	clock *clock.Clock
	cmds  *command.CommandManager

	mu        sync.Mutex
	container *container.Container
	units     map[block.MediaType]*typeUnit
	renderers map[block.MediaType]renderer.Renderer
	main      block.MediaType
	opened    bool

	decoding  *pipeline.DecodingWorker
	rendering *pipeline.RenderingWorker
	readW     *worker.Worker
	decodeW   *worker.Worker
	renderW   *worker.Worker

	// OnMediaEnded and OnPositionChanged mirror the host callbacks a
	// RenderingWorker invokes; set before Open.
	OnMediaEnded      func()
	OnPositionChanged func(block.Timestamp)
}

// New constructs an Engine. cfg must be valid (see config.EngineConfig.Validate).
func New(cfg *config.EngineConfig, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Engine{
		cfg:   cfg,
		log:   log.WithField("component", "engine"),
		pool:  worker.NewPool(cfg.Workers.PoolSize),
		clock: clock.New(),
		cmds:  command.New(),
	}
}

// Position returns the engine's current wall-clock position.
func (e *Engine) Position() block.Timestamp { return e.clock.Position() }

// EngineDebugInfo is the JSON payload diag's /debug/engine endpoint serves.
type EngineDebugInfo struct {
	Opened       bool    `json:"opened"`
	PositionMS   int64   `json:"positionMs"`
	Running      bool    `json:"running"`
	Speed        float64 `json:"speed"`
	MainType     string  `json:"mainType,omitempty"`
}

// DebugEngine reports clock and session state for host-side diagnostics.
func (e *Engine) DebugEngine() EngineDebugInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	info := EngineDebugInfo{
		Opened:     e.opened,
		PositionMS: e.clock.Position().Duration().Milliseconds(),
		Running:    e.clock.Running(),
		Speed:      e.clock.Speed(),
	}
	if e.opened {
		info.MainType = e.main.String()
	}
	return info
}

// BufferDebugInfo is one media type's entry in /debug/buffers.
type BufferDebugInfo struct {
	Type            string  `json:"type"`
	Length          int     `json:"length"`
	Capacity        int     `json:"capacity"`
	CapacityPercent float64 `json:"capacityPercent"`
	RangeStartMS    int64   `json:"rangeStartMs,omitempty"`
	RangeDurationMS int64   `json:"rangeDurationMs"`
}

// DebugBuffers reports per-type BlockBuffer occupancy.
func (e *Engine) DebugBuffers() []BufferDebugInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]BufferDebugInfo, 0, len(e.units))
	for t, u := range e.units {
		info := BufferDebugInfo{
			Type:            t.String(),
			Length:          u.buf.Len(),
			Capacity:        u.buf.Capacity(),
			CapacityPercent: u.buf.CapacityPercent(),
			RangeDurationMS: u.buf.RangeDuration().Milliseconds(),
		}
		if start, ok := u.buf.RangeStart(); ok {
			info.RangeStartMS = start.Duration().Milliseconds()
		}
		out = append(out, info)
	}
	return out
}

// WorkerDebugInfo is one pipeline worker's entry in /debug/workers.
type WorkerDebugInfo struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	CycleCount int64  `json:"cycleCount"`
}

// DebugWorkers reports the reader/decoder/renderer workers' run state.
func (e *Engine) DebugWorkers() []WorkerDebugInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []WorkerDebugInfo
	for _, w := range []*worker.Worker{e.readW, e.decodeW, e.renderW} {
		if w == nil {
			continue
		}
		out = append(out, WorkerDebugInfo{
			Name:       w.Name(),
			State:      w.State().String(),
			CycleCount: w.CycleCount(),
		})
	}
	return out
}

// Open performs the session lifecycle per the engine's open sequence: open
// the container, create one component per stream, allocate its block
// buffer, wire in the host-supplied renderers, then start the three
// pipeline workers. All three workers are left running; Open performs the
// startup handshake and leaves the clock paused at the main buffer's range
// start once decoding has primed, so playback advances only after Play.
func (e *Engine) Open(opts SessionOptions) error {
	return e.cmds.Open(func() error { return e.openLocked(opts) })
}

func (e *Engine) openLocked(opts SessionOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.opened {
		return errs.NewStateError("engine.Open", fmt.Errorf("session already open"))
	}

	demuxer, err := opts.OpenDemuxer(opts.URI)
	if err != nil {
		return errs.NewContainerError("engine.Open", err)
	}
	cont := container.New(demuxer)

	units := make(map[block.MediaType]*typeUnit)
	for _, si := range cont.Streams() {
		unit, err := e.buildUnit(si, opts)
		if err != nil {
			_ = cont.Close()
			return err
		}
		units[si.Type] = unit
		cont.RegisterSink(si.Index, unit.comp)
	}

	main := opts.Main
	if _, ok := units[main]; !ok {
		if _, ok := units[block.Video]; ok {
			main = block.Video
		} else {
			main = block.Audio
		}
	}

	e.container = cont
	e.units = units
	e.renderers = opts.Renderers
	e.main = main
	e.clock.Reset()

	buffers := make(map[block.MediaType]*buffer.BlockBuffer, len(units))
	for t, u := range units {
		buffers[t] = u.buf
	}

	e.decoding = &pipeline.DecodingWorker{
		Main:  main,
		Clock: e.clock,
		Cmds:  e.cmds,
		Log:   e.log,
		CanProduceMoreFrames: func(t block.MediaType) bool {
			u, ok := units[t]
			if !ok {
				return false
			}
			return u.comp.BufferCount() > 0 || u.comp.HasPacketsInCodec() || !cont.AtEndOfStream()
		},
		HandleSeek: e.handleSeek,
	}
	for t, u := range units {
		blockBytes := initialBlockBytesOther
		if t == block.Video {
			blockBytes = initialBlockBytesVideo
		}
		e.decoding.Types = append(e.decoding.Types, pipeline.NewTypeState(t, u.buf, u.comp, u.comp, blockBytes))
	}

	e.rendering = &pipeline.RenderingWorker{
		Main:              main,
		Buffers:           buffers,
		Renderers:         opts.Renderers,
		Preload:           opts.Preload,
		Clock:             e.clock,
		Cmds:              e.cmds,
		Log:               e.log,
		HasDecodingEnded:  e.decoding.HasDecodingEnded,
		OnMediaEnded:       e.onMediaEnded,
		OnPositionChanged: e.OnPositionChanged,
	}

	readSource := &containerReadSource{c: cont}
	e.readW = pipeline.NewReadingWorker(e.cfg.Workers.ReadPeriod, e.pool, readSource, int(e.cfg.BufferMax), e.log)
	e.decodeW = e.decoding.NewWorker(e.cfg.Workers.DecodePeriod, e.pool)
	e.renderW = e.rendering.NewWorker(e.cfg.Workers.RenderPeriod, e.pool)
	e.cmds.SetWorkers(e.readW, e.decodeW, e.renderW)

	if err := e.readW.Start(); err != nil {
		return err
	}
	if err := e.decodeW.Start(); err != nil {
		return err
	}

	e.rendering.WaitForStart(5*time.Millisecond, func() bool { return e.decoding.HasDecodingEnded() })
	if err := e.renderW.Start(); err != nil {
		return err
	}

	e.opened = true
	return nil
}

func (e *Engine) buildUnit(si codec.StreamInfo, opts SessionOptions) (*typeUnit, error) {
	dec, err := opts.NewDecoder(si)
	if err != nil {
		return nil, errs.NewDecoderError("engine.Open", err)
	}

	threshold := enoughPacketsThresholdOther
	if si.Type == block.Video {
		threshold = enoughPacketsThresholdVideo
	}
	base := component.NewBase(si.Type, si.Index, dec, threshold, e.log)

	var mat mediaComponent
	switch si.Type {
	case block.Video:
		mat = component.NewVideoComponent(base, component.VideoOptions{TargetPixelFormat: opts.Media.TargetVideoPixelFormat}, e.log)
	case block.Audio:
		var resampler codec.Resampler
		if opts.NewResampler != nil {
			resampler = opts.NewResampler()
		}
		var graph codec.FilterGraph
		if opts.Media.AudioFilter != "" && opts.NewFilterGraph != nil {
			graph = opts.NewFilterGraph()
		}
		mat = component.NewAudioComponent(base, component.AudioOptions{
			TargetChannels:     opts.Media.TargetAudioChannels,
			TargetSampleRate:   opts.Media.TargetAudioRate,
			TargetSampleFormat: opts.Media.TargetAudioFormat,
			Filter:             opts.Media.AudioFilter,
		}, resampler, graph, si, e.log)
	default:
		mat = &subtitlePassthroughComponent{Base: base}
	}

	capacity := e.cfg.Buffers.SubtitleCapacity
	switch si.Type {
	case block.Video:
		capacity = e.cfg.Buffers.VideoCapacity
	case block.Audio:
		capacity = e.cfg.Buffers.AudioCapacity
	}

	return &typeUnit{comp: mat, buf: buffer.New(capacity)}, nil
}

func (e *Engine) onMediaEnded() {
	metrics.IncrementMediaEnded()
	if e.OnMediaEnded != nil {
		e.OnMediaEnded()
	}
}

// handleSeek is invoked by the decoding worker at the head of a cycle once
// a seek is dequeued: it repositions the container and clears every
// type's buffer so stale blocks cannot satisfy renderer lookups past the
// new position.
func (e *Engine) handleSeek(pos block.Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.container.Seek(pos); err != nil {
		return err
	}
	for t, u := range e.units {
		u.buf.Clear()
		e.rendering.InvalidateRenderer(t)
	}
	e.clock.Update(pos)
	metrics.IncrementSeek()
	return nil
}

// Play resumes the clock.
func (e *Engine) Play() error {
	return e.cmds.Play(func() error { e.clock.Play(); return nil })
}

// Pause pauses the clock.
func (e *Engine) Pause() error {
	return e.cmds.Pause(func() error { e.clock.Pause(); return nil })
}

// Seek queues an indirect seek and blocks until the decoding worker
// completes it.
func (e *Engine) Seek(pos block.Timestamp) error {
	return e.cmds.Seek(pos)
}

// ChangeSpeed adjusts the clock's playback rate without pausing it.
func (e *Engine) ChangeSpeed(rate float64) error {
	return e.cmds.ChangeSpeed(func() error {
		if rate <= 0 {
			return errs.NewStateError("engine.ChangeSpeed", fmt.Errorf("rate must be positive"))
		}
		e.clock.SetSpeed(rate)
		return nil
	})
}

// ChangeMedia closes the current session (if any) and opens a new one in
// its place, serialized as a single direct command.
func (e *Engine) ChangeMedia(opts SessionOptions) error {
	return e.cmds.ChangeMedia(func() error {
		if e.opened {
			if err := e.closeLocked(); err != nil {
				return err
			}
		}
		return e.openLocked(opts)
	})
}

// Stop stops and disposes the session, leaving workers stopped.
func (e *Engine) Stop() error {
	return e.cmds.Stop(func() error { return e.closeLocked() })
}

// Close is Stop's terminal counterpart for host shutdown; both tear the
// session down identically. Close additionally signals the container to
// abort any in-flight read before workers are stopped.
func (e *Engine) Close() error {
	return e.cmds.Close(func() error {
		e.mu.Lock()
		if e.container != nil {
			e.container.SignalAbortReads(true)
		}
		e.mu.Unlock()
		return e.closeLocked()
	})
}

func (e *Engine) closeLocked() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.opened {
		return nil
	}

	for _, rend := range e.renderers {
		rend.Stop()
		rend.Close()
	}
	for _, u := range e.units {
		if err := u.comp.Dispose(); err != nil {
			e.log.WithError(err).Warn("component dispose error")
		}
	}
	if e.container != nil {
		if err := e.container.Close(); err != nil {
			e.log.WithError(err).Warn("container close error")
		}
	}

	e.container = nil
	e.units = nil
	e.renderers = nil
	e.decoding = nil
	e.rendering = nil
	e.readW = nil
	e.decodeW = nil
	e.renderW = nil
	e.opened = false
	return nil
}

// containerReadSource adapts container.Container to pipeline.ReadSource.
type containerReadSource struct {
	c *container.Container
}

func (s *containerReadSource) Read() error           { return s.c.Read() }
func (s *containerReadSource) ReadAborted() bool      { return s.c.ReadAborted() }
func (s *containerReadSource) AtEndOfStream() bool    { return s.c.AtEndOfStream() }
func (s *containerReadSource) IsLiveStream() bool     { return s.c.IsLiveStream() }
func (s *containerReadSource) IsNetworkStream() bool  { return s.c.IsNetworkStream() }
func (s *containerReadSource) BufferLength() int      { return s.c.BufferLength() }
func (s *containerReadSource) HasEnoughPackets() bool { return s.c.HasEnoughPackets() }

// subtitlePassthroughComponent materializes a subtitle frame's payload
// unchanged, since subtitle cues carry no sample/pixel conversion.
type subtitlePassthroughComponent struct {
	*component.Base
}

func (s *subtitlePassthroughComponent) Materialize(frame *block.Frame, prev *block.Block, target *block.Block) (bool, error) {
	target.Lock()
	target.Reserve(len(frame.Data))
	copy(target.Bytes(), frame.Data)
	target.Unlock()
	target.Type = block.Subtitle
	target.StreamIndex = frame.StreamIndex
	if frame.HasValidStartTime {
		target.SetTiming(frame.Start, frame.Duration)
		target.IsStartTimeGuessed = false
	} else if prev != nil {
		target.SetTiming(prev.End, frame.Duration)
		target.IsStartTimeGuessed = true
	} else {
		target.Start = block.Unset
		target.Duration = frame.Duration
		target.IsStartTimeGuessed = true
	}
	return true, nil
}
