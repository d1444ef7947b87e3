package codec

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/zsiec/reel/block"
)

var errSeekLiveStream = errors.New("codec: cannot seek a live stream")

// SimulatedDemuxer is a software Demuxer that synthesizes packets for a
// fixed set of streams at a fixed frame rate, standing in for the native
// library boundary in tests. It is not a reference decoder: packets carry
// no real payload, only size and timing, which is all MediaComponent and
// MediaContainer logic need to exercise their invariants.
type SimulatedDemuxer struct {
	mu        sync.Mutex
	streams   []StreamInfo
	packetDur time.Duration
	packetPTS map[int]block.Timestamp
	live      bool
	network   bool
	aborted   bool
	closed    bool
	maxPerStream int
	emitted   map[int]int
}

// NewSimulatedDemuxer creates a demuxer over the given streams that emits
// maxPerStream packets per stream, each spaced packetDur apart, round-robin
// across streams by index.
func NewSimulatedDemuxer(streams []StreamInfo, packetDur time.Duration, maxPerStream int) *SimulatedDemuxer {
	pts := make(map[int]block.Timestamp, len(streams))
	emitted := make(map[int]int, len(streams))
	for _, s := range streams {
		pts[s.Index] = block.FromDuration(0)
		emitted[s.Index] = 0
	}
	return &SimulatedDemuxer{
		streams:      streams,
		packetDur:    packetDur,
		packetPTS:    pts,
		maxPerStream: maxPerStream,
		emitted:      emitted,
	}
}

func (d *SimulatedDemuxer) SetLive(live, network bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live, d.network = live, network
}

func (d *SimulatedDemuxer) Streams() []StreamInfo { return d.streams }
func (d *SimulatedDemuxer) IsLive() bool           { d.mu.Lock(); defer d.mu.Unlock(); return d.live }
func (d *SimulatedDemuxer) IsNetwork() bool        { d.mu.Lock(); defer d.mu.Unlock(); return d.network }

func (d *SimulatedDemuxer) AbortReads(graceful bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborted = true
}

// Seek repositions every stream's emission cursor to pos and clears the
// emitted-count cap tracking so ReadPacket resumes producing packets.
// Live sources reject seeking outright.
func (d *SimulatedDemuxer) Seek(pos block.Timestamp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live {
		return errSeekLiveStream
	}
	for idx := range d.packetPTS {
		d.packetPTS[idx] = pos
		d.emitted[idx] = 0
	}
	d.aborted = false
	return nil
}

func (d *SimulatedDemuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// ReadPacket round-robins across streams, returning io.EOF once every
// stream has emitted maxPerStream packets.
func (d *SimulatedDemuxer) ReadPacket() (*block.Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.aborted || d.closed {
		return nil, io.EOF
	}

	// Pick the stream that has emitted the fewest packets so far (ties go
	// to the earlier stream), which cycles through the streams in order.
	var next *StreamInfo
	for i := range d.streams {
		s := &d.streams[i]
		if d.emitted[s.Index] >= d.maxPerStream {
			continue
		}
		if next == nil || d.emitted[s.Index] < d.emitted[next.Index] {
			next = s
		}
	}
	if next == nil {
		return nil, io.EOF
	}
	idx := next.Index
	pts := d.packetPTS[idx]
	d.packetPTS[idx] = pts.Add(d.packetDur)
	d.emitted[idx]++
	return &block.Packet{
		Type:        next.Type,
		StreamIndex: idx,
		Data:        make([]byte, 188),
		PTS:         pts,
	}, nil
}

// SimulatedDecoder turns packets straight into frames with no real codec
// work, one frame per packet, preserving PTS and a fixed duration.
type SimulatedDecoder struct {
	mu       sync.Mutex
	info     StreamInfo
	pending  []*block.Packet
	frameDur time.Duration
	closed   bool
}

// NewSimulatedDecoder creates a Decoder for the given stream that emits one
// Frame per SendPacket call, starting at the packet's PTS and lasting
// frameDur.
func NewSimulatedDecoder(info StreamInfo, frameDur time.Duration) *SimulatedDecoder {
	return &SimulatedDecoder{info: info, frameDur: frameDur}
}

func (d *SimulatedDecoder) SendPacket(p *block.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, p)
	return nil
}

func (d *SimulatedDecoder) ReceiveFrame() (*block.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return nil, nil
	}
	p := d.pending[0]
	d.pending = d.pending[1:]

	f := &block.Frame{
		Type:              p.Type,
		StreamIndex:       p.StreamIndex,
		Start:             p.PTS,
		Duration:          d.frameDur,
		HasValidStartTime: !p.PTS.IsUnset(),
		Data:              p.Data,
	}
	switch p.Type {
	case block.Audio:
		f.SampleRate = d.info.SampleRate
		f.Channels = d.info.Channels
		f.SampleFormat = block.SampleFormatS16
		f.SamplesPerChannel = 1024
	case block.Video:
		f.Width, f.Height = d.info.Width, d.info.Height
		f.Stride = d.info.Width * 4
		f.PixelFormat = block.PixelFormatBGR0
		f.AspectWidth, f.AspectHeight = d.info.AspectWidth, d.info.AspectHeight
	}
	return f, nil
}

func (d *SimulatedDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// SimulatedResampler is an identity resampler that tracks reinit calls.
type SimulatedResampler struct {
	mu       sync.Mutex
	inited   bool
	reinits  int
	failNext bool
}

func (r *SimulatedResampler) FailNextReinit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = true
}

func (r *SimulatedResampler) Reinit(srcRate, dstRate, srcChannels, dstChannels int, srcFmt, dstFmt block.SampleFormat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reinits++
	if r.failNext {
		r.failNext = false
		r.inited = false
		return io.ErrUnexpectedEOF
	}
	r.inited = true
	return nil
}

func (r *SimulatedResampler) Convert(in *block.Frame) (*block.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inited {
		return nil, io.ErrClosedPipe
	}
	out := *in
	return &out, nil
}

func (r *SimulatedResampler) Close() error { return nil }

// SimulatedFilterGraph is an identity filter graph that tracks rebuilds.
// A rebuild happens when the filter description changes, or when the
// input stream's argument-relevant fields (sample rate, channels) change,
// mirroring the real graph's sensitivity to time_base/sample_rate/
// sample_fmt/channel_layout.
type SimulatedFilterGraph struct {
	mu       sync.Mutex
	desc     string
	info     StreamInfo
	built    bool
	rebuilds int
	queue    []*block.Frame
}

func (g *SimulatedFilterGraph) Build(description string, in StreamInfo) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.built && g.desc == description && g.info == in {
		return nil
	}
	g.info = in
	g.desc = description
	g.built = true
	g.rebuilds++
	return nil
}

func (g *SimulatedFilterGraph) Push(in *block.Frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = append(g.queue, in)
	return nil
}

func (g *SimulatedFilterGraph) Pull() (*block.Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 {
		return nil, nil
	}
	f := g.queue[0]
	g.queue = g.queue[1:]
	return f, nil
}

func (g *SimulatedFilterGraph) RebuildCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rebuilds
}

func (g *SimulatedFilterGraph) Close() error { return nil }
