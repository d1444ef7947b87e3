// Package live adapts an SRT ingest connection into a codec.Demuxer: it
// owns the ingest registry, the SRT caller/server that feeds it raw
// transport-stream bytes, and the internal MPEG-TS demux (demux package)
// that turns those bytes into the same Packet shape a local file's opaque
// codec library would hand the reader.
package live

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/config"
	"github.com/zsiec/reel/demux"
	"github.com/zsiec/reel/errs"
	"github.com/zsiec/reel/ingest"
	"github.com/zsiec/reel/ingest/srt"
	"github.com/zsiec/reel/logger"
)

const (
	videoStreamIndex = 0
	audioStreamIndexBase = 1

	pmtWaitTimeout = 5 * time.Second
)

// Manager owns the SRT ingest server and tracks the live.Source built for
// each stream key as it is registered. Construct one per host process when
// config.LiveConfig.Enabled is true.
type Manager struct {
	cfg config.LiveConfig
	log logger.Logger

	registry *ingest.Registry
	server   *srt.Server
	caller   *srt.Caller

	mu      sync.Mutex
	sources map[string]*Source

	// OnSplice, if set, is forwarded every SCTE-35 splice event parsed off
	// any live source's transport stream, regardless of key.
	OnSplice func(key string, event demux.SCTE35Event)

	// PMTWaitTimeout bounds how long OpenFunc waits for a registered
	// stream's PMT to arrive. Defaults to pmtWaitTimeout; tests shrink it.
	PMTWaitTimeout time.Duration
}

// NewManager constructs a Manager. If log is nil, logger.NopLogger is used.
func NewManager(cfg config.LiveConfig, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NopLogger{}
	}
	m := &Manager{
		cfg:            cfg,
		log:            log.WithField("component", "live"),
		sources:        make(map[string]*Source),
		PMTWaitTimeout: pmtWaitTimeout,
	}
	m.registry = ingest.NewRegistry(m.onStream)
	m.caller = srt.NewCaller(m.registry, m.log)
	return m
}

// Start begins accepting SRT publish connections on cfg.ListenAddr. It
// blocks until ctx is cancelled; callers typically run it in a goroutine.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}
	m.server = srt.NewServer(m.cfg.ListenAddr, m.registry, m.log)
	return m.server.Start(ctx)
}

// Pull dials a remote SRT source (caller mode) and registers it under
// streamKey, synchronously returning once connected or on dial failure.
func (m *Manager) Pull(ctx context.Context, streamKey, address string) error {
	return m.caller.Pull(ctx, srt.PullRequest{Address: address, StreamKey: streamKey})
}

// StopPull tears down an active caller-mode pull.
func (m *Manager) StopPull(streamKey string) error { return m.caller.Stop(streamKey) }

// OpenFunc returns a codec.OpenFunc suitable for engine.SessionOptions.
// It recognizes URIs of the form "live://<streamKey>" and blocks (up to
// pmtWaitTimeout) for that key's Source to discover its PMT.
func (m *Manager) OpenFunc() codec.OpenFunc {
	return func(uri string) (codec.Demuxer, error) {
		key := strings.TrimPrefix(uri, "live://")
		if key == uri {
			return nil, errs.NewContainerError("live.Open", fmt.Errorf("not a live URI: %q", uri))
		}

		deadline := time.Now().Add(m.PMTWaitTimeout)
		for {
			m.mu.Lock()
			src, ok := m.sources[key]
			m.mu.Unlock()
			if ok {
				select {
				case <-src.demux.PMTReady():
					return src, nil
				case <-time.After(time.Until(deadline)):
					return nil, errs.NewContainerError("live.Open", fmt.Errorf("stream %q: PMT not found before timeout", key))
				}
			}
			if time.Now().After(deadline) {
				return nil, errs.NewContainerError("live.Open", fmt.Errorf("stream %q not registered", key))
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (m *Manager) onStream(key string, r io.Reader, format ingest.InputFormat) {
	ctx, cancel := context.WithCancel(context.Background())
	dmx := demux.NewDemuxer(r, nil)
	dmx.OnSplice = func(ev demux.SCTE35Event) {
		if m.OnSplice != nil {
			m.OnSplice(key, ev)
		}
	}

	src := newSource(key, dmx, cancel, m.log.WithField("stream_key", key))

	m.mu.Lock()
	m.sources[key] = src
	m.mu.Unlock()

	go func() {
		if err := dmx.Run(ctx); err != nil && ctx.Err() == nil {
			m.log.WithError(err).WithField("stream_key", key).Warn("live demux ended")
		}
	}()
	go src.pump(ctx)
}

// Close tears down every tracked source.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, src := range m.sources {
		src.AbortReads(true)
		delete(m.sources, key)
	}
	return nil
}

// Source is a single live stream's codec.Demuxer implementation: it fans
// demux.Demuxer's Video/Audio channels into block.Packet and serves them
// through ReadPacket the same way a local file's opaque demuxer would.
type Source struct {
	key    string
	demux  *demux.Demuxer
	cancel context.CancelFunc
	log    logger.Logger

	packets chan *block.Packet

	mu          sync.Mutex
	audioTracks map[int]int // PID track index -> stream index
	streams     []codec.StreamInfo
	aborted     bool
}

func newSource(key string, dmx *demux.Demuxer, cancel context.CancelFunc, log logger.Logger) *Source {
	return &Source{
		key:     key,
		demux:   dmx,
		cancel:  cancel,
		log:     log,
		packets: make(chan *block.Packet, 256),
	}
}

// pump drains the underlying demux.Demuxer's typed channels into a single
// ordered packet queue, run for the lifetime of the live connection.
func (s *Source) pump(ctx context.Context) {
	defer close(s.packets)

	video := s.demux.Video()
	audio := s.demux.Audio()

	for video != nil || audio != nil {
		select {
		case <-ctx.Done():
			return
		case vf, ok := <-video:
			if !ok {
				video = nil
				continue
			}
			s.enqueueVideo(vf)
		case af, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			s.enqueueAudio(af)
		}
	}
}

func (s *Source) enqueueVideo(vf *demux.VideoFrame) {
	data := vf.NALUs
	if vf.IsKeyframe {
		prefixed := make([][]byte, 0, len(data)+2)
		if vf.SPS != nil {
			prefixed = append(prefixed, annexB(vf.SPS))
		}
		if vf.PPS != nil {
			prefixed = append(prefixed, annexB(vf.PPS))
		}
		if vf.VPS != nil {
			prefixed = append(prefixed, annexB(vf.VPS))
		}
		prefixed = append(prefixed, data...)
		data = prefixed
	}

	total := 0
	for _, n := range data {
		total += len(n)
	}
	payload := make([]byte, 0, total)
	for _, n := range data {
		payload = append(payload, n...)
	}

	p := &block.Packet{
		Type:        block.Video,
		StreamIndex: videoStreamIndex,
		Data:        payload,
		PTS:         block.FromDuration(time.Duration(vf.PTS) * time.Microsecond),
	}
	select {
	case s.packets <- p:
	default:
		s.log.Warn("live packet queue full, dropping video frame")
	}
}

func (s *Source) enqueueAudio(af *demux.AudioFrame) {
	s.mu.Lock()
	if s.audioTracks == nil {
		s.audioTracks = make(map[int]int)
	}
	idx, ok := s.audioTracks[af.TrackIndex]
	if !ok {
		idx = audioStreamIndexBase + len(s.audioTracks)
		s.audioTracks[af.TrackIndex] = idx
	}
	s.mu.Unlock()

	p := &block.Packet{
		Type:        block.Audio,
		StreamIndex: idx,
		Data:        af.Data,
		PTS:         block.FromDuration(time.Duration(af.PTS) * time.Microsecond),
	}
	select {
	case s.packets <- p:
	default:
		s.log.Warn("live packet queue full, dropping audio frame")
	}
}

func annexB(nalu []byte) []byte {
	out := make([]byte, 4+len(nalu))
	out[0], out[1], out[2], out[3] = 0, 0, 0, 1
	copy(out[4:], nalu)
	return out
}

// Streams implements codec.Demuxer. It blocks until the PMT has been seen,
// since stream enumeration for a live source is only known once the
// transport stream's program map arrives.
func (s *Source) Streams() []codec.StreamInfo {
	<-s.demux.PMTReady()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams != nil {
		return s.streams
	}

	streams := []codec.StreamInfo{{Index: videoStreamIndex, Type: block.Video}}
	for _, t := range s.demux.AudioTrackChannels() {
		streams = append(streams, codec.StreamInfo{
			Index: audioStreamIndexBase + t.TrackIndex,
			Type:  block.Audio,
		})
	}
	s.streams = streams
	return streams
}

// ReadPacket implements codec.Demuxer.
func (s *Source) ReadPacket() (*block.Packet, error) {
	p, ok := <-s.packets
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}

// AbortReads implements codec.Demuxer. graceful is accepted for interface
// conformance but ignored: a live connection has no queued reads worth
// draining once the host asks to stop.
func (s *Source) AbortReads(graceful bool) {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	s.cancel()
}

// Seek implements codec.Demuxer by always rejecting: a live transport
// stream has no addressable past to rewind to.
func (s *Source) Seek(pos block.Timestamp) error {
	return errs.NewContainerError("live.Source.Seek", fmt.Errorf("cannot seek a live stream"))
}

// IsLive implements codec.Demuxer.
func (s *Source) IsLive() bool { return true }

// IsNetwork implements codec.Demuxer.
func (s *Source) IsNetwork() bool { return true }

// Close implements io.Closer.
func (s *Source) Close() error {
	s.cancel()
	return nil
}
