package srt

import (
	"context"
	"errors"
	"io"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/reel/errs"
	"github.com/zsiec/reel/ingest"
	"github.com/zsiec/reel/logger"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 13160 bytes: room for ten standard 1316-byte SRT payloads, each 7
// MPEG-TS packets (188 * 7).
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Server accepts incoming SRT publish connections and registers them
// with the ingest registry for demuxing.
type Server struct {
	log      logger.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr and registers
// incoming streams with the given registry. If log is nil, a no-op
// logger is used.
func NewServer(addr string, registry *ingest.Registry, log logger.Logger) *Server {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Server{
		log:      log.WithField("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return errs.NewContainerError("srt.Server.Start", err).WithFields(map[string]any{"addr": s.addr})
	}
	s.log.WithField("addr", s.addr).Info("listening")

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Warn("accept error")
			continue
		}

		streamKey := extractStreamKey(conn.StreamID())
		s.log.WithField("stream_key", streamKey).WithField("remote", conn.RemoteAddr()).Info("publish")

		go s.handleConnection(ctx, conn, streamKey)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, streamKey string) {
	defer conn.Close()
	log := s.log.WithField("stream_key", streamKey)

	stream, writer := s.registry.Register(streamKey, ingest.FormatMPEGTS)
	stream.SetRemoteAddr(conn.RemoteAddr().String())

	buf := make([]byte, srtReadBufferSize)
	for {
		if ctx.Err() != nil {
			break
		}
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).Debug("read error")
			}
			break
		}
		stream.RecordRead(n)
		if _, err := writer.Write(buf[:n]); err != nil {
			log.WithError(err).Debug("pipe write error")
			break
		}
	}

	stats := stream.Stats()
	s.registry.Unregister(streamKey)
	log.WithField("bytes", stats.BytesReceived).
		WithField("reads", stats.ReadCount).
		WithField("uptime_ms", stats.UptimeMs).
		Info("connection closed")
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
