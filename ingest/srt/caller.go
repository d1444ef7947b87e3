// Package srt is the live.Manager's transport: a Server accepting
// incoming SRT publish connections and a Caller dialing out to remote SRT
// sources, both feeding raw transport-stream bytes into an
// ingest.Registry.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/reel/errs"
	"github.com/zsiec/reel/ingest"
	"github.com/zsiec/reel/logger"
)

// dialTimeout bounds how long a caller-mode Pull waits for srtgo.Dial
// before giving up.
const dialTimeout = 10 * time.Second

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	StreamID  string `json:"streamId,omitempty"`
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller manages SRT pull connections, dialing remote SRT sources
// and streaming their data into the ingest registry.
type Caller struct {
	log      logger.Logger
	registry *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller that uses the given registry to register
// pulled streams. If log is nil, a no-op logger is used.
func NewCaller(registry *ingest.Registry, log logger.Logger) *Caller {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Caller{
		log:      log.WithField("component", "srt-caller"),
		registry: registry,
		pulls:    make(map[string]*activePull),
	}
}

// Pull dials the remote SRT listener synchronously (with a timeout),
// returning an error if the connection fails. On success, streaming
// continues in a background goroutine.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if req.Address == "" {
		return errs.NewContainerError("srt.Caller.Pull", fmt.Errorf("address is required"))
	}
	if req.StreamKey == "" {
		return errs.NewContainerError("srt.Caller.Pull", fmt.Errorf("streamKey is required"))
	}

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		return errs.NewStateError("srt.Caller.Pull", fmt.Errorf("pull already active for stream key %q", req.StreamKey))
	}
	c.mu.Unlock()

	c.log.WithField("address", req.Address).WithField("stream_key", req.StreamKey).Info("dialing")

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	streamID := req.StreamID
	if streamID == "" {
		streamID = "live/" + req.StreamKey
	}
	cfg.StreamID = streamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return errs.NewContainerError("srt.Caller.Pull", res.err).WithFields(map[string]any{"address": req.Address})
		}
		return c.startStreaming(ctx, req, res.conn)
	case <-timer.C:
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return errs.NewContainerError("srt.Caller.Pull", fmt.Errorf("dial timed out after %s", dialTimeout))
	case <-ctx.Done():
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return ctx.Err()
	}
}

func (c *Caller) startStreaming(ctx context.Context, req PullRequest, conn *srtgo.Conn) error {
	pullCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return errs.NewStateError("srt.Caller.Pull", fmt.Errorf("pull already active for stream key %q", req.StreamKey))
	}
	c.pulls[req.StreamKey] = &activePull{req: req, cancel: cancel}
	c.mu.Unlock()

	log := c.log.WithField("address", req.Address).WithField("stream_key", req.StreamKey)
	log.Info("connected")

	stream, writer := c.registry.Register(req.StreamKey, ingest.FormatMPEGTS)
	stream.SetRemoteAddr(req.Address)

	go func() {
		defer func() {
			conn.Close()
			stats := stream.Stats()
			c.registry.Unregister(req.StreamKey)
			c.mu.Lock()
			delete(c.pulls, req.StreamKey)
			c.mu.Unlock()
			log.WithField("bytes", stats.BytesReceived).
				WithField("reads", stats.ReadCount).
				WithField("uptime_ms", stats.UptimeMs).
				Info("pull ended")
		}()

		buf := make([]byte, srtReadBufferSize)
		for {
			if pullCtx.Err() != nil {
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
	}()

	return nil
}

// Stop cancels the active pull for streamKey.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return errs.NewStateError("srt.Caller.Stop", fmt.Errorf("no active pull for stream key %q", streamKey))
	}

	ap.cancel()
	return nil
}

// ActivePulls returns the PullRequest for every pull currently streaming.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	return out
}
