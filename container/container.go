// Package container implements MediaContainer: ownership of a Demuxer and
// routing of its packets into the per-stream queues of each MediaComponent.
package container

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/errs"
)

// componentSink is the subset of component.Base that Container needs to
// route packets and poll aggregate buffer state, kept narrow so this
// package does not import component (which would create a cycle with any
// future component->container wiring).
type componentSink interface {
	Enqueue(p *block.Packet)
	BufferLength() int
	HasEnoughPackets() bool
}

// Container owns a Demuxer and fans its packets out to one sink per
// stream index.
type Container struct {
	demuxer codec.Demuxer
	sinks   map[int]componentSink

	mu       sync.Mutex
	atEOF    bool
	aborted  atomic.Bool
}

// New wraps an already-open Demuxer. Register sinks with RegisterSink
// before the first call to Read.
func New(d codec.Demuxer) *Container {
	return &Container{demuxer: d, sinks: make(map[int]componentSink)}
}

// Streams returns the underlying demuxer's elementary stream list.
func (c *Container) Streams() []codec.StreamInfo { return c.demuxer.Streams() }

// RegisterSink routes packets for streamIndex to sink.
func (c *Container) RegisterSink(streamIndex int, sink componentSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks[streamIndex] = sink
}

// Read performs one packet round: reads a single packet from the demuxer
// and routes it to the matching sink. Returns io.EOF when the container has
// reached end of stream.
func (c *Container) Read() error {
	p, err := c.demuxer.ReadPacket()
	if err != nil {
		if err == io.EOF {
			c.mu.Lock()
			c.atEOF = true
			c.mu.Unlock()
			return io.EOF
		}
		if errs.IsCancelled(err) {
			return err
		}
		return errs.NewContainerError("container.Read", err)
	}

	c.mu.Lock()
	sink := c.sinks[p.StreamIndex]
	c.mu.Unlock()
	if sink != nil {
		sink.Enqueue(p)
	}
	return nil
}

// Seek repositions the underlying demuxer to pos and clears end-of-stream
// so subsequent Read calls resume producing packets from the new position.
func (c *Container) Seek(pos block.Timestamp) error {
	if err := c.demuxer.Seek(pos); err != nil {
		return errs.NewContainerError("container.Seek", err)
	}
	c.mu.Lock()
	c.atEOF = false
	c.mu.Unlock()
	c.aborted.Store(false)
	return nil
}

// ReadAborted reports whether SignalAbortReads has been called.
func (c *Container) ReadAborted() bool { return c.aborted.Load() }

// AtEndOfStream reports whether the demuxer has reported io.EOF.
func (c *Container) AtEndOfStream() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atEOF
}

// IsLiveStream reports whether the underlying source is a live feed.
func (c *Container) IsLiveStream() bool { return c.demuxer.IsLive() }

// IsNetworkStream reports whether the underlying source is read over a
// network transport (subject to the BUFFER_MAX read-ahead cap).
func (c *Container) IsNetworkStream() bool { return c.demuxer.IsNetwork() }

// BufferLength returns the aggregate queued-packet bytes across every
// registered sink.
func (c *Container) BufferLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, s := range c.sinks {
		total += s.BufferLength()
	}
	return total
}

// HasEnoughPackets reports whether every registered sink individually has
// enough queued packets.
func (c *Container) HasEnoughPackets() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sinks {
		if !s.HasEnoughPackets() {
			return false
		}
	}
	return true
}

// SignalAbortReads unblocks any in-flight Read immediately. graceful is
// forwarded to the demuxer, which may still let an already-queued read
// drain rather than cutting it off mid-packet.
func (c *Container) SignalAbortReads(graceful bool) {
	c.aborted.Store(true)
	c.demuxer.AbortReads(graceful)
}

// Close closes the underlying demuxer.
func (c *Container) Close() error {
	return c.demuxer.Close()
}
