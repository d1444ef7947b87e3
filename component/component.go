// Package component implements MediaComponent: per-stream decoder state
// (packet queue, codec context, and the frame-to-block materialization
// contract) plus its audio and video specializations.
package component

import (
	"sync"
	"time"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/errs"
	"github.com/zsiec/reel/logger"
)

// Materializer converts a decoded Frame into an existing Block in place,
// filling its SharedBuffer and timing fields. prev is the block most
// recently added to this component's BlockBuffer, used only to estimate
// timing when the frame carries no valid start time of its own.
type Materializer interface {
	Materialize(frame *block.Frame, prev *block.Block, target *block.Block) (bool, error)
	Dispose() error
}

// Base holds the state and packet-queue machinery shared by every media
// type. Audio and video specializations embed it and implement Materialize.
type Base struct {
	mu sync.Mutex

	Type            block.MediaType
	StreamIndex     int
	EnoughThreshold int // has_enough_packets fires once queued bytes reach this

	decoder     codec.Decoder
	packets     []*block.Packet
	packetBytes int
	sentPackets int

	log logger.Logger
}

// NewBase constructs the shared component state. enoughThreshold is the
// byte count at or above which HasEnoughPackets reports true.
func NewBase(typ block.MediaType, streamIndex int, dec codec.Decoder, enoughThreshold int, log logger.Logger) *Base {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Base{
		Type:            typ,
		StreamIndex:     streamIndex,
		EnoughThreshold: enoughThreshold,
		decoder:         dec,
		log:             log.WithField("component", typ.String()),
	}
}

// Enqueue adds a packet read by the reader onto this component's queue.
func (b *Base) Enqueue(p *block.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packets = append(b.packets, p)
	b.packetBytes += p.Size()
}

// BufferLength returns the total bytes of packets currently queued.
func (b *Base) BufferLength() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.packetBytes
}

// BufferCount returns the number of packets currently queued.
func (b *Base) BufferCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

// HasEnoughPackets reports whether queued packet bytes have reached this
// component's threshold.
func (b *Base) HasEnoughPackets() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.packetBytes >= b.EnoughThreshold
}

// HasPacketsInCodec reports whether any packet has been handed to the
// decoder whose frame has not yet been received.
func (b *Base) HasPacketsInCodec() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sentPackets > 0
}

// ReceiveNextFrame feeds queued packets to the decoder until it yields a
// frame or the queue is exhausted. Returns (nil, nil) if the decoder needs
// more packets than are currently queued — not an error.
func (b *Base) ReceiveNextFrame() (*block.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		f, err := b.decoder.ReceiveFrame()
		if err != nil {
			return nil, errs.NewDecoderError("component.ReceiveNextFrame", err)
		}
		if f != nil {
			if b.sentPackets > 0 {
				b.sentPackets--
			}
			return f, nil
		}
		if len(b.packets) == 0 {
			return nil, nil
		}
		p := b.packets[0]
		b.packets = b.packets[1:]
		b.packetBytes -= p.Size()
		if err := b.decoder.SendPacket(p); err != nil {
			return nil, errs.NewDecoderError("component.ReceiveNextFrame", err)
		}
		b.sentPackets++
	}
}

// Dispose releases the decoder. Resampler/filter-graph disposal is handled
// by the audio specialization, which embeds Base.
func (b *Base) Dispose() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packets = nil
	b.packetBytes = 0
	return b.decoder.Close()
}

// estimateTiming applies the frame->block timing contract: pass through a
// valid start time unchanged, or estimate start = prev.End + 1 tick when
// the frame carries none.
func estimateTiming(target *block.Block, frame *block.Frame, prev *block.Block) {
	if frame.HasValidStartTime {
		target.SetTiming(frame.Start, frame.Duration)
		target.IsStartTimeGuessed = false
		return
	}
	if prev != nil {
		dur := frame.Duration
		if dur <= 0 {
			dur = prev.Duration
		}
		target.SetTiming(prev.End.Add(time.Nanosecond), dur)
		target.IsStartTimeGuessed = true
		return
	}
	target.Start = block.Unset
	target.Duration = frame.Duration
	target.IsStartTimeGuessed = true
}
