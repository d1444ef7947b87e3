// Package codec defines the opaque FFI boundary the engine talks to for
// container demuxing, decoding, resampling, and filter-graph processing.
// Every type here models a handle owned by a native codec library; the
// engine only ever sees these interfaces, never the underlying library.
// A Simulated implementation (see stub.go) backs tests without cgo.
package codec

import (
	"io"

	"github.com/zsiec/reel/block"
)

// StreamInfo describes one elementary stream a Demuxer exposes.
type StreamInfo struct {
	Index     int
	Type      block.MediaType
	CodecName string

	SampleRate int
	Channels   int

	Width, Height int
	AspectWidth   int
	AspectHeight  int
}

// Demuxer is the container-level handle: open/close, stream enumeration,
// and packet reads. ReadPacket blocks inside the native library until a
// packet is available, EOF is reached, or AbortReads unblocks it.
type Demuxer interface {
	Streams() []StreamInfo
	// ReadPacket blocks for the next packet. Returns io.EOF at end of
	// stream, or a *errs.EngineError wrapping ContainerError/Cancelled.
	ReadPacket() (*block.Packet, error)
	// AbortReads unblocks any in-flight ReadPacket call immediately. If
	// graceful is true, reads already queued internally may still drain.
	AbortReads(graceful bool)
	// Seek repositions the demuxer to the nearest keyframe at or before
	// pos. Live sources reject it with a ContainerError.
	Seek(pos block.Timestamp) error
	IsLive() bool
	IsNetwork() bool
	io.Closer
}

// Open opens a container at uri using the first backend registered for
// its scheme/extension. Returns a ContainerError on failure.
type OpenFunc func(uri string) (Demuxer, error)

// Decoder is a per-stream codec context: feed packets in, pull frames out.
// SendPacket/ReceiveFrame mirror the native library's two-call decode loop
// so a component can feed several packets before a frame is ready.
type Decoder interface {
	SendPacket(p *block.Packet) error
	// ReceiveFrame returns (nil, nil) when the decoder needs more packets,
	// not an error — mirrors receive_next_frame's Option<Frame> contract.
	ReceiveFrame() (*block.Frame, error)
	io.Closer
}

// Resampler converts audio frames between sample formats/rates/layouts.
// Reinit is called whenever the input format changes mid-stream; a failed
// Reinit means the next frame is rejected and Reinit is retried.
type Resampler interface {
	Reinit(srcRate, dstRate, srcChannels, dstChannels int, srcFmt, dstFmt block.SampleFormat) error
	Convert(in *block.Frame) (*block.Frame, error)
	io.Closer
}

// FilterGraph runs an avfilter-style graph description over frames. Build
// is called lazily on first use and again whenever the graph description
// or the input format changes (tracked via a rebuild counter for tests).
type FilterGraph interface {
	Build(description string, in StreamInfo) error
	Push(in *block.Frame) error
	// Pull drains one filtered frame, or (nil, nil) if none is ready yet.
	Pull() (*block.Frame, error)
	RebuildCount() int
	io.Closer
}
