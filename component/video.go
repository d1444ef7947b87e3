package component

import (
	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/logger"
)

// VideoOptions configures a VideoComponent's target pixel format.
type VideoOptions struct {
	TargetPixelFormat block.PixelFormat
}

func bytesPerPixel(f block.PixelFormat) int {
	switch f {
	case block.PixelFormatBGR0:
		return 4
	default:
		return 4
	}
}

// VideoComponent is the MediaComponent specialization for video streams. It
// normalizes every frame to a fixed pixel format and copies it into the
// target Block's buffer with the correct stride.
type VideoComponent struct {
	*Base

	opts VideoOptions
}

// NewVideoComponent creates a VideoComponent.
func NewVideoComponent(base *Base, opts VideoOptions, log logger.Logger) *VideoComponent {
	if opts.TargetPixelFormat == block.PixelFormatUnknown {
		opts.TargetPixelFormat = block.PixelFormatBGR0
	}
	return &VideoComponent{Base: base, opts: opts}
}

// Materialize implements Materializer for video: copies the frame's pixel
// data into target's buffer using the frame's declared stride, recording
// width/height/aspect for the renderer's layout transform.
func (v *VideoComponent) Materialize(frame *block.Frame, prev *block.Block, target *block.Block) (bool, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return false, nil
	}

	stride := frame.Stride
	if stride <= 0 {
		stride = frame.Width * bytesPerPixel(v.opts.TargetPixelFormat)
	}
	length := stride * frame.Height

	target.Lock()
	target.Reserve(length)
	n := copy(target.Bytes(), frame.Data)
	if n < length {
		for i := n; i < length; i++ {
			target.Data[i] = 0
		}
	}
	target.Unlock()

	estimateTiming(target, frame, prev)
	target.Type = block.Video
	target.StreamIndex = frame.StreamIndex
	target.Width = frame.Width
	target.Height = frame.Height
	target.Stride = stride
	target.PixelFormat = v.opts.TargetPixelFormat
	target.AspectWidth = frame.AspectWidth
	target.AspectHeight = frame.AspectHeight
	return true, nil
}

// Dispose releases the decoder.
func (v *VideoComponent) Dispose() error {
	return v.Base.Dispose()
}
