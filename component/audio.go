package component

import (
	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/logger"
)

// AudioOptions configures an AudioComponent's target output spec and
// optional filter chain, mirroring MediaOptions' audio fields.
type AudioOptions struct {
	TargetChannels     int
	TargetSampleRate   int
	TargetSampleFormat block.SampleFormat
	Filter             string // optional libav-style filter chain, e.g. "volume=0.5"
}

func bytesPerSample(f block.SampleFormat) int {
	switch f {
	case block.SampleFormatS16:
		return 2
	case block.SampleFormatF32:
		return 4
	default:
		return 2
	}
}

type audioSrcSpec struct {
	rate     int
	channels int
	format   block.SampleFormat
}

// AudioComponent is the MediaComponent specialization for audio streams. It
// owns a resampler reinitialized whenever the incoming spec changes, and an
// optional filter graph rebuilt whenever the stream's argument string would
// change (modeled here as: the source spec changes while a filter is set).
type AudioComponent struct {
	*Base

	opts      AudioOptions
	resampler codec.Resampler
	graph     codec.FilterGraph
	streamInf codec.StreamInfo

	src     audioSrcSpec
	srcSet  bool
	rebuild int

	resSrc audioSrcSpec // source spec the resampler was last initialized for
	resSet bool
}

// NewAudioComponent creates an AudioComponent. graph may be nil if no
// filter chain is configured.
func NewAudioComponent(base *Base, opts AudioOptions, resampler codec.Resampler, graph codec.FilterGraph, streamInfo codec.StreamInfo, log logger.Logger) *AudioComponent {
	if opts.TargetChannels <= 0 {
		opts.TargetChannels = 2
	}
	if opts.TargetSampleRate <= 0 {
		opts.TargetSampleRate = 48000
	}
	if opts.TargetSampleFormat == block.SampleFormatUnknown {
		opts.TargetSampleFormat = block.SampleFormatS16
	}
	return &AudioComponent{
		Base:      base,
		opts:      opts,
		resampler: resampler,
		graph:     graph,
		streamInf: streamInfo,
	}
}

// Materialize implements Materializer for audio. It filters (if configured),
// resamples to the target spec, and fills target's SharedBuffer so that
// len(target.Bytes()) == samples_per_channel * channels * bytes_per_sample.
func (a *AudioComponent) Materialize(frame *block.Frame, prev *block.Block, target *block.Block) (bool, error) {
	if frame.Channels <= 0 || frame.SamplesPerChannel <= 0 || frame.SampleRate <= 0 {
		return false, nil
	}

	working := frame
	if a.opts.Filter != "" {
		spec := audioSrcSpec{rate: frame.SampleRate, channels: frame.Channels, format: frame.SampleFormat}
		if !a.srcSet || spec != a.src {
			a.streamInf.SampleRate = spec.rate
			a.streamInf.Channels = spec.channels
			if err := a.graph.Build(a.opts.Filter, a.streamInf); err != nil {
				a.log.WithError(err).Warn("filter graph build failed, falling back to pass-through")
				a.opts.Filter = ""
			} else {
				a.rebuild = a.graph.RebuildCount()
			}
			a.src = spec
			a.srcSet = true
		}
		if a.opts.Filter != "" {
			if err := a.graph.Push(frame); err != nil {
				return false, nil
			}
			filtered, err := a.graph.Pull()
			if err != nil {
				return false, nil
			}
			if filtered != nil {
				working = filtered
			}
		}
	}

	spec := audioSrcSpec{rate: working.SampleRate, channels: working.Channels, format: working.SampleFormat}
	if !a.resamplerReady() || spec != a.resSrc {
		if err := a.resampler.Reinit(spec.rate, a.opts.TargetSampleRate, spec.channels, a.opts.TargetChannels, spec.format, a.opts.TargetSampleFormat); err != nil {
			a.log.WithError(err).Warn("resampler reinit failed, rejecting frame")
			return false, nil
		}
		a.resSrc = spec
		a.resSet = true
	}

	converted, err := a.resampler.Convert(working)
	if err != nil {
		return false, nil
	}

	length := converted.SamplesPerChannel * a.opts.TargetChannels * bytesPerSample(a.opts.TargetSampleFormat)
	if length <= 0 {
		length = len(converted.Data)
	}

	target.Lock()
	target.Reserve(length)
	n := copy(target.Bytes(), converted.Data)
	if n < length {
		for i := n; i < length; i++ {
			target.Data[i] = 0
		}
	}
	target.Unlock()

	estimateTiming(target, frame, prev)
	target.Type = block.Audio
	target.StreamIndex = frame.StreamIndex
	target.SampleRate = a.opts.TargetSampleRate
	target.Channels = a.opts.TargetChannels
	target.SampleFmt = a.opts.TargetSampleFormat
	return true, nil
}

// resamplerReady reports whether the resampler has been successfully
// initialized for some source spec. Callers can't observe internal
// resampler state, so Materialize reinit-guards on this flag plus a change
// of the source spec since the last successful Reinit; the filter graph's
// own spec tracking (src/srcSet) is kept separate.
func (a *AudioComponent) resamplerReady() bool { return a.resSet }

// RebuildCount exposes the filter graph's rebuild counter for tests and
// diagnostics (S6).
func (a *AudioComponent) RebuildCount() int {
	if a.graph == nil {
		return 0
	}
	return a.graph.RebuildCount()
}

// Dispose releases the decoder, resampler, and filter graph.
func (a *AudioComponent) Dispose() error {
	if a.resampler != nil {
		_ = a.resampler.Close()
	}
	if a.graph != nil {
		_ = a.graph.Close()
	}
	return a.Base.Dispose()
}
