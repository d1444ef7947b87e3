package component

import (
	"testing"
	"time"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/codec"
)

func TestBase_ReceiveNextFrame_NeedsMorePackets(t *testing.T) {
	dec := codec.NewSimulatedDecoder(codec.StreamInfo{Index: 0, Type: block.Video, Width: 320, Height: 240}, 33*time.Millisecond)
	base := NewBase(block.Video, 0, dec, 4096, nil)

	f, err := base.ReceiveNextFrame()
	if err != nil {
		t.Fatalf("ReceiveNextFrame() error: %v", err)
	}
	if f != nil {
		t.Fatal("expected nil frame with no packets queued")
	}

	base.Enqueue(&block.Packet{Type: block.Video, PTS: block.FromDuration(0), Data: make([]byte, 100)})
	f, err = base.ReceiveNextFrame()
	if err != nil {
		t.Fatalf("ReceiveNextFrame() error: %v", err)
	}
	if f == nil {
		t.Fatal("expected a frame after enqueueing a packet")
	}
}

func TestBase_HasEnoughPackets(t *testing.T) {
	dec := codec.NewSimulatedDecoder(codec.StreamInfo{Index: 0, Type: block.Audio}, 20*time.Millisecond)
	base := NewBase(block.Audio, 0, dec, 500, nil)
	if base.HasEnoughPackets() {
		t.Fatal("empty queue should not have enough packets")
	}
	base.Enqueue(&block.Packet{Data: make([]byte, 600)})
	if !base.HasEnoughPackets() {
		t.Fatal("600 queued bytes should exceed the 500-byte threshold")
	}
}

func TestVideoComponent_Materialize_ValidStartTime(t *testing.T) {
	dec := codec.NewSimulatedDecoder(codec.StreamInfo{Index: 0, Type: block.Video, Width: 4, Height: 2}, 33*time.Millisecond)
	base := NewBase(block.Video, 0, dec, 4096, nil)
	v := NewVideoComponent(base, VideoOptions{}, nil)

	frame := &block.Frame{
		Type: block.Video, Width: 4, Height: 2, Stride: 16,
		Start: block.FromDuration(time.Second), Duration: 33 * time.Millisecond,
		HasValidStartTime: true, Data: make([]byte, 32),
	}
	target := block.NewBlock(32)
	ok, err := v.Materialize(frame, nil, target)
	if err != nil || !ok {
		t.Fatalf("Materialize() = %v, %v", ok, err)
	}
	if target.Start != frame.Start || target.IsStartTimeGuessed {
		t.Fatalf("expected exact timing, got start=%v guessed=%v", target.Start, target.IsStartTimeGuessed)
	}
	if len(target.Bytes()) != 32 {
		t.Fatalf("target buffer = %d bytes, want 32", len(target.Bytes()))
	}
}

func TestVideoComponent_Materialize_GuessedStartTimeFromPrev(t *testing.T) {
	dec := codec.NewSimulatedDecoder(codec.StreamInfo{Index: 0, Type: block.Video, Width: 4, Height: 2}, 33*time.Millisecond)
	base := NewBase(block.Video, 0, dec, 4096, nil)
	v := NewVideoComponent(base, VideoOptions{}, nil)

	prev := block.NewBlock(32)
	prev.SetTiming(block.FromDuration(time.Second), 33*time.Millisecond)

	frame := &block.Frame{
		Type: block.Video, Width: 4, Height: 2, Stride: 16,
		HasValidStartTime: false, Duration: 33 * time.Millisecond, Data: make([]byte, 32),
	}
	target := block.NewBlock(32)
	ok, err := v.Materialize(frame, prev, target)
	if err != nil || !ok {
		t.Fatalf("Materialize() = %v, %v", ok, err)
	}
	if !target.IsStartTimeGuessed {
		t.Fatal("expected IsStartTimeGuessed = true")
	}
	want := prev.End.Add(time.Nanosecond)
	if target.Start != want {
		t.Fatalf("target.Start = %v, want %v", target.Start, want)
	}
}

func TestAudioComponent_Materialize_BufferLengthInvariant(t *testing.T) {
	dec := codec.NewSimulatedDecoder(codec.StreamInfo{Index: 0, Type: block.Audio, SampleRate: 48000, Channels: 2}, 20*time.Millisecond)
	base := NewBase(block.Audio, 0, dec, 4096, nil)
	resampler := &codec.SimulatedResampler{}
	a := NewAudioComponent(base, AudioOptions{TargetChannels: 2, TargetSampleRate: 48000, TargetSampleFormat: block.SampleFormatS16}, resampler, nil, codec.StreamInfo{}, nil)

	frame := &block.Frame{
		Type: block.Audio, SampleRate: 48000, Channels: 2, SampleFormat: block.SampleFormatS16,
		SamplesPerChannel: 1024, HasValidStartTime: true, Start: block.FromDuration(0),
		Duration: 20 * time.Millisecond, Data: make([]byte, 1024*2*2),
	}
	target := block.NewBlock(0)
	ok, err := a.Materialize(frame, nil, target)
	if err != nil || !ok {
		t.Fatalf("Materialize() = %v, %v", ok, err)
	}
	want := 1024 * 2 * 2
	if len(target.Bytes()) != want {
		t.Fatalf("buffer length = %d, want %d", len(target.Bytes()), want)
	}
}

func TestAudioComponent_Materialize_RejectsInvalidFrame(t *testing.T) {
	dec := codec.NewSimulatedDecoder(codec.StreamInfo{Index: 0, Type: block.Audio}, 20*time.Millisecond)
	base := NewBase(block.Audio, 0, dec, 4096, nil)
	a := NewAudioComponent(base, AudioOptions{}, &codec.SimulatedResampler{}, nil, codec.StreamInfo{}, nil)

	frame := &block.Frame{Type: block.Audio, Channels: 0, SamplesPerChannel: 1024, SampleRate: 48000}
	target := block.NewBlock(0)
	ok, err := a.Materialize(frame, nil, target)
	if err != nil {
		t.Fatalf("Materialize() error: %v", err)
	}
	if ok {
		t.Fatal("expected rejection of a frame with channels <= 0")
	}
}

func TestAudioComponent_Materialize_ResamplerReinitFailureRejectsFrame(t *testing.T) {
	dec := codec.NewSimulatedDecoder(codec.StreamInfo{Index: 0, Type: block.Audio}, 20*time.Millisecond)
	base := NewBase(block.Audio, 0, dec, 4096, nil)
	resampler := &codec.SimulatedResampler{}
	resampler.FailNextReinit()
	a := NewAudioComponent(base, AudioOptions{TargetChannels: 2, TargetSampleRate: 48000, TargetSampleFormat: block.SampleFormatS16}, resampler, nil, codec.StreamInfo{}, nil)

	frame := &block.Frame{
		Type: block.Audio, SampleRate: 48000, Channels: 2, SampleFormat: block.SampleFormatS16,
		SamplesPerChannel: 1024, HasValidStartTime: true, Data: make([]byte, 4096),
	}
	target := block.NewBlock(0)
	ok, err := a.Materialize(frame, nil, target)
	if err != nil {
		t.Fatalf("Materialize() error: %v", err)
	}
	if ok {
		t.Fatal("expected rejection on forced Reinit failure")
	}

	ok, err = a.Materialize(frame, nil, target)
	if err != nil || !ok {
		t.Fatalf("retry Materialize() = %v, %v, want success once Reinit succeeds", ok, err)
	}
}

func TestAudioComponent_Materialize_FilterGraphRebuildsOnChannelLayoutChange(t *testing.T) {
	dec := codec.NewSimulatedDecoder(codec.StreamInfo{Index: 0, Type: block.Audio}, 20*time.Millisecond)
	base := NewBase(block.Audio, 0, dec, 4096, nil)
	resampler := &codec.SimulatedResampler{}
	graph := &codec.SimulatedFilterGraph{}
	a := NewAudioComponent(base, AudioOptions{TargetChannels: 2, TargetSampleRate: 48000, TargetSampleFormat: block.SampleFormatS16, Filter: "volume=0.5"}, resampler, graph, codec.StreamInfo{}, nil)

	stereo := &block.Frame{
		Type: block.Audio, SampleRate: 48000, Channels: 2, SampleFormat: block.SampleFormatS16,
		SamplesPerChannel: 1024, HasValidStartTime: true, Data: make([]byte, 4096),
	}
	target := block.NewBlock(0)
	if ok, err := a.Materialize(stereo, nil, target); err != nil || !ok {
		t.Fatalf("Materialize(stereo) = %v, %v", ok, err)
	}
	firstRebuilds := a.RebuildCount()

	mono := &block.Frame{
		Type: block.Audio, SampleRate: 48000, Channels: 1, SampleFormat: block.SampleFormatS16,
		SamplesPerChannel: 1024, HasValidStartTime: true, Data: make([]byte, 2048),
	}
	if ok, err := a.Materialize(mono, nil, target); err != nil || !ok {
		t.Fatalf("Materialize(mono) = %v, %v", ok, err)
	}
	if a.RebuildCount() <= firstRebuilds {
		t.Fatalf("expected a filter graph rebuild after a channel layout change: %d -> %d", firstRebuilds, a.RebuildCount())
	}
}
