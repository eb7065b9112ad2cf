// Package audiohost opens the fixed-format PortAudio input/output streams
// and bridges the realtime callback to a plain Go function, so the rest of
// the system never imports the audio host driver directly.
package audiohost

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/meshcast/meshcast/internal/proto"
)

// Init must be called once before opening any stream, and Terminate once at
// shutdown, per portaudio.Initialize/Terminate's lifecycle.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("audiohost: initialize: %w", err)
	}
	return nil
}

func Terminate() error {
	return portaudio.Terminate()
}

// InputStream wraps an open capture stream delivering fixed-size interleaved
// stereo f32 buffers to callback.
type InputStream struct {
	stream *portaudio.Stream
}

// OpenInput opens the default input device at the system's fixed format,
// invoking callback once per period with framesPerBuffer frames
// (framesPerBuffer*proto.Channels samples) of interleaved stereo audio.
func OpenInput(framesPerBuffer int, callback func(data []float32)) (*InputStream, error) {
	stream, err := portaudio.OpenDefaultStream(
		proto.Channels, 0, // in, out channels
		float64(proto.SampleRate),
		framesPerBuffer,
		func(in []float32) {
			callback(in)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("audiohost: open input stream: %w", err)
	}
	return &InputStream{stream: stream}, nil
}

func (s *InputStream) Start() error { return s.stream.Start() }
func (s *InputStream) Stop() error  { return s.stream.Stop() }
func (s *InputStream) Close() error { return s.stream.Close() }

// OutputStream wraps an open playback stream: the audio host calls callback
// with the buffer to fill and the instant it's scheduled to become audible.
type OutputStream struct {
	stream *portaudio.Stream
}

// Timing exposes the scheduling information a realtime output callback
// needs to align its fill to the device's playback clock.
type Timing struct {
	// OutputLatency is the gap between when the callback runs and when its
	// output actually reaches the speaker.
	OutputLatency proto.SampleDuration
}

// OpenOutput opens the default output device at the system's fixed format.
// The PortAudio binding's StreamCallbackTimeInfo reports, on the host's
// stream clock, when this callback's output will actually hit the speaker
// versus when the callback itself is running; their difference is this
// call's OutputLatency.
func OpenOutput(framesPerBuffer int, callback func(data []float32, timing Timing)) (*OutputStream, error) {
	stream, err := portaudio.OpenDefaultStream(
		0, proto.Channels,
		float64(proto.SampleRate),
		framesPerBuffer,
		func(out []float32, timeInfo portaudio.StreamCallbackTimeInfo) {
			latency := timeInfo.OutputBufferDacTime - timeInfo.CurrentTime
			if latency < 0 {
				latency = 0
			}
			callback(out, Timing{OutputLatency: proto.SampleDurationFromStdDuration(latency)})
		},
	)
	if err != nil {
		return nil, fmt.Errorf("audiohost: open output stream: %w", err)
	}
	return &OutputStream{stream: stream}, nil
}

func (s *OutputStream) Start() error { return s.stream.Start() }
func (s *OutputStream) Stop() error  { return s.stream.Stop() }
func (s *OutputStream) Close() error { return s.stream.Close() }
