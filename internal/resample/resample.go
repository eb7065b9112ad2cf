// Package resample adapts a variable-rate resampling library to the
// fixed-size interleaved stereo buffers the receiver drains, driven by
// rateadjust rather than a fixed ratio. Linear interpolation is not accurate
// enough at sub-millisecond drift thresholds, hence a library resampler.
package resample

import (
	libresample "github.com/tphakala/go-audio-resampler"

	"github.com/meshcast/meshcast/internal/proto"
)

// Resampler wraps a stereo interleaved-f32 variable-rate resampler pinned to
// the system's fixed output rate, with an adjustable assumed input rate.
type Resampler struct {
	engine *libresample.Resampler
}

// New returns a Resampler configured for the system's fixed channel count
// and output sample rate, initially assuming input at the same rate.
func New() *Resampler {
	engine := libresample.New(libresample.Config{
		Channels:       proto.Channels,
		InputSampleHz:  proto.SampleRate,
		OutputSampleHz: proto.SampleRate,
		Quality:        libresample.QualityHigh,
	})
	return &Resampler{engine: engine}
}

// SetInputRate re-tunes the resampler's assumed input sample rate. Called by
// the fill path whenever RateAdjust produces a new target rate, so playback
// speed slews smoothly instead of stepping.
func (r *Resampler) SetInputRate(rate int) error {
	return r.engine.SetInputSampleRate(rate)
}

// ProcessResult reports how much of the input was consumed and how much
// output was produced, both in stereo frames.
type ProcessResult struct {
	InputRead     proto.SampleDuration
	OutputWritten proto.SampleDuration
}

// Process resamples as much of in as fits into out. Both slices are
// interleaved stereo f32; their lengths must be multiples of
// proto.Channels.
func (r *Resampler) Process(in, out []float32) (ProcessResult, error) {
	read, written, err := r.engine.ProcessInterleaved(in, out)
	if err != nil {
		return ProcessResult{}, err
	}
	return ProcessResult{
		InputRead:     proto.SampleDurationFromBufferOffset(read),
		OutputWritten: proto.SampleDurationFromBufferOffset(written),
	}, nil
}
