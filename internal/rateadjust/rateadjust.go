// Package rateadjust implements the hysteresis controller that converts
// residual PTS/real-time drift into a target resampler input rate, so the
// receiver's output clock can be slewed into alignment with the source's
// capture clock without an audible step change.
package rateadjust

import "github.com/meshcast/meshcast/internal/proto"

var (
	startThreshold = proto.SampleDurationFromMicros(2_000)
	stopThreshold  = proto.SampleDurationFromMicros(100)
	targetMicros   = int64(500_000)
)

// Controller tracks the most recent (real, play) timestamp pair for one
// Stream and decides whether the resampler's input rate needs adjusting.
type Controller struct {
	haveTiming bool
	realTS     proto.Timestamp
	playTS     proto.Timestamp
	slewing    bool
}

// New returns a controller with no timing observed yet.
func New() *Controller {
	return &Controller{}
}

// SetTiming records the latest (real, play) timestamp pair. realTS is the
// playback instant the audio callback was asked to fill up to; playTS is
// where the stream's own PTS clock actually is.
func (c *Controller) SetTiming(realTS, playTS proto.Timestamp) {
	c.realTS = realTS
	c.playTS = playTS
	c.haveTiming = true
}

// Slewing reports whether the controller currently considers itself in an
// active rate-adjustment state.
func (c *Controller) Slewing() bool {
	return c.slewing
}

// AdjustedRate returns the sample rate the resampler's input should be
// retuned to, and whether any change is warranted at all. When ok is false,
// the resampler should keep running at its current rate.
func (c *Controller) AdjustedRate() (rate int, ok bool) {
	if !c.haveTiming {
		return 0, false
	}

	frameOffset := c.realTS.Delta(c.playTS)

	if frameOffset.Abs() < stopThreshold {
		c.slewing = false
		return 0, false
	}

	if frameOffset.Abs() < startThreshold && !c.slewing {
		return 0, false
	}

	rateOffset := frameOffset.Frames() * 1_000_000 / targetMicros
	r := int64(proto.SampleRate) + rateOffset

	// Clamp any potential slow down to 2%; a well-behaved stream shouldn't
	// ever need to run much slower than real time.
	if min := int64(proto.SampleRate) * 98 / 100; r < min {
		r = min
	}
	// Let the speed-up run much higher, but keep it bounded.
	if max := int64(proto.SampleRate) * 2; r > max {
		r = max
	}

	c.slewing = true
	return int(r), true
}
