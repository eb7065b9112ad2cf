// Package clocksync derives network latency and clock offset from a
// completed three-way TimePacket exchange.
package clocksync

import (
	"time"

	"github.com/meshcast/meshcast/internal/proto"
)

// Delta is a signed microsecond correction: subtracting it (via
// ToSampleDuration) from a source-clock Timestamp yields the equivalent
// local-clock Timestamp.
type Delta int64

// ToSampleDuration converts the correction to the receiver's frame-precision
// time unit, for use with Timestamp.Adjust.
func (d Delta) ToSampleDuration() proto.SampleDuration {
	return proto.SampleDurationFromMicros(int64(d))
}

// FromTimePacket computes network latency and clock delta from a completed
// exchange: midpoint_source = (stream_1+stream_3)/2, delta = midpoint_source
// - receiver_2. ok is false if the packet isn't in PhaseComplete, or its
// round trip is impossible (stream_3 before stream_1).
func FromTimePacket(p *proto.TimePacket) (latency time.Duration, delta Delta, ok bool) {
	if p.Phase() != proto.PhaseComplete {
		return 0, 0, false
	}

	stream1 := int64(p.Stream1)
	stream3 := int64(p.Stream3)

	rttUsec := stream3 - stream1
	if rttUsec < 0 {
		// Only a negative RTT is treated as invalid; the original
		// implementation does not bound RTT from above either.
		return 0, 0, false
	}

	latency = time.Duration(rttUsec/2) * time.Microsecond

	midpointSource := (stream1 + stream3) / 2
	delta = Delta(midpointSource - int64(p.Receiver2))

	return latency, delta, true
}
