package receiver

import (
	"time"

	"github.com/meshcast/meshcast/internal/aggregate"
	"github.com/meshcast/meshcast/internal/clocksync"
	"github.com/meshcast/meshcast/internal/proto"
	"github.com/meshcast/meshcast/internal/rateadjust"
	"github.com/meshcast/meshcast/internal/resample"
)

// stream holds all per-session state: created when the first audio packet
// of a new SID arrives, discarded wholesale when a greater SID takes over or
// the sequence window resets.
type stream struct {
	sid      proto.SessionID
	startSeq uint64
	synced   bool

	resampler  *resample.Resampler
	rateAdjust *rateadjust.Controller
	latency    *aggregate.Aggregate[time.Duration]
	clockDelta *aggregate.Aggregate[clocksync.Delta]
}

func newStream(pkt *proto.AudioPacket) *stream {
	return &stream{
		sid:        pkt.SID,
		startSeq:   pkt.Seq,
		resampler:  resample.New(),
		rateAdjust: rateadjust.New(),
		latency:    aggregate.New[time.Duration](),
		clockDelta: aggregate.New[clocksync.Delta](),
	}
}

// adjustPTS translates a source-clock packet PTS into the local clock, using
// the median clock delta observed so far. ok is false until at least one
// TimePacket round trip has completed for this session.
//
// The clock delta is midpoint_source - receiver_2, so it reads positive when
// the source clock runs ahead of the local one; subtracting it brings a
// source-clock PTS onto the local clock.
func (s *stream) adjustPTS(pts proto.Timestamp) (proto.Timestamp, bool) {
	delta, ok := s.clockDelta.Median()
	if !ok {
		return proto.Timestamp{}, false
	}
	return pts.Adjust(-delta.ToSampleDuration()), true
}

func (s *stream) networkLatency() (time.Duration, bool) {
	return s.latency.Median()
}

// observeTimePacket folds a completed three-way exchange into this stream's
// rolling aggregates.
func (s *stream) observeTimePacket(pkt *proto.TimePacket) {
	latency, delta, ok := clocksync.FromTimePacket(pkt)
	if !ok {
		return
	}
	s.latency.Observe(latency)
	s.clockDelta.Observe(delta)
}
