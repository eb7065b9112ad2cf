// Package receiver implements the synchronization and playback engine: it
// reorders and gap-fills the incoming packet stream, tracks clock offset
// against the source, and drains synchronized audio into the output
// callback's buffer while slewing the resampler to null out drift.
//
// One mutex-guarded type carries everything the two threads share:
// OnPacket runs on the network thread, FillOutput on the audio callback.
package receiver

import (
	"sync"

	"github.com/meshcast/meshcast/internal/proto"
	"github.com/meshcast/meshcast/internal/queue"
	"github.com/meshcast/meshcast/internal/status"
)

// Options configures a Receiver.
type Options struct {
	// MaxSeqGap bounds the reorder window: a gap at least this large between
	// the queue's back and an incoming packet resets the stream instead of
	// growing the window.
	MaxSeqGap int
}

// Receiver owns everything the audio callback and the network thread share:
// the current Stream (if any) and its ReorderQueue. Every mutation happens
// under mu; critical sections stay at a handful of field reads and writes so
// the audio callback never waits longer than the device period allows.
type Receiver struct {
	mu     sync.Mutex
	opt    Options
	stream *stream
	queue  *queue.ReorderQueue
	status *status.Status

	// lastSyncRemainder holds what's left of the current FillOutput call's
	// buffer after syncUp consumes the leading silence portion. It is only
	// meaningful between a syncUp call and its caller reading it within the
	// same FillOutput invocation.
	lastSyncRemainder []float32
}

// New returns a Receiver with no active stream.
func New(opt Options, st *status.Status) *Receiver {
	return &Receiver{
		opt:    opt,
		queue:  queue.New(opt.MaxSeqGap),
		status: st,
	}
}

// OnPacket decodes and handles one raw Audio or Time datagram. reply, if non-nil, is
// used to unicast a response back to the peer that sent pkt (used for the
// receiver's half of the clock-sync handshake); it is called at most once.
func (r *Receiver) OnPacket(raw []byte, reply func(payload []byte)) {
	switch proto.Sniff(raw) {
	case proto.KindAudio:
		pkt, err := proto.DecodeAudioPacket(raw)
		if err != nil {
			return
		}
		r.onAudio(&pkt)
	case proto.KindTime:
		pkt, err := proto.DecodeTimePacket(raw)
		if err != nil {
			return
		}
		r.onTime(&pkt, reply)
	default:
		// Malformed or irrelevant (stats request/reply addressed to a
		// source, or an unrelated sender on the same group): drop silently.
	}
}

func (r *Receiver) onTime(pkt *proto.TimePacket, reply func(payload []byte)) {
	switch pkt.Phase() {
	case proto.PhaseSourceOrigin:
		if reply == nil {
			return
		}
		pkt.Receiver2 = proto.NowMicros()
		buf := make([]byte, proto.TimePacketSize)
		pkt.Encode(buf)
		reply(buf)

	case proto.PhaseComplete:
		r.mu.Lock()
		defer r.mu.Unlock()
		s := r.stream
		if s == nil || s.sid != pkt.SID {
			return
		}
		s.observeTimePacket(pkt)
		if latency, ok := s.networkLatency(); ok {
			r.status.RecordNetworkLatency(latency)
		}
		if delta, ok := s.clockDelta.Median(); ok {
			r.status.RecordClockDelta(int64(delta))
		}
	}
}

// prepareStream applies the SID-takeover and sequence-gap-reset policy,
// returning false if pkt should be discarded outright. Callers must hold mu.
func (r *Receiver) prepareStream(pkt *proto.AudioPacket) bool {
	if r.stream == nil {
		r.stream = newStream(pkt)
		r.status.ClearStream()
		return true
	}

	s := r.stream

	if pkt.SID < s.sid {
		return false
	}

	if pkt.SID > s.sid {
		r.stream = newStream(pkt)
		r.status.ClearStream()
		r.queue.Clear()
		return true
	}

	if pkt.Seq < s.startSeq {
		return false
	}

	if front := r.queue.Front(); front != nil && pkt.Seq <= front.Seq {
		return false
	}

	if back := r.queue.Back(); back != nil && back.Seq+r.queue.MaxSeqGap() <= pkt.Seq {
		r.stream = newStream(pkt)
		r.status.ClearStream()
		r.queue.Clear()
		return true
	}

	return true
}

func (r *Receiver) onAudio(pkt *proto.AudioPacket) {
	if pkt.Flags != 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.prepareStream(pkt) {
		return
	}
	s := r.stream

	if latency, ok := s.networkLatency(); ok {
		if delta, ok := s.clockDelta.Median(); ok {
			now := proto.NowMicros()
			predictDTS := int64(now) - latency.Microseconds() - int64(delta)
			diff := predictDTS - int64(pkt.DTS)
			r.status.RecordDTSPredictionDifference(diff)
		}
	}

	r.queue.ExpandTo(pkt.Seq)

	entry := r.queue.EntryForSeq(pkt.Seq)
	if entry == nil {
		return
	}
	pktCopy := *pkt
	entry.Packet = &pktCopy
	entry.PTS, entry.HasPTS = s.adjustPTS(proto.FromMicrosLossy(pkt.PTS))
}

// FillOutput writes exactly len(data) interleaved stereo f32 samples,
// synchronized so that the first sample corresponds to playbackPTS. It must
// never block or allocate in the steady-state path: the only allocation
// sites in this package (packet copies, reply buffers) happen in OnPacket on
// the network thread, never here.
func (r *Receiver) FillOutput(data []float32, playbackPTS proto.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		zero(data)
		r.status.Render()
		return
	}
	s := r.stream

	tailPTS := playbackPTS.Add(proto.SampleDurationFromBufferOffset(len(data)))

	if !s.synced {
		if !r.syncUp(data, playbackPTS) {
			return
		}
		data = r.lastSyncRemainder
	}

	streamPTS, hasStreamPTS := r.copyPhase(data)

	if hasStreamPTS {
		s.rateAdjust.SetTiming(tailPTS, streamPTS)

		if rate, ok := s.rateAdjust.AdjustedRate(); ok {
			_ = s.resampler.SetInputRate(rate)
		}

		if s.rateAdjust.Slewing() {
			r.status.SetStream(status.StreamSlew)
		} else {
			r.status.SetStream(status.StreamSync)
		}

		r.status.RecordAudioLatency(tailPTS, streamPTS)
	}

	r.status.RecordBufferLength(r.queue.TotalBuffered())
	r.status.Render()
}

// syncUp implements the "sync phase" of the fill algorithm: it aligns the
// queue's front entry with playbackPTS, popping stale entries and emitting
// leading silence as needed. It returns false if the whole call was
// satisfied with silence (nothing left to copy), true if the stream is now
// synced and r.lastSyncRemainder holds what's left of data to fill.
func (r *Receiver) syncUp(data []float32, playbackPTS proto.Timestamp) bool {
	s := r.stream

	for {
		front := r.queue.Front()
		if front == nil {
			zero(data)
			r.status.Render()
			return false
		}

		if !front.HasPTS {
			// Haven't adjusted this slot's PTS yet (no clock-delta median):
			// pop it and output one callback of silence.
			r.queue.PopFront()
			zero(data)
			r.status.Render()
			return false
		}

		if playbackPTS.After(front.PTS) {
			late := playbackPTS.DurationSince(front.PTS)

			if late >= proto.OnePacket {
				r.queue.PopFront()
				continue
			}

			front.Consumed = late
			s.synced = true
			r.status.SetStream(status.StreamSync)
			r.lastSyncRemainder = data
			return true
		}

		early := front.PTS.DurationSince(playbackPTS)

		if early.BufferOffset() >= len(data) {
			zero(data)
			r.status.Render()
			return false
		}

		zeroCount := early.BufferOffset()
		zero(data[:zeroCount])
		s.synced = true
		r.status.SetStream(status.StreamSync)
		r.lastSyncRemainder = data[zeroCount:]
		return true
	}
}

// copyPhase drains queue entries into data until it's full, resampling each
// entry's payload to account for any active rate adjustment. It returns the
// PTS the last byte written corresponds to on the stream's own clock.
func (r *Receiver) copyPhase(data []float32) (proto.Timestamp, bool) {
	s := r.stream

	var streamTS proto.Timestamp
	haveStreamTS := false

	for len(data) > 0 {
		front := r.queue.Front()
		if front == nil {
			zero(data)
			r.status.SetStream(status.StreamMiss)
			r.status.Render()
			return streamTS, haveStreamTS
		}

		buffer := front.FullBuffer()
		bufferOffset := front.Consumed.BufferOffset()

		result, err := s.resampler.Process(buffer[bufferOffset:], data)
		if err != nil {
			// The realtime callback must not panic or surface an error, so
			// degrade to silence for this call.
			zero(data)
			r.status.Render()
			return streamTS, haveStreamTS
		}

		data = data[result.OutputWritten.BufferOffset():]
		front.Consumed = front.Consumed.Add(result.InputRead)

		if front.HasPTS {
			streamTS = front.PTS.Add(front.Consumed)
			haveStreamTS = true
		}

		if front.Consumed == proto.OnePacket {
			r.queue.PopFront()
		}
	}

	return streamTS, haveStreamTS
}

func zero(data []float32) {
	for i := range data {
		data[i] = 0
	}
}
