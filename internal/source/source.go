// Package source implements the broadcasting half of the system: it
// packetizes captured audio with monotonically increasing sequence numbers
// and presentation timestamps, participates in the clock-sync handshake as
// the originating side, and answers node-identity queries.
package source

import (
	"fmt"
	"sync"
	"time"

	"github.com/meshcast/meshcast/internal/proto"
)

// Options configures a Source.
type Options struct {
	// Delay is added to every packet's PTS so receivers have enough lead
	// time to reorder, clock-sync, and resample before the audio is due.
	Delay time.Duration
	// Node is the human-readable identity reported in StatsReply.
	Node string
}

// Source owns the packetization state machine for one broadcasting session.
// Its SID is fixed for the process lifetime; a Source never rebuilds itself,
// it only exits when a peer with a greater SID takes over the group.
type Source struct {
	opt   Options
	sid   proto.SessionID
	delay proto.SampleDuration

	mu          sync.Mutex
	nextSeq     uint64
	pendingPTS  proto.TimestampMicros
	payload     [proto.SamplesPerPacket]float32
	payloadFill int // interleaved samples (not frames) already written into payload
}

// New returns a Source with a freshly generated session id.
func New(opt Options) *Source {
	return &Source{
		opt:     opt,
		sid:     proto.NewSessionID(),
		delay:   proto.SampleDurationFromStdDuration(opt.Delay),
		nextSeq: 1,
	}
}

// SID returns this source's session id.
func (s *Source) SID() proto.SessionID { return s.sid }

// Broadcaster sends a fully encoded wire packet to the multicast group. It
// is supplied by the caller so this package stays independent of any
// particular socket implementation.
type Broadcaster interface {
	Broadcast(payload []byte) error
}

// OnAudioFrames consumes one audio callback's worth of captured interleaved
// stereo frames, splitting it across as many AudioPackets as needed and
// broadcasting each as it fills. A partially-filled packet is carried across
// callbacks and finalized mid-callback once it fills. data's length must be
// a multiple of proto.Channels.
func (s *Source) OnAudioFrames(data []float32, bc Broadcaster) {
	if len(data)%proto.Channels != 0 {
		panic("source: audio callback delivered a partial frame")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	timestamp := proto.Now().Add(s.delay)

	if s.pendingPTS == 0 {
		s.pendingPTS = timestamp.ToMicrosLossy()
	}

	for len(data) > 0 {
		remaining := proto.SamplesPerPacket - s.payloadFill
		n := min(len(data), remaining)

		copy(s.payload[s.payloadFill:s.payloadFill+n], data[:n])
		s.payloadFill += n
		data = data[n:]

		written := proto.SampleDurationFromBufferOffset(n)
		timestamp = timestamp.Add(written)

		if s.payloadFill == proto.SamplesPerPacket {
			pkt := proto.AudioPacket{
				Flags:   0,
				SID:     s.sid,
				Seq:     s.nextSeq,
				PTS:     s.pendingPTS,
				DTS:     proto.NowMicros(),
				Payload: s.payload,
			}

			buf := make([]byte, proto.AudioPacketSize)
			pkt.Encode(buf)
			if err := bc.Broadcast(buf); err != nil {
				// The audio callback never surfaces an error: a failed
				// broadcast is dropped, and the full packet is sent again
				// on the next callback that delivers audio.
				return
			}

			s.nextSeq++
			s.pendingPTS = timestamp.ToMicrosLossy()
			s.payloadFill = 0
		}
	}

	if s.payloadFill == 0 {
		s.pendingPTS = 0
	}
}

// EmitOrigin builds this cadence tick's phase-origin TimePacket, addressed
// to no receiver in particular.
func (s *Source) EmitOrigin() []byte {
	pkt := proto.TimePacket{
		SID:     s.sid,
		RID:     proto.BroadcastReceiver,
		Stream1: proto.NowMicros(),
	}
	buf := make([]byte, proto.TimePacketSize)
	pkt.Encode(buf)
	return buf
}

// OnPacket handles a datagram received by the source's network loop:
// ReceiverReply time packets (stamp stream_3 and unicast back),
// StatsRequest (identify self), and Audio packets from a higher SID
// (takeover: report true so the caller can shut down).
func (s *Source) OnPacket(raw []byte, reply func(payload []byte)) (takeover bool) {
	switch proto.Sniff(raw) {
	case proto.KindAudio:
		pkt, err := proto.DecodeAudioPacket(raw)
		if err != nil {
			return false
		}
		return pkt.SID > s.sid

	case proto.KindTime:
		pkt, err := proto.DecodeTimePacket(raw)
		if err != nil {
			return false
		}
		if pkt.SID != s.sid {
			return false
		}
		if pkt.Phase() == proto.PhaseReceiverReply && reply != nil {
			pkt.Stream3 = proto.NowMicros()
			buf := make([]byte, proto.TimePacketSize)
			pkt.Encode(buf)
			reply(buf)
		}
		return false

	case proto.KindStatsRequest:
		if reply == nil {
			return false
		}
		r := proto.StatsReply{SID: s.sid, Node: s.opt.Node}
		buf := make([]byte, proto.StatsReplySize(r.Node))
		r.Encode(buf)
		reply(buf)
		return false

	default:
		return false
	}
}

// Describe returns a short human-readable summary, used in log lines.
func (s *Source) Describe() string {
	return fmt.Sprintf("sid=%d node=%s", s.sid, s.opt.Node)
}
