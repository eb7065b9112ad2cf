package receiver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshcast/meshcast/internal/proto"
	"github.com/meshcast/meshcast/internal/status"
)

func newTestReceiver(maxSeqGap int) *Receiver {
	return New(Options{MaxSeqGap: maxSeqGap}, status.New(time.Hour))
}

// forceSync gives a stream a clock-delta median of zero so adjustPTS always
// succeeds, letting tests drive fill_output without first running a full
// three-way TimePacket exchange.
func forceSync(r *Receiver) {
	r.stream.clockDelta.Observe(0)
}

func encodeAudio(pkt proto.AudioPacket) []byte {
	buf := make([]byte, proto.AudioPacketSize)
	pkt.Encode(buf)
	return buf
}

func admitAudio(t *testing.T, r *Receiver, sid proto.SessionID, seq uint64, ptsMicros uint64) {
	t.Helper()
	pkt := proto.AudioPacket{SID: sid, Seq: seq, PTS: proto.TimestampMicros(ptsMicros), DTS: proto.TimestampMicros(ptsMicros)}
	for i := range pkt.Payload {
		pkt.Payload[i] = float32(seq) // distinguishable but not exercised for exact equality
	}
	r.OnPacket(encodeAudio(pkt), nil)
	if r.stream != nil && r.stream.clockDelta.Count() == 0 {
		forceSync(r)
		// Re-adjust the PTS of the entry we just admitted now that a median
		// exists (OnPacket ran adjustPTS before forceSync could help it).
		if e := r.queue.EntryForSeq(seq); e != nil && !e.HasPTS {
			e.PTS, e.HasPTS = r.stream.adjustPTS(proto.FromMicrosLossy(proto.TimestampMicros(ptsMicros)))
		}
	}
}

func TestFillOutputNoStreamProducesZeroes(t *testing.T) {
	r := newTestReceiver(12)
	buf := make([]float32, proto.SamplesPerPacket)
	for i := range buf {
		buf[i] = 1
	}
	r.FillOutput(buf, proto.Now())
	for _, v := range buf {
		require.Equal(t, float32(0), v)
	}
}

func TestFillOutputAlwaysWritesFullBuffer(t *testing.T) {
	r := newTestReceiver(12)
	sid := proto.SessionID(1)
	base := uint64(1_000_000)

	admitAudio(t, r, sid, 1, base)
	admitAudio(t, r, sid, 2, base+proto.OnePacket.Micros())

	for i := 0; i < 4; i++ {
		buf := make([]float32, proto.SamplesPerPacket)
		pts := proto.FromMicrosLossy(proto.TimestampMicros(base)).Add(proto.SampleDuration(i) * proto.OnePacket)
		r.FillOutput(buf, pts)
		require.Len(t, buf, proto.SamplesPerPacket)
	}
}

func TestQueueDrainsToEmptyAfterCleanStart(t *testing.T) {
	// S1 — clean start: seq=1..5 in order, fills at each packet's own PTS.
	r := newTestReceiver(12)
	sid := proto.SessionID(1)
	base := uint64(1_000_000)

	for seq := uint64(1); seq <= 5; seq++ {
		admitAudio(t, r, sid, seq, base+(seq-1)*proto.OnePacket.Micros())
	}
	require.Equal(t, 5, r.queue.Len())

	// Drain with a few extra fills beyond the 5 packets admitted: the exact
	// resampler implementation may hold a small amount of output across
	// calls, so assert the window empties eventually rather than in exactly
	// 5 calls.
	for i := 0; i < 8; i++ {
		buf := make([]float32, proto.SamplesPerPacket)
		pts := proto.FromMicrosLossy(proto.TimestampMicros(base)).Add(proto.SampleDuration(i) * proto.OnePacket)
		r.FillOutput(buf, pts)
	}

	require.Equal(t, 0, r.queue.Len())
	require.True(t, r.stream.synced)
}

func TestReorderWithinWindowDrainsInSequence(t *testing.T) {
	// S2 — reorder within window: admit 1,3,2,4; expect no panics and the
	// window drains fully once all four arrive.
	r := newTestReceiver(12)
	sid := proto.SessionID(1)
	base := uint64(1_000_000)
	onePacketUs := proto.OnePacket.Micros()

	admitAudio(t, r, sid, 1, base)
	admitAudio(t, r, sid, 3, base+2*onePacketUs)
	admitAudio(t, r, sid, 2, base+onePacketUs)
	admitAudio(t, r, sid, 4, base+3*onePacketUs)

	require.Equal(t, 4, r.queue.Len())
	for seq := uint64(1); seq <= 4; seq++ {
		e := r.queue.EntryForSeq(seq)
		require.NotNil(t, e)
		require.NotNil(t, e.Packet)
	}

	for i := 0; i < 7; i++ {
		buf := make([]float32, proto.SamplesPerPacket)
		pts := proto.FromMicrosLossy(proto.TimestampMicros(base)).Add(proto.SampleDuration(i) * proto.OnePacket)
		r.FillOutput(buf, pts)
	}
	require.Equal(t, 0, r.queue.Len())
}

func TestGapTooLargeTriggersReset(t *testing.T) {
	// S3 — gap too large: seq=1, then seq=1+maxSeqGap+5. Expect a reset: a
	// new Stream with start_seq = seq2 and only seq2 in the window.
	r := newTestReceiver(12)
	sid := proto.SessionID(1)

	admitAudio(t, r, sid, 1, 1_000_000)
	require.Equal(t, 1, r.queue.Len())

	bigSeq := uint64(1 + 12 + 5)
	admitAudio(t, r, sid, bigSeq, 2_000_000)

	require.Equal(t, 1, r.queue.Len())
	require.Equal(t, bigSeq, r.queue.Front().Seq)
	require.Equal(t, bigSeq, r.stream.startSeq)
}

func TestSIDTakeoverResetsStream(t *testing.T) {
	// S5 — SID takeover: stream SID=A, then a packet with SID=B>A arrives.
	// Expect immediate stream rebuild with the queue cleared.
	r := newTestReceiver(12)
	sidA := proto.SessionID(100)
	sidB := proto.SessionID(200)

	admitAudio(t, r, sidA, 1, 1_000_000)
	admitAudio(t, r, sidA, 2, 1_020_000)
	require.Equal(t, 2, r.queue.Len())
	require.Equal(t, sidA, r.stream.sid)

	admitAudio(t, r, sidB, 1, 3_000_000)

	require.Equal(t, sidB, r.stream.sid)
	require.Equal(t, 1, r.queue.Len())
	require.Equal(t, uint64(1), r.queue.Front().Seq)
	require.False(t, r.stream.synced)
}

func TestLowerSIDIsDropped(t *testing.T) {
	r := newTestReceiver(12)
	sidHigh := proto.SessionID(200)
	sidLow := proto.SessionID(100)

	admitAudio(t, r, sidHigh, 1, 1_000_000)
	pkt := proto.AudioPacket{SID: sidLow, Seq: 1, PTS: 1, DTS: 1}
	r.OnPacket(encodeAudio(pkt), nil)

	require.Equal(t, sidHigh, r.stream.sid)
	require.Equal(t, 1, r.queue.Len())
}

func TestMissingPacketProducesSilenceForOnePacketDuration(t *testing.T) {
	// S6 — missing packet: 1,2 arrive, 3 is skipped, 4 arrives. At the
	// moment seq 3 would be drained it's absent: that slot's full buffer is
	// shared silence.
	r := newTestReceiver(12)
	sid := proto.SessionID(1)
	base := uint64(1_000_000)
	onePacketUs := proto.OnePacket.Micros()

	admitAudio(t, r, sid, 1, base)
	admitAudio(t, r, sid, 2, base+onePacketUs)
	// seq 3 never arrives, but the window must still grow to include it so
	// seq 4 can be admitted.
	admitAudio(t, r, sid, 4, base+3*onePacketUs)

	require.Equal(t, 4, r.queue.Len())
	missing := r.queue.EntryForSeq(3)
	require.NotNil(t, missing)
	require.Nil(t, missing.Packet)

	buf := missing.FullBuffer()
	for _, v := range buf {
		require.Equal(t, float32(0), v)
	}
}

func TestFlaggedPacketIsDropped(t *testing.T) {
	r := newTestReceiver(12)
	pkt := proto.AudioPacket{SID: 1, Seq: 1, Flags: 1}
	r.OnPacket(encodeAudio(pkt), nil)
	require.Nil(t, r.stream)
}

func TestOnTimeSourceOriginRepliesWithReceiver2(t *testing.T) {
	r := newTestReceiver(12)
	pkt := proto.TimePacket{SID: 1, Stream1: 1000}
	buf := make([]byte, proto.TimePacketSize)
	pkt.Encode(buf)

	var replied []byte
	r.OnPacket(buf, func(payload []byte) { replied = payload })

	require.NotNil(t, replied)
	got, err := proto.DecodeTimePacket(replied)
	require.NoError(t, err)
	require.Equal(t, proto.PhaseReceiverReply, got.Phase())
	require.NotZero(t, got.Receiver2)
}
