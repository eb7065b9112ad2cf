package proto_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/meshcast/meshcast/internal/proto"
)

func TestAudioPacketRoundTrip(t *testing.T) {
	pkt := proto.AudioPacket{
		Flags: 0,
		SID:   proto.SessionID(12345),
		Seq:   7,
		PTS:   proto.TimestampMicros(1_000_000),
		DTS:   proto.TimestampMicros(1_000_500),
	}
	for i := range pkt.Payload {
		pkt.Payload[i] = float32(i) * 0.5
	}

	buf := make([]byte, proto.AudioPacketSize)
	pkt.Encode(buf)

	got, err := proto.DecodeAudioPacket(buf)
	require.NoError(t, err)
	require.Equal(t, pkt, got)
}

func TestAudioPacketRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		pkt := proto.AudioPacket{
			SID: proto.SessionID(rapid.Int64().Draw(rt, "sid")),
			Seq: rapid.Uint64().Draw(rt, "seq"),
			PTS: proto.TimestampMicros(rapid.Uint64().Draw(rt, "pts")),
			DTS: proto.TimestampMicros(rapid.Uint64().Draw(rt, "dts")),
		}
		for i := range pkt.Payload {
			pkt.Payload[i] = float32(rapid.Float64Range(-1, 1).Draw(rt, "sample"))
		}

		buf := make([]byte, proto.AudioPacketSize)
		pkt.Encode(buf)

		got, err := proto.DecodeAudioPacket(buf)
		require.NoError(rt, err)
		require.Equal(rt, pkt, got)
	})
}

func TestDecodeAudioPacketRejectsShortBuffer(t *testing.T) {
	_, err := proto.DecodeAudioPacket(make([]byte, proto.AudioPacketSize-1))
	require.Error(t, err)
}

func TestDecodeAudioPacketRejectsBadMagic(t *testing.T) {
	buf := make([]byte, proto.AudioPacketSize)
	_, err := proto.DecodeAudioPacket(buf) // all zero, magic won't match
	require.Error(t, err)
}

func TestTimePacketRoundTrip(t *testing.T) {
	pkt := proto.TimePacket{
		SID:       proto.SessionID(99),
		RID:       proto.ReceiverID(42),
		Stream1:   proto.TimestampMicros(100),
		Receiver2: proto.TimestampMicros(150),
		Stream3:   proto.TimestampMicros(210),
	}
	buf := make([]byte, proto.TimePacketSize)
	pkt.Encode(buf)

	got, err := proto.DecodeTimePacket(buf)
	require.NoError(t, err)
	require.Equal(t, pkt, got)
}

func TestTimePacketPhase(t *testing.T) {
	cases := []struct {
		name string
		pkt  proto.TimePacket
		want proto.TimePhase
	}{
		{"origin", proto.TimePacket{Stream1: 1}, proto.PhaseSourceOrigin},
		{"reply", proto.TimePacket{Stream1: 1, Receiver2: 2}, proto.PhaseReceiverReply},
		{"complete", proto.TimePacket{Stream1: 1, Receiver2: 2, Stream3: 3}, proto.PhaseComplete},
		{"invalid-empty", proto.TimePacket{}, proto.PhaseInvalid},
		{"invalid-receiver-only", proto.TimePacket{Receiver2: 2}, proto.PhaseInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.pkt.Phase())
		})
	}
}

func TestSniff(t *testing.T) {
	audioBuf := make([]byte, proto.AudioPacketSize)
	(&proto.AudioPacket{}).Encode(audioBuf)
	require.Equal(t, proto.KindAudio, proto.Sniff(audioBuf))

	timeBuf := make([]byte, proto.TimePacketSize)
	(&proto.TimePacket{}).Encode(timeBuf)
	require.Equal(t, proto.KindTime, proto.Sniff(timeBuf))

	reqBuf := make([]byte, proto.StatsRequestSize)
	proto.StatsRequest{}.Encode(reqBuf)
	require.Equal(t, proto.KindStatsRequest, proto.Sniff(reqBuf))

	require.Equal(t, proto.KindUnknown, proto.Sniff([]byte{0, 1, 2}))
	require.Equal(t, proto.KindUnknown, proto.Sniff(nil))
}

func TestStatsReplyRoundTrip(t *testing.T) {
	r := proto.StatsReply{SID: proto.SessionID(555), Node: "alice@studio"}
	buf := make([]byte, proto.StatsReplySize(r.Node))
	n := r.Encode(buf)
	require.Equal(t, len(buf), n)

	got, err := proto.DecodeStatsReply(buf)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestSampleDurationConversions(t *testing.T) {
	require.Equal(t, int64(proto.FramesPerPacket)*1_000_000/proto.SampleRate, proto.OnePacket.Micros())
	require.Equal(t, proto.OnePacket, proto.SampleDurationFromMicros(proto.OnePacket.Micros()))
	require.Equal(t, proto.FramesPerPacket*proto.Channels, proto.OnePacket.BufferOffset())
}

func TestSessionIDMonotonic(t *testing.T) {
	a := proto.NewSessionID()
	b := proto.NewSessionID()
	require.True(t, b >= a)
}
