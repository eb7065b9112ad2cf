package proto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire magics. Chosen so a stray packet from an unrelated UDP sender on the
// same group is dropped instead of misparsed.
const (
	AudioMagic uint32 = 0xba41_0001
	TimeMagic  uint32 = 0xba41_0002
)

const (
	audioHeaderSize = 4 + 4 + 8 + 8 + 8 + 8 // magic, flags, sid, seq, pts, dts
	// AudioPacketSize is the fixed wire size of an AudioPacket: header plus
	// one full packet's worth of interleaved f32 stereo samples.
	AudioPacketSize = audioHeaderSize + SamplesPerPacket*4

	// TimePacketSize is the fixed wire size of a TimePacket.
	TimePacketSize = 4 + 8 + 8 + 8 + 8 + 8 // magic, sid, rid, stream_1, receiver_2, stream_3
)

// AudioPacket carries one packet's worth of source-captured, timestamped
// interleaved stereo audio.
type AudioPacket struct {
	Flags   uint32
	SID     SessionID
	Seq     uint64
	PTS     TimestampMicros
	DTS     TimestampMicros
	Payload [SamplesPerPacket]float32
}

// Encode writes the packet's wire representation into buf, which must be at
// least AudioPacketSize bytes.
func (p *AudioPacket) Encode(buf []byte) {
	_ = buf[AudioPacketSize-1]
	binary.LittleEndian.PutUint32(buf[0:4], AudioMagic)
	binary.LittleEndian.PutUint32(buf[4:8], p.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p.SID))
	binary.LittleEndian.PutUint64(buf[16:24], p.Seq)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(p.PTS))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(p.DTS))
	off := audioHeaderSize
	for i := range p.Payload {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(p.Payload[i]))
		off += 4
	}
}

// DecodeAudioPacket parses buf into an AudioPacket. It returns an error if
// buf is shorter than AudioPacketSize or the magic doesn't match.
func DecodeAudioPacket(buf []byte) (AudioPacket, error) {
	var p AudioPacket
	if len(buf) < AudioPacketSize {
		return p, fmt.Errorf("proto: audio packet too short: got %d bytes, want %d", len(buf), AudioPacketSize)
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != AudioMagic {
		return p, fmt.Errorf("proto: audio packet bad magic: got %#x, want %#x", magic, AudioMagic)
	}
	p.Flags = binary.LittleEndian.Uint32(buf[4:8])
	p.SID = SessionID(binary.LittleEndian.Uint64(buf[8:16]))
	p.Seq = binary.LittleEndian.Uint64(buf[16:24])
	p.PTS = TimestampMicros(binary.LittleEndian.Uint64(buf[24:32]))
	p.DTS = TimestampMicros(binary.LittleEndian.Uint64(buf[32:40]))
	off := audioHeaderSize
	for i := range p.Payload {
		p.Payload[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	return p, nil
}

// TimePhase identifies where a TimePacket is in its three-way exchange,
// inferred from which timestamp fields are set.
type TimePhase int

const (
	// PhaseInvalid means none or an inconsistent subset of fields are set.
	PhaseInvalid TimePhase = iota
	// PhaseSourceOrigin: stream_1 set, nothing else. Broadcast by the source.
	PhaseSourceOrigin
	// PhaseReceiverReply: stream_1 and receiver_2 set, stream_3 unset. Sent
	// back to the source by a receiver.
	PhaseReceiverReply
	// PhaseComplete: all three timestamps set. The round trip is done and
	// ClockSync can observe it.
	PhaseComplete
)

// TimePacket is the three-way NTP-style exchange used to estimate the clock
// offset and network latency between a source and a receiver.
type TimePacket struct {
	SID       SessionID
	RID       ReceiverID
	Stream1   TimestampMicros
	Receiver2 TimestampMicros
	Stream3   TimestampMicros
}

// Phase reports which stage of the exchange this packet represents.
func (p *TimePacket) Phase() TimePhase {
	switch {
	case p.Stream1 != 0 && p.Receiver2 == 0 && p.Stream3 == 0:
		return PhaseSourceOrigin
	case p.Stream1 != 0 && p.Receiver2 != 0 && p.Stream3 == 0:
		return PhaseReceiverReply
	case p.Stream1 != 0 && p.Receiver2 != 0 && p.Stream3 != 0:
		return PhaseComplete
	default:
		return PhaseInvalid
	}
}

func (p *TimePacket) Encode(buf []byte) {
	_ = buf[TimePacketSize-1]
	binary.LittleEndian.PutUint32(buf[0:4], TimeMagic)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(p.SID))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(p.RID))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(p.Stream1))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(p.Receiver2))
	binary.LittleEndian.PutUint64(buf[36:44], uint64(p.Stream3))
}

func DecodeTimePacket(buf []byte) (TimePacket, error) {
	var p TimePacket
	if len(buf) < TimePacketSize {
		return p, fmt.Errorf("proto: time packet too short: got %d bytes, want %d", len(buf), TimePacketSize)
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != TimeMagic {
		return p, fmt.Errorf("proto: time packet bad magic: got %#x, want %#x", magic, TimeMagic)
	}
	p.SID = SessionID(binary.LittleEndian.Uint64(buf[4:12]))
	p.RID = ReceiverID(binary.LittleEndian.Uint64(buf[12:20]))
	p.Stream1 = TimestampMicros(binary.LittleEndian.Uint64(buf[20:28]))
	p.Receiver2 = TimestampMicros(binary.LittleEndian.Uint64(buf[28:36]))
	p.Stream3 = TimestampMicros(binary.LittleEndian.Uint64(buf[36:44]))
	return p, nil
}

// PacketKind identifies a decoded datagram's type without committing to a
// full parse, so the network loop can dispatch cheaply.
type PacketKind int

const (
	KindUnknown PacketKind = iota
	KindAudio
	KindTime
	KindStatsRequest
	KindStatsReply
)

// StatsRequest and StatsReply share a 4-byte magic plus a 1-byte subkind
// discriminator.
const (
	StatsMagic uint32 = 0xba41_0003

	statsKindRequest = 0
	statsKindReply   = 1
)

// Sniff inspects the magic (and, for stats packets, the subkind byte) to
// classify a raw datagram before a full decode.
func Sniff(buf []byte) PacketKind {
	if len(buf) < 4 {
		return KindUnknown
	}
	switch binary.LittleEndian.Uint32(buf[0:4]) {
	case AudioMagic:
		return KindAudio
	case TimeMagic:
		return KindTime
	case StatsMagic:
		if len(buf) < 5 {
			return KindUnknown
		}
		if buf[4] == statsKindReply {
			return KindStatsReply
		}
		return KindStatsRequest
	default:
		return KindUnknown
	}
}

// StatsRequest asks any listening source to identify itself.
type StatsRequest struct{}

func (StatsRequest) Encode(buf []byte) {
	_ = buf[4]
	binary.LittleEndian.PutUint32(buf[0:4], StatsMagic)
	buf[4] = statsKindRequest
}

const StatsRequestSize = 5

// StatsReply identifies a source node: its session id and a short
// human-readable node identity string.
type StatsReply struct {
	SID  SessionID
	Node string
}

const statsReplyNodeMax = 255

func StatsReplySize(node string) int {
	if len(node) > statsReplyNodeMax {
		node = node[:statsReplyNodeMax]
	}
	return 4 + 1 + 8 + 1 + len(node)
}

func (r StatsReply) Encode(buf []byte) int {
	node := r.Node
	if len(node) > statsReplyNodeMax {
		node = node[:statsReplyNodeMax]
	}
	n := StatsReplySize(node)
	_ = buf[n-1]
	binary.LittleEndian.PutUint32(buf[0:4], StatsMagic)
	buf[4] = statsKindReply
	binary.LittleEndian.PutUint64(buf[5:13], uint64(r.SID))
	buf[13] = byte(len(node))
	copy(buf[14:14+len(node)], node)
	return n
}

func DecodeStatsReply(buf []byte) (StatsReply, error) {
	var r StatsReply
	if len(buf) < 14 {
		return r, fmt.Errorf("proto: stats reply too short: got %d bytes", len(buf))
	}
	r.SID = SessionID(binary.LittleEndian.Uint64(buf[5:13]))
	nodeLen := int(buf[13])
	if len(buf) < 14+nodeLen {
		return r, fmt.Errorf("proto: stats reply node field truncated")
	}
	r.Node = string(buf[14 : 14+nodeLen])
	return r, nil
}
