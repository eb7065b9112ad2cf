// Package queue implements the receiver's bounded, sequence-indexed
// reordering window: audio packets arrive out of order over UDP, and this
// window lets the fill path drain them strictly in sequence while tolerating
// a bounded amount of reordering or loss.
package queue

import "github.com/meshcast/meshcast/internal/proto"

// Entry is one slot in the window: either a received packet, or a stand-in
// for one that hasn't arrived (or never will) yet.
type Entry struct {
	Seq      uint64
	PTS      proto.Timestamp
	HasPTS   bool
	Consumed proto.SampleDuration
	Packet   *proto.AudioPacket // nil means "missing: play silence"
}

// silence is shared by every missing-packet slot so FullBuffer never
// allocates on the audio callback thread.
var silence [proto.SamplesPerPacket]float32

// FullBuffer returns this slot's complete packet payload, or a shared
// silence buffer if the packet never arrived.
func (e *Entry) FullBuffer() *[proto.SamplesPerPacket]float32 {
	if e.Packet != nil {
		return &e.Packet.Payload
	}
	return &silence
}

// ReorderQueue is a fixed-capacity ring of Entry, indexed by sequence
// number. Capacity is max_seq_gap+1, matching the resource policy that caps
// every pool in the system at a known constant; no entry is ever appended
// once that capacity is reached without first clearing or popping.
type ReorderQueue struct {
	entries   []Entry
	start     int
	count     int
	maxSeqGap uint64
}

// New returns an empty queue with the given max_seq_gap.
func New(maxSeqGap int) *ReorderQueue {
	return &ReorderQueue{
		entries:   make([]Entry, maxSeqGap+1),
		maxSeqGap: uint64(maxSeqGap),
	}
}

func (q *ReorderQueue) MaxSeqGap() uint64 { return q.maxSeqGap }

func (q *ReorderQueue) capacity() int { return len(q.entries) }

func (q *ReorderQueue) at(i int) *Entry {
	return &q.entries[(q.start+i)%q.capacity()]
}

// Len returns the number of slots currently held, filled or not.
func (q *ReorderQueue) Len() int { return q.count }

func (q *ReorderQueue) Front() *Entry {
	if q.count == 0 {
		return nil
	}
	return q.at(0)
}

func (q *ReorderQueue) Back() *Entry {
	if q.count == 0 {
		return nil
	}
	return q.at(q.count - 1)
}

// PopFront discards the oldest slot. Safe to call from the audio callback:
// it never allocates.
func (q *ReorderQueue) PopFront() {
	if q.count == 0 {
		return
	}
	q.entries[q.start] = Entry{}
	q.start = (q.start + 1) % q.capacity()
	q.count--
}

// Clear empties the window, used when a new Stream takes over.
func (q *ReorderQueue) Clear() {
	for i := 0; i < q.count; i++ {
		*q.at(i) = Entry{}
	}
	q.start = 0
	q.count = 0
}

// ExpandTo appends empty slots for every sequence number in
// (back.Seq, seq], or a single slot for seq if the window is currently
// empty. The caller is responsible for ensuring seq - back.Seq stays within
// capacity (the Receiver resets the stream instead of calling this when it
// wouldn't).
func (q *ReorderQueue) ExpandTo(seq uint64) {
	back := q.Back()
	if back == nil {
		q.pushBack(seq)
		return
	}
	for s := back.Seq + 1; s <= seq; s++ {
		q.pushBack(s)
	}
}

func (q *ReorderQueue) pushBack(seq uint64) {
	if q.count >= q.capacity() {
		// The Receiver's admit policy guarantees back.Seq+max_seq_gap > seq
		// before calling ExpandTo; reaching capacity here would mean that
		// invariant was violated upstream. Drop silently rather than panic
		// in a path that runs on the network thread.
		return
	}
	idx := (q.start + q.count) % q.capacity()
	q.entries[idx] = Entry{Seq: seq}
	q.count++
}

// EntryForSeq returns the slot holding seq, which must already be within the
// window (call ExpandTo first).
func (q *ReorderQueue) EntryForSeq(seq uint64) *Entry {
	if q.count == 0 {
		return nil
	}
	front := q.entries[q.start].Seq
	idx := int(seq - front)
	if idx < 0 || idx >= q.count {
		return nil
	}
	return q.at(idx)
}

// TotalBuffered sums the unconsumed duration across every slot, filled or
// not (a missing slot still occupies a full packet's worth of playback
// time).
func (q *ReorderQueue) TotalBuffered() proto.SampleDuration {
	var total proto.SampleDuration
	for i := 0; i < q.count; i++ {
		total += proto.OnePacket - q.at(i).Consumed
	}
	return total
}
