// Package status renders the receiver's rolling health metrics to a single,
// periodically redrawn terminal line: buffer depth, network latency median,
// clock delta median, audio latency, and the current stream state.
package status

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/meshcast/meshcast/internal/proto"
)

// StreamState mirrors the stream sync state machine for display purposes.
type StreamState int

const (
	StreamUnsynced StreamState = iota
	StreamSync
	StreamSlew
	StreamMiss
)

func (s StreamState) String() string {
	switch s {
	case StreamSync:
		return "sync"
	case StreamSlew:
		return "slew"
	case StreamMiss:
		return "miss"
	default:
		return "unsynced"
	}
}

var (
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	valueStyle  = lipgloss.NewStyle().Bold(true)
	stateStyles = map[StreamState]lipgloss.Style{
		StreamSync:     valueStyle.Foreground(lipgloss.Color("42")),
		StreamSlew:     valueStyle.Foreground(lipgloss.Color("214")),
		StreamMiss:     valueStyle.Foreground(lipgloss.Color("196")),
		StreamUnsynced: valueStyle.Foreground(lipgloss.Color("240")),
	}
)

// Status accumulates the latest values of each metric under a mutex and
// renders them on demand. A single Status belongs to one Receiver.
type Status struct {
	mu sync.Mutex

	out      io.Writer
	interval time.Duration
	lastDraw time.Time

	state               StreamState
	haveNetworkLatency  bool
	networkLatency      time.Duration
	haveClockDelta      bool
	clockDeltaMicros    int64
	bufferDepth         proto.SampleDuration
	haveAudioLatency    bool
	audioLatency        proto.SampleDuration
	dtsPredictDiffMicro int64
}

// New returns a Status that writes to stdout, redrawing at most once per
// interval.
func New(interval time.Duration) *Status {
	return &Status{out: os.Stdout, interval: interval}
}

// RecordNetworkLatency updates the displayed round-trip-derived latency.
func (s *Status) RecordNetworkLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haveNetworkLatency = true
	s.networkLatency = d
}

// RecordClockDelta updates the displayed clock offset, in microseconds.
func (s *Status) RecordClockDelta(micros int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haveClockDelta = true
	s.clockDeltaMicros = micros
}

// RecordDTSPredictionDifference updates the displayed DTS prediction error,
// used only as a diagnostic: how far off a round-trip-based DTS estimate
// was from the packet's actual, source-stamped DTS.
func (s *Status) RecordDTSPredictionDifference(micros int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dtsPredictDiffMicro = micros
}

// RecordBufferLength updates the displayed total buffered duration.
func (s *Status) RecordBufferLength(d proto.SampleDuration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferDepth = d
}

// RecordAudioLatency updates the displayed gap between the tail of the
// current fill and the stream's own PTS clock.
func (s *Status) RecordAudioLatency(tailPTS, streamPTS proto.Timestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haveAudioLatency = true
	s.audioLatency = tailPTS.Delta(streamPTS)
}

// SetStream sets the current stream sync state.
func (s *Status) SetStream(state StreamState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// ClearStream resets all per-stream metrics, called whenever a Stream is
// rebuilt (new SID takeover or a too-large sequence gap).
func (s *Status) ClearStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StreamUnsynced
	s.haveNetworkLatency = false
	s.haveClockDelta = false
	s.haveAudioLatency = false
	s.bufferDepth = 0
	s.dtsPredictDiffMicro = 0
}

// Render redraws the status line if at least interval has elapsed since the
// last draw. It never blocks on I/O errors and never allocates beyond the
// one line it builds, so it is safe to call from the audio callback's fill
// path on every invocation.
func (s *Status) Render() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastDraw) < s.interval {
		return
	}
	s.lastDraw = now

	fmt.Fprintf(s.out, "\r%s", s.line())
}

func (s *Status) line() string {
	field := func(label, value string, style lipgloss.Style) string {
		return labelStyle.Render(label+"=") + style.Render(value)
	}

	latency := "?"
	if s.haveNetworkLatency {
		latency = s.networkLatency.Round(time.Microsecond).String()
	}

	delta := "?"
	if s.haveClockDelta {
		delta = fmt.Sprintf("%dus", s.clockDeltaMicros)
	}

	audioLatency := "?"
	if s.haveAudioLatency {
		audioLatency = fmt.Sprintf("%dus", s.audioLatency.Micros())
	}

	return fmt.Sprintf("%s %s %s %s %s  ",
		field("state", s.state.String(), stateStyles[s.state]),
		field("buf", fmt.Sprintf("%dus", s.bufferDepth.Micros()), valueStyle),
		field("net", latency, valueStyle),
		field("delta", delta, valueStyle),
		field("alat", audioLatency, valueStyle),
	)
}
