// Package codec implements the Opus encoder behind the optional --opus-relay
// monitor feed. The core receive/fill path never imports this package: it
// operates exclusively on raw f32 PCM.
package codec

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/meshcast/meshcast/internal/proto"
)

// opusFrameSamples is 20ms at the system's fixed sample rate, the frame size
// the Opus encoder is configured for.
const opusFrameSamples = proto.SampleRate / 50

// Encoder relays synchronized stereo f32 PCM to an Opus byte stream for a
// listen-only monitor, buffering receiver output up to one valid Opus frame
// at a time.
type Encoder struct {
	enc *opus.Encoder

	pcm    []int16
	filled int
}

// NewEncoder configures an Opus encoder for the system's fixed stereo
// sample rate, tuned for a lightweight monitor feed rather than archival
// quality.
func NewEncoder(bitrate int) (*Encoder, error) {
	enc, err := opus.NewEncoder(proto.SampleRate, proto.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("codec: new opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("codec: set bitrate: %w", err)
	}

	return &Encoder{
		enc: enc,
		pcm: make([]int16, opusFrameSamples*proto.Channels),
	}, nil
}

// Push appends interleaved stereo f32 frames and returns zero or more
// complete Opus-encoded packets, one per accumulated 20ms frame.
func (e *Encoder) Push(data []float32) [][]byte {
	var out [][]byte

	for _, sample := range data {
		e.pcm[e.filled] = floatToInt16(sample)
		e.filled++

		if e.filled == len(e.pcm) {
			buf := make([]byte, 4000)
			n, err := e.enc.Encode(e.pcm, buf)
			if err == nil {
				out = append(out, buf[:n])
			}
			e.filled = 0
		}
	}

	return out
}

func floatToInt16(f float32) int16 {
	if f > 1 {
		f = 1
	}
	if f < -1 {
		f = -1
	}
	return int16(f * 32767)
}
