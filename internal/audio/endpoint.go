package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMS computes the normalized root-mean-square level (0..1) of PCM16LE mono
// samples. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i : 2*i+2]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Endpointer segments a stream of PCM16LE mono frames into one utterance:
// recording starts on the first frame whose level crosses the threshold and
// ends after silenceHold of continuous quiet, or when maxUtterance elapses.
// A fixed amount of pre-roll is kept so the first word is not clipped.
type Endpointer struct {
	sampleRate   int
	threshold    float64
	silenceHold  time.Duration
	maxUtterance time.Duration

	started   bool
	silentFor time.Duration
	elapsed   time.Duration
	preRoll   []byte
	buf       []byte
}

const preRollDuration = 200 * time.Millisecond

func NewEndpointer(sampleRate int, threshold float64, silenceHold, maxUtterance time.Duration) *Endpointer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if threshold <= 0 {
		threshold = 0.015
	}
	if silenceHold <= 0 {
		silenceHold = 700 * time.Millisecond
	}
	if maxUtterance <= 0 {
		maxUtterance = 30 * time.Second
	}
	return &Endpointer{
		sampleRate:   sampleRate,
		threshold:    threshold,
		silenceHold:  silenceHold,
		maxUtterance: maxUtterance,
	}
}

// Started reports whether speech onset was seen for the current utterance.
func (e *Endpointer) Started() bool { return e.started }

// Feed consumes one capture frame. When the utterance boundary is reached it
// returns the accumulated PCM and true; the endpointer is then reset and
// ready for the next utterance. An utterance that never saw speech is nil.
func (e *Endpointer) Feed(frame []byte) ([]byte, bool) {
	dur := e.frameDuration(len(frame))
	voiced := RMS(frame) >= e.threshold

	if !e.started {
		if !voiced {
			e.keepPreRoll(frame)
			return nil, false
		}
		e.started = true
		e.buf = append(e.buf, e.preRoll...)
		e.preRoll = nil
	}

	e.buf = append(e.buf, frame...)
	e.elapsed += dur
	if voiced {
		e.silentFor = 0
	} else {
		e.silentFor += dur
	}

	if e.silentFor >= e.silenceHold || e.elapsed >= e.maxUtterance {
		return e.take(), true
	}
	return nil, false
}

// Flush ends the utterance immediately, returning whatever was recorded.
func (e *Endpointer) Flush() []byte {
	if !e.started {
		e.Reset()
		return nil
	}
	return e.take()
}

// Reset discards any partial utterance.
func (e *Endpointer) Reset() {
	e.started = false
	e.silentFor = 0
	e.elapsed = 0
	e.preRoll = nil
	e.buf = nil
}

func (e *Endpointer) take() []byte {
	out := e.buf
	e.Reset()
	return out
}

func (e *Endpointer) keepPreRoll(frame []byte) {
	maxBytes := 2 * e.sampleRate * int(preRollDuration.Milliseconds()) / 1000
	e.preRoll = append(e.preRoll, frame...)
	if len(e.preRoll) > maxBytes {
		e.preRoll = e.preRoll[len(e.preRoll)-maxBytes:]
	}
}

func (e *Endpointer) frameDuration(n int) time.Duration {
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(e.sampleRate)
}
