// Package morse converts between text and duration-coded Morse for the
// American and International symbol systems.
//
// The unit of exchange is the Duration: a signed count of milliseconds
// where positive means circuit closed (mark) and negative means circuit
// open (space). A CodeSequence is the ordered list of Durations making up
// one character or one control event. Sender turns text into sequences at
// a configured speed; Reader turns an incoming duration stream back into
// characters, continuously re-estimating the sender's dot length as it
// listens.
package morse

import "fmt"

// Duration is a signed millisecond count. Positive values are marks
// (circuit closed), negative values are spaces (circuit open). A few
// reserved magnitudes carry control meaning instead of timing.
type Duration int

const (
	// Latch signals the circuit has been closed continuously (key closer
	// shut); the mark persists until Unlatch.
	Latch Duration = 1
	// Unlatch ends a latched mark (key closer opened).
	Unlatch Duration = 2
	// SeqBreak marks a break in the incoming stream: a change of sender
	// or a lost packet. Sounds as a short space, decodes as a long one.
	SeqBreak Duration = -0x7FFF
)

// MaxSequenceLen is the wire-imposed cap on elements per sequence.
const MaxSequenceLen = 50

// IsControl reports whether d is one of the reserved control magnitudes.
func (d Duration) IsControl() bool {
	return d == Latch || d == Unlatch || d == SeqBreak
}

// Mark reports whether d is a timed mark (not a control element).
func (d Duration) Mark() bool { return d > Unlatch }

// Space reports whether d is a timed space.
func (d Duration) Space() bool { return d < 0 && d != SeqBreak }

// Abs is the magnitude in milliseconds.
func (d Duration) Abs() int {
	if d < 0 {
		return int(-d)
	}
	return int(d)
}

// Validate rejects the zero duration, which no source legitimately
// produces. Control magnitudes and all nonzero timings pass.
func (d Duration) Validate() error {
	if d == 0 {
		return fmt.Errorf("%w: zero magnitude", ErrInvalidDuration)
	}
	return nil
}

// CodeSequence is the timed rendering of exactly one character or one
// control event.
type CodeSequence []Duration

// Validate checks every element and the wire length cap.
func (s CodeSequence) Validate() error {
	if len(s) > MaxSequenceLen {
		return fmt.Errorf("%w: %d elements", ErrSequenceTooLong, len(s))
	}
	for i, d := range s {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// LatchSequence and UnlatchSequence are the canonical control sequences
// sent when the circuit closer changes state.
func LatchSequence() CodeSequence   { return CodeSequence{SeqBreak, Latch} }
func UnlatchSequence() CodeSequence { return CodeSequence{SeqBreak, Unlatch} }

// EndsLatched reports whether the sequence leaves the circuit latched
// closed, meaning the sender has gone idle.
func (s CodeSequence) EndsLatched() bool {
	return len(s) > 0 && s[len(s)-1] == Latch
}
