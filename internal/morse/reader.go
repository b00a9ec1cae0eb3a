package morse

import (
	"fmt"
	"time"
)

// Classification thresholds, expressed as ratios of the running dot
// estimate so the decoder follows any operator speed without
// reconfiguration.
const (
	minDashRatio  = 1.5 // mark at/above this is a dash
	minLongRatio  = 5.0 // long dash (American L)
	minXLRatio    = 7.0 // extra-long dash (American zero)
	maxDashRatio  = 9.0 // beyond this a mark is probable key-down garble
	maxIntraRatio = 2.0 // space below this stays inside the element group
	maxMorseRatio = 3.4 // internal space ceiling in spaced American characters
	maxCharRatio  = 6.0 // space above this is a word gap

	idleFlushDots = 20.0

	defaultSmoothing = 0.5
	defaultMaxStep   = 1.5
)

// Unrecognized element patterns are emitted bracketed, a longhand key-down
// shows as an underscore. Neither is an error.
const garbleGlyph = "_"

// Decoded is one character produced by the Reader.
type Decoded struct {
	// Char is the decoded character, a bracketed "[element]" placeholder
	// for patterns with no table entry, or "_" for a probable key-down.
	Char string
	// Spacing is the gap preceding the character measured in character
	// spaces minus one: 0 means a normal character gap, >=1 a word gap,
	// negative a crowded gap. Consumers use it to reproduce layout.
	Spacing float64
	// Word reports whether the preceding gap was a word boundary.
	Word bool
	// WPM is the detected words-per-minute at the time of decode.
	WPM int
}

// ReaderConfig configures an adaptive Reader.
type ReaderConfig struct {
	System  SymbolSystem
	TextWPM int
	CharWPM int // 0 means TextWPM
	// Smoothing is the weight of a new observation in the running dot
	// estimate (0 < s <= 1). Zero selects the default 0.5.
	Smoothing float64
	// MaxStep bounds how far one observation can move the estimate,
	// as a ratio per step. Zero selects the default 1.5.
	MaxStep float64
	// OnDecoded receives each decoded character. Required. Called from
	// whichever goroutine drives Decode; the engine guarantees that is a
	// single decode loop.
	OnDecoded func(Decoded)
}

// Reader is the adaptive decoder: it classifies incoming durations into
// dots, dashes and gaps relative to a running dot-length estimate, matches
// accumulated element patterns against the code table, and self-tunes the
// estimate as it listens.
//
// Reader is deliberately not safe for concurrent use: the engine owns it
// from a single decode loop, which is what removes the need for locking
// around the accumulation state.
type Reader struct {
	table     *Table
	system    SymbolSystem
	smoothing float64
	maxStep   float64
	onDecoded func(Decoded)

	initialDot float64
	dotEst     float64 // running dot estimate (ms)

	pattern  []byte // accumulated elements of the character in progress
	mark     int    // length of the mark in progress (ms)
	space    int    // length of the space in progress (ms)
	preSpace int    // gap that preceded the character in progress (ms)
	latched  bool   // circuit latched closed by a Latch element
}

func NewReader(cfg ReaderConfig) (*Reader, error) {
	if cfg.OnDecoded == nil {
		return nil, ErrCallbackRequired
	}
	if cfg.Smoothing == 0 {
		cfg.Smoothing = defaultSmoothing
	}
	if cfg.Smoothing < 0 || cfg.Smoothing > 1 {
		return nil, ErrInvalidSmoothing
	}
	if cfg.MaxStep == 0 {
		cfg.MaxStep = defaultMaxStep
	}
	if cfg.MaxStep < 1 {
		return nil, fmt.Errorf("%w: max step ratio %v below 1", ErrInvalidSpeed, cfg.MaxStep)
	}
	speed, err := NewSpeed(cfg.System, cfg.TextWPM, cfg.CharWPM, SpacingNone)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		table:      TableFor(cfg.System),
		system:     cfg.System,
		smoothing:  cfg.Smoothing,
		maxStep:    cfg.MaxStep,
		onDecoded:  cfg.OnDecoded,
		initialDot: float64(speed.Dot()),
	}
	r.Reset()
	return r, nil
}

// DotEstimate returns the current running dot length estimate in ms.
func (r *Reader) DotEstimate() float64 { return r.dotEst }

// DetectedWPM returns the words-per-minute implied by the estimate.
func (r *Reader) DetectedWPM() int {
	if r.dotEst <= 0 {
		return 0
	}
	return int(1200.0/r.dotEst + 0.5)
}

// IdleFlushAfter is how long the owner should wait after the last element
// before forcing a Flush, so a trailing character is never withheld when
// the sender simply stops.
func (r *Reader) IdleFlushAfter() time.Duration {
	return time.Duration(idleFlushDots*r.dotEst) * time.Millisecond
}

// Decode feeds one code sequence through the state machine. Garbled input
// degrades to placeholder output; only a zero-magnitude duration is
// rejected, as a caller error.
func (r *Reader) Decode(seq CodeSequence) error {
	for i, d := range seq {
		if d == 0 {
			return fmt.Errorf("element %d: %w: zero magnitude", i, ErrInvalidDuration)
		}
		switch {
		case d < 0:
			r.onSpace(int(-d))
		case d == Latch:
			// Circuit latched closed: close out any pending character.
			if r.space > 0 {
				if float64(r.space) >= maxIntraRatio*r.dotEst {
					r.finishChar(r.space)
				}
				r.space = 0
			}
			r.mark = 0
			r.latched = true
		case d == Unlatch:
			r.latched = false
		default: // timed mark
			r.latched = false
			if r.space > 0 {
				r.onGap(r.space)
				r.space = 0
				r.mark = int(d)
			} else {
				r.mark += int(d)
			}
		}
	}
	return nil
}

// onSpace handles a negative element: continuation of a space, the end of
// the mark in progress, or more latched-closed time.
func (r *Reader) onSpace(s int) {
	switch {
	case r.latched:
		r.mark += s
	case r.space > 0:
		r.space += s
	default:
		r.endMark()
		r.space = s
	}
}

// endMark classifies the completed mark and appends its element.
func (r *Reader) endMark() {
	if r.mark <= 0 {
		return
	}
	m := float64(r.mark)
	r.mark = 0
	ratio := m / r.dotEst
	switch {
	case ratio < minDashRatio:
		r.pattern = append(r.pattern, '.')
		r.updateEstimate(m)
	case ratio < minLongRatio:
		r.pattern = append(r.pattern, '-')
		r.updateEstimate(m / 3)
	case r.system == American && ratio < minXLRatio:
		r.pattern = append(r.pattern, '=')
	case r.system == American && ratio <= maxDashRatio:
		r.pattern = append(r.pattern, '#')
	default:
		// Probable key held down: emit what we have, then flag it.
		r.finishChar(0)
		r.emit(garbleGlyph, 0)
	}
}

// onGap decides what a completed space between marks means.
func (r *Reader) onGap(s int) {
	ratio := float64(s) / r.dotEst
	switch {
	case ratio < maxIntraRatio:
		// gap between elements of one character
	case r.system == American && ratio <= maxMorseRatio &&
		r.table.HasSpacedPrefix(string(r.pattern)+" "):
		// internal space of a spaced American character (C O R Y Z &)
		r.pattern = append(r.pattern, ' ')
	default:
		r.finishChar(s)
	}
}

// finishChar emits the accumulated pattern (if any) and records gap as the
// space preceding the next character.
func (r *Reader) finishChar(gap int) {
	if len(r.pattern) > 0 {
		pat := string(r.pattern)
		r.pattern = r.pattern[:0]
		if ch, ok := r.table.Reverse(pat); ok {
			r.emit(string(ch), r.preSpace)
		} else {
			r.emit("["+pat+"]", r.preSpace)
		}
	}
	r.preSpace = gap
}

func (r *Reader) emit(char string, preSpace int) {
	r.onDecoded(Decoded{
		Char:    char,
		Spacing: float64(preSpace)/(3*r.dotEst) - 1,
		Word:    float64(preSpace) > maxCharRatio*r.dotEst,
		WPM:     r.DetectedWPM(),
	})
}

// updateEstimate blends one observed dot length into the running estimate.
// The per-step change is clamped so a single outlier cannot drag the
// estimate beyond the configured ratio.
func (r *Reader) updateEstimate(observedDot float64) {
	est := r.smoothing*observedDot + (1-r.smoothing)*r.dotEst
	if hi := r.dotEst * r.maxStep; est > hi {
		est = hi
	}
	if lo := r.dotEst / r.maxStep; est < lo {
		est = lo
	}
	r.dotEst = est
}

// Flush force-emits whatever is accumulated. The owner calls it when the
// idle deadline passes or when a break-in discards a partial remote
// character. Safe to call repeatedly; with nothing accumulated it is a
// no-op.
func (r *Reader) Flush() {
	if r.mark > 0 && !r.latched {
		r.endMark()
	}
	r.mark = 0
	r.finishChar(int(maxCharRatio*r.dotEst) + 1)
	// 1 rather than 0 so a following circuit-open is not taken for the
	// end of a mark (PyKOB reader convention).
	r.space = 1
}

// Reset clears all decode state back to initial values, including the dot
// estimate. Used when the line goes idle or disconnects.
func (r *Reader) Reset() {
	r.dotEst = r.initialDot
	r.pattern = r.pattern[:0]
	r.mark = 0
	r.space = 1
	r.preSpace = 0
	r.latched = false
}
