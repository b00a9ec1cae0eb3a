package morse

import (
	"fmt"
	"strings"
)

// Dot units per word including all spaces. MORSE counts 43, PARIS 47;
// the KOB convention splits the difference.
const dotsPerWord = 45

// Spacing selects where Farnsworth stretch is applied.
type Spacing int

const (
	// SpacingNone sends text at full character speed.
	SpacingNone Spacing = iota
	// SpacingChar distributes the Farnsworth delta across character and
	// word gaps.
	SpacingChar
	// SpacingWord applies the whole Farnsworth delta at word gaps only.
	SpacingWord
)

func (s Spacing) String() string {
	switch s {
	case SpacingNone:
		return "none"
	case SpacingChar:
		return "char"
	case SpacingWord:
		return "word"
	default:
		return fmt.Sprintf("spacing(%d)", int(s))
	}
}

func ParseSpacing(raw string) (Spacing, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return SpacingNone, nil
	case "char", "character":
		return SpacingChar, nil
	case "word":
		return SpacingWord, nil
	default:
		return SpacingNone, fmt.Errorf("%w: unknown spacing %q", ErrInvalidSpeed, raw)
	}
}

// Speed holds the millisecond element and gap lengths derived from a
// words-per-minute pair. Character speed governs element lengths; a lower
// text speed stretches only the gaps (Farnsworth spacing), never the
// elements themselves.
type Speed struct {
	system    SymbolSystem
	spacing   Spacing
	wpm       int // text speed
	cwpm      int // character speed, >= wpm
	dot       int // dot length (ms)
	charSpace int // gap between characters (ms)
	wordSpace int // gap between words (ms)
}

// NewSpeed derives element timings for the given text and character
// speeds. charWPM 0 means "same as textWPM". When the two differ the
// larger always becomes the character speed, preserving the Farnsworth
// invariant that text speed never exceeds character speed.
func NewSpeed(system SymbolSystem, textWPM, charWPM int, spacing Spacing) (Speed, error) {
	if charWPM == 0 {
		charWPM = textWPM
	}
	if textWPM < 1 || textWPM > 50 || charWPM < 1 || charWPM > 50 {
		return Speed{}, fmt.Errorf("%w: wpm must be 1..50 (text=%d char=%d)", ErrInvalidSpeed, textWPM, charWPM)
	}
	if spacing == SpacingNone {
		textWPM = charWPM // no Farnsworth: send text at character speed
	} else {
		if textWPM > charWPM {
			textWPM, charWPM = charWPM, textWPM
		}
	}

	s := Speed{
		system:  system,
		spacing: spacing,
		wpm:     textWPM,
		cwpm:    charWPM,
	}
	s.dot = 1200 / charWPM
	s.charSpace = 3 * s.dot
	s.wordSpace = 7 * s.dot
	if system == American {
		s.charSpace += (60000/charWPM - s.dot*dotsPerWord) / 6
		s.wordSpace = 2 * s.charSpace
	}
	delta := 60000/textWPM - 60000/charWPM // stretch per word
	switch spacing {
	case SpacingChar:
		s.charSpace += delta / 6
		s.wordSpace += delta / 3
	case SpacingWord:
		s.wordSpace += delta
	}
	return s, nil
}

// MustSpeed is a test and default-config helper; it panics on invalid
// input.
func MustSpeed(system SymbolSystem, textWPM, charWPM int, spacing Spacing) Speed {
	s, err := NewSpeed(system, textWPM, charWPM, spacing)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Speed) Dot() int             { return s.dot }
func (s Speed) Dash() int            { return 3 * s.dot }
func (s Speed) CharSpace() int       { return s.charSpace }
func (s Speed) WordSpace() int       { return s.wordSpace }
func (s Speed) TextWPM() int         { return s.wpm }
func (s Speed) CharWPM() int         { return s.cwpm }
func (s Speed) System() SymbolSystem { return s.system }

// elementLen maps one code-table element onto its mark length.
func (s Speed) elementLen(e byte) int {
	switch e {
	case '.':
		return s.dot
	case '-':
		return 3 * s.dot
	case '=':
		return 6 * s.dot
	case '#':
		return 9 * s.dot
	default:
		return 0
	}
}
